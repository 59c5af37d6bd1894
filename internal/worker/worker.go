package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/echosphere/backend/pkg/queue"
)

const (
	// PollTimeout bounds each blocking dequeue so shutdown and due retries are noticed promptly.
	PollTimeout = 5 * time.Second
	// ErrorBackoff is the pause after a failed dequeue or promotion.
	ErrorBackoff = time.Second
)

// Processor executes one job.
type Processor interface {
	Process(ctx context.Context, job *queue.Job) error
}

// JobQueue is the subset of queue.Queue the worker loop needs.
type JobQueue interface {
	Dequeue(ctx context.Context, timeout time.Duration, keys ...string) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
	PromoteDue(ctx context.Context) (int, error)
}

// Worker pulls jobs from the registered lists and dispatches them by type. Failed jobs are
// handed back to the queue, which delays them until queue.MaxRetries and then dead-letters
// them, so one failing job never holds up the rest.
type Worker struct {
	queue      JobQueue
	processors map[queue.JobType]Processor
	keys       []string
	backoff    time.Duration
	logger     *zap.Logger
}

// New creates a worker with no processors.
func New(q JobQueue, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:      q,
		processors: make(map[queue.JobType]Processor),
		backoff:    ErrorBackoff,
		logger:     logger,
	}
}

// Register routes jobs of type t to p and starts listening on t's list.
func (w *Worker) Register(t queue.JobType, p Processor) error {
	key, err := t.Key()
	if err != nil {
		return err
	}
	if _, ok := w.processors[t]; !ok {
		w.keys = append(w.keys, key)
	}
	w.processors[t] = p
	return nil
}

// Handle processes job and schedules a retry when it fails.
func (w *Worker) Handle(ctx context.Context, job *queue.Job) error {
	p, ok := w.processors[job.Type]
	var err error
	if !ok {
		err = fmt.Errorf("unknown job type: %s", job.Type)
	} else {
		err = p.Process(ctx, job)
	}
	if err == nil {
		return nil
	}
	w.logger.Error("job failed", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Int("attempt", job.Attempt), zap.Error(err))
	if reErr := w.queue.Retry(context.WithoutCancel(ctx), job); reErr != nil {
		w.logger.Error("retry enqueue failed", zap.String("job_id", job.ID), zap.Error(reErr))
	}
	return err
}

// Run starts the worker loop: promote due retries, dequeue, process. It returns when ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	if len(w.keys) == 0 {
		return fmt.Errorf("worker: no processors registered")
	}
	w.logger.Info("worker started", zap.Strings("queues", w.keys))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return nil
		default:
		}

		if n, err := w.queue.PromoteDue(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Warn("promote delayed jobs", zap.Error(err))
			w.sleep(ctx)
			continue
		} else if n > 0 {
			w.logger.Debug("delayed jobs due", zap.Int("count", n))
		}

		job, _, err := w.queue.Dequeue(ctx, PollTimeout, w.keys...)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Warn("dequeue error", zap.Error(err))
			w.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		w.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		_ = w.Handle(ctx, job)
	}
}

func (w *Worker) sleep(ctx context.Context) {
	t := time.NewTimer(w.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
