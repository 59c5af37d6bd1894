package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueGatewayEvents is the Redis list key for egress webhook events awaiting the controller.
	QueueGatewayEvents = "worker:gateway_events"
	// QueueExports is the Redis list key for transcript export jobs.
	QueueExports = "worker:exports"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// QueueDelayed is the sorted set of retries waiting for their due time (score: unix ms).
	QueueDelayed = "worker:delayed"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay before the first retry; later attempts wait proportionally longer.
	RetryBackoff = 10 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeGatewayEvent     JobType = "gateway_event"
	JobTypeTranscriptExport JobType = "transcript_export"
)

// Key returns the list the job type is pushed to.
func (t JobType) Key() (string, error) {
	switch t {
	case JobTypeGatewayEvent:
		return QueueGatewayEvents, nil
	case JobTypeTranscriptExport:
		return QueueExports, nil
	}
	return "", fmt.Errorf("unknown job type: %s", t)
}

// TranscriptExportPayload is the payload for transcript export jobs.
type TranscriptExportPayload struct {
	RecordingID uuid.UUID `json:"recording_id"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	now    func() time.Time
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, now: time.Now, logger: logger}
}

// NewJob wraps payload in a fresh job envelope.
func NewJob(jobType JobType, payload any) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Enqueue pushes a new job of jobType onto its list.
func (q *Queue) Enqueue(ctx context.Context, jobType JobType, payload any) (*Job, error) {
	job, err := NewJob(jobType, payload)
	if err != nil {
		return nil, err
	}
	if err := q.push(ctx, job); err != nil {
		return nil, err
	}
	q.logger.Debug("enqueued job", zap.String("job_id", job.ID), zap.String("type", string(jobType)))
	return job, nil
}

// EnqueueTranscriptExport enqueues a transcript export for a completed recording.
func (q *Queue) EnqueueTranscriptExport(ctx context.Context, recordingID uuid.UUID) error {
	_, err := q.Enqueue(ctx, JobTypeTranscriptExport, TranscriptExportPayload{RecordingID: recordingID})
	return err
}

func (q *Queue) push(ctx context.Context, job *Job) error {
	key, err := job.Type.Key()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, key, string(raw)).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	return nil
}

// Dequeue blocks up to timeout for a job from any of keys. A nil job with nil error means
// the wait timed out or the entry was malformed.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration, keys ...string) (*Job, string, error) {
	result, err := q.client.BLPop(ctx, timeout, keys...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", nil
		}
		return nil, "", err
	}
	if len(result) < 2 {
		return nil, "", nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, "", nil
	}
	return &job, result[0], nil
}

// Retry schedules job again after a backoff of RetryBackoff times its attempt number. Once
// the attempt reaches MaxRetries the job goes to the DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, string(raw)).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Int("attempt", job.Attempt))
		return nil
	}
	due := q.now().Add(RetryBackoff * time.Duration(job.Attempt))
	if err := q.client.ZAdd(ctx, QueueDelayed, redis.Z{Score: float64(due.UnixMilli()), Member: string(raw)}).Err(); err != nil {
		return fmt.Errorf("zadd: %w", err)
	}
	q.logger.Info("job retry scheduled", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Time("due", due))
	return nil
}

// PromoteDue moves retries whose due time has passed back onto their lists and returns how
// many it moved. Concurrent callers each move a given job at most once.
func (q *Queue) PromoteDue(ctx context.Context) (int, error) {
	members, err := q.client.ZRangeByScore(ctx, QueueDelayed, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(q.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("zrangebyscore: %w", err)
	}
	moved := 0
	for _, m := range members {
		removed, err := q.client.ZRem(ctx, QueueDelayed, m).Result()
		if err != nil {
			return moved, fmt.Errorf("zrem: %w", err)
		}
		if removed == 0 {
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(m), &job); err != nil {
			q.logger.Warn("invalid delayed job", zap.String("raw", m), zap.Error(err))
			continue
		}
		key, err := job.Type.Key()
		if err != nil {
			key = QueueDLQ
		}
		if err := q.client.RPush(ctx, key, m).Err(); err != nil {
			return moved, fmt.Errorf("rpush: %w", err)
		}
		moved++
	}
	return moved, nil
}
