package recordings

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/echosphere/backend/internal/egress"
	"github.com/echosphere/backend/pkg/queue"
	"github.com/echosphere/backend/pkg/response"
)

const maxWebhookBody = 1 << 20

// EventSink accepts normalized gateway events for processing.
type EventSink interface {
	Submit(ctx context.Context, ev egress.Event) error
}

// QueueSink hands events to the worker through the Redis job queue.
type QueueSink struct {
	Queue *queue.Queue
}

// Submit enqueues ev as a gateway_event job.
func (s QueueSink) Submit(ctx context.Context, ev egress.Event) error {
	_, err := s.Queue.Enqueue(ctx, queue.JobTypeGatewayEvent, ev)
	return err
}

// InlineSink applies events directly through the controller (no Redis).
type InlineSink struct {
	Controller *Controller
}

// Submit applies ev synchronously.
func (s InlineSink) Submit(ctx context.Context, ev egress.Event) error {
	_, err := s.Controller.HandleGatewayEvent(ctx, ev)
	return err
}

// WebhookHandler receives egress gateway lifecycle webhooks.
type WebhookHandler struct {
	secret string
	sink   EventSink
	logger *zap.Logger
}

// NewWebhookHandler creates a webhook handler. An empty secret disables signature checks.
func NewWebhookHandler(secret string, sink EventSink, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{secret: secret, sink: sink, logger: logger}
}

// Egress handles POST /webhooks/egress. The signature covers the raw body, so it is read
// before decoding.
func (h *WebhookHandler) Egress(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(c, "unreadable body")
		return
	}
	if h.secret != "" {
		if err := egress.VerifySignature(h.secret, c.GetHeader("Authorization"), body); err != nil {
			h.logger.Warn("egress webhook rejected", zap.Error(err), zap.String("client_ip", c.ClientIP()))
			response.Unauthorized(c, "invalid webhook signature")
			return
		}
	}
	ev, err := egress.DecodePayload(body)
	if errors.Is(err, egress.ErrUnknownKind) {
		h.logger.Debug("egress webhook ignored", zap.Error(err))
		response.OK(c, gin.H{"accepted": false})
		return
	}
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.sink.Submit(c.Request.Context(), ev); err != nil {
		h.logger.Error("egress webhook submit failed", zap.Error(err), zap.String("egress_id", ev.JobID), zap.String("event", string(ev.Kind)))
		response.ServiceUnavailable(c, "event not accepted, retry later")
		return
	}
	h.logger.Info("egress webhook accepted", zap.String("egress_id", ev.JobID), zap.String("event", string(ev.Kind)), zap.Int64("seq", ev.Seq))
	response.OK(c, gin.H{"accepted": true, "egress_id": ev.JobID, "event": ev.Kind})
}
