package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/brokerauth/internal/events"
	"github.com/spec-kit/brokerauth/internal/observability"
)

// AuditWorker records auth lifecycle events in the log and the metrics counters.
type AuditWorker struct {
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewAuditWorker creates the worker.
func NewAuditWorker(logger *zap.Logger, metrics *observability.Metrics) *AuditWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditWorker{logger: logger.Named("audit"), metrics: metrics}
}

// StartAuditWorker subscribes the worker to every auth event.
func StartAuditWorker(dispatcher events.Dispatcher, w *AuditWorker) {
	if dispatcher == nil || w == nil {
		return
	}
	for _, eventType := range events.AllEventTypes {
		dispatcher.Subscribe(eventType, w.handle)
	}
}

func (w *AuditWorker) handle(_ context.Context, event events.Event) error {
	w.metrics.RecordEvent(string(event.Type))

	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event", string(event.Type)),
		zap.String("username", event.Username),
		zap.Stringer("state", event.State),
		zap.Time("at", event.Timestamp),
	}
	if event.Payload != nil {
		fields = append(fields, zap.Any("payload", event.Payload))
	}
	if event.Type == events.EventFailed {
		w.logger.Warn("auth event", fields...)
		return nil
	}
	w.logger.Info("auth event", fields...)
	return nil
}
