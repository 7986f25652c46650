package events

import (
	"context"

	"go.uber.org/zap"
)

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct{ log *zap.Logger }

func NewLogPublisher(log *zap.Logger) *LogPublisher { return &LogPublisher{log: log} }

func (p *LogPublisher) Publish(_ context.Context, e Envelope) error {
	p.log.Info("event",
		zap.String("event_id", e.EventID),
		zap.String("event_type", e.EventType),
		zap.String("correlation_id", e.CorrelationID),
		zap.ByteString("payload", e.Payload),
	)
	return nil
}

// Emit builds and publishes an event, logging instead of returning failures.
func Emit(ctx context.Context, p Publisher, log *zap.Logger, producer, eventType, correlationID string, payload any) {
	if p == nil {
		return
	}
	e, err := New(producer, eventType, correlationID, payload)
	if err == nil {
		err = p.Publish(ctx, e)
	}
	if err != nil {
		log.Warn("events: publish failed", zap.String("event_type", eventType),
			zap.String("correlation_id", correlationID), zap.Error(err))
	}
}
