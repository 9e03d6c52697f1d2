package eventing

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// LoggingSink logs triggers instead of delivering them. Used when no broker is configured.
type LoggingSink struct {
	logger *zap.Logger
}

// NewLoggingSink constructs a logging sink.
func NewLoggingSink(logger *zap.Logger) *LoggingSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingSink{logger: logger}
}

// Deliver logs the envelope.
func (s *LoggingSink) Deliver(_ context.Context, env Envelope) error {
	if s == nil {
		return errors.New("eventing: nil logging sink")
	}
	trigger, err := env.DecodeTrigger()
	if err != nil {
		return err
	}
	s.logger.Info("billing trigger",
		zap.String("event_id", env.EventID),
		zap.String("kind", trigger.Kind),
		zap.String("entity_type", trigger.EntityType),
		zap.String("entity_id", trigger.EntityID),
		zap.Int64("count", trigger.Count),
		zap.Int64("threshold", trigger.Threshold))
	return nil
}
