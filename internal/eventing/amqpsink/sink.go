package amqpsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"videomonitoring/internal/eventing"
)

// Config selects the broker and destination.
type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// Sink publishes trigger envelopes to a topic exchange with publisher confirms.
// The connection is opened lazily and re-dialled after a failure.
type Sink struct {
	cfg    Config
	logger *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// New constructs an AMQP sink.
func New(cfg Config, logger *zap.Logger) (*Sink, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqpsink: url required")
	}
	if cfg.Exchange == "" {
		return nil, errors.New("amqpsink: exchange required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{cfg: cfg, logger: logger}, nil
}

// Deliver publishes env and waits for the broker confirm.
func (s *Sink) Deliver(ctx context.Context, env eventing.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ch, err := s.channel()
	if err != nil {
		return err
	}

	routingKey := s.cfg.RoutingKey
	if routingKey == "" {
		routingKey = env.EventType
	}
	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, s.cfg.Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.EventID,
		CorrelationId: env.CorrelationID,
		Type:          env.EventType,
		Timestamp:     env.OccurredAt,
		Body:          body,
	})
	if err != nil {
		s.resetLocked()
		return fmt.Errorf("amqpsink: publish: %w", err)
	}
	if confirm != nil && !confirm.Wait() {
		return errors.New("amqpsink: broker nacked publish")
	}
	return nil
}

// Close releases the broker connection.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.conn != nil {
		err = s.conn.Close()
	}
	s.conn, s.ch = nil, nil
	return err
}

func (s *Sink) channel() (*amqp.Channel, error) {
	if s.conn != nil && !s.conn.IsClosed() && s.ch != nil {
		return s.ch, nil
	}
	s.resetLocked()

	conn, err := amqp.Dial(s.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("amqpsink: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqpsink: channel: %w", err)
	}
	if err := ch.ExchangeDeclare(s.cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqpsink: declare exchange: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqpsink: confirm mode: %w", err)
	}
	s.conn, s.ch = conn, ch
	s.logger.Info("amqp sink connected", zap.String("exchange", s.cfg.Exchange))
	return ch, nil
}

func (s *Sink) resetLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn, s.ch = nil, nil
}
