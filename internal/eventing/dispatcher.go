package eventing

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"videomonitoring/internal/observability/metrics"
)

// Sink delivers envelopes to the outside world.
type Sink interface {
	Deliver(ctx context.Context, env Envelope) error
}

// OutboxWriter inserts outbox records inside the caller's transaction.
type OutboxWriter interface {
	Insert(ctx context.Context, env Envelope) (string, error)
}

// OutboxStore provides access to outbox records.
type OutboxStore interface {
	// ClaimPending leases up to limit undelivered records with fewer than maxAttempts failures
	// to owner, oldest first. Records leased to another owner are skipped until the lease ends.
	ClaimPending(ctx context.Context, owner string, limit, maxAttempts int, lease time.Duration) ([]OutboxRecord, error)
	// MarkSent and MarkFailed settle a record and clear its lease.
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, cause error) error
}

// OutboxRecord represents a pending outbox entry.
type OutboxRecord struct {
	ID       string
	Envelope Envelope
	Attempts int
}

// Dispatcher moves outbox records to the sink.
type Dispatcher struct {
	outbox      OutboxStore
	sink        Sink
	logger      *zap.Logger
	batch       int
	maxAttempts int
	owner       string
	lease       time.Duration
	kick        chan struct{}
}

// DispatcherOption customizes the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithBatchSize sets the number of records pulled per pass.
func WithBatchSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batch = n
		}
	}
}

// WithMaxAttempts sets how many failures a record may accumulate before it is left alone.
func WithMaxAttempts(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithOwner names this dispatcher on outbox leases. Defaults to a random id.
func WithOwner(owner string) DispatcherOption {
	return func(d *Dispatcher) {
		if owner != "" {
			d.owner = owner
		}
	}
}

// WithLease sets how long claimed records stay reserved for this dispatcher.
func WithLease(lease time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if lease > 0 {
			d.lease = lease
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(outbox OutboxStore, sink Sink, opts ...DispatcherOption) (*Dispatcher, error) {
	if outbox == nil {
		return nil, errors.New("eventing: nil outbox")
	}
	if sink == nil {
		return nil, errors.New("eventing: nil sink")
	}
	d := &Dispatcher{
		outbox:      outbox,
		sink:        sink,
		logger:      zap.NewNop(),
		batch:       50,
		maxAttempts: 10,
		owner:       NewEventID(),
		lease:       time.Minute,
		kick:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Kick requests an early dispatch pass without blocking.
func (d *Dispatcher) Kick() {
	if d == nil {
		return
	}
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Dispatch claims pending outbox records and delivers them. It returns the number delivered.
func (d *Dispatcher) Dispatch(ctx context.Context) (int, error) {
	if d == nil {
		return 0, nil
	}
	records, err := d.outbox.ClaimPending(ctx, d.owner, d.batch, d.maxAttempts, d.lease)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, record := range records {
		if err := d.sink.Deliver(WithCorrelationID(ctx, record.Envelope.CorrelationID), record.Envelope); err != nil {
			metrics.IncDispatch(metrics.ResultError)
			d.logger.Warn("trigger delivery failed",
				zap.String("outbox_id", record.ID),
				zap.String("event_type", record.Envelope.EventType),
				zap.Int("attempts", record.Attempts+1),
				zap.Error(err))
			if markErr := d.outbox.MarkFailed(ctx, record.ID, err); markErr != nil {
				return sent, markErr
			}
			continue
		}
		if err := d.outbox.MarkSent(ctx, record.ID); err != nil {
			return sent, err
		}
		metrics.IncDispatch(metrics.ResultSuccess)
		sent++
	}
	return sent, nil
}

// Run dispatches every interval and whenever Kick is called, until ctx ends.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	if d == nil {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.kick:
		}
		if _, err := d.Dispatch(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("trigger dispatch failed", zap.Error(err))
		}
	}
}
