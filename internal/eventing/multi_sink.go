package eventing

import (
	"context"
	"errors"
)

// MultiSink delivers each envelope to every configured sink.
// Delivery fails if any sink fails; the dispatcher then retries the whole record,
// so member sinks should tolerate redelivery.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink constructs a MultiSink, skipping nil sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &MultiSink{sinks: out}
}

// Deliver forwards env to all sinks.
func (m *MultiSink) Deliver(ctx context.Context, env Envelope) error {
	if m == nil {
		return errors.New("eventing: nil multi sink")
	}
	var errs []error
	for _, s := range m.sinks {
		if err := s.Deliver(ctx, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
