package application

import (
	"context"
	"errors"
	"fmt"

	alarms "videomonitoring/internal/alarms/domain"
	"videomonitoring/internal/store"
)

// GetEvent loads one event.
func (s *Service) GetEvent(ctx context.Context, id string) (*alarms.Event, error) {
	var out *alarms.Event
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Events().Get(ctx, id)
		return err
	})
	return out, err
}

// ListEvents lists events newest first.
func (s *Service) ListEvents(ctx context.Context, filter alarms.EventFilter) ([]alarms.Event, error) {
	if filter.Status != "" {
		switch filter.Status {
		case alarms.EventPending, alarms.EventDismissed, alarms.EventEscalated:
		default:
			return nil, fmt.Errorf("%w: unknown event status %q", alarms.ErrInvalidFilter, filter.Status)
		}
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	var out []alarms.Event
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Events().List(ctx, filter)
		return err
	})
	return out, err
}

// GetAlarm loads one alarm.
func (s *Service) GetAlarm(ctx context.Context, id string) (*alarms.Alarm, error) {
	var out *alarms.Alarm
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Alarms().Get(ctx, id)
		return err
	})
	return out, err
}

// Metrics computes handling times for an alarm against its originating event.
func (s *Service) Metrics(ctx context.Context, alarmID string) (alarms.TimeMetrics, error) {
	var out alarms.TimeMetrics
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		alarm, err := tx.Alarms().Get(ctx, alarmID)
		if err != nil {
			return err
		}
		origin, err := tx.Events().Get(ctx, alarm.EventID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		out = alarm.Metrics(origin, s.clock.Now())
		return nil
	})
	return out, err
}
