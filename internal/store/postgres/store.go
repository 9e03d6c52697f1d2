package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"videomonitoring/internal/eventing"
	"videomonitoring/internal/logger"
	"videomonitoring/internal/store"
)

// Store is the Postgres-backed store.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// New constructs a store over an open pool.
func New(db *sql.DB, log *zap.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("postgres store: nil db")
	}
	return &Store{db: db, logger: logger.OrNop(log)}, nil
}

// DB exposes the pool for health checks and metrics.
func (s *Store) DB() *sql.DB { return s.db }

// WithinTx implements store.Store.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify(err)
	}
	if err := fn(ctx, &tx{db: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("rollback failed", zap.Error(rbErr))
		}
		return classify(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Outbox returns the outbox store used by the trigger dispatcher.
func (s *Store) Outbox() *OutboxStore {
	return NewOutboxStore(s.db)
}

type tx struct {
	db DBTX
}

func (t *tx) Accounts() store.AccountRepository { return &AccountRepository{db: t.db} }
func (t *tx) Cameras() store.CameraRepository   { return &CameraRepository{db: t.db} }
func (t *tx) Events() store.EventRepository     { return &EventRepository{db: t.db} }
func (t *tx) Alarms() store.AlarmRepository     { return &AlarmRepository{db: t.db} }
func (t *tx) Claims() store.ClaimRepository     { return &ClaimRepository{db: t.db} }
func (t *tx) Audit() store.AuditRepository      { return &AuditRepository{db: t.db} }
func (t *tx) Outbox() eventing.OutboxWriter     { return NewOutboxStore(t.db) }
