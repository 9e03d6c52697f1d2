package postgres

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"videomonitoring/internal/store"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		err       error
		transient bool
		notFound  bool
	}{
		{name: "serialization", err: &pgconn.PgError{Code: "40001"}, transient: true},
		{name: "deadlock", err: fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40P01"}), transient: true},
		{name: "connection exception", err: &pgconn.PgError{Code: "08006"}, transient: true},
		{name: "bad conn", err: driver.ErrBadConn, transient: true},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}},
		{name: "no rows", err: sql.ErrNoRows, notFound: true},
		{name: "plain", err: errors.New("boom")},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := classify(tc.err)
			require.Equal(t, tc.transient, errors.Is(got, store.ErrTransientStorage))
			require.Equal(t, tc.notFound, errors.Is(got, store.ErrNotFound))
		})
	}
	require.NoError(t, classify(nil))
}
