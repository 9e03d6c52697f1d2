package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"videomonitoring/internal/audit"
)

type sliceReader struct {
	entries []audit.Entry
}

func (s sliceReader) Query(_ context.Context, q audit.Query) (audit.Page, error) {
	var matched []audit.Entry
	for _, e := range s.entries {
		if q.Matches(e) && (q.After == nil || q.After.Before(e)) {
			matched = append(matched, e)
		}
	}
	limit := q.NormalizedLimit()
	page := audit.Page{Entries: matched}
	if len(matched) > limit {
		page.Entries = matched[:limit]
		page.NextCursor = audit.CursorFor(matched[limit-1]).Encode()
	}
	return page, nil
}

func trail(n int) []audit.Entry {
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	out := make([]audit.Entry, n)
	for i := range out {
		out[i] = audit.Entry{
			ID:        "entry",
			Seq:       int64(i + 1),
			AccountID: "acct-1",
			Action:    audit.ActionClaimHeartbeat,
			Actor:     "op-1",
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
		}
	}
	return out
}

func exportCSV(t *testing.T, entries []audit.Entry) *httptest.ResponseRecorder {
	t.Helper()
	h, err := NewHandler(sliceReader{entries: entries})
	require.NoError(t, err)
	r := chi.NewRouter()
	h.Register(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/export.csv?account_id=acct-1", nil))
	return rec
}

func TestExportMarksTruncation(t *testing.T) {
	entries := trail(audit.MaxExportRows + 1)
	rec := exportCSV(t, entries)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "true", rec.Header().Get(HeaderExportTruncated))
	require.Equal(t, audit.CursorFor(entries[audit.MaxExportRows-1]).Encode(), rec.Header().Get(HeaderExportNextCursor))
	require.Equal(t, audit.MaxExportRows+1, strings.Count(rec.Body.String(), "\n"))
}

func TestExportWithinLimitIsComplete(t *testing.T) {
	rec := exportCSV(t, trail(audit.MaxExportRows))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get(HeaderExportTruncated))

	rec = exportCSV(t, trail(3))
	require.Empty(t, rec.Header().Get(HeaderExportTruncated))
	require.Equal(t, 4, strings.Count(rec.Body.String(), "\n"))
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	h, err := NewHandler(sliceReader{})
	require.NoError(t, err)
	r := chi.NewRouter()
	h.Register(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/export.docx", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
