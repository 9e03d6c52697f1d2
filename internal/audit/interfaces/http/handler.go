package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apihttp "videomonitoring/internal/api/http"
	"videomonitoring/internal/audit"
	"videomonitoring/internal/logger"
	"videomonitoring/internal/observability/metrics"
)

// Handler serves the audit trail query and export endpoints.
type Handler struct {
	reader audit.Reader
	now    func() time.Time
}

// NewHandler constructs a handler.
func NewHandler(reader audit.Reader) (*Handler, error) {
	if reader == nil {
		return nil, errors.New("audit handler: nil reader")
	}
	return &Handler{reader: reader, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Register mounts GET /audit and the export routes under /api/v1.
func (h *Handler) Register(r chi.Router) {
	r.Get("/audit", h.query)
	r.Get("/audit/export.{format}", h.export)
}

func parseQuery(r *http.Request) (audit.Query, error) {
	q := r.URL.Query()
	from, err := apihttp.ParseTimeQuery(r, "from")
	if err != nil {
		return audit.Query{}, err
	}
	to, err := apihttp.ParseTimeQuery(r, "to")
	if err != nil {
		return audit.Query{}, err
	}
	if !from.IsZero() && !to.IsZero() && !to.After(from) {
		return audit.Query{}, fmt.Errorf("%w: to must be after from", apihttp.ErrBadRequest)
	}
	limit, err := apihttp.ParseIntQuery(r, "limit")
	if err != nil {
		return audit.Query{}, err
	}
	cursor, err := audit.DecodeCursor(q.Get("cursor"))
	if err != nil {
		return audit.Query{}, err
	}
	return audit.Query{
		AccountID: q.Get("account_id"),
		EventID:   q.Get("event_id"),
		AlarmID:   q.Get("alarm_id"),
		From:      from,
		To:        to,
		Limit:     limit,
		After:     cursor,
	}, nil
}

func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	page, err := h.reader.Query(r.Context(), q)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	if page.Entries == nil {
		page.Entries = []audit.Entry{}
	}
	apihttp.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	format := chi.URLParam(r, "format")
	var contentType string
	switch format {
	case "csv":
		contentType = "text/csv"
	case "xlsx":
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pdf":
		contentType = "application/pdf"
	default:
		apihttp.WriteError(w, fmt.Errorf("%w: unsupported export format %q", apihttp.ErrBadRequest, format))
		return
	}

	q, err := parseQuery(r)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	entries, truncated, err := collect(r.Context(), h.reader, q)
	if err != nil {
		metrics.IncAuditExport(format, metrics.ResultError)
		logger.FromContext(r.Context()).Error("audit export", zap.String("format", format), zap.Error(err))
		apihttp.WriteError(w, err)
		return
	}

	var body []byte
	switch format {
	case "csv":
		body, err = audit.BuildCSV(entries)
	case "xlsx":
		body, err = audit.BuildXLSX(q, entries, h.now())
	case "pdf":
		body, err = audit.BuildPDF(q, entries, h.now())
	}
	if err != nil {
		metrics.IncAuditExport(format, metrics.ResultError)
		logger.FromContext(r.Context()).Error("audit export render", zap.String("format", format), zap.Error(err))
		apihttp.WriteError(w, err)
		return
	}
	metrics.IncAuditExport(format, metrics.ResultSuccess)

	filename := fmt.Sprintf("audit-%s.%s", h.now().Format("20060102T150405Z"), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if truncated {
		w.Header().Set(HeaderExportTruncated, "true")
		w.Header().Set(HeaderExportNextCursor, audit.CursorFor(entries[len(entries)-1]).Encode())
		logger.FromContext(r.Context()).Warn("audit export truncated", zap.String("format", format), zap.Int("rows", len(entries)))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// HeaderExportTruncated and HeaderExportNextCursor are set when an export stops at
// audit.MaxExportRows with more matching entries left. The cursor continues after the last row.
const (
	HeaderExportTruncated  = "X-Export-Truncated"
	HeaderExportNextCursor = "X-Export-Next-Cursor"
)

// collect pages through the trail from q's cursor, stopping at audit.MaxExportRows.
// It reports whether matching entries were left out.
func collect(ctx context.Context, reader audit.Reader, q audit.Query) ([]audit.Entry, bool, error) {
	q.Limit = audit.MaxQueryLimit
	var out []audit.Entry
	for {
		page, err := reader.Query(ctx, q)
		if err != nil {
			return nil, false, err
		}
		out = append(out, page.Entries...)
		if len(out) > audit.MaxExportRows {
			return out[:audit.MaxExportRows], true, nil
		}
		if page.NextCursor == "" {
			return out, false, nil
		}
		if len(out) == audit.MaxExportRows {
			return out, true, nil
		}
		q.After, err = audit.DecodeCursor(page.NextCursor)
		if err != nil {
			return nil, false, err
		}
	}
}
