package notify

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"videomonitoring/internal/auth"
	"videomonitoring/internal/logger"
)

// StreamHandler serves the operator push channel as server-sent events.
type StreamHandler struct {
	hub       *Hub
	keepalive time.Duration
	logger    *zap.Logger
}

// NewStreamHandler constructs a stream handler.
func NewStreamHandler(hub *Hub, keepalive time.Duration, l *zap.Logger) *StreamHandler {
	if keepalive <= 0 {
		keepalive = 25 * time.Second
	}
	return &StreamHandler{hub: hub, keepalive: keepalive, logger: logger.OrNop(l)}
}

// ServeHTTP handles GET /api/v1/stream[?account_id=a&account_id=b].
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.hub == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	operator := auth.OperatorFromContext(r.Context())
	session := h.hub.Register(operator, accountFilter(r)...)
	defer h.hub.Unregister(session)
	h.logger.Debug("stream session opened", zap.String("operator", operator))

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	done := r.Context().Done()
	for {
		select {
		case msg, ok := <-session.Messages():
			if !ok {
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				h.logger.Warn("encode notification", zap.Error(err))
				continue
			}
			if err := writeEvent(w, msg, payload); err != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-done:
			h.logger.Debug("stream session closed", zap.String("operator", operator))
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, msg Message, payload []byte) error {
	var b strings.Builder
	b.WriteString("id: ")
	b.WriteString(msg.AccountID)
	b.WriteByte(':')
	b.WriteString(strconv.FormatInt(msg.Seq, 10))
	b.WriteString("\nevent: ")
	b.WriteString(msg.Type)
	b.WriteString("\ndata: ")
	b.Write(payload)
	b.WriteString("\n\n")
	_, err := w.Write([]byte(b.String()))
	return err
}

func accountFilter(r *http.Request) []string {
	var out []string
	for _, v := range r.URL.Query()["account_id"] {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				out = append(out, id)
			}
		}
	}
	return out
}
