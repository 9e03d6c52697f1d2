package webhooksink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"videomonitoring/internal/eventing"
	"videomonitoring/internal/logger"
)

const defaultDedupeWindow = time.Hour

type webhookPayload struct {
	MsgType string      `json:"msgtype"`
	Text    webhookText `json:"text"`
}

type webhookText struct {
	Content string `json:"content"`
}

// Sink posts rendered billing triggers to a chat-style webhook.
type Sink struct {
	url          string
	client       *http.Client
	template     *Template
	dedupeWindow time.Duration
	now          func() time.Time
	logger       *zap.Logger

	mu   sync.Mutex
	sent map[string]time.Time
}

// Option configures the sink.
type Option func(*Sink)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Sink) {
		if client != nil {
			s.client = client
		}
	}
}

// WithTemplate overrides the content template.
func WithTemplate(t *Template) Option {
	return func(s *Sink) {
		if t != nil {
			s.template = t
		}
	}
}

// WithDedupeWindow suppresses redelivery of the same envelope within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(s *Sink) {
		if window > 0 {
			s.dedupeWindow = window
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Sink) {
		s.logger = logger.OrNop(l)
	}
}

// New constructs a webhook sink.
func New(url string, opts ...Option) (*Sink, error) {
	if url == "" {
		return nil, errors.New("webhook sink: empty url")
	}
	tpl, err := NewTemplate("")
	if err != nil {
		return nil, err
	}
	s := &Sink{
		url:          url,
		client:       &http.Client{Timeout: 10 * time.Second},
		template:     tpl,
		dedupeWindow: defaultDedupeWindow,
		now:          time.Now,
		logger:       zap.NewNop(),
		sent:         make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Deliver renders the trigger and posts it, skipping envelopes already sent within the dedupe window.
func (s *Sink) Deliver(ctx context.Context, env eventing.Envelope) error {
	if s == nil {
		return errors.New("webhook sink: nil")
	}
	if s.recentlySent(env.EventID) {
		s.logger.Debug("trigger already delivered", zap.String("event_id", env.EventID))
		return nil
	}
	trigger, err := env.DecodeTrigger()
	if err != nil {
		return err
	}
	content, err := s.template.Render(dataFor(trigger))
	if err != nil {
		return err
	}
	if err := s.send(ctx, content); err != nil {
		return err
	}
	s.markSent(env.EventID)
	return nil
}

func (s *Sink) send(ctx context.Context, content string) error {
	body, err := json.Marshal(webhookPayload{MsgType: "text", Text: webhookText{Content: content}})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook sink: non-2xx response %d", resp.StatusCode)
	}
	return nil
}

func (s *Sink) recentlySent(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.sent[id]
	return ok && s.now().Sub(at) < s.dedupeWindow
}

func (s *Sink) markSent(id string) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, at := range s.sent {
		if now.Sub(at) >= s.dedupeWindow {
			delete(s.sent, k)
		}
	}
	s.sent[id] = now
}
