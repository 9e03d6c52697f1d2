package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"videomonitoring/internal/logger"
	"videomonitoring/internal/observability/metrics"
)

// Delivery outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeDropped   = "dropped"
	OutcomeOverflow  = "overflow"
	OutcomeStale     = "stale"
	OutcomeGap       = "gap"
)

const (
	defaultSessionBuffer = 64
	defaultInboxSize     = 1024
	defaultReorderWait   = 500 * time.Millisecond
)

// Hub owns the session registry and fans committed messages out to sessions.
// Publish never blocks; a single Run goroutine orders messages per account and delivers them.
type Hub struct {
	mu       sync.Mutex
	sessions map[uint64]*Session
	nextID   uint64
	closed   bool

	inbox         chan Message
	sessionBuffer int
	reorderWait   time.Duration
	origin        string
	forwarder     Forwarder
	logger        *zap.Logger
	now           func() time.Time

	accounts map[string]*accountOrder
}

// accountOrder tracks release state for one account. Until primed, the last delivered seq
// is unknown and every message is held for reorderWait so a lower seq can still arrive.
type accountOrder struct {
	last       int64
	primed     bool
	pending    map[int64]Message
	heldSince  time.Time
	lastActive time.Time
}

// HubOption configures the hub.
type HubOption func(*Hub)

// WithSessionBuffer sets the per-session queue length.
func WithSessionBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.sessionBuffer = n
		}
	}
}

// WithInboxSize sets the hub queue length.
func WithInboxSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.inbox = make(chan Message, n)
		}
	}
}

// WithReorderWait bounds how long an out-of-order message waits for its predecessor.
func WithReorderWait(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.reorderWait = d
		}
	}
}

// WithOrigin names this instance on relayed messages.
func WithOrigin(origin string) HubOption {
	return func(h *Hub) {
		h.origin = origin
	}
}

// WithForwarder relays locally published messages to other instances.
func WithForwarder(f Forwarder) HubOption {
	return func(h *Hub) {
		h.forwarder = f
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger.OrNop(l)
	}
}

// NewHub constructs a hub. Call Run to start delivery.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		sessions:      make(map[uint64]*Session),
		inbox:         make(chan Message, defaultInboxSize),
		sessionBuffer: defaultSessionBuffer,
		reorderWait:   defaultReorderWait,
		logger:        zap.NewNop(),
		now:           time.Now,
		accounts:      make(map[string]*accountOrder),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Origin returns the instance name stamped on local messages.
func (h *Hub) Origin() string { return h.origin }

// Publish enqueues committed messages. Each message is stamped with the current
// session generation so sessions registered afterwards never see it.
func (h *Hub) Publish(msgs ...Message) {
	for _, msg := range msgs {
		if msg.Origin == "" {
			msg.Origin = h.origin
		}
		h.enqueue(msg)
		if h.forwarder != nil {
			h.forwarder.Forward(msg)
		}
	}
}

// Inject enqueues a message relayed from another instance.
func (h *Hub) Inject(msg Message) {
	h.enqueue(msg)
}

func (h *Hub) enqueue(msg Message) {
	h.mu.Lock()
	msg.gen = h.nextID
	h.mu.Unlock()
	select {
	case h.inbox <- msg:
	default:
		metrics.IncNotification(OutcomeOverflow)
		h.logger.Warn("notification queue full, message dropped",
			zap.String("type", msg.Type), zap.String("account_id", msg.AccountID), zap.Int64("seq", msg.Seq))
	}
}

// Register adds a session. When accounts is non-empty only those accounts are delivered.
func (h *Hub) Register(operator string, accounts ...string) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	s := &Session{
		id:       h.nextID,
		operator: operator,
		ch:       make(chan Message, h.sessionBuffer),
	}
	if len(accounts) > 0 {
		s.accounts = make(map[string]struct{}, len(accounts))
		for _, a := range accounts {
			s.accounts[a] = struct{}{}
		}
	}
	if h.closed {
		close(s.ch)
		return s
	}
	h.sessions[s.id] = s
	metrics.SetSessions(len(h.sessions))
	return s
}

// Unregister removes the session and closes its channel.
func (h *Hub) Unregister(s *Session) {
	if s == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s.id]; !ok {
		return
	}
	delete(h.sessions, s.id)
	close(s.ch)
	metrics.SetSessions(len(h.sessions))
}

// Sessions returns the number of connected sessions.
func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Run delivers messages until ctx is done, then closes every session.
func (h *Hub) Run(ctx context.Context) {
	tick := h.reorderWait / 2
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-h.inbox:
			h.order(msg)
		case <-ticker.C:
			h.expire()
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, s := range h.sessions {
		delete(h.sessions, id)
		close(s.ch)
	}
	metrics.SetSessions(0)
}

// order releases msg and any queued successors in seq order.
func (h *Hub) order(msg Message) {
	if msg.Seq <= 0 {
		h.deliver(msg)
		return
	}
	now := h.now()
	st, ok := h.accounts[msg.AccountID]
	if !ok {
		st = &accountOrder{pending: make(map[int64]Message)}
		h.accounts[msg.AccountID] = st
	}
	st.lastActive = now

	switch {
	case !st.primed:
		st.hold(msg, now)
	case msg.Seq <= st.last:
		metrics.IncNotification(OutcomeStale)
		h.logger.Debug("stale notification dropped",
			zap.String("account_id", msg.AccountID), zap.Int64("seq", msg.Seq), zap.Int64("last", st.last))
	case msg.Seq == st.last+1:
		st.last = msg.Seq
		h.deliver(msg)
		h.drain(st)
	default:
		st.hold(msg, now)
	}
}

func (st *accountOrder) hold(msg Message, now time.Time) {
	if _, dup := st.pending[msg.Seq]; dup {
		return
	}
	st.pending[msg.Seq] = msg
	if st.heldSince.IsZero() {
		st.heldSince = now
	}
}

func (h *Hub) drain(st *accountOrder) {
	for {
		next, ok := st.pending[st.last+1]
		if !ok {
			break
		}
		delete(st.pending, next.Seq)
		st.last = next.Seq
		h.deliver(next)
	}
	if len(st.pending) == 0 {
		st.heldSince = time.Time{}
	} else {
		st.heldSince = h.now()
	}
}

// expire releases held messages once they have waited reorderWait, skipping gaps,
// and forgets idle accounts.
func (h *Hub) expire() {
	now := h.now()
	for id, st := range h.accounts {
		if len(st.pending) > 0 && now.Sub(st.heldSince) >= h.reorderWait {
			seqs := make([]int64, 0, len(st.pending))
			for seq := range st.pending {
				seqs = append(seqs, seq)
			}
			sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
			if st.primed {
				metrics.IncNotification(OutcomeGap)
				h.logger.Warn("notification gap skipped",
					zap.String("account_id", id), zap.Int64("missing_from", st.last+1), zap.Int64("resume_at", seqs[0]))
			}
			st.last, st.primed = seqs[0]-1, true
			h.drain(st)
			continue
		}
		if len(st.pending) == 0 && now.Sub(st.lastActive) > idleAccountTTL {
			delete(h.accounts, id)
		}
	}
}

// idleAccountTTL bounds how long ordering state is kept for a quiet account.
const idleAccountTTL = 30 * time.Minute

func (h *Hub) deliver(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered, dropped := 0, 0
	for _, s := range h.sessions {
		if s.id > msg.gen || !s.wants(msg.AccountID) {
			continue
		}
		select {
		case s.ch <- msg:
			delivered++
		default:
			dropped++
		}
	}
	metrics.AddNotifications(OutcomeDelivered, delivered)
	if dropped > 0 {
		metrics.AddNotifications(OutcomeDropped, dropped)
		h.logger.Warn("slow sessions skipped notification",
			zap.String("type", msg.Type), zap.String("account_id", msg.AccountID), zap.Int("sessions", dropped))
	}
}

// Session is one connected operator stream.
type Session struct {
	id       uint64
	operator string
	accounts map[string]struct{}
	ch       chan Message
}

// Messages returns the delivery channel. It is closed on Unregister or hub shutdown.
func (s *Session) Messages() <-chan Message { return s.ch }

// Operator returns the operator id the session was opened for.
func (s *Session) Operator() string { return s.operator }

func (s *Session) wants(accountID string) bool {
	if len(s.accounts) == 0 {
		return true
	}
	_, ok := s.accounts[accountID]
	return ok
}
