package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func msg(account string, seq int64) Message {
	return Message{Type: "test", AccountID: account, Seq: seq, At: time.Now()}
}

func receive(t *testing.T, s *Session) Message {
	t.Helper()
	select {
	case m, ok := <-s.Messages():
		require.True(t, ok, "session closed")
		return m
	case <-time.After(3 * time.Second):
		t.Fatal("no message delivered")
		return Message{}
	}
}

func requireEmpty(t *testing.T, s *Session, wait time.Duration) {
	t.Helper()
	select {
	case m := <-s.Messages():
		t.Fatalf("unexpected message %+v", m)
	case <-time.After(wait):
	}
}

func runHub(t *testing.T, h *Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestSessionsConnectedAfterPublishDoNotReceive(t *testing.T) {
	h := NewHub()
	early := h.Register("op-1")
	h.Publish(msg("acct-1", 1))
	late := h.Register("op-2")
	runHub(t, h)

	require.Equal(t, int64(1), receive(t, early).Seq)
	requireEmpty(t, late, 50*time.Millisecond)

	h.Publish(msg("acct-1", 2))
	require.Equal(t, int64(2), receive(t, early).Seq)
	require.Equal(t, int64(2), receive(t, late).Seq)
}

func TestPerAccountOrderIsRestored(t *testing.T) {
	h := NewHub(WithReorderWait(time.Second))
	s := h.Register("op-1")
	runHub(t, h)

	h.Publish(msg("acct-1", 1))
	require.Equal(t, int64(1), receive(t, s).Seq)

	h.Publish(msg("acct-1", 3), msg("acct-1", 2))
	require.Equal(t, int64(2), receive(t, s).Seq)
	require.Equal(t, int64(3), receive(t, s).Seq)
}

func TestFirstMessagesOfAnAccountAreOrdered(t *testing.T) {
	h := NewHub(WithReorderWait(50 * time.Millisecond))
	s := h.Register("op-1")
	runHub(t, h)

	h.Publish(msg("acct-1", 6))
	time.Sleep(10 * time.Millisecond)
	h.Publish(msg("acct-1", 5))

	require.Equal(t, int64(5), receive(t, s).Seq)
	require.Equal(t, int64(6), receive(t, s).Seq)

	h.Publish(msg("acct-1", 7))
	require.Equal(t, int64(7), receive(t, s).Seq)
}

func TestGapIsSkippedAfterReorderWait(t *testing.T) {
	h := NewHub(WithReorderWait(20 * time.Millisecond))
	s := h.Register("op-1")
	runHub(t, h)

	h.Publish(msg("acct-1", 1))
	require.Equal(t, int64(1), receive(t, s).Seq)

	h.Publish(msg("acct-1", 3))
	require.Equal(t, int64(3), receive(t, s).Seq)

	h.Publish(msg("acct-1", 2))
	requireEmpty(t, s, 60*time.Millisecond)
}

func TestSlowSessionDoesNotBlockOthers(t *testing.T) {
	h := NewHub(WithSessionBuffer(1))
	slow := h.Register("slow")
	fast := h.Register("fast")
	runHub(t, h)

	for seq := int64(1); seq <= 3; seq++ {
		h.Publish(msg("acct-1", seq))
		require.Equal(t, seq, receive(t, fast).Seq)
	}
	require.Equal(t, int64(1), receive(t, slow).Seq)
	requireEmpty(t, slow, 30*time.Millisecond)
}

func TestAccountFilter(t *testing.T) {
	h := NewHub()
	s := h.Register("op-1", "acct-2")
	runHub(t, h)

	h.Publish(msg("acct-1", 1), msg("acct-2", 1))
	require.Equal(t, "acct-2", receive(t, s).AccountID)
	requireEmpty(t, s, 30*time.Millisecond)
}

func TestPublishNeverBlocksWhenInboxFull(t *testing.T) {
	h := NewHub(WithInboxSize(1))
	done := make(chan struct{})
	go func() {
		for i := int64(1); i <= 100; i++ {
			h.Publish(msg("acct-1", i))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked")
	}
}

func TestUnregisterAndShutdownCloseSessions(t *testing.T) {
	h := NewHub()
	a := h.Register("op-1")
	b := h.Register("op-2")
	require.Equal(t, 2, h.Sessions())

	h.Unregister(a)
	h.Unregister(a)
	_, ok := <-a.Messages()
	require.False(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped
	_, ok = <-b.Messages()
	require.False(t, ok)
	require.Zero(t, h.Sessions())
}
