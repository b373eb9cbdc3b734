package typing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emission struct {
	conversationId string
	typing         bool
}

type recorder struct {
	mu   sync.Mutex
	sent []emission
}

func (r *recorder) emit(conversationId string, typing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, emission{conversationId, typing})
}

func (r *recorder) snapshot() []emission {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]emission, len(r.sent))
	copy(out, r.sent)
	return out
}

func TestNotifyLocal_Throttled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	c := NewCoordinator(ctx, 80*time.Millisecond, 200*time.Millisecond, rec.emit)
	defer c.Stop()

	// A burst of keystrokes inside one throttle window emits once.
	for i := 0; i < 10; i++ {
		c.NotifyLocal("c1")
		time.Sleep(2 * time.Millisecond)
	}

	sent := rec.snapshot()
	require.Len(t, sent, 1)
	assert.Equal(t, emission{"c1", true}, sent[0])

	// After a quiet throttle window the stop signal goes out.
	require.Eventually(t, func() bool {
		s := rec.snapshot()
		return len(s) == 2 && s[1] == emission{"c1", false}
	}, time.Second, 5*time.Millisecond)
}

func TestNotifyLocal_ReemitsAfterThrottleWindow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	c := NewCoordinator(ctx, 30*time.Millisecond, 200*time.Millisecond, rec.emit)
	defer c.Stop()

	c.NotifyLocal("c1")
	time.Sleep(45 * time.Millisecond)
	c.NotifyLocal("c1")

	trues := 0
	for _, e := range rec.snapshot() {
		if e.typing {
			trues++
		}
	}
	assert.GreaterOrEqual(t, trues, 2)
}

func TestPeerTyping_ExpiresWithoutRefresh(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewCoordinator(ctx, 30*time.Millisecond, 100*time.Millisecond, func(string, bool) {})
	defer c.Stop()

	c.SetPeerTyping("c1", "p1", true)
	assert.True(t, c.PeerTyping("c1", "p1"))

	// No refresh: the flag clears even without an explicit stop.
	require.Eventually(t, func() bool {
		return !c.PeerTyping("c1", "p1")
	}, time.Second, 10*time.Millisecond)
}

func TestPeerTyping_RefreshRearmsExpiry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewCoordinator(ctx, 30*time.Millisecond, 150*time.Millisecond, func(string, bool) {})
	defer c.Stop()

	c.SetPeerTyping("c1", "p1", true)
	time.Sleep(80 * time.Millisecond)
	c.SetPeerTyping("c1", "p1", true)
	time.Sleep(80 * time.Millisecond)

	// Refreshed at t=80ms, so still inside the window at t=160ms.
	assert.True(t, c.PeerTyping("c1", "p1"))
}

func TestPeerTyping_ExplicitStopClearsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewCoordinator(ctx, 30*time.Millisecond, time.Minute, func(string, bool) {})
	defer c.Stop()

	c.SetPeerTyping("c1", "p1", true)
	c.SetPeerTyping("c1", "p1", false)
	assert.False(t, c.PeerTyping("c1", "p1"))
}

func TestPeerTyping_NoCrossConversationBleed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewCoordinator(ctx, 30*time.Millisecond, time.Minute, func(string, bool) {})
	defer c.Stop()

	c.SetPeerTyping("c1", "p1", true)

	assert.True(t, c.PeerTyping("c1", "p1"))
	assert.False(t, c.PeerTyping("c2", "p1"))
	assert.False(t, c.PeerTyping("c1", "p2"))
}
