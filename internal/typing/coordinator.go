package typing

import (
	"context"
	"sync"
	"time"

	"github.com/c-pro/geche"
)

// Emitter sends typing signals to the transport layer
type Emitter func(conversationId string, typing bool)

// key identifies one peer's typing flag in one conversation, so signals
// for a different conversation never bleed into an open window.
type key struct {
	ConversationId string
	PeerId         string
}

// Coordinator debounces local typing emission and expires peer typing
// flags. Peer flags live in a TTL cache: a flag not refreshed within the
// expiry window is cleared even when the explicit stop signal was lost.
type Coordinator struct {
	throttle time.Duration
	expiry   time.Duration
	emit     Emitter

	flags geche.Geche[key, int64]

	mu         sync.Mutex
	lastSent   map[string]time.Time
	stopTimers map[string]*time.Timer
}

// NewCoordinator creates a typing coordinator. ctx bounds the TTL cache's
// cleanup goroutine.
func NewCoordinator(ctx context.Context, throttle, expiry time.Duration, emit Emitter) *Coordinator {
	cleanup := expiry / 4
	if cleanup < 10*time.Millisecond {
		cleanup = 10 * time.Millisecond
	}
	return &Coordinator{
		throttle:   throttle,
		expiry:     expiry,
		emit:       emit,
		flags:      geche.NewMapTTLCache[key, int64](ctx, expiry, cleanup),
		lastSent:   make(map[string]time.Time),
		stopTimers: make(map[string]*time.Timer),
	}
}

// NotifyLocal is called on every local keystroke in an active composer.
// It emits typing=true at most once per throttle window of continuous
// typing and emits typing=false after a throttle window of inactivity.
func (c *Coordinator) NotifyLocal(conversationId string) {
	c.mu.Lock()

	now := time.Now()
	if last, ok := c.lastSent[conversationId]; !ok || now.Sub(last) >= c.throttle {
		c.lastSent[conversationId] = now
		c.mu.Unlock()
		c.emit(conversationId, true)
		c.mu.Lock()
	}

	if t, ok := c.stopTimers[conversationId]; ok {
		t.Stop()
	}
	c.stopTimers[conversationId] = time.AfterFunc(c.throttle, func() {
		c.mu.Lock()
		delete(c.stopTimers, conversationId)
		delete(c.lastSent, conversationId)
		c.mu.Unlock()
		c.emit(conversationId, false)
	})

	c.mu.Unlock()
}

// SetPeerTyping records a peer's typing signal. typing=true (re)arms the
// expiry; typing=false clears the flag immediately.
func (c *Coordinator) SetPeerTyping(conversationId, peerId string, typing bool) {
	k := key{ConversationId: conversationId, PeerId: peerId}
	if typing {
		c.flags.Set(k, time.Now().UnixMilli())
		return
	}
	c.flags.Del(k)
}

// PeerTyping reports whether the peer's flag is set and unexpired
func (c *Coordinator) PeerTyping(conversationId, peerId string) bool {
	_, err := c.flags.Get(key{ConversationId: conversationId, PeerId: peerId})
	return err == nil
}

// Stop cancels pending local stop timers
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, t := range c.stopTimers {
		t.Stop()
		delete(c.stopTimers, id)
	}
}
