package windows

import (
	"context"
	"sync"
	"time"

	"github.com/mbeoliero/kit/log"
	"golang.org/x/sync/singleflight"

	"github.com/stayfinder/chatsync/pkg/backend"
	"github.com/stayfinder/chatsync/pkg/errcode"
)

// HydrateFunc performs the one-time fetch-or-create of a conversation
// plus its history for a peer
type HydrateFunc func(ctx context.Context, peerId string) (*backend.ConversationBundle, error)

// Window is one open conversation surface, keyed by peer. The
// conversation id is resolved lazily by hydration, so pre-hydration the
// window filters events by peer identity instead. Accessors hand out
// value snapshots; the live windows are only ever touched under the
// manager mutex.
type Window struct {
	PeerId         string
	ConversationId string
	OpenedAt       time.Time
	Hydrated       bool
	Visible        bool
}

// Manager bounds the set of concurrently open windows. It is a
// fixed-capacity arena ordered by open time: opening beyond the bound
// evicts the least-recently-opened window.
type Manager struct {
	mu      sync.Mutex
	bound   int
	windows []*Window

	sf      singleflight.Group
	hydrate HydrateFunc
}

// NewManager creates a manager with the given window bound
func NewManager(bound int, hydrate HydrateFunc) *Manager {
	if bound <= 0 {
		bound = 2
	}
	return &Manager{bound: bound, hydrate: hydrate}
}

// Open focuses the existing window for the peer or creates one. The
// returned evicted slice holds windows closed to stay within the bound.
func (m *Manager) Open(peerId string) (w Window, evicted []Window, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, win := range m.windows {
		if win.PeerId == peerId {
			// Focusing refreshes the window's recency.
			win.OpenedAt = time.Now()
			win.Visible = true
			m.windows = append(append(m.windows[:i:i], m.windows[i+1:]...), win)
			return *win, nil, false
		}
	}

	nw := &Window{PeerId: peerId, OpenedAt: time.Now(), Visible: true}
	m.windows = append(m.windows, nw)

	for len(m.windows) > m.bound {
		evicted = append(evicted, *m.windows[0])
		m.windows = m.windows[1:]
	}
	return *nw, evicted, true
}

// Close removes the peer's window. Returns the closed window's last
// state, or false when no window was open for that peer.
func (m *Manager) Close(peerId string) (Window, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, win := range m.windows {
		if win.PeerId == peerId {
			m.windows = append(m.windows[:i], m.windows[i+1:]...)
			return *win, true
		}
	}
	return Window{}, false
}

// Get returns a snapshot of the open window for a peer
func (m *Manager) Get(peerId string) (Window, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, win := range m.windows {
		if win.PeerId == peerId {
			return *win, true
		}
	}
	return Window{}, false
}

// ByConversation returns a snapshot of the open window bound to a
// conversation id
func (m *Manager) ByConversation(conversationId string) (Window, bool) {
	if conversationId == "" {
		return Window{}, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, win := range m.windows {
		if win.ConversationId == conversationId {
			return *win, true
		}
	}
	return Window{}, false
}

// Matches reports whether an event for (conversationId, peerId) belongs
// to the given window snapshot. Before hydration resolves the
// conversation id the window routes by peer identity.
func (m *Manager) Matches(w Window, conversationId, peerId string) bool {
	if w.ConversationId != "" && conversationId != "" {
		return w.ConversationId == conversationId
	}
	return peerId != "" && w.PeerId == peerId
}

// OpenWindows returns a snapshot of the open windows, oldest first
func (m *Manager) OpenWindows() []Window {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Window, len(m.windows))
	for i, win := range m.windows {
		out[i] = *win
	}
	return out
}

// OpenPeerIds returns the peer ids with an open window
func (m *Manager) OpenPeerIds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.windows))
	for _, win := range m.windows {
		out = append(out, win.PeerId)
	}
	return out
}

// Hydrate performs the window's one-time hydration. Concurrent opens of
// the same peer share a single backend fetch. A failed hydration leaves
// the window open but empty; reopening retries.
func (m *Manager) Hydrate(ctx context.Context, peerId string) (*backend.ConversationBundle, error) {
	v, err, shared := m.sf.Do(peerId, func() (interface{}, error) {
		return m.hydrate(ctx, peerId)
	})
	if shared {
		log.CtxDebug(ctx, "hydration shared for peer %s", peerId)
	}
	if err != nil {
		return nil, errcode.ErrHydrationFailed.Wrap(err)
	}
	bundle := v.(*backend.ConversationBundle)

	m.mu.Lock()
	for _, win := range m.windows {
		if win.PeerId == peerId {
			win.ConversationId = bundle.Conversation.Id
			win.Hydrated = true
		}
	}
	m.mu.Unlock()

	return bundle, nil
}
