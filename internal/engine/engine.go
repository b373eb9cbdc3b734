package engine

import (
	"context"
	"time"

	"github.com/mbeoliero/kit/log"

	"github.com/stayfinder/chatsync/internal/config"
	"github.com/stayfinder/chatsync/internal/presence"
	"github.com/stayfinder/chatsync/internal/preview"
	"github.com/stayfinder/chatsync/internal/store"
	"github.com/stayfinder/chatsync/internal/transport"
	"github.com/stayfinder/chatsync/internal/typing"
	"github.com/stayfinder/chatsync/internal/windows"
	"github.com/stayfinder/chatsync/pkg/backend"
	"github.com/stayfinder/chatsync/pkg/idgen"
)

// Backend is the authoritative REST collaborator
type Backend interface {
	ConversationWith(ctx context.Context, peerUserId string) (*backend.ConversationBundle, error)
	SendMessage(ctx context.Context, conversationId, text string) (*backend.MessageInfo, error)
	MarkRead(ctx context.Context, conversationId string) error
	ListConversations(ctx context.Context, limit int) ([]*backend.ConversationPreview, error)
	AvailablePeers(ctx context.Context) ([]string, error)
}

// Signaler emits outbound push-transport signals
type Signaler interface {
	SendTyping(conversationId string, typing bool) error
	SendAvailability(available bool) error
}

// Broadcaster publishes cross-tab availability writes
type Broadcaster interface {
	Publish(ctx context.Context, actingUserId string, value bool) error
}

// Engine reconciles optimistic local state, duplicated and aliased push
// events, multi-surface unread bookkeeping, typing indicators and
// cross-tab presence into one consistent view. Nothing here is fatal to
// the session: every failure degrades a single conversation or indicator.
type Engine struct {
	userId   string
	cfg      config.EngineConfig
	api      Backend
	signals  Signaler
	crosstab Broadcaster

	store    *store.Store
	tracker  *presence.Tracker
	typing   *typing.Coordinator
	windows  *windows.Manager
	previews *preview.Aggregator
}

// New creates an engine for the local participant. ctx bounds internal
// timer goroutines and should outlive the session.
func New(ctx context.Context, userId string, cfg config.EngineConfig, api Backend, signals Signaler, crosstab Broadcaster) *Engine {
	e := &Engine{
		userId:   userId,
		cfg:      cfg,
		api:      api,
		signals:  signals,
		crosstab: crosstab,
		store:    store.New(),
		tracker:  presence.NewTracker(),
		previews: preview.NewAggregator(),
	}
	e.typing = typing.NewCoordinator(ctx, cfg.TypingThrottle, cfg.TypingExpiry, e.emitTyping)
	e.windows = windows.NewManager(cfg.WindowBound, func(ctx context.Context, peerId string) (*backend.ConversationBundle, error) {
		return api.ConversationWith(ctx, peerId)
	})
	return e
}

func (e *Engine) emitTyping(conversationId string, isTyping bool) {
	if err := e.signals.SendTyping(conversationId, isTyping); err != nil {
		log.Debug("typing signal dropped: %v", err)
	}
}

// Dispatch consumes one canonical transport event. The transport delivers
// at-least-once and out-of-order; every branch here is idempotent.
func (e *Engine) Dispatch(ev *transport.Event) {
	switch ev.Kind {
	case transport.KindConnectionEstablished:
		go e.Resync(context.Background())
	case transport.KindNewMessage:
		e.handleInbound(ev)
	case transport.KindTypingChanged:
		e.handleTyping(ev)
	case transport.KindAvailabilityChanged:
		e.tracker.Apply(ev.PeerId, ev.Available, ev.At)
	}
}

// Resync refetches authoritative state. Run on every reconnect: push
// state accumulated before the disconnect may be stale and is overwritten
// rather than trusted.
func (e *Engine) Resync(ctx context.Context) {
	if ids, err := e.api.AvailablePeers(ctx); err != nil {
		log.CtxWarn(ctx, "presence snapshot fetch failed: %v", err)
	} else {
		e.tracker.ApplySnapshot(ids)
	}

	if previews, err := e.api.ListConversations(ctx, e.cfg.PreviewLimit); err != nil {
		log.CtxWarn(ctx, "conversation list fetch failed: %v", err)
	} else {
		e.previews.SetSnapshot(previews)
	}
}

func (e *Engine) handleInbound(ev *transport.Event) {
	convId := e.resolveConversation(ev)
	if convId == "" {
		// Neither a conversation id nor a routable identity; the
		// reconnect resync is the recovery path for anything missed.
		log.Debug("unroutable message event dropped: peer=%q", ev.PeerId)
		return
	}
	if ev.Message.ConversationId == "" {
		ev.Message.ConversationId = convId
	}

	if added := e.store.AppendConfirmed(convId, ev.Message); !added {
		// Duplicate delivery, absorbed.
		return
	}

	inbound := ev.Message.SenderId != e.userId
	if inbound && ev.PeerId != "" {
		// A delivered message implies the peer stopped typing.
		e.typing.SetPeerTyping(convId, ev.PeerId, false)
	}

	win, open := e.windows.ByConversation(convId)
	if !open && ev.PeerId != "" {
		win, open = e.windows.Get(ev.PeerId)
	}
	visible := open && win.Visible

	e.previews.ApplyMessage(convId, ev.Message, inbound, visible)

	if inbound && visible {
		// Read while the window is open and showing.
		e.previews.Acknowledge(win.PeerId)
		e.markRead(context.Background(), convId)
	}
}

func (e *Engine) handleTyping(ev *transport.Event) {
	convId := e.resolveConversation(ev)
	if convId == "" || ev.PeerId == "" {
		return
	}
	e.typing.SetPeerTyping(convId, ev.PeerId, ev.Typing)
}

// resolveConversation falls back to peer identity when the event carries
// no conversation id.
func (e *Engine) resolveConversation(ev *transport.Event) string {
	if ev.ConversationId != "" {
		return ev.ConversationId
	}
	if ev.PeerId == "" {
		return ""
	}
	if win, ok := e.windows.Get(ev.PeerId); ok && win.ConversationId != "" {
		return win.ConversationId
	}
	if id, ok := e.previews.ConversationFor(ev.PeerId); ok {
		return id
	}
	return ""
}

// HandleCrossTab consumes an observed cross-tab availability write.
// Writes are ignored unless the acting user is currently rendered as a
// peer; conflicts resolve last-write-wins by the carried timestamp.
func (e *Engine) HandleCrossTab(b presence.Broadcast) {
	if b.ActingUserId == "" || b.ActingUserId == e.userId {
		return
	}
	relevant := e.previews.HasPeer(b.ActingUserId)
	if !relevant {
		_, relevant = e.windows.Get(b.ActingUserId)
	}
	if !relevant {
		return
	}
	e.tracker.Apply(b.ActingUserId, b.Value, b.At)
}

// ===== Imperative actions =====

// Open focuses or creates the window for a peer. The unread override
// clears immediately, before the hydration round-trip. Windows beyond the
// bound are evicted least-recently-opened first.
func (e *Engine) Open(ctx context.Context, peerId string) windows.Window {
	win, evicted, created := e.windows.Open(peerId)
	for _, ev := range evicted {
		log.CtxInfo(ctx, "window evicted: peer=%s", ev.PeerId)
	}

	// Optimistic read, independent of any server round-trip.
	e.previews.Acknowledge(peerId)

	if created {
		go e.hydrateWindow(ctx, peerId)
	} else if win.ConversationId != "" {
		// Refocus of a hydrated window re-reports the read receipt.
		e.markRead(ctx, win.ConversationId)
	}
	return win
}

// hydrateWindow performs the window's one-time hydration and the
// mark-read call once the conversation id is known. A failure degrades
// this window only.
func (e *Engine) hydrateWindow(ctx context.Context, peerId string) {
	bundle, err := e.windows.Hydrate(ctx, peerId)
	if err != nil {
		log.CtxWarn(ctx, "window hydration failed: peer=%s, %v", peerId, err)
		return
	}

	convId := bundle.Conversation.Id
	e.store.Hydrate(convId, bundle.Messages)
	e.previews.Upsert(bundle.Conversation, bundle.Peer)
	if bundle.Peer != nil {
		e.tracker.Apply(bundle.Peer.Id, bundle.Peer.Available, 0)
	}

	// The window may have closed while hydration was in flight; the
	// fetched state is still kept, only the read receipt is skipped.
	if _, open := e.windows.Get(peerId); open {
		e.markRead(ctx, convId)
	}
}

// Close closes the peer's window and tears down its routing. In-flight
// fetches are abandoned, not cancelled.
func (e *Engine) Close(peerId string) {
	if _, ok := e.windows.Close(peerId); ok {
		log.Debug("window closed: peer=%s", peerId)
	}
}

// Send runs the optimistic pipeline: a pending entry appears immediately
// under a provisional id, then is replaced in place by the confirmed copy
// or marked failed. Failed sends are never retried automatically.
func (e *Engine) Send(ctx context.Context, conversationId, text string) string {
	provisionalId := idgen.ProvisionalID()
	msg := &backend.MessageInfo{
		Id:             provisionalId,
		ConversationId: conversationId,
		SenderId:       e.userId,
		Text:           text,
		SentAt:         time.Now().UnixMilli(),
	}

	e.store.AppendProvisional(conversationId, provisionalId, msg)
	e.previews.ApplyMessage(conversationId, msg, false, true)

	go e.performSend(ctx, provisionalId, conversationId, text)
	return provisionalId
}

func (e *Engine) performSend(ctx context.Context, provisionalId, conversationId, text string) {
	confirmed, err := e.api.SendMessage(ctx, conversationId, text)
	if err != nil {
		log.CtxWarn(ctx, "send failed: conv=%s, %v", conversationId, err)
		if rerr := e.store.ResolveProvisional(provisionalId, nil); rerr != nil {
			log.CtxError(ctx, "resolve provisional failed: %v", rerr)
		}
		return
	}

	if rerr := e.store.ResolveProvisional(provisionalId, confirmed); rerr != nil {
		log.CtxError(ctx, "resolve provisional failed: %v", rerr)
		return
	}
	e.previews.ApplyMessage(conversationId, confirmed, false, true)
}

// NotifyTyping is called on every local keystroke in an active composer
func (e *Engine) NotifyTyping(conversationId string) {
	e.typing.NotifyLocal(conversationId)
}

// SetAvailable toggles the local participant's availability, informing
// the backend over the transport and sibling tabs over the cross-tab
// channel.
func (e *Engine) SetAvailable(ctx context.Context, available bool) {
	if err := e.signals.SendAvailability(available); err != nil {
		log.CtxWarn(ctx, "availability signal failed: %v", err)
	}
	if e.crosstab != nil {
		if err := e.crosstab.Publish(ctx, e.userId, available); err != nil {
			log.CtxWarn(ctx, "cross-tab publish failed: %v", err)
		}
	}
}

// markRead reports the conversation read, fire-and-forget. Failure is not
// surfaced; the next natural trigger retries.
func (e *Engine) markRead(ctx context.Context, conversationId string) {
	go func() {
		if err := e.api.MarkRead(ctx, conversationId); err != nil {
			log.CtxDebug(ctx, "mark read failed: conv=%s, %v", conversationId, err)
		}
	}()
}

// ===== Read-only views =====

// ConversationList returns the aggregated, sorted previews
func (e *Engine) ConversationList() []*preview.Preview {
	return e.previews.List()
}

// Messages returns a conversation's message log
func (e *Engine) Messages(conversationId string) []*store.Message {
	return e.store.Messages(conversationId)
}

// PeerTyping reports whether the conversation's peer is typing
func (e *Engine) PeerTyping(conversationId string) bool {
	if win, ok := e.windows.ByConversation(conversationId); ok {
		return e.typing.PeerTyping(conversationId, win.PeerId)
	}
	return false
}

// Available reports a peer's presence
func (e *Engine) Available(peerId string) bool {
	return e.tracker.Available(peerId)
}

// UnreadTotal returns the aggregate unread count across conversations
func (e *Engine) UnreadTotal() int64 {
	return e.previews.UnreadTotal()
}

// OpenPeers returns the peers with an open window, oldest first
func (e *Engine) OpenPeers() []string {
	return e.windows.OpenPeerIds()
}
