package preview

import (
	"sort"
	"sync"

	"github.com/stayfinder/chatsync/pkg/backend"
)

// Preview is one row of the aggregated conversation list, with the
// effective unread state already reconciled.
type Preview struct {
	ConversationId string
	Peer           *backend.PeerSummary
	LastText       string
	LastSenderId   string
	LastMessageAt  int64
	UnreadCount    int64
	Unread         bool
}

type item struct {
	conv         *backend.ConversationInfo
	peer         *backend.PeerSummary
	lastText     string
	lastSenderId string
	lastAt       int64
	serverUnread int64
}

// Aggregator derives the sorted, deduplicated conversation list consumed
// by the sidebar and dock. Server-reported unread counts are gated by the
// locally-acknowledged peer set: a conversation whose window was opened
// counts as read until the authoritative count says otherwise.
type Aggregator struct {
	mu     sync.RWMutex
	items  map[string]*item    // by conversation id
	byPeer map[string]string   // peer id -> conversation id
	acked  map[string]struct{} // locally-acknowledged, by peer id
}

// NewAggregator creates an empty aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{
		items:  make(map[string]*item),
		byPeer: make(map[string]string),
		acked:  make(map[string]struct{}),
	}
}

// SetSnapshot replaces state with an authoritative conversation list.
// Local overrides whose server count returned to zero are cleared so the
// next inbound message shows as unread again.
func (a *Aggregator) SetSnapshot(previews []*backend.ConversationPreview) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.items = make(map[string]*item, len(previews))
	a.byPeer = make(map[string]string, len(previews))

	for _, p := range previews {
		if p.Conversation == nil {
			continue
		}
		it := &item{
			conv:         p.Conversation,
			peer:         p.Peer,
			lastText:     p.Conversation.LastText,
			lastSenderId: p.Conversation.LastSenderId,
			lastAt:       p.Conversation.LastMessageAt,
			serverUnread: p.UnreadCount,
		}
		if p.LastMessage != nil && p.LastMessage.SentAt >= it.lastAt {
			it.lastText = p.LastMessage.Text
			it.lastSenderId = p.LastMessage.SenderId
			it.lastAt = p.LastMessage.SentAt
		}
		a.items[p.Conversation.Id] = it
		if p.Peer != nil {
			a.byPeer[p.Peer.Id] = p.Conversation.Id
			if p.UnreadCount == 0 {
				delete(a.acked, p.Peer.Id)
			}
		}
	}
}

// Upsert registers a conversation learned outside the list snapshot
// (window hydration of a brand-new conversation).
func (a *Aggregator) Upsert(conv *backend.ConversationInfo, peer *backend.PeerSummary) {
	if conv == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	it, ok := a.items[conv.Id]
	if !ok {
		it = &item{conv: conv}
		a.items[conv.Id] = it
	}
	it.conv = conv
	if peer != nil {
		it.peer = peer
		a.byPeer[peer.Id] = conv.Id
	}
	if conv.LastMessageAt > it.lastAt {
		it.lastText = conv.LastText
		it.lastSenderId = conv.LastSenderId
		it.lastAt = conv.LastMessageAt
	}
	if it.serverUnread < conv.UnreadCount {
		it.serverUnread = conv.UnreadCount
	}
}

// ApplyMessage overrides a conversation's last-message summary when the
// live message is newer than the fetched one. When the message is inbound
// and the conversation is not open, the unread count advances and any
// local acknowledgement is dropped.
func (a *Aggregator) ApplyMessage(conversationId string, msg *backend.MessageInfo, inbound, windowOpen bool) {
	if msg == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	it, ok := a.items[conversationId]
	if !ok {
		it = &item{conv: &backend.ConversationInfo{Id: conversationId}}
		a.items[conversationId] = it
	}

	if msg.SentAt >= it.lastAt {
		it.lastText = msg.Text
		it.lastSenderId = msg.SenderId
		it.lastAt = msg.SentAt
	}

	if inbound && !windowOpen {
		it.serverUnread++
		if it.peer != nil {
			delete(a.acked, it.peer.Id)
		}
	}
}

// Acknowledge records that the peer's conversation was viewed locally,
// suppressing the stale server unread count until the next authoritative
// refresh. Takes effect immediately, before any network round-trip.
func (a *Aggregator) Acknowledge(peerId string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked[peerId] = struct{}{}
}

// HasPeer reports whether the peer appears in the aggregated list
func (a *Aggregator) HasPeer(peerId string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.byPeer[peerId]
	return ok
}

// ConversationFor returns the conversation id known for a peer
func (a *Aggregator) ConversationFor(peerId string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	id, ok := a.byPeer[peerId]
	return id, ok
}

// List returns the previews sorted descending by effective last-message
// timestamp. Conversations with no messages yet carry a zero timestamp
// and therefore sort last.
func (a *Aggregator) List() []*Preview {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]*Preview, 0, len(a.items))
	for _, it := range a.items {
		out = append(out, a.preview(it))
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessageAt > out[j].LastMessageAt
	})
	return out
}

// UnreadTotal returns the sum of unread counts across conversations,
// excluding locally-acknowledged ones.
func (a *Aggregator) UnreadTotal() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var total int64
	for _, it := range a.items {
		if p := a.preview(it); p.Unread {
			total += p.UnreadCount
		}
	}
	return total
}

// preview derives one row; callers hold the lock.
func (a *Aggregator) preview(it *item) *Preview {
	p := &Preview{
		ConversationId: it.conv.Id,
		Peer:           it.peer,
		LastText:       it.lastText,
		LastSenderId:   it.lastSenderId,
		LastMessageAt:  it.lastAt,
		UnreadCount:    it.serverUnread,
	}

	acked := false
	if it.peer != nil {
		_, acked = a.acked[it.peer.Id]
	}
	p.Unread = it.serverUnread > 0 && !acked
	return p
}
