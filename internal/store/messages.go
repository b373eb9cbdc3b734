package store

import (
	"sort"
	"sync"

	"github.com/stayfinder/chatsync/pkg/backend"
	"github.com/stayfinder/chatsync/pkg/errcode"
)

// DeliveryState is the tagged delivery state of a message entry
type DeliveryState int32

const (
	StatePending DeliveryState = iota
	StateConfirmed
	StateFailed
)

// String returns the state name
func (s DeliveryState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Message is one entry of a conversation's message log
type Message struct {
	Id             string
	ConversationId string
	SenderId       string
	RecvId         string
	Text           string
	SentAt         int64
	State          DeliveryState
}

func fromInfo(info *backend.MessageInfo, state DeliveryState) *Message {
	return &Message{
		Id:             info.Id,
		ConversationId: info.ConversationId,
		SenderId:       info.SenderId,
		RecvId:         info.RecvId,
		Text:           info.Text,
		SentAt:         info.SentAt,
		State:          state,
	}
}

// convLog is a single conversation's ordered message log. Within a log,
// ids are unique: a provisional id is replaced in place by its confirmed
// id, never duplicated.
type convLog struct {
	entries []*Message
	seen    map[string]struct{}
}

func newConvLog() *convLog {
	return &convLog{seen: make(map[string]struct{})}
}

// provisionalRef locates a pending entry across conversations
type provisionalRef struct {
	conversationId string
	index          int
}

// Store owns the per-conversation message logs. It absorbs duplicate and
// replayed delivery: appending the same confirmed id twice is a no-op.
type Store struct {
	mu          sync.RWMutex
	logs        map[string]*convLog
	provisional map[string]provisionalRef
}

// New creates an empty store
func New() *Store {
	return &Store{
		logs:        make(map[string]*convLog),
		provisional: make(map[string]provisionalRef),
	}
}

func (s *Store) logFor(conversationId string) *convLog {
	l, ok := s.logs[conversationId]
	if !ok {
		l = newConvLog()
		s.logs[conversationId] = l
	}
	return l
}

// Hydrate merges a fetched history batch into the conversation's log.
// The merged result is sorted by timestamp once; subsequent appends are
// positional and never re-sorted, so entries do not jump around.
func (s *Store) Hydrate(conversationId string, batch []*backend.MessageInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.logFor(conversationId)
	for _, info := range batch {
		if info.Id == "" {
			continue
		}
		if _, dup := l.seen[info.Id]; dup {
			continue
		}
		l.seen[info.Id] = struct{}{}
		l.entries = append(l.entries, fromInfo(info, StateConfirmed))
	}

	sort.SliceStable(l.entries, func(i, j int) bool {
		return l.entries[i].SentAt < l.entries[j].SentAt
	})
	s.reindexProvisional(conversationId, l)
}

// AppendConfirmed inserts a confirmed message unless its id has already
// been seen in that conversation. Safe to call any number of times with
// the same message.
func (s *Store) AppendConfirmed(conversationId string, info *backend.MessageInfo) bool {
	if info == nil || info.Id == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.logFor(conversationId)
	if _, dup := l.seen[info.Id]; dup {
		return false
	}
	l.seen[info.Id] = struct{}{}
	l.entries = append(l.entries, fromInfo(info, StateConfirmed))
	return true
}

// AppendProvisional inserts a pending entry under a client-assigned id
func (s *Store) AppendProvisional(conversationId, provisionalId string, info *backend.MessageInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.logFor(conversationId)
	m := fromInfo(info, StatePending)
	m.Id = provisionalId
	l.entries = append(l.entries, m)
	s.provisional[provisionalId] = provisionalRef{
		conversationId: conversationId,
		index:          len(l.entries) - 1,
	}
}

// ResolveProvisional replaces a pending entry in place with the confirmed
// message, or, when confirmed is nil, marks it failed so the user can see
// it and retry manually. The entry keeps its list position either way.
func (s *Store) ResolveProvisional(provisionalId string, confirmed *backend.MessageInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, ok := s.provisional[provisionalId]
	if !ok {
		return errcode.ErrUnknownProvisional
	}
	delete(s.provisional, provisionalId)

	l := s.logs[ref.conversationId]
	entry := l.entries[ref.index]

	if confirmed == nil {
		entry.State = StateFailed
		return nil
	}

	if _, dup := l.seen[confirmed.Id]; dup {
		// The confirmed copy already arrived over the push channel;
		// drop the provisional entry instead of duplicating the id.
		l.entries = append(l.entries[:ref.index], l.entries[ref.index+1:]...)
		s.reindexProvisional(ref.conversationId, l)
		return nil
	}

	replaced := fromInfo(confirmed, StateConfirmed)
	if replaced.ConversationId == "" {
		replaced.ConversationId = ref.conversationId
	}
	l.entries[ref.index] = replaced
	l.seen[confirmed.Id] = struct{}{}
	return nil
}

// reindexProvisional recomputes pending entry positions after the log
// order changed.
func (s *Store) reindexProvisional(conversationId string, l *convLog) {
	for i, m := range l.entries {
		if m.State == StatePending {
			s.provisional[m.Id] = provisionalRef{conversationId: conversationId, index: i}
		}
	}
}

// Messages returns a snapshot copy of a conversation's log
func (s *Store) Messages(conversationId string) []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.logs[conversationId]
	if !ok {
		return nil
	}
	out := make([]*Message, len(l.entries))
	for i, m := range l.entries {
		cp := *m
		out[i] = &cp
	}
	return out
}

// LastMessage returns the newest entry of a conversation, or nil
func (s *Store) LastMessage(conversationId string) *Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.logs[conversationId]
	if !ok || len(l.entries) == 0 {
		return nil
	}
	cp := *l.entries[len(l.entries)-1]
	return &cp
}
