package transport

import (
	"encoding/json"
	"strings"

	"github.com/stayfinder/chatsync/pkg/backend"
)

// Normalizer maps raw (eventName, payload) pairs onto canonical events.
// It is a pure mapping step: no side effects, no state beyond the local
// participant id used to derive the counterpart identity.
type Normalizer struct {
	LocalUserId string
}

// frame is the wire envelope. Some backends name the event "event", some
// "type" or "name", and nest the body under "payload" or "data".
type frame struct {
	Event   string          `json:"event"`
	Type    string          `json:"type"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
	Data    json.RawMessage `json:"data"`
}

// DecodeFrame splits a raw wire frame into its event name and payload.
// A frame with no recognizable name yields name "" and the whole body as
// payload, so the catch-all message check still runs on it.
func DecodeFrame(raw []byte) (string, []byte) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return "", nil
	}

	name := f.Event
	if name == "" {
		name = f.Type
	}
	if name == "" {
		name = f.Name
	}

	payload := []byte(f.Payload)
	if len(payload) == 0 {
		payload = []byte(f.Data)
	}
	if len(payload) == 0 {
		payload = raw
	}
	return name, payload
}

// wireParticipant is a sender/recipient object that may embed a reference
// to the conversation it belongs to.
type wireParticipant struct {
	Id             string `json:"id"`
	UserId         string `json:"user_id"`
	UserIdCamel    string `json:"userId"`
	ConversationId string `json:"conversation_id"`
	ConvIdCamel    string `json:"conversationId"`
	ChatId         string `json:"chat_id"`
	ChatIdCamel    string `json:"chatId"`
}

func (p *wireParticipant) userId() string {
	return coalesce(p.Id, p.UserId, p.UserIdCamel)
}

func (p *wireParticipant) conversationId() string {
	return coalesce(p.ConversationId, p.ConvIdCamel, p.ChatId, p.ChatIdCamel)
}

// wireMessage tolerates the observed message field aliases
type wireMessage struct {
	Id             string `json:"id"`
	MessageId      string `json:"message_id"`
	MessageIdCamel string `json:"messageId"`
	ConversationId string `json:"conversation_id"`
	ConvIdCamel    string `json:"conversationId"`
	ChatId         string `json:"chat_id"`
	ChatIdCamel    string `json:"chatId"`
	SenderId       string `json:"sender_id"`
	SenderIdCamel  string `json:"senderId"`
	From           string `json:"from"`
	RecvId         string `json:"recv_id"`
	RecipientId    string `json:"recipient_id"`
	RecvIdCamel    string `json:"recipientId"`
	To             string `json:"to"`
	Text           string `json:"text"`
	Content        string `json:"content"`
	Body           string `json:"body"`
	SentAt         int64  `json:"sent_at"`
	CreatedAt      int64  `json:"created_at"`
	CreatedAtCamel int64  `json:"createdAt"`
	Timestamp      int64  `json:"timestamp"`
}

func (m *wireMessage) id() string       { return coalesce(m.Id, m.MessageId, m.MessageIdCamel) }
func (m *wireMessage) sender() string   { return coalesce(m.SenderId, m.SenderIdCamel, m.From) }
func (m *wireMessage) receiver() string { return coalesce(m.RecvId, m.RecipientId, m.RecvIdCamel, m.To) }
func (m *wireMessage) text() string     { return coalesce(m.Text, m.Content, m.Body) }

func (m *wireMessage) conversationId() string {
	return coalesce(m.ConversationId, m.ConvIdCamel, m.ChatId, m.ChatIdCamel)
}

func (m *wireMessage) sentAt() int64 {
	return coalesceInt64(m.SentAt, m.CreatedAt, m.CreatedAtCamel, m.Timestamp)
}

// looksLikeMessage reports whether a payload under an unrecognized event
// name is structurally a message and should be treated as one.
func (m *wireMessage) looksLikeMessage() bool {
	return m.text() != "" && m.sender() != ""
}

// wirePayload is the union of every payload shape the transport has been
// observed to deliver.
type wirePayload struct {
	wireMessage

	RoomId      string           `json:"room_id"`
	RoomIdCamel string           `json:"roomId"`
	Room        string           `json:"room"`
	Sender      *wireParticipant `json:"sender"`
	Recipient   *wireParticipant `json:"recipient"`
	UserId      string           `json:"user_id"`
	UserIdCamel string           `json:"userId"`

	Message *wireMessage `json:"message"`

	Typing        *bool `json:"typing"`
	IsTyping      *bool `json:"is_typing"`
	IsTypingCamel *bool `json:"isTyping"`

	Available      *bool  `json:"available"`
	AvailableNow   *bool  `json:"available_now"`
	AvailableCamel *bool  `json:"availableNow"`
	Status         string `json:"status"`

	At int64 `json:"at"`
}

// Wire name aliases per canonical event. The same semantic event arrives
// under several names depending on which backend path emitted it.
var eventAliases = map[string]Kind{
	"new-message":      KindNewMessage,
	"message":          KindNewMessage,
	"chat-message":     KindNewMessage,
	"message:created":  KindNewMessage,
	"receive-message":  KindNewMessage,

	"typing":         KindTypingChanged,
	"typing-changed": KindTypingChanged,
	"user-typing":    KindTypingChanged,
	"typing:changed": KindTypingChanged,

	"availability":         KindAvailabilityChanged,
	"availability-changed": KindAvailabilityChanged,
	"available-now":        KindAvailabilityChanged,
	"presence:changed":     KindAvailabilityChanged,

	"connected":              KindConnectionEstablished,
	"connect":                KindConnectionEstablished,
	"session:established":    KindConnectionEstablished,
	"connection-established": KindConnectionEstablished,
}

// Normalize maps a raw inbound event onto a canonical event. A nil result
// means the event is unrelated housekeeping and must be silently dropped;
// that is not an error.
func (n *Normalizer) Normalize(name string, payload []byte) *Event {
	kind := eventAliases[strings.ToLower(name)]

	var p wirePayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil
		}
	}

	switch kind {
	case KindNewMessage:
		return n.normalizeMessage(&p)
	case KindTypingChanged:
		return n.normalizeTyping(&p)
	case KindAvailabilityChanged:
		return n.normalizeAvailability(&p)
	case KindConnectionEstablished:
		return &Event{Kind: KindConnectionEstablished, At: p.At}
	}

	// Catch-all: an unknown name whose payload structurally looks like a
	// message is still a message.
	if p.Message != nil && p.Message.looksLikeMessage() {
		return n.normalizeMessage(&p)
	}
	if p.wireMessage.looksLikeMessage() {
		return n.normalizeMessage(&p)
	}
	return nil
}

func (n *Normalizer) normalizeMessage(p *wirePayload) *Event {
	wm := p.Message
	if wm == nil {
		wm = &p.wireMessage
	}
	if wm.text() == "" {
		return nil
	}

	convId := n.resolveConversationId(p, wm)
	peerId := n.counterpart(wm.sender(), wm.receiver())
	if convId == "" && peerId == "" {
		// Neither a conversation nor an identity to route by.
		return nil
	}

	msg := &backend.MessageInfo{
		Id:             wm.id(),
		ConversationId: convId,
		SenderId:       wm.sender(),
		RecvId:         wm.receiver(),
		Text:           wm.text(),
		SentAt:         wm.sentAt(),
	}

	return &Event{
		Kind:           KindNewMessage,
		ConversationId: convId,
		PeerId:         peerId,
		Message:        msg,
		At:             wm.sentAt(),
	}
}

func (n *Normalizer) normalizeTyping(p *wirePayload) *Event {
	convId := n.resolveConversationId(p, &p.wireMessage)
	peerId := coalesce(p.wireMessage.sender(), p.UserId, p.UserIdCamel)
	if peerId == "" && p.Sender != nil {
		peerId = p.Sender.userId()
	}
	if convId == "" && peerId == "" {
		return nil
	}
	if peerId == n.LocalUserId {
		// Our own typing signal echoed back.
		return nil
	}

	// A bare "typing" event with no flag means typing started.
	typing := true
	if v := coalesceBool(p.Typing, p.IsTyping, p.IsTypingCamel); v != nil {
		typing = *v
	}

	return &Event{
		Kind:           KindTypingChanged,
		ConversationId: convId,
		PeerId:         peerId,
		Typing:         typing,
		At:             p.At,
	}
}

func (n *Normalizer) normalizeAvailability(p *wirePayload) *Event {
	peerId := coalesce(p.UserId, p.UserIdCamel, p.wireMessage.sender())
	if peerId == "" && p.Sender != nil {
		peerId = p.Sender.userId()
	}
	if peerId == "" {
		return nil
	}

	available := false
	if v := coalesceBool(p.Available, p.AvailableNow, p.AvailableCamel); v != nil {
		available = *v
	} else {
		switch strings.ToLower(p.Status) {
		case "available", "online":
			available = true
		case "unavailable", "offline", "away":
			available = false
		default:
			return nil
		}
	}

	return &Event{
		Kind:      KindAvailabilityChanged,
		PeerId:    peerId,
		Available: available,
		At:        p.At,
	}
}

// resolveConversationId tries the aliased payload locations in order:
// direct field, the message object, the sender/recipient embedded
// conversation reference, then the room-style identifier.
func (n *Normalizer) resolveConversationId(p *wirePayload, wm *wireMessage) string {
	if id := p.wireMessage.conversationId(); id != "" {
		return id
	}
	if id := wm.conversationId(); id != "" {
		return id
	}
	if p.Sender != nil {
		if id := p.Sender.conversationId(); id != "" {
			return id
		}
	}
	if p.Recipient != nil {
		if id := p.Recipient.conversationId(); id != "" {
			return id
		}
	}
	return coalesce(p.RoomId, p.RoomIdCamel, p.Room)
}

// counterpart derives the peer identity by comparing sender/recipient
// against the local participant id.
func (n *Normalizer) counterpart(senderId, recvId string) string {
	if senderId != "" && senderId != n.LocalUserId {
		return senderId
	}
	if recvId != "" && recvId != n.LocalUserId {
		return recvId
	}
	return ""
}

func coalesce(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func coalesceInt64(vals ...int64) int64 {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

func coalesceBool(vals ...*bool) *bool {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}
