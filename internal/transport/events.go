package transport

import "github.com/stayfinder/chatsync/pkg/backend"

// Kind identifies a canonical semantic event produced by the normalizer
type Kind int32

const (
	KindUnknown Kind = iota
	KindNewMessage
	KindTypingChanged
	KindAvailabilityChanged
	KindConnectionEstablished
)

// String returns the canonical event name
func (k Kind) String() string {
	switch k {
	case KindNewMessage:
		return "new-message"
	case KindTypingChanged:
		return "typing-changed"
	case KindAvailabilityChanged:
		return "availability-changed"
	case KindConnectionEstablished:
		return "connection-established"
	default:
		return "unknown"
	}
}

// Event is a canonical event. The wire delivers events at-least-once,
// out-of-order and under several aliased names; everything downstream of
// the normalizer sees only this shape.
type Event struct {
	Kind           Kind
	ConversationId string
	PeerId         string
	Message        *backend.MessageInfo
	Typing         bool
	Available      bool
	At             int64 // unix millis when carried on the wire, else 0
}

// Command is an outbound frame. Every command carries an operation id for
// server-side tracing, the same way requests do on the REST side.
type Command struct {
	Event       string      `json:"event"`
	OperationId string      `json:"operation_id"`
	Payload     interface{} `json:"payload,omitempty"`
}

// TypingPayload is the outbound typing signal
type TypingPayload struct {
	ConversationId string `json:"conversation_id"`
	Typing         bool   `json:"typing"`
}

// AvailabilityPayload is the outbound availability toggle
type AvailabilityPayload struct {
	Available bool `json:"available"`
}
