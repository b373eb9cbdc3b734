package backend

// Response represents the standard API response envelope
type Response struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data,omitempty"`
}

// PeerSummary represents the denormalized counterpart of a conversation
type PeerSummary struct {
	Id        string `json:"id"`
	Nickname  string `json:"nickname"`
	Avatar    string `json:"avatar"`
	Available bool   `json:"available"`
}

// ConversationInfo represents conversation info
type ConversationInfo struct {
	Id            string `json:"id"`
	PeerUserId    string `json:"peer_user_id"`
	LastText      string `json:"last_text,omitempty"`
	LastSenderId  string `json:"last_sender_id,omitempty"`
	LastMessageAt int64  `json:"last_message_at,omitempty"`
	UnreadCount   int64  `json:"unread_count"`
	UpdatedAt     int64  `json:"updated_at"`
}

// MessageInfo represents a server-confirmed message
type MessageInfo struct {
	Id             string `json:"id"`
	ConversationId string `json:"conversation_id"`
	SenderId       string `json:"sender_id"`
	RecvId         string `json:"recv_id"`
	Text           string `json:"text"`
	SentAt         int64  `json:"sent_at"`
}

// ConversationBundle is the get-or-create response: the conversation,
// its message history and the peer summary
type ConversationBundle struct {
	Conversation *ConversationInfo `json:"conversation"`
	Messages     []*MessageInfo    `json:"messages"`
	Peer         *PeerSummary      `json:"peer"`
}

// ConversationPreview is one row of the conversation list
type ConversationPreview struct {
	Conversation *ConversationInfo `json:"conversation"`
	Peer         *PeerSummary      `json:"peer"`
	LastMessage  *MessageInfo      `json:"last_message,omitempty"`
	UnreadCount  int64             `json:"unread_count"`
}

// ===== Request types =====

// ConversationWithRequest represents the idempotent get-or-create request
type ConversationWithRequest struct {
	PeerUserId string `json:"peer_user_id"`
}

// SendMessageRequest represents send message request
type SendMessageRequest struct {
	ConversationId string `json:"conversation_id"`
	Text           string `json:"text"`
}

// MarkReadRequest represents mark read request
type MarkReadRequest struct {
	ConversationId string `json:"conversation_id"`
}

// AvailablePeersResponse represents the available-now snapshot
type AvailablePeersResponse struct {
	UserIds []string `json:"user_ids"`
}

// ConversationListResponse represents the conversation list response
type ConversationListResponse struct {
	Conversations []*ConversationPreview `json:"conversations"`
}
