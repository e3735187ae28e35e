package models

import "time"

type ConversationStatus string

const (
	ConversationOpen    ConversationStatus = "open"
	ConversationClosed  ConversationStatus = "closed"
	ConversationDeleted ConversationStatus = "deleted"
)

type SenderKind string

const (
	SenderVisitor  SenderKind = "visitor"
	SenderOperator SenderKind = "operator"
	SenderBridge   SenderKind = "bridge"
	SenderSystem   SenderKind = "system"
)

type ContentKind string

const (
	ContentText  ContentKind = "text"
	ContentImage ContentKind = "image"
	ContentAudio ContentKind = "audio"
)

// Visitor is an anonymous site visitor. A visitor may start many
// conversations over time; the relay binds one live channel per
// conversation, not per visitor.
type Visitor struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	ClientIP    string    `json:"clientIp,omitempty"`
	UserAgent   string    `json:"userAgent,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Conversation struct {
	ID             string             `json:"id"`
	VisitorID      string             `json:"visitorId"`
	Status         ConversationStatus `json:"status"`
	CreatedAt      time.Time          `json:"createdAt"`
	LastActivityAt time.Time          `json:"lastActivityAt"`
}

// Message is immutable once created except for the read/edited markers.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	Sender         SenderKind  `json:"sender"`
	Kind           ContentKind `json:"kind"`
	Content        string      `json:"content"`
	FilePath       *string     `json:"filePath,omitempty"`
	FileSize       *int64      `json:"fileSize,omitempty"`
	FileMime       *string     `json:"fileMime,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	ReadAt         *time.Time  `json:"readAt,omitempty"`
	EditedAt       *time.Time  `json:"editedAt,omitempty"`
}

// ThreadLink maps an outbound bridge notification to its conversation.
// The newest link per conversation is the reply target for the next
// outbound message; any link resolves an inbound reply back to its
// conversation. (chat id, message id) is unique across all links.
type ThreadLink struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversationId"`
	ChatID         int64     `json:"chatId"`
	MessageID      int64     `json:"messageId"`
	CreatedAt      time.Time `json:"createdAt"`
}

// OneTimeCode stores only the salted hash of an issued operator login
// code. Consumed atomically on first valid verification.
type OneTimeCode struct {
	ID        string    `json:"id"`
	CodeHash  string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
	Used      bool      `json:"used"`
	CreatedAt time.Time `json:"createdAt"`
}

// Session is an operator bearer session. ClientIP and UserAgent are
// soft-bound: empty until first authenticated use, then back-filled.
type Session struct {
	ID        string    `json:"id"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
	Active    bool      `json:"active"`
	ClientIP  string    `json:"clientIp,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ActivityEntry records an operator action for auditing.
type ActivityEntry struct {
	ID             int64     `json:"id"`
	SessionID      string    `json:"sessionId"`
	Action         string    `json:"action"`
	ConversationID *string   `json:"conversationId,omitempty"`
	Details        string    `json:"details,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ConversationSummary is the operator-facing list row.
type ConversationSummary struct {
	ConversationID string             `json:"conversation_id"`
	VisitorName    string             `json:"visitor_name"`
	Status         ConversationStatus `json:"status"`
	LastActivityAt time.Time          `json:"last_activity_at"`
	MessageCount   int                `json:"message_count"`
}

// Statistics is the operator dashboard aggregate.
type Statistics struct {
	TotalConversations int `json:"total_conversations"`
	OpenConversations  int `json:"open_conversations"`
	TotalMessages      int `json:"total_messages"`
	TotalVisitors      int `json:"total_visitors"`
	LiveVisitors       int `json:"live_visitors"`
	LiveOperators      int `json:"live_operators"`
}
