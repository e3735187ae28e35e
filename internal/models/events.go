package models

import "encoding/json"

// EventType is the closed set of relay event kinds exchanged over a live
// channel. Wire text is decoded into an Event at the transport boundary
// and encoded back only when sending.
type EventType string

const (
	// Inbound from a visitor channel.
	EventJoin   EventType = "join"
	EventResume EventType = "resume"

	// Inbound from either side.
	EventMessage EventType = "message"
	EventTyping  EventType = "typing"

	// Inbound from an operator channel.
	EventDelete EventType = "delete_conversation"

	// Outbound only.
	EventJoined              EventType = "joined"
	EventHistory             EventType = "history"
	EventConversations       EventType = "conversations"
	EventConversationOpened  EventType = "conversation_opened"
	EventConversationDeleted EventType = "conversation_deleted"
	EventError               EventType = "error"
)

// HistoryMessage is the replayed-message shape inside a history event.
type HistoryMessage struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// Event is a relay event. Exactly which fields are populated depends on
// Type; unknown inbound types are rejected by the transport handlers.
type Event struct {
	Type           EventType             `json:"type"`
	ConversationID string                `json:"conversation_id,omitempty"`
	DisplayName    string                `json:"display_name,omitempty"`
	VisitorName    string                `json:"visitor_name,omitempty"`
	Sender         string                `json:"sender,omitempty"`
	Content        string                `json:"content,omitempty"`
	Via            string                `json:"via,omitempty"`
	Error          string                `json:"error,omitempty"`
	Messages       []HistoryMessage      `json:"messages,omitempty"`
	Items          []ConversationSummary `json:"items,omitempty"`
}

// DecodeEvent parses wire text into an Event.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	err := json.Unmarshal(data, &ev)
	return ev, err
}

// Encode serializes the event to wire text.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func ErrorEvent(code string) Event {
	return Event{Type: EventError, Error: code}
}

func MessageEvent(conversationID string, sender SenderKind, content, via string) Event {
	return Event{
		Type:           EventMessage,
		ConversationID: conversationID,
		Sender:         string(sender),
		Content:        content,
		Via:            via,
	}
}

func TypingEvent(conversationID string, sender SenderKind) Event {
	return Event{
		Type:           EventTyping,
		ConversationID: conversationID,
		Sender:         string(sender),
	}
}
