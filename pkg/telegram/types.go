// Package telegram is a minimal Telegram Bot API client covering the
// surface the relay bridge needs: sending messages with reply
// threading and decoding webhook updates.
package telegram

// SecretTokenHeader carries the webhook secret Telegram echoes back on
// every delivery when the webhook was registered with one.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// MaxMessageLength is the Bot API limit for the text field of
// sendMessage.
const MaxMessageLength = 4096

type Update struct {
	UpdateID int64            `json:"update_id"`
	Message  *IncomingMessage `json:"message,omitempty"`
}

type IncomingMessage struct {
	MessageID      int64            `json:"message_id"`
	From           *User            `json:"from,omitempty"`
	Chat           Chat             `json:"chat"`
	Date           int64            `json:"date"`
	Text           string           `json:"text,omitempty"`
	ReplyToMessage *IncomingMessage `json:"reply_to_message,omitempty"`
}

type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username,omitempty"`
}

type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type SendMessageRequest struct {
	ChatID                   int64  `json:"chat_id"`
	Text                     string `json:"text"`
	ReplyToMessageID         int64  `json:"reply_to_message_id,omitempty"`
	AllowSendingWithoutReply bool   `json:"allow_sending_without_reply,omitempty"`
}

type apiResponse struct {
	OK          bool         `json:"ok"`
	Result      *sentMessage `json:"result,omitempty"`
	Description string       `json:"description,omitempty"`
	ErrorCode   int          `json:"error_code,omitempty"`
}

type sentMessage struct {
	MessageID int64 `json:"message_id"`
}
