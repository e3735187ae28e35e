package service

import "context"

// Close codes sent to live channels, matching websocket close
// semantics.
const (
	CloseNormal   = 1000
	ClosePolicy   = 1008
	CloseInternal = 1011
)

const (
	CloseReasonReplaced = "New connection"
	CloseReasonCapacity = "Server at capacity"
)

// Channel is one live bidirectional connection as the relay sees it.
// Implementations must tolerate Send and Close racing; after Close,
// Send returns an error.
type Channel interface {
	Send(ctx context.Context, data []byte) error
	Close(code int, reason string) error
}
