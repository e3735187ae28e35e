package service

import (
	"context"
	"fmt"
)

// ContextKey is a package-local type to prevent context key collisions
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// MaskContent hides message text in logs unless verbose logging was
// requested. Non-verbose logs only reveal the length.
func MaskContent(ctx context.Context, content string) string {
	if IsVerboseLogging(ctx) {
		return content
	}
	return fmt.Sprintf("[%d chars]", len(content))
}
