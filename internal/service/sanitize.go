package service

import (
	"html"
	"strings"
	"unicode/utf8"
)

// SanitizeContent normalizes untrusted message text: HTML-escapes
// special characters and caps length in runes. Escaping the unescaped
// input makes the function idempotent, so content that round-trips
// through storage and back is not double-escaped.
func SanitizeContent(content string, maxLen int) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return ""
	}

	content = html.EscapeString(html.UnescapeString(content))

	if maxLen > 0 && utf8.RuneCountInString(content) > maxLen {
		runes := []rune(content)
		content = string(runes[:maxLen])
		content = trimPartialEntity(content)
	}

	return content
}

// trimPartialEntity drops a trailing escape sequence cut mid-entity by
// the length cap, so the result never ends in a dangling "&am".
func trimPartialEntity(s string) string {
	idx := strings.LastIndexByte(s, '&')
	if idx < 0 {
		return s
	}
	tail := s[idx:]
	if strings.ContainsRune(tail, ';') {
		return s
	}
	return s[:idx]
}
