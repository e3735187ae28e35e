package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"join","display_name":"Alice"}`))
	require.NoError(t, err)
	assert.Equal(t, EventJoin, ev.Type)
	assert.Equal(t, "Alice", ev.DisplayName)

	_, err = DecodeEvent([]byte(`{"type":`))
	assert.Error(t, err)
}

func TestDecodeEventIgnoresUnknownFields(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"message","conversation_id":"conv-1","content":"hi","extra":"field"}`))
	require.NoError(t, err)
	assert.Equal(t, EventMessage, ev.Type)
	assert.Equal(t, "hi", ev.Content)
}

func TestEventEncodeOmitsEmptyFields(t *testing.T) {
	data, err := ErrorEvent("RATE_LIMITED").Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","error":"RATE_LIMITED"}`, string(data))
}

func TestMessageEventRoundTrip(t *testing.T) {
	data, err := MessageEvent("conv-1", SenderVisitor, "hello", "").Encode()
	require.NoError(t, err)

	ev, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, EventMessage, ev.Type)
	assert.Equal(t, "conv-1", ev.ConversationID)
	assert.Equal(t, string(SenderVisitor), ev.Sender)
	assert.Equal(t, "hello", ev.Content)
	assert.Empty(t, ev.Via)
}

func TestTypingEventHasNoContent(t *testing.T) {
	data, err := TypingEvent("conv-1", SenderOperator).Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"typing","conversation_id":"conv-1","sender":"operator"}`, string(data))
}
