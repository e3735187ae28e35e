package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livechat/internal/constants"
	apperrors "livechat/internal/errors"
	"livechat/internal/models"
)

func newTestRegistry(maxVisitors, maxOperators, maxEventBytes int) *Registry {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewRegistry(maxVisitors, maxOperators, maxEventBytes, logger)
}

func TestRegistryBindVisitor(t *testing.T) {
	r := newTestRegistry(10, 10, 0)

	ch := &fakeChannel{}
	prev, err := r.BindVisitor("conv-1", ch)
	require.NoError(t, err)
	assert.Nil(t, prev)

	visitors, _ := r.Counts()
	assert.Equal(t, 1, visitors)
}

func TestRegistryRebindReturnsPrevious(t *testing.T) {
	r := newTestRegistry(10, 10, 0)

	old := &fakeChannel{}
	_, err := r.BindVisitor("conv-1", old)
	require.NoError(t, err)

	replacement := &fakeChannel{}
	prev, err := r.BindVisitor("conv-1", replacement)
	require.NoError(t, err)
	assert.Same(t, Channel(old), prev)

	// Still one binding, now wrapping the replacement.
	visitors, _ := r.Counts()
	assert.Equal(t, 1, visitors)
}

func TestRegistryVisitorCapacity(t *testing.T) {
	r := newTestRegistry(1, 10, 0)

	_, err := r.BindVisitor("conv-1", &fakeChannel{})
	require.NoError(t, err)

	_, err = r.BindVisitor("conv-2", &fakeChannel{})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeCapacity))

	// Rebinding an existing conversation still works at capacity.
	_, err = r.BindVisitor("conv-1", &fakeChannel{})
	assert.NoError(t, err)
}

func TestRegistryConditionalUnbind(t *testing.T) {
	r := newTestRegistry(10, 10, 0)

	old := &fakeChannel{}
	_, err := r.BindVisitor("conv-1", old)
	require.NoError(t, err)

	replacement := &fakeChannel{}
	_, err = r.BindVisitor("conv-1", replacement)
	require.NoError(t, err)

	// The old channel's deferred cleanup must not evict the replacement.
	r.UnbindVisitor("conv-1", old)
	visitors, _ := r.Counts()
	assert.Equal(t, 1, visitors)

	// Unconditional unbind removes whatever is bound.
	r.UnbindVisitor("conv-1", nil)
	visitors, _ = r.Counts()
	assert.Equal(t, 0, visitors)
}

func TestRegistryOperatorCapacity(t *testing.T) {
	r := newTestRegistry(10, 1, 0)

	require.NoError(t, r.AddOperator(&fakeChannel{}))

	err := r.AddOperator(&fakeChannel{})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeCapacity))
}

func TestRegistrySendToVisitor(t *testing.T) {
	r := newTestRegistry(10, 10, 0)

	ch := &fakeChannel{}
	_, err := r.BindVisitor("conv-1", ch)
	require.NoError(t, err)

	ev := models.MessageEvent("conv-1", models.SenderOperator, "hello", "ws")
	require.NoError(t, r.SendToVisitor(context.Background(), "conv-1", &ev))

	frames := ch.sent()
	require.Len(t, frames, 1)

	var got models.Event
	require.NoError(t, json.Unmarshal(frames[0], &got))
	assert.Equal(t, models.EventMessage, got.Type)
	assert.Equal(t, "hello", got.Content)
}

func TestRegistrySendToUnboundVisitorIsNoop(t *testing.T) {
	r := newTestRegistry(10, 10, 0)

	ev := models.MessageEvent("conv-1", models.SenderOperator, "hello", "ws")
	assert.NoError(t, r.SendToVisitor(context.Background(), "conv-1", &ev))
}

func TestRegistryEvictsDeadVisitorChannel(t *testing.T) {
	r := newTestRegistry(10, 10, 0)

	ch := &fakeChannel{sendErr: errors.New("connection reset")}
	_, err := r.BindVisitor("conv-1", ch)
	require.NoError(t, err)

	ev := models.MessageEvent("conv-1", models.SenderOperator, "hello", "ws")
	require.NoError(t, r.SendToVisitor(context.Background(), "conv-1", &ev))

	visitors, _ := r.Counts()
	assert.Equal(t, 0, visitors)
}

func TestRegistryBroadcastToOperators(t *testing.T) {
	r := newTestRegistry(10, 10, 0)

	healthy := &fakeChannel{}
	dead := &fakeChannel{sendErr: errors.New("broken pipe")}
	require.NoError(t, r.AddOperator(healthy))
	require.NoError(t, r.AddOperator(dead))

	ev := models.MessageEvent("conv-1", models.SenderVisitor, "hi", "ws")
	require.NoError(t, r.BroadcastToOperators(context.Background(), &ev))

	assert.Len(t, healthy.sent(), 1)

	_, operators := r.Counts()
	assert.Equal(t, 1, operators, "dead operator channel should be evicted")
}

func TestRegistryTruncatesOversizeEvents(t *testing.T) {
	maxBytes := 1024
	r := newTestRegistry(10, 10, maxBytes)

	ch := &fakeChannel{}
	_, err := r.BindVisitor("conv-1", ch)
	require.NoError(t, err)

	ev := models.MessageEvent("conv-1", models.SenderOperator, strings.Repeat("x", 5000), "ws")
	require.NoError(t, r.SendToVisitor(context.Background(), "conv-1", &ev))

	frames := ch.sent()
	require.Len(t, frames, 1)
	assert.LessOrEqual(t, len(frames[0]), maxBytes)

	var got models.Event
	require.NoError(t, json.Unmarshal(frames[0], &got))
	assert.True(t, strings.HasSuffix(got.Content, constants.TruncationMarker))
}

func TestRegistryTruncationSurvivesJSONEscaping(t *testing.T) {
	maxBytes := 1024
	r := newTestRegistry(10, 10, maxBytes)

	ch := &fakeChannel{}
	_, err := r.BindVisitor("conv-1", ch)
	require.NoError(t, err)

	// Every kept rune escapes to six bytes on the wire, so a cut sized
	// in runes alone would still blow the frame limit.
	ev := models.MessageEvent("conv-1", models.SenderOperator, strings.Repeat("<", 5000), "ws")
	require.NoError(t, r.SendToVisitor(context.Background(), "conv-1", &ev))

	frames := ch.sent()
	require.Len(t, frames, 1)
	assert.LessOrEqual(t, len(frames[0]), maxBytes)

	var got models.Event
	require.NoError(t, json.Unmarshal(frames[0], &got))
	assert.True(t, strings.HasSuffix(got.Content, constants.TruncationMarker))
}

func TestRegistryShrinksOversizeHistoryEvent(t *testing.T) {
	maxBytes := 1024
	r := newTestRegistry(10, 10, maxBytes)

	ch := &fakeChannel{}
	_, err := r.BindVisitor("conv-1", ch)
	require.NoError(t, err)

	msgs := make([]models.HistoryMessage, 50)
	for i := range msgs {
		msgs[i] = models.HistoryMessage{
			ID:      fmt.Sprintf("m%d", i),
			Sender:  "visitor",
			Content: strings.Repeat("y", 100),
		}
	}
	ev := models.Event{Type: models.EventHistory, ConversationID: "conv-1", Messages: msgs}
	require.NoError(t, r.SendToVisitor(context.Background(), "conv-1", &ev))

	frames := ch.sent()
	require.Len(t, frames, 1)
	assert.LessOrEqual(t, len(frames[0]), maxBytes)

	var got models.Event
	require.NoError(t, json.Unmarshal(frames[0], &got))
	require.NotEmpty(t, got.Messages)
	assert.Less(t, len(got.Messages), len(msgs))
}
