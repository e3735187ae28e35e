package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "livechat/internal/errors"
	"livechat/internal/models"
)

func newTestRelay(store *mockRelayStore, notifier *mockNotifier) (*Relay, *Registry) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	registry := NewRegistry(10, 10, 0, logger)
	relay := NewRelay(store, registry, notifier, 2000, 50, logger)
	return relay, registry
}

func decodeFrame(t *testing.T, data []byte) models.Event {
	t.Helper()
	var ev models.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func waitForCall(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bridge notification")
	}
}

func TestRelayJoin(t *testing.T) {
	store := &mockRelayStore{}
	notifier := &mockNotifier{}
	relay, registry := newTestRelay(store, notifier)

	store.On("CreateConversation", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	notified := make(chan struct{})
	notifier.On("NotifyNewConversation", mock.Anything, mock.Anything, "Alice").
		Return(nil).
		Run(func(mock.Arguments) { close(notified) })

	operator := &fakeChannel{}
	require.NoError(t, registry.AddOperator(operator))

	ch := &fakeChannel{}
	result, err := relay.Join(context.Background(), "Alice", "203.0.113.9", "agent", ch)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "Alice", result.VisitorName)
	_, err = uuid.Parse(result.ConversationID)
	assert.NoError(t, err)

	frames := operator.sent()
	require.Len(t, frames, 1)
	ev := decodeFrame(t, frames[0])
	assert.Equal(t, models.EventConversationOpened, ev.Type)
	assert.Equal(t, result.ConversationID, ev.ConversationID)
	assert.Equal(t, "Alice", ev.VisitorName)

	waitForCall(t, notified)
	store.AssertExpectations(t)
}

func TestRelayJoinDefaultsVisitorName(t *testing.T) {
	store := &mockRelayStore{}
	notifier := &mockNotifier{}
	relay, _ := newTestRelay(store, notifier)

	store.On("CreateConversation", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	notifier.On("NotifyNewConversation", mock.Anything, mock.Anything, "Guest").Return(nil).Maybe()

	result, err := relay.Join(context.Background(), "   ", "", "", &fakeChannel{})
	require.NoError(t, err)
	assert.Equal(t, "Guest", result.VisitorName)
}

func TestRelayResumeReplaysHistoryInOrder(t *testing.T) {
	store := &mockRelayStore{}
	relay, _ := newTestRelay(store, &mockNotifier{})

	convID := uuid.New().String()
	now := time.Now().UTC()
	store.On("GetConversation", mock.Anything, convID).Return(&models.Conversation{
		ID:     convID,
		Status: models.ConversationOpen,
	}, nil)
	// Newest first, the way storage returns them.
	store.On("RecentMessages", mock.Anything, convID, 50).Return([]models.Message{
		{ID: "m2", Sender: models.SenderOperator, Content: "second", CreatedAt: now},
		{ID: "m1", Sender: models.SenderVisitor, Content: "first", CreatedAt: now.Add(-time.Minute)},
	}, nil)

	result, err := relay.Resume(context.Background(), convID, &fakeChannel{})
	require.NoError(t, err)
	require.Len(t, result.History, 2)
	assert.Equal(t, "first", result.History[0].Content)
	assert.Equal(t, "second", result.History[1].Content)
}

func TestRelayResumeUnknownConversation(t *testing.T) {
	store := &mockRelayStore{}
	relay, _ := newTestRelay(store, &mockNotifier{})

	convID := uuid.New().String()
	store.On("GetConversation", mock.Anything, convID).Return(nil, nil)

	_, err := relay.Resume(context.Background(), convID, &fakeChannel{})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
}

func TestRelayResumeDeletedConversation(t *testing.T) {
	store := &mockRelayStore{}
	relay, _ := newTestRelay(store, &mockNotifier{})

	convID := uuid.New().String()
	store.On("GetConversation", mock.Anything, convID).Return(&models.Conversation{
		ID:     convID,
		Status: models.ConversationDeleted,
	}, nil)

	_, err := relay.Resume(context.Background(), convID, &fakeChannel{})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
}

func TestRelayResumeClosesReplacedChannel(t *testing.T) {
	store := &mockRelayStore{}
	relay, registry := newTestRelay(store, &mockNotifier{})

	convID := uuid.New().String()
	store.On("GetConversation", mock.Anything, convID).Return(&models.Conversation{
		ID:     convID,
		Status: models.ConversationOpen,
	}, nil)
	store.On("RecentMessages", mock.Anything, convID, 50).Return([]models.Message{}, nil)

	old := &fakeChannel{}
	_, err := registry.BindVisitor(convID, old)
	require.NoError(t, err)

	_, err = relay.Resume(context.Background(), convID, &fakeChannel{})
	require.NoError(t, err)

	closed, code, reason := old.closedWith()
	assert.True(t, closed)
	assert.Equal(t, CloseNormal, code)
	assert.Equal(t, CloseReasonReplaced, reason)
}

func TestRelayRouteVisitorMessage(t *testing.T) {
	store := &mockRelayStore{}
	notifier := &mockNotifier{}
	relay, registry := newTestRelay(store, notifier)

	convID := uuid.New().String()
	store.On("SaveMessageIfOpen", mock.Anything, mock.MatchedBy(func(m *models.Message) bool {
		return m.ConversationID == convID && m.Sender == models.SenderVisitor
	})).Return("Alice", nil)

	notified := make(chan struct{})
	notifier.On("NotifyVisitorMessage", mock.Anything, convID, "Alice", "hello").
		Return(nil).
		Run(func(mock.Arguments) { close(notified) })

	operator := &fakeChannel{}
	require.NoError(t, registry.AddOperator(operator))
	visitor := &fakeChannel{}
	_, err := registry.BindVisitor(convID, visitor)
	require.NoError(t, err)

	require.NoError(t, relay.RouteMessage(context.Background(), convID, models.SenderVisitor, "hello", "ws"))

	// Operators see it; the visitor gets no echo of their own message.
	require.Len(t, operator.sent(), 1)
	assert.Empty(t, visitor.sent())

	ev := decodeFrame(t, operator.sent()[0])
	assert.Equal(t, models.EventMessage, ev.Type)
	assert.Equal(t, "hello", ev.Content)

	waitForCall(t, notified)
}

func TestRelayRouteOperatorMessage(t *testing.T) {
	store := &mockRelayStore{}
	notifier := &mockNotifier{}
	relay, registry := newTestRelay(store, notifier)

	convID := uuid.New().String()
	store.On("SaveMessageIfOpen", mock.Anything, mock.Anything).Return("Alice", nil)

	// Two operator channels: the reply must reach both so every
	// connected dashboard stays in sync, regardless of which one sent.
	first := &fakeChannel{}
	require.NoError(t, registry.AddOperator(first))
	second := &fakeChannel{}
	require.NoError(t, registry.AddOperator(second))
	visitor := &fakeChannel{}
	_, err := registry.BindVisitor(convID, visitor)
	require.NoError(t, err)

	require.NoError(t, relay.RouteMessage(context.Background(), convID, models.SenderOperator, "hi there", "api"))

	require.Len(t, visitor.sent(), 1)
	require.Len(t, first.sent(), 1)
	require.Len(t, second.sent(), 1)
	ev := decodeFrame(t, second.sent()[0])
	assert.Equal(t, models.EventMessage, ev.Type)
	assert.Equal(t, string(models.SenderOperator), ev.Sender)
	assert.Equal(t, "hi there", ev.Content)
	notifier.AssertNotCalled(t, "NotifyVisitorMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRelayRouteBridgeMessageReachesOperators(t *testing.T) {
	store := &mockRelayStore{}
	relay, registry := newTestRelay(store, &mockNotifier{})

	convID := uuid.New().String()
	store.On("SaveMessageIfOpen", mock.Anything, mock.Anything).Return("Alice", nil)

	operator := &fakeChannel{}
	require.NoError(t, registry.AddOperator(operator))
	visitor := &fakeChannel{}
	_, err := registry.BindVisitor(convID, visitor)
	require.NoError(t, err)

	require.NoError(t, relay.RouteMessage(context.Background(), convID, models.SenderBridge, "operator reply", "telegram"))

	require.Len(t, visitor.sent(), 1)
	require.Len(t, operator.sent(), 1)
	assert.Equal(t, string(models.SenderBridge), decodeFrame(t, operator.sent()[0]).Sender)
}

func TestRelayRouteMessageEmptyAfterSanitizeDropped(t *testing.T) {
	store := &mockRelayStore{}
	relay, _ := newTestRelay(store, &mockNotifier{})

	convID := uuid.New().String()
	require.NoError(t, relay.RouteMessage(context.Background(), convID, models.SenderVisitor, "   \n ", "ws"))

	store.AssertNotCalled(t, "SaveMessageIfOpen", mock.Anything, mock.Anything)
}

func TestRelayRouteMessageClosedConversation(t *testing.T) {
	store := &mockRelayStore{}
	relay, _ := newTestRelay(store, &mockNotifier{})

	convID := uuid.New().String()
	store.On("SaveMessageIfOpen", mock.Anything, mock.Anything).
		Return("", apperrors.New(apperrors.ErrCodeConversationClosed, "conversation is not open"))

	err := relay.RouteMessage(context.Background(), convID, models.SenderVisitor, "hello", "ws")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConversationClosed))
}

func TestRelayRouteMessageInvalidConversationID(t *testing.T) {
	relay, _ := newTestRelay(&mockRelayStore{}, &mockNotifier{})

	err := relay.RouteMessage(context.Background(), "not-a-uuid", models.SenderVisitor, "hello", "ws")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))
}

func TestRelayBridgeFailureDoesNotFailRouting(t *testing.T) {
	store := &mockRelayStore{}
	notifier := &mockNotifier{}
	relay, _ := newTestRelay(store, notifier)

	convID := uuid.New().String()
	store.On("SaveMessageIfOpen", mock.Anything, mock.Anything).Return("Alice", nil)

	notified := make(chan struct{})
	notifier.On("NotifyVisitorMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(assert.AnError).
		Run(func(mock.Arguments) { close(notified) })

	require.NoError(t, relay.RouteMessage(context.Background(), convID, models.SenderVisitor, "hello", "ws"))
	waitForCall(t, notified)
}

func TestRelayTyping(t *testing.T) {
	store := &mockRelayStore{}
	relay, registry := newTestRelay(store, &mockNotifier{})

	convID := uuid.New().String()
	operator := &fakeChannel{}
	require.NoError(t, registry.AddOperator(operator))
	visitor := &fakeChannel{}
	_, err := registry.BindVisitor(convID, visitor)
	require.NoError(t, err)

	require.NoError(t, relay.Typing(context.Background(), convID, models.SenderVisitor))
	require.Len(t, operator.sent(), 1)
	assert.Empty(t, visitor.sent())

	require.NoError(t, relay.Typing(context.Background(), convID, models.SenderOperator))
	require.Len(t, visitor.sent(), 1)
	require.Len(t, operator.sent(), 2)

	// Nothing persisted either way.
	store.AssertNotCalled(t, "SaveMessageIfOpen", mock.Anything, mock.Anything)
}

func TestRelayDelete(t *testing.T) {
	store := &mockRelayStore{}
	relay, registry := newTestRelay(store, &mockNotifier{})

	convID := uuid.New().String()
	store.On("MarkConversationDeleted", mock.Anything, convID).Return(nil)

	operator := &fakeChannel{}
	require.NoError(t, registry.AddOperator(operator))
	visitor := &fakeChannel{}
	_, err := registry.BindVisitor(convID, visitor)
	require.NoError(t, err)

	require.NoError(t, relay.Delete(context.Background(), convID))

	require.Len(t, operator.sent(), 1)
	assert.Equal(t, models.EventConversationDeleted, decodeFrame(t, operator.sent()[0]).Type)

	// Visitor is told before the binding goes away.
	require.Len(t, visitor.sent(), 1)
	assert.Equal(t, models.EventConversationDeleted, decodeFrame(t, visitor.sent()[0]).Type)

	visitors, _ := registry.Counts()
	assert.Equal(t, 0, visitors)
}

func TestRelayDeleteUnknownConversation(t *testing.T) {
	store := &mockRelayStore{}
	relay, _ := newTestRelay(store, &mockNotifier{})

	convID := uuid.New().String()
	store.On("MarkConversationDeleted", mock.Anything, convID).
		Return(apperrors.New(apperrors.ErrCodeNotFound, "conversation not found"))

	err := relay.Delete(context.Background(), convID)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
}

func TestRelayOperatorSnapshot(t *testing.T) {
	store := &mockRelayStore{}
	relay, _ := newTestRelay(store, &mockNotifier{})

	store.On("OpenConversations", mock.Anything).Return([]models.ConversationSummary{
		{ConversationID: uuid.New().String(), VisitorName: "Alice", MessageCount: 3},
	}, nil)

	ev, err := relay.OperatorSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.EventConversations, ev.Type)
	require.Len(t, ev.Items, 1)
	assert.Equal(t, "Alice", ev.Items[0].VisitorName)
}
