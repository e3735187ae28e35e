package service

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"livechat/internal/models"
)

type mockRelayStore struct {
	mock.Mock
}

func (m *mockRelayStore) CreateConversation(ctx context.Context, visitor *models.Visitor, conv *models.Conversation) error {
	args := m.Called(ctx, visitor, conv)
	return args.Error(0)
}

func (m *mockRelayStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	args := m.Called(ctx, id)
	if conv := args.Get(0); conv != nil {
		return conv.(*models.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRelayStore) SaveMessageIfOpen(ctx context.Context, msg *models.Message) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

func (m *mockRelayStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, limit)
	if msgs := args.Get(0); msgs != nil {
		return msgs.([]models.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRelayStore) MarkConversationDeleted(ctx context.Context, conversationID string) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

func (m *mockRelayStore) OpenConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	args := m.Called(ctx)
	if items := args.Get(0); items != nil {
		return items.([]models.ConversationSummary), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyNewConversation(ctx context.Context, conversationID, visitorName string) error {
	args := m.Called(ctx, conversationID, visitorName)
	return args.Error(0)
}

func (m *mockNotifier) NotifyVisitorMessage(ctx context.Context, conversationID, visitorName, content string) error {
	args := m.Called(ctx, conversationID, visitorName, content)
	return args.Error(0)
}

// fakeChannel is an in-memory channel that records delivered frames
// and close calls.
type fakeChannel struct {
	mu        sync.Mutex
	frames    [][]byte
	sendErr   error
	closed    bool
	closeCode int
	closeText string
}

func (f *fakeChannel) Send(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	f.frames = append(f.frames, buf)
	return nil
}

func (f *fakeChannel) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeCode = code
	f.closeText = reason
	return nil
}

func (f *fakeChannel) sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.frames))
	copy(out, f.frames)
	return out
}

func (f *fakeChannel) closedWith() (bool, int, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.closeCode, f.closeText
}
