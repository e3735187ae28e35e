package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"livechat/internal/constants"
	"livechat/internal/errors"
	"livechat/internal/models"
	"livechat/internal/validation"
)

// RelayStore is the persistence surface the relay needs.
type RelayStore interface {
	CreateConversation(ctx context.Context, visitor *models.Visitor, conv *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	SaveMessageIfOpen(ctx context.Context, msg *models.Message) (string, error)
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	MarkConversationDeleted(ctx context.Context, conversationID string) error
	OpenConversations(ctx context.Context) ([]models.ConversationSummary, error)
}

// BridgeNotifier forwards visitor activity to the external messaging
// bridge. Implementations own threading and retry; the relay only
// fires and forgets.
type BridgeNotifier interface {
	NotifyNewConversation(ctx context.Context, conversationID, visitorName string) error
	NotifyVisitorMessage(ctx context.Context, conversationID, visitorName, content string) error
}

// Relay orchestrates the visitor/operator/bridge message flow. It owns
// no transport details: channels come in through the registry and
// storage through RelayStore.
type Relay struct {
	store      RelayStore
	registry   *Registry
	notifier   BridgeNotifier
	logger     *logrus.Logger
	maxMsgLen  int
	historyLim int
	bridgeErrs chan error
}

func NewRelay(store RelayStore, registry *Registry, notifier BridgeNotifier, maxMsgLen, historyLimit int, logger *logrus.Logger) *Relay {
	if maxMsgLen <= 0 {
		maxMsgLen = constants.DefaultMaxMessageLen
	}
	if historyLimit <= 0 {
		historyLimit = constants.DefaultHistoryLimit
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Relay{
		store:      store,
		registry:   registry,
		notifier:   notifier,
		logger:     logger,
		maxMsgLen:  maxMsgLen,
		historyLim: historyLimit,
		bridgeErrs: make(chan error, 16),
	}
}

// Start drains bridge notification failures until ctx is cancelled.
// Bridge delivery is best-effort; failures are logged, never surfaced
// to visitors.
func (r *Relay) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-r.bridgeErrs:
				if err != nil {
					r.logger.WithError(err).Warn("Bridge notification failed")
				}
			}
		}
	}()
}

// JoinResult describes an established visitor channel.
type JoinResult struct {
	ConversationID string
	VisitorName    string
	History        []models.HistoryMessage
}

// Join starts a new conversation for an anonymous visitor and binds
// the channel. The bridge is told about the new conversation out of
// band.
func (r *Relay) Join(ctx context.Context, displayName, clientIP, userAgent string, ch Channel) (*JoinResult, error) {
	if err := validation.ValidateDisplayName(displayName); err != nil {
		return nil, err
	}
	name := SanitizeContent(displayName, constants.MaxDisplayNameLength)
	if name == "" {
		name = constants.DefaultVisitorName
	}
	if len(userAgent) > constants.MaxUserAgentLength {
		userAgent = userAgent[:constants.MaxUserAgentLength]
	}

	now := time.Now().UTC()
	visitor := &models.Visitor{
		ID:          uuid.New().String(),
		DisplayName: name,
		ClientIP:    clientIP,
		UserAgent:   userAgent,
		CreatedAt:   now,
	}
	conv := &models.Conversation{
		ID:             uuid.New().String(),
		VisitorID:      visitor.ID,
		Status:         models.ConversationOpen,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := r.store.CreateConversation(ctx, visitor, conv); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePersistence, "failed to create conversation")
	}

	prev, err := r.registry.BindVisitor(conv.ID, ch)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		// Unreachable for a fresh conversation id, but harmless.
		_ = prev.Close(CloseNormal, CloseReasonReplaced)
	}

	r.logger.WithFields(logrus.Fields{
		"conversationID": conv.ID,
		"visitorName":    name,
	}).Info("Visitor joined")

	opened := models.Event{
		Type:           models.EventConversationOpened,
		ConversationID: conv.ID,
		VisitorName:    name,
	}
	if err := r.registry.BroadcastToOperators(ctx, &opened); err != nil {
		r.logger.WithError(err).Warn("Failed to announce conversation to operators")
	}

	r.notifyBridge(func(nctx context.Context) error {
		return r.notifier.NotifyNewConversation(nctx, conv.ID, name)
	})

	return &JoinResult{ConversationID: conv.ID, VisitorName: name}, nil
}

// Resume rebinds a returning visitor to an existing conversation and
// replays recent history. A concurrent older channel for the same
// conversation is closed; the newest connection always wins.
func (r *Relay) Resume(ctx context.Context, conversationID string, ch Channel) (*JoinResult, error) {
	if err := validation.ValidateConversationID(conversationID); err != nil {
		return nil, err
	}

	conv, err := r.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePersistence, "failed to load conversation")
	}
	if conv == nil || conv.Status == models.ConversationDeleted {
		return nil, errors.New(errors.ErrCodeNotFound, "conversation not found")
	}

	msgs, err := r.store.RecentMessages(ctx, conversationID, r.historyLim)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePersistence, "failed to load history")
	}

	prev, err := r.registry.BindVisitor(conversationID, ch)
	if err != nil {
		return nil, err
	}
	if prev != nil && prev != ch {
		_ = prev.Close(CloseNormal, CloseReasonReplaced)
	}

	// Storage returns newest first; visitors read oldest first.
	history := make([]models.HistoryMessage, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		history = append(history, models.HistoryMessage{
			ID:        m.ID,
			Sender:    string(m.Sender),
			Content:   m.Content,
			CreatedAt: m.CreatedAt.Format(time.RFC3339),
		})
	}

	r.logger.WithField("conversationID", conversationID).Info("Visitor resumed")

	return &JoinResult{ConversationID: conversationID, History: history}, nil
}

// RouteMessage persists a message and fans it out: visitor messages
// reach operators and the bridge, operator and bridge messages reach
// the visitor and every connected operator. Content that sanitizes to
// empty is dropped without error.
func (r *Relay) RouteMessage(ctx context.Context, conversationID string, sender models.SenderKind, content, via string) error {
	if err := validation.ValidateConversationID(conversationID); err != nil {
		return err
	}

	content = SanitizeContent(content, r.maxMsgLen)
	if content == "" {
		return nil
	}

	msg := &models.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Sender:         sender,
		Kind:           models.ContentText,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	visitorName, err := r.store.SaveMessageIfOpen(ctx, msg)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeNotFound) || errors.IsCode(err, errors.ErrCodeConversationClosed) {
			return err
		}
		return errors.Wrap(err, errors.ErrCodePersistence, "failed to save message")
	}

	r.logger.WithFields(logrus.Fields{
		"conversationID": conversationID,
		"sender":         sender,
		"via":            via,
		"content":        MaskContent(ctx, content),
	}).Debug("Routing message")

	event := models.MessageEvent(conversationID, sender, content, via)
	if sender == models.SenderVisitor {
		if err := r.registry.BroadcastToOperators(ctx, &event); err != nil {
			r.logger.WithError(err).Warn("Failed to broadcast message")
		}
		r.notifyBridge(func(nctx context.Context) error {
			return r.notifier.NotifyVisitorMessage(nctx, conversationID, visitorName, content)
		})
		return nil
	}

	// Operator and bridge messages also go to every operator channel so
	// all connected dashboards stay in sync.
	if err := r.registry.BroadcastToOperators(ctx, &event); err != nil {
		r.logger.WithError(err).Warn("Failed to broadcast message")
	}
	return r.registry.SendToVisitor(ctx, conversationID, &event)
}

// Typing relays a transient typing indicator. Nothing is persisted.
func (r *Relay) Typing(ctx context.Context, conversationID string, sender models.SenderKind) error {
	if err := validation.ValidateConversationID(conversationID); err != nil {
		return err
	}

	event := models.TypingEvent(conversationID, sender)
	if sender == models.SenderVisitor {
		return r.registry.BroadcastToOperators(ctx, &event)
	}
	if err := r.registry.BroadcastToOperators(ctx, &event); err != nil {
		r.logger.WithError(err).Warn("Failed to broadcast typing indicator")
	}
	return r.registry.SendToVisitor(ctx, conversationID, &event)
}

// Delete tears a conversation down: storage rows first, then both
// sides are told, then the visitor channel is closed and unbound.
func (r *Relay) Delete(ctx context.Context, conversationID string) error {
	if err := validation.ValidateConversationID(conversationID); err != nil {
		return err
	}

	if err := r.store.MarkConversationDeleted(ctx, conversationID); err != nil {
		if errors.IsCode(err, errors.ErrCodeNotFound) {
			return err
		}
		return errors.Wrap(err, errors.ErrCodePersistence, "failed to delete conversation")
	}

	event := models.Event{Type: models.EventConversationDeleted, ConversationID: conversationID}
	if err := r.registry.BroadcastToOperators(ctx, &event); err != nil {
		r.logger.WithError(err).Warn("Failed to announce deletion")
	}
	if err := r.registry.SendToVisitor(ctx, conversationID, &event); err != nil {
		r.logger.WithError(err).Warn("Failed to notify visitor of deletion")
	}
	r.registry.UnbindVisitor(conversationID, nil)

	r.logger.WithField("conversationID", conversationID).Info("Conversation deleted")
	return nil
}

// OperatorSnapshot builds the open-conversation listing sent to an
// operator channel right after it attaches.
func (r *Relay) OperatorSnapshot(ctx context.Context) (*models.Event, error) {
	items, err := r.store.OpenConversations(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePersistence, "failed to list conversations")
	}
	return &models.Event{Type: models.EventConversations, Items: items}, nil
}

// notifyBridge runs fn detached from the caller with its own timeout.
// The visitor path never waits on the bridge.
func (r *Relay) notifyBridge(fn func(ctx context.Context) error) {
	if r.notifier == nil {
		return
	}
	go func() {
		nctx, cancel := context.WithTimeout(context.Background(), constants.DefaultBridgeNotifyTimeout*time.Second)
		defer cancel()
		if err := fn(nctx); err != nil {
			select {
			case r.bridgeErrs <- err:
			default:
				r.logger.WithError(err).Warn("Bridge notification failed (queue full)")
			}
		}
	}()
}
