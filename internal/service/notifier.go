package service

import (
	"context"
	"fmt"
	"html"
	"time"

	"github.com/sirupsen/logrus"

	"livechat/internal/constants"
	"livechat/internal/models"
	"livechat/internal/retry"
	"livechat/pkg/telegram"
)

// BridgeStore persists the thread links that tie bridge messages back
// to conversations.
type BridgeStore interface {
	SaveThreadLink(ctx context.Context, link *models.ThreadLink) error
	LatestThreadLink(ctx context.Context, conversationID string) (*models.ThreadLink, error)
	ThreadLinkByMessage(ctx context.Context, chatID, messageID int64) (*models.ThreadLink, error)
}

// TelegramNotifier delivers visitor activity to a Telegram chat,
// threading each conversation onto its most recent bridged message so
// operators can reply in place.
type TelegramNotifier struct {
	client  telegram.Client
	store   BridgeStore
	chatID  int64
	backoff *retry.Backoff
	breaker *CircuitBreaker
	logger  *logrus.Logger
}

func NewTelegramNotifier(client telegram.Client, store BridgeStore, chatID int64, backoffCfg retry.BackoffConfig, logger *logrus.Logger) *TelegramNotifier {
	if logger == nil {
		logger = logrus.New()
	}
	return &TelegramNotifier{
		client: client,
		store:  store,
		chatID: chatID,
		backoff: retry.NewBackoff(backoffCfg),
		breaker: NewCircuitBreaker("telegram", constants.CircuitBreakerMaxFailures,
			constants.CircuitBreakerTimeoutSec*time.Second, logger),
		logger: logger,
	}
}

// NotifyNewConversation announces a freshly started conversation. The
// announcement becomes the root of the conversation's reply thread.
func (n *TelegramNotifier) NotifyNewConversation(ctx context.Context, conversationID, visitorName string) error {
	text := fmt.Sprintf("New conversation\nVisitor: %s\nID: %s", html.UnescapeString(visitorName), conversationID)
	return n.deliver(ctx, conversationID, text, 0)
}

// NotifyVisitorMessage forwards a visitor message, replying to the
// newest bridged message of the conversation when one exists.
func (n *TelegramNotifier) NotifyVisitorMessage(ctx context.Context, conversationID, visitorName, content string) error {
	var replyTo int64
	link, err := n.store.LatestThreadLink(ctx, conversationID)
	if err != nil {
		n.logger.WithError(err).WithField("conversationID", conversationID).
			Warn("Failed to resolve reply thread; sending unthreaded")
	} else if link != nil {
		replyTo = link.MessageID
	}

	text := fmt.Sprintf("%s: %s", html.UnescapeString(visitorName), html.UnescapeString(content))
	return n.deliver(ctx, conversationID, text, replyTo)
}

func (n *TelegramNotifier) deliver(ctx context.Context, conversationID, text string, replyTo int64) error {
	req := telegram.SendMessageRequest{
		ChatID:                   n.chatID,
		Text:                     text,
		ReplyToMessageID:         replyTo,
		AllowSendingWithoutReply: true,
	}

	var messageID int64
	err := n.breaker.Execute(ctx, func(bctx context.Context) error {
		return n.backoff.Retry(bctx, func() error {
			id, sendErr := n.client.SendMessage(bctx, req)
			if sendErr != nil {
				return sendErr
			}
			messageID = id
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("failed to deliver bridge notification: %w", err)
	}

	link := &models.ThreadLink{
		ConversationID: conversationID,
		ChatID:         n.chatID,
		MessageID:      messageID,
		CreatedAt:      time.Now().UTC(),
	}
	if err := n.store.SaveThreadLink(ctx, link); err != nil {
		// Delivery already happened; future messages just lose threading.
		n.logger.WithError(err).WithField("conversationID", conversationID).
			Warn("Failed to record thread link")
	}
	return nil
}

// SendLoginCode delivers a one-time operator login code to the bridge
// chat. No thread link is recorded; codes are not conversation
// traffic.
func (n *TelegramNotifier) SendLoginCode(ctx context.Context, code string) error {
	req := telegram.SendMessageRequest{
		ChatID: n.chatID,
		Text:   fmt.Sprintf("Login code: %s", code),
	}
	err := n.breaker.Execute(ctx, func(bctx context.Context) error {
		return n.backoff.Retry(bctx, func() error {
			_, sendErr := n.client.SendMessage(bctx, req)
			return sendErr
		})
	})
	if err != nil {
		return fmt.Errorf("failed to deliver login code: %w", err)
	}
	return nil
}

// ResolveReply maps an inbound bridge reply to its conversation.
// Returns "" when the replied-to message was never bridged.
func (n *TelegramNotifier) ResolveReply(ctx context.Context, chatID, messageID int64) (string, error) {
	link, err := n.store.ThreadLinkByMessage(ctx, chatID, messageID)
	if err != nil {
		return "", fmt.Errorf("failed to look up thread link: %w", err)
	}
	if link == nil {
		return "", nil
	}
	return link.ConversationID, nil
}
