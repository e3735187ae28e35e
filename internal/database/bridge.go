package database

import (
	"context"
	"database/sql"
	"fmt"

	"livechat/internal/models"
)

// SaveThreadLink records an outbound bridge message so later replies
// can be threaded. Duplicate (chat id, message id) pairs are ignored:
// redelivered webhooks must not fail the pipeline.
func (d *Database) SaveThreadLink(ctx context.Context, link *models.ThreadLink) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO thread_links (conversation_id, chat_id, message_id, created_at)
		 VALUES (?, ?, ?, ?)`,
		link.ConversationID, link.ChatID, link.MessageID, link.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save thread link: %w", err)
	}
	return nil
}

// LatestThreadLink returns the most recent link for a conversation, or
// nil when the conversation has never been bridged.
func (d *Database) LatestThreadLink(ctx context.Context, conversationID string) (*models.ThreadLink, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, chat_id, message_id, created_at
		 FROM thread_links WHERE conversation_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`, conversationID)
	return scanThreadLink(row)
}

// ThreadLinkByMessage resolves an inbound reply target back to its
// conversation. Returns nil when the replied-to message is unknown.
func (d *Database) ThreadLinkByMessage(ctx context.Context, chatID, messageID int64) (*models.ThreadLink, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, chat_id, message_id, created_at
		 FROM thread_links WHERE chat_id = ? AND message_id = ?`, chatID, messageID)
	return scanThreadLink(row)
}

func scanThreadLink(row *sql.Row) (*models.ThreadLink, error) {
	link := &models.ThreadLink{}
	err := row.Scan(&link.ID, &link.ConversationID, &link.ChatID, &link.MessageID, &link.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan thread link: %w", err)
	}
	return link, nil
}
