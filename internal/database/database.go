package database

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"livechat/internal/errors"
	"livechat/internal/models"
	"livechat/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schema string

// Database is the durable-storage collaborator: visitors, conversations,
// messages, bridge thread links, one-time codes and operator sessions.
type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Database{db: db}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// CreateConversation inserts the visitor and its conversation in one
// transaction so a half-created conversation can never be observed.
func (d *Database) CreateConversation(ctx context.Context, visitor *models.Visitor, conv *models.Conversation) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO visitors (id, display_name, client_ip, user_agent, created_at) VALUES (?, ?, ?, ?, ?)`,
		visitor.ID, visitor.DisplayName, nullable(visitor.ClientIP), nullable(visitor.UserAgent), visitor.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert visitor: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (id, visitor_id, status, created_at, last_activity_at) VALUES (?, ?, ?, ?, ?)`,
		conv.ID, visitor.ID, conv.Status, conv.CreatedAt, conv.LastActivityAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conversation: %w", err)
	}
	return nil
}

// GetConversation returns nil when no conversation exists with the id.
func (d *Database) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, visitor_id, status, created_at, last_activity_at FROM conversations WHERE id = ?`, id)

	conv := &models.Conversation{}
	err := row.Scan(&conv.ID, &conv.VisitorID, &conv.Status, &conv.CreatedAt, &conv.LastActivityAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

// SaveMessageIfOpen persists a message only while its conversation is
// still open, refreshing last activity in the same transaction. The
// open-status check shares the transaction with the insert so a message
// cannot be routed for a conversation deleted concurrently by an
// operator. Returns the visitor display name for bridge notification.
func (d *Database) SaveMessageIfOpen(ctx context.Context, msg *models.Message) (string, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status models.ConversationStatus
	var visitorName string
	err = tx.QueryRowContext(ctx,
		`SELECT c.status, v.display_name
		 FROM conversations c JOIN visitors v ON v.id = c.visitor_id
		 WHERE c.id = ?`, msg.ConversationID,
	).Scan(&status, &visitorName)
	if err == sql.ErrNoRows {
		return "", errors.New(errors.ErrCodeNotFound, "conversation not found")
	}
	if err != nil {
		return "", fmt.Errorf("failed to check conversation status: %w", err)
	}
	if status != models.ConversationOpen {
		return "", errors.New(errors.ErrCodeConversationClosed, "conversation is not open")
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender, kind, content, file_path, file_size, file_mime, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Sender, msg.Kind, msg.Content,
		msg.FilePath, msg.FileSize, msg.FileMime, msg.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET last_activity_at = ? WHERE id = ?`,
		msg.CreatedAt, msg.ConversationID,
	)
	if err != nil {
		return "", fmt.Errorf("failed to refresh last activity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit message: %w", err)
	}
	return visitorName, nil
}

// RecentMessages returns up to limit messages for a conversation,
// newest first. Callers reverse for display order.
func (d *Database) RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, conversation_id, sender, kind, content, file_path, file_size, file_mime, created_at, read_at, edited_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY created_at DESC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// MessagesBefore pages messages older than the cursor, newest first.
// A zero cursor means "from the latest".
func (d *Database) MessagesBefore(ctx context.Context, conversationID string, before time.Time, limit int) ([]models.Message, error) {
	query := `SELECT id, conversation_id, sender, kind, content, file_path, file_size, file_mime, created_at, read_at, edited_at
	          FROM messages WHERE conversation_id = ?`
	args := []interface{}{conversationID}
	if !before.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, before)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]models.Message, error) {
	var out []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Sender, &m.Kind, &m.Content,
			&m.FilePath, &m.FileSize, &m.FileMime, &m.CreatedAt, &m.ReadAt, &m.EditedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return out, nil
}

// VisitorNameForConversation returns the display name of the visitor who
// started the conversation.
func (d *Database) VisitorNameForConversation(ctx context.Context, conversationID string) (string, error) {
	var name string
	err := d.db.QueryRowContext(ctx,
		`SELECT v.display_name FROM conversations c JOIN visitors v ON v.id = c.visitor_id WHERE c.id = ?`,
		conversationID,
	).Scan(&name)
	if err == sql.ErrNoRows {
		return "", errors.New(errors.ErrCodeNotFound, "conversation not found")
	}
	if err != nil {
		return "", fmt.Errorf("failed to get visitor name: %w", err)
	}
	return name, nil
}

// MarkConversationDeleted flips the conversation to deleted and removes
// its dependent message and thread-link rows. The conversation row is
// retained for audit.
func (d *Database) MarkConversationDeleted(ctx context.Context, conversationID string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE conversations SET status = ? WHERE id = ? AND status != ?`,
		models.ConversationDeleted, conversationID, models.ConversationDeleted)
	if err != nil {
		return fmt.Errorf("failed to mark conversation deleted: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return errors.New(errors.ErrCodeNotFound, "conversation not found")
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM thread_links WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("failed to delete thread links: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deletion: %w", err)
	}
	return nil
}

// OpenConversations returns the operator snapshot: open conversations
// with visitor name and message count, most recently active first.
func (d *Database) OpenConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	return d.listConversations(ctx, true, 0, 0)
}

// ListConversations pages non-deleted conversations, most recently
// active first.
func (d *Database) ListConversations(ctx context.Context, limit, offset int) ([]models.ConversationSummary, error) {
	return d.listConversations(ctx, false, limit, offset)
}

func (d *Database) listConversations(ctx context.Context, openOnly bool, limit, offset int) ([]models.ConversationSummary, error) {
	query := `SELECT c.id, v.display_name, c.status, c.last_activity_at, COUNT(m.id)
	          FROM conversations c
	          JOIN visitors v ON v.id = c.visitor_id
	          LEFT JOIN messages m ON m.conversation_id = c.id`
	var args []interface{}
	if openOnly {
		query += ` WHERE c.status = ?`
		args = append(args, models.ConversationOpen)
	} else {
		query += ` WHERE c.status != ?`
		args = append(args, models.ConversationDeleted)
	}
	query += ` GROUP BY c.id, v.display_name, c.status, c.last_activity_at
	           ORDER BY c.last_activity_at DESC`
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []models.ConversationSummary
	for rows.Next() {
		var s models.ConversationSummary
		if err := rows.Scan(&s.ConversationID, &s.VisitorName, &s.Status, &s.LastActivityAt, &s.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan conversation summary: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}
	return out, nil
}

// MarkMessageRead sets the read marker once; repeated calls are no-ops.
func (d *Database) MarkMessageRead(ctx context.Context, messageID string, readAt time.Time) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE messages SET read_at = ? WHERE id = ? AND read_at IS NULL`, readAt, messageID)
	if err != nil {
		return fmt.Errorf("failed to mark message read: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rowsAffected == 0 {
		// Either unknown or already read; distinguish for the caller.
		var exists int
		err := d.db.QueryRowContext(ctx, `SELECT 1 FROM messages WHERE id = ?`, messageID).Scan(&exists)
		if err == sql.ErrNoRows {
			return errors.New(errors.ErrCodeNotFound, "message not found")
		}
		if err != nil {
			return fmt.Errorf("failed to check message: %w", err)
		}
	}
	return nil
}

// Statistics aggregates stored totals. Live connection counts are the
// registry's to report, not storage's.
func (d *Database) Statistics(ctx context.Context) (*models.Statistics, error) {
	stats := &models.Statistics{}
	row := d.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM conversations WHERE status != ?),
			(SELECT COUNT(*) FROM conversations WHERE status = ?),
			(SELECT COUNT(*) FROM messages),
			(SELECT COUNT(*) FROM visitors)`,
		models.ConversationDeleted, models.ConversationOpen)
	if err := row.Scan(&stats.TotalConversations, &stats.OpenConversations, &stats.TotalMessages, &stats.TotalVisitors); err != nil {
		return nil, fmt.Errorf("failed to collect statistics: %w", err)
	}
	return stats, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
