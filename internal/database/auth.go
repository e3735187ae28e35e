package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"livechat/internal/models"
)

func (d *Database) SaveOneTimeCode(ctx context.Context, code *models.OneTimeCode) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO one_time_codes (id, code_hash, expires_at, used, created_at) VALUES (?, ?, ?, ?, ?)`,
		code.ID, code.CodeHash, code.ExpiresAt, code.Used, code.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save one-time code: %w", err)
	}
	return nil
}

// ConsumeOneTimeCode marks an unexpired, unused code as used. The
// single conditional UPDATE makes consumption atomic: two concurrent
// verifications of the same code cannot both succeed.
func (d *Database) ConsumeOneTimeCode(ctx context.Context, codeHash string, now time.Time) (bool, error) {
	res, err := d.db.ExecContext(ctx,
		`UPDATE one_time_codes SET used = 1 WHERE code_hash = ? AND used = 0 AND expires_at > ?`,
		codeHash, now)
	if err != nil {
		return false, fmt.Errorf("failed to consume one-time code: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rowsAffected == 1, nil
}

func (d *Database) CreateSession(ctx context.Context, session *models.Session) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO sessions (id, token, expires_at, active, client_ip, user_agent, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.Token, session.ExpiresAt, session.Active,
		nullable(session.ClientIP), nullable(session.UserAgent), session.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetActiveSession returns nil when the token matches no active,
// unexpired session.
func (d *Database) GetActiveSession(ctx context.Context, token string, now time.Time) (*models.Session, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, token, expires_at, active, client_ip, user_agent, created_at
		 FROM sessions WHERE token = ? AND active = 1 AND expires_at > ?`, token, now)

	s := &models.Session{}
	var clientIP, userAgent sql.NullString
	err := row.Scan(&s.ID, &s.Token, &s.ExpiresAt, &s.Active, &clientIP, &userAgent, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	s.ClientIP = clientIP.String
	s.UserAgent = userAgent.String
	return s, nil
}

// RotateSessionToken replaces the bearer token and extends expiry.
func (d *Database) RotateSessionToken(ctx context.Context, sessionID, newToken string, expiresAt time.Time) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE sessions SET token = ?, expires_at = ? WHERE id = ? AND active = 1`,
		newToken, expiresAt, sessionID)
	if err != nil {
		return fmt.Errorf("failed to rotate session token: %w", err)
	}
	return nil
}

// BackfillSessionClient records the first observed client IP and user
// agent for a session. Already-set values are never overwritten.
func (d *Database) BackfillSessionClient(ctx context.Context, sessionID, clientIP, userAgent string) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE sessions SET
		   client_ip  = COALESCE(client_ip, ?),
		   user_agent = COALESCE(user_agent, ?)
		 WHERE id = ?`,
		nullable(clientIP), nullable(userAgent), sessionID)
	if err != nil {
		return fmt.Errorf("failed to backfill session client: %w", err)
	}
	return nil
}

func (d *Database) DeactivateSession(ctx context.Context, sessionID string) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE sessions SET active = 0 WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to deactivate session: %w", err)
	}
	return nil
}

// CleanupAuth deletes codes and sessions expired for longer than the
// grace window, plus consumed codes older than that window. Returns
// rows removed.
func (d *Database) CleanupAuth(ctx context.Context, now time.Time, grace time.Duration) (int64, error) {
	cutoff := now.Add(-grace)
	var total int64

	res, err := d.db.ExecContext(ctx,
		`DELETE FROM one_time_codes WHERE (used = 1 AND created_at < ?) OR expires_at < ?`, cutoff, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up one-time codes: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	res, err = d.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE active = 0 OR expires_at < ?`, cutoff)
	if err != nil {
		return total, fmt.Errorf("failed to clean up sessions: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	return total, nil
}

func (d *Database) SaveActivity(ctx context.Context, entry *models.ActivityEntry) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO activity_log (session_id, action, conversation_id, details, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.SessionID, entry.Action, entry.ConversationID, nullable(entry.Details), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save activity: %w", err)
	}
	return nil
}
