package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/pbkdf2"

	"livechat/internal/constants"
	"livechat/internal/errors"
	"livechat/internal/models"
	"livechat/internal/ratelimit"
	"livechat/internal/validation"
)

// AuthStore is the persistence surface for codes, sessions and the
// activity log.
type AuthStore interface {
	SaveOneTimeCode(ctx context.Context, code *models.OneTimeCode) error
	ConsumeOneTimeCode(ctx context.Context, codeHash string, now time.Time) (bool, error)
	CreateSession(ctx context.Context, session *models.Session) error
	GetActiveSession(ctx context.Context, token string, now time.Time) (*models.Session, error)
	RotateSessionToken(ctx context.Context, sessionID, newToken string, expiresAt time.Time) error
	BackfillSessionClient(ctx context.Context, sessionID, clientIP, userAgent string) error
	DeactivateSession(ctx context.Context, sessionID string) error
	CleanupAuth(ctx context.Context, now time.Time, grace time.Duration) (int64, error)
	SaveActivity(ctx context.Context, entry *models.ActivityEntry) error
}

// CodeSender delivers a freshly issued login code out of band. The
// code itself never appears in any HTTP response or log line.
type CodeSender interface {
	SendLoginCode(ctx context.Context, code string) error
}

// AuthService issues one-time operator login codes and manages bearer
// sessions. Codes are stored salted-and-hashed only.
type AuthService struct {
	store          AuthStore
	sender         CodeSender
	limiter        *ratelimit.Limiter
	salt           []byte
	codeTTL        time.Duration
	sessionTTL     time.Duration
	refreshEnabled bool
	binding        models.SessionBindingPolicy
	allowlist      []string
	logger         *logrus.Logger
	now            func() time.Time
}

func NewAuthService(store AuthStore, sender CodeSender, limiter *ratelimit.Limiter, cfg models.AuthConfig, logger *logrus.Logger) *AuthService {
	if logger == nil {
		logger = logrus.New()
	}
	codeTTL := time.Duration(cfg.CodeTTLSeconds) * time.Second
	if codeTTL <= 0 {
		codeTTL = constants.DefaultCodeTTLSeconds * time.Second
	}
	sessionTTL := time.Duration(cfg.SessionTTLHours) * time.Hour
	if sessionTTL <= 0 {
		sessionTTL = constants.DefaultSessionTTLHours * time.Hour
	}
	binding := cfg.SessionBinding
	if binding == "" {
		binding = models.BindingLogOnly
	}
	return &AuthService{
		store:          store,
		sender:         sender,
		limiter:        limiter,
		salt:           []byte(cfg.HashSalt),
		codeTTL:        codeTTL,
		sessionTTL:     sessionTTL,
		refreshEnabled: cfg.RefreshEnabled,
		binding:        binding,
		allowlist:      cfg.IPAllowlist,
		logger:         logger,
		now:            time.Now,
	}
}

// IssueCode generates a one-time login code, stores its hash and hands
// the cleartext to the out-of-band sender.
func (a *AuthService) IssueCode(ctx context.Context) error {
	code, err := generateCode()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to generate code")
	}

	now := a.now().UTC()
	record := &models.OneTimeCode{
		ID:        uuid.New().String(),
		CodeHash:  a.hashCode(code),
		ExpiresAt: now.Add(a.codeTTL),
		CreatedAt: now,
	}
	if err := a.store.SaveOneTimeCode(ctx, record); err != nil {
		return errors.Wrap(err, errors.ErrCodePersistence, "failed to store code")
	}

	if err := a.sender.SendLoginCode(ctx, code); err != nil {
		return errors.Wrap(err, errors.ErrCodeBridgeUnavailable, "failed to deliver code")
	}

	a.logger.Info("Login code issued")
	return nil
}

// VerifyCode exchanges a valid, unexpired, unused code for a new
// session. Verification attempts are rate limited per client address.
func (a *AuthService) VerifyCode(ctx context.Context, code, clientIP, userAgent string) (*models.Session, error) {
	if a.limiter != nil && !a.limiter.AllowRequest("verify:"+clientIP,
		ratelimit.Limit{Rate: constants.CodeVerifyPerSec, Burst: constants.CodeVerifyBurst}) {
		return nil, errors.New(errors.ErrCodeRateLimited, "too many verification attempts")
	}

	if err := validation.ValidateCode(code); err != nil {
		return nil, err
	}

	now := a.now().UTC()
	ok, err := a.store.ConsumeOneTimeCode(ctx, a.hashCode(code), now)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePersistence, "failed to verify code")
	}
	if !ok {
		return nil, errors.New(errors.ErrCodeUnauthenticated, "invalid or expired code")
	}

	token, err := generateToken()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to generate session token")
	}

	if len(userAgent) > constants.MaxUserAgentLength {
		userAgent = userAgent[:constants.MaxUserAgentLength]
	}
	session := &models.Session{
		ID:        uuid.New().String(),
		Token:     token,
		ExpiresAt: now.Add(a.sessionTTL),
		Active:    true,
		ClientIP:  clientIP,
		UserAgent: userAgent,
		CreatedAt: now,
	}
	if err := a.store.CreateSession(ctx, session); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePersistence, "failed to create session")
	}

	a.recordActivity(ctx, session.ID, "login", nil, "")
	a.logger.WithField("sessionID", session.ID).Info("Operator logged in")
	return session, nil
}

// Authenticate validates a bearer token and applies the session
// binding policy. When refresh is enabled the returned string is a
// rotated replacement token the caller must hand back to the client;
// otherwise it is empty.
func (a *AuthService) Authenticate(ctx context.Context, token, clientIP, userAgent string) (*models.Session, string, error) {
	if !a.ipAllowed(clientIP) {
		a.logger.WithField("clientIP", clientIP).Warn("Operator request from address outside allow-list")
		return nil, "", errors.New(errors.ErrCodeUnauthorized, "address not allowed")
	}
	if token == "" {
		return nil, "", errors.New(errors.ErrCodeUnauthenticated, "missing session token")
	}

	now := a.now().UTC()
	session, err := a.store.GetActiveSession(ctx, token, now)
	if err != nil {
		return nil, "", errors.Wrap(err, errors.ErrCodePersistence, "failed to load session")
	}
	if session == nil {
		return nil, "", errors.New(errors.ErrCodeUnauthenticated, "invalid or expired session")
	}

	if err := a.applyBinding(ctx, session, clientIP, userAgent); err != nil {
		return nil, "", err
	}

	var newToken string
	if a.refreshEnabled {
		newToken, err = generateToken()
		if err != nil {
			return nil, "", errors.Wrap(err, errors.ErrCodeInternal, "failed to rotate session token")
		}
		if err := a.store.RotateSessionToken(ctx, session.ID, newToken, now.Add(a.sessionTTL)); err != nil {
			return nil, "", errors.Wrap(err, errors.ErrCodePersistence, "failed to rotate session token")
		}
	}

	return session, newToken, nil
}

// ipAllowed checks the optional operator address allow-list. The check
// runs before any token lookup; entries are exact addresses or CIDRs.
func (a *AuthService) ipAllowed(clientIP string) bool {
	if len(a.allowlist) == 0 {
		return true
	}
	ip := net.ParseIP(clientIP)
	for _, entry := range a.allowlist {
		if strings.Contains(entry, "/") {
			if _, network, err := net.ParseCIDR(entry); err == nil && ip != nil && network.Contains(ip) {
				return true
			}
			continue
		}
		if entry == clientIP {
			return true
		}
	}
	return false
}

// applyBinding backfills empty client identity on first use and
// handles later mismatches per the configured policy: log-only keeps
// the session alive, enforce kills it.
func (a *AuthService) applyBinding(ctx context.Context, session *models.Session, clientIP, userAgent string) error {
	if session.ClientIP == "" && session.UserAgent == "" {
		if err := a.store.BackfillSessionClient(ctx, session.ID, clientIP, userAgent); err != nil {
			a.logger.WithError(err).Warn("Failed to backfill session client")
		}
		return nil
	}

	if session.ClientIP != "" && clientIP != "" && session.ClientIP != clientIP {
		fields := logrus.Fields{
			"sessionID": session.ID,
			"boundIP":   session.ClientIP,
			"seenIP":    clientIP,
		}
		if a.binding == models.BindingEnforce {
			a.logger.WithFields(fields).Warn("Session IP mismatch; deactivating session")
			if err := a.store.DeactivateSession(ctx, session.ID); err != nil {
				a.logger.WithError(err).Warn("Failed to deactivate mismatched session")
			}
			return errors.New(errors.ErrCodeUnauthorized, "session client mismatch")
		}
		a.logger.WithFields(fields).Warn("Session IP mismatch")
	}
	return nil
}

// Logout deactivates the session behind the token. Unknown tokens are
// a no-op.
func (a *AuthService) Logout(ctx context.Context, token string) error {
	session, err := a.store.GetActiveSession(ctx, token, a.now().UTC())
	if err != nil {
		return errors.Wrap(err, errors.ErrCodePersistence, "failed to load session")
	}
	if session == nil {
		return nil
	}
	if err := a.store.DeactivateSession(ctx, session.ID); err != nil {
		return errors.Wrap(err, errors.ErrCodePersistence, "failed to deactivate session")
	}
	a.recordActivity(ctx, session.ID, "logout", nil, "")
	a.logger.WithField("sessionID", session.ID).Info("Operator logged out")
	return nil
}

// RecordAction writes an operator action to the activity log.
func (a *AuthService) RecordAction(ctx context.Context, sessionID, action string, conversationID *string, details string) {
	a.recordActivity(ctx, sessionID, action, conversationID, details)
}

// Cleanup removes expired codes and sessions past the grace window.
func (a *AuthService) Cleanup(ctx context.Context) (int64, error) {
	return a.store.CleanupAuth(ctx, a.now().UTC(), constants.AuthCleanupGraceHours*time.Hour)
}

func (a *AuthService) recordActivity(ctx context.Context, sessionID, action string, conversationID *string, details string) {
	entry := &models.ActivityEntry{
		SessionID:      sessionID,
		Action:         action,
		ConversationID: conversationID,
		Details:        details,
		CreatedAt:      a.now().UTC(),
	}
	if err := a.store.SaveActivity(ctx, entry); err != nil {
		a.logger.WithError(err).WithField("action", action).Warn("Failed to record activity")
	}
}

func (a *AuthService) hashCode(code string) string {
	key := pbkdf2.Key([]byte(code), a.salt, constants.CodeHashIterations, constants.CodeHashKeyLen, sha256.New)
	return hex.EncodeToString(key)
}

func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < constants.CodeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", constants.CodeDigits, n), nil
}

func generateToken() (string, error) {
	buf := make([]byte, constants.SessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
