package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"livechat/internal/database"
	"livechat/internal/errors"
	"livechat/internal/httputil"
	"livechat/internal/middleware"
	"livechat/internal/models"
	"livechat/internal/ratelimit"
	"livechat/internal/service"
	"livechat/internal/validation"
	"livechat/pkg/telegram"
)

// NewTokenHeader carries a rotated session token back to the client.
const NewTokenHeader = "X-New-Token"

type sessionContextKey struct{}

type Server struct {
	cfg        *models.Config
	db         *database.Database
	relay      *service.Relay
	registry   *service.Registry
	auth       *service.AuthService
	notifier   *service.TelegramNotifier
	limiter    *ratelimit.Limiter
	logger     *logrus.Logger
	router     *mux.Router
	httpServer *http.Server
}

func NewServer(cfg *models.Config, db *database.Database, relay *service.Relay, registry *service.Registry, auth *service.AuthService, notifier *service.TelegramNotifier, limiter *ratelimit.Limiter, logger *logrus.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		db:       db,
		relay:    relay,
		registry: registry,
		auth:     auth,
		notifier: notifier,
		limiter:  limiter,
		logger:   logger,
		router:   mux.NewRouter(),
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.SecurityHeaders())
	s.router.Use(middleware.RequestSizeLimit(s.cfg.Server.MaxRequestBytes))
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			verbose := s.logger.IsLevelEnabled(logrus.DebugLevel)
			ctx := context.WithValue(r.Context(), service.VerboseContextKey, verbose)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/health/detailed", s.handleHealthDetailed()).Methods(http.MethodGet)

	// Live channels are long-lived; they bypass the API rate limiter
	// and apply their own per-channel message limits.
	s.router.HandleFunc("/ws/visitor", s.handleVisitorSocket())
	s.router.HandleFunc("/ws/operator", s.handleOperatorSocket())

	webhook := s.router.PathPrefix("/webhook").Subrouter()
	webhook.Use(middleware.WebhookObservability(s.logger, "telegram"))
	webhook.HandleFunc("/telegram", s.handleTelegramWebhook()).Methods(http.MethodPost)

	api := s.router.PathPrefix("/api/admin").Subrouter()
	api.Use(middleware.Observability(s.logger))
	api.Use(middleware.RateLimit(s.limiter, ratelimit.Limit{
		Rate:  s.cfg.RateLimit.APIPerSec,
		Burst: s.cfg.RateLimit.APIBurst,
	}, s.logger))

	api.HandleFunc("/request_otp", s.handleRequestOTP()).Methods(http.MethodPost)
	api.HandleFunc("/login", s.handleLogin()).Methods(http.MethodPost)
	api.HandleFunc("/logout", s.requireSession(s.handleLogout())).Methods(http.MethodPost)
	api.HandleFunc("/conversations", s.requireSession(s.handleListConversations())).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}", s.requireSession(s.handleDeleteConversation())).Methods(http.MethodDelete)
	api.HandleFunc("/conversations/{id}/messages", s.requireSession(s.handleListMessages())).Methods(http.MethodGet)
	api.HandleFunc("/send", s.requireSession(s.handleSend())).Methods(http.MethodPost)
	api.HandleFunc("/messages/{id}/read", s.requireSession(s.handleMarkRead())).Methods(http.MethodPost)
	api.HandleFunc("/statistics", s.requireSession(s.handleStatistics())).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// requireSession authenticates the bearer token, applies the binding
// policy and, when refresh is enabled, surfaces the rotated token in a
// response header.
func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, newToken, err := s.auth.Authenticate(r.Context(), bearerToken(r), httputil.GetClientIP(r), r.Header.Get("User-Agent"))
		if err != nil {
			s.writeError(w, err)
			return
		}
		if newToken != "" {
			w.Header().Set(NewTokenHeader, newToken)
		}
		ctx := context.WithValue(r.Context(), sessionContextKey{}, session)
		next(w, r.WithContext(ctx))
	}
}

func sessionFromContext(ctx context.Context) *models.Session {
	if session, ok := ctx.Value(sessionContextKey{}).(*models.Session); ok {
		return session
	}
	return nil
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) handleHealthDetailed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		visitors, operators := s.registry.Counts()
		status := "ok"
		code := http.StatusOK
		if _, err := s.db.Statistics(r.Context()); err != nil {
			s.logger.WithError(err).Error("Health check database probe failed")
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		s.writeJSON(w, code, map[string]interface{}{
			"status":         status,
			"version":        Version,
			"live_visitors":  visitors,
			"live_operators": operators,
		})
	}
}

func (s *Server) handleRequestOTP() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.auth.IssueCode(r.Context()); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "code sent"})
	}
}

func (s *Server) handleLogin() http.HandlerFunc {
	type loginRequest struct {
		Code string `json:"code"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, errors.New(errors.ErrCodeInvalidInput, "invalid request body"))
			return
		}
		session, err := s.auth.VerifyCode(r.Context(), req.Code, httputil.GetClientIP(r), r.Header.Get("User-Agent"))
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"token":      session.Token,
			"expires_at": session.ExpiresAt.Format(time.RFC3339),
		})
	}
}

func (s *Server) handleLogout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.auth.Logout(r.Context(), bearerToken(r)); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
	}
}

func (s *Server) handleListConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 50)
		offset := queryInt(r, "offset", 0)
		items, err := s.db.ListConversations(r.Context(), limit, offset)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if items == nil {
			items = []models.ConversationSummary{}
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": items})
	}
}

func (s *Server) handleListMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversationID := mux.Vars(r)["id"]
		if err := validation.ValidateConversationID(conversationID); err != nil {
			s.writeError(w, err)
			return
		}
		limit := queryInt(r, "limit", 50)
		var before time.Time
		if raw := r.URL.Query().Get("before"); raw != "" {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				s.writeError(w, errors.New(errors.ErrCodeInvalidInput, "before must be RFC 3339"))
				return
			}
			before = parsed
		}
		msgs, err := s.db.MessagesBefore(r.Context(), conversationID, before, limit)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if msgs == nil {
			msgs = []models.Message{}
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
	}
}

func (s *Server) handleDeleteConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversationID := mux.Vars(r)["id"]
		if err := s.relay.Delete(r.Context(), conversationID); err != nil {
			s.writeError(w, err)
			return
		}
		if session := sessionFromContext(r.Context()); session != nil {
			s.auth.RecordAction(r.Context(), session.ID, "delete_conversation", &conversationID, "")
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func (s *Server) handleSend() http.HandlerFunc {
	type sendRequest struct {
		ConversationID string `json:"conversation_id"`
		Content        string `json:"content"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, errors.New(errors.ErrCodeInvalidInput, "invalid request body"))
			return
		}
		if err := s.relay.RouteMessage(r.Context(), req.ConversationID, models.SenderOperator, req.Content, "api"); err != nil {
			s.writeError(w, err)
			return
		}
		if session := sessionFromContext(r.Context()); session != nil {
			s.auth.RecordAction(r.Context(), session.ID, "send_message", &req.ConversationID, "")
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
	}
}

func (s *Server) handleMarkRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		messageID := mux.Vars(r)["id"]
		if err := s.db.MarkMessageRead(r.Context(), messageID, time.Now().UTC()); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
	}
}

func (s *Server) handleStatistics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.db.Statistics(r.Context())
		if err != nil {
			s.writeError(w, err)
			return
		}
		stats.LiveVisitors, stats.LiveOperators = s.registry.Counts()
		s.writeJSON(w, http.StatusOK, stats)
	}
}

// handleTelegramWebhook accepts Bot API updates. Replies to bridged
// messages are routed back to their conversation; everything else is
// acknowledged and dropped so Telegram stops redelivering.
func (s *Server) handleTelegramWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Telegram.WebhookSecret != "" {
			got := r.Header.Get(telegram.SecretTokenHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Telegram.WebhookSecret)) != 1 {
				s.logger.WithField("remoteIP", httputil.GetClientIP(r)).Warn("Webhook secret mismatch")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}
		if s.cfg.Telegram.VerifySourceIP {
			clientIP := httputil.GetClientIP(r)
			if !telegram.IsWebhookSourceIP(clientIP) && !contains(s.cfg.Telegram.IPAllowlist, clientIP) {
				s.logger.WithField("remoteIP", clientIP).Warn("Webhook from unexpected source address")
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
		}

		var update telegram.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}

		// Always 200 past this point; webhook retries cannot fix
		// unroutable updates.
		w.WriteHeader(http.StatusOK)

		msg := update.Message
		if msg == nil || msg.Text == "" || msg.ReplyToMessage == nil {
			return
		}

		conversationID, err := s.notifier.ResolveReply(r.Context(), msg.Chat.ID, msg.ReplyToMessage.MessageID)
		if err != nil {
			s.logger.WithError(err).Error("Failed to resolve webhook reply")
			return
		}
		if conversationID == "" {
			s.logger.WithFields(logrus.Fields{
				"chatID":    msg.Chat.ID,
				"messageID": msg.ReplyToMessage.MessageID,
			}).Debug("Reply to unbridged message ignored")
			return
		}

		if err := s.relay.RouteMessage(r.Context(), conversationID, models.SenderBridge, msg.Text, "telegram"); err != nil {
			s.logger.WithError(err).WithField("conversationID", conversationID).
				Warn("Failed to route bridge reply")
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)
	status := statusForCode(code)
	if status >= 500 {
		s.logger.WithError(err).Error("Request failed")
	}
	s.writeJSON(w, status, map[string]string{
		"error": string(code),
		"detail": errors.GetUserMessage(err),
	})
}

func statusForCode(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case errors.ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case errors.ErrCodeUnauthorized:
		return http.StatusForbidden
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeConversationClosed:
		return http.StatusConflict
	case errors.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case errors.ErrCodeCapacity:
		return http.StatusServiceUnavailable
	case errors.ErrCodeBridgeUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
