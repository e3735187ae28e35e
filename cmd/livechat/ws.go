package main

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"livechat/internal/errors"
	"livechat/internal/httputil"
	"livechat/internal/models"
	"livechat/internal/ratelimit"
	"livechat/internal/service"
)

// handshakeTimeout bounds how long a fresh socket may take to send its
// first event.
const handshakeTimeout = 30 * time.Second

// wsChannel adapts a websocket connection to the relay's channel
// abstraction.
type wsChannel struct {
	conn *websocket.Conn
}

func (c *wsChannel) Send(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsChannel) Close(code int, reason string) error {
	return c.conn.Close(websocket.StatusCode(code), reason)
}

func (s *Server) acceptSocket(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	opts := &websocket.AcceptOptions{}
	if len(s.cfg.Server.AllowedOrigins) > 0 {
		opts.OriginPatterns = s.cfg.Server.AllowedOrigins
	} else {
		// No origin allowlist configured: browser-agnostic deployments
		// (native apps, tests) still need to connect.
		opts.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(int64(s.cfg.Relay.MaxEventBytes))
	return conn, nil
}

// handleVisitorSocket serves the anonymous visitor side of the relay.
// The first event must be either join or resume; everything after is
// message or typing traffic for the bound conversation.
func (s *Server) handleVisitorSocket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.acceptSocket(w, r)
		if err != nil {
			s.logger.WithError(err).Debug("Visitor socket accept failed")
			return
		}
		ch := &wsChannel{conn: conn}

		handshakeCtx, cancel := context.WithTimeout(r.Context(), handshakeTimeout)
		first, err := readEvent(handshakeCtx, conn)
		cancel()
		if err != nil {
			_ = conn.Close(websocket.StatusPolicyViolation, "expected join or resume")
			return
		}

		var result *service.JoinResult
		switch first.Type {
		case models.EventJoin:
			result, err = s.relay.Join(r.Context(), first.DisplayName, httputil.GetClientIP(r), r.Header.Get("User-Agent"), ch)
		case models.EventResume:
			result, err = s.relay.Resume(r.Context(), first.ConversationID, ch)
		default:
			_ = conn.Close(websocket.StatusPolicyViolation, "expected join or resume")
			return
		}
		if err != nil {
			s.closeWithError(ch, err)
			return
		}
		conversationID := result.ConversationID
		defer func() {
			s.registry.UnbindVisitor(conversationID, ch)
			_ = conn.Close(websocket.StatusNormalClosure, "")
		}()

		if err := s.sendEvent(r.Context(), ch, models.Event{
			Type:           models.EventJoined,
			ConversationID: conversationID,
		}); err != nil {
			return
		}
		if first.Type == models.EventResume {
			if err := s.sendEvent(r.Context(), ch, models.Event{
				Type:           models.EventHistory,
				ConversationID: conversationID,
				Messages:       result.History,
			}); err != nil {
				return
			}
		}

		s.visitorLoop(r.Context(), conversationID, conn, ch)
	}
}

func (s *Server) visitorLoop(ctx context.Context, conversationID string, conn *websocket.Conn, ch *wsChannel) {
	channelLimit := ratelimit.Limit{
		Rate:  s.cfg.RateLimit.ChannelPerSec,
		Burst: s.cfg.RateLimit.ChannelBurst,
	}

	for {
		ev, err := readEvent(ctx, conn)
		if err != nil {
			return
		}

		switch ev.Type {
		case models.EventMessage:
			if !s.limiter.AllowChannel(conversationID, channelLimit) {
				_ = s.sendEvent(ctx, ch, models.ErrorEvent(string(errors.ErrCodeRateLimited)))
				continue
			}
			err = s.relay.RouteMessage(ctx, conversationID, models.SenderVisitor, ev.Content, "ws")
		case models.EventTyping:
			err = s.relay.Typing(ctx, conversationID, models.SenderVisitor)
		default:
			_ = s.sendEvent(ctx, ch, models.ErrorEvent(string(errors.ErrCodeInvalidInput)))
			continue
		}

		if err != nil {
			if errors.IsCode(err, errors.ErrCodeNotFound) || errors.IsCode(err, errors.ErrCodeConversationClosed) {
				_ = s.sendEvent(ctx, ch, models.ErrorEvent(string(errors.GetCode(err))))
				return
			}
			s.logger.WithError(err).WithField("conversationID", conversationID).
				Warn("Visitor event handling failed")
			_ = s.sendEvent(ctx, ch, models.ErrorEvent(string(errors.GetCode(err))))
		}
	}
}

// handleOperatorSocket serves authenticated operator channels. The
// session token arrives as a query parameter because browser websocket
// clients cannot set headers.
func (s *Server) handleOperatorSocket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = bearerToken(r)
		}
		session, _, err := s.auth.Authenticate(r.Context(), token, httputil.GetClientIP(r), r.Header.Get("User-Agent"))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := s.acceptSocket(w, r)
		if err != nil {
			s.logger.WithError(err).Debug("Operator socket accept failed")
			return
		}
		ch := &wsChannel{conn: conn}

		if err := s.registry.AddOperator(ch); err != nil {
			s.closeWithError(ch, err)
			return
		}
		defer func() {
			s.registry.RemoveOperator(ch)
			_ = conn.Close(websocket.StatusNormalClosure, "")
		}()

		snapshot, err := s.relay.OperatorSnapshot(r.Context())
		if err != nil {
			s.logger.WithError(err).Error("Failed to build operator snapshot")
		} else if err := s.sendEvent(r.Context(), ch, *snapshot); err != nil {
			return
		}

		s.logger.WithField("sessionID", session.ID).Info("Operator channel attached")
		s.operatorLoop(r.Context(), session, conn, ch)
	}
}

func (s *Server) operatorLoop(ctx context.Context, session *models.Session, conn *websocket.Conn, ch *wsChannel) {
	for {
		ev, err := readEvent(ctx, conn)
		if err != nil {
			return
		}

		switch ev.Type {
		case models.EventMessage:
			err = s.relay.RouteMessage(ctx, ev.ConversationID, models.SenderOperator, ev.Content, "ws")
			if err == nil {
				s.auth.RecordAction(ctx, session.ID, "send_message", &ev.ConversationID, "")
			}
		case models.EventTyping:
			err = s.relay.Typing(ctx, ev.ConversationID, models.SenderOperator)
		case models.EventDelete:
			err = s.relay.Delete(ctx, ev.ConversationID)
			if err == nil {
				s.auth.RecordAction(ctx, session.ID, "delete_conversation", &ev.ConversationID, "")
			}
		default:
			_ = s.sendEvent(ctx, ch, models.ErrorEvent(string(errors.ErrCodeInvalidInput)))
			continue
		}

		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"sessionID":      session.ID,
				"conversationID": ev.ConversationID,
			}).Warn("Operator event handling failed")
			_ = s.sendEvent(ctx, ch, models.ErrorEvent(string(errors.GetCode(err))))
		}
	}
}

func readEvent(ctx context.Context, conn *websocket.Conn) (models.Event, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return models.Event{}, err
	}
	ev, err := models.DecodeEvent(data)
	if err != nil {
		return models.Event{}, err
	}
	return ev, nil
}

func (s *Server) sendEvent(ctx context.Context, ch *wsChannel, ev models.Event) error {
	data, err := ev.Encode()
	if err != nil {
		return err
	}
	return ch.Send(ctx, data)
}

// closeWithError maps an application error to a websocket close.
func (s *Server) closeWithError(ch *wsChannel, err error) {
	code := service.CloseInternal
	reason := "internal error"
	switch errors.GetCode(err) {
	case errors.ErrCodeCapacity:
		code = service.ClosePolicy
		reason = service.CloseReasonCapacity
	case errors.ErrCodeNotFound:
		code = service.ClosePolicy
		reason = "conversation not found"
	case errors.ErrCodeInvalidInput:
		code = service.ClosePolicy
		reason = "invalid request"
	}
	_ = ch.Close(code, reason)
}
