package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/support-chat/internal/auth"
	"github.com/spec-kit/support-chat/internal/config"
	"github.com/spec-kit/support-chat/internal/domain"
	"github.com/spec-kit/support-chat/internal/realtime"
	"github.com/spec-kit/support-chat/internal/service"
	apperrors "github.com/spec-kit/support-chat/pkg/util/errorutil"
)

const identityKey = "ws_identity"

const (
	maxEscapedRuneBytes = 12 // \ud83d\ude00
	envelopeHeadroom    = 1024
)

// CodeUpgradeRequired is returned to plain HTTP requests on the socket route.
const CodeUpgradeRequired = "UPGRADE_REQUIRED"

// TicketActions is the slice of the ticket engine the socket drives.
type TicketActions interface {
	CanJoin(ctx context.Context, actor *domain.Identity, ticketID string) error
	PostMessage(ctx context.Context, actor *domain.Identity, ticketID, body string) (*domain.ChatMessage, error)
	HintInactivity(ctx context.Context, actor *domain.Identity, ticketID string) (bool, error)
}

// Dependencies bundles what the socket endpoint needs.
type Dependencies struct {
	Authenticator auth.Authenticator
	Tickets       TicketActions
	Registry      *realtime.Registry
	Broadcaster   *realtime.Broadcaster
	Config        config.RealtimeConfig
	Logger        *zap.Logger
}

// Handler serves the realtime endpoint.
type Handler struct {
	authenticator auth.Authenticator
	tickets       TicketActions
	registry      *realtime.Registry
	broadcaster   *realtime.Broadcaster
	cfg           config.RealtimeConfig
	logger        *zap.Logger
}

// NewHandler wires the socket endpoint.
func NewHandler(deps Dependencies) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		authenticator: deps.Authenticator,
		tickets:       deps.Tickets,
		registry:      deps.Registry,
		broadcaster:   deps.Broadcaster,
		cfg:           deps.Config,
		logger:        logger.Named("realtime"),
	}
}

// Upgrade authenticates the handshake. A missing or invalid token is
// rejected before any session exists.
func (h *Handler) Upgrade(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		bearer, err := auth.BearerToken(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return err
		}
		token = bearer
	}
	identity, err := h.authenticator.Authenticate(c.UserContext(), token)
	if err != nil {
		return err
	}
	if !websocket.IsWebSocketUpgrade(c) {
		return apperrors.NewDomainError(CodeUpgradeRequired, "websocket upgrade required", http.StatusUpgradeRequired, nil)
	}
	c.Locals(identityKey, identity)
	return c.Next()
}

// Serve returns the fiber handler that runs one connection.
func (h *Handler) Serve() fiber.Handler {
	return websocket.New(h.serve, websocket.Config{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	})
}

func (h *Handler) serve(conn *websocket.Conn) {
	identity, ok := conn.Locals(identityKey).(*domain.Identity)
	if !ok {
		_ = conn.Close()
		return
	}
	connID := uuid.NewString()
	sess, err := h.registry.Register(connID, identity)
	if err != nil {
		h.logger.Warn("register session failed", zap.String("user_id", identity.UserID), zap.Error(err))
		_ = conn.Close()
		return
	}
	if identity.Role.IsStaff() {
		if err := h.registry.Join(connID, realtime.MembersRoom); err != nil {
			h.logger.Warn("join members room failed", zap.String("conn_id", connID), zap.Error(err))
		}
	}
	h.logger.Info("session connected",
		zap.String("conn_id", connID),
		zap.String("user_id", identity.UserID),
		zap.String("role", string(identity.Role)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(conn, sess)
	}()

	h.broadcaster.Send(sess, realtime.Event{
		Name: realtime.EventConnectSuccess,
		Data: realtime.ConnectSuccess{UserID: identity.UserID, Message: "Connected successfully"},
	})
	h.readPump(ctx, conn, sess)

	cancel()
	h.registry.Unregister(connID)
	<-writerDone
	h.logger.Info("session disconnected", zap.String("conn_id", connID), zap.String("user_id", identity.UserID))
}

func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, sess *realtime.Session) {
	pongWait := h.cfg.PongWait()
	conn.SetReadLimit(h.readLimit())
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("read failed", zap.String("conn_id", sess.ID), zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		h.dispatch(ctx, sess, frame)
	}
}

// readLimit never drops below a frame carrying the longest accepted
// message, even with every rune JSON-escaped as a surrogate pair.
func (h *Handler) readLimit() int64 {
	floor := int64(service.MaxMessageLength*maxEscapedRuneBytes + envelopeHeadroom)
	if configured := int64(h.cfg.MaxMessageBytes); configured > floor {
		return configured
	}
	return floor
}

func (h *Handler) writePump(conn *websocket.Conn, sess *realtime.Session) {
	ticker := time.NewTicker(h.cfg.PingPeriod())
	defer ticker.Stop()
	writeTimeout := h.cfg.WriteTimeout()

	for {
		select {
		case frame := <-sess.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.logger.Debug("write failed", zap.String("conn_id", sess.ID), zap.Error(err))
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				_ = conn.Close()
				return
			}
		case <-sess.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			_ = conn.Close()
			return
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, sess *realtime.Session, frame []byte) {
	inbound, err := realtime.DecodeInbound(frame)
	if err == nil {
		switch req := inbound.(type) {
		case realtime.JoinRequest:
			err = h.join(ctx, sess, req)
		case realtime.LeaveRequest:
			err = h.registry.Leave(sess.ID, realtime.TicketRoom(req.TicketID))
		case realtime.MessageRequest:
			err = h.message(ctx, sess, req)
		case realtime.InactivityHint:
			err = h.inactivity(ctx, sess, req)
		}
	}
	if err != nil {
		h.logger.Debug("request failed",
			zap.String("conn_id", sess.ID),
			zap.String("user_id", sess.Identity.UserID),
			zap.Error(err),
		)
		h.broadcaster.Send(sess, realtime.ErrorEvent(err))
	}
}

func (h *Handler) join(ctx context.Context, sess *realtime.Session, req realtime.JoinRequest) error {
	if err := h.tickets.CanJoin(ctx, &sess.Identity, req.TicketID); err != nil {
		return err
	}
	room := realtime.TicketRoom(req.TicketID)
	if err := h.registry.Join(sess.ID, room); err != nil {
		return err
	}
	h.broadcaster.Send(sess, realtime.Event{
		Name: realtime.EventJoined,
		Data: realtime.Joined{Room: room, TicketID: req.TicketID},
	})
	return nil
}

func (h *Handler) message(ctx context.Context, sess *realtime.Session, req realtime.MessageRequest) error {
	if req.SenderID != nil && *req.SenderID != sess.Identity.UserID {
		return apperrors.NewForbidden("sender_id does not match the authenticated user")
	}
	msg, err := h.tickets.PostMessage(ctx, &sess.Identity, req.TicketID, req.Message)
	if err != nil {
		return err
	}
	h.broadcaster.Send(sess, realtime.Event{
		Name: realtime.EventMessageSent,
		Data: realtime.MessageSent{Success: true, Message: "Message sent", Timestamp: msg.CreatedAt},
	})
	return nil
}

func (h *Handler) inactivity(ctx context.Context, sess *realtime.Session, req realtime.InactivityHint) error {
	closed, err := h.tickets.HintInactivity(ctx, &sess.Identity, req.TicketID)
	if err != nil {
		return err
	}
	if !closed {
		h.logger.Debug("inactivity hint ignored", zap.String("ticket_id", req.TicketID), zap.String("user_id", sess.Identity.UserID))
	}
	return nil
}
