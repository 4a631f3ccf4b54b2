package ws_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/support-chat/internal/api/http"
	"github.com/spec-kit/support-chat/internal/api/ws"
	"github.com/spec-kit/support-chat/internal/auth"
	"github.com/spec-kit/support-chat/internal/config"
	"github.com/spec-kit/support-chat/internal/domain"
	"github.com/spec-kit/support-chat/internal/events"
	"github.com/spec-kit/support-chat/internal/observability"
	"github.com/spec-kit/support-chat/internal/realtime"
	"github.com/spec-kit/support-chat/internal/repository/memstore"
	"github.com/spec-kit/support-chat/internal/service"
)

type harness struct {
	addr     string
	auth     *service.AuthService
	tickets  *service.TicketService
	registry *realtime.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := zap.NewNop()
	store := memstore.New().Store()
	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher(logger)

	authService := service.NewAuthService(config.AuthConfig{
		JWTSecret:             "test-secret",
		AccessTokenTTLMinutes: 30,
		BcryptCost:            4,
	}, service.AuthDependencies{
		UserRepo:    store.Users,
		Revocations: auth.NewRevocationStore(client),
		Logger:      logger,
	})
	ticketService := service.NewTicketService(service.TicketDependencies{
		Store:      store,
		Dispatcher: dispatcher,
		Logger:     logger,
	})

	broadcaster := realtime.NewBroadcaster(logger, metrics)
	registry := realtime.NewRegistry(broadcaster, 32, logger, metrics)
	realtime.NewBridge(broadcaster, logger).Register(dispatcher)

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          httptransport.ErrorHandler(logger),
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, httptransport.MiddlewareConfig{})
	socket := ws.NewHandler(ws.Dependencies{
		Authenticator: authService,
		Tickets:       ticketService,
		Registry:      registry,
		Broadcaster:   broadcaster,
		Config:        config.RealtimeConfig{SendQueueSize: 32, MaxMessageBytes: 10000},
		Logger:        logger,
	})
	app.Get("/ws", socket.Upgrade, socket.Serve())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() {
		registry.Close()
		_ = app.Shutdown()
	})

	return &harness{addr: ln.Addr().String(), auth: authService, tickets: ticketService, registry: registry}
}

type account struct {
	token    string
	identity *domain.Identity
}

func (h *harness) user(t *testing.T, email string) account {
	t.Helper()
	ctx := context.Background()
	session, err := h.auth.Signup(ctx, service.SignupInput{
		FirstName: "Test",
		LastName:  "User",
		Email:     email,
		Password:  "secret-password",
	})
	if err != nil {
		t.Fatal(err)
	}
	return h.account(t, session.Token.Token)
}

func (h *harness) member(t *testing.T, email string) account {
	t.Helper()
	ctx := context.Background()
	if err := h.auth.EnsureBootstrapAdmin(ctx, "admin@example.com", "admin-password"); err != nil {
		t.Fatal(err)
	}
	admin, err := h.auth.Login(ctx, "admin@example.com", "admin-password")
	if err != nil {
		t.Fatal(err)
	}
	adminIdentity := h.account(t, admin.Token.Token).identity
	if _, err := h.auth.CreateMember(ctx, adminIdentity, service.SignupInput{
		FirstName: "Support",
		LastName:  "Member",
		Email:     email,
		Password:  "member-password",
	}); err != nil {
		t.Fatal(err)
	}
	session, err := h.auth.Login(ctx, email, "member-password")
	if err != nil {
		t.Fatal(err)
	}
	return h.account(t, session.Token.Token)
}

func (h *harness) account(t *testing.T, token string) account {
	t.Helper()
	identity, err := h.auth.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatal(err)
	}
	return account{token: token, identity: identity}
}

func (h *harness) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+h.addr+"/ws?token="+token, nil)
	if err != nil {
		t.Fatalf("dial: %v (resp %v)", err, resp)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if name, _ := readEvent(t, conn); name != realtime.EventConnectSuccess {
		t.Fatalf("first event = %s", name)
	}
	return conn
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func readEvent(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read: %v", err)
	}
	return f.Event, f.Data
}

// expectEvent reads until name arrives, skipping unrelated frames.
func expectEvent(t *testing.T, conn *websocket.Conn, name string) map[string]any {
	t.Helper()
	for i := 0; i < 10; i++ {
		got, data := readEvent(t, conn)
		if got != name {
			continue
		}
		var out map[string]any
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatal(err)
		}
		return out
	}
	t.Fatalf("event %s never arrived", name)
	return nil
}

func send(t *testing.T, conn *websocket.Conn, name string, data any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"event": name, "data": data}); err != nil {
		t.Fatal(err)
	}
}

func TestHandshakeRequiresValidToken(t *testing.T) {
	h := newHarness(t)

	for _, url := range []string{
		"ws://" + h.addr + "/ws",
		"ws://" + h.addr + "/ws?token=garbage",
	} {
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			t.Fatalf("%s: expected handshake failure", url)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: resp = %v", url, resp)
		}
	}
	if h.registry.Count() != 0 {
		t.Fatalf("sessions = %d", h.registry.Count())
	}

	owner := h.user(t, "owner@example.com")
	header := http.Header{}
	header.Set("Authorization", "Bearer "+owner.token)
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+h.addr+"/ws", header)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	data := expectEvent(t, conn, realtime.EventConnectSuccess)
	if data["user_id"] != owner.identity.UserID {
		t.Fatalf("connect_success = %v", data)
	}

	resp, err := http.Get("http://" + h.addr + "/ws?token=" + owner.token)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Fatalf("plain GET status = %d", resp.StatusCode)
	}
}

func TestRealtimeConversation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := h.user(t, "owner@example.com")
	member := h.member(t, "member@example.com")
	stranger := h.user(t, "stranger@example.com")

	ownerConn := h.dial(t, owner.token)
	memberConn := h.dial(t, member.token)
	strangerConn := h.dial(t, stranger.token)

	ticket, err := h.tickets.CreateTicket(ctx, owner.identity, service.TicketCreateInput{
		Category:    "billing",
		Urgency:     domain.UrgencyHigh,
		Description: "charged twice",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := expectEvent(t, memberConn, string(events.EventNewTicket)); got["ticket_id"] != ticket.ID {
		t.Fatalf("new_ticket = %v", got)
	}

	if _, err := h.tickets.AcceptTicket(ctx, member.identity, ticket.ID); err != nil {
		t.Fatal(err)
	}
	if got := expectEvent(t, ownerConn, string(events.EventTicketAccepted)); got["member_id"] != member.identity.UserID {
		t.Fatalf("ticket_accepted = %v", got)
	}

	send(t, ownerConn, realtime.EventJoin, map[string]any{"ticket_id": ticket.ID})
	if got := expectEvent(t, ownerConn, realtime.EventJoined); got["room"] != realtime.TicketRoom(ticket.ID) {
		t.Fatalf("joined = %v", got)
	}
	send(t, memberConn, realtime.EventJoin, map[string]any{"ticket_id": ticket.ID})
	expectEvent(t, memberConn, realtime.EventJoined)

	send(t, strangerConn, realtime.EventJoin, map[string]any{"ticket_id": ticket.ID})
	if got := expectEvent(t, strangerConn, realtime.EventError); got["code"] != "FORBIDDEN" {
		t.Fatalf("stranger join = %v", got)
	}

	send(t, ownerConn, realtime.EventMessage, map[string]any{
		"ticket_id": ticket.ID,
		"sender_id": owner.identity.UserID,
		"message":   "hello there",
	})
	if got := expectEvent(t, ownerConn, realtime.EventMessageSent); got["success"] != true {
		t.Fatalf("message_sent = %v", got)
	}
	got := expectEvent(t, memberConn, realtime.EventMessage)
	if got["message"] != "hello there" || got["sender_id"] != owner.identity.UserID || got["is_system"] != false {
		t.Fatalf("member received %v", got)
	}

	send(t, memberConn, realtime.EventMessage, map[string]any{
		"ticket_id": ticket.ID,
		"sender_id": owner.identity.UserID,
		"message":   "spoofed",
	})
	if got := expectEvent(t, memberConn, realtime.EventError); got["code"] != "FORBIDDEN" {
		t.Fatalf("spoof = %v", got)
	}

	send(t, ownerConn, "shout", map[string]any{"ticket_id": ticket.ID})
	if got := expectEvent(t, ownerConn, realtime.EventError); got["code"] != "VALIDATION_FAILED" {
		t.Fatalf("unknown event = %v", got)
	}

	send(t, ownerConn, realtime.EventInactivityTimeout, map[string]any{"ticket_id": ticket.ID})

	if _, err := h.tickets.CloseTicket(ctx, member.identity, ticket.ID, service.TicketCloseInput{Reason: "resolved"}); err != nil {
		t.Fatal(err)
	}
	closed := expectEvent(t, ownerConn, string(events.EventTicketClosed))
	if closed["reason"] != "resolved" {
		t.Fatalf("ticket_closed = %v", closed)
	}

	send(t, ownerConn, realtime.EventMessage, map[string]any{"ticket_id": ticket.ID, "message": "after close"})
	if got := expectEvent(t, ownerConn, realtime.EventError); got["code"] != "INVALID_STATE" {
		t.Fatalf("post after close = %v", got)
	}
}

func TestDisconnectUnregistersSession(t *testing.T) {
	h := newHarness(t)
	owner := h.user(t, "owner@example.com")

	conn := h.dial(t, owner.token)
	if h.registry.Count() != 1 {
		t.Fatalf("sessions = %d", h.registry.Count())
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	for h.registry.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session still registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestMessageAtLengthLimitKeepsConnection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := h.user(t, "owner@example.com")
	member := h.member(t, "member@example.com")

	ticket, err := h.tickets.CreateTicket(ctx, owner.identity, service.TicketCreateInput{
		Category:    "billing",
		Urgency:     domain.UrgencyLow,
		Description: "long story",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.tickets.AcceptTicket(ctx, member.identity, ticket.ID); err != nil {
		t.Fatal(err)
	}
	conn := h.dial(t, owner.token)

	longest := strings.Repeat("界", service.MaxMessageLength)
	send(t, conn, realtime.EventMessage, map[string]any{"ticket_id": ticket.ID, "message": longest})
	if got := expectEvent(t, conn, realtime.EventMessageSent); got["success"] != true {
		t.Fatalf("message_sent = %v", got)
	}

	escaped := `{"event":"message","data":{"ticket_id":"` + ticket.ID + `","message":"` +
		strings.Repeat(`\ud83d\ude00`, service.MaxMessageLength) + `"}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(escaped)); err != nil {
		t.Fatal(err)
	}
	expectEvent(t, conn, realtime.EventMessageSent)

	send(t, conn, realtime.EventMessage, map[string]any{"ticket_id": ticket.ID, "message": longest + "!"})
	if got := expectEvent(t, conn, realtime.EventError); got["code"] != "VALIDATION_FAILED" {
		t.Fatalf("over limit = %v", got)
	}

	send(t, conn, realtime.EventMessage, map[string]any{"ticket_id": ticket.ID, "message": "still here"})
	expectEvent(t, conn, realtime.EventMessageSent)
}
