package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-chat/internal/domain"
	"github.com/spec-kit/support-chat/internal/events"
	"github.com/spec-kit/support-chat/internal/repository"
	"github.com/spec-kit/support-chat/internal/repository/memstore"
	apperrors "github.com/spec-kit/support-chat/pkg/util/errorutil"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handle(_ context.Context, event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc     *TicketService
	store   repository.Store
	events  *recorder
	clock   *fakeClock
	owner   *domain.Identity
	memberA *domain.Identity
	memberB *domain.Identity
	admin   *domain.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New().Store()
	dispatcher := events.NewInMemoryDispatcher(zap.NewNop())
	rec := &recorder{}
	for _, eventType := range events.AllEventTypes() {
		dispatcher.Subscribe(eventType, rec.handle)
	}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}

	f := &fixture{
		store:   store,
		events:  rec,
		clock:   clock,
		owner:   &domain.Identity{UserID: "owner", Role: domain.RoleUser},
		memberA: &domain.Identity{UserID: "member-a", Role: domain.RoleMember},
		memberB: &domain.Identity{UserID: "member-b", Role: domain.RoleMember},
		admin:   &domain.Identity{UserID: "admin", Role: domain.RoleAdmin},
	}
	for _, id := range []*domain.Identity{f.owner, f.memberA, f.memberB, f.admin} {
		err := store.Users.Create(context.Background(), &domain.User{
			ID:    id.UserID,
			Email: id.UserID + "@example.com",
			Role:  id.Role,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	f.svc = NewTicketService(TicketDependencies{
		Store:               store,
		Dispatcher:          dispatcher,
		Logger:              zap.NewNop(),
		StoreTimeout:        time.Second,
		InactivityThreshold: 24 * time.Hour,
		Clock:               clock.Now,
	})
	return f
}

func (f *fixture) createTicket(t *testing.T) *domain.Ticket {
	t.Helper()
	ticket, err := f.svc.CreateTicket(context.Background(), f.owner, TicketCreateInput{
		Category:    "billing",
		Urgency:     domain.UrgencyHigh,
		Description: "charged twice",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return ticket
}

func (f *fixture) assignedTicket(t *testing.T) *domain.Ticket {
	t.Helper()
	ticket := f.createTicket(t)
	if _, err := f.svc.AcceptTicket(context.Background(), f.memberA, ticket.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	return ticket
}

func (f *fixture) closedTicket(t *testing.T) *domain.Ticket {
	t.Helper()
	ticket := f.assignedTicket(t)
	if _, err := f.svc.CloseTicket(context.Background(), f.memberA, ticket.ID, TicketCloseInput{Reason: "resolved"}); err != nil {
		t.Fatalf("close: %v", err)
	}
	return ticket
}

func (f *fixture) rejectedTicket(t *testing.T) *domain.Ticket {
	t.Helper()
	ticket := f.createTicket(t)
	if _, err := f.svc.RejectTicket(context.Background(), f.memberA, ticket.ID); err != nil {
		t.Fatalf("reject: %v", err)
	}
	return ticket
}

func requireKind(t *testing.T, err error, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("err = %v, want kind %v", err, apperrors.ToDomainError(kind).Code)
	}
}

func TestAcceptScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ticket := f.createTicket(t)
	if ticket.Status != domain.TicketStatusOpen {
		t.Fatalf("status = %s, want open", ticket.Status)
	}

	accepted, err := f.svc.AcceptTicket(ctx, f.memberA, ticket.ID)
	if err != nil {
		t.Fatal(err)
	}
	if accepted.Status != domain.TicketStatusAssigned || !accepted.IsAssignee(f.memberA.UserID) {
		t.Fatalf("ticket = %+v", accepted)
	}
	if accepted.LastMessageAt == nil || !accepted.LastMessageAt.Equal(f.clock.Now()) {
		t.Fatalf("last_message_at = %v", accepted.LastMessageAt)
	}

	msgs, err := f.svc.ListMessages(ctx, f.owner, ticket.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || !msgs[0].IsSystem || msgs[0].SenderID != nil || msgs[0].Body != AcceptedMessage {
		t.Fatalf("messages = %+v", msgs)
	}

	types := f.events.types()
	if len(types) != 2 || types[0] != events.EventNewTicket || types[1] != events.EventTicketAccepted {
		t.Fatalf("events = %v", types)
	}
	f.events.mu.Lock()
	acceptedEvent := f.events.events[1]
	f.events.mu.Unlock()
	if acceptedEvent.OwnerID != f.owner.UserID {
		t.Fatalf("event owner = %q", acceptedEvent.OwnerID)
	}
	payload := acceptedEvent.Payload.(events.TicketDecisionPayload)
	if payload.MemberID != f.memberA.UserID || payload.TicketID != ticket.ID {
		t.Fatalf("payload = %+v", payload)
	}

	_, err = f.svc.AcceptTicket(ctx, f.memberB, ticket.ID)
	requireKind(t, err, apperrors.ErrInvalidState)
	if got := len(f.events.types()); got != 2 {
		t.Fatalf("failed accept published an event; %d events", got)
	}
}

func TestConcurrentAcceptHasSingleWinner(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t)

	const contenders = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		invalid   int
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		member := &domain.Identity{UserID: f.memberA.UserID, Role: domain.RoleMember}
		if i%2 == 1 {
			member.UserID = f.memberB.UserID
		}
		go func() {
			defer wg.Done()
			_, err := f.svc.AcceptTicket(context.Background(), member, ticket.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, apperrors.ErrInvalidState):
				invalid++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || invalid != contenders-1 {
		t.Fatalf("successes=%d invalid=%d", successes, invalid)
	}
	msgs, _ := f.svc.ListMessages(context.Background(), f.owner, ticket.ID)
	if len(msgs) != 1 {
		t.Fatalf("system messages = %d, want 1", len(msgs))
	}
}

func TestPostMessageOnClosedTicketAlwaysInvalidState(t *testing.T) {
	f := newFixture(t)
	ticket := f.closedTicket(t)

	for _, actor := range []*domain.Identity{f.owner, f.memberA, f.memberB, f.admin} {
		_, err := f.svc.PostMessage(context.Background(), actor, ticket.ID, "hello?")
		requireKind(t, err, apperrors.ErrInvalidState)
	}
}

func TestPostMessageOnRejectedTicket(t *testing.T) {
	f := newFixture(t)
	ticket := f.rejectedTicket(t)
	_, err := f.svc.PostMessage(context.Background(), f.owner, ticket.ID, "hello?")
	requireKind(t, err, apperrors.ErrInvalidState)
}

func TestReopenOnlyFromClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]*domain.Ticket{
		"open":     f.createTicket(t),
		"assigned": f.assignedTicket(t),
		"rejected": f.rejectedTicket(t),
	}
	for name, ticket := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.ReopenTicket(ctx, f.owner, ticket.ID)
			requireKind(t, err, apperrors.ErrInvalidState)
		})
	}

	closed := f.closedTicket(t)
	reopened, err := f.svc.ReopenTicket(ctx, f.owner, closed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Status != domain.TicketStatusAssigned || !reopened.IsAssignee(f.memberA.UserID) {
		t.Fatalf("reopened = %+v", reopened)
	}
	if reopened.ClosureReason != nil || reopened.ReassignedTo != nil {
		t.Fatal("reopen must clear closure fields")
	}
	msgs, _ := f.svc.ListMessages(ctx, f.owner, closed.ID)
	if last := msgs[len(msgs)-1]; last.Body != ReopenedMessage || !last.IsSystem {
		t.Fatalf("last message = %+v", last)
	}
}

func TestReopenByStranger(t *testing.T) {
	f := newFixture(t)
	ticket := f.closedTicket(t)
	_, err := f.svc.ReopenTicket(context.Background(), f.memberB, ticket.ID)
	requireKind(t, err, apperrors.ErrForbidden)
}

func TestInterleavedMessagesComeBackOrdered(t *testing.T) {
	f := newFixture(t)
	ticket := f.assignedTicket(t)
	ctx := context.Background()

	const perActor = 10
	var wg sync.WaitGroup
	for _, actor := range []*domain.Identity{f.owner, f.memberA} {
		actor := actor
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perActor; i++ {
				f.clock.Advance(time.Millisecond)
				if _, err := f.svc.PostMessage(ctx, actor, ticket.ID, "ping"); err != nil {
					t.Errorf("post: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	msgs, err := f.svc.ListMessages(ctx, f.memberA, ticket.ID)
	if err != nil {
		t.Fatal(err)
	}
	var user []domain.ChatMessage
	for _, msg := range msgs {
		if !msg.IsSystem {
			user = append(user, msg)
		}
	}
	if len(user) != 2*perActor {
		t.Fatalf("messages = %d, want %d", len(user), 2*perActor)
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Fatalf("message %d out of order", i)
		}
	}
}

func TestPostMessagePermissionsAndValidation(t *testing.T) {
	f := newFixture(t)
	ticket := f.assignedTicket(t)
	ctx := context.Background()

	_, err := f.svc.PostMessage(ctx, f.memberB, ticket.ID, "hi")
	requireKind(t, err, apperrors.ErrForbidden)

	_, err = f.svc.PostMessage(ctx, f.owner, ticket.ID, "   ")
	requireKind(t, err, apperrors.ErrValidation)

	long := make([]byte, MaxMessageLength+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err = f.svc.PostMessage(ctx, f.owner, ticket.ID, string(long))
	requireKind(t, err, apperrors.ErrValidation)

	_, err = f.svc.PostMessage(ctx, f.owner, "missing", "hi")
	requireKind(t, err, apperrors.ErrNotFound)

	f.events.reset()
	msg, err := f.svc.PostMessage(ctx, f.owner, ticket.ID, "  my card was charged twice ")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Body != "my card was charged twice" || msg.SenderID == nil || *msg.SenderID != f.owner.UserID {
		t.Fatalf("message = %+v", msg)
	}
	if types := f.events.types(); len(types) != 1 || types[0] != events.EventMessage {
		t.Fatalf("events = %v", types)
	}
}

func TestRoleGates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.createTicket(t)

	_, err := f.svc.CreateTicket(ctx, f.memberA, TicketCreateInput{Category: "x", Urgency: domain.UrgencyLow, Description: "y"})
	requireKind(t, err, apperrors.ErrForbidden)

	_, err = f.svc.AcceptTicket(ctx, f.owner, ticket.ID)
	requireKind(t, err, apperrors.ErrForbidden)

	_, err = f.svc.RejectTicket(ctx, f.admin, ticket.ID)
	requireKind(t, err, apperrors.ErrForbidden)

	_, err = f.svc.AcceptTicket(ctx, nil, ticket.ID)
	requireKind(t, err, apperrors.ErrUnauthorized)

	_, err = f.svc.AcceptTicket(ctx, f.memberA, "missing")
	requireKind(t, err, apperrors.ErrNotFound)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateTicket(context.Background(), f.owner, TicketCreateInput{Category: "billing", Urgency: "urgent", Description: "x"})
	requireKind(t, err, apperrors.ErrValidation)

	_, err = f.svc.CreateTicket(context.Background(), f.owner, TicketCreateInput{Urgency: domain.UrgencyLow})
	requireKind(t, err, apperrors.ErrValidation)
	details := apperrors.ToDomainError(err).Details
	if details["category"] == nil || details["description"] == nil {
		t.Fatalf("details = %v", details)
	}
}

func TestCloseRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.assignedTicket(t)

	_, err := f.svc.CloseTicket(ctx, f.memberA, ticket.ID, TicketCloseInput{Reason: " "})
	requireKind(t, err, apperrors.ErrValidation)

	_, err = f.svc.CloseTicket(ctx, f.memberB, ticket.ID, TicketCloseInput{Reason: "done"})
	requireKind(t, err, apperrors.ErrForbidden)

	owner := f.owner.UserID
	_, err = f.svc.CloseTicket(ctx, f.memberA, ticket.ID, TicketCloseInput{Reason: "done", ReassignTo: &owner})
	requireKind(t, err, apperrors.ErrValidation)

	ghost := "ghost"
	_, err = f.svc.CloseTicket(ctx, f.memberA, ticket.ID, TicketCloseInput{Reason: "done", ReassignTo: &ghost})
	requireKind(t, err, apperrors.ErrNotFound)

	f.events.reset()
	target := f.memberB.UserID
	closed, err := f.svc.CloseTicket(ctx, f.memberA, ticket.ID, TicketCloseInput{Reason: "handover", ReassignTo: &target})
	if err != nil {
		t.Fatal(err)
	}
	if closed.Status != domain.TicketStatusClosed || *closed.ClosureReason != "handover" || *closed.ReassignedTo != target {
		t.Fatalf("closed = %+v", closed)
	}
	if !closed.IsAssignee(f.memberA.UserID) {
		t.Fatal("close must keep the assignee")
	}
	types := f.events.types()
	if len(types) != 1 || types[0] != events.EventTicketClosed {
		t.Fatalf("events = %v", types)
	}

	_, err = f.svc.CloseTicket(ctx, f.memberA, ticket.ID, TicketCloseInput{Reason: "again"})
	requireKind(t, err, apperrors.ErrInvalidState)
}

func TestAssigneeInvariant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tickets := []*domain.Ticket{
		f.createTicket(t),
		f.assignedTicket(t),
		f.closedTicket(t),
		f.rejectedTicket(t),
	}
	for _, created := range tickets {
		ticket, err := f.svc.GetTicket(ctx, f.admin, created.ID)
		if err != nil {
			t.Fatal(err)
		}
		switch ticket.Status {
		case domain.TicketStatusOpen, domain.TicketStatusRejected:
			if ticket.AssignedTo != nil {
				t.Errorf("%s ticket has assignee", ticket.Status)
			}
		case domain.TicketStatusAssigned, domain.TicketStatusClosed:
			if ticket.AssignedTo == nil {
				t.Errorf("%s ticket lost its assignee", ticket.Status)
			}
		}
	}
}

func TestCloseInactiveEmitsChatInactive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.assignedTicket(t)

	closed, err := f.svc.CloseInactive(ctx, ticket.ID, f.clock.Now().Add(-time.Hour))
	if err != nil || closed {
		t.Fatalf("fresh ticket closed=%v err=%v", closed, err)
	}

	f.clock.Advance(25 * time.Hour)
	f.events.reset()
	closed, err = f.svc.CloseInactive(ctx, ticket.ID, f.clock.Now().Add(-24*time.Hour))
	if err != nil || !closed {
		t.Fatalf("idle ticket closed=%v err=%v", closed, err)
	}

	got, _ := f.svc.GetTicket(ctx, f.admin, ticket.ID)
	if got.Status != domain.TicketStatusClosed || got.ClosureReason == nil || *got.ClosureReason != InactivityReason {
		t.Fatalf("ticket = %+v", got)
	}
	if got.ReassignedTo != nil {
		t.Fatal("inactivity closure must not reassign")
	}
	types := f.events.types()
	if len(types) != 1 || types[0] != events.EventChatInactive {
		t.Fatalf("events = %v, want only chat_inactive", types)
	}

	closed, err = f.svc.CloseInactive(ctx, ticket.ID, f.clock.Now())
	if err != nil || closed {
		t.Fatalf("second closure closed=%v err=%v", closed, err)
	}
}

func TestHintInactivityIsServerAuthoritative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.assignedTicket(t)

	closed, err := f.svc.HintInactivity(ctx, f.owner, ticket.ID)
	if err != nil || closed {
		t.Fatalf("early hint closed=%v err=%v", closed, err)
	}

	_, err = f.svc.HintInactivity(ctx, f.memberB, ticket.ID)
	requireKind(t, err, apperrors.ErrForbidden)

	f.clock.Advance(25 * time.Hour)
	closed, err = f.svc.HintInactivity(ctx, f.owner, ticket.ID)
	if err != nil || !closed {
		t.Fatalf("late hint closed=%v err=%v", closed, err)
	}
}

func TestListTicketsVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	open := f.createTicket(t)
	mine := f.assignedTicket(t)
	other := f.createTicket(t)
	if _, err := f.svc.AcceptTicket(ctx, f.memberB, other.ID); err != nil {
		t.Fatal(err)
	}

	memberView, err := f.svc.ListTickets(ctx, f.memberA, TicketListInput{})
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, ticket := range memberView {
		seen[ticket.ID] = true
	}
	if !seen[open.ID] || !seen[mine.ID] || seen[other.ID] {
		t.Fatalf("member view = %v", seen)
	}

	adminView, _ := f.svc.ListTickets(ctx, f.admin, TicketListInput{})
	if len(adminView) != 3 {
		t.Fatalf("admin sees %d tickets, want 3", len(adminView))
	}

	stranger := &domain.Identity{UserID: "stranger", Role: domain.RoleUser}
	strangerView, _ := f.svc.ListTickets(ctx, stranger, TicketListInput{})
	if len(strangerView) != 0 {
		t.Fatalf("stranger sees %d tickets", len(strangerView))
	}
	_, err = f.svc.GetTicket(ctx, stranger, open.ID)
	requireKind(t, err, apperrors.ErrForbidden)
	requireKind(t, f.svc.CanJoin(ctx, stranger, open.ID), apperrors.ErrForbidden)
	if err := f.svc.CanJoin(ctx, f.memberB, open.ID); err != nil {
		t.Fatalf("member join: %v", err)
	}
}
