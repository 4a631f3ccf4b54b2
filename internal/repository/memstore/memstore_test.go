package memstore

import (
	"context"
	"errors"
	"testing"
	"time"
	"unsafe"

	"github.com/spec-kit/support-chat/internal/domain"
	"github.com/spec-kit/support-chat/internal/repository"
)

func seedTicket(t *testing.T, store repository.Store, id string, status domain.TicketStatus) {
	t.Helper()
	ticket := &domain.Ticket{
		ID:        id,
		OwnerID:   "owner",
		Category:  "billing",
		Urgency:   domain.UrgencyHigh,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.Tickets.Create(context.Background(), ticket); err != nil {
		t.Fatalf("create ticket: %v", err)
	}
}

func TestTransitionErrorLeavesTicketUntouched(t *testing.T) {
	store := New().Store()
	seedTicket(t, store, "t-1", domain.TicketStatusOpen)
	ctx := context.Background()

	boom := errors.New("precondition failed")
	_, _, err := store.Tickets.Transition(ctx, "t-1", func(ticket *domain.Ticket) (*domain.ChatMessage, error) {
		ticket.Status = domain.TicketStatusAssigned
		return &domain.ChatMessage{ID: "m-1", TicketID: ticket.ID}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}

	got, err := store.Tickets.GetByID(ctx, "t-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.TicketStatusOpen {
		t.Fatalf("status = %s, want open", got.Status)
	}
	msgs, _ := store.Messages.ListByTicket(ctx, "t-1")
	if len(msgs) != 0 {
		t.Fatalf("messages = %d, want 0", len(msgs))
	}
}

func TestTransitionMissingTicket(t *testing.T) {
	store := New().Store()
	_, _, err := store.Tickets.Transition(context.Background(), "nope", func(*domain.Ticket) (*domain.ChatMessage, error) {
		t.Fatal("fn must not run for a missing ticket")
		return nil, nil
	})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMessagesOrderedByTimestampThenInsertion(t *testing.T) {
	store := New().Store()
	seedTicket(t, store, "t-1", domain.TicketStatusAssigned)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	stamps := []time.Time{base.Add(2 * time.Second), base, base, base.Add(time.Second)}
	for i, ts := range stamps {
		ts := ts
		id := string(rune('a' + i))
		_, _, err := store.Tickets.Transition(ctx, "t-1", func(ticket *domain.Ticket) (*domain.ChatMessage, error) {
			return &domain.ChatMessage{ID: id, TicketID: ticket.ID, CreatedAt: ts}, nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := store.Messages.ListByTicket(ctx, "t-1")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"b", "c", "d", "a"}
	for i, msg := range msgs {
		if msg.ID != want[i] {
			t.Fatalf("order = %v, want %v", ids(msgs), want)
		}
	}
}

func TestListIdle(t *testing.T) {
	store := New().Store()
	ctx := context.Background()
	now := time.Now().UTC()
	seedTicket(t, store, "never", domain.TicketStatusAssigned)
	seedTicket(t, store, "stale", domain.TicketStatusAssigned)
	seedTicket(t, store, "fresh", domain.TicketStatusAssigned)
	seedTicket(t, store, "open", domain.TicketStatusOpen)

	setLast := func(id string, ts time.Time) {
		_, _, err := store.Tickets.Transition(ctx, id, func(ticket *domain.Ticket) (*domain.ChatMessage, error) {
			ticket.LastMessageAt = &ts
			return nil, nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	setLast("stale", now.Add(-48*time.Hour))
	setLast("fresh", now.Add(-time.Minute))

	idle, err := store.Tickets.ListIdle(ctx, now.Add(-24*time.Hour), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(idle) != 2 || idle[0].ID != "never" || idle[1].ID != "stale" {
		t.Fatalf("idle = %v", ticketIDs(idle))
	}
}

func TestDuplicateEmailRejected(t *testing.T) {
	store := New().Store()
	ctx := context.Background()
	if err := store.Users.Create(ctx, &domain.User{ID: "u1", Email: "A@x.io", Phone: "1"}); err != nil {
		t.Fatal(err)
	}
	err := store.Users.Create(ctx, &domain.User{ID: "u2", Email: "a@X.io", Phone: "2"})
	if !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func ids(msgs []domain.ChatMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func ticketIDs(tickets []domain.Ticket) []string {
	out := make([]string, len(tickets))
	for i, t := range tickets {
		out[i] = t.ID
	}
	return out
}

func TestTransitionDoesNotKeepCallerIDString(t *testing.T) {
	ctx := context.Background()
	store := New().Store()
	seedTicket(t, store, "ticket-alias", domain.TicketStatusOpen)

	// id shares memory with buf, like a route param over a reused request buffer.
	buf := []byte("ticket-alias")
	id := unsafe.String(&buf[0], len(buf))
	_, _, err := store.Tickets.Transition(ctx, id, func(ticket *domain.Ticket) (*domain.ChatMessage, error) {
		ticket.Status = domain.TicketStatusAssigned
		return &domain.ChatMessage{ID: "m-1", TicketID: ticket.ID, Body: "hello", CreatedAt: time.Now().UTC()}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	copy(buf, "xxxxxxxxxxxx")

	got, err := store.Tickets.GetByID(ctx, "ticket-alias")
	if err != nil {
		t.Fatalf("ticket lost after buffer reuse: %v", err)
	}
	if got.Status != domain.TicketStatusAssigned {
		t.Fatalf("status = %s", got.Status)
	}
	msgs, err := store.Messages.ListByTicket(ctx, "ticket-alias")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
}
