package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-chat/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique constraint rejects a write.
var ErrDuplicate = errors.New("duplicate")

// TransitionFunc mutates a locked ticket in place. It may return a chat
// message to append in the same commit. Returning an error aborts the
// transaction and leaves the ticket untouched.
type TransitionFunc func(ticket *domain.Ticket) (*domain.ChatMessage, error)

// Store bundles the repositories the services depend on.
type Store struct {
	Users    UserRepository
	Tickets  TicketRepository
	Messages ChatMessageRepository
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// NewPostgresStore wires the Postgres repositories onto one pool.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	return Store{
		Users:    NewUserRepository(pool),
		Tickets:  NewTicketRepository(pool),
		Messages: NewChatMessageRepository(pool),
	}
}
