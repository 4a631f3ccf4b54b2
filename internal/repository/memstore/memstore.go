// Package memstore is an in-process implementation of the repository
// interfaces. It backs the service when no Postgres DSN is configured and
// serves as the store in tests.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spec-kit/support-chat/internal/domain"
	"github.com/spec-kit/support-chat/internal/repository"
)

// DB holds every table behind one lock, so a Transition is serialized
// against every other write.
type DB struct {
	mu       sync.RWMutex
	users    map[string]domain.User
	emails   map[string]string
	phones   map[string]string
	tickets  map[string]*domain.Ticket
	messages map[string][]domain.ChatMessage
	seq      int64
}

// New returns an empty database.
func New() *DB {
	return &DB{
		users:    make(map[string]domain.User),
		emails:   make(map[string]string),
		phones:   make(map[string]string),
		tickets:  make(map[string]*domain.Ticket),
		messages: make(map[string][]domain.ChatMessage),
	}
}

// Store exposes the database through the repository interfaces.
func (db *DB) Store() repository.Store {
	return repository.Store{
		Users:    &userRepo{db: db},
		Tickets:  &ticketRepo{db: db},
		Messages: &messageRepo{db: db},
	}
}

type userRepo struct{ db *DB }

func (r *userRepo) Create(ctx context.Context, user *domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	email := strings.ToLower(user.Email)
	if _, ok := r.db.emails[email]; ok {
		return repository.ErrDuplicate
	}
	if _, ok := r.db.phones[user.Phone]; ok && user.Phone != "" {
		return repository.ErrDuplicate
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	r.db.users[user.ID] = *user
	r.db.emails[email] = user.ID
	if user.Phone != "" {
		r.db.phones[user.Phone] = user.ID
	}
	return nil
}

func (r *userRepo) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	user, ok := r.db.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.PasswordHash = passwordHash
	r.db.users[user.ID] = user
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	user, ok := r.db.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &user, nil
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	id, ok := r.db.emails[strings.ToLower(email)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	user := r.db.users[id]
	return &user, nil
}

func (r *userRepo) ListByIDs(ctx context.Context, ids []string) ([]domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	result := []domain.User{}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if user, ok := r.db.users[id]; ok {
			result = append(result, user)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

type ticketRepo struct{ db *DB }

func (r *ticketRepo) Create(ctx context.Context, ticket *domain.Ticket) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.tickets[ticket.ID]; ok {
		return repository.ErrDuplicate
	}
	stored := ticket.Clone()
	stored.UpdatedAt = stored.CreatedAt
	ticket.UpdatedAt = stored.CreatedAt
	r.db.tickets[ticket.ID] = stored
	return nil
}

func (r *ticketRepo) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	ticket, ok := r.db.tickets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return ticket.Clone(), nil
}

func (r *ticketRepo) List(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.db.mu.RLock()
	matched := []domain.Ticket{}
	for _, ticket := range r.db.tickets {
		if matches(ticket, filter) {
			matched = append(matched, *ticket.Clone())
		}
	}
	r.db.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	return page(matched, filter.Limit, filter.Offset), nil
}

func (r *ticketRepo) ListIdle(ctx context.Context, cutoff time.Time, limit int) ([]domain.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	r.db.mu.RLock()
	idle := []domain.Ticket{}
	for _, ticket := range r.db.tickets {
		if ticket.Status != domain.TicketStatusAssigned {
			continue
		}
		if ticket.LastMessageAt == nil || ticket.LastMessageAt.Before(cutoff) {
			idle = append(idle, *ticket.Clone())
		}
	}
	r.db.mu.RUnlock()

	sort.Slice(idle, func(i, j int) bool {
		a, b := idle[i].LastMessageAt, idle[j].LastMessageAt
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		return idle[i].ID < idle[j].ID
	})
	if len(idle) > limit {
		idle = idle[:limit]
	}
	return idle, nil
}

func (r *ticketRepo) Transition(ctx context.Context, id string, fn repository.TransitionFunc) (*domain.Ticket, *domain.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	current, ok := r.db.tickets[id]
	if !ok {
		return nil, nil, repository.ErrNotFound
	}
	working := current.Clone()
	msg, err := fn(working)
	if err != nil {
		return nil, nil, err
	}
	// Keys stay the stored ticket's own ID; id may alias a request buffer.
	key := current.ID
	if msg != nil {
		r.db.seq++
		msg.Seq = r.db.seq
		r.db.messages[key] = append(r.db.messages[key], *msg)
	}
	r.db.tickets[key] = working
	return working.Clone(), msg, nil
}

type messageRepo struct{ db *DB }

func (r *messageRepo) ListByTicket(ctx context.Context, ticketID string) ([]domain.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.db.mu.RLock()
	msgs := append([]domain.ChatMessage{}, r.db.messages[ticketID]...)
	r.db.mu.RUnlock()

	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].Seq < msgs[j].Seq
	})
	return msgs, nil
}

func matches(ticket *domain.Ticket, filter repository.TicketFilter) bool {
	if filter.OwnerID != nil && ticket.OwnerID != *filter.OwnerID {
		return false
	}
	if filter.AssignedTo != nil && !ticket.IsAssignee(*filter.AssignedTo) {
		return false
	}
	if filter.VisibleToMember != nil &&
		ticket.Status != domain.TicketStatusOpen && !ticket.IsAssignee(*filter.VisibleToMember) {
		return false
	}
	if len(filter.Statuses) > 0 {
		found := false
		for _, status := range filter.Statuses {
			if ticket.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func page(tickets []domain.Ticket, limit, offset int) []domain.Ticket {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(tickets) {
		return []domain.Ticket{}
	}
	end := offset + limit
	if end > len(tickets) {
		end = len(tickets)
	}
	return tickets[offset:end]
}
