package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-chat/internal/domain"
)

// TicketFilter captures listing parameters. VisibleToMember selects open
// tickets plus tickets assigned to that member.
type TicketFilter struct {
	OwnerID         *string
	AssignedTo      *string
	VisibleToMember *string
	Statuses        []domain.TicketStatus
	Limit           int
	Offset          int
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	// ListIdle returns assigned tickets whose last message is older than
	// cutoff or that have never seen a message.
	ListIdle(ctx context.Context, cutoff time.Time, limit int) ([]domain.Ticket, error)
	// Transition locks the ticket, applies fn and commits the ticket and
	// the returned message together.
	Transition(ctx context.Context, id string, fn TransitionFunc) (*domain.Ticket, *domain.ChatMessage, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, owner_id, category, urgency, description, predefined_question, visibility,
               status, assigned_to, closure_reason, reassigned_to, created_at, updated_at, last_message_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (id, owner_id, category, urgency, description, predefined_question, visibility, status, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)`
	_, err := r.pool.Exec(ctx, query,
		ticket.ID,
		ticket.OwnerID,
		ticket.Category,
		ticket.Urgency,
		ticket.Description,
		ticket.PredefinedQuestion,
		ticket.Visibility,
		ticket.Status,
		ticket.CreatedAt,
	)
	return err
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	ticket, err := scanTicket(r.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id=$1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return ticket, nil
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.OwnerID != nil {
		args = append(args, *filter.OwnerID)
		clauses = append(clauses, fmt.Sprintf("owner_id=$%d", len(args)))
	}
	if filter.AssignedTo != nil {
		args = append(args, *filter.AssignedTo)
		clauses = append(clauses, fmt.Sprintf("assigned_to=$%d", len(args)))
	}
	if filter.VisibleToMember != nil {
		args = append(args, *filter.VisibleToMember)
		clauses = append(clauses, fmt.Sprintf("(status='open' OR assigned_to=$%d)", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}

	limit, offset := normalizePage(filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY created_at DESC, id LIMIT %d OFFSET %d`,
		ticketColumns, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) ListIdle(ctx context.Context, cutoff time.Time, limit int) ([]domain.Ticket, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + ticketColumns + ` FROM tickets
        WHERE status='assigned' AND (last_message_at IS NULL OR last_message_at < $1)
        ORDER BY last_message_at NULLS FIRST, id
        LIMIT $2`
	rows, err := r.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) Transition(ctx context.Context, id string, fn TransitionFunc) (*domain.Ticket, *domain.ChatMessage, error) {
	var (
		ticket *domain.Ticket
		msg    *domain.ChatMessage
	)
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		locked, err := scanTicket(tx.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id=$1 FOR UPDATE`, id))
		if err != nil {
			return notFound(err)
		}

		msg, err = fn(locked)
		if err != nil {
			return err
		}
		if msg != nil {
			if err := insertMessage(ctx, tx, msg); err != nil {
				return fmt.Errorf("insert message: %w", err)
			}
		}

		const update = `
            UPDATE tickets SET status=$1, assigned_to=$2, closure_reason=$3, reassigned_to=$4,
                last_message_at=$5, updated_at=$6
            WHERE id=$7`
		if _, err := tx.Exec(ctx, update,
			locked.Status,
			locked.AssignedTo,
			locked.ClosureReason,
			locked.ReassignedTo,
			locked.LastMessageAt,
			locked.UpdatedAt,
			locked.ID,
		); err != nil {
			return fmt.Errorf("update ticket: %w", err)
		}
		ticket = locked
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return ticket, msg, nil
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.OwnerID,
		&ticket.Category,
		&ticket.Urgency,
		&ticket.Description,
		&ticket.PredefinedQuestion,
		&ticket.Visibility,
		&ticket.Status,
		&ticket.AssignedTo,
		&ticket.ClosureReason,
		&ticket.ReassignedTo,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.LastMessageAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	result := []domain.Ticket{}
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}
