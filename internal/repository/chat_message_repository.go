package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-chat/internal/domain"
)

// ChatMessageRepository reads ticket conversations. Writes go through
// TicketRepository.Transition so they commit with the ticket row.
type ChatMessageRepository interface {
	ListByTicket(ctx context.Context, ticketID string) ([]domain.ChatMessage, error)
}

type chatMessageRepository struct {
	pool *pgxpool.Pool
}

// NewChatMessageRepository builds repository.
func NewChatMessageRepository(pool *pgxpool.Pool) ChatMessageRepository {
	return &chatMessageRepository{pool: pool}
}

func insertMessage(ctx context.Context, tx pgx.Tx, msg *domain.ChatMessage) error {
	const query = `
        INSERT INTO chat_messages (id, ticket_id, sender_id, body, is_system, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING seq`
	return tx.QueryRow(ctx, query,
		msg.ID,
		msg.TicketID,
		msg.SenderID,
		msg.Body,
		msg.IsSystem,
		msg.CreatedAt,
	).Scan(&msg.Seq)
}

func (r *chatMessageRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.ChatMessage, error) {
	const query = `
        SELECT id, ticket_id, sender_id, body, is_system, created_at, seq
        FROM chat_messages WHERE ticket_id=$1 ORDER BY created_at ASC, seq ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.ChatMessage{}
	for rows.Next() {
		var msg domain.ChatMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.TicketID,
			&msg.SenderID,
			&msg.Body,
			&msg.IsSystem,
			&msg.CreatedAt,
			&msg.Seq,
		); err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}
