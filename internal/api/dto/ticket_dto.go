package dto

import (
	"time"

	"github.com/spec-kit/support-chat/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Category           string               `json:"category"`
	Urgency            domain.TicketUrgency `json:"urgency"`
	Description        string               `json:"description"`
	PredefinedQuestion *string              `json:"predefined_question"`
}

// CloseTicketRequest payload.
type CloseTicketRequest struct {
	Reason       string  `json:"reason"`
	ReassignedTo *string `json:"reassigned_to"`
}

// PostMessageRequest payload.
type PostMessageRequest struct {
	Message string `json:"message"`
}

// TicketResponse is the full view of a ticket.
type TicketResponse struct {
	ID                 string               `json:"id"`
	UserID             string               `json:"user_id"`
	Category           string               `json:"category"`
	Urgency            domain.TicketUrgency `json:"urgency"`
	Description        string               `json:"description"`
	PredefinedQuestion *string              `json:"predefined_question"`
	Visibility         string               `json:"visibility"`
	Status             domain.TicketStatus  `json:"status"`
	AssignedTo         *string              `json:"assigned_to"`
	ClosureReason      *string              `json:"closure_reason"`
	ReassignedTo       *string              `json:"reassigned_to"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
	LastMessageAt      *time.Time           `json:"last_message_time"`
}

// MessageResponse is one chat message.
type MessageResponse struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	SenderID  *string   `json:"sender_id"`
	Message   string    `json:"message"`
	IsSystem  bool      `json:"is_system"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTicketResponse maps a domain ticket.
func NewTicketResponse(ticket *domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:                 ticket.ID,
		UserID:             ticket.OwnerID,
		Category:           ticket.Category,
		Urgency:            ticket.Urgency,
		Description:        ticket.Description,
		PredefinedQuestion: ticket.PredefinedQuestion,
		Visibility:         ticket.Visibility,
		Status:             ticket.Status,
		AssignedTo:         ticket.AssignedTo,
		ClosureReason:      ticket.ClosureReason,
		ReassignedTo:       ticket.ReassignedTo,
		CreatedAt:          ticket.CreatedAt,
		UpdatedAt:          ticket.UpdatedAt,
		LastMessageAt:      ticket.LastMessageAt,
	}
}

// NewMessageResponse maps a domain chat message.
func NewMessageResponse(msg *domain.ChatMessage) MessageResponse {
	return MessageResponse{
		ID:        msg.ID,
		TicketID:  msg.TicketID,
		SenderID:  msg.SenderID,
		Message:   msg.Body,
		IsSystem:  msg.IsSystem,
		Timestamp: msg.CreatedAt,
	}
}
