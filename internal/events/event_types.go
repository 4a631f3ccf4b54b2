package events

import (
	"time"
)

// EventType enumerates supported event identifiers. The values double as
// the realtime event names.
type EventType string

const (
	EventNewTicket      EventType = "new_ticket"
	EventTicketAccepted EventType = "ticket_accepted"
	EventTicketRejected EventType = "ticket_rejected"
	EventTicketClosed   EventType = "ticket_closed"
	EventTicketReopened EventType = "ticket_reopened"
	EventChatInactive   EventType = "chat_inactive"
	EventMessage        EventType = "message"
)

// AllEventTypes lists every event the lifecycle engine publishes.
func AllEventTypes() []EventType {
	return []EventType{
		EventNewTicket,
		EventTicketAccepted,
		EventTicketRejected,
		EventTicketClosed,
		EventTicketReopened,
		EventChatInactive,
		EventMessage,
	}
}

// Event represents a domain event emitted by services. Actor is empty for
// transitions the system performs on its own.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	TicketID  string    `json:"ticket_id"`
	OwnerID   string    `json:"owner_id"`
	Actor     string    `json:"actor,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// NewTicketPayload announces a ticket to every member.
type NewTicketPayload struct {
	TicketID string `json:"ticket_id"`
	Category string `json:"category"`
	Urgency  string `json:"urgency"`
}

// TicketDecisionPayload is sent to the owner on accept and reject.
type TicketDecisionPayload struct {
	TicketID string `json:"ticket_id"`
	MemberID string `json:"member_id"`
}

// TicketClosedPayload payload.
type TicketClosedPayload struct {
	TicketID     string  `json:"ticket_id"`
	MemberID     string  `json:"member_id"`
	Reason       string  `json:"reason"`
	ReassignedTo *string `json:"reassigned_to"`
}

// TicketReopenedPayload payload.
type TicketReopenedPayload struct {
	TicketID   string `json:"ticket_id"`
	ReopenedBy string `json:"reopened_by"`
}

// ChatInactivePayload payload.
type ChatInactivePayload struct {
	TicketID     string  `json:"ticket_id"`
	Reason       string  `json:"reason"`
	ReassignedTo *string `json:"reassigned_to"`
}

// MessagePayload carries one chat message, user-authored or system.
type MessagePayload struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	SenderID  *string   `json:"sender_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	IsSystem  bool      `json:"is_system"`
}
