package domain

import "time"

// ChatMessage is an append-only entry in a ticket conversation.
// SenderID is nil for system messages.
type ChatMessage struct {
	ID        string
	TicketID  string
	SenderID  *string
	Body      string
	IsSystem  bool
	CreatedAt time.Time
	Seq       int64
}
