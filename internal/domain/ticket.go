package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen     TicketStatus = "open"
	TicketStatusAssigned TicketStatus = "assigned"
	TicketStatusClosed   TicketStatus = "closed"
	TicketStatusRejected TicketStatus = "rejected"
)

// Terminal reports whether no further transitions apply except reopen.
func (s TicketStatus) Terminal() bool {
	return s == TicketStatusClosed || s == TicketStatusRejected
}

// TicketUrgency enumerates how quickly a ticket needs attention.
type TicketUrgency string

const (
	UrgencyLow      TicketUrgency = "low"
	UrgencyMedium   TicketUrgency = "medium"
	UrgencyHigh     TicketUrgency = "high"
	UrgencyCritical TicketUrgency = "critical"
)

// Valid reports whether u is a known urgency.
func (u TicketUrgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical:
		return true
	}
	return false
}

// VisibilityAllMembers makes a ticket visible to every support member.
const VisibilityAllMembers = "all_members"

// Ticket is the unit of support work.
type Ticket struct {
	ID                 string
	OwnerID            string
	Category           string
	Urgency            TicketUrgency
	Description        string
	PredefinedQuestion *string
	Visibility         string
	Status             TicketStatus
	AssignedTo         *string
	ClosureReason      *string
	ReassignedTo       *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	LastMessageAt      *time.Time
}

// IsOwner reports whether userID filed the ticket.
func (t *Ticket) IsOwner(userID string) bool {
	return t.OwnerID == userID
}

// IsAssignee reports whether userID is the assigned member.
func (t *Ticket) IsAssignee(userID string) bool {
	return t.AssignedTo != nil && *t.AssignedTo == userID
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	c := *t
	c.PredefinedQuestion = cloneString(t.PredefinedQuestion)
	c.AssignedTo = cloneString(t.AssignedTo)
	c.ClosureReason = cloneString(t.ClosureReason)
	c.ReassignedTo = cloneString(t.ReassignedTo)
	if t.LastMessageAt != nil {
		ts := *t.LastMessageAt
		c.LastMessageAt = &ts
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
