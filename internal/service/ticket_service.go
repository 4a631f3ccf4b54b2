package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/support-chat/internal/domain"
	"github.com/spec-kit/support-chat/internal/events"
	"github.com/spec-kit/support-chat/internal/repository"
	apperrors "github.com/spec-kit/support-chat/pkg/util/errorutil"
)

// System messages appended by lifecycle transitions.
const (
	AcceptedMessage = "Hello! I'll be assisting you with your ticket."
	ClosedMessage   = "This conversation has been closed by the support member."
	InactiveMessage = "This conversation has been closed due to inactivity."
	ReopenedMessage = "This ticket has been reopened."

	InactivityReason = "inactivity timeout"
	MaxMessageLength = 4000
)

// TicketService is the ticket lifecycle engine. Every mutation runs inside
// TicketRepository.Transition so the status change and its system message
// commit together.
type TicketService struct {
	tickets      repository.TicketRepository
	messages     repository.ChatMessageRepository
	users        repository.UserRepository
	dispatcher   events.Dispatcher
	logger       *zap.Logger
	storeTimeout time.Duration
	threshold    time.Duration
	now          func() time.Time
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	Store               repository.Store
	Dispatcher          events.Dispatcher
	Logger              *zap.Logger
	StoreTimeout        time.Duration
	InactivityThreshold time.Duration
	Clock               func() time.Time
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Category           string
	Urgency            domain.TicketUrgency
	Description        string
	PredefinedQuestion *string
}

// TicketCloseInput describes a manual close.
type TicketCloseInput struct {
	Reason     string
	ReassignTo *string
}

// TicketListInput pages through the tickets visible to the caller.
type TicketListInput struct {
	Statuses []domain.TicketStatus
	Limit    int
	Offset   int
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	timeout := deps.StoreTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	threshold := deps.InactivityThreshold
	if threshold <= 0 {
		threshold = 24 * time.Hour
	}
	return &TicketService{
		tickets:      deps.Store.Tickets,
		messages:     deps.Store.Messages,
		users:        deps.Store.Users,
		dispatcher:   deps.Dispatcher,
		logger:       logger,
		storeTimeout: timeout,
		threshold:    threshold,
		now:          clock,
	}
}

// InactivityThreshold is how long an assigned ticket may stay silent.
func (s *TicketService) InactivityThreshold() time.Duration {
	return s.threshold
}

// CreateTicket opens a ticket owned by the actor.
func (s *TicketService) CreateTicket(ctx context.Context, actor *domain.Identity, input TicketCreateInput) (*domain.Ticket, error) {
	if err := roleAllowed(OpCreate, actor); err != nil {
		return nil, err
	}

	details := map[string]any{}
	category := strings.TrimSpace(input.Category)
	description := strings.TrimSpace(input.Description)
	if category == "" {
		details["category"] = "required"
	}
	if description == "" {
		details["description"] = "required"
	}
	if input.Urgency == "" {
		details["urgency"] = "required"
	} else if !input.Urgency.Valid() {
		details["urgency"] = "must be one of low, medium, high, critical"
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("invalid ticket", details)
	}

	now := s.now().UTC()
	ticket := &domain.Ticket{
		ID:                 uuid.NewString(),
		OwnerID:            actor.UserID,
		Category:           category,
		Urgency:            input.Urgency,
		Description:        description,
		PredefinedQuestion: input.PredefinedQuestion,
		Visibility:         domain.VisibilityAllMembers,
		Status:             domain.TicketStatusOpen,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, storeError(err, ticket.ID)
	}

	s.publishEvent(ctx, ticket, actor.UserID, events.EventNewTicket, events.NewTicketPayload{
		TicketID: ticket.ID,
		Category: ticket.Category,
		Urgency:  string(ticket.Urgency),
	})
	return ticket, nil
}

// AcceptTicket assigns an open ticket to the acting member.
func (s *TicketService) AcceptTicket(ctx context.Context, actor *domain.Identity, ticketID string) (*domain.Ticket, error) {
	if err := roleAllowed(OpAccept, actor); err != nil {
		return nil, err
	}

	ticket, msg, err := s.transition(ctx, ticketID, func(t *domain.Ticket, now time.Time) (*domain.ChatMessage, error) {
		if t.Status != domain.TicketStatusOpen {
			return nil, invalidState(t, "ticket is not open")
		}
		if err := authorize(OpAccept, actor, t); err != nil {
			return nil, err
		}
		memberID := actor.UserID
		t.Status = domain.TicketStatusAssigned
		t.AssignedTo = &memberID
		return systemMessage(t, AcceptedMessage, now), nil
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, ticket, actor.UserID, events.EventTicketAccepted, events.TicketDecisionPayload{
		TicketID: ticket.ID,
		MemberID: actor.UserID,
	})
	s.logger.Debug("ticket accepted", zap.String("ticket_id", ticket.ID), zap.String("message_id", msg.ID))
	return ticket, nil
}

// RejectTicket declines an open ticket. Rejection is terminal.
func (s *TicketService) RejectTicket(ctx context.Context, actor *domain.Identity, ticketID string) (*domain.Ticket, error) {
	if err := roleAllowed(OpReject, actor); err != nil {
		return nil, err
	}

	ticket, _, err := s.transition(ctx, ticketID, func(t *domain.Ticket, now time.Time) (*domain.ChatMessage, error) {
		if t.Status != domain.TicketStatusOpen {
			return nil, invalidState(t, "ticket is not open")
		}
		if err := authorize(OpReject, actor, t); err != nil {
			return nil, err
		}
		t.Status = domain.TicketStatusRejected
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, ticket, actor.UserID, events.EventTicketRejected, events.TicketDecisionPayload{
		TicketID: ticket.ID,
		MemberID: actor.UserID,
	})
	return ticket, nil
}

// CloseTicket closes an assigned ticket on behalf of its assignee.
func (s *TicketService) CloseTicket(ctx context.Context, actor *domain.Identity, ticketID string, input TicketCloseInput) (*domain.Ticket, error) {
	if err := roleAllowed(OpClose, actor); err != nil {
		return nil, err
	}

	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, apperrors.NewValidationError("invalid close request", map[string]any{"reason": "required"})
	}

	var reassignTo *string
	if input.ReassignTo != nil && strings.TrimSpace(*input.ReassignTo) != "" {
		target := strings.TrimSpace(*input.ReassignTo)
		if err := s.checkReassignTarget(ctx, target); err != nil {
			return nil, err
		}
		reassignTo = &target
	}

	ticket, _, err := s.transition(ctx, ticketID, func(t *domain.Ticket, now time.Time) (*domain.ChatMessage, error) {
		if t.Status != domain.TicketStatusAssigned {
			return nil, invalidState(t, "ticket is not assigned")
		}
		if err := authorize(OpClose, actor, t); err != nil {
			return nil, err
		}
		t.Status = domain.TicketStatusClosed
		t.ClosureReason = &reason
		t.ReassignedTo = reassignTo
		return systemMessage(t, ClosedMessage, now), nil
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, ticket, actor.UserID, events.EventTicketClosed, events.TicketClosedPayload{
		TicketID:     ticket.ID,
		MemberID:     actor.UserID,
		Reason:       reason,
		ReassignedTo: ticket.ReassignedTo,
	})
	return ticket, nil
}

// ReopenTicket returns a closed ticket to its assignee.
func (s *TicketService) ReopenTicket(ctx context.Context, actor *domain.Identity, ticketID string) (*domain.Ticket, error) {
	if err := roleAllowed(OpReopen, actor); err != nil {
		return nil, err
	}

	ticket, _, err := s.transition(ctx, ticketID, func(t *domain.Ticket, now time.Time) (*domain.ChatMessage, error) {
		if t.Status != domain.TicketStatusClosed {
			return nil, invalidState(t, "only closed tickets can be reopened")
		}
		if err := authorize(OpReopen, actor, t); err != nil {
			return nil, err
		}
		t.Status = domain.TicketStatusAssigned
		t.ClosureReason = nil
		t.ReassignedTo = nil
		return systemMessage(t, ReopenedMessage, now), nil
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, ticket, actor.UserID, events.EventTicketReopened, events.TicketReopenedPayload{
		TicketID:   ticket.ID,
		ReopenedBy: actor.UserID,
	})
	return ticket, nil
}

// PostMessage appends a participant's message to the conversation.
func (s *TicketService) PostMessage(ctx context.Context, actor *domain.Identity, ticketID, body string) (*domain.ChatMessage, error) {
	if !actor.Authenticated() {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	text := strings.TrimSpace(body)
	if text == "" {
		return nil, apperrors.NewValidationError("invalid message", map[string]any{"message": "required"})
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return nil, apperrors.NewValidationError("invalid message", map[string]any{"message": "too long", "max_length": MaxMessageLength})
	}

	ticket, msg, err := s.transition(ctx, ticketID, func(t *domain.Ticket, now time.Time) (*domain.ChatMessage, error) {
		if t.Status.Terminal() {
			return nil, invalidState(t, "ticket is "+string(t.Status))
		}
		if err := authorize(OpPostMessage, actor, t); err != nil {
			return nil, err
		}
		sender := actor.UserID
		return &domain.ChatMessage{
			ID:        uuid.NewString(),
			TicketID:  t.ID,
			SenderID:  &sender,
			Body:      text,
			CreatedAt: now,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, ticket, actor.UserID, events.EventMessage, messagePayload(msg))
	return msg, nil
}

// CloseInactive closes the ticket when it is still assigned and has been
// silent since before cutoff. It reports whether a closure happened; a
// ticket that no longer qualifies is left alone without error.
func (s *TicketService) CloseInactive(ctx context.Context, ticketID string, cutoff time.Time) (bool, error) {
	ticket, _, err := s.transition(ctx, ticketID, func(t *domain.Ticket, now time.Time) (*domain.ChatMessage, error) {
		if t.Status != domain.TicketStatusAssigned {
			return nil, errNoLongerIdle
		}
		if t.LastMessageAt != nil && !t.LastMessageAt.Before(cutoff) {
			return nil, errNoLongerIdle
		}
		reason := InactivityReason
		t.Status = domain.TicketStatusClosed
		t.ClosureReason = &reason
		t.ReassignedTo = nil
		return systemMessage(t, InactiveMessage, now), nil
	})
	if errors.Is(err, errNoLongerIdle) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.publishEvent(ctx, ticket, "", events.EventChatInactive, events.ChatInactivePayload{
		TicketID:     ticket.ID,
		Reason:       InactivityReason,
		ReassignedTo: nil,
	})
	return true, nil
}

// HintInactivity handles a participant's report that a chat went quiet.
// The ticket closes only if the server-side threshold has elapsed.
func (s *TicketService) HintInactivity(ctx context.Context, actor *domain.Identity, ticketID string) (bool, error) {
	if err := roleAllowed(OpHint, actor); err != nil {
		return false, err
	}
	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return false, err
	}
	if err := authorize(OpHint, actor, ticket); err != nil {
		return false, err
	}
	return s.CloseInactive(ctx, ticketID, s.now().UTC().Add(-s.threshold))
}

// ListTickets returns the tickets the actor may see, newest first.
func (s *TicketService) ListTickets(ctx context.Context, actor *domain.Identity, input TicketListInput) ([]domain.Ticket, error) {
	if err := roleAllowed(OpView, actor); err != nil {
		return nil, err
	}
	filter := repository.TicketFilter{
		Statuses: input.Statuses,
		Limit:    input.Limit,
		Offset:   input.Offset,
	}
	switch actor.Role {
	case domain.RoleUser:
		filter.OwnerID = &actor.UserID
	case domain.RoleMember:
		filter.VisibleToMember = &actor.UserID
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	tickets, err := s.tickets.List(ctx, filter)
	if err != nil {
		return nil, storeError(err, "")
	}
	return tickets, nil
}

// AllTickets walks every page of the actor's visible tickets.
func (s *TicketService) AllTickets(ctx context.Context, actor *domain.Identity) ([]domain.Ticket, error) {
	const pageSize = 500
	all := []domain.Ticket{}
	for offset := 0; ; offset += pageSize {
		page, err := s.ListTickets(ctx, actor, TicketListInput{Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}

// GetTicket returns a ticket the actor may view.
func (s *TicketService) GetTicket(ctx context.Context, actor *domain.Identity, ticketID string) (*domain.Ticket, error) {
	if err := roleAllowed(OpView, actor); err != nil {
		return nil, err
	}
	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := authorize(OpView, actor, ticket); err != nil {
		return nil, err
	}
	return ticket, nil
}

// ListMessages returns the conversation in commit order.
func (s *TicketService) ListMessages(ctx context.Context, actor *domain.Identity, ticketID string) ([]domain.ChatMessage, error) {
	if _, err := s.GetTicket(ctx, actor, ticketID); err != nil {
		return nil, err
	}
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	msgs, err := s.messages.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, storeError(err, ticketID)
	}
	return msgs, nil
}

// CanJoin reports whether the actor may subscribe to the ticket's room.
func (s *TicketService) CanJoin(ctx context.Context, actor *domain.Identity, ticketID string) error {
	_, err := s.GetTicket(ctx, actor, ticketID)
	return err
}

// errNoLongerIdle aborts an inactivity closure whose precondition lapsed.
var errNoLongerIdle = errors.New("ticket no longer idle")

type transitionStep func(ticket *domain.Ticket, now time.Time) (*domain.ChatMessage, error)

// transition runs step against the locked ticket and stamps timestamps on
// success. Any message the step returns also advances last_message_at.
func (s *TicketService) transition(ctx context.Context, ticketID string, step transitionStep) (*domain.Ticket, *domain.ChatMessage, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	ticket, msg, err := s.tickets.Transition(ctx, ticketID, func(t *domain.Ticket) (*domain.ChatMessage, error) {
		now := s.now().UTC()
		msg, err := step(t, now)
		if err != nil {
			return nil, err
		}
		t.UpdatedAt = now
		if msg != nil {
			t.LastMessageAt = &now
		}
		return msg, nil
	})
	if err != nil {
		return nil, nil, storeError(err, ticketID)
	}
	return ticket, msg, nil
}

func (s *TicketService) loadTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, storeError(err, ticketID)
	}
	return ticket, nil
}

func (s *TicketService) checkReassignTarget(ctx context.Context, userID string) error {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound("user", map[string]any{"user_id": userID})
	}
	if err != nil {
		return err
	}
	if user.Role != domain.RoleMember {
		return apperrors.NewValidationError("reassign target must be a member", map[string]any{"reassigned_to": userID})
	}
	return nil
}

func (s *TicketService) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// publishEvent runs after commit. Subscriber failures are logged by the
// dispatcher and never undo the transition.
func (s *TicketService) publishEvent(ctx context.Context, ticket *domain.Ticket, actorID string, eventType events.EventType, payload any) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(context.WithoutCancel(ctx), events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticket.ID,
		OwnerID:   ticket.OwnerID,
		Actor:     actorID,
		Timestamp: s.now().UTC(),
		Payload:   payload,
	})
}

func systemMessage(ticket *domain.Ticket, body string, now time.Time) *domain.ChatMessage {
	return &domain.ChatMessage{
		ID:        uuid.NewString(),
		TicketID:  ticket.ID,
		Body:      body,
		IsSystem:  true,
		CreatedAt: now,
	}
}

func messagePayload(msg *domain.ChatMessage) events.MessagePayload {
	return events.MessagePayload{
		ID:        msg.ID,
		TicketID:  msg.TicketID,
		SenderID:  msg.SenderID,
		Message:   msg.Body,
		Timestamp: msg.CreatedAt,
		IsSystem:  msg.IsSystem,
	}
}

func invalidState(ticket *domain.Ticket, message string) error {
	return apperrors.NewInvalidState(message, map[string]any{
		"ticket_id": ticket.ID,
		"status":    ticket.Status,
	})
}

func storeError(err error, ticketID string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	return apperrors.MapError(err)
}
