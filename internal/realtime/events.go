package realtime

import (
	"encoding/json"
	"strings"
	"time"

	apperrors "github.com/spec-kit/support-chat/pkg/util/errorutil"
)

// Event names used only on the socket. Lifecycle event names come from
// the events package.
const (
	EventConnectSuccess    = "connect_success"
	EventJoin              = "join"
	EventJoined            = "joined"
	EventLeave             = "leave"
	EventMessage           = "message"
	EventMessageSent       = "message_sent"
	EventInactivityTimeout = "inactivity_timeout"
	EventError             = "error"
)

// Event is an outbound frame before encoding.
type Event struct {
	Name string
	Data any
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Encode renders the event as {"event": name, "data": payload}.
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Event: e.Name, Data: data})
}

// ConnectSuccess greets a freshly registered session.
type ConnectSuccess struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

// Joined confirms a join to the requesting connection.
type Joined struct {
	Room     string `json:"room"`
	TicketID string `json:"ticket_id"`
}

// MessageSent acknowledges a posted message to its sender.
type MessageSent struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorPayload reports a failed request to the offending connection.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ErrorEvent converts err into an error frame.
func ErrorEvent(err error) Event {
	domainErr := apperrors.ToDomainError(err)
	return Event{Name: EventError, Data: ErrorPayload{Message: domainErr.Message, Code: domainErr.Code}}
}

// Inbound is one decoded client request.
type Inbound interface {
	EventName() string
}

// JoinRequest asks to subscribe to a ticket room.
type JoinRequest struct {
	TicketID string `json:"ticket_id"`
}

// LeaveRequest asks to unsubscribe from a ticket room.
type LeaveRequest struct {
	TicketID string `json:"ticket_id"`
}

// MessageRequest posts a chat message. SenderID is optional and must match
// the authenticated user when present.
type MessageRequest struct {
	TicketID string  `json:"ticket_id"`
	SenderID *string `json:"sender_id,omitempty"`
	Message  string  `json:"message"`
}

// InactivityHint reports that the client saw the chat go quiet.
type InactivityHint struct {
	TicketID string `json:"ticket_id"`
}

func (JoinRequest) EventName() string { return EventJoin }
func (LeaveRequest) EventName() string { return EventLeave }
func (MessageRequest) EventName() string { return EventMessage }
func (InactivityHint) EventName() string { return EventInactivityTimeout }

// DecodeInbound parses and validates a client frame.
func DecodeInbound(frame []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, apperrors.NewValidationError("malformed frame", nil)
	}
	if env.Event == "" {
		return nil, apperrors.NewValidationError("missing event name", nil)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, apperrors.NewValidationError("missing data", map[string]any{"event": env.Event})
	}

	switch env.Event {
	case EventJoin:
		var req JoinRequest
		if err := decodeData(env, &req, &req.TicketID); err != nil {
			return nil, err
		}
		return req, nil
	case EventLeave:
		var req LeaveRequest
		if err := decodeData(env, &req, &req.TicketID); err != nil {
			return nil, err
		}
		return req, nil
	case EventInactivityTimeout:
		var req InactivityHint
		if err := decodeData(env, &req, &req.TicketID); err != nil {
			return nil, err
		}
		return req, nil
	case EventMessage:
		var req MessageRequest
		if err := decodeData(env, &req, &req.TicketID); err != nil {
			return nil, err
		}
		if strings.TrimSpace(req.Message) == "" {
			return nil, apperrors.NewValidationError("message is required", map[string]any{"event": env.Event})
		}
		return req, nil
	}
	return nil, apperrors.NewValidationError("unknown event "+env.Event, map[string]any{"event": env.Event})
}

func decodeData(env envelope, target any, ticketID *string) error {
	if err := json.Unmarshal(env.Data, target); err != nil {
		return apperrors.NewValidationError("malformed data", map[string]any{"event": env.Event})
	}
	*ticketID = strings.TrimSpace(*ticketID)
	if *ticketID == "" {
		return apperrors.NewValidationError("ticket_id is required", map[string]any{"event": env.Event})
	}
	return nil
}
