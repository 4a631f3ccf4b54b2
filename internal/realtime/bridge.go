package realtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/support-chat/internal/events"
)

// Bridge turns lifecycle events into exactly one broadcast each.
type Bridge struct {
	broadcaster *Broadcaster
	logger      *zap.Logger
}

// NewBridge builds a bridge onto broadcaster.
func NewBridge(broadcaster *Broadcaster, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{broadcaster: broadcaster, logger: logger}
}

// Register subscribes the bridge to every lifecycle event.
func (b *Bridge) Register(dispatcher events.Dispatcher) {
	for _, eventType := range events.AllEventTypes() {
		dispatcher.Subscribe(eventType, b.handle)
	}
}

// Route returns the room an event is broadcast to.
func Route(event events.Event) string {
	switch event.Type {
	case events.EventNewTicket:
		return MembersRoom
	case events.EventTicketAccepted, events.EventTicketRejected:
		return PersonalRoom(event.OwnerID)
	default:
		return TicketRoom(event.TicketID)
	}
}

func (b *Bridge) handle(_ context.Context, event events.Event) error {
	room := Route(event)
	out := Event{Name: string(event.Type), Data: event.Payload}

	var delivered int
	switch event.Type {
	case events.EventNewTicket:
		delivered = b.broadcaster.BroadcastToMembers(out)
	case events.EventTicketAccepted, events.EventTicketRejected:
		delivered = b.broadcaster.BroadcastToUser(event.OwnerID, out)
	default:
		delivered = b.broadcaster.Broadcast(room, out)
	}
	b.logger.Debug("event broadcast",
		zap.String("event", string(event.Type)),
		zap.String("room", room),
		zap.Int("delivered", delivered))
	return nil
}
