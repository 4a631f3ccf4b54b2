package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/support-chat/internal/events"
)

// NotificationService writes an audit trail of lifecycle events.
type NotificationService struct {
	logger *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(logger *zap.Logger) *NotificationService {
	return &NotificationService{logger: logger.Named("audit")}
}

// Register subscribes to every lifecycle event.
func (n *NotificationService) Register(dispatcher events.Dispatcher) {
	for _, eventType := range events.AllEventTypes() {
		dispatcher.Subscribe(eventType, n.handle)
	}
}

func (n *NotificationService) handle(_ context.Context, event events.Event) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("ticket_id", event.TicketID),
		zap.String("owner_id", event.OwnerID),
		zap.Time("at", event.Timestamp),
	}
	if event.Actor != "" {
		fields = append(fields, zap.String("actor", event.Actor))
	}
	// Message bodies stay out of the audit log.
	if event.Type != events.EventMessage {
		fields = append(fields, zap.Any("payload", event.Payload))
	}
	n.logger.Info(string(event.Type), fields...)
	return nil
}
