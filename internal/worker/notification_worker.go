package worker

import (
	"go.uber.org/zap"

	"github.com/spec-kit/support-chat/internal/events"
)

// Subscriber attaches its handlers to a dispatcher.
type Subscriber interface {
	Register(dispatcher events.Dispatcher)
}

// StartSubscribers registers every subscriber on dispatcher. Handlers run
// synchronously on the publishing goroutine.
func StartSubscribers(dispatcher events.Dispatcher, logger *zap.Logger, subscribers ...Subscriber) {
	if dispatcher == nil {
		return
	}
	for _, sub := range subscribers {
		if sub == nil {
			continue
		}
		sub.Register(dispatcher)
	}
	logger.Info("event subscribers registered", zap.Int("count", len(subscribers)))
}
