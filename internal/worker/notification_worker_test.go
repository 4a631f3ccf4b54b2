package worker

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/spec-kit/support-chat/internal/events"
)

type countingSubscriber struct {
	seen int
}

func (c *countingSubscriber) Register(dispatcher events.Dispatcher) {
	dispatcher.Subscribe(events.EventNewTicket, func(context.Context, events.Event) error {
		c.seen++
		return nil
	})
}

func TestStartSubscribersRegistersEach(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher(zap.NewNop())
	first, second := &countingSubscriber{}, &countingSubscriber{}

	StartSubscribers(dispatcher, zap.NewNop(), first, nil, second)
	if err := dispatcher.Publish(context.Background(), events.Event{Type: events.EventNewTicket}); err != nil {
		t.Fatal(err)
	}
	if first.seen != 1 || second.seen != 1 {
		t.Fatalf("seen = %d, %d", first.seen, second.seen)
	}
}
