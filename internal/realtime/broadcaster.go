package realtime

import (
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/support-chat/internal/observability"
)

type roomShard struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Session
}

// Broadcaster fans events out to room members. Delivery is best effort: a
// member whose queue is full or closed misses that event and the rest are
// unaffected.
type Broadcaster struct {
	shards  [shardCount]roomShard
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewBroadcaster builds an empty broadcaster.
func NewBroadcaster(logger *zap.Logger, metrics *observability.Metrics) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Broadcaster{logger: logger, metrics: metrics}
	for i := range b.shards {
		b.shards[i].rooms = make(map[string]map[string]*Session)
	}
	return b
}

// Broadcast encodes event once and enqueues it for every current member of
// room. It returns how many sessions accepted the frame.
func (b *Broadcaster) Broadcast(room string, event Event) int {
	frame, err := event.Encode()
	if err != nil {
		b.logger.Error("encode event", zap.String("event", event.Name), zap.Error(err))
		return 0
	}

	members := b.snapshot(room)
	delivered := 0
	for _, sess := range members {
		if sess.Enqueue(frame) {
			delivered++
			continue
		}
		b.metrics.Add(observability.BroadcastsDropped, 1)
		b.logger.Warn("dropped event for slow or closed session",
			zap.String("room", room),
			zap.String("event", event.Name),
			zap.String("session_id", sess.ID),
			zap.String("user_id", sess.Identity.UserID))
	}
	b.metrics.Add(observability.BroadcastsDelivered, int64(delivered))
	return delivered
}

// BroadcastToUser reaches every session of userID.
func (b *Broadcaster) BroadcastToUser(userID string, event Event) int {
	return b.Broadcast(PersonalRoom(userID), event)
}

// BroadcastToMembers reaches every connected member and admin.
func (b *Broadcaster) BroadcastToMembers(event Event) int {
	return b.Broadcast(MembersRoom, event)
}

// Send delivers event to a single session.
func (b *Broadcaster) Send(sess *Session, event Event) bool {
	frame, err := event.Encode()
	if err != nil {
		b.logger.Error("encode event", zap.String("event", event.Name), zap.Error(err))
		return false
	}
	if !sess.Enqueue(frame) {
		b.metrics.Add(observability.BroadcastsDropped, 1)
		return false
	}
	return true
}

// RoomSize returns the current member count of room.
func (b *Broadcaster) RoomSize(room string) int {
	shard := &b.shards[shardIndex(room)]
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	return len(shard.rooms[room])
}

func (b *Broadcaster) snapshot(room string) []*Session {
	shard := &b.shards[shardIndex(room)]
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	members := shard.rooms[room]
	out := make([]*Session, 0, len(members))
	for _, sess := range members {
		out = append(out, sess)
	}
	return out
}

func (b *Broadcaster) add(room string, sess *Session) {
	shard := &b.shards[shardIndex(room)]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	members, ok := shard.rooms[room]
	if !ok {
		members = make(map[string]*Session)
		shard.rooms[room] = members
	}
	members[sess.ID] = sess
}

func (b *Broadcaster) remove(room string, sess *Session) {
	shard := &b.shards[shardIndex(room)]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	members := shard.rooms[room]
	if members[sess.ID] != sess {
		return
	}
	delete(members, sess.ID)
	if len(members) == 0 {
		delete(shard.rooms, room)
	}
}
