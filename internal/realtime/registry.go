package realtime

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/support-chat/internal/domain"
	"github.com/spec-kit/support-chat/internal/observability"
	apperrors "github.com/spec-kit/support-chat/pkg/util/errorutil"
)

// ErrUnknownSession is returned for connection ids that were never
// registered or have already been unregistered.
var ErrUnknownSession = errors.New("unknown session")

// ErrSessionExists is returned when a connection id is registered twice.
var ErrSessionExists = errors.New("session already registered")

type sessionShard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// Registry tracks live sessions and keeps the broadcaster's room tables in
// step with each session's room set. Locks are taken in the order session
// shard, session, room shard.
type Registry struct {
	shards      [shardCount]sessionShard
	broadcaster *Broadcaster
	queueSize   int
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// NewRegistry builds a registry feeding broadcaster.
func NewRegistry(broadcaster *Broadcaster, queueSize int, logger *zap.Logger, metrics *observability.Metrics) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		broadcaster: broadcaster,
		queueSize:   queueSize,
		logger:      logger,
		metrics:     metrics,
	}
	for i := range r.shards {
		r.shards[i].sessions = make(map[string]*Session)
	}
	return r
}

// Register creates an active session seeded with the user's personal room.
func (r *Registry) Register(connectionID string, identity *domain.Identity) (*Session, error) {
	if !identity.Authenticated() {
		return nil, apperrors.NewUnauthorized("unauthenticated connection")
	}
	sess := newSession(connectionID, *identity, r.queueSize)

	shard := r.shard(connectionID)
	shard.mu.Lock()
	if _, exists := shard.sessions[connectionID]; exists {
		shard.mu.Unlock()
		return nil, ErrSessionExists
	}
	r.broadcaster.add(PersonalRoom(identity.UserID), sess)
	shard.sessions[connectionID] = sess
	shard.mu.Unlock()

	r.metrics.Add(observability.SessionsRegistered, 1)
	r.logger.Debug("session registered",
		zap.String("session_id", connectionID),
		zap.String("user_id", identity.UserID))
	return sess, nil
}

// Join adds the session to room. Joining a held room is a no-op.
func (r *Registry) Join(connectionID, room string) error {
	sess, ok := r.Get(connectionID)
	if !ok {
		return ErrUnknownSession
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.destroyed {
		return ErrUnknownSession
	}
	if _, held := sess.rooms[room]; held {
		return nil
	}
	sess.rooms[room] = struct{}{}
	r.broadcaster.add(room, sess)
	return nil
}

// Leave removes the session from room. Leaving a room not held, or the
// personal room, is a no-op.
func (r *Registry) Leave(connectionID, room string) error {
	sess, ok := r.Get(connectionID)
	if !ok {
		return ErrUnknownSession
	}
	if room == PersonalRoom(sess.Identity.UserID) {
		return nil
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.destroyed {
		return ErrUnknownSession
	}
	if _, held := sess.rooms[room]; !held {
		return nil
	}
	delete(sess.rooms, room)
	r.broadcaster.remove(room, sess)
	return nil
}

// Unregister removes the session from every room and discards it. It is
// safe to call repeatedly and for ids that never registered.
func (r *Registry) Unregister(connectionID string) {
	shard := r.shard(connectionID)
	shard.mu.Lock()
	sess, ok := shard.sessions[connectionID]
	delete(shard.sessions, connectionID)
	shard.mu.Unlock()
	if !ok {
		return
	}

	sess.mu.Lock()
	if sess.destroyed {
		sess.mu.Unlock()
		return
	}
	sess.destroyed = true
	rooms := sess.rooms
	sess.rooms = map[string]struct{}{}
	for room := range rooms {
		r.broadcaster.remove(room, sess)
	}
	sess.mu.Unlock()

	sess.close()
	r.metrics.Add(observability.SessionsUnregistered, 1)
	r.logger.Debug("session unregistered",
		zap.String("session_id", connectionID),
		zap.String("user_id", sess.Identity.UserID))
}

// Get looks up a live session.
func (r *Registry) Get(connectionID string) (*Session, bool) {
	shard := r.shard(connectionID)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	sess, ok := shard.sessions[connectionID]
	return sess, ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	total := 0
	for i := range r.shards {
		r.shards[i].mu.RLock()
		total += len(r.shards[i].sessions)
		r.shards[i].mu.RUnlock()
	}
	return total
}

// Close unregisters every session, ending their write pumps.
func (r *Registry) Close() {
	var ids []string
	for i := range r.shards {
		r.shards[i].mu.RLock()
		for id := range r.shards[i].sessions {
			ids = append(ids, id)
		}
		r.shards[i].mu.RUnlock()
	}
	for _, id := range ids {
		r.Unregister(id)
	}
}

func (r *Registry) shard(connectionID string) *sessionShard {
	return &r.shards[shardIndex(connectionID)]
}
