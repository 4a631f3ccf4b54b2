package realtime

import (
	"sort"
	"sync"

	"github.com/spec-kit/support-chat/internal/domain"
)

// Session is one live connection and the rooms it belongs to. Outbound
// frames are queued on a buffered channel drained by the connection's
// write pump.
type Session struct {
	ID       string
	Identity domain.Identity

	send chan []byte
	done chan struct{}

	mu        sync.Mutex
	rooms     map[string]struct{}
	destroyed bool
	closeOnce sync.Once
}

func newSession(id string, identity domain.Identity, queueSize int) *Session {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Session{
		ID:       id,
		Identity: identity,
		send:     make(chan []byte, queueSize),
		done:     make(chan struct{}),
		rooms:    map[string]struct{}{PersonalRoom(identity.UserID): {}},
	}
}

// Outbound yields queued frames. It is never closed; watch Done instead.
func (s *Session) Outbound() <-chan []byte {
	return s.send
}

// Done is closed once the session is unregistered.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Rooms returns the session's rooms in sorted order.
func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// InRoom reports whether the session currently belongs to room.
func (s *Session) InRoom(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[room]
	return ok
}

// Enqueue queues frame without blocking. It returns false when the queue
// is full or the session is gone.
func (s *Session) Enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	case <-s.done:
		return false
	default:
		return false
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}
