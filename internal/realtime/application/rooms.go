package application

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	aggregation "energy-dashboard/internal/aggregation/domain"
	"energy-dashboard/internal/auth"
	"energy-dashboard/internal/observability/metrics"
	realtime "energy-dashboard/internal/realtime/domain"
)

// Session is one authenticated connection.
type Session struct {
	ID          string
	Identity    auth.Identity
	ConnectedAt time.Time
	sink        realtime.Sink
	closed      bool
}

// Send queues a message for the session. It never blocks.
func (s *Session) Send(msg realtime.Message) bool {
	if s == nil || s.sink == nil {
		return false
	}
	if !s.sink.Send(msg) {
		metrics.IncMessageDropped()
		return false
	}
	metrics.AddMessagesPushed(msg.Type, 1)
	return true
}

// RoomStats summarizes room membership.
type RoomStats struct {
	Sessions    int            `json:"sessions"`
	Rooms       int            `json:"rooms"`
	ActiveRooms int            `json:"activeRooms"`
	Members     map[string]int `json:"members"`
}

// RoomManager owns the bidirectional index between sessions and rooms.
// Every mutation of either side happens under mu, so a session can never
// stay in a room after Disconnect returns.
type RoomManager struct {
	guard      realtime.Authorizer
	maxPerRoom int

	mu           sync.Mutex
	sessions     map[string]*Session
	sessionRooms map[string]map[aggregation.Key]struct{}
	rooms        map[aggregation.Key]map[string]*Session
}

// NewRoomManager constructs a room manager. maxPerRoom <= 0 means no cap.
func NewRoomManager(guard realtime.Authorizer, maxPerRoom int) (*RoomManager, error) {
	if guard == nil {
		return nil, errors.New("room manager: nil authorizer")
	}
	return &RoomManager{
		guard:        guard,
		maxPerRoom:   maxPerRoom,
		sessions:     make(map[string]*Session),
		sessionRooms: make(map[string]map[aggregation.Key]struct{}),
		rooms:        make(map[aggregation.Key]map[string]*Session),
	}, nil
}

// Register adds a new session.
func (m *RoomManager) Register(session *Session) error {
	if session == nil || session.ID == "" {
		return errors.New("room manager: invalid session")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if session.closed {
		return realtime.ErrSessionClosed
	}
	if _, exists := m.sessions[session.ID]; exists {
		return errors.New("room manager: duplicate session id")
	}
	m.sessions[session.ID] = session
	m.sessionRooms[session.ID] = make(map[aggregation.Key]struct{})
	metrics.SetActiveSessions(len(m.sessions))
	return nil
}

// Subscribe adds the session to the room of key. The scope check runs
// before the lock is taken; it may return hierarchy.ErrNotFound or
// auth.ErrForbidden, in which case no membership is created.
func (m *RoomManager) Subscribe(ctx context.Context, session *Session, key aggregation.Key) error {
	if session == nil {
		return realtime.ErrSessionClosed
	}
	if err := m.guard.Authorize(ctx, session.Identity.Scope, key.Level, key.EntityID); err != nil {
		metrics.IncSubscriptionRejected(realtime.ErrorCode(err))
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if session.closed {
		return realtime.ErrSessionClosed
	}
	joined, ok := m.sessionRooms[session.ID]
	if !ok {
		return realtime.ErrSessionClosed
	}
	if _, already := joined[key]; already {
		return nil
	}
	members := m.rooms[key]
	if m.maxPerRoom > 0 && len(members) >= m.maxPerRoom {
		metrics.IncSubscriptionRejected(realtime.CodeCapacity)
		return realtime.ErrRoomFull
	}
	if members == nil {
		members = make(map[string]*Session)
		m.rooms[key] = members
	}
	members[session.ID] = session
	joined[key] = struct{}{}
	return nil
}

// Unsubscribe removes the session from the room. A room left without
// members stays known but dormant.
func (m *RoomManager) Unsubscribe(session *Session, key aggregation.Key) error {
	if session == nil {
		return realtime.ErrSessionClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	joined, ok := m.sessionRooms[session.ID]
	if !ok || session.closed {
		return realtime.ErrSessionClosed
	}
	if _, member := joined[key]; !member {
		return realtime.ErrNotSubscribed
	}
	delete(joined, key)
	delete(m.rooms[key], session.ID)
	return nil
}

// Disconnect removes the session from every room and closes it. It is
// idempotent.
func (m *RoomManager) Disconnect(session *Session) {
	if session == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	session.closed = true
	for key := range m.sessionRooms[session.ID] {
		delete(m.rooms[key], session.ID)
	}
	delete(m.sessionRooms, session.ID)
	delete(m.sessions, session.ID)
	metrics.SetActiveSessions(len(m.sessions))
}

// ActiveRooms returns rooms with at least one member, ordered by key.
func (m *RoomManager) ActiveRooms() []aggregation.Key {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]aggregation.Key, 0, len(m.rooms))
	for key, members := range m.rooms {
		if len(members) > 0 {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Members returns a snapshot of the room's sessions.
func (m *RoomManager) Members(key aggregation.Key) []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	members := m.rooms[key]
	out := make([]*Session, 0, len(members))
	for _, session := range members {
		out = append(out, session)
	}
	return out
}

// Rooms returns the rooms a session belongs to, ordered by key.
func (m *RoomManager) Rooms(session *Session) []aggregation.Key {
	m.mu.Lock()
	defer m.mu.Unlock()

	joined := m.sessionRooms[session.ID]
	out := make([]aggregation.Key, 0, len(joined))
	for key := range joined {
		out = append(out, key)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Sessions returns a snapshot of all connected sessions.
func (m *RoomManager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		out = append(out, session)
	}
	return out
}

// Stats summarizes the current membership.
func (m *RoomManager) Stats() RoomStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := RoomStats{
		Sessions: len(m.sessions),
		Rooms:    len(m.rooms),
		Members:  make(map[string]int, len(m.rooms)),
	}
	for key, members := range m.rooms {
		if len(members) > 0 {
			stats.ActiveRooms++
		}
		stats.Members[key.String()] = len(members)
	}
	return stats
}
