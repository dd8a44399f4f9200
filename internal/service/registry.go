package service

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"agora-server/internal/metrics"
	"agora-server/internal/model"
)

// RoomRegistry indexes sessions by room and rooms by session under one lock.
type RoomRegistry struct {
	rooms     map[string]map[string]*Session // room -> sessionID -> session
	bySession map[string]map[string]struct{} // sessionID -> rooms
	mu        sync.RWMutex

	names   *RoomService
	metrics *metrics.Metrics
}

func NewRoomRegistry(m *metrics.Metrics) *RoomRegistry {
	return &RoomRegistry{
		rooms:     make(map[string]map[string]*Session),
		bySession: make(map[string]map[string]struct{}),
		names:     NewRoomService(),
		metrics:   m,
	}
}

// Join adds s to room. Joining twice is a no-op.
func (r *RoomRegistry) Join(s *Session, room string) error {
	if err := r.names.ValidateRoomName(room); err != nil {
		return err
	}

	r.mu.Lock()
	// LeaveAll runs after the state flips, so a late join cannot leak
	if s.State() == StateDisconnected {
		r.mu.Unlock()
		return model.ErrTransport
	}
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]*Session)
		r.rooms[room] = members
	}
	members[s.ID] = s

	joined, ok := r.bySession[s.ID]
	if !ok {
		joined = make(map[string]struct{})
		r.bySession[s.ID] = joined
	}
	joined[room] = struct{}{}
	size := len(members)
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"session_id": s.ID,
		"user_id":    s.UserID(),
		"room":       room,
		"room_size":  size,
	}).Debug("session joined room")
	return nil
}

// Leave removes s from room. Leaving a room not joined is a no-op.
func (r *RoomRegistry) Leave(s *Session, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(s.ID, room)
}

func (r *RoomRegistry) leaveLocked(sessionID, room string) {
	if members, ok := r.rooms[room]; ok {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	if joined, ok := r.bySession[sessionID]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(r.bySession, sessionID)
		}
	}
}

// LeaveAll releases every room held by s and returns them.
func (r *RoomRegistry) LeaveAll(s *Session) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined := r.bySession[s.ID]
	left := make([]string, 0, len(joined))
	for room := range joined {
		left = append(left, room)
	}
	for _, room := range left {
		r.leaveLocked(s.ID, room)
	}
	sort.Strings(left)
	return left
}

func (r *RoomRegistry) IsMember(s *Session, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][s.ID]
	return ok
}

// Members returns a snapshot of the sessions in room.
func (r *RoomRegistry) Members(room string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	out := make([]*Session, 0, len(members))
	for _, s := range members {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RoomsOf returns the sorted rooms s belongs to.
func (r *RoomRegistry) RoomsOf(s *Session) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	joined := r.bySession[s.ID]
	out := make([]string, 0, len(joined))
	for room := range joined {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// EmitToRoom delivers one frame to every current member of room, in order,
// and returns the number of successful deliveries. An empty room is a no-op.
func (r *RoomRegistry) EmitToRoom(room, event string, data interface{}) int {
	members := r.Members(room)
	if len(members) == 0 {
		return 0
	}

	env := model.NewEnvelope(event, data)
	delivered := 0
	for _, s := range members {
		if err := s.SendEnvelope(env); err == nil {
			delivered++
		}
	}
	r.metrics.Delivered(delivered)

	logrus.WithFields(logrus.Fields{
		"room":       room,
		"event":      event,
		"recipients": delivered,
		"room_size":  len(members),
	}).Debug("room emit")
	return delivered
}

// Stats returns room and membership counts.
func (r *RoomRegistry) Stats() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	memberships := 0
	for _, members := range r.rooms {
		memberships += len(members)
	}
	return map[string]interface{}{
		"total_rooms":       len(r.rooms),
		"total_memberships": memberships,
	}
}
