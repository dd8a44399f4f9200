package service

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"agora-server/internal/model"
)

// RoomEmitter delivers a frame to every member of a room.
type RoomEmitter interface {
	EmitToRoom(room, event string, data interface{}) int
}

type typingEntry struct {
	sessionID string
	timer     *clock.Timer
	gen       uint64
}

// TypingTracker holds ephemeral typing state per chat room. A repeated start
// only refreshes the expiry; typers stop automatically after the TTL.
type TypingTracker struct {
	rooms map[string]map[string]*typingEntry // chat room id -> user id
	mu    sync.Mutex
	gen   uint64

	ttl        time.Duration
	maxPerRoom int
	clock      clock.Clock
	emitter    RoomEmitter
}

func NewTypingTracker(emitter RoomEmitter, clk clock.Clock, ttl time.Duration, maxPerRoom int) *TypingTracker {
	if clk == nil {
		clk = clock.New()
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &TypingTracker{
		rooms:      make(map[string]map[string]*typingEntry),
		ttl:        ttl,
		maxPerRoom: maxPerRoom,
		clock:      clk,
		emitter:    emitter,
	}
}

// Start marks userID as typing in roomID and reports whether a
// chat:typing_start was broadcast.
func (t *TypingTracker) Start(roomID, userID, sessionID string) bool {
	t.mu.Lock()
	typers, ok := t.rooms[roomID]
	if !ok {
		typers = make(map[string]*typingEntry)
		t.rooms[roomID] = typers
	}

	if entry, ok := typers[userID]; ok {
		entry.timer.Stop()
		entry.sessionID = sessionID
		entry.gen = t.nextGenLocked()
		entry.timer = t.scheduleLocked(roomID, userID, entry.gen)
		t.mu.Unlock()
		return false
	}

	if t.maxPerRoom > 0 && len(typers) >= t.maxPerRoom {
		t.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"room":    roomID,
			"user_id": userID,
		}).Debug("typing limit reached, ignoring")
		return false
	}

	gen := t.nextGenLocked()
	typers[userID] = &typingEntry{
		sessionID: sessionID,
		gen:       gen,
		timer:     t.scheduleLocked(roomID, userID, gen),
	}
	t.mu.Unlock()

	t.emit(model.ChatTypingStart, roomID, userID)
	return true
}

// Stop clears userID's typing state in roomID and reports whether a
// chat:typing_stop was broadcast.
func (t *TypingTracker) Stop(roomID, userID string) bool {
	t.mu.Lock()
	entry := t.removeLocked(roomID, userID)
	t.mu.Unlock()

	if entry == nil {
		return false
	}
	entry.timer.Stop()
	t.emit(model.ChatTypingStop, roomID, userID)
	return true
}

// ClearSession stops every typing entry started by sessionID.
func (t *TypingTracker) ClearSession(sessionID string) int {
	type key struct{ room, user string }
	var stopped []key

	t.mu.Lock()
	for roomID, typers := range t.rooms {
		for userID, entry := range typers {
			if entry.sessionID == sessionID {
				stopped = append(stopped, key{roomID, userID})
			}
		}
	}
	for _, k := range stopped {
		if entry := t.removeLocked(k.room, k.user); entry != nil {
			entry.timer.Stop()
		}
	}
	t.mu.Unlock()

	for _, k := range stopped {
		t.emit(model.ChatTypingStop, k.room, k.user)
	}
	return len(stopped)
}

func (t *TypingTracker) IsTyping(roomID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.rooms[roomID][userID]
	return ok
}

func (t *TypingTracker) Count(roomID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rooms[roomID])
}

func (t *TypingTracker) expire(roomID, userID string, gen uint64) {
	t.mu.Lock()
	entry, ok := t.rooms[roomID][userID]
	if !ok || entry.gen != gen {
		t.mu.Unlock()
		return
	}
	t.removeLocked(roomID, userID)
	t.mu.Unlock()

	t.emit(model.ChatTypingStop, roomID, userID)
}

func (t *TypingTracker) nextGenLocked() uint64 {
	t.gen++
	return t.gen
}

func (t *TypingTracker) scheduleLocked(roomID, userID string, gen uint64) *clock.Timer {
	return t.clock.AfterFunc(t.ttl, func() { t.expire(roomID, userID, gen) })
}

func (t *TypingTracker) removeLocked(roomID, userID string) *typingEntry {
	typers, ok := t.rooms[roomID]
	if !ok {
		return nil
	}
	entry, ok := typers[userID]
	if !ok {
		return nil
	}
	delete(typers, userID)
	if len(typers) == 0 {
		delete(t.rooms, roomID)
	}
	return entry
}

func (t *TypingTracker) emit(event model.ChatEvent, roomID, userID string) {
	if t.emitter == nil {
		return
	}
	t.emitter.EmitToRoom(model.ChatRoomID(roomID), string(event), model.TypingNotice{
		RoomID: roomID,
		UserID: userID,
	})
}
