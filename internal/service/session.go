package service

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"agora-server/internal/model"
)

// SessionState is the lifecycle position of a connection.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateAuthenticated
	StateActive
	StateDisconnected
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	default:
		return "disconnected"
	}
}

// Transport is the write side of a persistent connection.
type Transport interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Session is the per-connection record created at handshake.
type Session struct {
	ID       string
	Identity *model.Identity
	Auth     model.AuthPayload

	transport Transport
	clock     clock.Clock
	state     atomic.Int32
	dead      atomic.Bool
	lastSeen  atomic.Int64

	writeMu    sync.Mutex
	dispatchMu sync.Mutex

	chat        *ChatHandler
	post        *PostHandler
	marketplace *MarketplaceHandler

	registry  *RoomRegistry
	onFailure func(*Session, error)
}

func newSession(t Transport, identity *model.Identity, token string, registry *RoomRegistry, clk clock.Clock) *Session {
	s := &Session{
		ID:        uuid.New().String(),
		Identity:  identity,
		Auth:      model.AuthPayload{UserID: identity.ID, Token: token},
		transport: t,
		clock:     clk,
		registry:  registry,
	}
	s.state.Store(int32(StateConnecting))
	s.Touch()
	return s
}

func (s *Session) UserID() string { return s.Identity.ID }

func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

func (s *Session) setState(st SessionState) { s.state.Store(int32(st)) }

// markDisconnected moves the session to its terminal state; it reports
// whether this call performed the transition and the state it left.
func (s *Session) markDisconnected() (SessionState, bool) {
	for {
		cur := s.state.Load()
		if SessionState(cur) == StateDisconnected {
			return StateDisconnected, false
		}
		if s.state.CompareAndSwap(cur, int32(StateDisconnected)) {
			return SessionState(cur), true
		}
	}
}

// Touch records inbound activity.
func (s *Session) Touch() {
	s.lastSeen.Store(s.clock.Now().UnixNano())
}

func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// Connected reports whether the transport is still usable.
func (s *Session) Connected() bool {
	return !s.dead.Load() && s.State() != StateDisconnected
}

// Rooms returns the registry's view of this session's memberships.
func (s *Session) Rooms() []string {
	if s.registry == nil {
		return nil
	}
	return s.registry.RoomsOf(s)
}

// Send marshals data into an envelope and writes it to the transport.
func (s *Session) Send(event string, data interface{}) error {
	return s.SendEnvelope(model.NewEnvelope(event, data))
}

// SendEnvelope writes a prepared frame. A failed write marks the transport
// dead and tears the session down.
func (s *Session) SendEnvelope(env *model.Envelope) error {
	if !s.Connected() {
		return model.ErrTransport
	}

	s.writeMu.Lock()
	err := s.transport.WriteJSON(env)
	s.writeMu.Unlock()

	if err != nil {
		s.dead.Store(true)
		logrus.WithFields(logrus.Fields{
			"session_id": s.ID,
			"user_id":    s.UserID(),
			"event":      env.Event,
			"error":      err.Error(),
		}).Warn("write to session failed")
		if s.onFailure != nil {
			s.onFailure(s, err)
		}
		return &model.Error{Kind: model.KindTransport, Message: "write failed", Err: err}
	}
	return nil
}
