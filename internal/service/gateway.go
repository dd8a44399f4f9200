package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"agora-server/internal/metrics"
	"agora-server/internal/model"
	"agora-server/internal/store"
	"agora-server/pkg/logger"
)

// GatewayConfig tunes the gateway. Zero values fall back to defaults.
type GatewayConfig struct {
	LivenessInterval time.Duration
	IdleTimeout      time.Duration
	TypingTTL        time.Duration
	MaxTypingPerRoom int
	Search           SearchLimits
	Clock            clock.Clock
}

// Gateway authenticates connections, wires their handlers and routes events.
type Gateway struct {
	sessions      map[string]*Session // sessionID -> Session
	sessionsMutex sync.RWMutex

	verifier IdentityVerifier
	store    store.Store
	registry *RoomRegistry
	typing   *TypingTracker
	validate *validator.Validate
	metrics  *metrics.Metrics
	clock    clock.Clock
	cfg      GatewayConfig

	cron *cron.Cron
}

func NewGateway(verifier IdentityVerifier, st store.Store, cfg GatewayConfig, m *metrics.Metrics) *Gateway {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}

	registry := NewRoomRegistry(m)
	g := &Gateway{
		sessions: make(map[string]*Session),
		verifier: verifier,
		store:    st,
		registry: registry,
		typing:   NewTypingTracker(registry, cfg.Clock, cfg.TypingTTL, cfg.MaxTypingPerRoom),
		validate: NewValidator(),
		metrics:  m,
		clock:    cfg.Clock,
		cfg:      cfg,
	}

	if cfg.LivenessInterval > 0 {
		g.startMaintenance(cfg.LivenessInterval)
	}
	return g
}

func (g *Gateway) Registry() *RoomRegistry { return g.registry }

func (g *Gateway) Typing() *TypingTracker { return g.typing }

// Authenticate runs the credential check of the handshake. userID, when
// given, must match the verified identity.
func (g *Gateway) Authenticate(ctx context.Context, token, userID string) (*model.Identity, error) {
	identity, err := g.verifier.Verify(ctx, token)
	if err != nil {
		g.metrics.HandshakeFailed("auth")
		logrus.WithError(err).Warn("handshake rejected")
		return nil, model.Handshake(err)
	}
	if userID != "" && userID != identity.ID {
		g.metrics.HandshakeFailed("identity_mismatch")
		logrus.WithFields(logrus.Fields{
			"user_id": identity.ID,
			"claimed": userID,
		}).Warn("handshake rejected: user id mismatch")
		return nil, model.Handshake(errors.New("user id does not match credential"))
	}
	return identity, nil
}

// Connect authenticates and attaches a transport in one step.
func (g *Gateway) Connect(ctx context.Context, t Transport, token, userID string) (*Session, error) {
	identity, err := g.Authenticate(ctx, token, userID)
	if err != nil {
		return nil, err
	}
	return g.Attach(ctx, t, identity, token)
}

// Attach creates the session for a verified identity, joins its identity
// room and wires the domain handlers. Any failure tears the connection down.
func (g *Gateway) Attach(_ context.Context, t Transport, identity *model.Identity, token string) (*Session, error) {
	s := newSession(t, identity, token, g.registry, g.clock)
	s.onFailure = func(s *Session, err error) { g.Disconnect(s, "transport error") }
	s.setState(StateAuthenticated)

	if err := g.registry.Join(s, model.UserRoom(identity.ID)); err != nil {
		g.metrics.HandshakeFailed("identity_room")
		g.Disconnect(s, "identity room rejected")
		return nil, model.Handshake(err)
	}

	if err := g.wireHandlers(s); err != nil {
		g.metrics.HandshakeFailed("handler_init")
		logrus.WithFields(logrus.Fields{
			"session_id": s.ID,
			"user_id":    identity.ID,
			"error":      err.Error(),
		}).Error("handler initialization failed")
		g.Disconnect(s, "handler initialization failed")
		return nil, model.Handshake(err)
	}

	g.sessionsMutex.Lock()
	g.sessions[s.ID] = s
	g.sessionsMutex.Unlock()
	s.setState(StateActive)
	g.metrics.SessionOpened()

	logrus.WithFields(logrus.Fields{
		"session_id": s.ID,
		"user_id":    identity.ID,
		"role":       identity.Role,
	}).Info("session connected")

	if err := s.Send(model.EventConnectionEstablished, map[string]interface{}{
		"sessionId": s.ID,
		"user":      identity,
	}); err != nil {
		return nil, err
	}
	return s, nil
}

func (g *Gateway) wireHandlers(s *Session) error {
	deps := HandlerDeps{
		Store:     g.store,
		Registry:  g.registry,
		Typing:    g.typing,
		Validate:  g.validate,
		Broadcast: g,
		Search:    g.cfg.Search,
	}

	var err error
	if s.chat, err = NewChatHandler(s, deps); err != nil {
		return fmt.Errorf("chat handler: %w", err)
	}
	if s.post, err = NewPostHandler(s, deps); err != nil {
		return fmt.Errorf("post handler: %w", err)
	}
	if s.marketplace, err = NewMarketplaceHandler(s, deps); err != nil {
		return fmt.Errorf("marketplace handler: %w", err)
	}
	return nil
}

// Dispatch routes one inbound frame. Events of a session run one at a time;
// errors are reported to the sender only and never escape.
func (g *Gateway) Dispatch(ctx context.Context, s *Session, env *model.Envelope) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	if s.State() != StateActive {
		return
	}
	s.Touch()

	ev, known := model.ParseEvent(env.Event)
	if !known {
		g.metrics.EventHandled(ev.Domain.String(), "unknown", "error")
		g.reportError(s, model.EventSystemError, env.Event, model.Validationf("unknown event %q", env.Event))
		return
	}

	err := g.handle(ctx, s, ev, env.Data)
	if err == nil {
		g.metrics.EventHandled(ev.Domain.String(), ev.Name, "ok")
		return
	}
	g.metrics.EventHandled(ev.Domain.String(), ev.Name, "error")
	g.reportError(s, ev.Domain.ErrorEvent(), ev.Name, err)
}

func (g *Gateway) handle(ctx context.Context, s *Session, ev model.Event, data json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"session_id": s.ID,
				"event":      ev.Name,
				"panic":      fmt.Sprint(r),
				"stack":      string(debug.Stack()),
			}).Error("event handler panicked")
			err = &model.Error{Kind: model.KindInternal, Message: "internal error"}
		}
	}()

	switch ev.Domain {
	case model.DomainRoom:
		return g.handleRoom(ctx, s, model.RoomEvent(ev.Name), data)
	case model.DomainChat:
		return s.chat.Handle(ctx, model.ChatEvent(ev.Name), data)
	case model.DomainPost:
		return s.post.Handle(ctx, model.PostEvent(ev.Name), data)
	case model.DomainMarketplace:
		return s.marketplace.Handle(ctx, model.MarketplaceEvent(ev.Name), data)
	}
	return model.Validationf("unknown event %q", ev.Name)
}

type roomPayload struct {
	RoomID string `json:"roomId" validate:"required,max=160"`
}

func (g *Gateway) handleRoom(ctx context.Context, s *Session, ev model.RoomEvent, data json.RawMessage) error {
	var p roomPayload
	if err := decodePayload(g.validate, data, &p); err != nil {
		return err
	}
	room := g.registry.names.SanitizeRoomName(p.RoomID)

	switch ev {
	case model.RoomJoin:
		if err := g.registry.names.ValidateRoomName(room); err != nil {
			return err
		}
		if strings.HasPrefix(room, model.RoomPrefixUser) && room != model.UserRoom(s.UserID()) {
			return model.Forbiddenf("cannot join another user's room")
		}
		if strings.HasPrefix(room, model.RoomPrefixChat) {
			return s.chat.JoinRoom(ctx, strings.TrimPrefix(room, model.RoomPrefixChat))
		}
		return g.registry.Join(s, room)
	case model.RoomLeave:
		if room == model.UserRoom(s.UserID()) {
			return model.Forbiddenf("cannot leave the identity room")
		}
		if strings.HasPrefix(room, model.RoomPrefixChat) {
			g.typing.Stop(strings.TrimPrefix(room, model.RoomPrefixChat), s.UserID())
		}
		g.registry.Leave(s, room)
		return nil
	}
	return model.Validationf("unsupported room event %q", ev)
}

func (g *Gateway) reportError(s *Session, errorEvent, event string, err error) {
	e := model.AsError(err)
	fields := logrus.Fields{
		"session_id": s.ID,
		"user_id":    s.UserID(),
		"event":      event,
		"code":       e.Code(),
	}
	if e.Kind == model.KindTransport {
		logrus.WithFields(fields).Debug("event aborted by transport failure")
		return
	}

	entry := logrus.WithFields(fields).WithError(err)
	switch e.Kind {
	case model.KindInternal, model.KindTransaction:
		entry.Error("event failed")
	default:
		entry.Info("event rejected")
	}
	_ = s.Send(errorEvent, model.Failure(err))
}

// Disconnect tears a session down once: handlers release their resources,
// every room is left and the transport is closed.
func (g *Gateway) Disconnect(s *Session, reason string) error {
	prev, ok := s.markDisconnected()
	if !ok {
		return nil
	}
	if prev == StateActive {
		g.metrics.SessionClosed()
	}

	if s.chat != nil {
		s.chat.Close()
	}
	if s.marketplace != nil {
		s.marketplace.Close()
	}
	rooms := g.registry.LeaveAll(s)

	g.sessionsMutex.Lock()
	delete(g.sessions, s.ID)
	g.sessionsMutex.Unlock()

	err := s.transport.Close()

	logrus.WithFields(logrus.Fields{
		"session_id": s.ID,
		"user_id":    s.UserID(),
		"reason":     reason,
		"rooms_left": len(rooms),
	}).Info("session disconnected")
	return err
}

// Broadcast sends one frame to every active session except exceptSessionID.
func (g *Gateway) Broadcast(event string, data interface{}, exceptSessionID string) int {
	env := model.NewEnvelope(event, data)

	delivered := 0
	for _, s := range g.snapshot() {
		if s.ID == exceptSessionID || s.State() != StateActive {
			continue
		}
		if err := s.SendEnvelope(env); err == nil {
			delivered++
		}
	}
	g.metrics.Delivered(delivered)
	return delivered
}

func (g *Gateway) EmitToRoom(room, event string, data interface{}) int {
	return g.registry.EmitToRoom(room, event, data)
}

func (g *Gateway) Session(id string) (*Session, bool) {
	g.sessionsMutex.RLock()
	defer g.sessionsMutex.RUnlock()
	s, ok := g.sessions[id]
	return s, ok
}

func (g *Gateway) snapshot() []*Session {
	g.sessionsMutex.RLock()
	defer g.sessionsMutex.RUnlock()
	out := make([]*Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		out = append(out, s)
	}
	return out
}

func (g *Gateway) startMaintenance(interval time.Duration) {
	g.cron = cron.New()
	_, err := g.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		g.Sweep()
		logger.CleanupLogs()
	})
	if err != nil {
		logrus.WithError(err).Error("scheduling liveness sweep failed")
		return
	}
	g.cron.Start()
}

// Sweep disconnects sessions whose transport is dead or that have been idle
// past the timeout. Each session is checked on its own; no lock is held
// across the sweep.
func (g *Gateway) Sweep() int {
	now := g.clock.Now()
	removed := 0
	for _, s := range g.snapshot() {
		idle := now.Sub(s.LastSeen())
		switch {
		case !s.Connected():
			_ = g.Disconnect(s, "transport not connected")
		case idle > g.cfg.IdleTimeout:
			_ = g.Disconnect(s, "idle timeout")
		default:
			continue
		}
		removed++
		g.metrics.SweptSession()
	}

	if removed > 0 {
		logrus.WithField("removed", removed).Info("liveness sweep removed sessions")
	}
	return removed
}

// Shutdown stops maintenance and disconnects every session.
func (g *Gateway) Shutdown() error {
	logrus.Info("shutting down gateway")

	if g.cron != nil {
		<-g.cron.Stop().Done()
	}

	var errs error
	for _, s := range g.snapshot() {
		errs = multierr.Append(errs, g.Disconnect(s, "server shutdown"))
	}

	logrus.Info("gateway stopped")
	return errs
}

// Stats summarizes sessions and rooms.
func (g *Gateway) Stats() map[string]interface{} {
	g.sessionsMutex.RLock()
	activeConnections := len(g.sessions)
	users := make(map[string]struct{}, len(g.sessions))
	for _, s := range g.sessions {
		users[s.UserID()] = struct{}{}
	}
	g.sessionsMutex.RUnlock()

	stats := map[string]interface{}{
		"active_connections": activeConnections,
		"connected_users":    len(users),
	}
	for k, v := range g.registry.Stats() {
		stats[k] = v
	}
	return stats
}
