package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	eventEstablished = "connection:established"
	eventRoomJoin    = "room:join"
	eventRoomLeave   = "room:leave"

	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
)

var (
	ErrNotConnected = errors.New("client not connected")
	// ErrUnauthorized is returned when the server refuses the credential;
	// it is never retried.
	ErrUnauthorized       = errors.New("credential rejected by server")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// Envelope is the frame exchanged with the server.
type Envelope struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// Decode unmarshals the frame's data into dst.
func (e Envelope) Decode(dst interface{}) error {
	return json.Unmarshal(e.Data, dst)
}

type Handler func(Envelope)

type Config struct {
	// URL of the gateway endpoint, e.g. ws://localhost:8080/ws.
	URL    string
	Token  string
	UserID string
	// Backoff between reconnect attempts.
	Backoff BackoffPolicy
	// MaxAttempts bounds one reconnect cycle; 0 retries until ctx ends.
	MaxAttempts int
	Dialer      *websocket.Dialer
	Clock       clock.Clock
}

// Client is a gateway connection with automatic reconnect. It implements
// ContextHooks by joining and leaving feature rooms, and Pinger.
type Client struct {
	cfg Config

	mu        sync.Mutex
	conn      *websocket.Conn
	sessionID string
	handlers  map[string][]Handler
	features  map[FeatureContext]struct{}
	onRecon   []func(attempt int)
	pings     map[string]chan struct{}

	writeMu       sync.Mutex
	pingSeq       atomic.Uint64
	reconnects    atomic.Int64
	autoReconnect atomic.Bool
	closed        atomic.Bool
	done          chan struct{}
}

func New(cfg Config) *Client {
	if cfg.Backoff == (BackoffPolicy{}) {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	c := &Client{
		cfg:      cfg,
		handlers: make(map[string][]Handler),
		features: make(map[FeatureContext]struct{}),
		pings:    make(map[string]chan struct{}),
		done:     make(chan struct{}),
	}
	c.autoReconnect.Store(true)
	return c
}

// On registers fn for event. Handlers run on the read goroutine.
func (c *Client) On(event string, fn Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], fn)
}

// OnReconnect registers fn to run after every successful reconnect.
func (c *Client) OnReconnect(fn func(attempt int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRecon = append(c.onRecon, fn)
}

// SetAutoReconnect toggles reconnecting after a lost connection.
func (c *Client) SetAutoReconnect(on bool) {
	c.autoReconnect.Store(on)
}

// ApplyPolicy adopts a network policy's reconnect settings.
func (c *Client) ApplyPolicy(p NetworkPolicy) {
	c.SetAutoReconnect(p.AutoReconnect)
	c.mu.Lock()
	if p.Backoff != (BackoffPolicy{}) {
		c.cfg.Backoff = p.Backoff
	}
	c.mu.Unlock()
}

func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Reconnects is the number of successful reconnects.
func (c *Client) Reconnects() int {
	return int(c.reconnects.Load())
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}
	q := u.Query()
	q.Set("token", c.cfg.Token)
	if c.cfg.UserID != "" {
		q.Set("userId", c.cfg.UserID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, string, error) {
	endpoint, err := c.endpoint()
	if err != nil {
		return nil, "", err
	}

	conn, resp, err := c.cfg.Dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, "", ErrUnauthorized
		}
		return nil, "", fmt.Errorf("dialing gateway: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("reading handshake: %w", err)
	}
	if env.Event != eventEstablished {
		conn.Close()
		return nil, "", fmt.Errorf("unexpected handshake event %q", env.Event)
	}
	var hello struct {
		SessionID string `json:"sessionId"`
	}
	if err := env.Decode(&hello); err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("decoding handshake: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	conn.SetPongHandler(c.handlePong)
	return conn, hello.SessionID, nil
}

// Connect dials the gateway and completes the handshake.
func (c *Client) Connect(ctx context.Context) error {
	conn, sessionID, err := c.dial(ctx)
	if err != nil {
		return err
	}
	if !c.install(conn, sessionID) {
		return ErrNotConnected
	}
	logrus.WithFields(logrus.Fields{
		"session_id": sessionID,
		"user_id":    c.cfg.UserID,
	}).Info("connected to gateway")
	return nil
}

// install reports false and closes conn when the client was closed meanwhile.
func (c *Client) install(conn *websocket.Conn, sessionID string) bool {
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		conn.Close()
		return false
	}
	c.conn = conn
	c.sessionID = sessionID
	c.mu.Unlock()
	return true
}

func (c *Client) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) drop(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
}

// Run reads frames and reconnects with backoff until ctx ends, Close is
// called, or the connection is lost with auto-reconnect disabled. Connect
// must have succeeded first.
func (c *Client) Run(ctx context.Context) error {
	if c.current() == nil {
		return ErrNotConnected
	}
	stop := context.AfterFunc(ctx, func() {
		if conn := c.current(); conn != nil {
			conn.Close()
		}
	})
	defer stop()

	for {
		conn := c.current()
		err := c.readLoop(conn)
		c.drop(conn)

		if c.closed.Load() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !c.autoReconnect.Load() {
			return fmt.Errorf("connection lost: %w", err)
		}

		logrus.WithError(err).Warn("gateway connection lost, reconnecting")
		if err := c.reconnect(ctx); err != nil {
			return err
		}
		if c.closed.Load() || c.current() == nil {
			return nil
		}
		// the old conn may have been closed by ctx before the new one existed
		if ctx.Err() != nil {
			if conn := c.current(); conn != nil {
				c.drop(conn)
			}
			return ctx.Err()
		}
	}
}

func (c *Client) reconnect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for attempt := 1; ; attempt++ {
		if c.cfg.MaxAttempts > 0 && attempt > c.cfg.MaxAttempts {
			return ErrReconnectExhausted
		}
		c.mu.Lock()
		policy := c.cfg.Backoff
		c.mu.Unlock()

		if err := SleepWithContext(ctx, c.cfg.Clock, ComputeBackoff(policy, attempt)); err != nil {
			if c.closed.Load() {
				return nil
			}
			return err
		}
		if c.closed.Load() {
			return nil
		}

		conn, sessionID, err := c.dial(ctx)
		if errors.Is(err, ErrUnauthorized) {
			return err
		}
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"attempt": attempt,
				"error":   err.Error(),
			}).Debug("reconnect attempt failed")
			continue
		}

		if !c.install(conn, sessionID) {
			return nil
		}
		c.reconnects.Add(1)
		c.rejoinFeatures()

		c.mu.Lock()
		hooks := append([]func(int){}, c.onRecon...)
		c.mu.Unlock()
		for _, fn := range hooks {
			fn(attempt)
		}

		logrus.WithFields(logrus.Fields{
			"session_id": sessionID,
			"attempt":    attempt,
		}).Info("reconnected to gateway")
		return nil
	}
}

func (c *Client) rejoinFeatures() {
	c.mu.Lock()
	features := make([]FeatureContext, 0, len(c.features))
	for fc := range c.features {
		features = append(features, fc)
	}
	c.mu.Unlock()

	for _, fc := range features {
		if err := c.Emit(eventRoomJoin, map[string]string{"roomId": FeatureRoom(fc)}); err != nil {
			logrus.WithFields(logrus.Fields{
				"context": fc,
				"error":   err.Error(),
			}).Warn("rejoining feature room failed")
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}

		c.mu.Lock()
		handlers := append([]Handler(nil), c.handlers[env.Event]...)
		c.mu.Unlock()
		for _, fn := range handlers {
			fn(env)
		}
	}
}

// Emit sends event with data to the gateway.
func (c *Client) Emit(event string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", event, err)
	}
	conn := c.current()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(Envelope{Event: event, Data: raw, Timestamp: time.Now().UnixMilli()})
}

// Activate joins fc's feature room. While disconnected the room is
// remembered and joined after the next reconnect.
func (c *Client) Activate(_ context.Context, fc FeatureContext) error {
	c.mu.Lock()
	c.features[fc] = struct{}{}
	c.mu.Unlock()

	err := c.Emit(eventRoomJoin, map[string]string{"roomId": FeatureRoom(fc)})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

func (c *Client) Deactivate(_ context.Context, fc FeatureContext) error {
	c.mu.Lock()
	delete(c.features, fc)
	c.mu.Unlock()

	err := c.Emit(eventRoomLeave, map[string]string{"roomId": FeatureRoom(fc)})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// Ping measures a websocket ping/pong round trip. Run must be reading for
// the pong to arrive.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	conn := c.current()
	if conn == nil {
		return 0, ErrNotConnected
	}

	nonce := strconv.FormatUint(c.pingSeq.Add(1), 10)
	ch := make(chan struct{})
	c.mu.Lock()
	c.pings[nonce] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pings, nonce)
		c.mu.Unlock()
	}()

	start := time.Now()
	if err := conn.WriteControl(websocket.PingMessage, []byte(nonce), time.Now().Add(writeWait)); err != nil {
		return 0, fmt.Errorf("sending ping: %w", err)
	}
	select {
	case <-ch:
		return time.Since(start), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (c *Client) handlePong(appData string) error {
	c.mu.Lock()
	ch, ok := c.pings[appData]
	if ok {
		delete(c.pings, appData)
	}
	c.mu.Unlock()
	if ok {
		close(ch)
	}
	return nil
}

// Close sends a close frame and stops Run.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.done)
	conn := c.current()
	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return conn.Close()
}
