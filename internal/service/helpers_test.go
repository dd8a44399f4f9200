package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"agora-server/internal/model"
	"agora-server/internal/store/memory"
)

type fakeTransport struct {
	mu         sync.Mutex
	frames     []*model.Envelope
	closed     bool
	failWrites bool
}

func (f *fakeTransport) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites || f.closed {
		return errors.New("broken pipe")
	}
	env, ok := v.(*model.Envelope)
	if !ok {
		return errors.New("unexpected frame type")
	}
	f.frames = append(f.frames, env)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) fail() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWrites = true
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}

func (f *fakeTransport) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.frames))
	for _, env := range f.frames {
		out = append(out, env.Event)
	}
	return out
}

// find returns the frames carrying event.
func (f *fakeTransport) find(event string) []*model.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Envelope
	for _, env := range f.frames {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

type fakeVerifier struct {
	identities map[string]*model.Identity
}

func (v *fakeVerifier) Verify(_ context.Context, token string) (*model.Identity, error) {
	identity, ok := v.identities[token]
	if !ok {
		return nil, ErrAuthenticationFailed
	}
	cp := *identity
	return &cp, nil
}

type testEnv struct {
	gateway  *Gateway
	store    *memory.Store
	clock    *clock.Mock
	verifier *fakeVerifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mock := clock.NewMock()
	st := memory.New()
	verifier := &fakeVerifier{identities: map[string]*model.Identity{}}
	g := NewGateway(verifier, st, GatewayConfig{
		Clock:            mock,
		IdleTimeout:      5 * time.Minute,
		TypingTTL:        10 * time.Second,
		MaxTypingPerRoom: 2,
	}, nil)
	t.Cleanup(func() { _ = g.Shutdown() })
	return &testEnv{gateway: g, store: st, clock: mock, verifier: verifier}
}

func (e *testEnv) addUser(id string, role model.Role, level model.AccountLevel) string {
	token := "token-" + id
	e.verifier.identities[token] = &model.Identity{ID: id, Role: role, AccountLevel: level, IsActive: true}
	return token
}

func (e *testEnv) connect(t *testing.T, id string, role model.Role) (*Session, *fakeTransport) {
	t.Helper()
	return e.connectLevel(t, id, role, model.LevelFree)
}

func (e *testEnv) connectLevel(t *testing.T, id string, role model.Role, level model.AccountLevel) (*Session, *fakeTransport) {
	t.Helper()
	token := e.addUser(id, role, level)
	tr := &fakeTransport{}
	s, err := e.gateway.Connect(context.Background(), tr, token, "")
	require.NoError(t, err)
	tr.reset()
	return s, tr
}

func (e *testEnv) send(s *Session, event string, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}
	e.gateway.Dispatch(context.Background(), s, &model.Envelope{Event: event, Data: raw})
}

func (e *testEnv) createGroupRoom(t *testing.T, id string, participants ...string) {
	t.Helper()
	require.NoError(t, e.store.CreateRoom(context.Background(), &model.ChatRoom{
		ID:           id,
		Name:         id,
		Type:         model.ChatRoomGroup,
		Participants: participants,
	}))
}

// decodeResult unpacks a {success, data} frame into dst.
func decodeResult(t *testing.T, env *model.Envelope, dst interface{}) model.Result {
	t.Helper()
	var res struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Code    string          `json:"code"`
		Message string          `json:"message"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	if dst != nil && len(res.Data) > 0 {
		require.NoError(t, json.Unmarshal(res.Data, dst))
	}
	return model.Result{Success: res.Success, Code: res.Code, Message: res.Message}
}

func errorCode(t *testing.T, tr *fakeTransport, event string) string {
	t.Helper()
	frames := tr.find(event)
	require.NotEmpty(t, frames, "expected %s frame, got %v", event, tr.events())
	return decodeResult(t, frames[len(frames)-1], nil).Code
}
