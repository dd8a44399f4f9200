package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agora-server/internal/model"
	"agora-server/internal/service"
	"agora-server/internal/store/memory"
)

type testServer struct {
	server  *httptest.Server
	jwt     *service.JWTService
	auth    *service.AuthService
	gateway *service.Gateway
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	jwt := service.NewJWTService("test-secret", "agora", 1)
	auth := service.NewAuthService("ops")
	gateway := service.NewGateway(jwt, memory.New(), service.GatewayConfig{}, nil)

	router := NewRouter(RouterConfig{
		Gateway:   gateway,
		Auth:      auth,
		WebSocket: WebSocketConfig{PingInterval: time.Minute},
	})
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		_ = gateway.Shutdown()
		srv.Close()
	})
	return &testServer{server: srv, jwt: jwt, auth: auth, gateway: gateway}
}

func (ts *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := ts.jwt.GenerateToken(model.Identity{ID: userID, Role: model.RoleUser, IsActive: true})
	require.NoError(t, err)
	return token
}

func (ts *testServer) dial(t *testing.T, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.server.URL, "http") + "/ws?" + query
	return websocket.DefaultDialer.Dial(url, nil)
}

func (ts *testServer) connect(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	conn, _, err := ts.dial(t, "token="+ts.token(t, userID)+"&userId="+userID)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	env := readEvent(t, conn, model.EventConnectionEstablished)
	var hello struct {
		SessionID string         `json:"sessionId"`
		User      model.Identity `json:"user"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &hello))
	assert.NotEmpty(t, hello.SessionID)
	assert.Equal(t, userID, hello.User.ID)
	return conn
}

func emit(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(model.Envelope{Event: event, Data: raw}))
}

// readEvent skips frames until event arrives.
func readEvent(t *testing.T, conn *websocket.Conn, event string) model.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var env model.Envelope
		require.NoError(t, conn.ReadJSON(&env), "waiting for %s", event)
		if env.Event == event {
			return env
		}
	}
}

func resultData(t *testing.T, env model.Envelope, dst interface{}) {
	t.Helper()
	var res struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	require.True(t, res.Success, "frame: %s", env.Data)
	require.NoError(t, json.Unmarshal(res.Data, dst))
}

func TestWebSocket_RejectsBadCredential(t *testing.T) {
	ts := newTestServer(t)

	_, resp, err := ts.dial(t, "token=forged")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = ts.dial(t, "token="+ts.token(t, "alice")+"&userId=mallory")
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	assert.Equal(t, 0, ts.gateway.Stats()["active_connections"])
}

func TestWebSocket_ChatRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.connect(t, "alice")
	bob := ts.connect(t, "bob")

	emit(t, alice, string(model.ChatRoomCreate), map[string]string{"name": "room1", "type": "group"})
	var room model.ChatRoom
	resultData(t, readEvent(t, alice, model.ChatRoomCreated), &room)

	emit(t, bob, string(model.RoomJoin), map[string]string{"roomId": model.ChatRoomID(room.ID)})
	// membership changes are silent; a search round trip orders after the join
	emit(t, bob, string(model.MarketplaceSearch), map[string]interface{}{})
	readEvent(t, bob, model.MarketplaceSearchResult)

	emit(t, alice, string(model.ChatMessageSend), map[string]string{
		"roomId":  room.ID,
		"content": "hi",
		"type":    "text",
	})

	var fromAlice, fromBob model.ChatMessage
	resultData(t, readEvent(t, alice, model.ChatMessageReceive), &fromAlice)
	resultData(t, readEvent(t, bob, model.ChatMessageReceive), &fromBob)

	assert.Equal(t, fromAlice.ID, fromBob.ID)
	assert.Equal(t, "hi", fromBob.Content)
	assert.Equal(t, "alice", fromBob.SenderID)
	assert.Equal(t, []string{"alice"}, fromBob.ReadBy)
}

func TestWebSocket_MalformedFrameKeepsConnection(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.connect(t, "alice")

	for _, frame := range []string{"{not json", `{"event":`, `[1,2]`, ""} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
		env := readEvent(t, conn, model.EventSystemError)
		assert.Contains(t, string(env.Data), "malformed frame", frame)
	}
	assert.Equal(t, 1, ts.gateway.Stats()["active_connections"])

	emit(t, conn, "chat:unknown", map[string]string{})
	env := readEvent(t, conn, model.EventSystemError)
	assert.Contains(t, string(env.Data), "VALIDATION_ERROR")

	emit(t, conn, string(model.MarketplaceSearch), map[string]interface{}{})
	readEvent(t, conn, model.MarketplaceSearchResult)
}

func TestWebSocket_CloseReleasesSession(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.connect(t, "alice")
	require.Equal(t, 1, ts.gateway.Stats()["active_connections"])

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		return ts.gateway.Stats()["active_connections"] == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return ts.gateway.Registry().Stats()["total_rooms"] == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOpsEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.connect(t, "alice")

	resp, err := http.Get(ts.server.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.server.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.server.URL+"/metrics", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+ts.auth.GenerateAuthToken())
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Gateway map[string]interface{} `json:"gateway"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.EqualValues(t, 1, body.Gateway["active_connections"])
	assert.EqualValues(t, 1, body.Gateway["connected_users"])
}
