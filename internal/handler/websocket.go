package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"agora-server/internal/middleware"
	"agora-server/internal/model"
	"agora-server/internal/service"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	// origins are enforced by the CORS middleware
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// WebSocketConfig tunes a single connection.
type WebSocketConfig struct {
	PingInterval time.Duration
	ReadLimit    int64
}

type WebSocketHandler struct {
	gateway *service.Gateway
	cfg     WebSocketConfig
}

func NewWebSocketHandler(gateway *service.Gateway, cfg WebSocketConfig) *WebSocketHandler {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 512 * 1024
	}
	return &WebSocketHandler{gateway: gateway, cfg: cfg}
}

// wsTransport adapts a gorilla connection to service.Transport. Writes are
// serialized by the session.
type wsTransport struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

func (t *wsTransport) WriteJSON(v interface{}) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return t.conn.WriteJSON(v)
}

func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.closeErr = t.conn.Close()
	})
	if errors.Is(t.closeErr, net.ErrClosed) {
		return nil
	}
	return t.closeErr
}

// HandleWebSocket authenticates before upgrading, so a bad credential is
// refused with 401 and never reaches the gateway.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	token := middleware.BearerToken(c)
	userID := c.Query("userId")

	identity, err := h.gateway.Authenticate(c.Request.Context(), token, userID)
	if err != nil {
		e := model.AsError(err)
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   e.Code(),
			"message": "authentication failed",
			"code":    http.StatusUnauthorized,
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Error("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(h.cfg.ReadLimit)

	transport := &wsTransport{conn: conn}
	session, err := h.gateway.Attach(c.Request.Context(), transport, identity, token)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"user_id": identity.ID,
			"error":   err.Error(),
		}).Warn("session attach failed")
		_ = transport.Close()
		return
	}

	pongWait := 2 * h.cfg.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		session.Touch()
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go h.keepAlive(conn, session, done)

	h.readLoop(context.Background(), conn, session, pongWait)
	close(done)
	_ = h.gateway.Disconnect(session, "connection closed")
}

func (h *WebSocketHandler) readLoop(ctx context.Context, conn *websocket.Conn, session *service.Session, pongWait time.Duration) {
	for {
		data, err := readFrame(conn)
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
					logrus.WithFields(logrus.Fields{
						"session_id": session.ID,
						"error":      err.Error(),
					}).Warn("websocket closed unexpectedly")
				}
				return
			}
			logrus.WithFields(logrus.Fields{
				"session_id": session.ID,
				"error":      err.Error(),
			}).Debug("websocket read ended")
			return
		}

		var env model.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// a malformed frame is reported, the connection survives
			_ = session.Send(model.EventSystemError, model.Failure(model.Validationf("malformed frame")))
			continue
		}

		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		h.gateway.Dispatch(ctx, session, &env)
		if !session.Connected() {
			return
		}
	}
}

// readFrame returns one whole message; errors are transport errors only.
func readFrame(conn *websocket.Conn) ([]byte, error) {
	_, r, err := conn.NextReader()
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func (h *WebSocketHandler) keepAlive(conn *websocket.Conn, session *service.Session, done <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logrus.WithFields(logrus.Fields{
					"session_id": session.ID,
					"error":      err.Error(),
				}).Debug("ping failed")
				_ = h.gateway.Disconnect(session, "ping failed")
				return
			}
		}
	}
}
