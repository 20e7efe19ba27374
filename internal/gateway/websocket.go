package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/errors"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBufferSize = 16

	// SessionEvent is sent once per connection with the session id.
	SessionEvent = "session"
)

// Frame is the JSON shape of every WebSocket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// SessionInfo is the payload of the session event.
type SessionInfo struct {
	SID string `json:"sid"`
}

// ErrSendBufferFull is returned by Send when a client has stopped reading
// and its outbound queue is full.
var ErrSendBufferFull = errors.New("send buffer full")

// wsConn queues frames for a single writer goroutine so that a slow client
// never blocks the caller of Send.
type wsConn struct {
	conn   *websocket.Conn
	out    chan []byte
	closed chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newWSConn(ws *websocket.Conn, buffer int) *wsConn {
	return &wsConn{
		conn:   ws,
		out:    make(chan []byte, buffer),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Send encodes the frame immediately and queues it without blocking.
func (c *wsConn) Send(event string, data any) error {
	select {
	case <-c.closed:
		return fmt.Errorf("send %s: %w", event, apperrors.ErrSessionGone)
	default:
	}
	payload, err := json.Marshal(outFrame{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("encoding %s frame: %w", event, err)
	}
	select {
	case c.out <- payload:
		return nil
	default:
		return fmt.Errorf("send %s: %w", event, ErrSendBufferFull)
	}
}

func (c *wsConn) close() {
	c.once.Do(func() { close(c.closed) })
}

// writeLoop is the only writer of the connection. A failed write closes the
// socket, which ends the read loop.
func (c *wsConn) writeLoop(log *slog.Logger) {
	defer close(c.done)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case payload := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Debug("write failed", "error", err)
				c.close()
				c.conn.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug("ping failed", "error", err)
				c.close()
				c.conn.Close()
				return
			}
		}
	}
}

// Transport upgrades HTTP requests to WebSocket sessions and feeds their
// requests to the Gateway.
type Transport struct {
	gateway      *Gateway
	sessions     *Sessions
	requestEvent string
	upgrader     websocket.Upgrader
	logger       *slog.Logger
}

// NewTransport accepts connections whose Origin is listed in allowOrigins.
// "*" allows every origin, and requests without an Origin header are always
// accepted.
func NewTransport(g *Gateway, sessions *Sessions, requestEvent string, allowOrigins []string) *Transport {
	t := &Transport{
		gateway:      g,
		sessions:     sessions,
		requestEvent: requestEvent,
		logger:       slog.Default().With("component", "ws-transport"),
	}
	t.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowOrigins),
	}
	return t
}

func originChecker(allowOrigins []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowOrigins {
			if o == "*" || o == origin {
				return true
			}
		}
		if u, err := url.Parse(origin); err == nil && u.Host == r.Host {
			return true
		}
		return false
	}
}

// ServeHTTP handles GET /ws.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn := newWSConn(ws, sendBufferSize)
	sid := t.sessions.Add(conn)
	log := t.logger.With("sid", sid)
	go conn.writeLoop(log)

	if err := conn.Send(SessionEvent, SessionInfo{SID: sid}); err != nil {
		log.Warn("failed to send session event", "error", err)
		t.sessions.Remove(sid)
		t.shutdown(conn)
		return
	}
	t.gateway.OnConnect(sid)
	log.Info("client connected", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(context.Background())
	t.readLoop(ctx, ws, sid, log)

	cancel()
	t.sessions.Remove(sid)
	t.gateway.OnDisconnect(sid)
	t.shutdown(conn)
	log.Info("client disconnected")
}

func (t *Transport) shutdown(conn *wsConn) {
	conn.close()
	conn.conn.Close()
	<-conn.done
}

func (t *Transport) readLoop(ctx context.Context, ws *websocket.Conn, sid string, log *slog.Logger) {
	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("read failed", "error", err)
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Warn("ignoring undecodable frame", "error", err)
			continue
		}
		if f.Event != t.requestEvent {
			log.Debug("ignoring event", "event", f.Event)
			continue
		}
		err = t.gateway.OnClientRequest(ctx, sid, f.Data)
		if err != nil && !errors.Is(err, apperrors.ErrMalformedEnvelope) && !errors.Is(err, apperrors.ErrRateLimited) {
			log.Error("request not dispatched", "error", err)
		}
	}
}
