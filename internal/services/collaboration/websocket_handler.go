package collaboration

import (
	"bytes"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"collabd/internal/middleware"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

/*
LEARNING: WEBSOCKET UPGRADER

The upgrader converts HTTP connections to WebSocket connections. Each text
message carries one or more protocol lines, so browser clients speak the
same frames as TCP clients.

Key settings:
- ReadBufferSize/WriteBufferSize: Memory for I/O operations
- CheckOrigin: CORS validation for WebSocket connections
*/

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// wsTransport adapts a WebSocket connection to Transport.
type wsTransport struct {
	conn    *websocket.Conn
	pending [][]byte

	wmu       sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	conn.SetReadLimit(MaxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	t := &wsTransport{conn: conn, done: make(chan struct{})}
	go t.pingLoop()
	return t
}

// ReadFrame returns the next non-empty line. A message holding several
// lines is split and served one line at a time.
func (t *wsTransport) ReadFrame() ([]byte, error) {
	for len(t.pending) == 0 {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return nil, net.ErrClosed
			}
			return nil, err
		}
		t.conn.SetReadDeadline(time.Now().Add(pongWait))
		for _, line := range bytes.Split(data, []byte("\n")) {
			if line = bytes.TrimSpace(line); len(line) > 0 {
				t.pending = append(t.pending, line)
			}
		}
	}

	frame := t.pending[0]
	t.pending = t.pending[1:]
	return frame, nil
}

func (t *wsTransport) WriteFrame(frame []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()

	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, bytes.TrimSuffix(frame, []byte("\n")))
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = t.conn.Close()
	})
	return err
}

func (t *wsTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

func (t *wsTransport) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// WebSocketHandler serves the collaboration protocol over WebSocket.
type WebSocketHandler struct {
	sessionManager *SessionManager
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(sessionManager *SessionManager) *WebSocketHandler {
	return &WebSocketHandler{
		sessionManager: sessionManager,
	}
}

// HandleConnection upgrades the request and serves the connection until it
// closes. The handler blocks so the request context stays alive.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	ctx, span := middleware.StartSpan(r.Context(), "WebSocket.Connect",
		attribute.String("remote.addr", r.RemoteAddr),
	)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		middleware.AddSpanError(ctx, err)
		span.End()
		return
	}
	span.End()

	log.Printf("✓ WebSocket connection established from %s", r.RemoteAddr)

	if err := h.sessionManager.ServeConn(ctx, newWSTransport(conn), "websocket"); err != nil {
		log.Printf("⚠️  WebSocket connection from %s ended: %v", r.RemoteAddr, err)
	}
}
