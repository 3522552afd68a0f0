package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// DefaultWriteTimeout bounds one write to one client.
const DefaultWriteTimeout = 100 * time.Millisecond

// WebSocketHub pushes events as JSON to every connected websocket client.
// Clients that fail a write are dropped.
type WebSocketHub struct {
	sendMu   sync.Mutex // one Broadcast at a time; a conn allows a single writer
	mu       sync.Mutex
	clients  map[*websocket.Conn]bool
	upgrader websocket.Upgrader
	log      *logrus.Logger

	// WriteTimeout is the per-client write deadline.
	WriteTimeout time.Duration
	// Snapshot, when set, is sent to each client right after it connects.
	Snapshot func() []Event
}

// NewWebSocketHub creates a hub that accepts any origin. If logger is nil a
// default logger is used.
func NewWebSocketHub(logger *logrus.Logger) *WebSocketHub {
	if logger == nil {
		logger = logrus.New()
	}
	return &WebSocketHub{
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:          logger,
		WriteTimeout: DefaultWriteTimeout,
	}
}

// ServeHTTP upgrades the request and registers the client.
func (h *WebSocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("telemetry: websocket upgrade failed")
		return
	}

	if h.Snapshot != nil {
		for _, ev := range h.Snapshot() {
			_ = conn.SetWriteDeadline(time.Now().Add(h.WriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				conn.Close()
				return
			}
		}
	}
	h.addClient(conn)
	h.log.WithField("remote", r.RemoteAddr).Info("telemetry: client connected")

	// Drain and discard client frames so close and ping are processed.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				h.removeClient(conn)
				return
			}
		}
	}()
}

func (h *WebSocketHub) addClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
}

func (h *WebSocketHub) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
}

// ClientCount returns the number of connected clients.
func (h *WebSocketHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast writes ev to every client in parallel.
func (h *WebSocketHub) Broadcast(ev Event) {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	h.mu.Lock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
	}
	h.mu.Unlock()

	var (
		wg       sync.WaitGroup
		failedMu sync.Mutex
		failed   []*websocket.Conn
	)
	for _, conn := range clients {
		wg.Add(1)
		go func(c *websocket.Conn) {
			defer wg.Done()
			_ = c.SetWriteDeadline(time.Now().Add(h.WriteTimeout))
			if err := c.WriteJSON(ev); err != nil {
				failedMu.Lock()
				failed = append(failed, c)
				failedMu.Unlock()
			}
		}(conn)
	}
	wg.Wait()

	for _, c := range failed {
		h.log.WithField("remote", c.RemoteAddr().String()).Debug("telemetry: dropping client")
		h.removeClient(c)
	}
}

// Close disconnects every client.
func (h *WebSocketHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}
