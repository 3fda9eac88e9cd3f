// Package ws streams hub events to WebSocket clients.
package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/disaster-coordination-service/internal/hub"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
	maxReadBytes = 512
)

// Handler upgrades requests to WebSocket connections and forwards every
// published event to the client as a JSON text frame.
type Handler struct {
	hub      *hub.Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a Handler that subscribes connections to h.
func NewHandler(h *hub.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The REST API answers any origin; the stream does too.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Subscribe before the handshake completes. A client that fetches the
	// list once the dial returns cannot miss an event committed in between.
	sub := h.hub.Subscribe(r.RemoteAddr)
	defer h.hub.Unsubscribe(sub)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer func() { _ = conn.Close() }()
	h.logger.Info("client connected", "remote", r.RemoteAddr)

	done := make(chan struct{})
	go h.readLoop(conn, done)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Dropped for lagging or hub shut down. The client must
				// reconnect and refetch.
				msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "resync required")
				_ = conn.WriteMessage(websocket.CloseMessage, msg)
				h.logger.Info("client stream closed", "remote", r.RemoteAddr)
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Info("client write failed", "remote", r.RemoteAddr, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			h.logger.Info("client disconnected", "remote", r.RemoteAddr)
			return
		case <-r.Context().Done():
			return
		}
	}
}

// readLoop discards client frames and closes done when the peer goes away.
func (h *Handler) readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(maxReadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
