package api

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"failure-backfill/internal/logging"
	"failure-backfill/internal/models"
)

const (
	maxStreamConnections = 32
	streamQueueSize      = 16
	streamWriteWait      = 5 * time.Second
)

// subscriber owns one connection; only its writer goroutine writes to conn.
type subscriber struct {
	conn *websocket.Conn
	send chan models.BatchSummary
}

// Hub fans batch summaries out to websocket subscribers. Broadcast never blocks:
// a subscriber whose queue is full is dropped.
type Hub struct {
	connections map[*websocket.Conn]*subscriber
	mutex       sync.Mutex
	logger      *logging.Logger
}

func NewHub(logger *logging.Logger) *Hub {
	return &Hub{connections: make(map[*websocket.Conn]*subscriber), logger: logger}
}

// Add registers a connection and starts its writer. It returns false when the hub is full.
func (h *Hub) Add(conn *websocket.Conn) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if len(h.connections) >= maxStreamConnections {
		h.logger.Warnf("Max stream connections reached (%d)", maxStreamConnections)
		return false
	}
	sub := &subscriber{conn: conn, send: make(chan models.BatchSummary, streamQueueSize)}
	h.connections[conn] = sub
	go h.write(sub)
	h.logger.Debugf("Added stream connection (total: %d)", len(h.connections))
	return true
}

// Remove unregisters a connection and stops its writer.
func (h *Hub) Remove(conn *websocket.Conn) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.drop(conn)
	h.logger.Debugf("Removed stream connection (remaining: %d)", len(h.connections))
}

// Count returns the number of subscribers.
func (h *Hub) Count() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.connections)
}

// Broadcast is registered as a batch observer.
func (h *Hub) Broadcast(summary models.BatchSummary) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for conn, sub := range h.connections {
		select {
		case sub.send <- summary:
		default:
			h.logger.Warn("Stream subscriber too slow, dropping connection")
			h.drop(conn)
		}
	}
}

// drop must be called with h.mutex held.
func (h *Hub) drop(conn *websocket.Conn) {
	sub, ok := h.connections[conn]
	if !ok {
		return
	}
	delete(h.connections, conn)
	close(sub.send)
}

func (h *Hub) write(sub *subscriber) {
	defer sub.conn.Close()
	for summary := range sub.send {
		_ = sub.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := sub.conn.WriteJSON(summary); err != nil {
			h.logger.WithError(err).Warn("Failed to send batch summary, dropping connection")
			h.Remove(sub.conn)
			// drain so nothing is left queued once the channel is closed
			for range sub.send {
			}
			return
		}
	}
	// queue closed: tell the client before the deferred close
	_ = sub.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = sub.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
