// Package inapp pushes reminder events to connected WebSocket clients.
// Delivery is best effort; a user with no open connection simply misses
// the live event and sees the pending dose on next page load.
package inapp

import (
	"context"
	"sync"

	"github.com/davmgs/meditrack/internal/reminder"
	"github.com/davmgs/meditrack/internal/store"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

// Hub tracks open WebSocket connections per user.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]map[*websocket.Conn]struct{}
	logger *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		conns:  make(map[string]map[*websocket.Conn]struct{}),
		logger: logger,
	}
}

// Serve owns the connection until the client disconnects. Reads are
// drained and discarded; the socket is server-push only.
func (h *Hub) Serve(userID string, c *websocket.Conn) {
	h.register(userID, c)
	defer h.unregister(userID, c)
	defer c.Close()

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) register(userID string, c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*websocket.Conn]struct{})
	}
	h.conns[userID][c] = struct{}{}
}

func (h *Hub) unregister(userID string, c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns[userID], c)
	if len(h.conns[userID]) == 0 {
		delete(h.conns, userID)
	}
}

// Connected reports whether the user has at least one open connection.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID]) > 0
}

// Name implements reminder.Notifier.
func (h *Hub) Name() string { return "inapp" }

// Enabled implements reminder.Notifier. The in-app channel is always
// eligible; Send is a no-op when nobody is connected.
func (h *Hub) Enabled(user *store.User) bool { return true }

// Send implements reminder.Notifier.
func (h *Hub) Send(ctx context.Context, user *store.User, rem reminder.Reminder) error {
	event := map[string]interface{}{
		"type":           "reminder",
		"logId":          rem.LogID,
		"medicationId":   rem.MedicationID,
		"medicationName": rem.MedicationName,
		"dosage":         rem.Dosage,
		"scheduledTime":  rem.ScheduledAt,
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.conns[user.ID] {
		if err := c.WriteJSON(event); err != nil {
			h.logger.Debug("WebSocket write failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}
	return nil
}

// Broadcast sends an arbitrary event to all of a user's connections,
// used for dose status changes made from another device or channel.
func (h *Hub) Broadcast(userID string, event interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns[userID] {
		if err := c.WriteJSON(event); err != nil {
			h.logger.Debug("WebSocket write failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
}
