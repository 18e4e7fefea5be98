package wshub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"lapboard/internal/events"
	"lapboard/internal/metrics"

	"github.com/coder/websocket"
)

// Client represents a single WebSocket connection following one mission.
type Client struct {
	ID        string
	MissionID string
	Conn      *websocket.Conn
	Send      chan []byte
}

// WritePump reads from the Send channel and writes to the WebSocket connection.
func (c *Client) WritePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.Send:
			if !ok {
				return
			}
			if err := c.Conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}
}

// Hub manages per-mission WebSocket connections.
type Hub struct {
	mu       sync.RWMutex
	missions map[string]map[string]*Client
	metrics  *metrics.Metrics
}

// NewHub creates a new Hub.
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		missions: make(map[string]map[string]*Client),
		metrics:  m,
	}
}

// Register adds a client to its mission's room.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.missions[c.MissionID]
	if room == nil {
		room = make(map[string]*Client)
		h.missions[c.MissionID] = room
	}
	room[c.ID] = c
	h.metrics.ClientConnected("ws")
}

// Unregister removes a client and closes its Send channel.
func (h *Hub) Unregister(missionID, clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.missions[missionID]
	c, ok := room[clientID]
	if !ok {
		return
	}
	close(c.Send)
	delete(room, clientID)
	if len(room) == 0 {
		delete(h.missions, missionID)
	}
	h.metrics.ClientDisconnected("ws")
}

// Count returns the number of clients following a mission.
func (h *Hub) Count(missionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.missions[missionID])
}

// Publish sends the event to every client of its mission. Non-blocking: drops if channel full.
func (h *Hub) Publish(ev events.ScoreEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal score event: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.missions[ev.MissionID] {
		select {
		case c.Send <- data:
		default:
			h.metrics.DeliveryDropped("ws")
		}
	}
	return nil
}
