// Package hub fans queue snapshots out to connected display boards.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"qms/clinic-queue/internal/queue"
	"qms/clinic-queue/pkg/logging"
)

const EventQueueSnapshot = "queue.snapshot"

type Subscription struct {
	Types []string
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	last    map[string][]byte
	logger  *logging.Logger
	now     func() time.Time
}

type SubscribeMessage struct {
	Action string   `json:"action"`
	Types  []string `json:"types"`
}

type eventEnvelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func New(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		clients: make(map[string]*Client),
		last:    make(map[string][]byte),
		logger:  logger.With("component", "hub"),
		now:     time.Now,
	}
}

// Register adds the client and replays the latest event of each type.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	for eventType, payload := range h.last {
		if !match(client.Subscription, eventType) {
			continue
		}
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast delivers without blocking; slow clients miss messages.
func (h *Hub) Broadcast(eventType string, payload []byte) {
	h.mu.Lock()
	h.last[eventType] = payload
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !match(client.Subscription, eventType) {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			h.logger.Warn("drop message for client", "client_id", client.ID, "type", eventType)
		}
	}
}

// Publish satisfies queue.Publisher.
func (h *Hub) Publish(ctx context.Context, snapshot queue.Snapshot) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		h.logger.Warn("marshal snapshot failed", "error", err)
		return
	}
	env, err := json.Marshal(eventEnvelope{Type: EventQueueSnapshot, Payload: payload, CreatedAt: h.now().UTC()})
	if err != nil {
		h.logger.Warn("marshal envelope failed", "error", err)
		return
	}
	h.Broadcast(EventQueueSnapshot, env)
}

func match(sub Subscription, eventType string) bool {
	if len(sub.Types) == 0 {
		return true
	}
	for _, t := range sub.Types {
		if t == eventType {
			return true
		}
	}
	return false
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
