// Package realtime fans ops events out to websocket subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"gpuindex/internal/model"
	"gpuindex/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WebSocketConn is the subset of *websocket.Conn the hub uses
type WebSocketConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// HubConfig configures the hub
type HubConfig struct {
	PingInterval time.Duration
	WriteWait    time.Duration
	ReadWait     time.Duration
	SendBuffer   int
	Backlog      int // recent events replayed to new subscribers
}

// DefaultHubConfig returns the default hub configuration
func DefaultHubConfig() HubConfig {
	return HubConfig{
		PingInterval: 30 * time.Second,
		WriteWait:    10 * time.Second,
		ReadWait:     60 * time.Second,
		SendBuffer:   64,
		Backlog:      50,
	}
}

// Client is one connected subscriber
type Client struct {
	ID     string
	Conn   WebSocketConn
	Send   chan []byte
	Filter string // provider slug, empty for all
}

type backlogEntry struct {
	provider string
	data     []byte
}

// Hub keeps subscribers and broadcasts events to them
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan *model.Event
	backlog    []backlogEntry
	mu         sync.RWMutex
	config     HubConfig
}

// NewHub creates a new Hub
func NewHub(cfg HubConfig) *Hub {
	if cfg.PingInterval == 0 {
		cfg = DefaultHubConfig()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		broadcast:  make(chan *model.Event, 256),
		config:     cfg,
	}
}

// Run is the hub event loop, it returns when ctx is done
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			backlog := append([]backlogEntry(nil), h.backlog...)
			h.mu.Unlock()
			for _, entry := range backlog {
				h.deliver(client, entry.data, entry.provider)
			}

		case client := <-h.unregister:
			h.removeClient(client)

		case event := <-h.broadcast:
			h.fanOut(event)

		case <-ticker.C:
			h.pingClients()
		}
	}
}

// Publish queues an event for broadcast; drops it when the hub is saturated
func (h *Hub) Publish(ctx context.Context, event *model.Event) {
	select {
	case h.broadcast <- event:
	default:
		logger.WarnCtx(ctx, "event hub saturated, dropping %s event", event.Type)
	}
}

// Register adds a connection and returns its client
func (h *Hub) Register(conn WebSocketConn, filter string) *Client {
	client := &Client{
		ID:     uuid.NewString(),
		Conn:   conn,
		Send:   make(chan []byte, h.config.SendBuffer),
		Filter: filter,
	}
	h.register <- client
	return client
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) fanOut(event *model.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		logger.Error("failed to marshal event: " + err.Error())
		return
	}

	h.mu.Lock()
	h.backlog = append(h.backlog, backlogEntry{provider: event.Provider, data: data})
	if len(h.backlog) > h.config.Backlog {
		h.backlog = h.backlog[len(h.backlog)-h.config.Backlog:]
	}
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.deliver(c, data, event.Provider)
	}
}

// deliver enqueues data for a client. Slow clients are disconnected.
func (h *Hub) deliver(c *Client, data []byte, provider string) {
	if c.Filter != "" && provider != c.Filter {
		return
	}
	select {
	case c.Send <- data:
	default:
		go h.Unregister(c)
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
	client.Conn.Close()
}

func (h *Hub) pingClients() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		c.Conn.SetWriteDeadline(time.Now().Add(h.config.WriteWait))
		if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			go h.Unregister(c)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, c := range h.clients {
		close(c.Send)
		c.Conn.Close()
		delete(h.clients, id)
	}
}

// WritePump copies queued messages to the connection until Send closes
func (h *Hub) WritePump(client *Client) {
	for data := range client.Send {
		client.Conn.SetWriteDeadline(time.Now().Add(h.config.WriteWait))
		if err := client.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.Unregister(client)
			return
		}
	}
}

// ReadPump discards inbound frames and unregisters the client on disconnect
func (h *Hub) ReadPump(client *Client) {
	defer h.Unregister(client)

	if pc, ok := client.Conn.(interface{ SetPongHandler(func(string) error) }); ok {
		pc.SetPongHandler(func(string) error {
			return client.Conn.SetReadDeadline(time.Now().Add(h.config.ReadWait))
		})
	}
	client.Conn.SetReadDeadline(time.Now().Add(h.config.ReadWait))
	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			return
		}
		client.Conn.SetReadDeadline(time.Now().Add(h.config.ReadWait))
	}
}

// NewEvent builds an event with id and timestamp filled in
func NewEvent(eventType model.EventType, provider string, data map[string]interface{}) *model.Event {
	return &model.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Provider:  provider,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}
