// Package websocket pushes live events to connected staff clients. Clients
// subscribe to topics within their own tenant; a topic in one tenant never
// receives another tenant's events.
package websocket

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mentalspace/ehr/internal/platform/auth"
	"github.com/mentalspace/ehr/internal/platform/db"
)

// Event is one notification sent to subscribers of Topic in Tenant.
type Event struct {
	Type         string          `json:"type"`
	Tenant       string          `json:"-"`
	Topic        string          `json:"topic"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is an inbound subscription change.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Client is one connected socket.
type Client struct {
	ID     string
	Tenant string
	Topics []string
	Send   chan []byte
}

// Hub tracks clients and their tenant-scoped topic subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // tenant/topic -> clients
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger.With().Str("component", "websocket").Logger(),
	}
}

func topicKey(tenant, topic string) string { return tenant + "/" + topic }

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[client] = struct{}{}
	for _, topic := range client.Topics {
		h.add(client, topic)
	}
}

// add requires h.mu held.
func (h *Hub) add(client *Client, topic string) {
	key := topicKey(client.Tenant, topic)
	if h.clients[key] == nil {
		h.clients[key] = make(map[*Client]struct{})
	}
	h.clients[key][client] = struct{}{}
}

// remove requires h.mu held.
func (h *Hub) remove(client *Client, topic string) {
	key := topicKey(client.Tenant, topic)
	if subs, ok := h.clients[key]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.clients, key)
		}
	}
}

// Unregister drops every subscription and closes client.Send.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		h.remove(client, topic)
	}
	delete(h.all, client)
	close(client.Send)
}

func (h *Hub) Subscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range topics {
		h.add(client, topic)
	}
	client.Topics = append(client.Topics, topics...)
}

func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	drop := make(map[string]bool, len(topics))
	for _, topic := range topics {
		drop[topic] = true
		h.remove(client, topic)
	}
	remaining := client.Topics[:0]
	for _, t := range client.Topics {
		if !drop[t] {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	}
}

// Publish sends event to the subscribers of its topic. Slow clients whose
// buffer is full miss the event.
func (h *Hub) Publish(_ context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[topicKey(event.Tenant, event.Topic)] {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn().Str("client_id", client.ID).Str("topic", event.Topic).Msg("dropping event for slow client")
		}
	}
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of subscribers to topic in tenant.
func (h *Hub) TopicCount(tenant, topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topicKey(tenant, topic)])
}

// ---------------------------------------------------------------------------
// HTTP upgrade
// ---------------------------------------------------------------------------

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 256
)

type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewHandler accepts upgrades from allowedOrigins; "*" allows any origin.
// Requests without an Origin header are not from a browser and pass.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/ws", h.Connect, auth.RequireRole(auth.RoleClinician, auth.RoleSupervisor, auth.RoleFrontDesk))
}

// Connect upgrades the request. Initial topics come from the comma
// separated topics query parameter.
func (h *Handler) Connect(c echo.Context) error {
	tenant := db.TenantFromContext(c.Request().Context())
	if tenant == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant is required")
	}
	var topics []string
	for _, t := range strings.Split(c.QueryParam("topics"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the error response.
		return nil
	}
	client := &Client{
		ID:     uuid.NewString(),
		Tenant: tenant,
		Topics: topics,
		Send:   make(chan []byte, sendBuffer),
	}
	h.hub.Register(client)

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()
	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		h.hub.ProcessMessage(client, msg)
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()
	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, nil)
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
