package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"fundarb/internal/arbitrage"
	"fundarb/internal/logger"
	"fundarb/internal/monitoring"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 256
)

// Hub fans opportunity updates out to connected WebSocket clients. The
// sampling task pushes each cycle's set through BroadcastOpportunities.
type Hub struct {
	upgrader websocket.Upgrader
	service  *arbitrage.Service
	metrics  *monitoring.Metrics

	mu      sync.RWMutex
	clients map[string]*wsClient
	closed  bool
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// wsMessage is the envelope for every frame pushed to clients.
type wsMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	Time time.Time   `json:"time"`
}

// NewHub creates a WebSocket hub. metrics may be nil.
func NewHub(service *arbitrage.Service, metrics *monitoring.Metrics, allowedOrigins []string) *Hub {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}

	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowAll || origin == "" || allowed[origin]
			},
		},
		service: service,
		metrics: metrics,
		clients: make(map[string]*wsClient),
	}
}

// OpportunityStream upgrades the connection and streams opportunity sets.
// The current significant set is pushed immediately on connect.
func (h *Hub) OpportunityStream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("Failed to upgrade connection", "error", err.Error())
		return
	}

	client := &wsClient{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
		hub:  h,
	}

	if !h.register(client) {
		conn.Close()
		return
	}

	go client.writePump()

	client.enqueue(wsMessage{
		Type: "connected",
		Data: map[string]interface{}{"client_id": client.id},
		Time: time.Now().UTC(),
	})
	h.sendInitialSet(c.Request.Context(), client)

	client.readPump()
}

// BroadcastOpportunities pushes an opportunity set to every client. Clients
// that cannot keep up are dropped rather than blocking the broadcast.
func (h *Hub) BroadcastOpportunities(opportunities []arbitrage.Opportunity) {
	if len(opportunities) == 0 {
		return
	}
	h.broadcast(wsMessage{
		Type: "opportunities",
		Data: opportunities,
		Time: time.Now().UTC(),
	})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects all clients and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*wsClient, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
		close(client.send)
	}
	h.clients = make(map[string]*wsClient)
	h.mu.Unlock()

	for _, client := range clients {
		client.conn.Close()
	}
	h.setConnectionGauge()
}

func (h *Hub) sendInitialSet(ctx context.Context, client *wsClient) {
	opportunities, err := h.service.SignificantOpportunities(ctx)
	if err != nil {
		logger.Debug("Skipping initial opportunity push", "error", err.Error())
		return
	}
	if opportunities == nil {
		opportunities = []arbitrage.Opportunity{}
	}
	client.enqueue(wsMessage{
		Type: "opportunities",
		Data: opportunities,
		Time: time.Now().UTC(),
	})
}

// broadcast fans one frame out to every client. Sends happen under the
// read lock so they cannot race a channel close in unregister.
func (h *Hub) broadcast(msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Error("Failed to marshal broadcast", "error", err.Error())
		return
	}

	var slow []*wsClient
	h.mu.RLock()
	for _, client := range h.clients {
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		logger.Warn("Client send buffer full, dropping connection", "client_id", client.id)
		h.unregister(client)
		client.conn.Close()
	}
}

func (h *Hub) register(client *wsClient) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[client.id] = client
	h.mu.Unlock()

	h.setConnectionGauge()
	logger.Debug("WebSocket client connected", "client_id", client.id)
	return true
}

func (h *Hub) unregister(client *wsClient) {
	h.mu.Lock()
	_, exists := h.clients[client.id]
	if exists {
		delete(h.clients, client.id)
		close(client.send)
	}
	h.mu.Unlock()

	if exists {
		h.setConnectionGauge()
		logger.Debug("WebSocket client disconnected", "client_id", client.id)
	}
}

func (h *Hub) setConnectionGauge() {
	if h.metrics == nil {
		return
	}
	h.mu.RLock()
	count := len(h.clients)
	h.mu.RUnlock()
	h.metrics.SetActiveConnections(float64(count))
}

// enqueue offers a message to this client only, dropping it when the
// buffer is full or the client is already gone.
func (c *wsClient) enqueue(msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c.id]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket read failed", "client_id", c.id, "error", err.Error())
			}
			return
		}
	}
}
