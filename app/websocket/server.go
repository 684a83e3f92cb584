// Package websocket pushes bill change events to connected clients and
// announces the gateway on the local network.
package websocket

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"BillingApp/app/models"
	"BillingApp/app/services"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	TypeWelcome     MessageType = "welcome"
	TypeHeartbeat   MessageType = "heartbeat"
	TypeBillCreated MessageType = "bill_created"
	TypeBillUpdated MessageType = "bill_updated"
	TypeBillDeleted MessageType = "bill_deleted"
)

// ClientType represents the type of connected client
type ClientType string

const (
	ClientDesktop ClientType = "desktop"
	ClientMobile  ClientType = "mobile"
)

const (
	heartbeatInterval = 30 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = 54 * time.Second
	writeWait         = 10 * time.Second
	sendBuffer        = 64
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType     `json:"type"`
	ClientID  string          `json:"client_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// BillEvent is the payload of the bill_* messages
type BillEvent struct {
	ID           int64                `json:"id"`
	BillNumber   string               `json:"bill_number"`
	CustomerName string               `json:"customer_name"`
	TotalAmount  string               `json:"total_amount"`
	Status       models.PaymentStatus `json:"payment_status"`
	ItemsCount   int                  `json:"items_count"`
}

// Client represents a connected WebSocket client
type Client struct {
	ID          string
	Type        ClientType
	Connection  *websocket.Conn
	Send        chan []byte
	Hub         *Hub
	ConnectedAt time.Time
	RemoteAddr  string
}

// Hub fans bill events out to every connected client. Only the run loop
// closes a client's Send channel.
type Hub struct {
	clients    map[string]*Client
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	done       chan struct{}
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	logger     *services.LoggerService

	startOnce sync.Once
	stopOnce  sync.Once
	mdns      *zeroconf.Server
}

// NewHub creates a hub. Call Run before serving connections.
func NewHub(logger *services.LoggerService) *Hub {
	if logger == nil {
		logger = services.NewDiscardLogger()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from local network
				return true
			},
		},
	}
}

// Run starts the hub loop in the background
func (h *Hub) Run() {
	h.startOnce.Do(func() {
		go h.run()
	})
}

// Stop disconnects every client, ends the hub loop and withdraws the
// mDNS announcement
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
		h.startOnce.Do(func() { close(h.done) })
		<-h.done

		h.mu.Lock()
		if h.mdns != nil {
			h.mdns.Shutdown()
			h.mdns = nil
			h.logger.LogInfo("[WS] mDNS announcement stopped")
		}
		h.mu.Unlock()
	})
}

// Announce advertises the API on the local network via mDNS
func (h *Hub) Announce(instance string, port int, txt []string) error {
	server, err := zeroconf.Register(instance, "_billing._tcp", "local.", port, txt, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	h.mu.Lock()
	h.mdns = server
	h.mu.Unlock()
	h.logger.LogInfo("[WS] announced on _billing._tcp.local", fmt.Sprintf("port %d", port))
	return nil
}

func (h *Hub) run() {
	defer close(h.done)
	defer h.logger.RecoverPanic()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			h.logger.LogInfo("[WS] client connected", client.ID, string(client.Type), client.RemoteAddr)
			h.welcome(client)

		case client := <-h.unregister:
			h.drop(client)

		case message := <-h.broadcast:
			h.fanOut(message)

		case <-ticker.C:
			heartbeat, _ := json.Marshal(Message{
				Type:      TypeHeartbeat,
				Timestamp: time.Now(),
				Data:      json.RawMessage(`{"status":"alive"}`),
			})
			h.fanOut(heartbeat)

		case <-h.stop:
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.Send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			h.logger.LogInfo("[WS] hub stopped")
			return
		}
	}
}

func (h *Hub) fanOut(message []byte) {
	h.mu.RLock()
	var slow []*Client
	for _, client := range h.clients {
		select {
		case client.Send <- message:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()
	// Client buffer is full, disconnect
	for _, client := range slow {
		h.logger.LogWarning("[WS] dropping slow client", client.ID)
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
	h.logger.LogInfo("[WS] client disconnected", client.ID)
}

func (h *Hub) welcome(client *Client) {
	data, _ := json.Marshal(map[string]interface{}{
		"client_id": client.ID,
		"message":   "Connected successfully",
	})
	msg, _ := json.Marshal(Message{
		Type:      TypeWelcome,
		ClientID:  client.ID,
		Timestamp: time.Now(),
		Data:      data,
	})
	select {
	case client.Send <- msg:
	default:
	}
}

// ServeHTTP upgrades the request and attaches a client to the hub
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientType := ClientType(r.URL.Query().Get("type"))
	if clientType == "" {
		clientType = ClientDesktop
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.LogWarning("[WS] upgrade failed", err.Error())
		return
	}

	client := &Client{
		ID:          uuid.NewString(),
		Type:        clientType,
		Connection:  conn,
		Send:        make(chan []byte, sendBuffer),
		Hub:         h,
		ConnectedAt: time.Now(),
		RemoteAddr:  r.RemoteAddr,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// ClientCount returns how many clients are connected
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastMessage queues message for every client. It drops the message
// once the hub has stopped.
func (h *Hub) BroadcastMessage(message Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.LogError("[WS] could not encode message", err)
		return
	}
	select {
	case h.broadcast <- data:
	case <-h.done:
	}
}

func (h *Hub) billEvent(t MessageType, bill *models.Bill) {
	data, err := json.Marshal(BillEvent{
		ID:           bill.ID,
		BillNumber:   bill.BillNumber,
		CustomerName: bill.CustomerName,
		TotalAmount:  bill.TotalAmount.StringFixed(2),
		Status:       bill.PaymentStatus,
		ItemsCount:   bill.ItemsCount,
	})
	if err != nil {
		h.logger.LogError("[WS] could not encode bill event", err)
		return
	}
	h.BroadcastMessage(Message{Type: t, Timestamp: time.Now(), Data: data})
}

// BillCreated broadcasts a bill_created event
func (h *Hub) BillCreated(bill *models.Bill) { h.billEvent(TypeBillCreated, bill) }

// BillUpdated broadcasts a bill_updated event
func (h *Hub) BillUpdated(bill *models.Bill) { h.billEvent(TypeBillUpdated, bill) }

// BillDeleted broadcasts a bill_deleted event
func (h *Hub) BillDeleted(bill *models.Bill) { h.billEvent(TypeBillDeleted, bill) }

// readPump drains client frames so pongs and close frames are processed.
// Clients only listen; anything else they send is answered with a heartbeat.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Connection.Close()
	}()

	c.Connection.SetReadLimit(4096)
	c.Connection.SetReadDeadline(time.Now().Add(pongWait))
	c.Connection.SetPongHandler(func(string) error {
		c.Connection.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.LogWarning("[WS] read error", c.ID, err.Error())
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil || msg.Type != TypeHeartbeat {
			continue
		}
		reply, _ := json.Marshal(Message{
			Type:      TypeHeartbeat,
			ClientID:  c.ID,
			Timestamp: time.Now(),
			Data:      json.RawMessage(`{"status":"alive"}`),
		})
		c.Hub.mu.RLock()
		_, connected := c.Hub.clients[c.ID]
		if connected {
			select {
			case c.Send <- reply:
			default:
			}
		}
		c.Hub.mu.RUnlock()
	}
}

// writePump writes queued messages and pings to the client
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Connection.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Connection.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
