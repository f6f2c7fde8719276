// Package ws is the websocket transport: a single /ws endpoint whose
// clients subscribe to rooms, adapted from the teacher's
// ws/unified.go client-registry/broadcast-channel hub. Where the
// teacher's hub dispatches by a handful of fixed channel names
// ("crash", "chat", "rooms"), this one keys subscriptions by room id
// so any number of LowCard rooms can run concurrently.
package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is one connected websocket with its room subscriptions.
type Client struct {
	id            string
	conn          *websocket.Conn
	subscriptions map[string]bool
	mu            sync.RWMutex
	writeMu       sync.Mutex
	send          chan []byte
}

func (c *Client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *Client) isSubscribed(room string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscriptions[room]
}

func (c *Client) subscribe(room string) {
	c.mu.Lock()
	c.subscriptions[room] = true
	c.mu.Unlock()
}

func (c *Client) unsubscribe(room string) {
	c.mu.Lock()
	delete(c.subscriptions, room)
	c.mu.Unlock()
}

// clientMessage is the shape of every inbound frame.
type clientMessage struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// CommandHandler receives a parsed chat/game command from a client
// already known to be subscribed to its room.
type CommandHandler func(client *Client, roomID, userID, username, text string)

// Hub is the central registry + event dispatcher, the generalized
// shape of the teacher's runEventHub/broadcastToSubscribers pair.
type Hub struct {
	clientsMu sync.RWMutex
	clients   map[*Client]bool
	byID      map[string]*Client

	register   chan *Client
	unregister chan *Client
	roomEvent  chan roomBroadcast
	globalEvt  chan globalBroadcast

	onCommand CommandHandler
	idCounter int64
}

type roomBroadcast struct {
	roomID  string
	event   string
	payload any
}

type globalBroadcast struct {
	event   string
	payload any
}

// NewHub builds a Hub. onCommand is invoked for every "command"
// message a client sends once it is subscribed to the named room.
func NewHub(onCommand CommandHandler) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		byID:       make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		roomEvent:  make(chan roomBroadcast, 256),
		globalEvt:  make(chan globalBroadcast, 256),
		onCommand:  onCommand,
	}
}

// Run is the hub's single dispatcher goroutine; call it once, in the
// background, before accepting connections.
func (h *Hub) Run() {
	log.Println("🚀 ws hub started")
	for {
		select {
		case c := <-h.register:
			h.clientsMu.Lock()
			h.clients[c] = true
			h.byID[c.id] = c
			h.clientsMu.Unlock()
			log.Printf("✅ client registered: %s (total: %d)", c.id, len(h.clients))

		case c := <-h.unregister:
			h.clientsMu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				delete(h.byID, c.id)
				close(c.send)
			}
			h.clientsMu.Unlock()
			log.Printf("👋 client unregistered: %s (total: %d)", c.id, len(h.clients))

		case msg := <-h.roomEvent:
			h.dispatchRoom(msg)

		case msg := <-h.globalEvt:
			h.dispatchGlobal(msg)
		}
	}
}

func (h *Hub) dispatchRoom(msg roomBroadcast) {
	data, err := json.Marshal(map[string]any{"type": msg.event, "roomId": msg.roomID, "data": msg.payload})
	if err != nil {
		log.Printf("❌ ws hub: marshal room event %s: %v", msg.event, err)
		return
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for c := range h.clients {
		if !c.isSubscribed(msg.roomID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			log.Printf("⚠️  client %s send buffer full, dropping event", c.id)
		}
	}
}

func (h *Hub) dispatchGlobal(msg globalBroadcast) {
	data, err := json.Marshal(map[string]any{"type": msg.event, "data": msg.payload})
	if err != nil {
		log.Printf("❌ ws hub: marshal global event %s: %v", msg.event, err)
		return
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			log.Printf("⚠️  client %s send buffer full, dropping event", c.id)
		}
	}
}

// EmitToRoom implements internal/broadcast.RoomSubscriber.
func (h *Hub) EmitToRoom(roomID, event string, payload any) {
	select {
	case h.roomEvent <- roomBroadcast{roomID: roomID, event: event, payload: payload}:
	default:
		log.Printf("⚠️  ws hub: room broadcast channel full, dropping %s for room %s", event, roomID)
	}
}

// ClientByID returns the locally-connected client with the given id,
// or nil if none is registered on this instance. A command delivered
// via the game:command pub/sub channel carries the socket id of the
// replica that received it over its websocket; only that replica's
// Hub has a non-nil result here, which is how a private reply finds
// its way back to the right connection.
func (h *Hub) ClientByID(id string) *Client {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return h.byID[id]
}

// EmitGlobal implements internal/broadcast.RoomSubscriber.
func (h *Hub) EmitGlobal(event string, payload any) {
	select {
	case h.globalEvt <- globalBroadcast{event: event, payload: payload}:
	default:
		log.Printf("⚠️  ws hub: global broadcast channel full, dropping %s", event)
	}
}

// HandleWS upgrades the connection and starts its read/write pumps.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("❌ websocket upgrade failed: %v", err)
		return
	}

	client := &Client{
		id:            h.nextClientID(),
		conn:          conn,
		subscriptions: make(map[string]bool),
		send:          make(chan []byte, 256),
	}

	h.register <- client

	go client.writePump()
	go h.readPump(client)
}

func (h *Hub) nextClientID() string {
	n := atomic.AddInt64(&h.idCounter, 1)
	return "client-" + strconv.FormatInt(n, 10)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		if err := func() error {
			c.writeMu.Lock()
			defer c.writeMu.Unlock()
			return c.conn.WriteMessage(websocket.TextMessage, message)
		}(); err != nil {
			log.Printf("❌ write error for client %s: %v", c.id, err)
			return
		}
	}
}

func (h *Hub) readPump(c *Client) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("❌ read error for client %s: %v", c.id, err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("❌ failed to parse message from client %s: %v", c.id, err)
			continue
		}
		h.handleMessage(c, msg)
	}
}

func (h *Hub) handleMessage(c *Client, msg clientMessage) {
	roomID, _ := msg.Data["roomId"].(string)

	switch msg.Type {
	case "subscribe":
		if roomID == "" {
			return
		}
		c.subscribe(roomID)
		log.Printf("📡 client %s subscribed to room %s", c.id, roomID)

	case "unsubscribe":
		if roomID == "" {
			return
		}
		c.unsubscribe(roomID)

	case "command":
		if roomID == "" || !c.isSubscribed(roomID) {
			return
		}
		userID, _ := msg.Data["userId"].(string)
		username, _ := msg.Data["username"].(string)
		text, _ := msg.Data["text"].(string)
		if h.onCommand != nil {
			h.onCommand(c, roomID, userID, username, text)
		}

	default:
		log.Printf("⚠️  unknown message type from client %s: %s", c.id, msg.Type)
	}
}
