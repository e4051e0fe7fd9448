package notifyws

import (
	"encoding/json"
	"log"
	"time"

	websocket "github.com/gofiber/contrib/websocket"
)

// Hub fans in-app notifications out to a user's open websocket connections.
// Delivery is fire-and-forget: a recipient with no connection simply misses
// the push, the durable notification state lives elsewhere.
type Hub struct {
	clients    map[int64]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	push       chan *Notice
	quit       chan struct{}
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID int64
	send   chan []byte
}

// Notice is the wire form of one in-app notification.
type Notice struct {
	Kind      string `json:"kind"`
	SessionID int64  `json:"session_id,omitempty"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	SentAt    string `json:"sent_at"`

	recipientID int64
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[int64]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		push:       make(chan *Notice, 64),
		quit:       make(chan struct{}),
	}
}

func NewClient(hub *Hub, conn *websocket.Conn, userID int64) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, 32),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			set, ok := h.clients[client.userID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.userID] = set
			}
			set[client] = struct{}{}
		case client := <-h.unregister:
			set, ok := h.clients[client.userID]
			if !ok {
				continue
			}
			if _, exists := set[client]; exists {
				delete(set, client)
				close(client.send)
			}
			if len(set) == 0 {
				delete(h.clients, client.userID)
			}
		case notice := <-h.push:
			h.deliver(notice)
		case <-h.quit:
			for _, set := range h.clients {
				for client := range set {
					close(client.send)
				}
			}
			h.clients = make(map[int64]map[*Client]struct{})
			return
		}
	}
}

// Stop ends the Run loop and closes every connected client's send channel.
func (h *Hub) Stop() {
	close(h.quit)
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Notify queues a notice for every open connection of the recipient.
func (h *Hub) Notify(recipientID int64, notice Notice) {
	notice.recipientID = recipientID
	if notice.SentAt == "" {
		notice.SentAt = time.Now().UTC().Format(time.RFC3339)
	}
	h.push <- &notice
}

func (h *Hub) deliver(notice *Notice) {
	encoded, err := json.Marshal(notice)
	if err != nil {
		log.Printf("notification hub encode notice: %v", err)
		return
	}
	h.sendToUser(notice.recipientID, encoded)
}

func (h *Hub) sendToUser(userID int64, payload []byte) {
	set, ok := h.clients[userID]
	if !ok {
		return
	}

	for client := range set {
		select {
		case client.send <- payload:
		default:
			delete(set, client)
			close(client.send)
		}
	}
	if len(set) == 0 {
		delete(h.clients, userID)
	}
}

// ReadPump drains the connection so pings and closes are noticed. The hub
// never acts on inbound payloads, notifications flow one way.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}
