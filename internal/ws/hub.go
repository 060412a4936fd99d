package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event is the envelope pushed to subscribers. TokenID is zero for
// market-level events (fee or state changes) and identifies the asset
// otherwise. At is stamped at publish time.
type Event struct {
	Type       string    `json:"type"`
	Collection string    `json:"collection"`
	TokenID    uint64    `json:"token_id,omitempty"`
	Data       any       `json:"data,omitempty"`
	At         time.Time `json:"at"`
}

// Hub fans events out to per-collection rooms and to firehose clients,
// which receive every event regardless of collection.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*client]bool
	firehose map[*client]bool
}

type client struct {
	ws   *websocket.Conn
	send chan []byte
	hub  *Hub
	room string
	all  bool
}

func NewHub() *Hub {
	return &Hub{
		rooms:    make(map[string]map[*client]bool),
		firehose: make(map[*client]bool),
	}
}

// Publish stamps the event and delivers it to the collection's room and
// to the firehose. Clients whose send buffer is full are skipped.
func (h *Hub) Publish(ev Event) {
	ev.At = time.Now().UTC()
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.RLock()
	targets := make([]*client, 0, len(h.rooms[ev.Collection])+len(h.firehose))
	for c := range h.rooms[ev.Collection] {
		targets = append(targets, c)
	}
	for c := range h.firehose {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		select {
		case c.send <- b:
		default:
			// slow client, drop the event
		}
	}
}

// HandleWS upgrades the connection. Clients then send
// {"action":"subscribe","collection":"..."} to join a room; an empty
// collection joins the firehose.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}
	c := &client{
		ws:   wsConn,
		send: make(chan []byte, 64),
		hub:  h,
	}
	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.drop(c)
		c.ws.Close()
	}()
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			break
		}
		var sub struct {
			Action     string `json:"action"`
			Collection string `json:"collection"`
		}
		if err := json.Unmarshal(msg, &sub); err != nil {
			continue
		}
		switch sub.Action {
		case "subscribe":
			c.hub.subscribe(c, sub.Collection)
		case "unsubscribe":
			c.hub.unsubscribe(c)
		}
	}
}

func (c *client) writePump() {
	defer c.ws.Close()
	for msg := range c.send {
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			break
		}
	}
}

func (h *Hub) subscribe(c *client, collection string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leave(c)
	if collection == "" {
		c.all = true
		h.firehose[c] = true
		return
	}
	c.room = collection
	room, ok := h.rooms[collection]
	if !ok {
		room = make(map[*client]bool)
		h.rooms[collection] = room
	}
	room[c] = true
}

func (h *Hub) unsubscribe(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leave(c)
}

// leave detaches the client from its room or the firehose. Callers hold mu.
func (h *Hub) leave(c *client) {
	if c.all {
		delete(h.firehose, c)
		c.all = false
	}
	if c.room != "" {
		if room, ok := h.rooms[c.room]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, c.room)
			}
		}
		c.room = ""
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leave(c)
	close(c.send)
}
