package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// event is one message pushed to local UI clients.
type event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

const (
	// wsSendBuffer is the per-client queue depth. A client whose queue is
	// full misses that update instead of blocking the hub.
	wsSendBuffer = 16
	wsWriteWait  = 10 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API listener binds loopback only; origin checks add nothing.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient is one connected UI client. All writes go through the send
// channel so writePump is the only goroutine touching the connection.
type wsClient struct {
	conn *websocket.Conn
	send chan event
}

// eventHub fans status updates out to connected WebSocket clients. Clients
// are push-only; anything they send is discarded. Broadcast never blocks:
// slow clients drop updates, and a stalled connection is torn down when
// the write deadline expires.
type eventHub struct {
	mu      sync.Mutex
	clients map[*wsClient]bool
}

func newEventHub() *eventHub {
	return &eventHub{clients: make(map[*wsClient]bool)}
}

func (h *eventHub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

// remove unregisters a client and closes its send channel exactly once.
// Safe to call from both the read and write pumps.
func (h *eventHub) remove(c *wsClient) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	c.conn.Close()
}

// broadcast queues an event for every client without blocking. The send
// channel is only closed under h.mu after the client leaves the map, so
// enqueueing here can never hit a closed channel.
func (h *eventHub) broadcast(eventType string, data interface{}) {
	msg := event{Type: eventType, Data: data}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// Queue full; this client misses the update.
		}
	}
}

// writePump drains the send queue onto the connection. Every write carries
// a deadline so a peer that stops reading cannot hold the goroutine forever.
func (c *wsClient) writePump(h *eventHub) {
	defer h.remove(c)
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// serveWS upgrades the connection, queues the initial snapshot, and keeps
// the client registered until it hangs up.
func (h *eventHub) serveWS(w http.ResponseWriter, r *http.Request, initial StatusSnapshot) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &wsClient{conn: conn, send: make(chan event, wsSendBuffer)}
	c.send <- event{Type: "status", Data: initial}
	h.add(c)
	go c.writePump(h)

	// Read loop exists only to detect disconnects.
	go func() {
		defer h.remove(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *eventHub) closeAll() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		c.conn.Close()
	}
	h.mu.Unlock()
}
