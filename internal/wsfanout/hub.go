// Package wsfanout streams demuxed packets to browser clients over
// websockets: a register/unregister/broadcast channel trio and a
// read/write pump goroutine pair per client, subscribed directly to a
// Demuxer's packet types.
package wsfanout

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mpups/packetcomms/internal/demux"
	"github.com/mpups/packetcomms/internal/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// envelope is the JSON shape delivered to every connected client.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// client represents one connected websocket viewer.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub subscribes to one or more packet types on a Demuxer and rebroadcasts
// every packet's payload, base64-free as a JSON envelope, to every
// attached websocket client.
type Hub struct {
	logger *log.Logger

	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client

	mu      sync.RWMutex
	handles []*demux.Handle
}

// NewHub creates an unstarted Hub.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		logger:     logger,
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Attach subscribes the hub to every named packet type on dmx. It may be
// called before Run or while Run is running.
func (h *Hub) Attach(dmx *demux.Demuxer, typeNames ...string) error {
	for _, name := range typeNames {
		name := name
		handle, err := dmx.Subscribe(name, func(p *protocol.Packet) {
			data, err := json.Marshal(envelope{Type: name, Payload: rawJSONBytes(p.Payload())})
			if err != nil {
				h.logger.Printf("[wsfanout] marshal failed for %s: %v", name, err)
				return
			}
			select {
			case h.broadcast <- data:
			default:
				h.logger.Printf("[wsfanout] broadcast buffer full, dropping %s update", name)
			}
		})
		if err != nil {
			return err
		}
		h.mu.Lock()
		h.handles = append(h.handles, handle)
		h.mu.Unlock()
	}
	return nil
}

// rawJSONBytes wraps an opaque payload as a JSON string so non-JSON
// payloads can be carried in the envelope. Bytes that are not valid UTF-8
// are replaced with U+FFFD, so binary payloads do not round-trip exactly.
func rawJSONBytes(payload []byte) json.RawMessage {
	quoted, err := json.Marshal(string(payload))
	if err != nil {
		return json.RawMessage("null")
	}
	return json.RawMessage(quoted)
}

// Run drives the hub's event loop until stop is closed.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			h.shutdown()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			targets := make([]*client, 0, len(h.clients))
			for c := range h.clients {
				targets = append(targets, c)
			}
			h.mu.RUnlock()

			for _, c := range targets {
				select {
				case c.send <- msg:
				default:
					// Unregister inline: Run is the only receiver of
					// h.unregister, so sending on it here would block.
					h.mu.Lock()
					if _, ok := h.clients[c]; ok {
						delete(h.clients, c)
						close(c.send)
					}
					h.mu.Unlock()
				}
			}
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	for _, handle := range h.handles {
		handle.Close()
	}
	for c := range h.clients {
		close(c.send)
		c.conn.Close()
		delete(h.clients, c)
	}
	h.mu.Unlock()
}

// ServeHTTP upgrades r into a websocket connection and streams the hub's
// broadcasts to it until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("[wsfanout] upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 64)}
	h.register <- c

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(64 * 1024)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ClientCount returns the number of currently connected viewers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
