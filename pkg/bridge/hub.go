package bridge

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	bitalinoredis "github.com/biosignal/bitalino-bridge/pkg/redis"
)

// writeDeadline bounds how long a single WebSocket frame write may
// block before the connection is considered gone.
const writeDeadline = 10 * time.Second

// clientQueueDepth is how many pending batches a slow client may
// accumulate before Hub starts dropping for it rather than blocking
// the broadcast loop on one stuck consumer.
const clientQueueDepth = 16

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 65536,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub is the WebSocket Sink of spec.md §6: it broadcasts each delivered
// batch, in production order, to every currently connected client, and
// optionally republishes the same bytes to a Redis channel for
// out-of-process subscribers (spec.md §9's Sink-policy open question;
// see SPEC_FULL.md). A client too slow to keep its queue drained has
// batches dropped for it; it never blocks or reorders delivery to
// others.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}

	redis        *bitalinoredis.Client
	redisChannel string
}

type client struct {
	conn    *websocket.Conn
	send    chan []byte
	writeMu sync.Mutex
}

// NewHub returns an empty Hub. If redisAddr is non-empty, batches are
// also published to redisChannel on that Redis server; a Redis
// connection failure there is logged, not fatal, since the WebSocket
// path is the Sink of record.
func NewHub(redisAddr, redisPass string, redisDB int, redisChannel string) *Hub {
	h := &Hub{clients: make(map[*client]struct{})}
	if redisAddr == "" {
		return h
	}
	rc, err := bitalinoredis.New(redisAddr, redisPass, redisDB)
	if err != nil {
		log.Printf("bridge: redis fan-out disabled: %v", err)
		return h
	}
	h.redis = rc
	h.redisChannel = redisChannel
	return h
}

// ServeHTTP upgrades the request to a WebSocket and registers the
// resulting connection until it errors or is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("bridge: websocket upgrade failed: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientQueueDepth)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	log.Printf("bridge: client connected (%d total)", h.count())

	go h.writeLoop(c)
	go h.readLoop(c)
}

// readLoop only exists to notice when the client goes away; the
// protocol here is server-to-client only.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for payload := range c.send {
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		err := c.conn.WriteMessage(websocket.TextMessage, payload)
		c.writeMu.Unlock()
		if err != nil {
			h.remove(c)
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Deliver implements streamer.Sink. It broadcasts payload to every
// connected client in the same order it was called, queuing on each
// client's buffered channel; a client whose channel is already full has
// this batch dropped rather than stalling delivery to everyone else.
func (h *Hub) Deliver(payload []byte) error {
	h.mu.Lock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			log.Printf("bridge: dropping batch for slow client")
		}
	}
	h.mu.Unlock()

	if h.redis != nil {
		if err := h.redis.Publish(h.redisChannel, payload); err != nil {
			log.Printf("bridge: redis publish failed: %v", err)
		}
	}
	return nil
}

// Close shuts down every connected client and the optional Redis link.
func (h *Hub) Close() error {
	h.mu.Lock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	if h.redis != nil {
		return h.redis.Close()
	}
	return nil
}
