package ws

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const defaultSendBuffer = 64

// conn is the subset of *websocket.Conn the broadcaster needs. Narrowed to
// an interface so tests can attach fake clients.
type conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// textMessage mirrors websocket.TextMessage without importing gorilla here.
const textMessage = 1

type client struct {
	id   uuid.UUID
	conn conn

	// mu guards send against the close in detach: enqueue and close both
	// take it, so no goroutine can send on a closed channel.
	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func newClient(c conn, buffer int) *client {
	cl := &client{
		id:   uuid.New(),
		conn: c,
		send: make(chan []byte, buffer),
	}
	go cl.writePump()
	return cl
}

// writePump serializes all writes to one connection. The per-client channel
// keeps broadcast delivery ordered and prevents one slow socket from
// blocking the rest.
func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(textMessage, msg); err != nil {
			return
		}
	}
}

// enqueue hands one frame to the write pump without blocking. Reports false
// only when the channel is full; a client already closed swallows the frame.
func (c *client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Broadcaster fans device events out to every attached client channel.
// Registration and removal are safe while a broadcast iterates the set.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[*client]bool
	buffer  int
}

func NewBroadcaster(sendBuffer int) *Broadcaster {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &Broadcaster{
		clients: make(map[*client]bool),
		buffer:  sendBuffer,
	}
}

// AddClient registers a connection and returns its client channel handle.
func (b *Broadcaster) AddClient(c conn) *client {
	cl := newClient(c, b.buffer)

	b.mu.Lock()
	b.clients[cl] = true
	count := len(b.clients)
	b.mu.Unlock()

	metricClients.Set(float64(count))
	log.Info().Str("client", cl.id.String()).Int("total", count).Msg("ws client attached")
	return cl
}

// RemoveClient detaches a client channel. Safe to call twice.
func (b *Broadcaster) RemoveClient(cl *client) {
	b.mu.Lock()
	removed := false
	if _, ok := b.clients[cl]; ok {
		delete(b.clients, cl)
		cl.close()
		removed = true
	}
	count := len(b.clients)
	b.mu.Unlock()

	if removed {
		metricClients.Set(float64(count))
		log.Info().Str("client", cl.id.String()).Int("total", count).Msg("ws client detached")
	}
}

// SendTo delivers one frame to a single client, used for the status frame on
// attach and for pong replies.
func (b *Broadcaster) SendTo(cl *client, kind string, payload any) {
	data, err := encodeFrame(kind, payload)
	if err != nil {
		log.Error().Err(err).Str("kind", kind).Msg("frame encode failed")
		return
	}
	b.deliver(cl, data)
}

// Broadcast delivers one event frame to every registered client in
// registration-set order. A client that cannot accept delivery is removed;
// the broadcast continues to the remaining clients and never reports
// failure to the caller.
func (b *Broadcaster) Broadcast(kind string, payload any) {
	data, err := encodeFrame(kind, payload)
	if err != nil {
		log.Error().Err(err).Str("kind", kind).Msg("frame encode failed")
		return
	}
	metricBroadcasts.WithLabelValues(kind).Inc()

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for cl := range b.clients {
		clients = append(clients, cl)
	}
	b.mu.RUnlock()

	for _, cl := range clients {
		b.deliver(cl, data)
	}
}

func (b *Broadcaster) deliver(cl *client, data []byte) {
	if cl.enqueue(data) {
		return
	}
	// Client channel full: the socket cannot keep up, drop it.
	log.Warn().Str("client", cl.id.String()).Msg("ws client too slow, disconnecting")
	b.RemoveClient(cl)
}

// ClientCount reports the number of attached clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
