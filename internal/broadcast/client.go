package broadcast

import (
	"sync"
	"time"

	"github.com/memeperp/engine/internal/metrics"
)

// Client is one subscriber connection, transport-agnostic: the WebSocket
// layer in pkg/api owns the actual net.Conn and drains Send().
type Client struct {
	ID   string
	hub  *Hub
	send chan []byte

	subsMu sync.RWMutex
	subs   map[string]struct{}

	throttleMu sync.Mutex
	lastBookAt map[string]time.Time

	closedMu sync.Mutex
	closed   bool
	closeReason string

	misses int // consecutive missed heartbeats, owned by the transport's ping loop
}

// NewClient builds a Client with the bounded send queue of spec.md §4.J.
func NewClient(id string, hub *Hub) *Client {
	return &Client{
		ID:         id,
		hub:        hub,
		send:       make(chan []byte, ClientQueueSize),
		subs:       make(map[string]struct{}),
		lastBookAt: make(map[string]time.Time),
	}
}

// Send exposes the outbound queue for the transport's write pump.
func (c *Client) Send() <-chan []byte { return c.send }

// enqueue is a non-blocking send; on a full queue the client is dropped
// as a slow_consumer (spec.md §4.J: "the engine never blocks on a slow
// client").
func (c *Client) enqueue(msg []byte) {
	select {
	case c.send <- msg:
		metrics.SetQueueDepth(c.ID, len(c.send))
	default:
		c.hub.Disconnect(c, "slow_consumer")
	}
}

func (c *Client) IsSubscribed(topic string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	_, ok := c.subs[topic]
	return ok
}

// subscribe returns true if this call newly subscribed the client
// (idempotent: subscribing twice is a no-op on the second call).
func (c *Client) subscribe(topic string) bool {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	if _, ok := c.subs[topic]; ok {
		return false
	}
	c.subs[topic] = struct{}{}
	return true
}

func (c *Client) unsubscribe(topic string) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	delete(c.subs, topic)
}

// allowBookDelta enforces the 10Hz-per-topic-per-client coalescing of
// spec.md §4.J for book-delta topics.
func (c *Client) allowBookDelta(topic string) bool {
	c.throttleMu.Lock()
	defer c.throttleMu.Unlock()
	now := time.Now()
	last, ok := c.lastBookAt[topic]
	if ok && now.Sub(last) < bookDeltaInterval {
		return false
	}
	c.lastBookAt[topic] = now
	return true
}

// RecordHeartbeatMiss increments the miss counter and reports whether the
// client has now exceeded HeartbeatMisses (spec.md §4.J: "missing two
// heartbeats ⇒ server-initiated close").
func (c *Client) RecordHeartbeatMiss() bool {
	c.misses++
	return c.misses > HeartbeatMisses
}

// ResetHeartbeat clears the miss counter on a received pong.
func (c *Client) ResetHeartbeat() { c.misses = 0 }

// closeWith marks the client closed with a reason, for transports that
// want to report it in a close frame.
func (c *Client) closeWith(reason string) {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeReason = reason
}

// CloseReason returns the reason this client was disconnected, if any.
func (c *Client) CloseReason() (string, bool) {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()
	return c.closeReason, c.closed
}
