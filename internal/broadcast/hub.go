// Package broadcast implements the Broadcast Hub of spec.md §4.J:
// topic-addressed pub/sub with idempotent subscribe/unsubscribe,
// snapshot-then-delta framing, per-topic monotonic sequence numbers,
// a bounded per-client send queue with slow_consumer disconnect,
// 15s heartbeats, and 10Hz throttling on book-delta topics.
//
// Grounded on pkg/api/websocket.go's Hub/Client: the register/unregister/
// broadcast channel trio and the buffered per-client send channel with a
// non-blocking send-or-drop are carried over almost unchanged. The
// teacher's Hub broadcast flat channel-name strings with no sequencing or
// snapshot contract; this package adds topic snapshots, per-topic
// sequence numbers, slow_consumer disconnect (the teacher silently
// dropped messages on a full buffer instead of disconnecting), and
// book-delta throttling.
package broadcast

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// ClientQueueSize is the bounded per-client send queue of spec.md §4.J
	// ("e.g., 1,024 messages").
	ClientQueueSize = 1024

	// HeartbeatInterval is the server heartbeat period.
	HeartbeatInterval = 15 * time.Second

	// HeartbeatMisses is how many consecutive missed heartbeats trigger a
	// server-initiated close.
	HeartbeatMisses = 2

	// bookDeltaInterval throttles book-delta topics to at most 10 Hz per
	// topic per client; trade/liquidation topics are unthrottled.
	bookDeltaInterval = 100 * time.Millisecond
)

// MessageKind distinguishes a snapshot from a delta on the wire.
type MessageKind string

const (
	KindSnapshot  MessageKind = "snapshot"
	KindDelta     MessageKind = "delta"
	KindHeartbeat MessageKind = "heartbeat"
)

// Message is the framing every topic publishes (spec.md §4.J: "first
// message after subscribe is a snapshot; subsequent are deltas with a
// monotonically increasing sequence number per topic").
type Message struct {
	Kind  MessageKind     `json:"kind"`
	Topic string          `json:"topic,omitempty"`
	Seq   uint64          `json:"seq"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// HeartbeatMessage builds the encoded application-level heartbeat envelope
// spec.md §6 lists among the realtime channel's message types
// (`{type, channel, seq, data}`, types including "heartbeat"). It carries no
// topic: unlike orderbook/trade/etc., it is connection-scoped, not
// topic-scoped, so pkg/api's write pump emits it directly on its own
// per-connection sequence alongside the transport-level WS ping/pong.
func HeartbeatMessage(seq uint64) []byte {
	encoded, _ := json.Marshal(Message{Kind: KindHeartbeat, Seq: seq})
	return encoded
}

func isBookTopic(topic string) bool {
	const suffix = ":orderbook"
	return len(topic) > len(suffix) && topic[len(topic)-len(suffix):] == suffix
}

// topicState tracks one topic's sequence counter and latest snapshot, so
// a newly subscribing client can be caught up immediately.
type topicState struct {
	mu       sync.Mutex
	seq      uint64
	snapshot json.RawMessage
}

// Hub is the process-wide broadcast hub; one Hub serves every market and
// every trader-scoped topic.
type Hub struct {
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}
	topics  map[string]*topicState
}

// New builds an empty Hub.
func New(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*Client]struct{}),
		topics:  make(map[string]*topicState),
	}
}

func (h *Hub) topic(name string) *topicState {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[name]
	if !ok {
		t = &topicState{}
		h.topics[name] = t
	}
	return t
}

// Register adds a connected client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes and closes a client's send queue.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// ClientCount returns the number of currently registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish emits a delta on topic to every subscribed client, coalescing
// book topics to at most 10 Hz per client (spec.md §4.J). It also updates
// the topic's retained snapshot, so late subscribers catch up with the
// latest state rather than the literal first-ever publish.
func (h *Hub) Publish(topic string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("broadcast marshal failed", zap.String("topic", topic), zap.Error(err))
		return
	}

	t := h.topic(topic)
	t.mu.Lock()
	t.seq++
	seq := t.seq
	t.snapshot = raw
	t.mu.Unlock()

	msg := Message{Kind: KindDelta, Topic: topic, Seq: seq, Data: raw}
	encoded, err := json.Marshal(msg)
	if err != nil {
		return
	}

	throttled := isBookTopic(topic)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.IsSubscribed(topic) {
			continue
		}
		if throttled && !c.allowBookDelta(topic) {
			continue
		}
		c.enqueue(encoded)
	}
}

// snapshotFor builds the snapshot Message a just-subscribed client should
// receive first (spec.md §4.J: "first message after subscribe is a
// snapshot").
func (h *Hub) snapshotFor(topic string) ([]byte, bool) {
	t := h.topic(topic)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snapshot == nil {
		return nil, false
	}
	msg := Message{Kind: KindSnapshot, Topic: topic, Seq: t.seq, Data: t.snapshot}
	encoded, err := json.Marshal(msg)
	if err != nil {
		return nil, false
	}
	return encoded, true
}

// Subscribe idempotently subscribes c to topic and immediately delivers
// the retained snapshot, if any.
func (h *Hub) Subscribe(c *Client, topic string) {
	if c.subscribe(topic) {
		if snap, ok := h.snapshotFor(topic); ok {
			c.enqueue(snap)
		}
	}
}

// Unsubscribe idempotently unsubscribes c from topic.
func (h *Hub) Unsubscribe(c *Client, topic string) {
	c.unsubscribe(topic)
}

// Disconnect forcibly removes c with the given reason, used for
// slow_consumer and heartbeat-timeout closes.
func (h *Hub) Disconnect(c *Client, reason string) {
	h.logger.Warn("disconnecting client", zap.String("client", c.ID), zap.String("reason", reason))
	c.closeWith(reason)
	h.Unregister(c)
}
