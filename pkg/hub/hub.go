package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Hub tracks watcher clients per topic and broadcasts to them.
type Hub struct {
	name   string
	origin string
	redis  *redis.Client
	logger *slog.Logger

	// Registered clients by topic
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex

	broadcast  chan Message
	register   chan *Client
	unregister chan *Client

	// closed once the redis subscription is confirmed
	subscribed chan struct{}
	// closed when Run returns
	done     chan struct{}
	doneOnce sync.Once

	running   atomic.Bool
	published atomic.Int64
	relayed   atomic.Int64
	dropped   atomic.Int64
}

// New creates a hub. rdb may be nil for a single instance deployment.
func New(name string, rdb *redis.Client, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		name:       name,
		origin:     uuid.NewString(),
		redis:      rdb,
		logger:     logger.With("component", "hub", "hub", name),
		clients:    make(map[string]map[*Client]struct{}),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subscribed: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run is the hub's main loop. It returns when ctx is done, closing every
// client's send channel.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer h.running.Store(false)

	if h.redis != nil {
		go h.subscribeRedis(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.doneOnce.Do(func() { close(h.done) })
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.topic] == nil {
				h.clients[client.topic] = make(map[*Client]struct{})
			}
			h.clients[client.topic][client] = struct{}{}
			count := len(h.clients[client.topic])
			h.mu.Unlock()
			h.logger.Debug("watcher connected", "topic", client.topic, "watchers", count)

		case client := <-h.unregister:
			h.remove(client)
			h.logger.Debug("watcher disconnected", "topic", client.topic)

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

func (h *Hub) deliver(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients[message.Topic] {
		select {
		case client.send <- message:
		default:
			// too slow, drop the watcher
			close(client.send)
			delete(h.clients[message.Topic], client)
			h.dropped.Add(1)
			h.logger.Warn("dropped slow watcher", "topic", message.Topic)
		}
	}
	if len(h.clients[message.Topic]) == 0 {
		delete(h.clients, message.Topic)
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[client.topic]
	if !ok {
		return
	}
	if _, ok := set[client]; ok {
		delete(set, client)
		close(client.send)
	}
	if len(set) == 0 {
		delete(h.clients, client.topic)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, set := range h.clients {
		for client := range set {
			close(client.send)
		}
		delete(h.clients, topic)
	}
}

// Broadcast queues data for the watchers of topic and publishes it to redis.
func (h *Hub) Broadcast(topic string, data []byte) {
	h.enqueue(Message{Topic: topic, Data: data})

	if h.redis == nil {
		return
	}
	payload, err := json.Marshal(envelope{Origin: h.origin, Data: data})
	if err != nil {
		return
	}
	if err := h.redis.Publish(context.Background(), redisChannel(topic), payload).Err(); err != nil {
		h.logger.Warn("redis publish failed", "topic", topic, "error", err)
		return
	}
	h.published.Add(1)
}

// BroadcastJSON encodes v and broadcasts it to topic.
func (h *Hub) BroadcastJSON(topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(topic, data)
	return nil
}

func (h *Hub) enqueue(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.dropped.Add(1)
		h.logger.Warn("broadcast channel full, dropping message", "topic", msg.Topic)
	}
}

func (h *Hub) subscribeRedis(ctx context.Context) {
	pubsub := h.redis.PSubscribe(ctx, channelPattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		h.logger.Warn("redis subscribe failed", "error", err)
		return
	}
	close(h.subscribed)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			topic := topicFromChannel(msg.Channel)
			if topic == "" {
				continue
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				h.logger.Warn("invalid relay payload", "channel", msg.Channel, "error", err)
				continue
			}
			if env.Origin == h.origin {
				continue
			}
			h.relayed.Add(1)
			h.enqueue(Message{Topic: topic, Data: env.Data})
		}
	}
}

// Handler upgrades GET /ws/watch/:pathId and streams the path's updates.
func (h *Hub) Handler() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		topic := c.Params("pathId")
		if topic == "" {
			c.Close()
			return
		}
		NewClient(h, topic, c).Run()
	})
}

// ClientCount returns the number of connected watchers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// TopicCount returns the number of watchers of topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// IsRunning returns whether Run is active.
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}

// Stats is a snapshot of hub counters.
type Stats struct {
	Watchers  int   `json:"watchers"`
	Published int64 `json:"published"`
	Relayed   int64 `json:"relayed"`
	Dropped   int64 `json:"dropped"`
}

// Stats returns the hub counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Watchers:  h.ClientCount(),
		Published: h.published.Load(),
		Relayed:   h.relayed.Load(),
		Dropped:   h.dropped.Load(),
	}
}
