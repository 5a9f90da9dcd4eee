// Package hub fans frames out to every connection attached to a
// conversation, locally and across gateway nodes via Redis pub/sub.
package hub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Subscriber is one attached connection's outbound queue.
type Subscriber struct {
	UserID string

	send chan []byte
	once sync.Once
}

func NewSubscriber(userID string) *Subscriber {
	return &Subscriber{UserID: userID, send: make(chan []byte, 256)}
}

// Frames is consumed by the connection's write pump. The channel closes when
// the hub evicts the subscriber.
func (s *Subscriber) Frames() <-chan []byte { return s.send }

// Push queues a frame, reporting false when the consumer is too slow.
func (s *Subscriber) Push(frame []byte) bool {
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.send) })
}

// fanout is the cross-node pub/sub payload. Origin filters out our own
// publications so local subscribers are not delivered twice.
type fanout struct {
	Origin         string          `json:"origin"`
	ConversationID string          `json:"conversation_id"`
	Frame          json.RawMessage `json:"frame"`
}

type Hub struct {
	id      string
	channel string
	rdb     *redis.Client // nil disables cross-node fan-out
	logger  *zap.SugaredLogger

	mu    sync.RWMutex
	rooms map[string]map[*Subscriber]bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds the hub and, when rdb is non-nil, starts the cross-node
// subscriber on the given pub/sub channel.
func New(rdb *redis.Client, channel string, logger *zap.SugaredLogger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		id:      uuid.NewString(),
		channel: channel,
		rdb:     rdb,
		logger:  logger,
		rooms:   make(map[string]map[*Subscriber]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
	if rdb != nil {
		go h.subscribeLoop()
	}
	return h
}

func (h *Hub) Join(conversationID string, s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[conversationID] == nil {
		h.rooms[conversationID] = make(map[*Subscriber]bool)
	}
	h.rooms[conversationID][s] = true
}

func (h *Hub) Leave(conversationID string, s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.rooms[conversationID]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.rooms, conversationID)
		}
	}
	s.close()
}

// Broadcast delivers a frame to every participant connection, on this node
// and on the others.
func (h *Hub) Broadcast(ctx context.Context, conversationID string, frame []byte) {
	h.broadcastLocal(conversationID, frame)
	if h.rdb == nil {
		return
	}
	payload, err := json.Marshal(fanout{
		Origin:         h.id,
		ConversationID: conversationID,
		Frame:          frame,
	})
	if err != nil {
		return
	}
	if err := h.rdb.Publish(ctx, h.channel, payload).Err(); err != nil {
		h.logger.Warnw("fanout publish failed", "err", err)
	}
}

func (h *Hub) broadcastLocal(conversationID string, frame []byte) {
	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.rooms[conversationID]))
	for s := range h.rooms[conversationID] {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		if !s.Push(frame) {
			h.logger.Warnw("evicting slow subscriber", "user_id", s.UserID)
			h.Leave(conversationID, s)
		}
	}
}

func (h *Hub) subscribeLoop() {
	pubsub := h.rdb.Subscribe(h.ctx, h.channel)
	defer pubsub.Close()
	ch := pubsub.Channel()
	for {
		select {
		case <-h.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				h.logger.Warn("fanout subscription closed")
				return
			}
			var f fanout
			if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
				continue
			}
			if f.Origin == h.id {
				continue
			}
			h.broadcastLocal(f.ConversationID, f.Frame)
		}
	}
}

func (h *Hub) Shutdown() {
	h.cancel()
}
