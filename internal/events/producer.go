// Package events publishes chat audit events to Kafka for downstream
// consumers (notifications, analytics). Publishing is fire-and-forget from
// the gateway's point of view and never blocks frame delivery.
package events

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// Event kinds published to the events topic.
const (
	KindMessageDelivered = "message_delivered"
	KindHistoryCleared   = "history_cleared"
	KindStatusChanged    = "status_changed"
)

// Event is the published payload.
type Event struct {
	Kind           string    `json:"kind"`
	ConversationID string    `json:"conversation_id,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	Detail         string    `json:"detail,omitempty"`
	At             time.Time `json:"at"`
}

// Publisher is what the gateway depends on; tests substitute a recorder.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

type Producer struct {
	writer *kafkago.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{writer: &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireOne,
	}}
}

func (p *Producer) Publish(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(e.ConversationID),
		Value: b,
		Time:  e.At,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Nop discards events, for tests and kafka-less deployments.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
