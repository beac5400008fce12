// Package events публикует доменные события каталога в Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Типы событий.
const (
	TypeReviewSubmitted   = "review.submitted"
	TypeBusinessSubmitted = "business.submitted"
	TypeReviewApproved    = "review.approved"
)

// Event: JSON-сообщение в топике событий.
type Event struct {
	Type       string    `json:"type"`
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	TargetID   string    `json:"target_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher публикует доменные события.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// messageWriter: используемая здесь часть *kafka.Writer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher пишет события с ключом target (или id записи), чтобы
// события одного бизнеса шли по порядку в пределах партиции.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher создаёт publisher для topic на brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}}
}

// Publish записывает одно событие.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	key := e.TargetID
	if key == "" {
		key = e.ID
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("emit %s: %w", e.Type, err)
	}
	return nil
}

// Close сбрасывает буфер и закрывает writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Noop отбрасывает события. Используется без брокеров.
type Noop struct{}

// Publish ничего не делает.
func (Noop) Publish(context.Context, Event) error { return nil }
