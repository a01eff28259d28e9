package kafka

import (
	"encoding/json"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// OutboxPublisher публикует outbox-сообщения в Kafka в виде Envelope.
type OutboxPublisher struct {
	producer *Producer
	topicFor func(eventType string) string
	now      func() time.Time
}

// PublisherOption настраивает OutboxPublisher.
type PublisherOption func(*OutboxPublisher)

// WithTopic отправляет все сообщения в один топик, например в DLQ.
func WithTopic(topic string) PublisherOption {
	return func(p *OutboxPublisher) {
		if topic != "" {
			p.topicFor = func(string) string { return topic }
		}
	}
}

// WithClock подменяет часы для published_at.
func WithClock(now func() time.Time) PublisherOption {
	return func(p *OutboxPublisher) {
		if now != nil {
			p.now = now
		}
	}
}

// NewOutboxPublisher создаёт паблишер. По умолчанию топик выбирается через TopicFor.
func NewOutboxPublisher(producer *Producer, opts ...PublisherOption) *OutboxPublisher {
	p := &OutboxPublisher{
		producer: producer,
		topicFor: TopicFor,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish отправляет сообщение с ключом по id заказа.
func (p *OutboxPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return ErrProducerClosed
	}

	env := Envelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   p.now().UTC(),
	}
	headers := map[string]string{
		HeaderEventType:     event.EventType,
		HeaderAggregateType: event.AggregateType,
		HeaderOutboxID:      event.ID,
	}
	return p.producer.PublishJSON(p.topicFor(event.EventType), env.Key(), env, headers)
}

var _ domain.OutboxPublisher = (*OutboxPublisher)(nil)
