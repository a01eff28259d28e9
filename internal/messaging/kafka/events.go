package kafka

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Топики Kafka.
const (
	TopicOrderEvents     = "storefront.order.events"
	TopicPaymentEvents   = "storefront.payment.events"
	TopicDeadLetterQueue = "storefront.dlq"
)

// Заголовки сообщений.
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOutboxID      = "x-outbox-id"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// Envelope описывает сообщение outbox в том виде, в каком оно уходит в Kafka.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// Key возвращает ключ партиционирования: события одного заказа попадают в одну партицию.
func (e Envelope) Key() string {
	if e.AggregateID != "" {
		return e.AggregateID
	}
	return e.ID
}

// DecodeEnvelope разбирает значение сообщения.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.EventType == "" {
		return Envelope{}, fmt.Errorf("decode envelope: event_type is empty")
	}
	return env, nil
}

// TopicFor выбирает топик по типу события: payment.* идут в топик платежей.
func TopicFor(eventType string) string {
	if strings.HasPrefix(eventType, "payment.") {
		return TopicPaymentEvents
	}
	return TopicOrderEvents
}
