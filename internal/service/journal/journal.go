// Package journal записывает события заказа в outbox и таймлайн в одной единице работы.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// AggregateOrder — тип агрегата для outbox-сообщений заказа.
const AggregateOrder = "order"

// Event описывает событие жизненного цикла заказа.
type Event struct {
	OrderID  string
	UserID   string
	Type     string
	Status   domain.OrderStatus
	Reason   string
	Occurred time.Time
	Data     map[string]any
}

// Payload собирает JSON-представление события для outbox.
func (e Event) Payload() ([]byte, error) {
	payload := make(map[string]any, len(e.Data)+5)
	for k, v := range e.Data {
		payload[k] = v
	}
	payload["order_id"] = e.OrderID
	payload["ts"] = e.Occurred.UTC().Format(time.RFC3339Nano)
	if e.UserID != "" {
		payload["user_id"] = e.UserID
	}
	if e.Status != "" {
		payload["status"] = string(e.Status)
	}
	if e.Reason != "" {
		payload["reason"] = e.Reason
	}
	return json.Marshal(payload)
}

// Record ставит событие в outbox и добавляет его в таймлайн через репозитории текущей транзакции.
// Ошибка записи должна откатывать транзакцию вызывающего.
func Record(ctx context.Context, repos domain.Repositories, ev Event) error {
	if ev.Occurred.IsZero() {
		ev.Occurred = time.Now().UTC()
	}
	data, err := ev.Payload()
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}

	if repos.Outbox != nil {
		if _, err := repos.Outbox.Enqueue(ctx, domain.OutboxMessage{
			AggregateType: AggregateOrder,
			AggregateID:   ev.OrderID,
			EventType:     domain.OutboxEventType(ev.Type),
			Payload:       data,
		}); err != nil {
			return fmt.Errorf("enqueue %s event: %w", ev.Type, err)
		}
	}
	if repos.Timeline != nil {
		if err := repos.Timeline.Append(ctx, domain.TimelineEvent{
			OrderID:  ev.OrderID,
			Type:     ev.Type,
			Reason:   ev.Reason,
			Occurred: ev.Occurred,
		}); err != nil {
			return fmt.Errorf("append %s timeline event: %w", ev.Type, err)
		}
	}
	return nil
}
