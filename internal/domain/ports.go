package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentGateway описывает внешний платёжный шлюз.
type PaymentGateway interface {
	// CreatePaymentIntent создаёт заказ в шлюзе и возвращает его идентификатор.
	CreatePaymentIntent(ctx context.Context, amount decimal.Decimal, currency string) (string, error)
	// CapturePayment списывает деньги. Статус, отличный от COMPLETED, возвращается как результат.
	CapturePayment(ctx context.Context, gatewayOrderID string) (CaptureResult, error)
	// RefundCapture возвращает деньги по capture. Отказ шлюза приходит как Success=false.
	RefundCapture(ctx context.Context, captureID string, amount decimal.Decimal, currency string) (RefundResult, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	// MarkFailed закрывает сообщение после исчерпания попыток и сохраняет последнюю ошибку.
	MarkFailed(ctx context.Context, id string, attempts int, lastError string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
	// FailedCount считает сообщения, ушедшие в DLQ и ждущие ручного разбора.
	FailedCount int
}
