package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

var failedAt = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

type stubPublisher struct {
	mu        sync.Mutex
	err       error
	sequence  []error
	published []domain.OutboxMessage
	callCount int
}

func (s *stubPublisher) Publish(msg domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++
	err := s.err
	if len(s.sequence) > 0 {
		err = s.sequence[0]
		s.sequence = s.sequence[1:]
	}
	if err == nil {
		s.published = append(s.published, msg)
	}
	return err
}

func (s *stubPublisher) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

func enqueue(t *testing.T, store *memory.Store, id, eventType string) {
	t.Helper()
	_, err := store.Outbox().Enqueue(context.Background(), domain.OutboxMessage{
		ID:            id,
		AggregateType: "order",
		AggregateID:   "order-" + id,
		EventType:     eventType,
		Payload:       []byte(`{"status":"Pending"}`),
	})
	require.NoError(t, err)
}

func newTestWorker(store *memory.Store, publisher domain.OutboxPublisher, opts ...Option) *Worker {
	base := []Option{
		WithRetryBaseDelay(0),
		WithMaxAttempts(3),
		WithClock(func() time.Time { return failedAt }),
		WithMetrics(metrics.NewWorkerMetricsWithRegisterer(prometheus.NewRegistry())),
	}
	return NewWorker(store.Outbox(), publisher, append(base, opts...)...)
}

func TestWorker_ProcessOnce_PublishesInOrder(t *testing.T) {
	store := memory.NewStore()
	enqueue(t, store, "ob-1", domain.EventOrderCreated)
	enqueue(t, store, "ob-2", domain.EventPaymentLinked)
	publisher := &stubPublisher{}

	result := newTestWorker(store, publisher).ProcessOnce(context.Background())

	assert.Equal(t, BatchResult{Pulled: 2, Sent: 2}, result)
	require.Len(t, publisher.published, 2)
	assert.Equal(t, "ob-1", publisher.published[0].ID)
	assert.Equal(t, "ob-2", publisher.published[1].ID)
	assert.Empty(t, store.Outbox().AllPending())
}

func TestWorker_ProcessOnce_DeadLettersAfterRetries(t *testing.T) {
	store := memory.NewStore()
	enqueue(t, store, "ob-3", domain.EventOrderRefunded)
	publisher := &stubPublisher{err: errors.New("broker down")}
	dlq := &stubPublisher{}

	result := newTestWorker(store, publisher, WithDLQPublisher(dlq)).ProcessOnce(context.Background())

	assert.Equal(t, BatchResult{Pulled: 1, Failed: 1}, result)
	assert.Equal(t, 3, publisher.calls())
	assert.Empty(t, store.Outbox().AllPending())

	require.Len(t, dlq.published, 1)
	var letter DeadLetter
	require.NoError(t, json.Unmarshal(dlq.published[0].Payload, &letter))
	assert.Equal(t, "ob-3", letter.OutboxID)
	assert.Equal(t, domain.EventOrderRefunded, letter.EventType)
	assert.Equal(t, 3, letter.Attempts)
	assert.Contains(t, letter.PublishError, "broker down")
	assert.True(t, failedAt.Equal(letter.FailedAt))
	assert.JSONEq(t, `{"status":"Pending"}`, string(letter.Message().Payload))

	lastErr, attempts := store.Outbox().LastError("ob-3")
	assert.Contains(t, lastErr, "broker down")
	assert.Equal(t, 3, attempts)
	stats, err := store.Outbox().Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FailedCount)
}

func TestWorker_ProcessOnce_SucceedsAfterRetry(t *testing.T) {
	store := memory.NewStore()
	enqueue(t, store, "ob-4", domain.EventOrderCancelled)
	publisher := &stubPublisher{sequence: []error{errors.New("attempt 1"), errors.New("attempt 2"), nil}}

	result := newTestWorker(store, publisher).ProcessOnce(context.Background())

	assert.Equal(t, BatchResult{Pulled: 1, Sent: 1}, result)
	assert.Equal(t, 3, publisher.calls())
}

func TestWorker_ProcessOnce_KeepsPendingWhenCancelledDuringBackoff(t *testing.T) {
	store := memory.NewStore()
	enqueue(t, store, "ob-5", domain.EventOrderCreated)
	publisher := &stubPublisher{err: errors.New("broker down")}

	ctx, cancel := context.WithCancel(context.Background())
	worker := newTestWorker(store, publisher, WithRetryBaseDelay(time.Hour))
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result := worker.ProcessOnce(ctx)
	assert.Zero(t, result.Failed)
	assert.Len(t, store.Outbox().AllPending(), 1)
}

func TestWorker_RetryBackoff(t *testing.T) {
	w := NewWorker(nil, nil, WithRetryBaseDelay(100*time.Millisecond))
	assert.Equal(t, 100*time.Millisecond, w.retryBackoff(1))
	assert.Equal(t, 400*time.Millisecond, w.retryBackoff(3))
	assert.Equal(t, 30*time.Second, w.retryBackoff(64))

	assert.Zero(t, NewWorker(nil, nil, WithRetryBaseDelay(0)).retryBackoff(2))
}

func TestWorker_Run_StopsOnContextCancel(t *testing.T) {
	store := memory.NewStore()
	worker := newTestWorker(store, &stubPublisher{}, WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

func TestWorker_Run_DisabledWithoutPublisher(t *testing.T) {
	worker := NewWorker(memory.NewStore().Outbox(), nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled worker should return immediately")
	}
}
