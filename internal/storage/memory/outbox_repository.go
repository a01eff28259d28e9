package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

// outboxRecord хранит сообщение и служебные поля.
type outboxRecord struct {
	msg       domain.OutboxMessage
	seq       int64
	status    string
	attempts  int
	lastError string
	createdAt time.Time
	sentAt    time.Time
}

// OutboxRepository хранит transactional outbox в памяти.
type OutboxRepository struct {
	acc accessor
}

// Outbox возвращает outbox хранилища вне транзакции.
func (s *Store) Outbox() *OutboxRepository {
	return &OutboxRepository{acc: lockedAccess{store: s}}
}

// Enqueue сохраняет событие со статусом pending.
func (r *OutboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Payload = append([]byte(nil), msg.Payload...)
	err := r.acc.write(func(st *state) error {
		now := time.Now().UTC()
		st.outboxSeq++
		st.outbox[msg.ID] = outboxRecord{
			msg:       msg,
			seq:       st.outboxSeq,
			status:    outboxStatusPending,
			createdAt: now,
		}
		return nil
	})
	return msg, err
}

// PullPending возвращает до limit pending-сообщений в порядке постановки.
func (r *OutboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	records := r.pending()
	if len(records) > limit {
		records = records[:limit]
	}
	result := make([]domain.OutboxMessage, 0, len(records))
	for _, rec := range records {
		result = append(result, rec.msg)
	}
	return result, nil
}

// Stats возвращает размер backlog, время самого старого pending-сообщения и число failed.
func (r *OutboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	var stats domain.OutboxStats
	err := r.acc.read(func(st *state) error {
		for _, rec := range st.outbox {
			switch rec.status {
			case outboxStatusPending:
				stats.PendingCount++
				if stats.OldestPendingAt.IsZero() || rec.createdAt.Before(stats.OldestPendingAt) {
					stats.OldestPendingAt = rec.createdAt
				}
			case outboxStatusFailed:
				stats.FailedCount++
			}
		}
		return nil
	})
	return stats, err
}

// MarkSent фиксирует успешную публикацию.
func (r *OutboxRepository) MarkSent(_ context.Context, id string) error {
	return r.close(id, func(rec *outboxRecord) {
		rec.status = outboxStatusSent
		rec.attempts++
		rec.sentAt = time.Now().UTC()
	})
}

// MarkFailed фиксирует окончательную ошибку публикации.
func (r *OutboxRepository) MarkFailed(_ context.Context, id string, attempts int, lastError string) error {
	return r.close(id, func(rec *outboxRecord) {
		rec.status = outboxStatusFailed
		rec.attempts = attempts
		rec.lastError = lastError
	})
}

// AllPending возвращает все pending-сообщения (используется в тестах).
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	msgs, _ := r.PullPending(context.Background(), int(^uint(0)>>1))
	return msgs
}

// close переводит pending-сообщение в итоговый статус. Повторное закрытие даёт ErrOutboxPublish.
func (r *OutboxRepository) close(id string, apply func(rec *outboxRecord)) error {
	return r.acc.write(func(st *state) error {
		rec, ok := st.outbox[id]
		if !ok || rec.status != outboxStatusPending {
			return domain.ErrOutboxPublish
		}
		apply(&rec)
		st.outbox[id] = rec
		return nil
	})
}

// LastError возвращает последнюю ошибку публикации сообщения.
func (r *OutboxRepository) LastError(id string) (string, int) {
	var (
		lastErr  string
		attempts int
	)
	_ = r.acc.read(func(st *state) error {
		rec := st.outbox[id]
		lastErr, attempts = rec.lastError, rec.attempts
		return nil
	})
	return lastErr, attempts
}

func (r *OutboxRepository) pending() []outboxRecord {
	var records []outboxRecord
	_ = r.acc.read(func(st *state) error {
		for _, rec := range st.outbox {
			if rec.status == outboxStatusPending {
				records = append(records, rec)
			}
		}
		return nil
	})
	sort.Slice(records, func(i, j int) bool { return records[i].seq < records[j].seq })
	return records
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
