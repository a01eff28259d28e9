// Package memory содержит in-memory хранилище для локальной разработки и тестов.
package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// state хранит все таблицы. Транзакция работает с копией и подменяет её при фиксации.
type state struct {
	orders       map[string]domain.Order
	products     map[string]domain.Product
	users        map[string]domain.UserBalances
	vouchers     map[string]domain.Voucher
	transactions map[string]domain.Transaction
	outbox       map[string]outboxRecord
	outboxSeq    int64
	timeline     map[string][]domain.TimelineEvent
}

func newState() *state {
	return &state{
		orders:       make(map[string]domain.Order),
		products:     make(map[string]domain.Product),
		users:        make(map[string]domain.UserBalances),
		vouchers:     make(map[string]domain.Voucher),
		transactions: make(map[string]domain.Transaction),
		outbox:       make(map[string]outboxRecord),
		timeline:     make(map[string][]domain.TimelineEvent),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.orders {
		c.orders[k] = cloneOrder(v)
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.vouchers {
		c.vouchers[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.outbox {
		c.outbox[k] = v
	}
	c.outboxSeq = s.outboxSeq
	for k, v := range s.timeline {
		c.timeline[k] = append([]domain.TimelineEvent(nil), v...)
	}
	return c
}

// accessor даёт репозиториям доступ к состоянию: под блокировкой или внутри транзакции.
type accessor interface {
	read(fn func(st *state) error) error
	write(fn func(st *state) error) error
}

// Store реализует domain.Storage в памяти процесса.
type Store struct {
	mu    sync.RWMutex
	state *state
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{state: newState()}
}

// Repositories возвращает репозитории, каждая операция которых атомарна сама по себе.
// Их нельзя вызывать изнутри WithinTx: блокировка хранилища уже захвачена.
func (s *Store) Repositories() domain.Repositories {
	return newRepositories(lockedAccess{store: s})
}

// WithinTx выполняет fn на копии состояния и фиксирует её, только если fn вернула nil.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	draft := s.state.clone()
	if err := fn(ctx, newRepositories(txAccess{st: draft})); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = draft
	return nil
}

func newRepositories(acc accessor) domain.Repositories {
	return domain.Repositories{
		Orders:       &orderRepository{acc: acc},
		Products:     &productRepository{acc: acc},
		Users:        &userRepository{acc: acc},
		Vouchers:     &voucherRepository{acc: acc},
		Transactions: &transactionRepository{acc: acc},
		Outbox:       &OutboxRepository{acc: acc},
		Timeline:     &timelineRepository{acc: acc},
	}
}

type lockedAccess struct {
	store *Store
}

func (a lockedAccess) read(fn func(st *state) error) error {
	a.store.mu.RLock()
	defer a.store.mu.RUnlock()
	return fn(a.store.state)
}

func (a lockedAccess) write(fn func(st *state) error) error {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	return fn(a.store.state)
}

type txAccess struct {
	st *state
}

func (a txAccess) read(fn func(st *state) error) error  { return fn(a.st) }
func (a txAccess) write(fn func(st *state) error) error { return fn(a.st) }

var _ domain.UnitOfWork = (*Store)(nil)
