package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RefundRequest — данные клиентского запроса на возврат.
type RefundRequest struct {
	Reason      string
	Notes       string
	RequestedAt time.Time
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет заказ вместе с позициями.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ с позициями или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// ListByUser возвращает заказы пользователя, новые первыми.
	ListByUser(ctx context.Context, userID string, limit int) ([]Order, error)
	// List возвращает все заказы, новые первыми.
	List(ctx context.Context, limit int) ([]Order, error)
	// TransitionStatus меняет статус только если текущий равен from, иначе ErrInvalidState.
	TransitionStatus(ctx context.Context, id string, from, to OrderStatus, at time.Time) error
	// SetStatus безусловно выставляет статус (админская правка).
	SetStatus(ctx context.Context, id string, status OrderStatus, at time.Time) error
	// MarkRefundRequested переводит Delivered → Refund Requested и сохраняет причину.
	MarkRefundRequested(ctx context.Context, id string, req RefundRequest) error
	// Delete удаляет заказ вместе с позициями.
	Delete(ctx context.Context, id string) error
}

// ProductRepository — каталог и складской остаток.
type ProductRepository interface {
	Get(ctx context.Context, id string) (Product, error)
	Upsert(ctx context.Context, product Product) error
	// DecrementStock уменьшает остаток, только если его хватает, иначе ErrInsufficientStock.
	DecrementStock(ctx context.Context, id string, qty int) error
}

// UserRepository хранит балансы пользователей.
type UserRepository interface {
	Get(ctx context.Context, id string) (UserBalances, error)
	Upsert(ctx context.Context, balances UserBalances) error
	// ApplyBalanceChange применяет списания и начисления одним условным обновлением.
	ApplyBalanceChange(ctx context.Context, id string, change BalanceChange) error
	// ConvertPoints списывает баллы и начисляет монеты, если баллов достаточно.
	ConvertPoints(ctx context.Context, id string, points, coins int64) error
	TopUpWallet(ctx context.Context, id string, amount decimal.Decimal) error
}

// VoucherRepository хранит ваучеры пользователей.
type VoucherRepository interface {
	Get(ctx context.Context, id string) (Voucher, error)
	ListByUser(ctx context.Context, userID string) ([]Voucher, error)
	// Create возвращает ErrVoucherCodeExists при повторе кода у пользователя.
	Create(ctx context.Context, voucher Voucher) error
	Delete(ctx context.Context, id, userID string) error
	// MarkUsed помечает ваучер использованным, если он не использован и не истёк, иначе ErrVoucherInvalid.
	MarkUsed(ctx context.Context, id, userID string, at time.Time) error
}

// TransactionRepository хранит связи заказов с внешними платежами.
type TransactionRepository interface {
	Create(ctx context.Context, tx Transaction) error
	GetByOrder(ctx context.Context, orderID string) (Transaction, error)
}

// Repositories объединяет репозитории одной области видимости: транзакции или всего хранилища.
type Repositories struct {
	Orders       OrderRepository
	Products     ProductRepository
	Users        UserRepository
	Vouchers     VoucherRepository
	Transactions TransactionRepository
	Outbox       OutboxRepository
	Timeline     TimelineRepository
}

// UnitOfWork выполняет fn атомарно: либо все записи фиксируются, либо ни одна.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Repositories) error) error
}

// Storage даёт репозитории вне транзакции и единицу работы.
type Storage interface {
	UnitOfWork
	Repositories() Repositories
}
