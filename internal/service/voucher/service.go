// Package voucher управляет ваучерами пользователей: выдача, проверка, просмотр скидки.
package voucher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Ошибка массовой выдачи без получателей.
var ErrNoRecipients = errors.New("at least one user id is required")

// Spec — параметры нового ваучера.
type Spec struct {
	Code               string
	DiscountAmount     decimal.NullDecimal
	DiscountPercentage decimal.NullDecimal
	ExpiryDate         time.Time
}

// Preview показывает скидку ваучера для заданной суммы.
type Preview struct {
	VoucherID      string          `json:"voucherId"`
	Amount         decimal.Decimal `json:"amount"`
	Discount       decimal.Decimal `json:"discount"`
	AmountAfterUse decimal.Decimal `json:"amountAfterUse"`
}

type Service struct {
	storage domain.Storage
	logger  *log.Entry
	now     func() time.Time
	newID   func() string
}

// NewService создаёт сервис ваучеров. При now == nil берётся текущее время UTC.
func NewService(storage domain.Storage, logger *log.Entry, now func() time.Time) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "vouchers")
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{storage: storage, logger: logger, now: now, newID: uuid.NewString}
}

// Validate возвращает ваучер, если он принадлежит пользователю, не использован и не истёк.
func (s *Service) Validate(ctx context.Context, id, userID string) (domain.Voucher, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Voucher{}, domain.ErrUnauthenticated
	}
	v, err := s.storage.Repositories().Vouchers.Get(ctx, id)
	if errors.Is(err, domain.ErrVoucherNotFound) {
		return domain.Voucher{}, fmt.Errorf("%w: voucher %s not found", domain.ErrVoucherInvalid, id)
	}
	if err != nil {
		return domain.Voucher{}, domain.WrapPersistence(err)
	}
	if err := v.ValidateFor(userID, s.now()); err != nil {
		return domain.Voucher{}, err
	}
	return v, nil
}

// ListActive возвращает неиспользованные действующие ваучеры, ближайшие к истечению первыми.
func (s *Service) ListActive(ctx context.Context, userID string) ([]domain.Voucher, error) {
	now := s.now()
	return s.list(ctx, userID, func(v domain.Voucher) bool {
		return !v.IsUsed && !v.Expired(now)
	})
}

// ListExpired возвращает истёкшие ваучеры, последние истёкшие первыми.
func (s *Service) ListExpired(ctx context.Context, userID string) ([]domain.Voucher, error) {
	now := s.now()
	expired, err := s.list(ctx, userID, func(v domain.Voucher) bool { return v.Expired(now) })
	if err != nil {
		return nil, err
	}
	sort.SliceStable(expired, func(i, j int) bool {
		return expired[i].ExpiryDate.After(expired[j].ExpiryDate)
	})
	return expired, nil
}

// ListAll возвращает все ваучеры пользователя.
func (s *Service) ListAll(ctx context.Context, userID string) ([]domain.Voucher, error) {
	return s.list(ctx, userID, func(domain.Voucher) bool { return true })
}

func (s *Service) list(ctx context.Context, userID string, keep func(domain.Voucher) bool) ([]domain.Voucher, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.ErrUnauthenticated
	}
	all, err := s.storage.Repositories().Vouchers.ListByUser(ctx, userID)
	if err != nil {
		return nil, domain.WrapPersistence(err)
	}
	result := make([]domain.Voucher, 0, len(all))
	for _, v := range all {
		if keep(v) {
			result = append(result, v)
		}
	}
	return result, nil
}

// Add выдаёт ваучер пользователю.
func (s *Service) Add(ctx context.Context, userID string, spec Spec) (domain.Voucher, error) {
	created, err := s.BulkAdd(ctx, []string{userID}, spec)
	if err != nil {
		return domain.Voucher{}, err
	}
	return created[0], nil
}

// BulkAdd выдаёт одинаковый ваучер нескольким пользователям в одной единице работы.
// Повтор кода у любого получателя отменяет всю выдачу.
func (s *Service) BulkAdd(ctx context.Context, userIDs []string, spec Spec) ([]domain.Voucher, error) {
	recipients := dedupe(userIDs)
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	now := s.now()
	vouchers := make([]domain.Voucher, 0, len(recipients))
	for _, userID := range recipients {
		v := domain.Voucher{
			ID:                 s.newID(),
			UserID:             userID,
			Code:               spec.Code,
			DiscountAmount:     spec.DiscountAmount,
			DiscountPercentage: spec.DiscountPercentage,
			ExpiryDate:         spec.ExpiryDate.UTC(),
			CreatedAt:          now,
		}
		v.Normalize()
		if err := v.Validate(); err != nil {
			return nil, err
		}
		vouchers = append(vouchers, v)
	}

	err := s.storage.WithinTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		for _, v := range vouchers {
			if err := tx.Vouchers.Create(ctx, v); err != nil {
				return fmt.Errorf("create voucher for %s: %w", v.UserID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, domain.WrapPersistence(err)
	}

	s.logger.WithFields(log.Fields{
		"code":       vouchers[0].Code,
		"recipients": len(vouchers),
	}).Info("vouchers issued")
	return vouchers, nil
}

// Delete удаляет ваучер владельца.
func (s *Service) Delete(ctx context.Context, id, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return domain.ErrUnauthenticated
	}
	if err := s.storage.Repositories().Vouchers.Delete(ctx, id, userID); err != nil {
		return domain.WrapPersistence(err)
	}
	return nil
}

// PreviewDiscount считает скидку ваучера для суммы без его использования.
func (s *Service) PreviewDiscount(ctx context.Context, id, userID string, amount decimal.Decimal) (Preview, error) {
	if amount.IsNegative() {
		return Preview{}, domain.ErrInvalidAmount
	}
	v, err := s.Validate(ctx, id, userID)
	if err != nil {
		return Preview{}, err
	}
	discount := v.Discount(amount)
	return Preview{
		VoucherID:      v.ID,
		Amount:         amount,
		Discount:       discount,
		AmountAfterUse: amount.Sub(discount),
	}, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}
