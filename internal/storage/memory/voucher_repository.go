package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type voucherRepository struct {
	acc accessor
}

func (r *voucherRepository) Get(_ context.Context, id string) (domain.Voucher, error) {
	var voucher domain.Voucher
	err := r.acc.read(func(st *state) error {
		v, ok := st.vouchers[id]
		if !ok {
			return domain.ErrVoucherNotFound
		}
		voucher = v
		return nil
	})
	return voucher, err
}

func (r *voucherRepository) ListByUser(_ context.Context, userID string) ([]domain.Voucher, error) {
	var result []domain.Voucher
	err := r.acc.read(func(st *state) error {
		for _, v := range st.vouchers {
			if v.UserID == userID {
				result = append(result, v)
			}
		}
		return nil
	})
	sort.Slice(result, func(i, j int) bool {
		if !result[i].ExpiryDate.Equal(result[j].ExpiryDate) {
			return result[i].ExpiryDate.Before(result[j].ExpiryDate)
		}
		return result[i].ID < result[j].ID
	})
	return result, err
}

func (r *voucherRepository) Create(_ context.Context, voucher domain.Voucher) error {
	return r.acc.write(func(st *state) error {
		for _, v := range st.vouchers {
			if v.UserID == voucher.UserID && v.Code == voucher.Code {
				return domain.ErrVoucherCodeExists
			}
		}
		st.vouchers[voucher.ID] = voucher
		return nil
	})
}

func (r *voucherRepository) Delete(_ context.Context, id, userID string) error {
	return r.acc.write(func(st *state) error {
		v, ok := st.vouchers[id]
		if !ok || v.UserID != userID {
			return domain.ErrVoucherNotFound
		}
		delete(st.vouchers, id)
		return nil
	})
}

func (r *voucherRepository) MarkUsed(_ context.Context, id, userID string, at time.Time) error {
	return r.acc.write(func(st *state) error {
		v, ok := st.vouchers[id]
		if !ok || v.UserID != userID || v.IsUsed || v.Expired(at) {
			return domain.ErrVoucherInvalid
		}
		usedAt := at
		v.IsUsed = true
		v.UsedAt = &usedAt
		st.vouchers[id] = v
		return nil
	})
}

type transactionRepository struct {
	acc accessor
}

func (r *transactionRepository) Create(_ context.Context, tx domain.Transaction) error {
	return r.acc.write(func(st *state) error {
		if _, ok := st.orders[tx.OrderID]; !ok {
			return domain.ErrOrderNotFound
		}
		if _, exists := st.transactions[tx.OrderID]; exists {
			return domain.ErrPersistence
		}
		st.transactions[tx.OrderID] = tx
		return nil
	})
}

func (r *transactionRepository) GetByOrder(_ context.Context, orderID string) (domain.Transaction, error) {
	var tx domain.Transaction
	err := r.acc.read(func(st *state) error {
		stored, ok := st.transactions[orderID]
		if !ok {
			return domain.ErrTransactionNotFound
		}
		tx = stored
		return nil
	})
	return tx, err
}

var (
	_ domain.VoucherRepository     = (*voucherRepository)(nil)
	_ domain.TransactionRepository = (*transactionRepository)(nil)
)
