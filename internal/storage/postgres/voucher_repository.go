package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const voucherColumns = `id, user_id, code, discount_amount, discount_percentage,
	expiry_date, is_used, used_at, created_at`

type voucherRepository struct {
	q querier
}

func (r *voucherRepository) Get(ctx context.Context, id string) (domain.Voucher, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	v, err := scanVoucher(r.q.QueryRowContext(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Voucher{}, domain.ErrVoucherNotFound
		}
		return domain.Voucher{}, fmt.Errorf("select voucher: %w", err)
	}
	return v, nil
}

func (r *voucherRepository) ListByUser(ctx context.Context, userID string) ([]domain.Voucher, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, `
		SELECT `+voucherColumns+`
		FROM vouchers
		WHERE user_id = $1
		ORDER BY expiry_date, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list vouchers: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Voucher, 0)
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, fmt.Errorf("scan voucher: %w", err)
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate voucher rows: %w", err)
	}
	return result, nil
}

func (r *voucherRepository) Create(ctx context.Context, v domain.Voucher) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	createdAt := v.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO vouchers (
			id, user_id, code, discount_amount, discount_percentage, expiry_date, is_used, used_at, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, v.ID, v.UserID, v.Code, v.DiscountAmount, v.DiscountPercentage, v.ExpiryDate, v.IsUsed, v.UsedAt, createdAt)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return domain.ErrVoucherCodeExists
		case isForeignKeyViolation(err):
			return domain.ErrUserNotFound
		}
		return fmt.Errorf("insert voucher: %w", err)
	}
	return nil
}

func (r *voucherRepository) Delete(ctx context.Context, id, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `DELETE FROM vouchers WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete voucher: %w", err)
	}
	affected, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrVoucherNotFound
	}
	return nil
}

func (r *voucherRepository) MarkUsed(ctx context.Context, id, userID string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE vouchers
		SET is_used = TRUE, used_at = $1
		WHERE id = $2 AND user_id = $3 AND NOT is_used AND expiry_date > $1
	`, at, id, userID)
	if err != nil {
		return fmt.Errorf("mark voucher used: %w", err)
	}
	affected, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrVoucherInvalid
	}
	return nil
}

func scanVoucher(row rowScanner) (domain.Voucher, error) {
	var (
		v      domain.Voucher
		usedAt sql.NullTime
	)
	if err := row.Scan(
		&v.ID, &v.UserID, &v.Code, &v.DiscountAmount, &v.DiscountPercentage,
		&v.ExpiryDate, &v.IsUsed, &usedAt, &v.CreatedAt,
	); err != nil {
		return domain.Voucher{}, err
	}
	if usedAt.Valid {
		at := usedAt.Time.UTC()
		v.UsedAt = &at
	}
	return v, nil
}

type transactionRepository struct {
	q querier
}

func (r *transactionRepository) Create(ctx context.Context, tx domain.Transaction) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO transactions (
			id, order_id, payer_id, payer_email, amount, currency,
			gateway_status, gateway_order_id, capture_id, payment_currency, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		tx.ID, tx.OrderID, tx.PayerID, tx.PayerEmail, tx.Amount, tx.Currency,
		tx.GatewayStatus, tx.GatewayOrderID, tx.CaptureID, tx.PaymentCurrency, createdAt,
	)
	if err != nil {
		switch {
		case isForeignKeyViolation(err):
			return domain.ErrOrderNotFound
		case isUniqueViolation(err):
			return fmt.Errorf("%w: transaction for order %s already exists", domain.ErrPersistence, tx.OrderID)
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (r *transactionRepository) GetByOrder(ctx context.Context, orderID string) (domain.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var tx domain.Transaction
	err := r.q.QueryRowContext(ctx, `
		SELECT id, order_id, payer_id, payer_email, amount, currency,
		       gateway_status, gateway_order_id, capture_id, payment_currency, created_at
		FROM transactions
		WHERE order_id = $1
	`, orderID).Scan(
		&tx.ID, &tx.OrderID, &tx.PayerID, &tx.PayerEmail, &tx.Amount, &tx.Currency,
		&tx.GatewayStatus, &tx.GatewayOrderID, &tx.CaptureID, &tx.PaymentCurrency, &tx.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Transaction{}, domain.ErrTransactionNotFound
		}
		return domain.Transaction{}, fmt.Errorf("select transaction: %w", err)
	}
	return tx, nil
}

var (
	_ domain.VoucherRepository     = (*voucherRepository)(nil)
	_ domain.TransactionRepository = (*transactionRepository)(nil)
)
