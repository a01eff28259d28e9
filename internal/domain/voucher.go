package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Voucher — одноразовая скидка с ограниченным сроком, привязанная к пользователю.
type Voucher struct {
	ID     string
	UserID string
	Code   string
	// Задаётся ровно одно из двух полей.
	DiscountAmount     decimal.NullDecimal
	DiscountPercentage decimal.NullDecimal
	ExpiryDate         time.Time
	IsUsed             bool
	UsedAt             *time.Time
	CreatedAt          time.Time
}

// Expired проверяет срок действия.
func (v Voucher) Expired(now time.Time) bool {
	return !v.ExpiryDate.After(now)
}

// ValidateFor проверяет применимость ваучера пользователем в момент now.
func (v Voucher) ValidateFor(userID string, now time.Time) error {
	switch {
	case v.UserID != userID:
		return fmt.Errorf("%w: not owned by user", ErrVoucherInvalid)
	case v.IsUsed:
		return fmt.Errorf("%w: already used", ErrVoucherInvalid)
	case v.Expired(now):
		return fmt.Errorf("%w: expired", ErrVoucherInvalid)
	}
	return nil
}

// Discount считает скидку относительно base и не даёт ей превысить base.
func (v Voucher) Discount(base decimal.Decimal) decimal.Decimal {
	if !base.IsPositive() {
		return decimal.Zero
	}
	var discount decimal.Decimal
	switch {
	case v.DiscountAmount.Valid:
		discount = v.DiscountAmount.Decimal
	case v.DiscountPercentage.Valid:
		discount = base.Mul(v.DiscountPercentage.Decimal).Div(hundred).Round(2)
	}
	if discount.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(discount, base)
}

// Normalize приводит код к каноничному виду.
func (v *Voucher) Normalize() {
	v.Code = strings.ToUpper(strings.TrimSpace(v.Code))
}

// Validate проверяет поля нового ваучера.
func (v Voucher) Validate() error {
	if strings.TrimSpace(v.Code) == "" {
		return ErrVoucherCodeRequired
	}
	if v.ExpiryDate.IsZero() {
		return ErrVoucherExpiryRequired
	}
	if v.DiscountAmount.Valid == v.DiscountPercentage.Valid {
		return ErrVoucherDiscountInvalid
	}
	if v.DiscountAmount.Valid && !v.DiscountAmount.Decimal.IsPositive() {
		return ErrVoucherDiscountInvalid
	}
	if v.DiscountPercentage.Valid {
		pct := v.DiscountPercentage.Decimal
		if !pct.IsPositive() || pct.GreaterThan(hundred) {
			return ErrVoucherDiscountInvalid
		}
	}
	return nil
}
