package settlement

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// ReconciliationError — деньги списаны и заказ создан, но запись о платеже не сохранилась.
// Такой заказ требует ручной сверки; совпадает с domain.ErrPersistence.
type ReconciliationError struct {
	OrderID        string
	GatewayOrderID string
	CaptureID      string
	Err            error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("payment reconciliation required: order %s, gateway order %s, capture %s: %v",
		e.OrderID, e.GatewayOrderID, e.CaptureID, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }

// Is позволяет сопоставлять ошибку с domain.ErrPersistence.
func (e *ReconciliationError) Is(target error) bool {
	return target == domain.ErrPersistence
}

// UnsettledCaptureError — деньги списаны, но заказ не записан. Err хранит причину отказа.
// Пустой RefundID означает, что возврат не прошёл (RefundErr) и платёж нужно сверять вручную.
type UnsettledCaptureError struct {
	GatewayOrderID string
	CaptureID      string
	Amount         decimal.Decimal
	Currency       string
	RefundID       string
	RefundErr      error
	Err            error
}

func (e *UnsettledCaptureError) Error() string {
	if e.RefundErr != nil {
		return fmt.Sprintf("order not recorded for capture %s of gateway order %s, refund failed (%v): %v",
			e.CaptureID, e.GatewayOrderID, e.RefundErr, e.Err)
	}
	return fmt.Sprintf("order not recorded, capture %s of gateway order %s refunded as %s: %v",
		e.CaptureID, e.GatewayOrderID, e.RefundID, e.Err)
}

func (e *UnsettledCaptureError) Unwrap() error { return e.Err }

// Refunded сообщает, что списание возвращено покупателю.
func (e *UnsettledCaptureError) Refunded() bool { return e.RefundErr == nil }

// GatewayOrderID достаёт идентификатор заказа шлюза из цепочки ошибок.
func GatewayOrderID(err error) string {
	var unsettled *UnsettledCaptureError
	if errors.As(err, &unsettled) {
		return unsettled.GatewayOrderID
	}
	var gwErr *domain.GatewayFailureError
	if errors.As(err, &gwErr) {
		return gwErr.GatewayOrderID
	}
	var recErr *ReconciliationError
	if errors.As(err, &recErr) {
		return recErr.GatewayOrderID
	}
	return ""
}

// CaptureID достаёт идентификатор capture из цепочки ошибок.
func CaptureID(err error) string {
	var unsettled *UnsettledCaptureError
	if errors.As(err, &unsettled) {
		return unsettled.CaptureID
	}
	var recErr *ReconciliationError
	if errors.As(err, &recErr) {
		return recErr.CaptureID
	}
	return ""
}
