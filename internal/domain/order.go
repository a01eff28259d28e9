package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа в магазине.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан при оформлении и ждёт обработки.
	OrderStatusPending OrderStatus = "Pending"
	// OrderStatusProcessing — заказ собирается.
	OrderStatusProcessing OrderStatus = "Processing"
	// OrderStatusCompleted — заказ собран и передан в доставку.
	OrderStatusCompleted OrderStatus = "Completed"
	// OrderStatusDelivered — заказ получен клиентом, доступен запрос возврата.
	OrderStatusDelivered OrderStatus = "Delivered"
	// OrderStatusRefundRequested — клиент запросил возврат.
	OrderStatusRefundRequested OrderStatus = "Refund Requested"
	// OrderStatusRefunded — деньги возвращены.
	OrderStatusRefunded OrderStatus = "Refunded"
	// OrderStatusCancelled — заказ отменён до выполнения.
	OrderStatusCancelled OrderStatus = "Cancelled"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusCompleted, OrderStatusDelivered,
		OrderStatusRefundRequested, OrderStatusRefunded, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// ParseOrderStatus разбирает статус из внешнего ввода.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	s := OrderStatus(raw)
	if !s.Valid() {
		return "", ErrUnknownOrderStatus
	}
	return s, nil
}

// transitions — штатные переходы жизненного цикла. Админская правка статуса их не проверяет.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:         {OrderStatusProcessing, OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusProcessing:      {OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusCompleted:       {OrderStatusDelivered},
	OrderStatusDelivered:       {OrderStatusRefundRequested},
	OrderStatusRefundRequested: {OrderStatusRefunded},
}

// CanTransition сообщает, допустим ли переход from → to в штатном жизненном цикле.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OrderItem — неизменяемый снимок позиции на момент покупки.
type OrderItem struct {
	OrderID   string
	ProductID string
	Name      string
	Quantity  int
	// UnitPrice фиксируется при оформлении и не пересчитывается по каталогу.
	UnitPrice decimal.Decimal
}

// LineTotal возвращает стоимость позиции.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID                string
	UserID            string
	TotalAmount       decimal.Decimal
	Status            OrderStatus
	PaymentMethod     string
	Items             []OrderItem
	RefundReason      string
	RefundNotes       string
	RefundRequestedAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Subtotal суммирует позиции по ценам покупки.
func (o Order) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range o.Items {
		sum = sum.Add(item.LineTotal())
	}
	return sum
}

// OwnedBy проверяет владельца заказа.
func (o Order) OwnedBy(userID string) bool {
	return userID != "" && o.UserID == userID
}
