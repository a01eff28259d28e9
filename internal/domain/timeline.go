package domain

import "time"

// Типы событий таймлайна заказа.
const (
	TimelineOrderCreated    = "order_created"
	TimelineStatusChanged   = "status_changed"
	TimelineRefundRequested = "refund_requested"
	TimelineRefunded        = "refunded"
	TimelineCancelled       = "cancelled"
	TimelinePaymentLinked   = "payment_linked"
	TimelineOrderDeleted    = "order_deleted"
)

// Типы событий, публикуемых через outbox.
const (
	EventOrderCreated         = "order.created"
	EventOrderStatusChanged   = "order.status_changed"
	EventOrderRefundRequested = "order.refund_requested"
	EventOrderRefunded        = "order.refunded"
	EventOrderCancelled       = "order.cancelled"
	EventOrderDeleted         = "order.deleted"
	EventPaymentLinked        = "payment.linked"
)

// OutboxEventType возвращает тип outbox-события для типа события таймлайна.
func OutboxEventType(timelineType string) string {
	switch timelineType {
	case TimelineOrderCreated:
		return EventOrderCreated
	case TimelineRefundRequested:
		return EventOrderRefundRequested
	case TimelineRefunded:
		return EventOrderRefunded
	case TimelineCancelled:
		return EventOrderCancelled
	case TimelinePaymentLinked:
		return EventPaymentLinked
	case TimelineOrderDeleted:
		return EventOrderDeleted
	default:
		return EventOrderStatusChanged
	}
}

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}
