// Package orders управляет жизненным циклом заказа после оформления: возвраты, отмена, правка статуса.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/pricing"
	"github.com/vladislavdragonenkov/storefront/internal/service/journal"
)

// DefaultListLimit ограничивает выборку списков заказов.
const DefaultListLimit = 100

// RefundOutcome — итог подтверждения возврата.
type RefundOutcome struct {
	Order domain.Order
	// RefundID пуст, если у заказа нет capture во внешнем шлюзе.
	RefundID       string
	GatewayRefund  bool
	GatewayOrderID string
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTaxRate задаёт ставку GST для счетов.
func WithTaxRate(rate decimal.Decimal) Option {
	return func(s *Service) { s.taxRate = rate }
}

// Service реализует операции над заказами.
type Service struct {
	storage   domain.Storage
	gateway   domain.PaymentGateway
	logger    *log.Entry
	metrics   *metrics.CheckoutMetrics
	now       func() time.Time
	taxRate   decimal.Decimal
	approvals singleflight.Group
}

// NewService создаёт сервис заказов.
func NewService(storage domain.Storage, gateway domain.PaymentGateway, opts ...Option) *Service {
	s := &Service{
		storage: storage,
		gateway: gateway,
		logger:  log.New().WithField("component", "orders"),
		now:     func() time.Time { return time.Now().UTC() },
		taxRate: pricing.DefaultTaxRate,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get возвращает заказ без проверки владельца.
func (s *Service) Get(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := s.storage.Repositories().Orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, domain.WrapPersistence(err)
	}
	return order, nil
}

// GetForUser возвращает заказ, если он принадлежит userID.
func (s *Service) GetForUser(ctx context.Context, orderID, userID string) (domain.Order, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Order{}, domain.ErrUnauthenticated
	}
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !order.OwnedBy(userID) {
		return domain.Order{}, domain.ErrForbidden
	}
	return order, nil
}

// ListForUser возвращает заказы пользователя, новые первыми.
func (s *Service) ListForUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.ErrUnauthenticated
	}
	orders, err := s.storage.Repositories().Orders.ListByUser(ctx, userID, normalizeLimit(limit))
	if err != nil {
		return nil, domain.WrapPersistence(err)
	}
	return orders, nil
}

// ListAll возвращает все заказы с позициями.
func (s *Service) ListAll(ctx context.Context, limit int) ([]domain.Order, error) {
	orders, err := s.storage.Repositories().Orders.List(ctx, normalizeLimit(limit))
	if err != nil {
		return nil, domain.WrapPersistence(err)
	}
	return orders, nil
}

// Timeline возвращает события заказа.
func (s *Service) Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	events, err := s.storage.Repositories().Timeline.List(ctx, orderID)
	if err != nil {
		return nil, domain.WrapPersistence(err)
	}
	return events, nil
}

// RequestRefund переводит доставленный заказ владельца в Refund Requested.
func (s *Service) RequestRefund(ctx context.Context, orderID, userID, reason, notes string) (domain.Order, error) {
	order, err := s.GetForUser(ctx, orderID, userID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status != domain.OrderStatusDelivered {
		return domain.Order{}, fmt.Errorf("%w: refund can be requested only for delivered orders, current %q",
			domain.ErrInvalidState, order.Status)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.Order{}, domain.ErrRefundReasonRequired
	}

	now := s.now()
	notes = strings.TrimSpace(notes)
	err = s.storage.WithinTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		if err := tx.Orders.MarkRefundRequested(ctx, orderID, domain.RefundRequest{
			Reason:      reason,
			Notes:       notes,
			RequestedAt: now,
		}); err != nil {
			return err
		}
		return journal.Record(ctx, tx, journal.Event{
			OrderID:  orderID,
			UserID:   userID,
			Type:     domain.TimelineRefundRequested,
			Status:   domain.OrderStatusRefundRequested,
			Reason:   reason,
			Occurred: now,
			Data:     map[string]any{"notes": notes},
		})
	})
	if err != nil {
		return domain.Order{}, domain.WrapPersistence(err)
	}
	s.metrics.RecordEvent(domain.TimelineRefundRequested)
	s.logger.WithFields(log.Fields{"order_id": orderID, "user_id": userID}).Info("refund requested")

	order.Status = domain.OrderStatusRefundRequested
	order.RefundReason = reason
	order.RefundNotes = notes
	order.RefundRequestedAt = &now
	order.UpdatedAt = now
	return order, nil
}

// ApproveRefund возвращает деньги через шлюз, если у заказа есть capture, и переводит заказ в Refunded.
// Отказ или сбой шлюза оставляет заказ без изменений. Одновременные подтверждения одного заказа
// схлопываются в один вызов.
func (s *Service) ApproveRefund(ctx context.Context, orderID string) (RefundOutcome, error) {
	ch := s.approvals.DoChan(orderID, func() (any, error) {
		return s.approveRefund(context.WithoutCancel(ctx), orderID)
	})
	select {
	case <-ctx.Done():
		return RefundOutcome{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return RefundOutcome{}, res.Err
		}
		return res.Val.(RefundOutcome), nil
	}
}

func (s *Service) approveRefund(ctx context.Context, orderID string) (RefundOutcome, error) {
	logger := s.logger.WithField("order_id", orderID)

	order, err := s.Get(ctx, orderID)
	if err != nil {
		return RefundOutcome{}, err
	}
	if order.Status != domain.OrderStatusRefundRequested {
		return RefundOutcome{}, fmt.Errorf("%w: refund can be approved only for requested refunds, current %q",
			domain.ErrInvalidState, order.Status)
	}

	outcome := RefundOutcome{}
	payment, err := s.storage.Repositories().Transactions.GetByOrder(ctx, orderID)
	switch {
	case errors.Is(err, domain.ErrTransactionNotFound):
	case err != nil:
		return RefundOutcome{}, domain.WrapPersistence(err)
	case payment.HasCapture():
		outcome.GatewayOrderID = payment.GatewayOrderID
		amount := payment.Amount
		if !amount.IsPositive() {
			amount = order.TotalAmount
		}
		result, err := s.gateway.RefundCapture(ctx, payment.CaptureID, amount, payment.RefundCurrency())
		if err != nil {
			s.metrics.RecordRefund(metrics.ResultFailure)
			logger.WithError(err).WithField("capture_id", payment.CaptureID).Error("gateway refund failed")
			return RefundOutcome{}, domain.NewGatewayError(payment.GatewayOrderID, err)
		}
		if !result.Success {
			s.metrics.RecordRefund(metrics.ResultFailure)
			logger.WithFields(log.Fields{
				"capture_id": payment.CaptureID,
				"status":     result.Status,
			}).Warn("gateway declined refund")
			return RefundOutcome{}, &domain.GatewayFailureError{
				GatewayOrderID: payment.GatewayOrderID,
				Status:         result.Status,
				Err:            fmt.Errorf("%w: %s", domain.ErrGatewayDeclined, result.Error),
			}
		}
		outcome.GatewayRefund = true
		outcome.RefundID = result.RefundID
	default:
		logger.WithField("capture_id", payment.CaptureID).Warn("transaction has no capture, refunding without gateway")
	}

	now := s.now()
	err = s.storage.WithinTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		if err := tx.Orders.TransitionStatus(ctx, orderID, domain.OrderStatusRefundRequested, domain.OrderStatusRefunded, now); err != nil {
			return err
		}
		data := map[string]any{"amount": order.TotalAmount.StringFixed(2)}
		if outcome.RefundID != "" {
			data["refund_id"] = outcome.RefundID
		}
		return journal.Record(ctx, tx, journal.Event{
			OrderID:  orderID,
			UserID:   order.UserID,
			Type:     domain.TimelineRefunded,
			Status:   domain.OrderStatusRefunded,
			Reason:   order.RefundReason,
			Occurred: now,
			Data:     data,
		})
	})
	if err != nil {
		err = domain.WrapPersistence(err)
		s.metrics.RecordRefund(metrics.ResultFailure)
		if outcome.GatewayRefund {
			logger.WithError(err).WithField("refund_id", outcome.RefundID).Error("money refunded but order status not updated")
		}
		return RefundOutcome{}, err
	}
	s.metrics.RecordRefund(metrics.ResultSuccess)
	s.metrics.RecordEvent(domain.TimelineRefunded)
	logger.WithField("refund_id", outcome.RefundID).Info("refund approved")

	order.Status = domain.OrderStatusRefunded
	order.UpdatedAt = now
	outcome.Order = order
	return outcome, nil
}

// UpdateStatus выполняет админскую правку статуса. Проверяется только, что статус известен.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus) (domain.Order, error) {
	if !status.Valid() {
		return domain.Order{}, fmt.Errorf("%w: %q", domain.ErrUnknownOrderStatus, status)
	}
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	now := s.now()
	from := order.Status
	err = s.storage.WithinTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		if err := tx.Orders.SetStatus(ctx, orderID, status, now); err != nil {
			return err
		}
		return journal.Record(ctx, tx, journal.Event{
			OrderID:  orderID,
			UserID:   order.UserID,
			Type:     domain.TimelineStatusChanged,
			Status:   status,
			Occurred: now,
			Data:     map[string]any{"from": string(from)},
		})
	})
	if err != nil {
		return domain.Order{}, domain.WrapPersistence(err)
	}
	s.metrics.RecordEvent(domain.TimelineStatusChanged)
	s.logger.WithFields(log.Fields{"order_id": orderID, "from": from, "to": status}).Info("order status updated")

	order.Status = status
	order.UpdatedAt = now
	return order, nil
}

// Cancel отменяет заказ владельца, пока он не собран.
func (s *Service) Cancel(ctx context.Context, orderID, userID, reason string) (domain.Order, error) {
	order, err := s.GetForUser(ctx, orderID, userID)
	if err != nil {
		return domain.Order{}, err
	}
	if !domain.CanTransition(order.Status, domain.OrderStatusCancelled) {
		return domain.Order{}, fmt.Errorf("%w: order in status %q cannot be cancelled", domain.ErrInvalidState, order.Status)
	}

	now := s.now()
	reason = strings.TrimSpace(reason)
	err = s.storage.WithinTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		if err := tx.Orders.TransitionStatus(ctx, orderID, order.Status, domain.OrderStatusCancelled, now); err != nil {
			return err
		}
		return journal.Record(ctx, tx, journal.Event{
			OrderID:  orderID,
			UserID:   userID,
			Type:     domain.TimelineCancelled,
			Status:   domain.OrderStatusCancelled,
			Reason:   reason,
			Occurred: now,
		})
	})
	if err != nil {
		return domain.Order{}, domain.WrapPersistence(err)
	}
	s.metrics.RecordEvent(domain.TimelineCancelled)

	order.Status = domain.OrderStatusCancelled
	order.UpdatedAt = now
	return order, nil
}

// Delete удаляет заказ вместе с позициями. Таймлайн сохраняется.
func (s *Service) Delete(ctx context.Context, orderID string) error {
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return err
	}
	now := s.now()
	err = s.storage.WithinTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		if err := tx.Orders.Delete(ctx, orderID); err != nil {
			return err
		}
		return journal.Record(ctx, tx, journal.Event{
			OrderID:  orderID,
			UserID:   order.UserID,
			Type:     domain.TimelineOrderDeleted,
			Status:   order.Status,
			Occurred: now,
		})
	})
	if err != nil {
		return domain.WrapPersistence(err)
	}
	s.metrics.RecordEvent(domain.TimelineOrderDeleted)
	s.logger.WithField("order_id", orderID).Info("order deleted")
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > DefaultListLimit {
		return DefaultListLimit
	}
	return limit
}
