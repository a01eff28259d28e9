// Package settlement оформляет заказ из корзины: расчёт, списания и запись заказа в одной единице работы.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/pricing"
	"github.com/vladislavdragonenkov/storefront/internal/service/journal"
)

// Request содержит входные данные оформления.
type Request struct {
	UserID     string
	Cart       *cart.Cart
	Method     domain.PaymentMethod
	CoinsToUse int64
	VoucherID  string
	// ClientVoucherDiscount только сверяется с расчётом и попадает в лог при расхождении.
	ClientVoucherDiscount *decimal.Decimal
	// GatewayOrderID — заказ PayPal, который нужно списать в CapturePayPal.
	GatewayOrderID string
	// Capture — результат списания во внешнем шлюзе; обязателен для PayPal.
	Capture *domain.CaptureResult
	// PaymentReference хранит референс перевода для QR.
	PaymentReference string
}

// Result — итог оформленного заказа.
type Result struct {
	OrderID         string          `json:"orderId"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	PointsEarned    int64           `json:"pointsEarned"`
	CoinDiscount    decimal.Decimal `json:"coinDiscount"`
	VoucherDiscount decimal.Decimal `json:"voucherDiscount"`
	WalletCharged   decimal.Decimal `json:"walletCharged"`
	PaymentMethod   string          `json:"paymentMethod"`
	GatewayOrderID  string          `json:"gatewayOrderId,omitempty"`
	CaptureID       string          `json:"captureId,omitempty"`
	Quote           pricing.Quote   `json:"quote"`
}

// PrepareRequest — данные для создания заказа в PayPal до подтверждения покупателем.
type PrepareRequest struct {
	UserID     string
	Cart       *cart.Cart
	CoinsToUse int64
	VoucherID  string
	Currency   string
}

// Prepared связывает созданный заказ шлюза с расчётом, на который он выставлен.
// Amount указан в Currency; для валюты магазина он равен Quote.TotalAmount.
type Prepared struct {
	GatewayOrderID string          `json:"gatewayOrderId"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Quote          pricing.Quote   `json:"quote"`
}

// Converter пересчитывает сумму в валюте магазина в валюту платежа.
type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, currency string) (decimal.Decimal, error)
}

// fxTolerance — допустимое расхождение пересчитанной суммы из-за движения курса между заказом и capture.
var fxTolerance = decimal.RequireFromString("0.02")

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

// WithMetrics задаёт метрики; nil отключает их.
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

// WithCartStore включает удаление сохранённой корзины после оформления.
func WithCartStore(store cart.Store) Option {
	return func(s *Service) { s.carts = store }
}

// WithConverter разрешает оплату PayPal в валютах, отличных от валюты магазина.
func WithConverter(c Converter) Option {
	return func(s *Service) { s.fx = c }
}

// WithIDGenerator подменяет генератор идентификаторов.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// Service оформляет заказы.
type Service struct {
	storage domain.Storage
	gateway domain.PaymentGateway
	engine  pricing.Engine
	carts   cart.Store
	fx      Converter
	logger  *log.Entry
	metrics *metrics.CheckoutMetrics
	now     func() time.Time
	newID   func() string
}

// NewService создаёт сервис оформления.
func NewService(storage domain.Storage, gateway domain.PaymentGateway, engine pricing.Engine, opts ...Option) *Service {
	s := &Service{
		storage: storage,
		gateway: gateway,
		engine:  engine,
		logger:  log.New().WithField("component", "settlement"),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Checkout оформляет заказ. Либо фиксируются все записи (заказ, позиции, остатки, балансы,
// ваучер, события), либо ни одна. Для PayPal ошибка записи транзакции после фиксации
// возвращается вместе с результатом как *ReconciliationError.
func (s *Service) Checkout(ctx context.Context, req Request) (Result, error) {
	finish := s.metrics.CheckoutStarted(methodLabel(req.Method))

	result, err := s.checkout(ctx, req)
	var recErr *ReconciliationError
	switch {
	case err == nil, errors.As(err, &recErr):
		finish(metrics.ResultSuccess, result.TotalAmount.InexactFloat64())
	default:
		finish(metrics.ResultFailure, 0)
	}
	return result, err
}

// PreparePayPal считает итог и создаёт заказ в PayPal на эту сумму. Ничего не сохраняет.
func (s *Service) PreparePayPal(ctx context.Context, req PrepareRequest) (Prepared, error) {
	if err := validateBuyer(req.UserID, req.Cart); err != nil {
		return Prepared{}, err
	}
	method := domain.ExternalGatewayPayment{Provider: domain.GatewayPayPal}
	quote, _, err := s.quote(ctx, req.UserID, req.Cart, method, req.CoinsToUse, req.VoucherID)
	if err != nil {
		return Prepared{}, err
	}

	currency := normalizeCurrency(req.Currency)
	amount, err := s.chargeAmount(ctx, "", quote.TotalAmount, currency)
	if err != nil {
		return Prepared{}, err
	}
	gatewayOrderID, err := s.gateway.CreatePaymentIntent(ctx, amount, currency)
	if err != nil {
		return Prepared{}, domain.NewGatewayError("", err)
	}

	s.logger.WithFields(log.Fields{
		"user_id":          req.UserID,
		"gateway_order_id": gatewayOrderID,
		"amount":           amount.StringFixed(2),
		"currency":         currency,
	}).Info("paypal order created")
	return Prepared{GatewayOrderID: gatewayOrderID, Amount: amount, Currency: currency, Quote: quote}, nil
}

// CapturePayPal списывает деньги по заказу PayPal и оформляет заказ магазина.
// Если после успешного capture заказ не записан, деньги возвращаются через шлюз,
// а ошибка приходит как *UnsettledCaptureError.
func (s *Service) CapturePayPal(ctx context.Context, req Request) (Result, error) {
	if err := validateBuyer(req.UserID, req.Cart); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(req.GatewayOrderID) == "" {
		return Result{}, fmt.Errorf("%w: gateway order id is required", domain.ErrGatewayDeclined)
	}
	method := domain.ExternalGatewayPayment{Provider: domain.GatewayPayPal}
	if _, _, err := s.quote(ctx, req.UserID, req.Cart, method, req.CoinsToUse, req.VoucherID); err != nil {
		return Result{}, err
	}

	capture, err := s.gateway.CapturePayment(ctx, req.GatewayOrderID)
	if err != nil {
		return Result{}, domain.NewGatewayError(req.GatewayOrderID, err)
	}
	if capture.GatewayOrderID == "" {
		capture.GatewayOrderID = req.GatewayOrderID
	}

	req.Method = method
	req.Capture = &capture
	result, err := s.Checkout(ctx, req)
	var recErr *ReconciliationError
	if err == nil || !capture.Completed() || errors.As(err, &recErr) {
		return result, err
	}
	return Result{}, s.reverseCapture(ctx, capture, err)
}

// reverseCapture возвращает деньги по capture, для которого не удалось записать заказ.
func (s *Service) reverseCapture(ctx context.Context, capture domain.CaptureResult, cause error) error {
	unsettled := &UnsettledCaptureError{
		GatewayOrderID: capture.GatewayOrderID,
		CaptureID:      capture.CaptureID,
		Amount:         capture.Amount,
		Currency:       normalizeCurrency(capture.Currency),
		Err:            cause,
	}
	logger := s.logger.WithError(cause).WithFields(log.Fields{
		"gateway_order_id": capture.GatewayOrderID,
		"capture_id":       capture.CaptureID,
		"amount":           capture.Amount.StringFixed(2),
		"currency":         unsettled.Currency,
	})

	switch {
	case capture.CaptureID == "":
		unsettled.RefundErr = errors.New("capture id is missing")
	case !capture.Amount.IsPositive():
		unsettled.RefundErr = errors.New("captured amount is unknown")
	default:
		refund, err := s.gateway.RefundCapture(context.WithoutCancel(ctx), capture.CaptureID, capture.Amount, unsettled.Currency)
		switch {
		case err != nil:
			unsettled.RefundErr = domain.NewGatewayError(capture.GatewayOrderID, err)
		case !refund.Success:
			unsettled.RefundErr = fmt.Errorf("%w: %s %s", domain.ErrGatewayDeclined, refund.Status, refund.Error)
		default:
			unsettled.RefundID = refund.RefundID
		}
	}

	if unsettled.RefundErr != nil {
		s.metrics.RecordReconciliationRequired()
		logger.WithField("refund_error", unsettled.RefundErr.Error()).Error("payment captured, order not recorded and refund failed")
		return unsettled
	}
	logger.WithField("refund_id", unsettled.RefundID).Warn("payment captured but order not recorded, capture refunded")
	return unsettled
}

// chargeAmount пересчитывает итог заказа в валюту платежа.
func (s *Service) chargeAmount(ctx context.Context, gatewayOrderID string, total decimal.Decimal, currency string) (decimal.Decimal, error) {
	if currency == domain.DefaultCurrency {
		return total, nil
	}
	if s.fx == nil {
		return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrCurrencyUnsupported, currency)
	}
	converted, err := s.fx.Convert(ctx, total, currency)
	if err != nil {
		return decimal.Zero, domain.NewGatewayError(gatewayOrderID, fmt.Errorf("convert %s to %s: %w", total.StringFixed(2), currency, err))
	}
	return converted.Round(2), nil
}

// verifyCapture сверяет списанную сумму с итогом заказа. В валюте магазина суммы должны совпасть
// до цента; в другой валюте расхождение с пересчётом ограничено fxTolerance.
func (s *Service) verifyCapture(ctx context.Context, capture domain.CaptureResult, total decimal.Decimal) error {
	currency := normalizeCurrency(capture.Currency)
	expected, err := s.chargeAmount(ctx, capture.GatewayOrderID, total, currency)
	if err != nil {
		return err
	}

	matches := capture.Amount.Equal(expected)
	if currency != domain.DefaultCurrency {
		matches = capture.Amount.Sub(expected).Abs().LessThanOrEqual(expected.Mul(fxTolerance))
	}
	if !matches {
		return fmt.Errorf("%w: captured %s %s, expected %s %s", domain.ErrCaptureAmountMismatch,
			capture.Amount.StringFixed(2), currency, expected.StringFixed(2), currency)
	}
	return nil
}

func normalizeCurrency(currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return domain.DefaultCurrency
	}
	return currency
}

// ConfirmQR оформляет заказ, оплаченный переводом по QR. Запись транзакции не создаётся.
func (s *Service) ConfirmQR(ctx context.Context, req Request) (Result, error) {
	req.Method = domain.ExternalGatewayPayment{Provider: domain.GatewayQR}
	req.Capture = nil
	return s.Checkout(ctx, req)
}

func (s *Service) checkout(ctx context.Context, req Request) (Result, error) {
	if err := validateBuyer(req.UserID, req.Cart); err != nil {
		return Result{}, err
	}
	if req.Method == nil {
		return Result{}, fmt.Errorf("%w: payment method is required", domain.ErrUnsupportedPaymentMethod)
	}

	logger := s.logger.WithFields(log.Fields{
		"user_id":        req.UserID,
		"payment_method": req.Method.Name(),
	})

	capture, err := requireCapture(req)
	if err != nil {
		logger.WithError(err).Warn("checkout rejected by gateway status")
		return Result{}, err
	}

	quote, voucher, err := s.quote(ctx, req.UserID, req.Cart, req.Method, req.CoinsToUse, req.VoucherID)
	if err != nil {
		return Result{}, err
	}
	if req.ClientVoucherDiscount != nil && !req.ClientVoucherDiscount.Equal(quote.VoucherDiscount) {
		logger.WithFields(log.Fields{
			"client_discount":   req.ClientVoucherDiscount.StringFixed(2),
			"computed_discount": quote.VoucherDiscount.StringFixed(2),
		}).Warn("client voucher discount differs from computed")
	}
	if capture != nil {
		if err := s.verifyCapture(ctx, *capture, quote.TotalAmount); err != nil {
			logger.WithError(err).WithField("gateway_order_id", capture.GatewayOrderID).Warn("capture does not cover order total")
			return Result{}, err
		}
	}

	now := s.now()
	order := buildOrder(s.newID(), req, quote, now)
	logger = logger.WithField("order_id", order.ID)

	err = s.storage.WithinTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		if err := tx.Orders.Create(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		for _, item := range order.Items {
			if err := tx.Products.DecrementStock(ctx, item.ProductID, item.Quantity); err != nil {
				return fmt.Errorf("decrement stock of %s: %w", item.ProductID, err)
			}
		}
		if change := quote.BalanceChange(); !change.IsZero() {
			if err := tx.Users.ApplyBalanceChange(ctx, req.UserID, change); err != nil {
				return fmt.Errorf("apply balance change: %w", err)
			}
		}
		if voucher != nil {
			if err := tx.Vouchers.MarkUsed(ctx, voucher.ID, req.UserID, now); err != nil {
				return fmt.Errorf("claim voucher %s: %w", voucher.ID, err)
			}
		}
		return journal.Record(ctx, tx, journal.Event{
			OrderID:  order.ID,
			UserID:   order.UserID,
			Type:     domain.TimelineOrderCreated,
			Status:   order.Status,
			Occurred: now,
			Data:     createdEventData(order, quote, req),
		})
	})
	if err != nil {
		err = domain.WrapPersistence(err)
		logger.WithError(err).Warn("checkout rolled back")
		return Result{}, err
	}
	s.metrics.RecordEvent(domain.TimelineOrderCreated)

	result := Result{
		OrderID:         order.ID,
		TotalAmount:     quote.TotalAmount,
		PointsEarned:    quote.PointsEarned,
		CoinDiscount:    quote.CoinDiscount,
		VoucherDiscount: quote.VoucherDiscount,
		WalletCharged:   quote.WalletAmountCharged,
		PaymentMethod:   order.PaymentMethod,
		Quote:           quote,
	}
	if capture != nil {
		result.GatewayOrderID = capture.GatewayOrderID
		result.CaptureID = capture.CaptureID
	}

	s.clearCart(ctx, logger, req)

	if capture != nil {
		if err := s.linkPayment(ctx, order, *capture); err != nil {
			s.metrics.RecordReconciliationRequired()
			logger.WithError(err).WithFields(log.Fields{
				"gateway_order_id": capture.GatewayOrderID,
				"capture_id":       capture.CaptureID,
			}).Error("payment captured but transaction record not stored")
			return result, &ReconciliationError{
				OrderID:        order.ID,
				GatewayOrderID: capture.GatewayOrderID,
				CaptureID:      capture.CaptureID,
				Err:            err,
			}
		}
	}

	logger.WithField("total", quote.TotalAmount.StringFixed(2)).Info("order settled")
	return result, nil
}

func (s *Service) quote(
	ctx context.Context,
	userID string,
	c *cart.Cart,
	method domain.PaymentMethod,
	coinsToUse int64,
	voucherID string,
) (pricing.Quote, *domain.Voucher, error) {
	repos := s.storage.Repositories()

	balances, err := repos.Users.Get(ctx, userID)
	if err != nil {
		return pricing.Quote{}, nil, domain.WrapPersistence(fmt.Errorf("load balances: %w", err))
	}

	var voucher *domain.Voucher
	if _, wallet := method.(domain.WalletPayment); !wallet && strings.TrimSpace(voucherID) != "" {
		v, err := repos.Vouchers.Get(ctx, voucherID)
		switch {
		case errors.Is(err, domain.ErrVoucherNotFound):
			return pricing.Quote{}, nil, fmt.Errorf("%w: voucher %s not found", domain.ErrVoucherInvalid, voucherID)
		case err != nil:
			return pricing.Quote{}, nil, domain.WrapPersistence(fmt.Errorf("load voucher: %w", err))
		}
		if err := v.ValidateFor(userID, s.now()); err != nil {
			return pricing.Quote{}, nil, err
		}
		voucher = &v
	}

	quote, err := s.engine.Quote(pricing.Input{
		Subtotal:   c.TotalPrice(),
		Method:     method,
		CoinsToUse: coinsToUse,
		Voucher:    voucher,
		Balances:   balances,
	})
	if err != nil {
		return pricing.Quote{}, nil, err
	}
	return quote, voucher, nil
}

func (s *Service) linkPayment(ctx context.Context, order domain.Order, capture domain.CaptureResult) error {
	if capture.CaptureID == "" {
		s.logger.WithFields(log.Fields{
			"order_id":         order.ID,
			"gateway_order_id": capture.GatewayOrderID,
		}).Warn("capture id missing, refunds will need manual handling")
	}

	amount := capture.Amount
	if !amount.IsPositive() {
		amount = order.TotalAmount
	}
	currency := normalizeCurrency(capture.Currency)
	now := s.now()

	err := s.storage.WithinTx(ctx, func(ctx context.Context, tx domain.Repositories) error {
		if err := tx.Transactions.Create(ctx, domain.Transaction{
			ID:              s.newID(),
			OrderID:         order.ID,
			PayerID:         capture.PayerID,
			PayerEmail:      capture.PayerEmail,
			Amount:          amount,
			Currency:        domain.DefaultCurrency,
			GatewayStatus:   capture.Status,
			GatewayOrderID:  capture.GatewayOrderID,
			CaptureID:       capture.CaptureID,
			PaymentCurrency: currency,
			CreatedAt:       now,
		}); err != nil {
			return fmt.Errorf("create transaction: %w", err)
		}
		return journal.Record(ctx, tx, journal.Event{
			OrderID:  order.ID,
			UserID:   order.UserID,
			Type:     domain.TimelinePaymentLinked,
			Occurred: now,
			Data: map[string]any{
				"gateway_order_id": capture.GatewayOrderID,
				"capture_id":       capture.CaptureID,
				"amount":           amount.StringFixed(2),
				"currency":         currency,
			},
		})
	})
	if err != nil {
		return domain.WrapPersistence(err)
	}
	s.metrics.RecordEvent(domain.TimelinePaymentLinked)
	return nil
}

func (s *Service) clearCart(ctx context.Context, logger *log.Entry, req Request) {
	req.Cart.Clear()
	if s.carts == nil {
		return
	}
	if err := s.carts.Delete(ctx, req.UserID); err != nil {
		logger.WithError(err).Warn("failed to clear cart after checkout")
	}
}

func validateBuyer(userID string, c *cart.Cart) error {
	if strings.TrimSpace(userID) == "" {
		return domain.ErrUnauthenticated
	}
	if c.IsEmpty() {
		return domain.ErrEmptyCart
	}
	return nil
}

// requireCapture проверяет результат списания для PayPal. Другие способы оплаты его не требуют.
func requireCapture(req Request) (*domain.CaptureResult, error) {
	gw, ok := req.Method.(domain.ExternalGatewayPayment)
	if !ok || gw.Provider != domain.GatewayPayPal {
		return nil, nil
	}
	if req.Capture == nil {
		return nil, &domain.GatewayFailureError{GatewayOrderID: req.GatewayOrderID, Err: domain.ErrGatewayDeclined}
	}
	if !req.Capture.Completed() {
		return nil, &domain.GatewayFailureError{
			GatewayOrderID: req.Capture.GatewayOrderID,
			Status:         req.Capture.Status,
			Err:            domain.ErrGatewayDeclined,
		}
	}
	capture := *req.Capture
	return &capture, nil
}

func buildOrder(id string, req Request, quote pricing.Quote, now time.Time) domain.Order {
	lines := req.Cart.Items()
	items := make([]domain.OrderItem, 0, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		items = append(items, domain.OrderItem{
			OrderID:   id,
			ProductID: line.ProductID,
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}
	return domain.Order{
		ID:            id,
		UserID:        req.UserID,
		TotalAmount:   quote.TotalAmount,
		Status:        domain.OrderStatusPending,
		PaymentMethod: req.Method.Name(),
		Items:         items,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func createdEventData(order domain.Order, quote pricing.Quote, req Request) map[string]any {
	data := map[string]any{
		"total_amount":   quote.TotalAmount.StringFixed(2),
		"payment_method": order.PaymentMethod,
		"items":          len(order.Items),
		"points_earned":  quote.PointsEarned,
	}
	if quote.CoinsRedeemed > 0 {
		data["coins_redeemed"] = quote.CoinsRedeemed
	}
	if quote.VoucherID != "" {
		data["voucher_id"] = quote.VoucherID
		data["voucher_discount"] = quote.VoucherDiscount.StringFixed(2)
	}
	if req.PaymentReference != "" {
		data["payment_reference"] = req.PaymentReference
	}
	return data
}

func methodLabel(method domain.PaymentMethod) string {
	if method == nil {
		return "unknown"
	}
	return method.Name()
}
