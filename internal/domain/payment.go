package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// GatewayProvider — внешний платёжный провайдер.
type GatewayProvider string

const (
	// GatewayPayPal — оплата через PayPal с последующим capture.
	GatewayPayPal GatewayProvider = "PayPal"
	// GatewayQR — банковский перевод по QR-коду (NETS).
	GatewayQR GatewayProvider = "QR"
)

// CaptureStatusCompleted — единственный успешный статус capture.
const CaptureStatusCompleted = "COMPLETED"

// DefaultCurrency используется, если валюта платежа не указана.
const DefaultCurrency = "SGD"

// PaymentMethod — закрытый набор способов оплаты. Реализации есть только в этом пакете.
type PaymentMethod interface {
	// Name возвращает значение, которое сохраняется в заказе.
	Name() string
	paymentMethod()
}

// WalletPayment — оплата целиком с кошелька, без монет и ваучеров.
type WalletPayment struct{}

// CoinsAndVoucherPayment — оплата с учётом монет и ваучера.
type CoinsAndVoucherPayment struct{}

// ExternalGatewayPayment — оплата через внешний шлюз; монеты и ваучер тоже учитываются.
type ExternalGatewayPayment struct {
	Provider GatewayProvider
}

func (WalletPayment) Name() string          { return "Wallet" }
func (CoinsAndVoucherPayment) Name() string { return "Coins+Voucher" }
func (p ExternalGatewayPayment) Name() string {
	return string(p.Provider)
}

func (WalletPayment) paymentMethod()          {}
func (CoinsAndVoucherPayment) paymentMethod() {}
func (ExternalGatewayPayment) paymentMethod() {}

// ParsePaymentMethod разбирает способ оплаты из запроса.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "wallet":
		return WalletPayment{}, nil
	case "coins+voucher", "coinsandvoucher", "coins", "voucher":
		return CoinsAndVoucherPayment{}, nil
	case "paypal":
		return ExternalGatewayPayment{Provider: GatewayPayPal}, nil
	case "qr", "nets":
		return ExternalGatewayPayment{Provider: GatewayQR}, nil
	default:
		return nil, ErrUnsupportedPaymentMethod
	}
}

// CaptureResult описывает результат capture во внешнем шлюзе.
type CaptureResult struct {
	GatewayOrderID string
	Status         string
	CaptureID      string
	PayerID        string
	PayerEmail     string
	Amount         decimal.Decimal
	Currency       string
}

// Completed сообщает об успешном списании.
func (r CaptureResult) Completed() bool {
	return r.Status == CaptureStatusCompleted
}

// RefundResult описывает результат возврата. Success=false означает штатный отказ, а не сбой вызова.
type RefundResult struct {
	Success  bool
	RefundID string
	Status   string
	Error    string
}

// Transaction связывает заказ с внешним платежом.
type Transaction struct {
	ID              string
	OrderID         string
	PayerID         string
	PayerEmail      string
	Amount          decimal.Decimal
	Currency        string
	GatewayStatus   string
	GatewayOrderID  string
	CaptureID       string
	PaymentCurrency string
	CreatedAt       time.Time
}

// HasCapture проверяет, что по транзакции можно делать возврат.
func (t Transaction) HasCapture() bool {
	id := strings.TrimSpace(t.CaptureID)
	return id != "" && !strings.EqualFold(id, "N/A")
}

// RefundCurrency выбирает валюту возврата: валюта платежа, затем валюта транзакции, затем SGD.
func (t Transaction) RefundCurrency() string {
	switch {
	case t.PaymentCurrency != "":
		return t.PaymentCurrency
	case t.Currency != "":
		return t.Currency
	default:
		return DefaultCurrency
	}
}
