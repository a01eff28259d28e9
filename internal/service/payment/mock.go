package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// MockGateway — конфигурируемая заглушка платёжного шлюза для локального запуска и тестов.
type MockGateway struct {
	mu sync.Mutex

	CreateErr     error
	CaptureStatus string
	CaptureErr    error
	PayerEmail    string
	RefundResult  domain.RefundResult
	RefundErr     error

	CreateCalls  int
	CaptureCalls int
	RefundCalls  int

	// LastRefund хранит аргументы последнего возврата.
	LastRefund RefundCall

	intents map[string]intent
}

type intent struct {
	amount   decimal.Decimal
	currency string
}

// RefundCall — аргументы вызова RefundCapture.
type RefundCall struct {
	CaptureID string
	Amount    decimal.Decimal
	Currency  string
}

// NewMockGateway возвращает mock с успешным сценарием по умолчанию.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		CaptureStatus: domain.CaptureStatusCompleted,
		PayerEmail:    "buyer@example.com",
		RefundResult:  domain.RefundResult{Success: true, Status: "COMPLETED"},
		intents:       make(map[string]intent),
	}
}

// CreatePaymentIntent запоминает сумму и возвращает сгенерированный id заказа шлюза.
func (m *MockGateway) CreatePaymentIntent(_ context.Context, amount decimal.Decimal, currency string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreateCalls++
	if m.CreateErr != nil {
		return "", m.CreateErr
	}
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	id := "MOCK-" + uuid.NewString()
	m.intents[id] = intent{amount: amount, currency: currency}
	return id, nil
}

// CapturePayment возвращает настроенный статус. Для неизвестного id сумма нулевая.
func (m *MockGateway) CapturePayment(_ context.Context, gatewayOrderID string) (domain.CaptureResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CaptureCalls++
	if m.CaptureErr != nil {
		return domain.CaptureResult{}, m.CaptureErr
	}

	in := m.intents[gatewayOrderID]
	result := domain.CaptureResult{
		GatewayOrderID: gatewayOrderID,
		Status:         m.CaptureStatus,
		PayerID:        "MOCKPAYER",
		PayerEmail:     m.PayerEmail,
		Amount:         in.amount,
		Currency:       in.currency,
	}
	if result.Completed() {
		result.CaptureID = fmt.Sprintf("CAP-%d", m.CaptureCalls)
	}
	return result, nil
}

// RefundCapture возвращает настроенный результат и считает вызовы.
func (m *MockGateway) RefundCapture(_ context.Context, captureID string, amount decimal.Decimal, currency string) (domain.RefundResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RefundCalls++
	m.LastRefund = RefundCall{CaptureID: captureID, Amount: amount, Currency: currency}
	if m.RefundErr != nil {
		return domain.RefundResult{}, m.RefundErr
	}
	result := m.RefundResult
	if result.Success && result.RefundID == "" {
		result.RefundID = "REF-" + captureID
	}
	return result, nil
}

// Refunded возвращает аргументы последнего возврата под блокировкой.
func (m *MockGateway) Refunded() RefundCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LastRefund
}

// Calls возвращает счётчики вызовов под блокировкой.
func (m *MockGateway) Calls() (create, capture, refund int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CreateCalls, m.CaptureCalls, m.RefundCalls
}

var _ domain.PaymentGateway = (*MockGateway)(nil)
