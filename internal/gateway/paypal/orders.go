package paypal

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Money описывает сумму в формате PayPal.
type Money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

func newMoney(amount decimal.Decimal, currency string) Money {
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	return Money{CurrencyCode: currency, Value: amount.StringFixed(2)}
}

// Decimal разбирает значение суммы. Пустое значение даёт ноль.
func (m Money) Decimal() (decimal.Decimal, error) {
	if m.Value == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(m.Value)
}

// Capture содержит запись о списании внутри заказа.
type Capture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount *Money `json:"amount,omitempty"`
}

type Payments struct {
	Captures []Capture `json:"captures"`
}

// PurchaseUnit — единица покупки заказа.
type PurchaseUnit struct {
	Amount   *Money    `json:"amount,omitempty"`
	Payments *Payments `json:"payments,omitempty"`
}

type Payer struct {
	PayerID      string `json:"payer_id"`
	EmailAddress string `json:"email_address"`
}

// Order — заказ PayPal в ответах create/capture/get.
type Order struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	Payer         *Payer         `json:"payer,omitempty"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units"`
}

// Refund описывает ответ на возврат capture.
type Refund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount *Money `json:"amount,omitempty"`
}

type createOrderRequest struct {
	Intent        string         `json:"intent"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units"`
}

type refundRequest struct {
	Amount Money `json:"amount"`
}

// CreateOrder создаёт заказ с intent CAPTURE.
func (c *Client) CreateOrder(ctx context.Context, amount decimal.Decimal, currency string) (Order, error) {
	money := newMoney(amount, currency)
	var order Order
	err := c.doJSON(ctx, "POST", "/v2/checkout/orders", createOrderRequest{
		Intent:        "CAPTURE",
		PurchaseUnits: []PurchaseUnit{{Amount: &money}},
	}, &order)
	if err != nil {
		return Order{}, err
	}
	if order.ID == "" {
		return Order{}, errors.New("paypal returned order without id")
	}
	return order, nil
}

// CaptureOrder выполняет capture заказа.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (Order, error) {
	var order Order
	err := c.doJSON(ctx, "POST", "/v2/checkout/orders/"+url.PathEscape(orderID)+"/capture", struct{}{}, &order)
	return order, err
}

// OrderDetails возвращает заказ вместе с уже выполненными capture.
func (c *Client) OrderDetails(ctx context.Context, orderID string) (Order, error) {
	var order Order
	err := c.doJSON(ctx, "GET", "/v2/checkout/orders/"+url.PathEscape(orderID), nil, &order)
	return order, err
}

// RefundCaptureRaw возвращает деньги по capture без преобразования ошибок.
func (c *Client) RefundCaptureRaw(ctx context.Context, captureID string, amount decimal.Decimal, currency string) (Refund, error) {
	var refund Refund
	err := c.doJSON(ctx, "POST", "/v2/payments/captures/"+url.PathEscape(captureID)+"/refund",
		refundRequest{Amount: newMoney(amount, currency)}, &refund)
	return refund, err
}

// CreatePaymentIntent реализует domain.PaymentGateway.
func (c *Client) CreatePaymentIntent(ctx context.Context, amount decimal.Decimal, currency string) (string, error) {
	order, err := c.CreateOrder(ctx, amount, currency)
	if err != nil {
		return "", fmt.Errorf("%w: create order: %v", domain.ErrGatewayError, err)
	}
	return order.ID, nil
}

// CapturePayment реализует domain.PaymentGateway. Статус, отличный от COMPLETED, не считается ошибкой.
func (c *Client) CapturePayment(ctx context.Context, gatewayOrderID string) (domain.CaptureResult, error) {
	order, err := c.CaptureOrder(ctx, gatewayOrderID)
	if err != nil {
		return domain.CaptureResult{}, fmt.Errorf("%w: capture order %s: %v", domain.ErrGatewayError, gatewayOrderID, err)
	}

	result := domain.CaptureResult{
		GatewayOrderID: order.ID,
		Status:         order.Status,
		Currency:       PaymentCurrency(order),
	}
	if result.GatewayOrderID == "" {
		result.GatewayOrderID = gatewayOrderID
	}
	if order.Payer != nil {
		result.PayerID = order.Payer.PayerID
		result.PayerEmail = order.Payer.EmailAddress
	}

	capture, err := ExtractCapture(order)
	if err != nil {
		c.logger.WithFields(log.Fields{
			"gateway_order_id": result.GatewayOrderID,
			"status":           order.Status,
		}).WithError(err).Warn("capture id missing in paypal response")
		return result, nil
	}
	result.CaptureID = capture.ID
	if capture.Amount != nil {
		if amount, err := capture.Amount.Decimal(); err == nil {
			result.Amount = amount
		}
		if capture.Amount.CurrencyCode != "" {
			result.Currency = capture.Amount.CurrencyCode
		}
	}
	return result, nil
}

// RefundCapture реализует domain.PaymentGateway: отказ PayPal (не 2xx) возвращается как Success=false.
func (c *Client) RefundCapture(ctx context.Context, captureID string, amount decimal.Decimal, currency string) (domain.RefundResult, error) {
	refund, err := c.RefundCaptureRaw(ctx, captureID, amount, currency)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode != 401 && apiErr.StatusCode < 500 {
			return domain.RefundResult{Success: false, Status: apiErr.Name, Error: apiErr.Error()}, nil
		}
		return domain.RefundResult{}, fmt.Errorf("%w: refund capture %s: %v", domain.ErrGatewayError, captureID, err)
	}
	return domain.RefundResult{Success: true, RefundID: refund.ID, Status: refund.Status}, nil
}

var _ domain.PaymentGateway = (*Client)(nil)
