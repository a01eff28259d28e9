package paypal

import (
	"errors"
	"strings"
)

// Причины, по которым из ответа PayPal не удаётся достать capture.
var (
	ErrNoPurchaseUnits = errors.New("paypal order has no purchase units")
	ErrNoPayments      = errors.New("paypal purchase unit has no payments")
	ErrNoCaptures      = errors.New("paypal payments have no captures")
	ErrEmptyCaptureID  = errors.New("paypal capture has empty id")
)

// ExtractCapture возвращает первый capture первой единицы покупки.
func ExtractCapture(order Order) (Capture, error) {
	if len(order.PurchaseUnits) == 0 {
		return Capture{}, ErrNoPurchaseUnits
	}
	unit := order.PurchaseUnits[0]
	if unit.Payments == nil {
		return Capture{}, ErrNoPayments
	}
	if len(unit.Payments.Captures) == 0 {
		return Capture{}, ErrNoCaptures
	}
	capture := unit.Payments.Captures[0]
	if strings.TrimSpace(capture.ID) == "" {
		return Capture{}, ErrEmptyCaptureID
	}
	return capture, nil
}

// PaymentCurrency возвращает валюту заказа: из суммы единицы покупки, иначе из capture.
func PaymentCurrency(order Order) string {
	if len(order.PurchaseUnits) == 0 {
		return ""
	}
	unit := order.PurchaseUnits[0]
	if unit.Amount != nil && unit.Amount.CurrencyCode != "" {
		return unit.Amount.CurrencyCode
	}
	if capture, err := ExtractCapture(order); err == nil && capture.Amount != nil {
		return capture.Amount.CurrencyCode
	}
	return ""
}
