package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/settlement"
	"github.com/vladislavdragonenkov/storefront/internal/service/voucher"
)

// errorResponse — тело ответа с ошибкой.
type errorResponse struct {
	Error          string `json:"error"`
	RequestID      string `json:"requestId,omitempty"`
	GatewayOrderID string `json:"gatewayOrderId,omitempty"`
	CaptureID      string `json:"captureId,omitempty"`
	OrderID        string `json:"orderId,omitempty"`
	Refunded       bool   `json:"refunded,omitempty"`
	Reconciliation bool   `json:"reconciliationRequired,omitempty"`
}

// errValidation — некорректное тело или параметры запроса.
var errValidation = errors.New("invalid request")

var notFoundErrors = []error{
	domain.ErrOrderNotFound, domain.ErrProductNotFound, domain.ErrUserNotFound,
	domain.ErrVoucherNotFound, domain.ErrTransactionNotFound, cart.ErrLineNotFound,
}

var unprocessableErrors = []error{
	domain.ErrEmptyCart, domain.ErrInsufficientFunds, domain.ErrInsufficientStock,
	domain.ErrInsufficientCoinBalance, domain.ErrVoucherInvalid, domain.ErrRefundReasonRequired,
	domain.ErrUnknownOrderStatus, domain.ErrUnsupportedPaymentMethod, domain.ErrInvalidCoins,
	domain.ErrInvalidPoints, domain.ErrInsufficientPoints, domain.ErrInvalidAmount,
	domain.ErrVoucherCodeRequired, domain.ErrVoucherExpiryRequired, domain.ErrVoucherDiscountInvalid,
	domain.ErrVoucherCodeExists, cart.ErrInvalidQuantity, voucher.ErrNoRecipients, errValidation,
	domain.ErrIdempotencyKeyRequired, domain.ErrIdempotencyKeyInvalid, domain.ErrCurrencyUnsupported,
}

// statusFor сопоставляет ошибку с HTTP-статусом.
func statusFor(err error) int {
	var unsettled *settlement.UnsettledCaptureError
	if errors.As(err, &unsettled) && !unsettled.Refunded() {
		return http.StatusInternalServerError
	}
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrCaptureAmountMismatch),
		domain.IsIdempotencyConflict(err):
		return http.StatusConflict
	case errors.Is(err, domain.ErrGatewayDeclined):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrGatewayError):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusInternalServerError
	}
	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			return http.StatusNotFound
		}
	}
	for _, target := range unprocessableErrors {
		if errors.Is(err, target) {
			return http.StatusUnprocessableEntity
		}
	}
	return http.StatusInternalServerError
}

// writeError пишет ответ с ошибкой. Детали сбоев инфраструктуры клиенту не отдаются.
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	resp := errorResponse{
		Error:          err.Error(),
		RequestID:      c.GetString(requestIDKey),
		GatewayOrderID: settlement.GatewayOrderID(err),
		CaptureID:      settlement.CaptureID(err),
	}

	var (
		recErr    *settlement.ReconciliationError
		unsettled *settlement.UnsettledCaptureError
	)
	switch {
	case errors.As(err, &recErr):
		resp.OrderID = recErr.OrderID
		resp.Reconciliation = true
		resp.Error = "payment captured, order requires reconciliation"
	case errors.As(err, &unsettled) && !unsettled.Refunded():
		resp.Reconciliation = true
		resp.Error = "payment captured but order not recorded, refund requires reconciliation"
	case errors.As(err, &unsettled):
		resp.Refunded = true
		if status == http.StatusInternalServerError {
			resp.Error = "order not recorded, payment refunded"
		} else {
			resp.Error = "order not recorded, payment refunded: " + unsettled.Err.Error()
		}
	case status == http.StatusInternalServerError:
		resp.Error = "internal error"
	}

	entry := loggerFrom(c).WithError(err).WithField("status", status)
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}
	c.AbortWithStatusJSON(status, resp)
}

func loggerFrom(c *gin.Context) *log.Entry {
	if v, ok := c.Get(loggerKey); ok {
		if entry, ok := v.(*log.Entry); ok {
			return entry
		}
	}
	return log.NewEntry(log.StandardLogger())
}
