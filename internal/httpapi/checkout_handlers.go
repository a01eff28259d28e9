package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/settlement"
)

type checkoutRequest struct {
	PaymentMethod   string           `json:"paymentMethod" binding:"required"`
	CoinsToUse      int64            `json:"coinsToUse"`
	VoucherID       string           `json:"voucherId"`
	VoucherDiscount *decimal.Decimal `json:"voucherDiscount"`
}

type paypalOrderRequest struct {
	CoinsToUse int64  `json:"coinsToUse"`
	VoucherID  string `json:"voucherId"`
	Currency   string `json:"currency"`
}

type captureRequest struct {
	CoinsToUse      int64            `json:"coinsToUse"`
	VoucherID       string           `json:"voucherId"`
	VoucherDiscount *decimal.Decimal `json:"voucherDiscount"`
}

type qrConfirmRequest struct {
	CoinsToUse      int64            `json:"coinsToUse"`
	VoucherID       string           `json:"voucherId"`
	VoucherDiscount *decimal.Decimal `json:"voucherDiscount"`
	Reference       string           `json:"reference"`
}

func (h *api) checkout(c *gin.Context) {
	var req checkoutRequest
	if !bindJSON(c, &req) {
		return
	}
	method, err := domain.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		writeError(c, fmt.Errorf("%w: %q", err, req.PaymentMethod))
		return
	}
	if gw, ok := method.(domain.ExternalGatewayPayment); ok {
		writeError(c, fmt.Errorf("%w: %s payments use their own checkout flow", domain.ErrUnsupportedPaymentMethod, gw.Provider))
		return
	}

	userCart, err := h.deps.Carts.Load(c.Request.Context(), userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	result, err := h.deps.Settlement.Checkout(c.Request.Context(), settlement.Request{
		UserID:                userID(c),
		Cart:                  userCart,
		Method:                method,
		CoinsToUse:            req.CoinsToUse,
		VoucherID:             req.VoucherID,
		ClientVoucherDiscount: req.VoucherDiscount,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *api) createPayPalOrder(c *gin.Context) {
	var req paypalOrderRequest
	if !bindJSON(c, &req) {
		return
	}
	userCart, err := h.deps.Carts.Load(c.Request.Context(), userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	prepared, err := h.deps.Settlement.PreparePayPal(c.Request.Context(), settlement.PrepareRequest{
		UserID:     userID(c),
		Cart:       userCart,
		CoinsToUse: req.CoinsToUse,
		VoucherID:  req.VoucherID,
		Currency:   strings.ToUpper(strings.TrimSpace(req.Currency)),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, prepared)
}

func (h *api) capturePayPalOrder(c *gin.Context) {
	var req captureRequest
	if !bindJSON(c, &req) {
		return
	}
	userCart, err := h.deps.Carts.Load(c.Request.Context(), userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	result, err := h.deps.Settlement.CapturePayPal(c.Request.Context(), settlement.Request{
		UserID:                userID(c),
		Cart:                  userCart,
		CoinsToUse:            req.CoinsToUse,
		VoucherID:             req.VoucherID,
		ClientVoucherDiscount: req.VoucherDiscount,
		GatewayOrderID:        c.Param("gatewayOrderID"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *api) confirmQR(c *gin.Context) {
	var req qrConfirmRequest
	if !bindJSON(c, &req) {
		return
	}
	userCart, err := h.deps.Carts.Load(c.Request.Context(), userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	result, err := h.deps.Settlement.ConfirmQR(c.Request.Context(), settlement.Request{
		UserID:                userID(c),
		Cart:                  userCart,
		CoinsToUse:            req.CoinsToUse,
		VoucherID:             req.VoucherID,
		ClientVoucherDiscount: req.VoucherDiscount,
		PaymentReference:      req.Reference,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

var errFXUnavailable = errors.New("currency exchange is not configured")

func (h *api) fxQuote(c *gin.Context) {
	if h.deps.FX == nil {
		writeError(c, domain.NewGatewayError("", errFXUnavailable))
		return
	}
	amount := decimal.NewFromInt(1)
	if raw := c.Query("amount"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil || !parsed.IsPositive() {
			writeError(c, fmt.Errorf("%w: amount must be a positive number", errValidation))
			return
		}
		amount = parsed
	}
	base := c.DefaultQuery("base", domain.DefaultCurrency)
	target := c.Query("target")
	if strings.TrimSpace(target) == "" {
		writeError(c, fmt.Errorf("%w: target currency is required", errValidation))
		return
	}

	quote, err := h.deps.FX.ExchangeRate(c.Request.Context(), base, target, amount)
	if err != nil {
		writeError(c, domain.NewGatewayError("", err))
		return
	}
	c.JSON(http.StatusOK, quote)
}
