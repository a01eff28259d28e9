package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/voucher"
)

type voucherResponse struct {
	ID                 string              `json:"id"`
	Code               string              `json:"code"`
	DiscountAmount     decimal.NullDecimal `json:"discountAmount"`
	DiscountPercentage decimal.NullDecimal `json:"discountPercentage"`
	ExpiryDate         time.Time           `json:"expiryDate"`
	IsUsed             bool                `json:"isUsed"`
	UsedAt             *time.Time          `json:"usedAt,omitempty"`
}

func newVoucherResponse(v domain.Voucher) voucherResponse {
	return voucherResponse{
		ID:                 v.ID,
		Code:               v.Code,
		DiscountAmount:     v.DiscountAmount,
		DiscountPercentage: v.DiscountPercentage,
		ExpiryDate:         v.ExpiryDate,
		IsUsed:             v.IsUsed,
		UsedAt:             v.UsedAt,
	}
}

func newVoucherList(vouchers []domain.Voucher) []voucherResponse {
	result := make([]voucherResponse, 0, len(vouchers))
	for _, v := range vouchers {
		result = append(result, newVoucherResponse(v))
	}
	return result
}

type voucherSpecRequest struct {
	Code               string              `json:"code"`
	DiscountAmount     decimal.NullDecimal `json:"discountAmount"`
	DiscountPercentage decimal.NullDecimal `json:"discountPercentage"`
	ExpiryDate         time.Time           `json:"expiryDate"`
}

func (r voucherSpecRequest) spec() voucher.Spec {
	return voucher.Spec{
		Code:               r.Code,
		DiscountAmount:     r.DiscountAmount,
		DiscountPercentage: r.DiscountPercentage,
		ExpiryDate:         r.ExpiryDate,
	}
}

type addVoucherRequest struct {
	UserID string `json:"userId" binding:"required"`
	voucherSpecRequest
}

type bulkVoucherRequest struct {
	UserIDs []string `json:"userIds"`
	voucherSpecRequest
}

type convertRequest struct {
	Points int64 `json:"points"`
}

type topUpRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type balancesResponse struct {
	LoyaltyPoints int64           `json:"loyaltyPoints"`
	CoinBalance   int64           `json:"coinBalance"`
	WalletBalance decimal.Decimal `json:"walletBalance"`
}

func newBalancesResponse(b domain.UserBalances) balancesResponse {
	return balancesResponse{LoyaltyPoints: b.LoyaltyPoints, CoinBalance: b.CoinBalance, WalletBalance: b.WalletBalance}
}

func (h *api) listVouchers(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		vouchers []domain.Voucher
		err      error
	)
	switch c.DefaultQuery("status", "active") {
	case "active":
		vouchers, err = h.deps.Vouchers.ListActive(ctx, userID(c))
	case "expired":
		vouchers, err = h.deps.Vouchers.ListExpired(ctx, userID(c))
	case "all":
		vouchers, err = h.deps.Vouchers.ListAll(ctx, userID(c))
	default:
		err = fmt.Errorf("%w: status must be active, expired or all", errValidation)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newVoucherList(vouchers))
}

func (h *api) validateVoucher(c *gin.Context) {
	v, err := h.deps.Vouchers.Validate(c.Request.Context(), c.Param("voucherID"), userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newVoucherResponse(v))
}

func (h *api) previewVoucher(c *gin.Context) {
	amount, err := decimal.NewFromString(c.Query("amount"))
	if err != nil {
		writeError(c, fmt.Errorf("%w: amount must be a number", errValidation))
		return
	}
	preview, err := h.deps.Vouchers.PreviewDiscount(c.Request.Context(), c.Param("voucherID"), userID(c), amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

func (h *api) deleteVoucher(c *gin.Context) {
	if err := h.deps.Vouchers.Delete(c.Request.Context(), c.Param("voucherID"), userID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *api) addVoucher(c *gin.Context) {
	var req addVoucherRequest
	if !bindJSON(c, &req) {
		return
	}
	v, err := h.deps.Vouchers.Add(c.Request.Context(), req.UserID, req.spec())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newVoucherResponse(v))
}

func (h *api) bulkAddVouchers(c *gin.Context) {
	var req bulkVoucherRequest
	if !bindJSON(c, &req) {
		return
	}
	created, err := h.deps.Vouchers.BulkAdd(c.Request.Context(), req.UserIDs, req.spec())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"created": len(created), "vouchers": newVoucherList(created)})
}

func (h *api) balances(c *gin.Context) {
	b, err := h.deps.Loyalty.Balances(c.Request.Context(), userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newBalancesResponse(b))
}

func (h *api) convertPoints(c *gin.Context) {
	var req convertRequest
	if !bindJSON(c, &req) {
		return
	}
	conv, err := h.deps.Loyalty.ConvertPoints(c.Request.Context(), userID(c), req.Points)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *api) topUpWallet(c *gin.Context) {
	var req topUpRequest
	if !bindJSON(c, &req) {
		return
	}
	b, err := h.deps.Loyalty.TopUpWallet(c.Request.Context(), c.Param("userID"), req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newBalancesResponse(b))
}
