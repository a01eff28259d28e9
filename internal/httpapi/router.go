// Package httpapi реализует HTTP API магазина поверх gin.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/gateway/paypal"
	"github.com/vladislavdragonenkov/storefront/internal/service/loyalty"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
	"github.com/vladislavdragonenkov/storefront/internal/service/settlement"
	"github.com/vladislavdragonenkov/storefront/internal/service/voucher"
)

// FXQuoter выдаёт котировку обмена валют.
type FXQuoter interface {
	ExchangeRate(ctx context.Context, base, target string, amount decimal.Decimal) (paypal.ExchangeQuote, error)
}

// Dependencies — сервисы, которые обслуживает API.
type Dependencies struct {
	Settlement  *settlement.Service
	Orders      *orders.Service
	Vouchers    *voucher.Service
	Loyalty     *loyalty.Service
	Products    domain.ProductRepository
	Carts       cart.Store
	Idempotency domain.IdempotencyRepository
	// FX может быть nil: тогда котировки недоступны.
	FX FXQuoter
}

type Config struct {
	JWTSecret      []byte
	IdempotencyTTL time.Duration
	// Now подменяет часы для idempotency TTL.
	Now func() time.Time
}

type api struct {
	deps Dependencies
}

// NewRouter собирает gin.Engine со всеми маршрутами /api/v1.
func NewRouter(cfg Config, deps Dependencies, logger *log.Entry) *gin.Engine {
	if logger == nil {
		logger = log.New().WithField("component", "httpapi")
	}
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(RequestID(logger), AccessLog(), Recovery())
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "route not found", RequestID: c.GetString(requestIDKey)})
	})

	h := &api{deps: deps}
	idem := Idempotency(deps.Idempotency, cfg.IdempotencyTTL, cfg.Now)

	v1 := r.Group("/api/v1", Auth(cfg.JWTSecret))
	{
		v1.GET("/cart", h.getCart)
		v1.POST("/cart/items", h.addCartItem)
		v1.PATCH("/cart/items/:productID", h.updateCartItem)
		v1.DELETE("/cart/items/:productID", h.removeCartItem)
		v1.DELETE("/cart", h.clearCart)

		v1.POST("/checkout", idem, h.checkout)
		v1.POST("/checkout/paypal/orders", h.createPayPalOrder)
		v1.POST("/checkout/paypal/orders/:gatewayOrderID/capture", idem, h.capturePayPalOrder)
		v1.POST("/checkout/qr/confirm", idem, h.confirmQR)
		v1.GET("/fx/quote", h.fxQuote)

		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:orderID", h.getOrder)
		v1.GET("/orders/:orderID/invoice", h.getInvoice)
		v1.GET("/orders/:orderID/timeline", h.getTimeline)
		v1.POST("/orders/:orderID/refund-request", idem, h.requestRefund)
		v1.POST("/orders/:orderID/cancel", h.cancelOrder)

		v1.GET("/vouchers", h.listVouchers)
		v1.GET("/vouchers/:voucherID/validate", h.validateVoucher)
		v1.GET("/vouchers/:voucherID/preview", h.previewVoucher)
		v1.DELETE("/vouchers/:voucherID", h.deleteVoucher)

		v1.GET("/loyalty/balances", h.balances)
		v1.POST("/loyalty/convert", h.convertPoints)
	}

	admin := v1.Group("/admin", RequireAdmin())
	{
		admin.GET("/orders", h.adminListOrders)
		admin.GET("/orders/export.xlsx", h.exportOrders)
		admin.POST("/orders/:orderID/refund/approve", idem, h.approveRefund)
		admin.PATCH("/orders/:orderID/status", h.updateOrderStatus)
		admin.DELETE("/orders/:orderID", h.deleteOrder)
		admin.POST("/vouchers", h.addVoucher)
		admin.POST("/vouchers/bulk", h.bulkAddVouchers)
		admin.POST("/users/:userID/wallet/top-up", h.topUpWallet)
	}

	return r
}
