package app

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/httpapi"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/pricing"
	"github.com/vladislavdragonenkov/storefront/internal/service/loyalty"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
	"github.com/vladislavdragonenkov/storefront/internal/service/settlement"
	"github.com/vladislavdragonenkov/storefront/internal/service/voucher"
)

// buildServices собирает доменные сервисы поверх инфраструктуры.
func buildServices(cfg Config, deps *runtimeDependencies, checkoutMetrics *metrics.CheckoutMetrics, logger *log.Entry) httpapi.Dependencies {
	repos := deps.storage.Repositories()

	settlementOpts := []settlement.Option{
		settlement.WithLogger(logger.WithField("component", "settlement")),
		settlement.WithMetrics(checkoutMetrics),
		settlement.WithCartStore(deps.carts),
	}
	if deps.fx != nil {
		settlementOpts = append(settlementOpts, settlement.WithConverter(deps.fx))
	}
	settlementSvc := settlement.NewService(deps.storage, deps.gateway, pricing.NewEngine(cfg.TaxRate), settlementOpts...)
	ordersSvc := orders.NewService(deps.storage, deps.gateway,
		orders.WithLogger(logger.WithField("component", "orders")),
		orders.WithMetrics(checkoutMetrics),
		orders.WithTaxRate(cfg.TaxRate),
	)

	result := httpapi.Dependencies{
		Settlement:  settlementSvc,
		Orders:      ordersSvc,
		Vouchers:    voucher.NewService(deps.storage, logger.WithField("component", "voucher"), func() time.Time { return time.Now().UTC() }),
		Loyalty:     loyalty.NewService(repos.Users, logger.WithField("component", "loyalty")),
		Products:    repos.Products,
		Carts:       deps.carts,
		Idempotency: deps.idempotency,
	}
	if deps.fx != nil {
		result.FX = deps.fx
	}
	return result
}
