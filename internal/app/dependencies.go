package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/gateway/paypal"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

// runtimeDependencies — инфраструктура, от которой зависят сервисы.
type runtimeDependencies struct {
	storage     domain.Storage
	idempotency domain.IdempotencyRepository
	carts       cart.Store
	gateway     domain.PaymentGateway
	// fx nil, если PayPal не настроен.
	fx      *paypal.Client
	checks  map[string]healthcheck.Checker
	closers []func() error
}

func (d *runtimeDependencies) addCloser(fn func() error) {
	d.closers = append(d.closers, fn)
}

// Close освобождает ресурсы в обратном порядке.
func (d *runtimeDependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// initRuntimeDependencies поднимает хранилище, корзины и платёжный шлюз.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{checks: make(map[string]healthcheck.Checker)}

	if err := initStorage(ctx, cfg, deps, logger); err != nil {
		_ = deps.Close()
		return nil, err
	}
	if err := initCartStore(ctx, cfg, deps, logger); err != nil {
		_ = deps.Close()
		return nil, err
	}
	if err := initGateway(cfg, deps, logger); err != nil {
		_ = deps.Close()
		return nil, err
	}
	return deps, nil
}

func initStorage(ctx context.Context, cfg Config, deps *runtimeDependencies, logger *log.Entry) error {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		deps.storage = memory.NewStore()
		deps.idempotency = memory.NewIdempotencyRepository()
		logger.Warn("using in-memory storage, data is lost on restart")
		return nil
	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return errors.New("postgres dsn is required for postgres storage")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		deps.addCloser(store.Close)

		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}
		deps.storage = store
		deps.idempotency = store.IdempotencyRepository()
		deps.checks["postgres"] = healthcheck.NewChecker("postgres", true, store.Ping)
		return nil
	default:
		return fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func initCartStore(ctx context.Context, cfg Config, deps *runtimeDependencies, logger *log.Entry) error {
	opts := []cart.Option{cart.WithRemoveOnZero(cfg.CartRemoveOnZero)}
	if cfg.RedisAddr == "" {
		deps.carts = cart.NewMemoryStore(opts...)
		logger.Warn("redis is not configured, carts are kept in process memory")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	deps.addCloser(client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
	}

	deps.carts = cart.NewRedisStore(client, cfg.CartTTL, opts...)
	deps.checks["redis"] = healthcheck.NewChecker("redis", true, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	logger.WithField("redis_addr", cfg.RedisAddr).Info("redis cart store initialized")
	return nil
}

func initGateway(cfg Config, deps *runtimeDependencies, logger *log.Entry) error {
	if cfg.paypalConfigured() {
		client, err := paypal.New(paypal.Config{
			BaseURL:      cfg.PayPalBaseURL,
			ClientID:     cfg.PayPalClientID,
			ClientSecret: cfg.PayPalClientSecret,
			Timeout:      cfg.PayPalTimeout,
			UserAgent:    version.UserAgent(),
		}, paypal.WithLogger(logger.WithField("component", "paypal-client")))
		if err != nil {
			return fmt.Errorf("init paypal client: %w", err)
		}
		deps.gateway = client
		deps.fx = client
		return nil
	}
	if !cfg.AllowMockIntegrations {
		return errors.New("paypal credentials are required unless mock integrations are allowed")
	}
	deps.gateway = payment.NewMockGateway()
	logger.Warn("paypal is not configured, using mock payment gateway")
	return nil
}
