package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/pricing"
)

// Драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	// RedisAddr пустой: корзины хранятся в памяти процесса.
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	CartTTL          time.Duration
	CartRemoveOnZero bool

	JWTSecret string
	TaxRate   decimal.Decimal

	PayPalBaseURL      string
	PayPalClientID     string
	PayPalClientSecret string
	PayPalTimeout      time.Duration

	// AllowMockIntegrations разрешает mock-шлюз оплаты без учётных данных PayPal.
	AllowMockIntegrations bool

	KafkaBrokers  []string
	KafkaClientID string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
}

// DefaultConfig возвращает настройки для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                    ":8080",
		GRPCAddr:                    ":50051",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		CartTTL:                     7 * 24 * time.Hour,
		CartRemoveOnZero:            true,
		TaxRate:                     pricing.DefaultTaxRate,
		PayPalTimeout:               15 * time.Second,
		KafkaClientID:               "storefront",
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            50 * time.Millisecond,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
	}
}

// Validate проверяет согласованность настроек перед запуском.
func (c Config) Validate() error {
	var errs []error
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("jwt secret is required"))
	}
	if c.TaxRate.IsNegative() {
		errs = append(errs, errors.New("tax rate must be non-negative"))
	}
	if !c.paypalConfigured() && !c.AllowMockIntegrations {
		errs = append(errs, errors.New("paypal credentials are required unless mock integrations are allowed"))
	}
	return errors.Join(errs...)
}

func (c Config) paypalConfigured() bool {
	return strings.TrimSpace(c.PayPalClientID) != "" && strings.TrimSpace(c.PayPalClientSecret) != ""
}
