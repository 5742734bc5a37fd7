package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Префикс переменных окружения сервиса: SHOP_HTTP_ADDR, SHOP_POSTGRES_DSN и т.д.
const envPrefix = "SHOP"

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"

	PaymentProviderMock   = "mock"
	PaymentProviderPayPal = "paypal"
)

// Config описывает настройки запуска витрины.
type Config struct {
	HTTPAddr        string        `envconfig:"HTTP_ADDR"`
	GRPCAddr        string        `envconfig:"GRPC_ADDR"`
	MetricsAddr     string        `envconfig:"METRICS_ADDR"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT"`

	TaxRate  decimal.Decimal `envconfig:"TAX_RATE"`
	// ISO-код валюты цен; оплата в другой валюте отклоняется.
	Currency string          `envconfig:"CURRENCY"`

	StorageDriver       string `envconfig:"STORAGE_DRIVER"`
	PostgresDSN         string `envconfig:"POSTGRES_DSN"`
	PostgresAutoMigrate bool   `envconfig:"POSTGRES_AUTO_MIGRATE"`
	SeedDemoCatalog     bool   `envconfig:"SEED_DEMO_CATALOG"`

	// При пустом RedisAddr сессии хранятся в памяти процесса.
	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL"`
	SecureCookie  bool          `envconfig:"SECURE_COOKIE"`

	// Пустой список брокеров отключает outbox-доставку и consumer уведомлений об оплате.
	KafkaBrokers       []string `envconfig:"KAFKA_BROKERS"`
	KafkaConsumerGroup string   `envconfig:"KAFKA_CONSUMER_GROUP"`

	PaymentProvider    string          `envconfig:"PAYMENT_PROVIDER"`
	PaymentTimeout     time.Duration   `envconfig:"PAYMENT_TIMEOUT"`
	// MockPaymentAmount — сумма, которую mock-провайдер сообщает о любой транзакции.
	// По умолчанию ноль: оплата отклоняется как AmountMismatch, пока сумма не задана
	// равной итогу заказа.
	MockPaymentAmount  decimal.Decimal `envconfig:"MOCK_PAYMENT_AMOUNT"`
	PayPalClientID     string          `envconfig:"PAYPAL_CLIENT_ID"`
	PayPalClientSecret string          `envconfig:"PAYPAL_CLIENT_SECRET"`
	PayPalOAuthURL     string          `envconfig:"PAYPAL_OAUTH_URL"`
	PayPalOrdersURL    string          `envconfig:"PAYPAL_ORDERS_URL"`

	OutboxPollInterval time.Duration `envconfig:"OUTBOX_POLL_INTERVAL"`
	OutboxBatchSize    int           `envconfig:"OUTBOX_BATCH_SIZE"`
	OutboxMaxAttempts  int           `envconfig:"OUTBOX_MAX_ATTEMPTS"`
	OutboxRetryDelay   time.Duration `envconfig:"OUTBOX_RETRY_DELAY"`

	IdempotencyTTL              time.Duration `envconfig:"IDEMPOTENCY_TTL"`
	IdempotencyCleanupInterval  time.Duration `envconfig:"IDEMPOTENCY_CLEANUP_INTERVAL"`
	IdempotencyCleanupBatchSize int           `envconfig:"IDEMPOTENCY_CLEANUP_BATCH_SIZE"`
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:        ":8080",
		GRPCAddr:        ":50051",
		MetricsAddr:     ":9090",
		ShutdownTimeout: 10 * time.Second,

		TaxRate:  decimal.RequireFromString("0.15"),
		Currency: domain.DefaultCurrency,

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		SeedDemoCatalog:     true,

		SessionTTL: 30 * 24 * time.Hour,

		KafkaConsumerGroup: "storefront-payments",

		PaymentProvider: PaymentProviderMock,
		PaymentTimeout:  10 * time.Second,
		PayPalOAuthURL:  "https://api-m.sandbox.paypal.com/v1/oauth2/token",
		PayPalOrdersURL: "https://api-m.sandbox.paypal.com/v2/checkout/orders",

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   100 * time.Millisecond,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
	}
}

// LoadConfig читает переменные окружения SHOP_* поверх DefaultConfig.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres storage requires SHOP_POSTGRES_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	switch c.PaymentProvider {
	case PaymentProviderMock:
	case PaymentProviderPayPal:
		if c.PayPalClientID == "" || c.PayPalClientSecret == "" {
			errs = append(errs, errors.New("paypal provider requires SHOP_PAYPAL_CLIENT_ID and SHOP_PAYPAL_CLIENT_SECRET"))
		}
		if c.PayPalOAuthURL == "" || c.PayPalOrdersURL == "" {
			errs = append(errs, errors.New("paypal provider requires oauth and orders urls"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported payment provider %q", c.PaymentProvider))
	}

	if c.TaxRate.IsNegative() {
		errs = append(errs, errors.New("tax rate must be non-negative"))
	}
	if !isCurrencyCode(c.Currency) {
		errs = append(errs, fmt.Errorf("currency %q must be a three-letter ISO code", c.Currency))
	}
	if c.MockPaymentAmount.IsNegative() {
		errs = append(errs, errors.New("mock payment amount must be non-negative"))
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaConsumerGroup == "" {
		errs = append(errs, errors.New("kafka consumer group is required when brokers are set"))
	}

	return errors.Join(errs...)
}

func isCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}
