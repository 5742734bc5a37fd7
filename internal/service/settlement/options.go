package settlement

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	defaultPaymentTimeout = 10 * time.Second
	defaultSaveAttempts   = 3
	defaultRetryBaseDelay = 10 * time.Millisecond
)

// Options задаёт необязательные зависимости и параметры workflow.
type Options struct {
	Logger         *log.Entry
	Metrics        *metrics.SettlementMetrics
	Outbox         domain.OutboxRepository
	Timeline       domain.TimelineRepository
	Currency       string
	PaymentTimeout time.Duration
	SaveAttempts   int
	RetryBaseDelay time.Duration
	Now            func() time.Time
	NewID          func() string
}

// Option настраивает Workflow.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics включает prometheus-метрики.
func WithMetrics(m *metrics.SettlementMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithOutbox задаёт outbox для событий заказа.
func WithOutbox(repo domain.OutboxRepository) Option {
	return func(opts *Options) {
		opts.Outbox = repo
	}
}

// WithTimeline задаёт хранилище истории заказа.
func WithTimeline(repo domain.TimelineRepository) Option {
	return func(opts *Options) {
		opts.Timeline = repo
	}
}

// WithCurrency задаёт валюту, в которой должна прийти оплата.
func WithCurrency(currency string) Option {
	return func(opts *Options) {
		opts.Currency = currency
	}
}

// WithPaymentTimeout ограничивает каждый вызов платёжного провайдера.
func WithPaymentTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.PaymentTimeout = timeout
	}
}

// WithSaveAttempts задаёт число попыток сохранения при конфликте версий.
func WithSaveAttempts(attempts int) Option {
	return func(opts *Options) {
		opts.SaveAttempts = attempts
	}
}

// WithRetryBaseDelay задаёт базовую задержку exponential backoff между попытками.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(opts *Options) {
		opts.RetryBaseDelay = delay
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(opts *Options) {
		opts.Now = now
	}
}

// WithIDGenerator подменяет генератор идентификаторов заказов.
func WithIDGenerator(newID func() string) Option {
	return func(opts *Options) {
		opts.NewID = newID
	}
}
