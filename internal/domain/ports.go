package domain

import (
	"context"
	"time"
)

// PaymentProcessor описывает взаимодействие с внешним платёжным провайдером.
type PaymentProcessor interface {
	// AccessToken получает bearer-токен. Пустая строка означает отсутствие токена.
	AccessToken(ctx context.Context) (string, error)
	// TransactionStatus возвращает статус и сумму транзакции провайдера.
	TransactionStatus(ctx context.Context, transactionID, token string) (TransactionStatus, error)
}

// IdentityProvider отдаёт текущего аутентифицированного пользователя.
type IdentityProvider interface {
	CurrentUser(ctx context.Context) (Identity, bool)
}

// SessionStore — долговременное строковое key/value хранилище сессии (аналог cookie).
type SessionStore interface {
	// Get возвращает значение и признак его наличия.
	Get(ctx context.Context, sessionID, key string) (string, bool, error)
	Set(ctx context.Context, sessionID, key, value string) error
	Delete(ctx context.Context, sessionID string, keys ...string) error
}

// ProductCatalog — каталог товаров.
type ProductCatalog interface {
	Get(ctx context.Context, id string) (Product, error)
	GetBySlug(ctx context.Context, slug string) (Product, error)
	// List возвращает товары по названию, затем по ID.
	List(ctx context.Context, query ProductQuery) ([]Product, error)
	// Create сохраняет товар и возвращает его с присвоенным ID.
	Create(ctx context.Context, product Product) (Product, error)
	Stats(ctx context.Context) (ProductStats, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	// ReclaimFailed переводит failed-запись с тем же хэшем обратно в processing.
	// false значит, что запись уже занял другой запрос или она не в статусе failed.
	ReclaimFailed(ctx context.Context, key, requestHash string, ttlAt time.Time) (bool, error)
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// SettlementStep задаёт константы шагов для метрик/логов.
type SettlementStep string

const (
	SettlementStepCreate SettlementStep = "create"
	SettlementStepToken  SettlementStep = "token"
	SettlementStepStatus SettlementStep = "status"
	SettlementStepVerify SettlementStep = "verify"
	SettlementStepPay    SettlementStep = "pay"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStatus - состояние записи outbox. Из pending запись уходит ровно один раз.
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusSent    OutboxStatus = "sent"
	// OutboxStatusFailed - публикация не удалась за все попытки, событие ушло в DLQ.
	OutboxStatusFailed OutboxStatus = "failed"
)

// OutboxStats - срез backlog для метрик: сколько ждёт отправки и сколько сдалось.
type OutboxStats struct {
	PendingCount    int
	FailedCount     int
	OldestPendingAt time.Time
}
