package kafka

import (
	"encoding/json"
	"time"
)

// EventType определяет тип события
type EventType string

const (
	EventTypeOrderCreated    EventType = "order.created"
	EventTypeOrderPaid       EventType = "order.paid"
	EventTypePaymentRejected EventType = "payment.rejected"
)

// Topics для Kafka
const (
	TopicOrderEvents      = "shop.order.events"
	TopicPaymentCallbacks = "shop.payment.callbacks"
	TopicDeadLetterQueue  = "shop.dlq" // Dead Letter Queue для failed messages
)

// Заголовки сообщений: счётчик попыток и происхождение записи в DLQ,
// тип события и id outbox-записи для подписчиков shop.order.events.
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
	HeaderOutboxID      = "x-outbox-id"
)

// OrderEvent представляет событие заказа
type OrderEvent struct {
	EventType EventType              `json:"event_type"`
	OrderID   string                 `json:"order_id"`
	UserID    string                 `json:"user_id"`
	Total     string                 `json:"total"`
	IsPaid    bool                   `json:"is_paid"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// PaymentCallback — уведомление платёжного провайдера о транзакции по заказу.
type PaymentCallback struct {
	OrderID       string `json:"orderId"`
	TransactionID string `json:"transactionId"`
}

// DeadLetter — сообщение, которое consumer не смог обработать за все попытки.
type DeadLetter struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	ErrorMessage      string `json:"error_message"`
	FailedAt          string `json:"failed_at"`
	RetryCount        int    `json:"retry_count"`
}

// OutboxEnvelope — формат outbox-сообщения в топике событий заказов.
type OutboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewOrderEvent создает новое событие заказа
func NewOrderEvent(eventType EventType, orderID, userID, total string, isPaid bool, metadata map[string]interface{}) *OrderEvent {
	return &OrderEvent{
		EventType: eventType,
		OrderID:   orderID,
		UserID:    userID,
		Total:     total,
		IsPaid:    isPaid,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}
