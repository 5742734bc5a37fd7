package kafka

import (
	"encoding/json"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// OutboxPublisher доставляет записи outbox в один topic. Ключ сообщения - id заказа,
// поэтому события одного заказа попадают в одну партицию и читаются по порядку.
type OutboxPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher создаёт паблишер; пустой topic означает shop.order.events.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxPublisher {
	if strings.TrimSpace(topic) == "" {
		topic = TopicOrderEvents
	}
	return &OutboxPublisher{producer: producer, topic: topic}
}

// Topic возвращает topic назначения.
func (p *OutboxPublisher) Topic() string { return p.topic }

func (p *OutboxPublisher) Publish(msg domain.OutboxMessage) error {
	if p.producer == nil {
		return ErrProducerClosed
	}

	key := msg.AggregateID
	if key == "" {
		key = msg.ID
	}

	envelope := OutboxEnvelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishedAt:   p.producer.now(),
	}
	return p.producer.PublishEvent(p.topic, key, envelope, map[string]string{
		HeaderEventType: msg.EventType,
		HeaderOutboxID:  msg.ID,
	})
}

var _ domain.OutboxPublisher = (*OutboxPublisher)(nil)
