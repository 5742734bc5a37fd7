package app

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

// normalizeBrokers убирает пробелы и пустые элементы из списка брокеров.
func normalizeBrokers(brokers []string) []string {
	out := make([]string, 0, len(brokers))
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// initKafkaProducer инициализирует Kafka producer, если брокеры заданы.
// Возвращает nil, nil при пустом списке.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	brokers = normalizeBrokers(brokers)
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// initPaymentConsumer подписывает workflow на уведомления об оплате.
// Сообщения, не обработанные за все попытки, уходят в DLQ через producer.
func initPaymentConsumer(brokers []string, group string, settler kafka.PaymentSettler, dlq *kafka.Producer, logger *log.Entry) (*kafka.Consumer, error) {
	brokers = normalizeBrokers(brokers)
	if len(brokers) == 0 {
		return nil, nil
	}

	handler := kafka.NewPaymentCallbackHandler(settler, logger.WithField("component", "payment-callbacks"))
	consumer, err := kafka.NewConsumer(brokers, group, []string{kafka.TopicPaymentCallbacks}, handler,
		kafka.WithDeadLetters(dlq),
		kafka.WithMaxAttempts(3),
		kafka.WithConsumerLogger(logger.WithField("component", "kafka-consumer")),
	)
	if err != nil {
		logger.WithError(err).Warn("failed to create payment callback consumer, continuing without it")
		return nil, err
	}
	return consumer, nil
}

// closeKafka закрывает Kafka producer, если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// stopConsumer останавливает consumer, если он был запущен.
func stopConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop kafka consumer")
	}
}
