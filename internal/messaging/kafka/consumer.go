package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 200 * time.Millisecond
)

// ErrMalformedMessage помечает сообщение, которое не разобрать: повторы не помогут,
// оно сразу уходит в DLQ.
var ErrMalformedMessage = errors.New("malformed message")

// MessageHandler обрабатывает одно сообщение. Ошибка означает, что обработку стоит повторить,
// кроме ErrMalformedMessage.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// Consumer читает topics в составе consumer group. Сообщение повторяется в процессе
// до maxAttempts раз с учётом заголовка x-retry-count, затем уходит в DLQ.
// Без DLQ неудачное сообщение не подтверждается и будет прочитано снова.
type Consumer struct {
	group       sarama.ConsumerGroup
	topics      []string
	handler     MessageHandler
	deadLetters *Producer
	maxAttempts int
	retryDelay  time.Duration
	logger      *log.Entry
	now         func() time.Time
	wg          sync.WaitGroup
}

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*Consumer)

// WithDeadLetters задаёт producer для shop.dlq.
func WithDeadLetters(p *Producer) ConsumerOption {
	return func(c *Consumer) { c.deadLetters = p }
}

// WithMaxAttempts задаёт общее число попыток обработки сообщения.
func WithMaxAttempts(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithRetryDelay задаёт паузу между попытками.
func WithRetryDelay(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d >= 0 {
			c.retryDelay = d
		}
	}
}

// WithConsumerLogger задаёт logger.
func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewConsumer подключается к брокерам в группе groupID.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, opts ...ConsumerOption) (*Consumer, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group %s: %w", groupID, err)
	}
	return newConsumer(group, topics, handler, opts...), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		group:       group,
		topics:      topics,
		handler:     handler,
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
		logger:      log.WithField("component", "kafka-consumer"),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start запускает чтение в фоне и сразу возвращается. Остановка - отмена ctx и Stop.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		// Consume возвращается на каждом rebalance.
		for ctx.Err() == nil {
			if err := c.group.Consume(ctx, c.topics, c); err != nil {
				c.logger.WithError(err).Error("consume failed")
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Warn("consumer group error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop закрывает группу и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	err := c.group.Close()
	c.wg.Wait()
	if err != nil {
		return fmt.Errorf("close kafka consumer group: %w", err)
	}
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim обрабатывает партицию до закрытия канала или конца сессии.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok || msg == nil {
				return nil
			}
			if err := c.process(session.Context(), msg); err != nil {
				c.logger.WithError(err).WithFields(messageFields(msg)).Error("message left unacknowledged")
				continue
			}
			session.MarkMessage(msg, "")
		}
	}
}

// process выполняет оставшиеся попытки и при неудаче перекладывает сообщение в DLQ.
// nil означает, что сообщение можно подтвердить.
func (c *Consumer) process(ctx context.Context, msg *sarama.ConsumerMessage) error {
	done := retryCount(msg)
	attempts := c.maxAttempts - done
	if attempts < 1 {
		attempts = 1
	}

	var err error
	used := 0
	for used < attempts {
		used++
		if err = c.handler(ctx, msg); err == nil {
			return nil
		}
		if used == attempts || errors.Is(err, ErrMalformedMessage) {
			break
		}
		c.logger.WithError(err).WithFields(messageFields(msg)).WithField("attempt", done+used).Warn("message failed, retrying")
		if c.retryDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
	}

	if c.deadLetters == nil {
		return err
	}
	if dlqErr := c.toDeadLetters(msg, err, done+used); dlqErr != nil {
		return fmt.Errorf("dead-letter after %v: %w", err, dlqErr)
	}
	c.logger.WithFields(messageFields(msg)).WithField("attempts", done+used).Warn("message moved to dlq")
	return nil
}

func (c *Consumer) toDeadLetters(msg *sarama.ConsumerMessage, cause error, attempts int) error {
	failedAt := c.now().Format(time.RFC3339)
	letter := DeadLetter{
		OriginalTopic:     msg.Topic,
		OriginalPartition: msg.Partition,
		OriginalOffset:    msg.Offset,
		OriginalKey:       string(msg.Key),
		OriginalValue:     string(msg.Value),
		ErrorMessage:      cause.Error(),
		FailedAt:          failedAt,
		RetryCount:        attempts,
	}
	return c.deadLetters.PublishEvent(TopicDeadLetterQueue, string(msg.Key), letter, map[string]string{
		HeaderOriginalTopic: msg.Topic,
		HeaderErrorMessage:  cause.Error(),
		HeaderFailedAt:      failedAt,
		HeaderRetryCount:    strconv.Itoa(attempts),
	})
}

// retryCount читает x-retry-count; отсутствующий или битый заголовок - ноль.
func retryCount(msg *sarama.ConsumerMessage) int {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == HeaderRetryCount {
			if n, err := strconv.Atoi(string(h.Value)); err == nil && n >= 0 {
				return n
			}
		}
	}
	return 0
}

func messageFields(msg *sarama.ConsumerMessage) log.Fields {
	return log.Fields{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	}
}
