package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// PaymentSettler подтверждает оплату заказа.
type PaymentSettler interface {
	SettlePayment(ctx context.Context, orderID, transactionID string) error
}

// ParsePaymentCallback парсит уведомление об оплате из сообщения.
func ParsePaymentCallback(message *sarama.ConsumerMessage) (*PaymentCallback, error) {
	var cb PaymentCallback
	if err := json.Unmarshal(message.Value, &cb); err != nil {
		return nil, fmt.Errorf("%w: unmarshal payment callback: %v", ErrMalformedMessage, err)
	}
	if cb.OrderID == "" || cb.TransactionID == "" {
		return nil, fmt.Errorf("%w: payment callback requires orderId and transactionId", ErrMalformedMessage)
	}
	return &cb, nil
}

// NewPaymentCallbackHandler возвращает обработчик топика уведомлений об оплате.
// Окончательные отказы (сумма не совпала, заказ не найден) логируются и подтверждаются,
// повторяются только временные ошибки хранилища. Неразборчивое сообщение уходит в DLQ без повторов.
func NewPaymentCallbackHandler(settler PaymentSettler, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "payment-callbacks")
	}

	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		cb, err := ParsePaymentCallback(message)
		if err != nil {
			logger.WithError(err).WithField("offset", message.Offset).Warn("malformed payment callback")
			return err
		}

		fields := log.Fields{
			"order_id":       cb.OrderID,
			"transaction_id": cb.TransactionID,
		}

		err = settler.SettlePayment(ctx, cb.OrderID, cb.TransactionID)
		if err == nil {
			logger.WithFields(fields).Info("payment callback settled")
			return nil
		}

		kind, ok := domain.KindOf(err)
		if ok && !kind.Transient() {
			logger.WithError(err).WithFields(fields).WithField("kind", kind).Warn("payment callback rejected")
			return nil
		}
		return err
	}
}
