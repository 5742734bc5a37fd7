package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const genericStorageMessage = "could not save the order, please try again"

// Workflow оформляет заказы и подтверждает их оплату.
// Заказ создаётся неоплаченным и переходит в оплаченный ровно один раз.
type Workflow struct {
	orders   domain.OrderRepository
	payments domain.PaymentProcessor
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	logger   *log.Entry
	metrics  *metrics.SettlementMetrics

	currency       string
	paymentTimeout time.Duration
	saveAttempts   int
	retryBaseDelay time.Duration
	now            func() time.Time
	newID          func() string

	inflight singleflight.Group
}

// NewWorkflow создаёт workflow оформления и оплаты.
func NewWorkflow(orders domain.OrderRepository, payments domain.PaymentProcessor, options ...Option) *Workflow {
	opts := Options{
		PaymentTimeout: defaultPaymentTimeout,
		SaveAttempts:   defaultSaveAttempts,
		RetryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "settlement")
	}
	opts.Currency = strings.ToUpper(strings.TrimSpace(opts.Currency))
	if opts.Currency == "" {
		opts.Currency = domain.DefaultCurrency
	}
	if opts.PaymentTimeout <= 0 {
		opts.PaymentTimeout = defaultPaymentTimeout
	}
	if opts.SaveAttempts <= 0 {
		opts.SaveAttempts = defaultSaveAttempts
	}
	if opts.RetryBaseDelay < 0 {
		opts.RetryBaseDelay = 0
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	return &Workflow{
		orders:         orders,
		payments:       payments,
		outbox:         opts.Outbox,
		timeline:       opts.Timeline,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		currency:       opts.Currency,
		paymentTimeout: opts.PaymentTimeout,
		saveAttempts:   opts.SaveAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		now:            opts.Now,
		newID:          opts.NewID,
	}
}

// CreateOrder сохраняет неизменяемый снимок корзины как неоплаченный заказ и возвращает его ID.
// Корзина не очищается: это решение вызывающей стороны.
func (w *Workflow) CreateOrder(ctx context.Context, checkout domain.Checkout) (string, error) {
	start := time.Now()
	orderID, err := w.createOrder(ctx, checkout)
	w.observeStep(domain.SettlementStepCreate, start)

	if err != nil {
		if kind, ok := domain.KindOf(err); ok && w.metrics != nil {
			w.metrics.RecordOrderRejected(string(kind))
		}
		return "", err
	}
	if w.metrics != nil {
		w.metrics.RecordOrderCreated()
	}
	return orderID, nil
}

func (w *Workflow) createOrder(ctx context.Context, checkout domain.Checkout) (string, error) {
	if strings.TrimSpace(checkout.UserID) == "" {
		return "", domain.NewError(domain.KindMissingOwner, "order owner is required", domain.ErrUserRequired)
	}
	if checkout.Address == nil || !checkout.Address.HasRequiredField() {
		return "", domain.NewError(domain.KindMissingAddress, "shipping address is required", nil)
	}
	if len(checkout.Items) == 0 {
		return "", domain.NewError(domain.KindIncompleteLineItem, "cart is empty", domain.ErrItemsRequired)
	}
	for _, item := range checkout.Items {
		if item.Size == "" {
			return "", domain.NewError(domain.KindIncompleteLineItem,
				fmt.Sprintf("item %q has no size selected", item.Title), domain.ErrItemSizeRequired)
		}
	}

	now := w.now()
	order := domain.Order{
		ID:              w.newID(),
		UserID:          checkout.UserID,
		Items:           append([]domain.LineItem(nil), checkout.Items...),
		ShippingAddress: *checkout.Address,
		ItemCount:       checkout.Summary.ItemCount,
		Subtotal:        checkout.Summary.Subtotal,
		Tax:             checkout.Summary.Tax,
		Total:           checkout.Summary.Total,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return "", invariantError(errs)
	}

	if err := w.orders.Create(ctx, order); err != nil {
		w.logger.WithError(err).WithField("user_id", order.UserID).Error("create order failed")
		return "", domain.NewError(domain.KindStorageFailure, storageMessage(err), err)
	}

	w.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"user_id":  order.UserID,
		"total":    order.Total.String(),
	}).Info("order created")
	w.emitEvent(ctx, order, kafka.EventTypeOrderCreated, "", "", nil)

	return order.ID, nil
}

// SettlePayment подтверждает оплату заказа транзакцией провайдера.
// Заказ помечается оплаченным, только если провайдер подтвердил транзакцию и её сумма
// в точности равна сохранённому итогу заказа.
func (w *Workflow) SettlePayment(ctx context.Context, orderID, transactionID string) error {
	// Одинаковые конкурентные запросы схлопываются; разные транзакции разводит проверка версии.
	key := orderID + "\x00" + transactionID
	_, err, _ := w.inflight.Do(key, func() (interface{}, error) {
		return nil, w.settle(ctx, orderID, transactionID)
	})
	return err
}

func (w *Workflow) settle(ctx context.Context, orderID, transactionID string) (err error) {
	result := metrics.ResultPaid
	if w.metrics != nil {
		done := w.metrics.SettlementStarted()
		defer func() {
			if kind, ok := domain.KindOf(err); ok {
				result = string(kind)
			}
			done(result)
		}()
	}

	logger := w.logger.WithFields(log.Fields{
		"order_id":       orderID,
		"transaction_id": transactionID,
	})

	token, err := w.accessToken(ctx)
	if err != nil {
		logger.WithError(err).Warn("payment provider token unavailable")
		return err
	}

	status, err := w.transactionStatus(ctx, transactionID, token)
	if err != nil {
		logger.WithError(err).Warn("payment provider status unavailable")
		return err
	}
	if !status.Completed() {
		logger.WithField("status", status.Status).Warn("transaction not completed")
		return domain.NewError(domain.KindPaymentNotCompleted, "transaction is not completed", nil)
	}

	start := time.Now()
	order, err := w.loadOrder(ctx, orderID)
	if err != nil {
		return err
	}

	if order.IsPaid {
		if order.TransactionID == transactionID {
			logger.Debug("order already paid with this transaction")
			result = metrics.ResultAlreadyPaid
			return nil
		}
		logger.WithField("paid_with", order.TransactionID).Warn("order already paid with another transaction")
		return domain.NewError(domain.KindAlreadyPaid, "order is already paid", nil)
	}

	// Сумма в чужой валюте не сравнима с итогом заказа.
	if !strings.EqualFold(status.Currency, w.currency) {
		w.observeStep(domain.SettlementStepVerify, start)
		logger.WithFields(log.Fields{
			"paid_currency": status.Currency,
			"currency":      w.currency,
		}).Warn("payment currency does not match store currency")
		w.emitEvent(ctx, order, kafka.EventTypePaymentRejected, "currency mismatch", transactionID, map[string]interface{}{
			"paid_amount":   status.Amount.String(),
			"paid_currency": status.Currency,
		})
		return domain.NewError(domain.KindAmountMismatch, "payment currency does not match order currency", nil)
	}
	if !status.Amount.Equal(order.Total) {
		w.observeStep(domain.SettlementStepVerify, start)
		logger.WithFields(log.Fields{
			"paid":  status.Amount.String(),
			"total": order.Total.String(),
		}).Warn("payment amount does not match order total")
		w.emitEvent(ctx, order, kafka.EventTypePaymentRejected, "amount mismatch", transactionID, map[string]interface{}{
			"paid_amount": status.Amount.String(),
		})
		return domain.NewError(domain.KindAmountMismatch, "payment amount does not match order total", nil)
	}
	w.observeStep(domain.SettlementStepVerify, start)

	start = time.Now()
	paid, err := w.markPaid(ctx, order, transactionID)
	w.observeStep(domain.SettlementStepPay, start)
	if err != nil {
		if kind, _ := domain.KindOf(err); kind == domain.KindStorageFailure {
			logger.WithError(err).Error("persist paid order failed")
		}
		return err
	}
	if paid == nil {
		result = metrics.ResultAlreadyPaid
		return nil
	}

	logger.Info("order paid")
	w.emitEvent(ctx, *paid, kafka.EventTypeOrderPaid, "", transactionID, nil)
	return nil
}

func (w *Workflow) accessToken(ctx context.Context) (string, error) {
	start := time.Now()
	defer w.observeStep(domain.SettlementStepToken, start)

	tokenCtx, cancel := context.WithTimeout(ctx, w.paymentTimeout)
	defer cancel()

	token, err := w.payments.AccessToken(tokenCtx)
	if err != nil {
		return "", domain.NewError(domain.KindPaymentProviderUnavailable, "could not obtain payment provider token", err)
	}
	if token == "" {
		return "", domain.NewError(domain.KindPaymentProviderUnavailable, "could not obtain payment provider token", nil)
	}
	return token, nil
}

func (w *Workflow) transactionStatus(ctx context.Context, transactionID, token string) (domain.TransactionStatus, error) {
	start := time.Now()
	defer w.observeStep(domain.SettlementStepStatus, start)

	statusCtx, cancel := context.WithTimeout(ctx, w.paymentTimeout)
	defer cancel()

	status, err := w.payments.TransactionStatus(statusCtx, transactionID, token)
	if err != nil {
		return domain.TransactionStatus{}, domain.NewError(domain.KindPaymentProviderUnavailable,
			"could not verify transaction with payment provider", err)
	}
	return status, nil
}

func (w *Workflow) loadOrder(ctx context.Context, orderID string) (domain.Order, error) {
	if orderID == "" {
		return domain.Order{}, domain.NewError(domain.KindOrderNotFound, "order does not exist", domain.ErrOrderNotFound)
	}
	order, err := w.orders.Get(ctx, orderID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		return domain.Order{}, domain.NewError(domain.KindOrderNotFound, "order does not exist", err)
	}
	if err != nil {
		return domain.Order{}, domain.NewError(domain.KindStorageFailure, storageMessage(err), err)
	}
	return order, nil
}

// markPaid сохраняет оплату с optimistic locking.
// При конфликте версий заказ перечитывается; nil без ошибки означает, что заказ
// уже оплачен этой же транзакцией конкурентным запросом.
func (w *Workflow) markPaid(ctx context.Context, order domain.Order, transactionID string) (*domain.Order, error) {
	for attempt := 0; attempt < w.saveAttempts; attempt++ {
		now := w.now()
		next := order.Clone()
		next.IsPaid = true
		next.TransactionID = transactionID
		next.PaidAt = now
		next.UpdatedAt = now

		err := w.orders.Save(ctx, next)
		if err == nil {
			next.Version = order.Version + 1
			return &next, nil
		}
		if !domain.IsVersionConflict(err) {
			return nil, domain.NewError(domain.KindStorageFailure, storageMessage(err), err)
		}

		w.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"attempt":  attempt + 1,
			"version":  order.Version,
		}).Warn("version conflict detected, reloading order")

		fresh, loadErr := w.loadOrder(ctx, order.ID)
		if loadErr != nil {
			return nil, loadErr
		}
		if fresh.IsPaid {
			if fresh.TransactionID == transactionID {
				return nil, nil
			}
			return nil, domain.NewError(domain.KindAlreadyPaid, "order is already paid", nil)
		}
		if !fresh.Total.Equal(order.Total) {
			return nil, domain.NewError(domain.KindAmountMismatch, "payment amount does not match order total", nil)
		}
		order = fresh

		if w.retryBaseDelay > 0 {
			delay := w.retryBaseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-ctx.Done():
				return nil, domain.NewError(domain.KindStorageFailure, genericStorageMessage, ctx.Err())
			case <-time.After(delay):
			}
		}
	}
	return nil, domain.NewError(domain.KindStorageFailure, genericStorageMessage, domain.ErrOrderVersionConflict)
}

func (w *Workflow) observeStep(step domain.SettlementStep, start time.Time) {
	if w.metrics != nil {
		w.metrics.RecordStepDuration(string(step), time.Since(start))
	}
}

// emitEvent кладёт событие в outbox и timeline. Сбои не влияют на результат операции.
func (w *Workflow) emitEvent(ctx context.Context, order domain.Order, eventType kafka.EventType, reason, transactionID string, metadata map[string]interface{}) {
	fields := log.Fields{
		"order_id": order.ID,
		"event":    eventType,
	}

	if transactionID != "" {
		if metadata == nil {
			metadata = make(map[string]interface{}, 1)
		}
		metadata["transaction_id"] = transactionID
	}

	if w.outbox != nil {
		event := kafka.NewOrderEvent(eventType, order.ID, order.UserID, order.Total.String(), order.IsPaid, metadata)
		event.Timestamp = w.now()
		data, err := json.Marshal(event)
		if err != nil {
			w.logger.WithError(err).WithFields(fields).Error("marshal event failed")
		} else if _, err := w.outbox.Enqueue(ctx, domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   order.ID,
			EventType:     string(eventType),
			Payload:       data,
		}); err != nil {
			w.logger.WithError(err).WithFields(fields).Error("enqueue event failed")
		} else if w.metrics != nil {
			w.metrics.RecordOutboxEvent()
		}
	}

	if w.timeline != nil {
		err := w.timeline.Append(ctx, domain.TimelineEvent{
			OrderID:       order.ID,
			Type:          string(eventType),
			Reason:        reason,
			TransactionID: transactionID,
			Occurred:      w.now(),
		})
		if err != nil {
			w.logger.WithError(err).WithFields(fields).Warn("append timeline event failed")
		} else if w.metrics != nil {
			w.metrics.RecordTimelineEvent()
		}
	}
}

// storageMessage достаёт сообщение структурированной ошибки хранилища.
func storageMessage(err error) string {
	var se *domain.StorageError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	return genericStorageMessage
}

func invariantError(errs []error) error {
	joined := errors.Join(errs...)
	for _, err := range errs {
		switch {
		case errors.Is(err, domain.ErrUserRequired):
			return domain.NewError(domain.KindMissingOwner, "order owner is required", joined)
		case errors.Is(err, domain.ErrAmountMismatch):
			return domain.NewError(domain.KindAmountMismatch, "order totals do not match items", joined)
		}
	}
	return domain.NewError(domain.KindIncompleteLineItem, errs[0].Error(), joined)
}
