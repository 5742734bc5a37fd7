package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

type fixture struct {
	orders   domain.OrderRepository
	outbox   *memory.OutboxRepository
	timeline domain.TimelineRepository
	payments *payment.MockProcessor
	workflow *Workflow
}

func newFixture(t *testing.T, options ...Option) *fixture {
	t.Helper()

	f := &fixture{
		orders:   memory.NewOrderRepository(),
		outbox:   memory.NewOutboxRepository(),
		timeline: memory.NewTimelineRepository(),
		payments: payment.NewMockProcessor(decimal.NewFromInt(23)),
	}
	base := []Option{
		WithOutbox(f.outbox),
		WithTimeline(f.timeline),
		WithMetrics(metrics.NewSettlementMetricsWithRegisterer(prometheus.NewRegistry())),
		WithRetryBaseDelay(0),
	}
	f.workflow = NewWorkflow(f.orders, f.payments, append(base, options...)...)
	return f
}

func address() *domain.Address {
	return &domain.Address{
		FirstName: "Ann",
		LastName:  "Lee",
		Address:   "1 Main St",
		City:      "Springfield",
		Zip:       "12345",
		Country:   "US",
		Phone:     "555-0100",
	}
}

// checkoutOf собирает корзину через агрегатор: 2 рубашки по 10 при налоге 15%.
func checkoutOf(items ...domain.LineItem) domain.Checkout {
	agg := cart.NewAggregator(decimal.RequireFromString("0.15"))
	state := agg.Empty()
	for _, item := range items {
		state = agg.Apply(state, cart.AddItem{Item: item})
	}
	return domain.Checkout{
		UserID:  "user-1",
		Items:   state.Items(),
		Summary: state.Summary(),
		Address: address(),
	}
}

func shirts(size string, qty int) domain.LineItem {
	return domain.LineItem{ProductID: "p-1", Size: size, Title: "Shirt", UnitPrice: decimal.NewFromInt(10), Quantity: qty}
}

func requireKind(t *testing.T, err error, want domain.ErrorKind) {
	t.Helper()
	require.Error(t, err)
	kind, ok := domain.KindOf(err)
	require.True(t, ok, "expected settlement error, got %v", err)
	require.Equal(t, want, kind)
}

func (f *fixture) createOrder(t *testing.T) domain.Order {
	t.Helper()
	id, err := f.workflow.CreateOrder(context.Background(), checkoutOf(shirts("M", 2)))
	require.NoError(t, err)
	order, err := f.orders.Get(context.Background(), id)
	require.NoError(t, err)
	return order
}

func TestCreateOrder_SnapshotOfCart(t *testing.T) {
	f := newFixture(t)

	order := f.createOrder(t)

	require.Equal(t, "user-1", order.UserID)
	require.False(t, order.IsPaid)
	require.Empty(t, order.TransactionID)
	require.Equal(t, 2, order.ItemCount)
	require.True(t, order.Subtotal.Equal(decimal.NewFromInt(20)))
	require.True(t, order.Tax.Equal(decimal.NewFromInt(3)))
	require.True(t, order.Total.Equal(decimal.NewFromInt(23)))
	require.Equal(t, *address(), order.ShippingAddress)

	pending := f.outbox.AllPending()
	require.Len(t, pending, 1)
	require.Equal(t, string(kafka.EventTypeOrderCreated), pending[0].EventType)

	events, err := f.timeline.List(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestCreateOrder_CopiesItems(t *testing.T) {
	f := newFixture(t)
	checkout := checkoutOf(shirts("M", 2))

	id, err := f.workflow.CreateOrder(context.Background(), checkout)
	require.NoError(t, err)

	checkout.Items[0].Quantity = 7
	order, err := f.orders.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, 2, order.Items[0].Quantity)
}

func TestCreateOrder_MissingAddressWritesNothing(t *testing.T) {
	f := newFixture(t)
	checkout := checkoutOf(shirts("M", 2))
	checkout.Address = nil

	_, err := f.workflow.CreateOrder(context.Background(), checkout)
	requireKind(t, err, domain.KindMissingAddress)

	orders, err := f.orders.List(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, orders)
	require.Empty(t, f.outbox.AllPending())

	checkout.Address = &domain.Address{Address2: "apt 4"}
	_, err = f.workflow.CreateOrder(context.Background(), checkout)
	requireKind(t, err, domain.KindMissingAddress)
}

func TestCreateOrder_MissingOwner(t *testing.T) {
	f := newFixture(t)
	checkout := checkoutOf(shirts("M", 1))
	checkout.UserID = "  "

	_, err := f.workflow.CreateOrder(context.Background(), checkout)
	requireKind(t, err, domain.KindMissingOwner)
	require.ErrorIs(t, err, domain.ErrUserRequired)

	orders, err := f.orders.List(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, orders)
}

func TestCreateOrder_IncompleteLineItem(t *testing.T) {
	f := newFixture(t)

	_, err := f.workflow.CreateOrder(context.Background(), checkoutOf(shirts("M", 1), shirts("", 1)))
	requireKind(t, err, domain.KindIncompleteLineItem)

	_, err = f.workflow.CreateOrder(context.Background(), checkoutOf())
	requireKind(t, err, domain.KindIncompleteLineItem)

	orders, _ := f.orders.List(context.Background(), 0)
	require.Empty(t, orders)
}

func TestCreateOrder_InconsistentSummaryRejected(t *testing.T) {
	f := newFixture(t)
	checkout := checkoutOf(shirts("M", 2))
	checkout.Summary.Total = decimal.NewFromInt(1)

	_, err := f.workflow.CreateOrder(context.Background(), checkout)
	requireKind(t, err, domain.KindAmountMismatch)
}

type failingOrders struct {
	domain.OrderRepository
	createErr error
	saveErr   error
	getErr    error
}

func (r *failingOrders) Create(ctx context.Context, order domain.Order) error {
	if r.createErr != nil {
		return r.createErr
	}
	return r.OrderRepository.Create(ctx, order)
}

func (r *failingOrders) Save(ctx context.Context, order domain.Order) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	return r.OrderRepository.Save(ctx, order)
}

func (r *failingOrders) Get(ctx context.Context, id string) (domain.Order, error) {
	if r.getErr != nil {
		return domain.Order{}, r.getErr
	}
	return r.OrderRepository.Get(ctx, id)
}

func TestCreateOrder_StorageFailureMessage(t *testing.T) {
	repo := &failingOrders{OrderRepository: memory.NewOrderRepository()}
	w := NewWorkflow(repo, payment.NewMockProcessor(decimal.Zero))

	repo.createErr = &domain.StorageError{Message: "order store is read-only", Err: errors.New("pq: read-only")}
	_, err := w.CreateOrder(context.Background(), checkoutOf(shirts("M", 1)))
	requireKind(t, err, domain.KindStorageFailure)
	require.Equal(t, "order store is read-only", domain.MessageOf(err))

	repo.createErr = errors.New("connection reset")
	_, err = w.CreateOrder(context.Background(), checkoutOf(shirts("M", 1)))
	requireKind(t, err, domain.KindStorageFailure)
	require.Equal(t, genericStorageMessage, domain.MessageOf(err))
}

func TestSettlePayment_Success(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t)

	err := f.workflow.SettlePayment(context.Background(), order.ID, "tx-1")
	require.NoError(t, err)

	paid, err := f.orders.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.True(t, paid.IsPaid)
	require.Equal(t, "tx-1", paid.TransactionID)
	require.False(t, paid.PaidAt.IsZero())
	require.True(t, paid.Total.Equal(order.Total), "totals must never be recomputed")

	var types []string
	for _, msg := range f.outbox.AllPending() {
		types = append(types, msg.EventType)
	}
	require.ElementsMatch(t, []string{string(kafka.EventTypeOrderCreated), string(kafka.EventTypeOrderPaid)}, types)

	events, err := f.timeline.List(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, string(kafka.EventTypeOrderPaid), events[1].Type)
	require.Equal(t, "tx-1", events[1].TransactionID)
	require.Empty(t, events[0].TransactionID)
}

func TestSettlePayment_AmountMismatchLeavesOrderUnpaid(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t)
	f.payments.Statuses["tx-short"] = payment.TransactionStatusFor(domain.TransactionStatusCompleted, "22.99")

	err := f.workflow.SettlePayment(context.Background(), order.ID, "tx-short")
	requireKind(t, err, domain.KindAmountMismatch)

	stored, _ := f.orders.Get(context.Background(), order.ID)
	require.False(t, stored.IsPaid)
	require.Empty(t, stored.TransactionID)
	require.Equal(t, order.Version, stored.Version)

	events, err := f.timeline.List(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, string(kafka.EventTypePaymentRejected), events[1].Type)
	require.Equal(t, "amount mismatch", events[1].Reason)
	require.Equal(t, "tx-short", events[1].TransactionID)
}

func TestSettlePayment_CurrencyMismatch(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t)
	eur := payment.TransactionStatusFor(domain.TransactionStatusCompleted, "23")
	eur.Currency = "EUR"
	f.payments.Statuses["tx-eur"] = eur

	err := f.workflow.SettlePayment(context.Background(), order.ID, "tx-eur")
	requireKind(t, err, domain.KindAmountMismatch)
	require.Contains(t, domain.MessageOf(err), "currency")

	stored, _ := f.orders.Get(context.Background(), order.ID)
	require.False(t, stored.IsPaid)

	events, err := f.timeline.List(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "currency mismatch", events[1].Reason)
}

func TestSettlePayment_ConfiguredCurrency(t *testing.T) {
	f := newFixture(t, WithCurrency(" eur "))
	order := f.createOrder(t)

	// Ответ в USD при валюте витрины EUR отклоняется.
	requireKind(t, f.workflow.SettlePayment(context.Background(), order.ID, "tx-usd"), domain.KindAmountMismatch)

	eur := payment.TransactionStatusFor(domain.TransactionStatusCompleted, "23")
	eur.Currency = "eur"
	f.payments.Statuses["tx-eur"] = eur
	require.NoError(t, f.workflow.SettlePayment(context.Background(), order.ID, "tx-eur"))
}

func TestSettlePayment_AmountComparisonIsExact(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t)
	f.payments.Statuses["tx-1"] = payment.TransactionStatusFor(domain.TransactionStatusCompleted, "23.00")

	require.NoError(t, f.workflow.SettlePayment(context.Background(), order.ID, "tx-1"))
}

func TestSettlePayment_NotCompleted(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t)
	f.payments.Statuses["tx-1"] = payment.TransactionStatusFor("APPROVED", "23")

	err := f.workflow.SettlePayment(context.Background(), order.ID, "tx-1")
	requireKind(t, err, domain.KindPaymentNotCompleted)

	stored, _ := f.orders.Get(context.Background(), order.ID)
	require.False(t, stored.IsPaid)
}

func TestSettlePayment_ProviderUnavailable(t *testing.T) {
	t.Run("token error", func(t *testing.T) {
		f := newFixture(t)
		order := f.createOrder(t)
		f.payments.TokenErr = errors.New("oauth down")

		err := f.workflow.SettlePayment(context.Background(), order.ID, "tx-1")
		requireKind(t, err, domain.KindPaymentProviderUnavailable)
		require.Equal(t, 0, f.payments.StatusCalls)
		require.Equal(t, 1, f.payments.TokenCalls, "token fetch is not retried")
	})

	t.Run("empty token", func(t *testing.T) {
		f := newFixture(t)
		order := f.createOrder(t)
		f.payments.Token = ""

		err := f.workflow.SettlePayment(context.Background(), order.ID, "tx-1")
		requireKind(t, err, domain.KindPaymentProviderUnavailable)
	})

	t.Run("status error", func(t *testing.T) {
		f := newFixture(t)
		order := f.createOrder(t)
		f.payments.StatusErr = errors.New("500")

		err := f.workflow.SettlePayment(context.Background(), order.ID, "tx-1")
		requireKind(t, err, domain.KindPaymentProviderUnavailable)

		stored, _ := f.orders.Get(context.Background(), order.ID)
		require.False(t, stored.IsPaid)
	})
}

type hangingProcessor struct{}

func (hangingProcessor) AccessToken(ctx context.Context) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (hangingProcessor) TransactionStatus(ctx context.Context, _, _ string) (domain.TransactionStatus, error) {
	<-ctx.Done()
	return domain.TransactionStatus{}, ctx.Err()
}

func TestSettlePayment_ProviderCallsAreBounded(t *testing.T) {
	w := NewWorkflow(memory.NewOrderRepository(), hangingProcessor{}, WithPaymentTimeout(20*time.Millisecond))

	start := time.Now()
	err := w.SettlePayment(context.Background(), "order-1", "tx-1")
	requireKind(t, err, domain.KindPaymentProviderUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), time.Second)
}

func TestSettlePayment_OrderNotFound(t *testing.T) {
	f := newFixture(t)

	err := f.workflow.SettlePayment(context.Background(), "missing", "tx-1")
	requireKind(t, err, domain.KindOrderNotFound)

	err = f.workflow.SettlePayment(context.Background(), "", "tx-1")
	requireKind(t, err, domain.KindOrderNotFound)
}

func TestSettlePayment_StorageFailureOnLoad(t *testing.T) {
	repo := &failingOrders{OrderRepository: memory.NewOrderRepository(), getErr: errors.New("timeout")}
	w := NewWorkflow(repo, payment.NewMockProcessor(decimal.NewFromInt(23)))

	err := w.SettlePayment(context.Background(), "order-1", "tx-1")
	requireKind(t, err, domain.KindStorageFailure)
	require.True(t, domain.KindStorageFailure.Transient())
}

func TestSettlePayment_AlreadyPaid(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t)
	require.NoError(t, f.workflow.SettlePayment(context.Background(), order.ID, "tx-1"))

	// Повтор той же транзакции ничего не меняет.
	require.NoError(t, f.workflow.SettlePayment(context.Background(), order.ID, "tx-1"))

	err := f.workflow.SettlePayment(context.Background(), order.ID, "tx-2")
	requireKind(t, err, domain.KindAlreadyPaid)

	stored, _ := f.orders.Get(context.Background(), order.ID)
	require.Equal(t, "tx-1", stored.TransactionID)
	require.Equal(t, order.Version+1, stored.Version)
}

// racingOrders имитирует конкурентную оплату: перед первым Save заказ уже оплачен другим запросом.
type racingOrders struct {
	domain.OrderRepository
	once    sync.Once
	otherTx string
}

func (r *racingOrders) Save(ctx context.Context, order domain.Order) error {
	r.once.Do(func() {
		current, _ := r.OrderRepository.Get(ctx, order.ID)
		current.IsPaid = true
		current.TransactionID = r.otherTx
		_ = r.OrderRepository.Save(ctx, current)
	})
	return r.OrderRepository.Save(ctx, order)
}

func TestSettlePayment_VersionConflict(t *testing.T) {
	t.Run("same transaction won the race", func(t *testing.T) {
		repo := &racingOrders{OrderRepository: memory.NewOrderRepository(), otherTx: "tx-1"}
		w := NewWorkflow(repo, payment.NewMockProcessor(decimal.NewFromInt(23)), WithRetryBaseDelay(0))
		id, err := w.CreateOrder(context.Background(), checkoutOf(shirts("M", 2)))
		require.NoError(t, err)

		require.NoError(t, w.SettlePayment(context.Background(), id, "tx-1"))
	})

	t.Run("other transaction won the race", func(t *testing.T) {
		repo := &racingOrders{OrderRepository: memory.NewOrderRepository(), otherTx: "tx-other"}
		w := NewWorkflow(repo, payment.NewMockProcessor(decimal.NewFromInt(23)), WithRetryBaseDelay(0))
		id, err := w.CreateOrder(context.Background(), checkoutOf(shirts("M", 2)))
		require.NoError(t, err)

		err = w.SettlePayment(context.Background(), id, "tx-1")
		requireKind(t, err, domain.KindAlreadyPaid)

		stored, _ := repo.Get(context.Background(), id)
		require.Equal(t, "tx-other", stored.TransactionID)
	})
}

func TestSettlePayment_SaveFailure(t *testing.T) {
	repo := &failingOrders{OrderRepository: memory.NewOrderRepository()}
	w := NewWorkflow(repo, payment.NewMockProcessor(decimal.NewFromInt(23)))
	id, err := w.CreateOrder(context.Background(), checkoutOf(shirts("M", 2)))
	require.NoError(t, err)

	repo.saveErr = errors.New("disk full")
	err = w.SettlePayment(context.Background(), id, "tx-1")
	requireKind(t, err, domain.KindStorageFailure)

	stored, _ := repo.OrderRepository.Get(context.Background(), id)
	require.False(t, stored.IsPaid)
}

func TestSettlePayment_ConcurrentCallsPayOnce(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.workflow.SettlePayment(context.Background(), order.ID, "tx-1")
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	stored, _ := f.orders.Get(context.Background(), order.ID)
	require.True(t, stored.IsPaid)
	require.Equal(t, order.Version+1, stored.Version)

	paidEvents := 0
	for _, msg := range f.outbox.AllPending() {
		if msg.EventType == string(kafka.EventTypeOrderPaid) {
			paidEvents++
		}
	}
	require.Equal(t, 1, paidEvents)
}
