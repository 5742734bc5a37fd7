package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// OrderRepository хранит заказы в памяти процесса. Позиции копируются на входе
// и на выходе, поэтому снимок корзины в заказе нельзя изменить снаружи.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
	byUser map[string][]string
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders: make(map[string]domain.Order),
		byUser: make(map[string][]string),
	}
}

// Create сохраняет заказ; занятый id - конфликт версии.
func (r *OrderRepository) Create(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.orders[order.ID]; taken {
		return domain.ErrOrderVersionConflict
	}
	r.orders[order.ID] = order.Clone()
	r.byUser[order.UserID] = append(r.byUser[order.UserID], order.ID)
	return nil
}

func (r *OrderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

func (r *OrderRepository) ListByUser(_ context.Context, userID string, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byUser[userID]
	orders := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		orders = append(orders, r.orders[id].Clone())
	}
	return newestFirst(orders, limit), nil
}

func (r *OrderRepository) List(_ context.Context, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	orders := make([]domain.Order, 0, len(r.orders))
	for _, o := range r.orders {
		orders = append(orders, o.Clone())
	}
	return newestFirst(orders, limit), nil
}

// Save заменяет заказ, если версия совпала с сохранённой, и увеличивает её.
func (r *OrderRepository) Save(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[order.ID]
	switch {
	case !ok:
		return domain.ErrOrderNotFound
	case stored.Version != order.Version:
		return domain.ErrOrderVersionConflict
	}
	order.Version++
	r.orders[order.ID] = order.Clone()
	return nil
}

func (r *OrderRepository) Stats(_ context.Context) (domain.OrderStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := domain.OrderStats{Total: len(r.orders)}
	for _, o := range r.orders {
		if o.IsPaid {
			stats.Paid++
		}
	}
	return stats, nil
}

// newestFirst сортирует по CreatedAt по убыванию; при равенстве больший id идёт первым.
func newestFirst(orders []domain.Order, limit int) []domain.Order {
	sort.Slice(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID > b.ID
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders
}

var _ domain.OrderRepository = (*OrderRepository)(nil)
