package domain

import "context"

// OrderStats — агрегаты по заказам для админской панели.
type OrderStats struct {
	Total int
	Paid  int
}

// Unpaid возвращает количество неоплаченных заказов.
func (s OrderStats) Unpaid() int {
	return s.Total - s.Paid
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ целиком или не сохраняет ничего.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// ListByUser возвращает заказы пользователя, новые первыми.
	ListByUser(ctx context.Context, userID string, limit int) ([]Order, error)
	// List возвращает все заказы, новые первыми.
	List(ctx context.Context, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(ctx context.Context, order Order) error
	// Stats считает заказы для админской панели.
	Stats(ctx context.Context) (OrderStats, error)
}
