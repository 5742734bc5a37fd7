package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const orderColumns = `
	id, user_id, item_count, subtotal, tax, total,
	ship_first_name, ship_last_name, ship_address, ship_address2,
	ship_city, ship_zip, ship_country, ship_phone,
	is_paid, transaction_id, paid_at, version, created_at, updated_at`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

// Create пишет заказ и его позиции в одной транзакции.
func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		addr := order.ShippingAddress
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		`,
			order.ID, order.UserID, order.ItemCount, order.Subtotal, order.Tax, order.Total,
			addr.FirstName, addr.LastName, addr.Address, addr.Address2,
			addr.City, addr.Zip, addr.Country, addr.Phone,
			order.IsPaid, order.TransactionID, nullTime(order.PaidAt),
			order.Version, order.CreatedAt, order.UpdatedAt,
		); err != nil {
			return storageError("insert order", err)
		}

		for pos, item := range order.Items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (
					order_id, position, product_id, size, title, slug, unit_price, quantity, image
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			`,
				order.ID, pos, item.ProductID, item.Size, item.Title, item.Slug,
				item.UnitPrice, item.Quantity, item.Image,
			); err != nil {
				return storageError("insert order item", err)
			}
		}
		return nil
	})
	return storageError("create order", err)
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, storageError("select order", err)
	}

	items, err := r.loadItems(ctx, []string{order.ID})
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items[order.ID]

	return order, nil
}

func (r *orderRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	return r.list(ctx, `WHERE user_id = $1`, []any{userID}, limit)
}

func (r *orderRepository) List(ctx context.Context, limit int) ([]domain.Order, error) {
	return r.list(ctx, ``, nil, limit)
}

func (r *orderRepository) list(ctx context.Context, where string, args []any, limit int) ([]domain.Order, error) {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	query := `SELECT ` + orderColumns + ` FROM orders ` + where + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError("list orders", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	ids := make([]string, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, storageError("scan order row", err)
		}
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterate order rows", err)
	}
	if len(ids) == 0 {
		return orders, nil
	}

	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}

	return orders, nil
}

// Save фиксирует оплату заказа. Обновление проходит только при совпадении версии.
func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET is_paid = $1,
			    transaction_id = $2,
			    paid_at = $3,
			    version = version + 1,
			    updated_at = $4
			WHERE id = $5
			  AND version = $6
		`,
			order.IsPaid,
			order.TransactionID,
			nullTime(order.PaidAt),
			order.UpdatedAt,
			order.ID,
			order.Version,
		)
		if err != nil {
			return storageError("update order", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected > 0 {
			return nil
		}

		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, order.ID).Scan(&exists); err != nil {
			return storageError("check order exists", err)
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrOrderVersionConflict
	})
	return err
}

func (r *orderRepository) Stats(ctx context.Context) (domain.OrderStats, error) {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	var stats domain.OrderStats
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE is_paid)
		FROM orders
	`).Scan(&stats.Total, &stats.Paid); err != nil {
		return domain.OrderStats{}, storageError("order stats", err)
	}
	return stats, nil
}

// loadItems загружает позиции сразу для нескольких заказов.
func (r *orderRepository) loadItems(ctx context.Context, orderIDs []string) (map[string][]domain.LineItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, size, title, slug, unit_price, quantity, image
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, orderIDs)
	if err != nil {
		return nil, storageError("load order items", err)
	}
	defer rows.Close()

	result := make(map[string][]domain.LineItem, len(orderIDs))
	for rows.Next() {
		var (
			orderID string
			item    domain.LineItem
		)
		if err := rows.Scan(
			&orderID, &item.ProductID, &item.Size, &item.Title, &item.Slug,
			&item.UnitPrice, &item.Quantity, &item.Image,
		); err != nil {
			return nil, storageError("scan order item", err)
		}
		result[orderID] = append(result[orderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterate order items", err)
	}

	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order  domain.Order
		paidAt sql.NullTime
		addr   = &order.ShippingAddress
	)
	err := row.Scan(
		&order.ID, &order.UserID, &order.ItemCount, &order.Subtotal, &order.Tax, &order.Total,
		&addr.FirstName, &addr.LastName, &addr.Address, &addr.Address2,
		&addr.City, &addr.Zip, &addr.Country, &addr.Phone,
		&order.IsPaid, &order.TransactionID, &paidAt, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	if paidAt.Valid {
		order.PaidAt = paidAt.Time.UTC()
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

var _ domain.OrderRepository = (*orderRepository)(nil)
