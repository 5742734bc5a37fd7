package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// TimelineRepository пишет историю заказа в order_timeline.
type TimelineRepository struct {
	db *sql.DB
}

// NewTimelineRepository создаёт репозиторий истории поверх общего пула.
func NewTimelineRepository(store *Store) *TimelineRepository {
	return &TimelineRepository{db: store.DB()}
}

func (r *TimelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	orderID := strings.TrimSpace(event.OrderID)
	if orderID == "" {
		return errors.New("timeline event requires order id")
	}
	occurred := event.Occurred.UTC()
	if event.Occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	ctx, cancel := queryContext(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO order_timeline (order_id, event_type, reason, transaction_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`, orderID, event.Type, event.Reason, event.TransactionID, occurred)
	if err != nil {
		return storageError("append order timeline", err)
	}
	return nil
}

// List отдаёт историю в порядке событий; одинаковое время разрешается порядком вставки.
func (r *TimelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, event_type, reason, transaction_id, occurred_at
		FROM order_timeline
		WHERE order_id = $1
		ORDER BY occurred_at, id
	`, orderID)
	if err != nil {
		return nil, storageError("list order timeline", err)
	}
	defer rows.Close()

	var events []domain.TimelineEvent
	for rows.Next() {
		var e domain.TimelineEvent
		if err := rows.Scan(&e.OrderID, &e.Type, &e.Reason, &e.TransactionID, &e.Occurred); err != nil {
			return nil, storageError("scan order timeline", err)
		}
		e.Occurred = e.Occurred.UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterate order timeline", err)
	}
	if events == nil {
		events = []domain.TimelineEvent{}
	}
	return events, nil
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)
