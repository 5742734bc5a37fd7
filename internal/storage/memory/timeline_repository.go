package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

var errTimelineOrderRequired = errors.New("timeline event requires order id")

// TimelineRepository держит историю заказов в памяти процесса.
type TimelineRepository struct {
	mu     sync.RWMutex
	events map[string][]domain.TimelineEvent
	now    func() time.Time
}

// NewTimelineRepository создаёт пустую историю.
func NewTimelineRepository() *TimelineRepository {
	return &TimelineRepository{
		events: make(map[string][]domain.TimelineEvent),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *TimelineRepository) Append(_ context.Context, event domain.TimelineEvent) error {
	event.OrderID = strings.TrimSpace(event.OrderID)
	if event.OrderID == "" {
		return errTimelineOrderRequired
	}
	if event.Occurred.IsZero() {
		event.Occurred = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	events := append(r.events[event.OrderID], event)
	domain.SortTimeline(events)
	r.events[event.OrderID] = events
	return nil
}

// List возвращает копию истории заказа; для неизвестного заказа - пустой срез.
func (r *TimelineRepository) List(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := r.events[orderID]
	result := make([]domain.TimelineEvent, len(events))
	copy(result, events)
	return result, nil
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)
