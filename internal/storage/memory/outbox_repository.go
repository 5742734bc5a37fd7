package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultOutboxBatch = 100

type outboxEntry struct {
	msg       domain.OutboxMessage
	status    domain.OutboxStatus
	attempts  int
	seq       uint64
	createdAt time.Time
	updatedAt time.Time
}

// OutboxRepository хранит события заказов до публикации в Kafka.
// Порядок выдачи - порядок Enqueue, даже при совпадении времени.
type OutboxRepository struct {
	mu      sync.RWMutex
	entries map[string]*outboxEntry
	seq     uint64
	now     func() time.Time
}

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{
		entries: make(map[string]*outboxEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock подменяет источник времени (тесты возраста backlog).
func (r *OutboxRepository) WithClock(now func() time.Time) *OutboxRepository {
	r.now = now
	return r
}

func (r *OutboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if _, dup := r.entries[msg.ID]; dup {
		return domain.OutboxMessage{}, fmt.Errorf("outbox message %s already enqueued", msg.ID)
	}
	msg.Payload = append([]byte(nil), msg.Payload...)

	now := r.now()
	r.seq++
	r.entries[msg.ID] = &outboxEntry{
		msg:       msg,
		status:    domain.OutboxStatusPending,
		seq:       r.seq,
		createdAt: now,
		updatedAt: now,
	}
	return msg, nil
}

// PullPending не меняет статус: запись остаётся pending до MarkSent или MarkFailed.
func (r *OutboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxBatch
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	pending := r.pending()
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return messagesOf(pending), nil
}

func (r *OutboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, e := range r.entries {
		switch e.status {
		case domain.OutboxStatusPending:
			stats.PendingCount++
			if stats.OldestPendingAt.IsZero() || e.createdAt.Before(stats.OldestPendingAt) {
				stats.OldestPendingAt = e.createdAt
			}
		case domain.OutboxStatusFailed:
			stats.FailedCount++
		}
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(_ context.Context, id string) error {
	return r.transition(id, domain.OutboxStatusSent)
}

func (r *OutboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.transition(id, domain.OutboxStatusFailed)
}

// AllPending - все pending-записи в порядке выдачи; для тестов.
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return messagesOf(r.pending())
}

func (r *OutboxRepository) transition(id string, status domain.OutboxStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("outbox message %s: %w", id, domain.ErrOutboxPublish)
	}
	e.status = status
	e.attempts++
	e.updatedAt = r.now()
	return nil
}

func (r *OutboxRepository) pending() []*outboxEntry {
	out := make([]*outboxEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.status == domain.OutboxStatusPending {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func messagesOf(entries []*outboxEntry) []domain.OutboxMessage {
	out := make([]domain.OutboxMessage, 0, len(entries))
	for _, e := range entries {
		msg := e.msg
		msg.Payload = append([]byte(nil), e.msg.Payload...)
		out = append(out, msg)
	}
	return out
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
