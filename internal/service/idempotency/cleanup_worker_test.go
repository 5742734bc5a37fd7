package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func newCleanupWorker(repo domain.IdempotencyRepository, opts ...CleanupOption) *CleanupWorker {
	opts = append([]CleanupOption{WithCleanupMetrics(metrics.NewCleanupMetrics(prometheus.NewRegistry()))}, opts...)
	return NewCleanupWorker(repo, opts...)
}

func TestCleanupWorker_DeleteExpired_Batches(t *testing.T) {
	repo := &countingRepo{IdempotencyRepository: memory.NewIdempotencyRepository()}
	now := time.Now().UTC()
	for _, key := range []string{"a", "b", "c", "d", "e"} {
		_, err := repo.CreateProcessing(context.Background(), key, "hash", now.Add(-time.Minute))
		require.NoError(t, err)
	}
	_, err := repo.CreateProcessing(context.Background(), "alive", "hash", now.Add(time.Hour))
	require.NoError(t, err)

	worker := newCleanupWorker(repo, WithBatchSize(2))
	deleted, err := worker.DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 5, deleted)
	require.Equal(t, 3, repo.calls())

	_, err = repo.Get(context.Background(), "alive")
	require.NoError(t, err)
}

func TestCleanupWorker_DeleteExpired_Error(t *testing.T) {
	repo := &countingRepo{IdempotencyRepository: memory.NewIdempotencyRepository(), err: errors.New("boom")}

	deleted, err := newCleanupWorker(repo, WithBatchSize(10)).DeleteExpired(context.Background(), time.Now().UTC())
	require.EqualError(t, err, "boom")
	require.Zero(t, deleted)
}

func TestCleanupWorker_Run_StopsOnContextCancel(t *testing.T) {
	repo := &countingRepo{IdempotencyRepository: memory.NewIdempotencyRepository()}
	worker := newCleanupWorker(repo, WithInterval(5*time.Millisecond), WithBatchSize(10))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
	require.Positive(t, repo.calls())
}

// countingRepo считает вызовы DeleteExpired поверх настоящего in-memory репозитория.
type countingRepo struct {
	domain.IdempotencyRepository

	mu    sync.Mutex
	count int
	err   error
}

func (r *countingRepo) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	r.mu.Lock()
	r.count++
	err := r.err
	r.mu.Unlock()

	if err != nil {
		return 0, err
	}
	return r.IdempotencyRepository.DeleteExpired(ctx, before, limit)
}

func (r *countingRepo) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
