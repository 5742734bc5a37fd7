package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	redisstore "github.com/vladislavdragonenkov/storefront/internal/storage/redis"
)

func testLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return log.NewEntry(logger)
}

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	ctx := context.Background()
	deps, err := initRuntimeDependencies(ctx, DefaultConfig(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { deps.close(testLogger()) })

	require.NotNil(t, deps.repo)
	require.NotNil(t, deps.outboxRepo)
	require.NotNil(t, deps.timelineRepo)
	require.NotNil(t, deps.idempotencyRepo)
	require.IsType(t, &memory.SessionStore{}, deps.sessionStore)
	require.Empty(t, deps.checkers)

	stats, err := deps.catalog.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, stats.Total)
	require.Equal(t, 1, stats.NoInventory)
}

func TestInitRuntimeDependencies_MemoryWithoutSeed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SeedDemoCatalog = false

	deps, err := initRuntimeDependencies(context.Background(), cfg, nil)
	require.NoError(t, err)

	stats, err := deps.catalog.Stats(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.Total)
}

func TestInitRuntimeDependencies_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.StorageDriver = StorageDriverPostgres },
			wantErr: "postgres storage requires dsn",
		},
		{
			name:    "unsupported driver",
			mutate:  func(c *Config) { c.StorageDriver = "sqlite" },
			wantErr: `unsupported storage driver "sqlite"`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)

			deps, err := initRuntimeDependencies(context.Background(), cfg, testLogger())
			require.Error(t, err)
			require.Nil(t, deps)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestInitRuntimeDependencies_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := DefaultConfig()
	cfg.RedisAddr = mr.Addr()

	deps, err := initRuntimeDependencies(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { deps.close(testLogger()) })

	require.IsType(t, &redisstore.SessionStore{}, deps.sessionStore)
	require.Contains(t, deps.checkers, "redis")

	require.NoError(t, deps.sessionStore.Set(context.Background(), "s-1", "cart", "[]"))
	require.True(t, mr.Exists("session:s-1"))

	h := healthcheck.NewHandler("test")
	deps.registerHealth(h)
	status, checks := h.Run(context.Background())
	require.Equal(t, healthcheck.StatusHealthy, status)
	require.Contains(t, checks, "redis")
}

func TestInitRuntimeDependencies_RedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := DefaultConfig()
	cfg.RedisAddr = mr.Addr()
	mr.Close()

	deps, err := initRuntimeDependencies(context.Background(), cfg, testLogger())
	require.Error(t, err)
	require.Nil(t, deps)
	require.Contains(t, err.Error(), "ping redis")
}

func TestRuntimeDependencies_CloseInReverseOrder(t *testing.T) {
	var order []string
	deps := &runtimeDependencies{closers: []func() error{
		func() error { order = append(order, "postgres"); return nil },
		func() error { order = append(order, "redis"); return context.Canceled },
	}}

	deps.close(testLogger())
	require.Equal(t, []string{"redis", "postgres"}, order)
	require.Nil(t, deps.closers)

	deps.close(testLogger())
	require.Len(t, order, 2)
}
