package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// integrationDSN берёт адрес тестовой базы из окружения; без него интеграционные тесты пропускаются.
func integrationDSN(t *testing.T) string {
	t.Helper()
	for _, name := range []string{"SHOP_POSTGRES_TEST_DSN", "SHOP_POSTGRES_DSN"} {
		if dsn := strings.TrimSpace(os.Getenv(name)); dsn != "" {
			return dsn
		}
	}
	t.Skip("SHOP_POSTGRES_TEST_DSN is not set, skipping postgres integration test")
	return ""
}

// openRawPostgresStoreForIntegrationTest подключается к базе без миграций.
func openRawPostgresStoreForIntegrationTest(t *testing.T) *Store {
	t.Helper()
	dsn := integrationDSN(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres at %s is unreachable: %v", redactDSN(dsn), err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// openPostgresStoreForIntegrationTest накатывает схему и очищает таблицы витрины.
func openPostgresStoreForIntegrationTest(t *testing.T) *Store {
	t.Helper()
	store := openRawPostgresStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, store.MigrateUp(ctx, 0))
	_, err := store.DB().ExecContext(ctx, `
		TRUNCATE TABLE idempotency_keys, outbox_messages, order_timeline, order_items, orders, products
		RESTART IDENTITY CASCADE
	`)
	require.NoError(t, err)
	return store
}

// redactDSN прячет пароль, чтобы он не попал в вывод go test.
func redactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		creds = creds[:colon] + ":***"
	}
	return dsn[:scheme+3] + creds + dsn[at:]
}
