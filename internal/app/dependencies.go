package app

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/storefront/internal/storage/redis"
)

// runtimeDependencies — хранилища, выбранные конфигурацией.
type runtimeDependencies struct {
	repo            domain.OrderRepository
	catalog         domain.ProductCatalog
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository
	sessionStore    domain.SessionStore

	checkers map[string]healthcheck.Checker
	closers  []func() error
}

// initRuntimeDependencies открывает хранилища согласно StorageDriver и RedisAddr.
// При ошибке уже открытые подключения закрываются.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	deps := &runtimeDependencies{checkers: make(map[string]healthcheck.Checker)}
	if err := deps.open(ctx, cfg, logger); err != nil {
		deps.close(logger)
		return nil, err
	}
	return deps, nil
}

func (d *runtimeDependencies) open(ctx context.Context, cfg Config, logger *log.Entry) error {
	switch cfg.StorageDriver {
	case StorageDriverMemory:
		catalog := memory.NewProductCatalog()
		if cfg.SeedDemoCatalog {
			seedCatalog(ctx, catalog, logger)
		}
		d.repo = memory.NewOrderRepository()
		d.catalog = catalog
		d.outboxRepo = memory.NewOutboxRepository()
		d.timelineRepo = memory.NewTimelineRepository()
		d.idempotencyRepo = memory.NewIdempotencyRepository()
		logger.Info("using in-memory storage")

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return errors.New("postgres storage requires dsn")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, store.Close)

		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
			status, err := store.Status(ctx)
			if err == nil {
				logger.WithField("schema_version", status.Version).Info("postgres migrations applied")
			}
		}

		d.repo = postgres.NewOrderRepository(store)
		d.catalog = postgres.NewProductCatalog(store)
		d.outboxRepo = postgres.NewOutboxRepository(store)
		d.timelineRepo = postgres.NewTimelineRepository(store)
		d.idempotencyRepo = postgres.NewIdempotencyRepository(store)
		d.checkers["postgres"] = healthcheck.NewPingChecker("postgres", store.Ping)
		logger.Info("using postgres storage")

	default:
		return fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	if cfg.RedisAddr == "" {
		d.sessionStore = memory.NewSessionStore()
		return nil
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	d.closers = append(d.closers, client.Close)

	sessions := redisstore.NewSessionStore(client, cfg.SessionTTL)
	if err := sessions.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	d.sessionStore = sessions
	d.checkers["redis"] = healthcheck.NewPingChecker("redis", sessions.Ping)
	logger.WithField("addr", cfg.RedisAddr).Info("using redis session store")

	return nil
}

// registerHealth подключает проверки хранилищ к health handler.
func (d *runtimeDependencies) registerHealth(h *healthcheck.Handler) {
	for name, checker := range d.checkers {
		h.RegisterChecker(name, checker)
	}
}

// close закрывает подключения в обратном порядке.
func (d *runtimeDependencies) close(logger *log.Entry) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logger.WithError(err).Warn("failed to close dependency")
		}
	}
	d.closers = nil
}

// seedCatalog наполняет in-memory каталог демонстрационными товарами.
func seedCatalog(ctx context.Context, catalog domain.ProductCatalog, logger *log.Entry) {
	products := []domain.Product{
		{
			Slug:    "mens_chill_crew_neck_sweatshirt",
			Title:   "Men's Chill Crew Neck Sweatshirt",
			Price:   decimal.NewFromInt(75),
			InStock: 7,
			Sizes:   []string{"XS", "S", "M", "L", "XL", "XXL"},
			Images:  []string{"1740176-00-A_0_2000.jpg", "1740176-00-A_1.jpg"},
		},
		{
			Slug:    "men_quilted_shirt_jacket",
			Title:   "Men's Quilted Shirt Jacket",
			Price:   decimal.NewFromInt(200),
			InStock: 5,
			Sizes:   []string{"XS", "S", "M", "XL", "XXL"},
			Images:  []string{"1740507-00-A_0_2000.jpg", "1740507-00-A_1.jpg"},
		},
		{
			Slug:    "men_raven_lightweight_zip_up_bomber_jacket",
			Title:   "Men's Raven Lightweight Zip Up Bomber Jacket",
			Price:   decimal.NewFromInt(130),
			InStock: 10,
			Sizes:   []string{"S", "M", "L", "XL", "XXL"},
			Images:  []string{"1740250-00-A_0_2000.jpg", "1740250-00-A_1.jpg"},
		},
		{
			Slug:    "kids_scribble_t_logo_tee",
			Title:   "Kids Scribble T Logo Tee",
			Price:   decimal.NewFromInt(25),
			InStock: 0,
			Sizes:   []string{"XS", "S", "M"},
			Images:  []string{"8529312-00-A_0_2000.jpg", "8529312-00-A_1.jpg"},
		},
	}

	for _, p := range products {
		if _, err := catalog.Create(ctx, p); err != nil {
			logger.WithError(err).WithField("slug", p.Slug).Warn("failed to seed product")
		}
	}
}
