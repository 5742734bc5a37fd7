// Command migrate применяет и откатывает встроенные миграции схемы postgres.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "SHOP_POSTGRES_DSN"
)

// migrator — часть postgres.Store, нужная утилите.
type migrator interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	Status(ctx context.Context) (postgres.MigrationStatus, error)
}

type options struct {
	direction string
	steps     int
	dsn       string
	timeout   time.Duration
}

func main() {
	logger := log.WithField("component", "migrate")

	opts, err := parseOptions(os.Args[1:], os.Getenv)
	if err != nil {
		logger.WithError(err).Error("invalid arguments")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	store, err := postgres.Open(ctx, opts.dsn)
	if err != nil {
		logger.WithError(err).Error("open postgres store")
		os.Exit(1)
	}

	err = run(ctx, store, opts.direction, opts.steps, os.Stdout)
	_ = store.Close()
	if err != nil {
		logger.WithError(err).WithField("direction", opts.direction).Error("migration failed")
		os.Exit(1)
	}
}

// parseOptions разбирает флаги; DSN без флага берётся из окружения.
func parseOptions(args []string, getenv func(string) string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.direction, "direction", "up", "up|down|redo|status")
	fs.IntVar(&opts.steps, "steps", 0, "migrations to apply or roll back (0 = all for up, 1 for down)")
	fs.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	fs.DurationVar(&opts.timeout, "timeout", defaultTimeout, "overall deadline")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.direction = strings.ToLower(strings.TrimSpace(opts.direction))
	opts.dsn = strings.TrimSpace(opts.dsn)
	if opts.dsn == "" {
		opts.dsn = strings.TrimSpace(getenv(envPostgresDSN))
	}
	if opts.dsn == "" {
		return options{}, fmt.Errorf("%s (or -dsn) is required", envPostgresDSN)
	}
	if opts.steps < 0 {
		return options{}, errors.New("steps must be non-negative")
	}
	if opts.timeout <= 0 {
		opts.timeout = defaultTimeout
	}
	return opts, nil
}

// run выполняет одну команду и печатает итоговое состояние схемы.
// redo откатывает последнюю миграцию и сразу применяет её снова.
func run(ctx context.Context, m migrator, direction string, steps int, out io.Writer) error {
	direction = strings.ToLower(strings.TrimSpace(direction))
	switch direction {
	case "up":
		if err := m.MigrateUp(ctx, steps); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
	case "down":
		if steps <= 0 {
			steps = 1
		}
		if err := m.MigrateDown(ctx, steps); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
	case "redo":
		if err := m.MigrateDown(ctx, 1); err != nil {
			return fmt.Errorf("redo rollback: %w", err)
		}
		if err := m.MigrateUp(ctx, 1); err != nil {
			return fmt.Errorf("redo apply: %w", err)
		}
	case "status":
	default:
		return fmt.Errorf("unsupported direction %q (use up|down|redo|status)", direction)
	}

	status, err := m.Status(ctx)
	if err != nil {
		return fmt.Errorf("read migration status: %w", err)
	}
	_, err = fmt.Fprintf(out, "%s: version=%d applied=%d pending=%d\n", direction, status.Version, status.Applied, status.Pending)
	return err
}
