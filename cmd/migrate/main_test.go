package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

// fakeMigrator записывает вызовы в порядке их выполнения.
type fakeMigrator struct {
	calls   []string
	status  postgres.MigrationStatus
	downErr error
	upErr   error
}

func (f *fakeMigrator) MigrateUp(_ context.Context, steps int) error {
	f.calls = append(f.calls, "up:"+strconv.Itoa(steps))
	return f.upErr
}

func (f *fakeMigrator) MigrateDown(_ context.Context, steps int) error {
	f.calls = append(f.calls, "down:"+strconv.Itoa(steps))
	return f.downErr
}

func (f *fakeMigrator) Status(context.Context) (postgres.MigrationStatus, error) {
	return f.status, nil
}

func TestRun(t *testing.T) {
	cases := []struct {
		direction string
		steps     int
		calls     []string
	}{
		{direction: " UP ", steps: 0, calls: []string{"up:0"}},
		{direction: "up", steps: 2, calls: []string{"up:2"}},
		{direction: "down", steps: 0, calls: []string{"down:1"}},
		{direction: "down", steps: 3, calls: []string{"down:3"}},
		{direction: "redo", steps: 5, calls: []string{"down:1", "up:1"}},
		{direction: "status", steps: 0, calls: nil},
	}

	for _, tc := range cases {
		t.Run(tc.direction, func(t *testing.T) {
			m := &fakeMigrator{status: postgres.MigrationStatus{Version: 4, Applied: 4}}
			var out bytes.Buffer

			require.NoError(t, run(context.Background(), m, tc.direction, tc.steps, &out))
			require.Equal(t, tc.calls, m.calls)
			require.Contains(t, out.String(), "version=4 applied=4 pending=0")
		})
	}
}

func TestRun_Failures(t *testing.T) {
	var out bytes.Buffer

	m := &fakeMigrator{upErr: errors.New("lock timeout")}
	require.ErrorContains(t, run(context.Background(), m, "up", 0, &out), "migrate up: lock timeout")

	m = &fakeMigrator{downErr: errors.New("no rows")}
	require.ErrorContains(t, run(context.Background(), m, "redo", 0, &out), "redo rollback")
	require.Equal(t, []string{"down:1"}, m.calls, "redo stops after a failed rollback")

	m = &fakeMigrator{upErr: errors.New("syntax error")}
	require.ErrorContains(t, run(context.Background(), m, "redo", 0, &out), "redo apply")

	require.ErrorContains(t, run(context.Background(), &fakeMigrator{}, "sideways", 0, &out), "unsupported direction")
	require.Empty(t, out.String())
}

func TestParseOptions(t *testing.T) {
	env := map[string]string{envPostgresDSN: " postgres://env "}
	getenv := func(k string) string { return env[k] }

	opts, err := parseOptions([]string{"-direction", "Down", "-steps", "2"}, getenv)
	require.NoError(t, err)
	require.Equal(t, options{direction: "down", steps: 2, dsn: "postgres://env", timeout: defaultTimeout}, opts)

	opts, err = parseOptions([]string{"-dsn", "postgres://flag", "-timeout", "5s"}, getenv)
	require.NoError(t, err)
	require.Equal(t, "postgres://flag", opts.dsn)
	require.Equal(t, 5*time.Second, opts.timeout)

	_, err = parseOptions(nil, func(string) string { return "" })
	require.ErrorContains(t, err, envPostgresDSN)

	_, err = parseOptions([]string{"-steps", "-1"}, getenv)
	require.ErrorContains(t, err, "non-negative")

	_, err = parseOptions([]string{"-unknown"}, getenv)
	require.Error(t, err)
}

func TestMainMissingDSNExits(t *testing.T) {
	if os.Getenv("MIGRATE_TEST_EXIT") == "1" {
		os.Args = []string{"migrate", "-direction=status", "-dsn="}
		_ = os.Unsetenv(envPostgresDSN)
		main()
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestMainMissingDSNExits")
	cmd.Env = append(os.Environ(), "MIGRATE_TEST_EXIT=1")
	err := cmd.Run()
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 2, exitErr.ExitCode())
}
