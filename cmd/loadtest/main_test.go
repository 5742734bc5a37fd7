package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/service/settlement"
	"github.com/vladislavdragonenkov/storefront/internal/session"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/transport/httpapi"
)

// newStorefront поднимает REST API витрины поверх in-memory хранилищ.
// Mock-провайдер подтверждает оплату на сумму одной рубашки с налогом: 10 + 1.5.
func newStorefront(t *testing.T) (*httptest.Server, domain.OrderRepository) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := log.New()
	logger.SetOutput(io.Discard)
	entry := log.NewEntry(logger)

	orders := memory.NewOrderRepository()
	catalog := memory.NewProductCatalog(domain.Product{
		ID:      "p-shirt",
		Slug:    "shirt",
		Title:   "Shirt",
		Price:   decimal.NewFromInt(10),
		InStock: 100,
		Sizes:   []string{"M"},
	})
	workflow := settlement.NewWorkflow(orders, payment.NewMockProcessor(decimal.RequireFromString("11.5")),
		settlement.WithLogger(entry),
		settlement.WithRetryBaseDelay(0),
	)

	router := httpapi.NewRouter(httpapi.Deps{
		Sessions: session.NewManager(memory.NewSessionStore(), cart.NewAggregator(decimal.RequireFromString("0.15")), entry),
		Orders:   workflow,
		History:  orders,
		Catalog:  catalog,
		Guard:    idempotency.NewGuard(memory.NewIdempotencyRepository(), idempotency.WithGuardLogger(entry)),
		Logger:   entry,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, orders
}

func testConfig(url string, mode loadMode) config {
	return config{
		baseURL:     url,
		total:       6,
		concurrency: 3,
		timeout:     5 * time.Second,
		mode:        mode,
		productID:   "p-shirt",
		size:        "M",
		quantity:    1,
		userTag:     "load",
		txPrefix:    "tx",
	}
}

func TestRunLoad_Modes(t *testing.T) {
	tests := []struct {
		mode        loadMode
		wantMethods []string
		wantOrders  int
		wantPaid    int
	}{
		{mode: modeCart, wantMethods: []string{"AddCartItem", "GetCart"}},
		{mode: modeCheckout, wantMethods: []string{"AddCartItem", "SetAddress", "CreateOrder"}, wantOrders: 6},
		{mode: modeCheckoutPay, wantMethods: []string{"AddCartItem", "SetAddress", "CreateOrder", "PayOrder"}, wantOrders: 6, wantPaid: 6},
	}

	for _, tc := range tests {
		t.Run(string(tc.mode), func(t *testing.T) {
			srv, orders := newStorefront(t)

			result := runLoad(context.Background(), testConfig(srv.URL, tc.mode), srv.Client().Transport)
			require.Equal(t, int64(6), result.TotalScenarios)
			require.Equal(t, int64(6), result.SuccessScenarios)
			require.Zero(t, result.FailedScenarios)
			for _, name := range tc.wantMethods {
				require.Equal(t, int64(6), result.Methods[name].Calls, name)
				require.Zero(t, result.Methods[name].Failed, name)
			}

			stats, err := orders.Stats(context.Background())
			require.NoError(t, err)
			require.Equal(t, tc.wantOrders, stats.Total)
			require.Equal(t, tc.wantPaid, stats.Paid)
		})
	}
}

func TestRunLoad_CountsFailures(t *testing.T) {
	srv, _ := newStorefront(t)
	cfg := testConfig(srv.URL, modeCheckout)
	cfg.productID = "missing"

	result := runLoad(context.Background(), cfg, srv.Client().Transport)
	require.Equal(t, int64(6), result.FailedScenarios)
	require.Equal(t, 1.0, result.ErrorRate)
	require.Equal(t, int64(6), result.Methods["AddCartItem"].Codes["404"])
	require.NotContains(t, result.Methods, "CreateOrder")
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig(flag.NewFlagSet("test", flag.ContinueOnError), []string{
		"-url=http://shop.local/",
		"-product=p-1",
		"-mode=checkout-pay",
		"-duration=1m",
		"-total=50",
	})
	require.NoError(t, err)
	require.Equal(t, "http://shop.local", cfg.baseURL)
	require.Equal(t, modeCheckoutPay, cfg.mode)
	require.True(t, cfg.totalSet)
	require.Equal(t, "duration:1m0s,max-total:50", runTarget(cfg))

	tests := []struct {
		args    []string
		wantErr string
	}{
		{[]string{"-product=p-1", "-mode=refund"}, "unsupported mode"},
		{[]string{}, "product is required"},
		{[]string{"-product=p-1", "-total=0"}, "total must be > 0"},
		{[]string{"-product=p-1", "-concurrency=0"}, "concurrency must be > 0"},
		{[]string{"-product=p-1", "-quantity=0"}, "quantity must be > 0"},
		{[]string{"-product=p-1", "-duration=-1s"}, "duration must be >= 0"},
	}
	for _, tc := range tests {
		_, err := parseConfig(flag.NewFlagSet("test", flag.ContinueOnError), tc.args)
		require.ErrorContains(t, err, tc.wantErr, tc.args)
	}
}

func TestDispatchJobs_Duration(t *testing.T) {
	jobs := make(chan int)
	go dispatchJobs(jobs, config{duration: 20 * time.Millisecond})

	var received int
	for range jobs {
		received++
		time.Sleep(time.Millisecond)
	}
	require.Positive(t, received)
}

func TestBuildLatencySummary(t *testing.T) {
	require.Equal(t, latencySummary{}, buildLatencySummary(nil))

	summary := buildLatencySummary([]float64{4, 1, 3, 2})
	require.Equal(t, 1.0, summary.Min)
	require.Equal(t, 4.0, summary.Max)
	require.Equal(t, 2.5, summary.Avg)
	require.Equal(t, 2.5, summary.P50)
	require.InDelta(t, 3.85, summary.P95, 1e-9)

	require.Equal(t, 7.0, percentile([]float64{7}, 99))
	require.Zero(t, ratio(1, 0))
}

func TestWriteJSONReport(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	result := report{TotalScenarios: 3, Methods: map[string]methodReport{"CreateOrder": {Calls: 3}}}
	require.NoError(t, writeJSONReport("report.json", result))

	raw, err := os.ReadFile(filepath.Join(dir, "report.json"))
	require.NoError(t, err)
	var decoded report
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, int64(3), decoded.TotalScenarios)

	require.ErrorContains(t, writeJSONReport("../escape.json", result), "inside current directory")
	require.ErrorContains(t, writeJSONReport(".", result), "must point to a file")
}

func TestPrintReport(t *testing.T) {
	var out bytes.Buffer
	printReport(&out, report{
		TotalScenarios: 2,
		Methods: map[string]methodReport{
			scenarioMethod: {Calls: 2},
			"PayOrder":     {Calls: 2, Success: 2},
		},
	}, config{mode: modeCheckoutPay, total: 2})

	require.Contains(t, out.String(), "mode=checkout-pay run=count:2 total=2")
	require.Contains(t, out.String(), "PayOrder: calls=2 success=2")
	require.NotContains(t, out.String(), "scenario: calls")
}
