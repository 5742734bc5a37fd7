package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

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
)

func init() {
	gin.SetMode(gin.TestMode)
}

var (
	shirt = domain.Product{
		ID:      "p-shirt",
		Slug:    "kids_shirt",
		Title:   "Kids Shirt",
		Price:   decimal.RequireFromString("10.50"),
		InStock: 25,
		Sizes:   []string{"S", "M"},
		Images:  []string{"shirt-front.jpg", "shirt-back.jpg"},
	}
	hoodie = domain.Product{
		ID:      "p-hoodie",
		Slug:    "hoodie",
		Title:   "Hoodie",
		Price:   decimal.RequireFromString("40"),
		InStock: 0,
		Sizes:   []string{"L"},
	}
	tote = domain.Product{
		ID:      "p-tote",
		Slug:    "tote_bag",
		Title:   "Tote Bag",
		Price:   decimal.RequireFromString("8"),
		InStock: 3,
		Sizes:   []string{"One", "Mini"},
	}
)

type fixture struct {
	router   *gin.Engine
	orders   domain.OrderRepository
	catalog  *memory.ProductCatalog
	payments *payment.MockProcessor
	idem     *memory.IdempotencyRepository
	timeline *memory.TimelineRepository
}

func testLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}

// newFixture собирает роутер поверх in-memory хранилищ и настоящего workflow.
func newFixture(t *testing.T, customize ...func(*Deps)) *fixture {
	t.Helper()

	f := &fixture{
		orders:   memory.NewOrderRepository(),
		catalog:  memory.NewProductCatalog(shirt, hoodie, tote),
		payments: payment.NewMockProcessor(decimal.Zero),
		idem:     memory.NewIdempotencyRepository(),
		timeline: memory.NewTimelineRepository(),
	}

	logger := testLogger()
	agg := cart.NewAggregator(decimal.RequireFromString("0.15"))
	workflow := settlement.NewWorkflow(f.orders, f.payments,
		settlement.WithLogger(logger),
		settlement.WithTimeline(f.timeline),
		settlement.WithRetryBaseDelay(0),
	)

	deps := Deps{
		Sessions: session.NewManager(memory.NewSessionStore(), agg, logger),
		Orders:   workflow,
		History:  f.orders,
		Timeline: f.timeline,
		Catalog:  f.catalog,
		Guard:    idempotency.NewGuard(f.idem, idempotency.WithGuardLogger(logger)),
		Logger:   logger,
	}
	for _, fn := range customize {
		fn(&deps)
	}
	f.router = NewRouter(deps)
	return f
}

// client хранит cookie сессии между запросами, как браузер.
type client struct {
	t      *testing.T
	router http.Handler
	cookie *http.Cookie
	header http.Header
}

func (f *fixture) client(t *testing.T) *client {
	return &client{t: t, router: f.router, header: http.Header{}}
}

func (f *fixture) user(t *testing.T, id string, role domain.Role) *client {
	c := f.client(t)
	c.header.Set(headerUserID, id)
	c.header.Set(headerUserRole, string(role))
	return c
}

// do выполняет запрос. body: значение для JSON или готовая строка.
func (c *client) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	c.t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(c.t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.header {
		req.Header[k] = v
	}
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}

	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)
	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == SessionCookie {
			c.cookie = cookie
		}
	}
	return w
}

func (c *client) addItem(productID, size string, qty int) *httptest.ResponseRecorder {
	return c.do(http.MethodPost, "/api/cart/items", gin.H{"productId": productID, "size": size, "quantity": qty})
}

func (c *client) setAddress() *httptest.ResponseRecorder {
	return c.do(http.MethodPut, "/api/checkout/address", validAddress())
}

func validAddress() domain.Address {
	return domain.Address{
		FirstName: "Ana",
		LastName:  "Lopez",
		Address:   "Main street 1",
		City:      "Madrid",
		Zip:       "28001",
		Country:   "ES",
		Phone:     "+34 600 000 000",
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	decode(t, w, &resp)
	return resp
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}
