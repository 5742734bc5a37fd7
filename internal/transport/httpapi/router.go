// Package httpapi — REST API витрины на gin: каталог, корзина, адрес доставки,
// оформление и оплата заказа, история заказов и админская панель.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/session"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	defaultSessionTTL = 30 * 24 * time.Hour
	defaultListLimit  = 50
)

// OrderService оформляет заказы и подтверждает их оплату.
type OrderService interface {
	session.OrderPlacer
	SettlePayment(ctx context.Context, orderID, transactionID string) error
}

// Deps — зависимости REST API. Timeline, Guard, Health и Metrics необязательны.
type Deps struct {
	Sessions *session.Manager
	Orders   OrderService
	History  domain.OrderRepository
	Timeline domain.TimelineRepository
	Catalog  domain.ProductCatalog
	Identity domain.IdentityProvider
	Guard    *idempotency.Guard
	Health   *health.Handler
	Metrics  *metrics.HTTPMetrics
	Logger   *log.Entry

	SessionTTL   time.Duration
	SecureCookie bool
}

type api struct {
	sessions *session.Manager
	orders   OrderService
	history  domain.OrderRepository
	timeline domain.TimelineRepository
	catalog  domain.ProductCatalog
	identity domain.IdentityProvider
	validate *validatorv10.Validate
	logger   *log.Entry
}

// NewRouter собирает gin-роутер со всеми маршрутами витрины.
func NewRouter(deps Deps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = log.WithField("component", "http")
	}
	if deps.Identity == nil {
		deps.Identity = ContextIdentity{}
	}
	if deps.SessionTTL <= 0 {
		deps.SessionTTL = defaultSessionTTL
	}

	a := &api{
		sessions: deps.Sessions,
		orders:   deps.Orders,
		history:  deps.History,
		timeline: deps.Timeline,
		catalog:  deps.Catalog,
		identity: deps.Identity,
		validate: newValidator(),
		logger:   deps.Logger,
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestID(), accessLog(deps.Logger, deps.Metrics))

	r.GET("/livez", gin.WrapF(health.LivenessHandler))
	if deps.Health != nil {
		r.GET("/healthz", gin.WrapH(deps.Health))
		r.GET("/readyz", gin.WrapF(deps.Health.ReadinessHandler))
	}
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, version.Get())
	})

	withSession := sessionCookie(deps.Sessions, deps.SessionTTL, deps.SecureCookie)
	withIdempotency := idempotent(deps.Guard, deps.Identity, deps.Logger)

	root := r.Group("/api", identityFromHeaders())
	root.GET("/products", a.listProducts)
	root.GET("/products/:slug", a.getProductBySlug)

	shop := root.Group("", withSession)
	shop.GET("/cart", a.getCart)
	shop.POST("/cart/items", a.addCartItem)
	shop.PATCH("/cart/items", a.updateCartItem)
	shop.DELETE("/cart/items", a.removeCartItem)
	shop.GET("/checkout/address", a.getAddress)
	shop.PUT("/checkout/address", a.putAddress)
	shop.DELETE("/checkout/address", a.deleteAddress)

	orders := root.Group("/orders", requireUser(deps.Identity))
	orders.POST("", withSession, withIdempotency, a.createOrder)
	orders.POST("/pay", withIdempotency, a.payOrder)
	orders.GET("", a.listOrders)
	orders.GET("/:id", a.getOrder)

	admin := root.Group("/admin", requireStaff(deps.Identity))
	admin.GET("/dashboard", a.dashboard)
	admin.GET("/orders", a.adminOrders)
	admin.GET("/products", a.listProducts)
	admin.POST("/products", a.createProduct)
	if deps.Timeline != nil {
		admin.GET("/orders/:id/timeline", a.orderTimeline)
	}

	return r
}

func (a *api) currentUser(c *gin.Context) domain.Identity {
	user, _ := a.identity.CurrentUser(c.Request.Context())
	return user
}
