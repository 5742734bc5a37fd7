package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type dashboardResponse struct {
	NumberOfOrders          int `json:"numberOfOrders"`
	PaidOrders              int `json:"paidOrders"`
	NotPaidOrders           int `json:"notPaidOrders"`
	NumberOfProducts        int `json:"numberOfProducts"`
	ProductsWithNoInventory int `json:"productsWithNoInventory"`
	LowInventory            int `json:"lowInventory"`
}

// dashboard собирает счётчики заказов и каталога параллельно.
func (a *api) dashboard(c *gin.Context) {
	var (
		orders   domain.OrderStats
		products domain.ProductStats
	)

	g, ctx := errgroup.WithContext(c.Request.Context())
	g.Go(func() error {
		var err error
		orders, err = a.history.Stats(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		products, err = a.catalog.Stats(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		writeError(c, a.logger, err)
		return
	}

	c.JSON(http.StatusOK, dashboardResponse{
		NumberOfOrders:          orders.Total,
		PaidOrders:              orders.Paid,
		NotPaidOrders:           orders.Unpaid(),
		NumberOfProducts:        products.Total,
		ProductsWithNoInventory: products.NoInventory,
		LowInventory:            products.LowInventory,
	})
}

type timelineEntry struct {
	Type          string    `json:"type"`
	Reason        string    `json:"reason,omitempty"`
	TransactionID string    `json:"transactionId,omitempty"`
	Occurred      time.Time `json:"occurred"`
}

func (a *api) adminOrders(c *gin.Context) {
	var q listQuery
	if !bindQuery(c, &q, a.validate) {
		return
	}

	orders, err := a.history.List(c.Request.Context(), limitOrDefault(q.Limit))
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, newOrderList(orders))
}

// orderTimeline отдаёт историю заказа: создание, оплату и отклонённые платежи.
func (a *api) orderTimeline(c *gin.Context) {
	ctx := c.Request.Context()
	orderID := c.Param("id")

	if _, err := a.history.Get(ctx, orderID); err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			abortWithMessage(c, http.StatusNotFound, "order not found")
			return
		}
		writeError(c, a.logger, err)
		return
	}

	events, err := a.timeline.List(ctx, orderID)
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	resp := make([]timelineEntry, 0, len(events))
	for _, e := range events {
		resp = append(resp, timelineEntry{
			Type:          e.Type,
			Reason:        e.Reason,
			TransactionID: e.TransactionID,
			Occurred:      e.Occurred,
		})
	}
	c.JSON(http.StatusOK, resp)
}
