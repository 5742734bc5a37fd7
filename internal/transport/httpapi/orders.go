package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type createOrderResponse struct {
	OrderID string `json:"orderId"`
}

type payOrderRequest struct {
	TransactionID string `json:"transactionId" validate:"required"`
	OrderID       string `json:"orderId" validate:"required"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type listQuery struct {
	Limit int `form:"limit" validate:"omitempty,min=1,max=200"`
}

type orderResponse struct {
	ID              string            `json:"id"`
	UserID          string            `json:"userId"`
	Items           []domain.LineItem `json:"orderItems"`
	ShippingAddress domain.Address    `json:"shippingAddress"`
	NumberOfItems   int               `json:"numberOfItems"`
	SubTotal        decimal.Decimal   `json:"subTotal"`
	Tax             decimal.Decimal   `json:"tax"`
	Total           decimal.Decimal   `json:"total"`
	IsPaid          bool              `json:"isPaid"`
	PaidAt          *time.Time        `json:"paidAt,omitempty"`
	TransactionID   string            `json:"transactionId,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
}

func newOrderResponse(o domain.Order) orderResponse {
	resp := orderResponse{
		ID:              o.ID,
		UserID:          o.UserID,
		Items:           o.Items,
		ShippingAddress: o.ShippingAddress,
		NumberOfItems:   o.ItemCount,
		SubTotal:        o.Subtotal,
		Tax:             o.Tax,
		Total:           o.Total,
		IsPaid:          o.IsPaid,
		TransactionID:   o.TransactionID,
		CreatedAt:       o.CreatedAt,
	}
	if o.IsPaid && !o.PaidAt.IsZero() {
		paidAt := o.PaidAt
		resp.PaidAt = &paidAt
	}
	if resp.Items == nil {
		resp.Items = []domain.LineItem{}
	}
	return resp
}

func newOrderList(orders []domain.Order) []orderResponse {
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, newOrderResponse(o))
	}
	return out
}

// createOrder оформляет заказ из корзины и адреса текущей сессии.
func (a *api) createOrder(c *gin.Context) {
	user := a.currentUser(c)
	result := sessionFrom(c).Checkout(c.Request.Context(), a.orders, user.ID)
	if result.HasError {
		writeError(c, a.logger, result.Err)
		return
	}
	c.JSON(http.StatusCreated, createOrderResponse{OrderID: result.OrderID})
}

// payOrder подтверждает оплату заказа транзакцией платёжного провайдера.
func (a *api) payOrder(c *gin.Context) {
	var req payOrderRequest
	if !bindJSON(c, &req, a.validate) {
		return
	}

	if err := a.orders.SettlePayment(c.Request.Context(), req.OrderID, req.TransactionID); err != nil {
		a.logger.WithError(err).WithFields(log.Fields{
			"order_id":       req.OrderID,
			"transaction_id": req.TransactionID,
		}).Warn("payment settlement rejected")
		writeError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "order paid"})
}

func (a *api) listOrders(c *gin.Context) {
	var q listQuery
	if !bindQuery(c, &q, a.validate) {
		return
	}

	orders, err := a.history.ListByUser(c.Request.Context(), a.currentUser(c).ID, limitOrDefault(q.Limit))
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, newOrderList(orders))
}

// getOrder отдаёт заказ владельцу или сотруднику магазина. Чужой заказ выглядит как отсутствующий.
func (a *api) getOrder(c *gin.Context) {
	order, err := a.history.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, domain.ErrOrderNotFound) {
		abortWithMessage(c, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		writeError(c, a.logger, err)
		return
	}

	user := a.currentUser(c)
	if order.UserID != user.ID && !user.IsStaff() {
		abortWithMessage(c, http.StatusNotFound, "order not found")
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}
