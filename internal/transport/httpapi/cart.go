package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type cartResponse struct {
	Items []domain.LineItem `json:"items"`
	domain.Summary
}

type addItemRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Size      string `json:"size" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

type updateItemRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Size      string `json:"size" validate:"required"`
	Quantity  *int   `json:"quantity" validate:"required,min=0"`
}

type itemKeyQuery struct {
	ProductID string `form:"productId" validate:"required"`
	Size      string `form:"size" validate:"required"`
}

func newCartResponse(state cart.Cart) cartResponse {
	items := state.Items()
	if items == nil {
		items = []domain.LineItem{}
	}
	return cartResponse{Items: items, Summary: state.Summary()}
}

func (a *api) getCart(c *gin.Context) {
	state, err := sessionFrom(c).Cart(c.Request.Context())
	if err != nil {
		a.sessionUnavailable(c, err)
		return
	}
	c.JSON(http.StatusOK, newCartResponse(state))
}

// addCartItem кладёт товар в корзину. Цена, название и картинка берутся из каталога,
// а не из запроса.
func (a *api) addCartItem(c *gin.Context) {
	var req addItemRequest
	if !bindJSON(c, &req, a.validate) {
		return
	}

	product, err := a.catalog.Get(c.Request.Context(), req.ProductID)
	if errors.Is(err, domain.ErrProductNotFound) {
		abortWithMessage(c, http.StatusNotFound, "product not found")
		return
	}
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	if !product.OffersSize(req.Size) {
		abortWithMessage(c, http.StatusBadRequest, fmt.Sprintf("size %q is not available for this product", req.Size))
		return
	}
	if product.InStock <= 0 {
		abortWithMessage(c, http.StatusConflict, "product is out of stock")
		return
	}

	key := domain.ItemKey{ProductID: product.ID, Size: req.Size}
	current, err := sessionFrom(c).Cart(c.Request.Context())
	if err != nil {
		a.sessionUnavailable(c, err)
		return
	}
	var inCart int
	if line, ok := findLine(current.Items(), key); ok {
		inCart = line.Quantity
	}
	if !a.withinStock(c, product, current.Items(), key, inCart+req.Quantity) {
		return
	}

	state, err := sessionFrom(c).AddItem(c.Request.Context(), domain.LineItem{
		ProductID: product.ID,
		Size:      req.Size,
		Title:     product.Title,
		Slug:      product.Slug,
		UnitPrice: product.Price,
		Quantity:  req.Quantity,
		Image:     product.CoverImage(),
	})
	if err != nil {
		a.sessionUnavailable(c, err)
		return
	}
	c.JSON(http.StatusOK, newCartResponse(state))
}

// updateCartItem задаёт количество позиции; 0 удаляет её.
func (a *api) updateCartItem(c *gin.Context) {
	var req updateItemRequest
	if !bindJSON(c, &req, a.validate) {
		return
	}

	key := domain.ItemKey{ProductID: req.ProductID, Size: req.Size}
	if *req.Quantity > 0 {
		product, err := a.catalog.Get(c.Request.Context(), req.ProductID)
		if errors.Is(err, domain.ErrProductNotFound) {
			abortWithMessage(c, http.StatusNotFound, "product not found")
			return
		}
		if err != nil {
			writeError(c, a.logger, err)
			return
		}
		current, err := sessionFrom(c).Cart(c.Request.Context())
		if err != nil {
			a.sessionUnavailable(c, err)
			return
		}
		if !a.withinStock(c, product, current.Items(), key, *req.Quantity) {
			return
		}
	}

	state, err := sessionFrom(c).SetQuantity(c.Request.Context(), key, *req.Quantity)
	if err != nil {
		a.sessionUnavailable(c, err)
		return
	}
	c.JSON(http.StatusOK, newCartResponse(state))
}

func (a *api) removeCartItem(c *gin.Context) {
	var q itemKeyQuery
	if !bindQuery(c, &q, a.validate) {
		return
	}

	key := domain.ItemKey{ProductID: q.ProductID, Size: q.Size}
	state, err := sessionFrom(c).RemoveItem(c.Request.Context(), key)
	if err != nil {
		a.sessionUnavailable(c, err)
		return
	}
	c.JSON(http.StatusOK, newCartResponse(state))
}

func (a *api) getAddress(c *gin.Context) {
	addr, ok, err := sessionFrom(c).Address(c.Request.Context())
	if err != nil {
		a.sessionUnavailable(c, err)
		return
	}
	if !ok {
		abortWithMessage(c, http.StatusNotFound, "shipping address is not set")
		return
	}
	c.JSON(http.StatusOK, addr)
}

func (a *api) putAddress(c *gin.Context) {
	var addr domain.Address
	if !bindJSON(c, &addr, a.validate) {
		return
	}
	if err := sessionFrom(c).SetAddress(c.Request.Context(), addr); err != nil {
		a.sessionUnavailable(c, err)
		return
	}
	c.JSON(http.StatusOK, addr)
}

func (a *api) deleteAddress(c *gin.Context) {
	if err := sessionFrom(c).ClearAddress(c.Request.Context()); err != nil {
		a.sessionUnavailable(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// withinStock проверяет, что все размеры товара в корзине вместе с новым количеством
// позиции key не превышают остаток. Количество позиции считается после ограничения MaxItemQuantity.
func (a *api) withinStock(c *gin.Context, product domain.Product, items []domain.LineItem, key domain.ItemKey, quantity int) bool {
	if quantity > domain.MaxItemQuantity {
		quantity = domain.MaxItemQuantity
	}
	total := quantity
	for _, item := range items {
		if item.ProductID == product.ID && item.Key() != key {
			total += item.Quantity
		}
	}
	if total > product.InStock {
		abortWithMessage(c, http.StatusConflict, fmt.Sprintf("only %d left in stock", product.InStock))
		return false
	}
	return true
}

func findLine(items []domain.LineItem, key domain.ItemKey) (domain.LineItem, bool) {
	for _, item := range items {
		if item.Key() == key {
			return item, true
		}
	}
	return domain.LineItem{}, false
}

// sessionUnavailable отвечает 503: хранилище сессий не ответило.
func (a *api) sessionUnavailable(c *gin.Context, err error) {
	a.logger.WithError(err).WithField("route", c.FullPath()).Error("session store failed")
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorResponse{
		Message: "session storage is temporarily unavailable",
		Kind:    string(domain.KindStorageFailure),
	})
}
