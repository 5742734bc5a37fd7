package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type productResponse struct {
	ID      string          `json:"id"`
	Slug    string          `json:"slug"`
	Title   string          `json:"title"`
	Price   decimal.Decimal `json:"price"`
	InStock int             `json:"inStock"`
	Sizes   []string        `json:"sizes"`
	Images  []string        `json:"images"`
}

type productSearchQuery struct {
	Q     string `form:"q" validate:"max=100"`
	Limit int    `form:"limit" validate:"omitempty,min=1,max=200"`
}

type createProductRequest struct {
	Slug    string          `json:"slug" validate:"required,max=120"`
	Title   string          `json:"title" validate:"required,max=200"`
	Price   decimal.Decimal `json:"price"`
	InStock int             `json:"inStock" validate:"min=0"`
	Sizes   []string        `json:"sizes" validate:"required,min=1,dive,required"`
	Images  []string        `json:"images" validate:"dive,required"`
}

func newProductResponse(p domain.Product) productResponse {
	resp := productResponse{
		ID:      p.ID,
		Slug:    p.Slug,
		Title:   p.Title,
		Price:   p.Price,
		InStock: p.InStock,
		Sizes:   p.Sizes,
		Images:  p.Images,
	}
	if resp.Sizes == nil {
		resp.Sizes = []string{}
	}
	if resp.Images == nil {
		resp.Images = []string{}
	}
	return resp
}

func newProductList(products []domain.Product) []productResponse {
	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, newProductResponse(p))
	}
	return out
}

// listProducts отдаёт витрину; q ищет по названию и slug.
func (a *api) listProducts(c *gin.Context) {
	var q productSearchQuery
	if !bindQuery(c, &q, a.validate) {
		return
	}

	products, err := a.catalog.List(c.Request.Context(), domain.ProductQuery{Term: q.Q, Limit: limitOrDefault(q.Limit)})
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, newProductList(products))
}

func (a *api) getProductBySlug(c *gin.Context) {
	product, err := a.catalog.GetBySlug(c.Request.Context(), c.Param("slug"))
	if errors.Is(err, domain.ErrProductNotFound) {
		abortWithMessage(c, http.StatusNotFound, "product not found")
		return
	}
	if err != nil {
		writeError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, newProductResponse(product))
}

// createProduct заводит товар в каталоге. Slug должен быть свободен.
func (a *api) createProduct(c *gin.Context) {
	var req createProductRequest
	if !bindJSON(c, &req, a.validate) {
		return
	}
	if req.Price.IsNegative() {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{
			Message: "validation failed",
			Fields:  map[string]string{"price": "min"},
		})
		return
	}

	product, err := a.catalog.Create(c.Request.Context(), domain.Product{
		Slug:    req.Slug,
		Title:   req.Title,
		Price:   req.Price,
		InStock: req.InStock,
		Sizes:   req.Sizes,
		Images:  req.Images,
	})
	if errors.Is(err, domain.ErrProductAlreadyExists) {
		abortWithMessage(c, http.StatusConflict, "product with this slug already exists")
		return
	}
	if err != nil {
		writeError(c, a.logger, err)
		return
	}

	a.logger.WithField("product_id", product.ID).WithField("slug", product.Slug).Info("product created")
	c.JSON(http.StatusCreated, newProductResponse(product))
}
