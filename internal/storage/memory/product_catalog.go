package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultProductLimit = 50

// ProductCatalog — in-memory каталог товаров (разработка, тесты, демо-данные).
type ProductCatalog struct {
	mu     sync.RWMutex
	byID   map[string]domain.Product
	bySlug map[string]string
}

// NewProductCatalog создаёт каталог и наполняет его переданными товарами.
func NewProductCatalog(seed ...domain.Product) *ProductCatalog {
	c := &ProductCatalog{
		byID:   make(map[string]domain.Product),
		bySlug: make(map[string]string),
	}
	for _, p := range seed {
		_, _ = c.Create(context.Background(), p)
	}
	return c
}

// Get возвращает товар по идентификатору или ErrProductNotFound.
func (c *ProductCatalog) Get(_ context.Context, id string) (domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.byID[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return cloneProduct(p), nil
}

func (c *ProductCatalog) GetBySlug(_ context.Context, slug string) (domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.bySlug[normalizeSlug(slug)]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return cloneProduct(c.byID[id]), nil
}

func (c *ProductCatalog) List(_ context.Context, query domain.ProductQuery) ([]domain.Product, error) {
	term := strings.ToLower(strings.TrimSpace(query.Term))
	limit := query.Limit
	if limit <= 0 {
		limit = defaultProductLimit
	}

	c.mu.RLock()
	result := make([]domain.Product, 0, len(c.byID))
	for _, p := range c.byID {
		if term != "" && !strings.Contains(strings.ToLower(p.Title), term) && !strings.Contains(p.Slug, term) {
			continue
		}
		result = append(result, cloneProduct(p))
	}
	c.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].Title != result[j].Title {
			return result[i].Title < result[j].Title
		}
		return result[i].ID < result[j].ID
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Create добавляет товар. Slug уникален в пределах каталога.
func (c *ProductCatalog) Create(_ context.Context, product domain.Product) (domain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	product.Slug = normalizeSlug(product.Slug)
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	if _, exists := c.bySlug[product.Slug]; exists && product.Slug != "" {
		return domain.Product{}, domain.ErrProductAlreadyExists
	}
	if _, exists := c.byID[product.ID]; exists {
		return domain.Product{}, domain.ErrProductAlreadyExists
	}

	c.byID[product.ID] = cloneProduct(product)
	if product.Slug != "" {
		c.bySlug[product.Slug] = product.ID
	}
	return cloneProduct(product), nil
}

// Stats считает товары, закончившиеся товары и товары с остатком <= LowInventoryThreshold.
func (c *ProductCatalog) Stats(_ context.Context) (domain.ProductStats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := domain.ProductStats{Total: len(c.byID)}
	for _, p := range c.byID {
		switch {
		case p.InStock == 0:
			stats.NoInventory++
		case p.InStock <= domain.LowInventoryThreshold:
			stats.LowInventory++
		}
	}
	return stats, nil
}

func normalizeSlug(slug string) string {
	return strings.ToLower(strings.TrimSpace(slug))
}

func cloneProduct(p domain.Product) domain.Product {
	p.Sizes = append([]string(nil), p.Sizes...)
	p.Images = append([]string(nil), p.Images...)
	return p
}

var _ domain.ProductCatalog = (*ProductCatalog)(nil)
