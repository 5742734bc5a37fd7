package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultProductLimit = 50
	productColumns      = "id, slug, title, price, in_stock, sizes, images"
)

type productCatalog struct {
	db *sql.DB
	// types сканирует TEXT[] в []string через кодеки pgx.
	types *pgtype.Map
}

// NewProductCatalog создаёт PostgreSQL-реализацию ProductCatalog.
func NewProductCatalog(store *Store) domain.ProductCatalog {
	return &productCatalog{db: store.DB(), types: pgtype.NewMap()}
}

func (c *productCatalog) Get(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	row := c.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	return c.scanOne(row)
}

func (c *productCatalog) GetBySlug(ctx context.Context, slug string) (domain.Product, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return domain.Product{}, domain.ErrProductNotFound
	}

	ctx, cancel := queryContext(ctx)
	defer cancel()

	row := c.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE slug = $1`, slug)
	return c.scanOne(row)
}

// List ищет подстроку через ILIKE; спецсимволы шаблона экранируются.
func (c *productCatalog) List(ctx context.Context, query domain.ProductQuery) ([]domain.Product, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = defaultProductLimit
	}
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(query.Term))) + "%"

	ctx, cancel := queryContext(ctx)
	defer cancel()

	rows, err := c.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE title ILIKE $1 OR slug LIKE $1
		ORDER BY title, id
		LIMIT $2
	`, pattern, limit)
	if err != nil {
		return nil, storageError("list products", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		p, err := c.scan(rows)
		if err != nil {
			return nil, storageError("scan product", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterate products", err)
	}
	return products, nil
}

func (c *productCatalog) Create(ctx context.Context, product domain.Product) (domain.Product, error) {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	product.Slug = strings.ToLower(strings.TrimSpace(product.Slug))
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	if product.Sizes == nil {
		product.Sizes = []string{}
	}
	if product.Images == nil {
		product.Images = []string{}
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO products (id, slug, title, price, in_stock, sizes, images)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, product.ID, product.Slug, product.Title, product.Price, product.InStock, product.Sizes, product.Images)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Product{}, domain.ErrProductAlreadyExists
		}
		return domain.Product{}, storageError("insert product", err)
	}
	return product, nil
}

func (c *productCatalog) Stats(ctx context.Context) (domain.ProductStats, error) {
	ctx, cancel := queryContext(ctx)
	defer cancel()

	var stats domain.ProductStats
	if err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE in_stock = 0),
		       COUNT(*) FILTER (WHERE in_stock > 0 AND in_stock <= $1)
		FROM products
	`, domain.LowInventoryThreshold).Scan(&stats.Total, &stats.NoInventory, &stats.LowInventory); err != nil {
		return domain.ProductStats{}, storageError("product stats", err)
	}
	return stats, nil
}

func (c *productCatalog) scanOne(row rowScanner) (domain.Product, error) {
	p, err := c.scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, storageError("select product", err)
	}
	return p, nil
}

func (c *productCatalog) scan(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(
		&p.ID, &p.Slug, &p.Title, &p.Price, &p.InStock,
		c.types.SQLScanner(&p.Sizes), c.types.SQLScanner(&p.Images),
	)
	return p, err
}

// escapeLike экранирует \, % и _ для шаблона LIKE с escape-символом по умолчанию.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

var _ domain.ProductCatalog = (*productCatalog)(nil)
