package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/totebags/api/internal/domain"
	ppostgres "github.com/totebags/api/internal/platform/postgres"
	"github.com/totebags/api/internal/repositories"
)

const productColumns = `p.id, p.name, p.slug, p.description, p.base_price_cents, p.min_price_cents,
	p.compare_price_cents, p.cost_price_cents, p.status, p.is_active, c.id, c.name, c.slug,
	COALESCE(array_to_json(p.tags), '[]'::json),
	p.delivery_time, p.material, p.dimensions, p.care_instructions, p.print_type, p.seo_title,
	p.seo_description, p.created_at, p.updated_at`

const productFrom = ` FROM products p JOIN collections c ON c.id = p.collection_id`

// CatalogRepository stores collections, products, variants and images.
type CatalogRepository struct {
	db *sql.DB
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

// NewCatalogRepository constructs a Postgres-backed catalog repository.
func NewCatalogRepository(db *sql.DB) (*CatalogRepository, error) {
	if db == nil {
		return nil, errors.New("catalog repository requires database")
	}
	return &CatalogRepository{db: db}, nil
}

func (r *CatalogRepository) FindCollectionByID(ctx context.Context, collectionID string) (domain.Collection, error) {
	var c domain.Collection
	err := ppostgres.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT id, name, slug FROM collections WHERE id = $1`, collectionID).Scan(&c.ID, &c.Name, &c.Slug)
	if err != nil {
		return domain.Collection{}, ppostgres.WrapError("collections.find", err)
	}
	return c, nil
}

func (r *CatalogRepository) FindCollectionByNameOrSlug(ctx context.Context, name, slug string) (domain.Collection, error) {
	var c domain.Collection
	err := ppostgres.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT id, name, slug FROM collections WHERE lower(name) = lower($1) OR slug = $2 ORDER BY created_at LIMIT 1`,
		strings.TrimSpace(name), slug).Scan(&c.ID, &c.Name, &c.Slug)
	if err != nil {
		return domain.Collection{}, ppostgres.WrapError("collections.find_by_name", err)
	}
	return c, nil
}

func (r *CatalogRepository) InsertCollection(ctx context.Context, collection domain.Collection) error {
	_, err := ppostgres.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO collections (id, name, slug) VALUES ($1, $2, $3)`, collection.ID, collection.Name, collection.Slug)
	return ppostgres.WrapError("collections.insert", err)
}

// InsertProduct writes the product with its variants and images in one transaction.
func (r *CatalogRepository) InsertProduct(ctx context.Context, product domain.Product) error {
	return ppostgres.RunInTx(ctx, r.db, func(ctx context.Context) error {
		_, err := ppostgres.Conn(ctx, r.db).ExecContext(ctx, `
INSERT INTO products (id, name, slug, description, base_price_cents, min_price_cents, compare_price_cents,
	cost_price_cents, status, is_active, collection_id, tags, delivery_time, material, dimensions,
	care_instructions, print_type, seo_title, seo_description, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
			productArgs(product)...)
		if err != nil {
			return ppostgres.WrapError("products.insert", err)
		}
		if err := r.insertVariants(ctx, product.ID, product.Variants); err != nil {
			return err
		}
		return r.insertImages(ctx, product.ID, product.Images)
	})
}

// UpdateProduct rewrites scalar fields. Images are replaced wholesale when replaceImages is set.
func (r *CatalogRepository) UpdateProduct(ctx context.Context, product domain.Product, replaceImages bool) error {
	return ppostgres.RunInTx(ctx, r.db, func(ctx context.Context) error {
		q := ppostgres.Conn(ctx, r.db)
		res, err := q.ExecContext(ctx, `
UPDATE products SET
	name = $2, slug = $3, description = $4, base_price_cents = $5, min_price_cents = $6,
	compare_price_cents = $7, cost_price_cents = $8, status = $9, is_active = $10, collection_id = $11,
	tags = $12, delivery_time = $13, material = $14, dimensions = $15, care_instructions = $16,
	print_type = $17, seo_title = $18, seo_description = $19, updated_at = $20
WHERE id = $1`, productUpdateArgs(product)...)
		if err != nil {
			return ppostgres.WrapError("products.update", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return repositories.NewError("products.update", repositories.ErrorKindNotFound, "product not found", nil)
		}
		if !replaceImages {
			return nil
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM product_images WHERE product_id = $1`, product.ID); err != nil {
			return ppostgres.WrapError("products.replace_images", err)
		}
		return r.insertImages(ctx, product.ID, product.Images)
	})
}

func (r *CatalogRepository) DeleteProduct(ctx context.Context, productID string) error {
	res, err := ppostgres.Conn(ctx, r.db).ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	if err != nil {
		return ppostgres.WrapError("products.delete", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repositories.NewError("products.delete", repositories.ErrorKindNotFound, "product not found", nil)
	}
	return nil
}

func (r *CatalogRepository) FindProductByID(ctx context.Context, productID string) (domain.Product, error) {
	return r.findOne(ctx, "products.find", `p.id = $1`, productID)
}

func (r *CatalogRepository) FindProductBySlug(ctx context.Context, slug string) (domain.Product, error) {
	return r.findOne(ctx, "products.find_by_slug", `p.slug = $1`, slug)
}

// ListProducts returns products newest first, active only unless IncludeInactive is set.
func (r *CatalogRepository) ListProducts(ctx context.Context, filter repositories.ProductListFilter) ([]domain.Product, error) {
	var (
		where []string
		args  []any
	)
	if !filter.IncludeInactive {
		where = append(where, "p.is_active")
	}
	if id := strings.TrimSpace(filter.CollectionID); id != "" {
		args = append(args, id)
		where = append(where, fmt.Sprintf("p.collection_id = $%d", len(args)))
	}
	query := `SELECT ` + productColumns + productFrom
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY p.created_at DESC, p.id DESC"

	q := ppostgres.Conn(ctx, r.db)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ppostgres.WrapError("products.list", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, ppostgres.WrapError("products.list", err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, ppostgres.WrapError("products.list", err)
	}
	if err := r.hydrate(ctx, q, products); err != nil {
		return nil, err
	}
	return products, nil
}

func (r *CatalogRepository) findOne(ctx context.Context, op, predicate string, arg any) (domain.Product, error) {
	q := ppostgres.Conn(ctx, r.db)
	product, err := scanProduct(q.QueryRowContext(ctx, `SELECT `+productColumns+productFrom+` WHERE `+predicate, arg))
	if err != nil {
		return domain.Product{}, ppostgres.WrapError(op, err)
	}
	products := []domain.Product{product}
	if err := r.hydrate(ctx, q, products); err != nil {
		return domain.Product{}, err
	}
	return products[0], nil
}

func (r *CatalogRepository) insertVariants(ctx context.Context, productID string, variants []domain.ProductVariant) error {
	q := ppostgres.Conn(ctx, r.db)
	for _, v := range variants {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO product_variants (id, product_id, sku, color, image_url, stock) VALUES ($1, $2, $3, $4, $5, $6)`,
			v.ID, productID, v.SKU, v.Color, v.ImageURL, v.Stock); err != nil {
			return ppostgres.WrapError("products.insert_variant", err)
		}
	}
	return nil
}

func (r *CatalogRepository) insertImages(ctx context.Context, productID string, images []domain.ProductImage) error {
	q := ppostgres.Conn(ctx, r.db)
	for _, img := range images {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO product_images (id, product_id, url, alt, position) VALUES ($1, $2, $3, $4, $5)`,
			img.ID, productID, img.URL, img.Alt, img.Position); err != nil {
			return ppostgres.WrapError("products.insert_image", err)
		}
	}
	return nil
}

func (r *CatalogRepository) hydrate(ctx context.Context, q ppostgres.Querier, products []domain.Product) error {
	if len(products) == 0 {
		return nil
	}
	ids := make([]string, len(products))
	index := make(map[string]int, len(products))
	for i, p := range products {
		ids[i] = p.ID
		index[p.ID] = i
		products[i].Variants = []domain.ProductVariant{}
		products[i].Images = []domain.ProductImage{}
	}

	variantRows, err := q.QueryContext(ctx,
		`SELECT id, product_id, sku, color, image_url, stock FROM product_variants WHERE product_id = ANY($1) ORDER BY product_id, sku`, ids)
	if err != nil {
		return ppostgres.WrapError("products.variants", err)
	}
	defer variantRows.Close()
	for variantRows.Next() {
		var (
			v         domain.ProductVariant
			productID string
		)
		if err := variantRows.Scan(&v.ID, &productID, &v.SKU, &v.Color, &v.ImageURL, &v.Stock); err != nil {
			return ppostgres.WrapError("products.variants", err)
		}
		i := index[productID]
		products[i].Variants = append(products[i].Variants, v)
	}
	if err := variantRows.Err(); err != nil {
		return ppostgres.WrapError("products.variants", err)
	}

	imageRows, err := q.QueryContext(ctx,
		`SELECT id, product_id, url, alt, position FROM product_images WHERE product_id = ANY($1) ORDER BY product_id, position`, ids)
	if err != nil {
		return ppostgres.WrapError("products.images", err)
	}
	defer imageRows.Close()
	for imageRows.Next() {
		var (
			img       domain.ProductImage
			productID string
		)
		if err := imageRows.Scan(&img.ID, &productID, &img.URL, &img.Alt, &img.Position); err != nil {
			return ppostgres.WrapError("products.images", err)
		}
		i := index[productID]
		products[i].Images = append(products[i].Images, img)
	}
	return ppostgres.WrapError("products.images", imageRows.Err())
}

// productUpdateArgs drops created_at from productArgs.
func productUpdateArgs(p domain.Product) []any {
	args := productArgs(p)
	return append(args[:19:19], args[20])
}

func productArgs(p domain.Product) []any {
	var printType any
	if p.PrintType != nil {
		printType = string(*p.PrintType)
	}
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	return []any{
		p.ID, p.Name, p.Slug, p.Description, p.BasePrice.MinorUnits(), p.MinPrice.MinorUnits(),
		moneyArg(p.ComparePrice), moneyArg(p.CostPrice), string(p.Status), p.IsActive, p.Collection.ID,
		tags, p.DeliveryTime, p.Material, p.Dimensions, p.CareInstructions, printType, p.SEOTitle,
		p.SEODescription, p.CreatedAt, p.UpdatedAt,
	}
}

func moneyArg(m *domain.Money) any {
	if m == nil {
		return nil
	}
	return m.MinorUnits()
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var (
		p             domain.Product
		base, minimum int64
		compare, cost sql.NullInt64
		status        string
		printType     sql.NullString
		tags          []string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Slug, &p.Description, &base, &minimum, &compare, &cost, &status,
		&p.IsActive, &p.Collection.ID, &p.Collection.Name, &p.Collection.Slug, &tags, &p.DeliveryTime,
		&p.Material, &p.Dimensions, &p.CareInstructions, &printType, &p.SEOTitle, &p.SEODescription,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.Product{}, err
	}
	p.BasePrice = domain.Money(base)
	p.MinPrice = domain.Money(minimum)
	if compare.Valid {
		m := domain.Money(compare.Int64)
		p.ComparePrice = &m
	}
	if cost.Valid {
		m := domain.Money(cost.Int64)
		p.CostPrice = &m
	}
	p.Status = domain.ProductStatus(status)
	if printType.Valid {
		pt := domain.PrintType(printType.String)
		p.PrintType = &pt
	}
	p.Tags = []string{}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &p.Tags); err != nil {
			return domain.Product{}, fmt.Errorf("decode tags: %w", err)
		}
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}
