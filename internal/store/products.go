package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	DefaultPageSize = 12
	MaxPageSize     = 48
)

const productSelect = `
	SELECT p.id, p.slug, p.name, p.description, p.price, p.compare_at_price, p.category_id, c.slug,
		p.material, p.gemstone, p.images, p.stock, p.rating, p.review_count, p.is_featured, p.is_active,
		p.created_at, p.updated_at
	FROM products p
	JOIN categories c ON c.id = p.category_id`

func scanProduct(row interface{ Scan(...any) error }) (Product, error) {
	var (
		p       Product
		compare decimal.NullDecimal
		images  []byte
	)
	err := row.Scan(&p.ID, &p.Slug, &p.Name, &p.Description, &p.Price, &compare, &p.CategoryID, &p.CategorySlug,
		&p.Material, &p.Gemstone, &images, &p.Stock, &p.Rating, &p.ReviewCount, &p.IsFeatured, &p.IsActive,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Product{}, err
	}
	if compare.Valid {
		v := compare.Decimal
		p.CompareAtPrice = &v
	}
	p.Images = []string{}
	if len(images) > 0 {
		if err := json.Unmarshal(images, &p.Images); err != nil {
			return Product{}, fmt.Errorf("decode product images: %w", err)
		}
	}
	return p, nil
}

func scanProducts(rows *sql.Rows) ([]Product, error) {
	defer rows.Close()
	items := make([]Product, 0)
	for rows.Next() {
		item, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return items, nil
}

var productOrderBy = map[string]string{
	SortFeatured:  "p.is_featured DESC, p.created_at DESC, p.id",
	SortPriceAsc:  "p.price ASC, p.id",
	SortPriceDesc: "p.price DESC, p.id",
	SortRating:    "p.rating DESC, p.review_count DESC, p.id",
	SortNewest:    "p.created_at DESC, p.id",
	SortName:      "p.name ASC, p.id",
}

// buildProductQuery renders the WHERE clause shared by the listing and count
// queries, followed by the ordered and paginated listing query.
func buildProductQuery(filter ProductFilter) (listQuery, countQuery string, args []any) {
	conditions := make([]string, 0, 8)
	add := func(cond string, values ...any) {
		for _, v := range values {
			args = append(args, v)
			cond = strings.Replace(cond, "?", fmt.Sprintf("$%d", len(args)), 1)
		}
		conditions = append(conditions, cond)
	}

	if !filter.IncludeInactive {
		conditions = append(conditions, "p.is_active")
	}
	if filter.Category != "" {
		add("c.slug = ?", filter.Category)
	}
	if len(filter.Materials) > 0 {
		marks := make([]string, len(filter.Materials))
		values := make([]any, len(filter.Materials))
		for i, m := range filter.Materials {
			marks[i] = "?"
			values[i] = strings.ToLower(m)
		}
		add("LOWER(p.material) IN ("+strings.Join(marks, ", ")+")", values...)
	}
	if filter.Gemstone != "" {
		add("LOWER(p.gemstone) = ?", strings.ToLower(filter.Gemstone))
	}
	if filter.MinPrice != nil {
		add("p.price >= ?", filter.MinPrice.StringFixed(2))
	}
	if filter.MaxPrice != nil {
		add("p.price <= ?", filter.MaxPrice.StringFixed(2))
	}
	if filter.MinRating > 0 {
		add("p.rating >= ?", filter.MinRating)
	}
	if filter.InStockOnly {
		conditions = append(conditions, "p.stock > 0")
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		add("(p.fts @@ plainto_tsquery('english', ?) OR p.name ILIKE ?)", q, "%"+q+"%")
	}

	where := ""
	if len(conditions) > 0 {
		where = "\n\tWHERE " + strings.Join(conditions, " AND ")
	}

	orderBy, ok := productOrderBy[filter.Sort]
	if !ok {
		orderBy = productOrderBy[SortFeatured]
	}
	page, size := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}

	countQuery = "SELECT COUNT(*) FROM products p JOIN categories c ON c.id = p.category_id" + where
	listQuery = fmt.Sprintf("%s%s\n\tORDER BY %s\n\tLIMIT %d OFFSET %d", productSelect, where, orderBy, size, (page-1)*size)
	return listQuery, countQuery, args
}

// ListProducts returns one page of products matching filter and the total match count.
func (s *PostgresStore) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, int, error) {
	listQuery, countQuery, args := buildProductQuery(filter)

	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	items, err := scanProducts(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *PostgresStore) CountProducts(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) GetProductBySlug(ctx context.Context, slug string) (Product, error) {
	return scanProduct(s.db.QueryRowContext(ctx, productSelect+` WHERE p.slug=$1`, slug))
}

func (s *PostgresStore) GetProductByID(ctx context.Context, id string) (Product, error) {
	return scanProduct(s.db.QueryRowContext(ctx, productSelect+` WHERE p.id=$1`, id))
}

// GetProductsByIDs returns the matching products in no particular order.
func (s *PostgresStore) GetProductsByIDs(ctx context.Context, ids []string) ([]Product, error) {
	if len(ids) == 0 {
		return []Product{}, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, productSelect+` WHERE p.id IN (`+placeholders(1, len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("get products by ids: %w", err)
	}
	return scanProducts(rows)
}

func productArgs(p Product) ([]any, error) {
	images := p.Images
	if images == nil {
		images = []string{}
	}
	encoded, err := json.Marshal(images)
	if err != nil {
		return nil, fmt.Errorf("encode product images: %w", err)
	}
	compare := decimal.NullDecimal{}
	if p.CompareAtPrice != nil {
		compare = decimal.NewNullDecimal(*p.CompareAtPrice)
	}
	return []any{
		p.ID, p.Slug, p.Name, p.Description, p.Price, compare, p.CategoryID,
		p.Material, p.Gemstone, string(encoded), p.Stock, p.IsFeatured, p.IsActive,
	}, nil
}

func (s *PostgresStore) InsertProduct(ctx context.Context, p Product) error {
	args, err := productArgs(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (id, slug, name, description, price, compare_at_price, category_id,
			material, gemstone, images, stock, is_featured, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11, $12, $13)
	`, args...)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateProduct(ctx context.Context, p Product) error {
	args, err := productArgs(p)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE products SET slug=$2, name=$3, description=$4, price=$5, compare_at_price=$6, category_id=$7,
			material=$8, gemstone=$9, images=$10::jsonb, stock=$11, is_featured=$12, is_active=$13, updated_at=NOW()
		WHERE id=$1
	`, args...)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	return requireRow(res)
}

// ArchiveProduct hides a product from the storefront. Order history keeps referencing it.
func (s *PostgresStore) ArchiveProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE products SET is_active=FALSE, is_featured=FALSE, updated_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("archive product: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, slug, name, description, image_url, sort_order
		FROM categories
		ORDER BY sort_order, name
	`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	items := make([]Category, 0)
	for rows.Next() {
		var item Category
		if err := rows.Scan(&item.ID, &item.Slug, &item.Name, &item.Description, &item.ImageURL, &item.SortOrder); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetCategoryBySlug(ctx context.Context, slug string) (Category, error) {
	var item Category
	err := s.db.QueryRowContext(ctx, `
		SELECT id, slug, name, description, image_url, sort_order FROM categories WHERE slug=$1
	`, slug).Scan(&item.ID, &item.Slug, &item.Name, &item.Description, &item.ImageURL, &item.SortOrder)
	if err != nil {
		return Category{}, err
	}
	return item, nil
}

// UpsertCategory inserts a category or updates the one sharing its slug.
func (s *PostgresStore) UpsertCategory(ctx context.Context, c Category) (Category, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO categories (id, slug, name, description, image_url, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (slug) DO UPDATE SET name=EXCLUDED.name, description=EXCLUDED.description,
			image_url=EXCLUDED.image_url, sort_order=EXCLUDED.sort_order
		RETURNING id
	`, c.ID, c.Slug, c.Name, c.Description, c.ImageURL, c.SortOrder).Scan(&c.ID)
	if err != nil {
		return Category{}, fmt.Errorf("upsert category: %w", err)
	}
	return c, nil
}
