package catalog

import (
	"context"
	"fmt"

	"jewelry/api/internal/store"

	"go.uber.org/zap"
)

// Seeder is the write side used to load the built-in catalog into an empty database.
type Seeder interface {
	CountProducts(ctx context.Context) (int, error)
	UpsertCategory(ctx context.Context, c store.Category) (store.Category, error)
	InsertProduct(ctx context.Context, p store.Product) error
}

// Bootstrap seeds the fallback categories and products when the products table is empty.
func Bootstrap(ctx context.Context, seeder Seeder, logger *zap.Logger) error {
	count, err := seeder.CountProducts(ctx)
	if err != nil {
		return fmt.Errorf("count products: %w", err)
	}
	if count > 0 {
		return nil
	}

	categoryIDs := make(map[string]string, len(fallbackCategories))
	for _, c := range FallbackCategories() {
		saved, err := seeder.UpsertCategory(ctx, c)
		if err != nil {
			return fmt.Errorf("seed category %s: %w", c.Slug, err)
		}
		categoryIDs[saved.Slug] = saved.ID
	}

	products := FallbackProducts()
	for _, p := range products {
		if id, ok := categoryIDs[p.CategorySlug]; ok {
			p.CategoryID = id
		}
		if err := seeder.InsertProduct(ctx, p); err != nil {
			return fmt.Errorf("seed product %s: %w", p.Slug, err)
		}
	}
	if logger != nil {
		logger.Info("seeded catalog", zap.Int("categories", len(categoryIDs)), zap.Int("products", len(products)))
	}
	return nil
}
