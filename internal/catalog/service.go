package catalog

import (
	"context"
	"database/sql"
	"errors"

	"jewelry/api/internal/store"

	"go.uber.org/zap"
)

var ErrNotFound = errors.New("product not found")

// Store is the subset of the Postgres store the catalog reads from.
type Store interface {
	ListProducts(ctx context.Context, filter store.ProductFilter) ([]store.Product, int, error)
	GetProductBySlug(ctx context.Context, slug string) (store.Product, error)
	GetProductByID(ctx context.Context, id string) (store.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) ([]store.Product, error)
	ListCategories(ctx context.Context) ([]store.Category, error)
}

// Service switches between the database and the fallback catalog. With the
// fallback flag set, or without a store, the database is never touched.
type Service struct {
	store       Store
	useFallback bool
	logger      *zap.Logger
}

func NewService(s Store, useFallback bool, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: s, useFallback: useFallback || s == nil, logger: logger}
}

// UsingFallback reports whether every query is answered from memory.
func (s *Service) UsingFallback() bool {
	return s.useFallback
}

func (s *Service) degrade(op string, err error) {
	s.logger.Warn("catalog query failed, serving fallback catalog", zap.String("op", op), zap.Error(err))
}

func (s *Service) ListProducts(ctx context.Context, filter store.ProductFilter) (Page, error) {
	filter = Normalize(filter)
	if s.useFallback {
		return Apply(FallbackProducts(), filter), nil
	}
	items, total, err := s.store.ListProducts(ctx, filter)
	if err != nil {
		s.degrade("list_products", err)
		return Apply(FallbackProducts(), filter), nil
	}
	return newPage(items, total, filter), nil
}

// GetProduct looks up an active product by slug.
func (s *Service) GetProduct(ctx context.Context, slug string) (store.Product, error) {
	return s.lookup(ctx, "get_product", func(p store.Product) bool { return p.Slug == slug }, func() (store.Product, error) {
		return s.store.GetProductBySlug(ctx, slug)
	})
}

// GetProductByID looks up an active product by ID.
func (s *Service) GetProductByID(ctx context.Context, id string) (store.Product, error) {
	return s.lookup(ctx, "get_product_by_id", func(p store.Product) bool { return p.ID == id }, func() (store.Product, error) {
		return s.store.GetProductByID(ctx, id)
	})
}

func (s *Service) lookup(ctx context.Context, op string, match func(store.Product) bool, query func() (store.Product, error)) (store.Product, error) {
	if !s.useFallback {
		product, err := query()
		switch {
		case err == nil:
			if !product.IsActive {
				return store.Product{}, ErrNotFound
			}
			return product, nil
		case errors.Is(err, sql.ErrNoRows):
			return store.Product{}, ErrNotFound
		case ctx.Err() != nil:
			return store.Product{}, ctx.Err()
		default:
			s.degrade(op, err)
		}
	}
	for _, p := range FallbackProducts() {
		if match(p) {
			return p, nil
		}
	}
	return store.Product{}, ErrNotFound
}

// GetProductsByIDs resolves ids in the given order, dropping unknown ones.
// Inactive products are returned; callers decide whether to show them.
func (s *Service) GetProductsByIDs(ctx context.Context, ids []string) ([]store.Product, error) {
	var found []store.Product
	if !s.useFallback {
		items, err := s.store.GetProductsByIDs(ctx, ids)
		if err != nil {
			s.degrade("get_products_by_ids", err)
		} else {
			found = items
		}
	}
	if found == nil {
		found = FallbackProducts()
	}

	byID := make(map[string]store.Product, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}
	out := make([]store.Product, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Service) ListCategories(ctx context.Context) ([]store.Category, error) {
	if s.useFallback {
		return FallbackCategories(), nil
	}
	items, err := s.store.ListCategories(ctx)
	if err != nil {
		s.degrade("list_categories", err)
		return FallbackCategories(), nil
	}
	return items, nil
}

// FeaturedDefaults returns up to limit products flagged as featured, used
// when no featured list has been configured.
func (s *Service) FeaturedDefaults(ctx context.Context, limit int) ([]store.Product, error) {
	page, err := s.ListProducts(ctx, store.ProductFilter{Sort: store.SortFeatured, PageSize: store.MaxPageSize})
	if err != nil {
		return nil, err
	}
	out := make([]store.Product, 0, limit)
	for _, p := range page.Items {
		if len(out) == limit {
			break
		}
		if p.IsFeatured {
			out = append(out, p)
		}
	}
	return out, nil
}
