package catalog

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"jewelry/api/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeStore struct {
	listProductsFn func(ctx context.Context, filter store.ProductFilter) ([]store.Product, int, error)
	getBySlugFn    func(ctx context.Context, slug string) (store.Product, error)
	getByIDFn      func(ctx context.Context, id string) (store.Product, error)
	getByIDsFn     func(ctx context.Context, ids []string) ([]store.Product, error)
	categoriesFn   func(ctx context.Context) ([]store.Category, error)
	calls          int
}

func (f *fakeStore) ListProducts(ctx context.Context, filter store.ProductFilter) ([]store.Product, int, error) {
	f.calls++
	if f.listProductsFn != nil {
		return f.listProductsFn(ctx, filter)
	}
	return nil, 0, errors.New("not implemented")
}

func (f *fakeStore) GetProductBySlug(ctx context.Context, slug string) (store.Product, error) {
	f.calls++
	if f.getBySlugFn != nil {
		return f.getBySlugFn(ctx, slug)
	}
	return store.Product{}, errors.New("not implemented")
}

func (f *fakeStore) GetProductByID(ctx context.Context, id string) (store.Product, error) {
	f.calls++
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return store.Product{}, errors.New("not implemented")
}

func (f *fakeStore) GetProductsByIDs(ctx context.Context, ids []string) ([]store.Product, error) {
	f.calls++
	if f.getByIDsFn != nil {
		return f.getByIDsFn(ctx, ids)
	}
	return nil, errors.New("not implemented")
}

func (f *fakeStore) ListCategories(ctx context.Context) ([]store.Category, error) {
	f.calls++
	if f.categoriesFn != nil {
		return f.categoriesFn(ctx)
	}
	return nil, errors.New("not implemented")
}

func TestFallbackFlagNeverTouchesStore(t *testing.T) {
	fake := &fakeStore{}
	svc := NewService(fake, true, nil)
	ctx := context.Background()

	page, err := svc.ListProducts(ctx, store.ProductFilter{Category: "necklaces"})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)

	product, err := svc.GetProduct(ctx, "luna-hoops")
	require.NoError(t, err)
	assert.Equal(t, "prd_luna_hoops", product.ID)

	categories, err := svc.ListCategories(ctx)
	require.NoError(t, err)
	assert.Len(t, categories, 4)

	assert.Zero(t, fake.calls)
	assert.True(t, svc.UsingFallback())
}

func TestListProductsFallsBackOnStoreError(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	fake := &fakeStore{
		listProductsFn: func(context.Context, store.ProductFilter) ([]store.Product, int, error) {
			return nil, 0, errors.New("connection refused")
		},
	}
	svc := NewService(fake, false, zap.New(core))

	page, err := svc.ListProducts(context.Background(), store.ProductFilter{Category: "bracelets"})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 1, logs.FilterMessage("catalog query failed, serving fallback catalog").Len())
}

func TestListProductsUsesStorePagination(t *testing.T) {
	fake := &fakeStore{
		listProductsFn: func(_ context.Context, filter store.ProductFilter) ([]store.Product, int, error) {
			assert.Equal(t, 2, filter.Page)
			assert.Equal(t, store.DefaultPageSize, filter.PageSize)
			return []store.Product{{ID: "p1", IsActive: true}}, 13, nil
		},
	}
	svc := NewService(fake, false, nil)

	page, err := svc.ListProducts(context.Background(), store.ProductFilter{Page: 2})
	require.NoError(t, err)
	assert.Equal(t, 13, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.Len(t, page.Items, 1)
}

func TestGetProductNotFoundDoesNotFallBack(t *testing.T) {
	fake := &fakeStore{
		getBySlugFn: func(context.Context, string) (store.Product, error) {
			return store.Product{}, sql.ErrNoRows
		},
	}
	svc := NewService(fake, false, nil)

	_, err := svc.GetProduct(context.Background(), "luna-hoops")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetProductHidesInactive(t *testing.T) {
	fake := &fakeStore{
		getBySlugFn: func(context.Context, string) (store.Product, error) {
			return store.Product{ID: "p1", Slug: "retired", IsActive: false}, nil
		},
	}
	svc := NewService(fake, false, nil)

	_, err := svc.GetProduct(context.Background(), "retired")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetProductFallsBackOnStoreError(t *testing.T) {
	fake := &fakeStore{
		getBySlugFn: func(context.Context, string) (store.Product, error) {
			return store.Product{}, errors.New("timeout")
		},
	}
	svc := NewService(fake, false, nil)

	product, err := svc.GetProduct(context.Background(), "halo-diamond-studs")
	require.NoError(t, err)
	assert.Equal(t, "prd_halo_studs", product.ID)
}

func TestGetProductsByIDsKeepsRequestedOrder(t *testing.T) {
	fake := &fakeStore{
		getByIDsFn: func(context.Context, []string) ([]store.Product, error) {
			return []store.Product{{ID: "a"}, {ID: "b"}, {ID: "c"}}, nil
		},
	}
	svc := NewService(fake, false, nil)

	items, err := svc.GetProductsByIDs(context.Background(), []string{"c", "missing", "a", "c"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "c", items[0].ID)
	assert.Equal(t, "a", items[1].ID)
}

func TestFeaturedDefaults(t *testing.T) {
	svc := NewService(nil, true, nil)

	items, err := svc.FeaturedDefaults(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, items, 3)
	for _, p := range items {
		assert.True(t, p.IsFeatured)
	}
}

type fakeSeeder struct {
	count      int
	categories []store.Category
	products   []store.Product
}

func (f *fakeSeeder) CountProducts(context.Context) (int, error) { return f.count, nil }

func (f *fakeSeeder) UpsertCategory(_ context.Context, c store.Category) (store.Category, error) {
	c.ID = "db_" + c.Slug
	f.categories = append(f.categories, c)
	return c, nil
}

func (f *fakeSeeder) InsertProduct(_ context.Context, p store.Product) error {
	f.products = append(f.products, p)
	return nil
}

func TestBootstrapSeedsEmptyDatabase(t *testing.T) {
	seeder := &fakeSeeder{}
	require.NoError(t, Bootstrap(context.Background(), seeder, zap.NewNop()))

	assert.Len(t, seeder.categories, 4)
	assert.Len(t, seeder.products, 12)
	assert.Equal(t, "db_"+seeder.products[0].CategorySlug, seeder.products[0].CategoryID)
}

func TestBootstrapSkipsPopulatedDatabase(t *testing.T) {
	seeder := &fakeSeeder{count: 3}
	require.NoError(t, Bootstrap(context.Background(), seeder, nil))
	assert.Empty(t, seeder.categories)
	assert.Empty(t, seeder.products)
}
