package search

import (
	"context"
	"strings"

	"jewelry/api/internal/catalog"
	"jewelry/api/internal/store"
)

const snippetLength = 140

// ProductLister is the catalog query the fallback searcher runs.
type ProductLister interface {
	ListProducts(ctx context.Context, filter store.ProductFilter) (catalog.Page, error)
}

// CatalogSearcher answers searches with the catalog filter, which uses
// Postgres full-text matching or the in-memory fallback list.
type CatalogSearcher struct {
	catalog ProductLister
}

func NewCatalogSearcher(c ProductLister) *CatalogSearcher {
	return &CatalogSearcher{catalog: c}
}

func (c *CatalogSearcher) Search(ctx context.Context, q Query) ([]Result, int, error) {
	q = q.normalized()
	if strings.TrimSpace(q.Text) == "" && q.Category == "" {
		return nil, 0, nil
	}

	// Offsets that are not a multiple of the limit round down to a page boundary.
	page, err := c.catalog.ListProducts(ctx, store.ProductFilter{
		Query:    q.Text,
		Category: q.Category,
		Sort:     store.SortRating,
		Page:     q.Offset/q.Limit + 1,
		PageSize: q.Limit,
	})
	if err != nil {
		return nil, 0, err
	}

	results := make([]Result, 0, len(page.Items))
	for _, p := range page.Items {
		results = append(results, productResult(p))
	}
	return results, page.Total, nil
}

func productResult(p store.Product) Result {
	return Result{
		ID:           p.ID,
		Slug:         p.Slug,
		Name:         p.Name,
		Snippet:      truncate(p.Description, snippetLength),
		CategorySlug: p.CategorySlug,
		Price:        p.Price.StringFixed(2),
		Image:        p.PrimaryImage(),
	}
}

func truncate(s string, n int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= n {
		return string(runes)
	}
	return strings.TrimSpace(string(runes[:n])) + "…"
}
