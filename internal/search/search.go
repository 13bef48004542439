// Package search answers storefront product searches from Meilisearch and
// falls back to the catalog filter when the index is unavailable.
package search

import (
	"context"

	"jewelry/api/internal/store"
)

const (
	DefaultLimit = 20
	MaxLimit     = 48
)

const (
	SourceIndex   = "meilisearch"
	SourceCatalog = "catalog"
)

// Result is a single product hit returned to the caller.
type Result struct {
	ID           string `json:"id"`
	Slug         string `json:"slug"`
	Name         string `json:"name"`
	Snippet      string `json:"snippet"`
	CategorySlug string `json:"categorySlug"`
	Price        string `json:"price"`
	Image        string `json:"image,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text     string
	Category string
	Limit    int
	Offset   int
}

func (q Query) normalized() Query {
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Source  string   `json:"source"`
}

// Searcher can execute a product search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
}

// ProductRecord is the document stored in the product index.
type ProductRecord struct {
	ID           string  `json:"id"`
	Slug         string  `json:"slug"`
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	CategorySlug string  `json:"categorySlug"`
	Material     string  `json:"material"`
	Gemstone     string  `json:"gemstone"`
	Price        float64 `json:"price"`
	Image        string  `json:"image"`
	Rating       float64 `json:"rating"`
	IsActive     bool    `json:"isActive"`
}

func RecordFromProduct(p store.Product) ProductRecord {
	price, _ := p.Price.Float64()
	return ProductRecord{
		ID:           p.ID,
		Slug:         p.Slug,
		Name:         p.Name,
		Description:  p.Description,
		CategorySlug: p.CategorySlug,
		Material:     p.Material,
		Gemstone:     p.Gemstone,
		Price:        price,
		Image:        p.PrimaryImage(),
		Rating:       p.Rating,
		IsActive:     p.IsActive,
	}
}
