// Package catalog answers product and category queries from Postgres or, in
// CI and when the database is unavailable, from a built-in product list.
package catalog

import (
	"sort"
	"strings"

	"jewelry/api/internal/store"

	"github.com/shopspring/decimal"
)

// Page is one page of a filtered product listing.
type Page struct {
	Items      []store.Product `json:"items"`
	Total      int             `json:"total"`
	Page       int             `json:"page"`
	PageSize   int             `json:"pageSize"`
	TotalPages int             `json:"totalPages"`
}

var validSorts = map[string]bool{
	store.SortFeatured:  true,
	store.SortPriceAsc:  true,
	store.SortPriceDesc: true,
	store.SortRating:    true,
	store.SortNewest:    true,
	store.SortName:      true,
}

// Normalize returns a copy of f with paging clamped, text fields lower-cased,
// an inverted price range swapped and an unknown sort replaced by the default.
func Normalize(f store.ProductFilter) store.ProductFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = store.DefaultPageSize
	}
	if f.PageSize > store.MaxPageSize {
		f.PageSize = store.MaxPageSize
	}

	f.Category = strings.ToLower(strings.TrimSpace(f.Category))
	f.Gemstone = strings.ToLower(strings.TrimSpace(f.Gemstone))
	f.Query = strings.TrimSpace(f.Query)

	if len(f.Materials) > 0 {
		seen := make(map[string]bool, len(f.Materials))
		materials := make([]string, 0, len(f.Materials))
		for _, m := range f.Materials {
			m = strings.ToLower(strings.TrimSpace(m))
			if m == "" || seen[m] {
				continue
			}
			seen[m] = true
			materials = append(materials, m)
		}
		f.Materials = materials
	}

	f.MinPrice = nonNegative(f.MinPrice)
	f.MaxPrice = nonNegative(f.MaxPrice)
	if f.MinPrice != nil && f.MaxPrice != nil && f.MinPrice.GreaterThan(*f.MaxPrice) {
		f.MinPrice, f.MaxPrice = f.MaxPrice, f.MinPrice
	}

	if f.MinRating < 0 {
		f.MinRating = 0
	}
	if f.MinRating > 5 {
		f.MinRating = 5
	}
	if !validSorts[f.Sort] {
		f.Sort = store.SortFeatured
	}
	return f
}

func nonNegative(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	if d.IsNegative() {
		zero := decimal.Zero
		return &zero
	}
	v := *d
	return &v
}

// Apply filters, sorts and paginates products in memory.
func Apply(products []store.Product, f store.ProductFilter) Page {
	f = Normalize(f)

	matched := make([]store.Product, 0, len(products))
	for _, p := range products {
		if Matches(p, f) {
			matched = append(matched, p)
		}
	}
	sortProducts(matched, f.Sort)
	return paginate(matched, len(matched), f)
}

// Matches reports whether p satisfies every constraint of a normalized filter.
func Matches(p store.Product, f store.ProductFilter) bool {
	if !p.IsActive && !f.IncludeInactive {
		return false
	}
	if f.Category != "" && !strings.EqualFold(p.CategorySlug, f.Category) {
		return false
	}
	if len(f.Materials) > 0 && !containsFold(f.Materials, p.Material) {
		return false
	}
	if f.Gemstone != "" && !strings.EqualFold(p.Gemstone, f.Gemstone) {
		return false
	}
	if f.MinPrice != nil && p.Price.LessThan(*f.MinPrice) {
		return false
	}
	if f.MaxPrice != nil && p.Price.GreaterThan(*f.MaxPrice) {
		return false
	}
	if f.MinRating > 0 && p.Rating < f.MinRating {
		return false
	}
	if f.InStockOnly && p.Stock <= 0 {
		return false
	}
	if f.Query != "" && !matchesQuery(p, f.Query) {
		return false
	}
	return true
}

func containsFold(values []string, v string) bool {
	for _, candidate := range values {
		if strings.EqualFold(candidate, v) {
			return true
		}
	}
	return false
}

// matchesQuery requires every term of q to appear in the product's text fields.
func matchesQuery(p store.Product, q string) bool {
	haystack := strings.ToLower(strings.Join([]string{p.Name, p.Description, p.Material, p.Gemstone}, " "))
	for _, term := range strings.Fields(strings.ToLower(q)) {
		if !strings.Contains(haystack, term) {
			return false
		}
	}
	return true
}

func sortProducts(items []store.Product, by string) {
	var less func(a, b store.Product) bool
	switch by {
	case store.SortPriceAsc:
		less = func(a, b store.Product) bool { return a.Price.LessThan(b.Price) }
	case store.SortPriceDesc:
		less = func(a, b store.Product) bool { return a.Price.GreaterThan(b.Price) }
	case store.SortRating:
		less = func(a, b store.Product) bool {
			if a.Rating != b.Rating {
				return a.Rating > b.Rating
			}
			return a.ReviewCount > b.ReviewCount
		}
	case store.SortNewest:
		less = func(a, b store.Product) bool { return a.CreatedAt.After(b.CreatedAt) }
	case store.SortName:
		less = func(a, b store.Product) bool { return strings.ToLower(a.Name) < strings.ToLower(b.Name) }
	default:
		less = func(a, b store.Product) bool {
			if a.IsFeatured != b.IsFeatured {
				return a.IsFeatured
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return less(items[i], items[j]) })
}

func paginate(items []store.Product, total int, f store.ProductFilter) Page {
	start := (f.Page - 1) * f.PageSize
	if start > len(items) {
		start = len(items)
	}
	end := start + f.PageSize
	if end > len(items) {
		end = len(items)
	}
	return newPage(items[start:end], total, f)
}

func newPage(items []store.Product, total int, f store.ProductFilter) Page {
	pages := 0
	if total > 0 {
		pages = (total + f.PageSize - 1) / f.PageSize
	}
	out := make([]store.Product, len(items))
	copy(out, items)
	return Page{Items: out, Total: total, Page: f.Page, PageSize: f.PageSize, TotalPages: pages}
}
