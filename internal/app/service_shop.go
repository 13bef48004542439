package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"jewelry/api/internal/analytics"
	"jewelry/api/internal/cart"
	"jewelry/api/internal/catalog"
	"jewelry/api/internal/featured"
	"jewelry/api/internal/search"
	"jewelry/api/internal/store"
	"jewelry/api/internal/util"
)

const timeLayout = time.RFC3339

type ProductView struct {
	ID                      string           `json:"id"`
	Slug                    string           `json:"slug"`
	Name                    string           `json:"name"`
	Description             string           `json:"description"`
	Price                   decimal.Decimal  `json:"price"`
	PriceFormatted          string           `json:"priceFormatted"`
	CompareAtPrice          *decimal.Decimal `json:"compareAtPrice,omitempty"`
	CompareAtPriceFormatted string           `json:"compareAtPriceFormatted,omitempty"`
	CategorySlug            string           `json:"categorySlug"`
	Material                string           `json:"material"`
	Gemstone                string           `json:"gemstone,omitempty"`
	Images                  []string         `json:"images"`
	Stock                   int              `json:"stock"`
	InStock                 bool             `json:"inStock"`
	Rating                  float64          `json:"rating"`
	ReviewCount             int              `json:"reviewCount"`
	IsFeatured              bool             `json:"isFeatured"`
	IsActive                bool             `json:"isActive"`
}

func toProductView(p store.Product) ProductView {
	view := ProductView{
		ID:             p.ID,
		Slug:           p.Slug,
		Name:           p.Name,
		Description:    p.Description,
		Price:          p.Price,
		PriceFormatted: util.FormatMoney(p.Price),
		CategorySlug:   p.CategorySlug,
		Material:       p.Material,
		Gemstone:       p.Gemstone,
		Images:         p.Images,
		Stock:          p.Stock,
		InStock:        p.Stock > 0,
		Rating:         p.Rating,
		ReviewCount:    p.ReviewCount,
		IsFeatured:     p.IsFeatured,
		IsActive:       p.IsActive,
	}
	if view.Images == nil {
		view.Images = []string{}
	}
	if p.OnSale() {
		view.CompareAtPrice = p.CompareAtPrice
		view.CompareAtPriceFormatted = util.FormatMoney(*p.CompareAtPrice)
	}
	return view
}

func toProductViews(products []store.Product) []ProductView {
	out := make([]ProductView, len(products))
	for i, p := range products {
		out[i] = toProductView(p)
	}
	return out
}

type ProductPage struct {
	Items      []ProductView `json:"items"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"pageSize"`
	TotalPages int           `json:"totalPages"`
}

func toProductPage(page catalog.Page) ProductPage {
	return ProductPage{
		Items:      toProductViews(page.Items),
		Total:      page.Total,
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalPages: page.TotalPages,
	}
}

// Catalog

// ListProducts only ever lists active products.
func (s *Service) ListProducts(ctx context.Context, filter store.ProductFilter) (catalog.Page, error) {
	filter.IncludeInactive = false
	return s.catalog.ListProducts(ctx, filter)
}

func (s *Service) productBySlug(ctx context.Context, slug string) (store.Product, error) {
	product, err := s.catalog.GetProduct(ctx, slug)
	if errors.Is(err, catalog.ErrNotFound) {
		return store.Product{}, notFound("Product not found")
	}
	return product, err
}

func (s *Service) activeProduct(ctx context.Context, id string) (store.Product, error) {
	product, err := s.catalog.GetProductByID(ctx, id)
	if errors.Is(err, catalog.ErrNotFound) {
		return store.Product{}, notFound("Product not found")
	}
	return product, err
}

func (s *Service) GetProduct(ctx context.Context, slug string) (store.Product, error) {
	return s.productBySlug(ctx, slug)
}

// ProductDetail is a product with its published reviews.
type ProductDetail struct {
	Product store.Product
	Reviews []store.Review
	Summary catalog.ReviewSummary
}

func (s *Service) ProductDetail(ctx context.Context, slug string) (ProductDetail, error) {
	product, err := s.productBySlug(ctx, slug)
	if err != nil {
		return ProductDetail{}, err
	}
	reviews, err := s.reviewsFor(ctx, product.ID)
	if err != nil {
		s.logger.Warn("list product reviews failed", zap.String("product_id", product.ID), zap.Error(err))
		reviews = []store.Review{}
	}
	return ProductDetail{Product: product, Reviews: reviews, Summary: catalog.SummarizeReviews(reviews)}, nil
}

func (s *Service) ListCategories(ctx context.Context) ([]store.Category, error) {
	return s.catalog.ListCategories(ctx)
}

// FeaturedProducts resolves the configured featured list to active products
// in stored order. Without a configured list the catalog's featured flag
// decides.
func (s *Service) FeaturedProducts(ctx context.Context) ([]store.Product, error) {
	list, err := s.featured.Get(ctx)
	if err != nil {
		if !errors.Is(err, featured.ErrNotConfigured) {
			s.logger.Warn("read featured products failed", zap.Error(err))
		}
		return s.catalog.FeaturedDefaults(ctx, featured.MaxItems)
	}

	products, err := s.catalog.GetProductsByIDs(ctx, list.ProductIDs)
	if err != nil {
		return nil, err
	}
	out := make([]store.Product, 0, len(products))
	for _, p := range products {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	return s.search.Search(ctx, q)
}

// Cart

func (s *Service) Cart(ctx context.Context, cartID string) (cart.View, error) {
	if cartID == "" {
		return cart.Resolve(nil, nil, s.freeShippingAt, s.flatShipping), nil
	}
	lines, err := s.carts.Get(ctx, cartID)
	if err != nil {
		return cart.View{}, err
	}
	products, err := s.catalog.GetProductsByIDs(ctx, cart.ProductIDs(lines))
	if err != nil {
		return cart.View{}, err
	}
	return cart.Resolve(lines, products, s.freeShippingAt, s.flatShipping), nil
}

type CartLineInput struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"min=0,max=10"`
}

func (s *Service) AddToCart(ctx context.Context, cartID string, input CartLineInput) (cart.View, error) {
	if input.Quantity == 0 {
		input.Quantity = 1
	}
	if err := validateInput(input); err != nil {
		return cart.View{}, err
	}
	product, err := s.activeProduct(ctx, input.ProductID)
	if err != nil {
		return cart.View{}, err
	}
	if product.Stock <= 0 {
		return cart.View{}, domainError(http.StatusConflict, "OUT_OF_STOCK", "This piece is sold out", nil)
	}
	if _, err := s.carts.Add(ctx, cartID, product.ID, input.Quantity); err != nil {
		return cart.View{}, mapCartError(err)
	}
	s.track("add_to_cart", nil, map[string]any{"productId": product.ID, "quantity": input.Quantity})
	return s.Cart(ctx, cartID)
}

// UpdateCartLine sets a line's quantity; zero removes it.
func (s *Service) UpdateCartLine(ctx context.Context, cartID string, input CartLineInput) (cart.View, error) {
	if err := validateInput(input); err != nil {
		return cart.View{}, err
	}
	if _, err := s.carts.Update(ctx, cartID, input.ProductID, input.Quantity); err != nil {
		return cart.View{}, mapCartError(err)
	}
	return s.Cart(ctx, cartID)
}

func (s *Service) RemoveCartLine(ctx context.Context, cartID, productID string) (cart.View, error) {
	if err := s.carts.Remove(ctx, cartID, productID); err != nil {
		return cart.View{}, err
	}
	return s.Cart(ctx, cartID)
}

func (s *Service) ClearCart(ctx context.Context, cartID string) error {
	return s.carts.Clear(ctx, cartID)
}

func mapCartError(err error) error {
	if errors.Is(err, cart.ErrInvalidQuantity) {
		return invalid("Quantity must be between 0 and 10")
	}
	return err
}

// Analytics

type AnalyticsInput struct {
	Events []analytics.Event `json:"events"`
}

// TrackEvents stamps and queues client events. The whole submission is
// rejected when any event is invalid.
func (s *Service) TrackEvents(ctx context.Context, session *Session, input AnalyticsInput) (int, error) {
	if len(input.Events) == 0 {
		return 0, invalid("events are required")
	}
	if len(input.Events) > analytics.MaxEventsPerSubmit {
		return 0, domainError(http.StatusUnprocessableEntity, "TOO_MANY_EVENTS", "Too many events in one request", map[string]int{"max": analytics.MaxEventsPerSubmit})
	}
	now := s.now()
	for i := range input.Events {
		if err := input.Events[i].Normalize(now); err != nil {
			return 0, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), map[string]int{"index": i})
		}
		if session != nil && input.Events[i].UserID == "" {
			input.Events[i].UserID = session.UserID
		}
	}
	if err := s.analytics.Track(input.Events...); err != nil {
		if errors.Is(err, analytics.ErrClosed) {
			return 0, domainError(http.StatusServiceUnavailable, "ANALYTICS_UNAVAILABLE", "Analytics is shutting down", nil)
		}
		return 0, err
	}
	return len(input.Events), nil
}
