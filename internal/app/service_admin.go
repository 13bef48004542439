package app

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"jewelry/api/internal/catalog"
	"jewelry/api/internal/email"
	"jewelry/api/internal/featured"
	"jewelry/api/internal/storage"
	"jewelry/api/internal/store"
	"jewelry/api/internal/util"
)

// Products

type ProductInput struct {
	Slug           string   `json:"slug" validate:"omitempty,max=120"`
	Name           string   `json:"name" validate:"required,max=160"`
	Description    string   `json:"description" validate:"max=5000"`
	Price          string   `json:"price" validate:"required"`
	CompareAtPrice string   `json:"compareAtPrice"`
	CategorySlug   string   `json:"categorySlug" validate:"required"`
	Material       string   `json:"material" validate:"required,max=60"`
	Gemstone       string   `json:"gemstone" validate:"max=60"`
	Images         []string `json:"images" validate:"max=12,dive,required"`
	Stock          int      `json:"stock" validate:"min=0"`
	IsFeatured     bool     `json:"isFeatured"`
	IsActive       *bool    `json:"isActive"`
}

// toProduct validates input and applies it on top of base.
func (s *Service) toProduct(ctx context.Context, base store.Product, input ProductInput) (store.Product, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.CategorySlug = strings.ToLower(strings.TrimSpace(input.CategorySlug))
	input.Material = strings.ToLower(strings.TrimSpace(input.Material))
	input.Gemstone = strings.ToLower(strings.TrimSpace(input.Gemstone))
	if err := validateInput(input); err != nil {
		return store.Product{}, err
	}

	price, err := decimal.NewFromString(strings.TrimSpace(input.Price))
	if err != nil || !price.IsPositive() {
		return store.Product{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid input", map[string]string{"price": "decimal"})
	}
	var compare *decimal.Decimal
	if raw := strings.TrimSpace(input.CompareAtPrice); raw != "" {
		value, err := decimal.NewFromString(raw)
		if err != nil || value.IsNegative() {
			return store.Product{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid input", map[string]string{"compareAtPrice": "decimal"})
		}
		compare = &value
	}

	category, err := s.store.GetCategoryBySlug(ctx, input.CategorySlug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Product{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unknown category", map[string]string{"categorySlug": "exists"})
		}
		return store.Product{}, err
	}

	slug := util.Slugify(input.Slug)
	if slug == "" {
		slug = util.Slugify(input.Name)
	}
	if slug == "" {
		return store.Product{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid input", map[string]string{"slug": "required"})
	}

	p := base
	p.Slug = slug
	p.Name = input.Name
	p.Description = strings.TrimSpace(input.Description)
	p.Price = price.Round(2)
	p.CompareAtPrice = compare
	p.CategoryID = category.ID
	p.CategorySlug = category.Slug
	p.Material = input.Material
	p.Gemstone = input.Gemstone
	p.Images = input.Images
	if p.Images == nil {
		p.Images = []string{}
	}
	p.Stock = input.Stock
	p.IsFeatured = input.IsFeatured
	if input.IsActive != nil {
		p.IsActive = *input.IsActive
	}
	return p, nil
}

func (s *Service) AdminListProducts(ctx context.Context, filter store.ProductFilter) (ProductPage, error) {
	if filter.Sort == "" {
		filter.Sort = store.SortNewest
	}
	filter = catalog.Normalize(filter)
	filter.IncludeInactive = true
	products, total, err := s.store.ListProducts(ctx, filter)
	if err != nil {
		return ProductPage{}, err
	}
	pages := 0
	if total > 0 {
		pages = (total + filter.PageSize - 1) / filter.PageSize
	}
	return ProductPage{
		Items:      toProductViews(products),
		Total:      total,
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalPages: pages,
	}, nil
}

func (s *Service) AdminGetProduct(ctx context.Context, id string) (store.Product, error) {
	product, err := s.store.GetProductByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Product{}, notFound("Product not found")
	}
	return product, err
}

func (s *Service) CreateProduct(ctx context.Context, input ProductInput) (store.Product, error) {
	base := store.Product{ID: util.NewID("prd"), IsActive: true, CreatedAt: s.now().UTC()}
	product, err := s.toProduct(ctx, base, input)
	if err != nil {
		return store.Product{}, err
	}
	if err := s.store.InsertProduct(ctx, product); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return store.Product{}, domainError(http.StatusConflict, "SLUG_TAKEN", "A product with this slug already exists", nil)
		}
		return store.Product{}, err
	}
	s.search.IndexProduct(product)
	s.logger.Info("product created", zap.String("product_id", product.ID), zap.String("slug", product.Slug))
	return product, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, input ProductInput) (store.Product, error) {
	current, err := s.AdminGetProduct(ctx, id)
	if err != nil {
		return store.Product{}, err
	}
	product, err := s.toProduct(ctx, current, input)
	if err != nil {
		return store.Product{}, err
	}
	if err := s.store.UpdateProduct(ctx, product); err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicate):
			return store.Product{}, domainError(http.StatusConflict, "SLUG_TAKEN", "A product with this slug already exists", nil)
		case errors.Is(err, sql.ErrNoRows):
			return store.Product{}, notFound("Product not found")
		}
		return store.Product{}, err
	}
	s.search.IndexProduct(product)
	return product, nil
}

// ArchiveProduct hides a product from the storefront and the search index.
func (s *Service) ArchiveProduct(ctx context.Context, id string) error {
	if err := s.store.ArchiveProduct(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Product not found")
		}
		return err
	}
	s.search.DeleteProduct(id)
	return nil
}

// Reindex pushes every active product into the search index.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	var all []store.Product
	for page := 1; ; page++ {
		items, total, err := s.store.ListProducts(ctx, store.ProductFilter{
			Sort:     store.SortName,
			Page:     page,
			PageSize: store.MaxPageSize,
		})
		if err != nil {
			return 0, err
		}
		all = append(all, items...)
		if len(items) == 0 || len(all) >= total {
			break
		}
	}
	return s.search.Reindex(all)
}

type CategoryInput struct {
	Slug        string `json:"slug" validate:"omitempty,max=80"`
	Name        string `json:"name" validate:"required,max=80"`
	Description string `json:"description" validate:"max=1000"`
	ImageURL    string `json:"imageUrl" validate:"omitempty,max=500"`
	SortOrder   int    `json:"sortOrder"`
}

func (s *Service) UpsertCategory(ctx context.Context, input CategoryInput) (store.Category, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := validateInput(input); err != nil {
		return store.Category{}, err
	}
	slug := util.Slugify(input.Slug)
	if slug == "" {
		slug = util.Slugify(input.Name)
	}
	if slug == "" {
		return store.Category{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid input", map[string]string{"slug": "required"})
	}
	return s.store.UpsertCategory(ctx, store.Category{
		ID:          util.NewID("cat"),
		Slug:        slug,
		Name:        input.Name,
		Description: strings.TrimSpace(input.Description),
		ImageURL:    strings.TrimSpace(input.ImageURL),
		SortOrder:   input.SortOrder,
	})
}

// Orders

type OrderList struct {
	Items []OrderView `json:"items"`
	Total int         `json:"total"`
}

func (s *Service) AdminListOrders(ctx context.Context, status string, limit, offset int) (OrderList, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status != "" && !validOrderStatus(status) {
		return OrderList{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid input", map[string]string{"status": "oneof"})
	}
	limit, offset = clampPage(limit, offset)
	orders, total, err := s.store.ListOrders(ctx, status, limit, offset)
	if err != nil {
		return OrderList{}, err
	}
	out := OrderList{Items: make([]OrderView, len(orders)), Total: total}
	for i, o := range orders {
		out.Items[i] = toOrderView(o)
	}
	return out, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *Service) AdminGetOrder(ctx context.Context, id string) (store.Order, error) {
	order, err := s.store.GetOrder(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Order{}, notFound("Order not found")
	}
	return order, err
}

// orderTransitions maps a target status to the statuses it may be reached from.
var orderTransitions = map[string][]string{
	store.OrderPaid:       {store.OrderPending},
	store.OrderProcessing: {store.OrderPaid},
	store.OrderShipped:    {store.OrderProcessing},
	store.OrderDelivered:  {store.OrderShipped},
	store.OrderCancelled:  {store.OrderPending, store.OrderPaid},
}

func validOrderStatus(status string) bool {
	_, ok := orderTransitions[status]
	return ok || status == store.OrderPending
}

type TransitionInput struct {
	Status         string `json:"status" validate:"required"`
	TrackingNumber string `json:"trackingNumber" validate:"max=80"`
}

func (s *Service) TransitionOrder(ctx context.Context, id string, input TransitionInput) (store.Order, error) {
	input.Status = strings.ToLower(strings.TrimSpace(input.Status))
	input.TrackingNumber = strings.TrimSpace(input.TrackingNumber)
	if err := validateInput(input); err != nil {
		return store.Order{}, err
	}
	from, ok := orderTransitions[input.Status]
	if !ok {
		return store.Order{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid input", map[string]string{"status": "oneof"})
	}
	if input.Status == store.OrderShipped && input.TrackingNumber == "" {
		return store.Order{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "A tracking number is required to ship an order", map[string]string{"trackingNumber": "required"})
	}

	order, err := s.AdminGetOrder(ctx, id)
	if err != nil {
		return store.Order{}, err
	}

	if input.Status == store.OrderCancelled {
		err = s.store.CancelOrder(ctx, id, from)
	} else {
		err = s.store.UpdateOrderStatus(ctx, id, from, input.Status, input.TrackingNumber)
	}
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return store.Order{}, domainError(http.StatusConflict, "INVALID_TRANSITION",
				"Cannot move an order from "+order.Status+" to "+input.Status,
				map[string]string{"from": order.Status, "to": input.Status})
		}
		return store.Order{}, err
	}
	s.logger.Info("order status changed",
		zap.String("order_id", id),
		zap.String("from", order.Status),
		zap.String("to", input.Status),
	)

	order.Status = input.Status
	if input.TrackingNumber != "" {
		order.TrackingNumber = input.TrackingNumber
	}
	if input.Status == store.OrderShipped && s.SMTPConfigured() {
		data := email.ShippingData{
			CustomerName:   order.ShippingAddress.Name,
			OrderNumber:    order.Number,
			TrackingNumber: order.TrackingNumber,
			OrderURL:       s.cfg.SiteURL + "/account",
		}
		if err := s.mailer.SendShippingUpdate(order.Email, data); err != nil {
			s.logger.Warn("send shipping update failed", zap.String("order_id", id), zap.Error(err))
		}
	}
	return order, nil
}

// Featured

type FeaturedView struct {
	ProductIDs []string      `json:"productIds"`
	Products   []ProductView `json:"products"`
	UpdatedAt  string        `json:"updatedAt,omitempty"`
}

func (s *Service) AdminFeatured(ctx context.Context) (FeaturedView, error) {
	list, err := s.featured.Get(ctx)
	if err != nil && !errors.Is(err, featured.ErrNotConfigured) {
		return FeaturedView{}, err
	}
	products, err := s.FeaturedProducts(ctx)
	if err != nil {
		return FeaturedView{}, err
	}
	view := FeaturedView{ProductIDs: list.ProductIDs, Products: toProductViews(products)}
	if view.ProductIDs == nil {
		view.ProductIDs = []string{}
	}
	if !list.UpdatedAt.IsZero() {
		view.UpdatedAt = list.UpdatedAt.UTC().Format(timeLayout)
	}
	return view, nil
}

type FeaturedInput struct {
	ProductIDs []string `json:"productIds"`
}

// SetFeatured replaces the featured list. Every id must name an active product.
func (s *Service) SetFeatured(ctx context.Context, input FeaturedInput) (FeaturedView, error) {
	if len(input.ProductIDs) > featured.MaxItems {
		return FeaturedView{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", featured.ErrTooMany.Error(), map[string]int{"max": featured.MaxItems})
	}
	products, err := s.catalog.GetProductsByIDs(ctx, input.ProductIDs)
	if err != nil {
		return FeaturedView{}, err
	}
	active := make(map[string]bool, len(products))
	for _, p := range products {
		if p.IsActive {
			active[p.ID] = true
		}
	}
	var unknown []string
	for _, id := range input.ProductIDs {
		if !active[id] {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return FeaturedView{}, domainError(http.StatusUnprocessableEntity, "UNKNOWN_PRODUCT", "Some products do not exist or are archived", map[string][]string{"productIds": unknown})
	}

	if _, err := s.featured.Set(ctx, input.ProductIDs); err != nil {
		switch {
		case errors.Is(err, featured.ErrTooMany), errors.Is(err, featured.ErrEmptyID):
			return FeaturedView{}, invalid(err.Error())
		}
		return FeaturedView{}, err
	}
	return s.AdminFeatured(ctx)
}

// Reviews

func (s *Service) AdminListReviews(ctx context.Context, status string, limit, offset int) ([]ReviewView, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status != "" && status != store.ReviewPublished && status != store.ReviewHidden {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid input", map[string]string{"status": "oneof"})
	}
	limit, offset = clampPage(limit, offset)
	reviews, err := s.store.ListReviews(ctx, status, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]ReviewView, len(reviews))
	for i, r := range reviews {
		out[i] = toReviewView(r)
	}
	return out, nil
}

func (s *Service) ModerateReview(ctx context.Context, id, status string) (ReviewView, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status != store.ReviewPublished && status != store.ReviewHidden {
		return ReviewView{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid input", map[string]string{"status": "oneof"})
	}
	review, err := s.store.GetReview(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ReviewView{}, notFound("Review not found")
		}
		return ReviewView{}, err
	}
	if err := s.store.SetReviewStatus(ctx, id, status); err != nil {
		return ReviewView{}, err
	}
	if err := s.store.RecomputeProductRating(ctx, review.ProductID); err != nil {
		s.logger.Warn("recompute rating failed", zap.String("product_id", review.ProductID), zap.Error(err))
	}
	review.Status = status
	return toReviewView(review), nil
}

// Newsletter

type SubscriberView struct {
	Email          string `json:"email"`
	Source         string `json:"source"`
	SubscribedAt   string `json:"subscribedAt"`
	UnsubscribedAt string `json:"unsubscribedAt,omitempty"`
}

func (s *Service) Subscribers(ctx context.Context, activeOnly bool) ([]SubscriberView, error) {
	subs, err := s.store.ListSubscribers(ctx, activeOnly)
	if err != nil {
		return nil, err
	}
	out := make([]SubscriberView, len(subs))
	for i, sub := range subs {
		out[i] = SubscriberView{
			Email:        sub.Email,
			Source:       sub.Source,
			SubscribedAt: sub.SubscribedAt.UTC().Format(timeLayout),
		}
		if sub.UnsubscribedAt != nil {
			out[i].UnsubscribedAt = sub.UnsubscribedAt.UTC().Format(timeLayout)
		}
	}
	return out, nil
}

// ExportSubscribersCSV writes the active subscribers as CSV with a header row.
func (s *Service) ExportSubscribersCSV(ctx context.Context, w io.Writer) error {
	subs, err := s.Subscribers(ctx, true)
	if err != nil {
		return err
	}
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"email", "source", "subscribed_at"}); err != nil {
		return err
	}
	for _, sub := range subs {
		if err := writer.Write([]string{sub.Email, sub.Source, sub.SubscribedAt}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// Stats

type StatsView struct {
	ActiveProducts   int            `json:"activeProducts"`
	OrdersByStatus   map[string]int `json:"ordersByStatus"`
	PaidRevenue      string         `json:"paidRevenue"`
	Subscribers      int            `json:"subscribers"`
	PublishedReviews int            `json:"publishedReviews"`
}

func (s *Service) Stats(ctx context.Context) (StatsView, error) {
	stats, err := s.store.DashboardStats(ctx)
	if err != nil {
		return StatsView{}, err
	}
	byStatus := stats.OrdersByStatus
	if byStatus == nil {
		byStatus = map[string]int{}
	}
	return StatsView{
		ActiveProducts:   stats.ActiveProducts,
		OrdersByStatus:   byStatus,
		PaidRevenue:      util.FormatMoney(stats.PaidRevenue),
		Subscribers:      stats.Subscribers,
		PublishedReviews: stats.PublishedReviews,
	}, nil
}

// Uploads

func (s *Service) UploadImage(ctx context.Context, r io.Reader, size int64) (storage.Object, error) {
	if s.uploads == nil {
		return storage.Object{}, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Uploads are not configured", nil)
	}
	obj, err := s.uploads.Upload(ctx, r, size)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotConfigured):
			return storage.Object{}, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Uploads are not configured", nil)
		case errors.Is(err, storage.ErrTooLarge):
			return storage.Object{}, domainError(http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", err.Error(), nil)
		case errors.Is(err, storage.ErrUnsupportedType):
			return storage.Object{}, domainError(http.StatusUnsupportedMediaType, "UNSUPPORTED_TYPE", "Only JPEG, PNG, WebP, GIF and AVIF images are accepted", nil)
		case errors.Is(err, storage.ErrEmpty):
			return storage.Object{}, invalid(err.Error())
		}
		return storage.Object{}, err
	}
	s.logger.Info("image uploaded", zap.String("key", obj.Key), zap.Int64("size", obj.Size))
	return obj, nil
}
