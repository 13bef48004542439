package store

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

type User struct {
	ID                    string
	Email                 string
	DisplayName           string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Category struct {
	ID          string
	Slug        string
	Name        string
	Description string
	ImageURL    string
	SortOrder   int
}

type Product struct {
	ID             string
	Slug           string
	Name           string
	Description    string
	Price          decimal.Decimal
	CompareAtPrice *decimal.Decimal
	CategoryID     string
	CategorySlug   string
	Material       string
	Gemstone       string
	Images         []string
	Stock          int
	Rating         float64
	ReviewCount    int
	IsFeatured     bool
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PrimaryImage returns the first image URL or an empty string.
func (p Product) PrimaryImage() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

// OnSale reports whether the product has a compare-at price above its price.
func (p Product) OnSale() bool {
	return p.CompareAtPrice != nil && p.CompareAtPrice.GreaterThan(p.Price)
}

// ProductFilter narrows a product listing. Zero values mean "no constraint".
type ProductFilter struct {
	Category        string
	Materials       []string
	Gemstone        string
	MinPrice        *decimal.Decimal
	MaxPrice        *decimal.Decimal
	MinRating       float64
	Query           string
	InStockOnly     bool
	IncludeInactive bool
	Sort            string
	Page            int
	PageSize        int
}

const (
	SortFeatured  = "featured"
	SortPriceAsc  = "price-asc"
	SortPriceDesc = "price-desc"
	SortRating    = "rating"
	SortNewest    = "newest"
	SortName      = "name"
)

const (
	OrderPending    = "pending"
	OrderPaid       = "paid"
	OrderProcessing = "processing"
	OrderShipped    = "shipped"
	OrderDelivered  = "delivered"
	OrderCancelled  = "cancelled"
)

type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type Order struct {
	ID               string
	Number           string
	UserID           *string
	Email            string
	Status           string
	Subtotal         decimal.Decimal
	Shipping         decimal.Decimal
	Total            decimal.Decimal
	Currency         string
	ShippingAddress  Address
	PaymentSessionID string
	PaymentReference string
	TrackingNumber   string
	Items            []OrderItem
	CreatedAt        time.Time
	UpdatedAt        time.Time
	PaidAt           *time.Time
}

type OrderItem struct {
	ID          string
	OrderID     string
	ProductID   string
	ProductName string
	ProductSlug string
	ImageURL    string
	UnitPrice   decimal.Decimal
	Quantity    int
	LineTotal   decimal.Decimal
}

const (
	ReviewPublished = "published"
	ReviewHidden    = "hidden"
)

type Review struct {
	ID         string
	ProductID  string
	UserID     string
	AuthorName string
	Rating     int
	Title      string
	Body       string
	Status     string
	CreatedAt  time.Time
}

type WishlistItem struct {
	UserID    string
	ProductID string
	AddedAt   time.Time
	Product   Product
}

type NewsletterSubscriber struct {
	ID               string
	Email            string
	Source           string
	UnsubscribeToken string
	SubscribedAt     time.Time
	UnsubscribedAt   *time.Time
}

type DashboardStats struct {
	ActiveProducts   int
	OrdersByStatus   map[string]int
	PaidRevenue      decimal.Decimal
	Subscribers      int
	PublishedReviews int
}
