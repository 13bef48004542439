package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"jewelry/api/internal/analytics"
	"jewelry/api/internal/auth"
	"jewelry/api/internal/authpw"
	"jewelry/api/internal/cart"
	"jewelry/api/internal/catalog"
	"jewelry/api/internal/config"
	"jewelry/api/internal/email"
	"jewelry/api/internal/export"
	"jewelry/api/internal/featured"
	"jewelry/api/internal/payment"
	"jewelry/api/internal/rbac"
	"jewelry/api/internal/search"
	"jewelry/api/internal/storage"
	"jewelry/api/internal/store"
	"jewelry/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// CartID is the Redis cart a signed-in user shops with.
func (s Session) CartID() string {
	return "user-" + s.UserID
}

// DataStore is everything the service reads from and writes to Postgres.
type DataStore interface {
	authpw.UserStore
	catalog.Store
	catalog.Seeder
	SessionStore

	UpdateUserProfile(ctx context.Context, userID, displayName string) error

	UpdateProduct(ctx context.Context, p store.Product) error
	ArchiveProduct(ctx context.Context, id string) error
	GetCategoryBySlug(ctx context.Context, slug string) (store.Category, error)

	CreateOrder(ctx context.Context, order store.Order) error
	GetOrder(ctx context.Context, id string) (store.Order, error)
	GetOrderByPaymentSession(ctx context.Context, sessionID string) (store.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]store.Order, error)
	ListOrders(ctx context.Context, status string, limit, offset int) ([]store.Order, int, error)
	AttachPaymentSession(ctx context.Context, orderID, sessionID string) error
	UpdateOrderStatus(ctx context.Context, id string, from []string, status, trackingNumber string) error
	MarkOrderPaid(ctx context.Context, id, paymentReference string, paidAt time.Time) (bool, error)
	CancelOrder(ctx context.Context, id string, from []string) error

	InsertReview(ctx context.Context, r store.Review) error
	GetReview(ctx context.Context, id string) (store.Review, error)
	ListProductReviews(ctx context.Context, productID string) ([]store.Review, error)
	ListReviews(ctx context.Context, status string, limit, offset int) ([]store.Review, error)
	SetReviewStatus(ctx context.Context, id, status string) error
	RecomputeProductRating(ctx context.Context, productID string) error

	AddWishlistItem(ctx context.Context, userID, productID string) error
	RemoveWishlistItem(ctx context.Context, userID, productID string) error
	ListWishlist(ctx context.Context, userID string) ([]store.WishlistItem, error)

	UpsertSubscriber(ctx context.Context, sub store.NewsletterSubscriber) (store.NewsletterSubscriber, bool, error)
	UnsubscribeByToken(ctx context.Context, token string) error
	ListSubscribers(ctx context.Context, activeOnly bool) ([]store.NewsletterSubscriber, error)

	DashboardStats(ctx context.Context) (store.DashboardStats, error)
	Ping(ctx context.Context) error
}

// SessionStore keeps refresh tokens and revoked access tokens. Redis and
// Postgres both implement it.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type CartStore interface {
	Get(ctx context.Context, cartID string) ([]cart.Line, error)
	Add(ctx context.Context, cartID, productID string, qty int) (int, error)
	Update(ctx context.Context, cartID, productID string, qty int) (int, error)
	Remove(ctx context.Context, cartID, productID string) error
	Clear(ctx context.Context, cartID string) error
	Merge(ctx context.Context, from, to string) error
}

type FeaturedStore interface {
	Get(ctx context.Context) (featured.List, error)
	Set(ctx context.Context, ids []string) (featured.List, error)
}

type PaymentGateway interface {
	Configured() bool
	CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (payment.CheckoutSession, error)
	ParseWebhook(payload []byte, signature string) (payment.Event, error)
}

type Mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendOrderConfirmation(to string, data email.OrderData) error
	SendShippingUpdate(to string, data email.ShippingData) error
	SendNewsletterWelcome(to string, data email.NewsletterData) error
}

type EventTracker interface {
	Track(events ...analytics.Event) error
}

type Uploader interface {
	Upload(ctx context.Context, r io.Reader, size int64) (storage.Object, error)
}

type InvoiceExporter interface {
	Invoice(ctx context.Context, order store.Order) (*export.Result, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps wires the service. Store, Carts and Featured are required; a nil
// Sessions falls back to Store, and the optional integrations degrade to
// "unavailable" responses.
type Deps struct {
	Store     DataStore
	Sessions  SessionStore
	Carts     CartStore
	Featured  FeaturedStore
	Catalog   *catalog.Service
	Search    *search.Service
	Payments  PaymentGateway
	Mailer    Mailer
	Analytics EventTracker
	Uploads   Uploader
	Invoices  InvoiceExporter
	Redis     Pinger
	Logger    *zap.Logger
}

type Service struct {
	cfg       config.Config
	logger    *zap.Logger
	store     DataStore
	sessions  SessionStore
	auth      *authpw.Service
	catalog   *catalog.Service
	search    *search.Service
	carts     CartStore
	featured  FeaturedStore
	payments  PaymentGateway
	mailer    Mailer
	analytics EventTracker
	uploads   Uploader
	invoices  InvoiceExporter
	redis     Pinger

	freeShippingAt decimal.Decimal
	flatShipping   decimal.Decimal
	now            func() time.Time
}

func New(cfg config.Config, deps Deps) (*Service, error) {
	threshold, err := decimal.NewFromString(cfg.FreeShippingThreshold)
	if err != nil {
		return nil, fmt.Errorf("parse FREE_SHIPPING_THRESHOLD: %w", err)
	}
	flat, err := decimal.NewFromString(cfg.FlatShippingRate)
	if err != nil {
		return nil, fmt.Errorf("parse FLAT_SHIPPING_RATE: %w", err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = deps.Store
	}
	catalogSvc := deps.Catalog
	if catalogSvc == nil {
		catalogSvc = catalog.NewService(deps.Store, cfg.UseFallbackCatalog, logger)
	}
	searchSvc := deps.Search
	if searchSvc == nil {
		searchSvc = search.NewService(nil, search.NewCatalogSearcher(catalogSvc), logger)
	}
	tracker := deps.Analytics
	if tracker == nil {
		tracker = discardTracker{}
	}

	return &Service{
		cfg:            cfg,
		logger:         logger,
		store:          deps.Store,
		sessions:       sessions,
		auth:           authpw.NewService(deps.Store, cfg.IsAdminEmail),
		catalog:        catalogSvc,
		search:         searchSvc,
		carts:          deps.Carts,
		featured:       deps.Featured,
		payments:       deps.Payments,
		mailer:         deps.Mailer,
		analytics:      tracker,
		uploads:        deps.Uploads,
		invoices:       deps.Invoices,
		redis:          deps.Redis,
		freeShippingAt: threshold,
		flatShipping:   flat,
		now:            time.Now,
	}, nil
}

type discardTracker struct{}

func (discardTracker) Track(...analytics.Event) error { return nil }

// Bootstrap seeds an empty database with the built-in catalog.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.catalog.UsingFallback() {
		return nil
	}
	return catalog.Bootstrap(ctx, s.store, s.logger)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if refreshToken == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	ref, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, ref.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	jti := util.NewID("jti")
	claims := auth.NewClaims(user.ID, user.DisplayName, user.Role, jti, s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), claims)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft")
	refreshExpires := s.now().Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    claims.Expiry(),
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    claims.Subject,
		UserName:  claims.Name,
		Role:      string(rbac.Normalize(claims.Role)),
		JTI:       claims.ID,
		ExpiresAt: claims.Expiry(),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			s.logger.Warn("revoke access token failed", zap.Error(err))
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.logger.Warn("revoke refresh token failed", zap.Error(err))
		}
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// Readiness pings each backing service and reports the failures by name.
func (s *Service) Readiness(ctx context.Context) map[string]error {
	checks := map[string]error{"database": s.store.Ping(ctx)}
	if s.redis != nil {
		checks["redis"] = s.redis.Ping(ctx)
	}
	return checks
}

func (s *Service) SMTPConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

func (s *Service) track(name string, session *Session, props map[string]any) {
	event := analytics.Event{Name: name, Properties: props, Timestamp: s.now().UTC()}
	if session != nil {
		event.UserID = session.UserID
	}
	if err := s.analytics.Track(event); err != nil && !errors.Is(err, analytics.ErrClosed) {
		s.logger.Warn("track event failed", zap.String("event", name), zap.Error(err))
	}
}
