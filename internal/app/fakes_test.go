package app

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"jewelry/api/internal/analytics"
	"jewelry/api/internal/cart"
	"jewelry/api/internal/catalog"
	"jewelry/api/internal/config"
	"jewelry/api/internal/email"
	"jewelry/api/internal/featured"
	"jewelry/api/internal/payment"
	"jewelry/api/internal/session"
	"jewelry/api/internal/store"
)

// fakeStore keeps users, products and orders in memory. The fn fields
// override individual methods.
type fakeStore struct {
	mu sync.Mutex

	users      map[string]store.User
	resets     map[string]string
	products   []store.Product
	categories []store.Category
	orders     map[string]store.Order
	reviews    []store.Review
	wishlist   map[string][]store.WishlistItem
	subs       map[string]store.NewsletterSubscriber

	createOrderFn  func(context.Context, store.Order) error
	insertReviewFn func(context.Context, store.Review) error
	pingFn         func(context.Context) error
	recomputed     []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:      map[string]store.User{},
		resets:     map[string]string{},
		products:   testProducts(),
		categories: []store.Category{{ID: "cat_rings", Slug: "rings", Name: "Rings"}},
		orders:     map[string]store.Order{},
		wishlist:   map[string][]store.WishlistItem{},
		subs:       map[string]store.NewsletterSubscriber{},
	}
}

func testProducts() []store.Product {
	compare := decimal.RequireFromString("120.00")
	return []store.Product{
		{ID: "prd_ring", Slug: "gold-ring", Name: "Gold Ring", Price: decimal.RequireFromString("80.00"), CompareAtPrice: &compare,
			CategoryID: "cat_rings", CategorySlug: "rings", Material: "gold", Images: []string{"/static/images/products/gold-ring.jpg"},
			Stock: 5, IsActive: true, IsFeatured: true},
		{ID: "prd_band", Slug: "silver-band", Name: "Silver Band", Price: decimal.RequireFromString("45.50"),
			CategoryID: "cat_rings", CategorySlug: "rings", Material: "silver", Stock: 2, IsActive: true},
		{ID: "prd_gone", Slug: "retired-pendant", Name: "Retired Pendant", Price: decimal.RequireFromString("300.00"),
			CategoryID: "cat_rings", CategorySlug: "rings", Material: "gold", Stock: 3, IsActive: false},
	}
}

func (f *fakeStore) product(match func(store.Product) bool) (store.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.products {
		if match(p) {
			return p, nil
		}
	}
	return store.Product{}, sql.ErrNoRows
}

// users

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == user.Email {
			return store.ErrDuplicate
		}
	}
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) UpdateUserVerificationToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[userID]
	u.VerificationToken = token
	u.VerificationExpiresAt = &expiresAt
	f.users[userID] = u
	return nil
}

func (f *fakeStore) VerifyUserEmail(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, u := range f.users {
		if u.VerificationToken == token && token != "" {
			u.IsEmailVerified = true
			u.VerificationToken = ""
			f.users[id] = u
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) UpdateUserPassword(_ context.Context, userID, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[userID]
	u.PasswordHash = hash
	f.users[userID] = u
	return nil
}

func (f *fakeStore) UpdateUserProfile(_ context.Context, userID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.DisplayName = name
	f.users[userID] = u
	return nil
}

func (f *fakeStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[token] = userID
	return nil
}

func (f *fakeStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.resets[token]
	if !ok {
		return "", sql.ErrNoRows
	}
	return id, nil
}

func (f *fakeStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.resets, token)
	return nil
}

// Postgres-backed sessions are replaced by Redis in tests.

func (f *fakeStore) SaveRefreshSession(context.Context, string, string, time.Time) error { return nil }
func (f *fakeStore) LookupRefreshSession(context.Context, string) (store.User, error) {
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) RevokeRefreshSession(context.Context, string) error { return nil }
func (f *fakeStore) RevokeAccessToken(context.Context, string, time.Time) error { return nil }
func (f *fakeStore) IsAccessTokenRevoked(context.Context, string) (bool, error) { return false, nil }

// catalog

func (f *fakeStore) ListProducts(_ context.Context, filter store.ProductFilter) ([]store.Product, int, error) {
	f.mu.Lock()
	products := append([]store.Product(nil), f.products...)
	f.mu.Unlock()
	page := catalog.Apply(products, catalog.Normalize(filter))
	return page.Items, page.Total, nil
}

func (f *fakeStore) CountProducts(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.products), nil
}

func (f *fakeStore) GetProductBySlug(_ context.Context, slug string) (store.Product, error) {
	return f.product(func(p store.Product) bool { return p.Slug == slug })
}

func (f *fakeStore) GetProductByID(_ context.Context, id string) (store.Product, error) {
	return f.product(func(p store.Product) bool { return p.ID == id })
}

func (f *fakeStore) GetProductsByIDs(_ context.Context, ids []string) ([]store.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []store.Product
	for _, p := range f.products {
		if want[p.ID] {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) ListCategories(context.Context) ([]store.Category, error) {
	return f.categories, nil
}

func (f *fakeStore) GetCategoryBySlug(_ context.Context, slug string) (store.Category, error) {
	for _, c := range f.categories {
		if c.Slug == slug {
			return c, nil
		}
	}
	return store.Category{}, sql.ErrNoRows
}

func (f *fakeStore) UpsertCategory(_ context.Context, c store.Category) (store.Category, error) {
	f.categories = append(f.categories, c)
	return c, nil
}

func (f *fakeStore) InsertProduct(_ context.Context, p store.Product) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.products {
		if existing.Slug == p.Slug {
			return store.ErrDuplicate
		}
	}
	f.products = append(f.products, p)
	return nil
}

func (f *fakeStore) UpdateProduct(_ context.Context, p store.Product) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.products {
		if existing.ID == p.ID {
			f.products[i] = p
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) ArchiveProduct(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.products {
		if existing.ID == id {
			f.products[i].IsActive = false
			return nil
		}
	}
	return sql.ErrNoRows
}

// orders

func (f *fakeStore) CreateOrder(ctx context.Context, order store.Order) error {
	if f.createOrderFn != nil {
		return f.createOrderFn(ctx, order)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range order.Items {
		for i := range f.products {
			if f.products[i].ID == item.ProductID {
				if f.products[i].Stock < item.Quantity {
					return &store.StockError{ProductID: item.ProductID}
				}
				f.products[i].Stock -= item.Quantity
			}
		}
	}
	f.orders[order.ID] = order
	return nil
}

func (f *fakeStore) GetOrder(_ context.Context, id string) (store.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return store.Order{}, sql.ErrNoRows
	}
	return o, nil
}

func (f *fakeStore) GetOrderByPaymentSession(_ context.Context, sessionID string) (store.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.PaymentSessionID == sessionID {
			return o, nil
		}
	}
	return store.Order{}, sql.ErrNoRows
}

func (f *fakeStore) ListOrdersByUser(_ context.Context, userID string) ([]store.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Order
	for _, o := range f.orders {
		if o.UserID != nil && *o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeStore) ListOrders(_ context.Context, status string, limit, offset int) ([]store.Order, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Order
	for _, o := range f.orders {
		if status == "" || o.Status == status {
			out = append(out, o)
		}
	}
	return out, len(out), nil
}

func (f *fakeStore) AttachPaymentSession(_ context.Context, orderID, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return sql.ErrNoRows
	}
	o.PaymentSessionID = sessionID
	f.orders[orderID] = o
	return nil
}

func (f *fakeStore) moveOrder(id string, from []string, apply func(*store.Order)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return store.ErrStatusConflict
	}
	for _, status := range from {
		if o.Status == status {
			apply(&o)
			f.orders[id] = o
			return nil
		}
	}
	return store.ErrStatusConflict
}

func (f *fakeStore) UpdateOrderStatus(_ context.Context, id string, from []string, status, tracking string) error {
	return f.moveOrder(id, from, func(o *store.Order) {
		o.Status = status
		if tracking != "" {
			o.TrackingNumber = tracking
		}
	})
}

func (f *fakeStore) MarkOrderPaid(_ context.Context, id, ref string, paidAt time.Time) (bool, error) {
	err := f.moveOrder(id, []string{store.OrderPending}, func(o *store.Order) {
		o.Status = store.OrderPaid
		o.PaymentReference = ref
		o.PaidAt = &paidAt
	})
	if err == store.ErrStatusConflict {
		return false, nil
	}
	return err == nil, err
}

func (f *fakeStore) CancelOrder(_ context.Context, id string, from []string) error {
	var items []store.OrderItem
	err := f.moveOrder(id, from, func(o *store.Order) {
		o.Status = store.OrderCancelled
		items = o.Items
	})
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range items {
		for i := range f.products {
			if f.products[i].ID == item.ProductID {
				f.products[i].Stock += item.Quantity
			}
		}
	}
	return nil
}

// engagement

func (f *fakeStore) InsertReview(ctx context.Context, r store.Review) error {
	if f.insertReviewFn != nil {
		return f.insertReviewFn(ctx, r)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.reviews {
		if existing.ProductID == r.ProductID && existing.UserID == r.UserID {
			return store.ErrDuplicate
		}
	}
	f.reviews = append(f.reviews, r)
	return nil
}

func (f *fakeStore) GetReview(_ context.Context, id string) (store.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reviews {
		if r.ID == id {
			return r, nil
		}
	}
	return store.Review{}, sql.ErrNoRows
}

func (f *fakeStore) ListProductReviews(_ context.Context, productID string) ([]store.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Review{}
	for _, r := range f.reviews {
		if r.ProductID == productID && r.Status == store.ReviewPublished {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) ListReviews(_ context.Context, status string, _, _ int) ([]store.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Review
	for _, r := range f.reviews {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) SetReviewStatus(_ context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.reviews {
		if f.reviews[i].ID == id {
			f.reviews[i].Status = status
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) RecomputeProductRating(_ context.Context, productID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recomputed = append(f.recomputed, productID)
	return nil
}

func (f *fakeStore) AddWishlistItem(_ context.Context, userID, productID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range f.wishlist[userID] {
		if item.ProductID == productID {
			return nil
		}
	}
	f.wishlist[userID] = append(f.wishlist[userID], store.WishlistItem{UserID: userID, ProductID: productID, AddedAt: time.Now()})
	return nil
}

func (f *fakeStore) RemoveWishlistItem(_ context.Context, userID, productID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.wishlist[userID][:0]
	for _, item := range f.wishlist[userID] {
		if item.ProductID != productID {
			items = append(items, item)
		}
	}
	f.wishlist[userID] = items
	return nil
}

func (f *fakeStore) ListWishlist(_ context.Context, userID string) ([]store.WishlistItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.WishlistItem(nil), f.wishlist[userID]...), nil
}

func (f *fakeStore) UpsertSubscriber(_ context.Context, sub store.NewsletterSubscriber) (store.NewsletterSubscriber, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.subs[sub.Email]; ok {
		existing.UnsubscribedAt = nil
		f.subs[sub.Email] = existing
		return existing, false, nil
	}
	sub.SubscribedAt = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	f.subs[sub.Email] = sub
	return sub, true, nil
}

func (f *fakeStore) UnsubscribeByToken(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for email, sub := range f.subs {
		if sub.UnsubscribeToken == token {
			now := time.Now()
			sub.UnsubscribedAt = &now
			f.subs[email] = sub
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) ListSubscribers(_ context.Context, activeOnly bool) ([]store.NewsletterSubscriber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.NewsletterSubscriber
	for _, sub := range f.subs {
		if activeOnly && sub.UnsubscribedAt != nil {
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

func (f *fakeStore) DashboardStats(context.Context) (store.DashboardStats, error) {
	return store.DashboardStats{
		ActiveProducts: 2,
		OrdersByStatus: map[string]int{store.OrderPaid: 3},
		PaidRevenue:    decimal.RequireFromString("1234.50"),
		Subscribers:    7,
	}, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

// integrations

type fakePayments struct {
	configured bool
	checkoutFn func(payment.CheckoutRequest) (payment.CheckoutSession, error)
	event      payment.Event
	parseErr   error
	requests   []payment.CheckoutRequest
}

func (f *fakePayments) Configured() bool { return f.configured }

func (f *fakePayments) CreateCheckout(_ context.Context, req payment.CheckoutRequest) (payment.CheckoutSession, error) {
	f.requests = append(f.requests, req)
	if f.checkoutFn != nil {
		return f.checkoutFn(req)
	}
	return payment.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.test/cs_test_1"}, nil
}

func (f *fakePayments) ParseWebhook([]byte, string) (payment.Event, error) {
	return f.event, f.parseErr
}

type fakeMailer struct {
	mu           sync.Mutex
	verification []string
	orders       []email.OrderData
	shipping     []email.ShippingData
	welcomes     []string
}

func (m *fakeMailer) IsConfigured() bool { return true }

func (m *fakeMailer) SendVerificationEmail(to, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verification = append(m.verification, to)
	return nil
}

func (m *fakeMailer) SendPasswordResetEmail(string, string, string) error { return nil }

func (m *fakeMailer) SendOrderConfirmation(_ string, data email.OrderData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = append(m.orders, data)
	return nil
}

func (m *fakeMailer) SendShippingUpdate(_ string, data email.ShippingData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shipping = append(m.shipping, data)
	return nil
}

func (m *fakeMailer) SendNewsletterWelcome(to string, _ email.NewsletterData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.welcomes = append(m.welcomes, to)
	return nil
}

type recordingTracker struct {
	mu     sync.Mutex
	events []analytics.Event
}

func (r *recordingTracker) Track(events ...analytics.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

func (r *recordingTracker) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Name
	}
	return out
}

type testEnv struct {
	svc      *Service
	store    *fakeStore
	carts    *cart.Store
	featured *featured.Store
	payments *fakePayments
	mailer   *fakeMailer
	tracker  *recordingTracker
	redis    *miniredis.Miniredis
}

func testConfig() config.Config {
	return config.Config{
		SiteURL:               "https://shop.test",
		JWTSecret:             "test-secret",
		AccessTTL:             time.Hour,
		RefreshTTL:            24 * time.Hour,
		CORSOrigin:            "*",
		Currency:              "usd",
		AdminEmails:           []string{"owner@shop.test"},
		FreeShippingThreshold: "150.00",
		FlatShippingRate:      "12.00",
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	env := &testEnv{
		store:    newFakeStore(),
		carts:    cart.NewStore(client),
		featured: featured.NewStore(client),
		payments: &fakePayments{configured: true},
		mailer:   &fakeMailer{},
		tracker:  &recordingTracker{},
		redis:    mr,
	}
	svc, err := New(testConfig(), Deps{
		Store:     env.store,
		Sessions:  session.NewRedisStoreWithClient(client),
		Carts:     env.carts,
		Featured:  env.featured,
		Payments:  env.payments,
		Mailer:    env.mailer,
		Analytics: env.tracker,
	})
	require.NoError(t, err)
	env.svc = svc
	return env
}

// verifiedUser creates a signed-up, verified user and returns a session for it.
func (e *testEnv) verifiedUser(t *testing.T, email, name string) Session {
	t.Helper()
	ctx := context.Background()
	result, err := e.svc.SignUp(ctx, SignUpInput{Email: email, Password: "correct-horse", DisplayName: name})
	require.NoError(t, err)
	require.NoError(t, e.svc.VerifyEmail(ctx, result.VerificationToken))
	sess, err := e.svc.SignIn(ctx, SignInInput{Email: email, Password: "correct-horse"}, "")
	require.NoError(t, err)
	return sess
}
