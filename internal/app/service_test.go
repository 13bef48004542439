package app

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jewelry/api/internal/analytics"
	"jewelry/api/internal/auth"
	"jewelry/api/internal/cart"
	"jewelry/api/internal/payment"
	"jewelry/api/internal/store"
)

func requireDomainError(t *testing.T, err error, status int, code string) *DomainError {
	t.Helper()
	var domainErr *DomainError
	require.True(t, errors.As(err, &domainErr), "expected DomainError, got %v", err)
	assert.Equal(t, status, domainErr.Status)
	assert.Equal(t, code, domainErr.Code)
	return domainErr
}

func validCheckout() CheckoutInput {
	return CheckoutInput{
		Email: "Buyer@Example.com ",
		Address: AddressInput{
			Name:       "Ada Lovelace",
			Line1:      "12 St James's Square",
			City:       "London",
			PostalCode: "SW1Y 4JH",
			Country:    "gb",
		},
	}
}

func TestNewRejectsBadShippingConfig(t *testing.T) {
	cfg := testConfig()
	cfg.FlatShippingRate = "twelve"
	_, err := New(cfg, Deps{Store: newFakeStore()})
	require.Error(t, err)
}

func TestSignUpAndSignIn(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.svc.SignUp(ctx, SignUpInput{Email: "Owner@Shop.test", Password: "correct-horse", DisplayName: "Owner"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.VerificationToken)
	assert.Equal(t, []string{"owner@shop.test"}, env.mailer.verification)
	assert.Equal(t, store.RoleAdmin, env.store.users[result.UserID].Role)

	_, err = env.svc.SignIn(ctx, SignInInput{Email: "owner@shop.test", Password: "correct-horse"}, "")
	requireDomainError(t, err, http.StatusForbidden, "EMAIL_NOT_VERIFIED")

	require.NoError(t, env.svc.VerifyEmail(ctx, result.VerificationToken))
	session, err := env.svc.SignIn(ctx, SignInInput{Email: "owner@shop.test", Password: "correct-horse"}, "")
	require.NoError(t, err)
	assert.Equal(t, store.RoleAdmin, session.Role)
	assert.NotEmpty(t, session.Token)
	assert.NotEmpty(t, session.RefreshToken)

	_, err = env.svc.SignIn(ctx, SignInInput{Email: "owner@shop.test", Password: "wrong-horse"}, "")
	requireDomainError(t, err, http.StatusUnauthorized, "INVALID_CREDENTIALS")

	_, err = env.svc.SignUp(ctx, SignUpInput{Email: "owner@shop.test", Password: "correct-horse", DisplayName: "Again"})
	requireDomainError(t, err, http.StatusConflict, "EMAIL_EXISTS")
}

func TestSignUpValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.SignUp(context.Background(), SignUpInput{Email: "not-an-email", Password: "short", DisplayName: ""})
	domainErr := requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	details, ok := domainErr.Details.(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "email", details["email"])
	assert.Equal(t, "min", details["password"])
	assert.Equal(t, "required", details["displayName"])
}

func TestRefreshRotatesAndLogoutRevokes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session := env.verifiedUser(t, "ada@example.com", "Ada")

	refreshed, err := env.svc.Refresh(ctx, session.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, session.RefreshToken, refreshed.RefreshToken)

	_, err = env.svc.Refresh(ctx, session.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	resolved, err := env.svc.SessionFromToken(ctx, refreshed.Token)
	require.NoError(t, err)
	assert.Equal(t, "Ada", resolved.UserName)

	require.NoError(t, env.svc.Logout(ctx, resolved, refreshed.RefreshToken))
	_, err = env.svc.SessionFromToken(ctx, refreshed.Token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
	_, err = env.svc.Refresh(ctx, refreshed.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestSignInMergesGuestCart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.verifiedUser(t, "ada@example.com", "Ada")
	guestID := cart.NewID()

	_, err := env.svc.AddToCart(ctx, guestID, CartLineInput{ProductID: "prd_ring", Quantity: 2})
	require.NoError(t, err)

	session, err := env.svc.SignIn(ctx, SignInInput{Email: "ada@example.com", Password: "correct-horse"}, guestID)
	require.NoError(t, err)

	view, err := env.svc.Cart(ctx, session.CartID())
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, 2, view.Items[0].Quantity)

	guest, err := env.svc.Cart(ctx, guestID)
	require.NoError(t, err)
	assert.Empty(t, guest.Items)
}

func TestSignInIgnoresForeignCartID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	victim := env.verifiedUser(t, "victim@example.com", "Victim")
	env.verifiedUser(t, "ada@example.com", "Ada")

	_, err := env.svc.AddToCart(ctx, victim.CartID(), CartLineInput{ProductID: "prd_ring", Quantity: 1})
	require.NoError(t, err)

	for _, crafted := range []string{victim.CartID(), "guest-not-a-uuid", "guest-"} {
		session, err := env.svc.SignIn(ctx, SignInInput{Email: "ada@example.com", Password: "correct-horse"}, crafted)
		require.NoError(t, err)

		own, err := env.svc.Cart(ctx, session.CartID())
		require.NoError(t, err)
		assert.Empty(t, own.Items, crafted)
	}

	view, err := env.svc.Cart(ctx, victim.CartID())
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, 1, view.Items[0].Quantity)
}

func TestCartTotalsAndShipping(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	view, err := env.svc.AddToCart(ctx, "c1", CartLineInput{ProductID: "prd_ring"})
	require.NoError(t, err)
	assert.Equal(t, "80.00", view.Summary.Subtotal.StringFixed(2))
	assert.Equal(t, "12.00", view.Summary.Shipping.StringFixed(2))
	assert.Equal(t, "92.00", view.Summary.Total.StringFixed(2))

	view, err = env.svc.AddToCart(ctx, "c1", CartLineInput{ProductID: "prd_band", Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, view.Summary.ItemCount)
	assert.Equal(t, "171.00", view.Summary.Subtotal.StringFixed(2))
	assert.True(t, view.Summary.Shipping.IsZero())

	view, err = env.svc.UpdateCartLine(ctx, "c1", CartLineInput{ProductID: "prd_band", Quantity: 0})
	require.NoError(t, err)
	require.Len(t, view.Items, 1)

	view, err = env.svc.RemoveCartLine(ctx, "c1", "prd_ring")
	require.NoError(t, err)
	assert.Empty(t, view.Items)
	assert.True(t, view.Summary.Total.IsZero())

	assert.Contains(t, env.tracker.names(), "add_to_cart")
}

func TestAddToCartRejectsUnavailableProducts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.AddToCart(ctx, "c1", CartLineInput{ProductID: "prd_gone"})
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")

	_, err = env.svc.AddToCart(ctx, "c1", CartLineInput{ProductID: "prd_ring", Quantity: 11})
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	env.store.products[1].Stock = 0
	_, err = env.svc.AddToCart(ctx, "c1", CartLineInput{ProductID: "prd_band"})
	requireDomainError(t, err, http.StatusConflict, "OUT_OF_STOCK")
}

func TestCheckoutWithoutPaymentsWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.payments.configured = false
	ctx := context.Background()
	_, err := env.svc.AddToCart(ctx, "c1", CartLineInput{ProductID: "prd_ring"})
	require.NoError(t, err)

	_, err = env.svc.Checkout(ctx, nil, "c1", validCheckout())
	requireDomainError(t, err, http.StatusServiceUnavailable, "PAYMENT_UNAVAILABLE")
	assert.Empty(t, env.store.orders)
}

func TestCheckoutEmptyCart(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Checkout(context.Background(), nil, "empty", validCheckout())
	requireDomainError(t, err, http.StatusUnprocessableEntity, "EMPTY_CART")
}

func TestCheckoutValidatesAddress(t *testing.T) {
	env := newTestEnv(t)
	input := validCheckout()
	input.Address.PostalCode = ""
	input.Address.Country = "GBR"

	_, err := env.svc.Checkout(context.Background(), nil, "c1", input)
	domainErr := requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	details := domainErr.Details.(map[string]string)
	assert.Equal(t, "required", details["address.postalCode"])
	assert.Equal(t, "len", details["address.country"])
}

func TestCheckoutCreatesPendingOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session := env.verifiedUser(t, "ada@example.com", "Ada")
	_, err := env.svc.AddToCart(ctx, session.CartID(), CartLineInput{ProductID: "prd_ring", Quantity: 2})
	require.NoError(t, err)

	result, err := env.svc.Checkout(ctx, &session, session.CartID(), validCheckout())
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.test/cs_test_1", result.CheckoutURL)
	assert.True(t, strings.HasPrefix(result.OrderNumber, "JW-"))

	order := env.store.orders[result.OrderID]
	assert.Equal(t, store.OrderPending, order.Status)
	assert.Equal(t, "buyer@example.com", order.Email)
	assert.Equal(t, "GB", order.ShippingAddress.Country)
	assert.Equal(t, "cs_test_1", order.PaymentSessionID)
	require.NotNil(t, order.UserID)
	assert.Equal(t, session.UserID, *order.UserID)
	assert.Equal(t, "160.00", order.Subtotal.StringFixed(2))
	assert.True(t, order.Shipping.IsZero())
	assert.Equal(t, 3, env.store.products[0].Stock)

	require.Len(t, env.payments.requests, 1)
	req := env.payments.requests[0]
	assert.Equal(t, session.CartID(), req.CartID)
	assert.Equal(t, int64(8000), req.Lines[0].UnitAmount)
	assert.Equal(t, int64(2), req.Lines[0].Quantity)
	assert.Equal(t, "https://shop.test/static/images/products/gold-ring.jpg", req.Lines[0].ImageURL)
	assert.Equal(t, "https://shop.test/checkout/success?order="+order.Number, req.SuccessURL)
	assert.Contains(t, env.tracker.names(), "begin_checkout")
}

func TestCheckoutStockShortfall(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.svc.AddToCart(ctx, "c1", CartLineInput{ProductID: "prd_band", Quantity: 2})
	require.NoError(t, err)
	env.store.createOrderFn = func(context.Context, store.Order) error {
		return &store.StockError{ProductID: "prd_band"}
	}

	_, err = env.svc.Checkout(ctx, nil, "c1", validCheckout())
	requireDomainError(t, err, http.StatusConflict, "OUT_OF_STOCK")
	assert.Empty(t, env.payments.requests)
}

func TestCheckoutReleasesStockWhenPaymentFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.svc.AddToCart(ctx, "c1", CartLineInput{ProductID: "prd_ring"})
	require.NoError(t, err)
	env.payments.checkoutFn = func(payment.CheckoutRequest) (payment.CheckoutSession, error) {
		return payment.CheckoutSession{}, errors.New("stripe down")
	}

	_, err = env.svc.Checkout(ctx, nil, "c1", validCheckout())
	requireDomainError(t, err, http.StatusBadGateway, "PAYMENT_FAILED")

	require.Len(t, env.store.orders, 1)
	for _, o := range env.store.orders {
		assert.Equal(t, store.OrderCancelled, o.Status)
	}
	assert.Equal(t, 5, env.store.products[0].Stock)
}

func checkoutOrder(t *testing.T, env *testEnv, cartID string) CheckoutResult {
	t.Helper()
	ctx := context.Background()
	_, err := env.svc.AddToCart(ctx, cartID, CartLineInput{ProductID: "prd_ring"})
	require.NoError(t, err)
	result, err := env.svc.Checkout(ctx, nil, cartID, validCheckout())
	require.NoError(t, err)
	return result
}

func TestWebhookCompletesOrderOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	result := checkoutOrder(t, env, "c1")

	env.payments.event = payment.Event{
		ID:               "evt_1",
		Type:             payment.EventCheckoutCompleted,
		SessionID:        "cs_test_1",
		OrderID:          result.OrderID,
		CartID:           "c1",
		PaymentReference: "pi_123",
	}
	require.NoError(t, env.svc.HandlePaymentWebhook(ctx, []byte(`{}`), "sig"))
	require.NoError(t, env.svc.HandlePaymentWebhook(ctx, []byte(`{}`), "sig"))

	order := env.store.orders[result.OrderID]
	assert.Equal(t, store.OrderPaid, order.Status)
	assert.Equal(t, "pi_123", order.PaymentReference)
	require.Len(t, env.mailer.orders, 1)
	assert.Equal(t, result.OrderNumber, env.mailer.orders[0].OrderNumber)
	assert.Equal(t, "$92.00", env.mailer.orders[0].Total)

	view, err := env.svc.Cart(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, view.Items)

	purchases := 0
	for _, name := range env.tracker.names() {
		if name == "purchase" {
			purchases++
		}
	}
	assert.Equal(t, 1, purchases)
}

func TestWebhookExpiredCancelsAndRestocks(t *testing.T) {
	env := newTestEnv(t)
	result := checkoutOrder(t, env, "c1")
	assert.Equal(t, 4, env.store.products[0].Stock)

	env.payments.event = payment.Event{Type: payment.EventCheckoutExpired, SessionID: "cs_test_1"}
	require.NoError(t, env.svc.HandlePaymentWebhook(context.Background(), nil, "sig"))

	assert.Equal(t, store.OrderCancelled, env.store.orders[result.OrderID].Status)
	assert.Equal(t, 5, env.store.products[0].Stock)

	// A late expiry for an order that is already cancelled is ignored.
	require.NoError(t, env.svc.HandlePaymentWebhook(context.Background(), nil, "sig"))
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	env.payments.parseErr = payment.ErrInvalidSignature

	err := env.svc.HandlePaymentWebhook(context.Background(), nil, "bad")
	requireDomainError(t, err, http.StatusBadRequest, "INVALID_SIGNATURE")
}

func TestTransitionOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	result := checkoutOrder(t, env, "c1")

	_, err := env.svc.TransitionOrder(ctx, result.OrderID, TransitionInput{Status: store.OrderShipped, TrackingNumber: "1Z999"})
	requireDomainError(t, err, http.StatusConflict, "INVALID_TRANSITION")

	_, err = env.svc.TransitionOrder(ctx, result.OrderID, TransitionInput{Status: store.OrderPaid})
	require.NoError(t, err)
	_, err = env.svc.TransitionOrder(ctx, result.OrderID, TransitionInput{Status: store.OrderProcessing})
	require.NoError(t, err)

	_, err = env.svc.TransitionOrder(ctx, result.OrderID, TransitionInput{Status: store.OrderShipped})
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	order, err := env.svc.TransitionOrder(ctx, result.OrderID, TransitionInput{Status: "Shipped", TrackingNumber: " 1Z999 "})
	require.NoError(t, err)
	assert.Equal(t, store.OrderShipped, order.Status)
	assert.Equal(t, "1Z999", order.TrackingNumber)
	require.Len(t, env.mailer.shipping, 1)
	assert.Equal(t, "1Z999", env.mailer.shipping[0].TrackingNumber)

	_, err = env.svc.TransitionOrder(ctx, result.OrderID, TransitionInput{Status: store.OrderCancelled})
	requireDomainError(t, err, http.StatusConflict, "INVALID_TRANSITION")

	_, err = env.svc.TransitionOrder(ctx, "ord_missing", TransitionInput{Status: store.OrderPaid})
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")

	_, err = env.svc.TransitionOrder(ctx, result.OrderID, TransitionInput{Status: "refunded"})
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestAdminCancelRestoresStock(t *testing.T) {
	env := newTestEnv(t)
	result := checkoutOrder(t, env, "c1")

	_, err := env.svc.TransitionOrder(context.Background(), result.OrderID, TransitionInput{Status: store.OrderCancelled})
	require.NoError(t, err)
	assert.Equal(t, 5, env.store.products[0].Stock)
}

func TestMyOrderHidesOtherUsersOrders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.verifiedUser(t, "ada@example.com", "Ada")
	other := env.verifiedUser(t, "bob@example.com", "Bob")
	_, err := env.svc.AddToCart(ctx, owner.CartID(), CartLineInput{ProductID: "prd_ring"})
	require.NoError(t, err)
	result, err := env.svc.Checkout(ctx, &owner, owner.CartID(), validCheckout())
	require.NoError(t, err)

	_, err = env.svc.MyOrder(ctx, owner, result.OrderID)
	require.NoError(t, err)
	_, err = env.svc.MyOrder(ctx, other, result.OrderID)
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")

	admin := other
	admin.Role = store.RoleAdmin
	_, err = env.svc.MyOrder(ctx, admin, result.OrderID)
	require.NoError(t, err)

	_, err = env.svc.Invoice(ctx, owner, result.OrderID)
	requireDomainError(t, err, http.StatusServiceUnavailable, "PDF_UNAVAILABLE")
}

func TestReviews(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session := env.verifiedUser(t, "ada@example.com", "Ada")

	_, err := env.svc.CreateReview(ctx, session, "gold-ring", ReviewInput{Rating: 6, Body: "short"})
	domainErr := requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	details := domainErr.Details.(map[string]string)
	assert.Equal(t, "max", details["rating"])
	assert.Equal(t, "min", details["body"])

	review, err := env.svc.CreateReview(ctx, session, "gold-ring", ReviewInput{Rating: 5, Title: "Lovely", Body: "Wore it to a wedding, it sparkled."})
	require.NoError(t, err)
	assert.Equal(t, "Ada", review.AuthorName)
	assert.Equal(t, []string{"prd_ring"}, env.store.recomputed)

	_, err = env.svc.CreateReview(ctx, session, "gold-ring", ReviewInput{Rating: 4, Body: "Second thoughts on it."})
	requireDomainError(t, err, http.StatusConflict, "REVIEW_EXISTS")

	_, err = env.svc.CreateReview(ctx, session, "retired-pendant", ReviewInput{Rating: 4, Body: "Archived pieces take no reviews."})
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")

	listed, err := env.svc.ProductReviews(ctx, "gold-ring")
	require.NoError(t, err)
	require.Len(t, listed.Reviews, 1)
	assert.Equal(t, 1, listed.Summary.Count)
	assert.Equal(t, 1, listed.Summary.Histogram[5])

	moderated, err := env.svc.ModerateReview(ctx, review.ID, store.ReviewHidden)
	require.NoError(t, err)
	assert.Equal(t, store.ReviewHidden, moderated.Status)
	listed, err = env.svc.ProductReviews(ctx, "gold-ring")
	require.NoError(t, err)
	assert.Empty(t, listed.Reviews)
	assert.Len(t, env.store.recomputed, 2)
}

func TestNewsletter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.svc.Subscribe(ctx, NewsletterInput{Email: " Fan@Example.com", Source: "popup"})
	require.NoError(t, err)
	assert.True(t, created)
	created, err = env.svc.Subscribe(ctx, NewsletterInput{Email: "fan@example.com", Source: "footer"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, []string{"fan@example.com"}, env.mailer.welcomes)

	_, err = env.svc.Subscribe(ctx, NewsletterInput{Email: "fan@example.com", Source: "billboard"})
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	err = env.svc.Unsubscribe(ctx, "nope")
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")

	token := env.store.subs["fan@example.com"].UnsubscribeToken
	require.NoError(t, env.svc.Unsubscribe(ctx, token))

	var buf bytes.Buffer
	require.NoError(t, env.svc.ExportSubscribersCSV(ctx, &buf))
	assert.Equal(t, "email,source,subscribed_at\n", buf.String())
}

func TestExportSubscribersCSV(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.svc.Subscribe(ctx, NewsletterInput{Email: "fan@example.com", Source: "checkout"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, env.svc.ExportSubscribersCSV(ctx, &buf))
	assert.Equal(t, "email,source,subscribed_at\nfan@example.com,checkout,2026-10-01T12:00:00Z\n", buf.String())
}

func TestFeaturedProducts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	products, err := env.svc.FeaturedProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "prd_ring", products[0].ID)

	_, err = env.svc.SetFeatured(ctx, FeaturedInput{ProductIDs: []string{"prd_band", "prd_gone"}})
	domainErr := requireDomainError(t, err, http.StatusUnprocessableEntity, "UNKNOWN_PRODUCT")
	assert.Equal(t, map[string][]string{"productIds": {"prd_gone"}}, domainErr.Details)

	view, err := env.svc.SetFeatured(ctx, FeaturedInput{ProductIDs: []string{"prd_band", "prd_ring"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"prd_band", "prd_ring"}, view.ProductIDs)
	require.Len(t, view.Products, 2)
	assert.Equal(t, "prd_band", view.Products[0].ID)

	// An archived product silently drops out of the storefront list.
	require.NoError(t, env.svc.ArchiveProduct(ctx, "prd_band"))
	products, err = env.svc.FeaturedProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "prd_ring", products[0].ID)
}

func TestCreateAndUpdateProduct(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	input := ProductInput{
		Name:         "Pearl Drop Earrings",
		Price:        "129.5",
		CategorySlug: "Rings",
		Material:     "Silver",
		Stock:        4,
	}
	product, err := env.svc.CreateProduct(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, "pearl-drop-earrings", product.Slug)
	assert.Equal(t, "129.50", product.Price.StringFixed(2))
	assert.Equal(t, "cat_rings", product.CategoryID)
	assert.Equal(t, "silver", product.Material)
	assert.True(t, product.IsActive)

	_, err = env.svc.CreateProduct(ctx, input)
	requireDomainError(t, err, http.StatusConflict, "SLUG_TAKEN")

	bad := input
	bad.CategorySlug = "tiaras"
	_, err = env.svc.CreateProduct(ctx, bad)
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	bad = input
	bad.Price = "-3"
	_, err = env.svc.CreateProduct(ctx, bad)
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	inactive := false
	update := input
	update.Slug = "pearl-drops"
	update.IsActive = &inactive
	updated, err := env.svc.UpdateProduct(ctx, product.ID, update)
	require.NoError(t, err)
	assert.Equal(t, "pearl-drops", updated.Slug)
	assert.False(t, updated.IsActive)

	_, err = env.svc.UpdateProduct(ctx, "prd_missing", input)
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")

	page, err := env.svc.AdminListProducts(ctx, store.ProductFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
}

func TestTrackEvents(t *testing.T) {
	env := newTestEnv(t)
	session := &Session{UserID: "usr_1"}

	events := make([]analytics.Event, analytics.MaxEventsPerSubmit+1)
	for i := range events {
		events[i] = analytics.Event{Name: "page_view"}
	}
	_, err := env.svc.TrackEvents(context.Background(), session, AnalyticsInput{Events: events})
	requireDomainError(t, err, http.StatusUnprocessableEntity, "TOO_MANY_EVENTS")

	_, err = env.svc.TrackEvents(context.Background(), session, AnalyticsInput{Events: []analytics.Event{{Name: " "}}})
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	accepted, err := env.svc.TrackEvents(context.Background(), session, AnalyticsInput{Events: []analytics.Event{{Name: "page_view", Path: "/shop"}}})
	require.NoError(t, err)
	assert.Equal(t, 1, accepted)
	require.Len(t, env.tracker.events, 1)
	assert.Equal(t, "usr_1", env.tracker.events[0].UserID)
	assert.False(t, env.tracker.events[0].Timestamp.IsZero())
}

func TestReadiness(t *testing.T) {
	env := newTestEnv(t)
	env.store.pingFn = func(context.Context) error { return errors.New("connection refused") }

	checks := env.svc.Readiness(context.Background())
	assert.EqualError(t, checks["database"], "connection refused")
	_, hasRedis := checks["redis"]
	assert.False(t, hasRedis)
}
