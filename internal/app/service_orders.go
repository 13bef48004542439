package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"jewelry/api/internal/authpw"
	"jewelry/api/internal/email"
	"jewelry/api/internal/export"
	"jewelry/api/internal/payment"
	"jewelry/api/internal/store"
	"jewelry/api/internal/util"
)

type AddressInput struct {
	Name       string `json:"name" validate:"required,max=120"`
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2" validate:"max=200"`
	City       string `json:"city" validate:"required,max=100"`
	Region     string `json:"region" validate:"max=100"`
	PostalCode string `json:"postalCode" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,len=2"`
}

type CheckoutInput struct {
	Email   string       `json:"email" validate:"required,email,max=254"`
	Address AddressInput `json:"address"`
}

type CheckoutResult struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	CheckoutURL string `json:"checkoutUrl"`
}

func (in *CheckoutInput) trim() {
	in.Email = authpw.NormalizeEmail(in.Email)
	a := &in.Address
	a.Name = strings.TrimSpace(a.Name)
	a.Line1 = strings.TrimSpace(a.Line1)
	a.Line2 = strings.TrimSpace(a.Line2)
	a.City = strings.TrimSpace(a.City)
	a.Region = strings.TrimSpace(a.Region)
	a.PostalCode = strings.TrimSpace(a.PostalCode)
	a.Country = strings.ToUpper(strings.TrimSpace(a.Country))
}

// Checkout turns the cart into a pending order, reserving stock, and opens a
// Stripe Checkout session for it. Nothing is written when payments are not
// configured.
func (s *Service) Checkout(ctx context.Context, session *Session, cartID string, input CheckoutInput) (CheckoutResult, error) {
	if s.payments == nil || !s.payments.Configured() {
		return CheckoutResult{}, domainError(http.StatusServiceUnavailable, "PAYMENT_UNAVAILABLE", "Payments are not available right now", nil)
	}
	input.trim()
	if err := validateInput(input); err != nil {
		return CheckoutResult{}, err
	}

	view, err := s.Cart(ctx, cartID)
	if err != nil {
		return CheckoutResult{}, err
	}
	if len(view.Items) == 0 {
		return CheckoutResult{}, domainError(http.StatusUnprocessableEntity, "EMPTY_CART", "Your cart is empty", nil)
	}
	if view.Adjusted {
		return CheckoutResult{}, domainError(http.StatusConflict, "OUT_OF_STOCK", "Some items in your cart are no longer available", nil)
	}

	now := s.now().UTC()
	order := store.Order{
		ID:       util.NewID("ord"),
		Number:   util.OrderNumber(now),
		Email:    input.Email,
		Status:   store.OrderPending,
		Subtotal: view.Summary.Subtotal,
		Shipping: view.Summary.Shipping,
		Total:    view.Summary.Total,
		Currency: s.cfg.Currency,
		ShippingAddress: store.Address{
			Name:       input.Address.Name,
			Line1:      input.Address.Line1,
			Line2:      input.Address.Line2,
			City:       input.Address.City,
			Region:     input.Address.Region,
			PostalCode: input.Address.PostalCode,
			Country:    input.Address.Country,
		},
		CreatedAt: now,
	}
	if session != nil {
		userID := session.UserID
		order.UserID = &userID
	}
	lines := make([]payment.LineItem, 0, len(view.Items))
	for _, item := range view.Items {
		p := item.Product
		order.Items = append(order.Items, store.OrderItem{
			ID:          util.NewID("itm"),
			OrderID:     order.ID,
			ProductID:   p.ID,
			ProductName: p.Name,
			ProductSlug: p.Slug,
			ImageURL:    p.PrimaryImage(),
			UnitPrice:   p.Price,
			Quantity:    item.Quantity,
			LineTotal:   item.LineTotal,
		})
		lines = append(lines, payment.LineItem{
			Name:       p.Name,
			ImageURL:   s.absoluteURL(p.PrimaryImage()),
			UnitAmount: util.MinorUnits(p.Price),
			Quantity:   int64(item.Quantity),
		})
	}

	if err := s.store.CreateOrder(ctx, order); err != nil {
		var stockErr *store.StockError
		if errors.As(err, &stockErr) {
			return CheckoutResult{}, domainError(http.StatusConflict, "OUT_OF_STOCK", "Some items in your cart are no longer available", map[string]string{"productId": stockErr.ProductID})
		}
		return CheckoutResult{}, err
	}

	checkout, err := s.payments.CreateCheckout(ctx, payment.CheckoutRequest{
		OrderID:        order.ID,
		OrderNumber:    order.Number,
		CartID:         cartID,
		Email:          order.Email,
		Lines:          lines,
		ShippingAmount: util.MinorUnits(order.Shipping),
		SuccessURL:     s.cfg.SiteURL + "/checkout/success?order=" + order.Number,
		CancelURL:      s.cfg.SiteURL + "/cart",
	})
	if err != nil {
		s.logger.Error("create checkout session failed", zap.String("order_id", order.ID), zap.Error(err))
		if cancelErr := s.store.CancelOrder(ctx, order.ID, []string{store.OrderPending}); cancelErr != nil {
			s.logger.Error("release order stock failed", zap.String("order_id", order.ID), zap.Error(cancelErr))
		}
		return CheckoutResult{}, domainError(http.StatusBadGateway, "PAYMENT_FAILED", "Could not start payment, please try again", nil)
	}
	if err := s.store.AttachPaymentSession(ctx, order.ID, checkout.ID); err != nil {
		return CheckoutResult{}, err
	}

	s.track("begin_checkout", session, map[string]any{
		"orderId": order.ID,
		"total":   order.Total.StringFixed(2),
		"items":   view.Summary.ItemCount,
	})
	return CheckoutResult{OrderID: order.ID, OrderNumber: order.Number, CheckoutURL: checkout.URL}, nil
}

func (s *Service) absoluteURL(path string) string {
	if path == "" || strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return s.cfg.SiteURL + path
}

// HandlePaymentWebhook applies a verified Stripe event. Repeated deliveries
// are harmless: only the first completion sends mail and clears the cart.
func (s *Service) HandlePaymentWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.payments == nil || !s.payments.Configured() {
		return domainError(http.StatusServiceUnavailable, "PAYMENT_UNAVAILABLE", "Payments are not configured", nil)
	}
	event, err := s.payments.ParseWebhook(payload, signature)
	if err != nil {
		s.logger.Warn("rejecting payment webhook", zap.Error(err))
		return domainError(http.StatusBadRequest, "INVALID_SIGNATURE", "Invalid webhook signature", nil)
	}

	switch event.Type {
	case payment.EventCheckoutCompleted:
		return s.completeOrder(ctx, event)
	case payment.EventCheckoutExpired:
		return s.expireOrder(ctx, event)
	default:
		s.logger.Debug("ignoring payment event", zap.String("type", event.Type), zap.String("event_id", event.ID))
		return nil
	}
}

func (s *Service) orderForEvent(ctx context.Context, event payment.Event) (store.Order, error) {
	if event.OrderID != "" {
		return s.store.GetOrder(ctx, event.OrderID)
	}
	return s.store.GetOrderByPaymentSession(ctx, event.SessionID)
}

func (s *Service) completeOrder(ctx context.Context, event payment.Event) error {
	order, err := s.orderForEvent(ctx, event)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("payment for unknown order", zap.String("session_id", event.SessionID))
			return nil
		}
		return err
	}
	paid, err := s.store.MarkOrderPaid(ctx, order.ID, event.PaymentReference, s.now().UTC())
	if err != nil {
		return err
	}
	if !paid {
		return nil
	}
	order.Status = store.OrderPaid

	if event.CartID != "" {
		if err := s.carts.Clear(ctx, event.CartID); err != nil {
			s.logger.Warn("clear cart after payment failed", zap.String("order_id", order.ID), zap.Error(err))
		}
	}
	if s.SMTPConfigured() {
		if err := s.mailer.SendOrderConfirmation(order.Email, s.orderEmail(order)); err != nil {
			s.logger.Warn("send order confirmation failed", zap.String("order_id", order.ID), zap.Error(err))
		}
	}
	var buyer *Session
	if order.UserID != nil {
		buyer = &Session{UserID: *order.UserID}
	}
	s.track("purchase", buyer, map[string]any{
		"orderId":  order.ID,
		"total":    order.Total.StringFixed(2),
		"currency": order.Currency,
	})
	return nil
}

func (s *Service) expireOrder(ctx context.Context, event payment.Event) error {
	order, err := s.orderForEvent(ctx, event)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	if err := s.store.CancelOrder(ctx, order.ID, []string{store.OrderPending}); err != nil && !errors.Is(err, store.ErrStatusConflict) {
		return err
	}
	return nil
}

func (s *Service) orderEmail(order store.Order) email.OrderData {
	data := email.OrderData{
		CustomerName: order.ShippingAddress.Name,
		OrderNumber:  order.Number,
		Subtotal:     util.FormatMoney(order.Subtotal),
		Shipping:     util.FormatMoney(order.Shipping),
		Total:        util.FormatMoney(order.Total),
		OrderURL:     s.cfg.SiteURL + "/account",
	}
	for _, item := range order.Items {
		data.Items = append(data.Items, email.OrderLine{
			Name:      item.ProductName,
			Quantity:  item.Quantity,
			UnitPrice: util.FormatMoney(item.UnitPrice),
			LineTotal: util.FormatMoney(item.LineTotal),
		})
	}
	return data
}

// Orders

type OrderItemView struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	ProductSlug string          `json:"productSlug"`
	ImageURL    string          `json:"imageUrl,omitempty"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Quantity    int             `json:"quantity"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
}

type OrderView struct {
	ID              string          `json:"id"`
	Number          string          `json:"number"`
	Email           string          `json:"email"`
	Status          string          `json:"status"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Shipping        decimal.Decimal `json:"shipping"`
	Total           decimal.Decimal `json:"total"`
	TotalFormatted  string          `json:"totalFormatted"`
	Currency        string          `json:"currency"`
	ShippingAddress store.Address   `json:"shippingAddress"`
	TrackingNumber  string          `json:"trackingNumber,omitempty"`
	Items           []OrderItemView `json:"items"`
	CreatedAt       string          `json:"createdAt"`
	PaidAt          string          `json:"paidAt,omitempty"`
}

func toOrderView(o store.Order) OrderView {
	view := OrderView{
		ID:              o.ID,
		Number:          o.Number,
		Email:           o.Email,
		Status:          o.Status,
		Subtotal:        o.Subtotal,
		Shipping:        o.Shipping,
		Total:           o.Total,
		TotalFormatted:  util.FormatMoney(o.Total),
		Currency:        o.Currency,
		ShippingAddress: o.ShippingAddress,
		TrackingNumber:  o.TrackingNumber,
		Items:           make([]OrderItemView, len(o.Items)),
		CreatedAt:       o.CreatedAt.UTC().Format(timeLayout),
	}
	if o.PaidAt != nil {
		view.PaidAt = o.PaidAt.UTC().Format(timeLayout)
	}
	for i, item := range o.Items {
		view.Items[i] = OrderItemView{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			ProductSlug: item.ProductSlug,
			ImageURL:    item.ImageURL,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			LineTotal:   item.LineTotal,
		}
	}
	return view
}

func (s *Service) MyOrders(ctx context.Context, session Session) ([]store.Order, error) {
	return s.store.ListOrdersByUser(ctx, session.UserID)
}

// MyOrder returns an order owned by the session's user. Admins may read any
// order; everyone else gets 404 for orders that are not theirs.
func (s *Service) MyOrder(ctx context.Context, session Session, orderID string) (store.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Order{}, notFound("Order not found")
		}
		return store.Order{}, err
	}
	if session.Role == store.RoleAdmin {
		return order, nil
	}
	if order.UserID == nil || *order.UserID != session.UserID {
		return store.Order{}, notFound("Order not found")
	}
	return order, nil
}

func (s *Service) Invoice(ctx context.Context, session Session, orderID string) (*export.Result, error) {
	order, err := s.MyOrder(ctx, session, orderID)
	if err != nil {
		return nil, err
	}
	if s.invoices == nil {
		return nil, domainError(http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "Invoices are not available right now", nil)
	}
	result, err := s.invoices.Invoice(ctx, order)
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) {
			return nil, domainError(http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "Invoices are not available right now", nil)
		}
		return nil, err
	}
	return result, nil
}

// successOrderNumber sanitizes the order number echoed on the checkout
// success page.
func successOrderNumber(number string) string {
	number = strings.TrimSpace(number)
	if len(number) > 32 || !strings.HasPrefix(number, "JW-") {
		return ""
	}
	return number
}
