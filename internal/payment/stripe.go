// Package payment creates Stripe Checkout sessions and verifies Stripe webhooks.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
)

const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventCheckoutExpired   = "checkout.session.expired"
)

var (
	ErrNotConfigured    = errors.New("payments not configured")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
}

// LineItem is one checkout line priced in minor units.
type LineItem struct {
	Name       string
	ImageURL   string
	UnitAmount int64
	Quantity   int64
}

type CheckoutRequest struct {
	OrderID        string
	OrderNumber    string
	CartID         string
	Email          string
	Lines          []LineItem
	ShippingAmount int64
	SuccessURL     string
	CancelURL      string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// Event is the part of a webhook event the storefront acts on.
type Event struct {
	ID               string
	Type             string
	SessionID        string
	OrderID          string
	CartID           string
	PaymentReference string
}

// Stripe talks to the Stripe API through a per-instance client.
type Stripe struct {
	config Config
	api    *client.API
}

func NewStripe(config Config) *Stripe {
	if config.Currency == "" {
		config.Currency = string(stripe.CurrencyUSD)
	}
	s := &Stripe{config: config}
	if config.SecretKey != "" {
		s.api = &client.API{}
		s.api.Init(config.SecretKey, nil)
	}
	return s
}

// Configured reports whether checkout sessions can be created.
func (s *Stripe) Configured() bool {
	return s.api != nil
}

// CreateCheckout opens a hosted Checkout session for an order.
func (s *Stripe) CreateCheckout(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	if !s.Configured() {
		return CheckoutSession{}, ErrNotConfigured
	}
	params := BuildCheckoutParams(req, s.config.Currency)
	params.Context = ctx

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("create checkout session: %w", err)
	}
	return CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// BuildCheckoutParams maps an order to Checkout session parameters: one line
// per item and, when charged, a shipping line.
func BuildCheckoutParams(req CheckoutRequest, currency string) *stripe.CheckoutSessionParams {
	currency = strings.ToLower(currency)
	items := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Lines)+1)
	for _, line := range req.Lines {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(line.Name),
		}
		if strings.HasPrefix(line.ImageURL, "https://") {
			product.Images = stripe.StringSlice([]string{line.ImageURL})
		}
		items = append(items, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(currency),
				UnitAmount:  stripe.Int64(line.UnitAmount),
				ProductData: product,
			},
			Quantity: stripe.Int64(line.Quantity),
		})
	}
	if req.ShippingAmount > 0 {
		items = append(items, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(currency),
				UnitAmount:  stripe.Int64(req.ShippingAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{Name: stripe.String("Shipping")},
			},
			Quantity: stripe.Int64(1),
		})
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		CustomerEmail:     stripe.String(req.Email),
		ClientReferenceID: stripe.String(req.OrderID),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		LineItems:         items,
	}
	params.AddMetadata("order_id", req.OrderID)
	params.AddMetadata("order_number", req.OrderNumber)
	if req.CartID != "" {
		params.AddMetadata("cart_id", req.CartID)
	}
	return params
}

// ParseWebhook verifies the Stripe-Signature header and extracts checkout
// session details. Events of other types come back with only ID and Type set.
func (s *Stripe) ParseWebhook(payload []byte, signature string) (Event, error) {
	if s.config.WebhookSecret == "" {
		return Event{}, ErrNotConfigured
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.config.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := Event{ID: event.ID, Type: string(event.Type)}
	if out.Type != EventCheckoutCompleted && out.Type != EventCheckoutExpired {
		return out, nil
	}
	if event.Data == nil {
		return Event{}, fmt.Errorf("decode checkout session: missing data")
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return Event{}, fmt.Errorf("decode checkout session: %w", err)
	}
	out.SessionID = sess.ID
	out.OrderID = sess.Metadata["order_id"]
	if out.OrderID == "" {
		out.OrderID = sess.ClientReferenceID
	}
	out.CartID = sess.Metadata["cart_id"]
	if sess.PaymentIntent != nil {
		out.PaymentReference = sess.PaymentIntent.ID
	}
	return out, nil
}
