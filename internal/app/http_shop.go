package app

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"jewelry/api/internal/cart"
	"jewelry/api/internal/search"
)

const maxWebhookBody = 64 << 10

func (s *HTTPServer) handleListProducts(w http.ResponseWriter, r *http.Request) {
	page, err := s.service.ListProducts(r.Context(), ParseProductFilter(r.URL.Query()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductPage(page))
}

func (s *HTTPServer) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.service.GetProduct(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductView(product))
}

func (s *HTTPServer) handleListReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := s.service.ProductReviews(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reviews)
}

func (s *HTTPServer) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	var body ReviewInput
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	review, err := s.service.CreateReview(r.Context(), *sessionFrom(r), chi.URLParam(r, "slug"), body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, review)
}

func (s *HTTPServer) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.service.ListCategories(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]map[string]any, len(categories))
	for i, c := range categories {
		out[i] = map[string]any{
			"id":          c.ID,
			"slug":        c.Slug,
			"name":        c.Name,
			"description": c.Description,
			"imageUrl":    c.ImageURL,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (s *HTTPServer) handleFeatured(w http.ResponseWriter, r *http.Request) {
	products, err := s.service.FeaturedProducts(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": toProductViews(products)})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	resp := s.service.Search(r.Context(), search.Query{
		Text:     values.Get("q"),
		Category: values.Get("category"),
		Limit:    queryInt(values, "limit", search.DefaultLimit),
		Offset:   queryInt(values, "offset", 0),
	})
	writeJSON(w, http.StatusOK, resp)
}

// Cart

type cartItemView struct {
	Product   ProductView     `json:"product"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"lineTotal"`
	Adjusted  bool            `json:"adjusted"`
}

type cartView struct {
	Items    []cartItemView `json:"items"`
	Summary  cart.Summary   `json:"summary"`
	Adjusted bool           `json:"adjusted"`
}

func toCartView(view cart.View) cartView {
	out := cartView{Items: make([]cartItemView, len(view.Items)), Summary: view.Summary, Adjusted: view.Adjusted}
	for i, item := range view.Items {
		out.Items[i] = cartItemView{
			Product:   toProductView(item.Product),
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal,
			Adjusted:  item.Adjusted,
		}
	}
	return out
}

func (s *HTTPServer) handleGetCart(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Cart(r.Context(), s.cartID(w, r, false))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartView(view))
}

func (s *HTTPServer) handleAddCartItem(w http.ResponseWriter, r *http.Request) {
	var body CartLineInput
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	view, err := s.service.AddToCart(r.Context(), s.cartID(w, r, true), body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartView(view))
}

func (s *HTTPServer) handleUpdateCartItem(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Quantity int `json:"quantity"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	input := CartLineInput{ProductID: chi.URLParam(r, "productId"), Quantity: body.Quantity}
	view, err := s.service.UpdateCartLine(r.Context(), s.cartID(w, r, true), input)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartView(view))
}

func (s *HTTPServer) handleRemoveCartItem(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.RemoveCartLine(r.Context(), s.cartID(w, r, true), chi.URLParam(r, "productId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartView(view))
}

func (s *HTTPServer) handleClearCart(w http.ResponseWriter, r *http.Request) {
	if id := s.cartID(w, r, false); id != "" {
		if err := s.service.ClearCart(r.Context(), id); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// Checkout and payments

func (s *HTTPServer) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var body CheckoutInput
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.Checkout(r.Context(), s.optionalSession(r), s.cartID(w, r, false), body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *HTTPServer) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Could not read body", nil)
		return
	}
	if err := s.service.HandlePaymentWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}

// Orders

func (s *HTTPServer) handleMyOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.service.MyOrders(r.Context(), *sessionFrom(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]OrderView, len(orders))
	for i, o := range orders {
		out[i] = toOrderView(o)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (s *HTTPServer) handleMyOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.service.MyOrder(r.Context(), *sessionFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderView(order))
}

func (s *HTTPServer) handleInvoice(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Invoice(r.Context(), *sessionFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

// Wishlist

func (s *HTTPServer) handleGetWishlist(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.Wishlist(r.Context(), *sessionFrom(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleAddWishlist(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProductID string `json:"productId"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.ProductID == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid input", map[string]string{"productId": "required"})
		return
	}
	if err := s.service.AddToWishlist(r.Context(), *sessionFrom(r), body.ProductID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"productId": body.ProductID})
}

func (s *HTTPServer) handleRemoveWishlist(w http.ResponseWriter, r *http.Request) {
	if err := s.service.RemoveFromWishlist(r.Context(), *sessionFrom(r), chi.URLParam(r, "productId")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Marketing

func (s *HTTPServer) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var body NewsletterInput
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	created, err := s.service.Subscribe(r.Context(), body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"subscribed": true})
}

func (s *HTTPServer) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Unsubscribe(r.Context(), r.URL.Query().Get("token")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unsubscribed": true})
}

func (s *HTTPServer) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	var body AnalyticsInput
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	accepted, err := s.service.TrackEvents(r.Context(), s.optionalSession(r), body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": accepted})
}

