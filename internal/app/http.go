package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"jewelry/api/internal/auth"
	"jewelry/api/internal/cart"
	"jewelry/api/internal/logging"
	"jewelry/api/internal/rbac"
	"jewelry/api/internal/store"
	"jewelry/api/internal/web"
)

const (
	sessionCookie = "jw_session"
	refreshCookie = "jw_refresh"
	cartCookie    = "jw_cart"

	maxJSONBody = 1 << 20
)

type HTTPServer struct {
	service      *Service
	pages        *web.Renderer
	logger       *zap.Logger
	corsOrigin   string
	cookieSecure bool
}

func NewHTTPServer(service *Service, pages *web.Renderer) *HTTPServer {
	return &HTTPServer{
		service:      service,
		pages:        pages,
		logger:       service.logger,
		corsOrigin:   service.cfg.CORSOrigin,
		cookieSecure: service.cfg.CookieSecure,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.requestLogger, middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.apiHeaders)

		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", s.handleAuthSignUp)
			r.Post("/signin", s.handleAuthSignIn)
			r.Post("/refresh", s.handleAuthRefresh)
			r.Post("/logout", s.handleAuthLogout)
			r.Post("/verify-email", s.handleAuthVerifyEmail)
			r.Post("/request-reset", s.handleAuthRequestReset)
			r.Post("/reset-password", s.handleAuthResetPassword)
		})

		r.Get("/products", s.handleListProducts)
		r.Get("/products/{slug}", s.handleGetProduct)
		r.Get("/products/{slug}/reviews", s.handleListReviews)
		r.With(s.requireAuth).Post("/products/{slug}/reviews", s.handleCreateReview)
		r.Get("/categories", s.handleListCategories)
		r.Get("/featured", s.handleFeatured)
		r.Get("/search", s.handleSearch)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", s.handleGetCart)
			r.Post("/items", s.handleAddCartItem)
			r.Put("/items/{productId}", s.handleUpdateCartItem)
			r.Delete("/items/{productId}", s.handleRemoveCartItem)
			r.Delete("/", s.handleClearCart)
		})
		r.Post("/checkout", s.handleCheckout)
		r.Post("/webhooks/stripe", s.handleStripeWebhook)

		r.Post("/newsletter", s.handleSubscribe)
		r.Get("/newsletter/unsubscribe", s.handleUnsubscribe)
		r.Post("/analytics", s.handleAnalytics)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/account", s.handleGetProfile)
			r.Put("/account", s.handleUpdateProfile)
			r.Get("/account/orders", s.handleMyOrders)
			r.Get("/account/orders/{id}", s.handleMyOrder)
			r.Get("/account/orders/{id}/invoice", s.handleInvoice)
			r.Get("/wishlist", s.handleGetWishlist)
			r.Post("/wishlist", s.handleAddWishlist)
			r.Delete("/wishlist/{productId}", s.handleRemoveWishlist)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAuth, s.requireAction(rbac.ActionManage))
			r.Get("/stats", s.handleAdminStats)
			r.Get("/products", s.handleAdminListProducts)
			r.Post("/products", s.handleAdminCreateProduct)
			r.Get("/products/{id}", s.handleAdminGetProduct)
			r.Put("/products/{id}", s.handleAdminUpdateProduct)
			r.Delete("/products/{id}", s.handleAdminArchiveProduct)
			r.Post("/categories", s.handleAdminUpsertCategory)
			r.Get("/orders", s.handleAdminListOrders)
			r.Get("/orders/{id}", s.handleAdminGetOrder)
			r.Post("/orders/{id}/status", s.handleAdminTransitionOrder)
			r.Get("/featured", s.handleAdminGetFeatured)
			r.Put("/featured", s.handleAdminSetFeatured)
			r.Get("/reviews", s.handleAdminListReviews)
			r.Put("/reviews/{id}", s.handleAdminModerateReview)
			r.Get("/newsletter", s.handleAdminSubscribers)
			r.Get("/newsletter.csv", s.handleAdminSubscribersCSV)
			r.Post("/search/reindex", s.handleAdminReindex)
		})
		r.With(s.requireAuth, s.requireAction(rbac.ActionManage)).Post("/storage/upload", s.handleUpload)

		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		})
		r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		})
	})

	s.mountPages(r)
	return r
}

// requestLogger stores a request-scoped logger in the context and logs each
// request once it completes.
func (s *HTTPServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		logger := s.logger.With(zap.String("request_id", requestID))
		r = r.WithContext(logging.WithContext(r.Context(), logger))

		started := time.Now()
		writer := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		status := writer.Status()
		if status == 0 {
			status = http.StatusOK
		}
		logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

func (s *HTTPServer) apiHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w.Header(), s.corsOrigin)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, Stripe-Signature")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	if corsOrigin != "*" {
		header.Set("Access-Control-Allow-Credentials", "true")
	}
	header.Set("Cache-Control", "no-store")
}

type sessionKey struct{}

// sessionFrom returns the session resolved for this request, if any.
func sessionFrom(r *http.Request) *Session {
	session, _ := r.Context().Value(sessionKey{}).(*Session)
	return session
}

// optionalSession resolves the caller from the bearer token or the session
// cookie. An invalid token is treated as anonymous.
func (s *HTTPServer) optionalSession(r *http.Request) *Session {
	if session := sessionFrom(r); session != nil {
		return session
	}
	token := bearerToken(r)
	if token == "" {
		if c, err := r.Cookie(sessionCookie); err == nil {
			token = c.Value
		}
	}
	if token == "" {
		return nil
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		return nil
	}
	return &session
}

func (s *HTTPServer) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, &session)))
	})
}

func (s *HTTPServer) requireAction(action rbac.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := sessionFrom(r)
			if session == nil || !s.service.Can(session.Role, action) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		if c, err := r.Cookie(sessionCookie); err == nil {
			token = c.Value
		}
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		logging.FromContext(r.Context()).Error("session lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

// cartID picks the signed-in user's cart or the guest cart cookie. With
// create set, a guest without a cart gets a fresh cookie.
func (s *HTTPServer) cartID(w http.ResponseWriter, r *http.Request, create bool) string {
	if session := s.optionalSession(r); session != nil {
		return session.CartID()
	}
	if id := guestCartID(r); id != "" {
		return id
	}
	if !create {
		return ""
	}
	id := cart.NewID()
	http.SetCookie(w, s.cookie(cartCookie, id, cart.DefaultTTL))
	return id
}

func (s *HTTPServer) cookie(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (s *HTTPServer) setSessionCookies(w http.ResponseWriter, session Session) {
	http.SetCookie(w, s.cookie(sessionCookie, session.Token, s.service.cfg.AccessTTL))
	http.SetCookie(w, s.cookie(refreshCookie, session.RefreshToken, s.service.cfg.RefreshTTL))
}

func (s *HTTPServer) clearSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{sessionCookie, refreshCookie} {
		c := s.cookie(name, "", 0)
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// writeServiceError maps err and logs it when it is not a user-facing failure.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logging.FromContext(r.Context()).Error("request failed", zap.Error(err))
	}
	writeError(w, status, code, message, details)
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if store.IsUnavailable(err) {
		return http.StatusServiceUnavailable, "DATABASE_UNAVAILABLE", "The store database is unavailable, please try again later", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func queryInt(values url.Values, key string, fallback int) int {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func queryDecimal(values url.Values, key string) *decimal.Decimal {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	return &d
}

// ParseProductFilter reads the storefront filter parameters. Materials may be
// repeated or comma separated; malformed numbers are ignored.
func ParseProductFilter(values url.Values) store.ProductFilter {
	var materials []string
	for _, raw := range values["material"] {
		for _, m := range strings.Split(raw, ",") {
			if m = strings.TrimSpace(m); m != "" {
				materials = append(materials, m)
			}
		}
	}
	rating, _ := strconv.ParseFloat(strings.TrimSpace(values.Get("rating")), 64)
	inStock, _ := strconv.ParseBool(values.Get("inStock"))
	return store.ProductFilter{
		Category:    values.Get("category"),
		Materials:   materials,
		Gemstone:    values.Get("gemstone"),
		MinPrice:    queryDecimal(values, "minPrice"),
		MaxPrice:    queryDecimal(values, "maxPrice"),
		MinRating:   rating,
		Query:       values.Get("q"),
		InStockOnly: inStock,
		Sort:        values.Get("sort"),
		Page:        queryInt(values, "page", 1),
		PageSize:    queryInt(values, "pageSize", store.DefaultPageSize),
	}
}
