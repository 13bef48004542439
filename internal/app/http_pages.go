package app

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"jewelry/api/internal/catalog"
	"jewelry/api/internal/logging"
	"jewelry/api/internal/store"
	"jewelry/api/internal/web"
)

func (s *HTTPServer) mountPages(r chi.Router) {
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(web.Static()))))

	r.Get("/", s.pageHome)
	r.Get("/shop", s.pageShop)
	r.Get("/products/{slug}", s.pageProduct)
	r.Get("/cart", s.pageCart)
	r.Post("/cart/add", s.formCartAdd)
	r.Post("/cart/update", s.formCartUpdate)
	r.Post("/cart/remove", s.formCartRemove)
	r.Post("/checkout", s.formCheckout)
	r.Get("/checkout/success", s.pageCheckoutSuccess)
	r.Get("/account", s.pageAccount)
	r.Get("/signin", s.pageSignIn)
	r.Post("/signin", s.formSignIn)
	r.Post("/signout", s.formSignOut)
	r.Post("/newsletter", s.formNewsletter)
	r.NotFound(s.pageNotFound)
}

// page fills the shared layout fields for the current visitor.
func (s *HTTPServer) page(w http.ResponseWriter, r *http.Request, title string, body any) web.Page {
	p := web.Page{Title: title, Body: body}
	if session := s.optionalSession(r); session != nil {
		p.Viewer = &web.Viewer{Name: session.UserName, IsAdmin: session.Role == store.RoleAdmin}
	}
	if id := s.cartID(w, r, false); id != "" {
		if view, err := s.service.Cart(r.Context(), id); err == nil {
			p.CartCount = view.Summary.ItemCount
		}
	}
	return p
}

func (s *HTTPServer) render(w http.ResponseWriter, r *http.Request, status int, name string, page web.Page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.pages.Render(w, name, page); err != nil {
		logging.FromContext(r.Context()).Error("render page failed", zap.String("page", name), zap.Error(err))
	}
}

func (s *HTTPServer) pageError(w http.ResponseWriter, r *http.Request, err error) {
	status, _, _, _ := mapError(err)
	if status == http.StatusNotFound {
		s.pageNotFound(w, r)
		return
	}
	logging.FromContext(r.Context()).Error("page failed", zap.Error(err))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func (s *HTTPServer) pageNotFound(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusNotFound, web.PageNotFound, s.page(w, r, "Not found", nil))
}

func (s *HTTPServer) pageHome(w http.ResponseWriter, r *http.Request) {
	featured, err := s.service.FeaturedProducts(r.Context())
	if err != nil {
		s.pageError(w, r, err)
		return
	}
	categories, err := s.service.ListCategories(r.Context())
	if err != nil {
		s.pageError(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, web.PageHome, s.page(w, r, "", web.HomeData{Featured: featured, Categories: categories}))
}

func (s *HTTPServer) pageShop(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := ParseProductFilter(query)
	results, err := s.service.ListProducts(r.Context(), filter)
	if err != nil {
		s.pageError(w, r, err)
		return
	}
	categories, err := s.service.ListCategories(r.Context())
	if err != nil {
		s.pageError(w, r, err)
		return
	}
	query.Del("page")
	body := web.ShopData{
		Results:    results,
		Filter:     catalog.Normalize(filter),
		Categories: categories,
		Query:      query,
	}
	s.render(w, r, http.StatusOK, web.PageShop, s.page(w, r, "Shop", body))
}

func (s *HTTPServer) pageProduct(w http.ResponseWriter, r *http.Request) {
	detail, err := s.service.ProductDetail(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.pageError(w, r, err)
		return
	}
	body := web.ProductData{Product: detail.Product, Reviews: detail.Reviews, Summary: detail.Summary}
	s.render(w, r, http.StatusOK, web.PageProduct, s.page(w, r, detail.Product.Name, body))
}

func (s *HTTPServer) pageCart(w http.ResponseWriter, r *http.Request) {
	s.renderCart(w, r, http.StatusOK, "")
}

func (s *HTTPServer) renderCart(w http.ResponseWriter, r *http.Request, status int, message string) {
	view, err := s.service.Cart(r.Context(), s.cartID(w, r, false))
	if err != nil {
		s.pageError(w, r, err)
		return
	}
	s.render(w, r, status, web.PageCart, s.page(w, r, "Your bag", web.CartData{View: view, Error: message}))
}

func formQuantity(r *http.Request, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.PostFormValue("quantity")))
	if err != nil {
		return fallback
	}
	return n
}

func (s *HTTPServer) formCartAdd(w http.ResponseWriter, r *http.Request) {
	input := CartLineInput{ProductID: r.PostFormValue("productId"), Quantity: formQuantity(r, 1)}
	if _, err := s.service.AddToCart(r.Context(), s.cartID(w, r, true), input); err != nil {
		s.formFailed(w, r, err)
		return
	}
	http.Redirect(w, r, "/cart", http.StatusSeeOther)
}

func (s *HTTPServer) formCartUpdate(w http.ResponseWriter, r *http.Request) {
	input := CartLineInput{ProductID: r.PostFormValue("productId"), Quantity: formQuantity(r, 0)}
	if _, err := s.service.UpdateCartLine(r.Context(), s.cartID(w, r, true), input); err != nil {
		s.formFailed(w, r, err)
		return
	}
	http.Redirect(w, r, "/cart", http.StatusSeeOther)
}

func (s *HTTPServer) formCartRemove(w http.ResponseWriter, r *http.Request) {
	if _, err := s.service.RemoveCartLine(r.Context(), s.cartID(w, r, true), r.PostFormValue("productId")); err != nil {
		s.formFailed(w, r, err)
		return
	}
	http.Redirect(w, r, "/cart", http.StatusSeeOther)
}

func (s *HTTPServer) formCheckout(w http.ResponseWriter, r *http.Request) {
	input := CheckoutInput{
		Email: r.PostFormValue("email"),
		Address: AddressInput{
			Name:       r.PostFormValue("name"),
			Line1:      r.PostFormValue("line1"),
			Line2:      r.PostFormValue("line2"),
			City:       r.PostFormValue("city"),
			Region:     r.PostFormValue("region"),
			PostalCode: r.PostFormValue("postalCode"),
			Country:    r.PostFormValue("country"),
		},
	}
	result, err := s.service.Checkout(r.Context(), s.optionalSession(r), s.cartID(w, r, false), input)
	if err != nil {
		s.formFailed(w, r, err)
		return
	}
	http.Redirect(w, r, result.CheckoutURL, http.StatusSeeOther)
}

// formFailed shows user-facing failures on the cart page.
func (s *HTTPServer) formFailed(w http.ResponseWriter, r *http.Request, err error) {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		s.pageError(w, r, err)
		return
	}
	if domainErr.Status == http.StatusNotFound {
		s.pageNotFound(w, r)
		return
	}
	s.renderCart(w, r, domainErr.Status, domainErr.Message)
}

func (s *HTTPServer) pageCheckoutSuccess(w http.ResponseWriter, r *http.Request) {
	body := web.CheckoutSuccessData{OrderNumber: successOrderNumber(r.URL.Query().Get("order"))}
	s.render(w, r, http.StatusOK, web.PageCheckoutSuccess, s.page(w, r, "Thank you", body))
}

func (s *HTTPServer) pageAccount(w http.ResponseWriter, r *http.Request) {
	session := s.optionalSession(r)
	if session == nil {
		http.Redirect(w, r, "/signin?next="+url.QueryEscape("/account"), http.StatusSeeOther)
		return
	}
	profile, err := s.service.Profile(r.Context(), *session)
	if err != nil {
		s.pageError(w, r, err)
		return
	}
	orders, err := s.service.MyOrders(r.Context(), *session)
	if err != nil {
		s.pageError(w, r, err)
		return
	}
	body := web.AccountData{Email: profile.Email, Orders: orders}
	s.render(w, r, http.StatusOK, web.PageAccount, s.page(w, r, "Your account", body))
}

func (s *HTTPServer) pageSignIn(w http.ResponseWriter, r *http.Request) {
	body := web.SignInData{Next: safeNext(r.URL.Query().Get("next"))}
	s.render(w, r, http.StatusOK, web.PageSignIn, s.page(w, r, "Sign in", body))
}

func (s *HTTPServer) formSignIn(w http.ResponseWriter, r *http.Request) {
	input := SignInInput{Email: r.PostFormValue("email"), Password: r.PostFormValue("password")}
	next := safeNext(r.PostFormValue("next"))
	session, err := s.service.SignIn(r.Context(), input, guestCartID(r))
	if err != nil {
		status, _, message, _ := mapError(err)
		if status >= http.StatusInternalServerError {
			s.pageError(w, r, err)
			return
		}
		body := web.SignInData{Email: input.Email, Error: message, Next: next}
		s.render(w, r, status, web.PageSignIn, s.page(w, r, "Sign in", body))
		return
	}
	s.setSessionCookies(w, session)
	http.Redirect(w, r, next, http.StatusSeeOther)
}

func (s *HTTPServer) formSignOut(w http.ResponseWriter, r *http.Request) {
	var session Session
	if current := s.optionalSession(r); current != nil {
		session = *current
	}
	refresh := ""
	if c, err := r.Cookie(refreshCookie); err == nil {
		refresh = c.Value
	}
	_ = s.service.Logout(r.Context(), session, refresh)
	s.clearSessionCookies(w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *HTTPServer) formNewsletter(w http.ResponseWriter, r *http.Request) {
	input := NewsletterInput{Email: r.PostFormValue("email"), Source: r.PostFormValue("source")}
	if _, err := s.service.Subscribe(r.Context(), input); err != nil {
		var domainErr *DomainError
		if !errors.As(err, &domainErr) {
			s.pageError(w, r, err)
			return
		}
	}
	back := r.Referer()
	if u, err := url.Parse(back); err != nil || u.Path == "" {
		back = "/"
	} else {
		back = safeNext(u.RequestURI())
	}
	http.Redirect(w, r, back, http.StatusSeeOther)
}

// safeNext only allows local redirect targets.
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	return next
}
