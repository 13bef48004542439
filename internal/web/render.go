// Package web renders the storefront's server-side HTML pages.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"jewelry/api/internal/cart"
	"jewelry/api/internal/catalog"
	"jewelry/api/internal/store"
	"jewelry/api/internal/util"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

const (
	PageHome            = "home.html"
	PageShop            = "shop.html"
	PageProduct         = "product.html"
	PageCart            = "cart.html"
	PageCheckoutSuccess = "checkout_success.html"
	PageAccount         = "account.html"
	PageSignIn          = "signin.html"
	PageNotFound        = "not_found.html"
)

var pageNames = []string{
	PageHome, PageShop, PageProduct, PageCart, PageCheckoutSuccess, PageAccount, PageSignIn, PageNotFound,
}

// Viewer is the signed-in user shown in the header.
type Viewer struct {
	Name    string
	IsAdmin bool
}

// Page is the data every page template receives; Body is page specific.
type Page struct {
	Title     string
	SiteName  string
	Viewer    *Viewer
	CartCount int
	Body      any
}

type HomeData struct {
	Featured   []store.Product
	Categories []store.Category
}

type ShopData struct {
	Results    catalog.Page
	Filter     store.ProductFilter
	Categories []store.Category
	Query      url.Values
}

type ProductData struct {
	Product store.Product
	Reviews []store.Review
	Summary catalog.ReviewSummary
}

type CartData struct {
	View  cart.View
	Error string
}

type CheckoutSuccessData struct {
	OrderNumber string
}

type AccountData struct {
	Email  string
	Orders []store.Order
}

type SignInData struct {
	Email string
	Error string
	Next  string
}

type Renderer struct {
	siteName string
	pages    map[string]*template.Template
}

var funcs = template.FuncMap{
	"money": util.FormatMoney,
	"moneyPtr": func(d *decimal.Decimal) string {
		if d == nil {
			return ""
		}
		return util.FormatMoney(*d)
	},
	"stars":   func(rating float64) string { return stars(int(math.Round(rating))) },
	"starsN":  stars,
	"date":    func(t time.Time) string { return t.Format("Jan 2, 2006") },
	"pageURL": pageURL,
	"seq": func(n int) []int {
		out := make([]int, n)
		for i := range out {
			out[i] = i + 1
		}
		return out
	},
	"title": func(s string) string {
		s = strings.ReplaceAll(s, "-", " ")
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + s[1:]
	},
}

// NewRenderer parses every page together with the shared layout.
func NewRenderer(siteName string) (*Renderer, error) {
	r := &Renderer{siteName: siteName, pages: make(map[string]*template.Template, len(pageNames))}
	for _, name := range pageNames {
		tmpl, err := template.New(name).Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		r.pages[name] = tmpl
	}
	return r, nil
}

// Render executes the named page into w. Output is buffered so a template
// error never leaves a half-written page.
func (r *Renderer) Render(w io.Writer, name string, page Page) error {
	tmpl, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("unknown page %q", name)
	}
	if page.SiteName == "" {
		page.SiteName = r.siteName
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", page); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	_, err := buf.WriteTo(w)
	return err
}

// Static returns the embedded assets served under /static/.
func Static() fs.FS {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

func stars(n int) string {
	n = max(0, min(n, 5))
	return strings.Repeat("★", n) + strings.Repeat("☆", 5-n)
}

// pageURL keeps the current filters and swaps the page number.
func pageURL(query url.Values, page int) string {
	q := url.Values{}
	for k, v := range query {
		q[k] = append([]string(nil), v...)
	}
	q.Set("page", strconv.Itoa(page))
	return "/shop?" + q.Encode()
}
