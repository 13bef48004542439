package export

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"time"

	"jewelry/api/internal/store"
	"jewelry/api/internal/util"
)

//go:embed templates/*.html
var templateFS embed.FS

var invoiceTemplate = template.Must(template.New("invoice.html").Funcs(template.FuncMap{
	"formatDate": func(t time.Time) string { return t.Format("January 2, 2006") },
}).ParseFS(templateFS, "templates/invoice.html"))

// InvoiceLine is one row of the invoice table.
type InvoiceLine struct {
	Name      string
	Quantity  int
	UnitPrice string
	LineTotal string
}

// InvoiceData holds data for invoice template rendering
type InvoiceData struct {
	StoreName string
	SiteURL   string
	Number    string
	Status    string
	IssuedAt  time.Time
	PaidAt    *time.Time
	Email     string
	Address   store.Address
	Lines     []InvoiceLine
	Subtotal  string
	Shipping  string
	Total     string
	Currency  string
}

// NewInvoiceData maps an order to template data with formatted amounts.
func NewInvoiceData(order store.Order, storeName, siteURL string) InvoiceData {
	data := InvoiceData{
		StoreName: storeName,
		SiteURL:   siteURL,
		Number:    order.Number,
		Status:    order.Status,
		IssuedAt:  order.CreatedAt,
		PaidAt:    order.PaidAt,
		Email:     order.Email,
		Address:   order.ShippingAddress,
		Subtotal:  util.FormatMoney(order.Subtotal),
		Shipping:  util.FormatMoney(order.Shipping),
		Total:     util.FormatMoney(order.Total),
		Currency:  order.Currency,
	}
	for _, item := range order.Items {
		data.Lines = append(data.Lines, InvoiceLine{
			Name:      item.ProductName,
			Quantity:  item.Quantity,
			UnitPrice: util.FormatMoney(item.UnitPrice),
			LineTotal: util.FormatMoney(item.LineTotal),
		})
	}
	return data
}

// RenderInvoiceHTML renders the invoice template with provided data
func RenderInvoiceHTML(data InvoiceData) (string, error) {
	var buf bytes.Buffer
	if err := invoiceTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Service provides invoice export functionality
type Service struct {
	renderer  Renderer
	storeName string
	siteURL   string
}

func NewService(renderer Renderer, storeName, siteURL string) *Service {
	return &Service{renderer: renderer, storeName: storeName, siteURL: siteURL}
}

// Invoice renders order as a PDF invoice.
func (s *Service) Invoice(ctx context.Context, order store.Order) (*Result, error) {
	html, err := RenderInvoiceHTML(NewInvoiceData(order, s.storeName, s.siteURL))
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	pdf, err := s.renderer.PDF(ctx, html)
	if err != nil {
		return nil, err
	}
	return &Result{
		Data:     pdf,
		Filename: "invoice-" + sanitizeFilename(order.Number) + ".pdf",
		MimeType: "application/pdf",
	}, nil
}
