package cart

import (
	"jewelry/api/internal/store"

	"github.com/shopspring/decimal"
)

// Summary holds the money totals of a cart.
type Summary struct {
	ItemCount int             `json:"itemCount"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Shipping  decimal.Decimal `json:"shipping"`
	Total     decimal.Decimal `json:"total"`
}

// PricedLine is a quantity at a unit price.
type PricedLine struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// Totals sums the lines. Shipping is free at or above threshold, flatRate
// below it and zero for an empty cart.
func Totals(lines []PricedLine, threshold, flatRate decimal.Decimal) Summary {
	sum := Summary{Subtotal: decimal.Zero, Shipping: decimal.Zero}
	for _, l := range lines {
		if l.Quantity <= 0 {
			continue
		}
		sum.ItemCount += l.Quantity
		sum.Subtotal = sum.Subtotal.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	if sum.ItemCount > 0 && sum.Subtotal.LessThan(threshold) {
		sum.Shipping = flatRate
	}
	sum.Total = sum.Subtotal.Add(sum.Shipping)
	return sum
}

// Item is a cart line resolved against the catalog.
type Item struct {
	Product   store.Product   `json:"-"`
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"lineTotal"`
	Adjusted  bool            `json:"adjusted"`
}

// View is a cart ready for display or checkout.
type View struct {
	Items    []Item  `json:"items"`
	Summary  Summary `json:"summary"`
	Adjusted bool    `json:"adjusted"`
}

// Resolve joins lines with products. Lines whose product is missing or
// inactive are dropped and quantities above stock are clamped; both mark the
// view as adjusted.
func Resolve(lines []Line, products []store.Product, threshold, flatRate decimal.Decimal) View {
	byID := make(map[string]store.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	view := View{Items: make([]Item, 0, len(lines))}
	priced := make([]PricedLine, 0, len(lines))
	for _, line := range lines {
		product, ok := byID[line.ProductID]
		if !ok || !product.IsActive || product.Stock <= 0 {
			view.Adjusted = true
			continue
		}
		qty := line.Quantity
		adjusted := false
		if qty > product.Stock {
			qty = product.Stock
			adjusted = true
		}
		if qty > MaxPerLine {
			qty = MaxPerLine
			adjusted = true
		}
		view.Adjusted = view.Adjusted || adjusted
		view.Items = append(view.Items, Item{
			Product:   product,
			ProductID: product.ID,
			Quantity:  qty,
			LineTotal: product.Price.Mul(decimal.NewFromInt(int64(qty))),
			Adjusted:  adjusted,
		})
		priced = append(priced, PricedLine{UnitPrice: product.Price, Quantity: qty})
	}
	view.Summary = Totals(priced, threshold, flatRate)
	return view
}

// ProductIDs lists the product IDs referenced by lines.
func ProductIDs(lines []Line) []string {
	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	return ids
}
