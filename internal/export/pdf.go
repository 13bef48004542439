package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"jewelry/api/internal/headless"
)

// Renderer turns an HTML document into PDF bytes.
type Renderer interface {
	PDF(ctx context.Context, html string) ([]byte, error)
}

// ChromeRenderer prints HTML to PDF with headless Chrome.
type ChromeRenderer struct {
	Timeout time.Duration
}

func NewChromeRenderer() *ChromeRenderer {
	return &ChromeRenderer{Timeout: 30 * time.Second}
}

// Available reports whether a Chrome binary can be found.
func (r *ChromeRenderer) Available() bool {
	return headless.Available()
}

func (r *ChromeRenderer) PDF(ctx context.Context, html string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	browser, closeBrowser, err := headless.NewBrowser(ctx)
	if err != nil {
		if errors.Is(err, headless.ErrChromeMissing) {
			return nil, fmt.Errorf("%w: %v", ErrPDFDependencyMissing, err)
		}
		return nil, err
	}
	defer closeBrowser()

	var pdfData []byte
	err = chromedp.Run(browser,
		chromedp.Navigate(headless.DataURL(html)),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdfData, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(8.5). // Letter size
				WithPaperHeight(11.0).
				WithMarginTop(0.6).
				WithMarginBottom(0.6).
				WithMarginLeft(0.6).
				WithMarginRight(0.6).
				WithPreferCSSPageSize(true).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("chrome pdf generation failed: %w", err)
	}
	return pdfData, nil
}

// sanitizeFilename creates a safe filename from a title
func sanitizeFilename(title string) string {
	result := make([]rune, 0, len(title))
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			result = append(result, r)
		case r == ' ':
			result = append(result, '-')
		case r == '-', r == '_':
			result = append(result, r)
		}
	}

	if len(result) > 50 {
		result = result[:50]
	}
	if len(result) == 0 {
		return "document"
	}
	return string(result)
}
