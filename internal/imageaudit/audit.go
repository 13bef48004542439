// Package imageaudit loads storefront pages in headless Chrome and reports
// broken images and images without alt text.
package imageaudit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"jewelry/api/internal/headless"
)

// Image is what the page script reports for each <img>.
type Image struct {
	Src           string `json:"src"`
	Alt           string `json:"alt"`
	HasAlt        bool   `json:"hasAlt"`
	NaturalWidth  int    `json:"naturalWidth"`
	NaturalHeight int    `json:"naturalHeight"`
	Complete      bool   `json:"complete"`
}

// Broken reports whether the image has no source or finished loading without pixels.
func (img Image) Broken() bool {
	if strings.TrimSpace(img.Src) == "" {
		return true
	}
	return img.Complete && img.NaturalWidth == 0
}

func (img Image) MissingAlt() bool {
	return !img.HasAlt || strings.TrimSpace(img.Alt) == ""
}

type PageReport struct {
	URL        string  `json:"url"`
	Images     int     `json:"images"`
	Broken     []Image `json:"broken,omitempty"`
	MissingAlt []Image `json:"missingAlt,omitempty"`
	Error      string  `json:"error,omitempty"`
}

type Summary struct {
	Pages       int          `json:"pages"`
	Images      int          `json:"images"`
	Broken      int          `json:"broken"`
	MissingAlt  int          `json:"missingAlt"`
	FailedPages int          `json:"failedPages"`
	Reports     []PageReport `json:"reports"`
}

// HasFailures is true when any image is broken or a page could not be loaded.
func (s Summary) HasFailures() bool {
	return s.Broken > 0 || s.FailedPages > 0
}

// Visitor loads a page and returns its images.
type Visitor interface {
	Visit(ctx context.Context, url string) ([]Image, error)
}

type Auditor struct {
	visitor Visitor
	baseURL string
	logger  *zap.Logger
}

func NewAuditor(visitor Visitor, baseURL string, logger *zap.Logger) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{visitor: visitor, baseURL: strings.TrimRight(baseURL, "/"), logger: logger}
}

// Run visits every path in order. A page that fails to load is recorded in
// its report and does not stop the audit.
func (a *Auditor) Run(ctx context.Context, paths []string) (Summary, error) {
	reports := make([]PageReport, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return Summary{}, err
		}
		url := a.resolve(path)
		images, err := a.visitor.Visit(ctx, url)
		if err != nil {
			a.logger.Warn("image audit page failed", zap.String("url", url), zap.Error(err))
			reports = append(reports, PageReport{URL: url, Error: err.Error()})
			continue
		}
		report := Classify(url, images)
		a.logger.Info("image audit page",
			zap.String("url", url),
			zap.Int("images", report.Images),
			zap.Int("broken", len(report.Broken)),
			zap.Int("missing_alt", len(report.MissingAlt)),
		)
		reports = append(reports, report)
	}
	return Summarize(reports), nil
}

func (a *Auditor) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return a.baseURL + path
}

// Classify builds the report for one page.
func Classify(url string, images []Image) PageReport {
	report := PageReport{URL: url, Images: len(images)}
	for _, img := range images {
		if img.Broken() {
			report.Broken = append(report.Broken, img)
		}
		if img.MissingAlt() {
			report.MissingAlt = append(report.MissingAlt, img)
		}
	}
	return report
}

func Summarize(reports []PageReport) Summary {
	s := Summary{Pages: len(reports), Reports: reports}
	for _, r := range reports {
		if r.Error != "" {
			s.FailedPages++
			continue
		}
		s.Images += r.Images
		s.Broken += len(r.Broken)
		s.MissingAlt += len(r.MissingAlt)
	}
	return s
}

const collectImagesJS = `Array.from(document.images).map(img => ({
  src: img.currentSrc || img.getAttribute('src') || '',
  alt: img.getAttribute('alt') || '',
  hasAlt: img.hasAttribute('alt'),
  naturalWidth: img.naturalWidth,
  naturalHeight: img.naturalHeight,
  complete: img.complete
}))`

// ChromeVisitor visits pages in tabs of one shared headless browser.
type ChromeVisitor struct {
	browser     context.Context
	pageTimeout time.Duration
	settle      time.Duration
}

func NewChromeVisitor(browser context.Context) *ChromeVisitor {
	return &ChromeVisitor{browser: browser, pageTimeout: 30 * time.Second, settle: 750 * time.Millisecond}
}

// NewChromeAuditor starts a browser and returns an auditor backed by it.
// Callers must invoke the returned func to shut the browser down.
func NewChromeAuditor(ctx context.Context, baseURL string, logger *zap.Logger) (*Auditor, func(), error) {
	browser, cancel, err := headless.NewBrowser(ctx)
	if err != nil {
		return nil, nil, err
	}
	return NewAuditor(NewChromeVisitor(browser), baseURL, logger), cancel, nil
}

func (v *ChromeVisitor) Visit(ctx context.Context, url string) ([]Image, error) {
	tabCtx, cancelTab := chromedp.NewContext(v.browser)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, v.pageTimeout)
	defer cancelTimeout()

	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	var images []Image
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Sleep(v.settle),
		chromedp.Evaluate(collectImagesJS, &images),
	)
	if err != nil {
		return nil, fmt.Errorf("audit %s: %w", url, err)
	}
	return images, nil
}
