// Package headless starts the headless Chrome instances used for PDF
// rendering and page audits.
package headless

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/chromedp/chromedp"
)

var ErrChromeMissing = errors.New("chromium not installed")

var binaries = []string{"chromium-browser", "chromium", "google-chrome", "google-chrome-stable"}

// lookPath is replaced in tests.
var lookPath = exec.LookPath

// Available reports whether a Chrome binary is on PATH.
func Available() bool {
	_, err := findBinary()
	return err == nil
}

func findBinary() (string, error) {
	for _, name := range binaries {
		if path, err := lookPath(name); err == nil {
			return path, nil
		}
	}
	return "", ErrChromeMissing
}

// NewBrowser starts a browser and returns a context whose tabs share it.
// The returned cancel func shuts the browser down.
func NewBrowser(ctx context.Context) (context.Context, context.CancelFunc, error) {
	path, err := findBinary()
	if err != nil {
		return nil, nil, err
	}

	// Container friendly flags.
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(path),
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// Start the browser eagerly so launch errors surface here.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, nil, fmt.Errorf("start chrome: %w", err)
	}

	return browserCtx, func() {
		cancelBrowser()
		cancelAlloc()
	}, nil
}

// DataURL encodes an HTML document as a data URL. Spaces become %20, not +.
func DataURL(html string) string {
	return "data:text/html;charset=utf-8," + percentEncode(html)
}

func percentEncode(s string) string {
	var result strings.Builder
	for i := 0; i < len(s); i++ {
		b := s[i]
		switch {
		case b >= 'a' && b <= 'z',
			b >= 'A' && b <= 'Z',
			b >= '0' && b <= '9',
			b == '-', b == '_', b == '.', b == '~':
			result.WriteByte(b)
		default:
			fmt.Fprintf(&result, "%%%02X", b)
		}
	}
	return result.String()
}
