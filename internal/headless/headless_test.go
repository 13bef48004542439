package headless

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataURLEncodesSpacesAndUnicode(t *testing.T) {
	html := `<p class="x">Bague Cie, or 18k é</p>`
	got := DataURL(html)

	assert.Contains(t, got, "%20")
	assert.NotContains(t, got, "+")
	assert.NotContains(t, got, " ")

	decoded, err := url.PathUnescape(got[len("data:text/html;charset=utf-8,"):])
	require.NoError(t, err)
	assert.Equal(t, html, decoded)
}

func TestNewBrowserWithoutChrome(t *testing.T) {
	orig := lookPath
	lookPath = func(string) (string, error) { return "", errors.New("not found") }
	t.Cleanup(func() { lookPath = orig })

	assert.False(t, Available())
	_, _, err := NewBrowser(context.Background())
	assert.ErrorIs(t, err, ErrChromeMissing)
}
