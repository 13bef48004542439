package util

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewID(t *testing.T) {
	id := NewID("ord")
	assert.True(t, strings.HasPrefix(id, "ord_"))
	assert.Len(t, id, len("ord_")+32)
	assert.NotEqual(t, id, NewID("ord"))
	assert.Len(t, NewID(""), 32)
}

func TestOrderNumber(t *testing.T) {
	number := OrderNumber(time.Date(2026, 10, 18, 23, 0, 0, 0, time.UTC))
	assert.Regexp(t, regexp.MustCompile(`^JW-20261018-[0-9A-F]{4}$`), number)
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Classic Solitaire Ring":   "classic-solitaire-ring",
		"  Rose-Gold  Hoops!! ":    "rose-gold-hoops",
		"18k Gold / Diamond Studs": "18k-gold-diamond-studs",
		"":                         "",
	}
	for input, want := range cases {
		assert.Equal(t, want, Slugify(input), input)
	}
}
