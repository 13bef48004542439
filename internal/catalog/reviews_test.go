package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"jewelry/api/internal/store"
)

func TestSummarizeReviews(t *testing.T) {
	summary := SummarizeReviews([]store.Review{
		{Rating: 5, Status: store.ReviewPublished},
		{Rating: 4, Status: store.ReviewPublished},
		{Rating: 4, Status: store.ReviewPublished},
		{Rating: 1, Status: store.ReviewHidden},
	})

	assert.Equal(t, 3, summary.Count)
	assert.Equal(t, 4.3, summary.Average)
	assert.Equal(t, map[int]int{1: 0, 2: 0, 3: 0, 4: 2, 5: 1}, summary.Histogram)
}

func TestSummarizeReviewsEmpty(t *testing.T) {
	summary := SummarizeReviews(nil)
	assert.Zero(t, summary.Count)
	assert.Zero(t, summary.Average)
	assert.Len(t, summary.Histogram, 5)
}
