package catalog

import (
	"math"

	"jewelry/api/internal/store"
)

// ReviewSummary aggregates the published reviews of a product.
type ReviewSummary struct {
	Average   float64     `json:"average"`
	Count     int         `json:"count"`
	Histogram map[int]int `json:"histogram"`
}

// SummarizeReviews averages published reviews, rounded to one decimal, and
// counts them per star. Hidden reviews are ignored.
func SummarizeReviews(reviews []store.Review) ReviewSummary {
	summary := ReviewSummary{Histogram: map[int]int{1: 0, 2: 0, 3: 0, 4: 0, 5: 0}}
	total := 0
	for _, r := range reviews {
		if r.Status != store.ReviewPublished || r.Rating < 1 || r.Rating > 5 {
			continue
		}
		summary.Count++
		summary.Histogram[r.Rating]++
		total += r.Rating
	}
	if summary.Count > 0 {
		summary.Average = math.Round(float64(total)/float64(summary.Count)*10) / 10
	}
	return summary
}
