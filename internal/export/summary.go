package export

import (
	"time"

	"github.com/JakeFAU/webscraper/internal/crawler"
)

// PageSummary is one line of a Summary.
type PageSummary struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
}

// Summary aggregates counts over a set of records.
type Summary struct {
	TotalPages  int           `json:"total_pages"`
	TotalLinks  int           `json:"total_links"`
	TotalImages int           `json:"total_images"`
	Pages       []PageSummary `json:"pages,omitempty"`
}

// Summarize counts pages, links and images in records.
func Summarize(records []crawler.PageRecord) Summary {
	s := Summary{TotalPages: len(records)}
	for _, rec := range records {
		s.TotalLinks += len(rec.Links)
		s.TotalImages += len(rec.Images)
		s.Pages = append(s.Pages, PageSummary{
			URL:       rec.URL,
			Title:     rec.Title,
			Timestamp: rec.Timestamp,
		})
	}
	return s
}
