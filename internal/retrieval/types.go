package retrieval

import "time"

// Result is the envelope returned by a successful recommendation.
type Result struct {
	SearchID        string           `json:"search_id"`
	Query           string           `json:"query"`
	Timestamp       time.Time        `json:"timestamp"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Recommendation is one ranked catalog item.
type Recommendation struct {
	Rank           int     `json:"rank"`
	CatalogItemID  string  `json:"catalog_item_id"`
	CatalogPath    string  `json:"catalog_path"`
	RelevanceScore float64 `json:"relevance_score"` // Average similarity over the item's hits
	Frequency      int     `json:"frequency"`
	MaxScore       float64 `json:"max_score"`
}
