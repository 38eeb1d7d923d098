package models

// Document is a ticker-tagged news item stored in the vector index.
// Title is the identity key.
type Document struct {
	Ticker    string    `json:"ticker"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary"`
	Embedding []float32 `json:"-"`
}

// DocumentFromNews wraps a news item for ingestion.
func DocumentFromNews(n NewsItem) Document {
	return Document{Ticker: n.Ticker, Title: n.Title, Summary: n.Summary}
}

// SearchResult is a stored document with its similarity to the query.
type SearchResult struct {
	Document
	Score float64 `json:"score"`
}

// SearchOptions narrows a similarity query.
type SearchOptions struct {
	TopK     int     `json:"top_k"`
	MinScore float64 `json:"min_score"`
	Ticker   string  `json:"ticker,omitempty"` // empty means no filter
}

// IndexStatus is the diagnostic view of the vector index.
type IndexStatus struct {
	TotalDocuments int  `json:"total_documents"`
	IndexReady     bool `json:"index_ready"`
}
