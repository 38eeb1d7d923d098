package models

import "time"

// Query focus categories, in classification priority order
const (
	FocusPrice     = "price"
	FocusRisk      = "risk"
	FocusEarnings  = "earnings"
	FocusSectors   = "sectors"
	FocusSentiment = "sentiment"
	FocusOverview  = "overview"
)

// QueryResult is the answer to one pipeline query together with the
// intermediate artefacts used to build it.
type QueryResult struct {
	ID            string              `json:"id"`
	Query         string              `json:"query"`
	Tickers       []string            `json:"tickers"`
	Response      string              `json:"response"`
	QueryFocus    string              `json:"query_focus"`
	Analytics     *PortfolioAnalytics `json:"analysis_data"`
	RetrievedDocs []SearchResult      `json:"retrieved_docs"`
	StockCount    int                 `json:"market_data_points"`
	NewsCount     int                 `json:"news_articles"`
	Degraded      bool                `json:"degraded"`
	Duration      time.Duration       `json:"duration_ns"`
}

// JournalEntry is a persisted summary of an answered query.
type JournalEntry struct {
	ID           string    `json:"id"`
	Query        string    `json:"query"`
	Tickers      []string  `json:"tickers"`
	QueryFocus   string    `json:"query_focus"`
	Response     string    `json:"response"`
	StockCount   int       `json:"market_data_points"`
	NewsCount    int       `json:"news_articles"`
	RetrievedCnt int       `json:"retrieved_docs"`
	Degraded     bool      `json:"degraded"`
	DurationMS   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}
