// Package models defines data structures for the Vire assistant
package models

import (
	"time"
)

// RealTimeQuote holds a live OHLCV snapshot from a real-time price source
type RealTimeQuote struct {
	Code          string    `json:"code"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Close         float64   `json:"close"`          // current/last price
	PreviousClose float64   `json:"previous_close"` // previous day's close
	Change        float64   `json:"change"`
	ChangePct     float64   `json:"change_p"`
	Volume        int64     `json:"volume"`
	Timestamp     time.Time `json:"timestamp"`
}

// Fundamentals contains the company descriptors used to label a holding
type Fundamentals struct {
	Ticker      string    `json:"ticker"`
	Name        string    `json:"name"`
	Sector      string    `json:"sector"`
	Industry    string    `json:"industry"`
	Currency    string    `json:"currency"`
	LastUpdated time.Time `json:"last_updated"`
}

// Article is a raw news article as returned by the market data provider
type Article struct {
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
}

// StockSnapshot is the per-ticker market data consumed by analysis.
// A nil Price marks a failed quote fetch; such stocks are excluded from
// valuation aggregates.
type StockSnapshot struct {
	Ticker   string   `json:"ticker"`
	Price    *float64 `json:"price"`
	Currency string   `json:"currency"`
	Name     string   `json:"name"`
	Sector   string   `json:"sector"`
}

// HasPrice reports whether the snapshot carries a numeric price.
func (s StockSnapshot) HasPrice() bool {
	return s.Price != nil
}

// NewsItem is a relevance-filtered headline for a ticker
type NewsItem struct {
	Ticker  string `json:"ticker"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// MarketSnapshot is the joined result of one market data fetch
type MarketSnapshot struct {
	Stocks    []StockSnapshot `json:"stocks"`
	News      []NewsItem      `json:"news"`
	FetchedAt time.Time       `json:"fetched_at"`
}
