// Package interfaces defines service contracts for the Vire assistant
package interfaces

import (
	"context"

	"github.com/bobmcallan/vire-assistant/internal/models"
)

// MarketDataService assembles a snapshot of prices and news for a ticker list
type MarketDataService interface {
	// FetchMarketData returns one stock snapshot per ticker (input order)
	// and at most newsLimit relevant news items per ticker.
	FetchMarketData(ctx context.Context, tickers []string, newsLimit int) (*models.MarketSnapshot, error)
}

// VectorStore is a title-deduplicated in-memory similarity index
type VectorStore interface {
	Clear()
	Ingest(ctx context.Context, docs []models.Document) error
	Search(ctx context.Context, query string, opts models.SearchOptions) ([]models.SearchResult, error)
	Size() int
	Ready() bool
	Documents() []models.Document

	// Lock and Unlock bracket a clear/ingest/search sequence that must not
	// interleave with another caller's.
	Lock()
	Unlock()
}

// AnalysisService derives portfolio analytics from a market snapshot
type AnalysisService interface {
	Analyze(stocks []models.StockSnapshot, news []models.NewsItem) *models.PortfolioAnalytics
}

// ResponseComposer renders the natural-language answer
type ResponseComposer interface {
	Focus(query string) string
	Compose(query string, analytics *models.PortfolioAnalytics, retrieved []models.SearchResult) string
}

// PipelineService answers portfolio questions end to end
type PipelineService interface {
	Query(ctx context.Context, text string, tickers []string) (*models.QueryResult, error)
	SampleQuery(ctx context.Context) (*models.QueryResult, error)
	IndexStatus() models.IndexStatus
	LastAnalytics() *models.PortfolioAnalytics
}

// ChartRenderer renders allocation charts
type ChartRenderer interface {
	RenderAllocation(analytics *models.PortfolioAnalytics) ([]byte, error)

	// AllocationChart fetches fresh prices for tickers and renders their
	// sector allocation.
	AllocationChart(ctx context.Context, tickers []string) ([]byte, error)
}
