// Package interfaces defines service contracts for the Vire assistant
package interfaces

import (
	"context"

	"github.com/bobmcallan/vire-assistant/internal/models"
)

// EODHDClient provides access to the EODHD API
type EODHDClient interface {
	// GetRealTimeQuote retrieves the latest quote for a ticker
	GetRealTimeQuote(ctx context.Context, ticker string) (*models.RealTimeQuote, error)

	// GetFundamentals retrieves company name, sector and currency
	GetFundamentals(ctx context.Context, ticker string) (*models.Fundamentals, error)

	// GetNews retrieves up to limit raw news articles for a ticker
	GetNews(ctx context.Context, ticker string, limit int) ([]*models.Article, error)
}

// Embedder converts text to fixed-length vectors. Embed returns one vector
// per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}
