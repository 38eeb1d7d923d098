// Package market assembles per-query market data snapshots
package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bobmcallan/vire-assistant/internal/common"
	"github.com/bobmcallan/vire-assistant/internal/interfaces"
	"github.com/bobmcallan/vire-assistant/internal/models"
)

const (
	maxConcurrent    = 5
	DefaultNewsLimit = 2
	maxSummaryRunes  = 500
)

// Service implements MarketDataService on top of the EODHD client
type Service struct {
	eodhd  interfaces.EODHDClient
	logger *common.Logger
	now    func() time.Time
}

// NewService creates a new market data service
func NewService(eodhd interfaces.EODHDClient, logger *common.Logger) *Service {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Service{
		eodhd:  eodhd,
		logger: logger,
		now:    time.Now,
	}
}

// tickerData is the result of fetching one ticker
type tickerData struct {
	stock    models.StockSnapshot
	news     []models.NewsItem
	quoteErr error
	fundErr  error
}

// FetchMarketData fetches quote, fundamentals and news for every ticker
// concurrently. Stocks come back in input order. A ticker whose quote fails
// is returned with a nil price; the call fails only when no ticker yields
// either a quote or fundamentals.
func (s *Service) FetchMarketData(ctx context.Context, tickers []string, newsLimit int) (*models.MarketSnapshot, error) {
	if s.eodhd == nil {
		return nil, fmt.Errorf("%w: no market data client configured", common.ErrCollaboratorUnavailable)
	}
	if len(tickers) == 0 {
		return nil, fmt.Errorf("%w: no tickers", common.ErrInvalidInput)
	}
	if newsLimit < 1 {
		newsLimit = DefaultNewsLimit
	}

	results := make([]tickerData, len(tickers))
	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

	for i, ticker := range tickers {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(i int, ticker string) {
			defer wg.Done()
			defer func() { <-sem }()

			data := s.fetchTicker(ctx, ticker, newsLimit)
			results[i] = data

			if data.quoteErr != nil && data.fundErr != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", ticker, errors.Join(data.quoteErr, data.fundErr)))
				mu.Unlock()
			}
		}(i, ticker)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: market data fetch aborted: %w", common.ErrCollaboratorUnavailable, err)
	}

	if len(errs) == len(tickers) {
		return nil, fmt.Errorf("%w: all tickers failed: %w", common.ErrCollaboratorUnavailable, errors.Join(errs...))
	}
	if len(errs) > 0 {
		s.logger.Warn().Int("errors", len(errs)).Err(errors.Join(errs...)).Msg("FetchMarketData completed with errors")
	}

	snapshot := &models.MarketSnapshot{
		Stocks:    make([]models.StockSnapshot, len(results)),
		News:      []models.NewsItem{},
		FetchedAt: s.now(),
	}
	for i, r := range results {
		snapshot.Stocks[i] = r.stock
		snapshot.News = append(snapshot.News, r.news...)
	}

	s.logger.Debug().
		Int("tickers", len(tickers)).
		Int("news", len(snapshot.News)).
		Msg("Market data fetched")

	return snapshot, nil
}

// fetchTicker runs the three per-ticker requests in sequence
func (s *Service) fetchTicker(ctx context.Context, ticker string, newsLimit int) tickerData {
	data := tickerData{stock: models.StockSnapshot{Ticker: ticker}}

	quote, err := s.eodhd.GetRealTimeQuote(ctx, ticker)
	switch {
	case err != nil:
		data.quoteErr = err
		s.logger.Warn().Str("ticker", ticker).Err(err).Msg("Quote fetch failed")
	case quote == nil || quote.Close <= 0:
		data.quoteErr = fmt.Errorf("no price in quote")
		s.logger.Warn().Str("ticker", ticker).Msg("Quote carried no price")
	default:
		price := quote.Close
		data.stock.Price = &price
	}

	var companyName string
	fund, err := s.eodhd.GetFundamentals(ctx, ticker)
	if err != nil {
		data.fundErr = err
		s.logger.Warn().Str("ticker", ticker).Err(err).Msg("Fundamentals fetch failed")
	} else if fund != nil {
		data.stock.Name = fund.Name
		data.stock.Sector = fund.Sector
		data.stock.Currency = fund.Currency
		companyName = fund.Name
	}

	articles, err := s.eodhd.GetNews(ctx, ticker, newsLimit*2)
	if err != nil {
		s.logger.Warn().Str("ticker", ticker).Err(err).Msg("News fetch failed")
		return data
	}
	data.news = FilterRelevant(ticker, companyName, articles, newsLimit)

	return data
}

// FilterRelevant keeps articles whose title mentions the company (first word
// of its name) or the ticker, scanning the first 2*limit articles. When none
// match, the first limit articles are used instead.
func FilterRelevant(ticker, companyName string, articles []*models.Article, limit int) []models.NewsItem {
	if limit < 1 {
		limit = DefaultNewsLimit
	}

	company := ""
	if fields := strings.Fields(companyName); len(fields) > 0 {
		company = strings.ToLower(fields[0])
	}
	tickerLower := strings.ToLower(ticker)

	scan := articles
	if len(scan) > limit*2 {
		scan = scan[:limit*2]
	}

	var items []models.NewsItem
	for _, a := range scan {
		if a == nil {
			continue
		}
		title := strings.ToLower(a.Title)
		if (company != "" && strings.Contains(title, company)) || (tickerLower != "" && strings.Contains(title, tickerLower)) {
			items = append(items, newsItem(ticker, a))
		}
	}

	if len(items) == 0 {
		for _, a := range articles {
			if len(items) == limit {
				break
			}
			if a != nil {
				items = append(items, newsItem(ticker, a))
			}
		}
	}

	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

func newsItem(ticker string, a *models.Article) models.NewsItem {
	return models.NewsItem{
		Ticker:  ticker,
		Title:   strings.TrimSpace(a.Title),
		Summary: summarise(a.Content),
	}
}

// summarise collapses whitespace and bounds the article body
func summarise(content string) string {
	s := strings.Join(strings.Fields(content), " ")
	r := []rune(s)
	if len(r) > maxSummaryRunes {
		return string(r[:maxSummaryRunes])
	}
	return s
}

var _ interfaces.MarketDataService = (*Service)(nil)
