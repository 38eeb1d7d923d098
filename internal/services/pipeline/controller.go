// Package pipeline orchestrates the retrieval-augmented query flow
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/bobmcallan/vire-assistant/internal/common"
	"github.com/bobmcallan/vire-assistant/internal/interfaces"
	"github.com/bobmcallan/vire-assistant/internal/models"
)

// Sample scenario served by SampleQuery
const SampleQueryText = "What's our risk exposure in Asia tech stocks today?"

var SampleTickers = []string{"AAPL", "TSMC", "NVDA"}

const (
	maxQueryRunes  = 2000
	maxTickers     = 50
	journalTimeout = 5 * time.Second
)

var tickerPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-^=]{0,19}$`)

// Options tunes a Controller
type Options struct {
	TopK           int
	MinScore       float64
	NewsLimit      int
	MarketTimeout  time.Duration
	EmbedTimeout   time.Duration
	DefaultTickers []string
}

// OptionsFromConfig reads pipeline options from config
func OptionsFromConfig(config *common.Config) Options {
	return Options{
		TopK:           config.Pipeline.TopK,
		MinScore:       config.Pipeline.MinScore,
		NewsLimit:      config.Pipeline.NewsLimit,
		MarketTimeout:  config.Pipeline.GetMarketTimeout(),
		EmbedTimeout:   config.Pipeline.GetEmbedTimeout(),
		DefaultTickers: config.DefaultTickers,
	}
}

func (o *Options) normalize() {
	if o.TopK < 1 {
		o.TopK = 3
	}
	if o.NewsLimit < 1 {
		o.NewsLimit = 2
	}
	if o.MarketTimeout <= 0 {
		o.MarketTimeout = 30 * time.Second
	}
	if o.EmbedTimeout <= 0 {
		o.EmbedTimeout = 30 * time.Second
	}
	if len(o.DefaultTickers) == 0 {
		o.DefaultTickers = SampleTickers
	}
}

// Controller runs CLEAR_INDEX, FETCH_MARKET_DATA, ANALYZE, INGEST_NEWS,
// RETRIEVE and COMPOSE in order. Ingest and retrieve are best-effort; every
// other stage is fatal.
type Controller struct {
	market   interfaces.MarketDataService
	store    interfaces.VectorStore
	analysis interfaces.AnalysisService
	composer interfaces.ResponseComposer
	journal  interfaces.QueryJournal // optional
	opts     Options
	logger   *common.Logger

	now   func() time.Time
	newID func() string

	lastMu sync.RWMutex
	last   *models.PortfolioAnalytics
}

// NewController creates a pipeline controller. journal may be nil.
func NewController(
	market interfaces.MarketDataService,
	store interfaces.VectorStore,
	analysis interfaces.AnalysisService,
	composer interfaces.ResponseComposer,
	journal interfaces.QueryJournal,
	opts Options,
	logger *common.Logger,
) *Controller {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	opts.normalize()
	return &Controller{
		market:   market,
		store:    store,
		analysis: analysis,
		composer: composer,
		journal:  journal,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// Query answers text for tickers. An empty ticker list uses the default
// tickers. Fatal stage failures are returned as *common.PipelineError.
func (c *Controller) Query(ctx context.Context, text string, tickers []string) (*models.QueryResult, error) {
	text, tickers, err := c.validate(text, tickers)
	if err != nil {
		return nil, err
	}

	start := c.now()
	result := &models.QueryResult{
		ID:            c.newID(),
		Query:         text,
		Tickers:       tickers,
		QueryFocus:    c.composer.Focus(text),
		RetrievedDocs: []models.SearchResult{},
	}

	log := c.logger.With().Str("query_id", result.ID).Logger()
	log.Info().Str("focus", result.QueryFocus).Strs("tickers", tickers).Msg("Query started")

	analytics, retrieved, err := c.runIndexed(ctx, text, tickers, result)
	if err != nil {
		stage, _ := common.StageOf(err)
		log.Error().Err(err).Str("stage", stage).Msg("Query failed")
		return nil, err
	}
	result.Analytics = analytics
	result.RetrievedDocs = retrieved

	// COMPOSE
	response, err := guard(common.StageCompose, func() (string, error) {
		r := c.composer.Compose(text, analytics, retrieved)
		if r == "" {
			return "", errors.New("composer produced an empty response")
		}
		return r, nil
	})
	if err != nil {
		log.Error().Err(err).Str("stage", common.StageCompose).Msg("Query failed")
		return nil, err
	}
	result.Response = response
	result.Duration = c.now().Sub(start)

	c.lastMu.Lock()
	c.last = analytics
	c.lastMu.Unlock()

	log.Info().
		Int("stocks", result.StockCount).
		Int("news", result.NewsCount).
		Int("retrieved", len(retrieved)).
		Bool("degraded", result.Degraded).
		Dur("duration", result.Duration).
		Msg("Query completed")

	c.record(ctx, result)
	return result, nil
}

// runIndexed covers CLEAR_INDEX through RETRIEVE under the store's exclusive
// window, so no other query can clear or read the index in between.
func (c *Controller) runIndexed(ctx context.Context, text string, tickers []string, result *models.QueryResult) (*models.PortfolioAnalytics, []models.SearchResult, error) {
	c.store.Lock()
	defer c.store.Unlock()

	// CLEAR_INDEX
	if _, err := guard(common.StageClearIndex, func() (struct{}, error) {
		c.store.Clear()
		return struct{}{}, nil
	}); err != nil {
		return nil, nil, err
	}

	// FETCH_MARKET_DATA
	snapshot, err := c.fetchMarketData(ctx, tickers)
	if err != nil {
		return nil, nil, err
	}
	result.StockCount = len(snapshot.Stocks)
	result.NewsCount = len(snapshot.News)

	// ANALYZE
	analytics, err := guard(common.StageAnalyze, func() (*models.PortfolioAnalytics, error) {
		a := c.analysis.Analyze(snapshot.Stocks, snapshot.News)
		if a == nil {
			return nil, errors.New("analysis produced no result")
		}
		return a, nil
	})
	if err != nil {
		return nil, nil, err
	}

	// INGEST_NEWS (best-effort)
	docs := make([]models.Document, len(snapshot.News))
	for i, n := range snapshot.News {
		docs[i] = models.DocumentFromNews(n)
	}
	if err := c.bestEffort(ctx, common.StageIngestNews, func(ctx context.Context) error {
		return c.store.Ingest(ctx, docs)
	}); err != nil {
		result.Degraded = true
	}

	// RETRIEVE (best-effort)
	retrieved := []models.SearchResult{}
	if err := c.bestEffort(ctx, common.StageRetrieve, func(ctx context.Context) error {
		found, err := c.store.Search(ctx, text, models.SearchOptions{TopK: c.opts.TopK, MinScore: c.opts.MinScore})
		if err != nil {
			return err
		}
		retrieved = found
		return nil
	}); err != nil {
		result.Degraded = true
		retrieved = []models.SearchResult{}
	}

	return analytics, retrieved, nil
}

func (c *Controller) fetchMarketData(ctx context.Context, tickers []string) (*models.MarketSnapshot, error) {
	if c.market == nil {
		return nil, common.NewPipelineError(common.StageFetchMarketData,
			fmt.Errorf("market data unavailable: %w", common.ErrCollaboratorUnavailable))
	}

	mctx, cancel := context.WithTimeout(ctx, c.opts.MarketTimeout)
	defer cancel()

	snapshot, err := guard(common.StageFetchMarketData, func() (*models.MarketSnapshot, error) {
		return c.market.FetchMarketData(mctx, tickers, c.opts.NewsLimit)
	})
	if err != nil {
		var pe *common.PipelineError
		if errors.As(err, &pe) {
			pe.Err = fmt.Errorf("market data unavailable: %w", pe.Err)
		}
		return nil, err
	}
	if snapshot == nil {
		return nil, common.NewPipelineError(common.StageFetchMarketData, errors.New("market data unavailable"))
	}
	return snapshot, nil
}

// bestEffort runs fn with the embedding timeout, logging instead of failing
func (c *Controller) bestEffort(ctx context.Context, stage string, fn func(ctx context.Context) error) (err error) {
	sctx, cancel := context.WithTimeout(ctx, c.opts.EmbedTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			c.logger.Warn().Err(err).Str("stage", stage).Msg("Best-effort stage failed - continuing without it")
		}
	}()

	return fn(sctx)
}

// guard runs a fatal stage, converting errors and panics to a PipelineError
func guard[T any](stage string, fn func() (T, error)) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = common.NewPipelineError(stage, fmt.Errorf("panic: %v", r))
		}
	}()

	out, err = fn()
	if err != nil {
		return out, common.NewPipelineError(stage, err)
	}
	return out, nil
}

// validate trims the query and normalises the ticker list
func (c *Controller) validate(text string, tickers []string) (string, []string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil, fmt.Errorf("%w: query is empty", common.ErrInvalidInput)
	}
	if utf8.RuneCountInString(text) > maxQueryRunes {
		return "", nil, fmt.Errorf("%w: query exceeds %d characters", common.ErrInvalidInput, maxQueryRunes)
	}

	if len(tickers) == 0 {
		return text, append([]string(nil), c.opts.DefaultTickers...), nil
	}

	seen := make(map[string]bool, len(tickers))
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		if !tickerPattern.MatchString(t) {
			return "", nil, fmt.Errorf("%w: malformed ticker %q", common.ErrInvalidInput, t)
		}
		seen[t] = true
		out = append(out, t)
	}

	if len(out) == 0 {
		return "", nil, fmt.Errorf("%w: no tickers given", common.ErrInvalidInput)
	}
	if len(out) > maxTickers {
		return "", nil, fmt.Errorf("%w: at most %d tickers allowed", common.ErrInvalidInput, maxTickers)
	}
	return text, out, nil
}

// record writes the journal entry; failures never affect the answer
func (c *Controller) record(ctx context.Context, result *models.QueryResult) {
	if c.journal == nil {
		return
	}

	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()

	entry := &models.JournalEntry{
		ID:           result.ID,
		Query:        result.Query,
		Tickers:      result.Tickers,
		QueryFocus:   result.QueryFocus,
		Response:     result.Response,
		StockCount:   result.StockCount,
		NewsCount:    result.NewsCount,
		RetrievedCnt: len(result.RetrievedDocs),
		Degraded:     result.Degraded,
		DurationMS:   result.Duration.Milliseconds(),
		CreatedAt:    c.now(),
	}
	if err := c.journal.Record(jctx, entry); err != nil {
		c.logger.Warn().Err(err).Str("query_id", result.ID).Msg("Failed to record query in journal")
	}
}

// SampleQuery runs the built-in smoke-test scenario
func (c *Controller) SampleQuery(ctx context.Context) (*models.QueryResult, error) {
	return c.Query(ctx, SampleQueryText, SampleTickers)
}

// IndexStatus reports the vector index size
func (c *Controller) IndexStatus() models.IndexStatus {
	size := c.store.Size()
	return models.IndexStatus{TotalDocuments: size, IndexReady: size > 0}
}

// LastAnalytics returns the analytics of the most recent successful query
func (c *Controller) LastAnalytics() *models.PortfolioAnalytics {
	c.lastMu.RLock()
	defer c.lastMu.RUnlock()
	return c.last
}

var _ interfaces.PipelineService = (*Controller)(nil)
