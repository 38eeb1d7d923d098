package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/vire-assistant/internal/common"
	"github.com/bobmcallan/vire-assistant/internal/embeddings"
	"github.com/bobmcallan/vire-assistant/internal/models"
	"github.com/bobmcallan/vire-assistant/internal/services/analysis"
	"github.com/bobmcallan/vire-assistant/internal/services/language"
	"github.com/bobmcallan/vire-assistant/internal/services/retrieval"
	"github.com/bobmcallan/vire-assistant/internal/storage/journal"
)

// --- mocks ---

type mockMarket struct {
	mu        sync.Mutex
	calls     int
	tickers   []string
	newsLimit int
	snapshot  func(tickers []string) *models.MarketSnapshot
	err       error
	block     bool
}

func (m *mockMarket) FetchMarketData(ctx context.Context, tickers []string, newsLimit int) (*models.MarketSnapshot, error) {
	m.mu.Lock()
	m.calls++
	m.tickers = tickers
	m.newsLimit = newsLimit
	m.mu.Unlock()

	if m.block {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %w", common.ErrCollaboratorUnavailable, ctx.Err())
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.snapshot(tickers), nil
}

func (m *mockMarket) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("quota exceeded")
}
func (failingEmbedder) Dimensions() int { return 8 }
func (failingEmbedder) Name() string    { return "failing" }

type stubAnalysis struct {
	result *models.PortfolioAnalytics
	panics bool
}

func (s stubAnalysis) Analyze([]models.StockSnapshot, []models.NewsItem) *models.PortfolioAnalytics {
	if s.panics {
		panic("bad input")
	}
	return s.result
}

type emptyComposer struct{}

func (emptyComposer) Focus(string) string { return models.FocusOverview }
func (emptyComposer) Compose(string, *models.PortfolioAnalytics, []models.SearchResult) string {
	return ""
}

type failingJournal struct{}

func (failingJournal) Record(context.Context, *models.JournalEntry) error { return errors.New("disk full") }
func (failingJournal) Recent(context.Context, int) ([]*models.JournalEntry, error) {
	return nil, nil
}
func (failingJournal) Close() error { return nil }

// --- helpers ---

func price(v float64) *float64 { return &v }

func sampleSnapshot(tickers []string) *models.MarketSnapshot {
	return &models.MarketSnapshot{
		Stocks: []models.StockSnapshot{
			{Ticker: "AAPL", Price: price(189.0), Currency: "USD", Name: "Apple Inc", Sector: "Technology"},
			{Ticker: "NVDA", Price: price(450.0), Currency: "USD", Name: "NVIDIA Corp", Sector: "Technology"},
		},
		News: []models.NewsItem{
			{Ticker: "AAPL", Title: "Apple iPhone earnings beat estimates", Summary: "Apple reported strong quarterly revenue growth"},
			{Ticker: "NVDA", Title: "Nvidia data center demand", Summary: "Chip shipments to cloud providers keep climbing"},
		},
		FetchedAt: time.Now(),
	}
}

func testOptions() Options {
	return Options{
		TopK:           3,
		MinScore:       0.3,
		NewsLimit:      2,
		MarketTimeout:  time.Second,
		EmbedTimeout:   time.Second,
		DefaultTickers: []string{"AAPL", "TSMC", "NVDA"},
	}
}

type fixture struct {
	controller *Controller
	market     *mockMarket
	store      *retrieval.Store
}

func newFixture(t *testing.T, opts ...func(*fixture)) *fixture {
	t.Helper()
	logger := common.NewSilentLogger()

	store, err := retrieval.NewStore(embeddings.NewLocalEmbedder(256), logger)
	require.NoError(t, err)

	f := &fixture{
		market: &mockMarket{snapshot: sampleSnapshot},
		store:  store,
	}
	f.controller = NewController(f.market, store, analysis.NewService(logger), language.NewComposer(logger), nil, testOptions(), logger)
	for _, o := range opts {
		o(f)
	}
	return f
}

// --- tests ---

func TestQuery_EndToEnd(t *testing.T) {
	f := newFixture(t)

	result, err := f.controller.Query(context.Background(), "Apple iPhone earnings beat estimates?", []string{"AAPL", "NVDA"})
	require.NoError(t, err)

	assert.NotEmpty(t, result.ID)
	assert.Equal(t, 2, result.StockCount)
	assert.Equal(t, 2, result.NewsCount)
	assert.Equal(t, models.FocusEarnings, result.QueryFocus)
	assert.False(t, result.Degraded)
	require.NotEmpty(t, result.RetrievedDocs)
	assert.Equal(t, "AAPL", result.RetrievedDocs[0].Ticker)
	assert.Contains(t, result.Response, "\n\n**Latest News Updates:**\n")
	assert.Contains(t, result.Response, "**AAPL**: Apple iPhone earnings beat estimates")

	require.NotNil(t, result.Analytics)
	assert.Equal(t, 2, result.Analytics.TotalHoldings)
	assert.Same(t, result.Analytics, f.controller.LastAnalytics())

	status := f.controller.IndexStatus()
	assert.Equal(t, 2, status.TotalDocuments)
	assert.True(t, status.IndexReady)
}

func TestQuery_ScoresWithinRangeAndOrdered(t *testing.T) {
	f := newFixture(t)

	result, err := f.controller.Query(context.Background(), "Nvidia data center chip demand", nil)
	require.NoError(t, err)

	for i, doc := range result.RetrievedDocs {
		assert.GreaterOrEqual(t, doc.Score, 0.3)
		assert.LessOrEqual(t, doc.Score, 1.0)
		if i > 0 {
			assert.GreaterOrEqual(t, result.RetrievedDocs[i-1].Score, doc.Score)
		}
	}
	assert.LessOrEqual(t, len(result.RetrievedDocs), 3)
}

func TestQuery_MarketFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.market.err = fmt.Errorf("%w: connection refused", common.ErrCollaboratorUnavailable)

	result, err := f.controller.Query(context.Background(), "How is my portfolio?", nil)
	require.Error(t, err)
	assert.Nil(t, result)

	assert.ErrorIs(t, err, common.ErrPipelineFatal)
	assert.ErrorIs(t, err, common.ErrCollaboratorUnavailable)
	assert.Contains(t, err.Error(), "market data unavailable")

	stage, ok := common.StageOf(err)
	require.True(t, ok)
	assert.Equal(t, common.StageFetchMarketData, stage)
	assert.Nil(t, f.controller.LastAnalytics())
}

func TestQuery_MarketTimeout(t *testing.T) {
	f := newFixture(t)
	f.market.block = true
	f.controller.opts.MarketTimeout = 20 * time.Millisecond

	_, err := f.controller.Query(context.Background(), "How is my portfolio?", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	stage, _ := common.StageOf(err)
	assert.Equal(t, common.StageFetchMarketData, stage)
}

func TestQuery_NilMarketServiceIsFatal(t *testing.T) {
	f := newFixture(t)
	f.controller.market = nil

	_, err := f.controller.Query(context.Background(), "How is my portfolio?", nil)
	assert.ErrorIs(t, err, common.ErrCollaboratorUnavailable)
	stage, _ := common.StageOf(err)
	assert.Equal(t, common.StageFetchMarketData, stage)
}

func TestQuery_EmbedderFailureDegrades(t *testing.T) {
	logger := common.NewSilentLogger()
	store, err := retrieval.NewStore(failingEmbedder{}, logger)
	require.NoError(t, err)

	market := &mockMarket{snapshot: sampleSnapshot}
	c := NewController(market, store, analysis.NewService(logger), language.NewComposer(logger), nil, testOptions(), logger)

	result, err := c.Query(context.Background(), "Apple iPhone earnings beat estimates?", nil)
	require.NoError(t, err)

	assert.True(t, result.Degraded)
	assert.Empty(t, result.RetrievedDocs)
	assert.NotNil(t, result.RetrievedDocs)
	assert.NotContains(t, result.Response, "**Latest News Updates:**")
	assert.NotEmpty(t, result.Response)
	assert.Equal(t, 0, c.IndexStatus().TotalDocuments)
}

func TestQuery_ClearsIndexBetweenQueries(t *testing.T) {
	f := newFixture(t)

	_, err := f.controller.Query(context.Background(), "Apple earnings", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, f.store.Size())

	f.market.snapshot = func([]string) *models.MarketSnapshot {
		s := sampleSnapshot(nil)
		s.News = []models.NewsItem{{Ticker: "TSMC", Title: "TSMC expands Arizona fab", Summary: "Second plant moves production schedule forward"}}
		return s
	}

	result, err := f.controller.Query(context.Background(), "TSMC fab news", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.NewsCount)

	docs := f.store.Documents()
	require.Len(t, docs, 1)
	assert.Equal(t, "TSMC expands Arizona fab", docs[0].Title)
	for _, d := range result.RetrievedDocs {
		assert.Equal(t, "TSMC", d.Ticker)
	}
}

func TestQuery_ConcurrentQueries(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.controller.Query(context.Background(), "Apple iPhone earnings beat estimates?", nil)
			if err != nil {
				errs <- err
				return
			}
			if len(result.RetrievedDocs) == 0 {
				errs <- errors.New("no documents retrieved")
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, 8, f.market.callCount())
	assert.Equal(t, 2, f.store.Size())
}

func TestQuery_InvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		tickers []string
	}{
		{"empty query", "", nil},
		{"whitespace query", "   \n\t", nil},
		{"only blank tickers", "How is my portfolio?", []string{" ", ""}},
		{"malformed ticker", "How is my portfolio?", []string{"AA PL"}},
		{"punctuation ticker", "How is my portfolio?", []string{"AAPL;DROP"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.controller.Query(context.Background(), tt.query, tt.tickers)
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrInvalidInput)
			assert.NotErrorIs(t, err, common.ErrPipelineFatal)
			assert.Equal(t, 0, f.market.callCount())
		})
	}
}

func TestQuery_TooManyTickers(t *testing.T) {
	f := newFixture(t)
	tickers := make([]string, maxTickers+1)
	for i := range tickers {
		tickers[i] = fmt.Sprintf("T%d", i)
	}

	_, err := f.controller.Query(context.Background(), "How is my portfolio?", tickers)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestQuery_NormalisesTickers(t *testing.T) {
	f := newFixture(t)

	result, err := f.controller.Query(context.Background(), "  How is my portfolio?  ", []string{" aapl", "AAPL", "nvda", ""})
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL", "NVDA"}, f.market.tickers)
	assert.Equal(t, []string{"AAPL", "NVDA"}, result.Tickers)
	assert.Equal(t, "How is my portfolio?", result.Query)
	assert.Equal(t, 2, f.market.newsLimit)
}

func TestQuery_DefaultTickers(t *testing.T) {
	f := newFixture(t)

	_, err := f.controller.Query(context.Background(), "How is my portfolio?", []string{})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "TSMC", "NVDA"}, f.market.tickers)
}

func TestQuery_AnalyzeFailuresAreFatal(t *testing.T) {
	tests := []struct {
		name     string
		analysis stubAnalysis
	}{
		{"nil result", stubAnalysis{}},
		{"panic", stubAnalysis{panics: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.controller.analysis = tt.analysis

			_, err := f.controller.Query(context.Background(), "How is my portfolio?", nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrPipelineFatal)
			stage, _ := common.StageOf(err)
			assert.Equal(t, common.StageAnalyze, stage)
		})
	}
}

func TestQuery_EmptyResponseIsFatal(t *testing.T) {
	f := newFixture(t)
	f.controller.composer = emptyComposer{}

	_, err := f.controller.Query(context.Background(), "How is my portfolio?", nil)
	require.Error(t, err)
	stage, _ := common.StageOf(err)
	assert.Equal(t, common.StageCompose, stage)
}

func TestQuery_RecordsJournal(t *testing.T) {
	f := newFixture(t)
	j, err := journal.OpenMemory(common.NewSilentLogger())
	require.NoError(t, err)
	defer j.Close()
	f.controller.journal = j

	result, err := f.controller.Query(context.Background(), "Apple iPhone earnings beat estimates?", nil)
	require.NoError(t, err)

	entries, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, result.ID, entries[0].ID)
	assert.Equal(t, result.Response, entries[0].Response)
	assert.Equal(t, len(result.RetrievedDocs), entries[0].RetrievedCnt)
	assert.Equal(t, []string{"AAPL", "TSMC", "NVDA"}, entries[0].Tickers)
}

func TestQuery_JournalFailureIgnored(t *testing.T) {
	f := newFixture(t)
	f.controller.journal = failingJournal{}

	result, err := f.controller.Query(context.Background(), "How is my portfolio?", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Response)
}

func TestSampleQuery(t *testing.T) {
	f := newFixture(t)

	result, err := f.controller.SampleQuery(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SampleQueryText, result.Query)
	assert.Equal(t, SampleTickers, f.market.tickers)
	assert.Equal(t, models.FocusRisk, result.QueryFocus)
}

func TestIndexStatus_Empty(t *testing.T) {
	f := newFixture(t)
	status := f.controller.IndexStatus()
	assert.Equal(t, 0, status.TotalDocuments)
	assert.False(t, status.IndexReady)
}

func TestOptionsFromConfig(t *testing.T) {
	config := common.NewDefaultConfig()
	opts := OptionsFromConfig(config)
	assert.Equal(t, 3, opts.TopK)
	assert.Equal(t, 0.3, opts.MinScore)
	assert.Equal(t, 2, opts.NewsLimit)
	assert.Equal(t, 30*time.Second, opts.MarketTimeout)
	assert.Equal(t, []string{"AAPL", "TSMC", "NVDA"}, opts.DefaultTickers)
}
