package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/vire-assistant/internal/common"
	"github.com/bobmcallan/vire-assistant/internal/models"
)

// --- Mocks ---

type mockEODHDClient struct {
	mu           sync.Mutex
	quotes       map[string]float64
	fundamentals map[string]*models.Fundamentals
	news         map[string][]*models.Article
	quoteErr     map[string]error
	fundErr      map[string]error
	newsErr      error
	delay        time.Duration
	newsLimits   []int

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newMockClient() *mockEODHDClient {
	return &mockEODHDClient{
		quotes:       map[string]float64{},
		fundamentals: map[string]*models.Fundamentals{},
		news:         map[string][]*models.Article{},
		quoteErr:     map[string]error{},
		fundErr:      map[string]error{},
	}
}

func (m *mockEODHDClient) track() func() {
	n := m.inFlight.Add(1)
	for {
		cur := m.maxInFlight.Load()
		if n <= cur || m.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	return func() { m.inFlight.Add(-1) }
}

func (m *mockEODHDClient) GetRealTimeQuote(_ context.Context, ticker string) (*models.RealTimeQuote, error) {
	defer m.track()()
	if err := m.quoteErr[ticker]; err != nil {
		return nil, err
	}
	return &models.RealTimeQuote{Code: ticker, Close: m.quotes[ticker]}, nil
}

func (m *mockEODHDClient) GetFundamentals(_ context.Context, ticker string) (*models.Fundamentals, error) {
	if err := m.fundErr[ticker]; err != nil {
		return nil, err
	}
	if f, ok := m.fundamentals[ticker]; ok {
		return f, nil
	}
	return &models.Fundamentals{Ticker: ticker}, nil
}

func (m *mockEODHDClient) GetNews(_ context.Context, ticker string, limit int) ([]*models.Article, error) {
	m.mu.Lock()
	m.newsLimits = append(m.newsLimits, limit)
	m.mu.Unlock()
	if m.newsErr != nil {
		return nil, m.newsErr
	}
	return m.news[ticker], nil
}

func articles(titles ...string) []*models.Article {
	out := make([]*models.Article, len(titles))
	for i, t := range titles {
		out[i] = &models.Article{Title: t, Content: "body of " + t}
	}
	return out
}

// --- Tests ---

func TestFetchMarketData_PreservesInputOrder(t *testing.T) {
	client := newMockClient()
	tickers := []string{"AAPL", "TSMC", "NVDA", "MSFT", "AMZN", "GOOG", "META"}
	for i, tk := range tickers {
		client.quotes[tk] = float64(100 + i)
		client.fundamentals[tk] = &models.Fundamentals{Name: tk + " Inc", Sector: "Technology", Currency: "USD"}
	}
	client.delay = 10 * time.Millisecond

	svc := NewService(client, common.NewSilentLogger())
	snap, err := svc.FetchMarketData(context.Background(), tickers, 2)
	require.NoError(t, err)

	require.Len(t, snap.Stocks, len(tickers))
	for i, tk := range tickers {
		assert.Equal(t, tk, snap.Stocks[i].Ticker)
		require.NotNil(t, snap.Stocks[i].Price)
		assert.Equal(t, float64(100+i), *snap.Stocks[i].Price)
		assert.Equal(t, tk+" Inc", snap.Stocks[i].Name)
	}
	assert.LessOrEqual(t, client.maxInFlight.Load(), int32(maxConcurrent))
	assert.False(t, snap.FetchedAt.IsZero())
}

func TestFetchMarketData_FailedQuoteYieldsNilPrice(t *testing.T) {
	client := newMockClient()
	client.quotes["AAPL"] = 190
	client.quoteErr["TSMC"] = errors.New("timeout")
	client.quotes["NVDA"] = 0 // closed market placeholder

	snap, err := NewService(client, nil).FetchMarketData(context.Background(), []string{"AAPL", "TSMC", "NVDA"}, 2)
	require.NoError(t, err)

	assert.NotNil(t, snap.Stocks[0].Price)
	assert.Nil(t, snap.Stocks[1].Price)
	assert.Nil(t, snap.Stocks[2].Price)
}

func TestFetchMarketData_AllTickersFail(t *testing.T) {
	client := newMockClient()
	for _, tk := range []string{"AAPL", "NVDA"} {
		client.quoteErr[tk] = errors.New("connection refused")
		client.fundErr[tk] = errors.New("connection refused")
	}

	_, err := NewService(client, nil).FetchMarketData(context.Background(), []string{"AAPL", "NVDA"}, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrCollaboratorUnavailable)
}

func TestFetchMarketData_NilClient(t *testing.T) {
	_, err := NewService(nil, nil).FetchMarketData(context.Background(), []string{"AAPL"}, 2)
	assert.ErrorIs(t, err, common.ErrCollaboratorUnavailable)
}

func TestFetchMarketData_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewService(newMockClient(), nil).FetchMarketData(ctx, []string{"AAPL"}, 2)
	assert.ErrorIs(t, err, common.ErrCollaboratorUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetchMarketData_NewsFailureIsNotFatal(t *testing.T) {
	client := newMockClient()
	client.quotes["AAPL"] = 190
	client.newsErr = errors.New("news down")

	snap, err := NewService(client, nil).FetchMarketData(context.Background(), []string{"AAPL"}, 2)
	require.NoError(t, err)
	assert.Empty(t, snap.News)
	assert.NotNil(t, snap.News)
}

func TestFetchMarketData_RequestsDoubleNewsLimit(t *testing.T) {
	client := newMockClient()
	client.quotes["AAPL"] = 190

	_, err := NewService(client, nil).FetchMarketData(context.Background(), []string{"AAPL"}, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{6}, client.newsLimits)
}

func TestFetchMarketData_NewsGroupedByTicker(t *testing.T) {
	client := newMockClient()
	client.quotes["AAPL"] = 190
	client.quotes["NVDA"] = 900
	client.fundamentals["AAPL"] = &models.Fundamentals{Name: "Apple Inc"}
	client.fundamentals["NVDA"] = &models.Fundamentals{Name: "NVIDIA Corporation"}
	client.news["AAPL"] = articles("Apple sets record", "Markets wrap", "Apple supplier news")
	client.news["NVDA"] = articles("Nvidia unveils chip")

	snap, err := NewService(client, nil).FetchMarketData(context.Background(), []string{"AAPL", "NVDA"}, 2)
	require.NoError(t, err)

	require.Len(t, snap.News, 3)
	assert.Equal(t, "Apple sets record", snap.News[0].Title)
	assert.Equal(t, "Apple supplier news", snap.News[1].Title)
	assert.Equal(t, "NVDA", snap.News[2].Ticker)
	assert.Equal(t, "body of Nvidia unveils chip", snap.News[2].Summary)
}

func TestFilterRelevant(t *testing.T) {
	tests := []struct {
		name    string
		company string
		items   []*models.Article
		limit   int
		want    []string
	}{
		{
			name:    "company first word",
			company: "Taiwan Semiconductor Manufacturing",
			items:   articles("Chip stocks slide", "Taiwan exports jump", "Macro update"),
			limit:   2,
			want:    []string{"Taiwan exports jump"},
		},
		{
			name:  "ticker match is case insensitive",
			items: articles("Why tsmc matters", "Other"),
			limit: 2,
			want:  []string{"Why tsmc matters"},
		},
		{
			name:  "fallback to first items",
			items: articles("One", "Two", "Three"),
			limit: 2,
			want:  []string{"One", "Two"},
		},
		{
			name:  "only first 2*limit scanned",
			items: articles("a", "b", "c", "d", "TSMC late mention"),
			limit: 2,
			want:  []string{"a", "b"},
		},
		{
			name:  "capped at limit",
			items: articles("TSMC 1", "TSMC 2", "TSMC 3"),
			limit: 2,
			want:  []string{"TSMC 1", "TSMC 2"},
		},
		{
			name:  "empty",
			limit: 2,
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterRelevant("TSMC", tt.company, tt.items, tt.limit)
			var titles []string
			for _, n := range got {
				titles = append(titles, n.Title)
				assert.Equal(t, "TSMC", n.Ticker)
			}
			assert.Equal(t, tt.want, titles)
		})
	}
}

func TestSummarise_BoundsLength(t *testing.T) {
	long := ""
	for i := 0; i < 200; i++ {
		long += fmt.Sprintf("w%d\n", i)
	}
	s := summarise(long)
	assert.LessOrEqual(t, len([]rune(s)), maxSummaryRunes)
	assert.NotContains(t, s, "\n")
}
