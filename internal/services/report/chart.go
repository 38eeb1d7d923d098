// Package report renders portfolio charts
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/bobmcallan/vire-assistant/internal/common"
	"github.com/bobmcallan/vire-assistant/internal/interfaces"
	"github.com/bobmcallan/vire-assistant/internal/models"
	"github.com/bobmcallan/vire-assistant/internal/services/analysis"
)

// ErrNoAllocation is returned when there is nothing to chart
var ErrNoAllocation = errors.New("no sector allocation to chart")

// sector slice colours, cycled
var palette = []string{
	"2563eb", // blue-600
	"16a34a", // green-600
	"dc2626", // red-600
	"d97706", // amber-600
	"7c3aed", // violet-600
	"0891b2", // cyan-600
	"db2777", // pink-600
	"4b5563", // gray-600
}

// Service renders sector allocation charts
type Service struct {
	market   interfaces.MarketDataService
	analysis interfaces.AnalysisService
	logger   *common.Logger
}

// NewService creates a chart service. market may be nil, in which case only
// RenderAllocation is usable.
func NewService(market interfaces.MarketDataService, analysis interfaces.AnalysisService, logger *common.Logger) *Service {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Service{market: market, analysis: analysis, logger: logger}
}

// AllocationChart fetches prices for tickers and renders the resulting
// sector allocation. News is not fetched.
func (s *Service) AllocationChart(ctx context.Context, tickers []string) ([]byte, error) {
	if len(tickers) == 0 {
		return nil, fmt.Errorf("%w: no tickers given", common.ErrInvalidInput)
	}
	if s.market == nil {
		return nil, fmt.Errorf("market data unavailable: %w", common.ErrCollaboratorUnavailable)
	}

	snapshot, err := s.market.FetchMarketData(ctx, tickers, 0)
	if err != nil {
		return nil, fmt.Errorf("market data unavailable: %w", err)
	}

	return s.RenderAllocation(s.analysis.Analyze(snapshot.Stocks, nil))
}

// RenderAllocation renders a PNG pie chart of the sector allocation.
// Returns raw PNG bytes.
func (s *Service) RenderAllocation(analytics *models.PortfolioAnalytics) ([]byte, error) {
	if analytics == nil || len(analytics.SectorAllocation) == 0 {
		return nil, ErrNoAllocation
	}

	values := make([]chart.Value, 0, len(analytics.SectorAllocation))
	for i, a := range analytics.SectorAllocation {
		if a.Value <= 0 {
			continue
		}
		values = append(values, chart.Value{
			Label: fmt.Sprintf("%s %s%%", a.Sector, analysis.FormatPercent(a.Percentage)),
			Value: a.Value,
			Style: chart.Style{
				FillColor:   drawing.ColorFromHex(palette[i%len(palette)]),
				StrokeColor: drawing.ColorWhite,
				StrokeWidth: 1.5,
			},
		})
	}
	if len(values) == 0 {
		return nil, ErrNoAllocation
	}

	pie := chart.PieChart{
		Title:  "Sector Allocation",
		Width:  600,
		Height: 600,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 10, Right: 10, Bottom: 10},
		},
		Values: values,
	}

	var buf bytes.Buffer
	if err := pie.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("chart render failed: %w", err)
	}

	s.logger.Debug().Int("sectors", len(values)).Int("bytes", buf.Len()).Msg("Allocation chart rendered")
	return buf.Bytes(), nil
}

var _ interfaces.ChartRenderer = (*Service)(nil)
