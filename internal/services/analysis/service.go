// Package analysis derives portfolio analytics from market snapshots
package analysis

import (
	"fmt"
	"math"
	"strings"

	"github.com/bobmcallan/vire-assistant/internal/common"
	"github.com/bobmcallan/vire-assistant/internal/interfaces"
	"github.com/bobmcallan/vire-assistant/internal/models"
)

// Keyword lists. Matching is substring based on the lower-cased title and
// summary, so "up" also matches inside "update".
var (
	PositiveIndicators = []string{"beat", "surge", "rise", "gain", "up", "strong", "growth", "profit", "revenue increase", "bullish", "positive"}
	NegativeIndicators = []string{"miss", "fall", "drop", "down", "weak", "loss", "decline", "concern", "risk", "bearish", "negative"}
	EarningsKeywords   = []string{"earnings", "results", "quarterly", "revenue", "profit", "eps", "estimate", "guidance", "outlook"}
)

// Concentration thresholds (allocation percentage)
const (
	highRiskThreshold   = 40.0
	mediumRiskThreshold = 25.0
)

// Service implements AnalysisService
type Service struct {
	logger *common.Logger
}

// NewService creates a new analysis service
func NewService(logger *common.Logger) *Service {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Service{logger: logger}
}

// Analyze computes allocation, risk, sentiment and insights. It never fails;
// stocks without a price are left out of the valuation aggregates.
func (s *Service) Analyze(stocks []models.StockSnapshot, news []models.NewsItem) *models.PortfolioAnalytics {
	allocation, totalValue := SectorAllocation(stocks)
	earnings, sentiment := ScanNews(news)
	risk := AssessConcentration(allocation)

	result := &models.PortfolioAnalytics{
		SectorAllocation:   allocation,
		TotalValue:         totalValue,
		IndividualStocks:   individualStocks(stocks),
		RiskAssessment:     risk,
		EarningsUpdates:    earnings,
		SentimentBreakdown: sentiment,
		NewsCoverage:       len(news),
		Insights:           Insights(risk, earnings, sentiment),
	}
	result.TotalHoldings = len(result.IndividualStocks)

	s.logger.Debug().
		Int("stocks", len(stocks)).
		Int("news", len(news)).
		Int("sectors", len(allocation)).
		Str("risk", risk.RiskLevel).
		Msg("Portfolio analysed")

	return result
}

// SectorAllocation groups positively priced stocks by sector and returns the
// allocations in first-seen order plus the summed value.
func SectorAllocation(stocks []models.StockSnapshot) (models.SectorAllocations, float64) {
	type bucket struct {
		sector  string
		value   float64
		tickers []string
	}
	var buckets []*bucket
	index := make(map[string]*bucket)
	var total float64

	for _, st := range stocks {
		if !st.HasPrice() || *st.Price <= 0 || math.IsNaN(*st.Price) || math.IsInf(*st.Price, 0) {
			continue
		}
		sector := strings.TrimSpace(st.Sector)
		if sector == "" {
			sector = models.UnclassifiedSector
		}
		b, ok := index[sector]
		if !ok {
			b = &bucket{sector: sector}
			index[sector] = b
			buckets = append(buckets, b)
		}
		b.value += *st.Price
		b.tickers = append(b.tickers, st.Ticker)
		total += *st.Price
	}

	allocations := make(models.SectorAllocations, 0, len(buckets))
	for _, b := range buckets {
		pct := 0.0
		if total > 0 {
			pct = b.value / total * 100
		}
		allocations = append(allocations, models.SectorAllocation{
			Sector:       b.sector,
			Percentage:   round(pct, 1),
			HoldingCount: len(b.tickers),
			Holdings:     b.tickers,
			Value:        round(b.value, 2),
		})
	}

	return allocations, round(total, 2)
}

// ScanNews classifies each item's sentiment and collects earnings updates
func ScanNews(news []models.NewsItem) ([]models.EarningsUpdate, models.SentimentBreakdown) {
	updates := []models.EarningsUpdate{}
	var breakdown models.SentimentBreakdown

	for _, item := range news {
		content := strings.ToLower(item.Title) + " " + strings.ToLower(item.Summary)

		sentiment := Classify(content)
		switch sentiment {
		case models.SentimentPositive:
			breakdown.Positive++
		case models.SentimentNegative:
			breakdown.Negative++
		default:
			breakdown.Neutral++
		}

		if containsAny(content, EarningsKeywords) {
			updates = append(updates, models.EarningsUpdate{
				Ticker:    item.Ticker,
				Title:     item.Title,
				Summary:   item.Summary,
				Sentiment: sentiment,
			})
		}
	}

	return updates, breakdown
}

// Classify returns the sentiment of lower-cased text. Each indicator counts
// once; ties are neutral.
func Classify(content string) string {
	pos := countMatches(content, PositiveIndicators)
	neg := countMatches(content, NegativeIndicators)
	switch {
	case pos > neg:
		return models.SentimentPositive
	case neg > pos:
		return models.SentimentNegative
	default:
		return models.SentimentNeutral
	}
}

// AssessConcentration finds the dominant sector and grades its share. The
// first sector seen wins ties.
func AssessConcentration(allocation models.SectorAllocations) models.RiskAssessment {
	if len(allocation) == 0 {
		return models.RiskAssessment{RiskLevel: models.RiskLow}
	}

	var highest float64
	var dominant string
	for _, a := range allocation {
		if a.Percentage > highest {
			highest = a.Percentage
			dominant = a.Sector
		}
	}

	level := models.RiskLow
	switch {
	case highest > highRiskThreshold:
		level = models.RiskHigh
	case highest > mediumRiskThreshold:
		level = models.RiskMedium
	}

	return models.RiskAssessment{
		RiskLevel:      level,
		DominantSector: dominant,
		Concentration:  highest,
	}
}

// Insights renders the concentration, earnings and sentiment insights in
// that order. Slots with nothing to say are skipped.
func Insights(risk models.RiskAssessment, earnings []models.EarningsUpdate, sentiment models.SentimentBreakdown) []string {
	insights := []string{}

	if risk.DominantSector != "" && risk.DominantSector != models.UnclassifiedSector {
		insights = append(insights, fmt.Sprintf("Portfolio shows %s%% concentration in %s sector", FormatPercent(risk.Concentration), risk.DominantSector))
	}

	if len(earnings) > 0 {
		seen := make(map[string]bool)
		var tickers []string
		for _, u := range earnings {
			if !seen[u.Ticker] {
				seen[u.Ticker] = true
				tickers = append(tickers, u.Ticker)
			}
		}
		insights = append(insights, "Earnings activity detected for: "+strings.Join(tickers, ", "))
	}

	if total := sentiment.Total(); total > 0 {
		ratio := float64(sentiment.Positive) / float64(total)
		if ratio > 0.6 {
			insights = append(insights, "Market sentiment trending positive")
		} else if ratio < 0.3 {
			insights = append(insights, "Market sentiment showing caution")
		}
	}

	return insights
}

// individualStocks lists every stock with a numeric price, in input order
func individualStocks(stocks []models.StockSnapshot) []models.StockPrice {
	out := []models.StockPrice{}
	for _, st := range stocks {
		if !st.HasPrice() {
			continue
		}
		currency := st.Currency
		if currency == "" {
			currency = "USD"
		}
		name := st.Name
		if name == "" {
			name = st.Ticker
		}
		out = append(out, models.StockPrice{
			Ticker:   st.Ticker,
			Price:    *st.Price,
			Currency: currency,
			Name:     name,
		})
	}
	return out
}

// FormatPercent prints a one-decimal percentage the way analytics report it:
// whole numbers keep a trailing ".0".
func FormatPercent(v float64) string {
	return fmt.Sprintf("%.1f", round(v, 1))
}

func countMatches(content string, keywords []string) int {
	n := 0
	for _, k := range keywords {
		if strings.Contains(content, k) {
			n++
		}
	}
	return n
}

func containsAny(content string, keywords []string) bool {
	return countMatches(content, keywords) > 0
}

// round rounds half away from zero to the given number of decimals
func round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

var _ interfaces.AnalysisService = (*Service)(nil)
