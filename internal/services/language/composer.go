// Package language renders natural-language answers from portfolio analytics
package language

import (
	"fmt"
	"strings"
	"unicode/utf8"

	humanize "github.com/dustin/go-humanize"

	"github.com/bobmcallan/vire-assistant/internal/common"
	"github.com/bobmcallan/vire-assistant/internal/interfaces"
	"github.com/bobmcallan/vire-assistant/internal/models"
)

const (
	sectorDisplayThreshold = 5.0
	riskClauseThreshold    = 25.0
	maxEarningsHighlights  = 3
	maxContextDocs         = 4
	minContextSummary      = 20
	maxContextSummary      = 150
)

// Fallback phrases for sections with no data
const (
	NoEarningsText  = "No significant earnings updates today"
	NoSentimentText = "Market sentiment analysis in progress"
	NoPriceText     = "Price information is currently unavailable"
)

// focusKeywords is checked in order; the first category with a match wins
var focusKeywords = []struct {
	focus    string
	keywords []string
}{
	{models.FocusPrice, []string{"price", "current price", "cost", "value", "trading at", "worth"}},
	{models.FocusRisk, []string{"risk", "exposure", "concentration"}},
	{models.FocusEarnings, []string{"earnings", "results", "surprise"}},
	{models.FocusSectors, []string{"sector", "allocation", "breakdown"}},
	{models.FocusSentiment, []string{"sentiment", "market", "news"}},
}

// Composer implements ResponseComposer
type Composer struct {
	logger *common.Logger
}

// NewComposer creates a response composer
func NewComposer(logger *common.Logger) *Composer {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Composer{logger: logger}
}

// Focus classifies the intent of a query
func (c *Composer) Focus(query string) string {
	q := strings.ToLower(query)
	for _, f := range focusKeywords {
		for _, k := range f.keywords {
			if strings.Contains(q, k) {
				return f.focus
			}
		}
	}
	return models.FocusOverview
}

// Compose renders the answer for query. The result is never empty.
func (c *Composer) Compose(query string, analytics *models.PortfolioAnalytics, retrieved []models.SearchResult) string {
	if analytics == nil {
		analytics = &models.PortfolioAnalytics{}
	}

	focus := c.Focus(query)

	var parts []string
	switch focus {
	case models.FocusPrice:
		parts = append(parts, PriceSection(analytics.IndividualStocks))
	case models.FocusRisk:
		parts = append(parts, RiskSection(analytics.RiskAssessment))
	case models.FocusEarnings:
		parts = append(parts, EarningsSection(analytics.EarningsUpdates))
	case models.FocusSectors:
		parts = append(parts, SummarySection(analytics))
	case models.FocusSentiment:
		parts = append(parts, SentimentSection(analytics.SentimentBreakdown))
	default:
		parts = append(parts,
			SummarySection(analytics),
			EarningsSection(analytics.EarningsUpdates),
			SentimentSection(analytics.SentimentBreakdown),
		)
	}

	response := WithContext(strings.Join(parts, ". "), retrieved)

	c.logger.Debug().Str("focus", focus).Int("retrieved", len(retrieved)).Int("length", len(response)).Msg("Response composed")
	return response
}

// SummarySection renders holdings, value and sectors above the display threshold
func SummarySection(a *models.PortfolioAnalytics) string {
	summary := fmt.Sprintf("Your portfolio has %d holdings worth $%s", a.TotalHoldings, money(a.TotalValue))

	var sectors []string
	for _, s := range a.SectorAllocation {
		if s.Percentage > sectorDisplayThreshold {
			sectors = append(sectors, fmt.Sprintf("%s sector represents %s%% of your portfolio", s.Sector, percent(s.Percentage)))
		}
	}
	if len(sectors) > 0 {
		summary += ". " + strings.Join(sectors, ". ")
	}
	return summary
}

// RiskSection renders the concentration risk level
func RiskSection(r models.RiskAssessment) string {
	level := r.RiskLevel
	if level == "" {
		level = models.RiskLow
	}
	text := "Portfolio concentration risk is " + level
	if r.DominantSector != "" && r.Concentration > riskClauseThreshold {
		text += fmt.Sprintf(" due to %s%% concentration in %s", percent(r.Concentration), r.DominantSector)
	}
	return text
}

// EarningsSection renders up to three earnings highlights
func EarningsSection(updates []models.EarningsUpdate) string {
	if len(updates) == 0 {
		return NoEarningsText
	}

	n := min(len(updates), maxEarningsHighlights)
	highlights := make([]string, 0, n)
	for _, u := range updates[:n] {
		ticker := u.Ticker
		if ticker == "" {
			ticker = "N/A"
		}
		title := strings.ToLower(u.Title)
		performance := "reported results"
		switch {
		case strings.Contains(title, "beat"):
			performance = "beat estimates"
		case strings.Contains(title, "miss"):
			performance = "missed estimates"
		}
		highlights = append(highlights, ticker+" "+performance)
	}
	return "Earnings highlights: " + strings.Join(highlights, ", ")
}

// SentimentSection renders the overall sentiment of the news batch
func SentimentSection(b models.SentimentBreakdown) string {
	total := b.Total()
	if total == 0 {
		return NoSentimentText
	}

	positive := float64(b.Positive) / float64(total)
	negative := float64(b.Negative) / float64(total)

	mood := "mixed with balanced outlook"
	switch {
	case positive > 0.6:
		mood = "positive with bullish indicators"
	case negative > 0.6:
		mood = "cautious with bearish signals"
	}
	return fmt.Sprintf("Market sentiment is %s based on %d news articles analyzed", mood, total)
}

// PriceSection renders the current price of every holding
func PriceSection(stocks []models.StockPrice) string {
	if len(stocks) == 0 {
		return NoPriceText
	}

	prices := make([]string, len(stocks))
	for i, s := range stocks {
		symbol := "$"
		if s.Currency == "INR" {
			symbol = "₹"
		}
		name := s.Name
		if name == "" {
			name = s.Ticker
		}
		prices[i] = fmt.Sprintf("%s (%s) is trading at %s%s", s.Ticker, name, symbol, money(s.Price))
	}
	return "Current prices: " + strings.Join(prices, "; ")
}

// WithContext appends a news block built from the first retrieved documents.
// Duplicate titles keep their first occurrence; entries without a ticker or
// with a short summary are dropped.
func WithContext(response string, retrieved []models.SearchResult) string {
	if len(retrieved) > maxContextDocs {
		retrieved = retrieved[:maxContextDocs]
	}

	seen := make(map[string]bool)
	var entries []string
	for _, doc := range retrieved {
		if doc.Title == "" || seen[doc.Title] {
			continue
		}
		seen[doc.Title] = true

		if doc.Ticker == "" || utf8.RuneCountInString(doc.Summary) <= minContextSummary {
			continue
		}
		entries = append(entries, fmt.Sprintf("**%s**: %s - %s", doc.Ticker, doc.Title, truncate(doc.Summary, maxContextSummary)))
	}

	if len(entries) == 0 {
		return response
	}
	return response + "\n\n**Latest News Updates:**\n" + strings.Join(entries, "\n\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// money formats a value with thousands separators and two decimals
func money(v float64) string {
	return humanize.FormatFloat("#,###.##", v)
}

// percent prints a one-decimal percentage, keeping ".0" on whole numbers
func percent(v float64) string {
	return fmt.Sprintf("%.1f", v)
}

var _ interfaces.ResponseComposer = (*Composer)(nil)
