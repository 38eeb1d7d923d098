package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Risk levels for sector concentration
const (
	RiskLow    = "LOW"
	RiskMedium = "MEDIUM"
	RiskHigh   = "HIGH"
)

// Sentiment labels
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

// UnclassifiedSector is the sector assigned to stocks without one.
const UnclassifiedSector = "Unclassified"

// SectorAllocation is one sector's share of the priced portfolio.
type SectorAllocation struct {
	Sector       string   `json:"-"`
	Percentage   float64  `json:"allocation_percentage"`
	HoldingCount int      `json:"number_of_holdings"`
	Holdings     []string `json:"holdings"`
	Value        float64  `json:"value"`
}

// SectorAllocations is an ordered sector mapping. Iteration order is the
// order in which each sector was first seen.
type SectorAllocations []SectorAllocation

// Get returns the allocation for sector.
func (s SectorAllocations) Get(sector string) (SectorAllocation, bool) {
	for _, a := range s {
		if a.Sector == sector {
			return a, true
		}
	}
	return SectorAllocation{}, false
}

// MarshalJSON encodes the allocations as a JSON object keyed by sector,
// preserving slice order.
func (s SectorAllocations) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, a := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(a.Sector)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(a)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object keyed by sector, keeping key order and
// setting each Sector from its key.
func (s *SectorAllocations) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*s = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("sector allocations: expected object, got %v", tok)
	}

	out := SectorAllocations{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		sector, ok := tok.(string)
		if !ok {
			return fmt.Errorf("sector allocations: expected key, got %v", tok)
		}
		var a SectorAllocation
		if err := dec.Decode(&a); err != nil {
			return fmt.Errorf("sector allocations: %s: %w", sector, err)
		}
		a.Sector = sector
		out = append(out, a)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*s = out
	return nil
}

// StockPrice is the display price of one holding.
type StockPrice struct {
	Ticker   string  `json:"ticker"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
	Name     string  `json:"name"`
}

// RiskAssessment describes sector concentration risk.
type RiskAssessment struct {
	RiskLevel      string  `json:"risk_level"`
	DominantSector string  `json:"dominant_sector,omitempty"` // empty when no allocation exists
	Concentration  float64 `json:"concentration_percentage"`
}

// EarningsUpdate is a news item that mentions earnings activity.
type EarningsUpdate struct {
	Ticker    string `json:"ticker"`
	Title     string `json:"title"`
	Summary   string `json:"summary"`
	Sentiment string `json:"sentiment"`
}

// SentimentBreakdown counts classified news items.
type SentimentBreakdown struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Neutral  int `json:"neutral"`
}

// Total returns the number of classified items.
func (s SentimentBreakdown) Total() int {
	return s.Positive + s.Negative + s.Neutral
}

// PortfolioAnalytics is the derived view of one query's market data.
type PortfolioAnalytics struct {
	SectorAllocation   SectorAllocations  `json:"sector_allocation"`
	TotalValue         float64            `json:"total_value"`
	TotalHoldings      int                `json:"total_holdings"`
	IndividualStocks   []StockPrice       `json:"individual_stocks"`
	RiskAssessment     RiskAssessment     `json:"risk_assessment"`
	EarningsUpdates    []EarningsUpdate   `json:"earnings_updates"`
	SentimentBreakdown SentimentBreakdown `json:"sentiment_breakdown"`
	NewsCoverage       int                `json:"news_coverage"`
	Insights           []string           `json:"insights"`
}
