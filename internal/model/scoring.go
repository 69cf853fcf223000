package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DecisionCategory is one of four ordered outcome tiers.
type DecisionCategory string

const (
	CategoryRefus             DecisionCategory = "refus"
	CategoryEtudeApprofondie  DecisionCategory = "etude_approfondie"
	CategoryAccordConditionne DecisionCategory = "accord_conditionne"
	CategoryAccordFavorable   DecisionCategory = "accord_favorable"
)

// Rank orders categories from refus (0) to accord_favorable (3).
func (c DecisionCategory) Rank() int {
	switch c {
	case CategoryEtudeApprofondie:
		return 1
	case CategoryAccordConditionne:
		return 2
	case CategoryAccordFavorable:
		return 3
	default:
		return 0
	}
}

// ScoreDetail is the contribution of one scoring criterion.
type ScoreDetail struct {
	Criterion     string  `json:"criterion"`
	Label         string  `json:"label"`
	Weight        float64 `json:"weight"`
	SubScore      float64 `json:"sub_score"`
	Points        float64 `json:"points"`
	Justification string  `json:"justification"`
}

// Recommendation carries the financing terms attached to a decision.
type Recommendation struct {
	FinanceableAmount decimal.Decimal `json:"financeable_amount"`
	ProductType       string          `json:"product_type"`
	DurationMonths    int             `json:"duration_months"`
	Guarantees        []string        `json:"guarantees"`
	SpecialConditions []string        `json:"special_conditions"`
	WatchPoints       []string        `json:"watch_points"`
	DecisionText      string          `json:"decision_text"`
}

// ScoringResult is the terminal artifact of a completed run. Results are
// append-only: re-running produces a new one.
type ScoringResult struct {
	RunID             string           `json:"run_id"`
	DossierID         string           `json:"dossier_id"`
	CreatedAt         time.Time        `json:"created_at"`
	GlobalScore       float64          `json:"global_score"`
	Category          DecisionCategory `json:"category"`
	Details           []ScoreDetail    `json:"details"`
	PositiveFactors   []Factor         `json:"positive_factors"`
	NegativeFactors   []Factor         `json:"negative_factors"`
	Recommendation    Recommendation   `json:"recommendation"`
	Degraded          bool             `json:"degraded"`
	MarketDataMissing bool             `json:"market_data_missing"`
}
