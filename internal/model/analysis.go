package model

import "time"

// RatioStatus grades a ratio against its threshold.
type RatioStatus string

const (
	RatioGood    RatioStatus = "good"
	RatioWarning RatioStatus = "warning"
	RatioBad     RatioStatus = "bad"
	RatioUnknown RatioStatus = "unknown"
)

// Threshold describes how a ratio is graded. When HigherIsBetter is false
// the comparisons are reversed.
type Threshold struct {
	Good           float64 `json:"good"`
	Warning        float64 `json:"warning"`
	HigherIsBetter bool    `json:"higher_is_better"`
	Label          string  `json:"label"`
}

// Grade returns the status of v against the threshold.
func (t Threshold) Grade(v float64) RatioStatus {
	if t.HigherIsBetter {
		switch {
		case v >= t.Good:
			return RatioGood
		case v >= t.Warning:
			return RatioWarning
		default:
			return RatioBad
		}
	}
	switch {
	case v <= t.Good:
		return RatioGood
	case v <= t.Warning:
		return RatioWarning
	default:
		return RatioBad
	}
}

// Ratio is a derived financial ratio over up to three fiscal years. It is
// recomputed from facts on every run.
type Ratio struct {
	Code      string      `json:"code"`
	Name      string      `json:"name"`
	Unit      string      `json:"unit"`
	Values    [3]*float64 `json:"values"` // N, N-1, N-2
	Threshold Threshold   `json:"threshold"`
	Status    RatioStatus `json:"status"`
}

// Current returns the most recent value, if any.
func (r Ratio) Current() (float64, bool) {
	if r.Values[0] == nil {
		return 0, false
	}
	return *r.Values[0], true
}

// Polarity tags a factor as favourable or unfavourable.
type Polarity string

const (
	PolarityPositive Polarity = "positive"
	PolarityNegative Polarity = "negative"
)

// Signal is a qualitative observation produced by financial analysis.
type Signal struct {
	Code     string   `json:"code"`
	Label    string   `json:"label"`
	Detail   string   `json:"detail,omitempty"`
	Impact   float64  `json:"impact"`
	Polarity Polarity `json:"polarity"`
	Source   string   `json:"source"`
}

// Factor is a narrative factor with a signed impact. Produced by synthesis
// and carried into scoring as-is.
type Factor struct {
	Code     string   `json:"code"`
	Label    string   `json:"label"`
	Detail   string   `json:"detail,omitempty"`
	Impact   float64  `json:"impact"`
	Polarity Polarity `json:"polarity"`
	Source   string   `json:"source"`
}

// MarketContext is the sector-level research for a dossier.
type MarketContext struct {
	SectorCode    string    `json:"sector_code"`
	SectorLabel   string    `json:"sector_label"`
	SectorScore   float64   `json:"sector_score"`
	Health        string    `json:"health"`
	Summary       string    `json:"summary"`
	Risks         []string  `json:"risks,omitempty"`
	Opportunities []string  `json:"opportunities,omitempty"`
	Trends        []string  `json:"trends,omitempty"`
	Outlook       string    `json:"outlook,omitempty"`
	Sources       []string  `json:"sources,omitempty"`
	FetchedAt     time.Time `json:"fetched_at"`
	FromCache     bool      `json:"from_cache"`
}
