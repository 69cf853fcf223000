// Package scorer turns a pipeline outcome and questionnaire into a weighted
// credit decision with a financing recommendation.
package scorer

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/okatech-org/mayfin-sub002/internal/config"
	"github.com/okatech-org/mayfin-sub002/internal/model"
)

// Config tunes the recommendation rules. Criterion weights are fixed.
type Config struct {
	// RevenueCapShare caps the financeable amount as a share of the latest
	// revenue.
	RevenueCapShare float64

	// Multiples is the EBITDA multiple granted per decision category.
	Multiples map[model.DecisionCategory]float64
}

// DefaultConfig returns the standard recommendation rules.
func DefaultConfig() Config {
	return Config{
		RevenueCapShare: 0.25,
		Multiples: map[model.DecisionCategory]float64{
			model.CategoryAccordFavorable:   4,
			model.CategoryAccordConditionne: 3,
			model.CategoryEtudeApprofondie:  2,
			model.CategoryRefus:             0,
		},
	}
}

// ConfigFromSettings overlays the scoring settings on DefaultConfig.
func ConfigFromSettings(s config.ScoringConfig) Config {
	cfg := DefaultConfig()
	if s.RevenueCapShare > 0 {
		cfg.RevenueCapShare = s.RevenueCapShare
	}
	return cfg
}

// WeightSum returns the sum of all base criterion weights.
func WeightSum() float64 {
	var sum float64
	for _, c := range criteria {
		sum += c.weight
	}
	return sum
}

// ValidateConfig checks that a Config is internally consistent.
func ValidateConfig(c Config) error {
	var errs []string

	if c.RevenueCapShare <= 0 || c.RevenueCapShare > 1 {
		errs = append(errs, "revenue_cap_share must be in (0, 1]")
	}
	for cat, m := range c.Multiples {
		if m < 0 {
			errs = append(errs, fmt.Sprintf("multiple for %s must be >= 0", cat))
		}
	}
	for _, cr := range criteria {
		if cr.weight <= 0 {
			errs = append(errs, fmt.Sprintf("%s weight must be > 0", cr.code))
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
