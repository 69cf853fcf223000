package scorer

import (
	"fmt"
	"math"
	"sort"

	"github.com/okatech-org/mayfin-sub002/internal/model"
)

// Tier breakpoints on the global score. A score equal to a breakpoint
// belongs to the higher tier.
const (
	FavorableThreshold    = 75.0
	ConditionedThreshold  = 55.0
	FurtherStudyThreshold = 35.0
)

// PreconditionError is returned when a dossier cannot be scored.
type PreconditionError struct {
	Reason   string
	Blocking []model.Issue
}

func (e *PreconditionError) Error() string {
	return "scorer: precondition failed: " + e.Reason
}

// Engine scores pipeline outcomes. It holds no mutable state and never
// reads the clock, so identical inputs give identical results.
type Engine struct {
	cfg Config
}

// NewEngine creates an Engine.
func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.RevenueCapShare <= 0 {
		cfg.RevenueCapShare = def.RevenueCapShare
	}
	if cfg.Multiples == nil {
		cfg.Multiples = def.Multiples
	}
	return &Engine{cfg: cfg}
}

// Score evaluates the weighted criteria over outcome and questionnaire.
// The result has no CreatedAt; the caller stamps it when persisting.
func (e *Engine) Score(outcome *model.PipelineOutcome, questionnaire *model.QuestionnaireResponse, validation model.ValidationResult) (*model.ScoringResult, error) {
	if err := checkPreconditions(outcome, validation); err != nil {
		return nil, err
	}

	var responses model.Responses
	if questionnaire != nil {
		responses = questionnaire.Responses
	}
	financing, _ := responses.String(model.FieldFinancingType)
	in := &inputs{
		outcome:   outcome,
		responses: responses,
		financing: model.FinancingType(financing),
	}

	details, global := evaluate(in)
	category := Categorize(global)
	positive, negative := splitFactors(outcome.Factors)

	return &model.ScoringResult{
		RunID:             outcome.RunID,
		DossierID:         outcome.DossierID,
		GlobalScore:       global,
		Category:          category,
		Details:           details,
		PositiveFactors:   positive,
		NegativeFactors:   negative,
		Recommendation:    e.recommend(in, category, global, negative),
		Degraded:          outcome.Degraded,
		MarketDataMissing: outcome.MarketDataMissing,
	}, nil
}

func checkPreconditions(outcome *model.PipelineOutcome, validation model.ValidationResult) error {
	switch {
	case outcome == nil:
		return &PreconditionError{Reason: "no pipeline outcome"}
	case len(validation.Blocking) > 0:
		return &PreconditionError{
			Reason:   fmt.Sprintf("questionnaire has %d blocking issue(s)", len(validation.Blocking)),
			Blocking: validation.Blocking,
		}
	case !outcome.Status.Usable():
		return &PreconditionError{Reason: fmt.Sprintf("pipeline run is %s", outcome.Status)}
	case outcome.Facts.Empty():
		return &PreconditionError{Reason: "no fiscal year facts"}
	}
	return nil
}

// evaluate scores the active criteria. Weights are renormalised over the
// active set so they sum to one.
func evaluate(in *inputs) ([]model.ScoreDetail, float64) {
	var active []criterion
	var total float64
	for _, c := range criteria {
		if c.active == nil || c.active(in) {
			active = append(active, c)
			total += c.weight
		}
	}

	details := make([]model.ScoreDetail, 0, len(active))
	var global float64
	for _, c := range active {
		sub, why, ok := c.score(in)
		if !ok {
			sub, why = insufficientScore, insufficientText
		}
		w := c.weight / total
		points := w * sub
		global += points
		details = append(details, model.ScoreDetail{
			Criterion:     c.code,
			Label:         c.label,
			Weight:        w,
			SubScore:      sub,
			Points:        points,
			Justification: why,
		})
	}
	return details, global
}

// Categorize maps a global score to its decision tier.
func Categorize(score float64) model.DecisionCategory {
	switch {
	case score >= FavorableThreshold:
		return model.CategoryAccordFavorable
	case score >= ConditionedThreshold:
		return model.CategoryAccordConditionne
	case score >= FurtherStudyThreshold:
		return model.CategoryEtudeApprofondie
	default:
		return model.CategoryRefus
	}
}

// splitFactors copies factors into positive and negative lists sorted by
// descending absolute impact, ties broken by code.
func splitFactors(factors []model.Factor) (positive, negative []model.Factor) {
	positive, negative = []model.Factor{}, []model.Factor{}
	for _, f := range factors {
		if isPositive(f) {
			positive = append(positive, f)
		} else {
			negative = append(negative, f)
		}
	}
	byImpact := func(list []model.Factor) {
		sort.SliceStable(list, func(i, j int) bool {
			ai, aj := math.Abs(list[i].Impact), math.Abs(list[j].Impact)
			if ai != aj {
				return ai > aj
			}
			return list[i].Code < list[j].Code
		})
	}
	byImpact(positive)
	byImpact(negative)
	return positive, negative
}

func isPositive(f model.Factor) bool {
	switch f.Polarity {
	case model.PolarityPositive:
		return true
	case model.PolarityNegative:
		return false
	default:
		return f.Impact >= 0
	}
}
