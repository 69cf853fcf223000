package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/okatech-org/mayfin-sub002/internal/cost"
	"github.com/okatech-org/mayfin-sub002/internal/model"
	"github.com/okatech-org/mayfin-sub002/pkg/anthropic"
)

// Signal codes produced by the deterministic analysis.
const (
	SignalRevenueGrowth    = "revenue_growth"
	SignalRevenueDecline   = "revenue_decline"
	SignalNetResultGrowth  = "net_result_growth"
	SignalNetResultDecline = "net_result_decline"
	SignalMarginVolatility = "margin_volatility"
	SignalNegativeEquity   = "negative_equity"
	SignalNetLoss          = "net_loss"
)

const (
	sourceRatios    = "ratios"
	sourceAnalysis  = "financial_analysis"
	sourceMarket    = "market_research"
	sourceSynthesis = "synthesis"

	maxImpact = 20.0
)

// ratioSignalWeight is the impact attached to a good or bad grade on the
// ratios that carry a signal.
var ratioSignalWeight = map[string]float64{
	RatioFinancialAutonomy: 8,
	RatioDebtToCAF:         8,
	RatioCurrent:           6,
	RatioEBITDAMargin:      6,
	RatioNetMargin:         5,
	RatioGearing:           5,
}

const analysisSystemPrompt = `Tu es analyste crédit dans une banque française. On te fournit la table des ratios d'une entreprise (valeurs N, N-1, N-2) et les signaux déjà détectés.
Identifie au plus 5 signaux qualitatifs supplémentaires (risques ou points forts) non couverts par les signaux existants.
Réponds uniquement avec un objet JSON :
{"summary":"synthèse en deux phrases","signals":[{"code":"snake_case","label":"libellé court","detail":"explication","impact":-5,"polarity":"negative"}]}
impact est compris entre -20 et 20 ; polarity vaut "positive" ou "negative".`

// FinancialAnalysis is the output of the financial analysis stage.
type FinancialAnalysis struct {
	Ratios     []model.Ratio
	Signals    []model.Signal
	Summary    string
	TokenUsage model.TokenUsage
}

// FinancialStage computes ratios and signals from merged facts.
type FinancialStage struct {
	ai        anthropic.Client
	model     string
	maxTokens int64
	policy    Policy
	costs     *cost.Calculator
}

// NewFinancialStage creates a FinancialStage. A nil client restricts the
// analysis to the locally computed ratios and signals.
func NewFinancialStage(ai anthropic.Client, modelID string, maxTokens int64, policy Policy, costs *cost.Calculator) *FinancialStage {
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &FinancialStage{ai: ai, model: modelID, maxTokens: maxTokens, policy: policy, costs: costs}
}

type analysisReply struct {
	Summary string        `json:"summary"`
	Signals []replyFactor `json:"signals"`
}

type replyFactor struct {
	Code     string  `json:"code"`
	Label    string  `json:"label"`
	Detail   string  `json:"detail"`
	Impact   float64 `json:"impact"`
	Polarity string  `json:"polarity"`
}

// Analyze computes the ratio table and signals. Facts without any fiscal
// year are a permanent failure.
func (s *FinancialStage) Analyze(ctx context.Context, facts model.FinancialFacts) (*FinancialAnalysis, error) {
	if facts.Empty() {
		return nil, newSafeError("no fiscal year facts to analyze")
	}

	ratios := ComputeRatios(facts)
	out := &FinancialAnalysis{
		Ratios:  ratios,
		Signals: DeriveSignals(facts, ratios),
	}
	if s.ai == nil {
		return out, nil
	}

	payload, err := json.Marshal(struct {
		Ratios  []model.Ratio  `json:"ratios"`
		Signals []model.Signal `json:"signals"`
	}{ratios, out.Signals})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: marshal ratio table")
	}

	resp, err := call(ctx, s.policy, providerAnthropic, "financial_signals", func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return s.ai.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     s.model,
			MaxTokens: s.maxTokens,
			System:    []anthropic.SystemBlock{{Text: analysisSystemPrompt}},
			Messages:  []anthropic.Message{{Role: "user", Content: string(payload)}},
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: financial signals")
	}
	out.TokenUsage = claudeUsage(s.costs, s.model, resp)

	var reply analysisReply
	if err := decodeProviderJSON(providerAnthropic, resp.Text(), &reply); err != nil {
		return nil, err
	}

	out.Summary = strings.TrimSpace(reply.Summary)
	seen := make(map[string]bool, len(out.Signals))
	for _, sig := range out.Signals {
		seen[sig.Code] = true
	}
	for _, rf := range reply.Signals {
		f, ok := normalizeFactor(rf, sourceAnalysis)
		if !ok || seen[f.Code] {
			continue
		}
		seen[f.Code] = true
		out.Signals = append(out.Signals, model.Signal(f))
	}

	zap.L().Debug("pipeline: financial analysis complete",
		zap.Int("ratios", len(out.Ratios)),
		zap.Int("signals", len(out.Signals)),
	)
	return out, nil
}

// DeriveSignals produces the deterministic signals: growth trends, margin
// volatility, solvency red flags and ratio grades.
func DeriveSignals(facts model.FinancialFacts, ratios []model.Ratio) []model.Signal {
	var signals []model.Signal

	chrono := facts.SortedYears()
	sort.Ints(chrono)

	if mean, ok := meanGrowth(facts, chrono, model.ItemRevenue); ok {
		switch {
		case mean >= 5:
			signals = append(signals, model.Signal{
				Code: SignalRevenueGrowth, Label: fmt.Sprintf("Croissance du chiffre d'affaires de %+.1f %% par an", mean),
				Impact: clamp(mean/2, 2, 10), Polarity: model.PolarityPositive, Source: sourceRatios,
			})
		case mean <= -5:
			signals = append(signals, model.Signal{
				Code: SignalRevenueDecline, Label: fmt.Sprintf("Baisse du chiffre d'affaires de %.1f %% par an", mean),
				Impact: -clamp(-mean/2, 2, 10), Polarity: model.PolarityNegative, Source: sourceRatios,
			})
		}
	}

	if mean, ok := meanGrowth(facts, chrono, model.ItemNetResult); ok {
		switch {
		case mean >= 10:
			signals = append(signals, model.Signal{
				Code: SignalNetResultGrowth, Label: fmt.Sprintf("Progression du résultat net de %+.1f %% par an", mean),
				Impact: clamp(mean/5, 1, 6), Polarity: model.PolarityPositive, Source: sourceRatios,
			})
		case mean <= -10:
			signals = append(signals, model.Signal{
				Code: SignalNetResultDecline, Label: fmt.Sprintf("Recul du résultat net de %.1f %% par an", mean),
				Impact: -clamp(-mean/5, 1, 6), Polarity: model.PolarityNegative, Source: sourceRatios,
			})
		}
	}

	var margins stats.Float64Data
	for _, year := range chrono {
		if m, ok := quotient(facts.Years[year], model.ItemNetResult, model.ItemRevenue, 100); ok {
			margins = append(margins, m)
		}
	}
	if len(margins) >= 3 {
		if sd, err := stats.StandardDeviationPopulation(margins); err == nil && sd > 5 {
			signals = append(signals, model.Signal{
				Code: SignalMarginVolatility, Label: fmt.Sprintf("Marge nette volatile (écart-type %.1f pts)", sd),
				Impact: -clamp(sd/2, 2, 8), Polarity: model.PolarityNegative, Source: sourceRatios,
			})
		}
	}

	if _, latest, ok := facts.Latest(); ok {
		if eq, ok := latest.Get(model.ItemEquity); ok && eq.IsNegative() {
			signals = append(signals, model.Signal{
				Code: SignalNegativeEquity, Label: "Capitaux propres négatifs",
				Impact: -15, Polarity: model.PolarityNegative, Source: sourceRatios,
			})
		}
		if nr, ok := latest.Get(model.ItemNetResult); ok && nr.IsNegative() {
			signals = append(signals, model.Signal{
				Code: SignalNetLoss, Label: "Exercice déficitaire",
				Impact: -8, Polarity: model.PolarityNegative, Source: sourceRatios,
			})
		}
	}

	for _, r := range ratios {
		w, ok := ratioSignalWeight[r.Code]
		if !ok {
			continue
		}
		v, ok := r.Current()
		if !ok {
			continue
		}
		switch r.Status {
		case model.RatioGood:
			signals = append(signals, model.Signal{
				Code: r.Code + "_strong", Label: fmt.Sprintf("%s satisfaisante (%.1f %s)", r.Name, v, r.Unit),
				Impact: w, Polarity: model.PolarityPositive, Source: sourceRatios,
			})
		case model.RatioBad:
			signals = append(signals, model.Signal{
				Code: r.Code + "_weak", Label: fmt.Sprintf("%s insuffisante (%.1f %s)", r.Name, v, r.Unit),
				Impact: -w, Polarity: model.PolarityNegative, Source: sourceRatios,
			})
		}
	}

	return signals
}

// meanGrowth averages year-over-year growth of item over consecutive
// chronological years.
func meanGrowth(facts model.FinancialFacts, chrono []int, item model.LineItem) (float64, bool) {
	var rates stats.Float64Data
	for i := 1; i < len(chrono); i++ {
		if g, ok := growth(facts.Years[chrono[i]], facts.Years[chrono[i-1]], item); ok {
			rates = append(rates, g)
		}
	}
	if len(rates) == 0 {
		return 0, false
	}
	mean, err := stats.Mean(rates)
	if err != nil {
		return 0, false
	}
	return mean, true
}

// normalizeFactor validates a provider factor: a code and label are
// required, the impact is clamped and its sign follows the polarity.
func normalizeFactor(rf replyFactor, source string) (model.Factor, bool) {
	code := strings.TrimSpace(rf.Code)
	label := strings.TrimSpace(rf.Label)
	if code == "" || label == "" || math.IsNaN(rf.Impact) {
		return model.Factor{}, false
	}

	impact := clamp(math.Abs(rf.Impact), 0, maxImpact)
	var polarity model.Polarity
	switch model.Polarity(strings.ToLower(strings.TrimSpace(rf.Polarity))) {
	case model.PolarityPositive:
		polarity = model.PolarityPositive
	case model.PolarityNegative:
		polarity = model.PolarityNegative
	default:
		if rf.Impact < 0 {
			polarity = model.PolarityNegative
		} else {
			polarity = model.PolarityPositive
		}
	}
	if polarity == model.PolarityNegative {
		impact = -impact
	}

	return model.Factor{
		Code:     code,
		Label:    label,
		Detail:   strings.TrimSpace(rf.Detail),
		Impact:   impact,
		Polarity: polarity,
		Source:   source,
	}, true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
