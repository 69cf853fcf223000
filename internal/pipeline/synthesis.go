package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/okatech-org/mayfin-sub002/internal/cost"
	"github.com/okatech-org/mayfin-sub002/internal/model"
	"github.com/okatech-org/mayfin-sub002/pkg/anthropic"
)

// Factor codes produced from market context.
const (
	FactorSectorDynamic = "sector_dynamic"
	FactorSectorFragile = "sector_fragile"
	FactorSectorRisk    = "sector_risk"
)

const synthesisSystemPrompt = `Tu es analyste crédit senior. À partir de l'analyse financière et, si disponible, du contexte sectoriel, rédige une appréciation globale du dossier de financement.
Ajoute au plus 5 facteurs qui ne figurent pas déjà dans la liste fournie.
Réponds uniquement avec un objet JSON :
{"assessment":"appréciation en un paragraphe","factors":[{"code":"snake_case","label":"libellé court","detail":"explication","impact":5,"polarity":"positive"}]}
impact est compris entre -20 et 20 ; polarity vaut "positive" ou "negative".`

// Synthesis is the output of the synthesis stage.
type Synthesis struct {
	Factors           []model.Factor
	Assessment        string
	MarketDataMissing bool
	TokenUsage        model.TokenUsage
}

// SynthesisStage merges financial and market findings into factors.
type SynthesisStage struct {
	ai        anthropic.Client
	model     string
	maxTokens int64
	policy    Policy
	costs     *cost.Calculator
}

// NewSynthesisStage creates a SynthesisStage.
func NewSynthesisStage(ai anthropic.Client, modelID string, maxTokens int64, policy Policy, costs *cost.Calculator) *SynthesisStage {
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &SynthesisStage{ai: ai, model: modelID, maxTokens: maxTokens, policy: policy, costs: costs}
}

type synthesisReply struct {
	Assessment string        `json:"assessment"`
	Factors    []replyFactor `json:"factors"`
}

// Synthesize builds the rule-based factors and asks the provider for
// narrative factors and an assessment. A nil market runs financial-only.
func (s *SynthesisStage) Synthesize(ctx context.Context, fa *FinancialAnalysis, market *model.MarketContext) (*Synthesis, error) {
	if fa == nil {
		return nil, newSafeError("no financial analysis to synthesize")
	}
	out := FallbackSynthesis(fa, market)

	payload, err := json.Marshal(struct {
		Summary string               `json:"financial_summary,omitempty"`
		Ratios  []model.Ratio        `json:"ratios"`
		Factors []model.Factor       `json:"factors"`
		Market  *model.MarketContext `json:"market,omitempty"`
	}{fa.Summary, fa.Ratios, out.Factors, market})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: marshal synthesis input")
	}

	resp, err := call(ctx, s.policy, providerAnthropic, "synthesis", func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return s.ai.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     s.model,
			MaxTokens: s.maxTokens,
			System:    []anthropic.SystemBlock{{Text: synthesisSystemPrompt}},
			Messages:  []anthropic.Message{{Role: "user", Content: string(payload)}},
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: synthesis")
	}
	out.TokenUsage = claudeUsage(s.costs, s.model, resp)

	var reply synthesisReply
	if err := decodeProviderJSON(providerAnthropic, resp.Text(), &reply); err != nil {
		return nil, err
	}

	if a := strings.TrimSpace(reply.Assessment); a != "" {
		out.Assessment = a
	}
	seen := make(map[string]bool, len(out.Factors))
	for _, f := range out.Factors {
		seen[f.Code] = true
	}
	for _, rf := range reply.Factors {
		f, ok := normalizeFactor(rf, sourceSynthesis)
		if !ok || seen[f.Code] {
			continue
		}
		seen[f.Code] = true
		out.Factors = append(out.Factors, f)
	}
	return out, nil
}

// FallbackSynthesis produces the rule-based part of the synthesis: every
// financial signal becomes a factor, and the sector score adds one when it
// departs from the average.
func FallbackSynthesis(fa *FinancialAnalysis, market *model.MarketContext) *Synthesis {
	out := &Synthesis{MarketDataMissing: market == nil}
	if fa != nil {
		out.Assessment = fa.Summary
		for _, sig := range fa.Signals {
			out.Factors = append(out.Factors, model.Factor(sig))
		}
	}
	if market == nil {
		return out
	}

	switch {
	case market.SectorScore >= 65:
		out.Factors = append(out.Factors, model.Factor{
			Code: FactorSectorDynamic, Label: fmt.Sprintf("Secteur porteur (score %.0f/100)", market.SectorScore),
			Detail: market.Summary, Impact: clamp((market.SectorScore-50)/3, 1, 10),
			Polarity: model.PolarityPositive, Source: sourceMarket,
		})
	case market.SectorScore <= 40:
		out.Factors = append(out.Factors, model.Factor{
			Code: FactorSectorFragile, Label: fmt.Sprintf("Secteur fragile (score %.0f/100)", market.SectorScore),
			Detail: market.Summary, Impact: -clamp((50-market.SectorScore)/3, 1, 10),
			Polarity: model.PolarityNegative, Source: sourceMarket,
		})
	}
	if len(market.Risks) > 0 {
		out.Factors = append(out.Factors, model.Factor{
			Code: FactorSectorRisk, Label: "Risque sectoriel : " + market.Risks[0],
			Impact: -2, Polarity: model.PolarityNegative, Source: sourceMarket,
		})
	}
	return out
}
