package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/okatech-org/mayfin-sub002/internal/cache"
	"github.com/okatech-org/mayfin-sub002/internal/cost"
	"github.com/okatech-org/mayfin-sub002/internal/model"
	"github.com/okatech-org/mayfin-sub002/pkg/perplexity"
)

const marketSystemPrompt = `Tu es analyste sectoriel pour une banque française. Évalue la santé actuelle du secteur indiqué en France à partir de sources récentes (INSEE, Banque de France, fédérations professionnelles).
Réponds uniquement avec un objet JSON :
{"sectorScore":0-100,"health":"croissance|stable|fragile|declin","summary":"...","risks":["..."],"opportunities":["..."],"trends":["..."],"outlook":"..."}
sectorScore vaut 50 pour un secteur dans la moyenne, plus pour un secteur porteur, moins pour un secteur en difficulté.`

// MarketResult is the output of the market research stage.
type MarketResult struct {
	Context    *model.MarketContext
	TokenUsage model.TokenUsage
}

// MarketStage researches the dossier's sector.
type MarketStage struct {
	client      perplexity.Client
	cache       cache.MarketCache
	model       string
	temperature float64
	policy      Policy
	costs       *cost.Calculator
	now         func() time.Time
}

// NewMarketStage creates a MarketStage. A nil cache disables caching.
func NewMarketStage(client perplexity.Client, mc cache.MarketCache, modelID string, temperature float64, policy Policy, costs *cost.Calculator) *MarketStage {
	if mc == nil {
		mc = cache.Noop{}
	}
	return &MarketStage{
		client:      client,
		cache:       mc,
		model:       modelID,
		temperature: temperature,
		policy:      policy,
		costs:       costs,
		now:         time.Now,
	}
}

type marketReply struct {
	SectorScore   *float64 `json:"sectorScore"`
	Health        string   `json:"health"`
	Summary       string   `json:"summary"`
	Risks         []string `json:"risks"`
	Opportunities []string `json:"opportunities"`
	Trends        []string `json:"trends"`
	Outlook       string   `json:"outlook"`
}

// Research returns the sector's market context, from cache when possible.
func (s *MarketStage) Research(ctx context.Context, sectorCode, sectorLabel string) (*MarketResult, error) {
	if strings.TrimSpace(sectorCode) == "" && strings.TrimSpace(sectorLabel) == "" {
		return nil, newSafeError("dossier has no sector")
	}
	log := zap.L().With(zap.String("sector_code", sectorCode), zap.String("sector_label", sectorLabel))

	cached, ok, err := s.cache.Get(ctx, sectorCode, sectorLabel)
	switch {
	case err != nil:
		log.Warn("pipeline: market cache lookup failed", zap.Error(err))
	case ok:
		log.Debug("pipeline: market cache hit")
		return &MarketResult{Context: cached}, nil
	}

	sector := sectorLabel
	if sectorCode != "" {
		sector = fmt.Sprintf("%s (code NAF %s)", sectorLabel, sectorCode)
	}
	temp := s.temperature

	resp, err := call(ctx, s.policy, providerPerplexity, "sector_research", func(ctx context.Context) (*perplexity.ChatCompletionResponse, error) {
		return s.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
			Model: s.model,
			Messages: []perplexity.Message{
				{Role: "system", Content: marketSystemPrompt},
				{Role: "user", Content: "Secteur : " + strings.TrimSpace(sector)},
			},
			Temperature: &temp,
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: sector research")
	}

	usage := model.TokenUsage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Queries:      1,
		Cost:         s.costs.PerplexityQuery(),
	}

	var reply marketReply
	if err := decodeProviderJSON(providerPerplexity, resp.Content(), &reply); err != nil {
		return nil, err
	}
	if reply.SectorScore == nil {
		return nil, newSafeError("market research reply has no sector score")
	}

	mc := &model.MarketContext{
		SectorCode:    sectorCode,
		SectorLabel:   sectorLabel,
		SectorScore:   clamp(*reply.SectorScore, 0, 100),
		Health:        strings.TrimSpace(reply.Health),
		Summary:       strings.TrimSpace(reply.Summary),
		Risks:         reply.Risks,
		Opportunities: reply.Opportunities,
		Trends:        reply.Trends,
		Outlook:       strings.TrimSpace(reply.Outlook),
		Sources:       resp.Citations,
		FetchedAt:     s.now().UTC(),
	}

	if err := s.cache.Set(ctx, mc); err != nil {
		log.Warn("pipeline: market cache store failed", zap.Error(err))
	}

	return &MarketResult{Context: mc, TokenUsage: usage}, nil
}
