package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/okatech-org/mayfin-sub002/internal/cost"
	"github.com/okatech-org/mayfin-sub002/internal/model"
	"github.com/okatech-org/mayfin-sub002/pkg/perplexity"
)

func perplexityReply(content string) *perplexity.ChatCompletionResponse {
	return &perplexity.ChatCompletionResponse{
		Choices:   []perplexity.Choice{{Message: perplexity.Message{Role: "assistant", Content: content}}},
		Citations: []string{"https://www.insee.fr/fr/statistiques"},
		Usage:     perplexity.Usage{PromptTokens: 300, CompletionTokens: 500},
	}
}

func TestMarketStage_CacheHitSkipsProvider(t *testing.T) {
	cached := &model.MarketContext{SectorCode: "56.10A", SectorScore: 62, FromCache: true}
	mc := new(mockMarketCache)
	mc.On("Get", mock.Anything, "56.10A", "Restauration").Return(cached, true, nil)
	px := new(mockPerplexityClient)

	stage := NewMarketStage(px, mc, "sonar-pro", 0.2, testPolicy(), nil)
	res, err := stage.Research(context.Background(), "56.10A", "Restauration")
	require.NoError(t, err)
	assert.Same(t, cached, res.Context)
	assert.Zero(t, res.TokenUsage.Queries)
	px.AssertNotCalled(t, "ChatCompletion", mock.Anything, mock.Anything)
	mc.AssertNotCalled(t, "Set", mock.Anything, mock.Anything)
}

func TestMarketStage_MissResearchesAndCaches(t *testing.T) {
	mc := new(mockMarketCache)
	mc.On("Get", mock.Anything, "56.10A", "Restauration").Return(nil, false, nil)
	mc.On("Set", mock.Anything, mock.MatchedBy(func(m *model.MarketContext) bool {
		return m.SectorCode == "56.10A" && !m.FromCache
	})).Return(nil)

	px := new(mockPerplexityClient)
	px.On("ChatCompletion", mock.Anything, mock.MatchedBy(func(req perplexity.ChatCompletionRequest) bool {
		return req.Model == "sonar-pro" && req.Temperature != nil && *req.Temperature == 0.2
	})).Return(perplexityReply(`{"sectorScore":130,"health":"croissance","summary":"Secteur dynamique","risks":["inflation"]}`), nil)

	stage := NewMarketStage(px, mc, "sonar-pro", 0.2, testPolicy(), cost.NewCalculator(cost.DefaultRates()))
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	stage.now = func() time.Time { return fixed }

	res, err := stage.Research(context.Background(), "56.10A", "Restauration")
	require.NoError(t, err)
	assert.InDelta(t, 100.0, res.Context.SectorScore, 1e-9, "score is clamped")
	assert.Equal(t, "croissance", res.Context.Health)
	assert.Equal(t, []string{"https://www.insee.fr/fr/statistiques"}, res.Context.Sources)
	assert.Equal(t, fixed, res.Context.FetchedAt)
	assert.Equal(t, 1, res.TokenUsage.Queries)
	assert.InDelta(t, 0.005, res.TokenUsage.Cost, 1e-12)
	mc.AssertExpectations(t)
}

func TestMarketStage_CacheErrorsAreNotFatal(t *testing.T) {
	mc := new(mockMarketCache)
	mc.On("Get", mock.Anything, "", "BTP").Return(nil, false, errors.New("redis down"))
	mc.On("Set", mock.Anything, mock.Anything).Return(errors.New("redis down"))
	px := new(mockPerplexityClient)
	px.On("ChatCompletion", mock.Anything, mock.Anything).Return(perplexityReply(`{"sectorScore":45}`), nil)

	stage := NewMarketStage(px, mc, "sonar-pro", 0.2, testPolicy(), nil)
	res, err := stage.Research(context.Background(), "", "BTP")
	require.NoError(t, err)
	assert.InDelta(t, 45.0, res.Context.SectorScore, 1e-9)
}

func TestMarketStage_MissingScore(t *testing.T) {
	px := new(mockPerplexityClient)
	px.On("ChatCompletion", mock.Anything, mock.Anything).Return(perplexityReply(`{"health":"stable"}`), nil)

	stage := NewMarketStage(px, nil, "sonar-pro", 0.2, testPolicy(), nil)
	_, err := stage.Research(context.Background(), "47.11", "Commerce")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sector score")
}

func TestMarketStage_NoSector(t *testing.T) {
	px := new(mockPerplexityClient)
	stage := NewMarketStage(px, nil, "sonar-pro", 0.2, testPolicy(), nil)

	_, err := stage.Research(context.Background(), " ", "")
	require.Error(t, err)
	px.AssertNotCalled(t, "ChatCompletion", mock.Anything, mock.Anything)
}
