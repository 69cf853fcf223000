package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/okatech-org/mayfin-sub002/internal/model"
	"github.com/okatech-org/mayfin-sub002/internal/resilience"
)

func analysisWithGrowth() *FinancialAnalysis {
	return &FinancialAnalysis{
		Summary: "Croissance soutenue.",
		Signals: []model.Signal{{
			Code: SignalRevenueGrowth, Label: "Croissance", Impact: 10,
			Polarity: model.PolarityPositive, Source: sourceRatios,
		}},
	}
}

func factorByCode(factors []model.Factor, code string) (model.Factor, bool) {
	for _, f := range factors {
		if f.Code == code {
			return f, true
		}
	}
	return model.Factor{}, false
}

func TestFallbackSynthesis_WithoutMarket(t *testing.T) {
	syn := FallbackSynthesis(analysisWithGrowth(), nil)

	assert.True(t, syn.MarketDataMissing)
	assert.Equal(t, "Croissance soutenue.", syn.Assessment)
	require.Len(t, syn.Factors, 1)
	assert.Equal(t, SignalRevenueGrowth, syn.Factors[0].Code)
	assert.InDelta(t, 10.0, syn.Factors[0].Impact, 1e-9)
}

func TestFallbackSynthesis_SectorFactors(t *testing.T) {
	strong := FallbackSynthesis(analysisWithGrowth(), &model.MarketContext{SectorScore: 80})
	f, ok := factorByCode(strong.Factors, FactorSectorDynamic)
	require.True(t, ok)
	assert.InDelta(t, 10.0, f.Impact, 1e-9)
	assert.False(t, strong.MarketDataMissing)

	weak := FallbackSynthesis(analysisWithGrowth(), &model.MarketContext{SectorScore: 35, Risks: []string{"hausse des faillites"}})
	f, ok = factorByCode(weak.Factors, FactorSectorFragile)
	require.True(t, ok)
	assert.InDelta(t, -5.0, f.Impact, 1e-9)
	r, ok := factorByCode(weak.Factors, FactorSectorRisk)
	require.True(t, ok)
	assert.Contains(t, r.Label, "hausse des faillites")

	average := FallbackSynthesis(analysisWithGrowth(), &model.MarketContext{SectorScore: 50})
	assert.Len(t, average.Factors, 1)
}

func TestSynthesisStage_MergesProviderFactors(t *testing.T) {
	ai := new(mockAnthropicClient)
	ai.On("CreateMessage", mock.Anything, mock.Anything).Return(textReply(`{
		"assessment": "Dossier solide.",
		"factors": [
			{"code":"revenue_growth","label":"doublon","impact":2,"polarity":"positive"},
			{"code":"manager_track_record","label":"Dirigeant expérimenté","impact":4,"polarity":"positive"}
		]}`), nil)
	stage := NewSynthesisStage(ai, "claude-sonnet-4-5-20250929", 0, testPolicy(), nil)

	syn, err := stage.Synthesize(context.Background(), analysisWithGrowth(), &model.MarketContext{SectorScore: 50})
	require.NoError(t, err)
	assert.Equal(t, "Dossier solide.", syn.Assessment)
	assert.Len(t, syn.Factors, 2)
	f, ok := factorByCode(syn.Factors, "manager_track_record")
	require.True(t, ok)
	assert.Equal(t, sourceSynthesis, f.Source)
}

func TestSynthesisStage_ProviderFailure(t *testing.T) {
	ai := new(mockAnthropicClient)
	ai.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, resilience.NewPermanentError(errors.New("forbidden"), 403))
	stage := NewSynthesisStage(ai, "claude-sonnet-4-5-20250929", 0, testPolicy(), nil)

	_, err := stage.Synthesize(context.Background(), analysisWithGrowth(), nil)
	require.Error(t, err)
	se := stageError(context.Background(), model.StageSynthesis, "", err)
	assert.Equal(t, "synthesis: provider rejected credentials", se.Message)
	assert.NotContains(t, se.Message, "forbidden")
}

func TestSynthesisStage_NilAnalysis(t *testing.T) {
	stage := NewSynthesisStage(new(mockAnthropicClient), "", 0, testPolicy(), nil)
	_, err := stage.Synthesize(context.Background(), nil, nil)
	require.Error(t, err)
}
