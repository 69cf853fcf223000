package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/okatech-org/mayfin-sub002/internal/config"
)

func testRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"haiku": {
				Input: 0.80, Output: 4.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"sonnet": {
				Input: 3.00, Output: 15.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
		Perplexity: PerplexityRate{PerQuery: 0.005},
		Mistral:    MistralRate{PerPage: 0.001},
	}
}

func TestClaude(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	tests := []struct {
		name       string
		model      string
		input      int64
		output     int64
		cacheWrite int64
		cacheRead  int64
		want       float64
	}{
		{
			name:  "haiku simple",
			model: "haiku",
			input: 1000000, output: 100000,
			want: 0.80 + 0.40,
		},
		{
			name:  "sonnet simple",
			model: "sonnet",
			input: 1000000, output: 1000000,
			want: 3.00 + 15.00,
		},
		{
			name:       "sonnet with cache",
			model:      "sonnet",
			cacheWrite: 1000000, cacheRead: 1000000,
			want: 3.00*1.25 + 3.00*0.1,
		},
		{
			name:  "unknown model",
			model: "gpt-4",
			input: 1000000, output: 1000000,
			want: 0,
		},
		{
			name:  "zero tokens",
			model: "haiku",
			want:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := calc.Claude(tt.model, tt.input, tt.output, tt.cacheWrite, tt.cacheRead)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestPerplexityQuery(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 0.005, NewCalculator(testRates()).PerplexityQuery(), 1e-9)
}

func TestOCRPages(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())
	assert.InDelta(t, 0.012, calc.OCRPages(12), 1e-9)
	assert.Zero(t, calc.OCRPages(0))
}

func TestNilCalculator(t *testing.T) {
	t.Parallel()
	var calc *Calculator
	assert.Zero(t, calc.Claude("haiku", 1, 1, 0, 0))
	assert.Zero(t, calc.PerplexityQuery())
	assert.Zero(t, calc.OCRPages(3))
}

func TestDefaultRates(t *testing.T) {
	t.Parallel()
	rates := DefaultRates()

	assert.Contains(t, rates.Anthropic, "claude-haiku-4-5-20251001")
	assert.Contains(t, rates.Anthropic, "claude-sonnet-4-5-20250929")
	assert.Contains(t, rates.Anthropic, "claude-opus-4-6")
	assert.InDelta(t, 0.005, rates.Perplexity.PerQuery, 1e-9)
	assert.InDelta(t, 0.001, rates.Mistral.PerPage, 1e-9)
}

func TestRatesFromConfig(t *testing.T) {
	t.Parallel()
	rates := RatesFromConfig(config.PricingConfig{
		Anthropic: map[string]config.ModelPricing{
			"claude-haiku-4-5-20251001": {Input: 1.00, Output: 5.00},
			"custom":                    {Input: 2.00, Output: 8.00},
		},
		Perplexity: config.PerplexityPricing{PerQuery: 0.01},
	})

	assert.InDelta(t, 1.00, rates.Anthropic["claude-haiku-4-5-20251001"].Input, 1e-9)
	assert.InDelta(t, 2.00, rates.Anthropic["custom"].Input, 1e-9)
	assert.Contains(t, rates.Anthropic, "claude-opus-4-6")
	assert.InDelta(t, 0.01, rates.Perplexity.PerQuery, 1e-9)
	assert.InDelta(t, 0.001, rates.Mistral.PerPage, 1e-9)
}
