package pipeline

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/okatech-org/mayfin-sub002/internal/model"
	"github.com/okatech-org/mayfin-sub002/internal/ocr"
	"github.com/okatech-org/mayfin-sub002/internal/resilience"
	"github.com/okatech-org/mayfin-sub002/pkg/anthropic"
	"github.com/okatech-org/mayfin-sub002/pkg/perplexity"
)

// --- Anthropic Mock ---

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

// --- Perplexity Mock ---

type mockPerplexityClient struct {
	mock.Mock
}

func (m *mockPerplexityClient) ChatCompletion(ctx context.Context, req perplexity.ChatCompletionRequest) (*perplexity.ChatCompletionResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*perplexity.ChatCompletionResponse), args.Error(1)
}

// --- OCR Mock ---

type mockOCR struct {
	mock.Mock
}

func (m *mockOCR) ExtractText(ctx context.Context, doc model.Document) (*ocr.Text, error) {
	args := m.Called(ctx, doc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ocr.Text), args.Error(1)
}

// --- Market cache Mock ---

type mockMarketCache struct {
	mock.Mock
}

func (m *mockMarketCache) Get(ctx context.Context, code, label string) (*model.MarketContext, bool, error) {
	args := m.Called(ctx, code, label)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*model.MarketContext), args.Bool(1), args.Error(2)
}

func (m *mockMarketCache) Set(ctx context.Context, mc *model.MarketContext) error {
	args := m.Called(ctx, mc)
	return args.Error(0)
}

// --- Stage Mocks ---

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) Extract(ctx context.Context, doc model.Document) (*model.DocumentFacts, error) {
	args := m.Called(ctx, doc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DocumentFacts), args.Error(1)
}

type mockFinancial struct {
	mock.Mock
}

func (m *mockFinancial) Analyze(ctx context.Context, facts model.FinancialFacts) (*FinancialAnalysis, error) {
	args := m.Called(ctx, facts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*FinancialAnalysis), args.Error(1)
}

type mockMarket struct {
	mock.Mock
}

func (m *mockMarket) Research(ctx context.Context, code, label string) (*MarketResult, error) {
	args := m.Called(ctx, code, label)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*MarketResult), args.Error(1)
}

type mockSynthesizer struct {
	mock.Mock
}

func (m *mockSynthesizer) Synthesize(ctx context.Context, fa *FinancialAnalysis, market *model.MarketContext) (*Synthesis, error) {
	args := m.Called(ctx, fa, market)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Synthesis), args.Error(1)
}

// testPolicy retries quickly and never trips breakers across tests.
func testPolicy() Policy {
	return Policy{
		Retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
			Multiplier:     2,
		},
		Breakers: resilience.NewServiceBreakers(resilience.CircuitBreakerConfig{FailureThreshold: 100}),
	}
}

func textReply(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 1000, OutputTokens: 200},
	}
}

func year(y int) *int { return &y }
