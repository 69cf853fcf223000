package main

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/okatech-org/mayfin-sub002/internal/analysis"
	"github.com/okatech-org/mayfin-sub002/internal/cache"
	"github.com/okatech-org/mayfin-sub002/internal/cost"
	"github.com/okatech-org/mayfin-sub002/internal/dossier"
	"github.com/okatech-org/mayfin-sub002/internal/ocr"
	"github.com/okatech-org/mayfin-sub002/internal/pipeline"
	"github.com/okatech-org/mayfin-sub002/internal/questionnaire"
	"github.com/okatech-org/mayfin-sub002/internal/scorer"
	"github.com/okatech-org/mayfin-sub002/internal/store"
	anthropicpkg "github.com/okatech-org/mayfin-sub002/pkg/anthropic"
	"github.com/okatech-org/mayfin-sub002/pkg/notion"
	"github.com/okatech-org/mayfin-sub002/pkg/perplexity"
)

// analysisEnv holds the store, clients and service needed by the analyze
// and serve commands.
type analysisEnv struct {
	Store   store.Store
	Service *analysis.Service
	Redis   *redis.Client // may be nil
}

// Close releases resources held by the environment.
func (e *analysisEnv) Close() {
	if e.Redis != nil {
		_ = e.Redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured store and applies its schema.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// notionTimeout bounds each HTTP exchange with Notion.
const notionTimeout = 30 * time.Second

// newNotionClient returns nil when no token is configured.
func newNotionClient() notion.Client {
	if cfg.Notion.Token == "" {
		return nil
	}
	return notion.NewClient(cfg.Notion.Token,
		notion.WithRateLimit(cfg.Notion.RequestsPerSecond),
		notion.WithHTTPClient(&http.Client{Timeout: notionTimeout}),
	)
}

// initValidator loads the question catalog from its configured source.
func initValidator(ctx context.Context) (*questionnaire.Validator, error) {
	cat, err := questionnaire.Load(ctx, cfg.Questionnaire, newNotionClient(), cfg.Notion.QuestionDB)
	if err != nil {
		return nil, eris.Wrap(err, "load question catalog")
	}
	v, err := questionnaire.NewValidator(cat)
	if err != nil {
		return nil, eris.Wrap(err, "build validator")
	}
	zap.L().Debug("question catalog loaded",
		zap.String("source", cfg.Questionnaire.Source),
		zap.String("version", cat.Version),
		zap.Int("questions", len(cat.Questions)),
	)
	return v, nil
}

// initMarketCache connects to Redis when an address is configured. The
// returned client is nil when caching is disabled.
func initMarketCache(ctx context.Context) (cache.MarketCache, *redis.Client) {
	if cfg.Redis.Addr == "" {
		zap.L().Debug("MAYFIN_REDIS_ADDR not set, market cache disabled")
		return cache.Noop{}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		// Market research still works without the cache.
		zap.L().Warn("redis unreachable, market cache disabled", zap.Error(err))
		_ = client.Close()
		return cache.Noop{}, nil
	}
	return cache.NewMarketCache(client, time.Duration(cfg.Redis.TTLHours)*time.Hour), client
}

// newOrchestrator wires the four stages onto their providers.
func newOrchestrator(ext ocr.Extractor, ai anthropicpkg.Client, px perplexity.Client, mc cache.MarketCache) *pipeline.Orchestrator {
	policy := pipeline.PolicyFromConfig(cfg.Pipeline)
	costs := cost.NewCalculator(cost.RatesFromConfig(cfg.Pricing))
	ac := cfg.Anthropic

	var limiter *rate.Limiter
	if cfg.Pipeline.ExtractionRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Pipeline.ExtractionRPS), max(cfg.Pipeline.ExtractionBurst, 1))
	}

	return pipeline.NewOrchestrator(
		pipeline.NewExtractionStage(ext, ai, ac.ExtractionModel, ac.MaxTokens, policy, costs),
		pipeline.NewFinancialStage(ai, ac.AnalysisModel, ac.MaxTokens, policy, costs),
		pipeline.NewMarketStage(px, mc, cfg.Perplexity.Model, cfg.Perplexity.Temperature, policy, costs),
		pipeline.NewSynthesisStage(ai, ac.SynthesisModel, ac.MaxTokens, policy, costs),
		pipeline.Options{
			MaxParallelDocuments: cfg.Pipeline.MaxParallelDocuments,
			ExtractionLimiter:    limiter,
			MarketTimeout:        time.Duration(cfg.Pipeline.MarketTimeoutSecs) * time.Second,
		},
	)
}

// initAnalysis validates the config for mode, then builds the store, the
// providers and the analysis service. Callers should defer env.Close().
func initAnalysis(ctx context.Context, mode string) (*analysisEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	scoring := scorer.ConfigFromSettings(cfg.Scoring)
	if err := scorer.ValidateConfig(scoring); err != nil {
		return nil, eris.Wrap(err, "scoring config")
	}

	validator, err := initValidator(ctx)
	if err != nil {
		return nil, err
	}

	extractor, err := ocr.NewExtractor(cfg.OCR, cfg.Mistral)
	if err != nil {
		return nil, eris.Wrap(err, "init ocr")
	}

	var aiOpts []anthropicpkg.Option
	if cfg.Anthropic.BaseURL != "" {
		aiOpts = append(aiOpts, anthropicpkg.WithBaseURL(cfg.Anthropic.BaseURL))
	}
	aiClient := anthropicpkg.NewClient(cfg.Anthropic.Key, aiOpts...)
	pxClient := perplexity.NewClient(cfg.Perplexity.Key,
		perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
		perplexity.WithModel(cfg.Perplexity.Model),
	)

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	marketCache, redisClient := initMarketCache(ctx)
	env := &analysisEnv{Store: st, Redis: redisClient}

	env.Service = analysis.NewService(
		dossier.NewFileSource(cfg.Dossier.Root),
		validator,
		newOrchestrator(extractor, aiClient, pxClient, marketCache),
		scorer.NewEngine(scoring),
		st,
		analysis.WithRunTimeout(time.Duration(cfg.Pipeline.RunTimeoutSecs)*time.Second),
	)

	zap.L().Info("analysis environment ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("ocr", cfg.OCR.Provider),
		zap.Bool("market_cache", redisClient != nil),
	)
	return env, nil
}
