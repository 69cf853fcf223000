package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store         StoreConfig         `yaml:"store" mapstructure:"store"`
	Anthropic     AnthropicConfig     `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity    PerplexityConfig    `yaml:"perplexity" mapstructure:"perplexity"`
	Mistral       MistralConfig       `yaml:"mistral" mapstructure:"mistral"`
	OCR           OCRConfig           `yaml:"ocr" mapstructure:"ocr"`
	Redis         RedisConfig         `yaml:"redis" mapstructure:"redis"`
	Notion        NotionConfig        `yaml:"notion" mapstructure:"notion"`
	Questionnaire QuestionnaireConfig `yaml:"questionnaire" mapstructure:"questionnaire"`
	Dossier       DossierConfig       `yaml:"dossier" mapstructure:"dossier"`
	Pipeline      PipelineConfig      `yaml:"pipeline" mapstructure:"pipeline"`
	Scoring       ScoringConfig       `yaml:"scoring" mapstructure:"scoring"`
	Pricing       PricingConfig       `yaml:"pricing" mapstructure:"pricing"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Monitoring    MonitoringConfig    `yaml:"monitoring" mapstructure:"monitoring"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// AnthropicConfig holds Anthropic API settings. Each stage picks its own model.
type AnthropicConfig struct {
	Key             string `yaml:"key" mapstructure:"key"`
	BaseURL         string `yaml:"base_url" mapstructure:"base_url"`
	ExtractionModel string `yaml:"extraction_model" mapstructure:"extraction_model"`
	AnalysisModel   string `yaml:"analysis_model" mapstructure:"analysis_model"`
	SynthesisModel  string `yaml:"synthesis_model" mapstructure:"synthesis_model"`
	MaxTokens       int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	Model       string  `yaml:"model" mapstructure:"model"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
}

// MistralConfig holds Mistral OCR credentials.
type MistralConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// OCRConfig configures document text extraction.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
}

// RedisConfig configures the market research cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	TTLHours int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// NotionConfig holds Notion API credentials for the questionnaire catalog.
type NotionConfig struct {
	Token             string  `yaml:"token" mapstructure:"token"`
	QuestionDB        string  `yaml:"question_db" mapstructure:"question_db"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// QuestionnaireConfig selects where the question catalog comes from:
// "embedded" (default), "file" or "notion".
type QuestionnaireConfig struct {
	Source      string `yaml:"source" mapstructure:"source"`
	CatalogPath string `yaml:"catalog_path" mapstructure:"catalog_path"`
}

// DossierConfig locates dossier manifests on disk.
type DossierConfig struct {
	Root string `yaml:"root" mapstructure:"root"`
}

// PipelineConfig configures the orchestrator.
type PipelineConfig struct {
	MaxParallelDocuments int           `yaml:"max_parallel_documents" mapstructure:"max_parallel_documents"`
	ExtractionRPS        float64       `yaml:"extraction_rps" mapstructure:"extraction_rps"`
	ExtractionBurst      int           `yaml:"extraction_burst" mapstructure:"extraction_burst"`
	MarketTimeoutSecs    int           `yaml:"market_timeout_secs" mapstructure:"market_timeout_secs"`
	RunTimeoutSecs       int           `yaml:"run_timeout_secs" mapstructure:"run_timeout_secs"`
	Retry                RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit              CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// RetryConfig configures provider retries.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures per-provider circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ScoringConfig tunes the recommendation rules.
type ScoringConfig struct {
	RevenueCapShare float64 `yaml:"revenue_cap_share" mapstructure:"revenue_cap_share"`
}

// PricingConfig holds per-provider pricing rates.
type PricingConfig struct {
	Anthropic  map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityPricing       `yaml:"perplexity" mapstructure:"perplexity"`
	Mistral    MistralPricing          `yaml:"mistral" mapstructure:"mistral"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// PerplexityPricing holds Perplexity pricing.
type PerplexityPricing struct {
	PerQuery float64 `yaml:"per_query" mapstructure:"per_query"`
}

// MistralPricing holds Mistral OCR pricing.
type MistralPricing struct {
	PerPage float64 `yaml:"per_page" mapstructure:"per_page"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures the run health checker.
type MonitoringConfig struct {
	Enabled               bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	IntervalSecs          int     `yaml:"interval_secs" mapstructure:"interval_secs"`
	LookbackHours         int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	MinRuns               int     `yaml:"min_runs" mapstructure:"min_runs"`
	FailureRateThreshold  float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	DegradedRateThreshold float64 `yaml:"degraded_rate_threshold" mapstructure:"degraded_rate_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MAYFIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "mayfin.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("anthropic.extraction_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.analysis_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.synthesis_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("perplexity.temperature", 0.2)
	v.SetDefault("mistral.model", "mistral-ocr-latest")
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("redis.ttl_hours", 168)
	v.SetDefault("notion.requests_per_second", 3)
	v.SetDefault("questionnaire.source", "embedded")
	v.SetDefault("dossier.root", "dossiers")
	v.SetDefault("pipeline.max_parallel_documents", 4)
	v.SetDefault("pipeline.extraction_rps", 2)
	v.SetDefault("pipeline.extraction_burst", 4)
	v.SetDefault("pipeline.market_timeout_secs", 45)
	v.SetDefault("pipeline.run_timeout_secs", 600)
	v.SetDefault("pipeline.retry.max_attempts", 3)
	v.SetDefault("pipeline.retry.initial_backoff_ms", 500)
	v.SetDefault("pipeline.retry.max_backoff_ms", 10000)
	v.SetDefault("pipeline.retry.multiplier", 2.0)
	v.SetDefault("pipeline.retry.jitter_fraction", 0.2)
	v.SetDefault("pipeline.circuit.failure_threshold", 5)
	v.SetDefault("pipeline.circuit.reset_timeout_secs", 30)
	v.SetDefault("scoring.revenue_cap_share", 0.25)
	v.SetDefault("pricing.perplexity.per_query", 0.005)
	v.SetDefault("pricing.mistral.per_page", 0.001)
	v.SetDefault("monitoring.interval_secs", 300)
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("monitoring.min_runs", 5)
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.degraded_rate_threshold", 0.5)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode needs. Modes: "analyze",
// "serve", "migrate", "validate".
func (c *Config) Validate(mode string) error {
	var errs []string

	storeChecks := func() {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required for postgres")
			}
		case "sqlite":
			if c.Store.SQLitePath == "" {
				errs = append(errs, "store.sqlite_path is required for sqlite")
			}
		default:
			errs = append(errs, "store.driver must be sqlite or postgres")
		}
	}
	pipelineChecks := func() {
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
		if c.Perplexity.Key == "" {
			errs = append(errs, "perplexity.key is required")
		}
		if c.OCR.Provider == "mistral" && c.Mistral.Key == "" {
			errs = append(errs, "mistral.key is required for the mistral ocr provider")
		}
		if n := c.Pipeline.MaxParallelDocuments; n < 1 || n > 32 {
			errs = append(errs, "pipeline.max_parallel_documents must be between 1 and 32")
		}
		if c.Pipeline.Retry.MaxAttempts < 1 {
			errs = append(errs, "pipeline.retry.max_attempts must be >= 1")
		}
		if s := c.Scoring.RevenueCapShare; s <= 0 || s > 1 {
			errs = append(errs, "scoring.revenue_cap_share must be in (0, 1]")
		}
	}
	catalogChecks := func() {
		switch c.Questionnaire.Source {
		case "", "embedded":
		case "file":
			if c.Questionnaire.CatalogPath == "" {
				errs = append(errs, "questionnaire.catalog_path is required for the file source")
			}
		case "notion":
			if c.Notion.Token == "" || c.Notion.QuestionDB == "" {
				errs = append(errs, "notion.token and notion.question_db are required for the notion source")
			}
		default:
			errs = append(errs, "questionnaire.source must be embedded, file or notion")
		}
	}

	switch mode {
	case "analyze":
		storeChecks()
		pipelineChecks()
		catalogChecks()
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		storeChecks()
		pipelineChecks()
		catalogChecks()
	case "migrate":
		storeChecks()
	case "validate":
		catalogChecks()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
