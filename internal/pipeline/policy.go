package pipeline

import (
	"context"
	"errors"

	"github.com/okatech-org/mayfin-sub002/internal/config"
	"github.com/okatech-org/mayfin-sub002/internal/cost"
	"github.com/okatech-org/mayfin-sub002/internal/model"
	"github.com/okatech-org/mayfin-sub002/internal/resilience"
	"github.com/okatech-org/mayfin-sub002/pkg/anthropic"
)

// Provider names used for circuit breakers and logs.
const (
	providerOCR        = "ocr"
	providerAnthropic  = "anthropic"
	providerPerplexity = "perplexity"
)

// Policy bundles the retry policy and circuit breakers shared by every
// provider call a stage makes.
type Policy struct {
	Retry    resilience.RetryConfig
	Breakers *resilience.ServiceBreakers
}

// DefaultPolicy returns two retries with exponential backoff and default breakers.
func DefaultPolicy() Policy {
	return Policy{
		Retry:    resilience.DefaultRetryConfig(),
		Breakers: resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig()),
	}
}

// PolicyFromConfig builds the policy described by the pipeline settings.
func PolicyFromConfig(pc config.PipelineConfig) Policy {
	return Policy{
		Retry:    resilience.RetryFromConfig(pc.Retry),
		Breakers: resilience.NewServiceBreakers(resilience.CircuitFromConfig(pc.Circuit)),
	}
}

func call[T any](ctx context.Context, p Policy, provider, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	retry := p.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger(provider, operation)
	}
	return resilience.Call(ctx, p.Breakers, retry, provider, fn)
}

// errorKind maps an error onto the stage error taxonomy.
func errorKind(ctx context.Context, err error) model.ErrorKind {
	switch {
	case ctx.Err() != nil, errors.Is(err, context.Canceled):
		return model.ErrorCancelled
	case resilience.IsTransient(err):
		return model.ErrorTransient
	default:
		return model.ErrorPermanent
	}
}

// stageError builds a caller-safe StageError. Provider bodies stay in logs.
func stageError(ctx context.Context, stage model.StageName, docID string, err error) model.StageError {
	kind := errorKind(ctx, err)
	return model.StageError{
		Stage:      stage,
		DocumentID: docID,
		Kind:       kind,
		Attempts:   resilience.Attempts(err),
		Message:    safeMessage(stage, kind, err),
	}
}

func safeMessage(stage model.StageName, kind model.ErrorKind, err error) string {
	if kind == model.ErrorCancelled {
		return string(stage) + ": cancelled"
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return string(stage) + ": provider unavailable (circuit open)"
	}
	if resilience.IsExhausted(err) {
		return string(stage) + ": provider unavailable after retries"
	}
	var perm *resilience.PermanentError
	if errors.As(err, &perm) && perm.StatusCode > 0 {
		switch perm.StatusCode {
		case 401, 403:
			return string(stage) + ": provider rejected credentials"
		case 429:
			return string(stage) + ": provider quota exceeded"
		default:
			return string(stage) + ": provider rejected the request"
		}
	}
	var se *safeError
	if errors.As(err, &se) {
		return string(stage) + ": " + se.msg
	}
	return string(stage) + ": " + string(kind) + " failure"
}

// safeError marks an error whose message is safe to surface verbatim.
type safeError struct {
	msg string
}

func (e *safeError) Error() string { return e.msg }

func newSafeError(msg string) error {
	return resilience.NewPermanentError(&safeError{msg: msg}, 0)
}

// claudeUsage converts a Claude reply's token counts into attributed usage.
func claudeUsage(costs *cost.Calculator, modelID string, resp *anthropic.MessageResponse) model.TokenUsage {
	if resp == nil {
		return model.TokenUsage{}
	}
	u := resp.Usage
	return model.TokenUsage{
		InputTokens:  int(u.InputTokens),
		OutputTokens: int(u.OutputTokens),
		Cost:         costs.Claude(modelID, u.InputTokens, u.OutputTokens, u.CacheCreationInputTokens, u.CacheReadInputTokens),
	}
}
