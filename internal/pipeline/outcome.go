package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/okatech-org/mayfin-sub002/internal/model"
)

// stageTimer measures one stage and turns it into a StageResult.
type stageTimer struct {
	name  model.StageName
	start time.Time
}

func startStage(name model.StageName) stageTimer {
	return stageTimer{name: name, start: time.Now()}
}

func (t stageTimer) finish(log *zap.Logger, status model.StageStatus, usage model.TokenUsage, meta map[string]any, err error) model.StageResult {
	res := model.StageResult{
		Name:       t.name,
		Status:     status,
		Duration:   time.Since(t.start).Milliseconds(),
		TokenUsage: usage,
		Metadata:   meta,
	}
	if err != nil {
		res.Error = safeMessage(t.name, errorKind(context.Background(), err), err)
		log.Warn("pipeline: stage "+string(status),
			zap.String("stage", string(t.name)),
			zap.Int64("duration_ms", res.Duration),
			zap.Error(err),
		)
		return res
	}
	log.Info("pipeline: stage "+string(status),
		zap.String("stage", string(t.name)),
		zap.Int64("duration_ms", res.Duration),
		zap.Int("input_tokens", usage.InputTokens),
		zap.Int("output_tokens", usage.OutputTokens),
	)
	return res
}

// outcomeBuilder accumulates the run's outcome. Only the orchestrator
// goroutine touches it; concurrent stages hand their results back first.
type outcomeBuilder struct {
	outcome model.PipelineOutcome
	spent   model.TokenUsage
}

func newOutcomeBuilder(rc RunContext) *outcomeBuilder {
	return &outcomeBuilder{outcome: model.PipelineOutcome{
		DossierID:   rc.DossierID,
		RunID:       rc.RunID,
		Facts:       model.NewFinancialFacts(),
		StageErrors: []model.StageError{},
	}}
}

func (b *outcomeBuilder) stage(sr model.StageResult) {
	if sr.Name == "" {
		return
	}
	b.outcome.Stages = append(b.outcome.Stages, sr)
	b.spent.Add(sr.TokenUsage)
}

func (b *outcomeBuilder) stageError(se model.StageError) {
	b.outcome.StageErrors = append(b.outcome.StageErrors, se)
}

func (b *outcomeBuilder) skip(name model.StageName) {
	b.outcome.Stages = append(b.outcome.Stages, model.StageResult{Name: name, Status: model.StageStatusSkipped})
}

func (b *outcomeBuilder) finalize(status model.OutcomeStatus) *model.PipelineOutcome {
	b.outcome.Status = status
	b.outcome.TotalCost = b.spent.Cost
	out := b.outcome
	return &out
}

func (b *outcomeBuilder) failed() *model.PipelineOutcome {
	return b.finalize(model.OutcomeFailed)
}

// cancelled discards every partial analysis result; only the audit trail
// of stages and errors survives.
func (b *outcomeBuilder) cancelled(at model.StageName) *model.PipelineOutcome {
	b.stageError(model.StageError{
		Stage:   at,
		Kind:    model.ErrorCancelled,
		Message: string(at) + ": cancelled",
	})
	b.outcome.Facts = model.NewFinancialFacts()
	b.outcome.Ratios = nil
	b.outcome.Signals = nil
	b.outcome.Factors = nil
	b.outcome.Assessment = ""
	b.outcome.MarketContext = nil
	b.outcome.Degraded = false
	return b.finalize(model.OutcomeCancelled)
}

func (b *outcomeBuilder) succeeded(facts model.FinancialFacts, fa *FinancialAnalysis, mc *model.MarketContext, syn *Synthesis) *model.PipelineOutcome {
	b.outcome.Facts = facts
	b.outcome.Ratios = fa.Ratios
	b.outcome.Signals = fa.Signals
	b.outcome.Factors = syn.Factors
	b.outcome.Assessment = syn.Assessment
	b.outcome.MarketContext = mc
	b.outcome.MarketDataMissing = mc == nil
	if mc == nil {
		b.outcome.Degraded = true
	}
	if b.outcome.Degraded {
		return b.finalize(model.OutcomeDegraded)
	}
	return b.finalize(model.OutcomeSucceeded)
}
