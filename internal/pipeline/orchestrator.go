// Package pipeline runs the dossier analysis stages: per-document
// extraction, financial analysis, market research and synthesis.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/okatech-org/mayfin-sub002/internal/model"
	"github.com/okatech-org/mayfin-sub002/internal/resilience"
)

// DocumentExtractor extracts facts from one document.
type DocumentExtractor interface {
	Extract(ctx context.Context, doc model.Document) (*model.DocumentFacts, error)
}

// FinancialAnalyzer turns merged facts into ratios and signals.
type FinancialAnalyzer interface {
	Analyze(ctx context.Context, facts model.FinancialFacts) (*FinancialAnalysis, error)
}

// MarketResearcher produces sector context.
type MarketResearcher interface {
	Research(ctx context.Context, sectorCode, sectorLabel string) (*MarketResult, error)
}

// Synthesizer merges the analysis into factors.
type Synthesizer interface {
	Synthesize(ctx context.Context, fa *FinancialAnalysis, market *model.MarketContext) (*Synthesis, error)
}

// Options tunes the orchestrator.
type Options struct {
	// MaxParallelDocuments caps concurrent extractions. Default: 4.
	MaxParallelDocuments int
	// ExtractionLimiter throttles extraction starts. Nil means unthrottled.
	ExtractionLimiter *rate.Limiter
	// MarketTimeout bounds market research. Zero means the run deadline only.
	MarketTimeout time.Duration
}

// RunContext is the immutable input of one pipeline run.
type RunContext struct {
	DossierID   string
	RunID       string
	SectorCode  string
	SectorLabel string
	Documents   []model.Document
}

// Orchestrator sequences the stages and owns the run's outcome.
type Orchestrator struct {
	extractor DocumentExtractor
	financial FinancialAnalyzer
	market    MarketResearcher
	synthesis Synthesizer
	opts      Options
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(extractor DocumentExtractor, financial FinancialAnalyzer, market MarketResearcher, synthesis Synthesizer, opts Options) *Orchestrator {
	if opts.MaxParallelDocuments <= 0 {
		opts.MaxParallelDocuments = 4
	}
	return &Orchestrator{
		extractor: extractor,
		financial: financial,
		market:    market,
		synthesis: synthesis,
		opts:      opts,
	}
}

type marketDone struct {
	result *MarketResult
	err    error
	stage  model.StageResult
	serr   *model.StageError
}

// Run executes the pipeline. The returned outcome is always fully formed;
// failures are reported through its status and stage errors. An error is
// returned only for an unusable run context.
func (o *Orchestrator) Run(ctx context.Context, rc RunContext) (*model.PipelineOutcome, error) {
	if rc.DossierID == "" {
		return nil, eris.New("pipeline: run context has no dossier id")
	}
	log := zap.L().With(zap.String("dossier_id", rc.DossierID), zap.String("run_id", rc.RunID))
	log.Info("pipeline: starting run", zap.Int("documents", len(rc.Documents)))

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	b := newOutcomeBuilder(rc)

	// Market research needs only the sector, so it starts right away and
	// runs alongside extraction and financial analysis.
	g, gctx := errgroup.WithContext(runCtx)
	var market marketDone
	g.Go(func() error {
		market = o.runMarket(gctx, log, rc)
		return nil
	})

	// ===== Extraction =====
	facts, extracted := o.runExtraction(runCtx, log, rc.Documents, b)
	if ctx.Err() != nil {
		cancelRun()
		_ = g.Wait()
		return b.cancelled(model.StageExtraction), nil
	}
	if extracted == 0 {
		cancelRun()
		_ = g.Wait()
		b.skip(model.StageMarket)
		return b.failed(), nil
	}

	// ===== Financial analysis, joined with market research =====
	var fa *FinancialAnalysis
	var faStage model.StageResult
	var faErr error
	g.Go(func() error {
		timer := startStage(model.StageFinancial)
		fa, faErr = o.financial.Analyze(gctx, facts)
		if faErr != nil {
			faStage = timer.finish(log, model.StageStatusFailed, model.TokenUsage{}, nil, faErr)
			return faErr
		}
		faStage = timer.finish(log, model.StageStatusComplete, fa.TokenUsage, map[string]any{
			"ratios":  len(fa.Ratios),
			"signals": len(fa.Signals),
		}, nil)
		return nil
	})
	_ = g.Wait()

	b.stage(faStage)
	if ctx.Err() != nil {
		b.stage(market.stage)
		return b.cancelled(model.StageFinancial), nil
	}
	if faErr != nil {
		b.stageError(stageError(runCtx, model.StageFinancial, "", faErr))
		b.skip(model.StageMarket)
		b.outcome.Facts = facts
		return b.failed(), nil
	}

	b.stage(market.stage)
	var mc *model.MarketContext
	if market.err != nil {
		b.stageError(*market.serr)
		b.outcome.Degraded = true
	} else {
		mc = market.result.Context
	}

	// ===== Synthesis =====
	timer := startStage(model.StageSynthesis)
	syn, synErr := o.synthesis.Synthesize(runCtx, fa, mc)
	if ctx.Err() != nil {
		b.stage(timer.finish(log, model.StageStatusFailed, model.TokenUsage{}, nil, ctx.Err()))
		return b.cancelled(model.StageSynthesis), nil
	}
	if synErr != nil {
		b.stage(timer.finish(log, model.StageStatusDegraded, model.TokenUsage{}, nil, synErr))
		b.stageError(stageError(runCtx, model.StageSynthesis, "", synErr))
		b.outcome.Degraded = true
		syn = FallbackSynthesis(fa, mc)
	} else {
		b.stage(timer.finish(log, model.StageStatusComplete, syn.TokenUsage, map[string]any{
			"factors": len(syn.Factors),
		}, nil))
	}

	out := b.succeeded(facts, fa, mc, syn)
	log.Info("pipeline: run complete",
		zap.String("status", string(out.Status)),
		zap.Bool("market_data_missing", out.MarketDataMissing),
		zap.Float64("cost_usd", out.TotalCost),
	)
	return out, nil
}

// runExtraction extracts every document with bounded parallelism and merges
// the facts in input order. It returns the number of financial documents
// extracted successfully, or zero when no fiscal year of facts survived.
func (o *Orchestrator) runExtraction(ctx context.Context, log *zap.Logger, docs []model.Document, b *outcomeBuilder) (model.FinancialFacts, int) {
	timer := startStage(model.StageExtraction)

	results := make([]*model.DocumentFacts, len(docs))
	errs := make([]error, len(docs))

	var eg errgroup.Group
	eg.SetLimit(o.opts.MaxParallelDocuments)
	for i, doc := range docs {
		eg.Go(func() error {
			if o.opts.ExtractionLimiter != nil {
				if err := o.opts.ExtractionLimiter.Wait(ctx); err != nil {
					errs[i] = err
					return nil
				}
			}
			results[i], errs[i] = o.extractor.Extract(ctx, doc)
			return nil
		})
	}
	_ = eg.Wait()

	var usage model.TokenUsage
	financialDocs, extracted := 0, 0
	for i, doc := range docs {
		if doc.Type.IsFinancial() {
			financialDocs++
		}
		if errs[i] != nil {
			log.Warn("pipeline: document extraction failed",
				zap.String("document_id", doc.ID),
				zap.String("kind", resilience.ClassifyError(errs[i])),
				zap.Error(errs[i]),
			)
			b.stageError(stageError(ctx, model.StageExtraction, doc.ID, errs[i]))
			continue
		}
		usage.Add(results[i].TokenUsage)
		if doc.Type.IsFinancial() {
			extracted++
		}
	}

	facts := model.NewFinancialFacts()
	allowed := allowedYears(docs, results)
	for i := range docs {
		if results[i] != nil && errs[i] == nil {
			facts.Merge(results[i].Facts, func(year int) bool { return allowed[year] })
		}
	}

	meta := map[string]any{
		"documents":           len(docs),
		"financial_documents": financialDocs,
		"extracted":           extracted,
		"years":               len(facts.SortedYears()),
	}

	switch {
	case ctx.Err() != nil:
		b.stage(timer.finish(log, model.StageStatusFailed, usage, meta, ctx.Err()))
	case extracted == 0:
		msg := "extraction: no financial document could be extracted"
		if financialDocs == 0 {
			msg = "extraction: dossier has no financial statements"
		}
		b.stageError(model.StageError{Stage: model.StageExtraction, Kind: model.ErrorPermanent, Message: msg})
		b.stage(timer.finish(log, model.StageStatusFailed, usage, meta, errors.New(msg)))
	case facts.Empty():
		msg := "extraction: no fiscal year facts extracted"
		b.stageError(model.StageError{Stage: model.StageExtraction, Kind: model.ErrorPermanent, Message: msg})
		b.stage(timer.finish(log, model.StageStatusFailed, usage, meta, errors.New(msg)))
		return model.NewFinancialFacts(), 0
	case extracted < financialDocs:
		b.stage(timer.finish(log, model.StageStatusDegraded, usage, meta, nil))
	default:
		b.stage(timer.finish(log, model.StageStatusComplete, usage, meta, nil))
	}

	if extracted == 0 {
		return model.NewFinancialFacts(), 0
	}
	return facts, extracted
}

// allowedYears returns the fiscal years facts may cover: the declared years
// of financial documents plus, for documents without a declared year, the
// years they report.
func allowedYears(docs []model.Document, results []*model.DocumentFacts) map[int]bool {
	allowed := make(map[int]bool)
	for i, doc := range docs {
		if !doc.Type.IsFinancial() {
			continue
		}
		if doc.FiscalYear != nil {
			allowed[*doc.FiscalYear] = true
			continue
		}
		if results[i] == nil {
			continue
		}
		for year := range results[i].Facts.Years {
			allowed[year] = true
		}
	}
	return allowed
}

func (o *Orchestrator) runMarket(ctx context.Context, log *zap.Logger, rc RunContext) marketDone {
	mctx := ctx
	if o.opts.MarketTimeout > 0 {
		var cancel context.CancelFunc
		mctx, cancel = context.WithTimeout(ctx, o.opts.MarketTimeout)
		defer cancel()
	}

	timer := startStage(model.StageMarket)
	res, err := o.market.Research(mctx, rc.SectorCode, rc.SectorLabel)
	if err == nil && (res == nil || res.Context == nil) {
		err = newSafeError("market research returned no context")
	}
	if err != nil {
		var serr model.StageError
		if ctx.Err() == nil && errors.Is(mctx.Err(), context.DeadlineExceeded) {
			serr = model.StageError{
				Stage:   model.StageMarket,
				Kind:    model.ErrorTransient,
				Message: "market_research: timed out",
			}
		} else {
			serr = stageError(ctx, model.StageMarket, "", err)
		}
		return marketDone{
			err:   err,
			serr:  &serr,
			stage: timer.finish(log, model.StageStatusDegraded, model.TokenUsage{}, nil, err),
		}
	}
	return marketDone{
		result: res,
		stage: timer.finish(log, model.StageStatusComplete, res.TokenUsage, map[string]any{
			"from_cache":   res.Context.FromCache,
			"sector_score": res.Context.SectorScore,
		}, nil),
	}
}
