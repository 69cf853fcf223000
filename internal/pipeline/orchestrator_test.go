package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/okatech-org/mayfin-sub002/internal/model"
	"github.com/okatech-org/mayfin-sub002/internal/resilience"
)

type orchestratorFixture struct {
	extractor *mockExtractor
	financial *mockFinancial
	market    *mockMarket
	synth     *mockSynthesizer
	orch      *Orchestrator
}

func newFixture(opts Options) *orchestratorFixture {
	f := &orchestratorFixture{
		extractor: new(mockExtractor),
		financial: new(mockFinancial),
		market:    new(mockMarket),
		synth:     new(mockSynthesizer),
	}
	f.orch = NewOrchestrator(f.extractor, f.financial, f.market, f.synth, opts)
	return f
}

func runContext(docs ...model.Document) RunContext {
	return RunContext{
		DossierID:   "D1",
		RunID:       "run-1",
		SectorCode:  "56.10A",
		SectorLabel: "Restauration",
		Documents:   docs,
	}
}

func bilans() (model.Document, model.Document) {
	return model.Document{ID: "b23", Type: model.DocBilan, FiscalYear: year(2023)},
		model.Document{ID: "b22", Type: model.DocBilan, FiscalYear: year(2022)}
}

func docFacts(id string, y int, revenue float64) *model.DocumentFacts {
	return &model.DocumentFacts{
		DocumentID: id,
		Facts:      factsOf(map[int]map[model.LineItem]float64{y: {model.ItemRevenue: revenue}}),
		TokenUsage: model.TokenUsage{Cost: 0.01},
	}
}

func (f *orchestratorFixture) extractBoth() {
	b23, b22 := bilans()
	f.extractor.On("Extract", mock.Anything, b23).Return(docFacts("b23", 2023, 1_200_000), nil)
	f.extractor.On("Extract", mock.Anything, b22).Return(docFacts("b22", 2022, 1_000_000), nil)
}

func stageNames(out *model.PipelineOutcome) []model.StageName {
	names := make([]model.StageName, len(out.Stages))
	for i, s := range out.Stages {
		names[i] = s.Name
	}
	return names
}

func TestOrchestrator_Success(t *testing.T) {
	f := newFixture(Options{})
	f.extractBoth()
	fa := analysisWithGrowth()
	fa.TokenUsage = model.TokenUsage{Cost: 0.02}
	mc := &model.MarketContext{SectorCode: "56.10A", SectorScore: 70}
	syn := &Synthesis{Factors: []model.Factor{{Code: "x", Impact: 3}}, Assessment: "ok", TokenUsage: model.TokenUsage{Cost: 0.03}}

	f.financial.On("Analyze", mock.Anything, mock.MatchedBy(func(facts model.FinancialFacts) bool {
		return len(facts.SortedYears()) == 2
	})).Return(fa, nil)
	f.market.On("Research", mock.Anything, "56.10A", "Restauration").
		Return(&MarketResult{Context: mc, TokenUsage: model.TokenUsage{Cost: 0.005}}, nil)
	f.synth.On("Synthesize", mock.Anything, fa, mc).Return(syn, nil)

	b23, b22 := bilans()
	out, err := f.orch.Run(context.Background(), runContext(b23, b22))
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeSucceeded, out.Status)
	assert.False(t, out.Degraded)
	assert.False(t, out.MarketDataMissing)
	assert.Empty(t, out.StageErrors)
	assert.Same(t, mc, out.MarketContext)
	assert.Equal(t, syn.Factors, out.Factors)
	assert.Equal(t, "ok", out.Assessment)
	assert.Equal(t, []model.StageName{model.StageExtraction, model.StageFinancial, model.StageMarket, model.StageSynthesis}, stageNames(out))
	assert.InDelta(t, 0.075, out.TotalCost, 1e-9)
	f.synth.AssertExpectations(t)
}

func TestOrchestrator_MarketFailureDegrades(t *testing.T) {
	f := newFixture(Options{})
	f.extractBoth()
	fa := analysisWithGrowth()
	f.financial.On("Analyze", mock.Anything, mock.Anything).Return(fa, nil)
	f.market.On("Research", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, &resilience.PermanentError{Err: errors.New("perplexity: 503 upstream body"), Exhausted: true, Attempts: 3})
	f.synth.On("Synthesize", mock.Anything, fa, (*model.MarketContext)(nil)).Return(FallbackSynthesis(fa, nil), nil)

	b23, b22 := bilans()
	out, err := f.orch.Run(context.Background(), runContext(b23, b22))
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeDegraded, out.Status)
	assert.True(t, out.Degraded)
	assert.True(t, out.MarketDataMissing)
	assert.Nil(t, out.MarketContext)
	require.Len(t, out.StageErrors, 1)
	se := out.StageErrors[0]
	assert.Equal(t, model.StageMarket, se.Stage)
	assert.Equal(t, 3, se.Attempts)
	assert.Equal(t, "market_research: provider unavailable after retries", se.Message)
	assert.NotContains(t, se.Message, "upstream body")
	f.synth.AssertExpectations(t)
}

func TestOrchestrator_MarketTimeoutDegrades(t *testing.T) {
	f := newFixture(Options{MarketTimeout: 20 * time.Millisecond})
	f.extractBoth()
	fa := analysisWithGrowth()
	f.financial.On("Analyze", mock.Anything, mock.Anything).Return(fa, nil)
	f.market.On("Research", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)
	f.synth.On("Synthesize", mock.Anything, fa, (*model.MarketContext)(nil)).Return(FallbackSynthesis(fa, nil), nil)

	b23, b22 := bilans()
	out, err := f.orch.Run(context.Background(), runContext(b23, b22))
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeDegraded, out.Status)
	require.Len(t, out.StageErrors, 1)
	assert.Equal(t, model.ErrorTransient, out.StageErrors[0].Kind)
	assert.Equal(t, "market_research: timed out", out.StageErrors[0].Message)
}

func TestOrchestrator_AllExtractionsFail(t *testing.T) {
	f := newFixture(Options{})
	b23, b22 := bilans()
	f.extractor.On("Extract", mock.Anything, mock.Anything).
		Return(nil, resilience.NewPermanentError(errors.New("unreadable"), 0))
	f.market.On("Research", mock.Anything, mock.Anything, mock.Anything).
		Return(&MarketResult{Context: &model.MarketContext{SectorScore: 50}}, nil).Maybe()

	out, err := f.orch.Run(context.Background(), runContext(b23, b22))
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeFailed, out.Status)
	assert.True(t, out.Facts.Empty())
	assert.Len(t, out.StageErrors, 3, "one per document plus the stage failure")
	failed, ok := out.FailedStage()
	require.True(t, ok)
	assert.Equal(t, model.StageExtraction, failed.Stage)
	f.financial.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
	f.synth.AssertNotCalled(t, "Synthesize", mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestrator_NoFinancialDocuments(t *testing.T) {
	f := newFixture(Options{})
	kbis := model.Document{ID: "k", Type: model.DocKbis}
	f.extractor.On("Extract", mock.Anything, kbis).Return(&model.DocumentFacts{DocumentID: "k", Facts: model.NewFinancialFacts()}, nil)
	f.market.On("Research", mock.Anything, mock.Anything, mock.Anything).
		Return(&MarketResult{Context: &model.MarketContext{SectorScore: 50}}, nil).Maybe()

	out, err := f.orch.Run(context.Background(), runContext(kbis))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeFailed, out.Status)
	failed, _ := out.FailedStage()
	assert.Equal(t, "extraction: dossier has no financial statements", failed.Message)
}

func TestOrchestrator_PartialExtractionIsNotDegraded(t *testing.T) {
	f := newFixture(Options{})
	b23, b22 := bilans()
	f.extractor.On("Extract", mock.Anything, b23).Return(docFacts("b23", 2023, 1_200_000), nil)
	f.extractor.On("Extract", mock.Anything, b22).Return(nil, resilience.NewPermanentError(errors.New("scan illisible"), 0))
	fa := analysisWithGrowth()
	mc := &model.MarketContext{SectorScore: 50}
	f.financial.On("Analyze", mock.Anything, mock.Anything).Return(fa, nil)
	f.market.On("Research", mock.Anything, mock.Anything, mock.Anything).Return(&MarketResult{Context: mc}, nil)
	f.synth.On("Synthesize", mock.Anything, fa, mc).Return(&Synthesis{}, nil)

	out, err := f.orch.Run(context.Background(), runContext(b23, b22))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSucceeded, out.Status)
	require.Len(t, out.StageErrors, 1)
	assert.Equal(t, "b22", out.StageErrors[0].DocumentID)
	assert.Equal(t, model.StageStatusDegraded, out.Stages[0].Status)
}

func TestOrchestrator_FinancialFailureFails(t *testing.T) {
	f := newFixture(Options{})
	f.extractBoth()
	f.financial.On("Analyze", mock.Anything, mock.Anything).Return(nil, newSafeError("no fiscal year facts to analyze"))
	f.market.On("Research", mock.Anything, mock.Anything, mock.Anything).
		Return(&MarketResult{Context: &model.MarketContext{SectorScore: 50}}, nil).Maybe()

	b23, b22 := bilans()
	out, err := f.orch.Run(context.Background(), runContext(b23, b22))
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeFailed, out.Status)
	failed, ok := out.FailedStage()
	require.True(t, ok)
	assert.Equal(t, model.StageFinancial, failed.Stage)
	assert.Equal(t, "financial_analysis: no fiscal year facts to analyze", failed.Message)
	f.synth.AssertNotCalled(t, "Synthesize", mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestrator_SynthesisFailureFallsBack(t *testing.T) {
	f := newFixture(Options{})
	f.extractBoth()
	fa := analysisWithGrowth()
	mc := &model.MarketContext{SectorScore: 80}
	f.financial.On("Analyze", mock.Anything, mock.Anything).Return(fa, nil)
	f.market.On("Research", mock.Anything, mock.Anything, mock.Anything).Return(&MarketResult{Context: mc}, nil)
	f.synth.On("Synthesize", mock.Anything, fa, mc).Return(nil, resilience.NewPermanentError(errors.New("bad"), 400))

	b23, b22 := bilans()
	out, err := f.orch.Run(context.Background(), runContext(b23, b22))
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeDegraded, out.Status)
	assert.False(t, out.MarketDataMissing)
	_, ok := factorByCode(out.Factors, SignalRevenueGrowth)
	assert.True(t, ok, "signals carried into fallback factors")
	_, ok = factorByCode(out.Factors, FactorSectorDynamic)
	assert.True(t, ok)
	require.Len(t, out.StageErrors, 1)
	assert.Equal(t, model.StageSynthesis, out.StageErrors[0].Stage)
}

func TestOrchestrator_CancellationDiscardsResults(t *testing.T) {
	f := newFixture(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b23, b22 := bilans()
	f.extractor.On("Extract", mock.Anything, b23).Return(docFacts("b23", 2023, 1_200_000), nil)
	f.extractor.On("Extract", mock.Anything, b22).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, context.Canceled)
	f.market.On("Research", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, context.Canceled).Maybe()

	out, err := f.orch.Run(ctx, runContext(b23, b22))
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeCancelled, out.Status)
	assert.True(t, out.Facts.Empty())
	assert.Nil(t, out.Ratios)
	assert.Nil(t, out.Factors)
	failed, ok := out.FailedStage()
	require.True(t, ok)
	assert.Equal(t, model.ErrorCancelled, failed.Kind)
	f.financial.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
}

// concurrencyGauge records the peak number of concurrent extractions.
type concurrencyGauge struct {
	mu      sync.Mutex
	current int
	peak    int
	calls   atomic.Int32
}

func (p *concurrencyGauge) Extract(_ context.Context, doc model.Document) (*model.DocumentFacts, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.current++
	if p.current > p.peak {
		p.peak = p.current
	}
	p.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	p.mu.Lock()
	p.current--
	p.mu.Unlock()
	return docFacts(doc.ID, *doc.FiscalYear, 100), nil
}

func TestOrchestrator_BoundedExtractionParallelism(t *testing.T) {
	gauge := &concurrencyGauge{}
	financial, market, synth := new(mockFinancial), new(mockMarket), new(mockSynthesizer)
	fa := analysisWithGrowth()
	financial.On("Analyze", mock.Anything, mock.Anything).Return(fa, nil)
	market.On("Research", mock.Anything, mock.Anything, mock.Anything).Return(&MarketResult{Context: &model.MarketContext{}}, nil)
	synth.On("Synthesize", mock.Anything, mock.Anything, mock.Anything).Return(&Synthesis{}, nil)

	orch := NewOrchestrator(gauge, financial, market, synth, Options{MaxParallelDocuments: 2})

	var docs []model.Document
	for i := 0; i < 6; i++ {
		docs = append(docs, model.Document{ID: fmt.Sprintf("d%d", i), Type: model.DocLiasseFiscale, FiscalYear: year(2018 + i)})
	}
	out, err := orch.Run(context.Background(), runContext(docs...))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSucceeded, out.Status)
	assert.EqualValues(t, 6, gauge.calls.Load())
	assert.LessOrEqual(t, gauge.peak, 2)
}

func TestOrchestrator_FactsLimitedToDeclaredYears(t *testing.T) {
	f := newFixture(Options{})
	doc := model.Document{ID: "b23", Type: model.DocBilan, FiscalYear: year(2023)}
	facts := factsOf(map[int]map[model.LineItem]float64{
		2023: {model.ItemRevenue: 1_200_000},
		2022: {model.ItemRevenue: 1_000_000},
	})
	f.extractor.On("Extract", mock.Anything, doc).Return(&model.DocumentFacts{DocumentID: "b23", Facts: facts}, nil)
	fa := analysisWithGrowth()
	f.financial.On("Analyze", mock.Anything, mock.MatchedBy(func(ff model.FinancialFacts) bool {
		years := ff.SortedYears()
		return len(years) == 1 && years[0] == 2023
	})).Return(fa, nil)
	f.market.On("Research", mock.Anything, mock.Anything, mock.Anything).Return(&MarketResult{Context: &model.MarketContext{}}, nil)
	f.synth.On("Synthesize", mock.Anything, mock.Anything, mock.Anything).Return(&Synthesis{}, nil)

	out, err := f.orch.Run(context.Background(), runContext(doc))
	require.NoError(t, err)
	assert.Equal(t, []int{2023}, out.Facts.SortedYears())
	f.financial.AssertExpectations(t)
}

func TestOrchestrator_NoFactsForDeclaredYear(t *testing.T) {
	f := newFixture(Options{})
	doc := model.Document{ID: "b23", Type: model.DocBilan, FiscalYear: year(2023)}
	f.extractor.On("Extract", mock.Anything, doc).Return(docFacts("b23", 2022, 1_000_000), nil)
	f.market.On("Research", mock.Anything, mock.Anything, mock.Anything).
		Return(&MarketResult{Context: &model.MarketContext{SectorScore: 50}}, nil).Maybe()

	out, err := f.orch.Run(context.Background(), runContext(doc))
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeFailed, out.Status)
	assert.Empty(t, out.Facts.SortedYears())
	require.NotEmpty(t, out.Stages)
	assert.Equal(t, model.StageExtraction, out.Stages[0].Name)
	assert.Equal(t, model.StageStatusFailed, out.Stages[0].Status)
	failed, ok := out.FailedStage()
	require.True(t, ok)
	assert.Equal(t, model.StageExtraction, failed.Stage)
	assert.Equal(t, model.ErrorPermanent, failed.Kind)
	assert.Equal(t, "extraction: no fiscal year facts extracted", failed.Message)
	f.financial.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
	f.synth.AssertNotCalled(t, "Synthesize", mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestrator_RequiresDossierID(t *testing.T) {
	f := newFixture(Options{})
	_, err := f.orch.Run(context.Background(), RunContext{})
	require.Error(t, err)
}
