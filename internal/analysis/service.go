// Package analysis exposes the two entry points of the system: running a
// full analysis of a dossier and validating questionnaire answers.
package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/okatech-org/mayfin-sub002/internal/dossier"
	"github.com/okatech-org/mayfin-sub002/internal/model"
	"github.com/okatech-org/mayfin-sub002/internal/pipeline"
	"github.com/okatech-org/mayfin-sub002/internal/questionnaire"
	"github.com/okatech-org/mayfin-sub002/internal/scorer"
	"github.com/okatech-org/mayfin-sub002/internal/store"
)

// Runner executes the analysis pipeline.
type Runner interface {
	Run(ctx context.Context, rc pipeline.RunContext) (*model.PipelineOutcome, error)
}

// Scorer turns a pipeline outcome into a decision.
type Scorer interface {
	Score(outcome *model.PipelineOutcome, questionnaire *model.QuestionnaireResponse, validation model.ValidationResult) (*model.ScoringResult, error)
}

// Option configures a Service.
type Option func(*Service)

// WithRunTimeout bounds every RunAnalysis call.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Service) { s.runTimeout = d }
}

// WithClock replaces the clock used to stamp results.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator replaces the run id generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// Service wires the dossier source, pipeline, scoring engine and store.
type Service struct {
	dossiers   dossier.Source
	validator  *questionnaire.Validator
	runner     Runner
	scorer     Scorer
	store      store.Store
	runTimeout time.Duration
	now        func() time.Time
	newID      func() string
}

// NewService creates a Service.
func NewService(dossiers dossier.Source, validator *questionnaire.Validator, runner Runner, sc Scorer, st store.Store, opts ...Option) *Service {
	s := &Service{
		dossiers:  dossiers,
		validator: validator,
		runner:    runner,
		scorer:    sc,
		store:     st,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Catalog returns the question catalog the service validates against.
func (s *Service) Catalog() *model.Catalog {
	return s.validator.Catalog()
}

// ValidateQuestionnaire validates responses against the catalog.
func (s *Service) ValidateQuestionnaire(responses model.Responses) model.ValidationResult {
	return s.validator.Validate(responses)
}

// History returns the recorded runs of a dossier, newest first.
func (s *Service) History(ctx context.Context, dossierID string, limit int) ([]model.RunRecord, error) {
	runs, err := s.store.ListRuns(ctx, store.RunFilter{DossierID: dossierID, Limit: limit})
	if err != nil {
		return nil, eris.Wrapf(err, "analysis: history of %s", dossierID)
	}
	return runs, nil
}

// GetRun returns one recorded run.
func (s *Service) GetRun(ctx context.Context, runID string) (*model.RunRecord, error) {
	rec, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "analysis: get run %s", runID)
	}
	return rec, nil
}

// RunAnalysis loads the dossier, validates its questionnaire, runs the
// pipeline and scores the outcome. Every run that reaches a terminal state
// is recorded, whether it produced a result or not. The returned error, if
// any, is always a *PipelineError.
func (s *Service) RunAnalysis(ctx context.Context, dossierID string) (*model.ScoringResult, error) {
	runID := s.newID()
	log := zap.L().With(zap.String("dossier_id", dossierID), zap.String("run_id", runID))

	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	d, err := s.dossiers.Load(ctx, dossierID)
	if err != nil {
		log.Warn("analysis: load dossier failed", zap.Error(err))
		kind, msg := KindInternal, "dossier could not be loaded"
		switch {
		case errors.Is(err, dossier.ErrNotFound):
			kind, msg = KindNotFound, "dossier not found"
		case ctx.Err() != nil:
			kind, msg = KindCancelled, "run cancelled"
		}
		return nil, &PipelineError{Kind: kind, Stage: "dossier", DossierID: dossierID, RunID: runID, Message: msg}
	}

	q := model.QuestionnaireResponse{DossierID: d.ID, Status: model.QuestionnaireDraft}
	if d.Questionnaire != nil {
		q = *d.Questionnaire
	}
	q.Responses = enrichResponses(d, q.Responses)
	validation := s.validator.Validate(q.Responses)

	// Blocking answers rule out scoring, so the providers are not called.
	if len(validation.Blocking) > 0 {
		perr := &PipelineError{
			Kind:      KindPrecondition,
			Stage:     "questionnaire",
			DossierID: d.ID,
			RunID:     runID,
			Message:   "questionnaire has blocking issues",
			Blocking:  validation.Blocking,
		}
		s.record(ctx, log, &model.RunRecord{
			ID:        runID,
			DossierID: d.ID,
			Status:    model.OutcomeFailed,
			Failure:   perr.Failure(),
		})
		return nil, perr
	}

	outcome, err := s.runner.Run(ctx, pipeline.RunContext{
		DossierID:   d.ID,
		RunID:       runID,
		SectorCode:  d.SectorCode,
		SectorLabel: d.SectorLabel,
		Documents:   d.Documents,
	})
	if err != nil {
		log.Error("analysis: pipeline rejected run", zap.Error(err))
		return nil, &PipelineError{Kind: KindInternal, Stage: "pipeline", DossierID: d.ID, RunID: runID, Message: "pipeline could not start"}
	}

	rec := &model.RunRecord{
		ID:          runID,
		DossierID:   d.ID,
		Status:      outcome.Status,
		Degraded:    outcome.Degraded,
		StageErrors: outcome.StageErrors,
		TotalCost:   outcome.TotalCost,
	}

	if !outcome.Status.Usable() {
		perr := outcomeError(outcome)
		perr.DossierID, perr.RunID = d.ID, runID
		rec.Failure = perr.Failure()
		s.record(ctx, log, rec)
		return nil, perr
	}

	result, err := s.scorer.Score(outcome, &q, validation)
	if err != nil {
		perr := &PipelineError{Kind: KindInternal, Stage: "scoring", DossierID: d.ID, RunID: runID, Message: "scoring failed"}
		var pre *scorer.PreconditionError
		if errors.As(err, &pre) {
			perr.Kind, perr.Message, perr.Blocking = KindPrecondition, pre.Reason, pre.Blocking
		}
		log.Warn("analysis: scoring failed", zap.Error(err))
		rec.Status = model.OutcomeFailed
		rec.Failure = perr.Failure()
		s.record(ctx, log, rec)
		return nil, perr
	}

	result.CreatedAt = s.now().UTC()
	score := result.GlobalScore
	rec.Score = &score
	rec.Category = result.Category
	rec.Result = result
	if err := s.record(ctx, log, rec); err != nil {
		return nil, &PipelineError{Kind: KindInternal, Stage: "store", DossierID: d.ID, RunID: runID, Message: "result could not be recorded"}
	}

	log.Info("analysis: run scored",
		zap.Float64("score", result.GlobalScore),
		zap.String("category", string(result.Category)),
		zap.Bool("degraded", result.Degraded),
	)
	return result, nil
}

// outcomeError describes a failed or cancelled outcome.
func outcomeError(outcome *model.PipelineOutcome) *PipelineError {
	perr := &PipelineError{StageErrors: outcome.StageErrors}
	se, ok := outcome.FailedStage()
	if ok {
		perr.Stage = string(se.Stage)
	}
	switch {
	case outcome.Status == model.OutcomeCancelled:
		perr.Kind, perr.Message = KindCancelled, "run cancelled"
	case ok:
		perr.Kind, perr.Message = stageKind(se.Stage), se.Message
	default:
		perr.Kind, perr.Stage = KindExtraction, string(model.StageExtraction)
		perr.Message = "extraction: no financial document could be extracted"
	}
	return perr
}

// record stamps and persists rec. A cancelled run is still recorded, so the
// write does not inherit the run's cancellation.
func (s *Service) record(ctx context.Context, log *zap.Logger, rec *model.RunRecord) error {
	rec.CreatedAt = s.now().UTC()
	if rec.Result != nil {
		rec.CreatedAt = rec.Result.CreatedAt
	}
	if rec.StageErrors == nil {
		rec.StageErrors = []model.StageError{}
	}
	if err := s.store.SaveRun(context.WithoutCancel(ctx), rec); err != nil {
		log.Error("analysis: record run failed", zap.Error(err))
		return err
	}
	return nil
}
