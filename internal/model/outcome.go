package model

// StageName identifies a pipeline stage.
type StageName string

const (
	StageExtraction StageName = "extraction"
	StageFinancial  StageName = "financial_analysis"
	StageMarket     StageName = "market_research"
	StageSynthesis  StageName = "synthesis"
)

// ErrorKind classifies a stage error.
type ErrorKind string

const (
	ErrorTransient ErrorKind = "transient"
	ErrorPermanent ErrorKind = "permanent"
	ErrorCancelled ErrorKind = "cancelled"
)

// StageError records a stage (or per-document) failure. Message is safe to
// show to callers; provider internals are logged, never stored here.
type StageError struct {
	Stage      StageName `json:"stage"`
	DocumentID string    `json:"document_id,omitempty"`
	Kind       ErrorKind `json:"kind"`
	Attempts   int       `json:"attempts,omitempty"`
	Message    string    `json:"message"`
}

// StageStatus represents the state of a pipeline stage.
type StageStatus string

const (
	StageStatusComplete StageStatus = "complete"
	StageStatusFailed   StageStatus = "failed"
	StageStatusDegraded StageStatus = "degraded"
	StageStatusSkipped  StageStatus = "skipped"
)

// StageResult holds timing and outcome of a stage.
type StageResult struct {
	Name       StageName      `json:"name"`
	Status     StageStatus    `json:"status"`
	Duration   int64          `json:"duration_ms"`
	TokenUsage TokenUsage     `json:"token_usage"`
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// OutcomeStatus is the terminal state of a pipeline run.
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeDegraded  OutcomeStatus = "degraded"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeCancelled OutcomeStatus = "cancelled"
)

// Usable reports whether the outcome may be scored.
func (s OutcomeStatus) Usable() bool {
	return s == OutcomeSucceeded || s == OutcomeDegraded
}

// PipelineOutcome aggregates the output of a pipeline run. It is handed off
// as an immutable value once the run terminates.
type PipelineOutcome struct {
	DossierID         string         `json:"dossier_id"`
	RunID             string         `json:"run_id"`
	Status            OutcomeStatus  `json:"status"`
	Facts             FinancialFacts `json:"facts"`
	Ratios            []Ratio        `json:"ratios"`
	Signals           []Signal       `json:"signals,omitempty"`
	Factors           []Factor       `json:"factors"`
	Assessment        string         `json:"assessment,omitempty"`
	MarketContext     *MarketContext `json:"market_context,omitempty"`
	Degraded          bool           `json:"degraded"`
	MarketDataMissing bool           `json:"market_data_missing"`
	StageErrors       []StageError   `json:"stage_errors"`
	Stages            []StageResult  `json:"stages"`
	TotalCost         float64        `json:"total_cost"`
}

// FailedStage returns the first stage error that caused the outcome to fail.
func (o *PipelineOutcome) FailedStage() (StageError, bool) {
	if o.Status != OutcomeFailed && o.Status != OutcomeCancelled {
		return StageError{}, false
	}
	for i := len(o.StageErrors) - 1; i >= 0; i-- {
		if o.StageErrors[i].DocumentID == "" {
			return o.StageErrors[i], true
		}
	}
	if len(o.StageErrors) > 0 {
		return o.StageErrors[len(o.StageErrors)-1], true
	}
	return StageError{}, false
}

// RatioByCode returns the ratio with the given code.
func (o *PipelineOutcome) RatioByCode(code string) (Ratio, bool) {
	for _, r := range o.Ratios {
		if r.Code == code {
			return r, true
		}
	}
	return Ratio{}, false
}
