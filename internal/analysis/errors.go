package analysis

import (
	"fmt"

	"github.com/okatech-org/mayfin-sub002/internal/model"
)

// Kind classifies why a run produced no scoring result.
type Kind string

const (
	// KindPrecondition: the dossier cannot be scored (blocking questionnaire
	// issues, no usable facts).
	KindPrecondition Kind = "precondition"
	// KindExtraction: no financial document could be extracted.
	KindExtraction Kind = "extraction"
	// KindFinancial: financial analysis failed.
	KindFinancial Kind = "financial"
	KindCancelled Kind = "cancelled"
	KindNotFound  Kind = "not_found"
	// KindInternal covers store and wiring failures.
	KindInternal Kind = "internal"
)

// PipelineError is the only error RunAnalysis returns. Message is safe to
// show to callers; provider details stay in the logs.
type PipelineError struct {
	Kind        Kind               `json:"kind"`
	Stage       string             `json:"stage"`
	DossierID   string             `json:"dossier_id"`
	RunID       string             `json:"run_id,omitempty"`
	Message     string             `json:"message"`
	Blocking    []model.Issue      `json:"blocking,omitempty"`
	StageErrors []model.StageError `json:"stage_errors,omitempty"`
}

func (e *PipelineError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("analysis: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("analysis: %s at %s: %s", e.Kind, e.Stage, e.Message)
}

// Failure converts the error into the persisted failure record.
func (e *PipelineError) Failure() *model.RunFailure {
	return &model.RunFailure{Stage: e.Stage, Kind: string(e.Kind), Message: e.Message}
}

// stageKind maps a failed pipeline stage onto an error kind.
func stageKind(stage model.StageName) Kind {
	switch stage {
	case model.StageExtraction:
		return KindExtraction
	case model.StageFinancial:
		return KindFinancial
	default:
		return KindInternal
	}
}
