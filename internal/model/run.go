package model

import "time"

// RunRecord is the persisted trace of one analysis run, keyed by
// (dossier id, run id, timestamp). Records are never updated.
type RunRecord struct {
	ID          string           `json:"id"`
	DossierID   string           `json:"dossier_id"`
	Status      OutcomeStatus    `json:"status"`
	Degraded    bool             `json:"degraded"`
	Score       *float64         `json:"score,omitempty"`
	Category    DecisionCategory `json:"category,omitempty"`
	Result      *ScoringResult   `json:"result,omitempty"`
	Failure     *RunFailure      `json:"failure,omitempty"`
	StageErrors []StageError     `json:"stage_errors"`
	TotalCost   float64          `json:"total_cost"`
	CreatedAt   time.Time        `json:"created_at"`
}

// RunFailure explains why a run produced no scoring result.
type RunFailure struct {
	Stage   string `json:"stage"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
