// Package store persists analysis run records. Records are append-only:
// a run is written once and never updated.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/okatech-org/mayfin-sub002/internal/config"
	"github.com/okatech-org/mayfin-sub002/internal/model"
)

var (
	// ErrNotFound is returned when no run exists for an id.
	ErrNotFound = eris.New("store: run not found")
	// ErrDuplicateRun is returned when a run id is saved twice.
	ErrDuplicateRun = eris.New("store: run already recorded")
)

// defaultListLimit caps ListRuns when the filter sets no limit.
const defaultListLimit = 100

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	DossierID string              `json:"dossier_id,omitempty"`
	Status    model.OutcomeStatus `json:"status,omitempty"`
	Since     time.Time           `json:"since,omitempty"`
	Limit     int                 `json:"limit,omitempty"`
	Offset    int                 `json:"offset,omitempty"`
}

func (f RunFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

// Store defines the persistence interface for run records.
type Store interface {
	SaveRun(ctx context.Context, rec *model.RunRecord) error
	GetRun(ctx context.Context, runID string) (*model.RunRecord, error)
	// ListRuns returns matching runs, newest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]model.RunRecord, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open creates the store selected by cfg.Driver ("sqlite" or "postgres").
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		s, err := NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, eris.New("store: database_url is required for postgres")
		}
		s, err := NewPostgres(ctx, cfg.DatabaseURL, nil)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// runRow is a RunRecord flattened into column values.
type runRow struct {
	id          string
	dossierID   string
	status      string
	degraded    bool
	score       *float64
	category    string
	result      []byte
	failure     []byte
	stageErrors []byte
	totalCost   float64
	createdAt   time.Time
}

func validate(rec *model.RunRecord) error {
	if rec == nil {
		return eris.New("store: nil run record")
	}
	if rec.ID == "" || rec.DossierID == "" {
		return eris.New("store: run record needs a run id and a dossier id")
	}
	if rec.CreatedAt.IsZero() {
		return eris.Errorf("store: run %s has no timestamp", rec.ID)
	}
	return nil
}

func encodeRun(rec *model.RunRecord) (runRow, error) {
	row := runRow{
		id:        rec.ID,
		dossierID: rec.DossierID,
		status:    string(rec.Status),
		degraded:  rec.Degraded,
		score:     rec.Score,
		category:  string(rec.Category),
		totalCost: rec.TotalCost,
		createdAt: rec.CreatedAt.UTC(),
	}
	var err error
	if rec.Result != nil {
		if row.result, err = json.Marshal(rec.Result); err != nil {
			return row, eris.Wrap(err, "store: marshal result")
		}
	}
	if rec.Failure != nil {
		if row.failure, err = json.Marshal(rec.Failure); err != nil {
			return row, eris.Wrap(err, "store: marshal failure")
		}
	}
	stageErrors := rec.StageErrors
	if stageErrors == nil {
		stageErrors = []model.StageError{}
	}
	if row.stageErrors, err = json.Marshal(stageErrors); err != nil {
		return row, eris.Wrap(err, "store: marshal stage errors")
	}
	return row, nil
}

func decodeRun(row runRow) (*model.RunRecord, error) {
	rec := &model.RunRecord{
		ID:        row.id,
		DossierID: row.dossierID,
		Status:    model.OutcomeStatus(row.status),
		Degraded:  row.degraded,
		Score:     row.score,
		Category:  model.DecisionCategory(row.category),
		TotalCost: row.totalCost,
		CreatedAt: row.createdAt.UTC(),
	}
	if len(row.result) > 0 {
		rec.Result = &model.ScoringResult{}
		if err := json.Unmarshal(row.result, rec.Result); err != nil {
			return nil, eris.Wrapf(err, "store: unmarshal result of %s", row.id)
		}
	}
	if len(row.failure) > 0 {
		rec.Failure = &model.RunFailure{}
		if err := json.Unmarshal(row.failure, rec.Failure); err != nil {
			return nil, eris.Wrapf(err, "store: unmarshal failure of %s", row.id)
		}
	}
	if err := json.Unmarshal(row.stageErrors, &rec.StageErrors); err != nil {
		return nil, eris.Wrapf(err, "store: unmarshal stage errors of %s", row.id)
	}
	return rec, nil
}

// detailRows flattens the score details of a record for the child table.
func detailRows(rec *model.RunRecord) [][]any {
	if rec.Result == nil {
		return nil
	}
	rows := make([][]any, 0, len(rec.Result.Details))
	for i, d := range rec.Result.Details {
		rows = append(rows, []any{rec.ID, i, d.Criterion, d.Label, d.Weight, d.SubScore, d.Points, d.Justification})
	}
	return rows
}

var detailColumns = []string{"run_id", "position", "criterion", "label", "weight", "sub_score", "points", "justification"}
