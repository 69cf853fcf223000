package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okatech-org/mayfin-sub002/internal/config"
	"github.com/okatech-org/mayfin-sub002/internal/model"
)

var baseTime = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func scoredRun(id, dossierID string, at time.Time, score float64) *model.RunRecord {
	return &model.RunRecord{
		ID:        id,
		DossierID: dossierID,
		Status:    model.OutcomeSucceeded,
		Score:     &score,
		Category:  model.CategoryAccordConditionne,
		Result: &model.ScoringResult{
			RunID:       id,
			DossierID:   dossierID,
			CreatedAt:   at,
			GlobalScore: score,
			Category:    model.CategoryAccordConditionne,
			Details: []model.ScoreDetail{
				{Criterion: "solvabilite", Label: "Solvabilité", Weight: 0.3, SubScore: 70, Points: 21, Justification: "Autonomie financière correcte"},
				{Criterion: "rentabilite", Label: "Rentabilité", Weight: 0.25, SubScore: 60, Points: 15, Justification: "Marge nette 4%"},
			},
			Recommendation: model.Recommendation{
				FinanceableAmount: decimal.NewFromInt(120000),
				ProductType:       "pret_professionnel",
				DurationMonths:    84,
			},
		},
		StageErrors: []model.StageError{},
		TotalCost:   0.42,
		CreatedAt:   at,
	}
}

func failedRun(id, dossierID string, at time.Time) *model.RunRecord {
	return &model.RunRecord{
		ID:        id,
		DossierID: dossierID,
		Status:    model.OutcomeFailed,
		Failure:   &model.RunFailure{Stage: "extraction", Kind: "extraction", Message: "aucun document exploitable"},
		StageErrors: []model.StageError{
			{Stage: model.StageExtraction, DocumentID: "doc-1", Kind: model.ErrorPermanent, Message: "document illisible"},
		},
		CreatedAt: at,
	}
}

func TestValidate(t *testing.T) {
	assert.Error(t, validate(nil))
	assert.ErrorContains(t, validate(&model.RunRecord{DossierID: "d"}), "run id")
	assert.ErrorContains(t, validate(&model.RunRecord{ID: "r", DossierID: "d"}), "no timestamp")
	assert.NoError(t, validate(failedRun("r", "d", baseTime)))
}

func TestEncodeDecodeRun(t *testing.T) {
	rec := scoredRun("run-1", "dos-1", baseTime.In(time.FixedZone("CET", 3600)), 68.5)
	rec.StageErrors = nil

	row, err := encodeRun(rec)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(row.stageErrors))
	assert.Nil(t, row.failure)
	assert.Equal(t, time.UTC, row.createdAt.Location())

	back, err := decodeRun(row)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, back.ID)
	assert.Equal(t, 68.5, *back.Score)
	assert.True(t, rec.CreatedAt.Equal(back.CreatedAt))
	assert.Empty(t, back.StageErrors)
	require.NotNil(t, back.Result)
	assert.Equal(t, rec.Result.Details, back.Result.Details)
	assert.True(t, back.Result.Recommendation.FinanceableAmount.Equal(decimal.NewFromInt(120000)))
}

func TestDetailRows(t *testing.T) {
	assert.Nil(t, detailRows(failedRun("r", "d", baseTime)))

	rows := detailRows(scoredRun("r", "d", baseTime, 50))
	require.Len(t, rows, 2)
	assert.Equal(t, []any{"r", 1, "rentabilite", "Rentabilité", 0.25, 60.0, 15.0, "Marge nette 4%"}, rows[1])
	assert.Len(t, rows[0], len(detailColumns))
}

func TestRunFilter_Limit(t *testing.T) {
	assert.Equal(t, defaultListLimit, RunFilter{}.limit())
	assert.Equal(t, 5, RunFilter{Limit: 5}.limit())
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, config.StoreConfig{Driver: "mysql"})
	assert.ErrorContains(t, err, `unknown driver "mysql"`)

	_, err = Open(ctx, config.StoreConfig{Driver: "postgres"})
	assert.ErrorContains(t, err, "database_url is required")

	s, err := Open(ctx, config.StoreConfig{SQLitePath: t.TempDir() + "/runs.db"})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	assert.NoError(t, s.Close())
}
