package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okatech-org/mayfin-sub002/internal/model"
)

func sampleResult() *model.ScoringResult {
	return &model.ScoringResult{
		RunID:       "run-1",
		DossierID:   "dos-1",
		GlobalScore: 68.4,
		Category:    model.CategoryAccordConditionne,
		Details: []model.ScoreDetail{
			{Criterion: "solvabilite", Label: "Solvabilité", Weight: 0.25, SubScore: 80, Points: 20, Justification: "Autonomie financière 42%"},
			{Criterion: "rentabilite", Label: "Rentabilité", Weight: 0.2, SubScore: 55, Points: 11, Justification: "Marge nette 3%"},
		},
		PositiveFactors: []model.Factor{{Code: "equity", Label: "Fonds propres solides", Impact: 8}},
		NegativeFactors: []model.Factor{{Code: "margin", Label: "Marge faible", Impact: -5}},
		Recommendation: model.Recommendation{
			FinanceableAmount: decimal.NewFromInt(120000),
			ProductType:       "pret_professionnel",
			DurationMonths:    84,
			Guarantees:        []string{"caution personnelle", "nantissement"},
			SpecialConditions: []string{"Apport de 20%"},
			WatchPoints:       []string{"Suivi trimestriel de la trésorerie"},
			DecisionText:      "Accord sous conditions.",
		},
		Degraded:          true,
		MarketDataMissing: true,
	}
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleResult(), Options{}))

	out := buf.String()
	for _, want := range []string{
		"Dossier dos-1",
		"Score 68.4 / 100  Accord conditionné",
		"analyse partielle (données de marché indisponibles)",
		"Solvabilité", "25.0%", "Autonomie financière 42%",
		"Fonds propres solides", "+8.0", "-5.0",
		"Montant finançable 120000 €",
		"Produit pret_professionnel sur 84 mois",
		"Garanties caution personnelle, nantissement",
		"• Apport de 20%",
		"! Suivi trimestriel de la trésorerie",
		"Accord sous conditions.",
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "\x1b[")
}

func TestRender_NoFactorsNotDegraded(t *testing.T) {
	res := sampleResult()
	res.PositiveFactors, res.NegativeFactors = nil, nil
	res.Degraded, res.MarketDataMissing = false, false

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, res, Options{}))
	assert.NotContains(t, buf.String(), "Fonds propres")
	assert.NotContains(t, buf.String(), "analyse partielle")
}

func TestRenderHistory(t *testing.T) {
	score := 81.5
	runs := []model.RunRecord{
		{
			ID: "0f8c2a7e-1111-2222", DossierID: "dos-1", Status: model.OutcomeSucceeded,
			Score: &score, Category: model.CategoryAccordFavorable, TotalCost: 0.1234,
			CreatedAt: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
		},
		{
			ID: "run-2", DossierID: "dos-1", Status: model.OutcomeFailed,
			Failure:   &model.RunFailure{Stage: "extraction", Kind: "extraction", Message: "aucune donnée financière"},
			CreatedAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, RenderHistory(&buf, runs, Options{}))
	out := buf.String()
	assert.Contains(t, out, "0f8c2a7e")
	assert.NotContains(t, out, "0f8c2a7e-1111")
	assert.Contains(t, out, "2026-03-02 09:30")
	assert.Contains(t, out, "81.5")
	assert.Contains(t, out, "Accord favorable")
	assert.Contains(t, out, "aucune donnée financière")
	assert.Contains(t, out, "$0.123")
}

func TestCategoryLabel(t *testing.T) {
	assert.Equal(t, "Refus", CategoryLabel(model.CategoryRefus))
	assert.Equal(t, "other", CategoryLabel("other"))
}

func TestPalette_Colors(t *testing.T) {
	p := newPalette(true)
	// fatih/color honours NO_COLOR and non-tty output globally; only check
	// that the label survives.
	assert.Contains(t, p.category(model.CategoryRefus), "Refus")
}

func TestRenderValidation(t *testing.T) {
	res := model.ValidationResult{
		Completion:      62,
		MissingRequired: []string{"S2_PREMIERE_EXPERIENCE", "S6_TAUX_ENDETTEMENT"},
		Warnings:        []model.Issue{{Code: "S6_TAUX_ENDETTEMENT", Level: model.AlertWarning, Message: "Taux élevé"}},
		Blocking:        []model.Issue{{Code: "S8_PROCEDURE_COLLECTIVE", Level: model.AlertBlocking, Message: "Procédure collective en cours"}},
	}

	var buf bytes.Buffer
	require.NoError(t, RenderValidation(&buf, res, Options{}))
	out := buf.String()
	assert.Contains(t, out, "Complétude 62%  incomplet")
	assert.Contains(t, out, "Manquantes S2_PREMIERE_EXPERIENCE, S6_TAUX_ENDETTEMENT")
	assert.Less(t, strings.Index(out, "Procédure collective"), strings.Index(out, "Taux élevé"))
}

func TestRenderValidation_Complete(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderValidation(&buf, model.ValidationResult{Completion: 100}, Options{}))
	assert.Equal(t, "Complétude 100%  complet\n", buf.String())
}
