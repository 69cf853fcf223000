package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/okatech-org/mayfin-sub002/internal/analysis"
	"github.com/okatech-org/mayfin-sub002/internal/model"
	"github.com/okatech-org/mayfin-sub002/internal/store"
)

type mockAnalyzer struct {
	mock.Mock
}

func (m *mockAnalyzer) RunAnalysis(ctx context.Context, dossierID string) (*model.ScoringResult, error) {
	args := m.Called(ctx, dossierID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScoringResult), args.Error(1)
}

func (m *mockAnalyzer) ValidateQuestionnaire(responses model.Responses) model.ValidationResult {
	return m.Called(responses).Get(0).(model.ValidationResult)
}

func (m *mockAnalyzer) History(ctx context.Context, dossierID string, limit int) ([]model.RunRecord, error) {
	args := m.Called(ctx, dossierID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.RunRecord), args.Error(1)
}

func (m *mockAnalyzer) GetRun(ctx context.Context, runID string) (*model.RunRecord, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RunRecord), args.Error(1)
}

func (m *mockAnalyzer) Catalog() *model.Catalog {
	return m.Called().Get(0).(*model.Catalog)
}

func serve(t *testing.T, svc Analyzer, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	NewServer(svc, nil).Routes().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	rr := serve(t, new(mockAnalyzer), http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rr.Code)
	var body map[string]string
	decode(t, rr, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestRunAnalysis_Created(t *testing.T) {
	svc := new(mockAnalyzer)
	svc.On("RunAnalysis", mock.Anything, "dos-1").Return(&model.ScoringResult{
		RunID: "run-1", DossierID: "dos-1", GlobalScore: 62.5, Category: model.CategoryAccordConditionne,
	}, nil)

	rr := serve(t, svc, http.MethodPost, "/v1/dossiers/dos-1/analyses", "")

	assert.Equal(t, http.StatusCreated, rr.Code)
	var res model.ScoringResult
	decode(t, rr, &res)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, model.CategoryAccordConditionne, res.Category)
	svc.AssertExpectations(t)
}

func TestRunAnalysis_ErrorStatus(t *testing.T) {
	tests := []struct {
		kind analysis.Kind
		want int
	}{
		{analysis.KindPrecondition, http.StatusUnprocessableEntity},
		{analysis.KindExtraction, http.StatusUnprocessableEntity},
		{analysis.KindFinancial, http.StatusBadGateway},
		{analysis.KindCancelled, statusClientClosedRequest},
		{analysis.KindNotFound, http.StatusNotFound},
		{analysis.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			svc := new(mockAnalyzer)
			svc.On("RunAnalysis", mock.Anything, "dos-1").Return(nil, &analysis.PipelineError{
				Kind: tt.kind, Stage: "financial_analysis", DossierID: "dos-1", RunID: "run-9", Message: "provider unavailable",
			})

			rr := serve(t, svc, http.MethodPost, "/v1/dossiers/dos-1/analyses", "")

			assert.Equal(t, tt.want, rr.Code)
			var body struct {
				Error analysis.PipelineError `json:"error"`
			}
			decode(t, rr, &body)
			assert.Equal(t, tt.kind, body.Error.Kind)
			assert.Equal(t, "run-9", body.Error.RunID)
		})
	}
}

func TestRunAnalysis_UntypedError(t *testing.T) {
	svc := new(mockAnalyzer)
	svc.On("RunAnalysis", mock.Anything, "dos-1").Return(nil, eris.New("boom: secret provider body"))

	rr := serve(t, svc, http.MethodPost, "/v1/dossiers/dos-1/analyses", "")

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "secret")
}

func TestHistory(t *testing.T) {
	svc := new(mockAnalyzer)
	svc.On("History", mock.Anything, "dos-1", 5).Return([]model.RunRecord{{ID: "run-2"}, {ID: "run-1"}}, nil)

	rr := serve(t, svc, http.MethodGet, "/v1/dossiers/dos-1/analyses?limit=5", "")

	assert.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Runs []model.RunRecord `json:"runs"`
	}
	decode(t, rr, &body)
	require.Len(t, body.Runs, 2)
	assert.Equal(t, "run-2", body.Runs[0].ID)
}

func TestHistory_Errors(t *testing.T) {
	rr := serve(t, new(mockAnalyzer), http.MethodGet, "/v1/dossiers/dos-1/analyses?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	svc := new(mockAnalyzer)
	svc.On("History", mock.Anything, "dos-1", 0).Return(nil, eris.New("db down"))
	rr = serve(t, svc, http.MethodGet, "/v1/dossiers/dos-1/analyses", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "db down")
}

func TestGetRun(t *testing.T) {
	svc := new(mockAnalyzer)
	svc.On("GetRun", mock.Anything, "run-1").Return(&model.RunRecord{ID: "run-1", Status: model.OutcomeDegraded}, nil)
	svc.On("GetRun", mock.Anything, "missing").Return(nil, eris.Wrap(store.ErrNotFound, "analysis: get run missing"))
	svc.On("GetRun", mock.Anything, "broken").Return(nil, eris.New("db down"))

	rr := serve(t, svc, http.MethodGet, "/v1/analyses/run-1", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	var rec model.RunRecord
	decode(t, rr, &rec)
	assert.Equal(t, model.OutcomeDegraded, rec.Status)

	assert.Equal(t, http.StatusNotFound, serve(t, svc, http.MethodGet, "/v1/analyses/missing", "").Code)
	assert.Equal(t, http.StatusInternalServerError, serve(t, svc, http.MethodGet, "/v1/analyses/broken", "").Code)
}

func TestValidate(t *testing.T) {
	svc := new(mockAnalyzer)
	svc.On("ValidateQuestionnaire", model.Responses{"S6_TAUX_ENDETTEMENT": 42.0, "S1_TYPE_FINANCEMENT": "creation"}).
		Return(model.ValidationResult{Completion: 10, MissingRequired: []string{"S1_MONTANT_DEMANDE"}})

	rr := serve(t, svc, http.MethodPost, "/v1/questionnaire/validate",
		`{"responses": {"S6_TAUX_ENDETTEMENT": 42, "S1_TYPE_FINANCEMENT": "creation"}}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	var res model.ValidationResult
	decode(t, rr, &res)
	assert.Equal(t, 10.0, res.Completion)
	assert.Equal(t, []string{"S1_MONTANT_DEMANDE"}, res.MissingRequired)
	svc.AssertExpectations(t)
}

func TestValidate_BadBody(t *testing.T) {
	rr := serve(t, new(mockAnalyzer), http.MethodPost, "/v1/questionnaire/validate", `{"responses":`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCatalog(t *testing.T) {
	svc := new(mockAnalyzer)
	svc.On("Catalog").Return(&model.Catalog{Version: "mvp-2025.1"})

	rr := serve(t, svc, http.MethodGet, "/v1/questionnaire/catalog", "")

	assert.Equal(t, http.StatusOK, rr.Code)
	var cat model.Catalog
	decode(t, rr, &cat)
	assert.Equal(t, "mvp-2025.1", cat.Version)
}

func TestCORS_Preflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/v1/questionnaire/validate", nil)
	req.Header.Set("Origin", "https://app.example.fr")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()

	NewServer(new(mockAnalyzer), []string{"https://app.example.fr"}).Routes().ServeHTTP(rr, req)

	assert.Equal(t, "https://app.example.fr", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestNotFoundRoute(t *testing.T) {
	rr := serve(t, new(mockAnalyzer), http.MethodGet, "/v1/unknown", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
