package model

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Question codes read outside the questionnaire itself.
const (
	FieldFinancingType       = "S1_TYPE_FINANCEMENT"
	FieldRequestedAmount     = "S1_MONTANT_DEMANDE"
	FieldFirstExperience     = "S2_PREMIERE_EXPERIENCE"
	FieldTransferEvidence    = "S3_JUSTIFICATIF_CESSION"
	FieldDebtRatio           = "S6_TAUX_ENDETTEMENT"
	FieldCollectiveProcedure = "S8_PROCEDURE_COLLECTIVE"
)

// QuestionType is the input kind of a questionnaire question.
type QuestionType string

const (
	QuestionYesNo    QuestionType = "oui_non"
	QuestionText     QuestionType = "texte"
	QuestionTextarea QuestionType = "textarea"
	QuestionSelect   QuestionType = "select"
	QuestionNumber   QuestionType = "nombre"
)

// ConditionKind tags the variant held by a Condition.
type ConditionKind string

const (
	// ConditionFieldEquals holds when the answer to Field equals Value.
	ConditionFieldEquals ConditionKind = "field_equals"
	// ConditionFinancingType holds when the dossier financing type is one of Types.
	ConditionFinancingType ConditionKind = "financing_type"
)

// Condition controls the visibility of a question or section. Only the
// fields of the variant named by Kind are meaningful.
type Condition struct {
	Kind  ConditionKind   `json:"kind" yaml:"kind"`
	Field string          `json:"field,omitempty" yaml:"field,omitempty"`
	Value any             `json:"value,omitempty" yaml:"value,omitempty"`
	Types []FinancingType `json:"types,omitempty" yaml:"types,omitempty"`
}

// FieldEquals builds a field-equality condition.
func FieldEquals(field string, value any) *Condition {
	return &Condition{Kind: ConditionFieldEquals, Field: field, Value: value}
}

// FinancingTypeIn builds a financing-type membership condition.
func FinancingTypeIn(types ...FinancingType) *Condition {
	return &Condition{Kind: ConditionFinancingType, Types: types}
}

// FieldValidation constrains the shape of a text answer.
type FieldValidation struct {
	MinLength int    `json:"min_length,omitempty" yaml:"min_length,omitempty"`
	MaxLength int    `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	Pattern   string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// AlertLevel is the severity of a questionnaire alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "info"
	AlertWarning  AlertLevel = "warning"
	AlertDanger   AlertLevel = "danger"
	AlertBlocking AlertLevel = "blocking"
	// AlertError tags field validation failures.
	AlertError AlertLevel = "error"
)

// QuestionAlert is a declarative alert evaluated against the answer.
type QuestionAlert struct {
	Condition string     `json:"condition" yaml:"condition"`
	Level     AlertLevel `json:"level" yaml:"level"`
	Message   string     `json:"message" yaml:"message"`
}

// Question is a catalog entry. Sub-questions are nested questions shown
// under their parent.
type Question struct {
	Code         string           `json:"code" yaml:"code"`
	Label        string           `json:"label" yaml:"label"`
	Type         QuestionType     `json:"type" yaml:"type"`
	Required     bool             `json:"required" yaml:"required"`
	Section      int              `json:"section" yaml:"section"`
	Condition    *Condition       `json:"condition,omitempty" yaml:"condition,omitempty"`
	Validations  *FieldValidation `json:"validations,omitempty" yaml:"validations,omitempty"`
	Options      []string         `json:"options,omitempty" yaml:"options,omitempty"`
	Help         string           `json:"help,omitempty" yaml:"help,omitempty"`
	Alerts       []QuestionAlert  `json:"alerts,omitempty" yaml:"alerts,omitempty"`
	SubQuestions []Question       `json:"sub_questions,omitempty" yaml:"sub_questions,omitempty"`
}

// Section groups questions.
type Section struct {
	ID          int        `json:"id" yaml:"id"`
	Code        string     `json:"code" yaml:"code"`
	Label       string     `json:"label" yaml:"label"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Condition   *Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Catalog is the static, read-only question table.
type Catalog struct {
	Version            string     `json:"version" yaml:"version"`
	FinancingTypeField string     `json:"financing_type_field" yaml:"financing_type_field"`
	Sections           []Section  `json:"sections" yaml:"sections"`
	Questions          []Question `json:"questions" yaml:"questions"`
}

// Responses maps question codes to answer values.
type Responses map[string]any

// Clone returns a shallow copy of r.
func (r Responses) Clone() Responses {
	out := make(Responses, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Answered reports whether code has a non-empty answer.
func (r Responses) Answered(code string) bool {
	v, ok := r[code]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}

// String returns the answer to code as text.
func (r Responses) String(code string) (string, bool) {
	if !r.Answered(code) {
		return "", false
	}
	switch v := r[code].(type) {
	case string:
		return strings.TrimSpace(v), true
	case bool:
		return strconv.FormatBool(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case json.Number:
		return v.String(), true
	default:
		return "", false
	}
}

// Bool returns a yes/no answer. Strings "oui"/"non" and "true"/"false" are accepted.
func (r Responses) Bool(code string) (bool, bool) {
	if !r.Answered(code) {
		return false, false
	}
	switch v := r[code].(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "oui", "true", "yes":
			return true, true
		case "non", "false", "no":
			return false, true
		}
	}
	return false, false
}

// Number returns a numeric answer. Numeric strings, including a decimal
// comma, are coerced. NaN and infinities are not answers.
func (r Responses) Number(code string) (float64, bool) {
	if !r.Answered(code) {
		return 0, false
	}
	f, ok := toFloat(r[code])
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(v), " ", "")
		f, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
		return f, err == nil
	}
	return 0, false
}

// QuestionnaireStatus is the lifecycle state of a questionnaire.
type QuestionnaireStatus string

const (
	QuestionnaireDraft     QuestionnaireStatus = "draft"
	QuestionnaireCompleted QuestionnaireStatus = "completed"
	QuestionnaireValidated QuestionnaireStatus = "validated"
)

func (s QuestionnaireStatus) rank() int {
	switch s {
	case QuestionnaireCompleted:
		return 1
	case QuestionnaireValidated:
		return 2
	default:
		return 0
	}
}

// QuestionnaireResponse holds the answers of a dossier questionnaire.
type QuestionnaireResponse struct {
	DossierID string              `json:"dossier_id" yaml:"dossier_id"`
	Status    QuestionnaireStatus `json:"status" yaml:"status"`
	Responses Responses           `json:"responses" yaml:"responses"`
}

// Advance moves the questionnaire forward in its lifecycle. Moving back is
// an explicit user action outside this package and is rejected here.
func (q *QuestionnaireResponse) Advance(to QuestionnaireStatus) error {
	if to.rank() < q.Status.rank() {
		return eris.Errorf("model: questionnaire cannot move from %s back to %s", q.Status, to)
	}
	q.Status = to
	return nil
}

// Issue is a single validation finding.
type Issue struct {
	Code    string     `json:"code"`
	Level   AlertLevel `json:"level"`
	Message string     `json:"message"`
}

// ValidationResult is derived from responses and the catalog. It is never
// persisted.
type ValidationResult struct {
	Responses       Responses `json:"responses"`
	Completion      float64   `json:"completion"`
	MissingRequired []string  `json:"missing_required"`
	Errors          []Issue   `json:"errors"`
	Warnings        []Issue   `json:"warnings"`
	Blocking        []Issue   `json:"blocking"`
}

// IsValid reports whether nothing is missing, malformed or blocking.
func (v ValidationResult) IsValid() bool {
	return len(v.MissingRequired) == 0 && len(v.Errors) == 0 && len(v.Blocking) == 0
}
