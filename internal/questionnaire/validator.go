package questionnaire

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/okatech-org/mayfin-sub002/internal/model"
)

// Validator checks responses against one catalog. It holds no per-call
// state and is safe for concurrent use.
type Validator struct {
	catalog  *model.Catalog
	sections map[int]model.Section
	patterns map[string]*regexp.Regexp
}

// NewValidator prepares a validator for cat, compiling its patterns once.
func NewValidator(cat *model.Catalog) (*Validator, error) {
	if err := CheckCatalog(cat); err != nil {
		return nil, err
	}
	v := &Validator{
		catalog:  cat,
		sections: make(map[int]model.Section, len(cat.Sections)),
		patterns: make(map[string]*regexp.Regexp),
	}
	for _, s := range cat.Sections {
		v.sections[s.ID] = s
	}
	var compile func(q model.Question) error
	compile = func(q model.Question) error {
		if q.Validations != nil && q.Validations.Pattern != "" {
			re, err := regexp.Compile(q.Validations.Pattern)
			if err != nil {
				return eris.Wrapf(err, "questionnaire: compile pattern for %s", q.Code)
			}
			v.patterns[q.Code] = re
		}
		for _, s := range q.SubQuestions {
			if err := compile(s); err != nil {
				return err
			}
		}
		return nil
	}
	for _, q := range cat.Questions {
		if err := compile(q); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Catalog returns the catalog the validator was built for.
func (v *Validator) Catalog() *model.Catalog {
	return v.catalog
}

// tally accumulates one validation pass.
type tally struct {
	answered int
	required int
	result   model.ValidationResult
}

// Validate evaluates visibility, required answers, field validations and
// alerts for every catalog question.
func (v *Validator) Validate(responses model.Responses) model.ValidationResult {
	t := &tally{
		result: model.ValidationResult{
			Responses:       responses.Clone(),
			MissingRequired: []string{},
			Errors:          []model.Issue{},
			Warnings:        []model.Issue{},
			Blocking:        []model.Issue{},
		},
	}

	for _, q := range v.catalog.Questions {
		if s, ok := v.sections[q.Section]; ok && !v.holds(s.Condition, responses) {
			continue
		}
		v.check(t, q, responses)
	}

	if t.required > 0 {
		t.result.Completion = math.Round(float64(t.answered) / float64(t.required) * 100)
	}
	return t.result
}

// check validates q when visible, then its sub-questions.
func (v *Validator) check(t *tally, q model.Question, responses model.Responses) {
	if !v.holds(q.Condition, responses) {
		return
	}

	answered := responses.Answered(q.Code)
	if q.Required {
		t.required++
		if answered {
			t.answered++
		} else {
			t.result.MissingRequired = append(t.result.MissingRequired, q.Code)
		}
	}

	if answered {
		if msg, ok := v.checkField(q, responses); !ok {
			t.result.Errors = append(t.result.Errors, model.Issue{Code: q.Code, Level: model.AlertError, Message: msg})
		}
		for _, issue := range evaluateAlerts(q, responses) {
			if issue.Level == model.AlertBlocking {
				t.result.Blocking = append(t.result.Blocking, issue)
			} else {
				t.result.Warnings = append(t.result.Warnings, issue)
			}
		}
	}

	for _, sub := range q.SubQuestions {
		v.check(t, sub, responses)
	}
}

// checkField applies type and shape validations to an answered question.
func (v *Validator) checkField(q model.Question, responses model.Responses) (string, bool) {
	switch q.Type {
	case model.QuestionYesNo:
		if _, ok := responses.Bool(q.Code); !ok {
			return "Réponse oui/non attendue", false
		}
		return "", true
	case model.QuestionNumber:
		if _, ok := responses.Number(q.Code); !ok {
			return "Valeur numérique attendue", false
		}
		return "", true
	}

	text, ok := responses.String(q.Code)
	if !ok {
		return "Format invalide", false
	}
	if q.Type == model.QuestionSelect && len(q.Options) > 0 && !slices.Contains(q.Options, text) {
		return fmt.Sprintf("Valeur non autorisée : %s", text), false
	}
	if q.Validations == nil {
		return "", true
	}
	n := utf8.RuneCountInString(text)
	if q.Validations.MinLength > 0 && n < q.Validations.MinLength {
		return fmt.Sprintf("Minimum %d caractères requis", q.Validations.MinLength), false
	}
	if q.Validations.MaxLength > 0 && n > q.Validations.MaxLength {
		return fmt.Sprintf("Maximum %d caractères", q.Validations.MaxLength), false
	}
	if re, ok := v.patterns[q.Code]; ok && !re.MatchString(text) {
		return "Format invalide", false
	}
	return "", true
}

// holds evaluates a visibility condition. A nil condition always holds.
func (v *Validator) holds(c *model.Condition, responses model.Responses) bool {
	if c == nil {
		return true
	}
	switch c.Kind {
	case model.ConditionFieldEquals:
		return answerEquals(responses, c.Field, c.Value)
	case model.ConditionFinancingType:
		ft, ok := responses.String(v.catalog.FinancingTypeField)
		if !ok {
			return false
		}
		for _, t := range c.Types {
			if strings.EqualFold(string(t), ft) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// answerEquals compares an answer with a condition value of the same
// kind: booleans accept oui/non, numbers accept numeric strings.
func answerEquals(responses model.Responses, field string, want any) bool {
	switch w := want.(type) {
	case bool:
		got, ok := responses.Bool(field)
		return ok && got == w
	case int:
		got, ok := responses.Number(field)
		return ok && got == float64(w)
	case float64:
		got, ok := responses.Number(field)
		return ok && got == w
	case nil:
		return !responses.Answered(field)
	default:
		got, ok := responses.String(field)
		return ok && got == strings.TrimSpace(fmt.Sprint(w))
	}
}
