package questionnaire

import (
	"github.com/maja42/goval"
	"go.uber.org/zap"

	"github.com/okatech-org/mayfin-sub002/internal/model"
)

// evaluateAlerts returns the issues raised by q's alerts. The answer is
// bound to the variable "value". Conditions that fail to evaluate or do
// not yield a boolean raise nothing.
func evaluateAlerts(q model.Question, responses model.Responses) []model.Issue {
	if len(q.Alerts) == 0 {
		return nil
	}
	value, ok := alertValue(q, responses)
	if !ok {
		return nil
	}

	vars := map[string]interface{}{"value": value}
	var issues []model.Issue
	for _, alert := range q.Alerts {
		out, err := goval.NewEvaluator().Evaluate(alert.Condition, vars, nil)
		if err != nil {
			zap.L().Debug("questionnaire: alert condition failed",
				zap.String("question", q.Code),
				zap.String("condition", alert.Condition),
				zap.Error(err),
			)
			continue
		}
		if fired, _ := out.(bool); fired {
			issues = append(issues, model.Issue{Code: q.Code, Level: alert.Level, Message: alert.Message})
		}
	}
	return issues
}

// alertValue types the answer for expression evaluation.
func alertValue(q model.Question, responses model.Responses) (any, bool) {
	if q.Type == model.QuestionYesNo {
		return responses.Bool(q.Code)
	}
	if n, ok := responses.Number(q.Code); ok {
		return n, true
	}
	return responses.String(q.Code)
}
