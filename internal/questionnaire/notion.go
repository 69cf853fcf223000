package questionnaire

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"

	"github.com/okatech-org/mayfin-sub002/internal/model"
	"github.com/okatech-org/mayfin-sub002/pkg/notion"
)

// Notion question database properties.
const (
	propCode      = "Code"
	propLabel     = "Libellé"
	propType      = "Type"
	propRequired  = "Obligatoire"
	propSection   = "Section"
	propParent    = "Parent"
	propOrder     = "Ordre"
	propActive    = "Actif"
	propCondition = "Condition"
	propFinancing = "Types financement"
	propMinLength = "Longueur min"
	propMaxLength = "Longueur max"
	propPattern   = "Motif"
	propOptions   = "Options"
	propHelp      = "Aide"
	propAlerts    = "Alertes"
)

// LoadNotionCatalog builds a catalog from the active rows of a Notion
// question database. Sections come from the embedded catalog. Each alert is
// one line of the form "level | condition | message".
func LoadNotionCatalog(ctx context.Context, c notion.Client, dbID string) (*model.Catalog, error) {
	pages, err := notion.QueryActive(ctx, c, dbID, propActive, propOrder)
	if err != nil {
		return nil, eris.Wrap(err, "questionnaire: load notion catalog")
	}

	base, err := DefaultCatalog()
	if err != nil {
		return nil, err
	}
	cat := &model.Catalog{
		Version:            "notion:" + dbID,
		FinancingTypeField: model.FieldFinancingType,
		Sections:           append([]model.Section(nil), base.Sections...),
	}

	type row struct {
		parent string
		q      model.Question
	}
	rows := make([]row, 0, len(pages))
	for _, p := range pages {
		q, err := questionFromProps(p.Properties)
		if err != nil {
			return nil, eris.Wrapf(err, "questionnaire: notion page %s", p.ID)
		}
		rows = append(rows, row{parent: notion.PlainText(p.Properties, propParent), q: q})
	}

	index := make(map[string]int)
	for _, r := range rows {
		if r.parent != "" {
			continue
		}
		index[r.q.Code] = len(cat.Questions)
		cat.Questions = append(cat.Questions, r.q)
	}
	for _, r := range rows {
		if r.parent == "" {
			continue
		}
		i, ok := index[r.parent]
		if !ok {
			return nil, eris.Errorf("questionnaire: sub-question %s has unknown parent %s", r.q.Code, r.parent)
		}
		cat.Questions[i].SubQuestions = append(cat.Questions[i].SubQuestions, r.q)
	}

	if err := CheckCatalog(cat); err != nil {
		return nil, err
	}
	return cat, nil
}

func questionFromProps(props notionapi.Properties) (model.Question, error) {
	q := model.Question{
		Code:     notion.PlainText(props, propCode),
		Label:    notion.PlainText(props, propLabel),
		Type:     model.QuestionType(notion.SelectName(props, propType)),
		Required: notion.Checkbox(props, propRequired),
		Options:  notion.MultiSelectNames(props, propOptions),
		Help:     notion.PlainText(props, propHelp),
	}
	if q.Code == "" {
		return q, eris.New("missing code")
	}
	if n, ok := notion.Number(props, propSection); ok {
		q.Section = int(n)
	}

	var fv model.FieldValidation
	if n, ok := notion.Number(props, propMinLength); ok {
		fv.MinLength = int(n)
	}
	if n, ok := notion.Number(props, propMaxLength); ok {
		fv.MaxLength = int(n)
	}
	fv.Pattern = notion.PlainText(props, propPattern)
	if fv != (model.FieldValidation{}) {
		q.Validations = &fv
	}

	cond, err := parseCondition(notion.PlainText(props, propCondition), notion.MultiSelectNames(props, propFinancing))
	if err != nil {
		return q, err
	}
	q.Condition = cond

	alerts, err := parseAlerts(notion.PlainText(props, propAlerts))
	if err != nil {
		return q, err
	}
	q.Alerts = alerts
	return q, nil
}

// parseCondition reads "FIELD=value" or a list of financing types. Setting
// both is rejected.
func parseCondition(expr string, types []string) (*model.Condition, error) {
	if expr != "" && len(types) > 0 {
		return nil, eris.New("condition and financing types are mutually exclusive")
	}
	if len(types) > 0 {
		fts := make([]model.FinancingType, 0, len(types))
		for _, t := range types {
			fts = append(fts, model.FinancingType(t))
		}
		return model.FinancingTypeIn(fts...), nil
	}
	if expr == "" {
		return nil, nil
	}
	field, raw, ok := strings.Cut(expr, "=")
	if !ok || strings.TrimSpace(field) == "" {
		return nil, eris.Errorf("malformed condition %q", expr)
	}
	return model.FieldEquals(strings.TrimSpace(field), conditionValue(strings.TrimSpace(raw))), nil
}

func conditionValue(raw string) any {
	switch strings.ToLower(raw) {
	case "true", "oui":
		return true
	case "false", "non":
		return false
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

func parseAlerts(text string) ([]model.QuestionAlert, error) {
	var alerts []model.QuestionAlert
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 3)
		if len(parts) != 3 {
			return nil, eris.Errorf("malformed alert %q", line)
		}
		alerts = append(alerts, model.QuestionAlert{
			Level:     model.AlertLevel(strings.TrimSpace(parts[0])),
			Condition: strings.TrimSpace(parts[1]),
			Message:   strings.TrimSpace(parts[2]),
		})
	}
	return alerts, nil
}

// PublishNotionCatalog writes every question of cat as a page of the
// Notion database, sub-questions after their parent. It returns the number
// of pages created.
func PublishNotionCatalog(ctx context.Context, c notion.Client, dbID string, cat *model.Catalog) (int, error) {
	if err := CheckCatalog(cat); err != nil {
		return 0, err
	}

	created := 0
	publish := func(q model.Question, parent string, section int) error {
		req := &notionapi.PageCreateRequest{
			Parent: notionapi.Parent{
				Type:       notionapi.ParentTypeDatabaseID,
				DatabaseID: notionapi.DatabaseID(dbID),
			},
			Properties: questionProps(q, parent, section, created),
		}
		if _, err := c.CreatePage(ctx, req); err != nil {
			return eris.Wrapf(err, "questionnaire: publish question %s", q.Code)
		}
		created++
		return nil
	}

	for _, q := range cat.Questions {
		if err := ctx.Err(); err != nil {
			return created, eris.Wrap(err, "questionnaire: publish cancelled")
		}
		if err := publish(q, "", q.Section); err != nil {
			return created, err
		}
		for _, sub := range q.SubQuestions {
			if err := publish(sub, q.Code, q.Section); err != nil {
				return created, err
			}
		}
	}
	return created, nil
}

func questionProps(q model.Question, parent string, section, order int) notionapi.Properties {
	props := notionapi.Properties{
		propCode:     notion.Title(q.Code),
		propLabel:    notion.RichText(q.Label),
		propType:     notion.Select(string(q.Type)),
		propRequired: notion.CheckboxValue(q.Required),
		propSection:  notion.NumberValue(float64(section)),
		propOrder:    notion.NumberValue(float64(order)),
		propActive:   notion.CheckboxValue(true),
	}
	if parent != "" {
		props[propParent] = notion.RichText(parent)
	}
	if q.Help != "" {
		props[propHelp] = notion.RichText(q.Help)
	}
	if len(q.Options) > 0 {
		props[propOptions] = notion.MultiSelect(q.Options...)
	}
	if v := q.Validations; v != nil {
		if v.MinLength > 0 {
			props[propMinLength] = notion.NumberValue(float64(v.MinLength))
		}
		if v.MaxLength > 0 {
			props[propMaxLength] = notion.NumberValue(float64(v.MaxLength))
		}
		if v.Pattern != "" {
			props[propPattern] = notion.RichText(v.Pattern)
		}
	}
	if c := q.Condition; c != nil {
		switch c.Kind {
		case model.ConditionFieldEquals:
			props[propCondition] = notion.RichText(fmt.Sprintf("%s=%v", c.Field, c.Value))
		case model.ConditionFinancingType:
			names := make([]string, 0, len(c.Types))
			for _, t := range c.Types {
				names = append(names, string(t))
			}
			props[propFinancing] = notion.MultiSelect(names...)
		}
	}
	if len(q.Alerts) > 0 {
		lines := make([]string, 0, len(q.Alerts))
		for _, a := range q.Alerts {
			lines = append(lines, fmt.Sprintf("%s | %s | %s", a.Level, a.Condition, a.Message))
		}
		props[propAlerts] = notion.RichText(strings.Join(lines, "\n"))
	}
	return props
}
