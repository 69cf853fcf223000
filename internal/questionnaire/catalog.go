// Package questionnaire loads the question catalog and validates dossier
// questionnaire responses against it.
package questionnaire

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/okatech-org/mayfin-sub002/internal/config"
	"github.com/okatech-org/mayfin-sub002/internal/model"
	"github.com/okatech-org/mayfin-sub002/pkg/notion"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

var defaultCatalog = sync.OnceValues(func() (*model.Catalog, error) {
	return ParseCatalog(embeddedCatalog)
})

// DefaultCatalog returns the embedded MVP catalog. The returned value is
// shared and must not be modified.
func DefaultCatalog() (*model.Catalog, error) {
	return defaultCatalog()
}

// ParseCatalog decodes and checks a YAML catalog.
func ParseCatalog(data []byte) (*model.Catalog, error) {
	var cat model.Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, eris.Wrap(err, "questionnaire: parse catalog")
	}
	if err := CheckCatalog(&cat); err != nil {
		return nil, err
	}
	return &cat, nil
}

// LoadCatalog reads a YAML catalog from path.
func LoadCatalog(path string) (*model.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "questionnaire: read catalog %s", path)
	}
	return ParseCatalog(data)
}

// MarshalCatalog encodes a catalog back to YAML.
func MarshalCatalog(cat *model.Catalog) ([]byte, error) {
	out, err := yaml.Marshal(cat)
	if err != nil {
		return nil, eris.Wrap(err, "questionnaire: marshal catalog")
	}
	return out, nil
}

// Load resolves the catalog named by cfg. The Notion client is only used
// when the source is "notion".
func Load(ctx context.Context, cfg config.QuestionnaireConfig, nc notion.Client, dbID string) (*model.Catalog, error) {
	switch cfg.Source {
	case "", "embedded":
		return DefaultCatalog()
	case "file":
		if cfg.CatalogPath == "" {
			return nil, eris.New("questionnaire: catalog_path is required for the file source")
		}
		return LoadCatalog(cfg.CatalogPath)
	case "notion":
		if nc == nil || dbID == "" {
			return nil, eris.New("questionnaire: notion source needs a token and a question database")
		}
		return LoadNotionCatalog(ctx, nc, dbID)
	default:
		return nil, eris.Errorf("questionnaire: unknown catalog source %q", cfg.Source)
	}
}

// CheckCatalog verifies codes are unique, condition kinds are known,
// sections exist and patterns compile.
func CheckCatalog(cat *model.Catalog) error {
	if cat == nil {
		return eris.New("questionnaire: nil catalog")
	}

	var errs []error
	sections := make(map[int]bool, len(cat.Sections))
	for _, s := range cat.Sections {
		if sections[s.ID] {
			errs = append(errs, fmt.Errorf("duplicate section %d", s.ID))
		}
		sections[s.ID] = true
		if err := checkCondition(s.Condition); err != nil {
			errs = append(errs, fmt.Errorf("section %d: %w", s.ID, err))
		}
	}

	seen := make(map[string]bool)
	var walk func(q model.Question, sub bool)
	walk = func(q model.Question, sub bool) {
		if q.Code == "" {
			errs = append(errs, fmt.Errorf("question %q has no code", q.Label))
			return
		}
		if seen[q.Code] {
			errs = append(errs, fmt.Errorf("duplicate question code %s", q.Code))
		}
		seen[q.Code] = true
		if !sub && len(sections) > 0 && !sections[q.Section] {
			errs = append(errs, fmt.Errorf("question %s: unknown section %d", q.Code, q.Section))
		}
		if err := checkCondition(q.Condition); err != nil {
			errs = append(errs, fmt.Errorf("question %s: %w", q.Code, err))
		}
		if q.Validations != nil && q.Validations.Pattern != "" {
			if _, err := regexp.Compile(q.Validations.Pattern); err != nil {
				errs = append(errs, fmt.Errorf("question %s: pattern: %w", q.Code, err))
			}
		}
		for _, a := range q.Alerts {
			if a.Condition == "" {
				errs = append(errs, fmt.Errorf("question %s: alert without condition", q.Code))
			}
			switch a.Level {
			case model.AlertInfo, model.AlertWarning, model.AlertDanger, model.AlertBlocking:
			default:
				errs = append(errs, fmt.Errorf("question %s: unknown alert level %q", q.Code, a.Level))
			}
		}
		for _, s := range q.SubQuestions {
			walk(s, true)
		}
	}
	for _, q := range cat.Questions {
		walk(q, false)
	}

	if len(errs) > 0 {
		return eris.Wrap(errors.Join(errs...), "questionnaire: invalid catalog")
	}
	return nil
}

func checkCondition(c *model.Condition) error {
	if c == nil {
		return nil
	}
	switch c.Kind {
	case model.ConditionFieldEquals:
		if c.Field == "" {
			return errors.New("field_equals condition without field")
		}
	case model.ConditionFinancingType:
		if len(c.Types) == 0 {
			return errors.New("financing_type condition without types")
		}
	default:
		return fmt.Errorf("unknown condition kind %q", c.Kind)
	}
	return nil
}
