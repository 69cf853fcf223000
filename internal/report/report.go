// Package report renders scoring results and run history for the terminal.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/okatech-org/mayfin-sub002/internal/model"
)

var categoryLabels = map[model.DecisionCategory]string{
	model.CategoryAccordFavorable:   "Accord favorable",
	model.CategoryAccordConditionne: "Accord conditionné",
	model.CategoryEtudeApprofondie:  "Étude approfondie",
	model.CategoryRefus:             "Refus",
}

// Options controls rendering.
type Options struct {
	Colors bool
}

type palette struct {
	green, yellow, magenta, red, bold func(...any) string
}

func newPalette(enabled bool) palette {
	if !enabled {
		return palette{fmt.Sprint, fmt.Sprint, fmt.Sprint, fmt.Sprint, fmt.Sprint}
	}
	return palette{
		green:   color.New(color.FgGreen, color.Bold).SprintFunc(),
		yellow:  color.New(color.FgYellow).SprintFunc(),
		magenta: color.New(color.FgMagenta).SprintFunc(),
		red:     color.New(color.FgRed, color.Bold).SprintFunc(),
		bold:    color.New(color.Bold).SprintFunc(),
	}
}

func (p palette) category(c model.DecisionCategory) string {
	label := CategoryLabel(c)
	switch c {
	case model.CategoryAccordFavorable:
		return p.green(label)
	case model.CategoryAccordConditionne:
		return p.yellow(label)
	case model.CategoryEtudeApprofondie:
		return p.magenta(label)
	default:
		return p.red(label)
	}
}

// CategoryLabel returns the display label of a decision category.
func CategoryLabel(c model.DecisionCategory) string {
	if l, ok := categoryLabels[c]; ok {
		return l
	}
	return string(c)
}

// Render writes a summary of res followed by its score details, factors
// and recommendation.
func Render(w io.Writer, res *model.ScoringResult, opts Options) error {
	p := newPalette(opts.Colors)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", p.bold("Dossier"), res.DossierID)
	fmt.Fprintf(&b, "%s %s\n", p.bold("Analyse"), res.RunID)
	fmt.Fprintf(&b, "%s %.1f / 100  %s\n", p.bold("Score"), res.GlobalScore, p.category(res.Category))
	if res.Degraded {
		note := "analyse partielle"
		if res.MarketDataMissing {
			note += " (données de marché indisponibles)"
		}
		b.WriteString(p.yellow(note) + "\n")
	}
	b.WriteString("\n")
	if _, err := io.WriteString(w, b.String()); err != nil {
		return err
	}

	if err := detailsTable(w, res.Details); err != nil {
		return err
	}
	if err := factorsTable(w, res.PositiveFactors, res.NegativeFactors, p); err != nil {
		return err
	}
	return recommendation(w, res.Recommendation, p)
}

func detailsTable(w io.Writer, details []model.ScoreDetail) error {
	table := tablewriter.NewWriter(w)
	defer func() { _ = table.Close() }()

	table.Header([]string{"Critère", "Poids", "Note", "Points", "Justification"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.PerColumn = []tw.Align{tw.AlignLeft, tw.AlignRight, tw.AlignRight, tw.AlignRight, tw.AlignLeft}
	})

	data := make([][]string, 0, len(details))
	for _, d := range details {
		data = append(data, []string{
			d.Label,
			fmt.Sprintf("%.1f%%", d.Weight*100),
			fmt.Sprintf("%.0f", d.SubScore),
			fmt.Sprintf("%.2f", d.Points),
			d.Justification,
		})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

func factorsTable(w io.Writer, positive, negative []model.Factor, p palette) error {
	if len(positive)+len(negative) == 0 {
		return nil
	}
	table := tablewriter.NewWriter(w)
	defer func() { _ = table.Close() }()

	table.Header([]string{"", "Facteur", "Impact"})

	var data [][]string
	for _, f := range positive {
		data = append(data, []string{p.green("+"), f.Label, fmt.Sprintf("%+.1f", f.Impact)})
	}
	for _, f := range negative {
		data = append(data, []string{p.red("-"), f.Label, fmt.Sprintf("%+.1f", f.Impact)})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

func recommendation(w io.Writer, r model.Recommendation, p palette) error {
	lines := []string{
		fmt.Sprintf("%s %s €", p.bold("Montant finançable"), r.FinanceableAmount.StringFixed(0)),
	}
	if r.ProductType != "" {
		lines = append(lines, fmt.Sprintf("%s %s sur %d mois", p.bold("Produit"), r.ProductType, r.DurationMonths))
	}
	if len(r.Guarantees) > 0 {
		lines = append(lines, fmt.Sprintf("%s %s", p.bold("Garanties"), strings.Join(r.Guarantees, ", ")))
	}
	for _, c := range r.SpecialConditions {
		lines = append(lines, "  • "+c)
	}
	for _, v := range r.WatchPoints {
		lines = append(lines, "  ! "+v)
	}
	if r.DecisionText != "" {
		lines = append(lines, "", r.DecisionText)
	}
	_, err := fmt.Fprintln(w, strings.Join(lines, "\n"))
	return err
}

// RenderHistory writes one row per recorded run.
func RenderHistory(w io.Writer, runs []model.RunRecord, opts Options) error {
	p := newPalette(opts.Colors)

	table := tablewriter.NewWriter(w)
	defer func() { _ = table.Close() }()

	table.Header([]string{"Analyse", "Date", "Statut", "Score", "Décision", "Coût"})

	data := make([][]string, 0, len(runs))
	for _, r := range runs {
		score, decision := "-", "-"
		if r.Score != nil {
			score = fmt.Sprintf("%.1f", *r.Score)
			decision = p.category(r.Category)
		} else if r.Failure != nil {
			decision = p.red(r.Failure.Message)
		}
		data = append(data, []string{
			shortID(r.ID),
			r.CreatedAt.Format("2006-01-02 15:04"),
			string(r.Status),
			score,
			decision,
			fmt.Sprintf("$%.3f", r.TotalCost),
		})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// RenderValidation writes questionnaire completion followed by every issue,
// most severe first.
func RenderValidation(w io.Writer, res model.ValidationResult, opts Options) error {
	p := newPalette(opts.Colors)

	status := p.green("complet")
	if !res.IsValid() {
		status = p.red("incomplet")
	}
	if _, err := fmt.Fprintf(w, "%s %.0f%%  %s\n", p.bold("Complétude"), res.Completion, status); err != nil {
		return err
	}
	if len(res.MissingRequired) > 0 {
		if _, err := fmt.Fprintf(w, "%s %s\n", p.bold("Manquantes"), strings.Join(res.MissingRequired, ", ")); err != nil {
			return err
		}
	}

	issues := make([]model.Issue, 0, len(res.Blocking)+len(res.Errors)+len(res.Warnings))
	issues = append(issues, res.Blocking...)
	issues = append(issues, res.Errors...)
	issues = append(issues, res.Warnings...)
	if len(issues) == 0 {
		return nil
	}

	table := tablewriter.NewWriter(w)
	defer func() { _ = table.Close() }()

	table.Header([]string{"Niveau", "Question", "Message"})
	data := make([][]string, 0, len(issues))
	for _, is := range issues {
		data = append(data, []string{p.level(is.Level), is.Code, is.Message})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

func (p palette) level(l model.AlertLevel) string {
	switch l {
	case model.AlertBlocking, model.AlertError:
		return p.red(string(l))
	case model.AlertDanger:
		return p.magenta(string(l))
	case model.AlertWarning:
		return p.yellow(string(l))
	default:
		return string(l)
	}
}
