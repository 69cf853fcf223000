package scorer

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/okatech-org/mayfin-sub002/internal/model"
)

const maxWatchPoints = 3

type categoryRule struct {
	guarantees []string
	conditions []string
	decision   string
}

var categoryRules = map[model.DecisionCategory]categoryRule{
	model.CategoryAccordFavorable: {
		guarantees: []string{"Caution personnelle du dirigeant à hauteur de 50 %"},
		decision:   "Avis favorable",
	},
	model.CategoryAccordConditionne: {
		guarantees: []string{"Caution personnelle du dirigeant", "Garantie Bpifrance"},
		conditions: []string{"Apport personnel minimum de 20 % du projet"},
		decision:   "Avis favorable sous conditions",
	},
	model.CategoryEtudeApprofondie: {
		guarantees: []string{"Caution personnelle du dirigeant", "Garantie Bpifrance", "Nantissement du fonds de commerce"},
		conditions: []string{
			"Prévisionnel sur trois ans validé par l'expert-comptable",
			"Compléments d'information requis avant passage en comité",
		},
		decision: "Étude approfondie requise",
	},
	model.CategoryRefus: {
		decision: "Avis défavorable",
	},
}

var productByFinancing = map[model.FinancingType]string{
	model.FinancingAcquisition:   "Prêt acquisition de fonds de commerce",
	model.FinancingReprise:       "Prêt reprise d'entreprise",
	model.FinancingCreation:      "Prêt création d'entreprise",
	model.FinancingDeveloppement: "Prêt développement professionnel",
}

const defaultProduct = "Prêt professionnel amortissable"

// recommend derives the financing terms from the category and financing
// type. It does not feed back into the score.
func (e *Engine) recommend(in *inputs, category model.DecisionCategory, score float64, negative []model.Factor) model.Recommendation {
	rule := categoryRules[category]
	rec := model.Recommendation{
		FinanceableAmount: decimal.Zero,
		Guarantees:        append([]string{}, rule.guarantees...),
		SpecialConditions: append([]string{}, rule.conditions...),
		WatchPoints:       []string{},
		DecisionText:      fmt.Sprintf("%s (score %.1f/100).", rule.decision, score),
	}

	for i, f := range negative {
		if i == maxWatchPoints {
			break
		}
		rec.WatchPoints = append(rec.WatchPoints, f.Label)
	}
	if in.outcome.MarketDataMissing {
		rec.WatchPoints = append(rec.WatchPoints, "Analyse sectorielle indisponible, à compléter manuellement")
	}

	if category == model.CategoryRefus {
		return rec
	}

	rec.ProductType = defaultProduct
	if p, ok := productByFinancing[in.financing]; ok {
		rec.ProductType = p
	}
	rec.DurationMonths = 60
	if in.financing.IsTransfer() {
		rec.DurationMonths = 84
		if !contains(rec.Guarantees, "Nantissement du fonds de commerce") {
			rec.Guarantees = append(rec.Guarantees, "Nantissement du fonds de commerce")
		}
	}

	rec.FinanceableAmount = e.financeableAmount(in, category)
	return rec
}

// financeableAmount is min(requested, multiple × latest EBITDA) capped at a
// share of the latest revenue. CAF then net result stand in for a missing
// EBITDA.
func (e *Engine) financeableAmount(in *inputs, category model.DecisionCategory) decimal.Decimal {
	_, latest, ok := in.outcome.Facts.Latest()
	if !ok {
		return decimal.Zero
	}

	var base decimal.Decimal
	for _, item := range []model.LineItem{model.ItemEBITDA, model.ItemSelfFinancing, model.ItemNetResult} {
		if v, ok := latest.Get(item); ok && v.IsPositive() {
			base = v
			break
		}
	}
	amount := base.Mul(decimal.NewFromFloat(e.cfg.Multiples[category]))

	if req, ok := in.responses.Number(model.FieldRequestedAmount); ok && req > 0 {
		amount = decimal.Min(amount, decimal.NewFromFloat(req))
	}
	if rev, ok := latest.Get(model.ItemRevenue); ok && rev.IsPositive() {
		amount = decimal.Min(amount, rev.Mul(decimal.NewFromFloat(e.cfg.RevenueCapShare)))
	}
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount.Round(0)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
