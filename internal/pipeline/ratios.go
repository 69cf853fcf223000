package pipeline

import (
	"github.com/okatech-org/mayfin-sub002/internal/model"
)

// Ratio codes.
const (
	RatioFinancialAutonomy = "financial_autonomy"
	RatioDebtToCAF         = "debt_to_caf"
	RatioCurrent           = "current_ratio"
	RatioQuick             = "quick_ratio"
	RatioCash              = "cash_ratio"
	RatioEBITDAMargin      = "ebitda_margin"
	RatioNetMargin         = "net_margin"
	RatioRevenueGrowth     = "revenue_growth"
	RatioNetResultGrowth   = "net_result_growth"
	RatioCashDays          = "cash_days"
	RatioReceivableDays    = "receivable_days"
	RatioPayableDays       = "payable_days"
	RatioGearing           = "gearing"
	RatioROE               = "roe"
	RatioAssetTurnover     = "asset_turnover"
)

type ratioDef struct {
	code      string
	name      string
	unit      string
	threshold model.Threshold
	compute   func(cur, prev model.YearFacts) (float64, bool)
}

var ratioDefs = []ratioDef{
	{
		code: RatioFinancialAutonomy, name: "Autonomie financière", unit: "%",
		threshold: model.Threshold{Good: 30, Warning: 20, HigherIsBetter: true, Label: "capitaux propres / total passif"},
		compute: func(cur, _ model.YearFacts) (float64, bool) {
			return quotient(cur, model.ItemEquity, model.ItemTotalLiabilities, 100)
		},
	},
	{
		code: RatioDebtToCAF, name: "Dettes financières / CAF", unit: "années",
		threshold: model.Threshold{Good: 3, Warning: 5, Label: "années de CAF pour rembourser"},
		compute: func(cur, _ model.YearFacts) (float64, bool) {
			return quotient(cur, model.ItemFinancialDebt, model.ItemSelfFinancing, 1)
		},
	},
	{
		code: RatioCurrent, name: "Liquidité générale", unit: "x",
		threshold: model.Threshold{Good: 1.5, Warning: 1.0, HigherIsBetter: true, Label: "actif circulant / dettes court terme"},
		compute: func(cur, _ model.YearFacts) (float64, bool) {
			return quotient(cur, model.ItemCurrentAssets, model.ItemCurrentLiabilities, 1)
		},
	},
	{
		code: RatioQuick, name: "Liquidité réduite", unit: "x",
		threshold: model.Threshold{Good: 1.0, Warning: 0.7, HigherIsBetter: true, Label: "(actif circulant - stocks) / dettes court terme"},
		compute: func(cur, _ model.YearFacts) (float64, bool) {
			ca, ok := cur.Get(model.ItemCurrentAssets)
			if !ok {
				return 0, false
			}
			inv, ok := cur.Get(model.ItemInventory)
			if !ok {
				return 0, false
			}
			cl, ok := cur.Get(model.ItemCurrentLiabilities)
			if !ok || !cl.IsPositive() {
				return 0, false
			}
			return ca.Sub(inv).Div(cl).InexactFloat64(), true
		},
	},
	{
		code: RatioCash, name: "Liquidité immédiate", unit: "x",
		threshold: model.Threshold{Good: 0.5, Warning: 0.2, HigherIsBetter: true, Label: "disponibilités / dettes court terme"},
		compute: func(cur, _ model.YearFacts) (float64, bool) {
			return quotient(cur, model.ItemCash, model.ItemCurrentLiabilities, 1)
		},
	},
	{
		code: RatioEBITDAMargin, name: "Marge d'EBE", unit: "%",
		threshold: model.Threshold{Good: 10, Warning: 5, HigherIsBetter: true, Label: "EBE / chiffre d'affaires"},
		compute: func(cur, _ model.YearFacts) (float64, bool) {
			return quotient(cur, model.ItemEBITDA, model.ItemRevenue, 100)
		},
	},
	{
		code: RatioNetMargin, name: "Marge nette", unit: "%",
		threshold: model.Threshold{Good: 5, Warning: 2, HigherIsBetter: true, Label: "résultat net / chiffre d'affaires"},
		compute: func(cur, _ model.YearFacts) (float64, bool) {
			return quotient(cur, model.ItemNetResult, model.ItemRevenue, 100)
		},
	},
	{
		code: RatioRevenueGrowth, name: "Croissance du CA", unit: "%",
		threshold: model.Threshold{Good: 5, Warning: 0, HigherIsBetter: true, Label: "variation annuelle du chiffre d'affaires"},
		compute: func(cur, prev model.YearFacts) (float64, bool) {
			return growth(cur, prev, model.ItemRevenue)
		},
	},
	{
		code: RatioNetResultGrowth, name: "Évolution du résultat net", unit: "%",
		threshold: model.Threshold{Good: 5, Warning: 0, HigherIsBetter: true, Label: "variation annuelle du résultat net"},
		compute: func(cur, prev model.YearFacts) (float64, bool) {
			return growth(cur, prev, model.ItemNetResult)
		},
	},
	{
		code: RatioCashDays, name: "Trésorerie en jours de CA", unit: "jours",
		threshold: model.Threshold{Good: 30, Warning: 15, HigherIsBetter: true, Label: "disponibilités / CA × 365"},
		compute: func(cur, _ model.YearFacts) (float64, bool) {
			return quotient(cur, model.ItemCash, model.ItemRevenue, 365)
		},
	},
	{
		code: RatioReceivableDays, name: "Délai clients", unit: "jours",
		threshold: model.Threshold{Good: 45, Warning: 60, Label: "créances clients / CA × 365"},
		compute: func(cur, _ model.YearFacts) (float64, bool) {
			return quotient(cur, model.ItemReceivables, model.ItemRevenue, 365)
		},
	},
	{
		code: RatioPayableDays, name: "Délai fournisseurs", unit: "jours",
		threshold: model.Threshold{Good: 60, Warning: 90, Label: "dettes fournisseurs / CA × 365"},
		compute: func(cur, _ model.YearFacts) (float64, bool) {
			return quotient(cur, model.ItemPayables, model.ItemRevenue, 365)
		},
	},
	{
		code: RatioGearing, name: "Dettes financières / fonds propres", unit: "x",
		threshold: model.Threshold{Good: 1, Warning: 2, Label: "dettes financières / capitaux propres"},
		compute: func(cur, _ model.YearFacts) (float64, bool) {
			return quotient(cur, model.ItemFinancialDebt, model.ItemEquity, 1)
		},
	},
	{
		code: RatioROE, name: "Rentabilité des capitaux propres", unit: "%",
		threshold: model.Threshold{Good: 10, Warning: 5, HigherIsBetter: true, Label: "résultat net / capitaux propres"},
		compute: func(cur, _ model.YearFacts) (float64, bool) {
			return quotient(cur, model.ItemNetResult, model.ItemEquity, 100)
		},
	},
	{
		code: RatioAssetTurnover, name: "Rotation de l'actif", unit: "x",
		threshold: model.Threshold{Good: 1.5, Warning: 1.0, HigherIsBetter: true, Label: "CA / total actif"},
		compute: func(cur, _ model.YearFacts) (float64, bool) {
			return quotient(cur, model.ItemRevenue, model.ItemTotalAssets, 1)
		},
	},
}

// ComputeRatios derives the ratio table from facts for the three most
// recent fiscal years. Ratios are never read back from storage.
func ComputeRatios(facts model.FinancialFacts) []model.Ratio {
	years := facts.SortedYears()
	ratios := make([]model.Ratio, 0, len(ratioDefs))
	for _, def := range ratioDefs {
		r := model.Ratio{
			Code:      def.code,
			Name:      def.name,
			Unit:      def.unit,
			Threshold: def.threshold,
			Status:    model.RatioUnknown,
		}
		for i := 0; i < len(r.Values) && i < len(years); i++ {
			var prev model.YearFacts
			if i+1 < len(years) {
				prev = facts.Years[years[i+1]]
			}
			if v, ok := def.compute(facts.Years[years[i]], prev); ok {
				r.Values[i] = &v
			}
		}
		if v, ok := r.Current(); ok {
			r.Status = def.threshold.Grade(v)
		}
		ratios = append(ratios, r)
	}
	return ratios
}

// quotient returns num/den*scale. A missing or non-positive denominator
// leaves the ratio undefined.
func quotient(y model.YearFacts, num, den model.LineItem, scale float64) (float64, bool) {
	n, ok := y.Get(num)
	if !ok {
		return 0, false
	}
	d, ok := y.Get(den)
	if !ok || !d.IsPositive() {
		return 0, false
	}
	return n.Div(d).InexactFloat64() * scale, true
}

// growth returns the year-over-year change of item in percent of |prev|.
func growth(cur, prev model.YearFacts, item model.LineItem) (float64, bool) {
	if prev == nil {
		return 0, false
	}
	c, ok := cur.Get(item)
	if !ok {
		return 0, false
	}
	p, ok := prev.Get(item)
	if !ok || p.IsZero() {
		return 0, false
	}
	return c.Sub(p).Div(p.Abs()).InexactFloat64() * 100, true
}
