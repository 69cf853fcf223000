package scorer

import (
	"fmt"
	"math"

	"github.com/okatech-org/mayfin-sub002/internal/model"
	"github.com/okatech-org/mayfin-sub002/internal/pipeline"
)

const (
	// insufficientScore is the sub-score of a criterion whose input is missing.
	insufficientScore = 40
	insufficientText  = "Données insuffisantes"
)

// Criterion codes, in evaluation order.
const (
	CriterionFinancialAutonomy   = "financial_autonomy"
	CriterionRepaymentCapacity   = "repayment_capacity"
	CriterionLiquidity           = "liquidity"
	CriterionProfitability       = "profitability"
	CriterionRevenueGrowth       = "revenue_growth"
	CriterionSectorHealth        = "sector_health"
	CriterionPersonalDebt        = "personal_debt"
	CriterionCollectiveProcedure = "collective_procedure"
	CriterionManagerExperience   = "manager_experience"
	CriterionTransferEvidence    = "transfer_evidence"
)

// inputs is what the criteria read.
type inputs struct {
	outcome   *model.PipelineOutcome
	responses model.Responses
	financing model.FinancingType
}

type criterion struct {
	code   string
	label  string
	weight float64
	// active is nil for criteria that always apply.
	active func(in *inputs) bool
	// score returns the 0-100 sub-score and its justification; ok is false
	// when the input is missing.
	score func(in *inputs) (sub float64, why string, ok bool)
}

// ladder grades a value on four breakpoints into 100/80/60/40/20.
type ladder struct {
	steps          [4]float64
	higherIsBetter bool
}

func (l ladder) grade(v float64) float64 {
	for i, s := range l.steps {
		if (l.higherIsBetter && v >= s) || (!l.higherIsBetter && v <= s) {
			return float64(100 - 20*i)
		}
	}
	return 20
}

var (
	autonomyLadder      = ladder{steps: [4]float64{35, 25, 15, 10}, higherIsBetter: true}
	repaymentLadder     = ladder{steps: [4]float64{2, 3, 4, 6}}
	liquidityLadder     = ladder{steps: [4]float64{1.5, 1.2, 0.8, 0.5}, higherIsBetter: true}
	profitabilityLadder = ladder{steps: [4]float64{10, 7, 5, 2}, higherIsBetter: true}
	growthLadder        = ladder{steps: [4]float64{10, 5, 0, -5}, higherIsBetter: true}
)

var criteria = []criterion{
	{
		code: CriterionFinancialAutonomy, label: "Autonomie financière", weight: 20,
		score: ratioScore(pipeline.RatioFinancialAutonomy, autonomyLadder, "Capitaux propres / total passif : %.1f %%"),
	},
	{
		code: CriterionRepaymentCapacity, label: "Capacité de remboursement", weight: 20,
		score: func(in *inputs) (float64, string, bool) {
			if sub, why, ok := ratioScore(pipeline.RatioDebtToCAF, repaymentLadder, "Dettes financières / CAF : %.1f années")(in); ok {
				return sub, why, true
			}
			if _, latest, ok := in.outcome.Facts.Latest(); ok {
				if caf, ok := latest.Get(model.ItemSelfFinancing); ok && !caf.IsPositive() {
					return 20, "CAF négative ou nulle", true
				}
			}
			return 0, "", false
		},
	},
	{
		code: CriterionLiquidity, label: "Liquidité", weight: 15,
		score: ratioScore(pipeline.RatioCurrent, liquidityLadder, "Liquidité générale : %.2f"),
	},
	{
		code: CriterionProfitability, label: "Rentabilité", weight: 15,
		score: func(in *inputs) (float64, string, bool) {
			if sub, why, ok := ratioScore(pipeline.RatioEBITDAMargin, profitabilityLadder, "Marge d'EBE : %.1f %%")(in); ok {
				return sub, why, true
			}
			return ratioScore(pipeline.RatioNetMargin, profitabilityLadder, "Marge nette : %.1f %%")(in)
		},
	},
	{
		code: CriterionRevenueGrowth, label: "Croissance du chiffre d'affaires", weight: 10,
		score: ratioScore(pipeline.RatioRevenueGrowth, growthLadder, "Variation du CA : %+.1f %%"),
	},
	{
		code: CriterionSectorHealth, label: "Santé du secteur", weight: 10,
		active: func(in *inputs) bool { return in.outcome.MarketContext != nil },
		score: func(in *inputs) (float64, string, bool) {
			mc := in.outcome.MarketContext
			s := math.Max(0, math.Min(100, mc.SectorScore))
			why := fmt.Sprintf("Score sectoriel : %.0f/100", s)
			if mc.Health != "" {
				why += " (" + mc.Health + ")"
			}
			return s, why, true
		},
	},
	{
		code: CriterionPersonalDebt, label: "Endettement personnel", weight: 10,
		score: func(in *inputs) (float64, string, bool) {
			v, ok := in.responses.Number(model.FieldDebtRatio)
			if !ok {
				return 0, "", false
			}
			why := fmt.Sprintf("Taux d'endettement : %.1f %%", v)
			switch {
			case v <= 25:
				return 100, why, true
			case v <= 35:
				return 80, why, true
			case v <= 50:
				return 40, why, true
			default:
				return 20, why, true
			}
		},
	},
	{
		code: CriterionCollectiveProcedure, label: "Procédure collective", weight: 5,
		score: func(in *inputs) (float64, string, bool) {
			if yes, ok := in.responses.Bool(model.FieldCollectiveProcedure); ok && yes {
				return 20, "Procédure collective déclarée ou justifiée par pièce", true
			}
			return 100, "Aucune procédure collective", true
		},
	},
	{
		code: CriterionManagerExperience, label: "Expérience du dirigeant", weight: 5,
		score: func(in *inputs) (float64, string, bool) {
			first, ok := in.responses.Bool(model.FieldFirstExperience)
			if !ok {
				return 0, "", false
			}
			if first {
				return 40, "Première expérience entrepreneuriale", true
			}
			return 100, "Dirigeant expérimenté", true
		},
	},
	{
		code: CriterionTransferEvidence, label: "Justificatifs de cession", weight: 10,
		active: func(in *inputs) bool { return in.financing.IsTransfer() },
		score: func(in *inputs) (float64, string, bool) {
			ok, answered := in.responses.Bool(model.FieldTransferEvidence)
			if !answered {
				return 0, "", false
			}
			if ok {
				return 100, "Justificatifs de cession fournis", true
			}
			return 20, "Justificatifs de cession manquants", true
		},
	},
}

// ratioScore grades the current value of a ratio on a ladder.
func ratioScore(code string, l ladder, format string) func(in *inputs) (float64, string, bool) {
	return func(in *inputs) (float64, string, bool) {
		r, ok := in.outcome.RatioByCode(code)
		if !ok {
			return 0, "", false
		}
		v, ok := r.Current()
		if !ok {
			return 0, "", false
		}
		return l.grade(v), fmt.Sprintf(format, v), true
	}
}
