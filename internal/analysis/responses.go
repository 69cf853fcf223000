package analysis

import "github.com/okatech-org/mayfin-sub002/internal/model"

// enrichResponses returns a copy of responses completed with what the
// dossier itself establishes. Answers already given are kept, except that
// procedure documents always mark a collective procedure.
func enrichResponses(d *model.Dossier, responses model.Responses) model.Responses {
	out := responses.Clone()
	if d.FinancingType != "" && !out.Answered(model.FieldFinancingType) {
		out[model.FieldFinancingType] = string(d.FinancingType)
	}
	if d.RequestedAmount.IsPositive() && !out.Answered(model.FieldRequestedAmount) {
		out[model.FieldRequestedAmount] = d.RequestedAmount.InexactFloat64()
	}
	if d.HasProcedureDocuments() {
		out[model.FieldCollectiveProcedure] = true
	}
	return out
}
