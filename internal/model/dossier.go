package model

import (
	"github.com/shopspring/decimal"
)

// DocumentType tags an uploaded document with its role in the dossier.
type DocumentType string

const (
	DocKbis                   DocumentType = "kbis"
	DocBilan                  DocumentType = "bilan"
	DocCompteResultat         DocumentType = "compte_resultat"
	DocLiasseFiscale          DocumentType = "liasse_fiscale"
	DocPrevisionnel           DocumentType = "previsionnel"
	DocStatuts                DocumentType = "statuts"
	DocPieceIdentite          DocumentType = "piece_identite"
	DocJustifDomicile         DocumentType = "justif_domicile"
	DocBeneficiairesEffectifs DocumentType = "beneficiaires_effectifs"
	DocJugement               DocumentType = "jugement"
	DocPlanContinuation       DocumentType = "plan_continuation"
	DocRapportAdministrateur  DocumentType = "rapport_administrateur"
	DocDevis                  DocumentType = "devis"
	DocAutre                  DocumentType = "autre"
)

var knownDocumentTypes = map[DocumentType]bool{
	DocKbis: true, DocBilan: true, DocCompteResultat: true, DocLiasseFiscale: true,
	DocPrevisionnel: true, DocStatuts: true, DocPieceIdentite: true, DocJustifDomicile: true,
	DocBeneficiairesEffectifs: true, DocJugement: true, DocPlanContinuation: true,
	DocRapportAdministrateur: true, DocDevis: true, DocAutre: true,
}

// Valid reports whether t belongs to the document vocabulary.
func (t DocumentType) Valid() bool {
	return knownDocumentTypes[t]
}

// IsFinancial reports whether documents of this type carry fiscal year statements.
func (t DocumentType) IsFinancial() bool {
	switch t {
	case DocBilan, DocCompteResultat, DocLiasseFiscale:
		return true
	default:
		return false
	}
}

// IsProcedure reports whether the document evidences a collective procedure.
func (t DocumentType) IsProcedure() bool {
	switch t {
	case DocJugement, DocPlanContinuation, DocRapportAdministrateur:
		return true
	default:
		return false
	}
}

// FinancingType is the kind of project being financed.
type FinancingType string

const (
	FinancingAcquisition   FinancingType = "acquisition"
	FinancingReprise       FinancingType = "reprise"
	FinancingCreation      FinancingType = "creation"
	FinancingDeveloppement FinancingType = "developpement"
)

// IsTransfer reports whether the project is a business transfer.
func (f FinancingType) IsTransfer() bool {
	return f == FinancingAcquisition || f == FinancingReprise
}

// Document is an uploaded file attached to a dossier. It is never mutated
// after upload.
type Document struct {
	ID         string       `json:"id" yaml:"id"`
	DossierID  string       `json:"dossier_id" yaml:"-"`
	Type       DocumentType `json:"type" yaml:"type"`
	FiscalYear *int         `json:"fiscal_year,omitempty" yaml:"fiscal_year,omitempty"`
	Filename   string       `json:"filename" yaml:"file"`
	MimeType   string       `json:"mime_type,omitempty" yaml:"mime_type,omitempty"`
	Content    []byte       `json:"-" yaml:"-"`
}

// Dossier is a financing application with its documents and questionnaire.
type Dossier struct {
	ID              string                 `json:"id" yaml:"id"`
	CompanyName     string                 `json:"company_name" yaml:"company_name"`
	SectorCode      string                 `json:"sector_code" yaml:"sector_code"`
	SectorLabel     string                 `json:"sector_label" yaml:"sector_label"`
	FinancingType   FinancingType          `json:"financing_type" yaml:"financing_type"`
	RequestedAmount decimal.Decimal        `json:"requested_amount" yaml:"-"`
	Documents       []Document             `json:"documents" yaml:"documents"`
	Questionnaire   *QuestionnaireResponse `json:"questionnaire,omitempty" yaml:"-"`
}

// HasProcedureDocuments reports whether any document evidences a collective procedure.
func (d *Dossier) HasProcedureDocuments() bool {
	for _, doc := range d.Documents {
		if doc.Type.IsProcedure() {
			return true
		}
	}
	return false
}
