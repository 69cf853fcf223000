package pipeline

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/okatech-org/mayfin-sub002/internal/cost"
	"github.com/okatech-org/mayfin-sub002/internal/model"
	"github.com/okatech-org/mayfin-sub002/internal/ocr"
	"github.com/okatech-org/mayfin-sub002/pkg/anthropic"
)

const extractionSystemPrompt = `Tu es un analyste financier. Tu reçois le texte OCR d'un document comptable français (bilan, compte de résultat ou liasse fiscale).
Extrais les montants en euros pour chaque exercice présent dans le document.
Réponds uniquement avec un objet JSON de la forme :
{"years":[{"year":2023,"items":{"revenue":1200000,"net_result":80000}}]}
Clés autorisées pour items : %s.
revenue = chiffre d'affaires net ; net_result = résultat net ; ebitda = excédent brut d'exploitation ; self_financing = capacité d'autofinancement ;
total_assets = total actif ; total_liabilities = total passif ; equity = capitaux propres ; financial_debt = dettes financières ;
current_assets = actif circulant ; current_liabilities = dettes à court terme ; inventory = stocks ; receivables = créances clients ;
cash = disponibilités ; payables = dettes fournisseurs.
Omets une clé si le montant est absent du document. N'invente aucune valeur.`

// maxOCRChars bounds the text sent for structuring.
const maxOCRChars = 60000

// ExtractionStage turns one document into normalized fiscal-year facts.
type ExtractionStage struct {
	ocr       ocr.Extractor
	ai        anthropic.Client
	model     string
	maxTokens int64
	policy    Policy
	costs     *cost.Calculator
}

// NewExtractionStage creates an ExtractionStage.
func NewExtractionStage(ext ocr.Extractor, ai anthropic.Client, modelID string, maxTokens int64, policy Policy, costs *cost.Calculator) *ExtractionStage {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &ExtractionStage{
		ocr:       ext,
		ai:        ai,
		model:     modelID,
		maxTokens: maxTokens,
		policy:    policy,
		costs:     costs,
	}
}

type extractionReply struct {
	Years []struct {
		Year  int                         `json:"year"`
		Items map[string]*decimal.Decimal `json:"items"`
	} `json:"years"`
}

// Extract reads a document and returns its facts. Documents that carry no
// financial statements yield empty facts without calling any provider.
func (s *ExtractionStage) Extract(ctx context.Context, doc model.Document) (*model.DocumentFacts, error) {
	out := &model.DocumentFacts{DocumentID: doc.ID, Facts: model.NewFinancialFacts()}
	if !doc.Type.IsFinancial() {
		return out, nil
	}

	log := zap.L().With(zap.String("document_id", doc.ID), zap.String("type", string(doc.Type)))

	text, err := call(ctx, s.policy, providerOCR, "extract_text", func(ctx context.Context) (*ocr.Text, error) {
		return s.ocr.ExtractText(ctx, doc)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: ocr document %s", doc.ID)
	}
	out.Pages = text.Pages
	out.TokenUsage.Pages = text.Pages
	if text.Billable {
		out.TokenUsage.Cost += s.costs.OCRPages(text.Pages)
	}

	content := strings.TrimSpace(text.Content)
	if content == "" {
		return nil, newSafeError(fmt.Sprintf("document %s has no readable text", doc.ID))
	}
	content = truncateText(content, maxOCRChars)

	userMsg := "Type de document : " + string(doc.Type) + "\n"
	if doc.FiscalYear != nil {
		userMsg += fmt.Sprintf("Exercice déclaré : %d\n", *doc.FiscalYear)
	}
	userMsg += "\n" + content

	resp, err := call(ctx, s.policy, providerAnthropic, "structure_statement", func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return s.ai.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     s.model,
			MaxTokens: s.maxTokens,
			System: []anthropic.SystemBlock{{
				Text:         fmt.Sprintf(extractionSystemPrompt, strings.Join(itemNames(), ", ")),
				CacheControl: &anthropic.CacheControl{TTL: "1h"},
			}},
			Messages: []anthropic.Message{{Role: "user", Content: userMsg}},
		})
	})
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: structure document %s", doc.ID)
	}
	usage := claudeUsage(s.costs, s.model, resp)
	out.TokenUsage.InputTokens += usage.InputTokens
	out.TokenUsage.OutputTokens += usage.OutputTokens
	out.TokenUsage.Cost += usage.Cost

	if resp.Truncated() {
		return nil, newSafeError(fmt.Sprintf("document %s reply exceeded the token limit", doc.ID))
	}

	var reply extractionReply
	if err := decodeProviderJSON(providerAnthropic, resp.Text(), &reply); err != nil {
		return nil, err
	}

	out.Facts = factsFromReply(reply, doc.FiscalYear)
	log.Debug("pipeline: document extracted",
		zap.Int("years", len(out.Facts.SortedYears())),
		zap.Int("pages", out.Pages),
	)
	return out, nil
}

// factsFromReply keeps known line items with a value. A year of 0 is taken
// as the document's declared fiscal year.
func factsFromReply(reply extractionReply, declared *int) model.FinancialFacts {
	known := make(map[string]model.LineItem, len(model.LineItems))
	for _, item := range model.LineItems {
		known[string(item)] = item
	}

	facts := model.NewFinancialFacts()
	for _, y := range reply.Years {
		year := y.Year
		if year == 0 {
			if declared == nil {
				continue
			}
			year = *declared
		}
		for name, v := range y.Items {
			item, ok := known[name]
			if !ok || v == nil {
				continue
			}
			yf, ok := facts.Years[year]
			if !ok {
				yf = make(model.YearFacts)
				facts.Years[year] = yf
			}
			if _, dup := yf[item]; !dup {
				yf[item] = *v
			}
		}
	}
	return facts
}

func itemNames() []string {
	names := make([]string, len(model.LineItems))
	for i, item := range model.LineItems {
		names[i] = string(item)
	}
	return names
}

// truncateText cuts s to at most n bytes without splitting a rune.
func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
