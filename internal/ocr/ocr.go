package ocr

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/okatech-org/mayfin-sub002/internal/config"
	"github.com/okatech-org/mayfin-sub002/internal/model"
)

// Text is the extracted content of one document. Billable is set when the
// provider charges per page.
type Text struct {
	Content  string
	Pages    int
	Billable bool
}

// Extractor extracts text content from document bytes.
type Extractor interface {
	ExtractText(ctx context.Context, doc model.Document) (*Text, error)
}

// NewExtractor creates an Extractor based on config.
func NewExtractor(cfg config.OCRConfig, mistral config.MistralConfig) (Extractor, error) {
	switch cfg.Provider {
	case "local", "":
		return NewPdfToText(cfg.PdfToTextPath), nil
	case "mistral":
		if mistral.Key == "" {
			return nil, eris.New("ocr: mistral provider requires mistral.key")
		}
		return NewMistralOCR(mistral.Key, mistral.Model), nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}

// plainText returns the document content as-is when it is already text.
func plainText(doc model.Document) (*Text, bool) {
	mime := strings.ToLower(doc.MimeType)
	if !strings.HasPrefix(mime, "text/") && !strings.HasSuffix(strings.ToLower(doc.Filename), ".txt") {
		return nil, false
	}
	return &Text{Content: string(doc.Content), Pages: 1}, true
}

func mimeOf(doc model.Document) string {
	if doc.MimeType != "" {
		return doc.MimeType
	}
	return "application/pdf"
}
