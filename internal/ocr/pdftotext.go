package ocr

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/okatech-org/mayfin-sub002/internal/model"
	"github.com/okatech-org/mayfin-sub002/internal/resilience"
)

// PdfToText extracts text from PDFs using the pdftotext CLI tool.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText extractor. If binPath is empty, "pdftotext" is used.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// ExtractText pipes the document into pdftotext -layout and returns stdout.
// Failures are permanent: a document pdftotext cannot read will not improve
// on retry.
func (p *PdfToText) ExtractText(ctx context.Context, doc model.Document) (*Text, error) {
	if t, ok := plainText(doc); ok {
		return t, nil
	}

	cmd := exec.CommandContext(ctx, p.binPath, "-layout", "-", "-")
	cmd.Stdin = bytes.NewReader(doc.Content)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrapf(ctx.Err(), "ocr: pdftotext cancelled for %s", doc.ID)
		}
		return nil, resilience.NewPermanentError(
			eris.Wrapf(err, "ocr: pdftotext failed for %s: %s", doc.ID, strings.TrimSpace(stderr.String())), 0)
	}

	out := stdout.String()
	// pdftotext separates pages with form feeds.
	pages := strings.Count(strings.TrimRight(out, "\f"), "\f") + 1
	return &Text{Content: out, Pages: pages}, nil
}
