package pipeline

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/okatech-org/mayfin-sub002/internal/resilience"
)

// cleanJSON attempts to extract a JSON object from text that may contain
// markdown code fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Find first { and last }.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

// decodeProviderJSON cleans and decodes a provider reply. Malformed output
// is permanent: asking again with the same prompt is not expected to help.
func decodeProviderJSON(provider, text string, v any) error {
	cleaned := cleanJSON(text)
	if cleaned == "" {
		return resilience.NewPermanentError(eris.Errorf("pipeline: %s returned an empty reply", provider), 0)
	}
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return resilience.NewPermanentError(eris.Wrapf(err, "pipeline: decode %s reply", provider), 0)
	}
	return nil
}
