package artifact

import (
	"encoding/json"
	"fmt"

	"github.com/intakehq/intake/internal/schema"
)

// ValidateContent checks generated content against the artifact's
// structural contract. An empty contract accepts any non-empty content.
func ValidateContent(def schema.Artifact, content string) error {
	if content == "" {
		return fmt.Errorf("empty content")
	}
	if def.Validate.MinLength > 0 && len(content) < def.Validate.MinLength {
		return fmt.Errorf("content length %d below minimum %d", len(content), def.Validate.MinLength)
	}

	if def.Format != schema.FormatJSON {
		return nil
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return fmt.Errorf("content is not a JSON object: %w", err)
	}

	for _, field := range def.Validate.RequiredFields {
		v, ok := doc[field]
		if !ok || v == nil {
			return fmt.Errorf("missing required field %q", field)
		}
		if s, isStr := v.(string); isStr && s == "" {
			return fmt.Errorf("required field %q is empty", field)
		}
	}

	for field, min := range def.Validate.MinListEntries {
		v, ok := doc[field]
		if !ok {
			return fmt.Errorf("missing list field %q", field)
		}
		list, isList := v.([]any)
		if !isList {
			return fmt.Errorf("field %q is not a list", field)
		}
		if len(list) < min {
			return fmt.Errorf("list field %q has %d entries, want at least %d", field, len(list), min)
		}
	}

	return nil
}
