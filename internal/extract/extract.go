// Package extract implements the external NLU boundary: given a
// conversation turn and the field schema, propose zero or more field
// updates. The engine core never depends on this package; proposals flow
// into it through the same submitTurn path as explicit updates.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/intakehq/intake/internal/llm"
	"github.com/intakehq/intake/internal/record"
	"github.com/intakehq/intake/internal/schema"
)

// Extractor proposes field updates from free-form turn text.
type Extractor interface {
	Extract(ctx context.Context, wf *schema.Workflow, current *record.Record, text string) ([]record.FieldUpdate, error)
}

// LLMExtractor implements Extractor over the llm.Provider boundary.
type LLMExtractor struct {
	provider llm.Provider
	model    string
}

// NewLLMExtractor creates an extractor backed by the given provider.
func NewLLMExtractor(provider llm.Provider, model string) *LLMExtractor {
	return &LLMExtractor{provider: provider, model: model}
}

const extractionSystemPrompt = `You extract structured field updates from a conversation turn.

You MUST respond with valid JSON matching this schema:
{
  "updates": [
    {
      "field_path": "a path from the provided field schema",
      "value": "string for scalar/enum/long_text fields, array of strings for set fields",
      "confidence": 0.0,
      "correction": false
    }
  ]
}

Rules:
- Only use field paths that appear in the schema.
- Extract every field the turn supports; omit fields the turn says nothing about.
- Set "correction": true only when the speaker is explicitly revising something said earlier.
- Never invent values; an uncertain guess gets a low confidence.`

func (e *LLMExtractor) Extract(ctx context.Context, wf *schema.Workflow, current *record.Record, text string) ([]record.FieldUpdate, error) {
	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		Model: e.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: extractionSystemPrompt},
			{Role: llm.RoleUser, Content: buildExtractionPrompt(wf, current, text)},
		},
		MaxTokens:   4096,
		Temperature: 0.2,
		JSONMode:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("extraction completion: %w", err)
	}
	return parseExtractionResponse(resp.Content)
}

func buildExtractionPrompt(wf *schema.Workflow, current *record.Record, text string) string {
	var b strings.Builder

	b.WriteString("## Field Schema\n")
	for _, f := range wf.Fields {
		fmt.Fprintf(&b, "- %s (%s)", f.Path, f.Type)
		if f.Type == schema.FieldEnum {
			fmt.Fprintf(&b, " one of: %s", strings.Join(f.Values, ", "))
		}
		if f.Description != "" {
			fmt.Fprintf(&b, ": %s", f.Description)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n## Already Captured\n")
	if current == nil || len(current.Fields) == 0 {
		b.WriteString("(nothing yet)\n")
	} else {
		for _, path := range sortedPaths(current) {
			fs := current.Fields[path]
			switch v := fs.Value.(type) {
			case []string:
				fmt.Fprintf(&b, "- %s = %s\n", path, strings.Join(v, ", "))
			default:
				fmt.Fprintf(&b, "- %s = %v\n", path, v)
			}
		}
	}

	fmt.Fprintf(&b, "\n## Conversation Turn\n%s\n", text)
	b.WriteString("\nExtract field updates from this turn. Consider what is already captured to detect corrections.")
	return b.String()
}

type extractionResponse struct {
	Updates []record.FieldUpdate `json:"updates"`
}

// parseExtractionResponse tolerates responses wrapped in markdown code
// fences. A response with no recognizable JSON yields zero updates: the
// worst case for a malformed turn is that it contributes no facts.
func parseExtractionResponse(content string) ([]record.FieldUpdate, error) {
	jsonStr := content
	if idx := strings.Index(content, "{"); idx >= 0 {
		jsonStr = content[idx:]
	}
	if idx := strings.LastIndex(jsonStr, "}"); idx >= 0 {
		jsonStr = jsonStr[:idx+1]
	}

	var resp extractionResponse
	if err := json.Unmarshal([]byte(jsonStr), &resp); err != nil {
		return nil, nil
	}
	return resp.Updates, nil
}

func sortedPaths(r *record.Record) []string {
	paths := make([]string, 0, len(r.Fields))
	for p := range r.Fields {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
