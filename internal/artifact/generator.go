package artifact

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/intakehq/intake/internal/llm"
	"github.com/intakehq/intake/internal/schema"
)

// LLMGenerator produces artifact content through the external language
// model boundary, using the per-artifact prompt from the workflow file.
type LLMGenerator struct {
	provider llm.Provider
	model    string
}

// NewLLMGenerator creates a generator backed by the given provider.
func NewLLMGenerator(provider llm.Provider, model string) *LLMGenerator {
	return &LLMGenerator{provider: provider, model: model}
}

const generatorSystemPrompt = `You generate a document from structured session data. Follow the task instructions exactly. Base the document only on the provided fields; do not invent facts.`

func (g *LLMGenerator) Generate(ctx context.Context, in GenerationInput) (string, error) {
	resp, err := g.provider.Complete(ctx, llm.CompletionRequest{
		Model: g.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: generatorSystemPrompt},
			{Role: llm.RoleUser, Content: buildGenerationPrompt(in)},
		},
		MaxTokens:   4096,
		Temperature: 0.3,
		JSONMode:    in.Def.Format == schema.FormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("generation completion: %w", err)
	}

	content := strings.TrimSpace(resp.Content)
	if in.Def.Format == schema.FormatJSON {
		content = extractJSON(content)
	}
	return content, nil
}

func buildGenerationPrompt(in GenerationInput) string {
	var b strings.Builder

	b.WriteString("## Task\n")
	b.WriteString(in.Def.Prompt)
	b.WriteString("\n\n## Session Data\n")

	paths := make([]string, 0, len(in.Record.Fields))
	for path := range in.Record.Fields {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		fs := in.Record.Fields[path]
		switch v := fs.Value.(type) {
		case []string:
			fmt.Fprintf(&b, "- %s: %s\n", path, strings.Join(v, ", "))
		default:
			fmt.Fprintf(&b, "- %s: %v\n", path, v)
		}
	}

	if in.Def.Format == schema.FormatJSON {
		b.WriteString("\nRespond with a single JSON object.")
	}
	return b.String()
}

// extractJSON strips markdown code fences the model may wrap around a
// JSON response.
func extractJSON(content string) string {
	s := content
	if idx := strings.Index(s, "{"); idx >= 0 {
		s = s[idx:]
	}
	if idx := strings.LastIndex(s, "}"); idx >= 0 {
		s = s[:idx+1]
	}
	return s
}
