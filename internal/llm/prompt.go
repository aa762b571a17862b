package llm

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"

	"github.com/joseph-ayodele/statement-extractor/internal/schema"
)

// DefaultPromptTemplate is used when no template file is configured.
// Variables: GROUP, TXN_TYPE, RECORD_TEXT, SCHEMA_JSON, PAGE_CONTEXT.
const DefaultPromptTemplate = `You are a financial statement parser. Return ONLY JSON that matches the provided JSON Schema.
Record group: {{.GROUP}}
Transaction type: {{.TXN_TYPE}}
{{- if .PAGE_CONTEXT}}
Page context:
{{.PAGE_CONTEXT}}
{{- end}}

Keep dates, amounts and identifiers exactly as written in the record. Omit fields that are not present.

Record:
{{.RECORD_TEXT}}

JSON Schema:
{{.SCHEMA_JSON}}
`

// PromptInput carries everything a single record prompt needs.
type PromptInput struct {
	Group       string
	TxnType     string
	RecordText  string
	Schema      schema.Schema
	PageContext map[string]string
	// PreviousError is the validation error of the prior round, if any.
	PreviousError string
}

// PromptBuilder renders record prompts from a text/template.
type PromptBuilder struct {
	tmpl *template.Template
}

func NewPromptBuilder(text string) (*PromptBuilder, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultPromptTemplate
	}
	t, err := template.New("prompt").Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	return &PromptBuilder{tmpl: t}, nil
}

// LoadPromptBuilder reads a template file; an empty path selects the default template.
func LoadPromptBuilder(path string) (*PromptBuilder, error) {
	if path == "" {
		return NewPromptBuilder("")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt template: %w", err)
	}
	return NewPromptBuilder(string(b))
}

// Build renders the prompt and, when the prior round failed validation,
// appends the error as corrective feedback.
func (b *PromptBuilder) Build(in PromptInput) (string, error) {
	data := map[string]any{
		"GROUP":        in.Group,
		"TXN_TYPE":     in.TxnType,
		"RECORD_TEXT":  in.RecordText,
		"SCHEMA_JSON":  in.Schema.Pretty(),
		"PAGE_CONTEXT": formatContext(in.PageContext),
	}
	var sb strings.Builder
	if err := b.tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	if in.PreviousError != "" {
		sb.WriteString(Feedback(in.PreviousError))
	}
	return sb.String(), nil
}

// Feedback is the corrective suffix appended on retries.
func Feedback(prevErr string) string {
	return "\n\nPrevious output error: " + prevErr +
		"\nPlease fix the error and return ONLY a valid JSON object that matches the schema."
}

func formatContext(ctx map[string]string) string {
	if len(ctx) == 0 {
		return ""
	}
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, "- "+k+": "+ctx[k])
	}
	return strings.Join(lines, "\n")
}
