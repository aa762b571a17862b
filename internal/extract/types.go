// Package extract runs the retrying, schema-partitioned extraction rounds
// that turn routed records into validated JSON objects.
package extract

import (
	"github.com/joseph-ayodele/statement-extractor/constants"
	"github.com/joseph-ayodele/statement-extractor/internal/llm"
	"github.com/joseph-ayodele/statement-extractor/internal/schema"
)

// Record is one routed, extractable unit of a page.
type Record struct {
	ID     string
	Text   string
	Group  string
	Type   string
	Schema schema.Schema
	// Index is the record's position on its page.
	Index int
	// Context holds page-level fields rendered into the prompt.
	Context map[string]string
}

// Result is the extraction state of one record.
type Result struct {
	Status    constants.ResultStatus
	Data      map[string]any
	Retries   int
	LastError string
}

// PromptBuilder renders a record prompt.
type PromptBuilder interface {
	Build(in llm.PromptInput) (string, error)
}

// Data flattens results into the per-record output slots. Unsuccessful records are nil.
func Data(results []Result) []map[string]any {
	out := make([]map[string]any, len(results))
	for i, r := range results {
		if r.Status == constants.StatusSuccess {
			out[i] = r.Data
		}
	}
	return out
}
