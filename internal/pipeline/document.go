// Package pipeline drives documents through classification, segmentation,
// routing and batch extraction.
package pipeline

// MetaKey is the key under which provenance is attached to each record.
const MetaKey = "_meta"

// Meta is the provenance attached to every extracted object.
type Meta struct {
	Page           int    `json:"page"`
	Group          string `json:"group"`
	Type           string `json:"type"`
	SourceDocument string `json:"source_document"`
}

func (m Meta) asMap() map[string]any {
	return map[string]any{
		"page":            m.Page,
		"group":           m.Group,
		"type":            m.Type,
		"source_document": m.SourceDocument,
	}
}

// MetaOf reads the provenance back from an extracted object.
func MetaOf(obj map[string]any) (Meta, bool) {
	raw, ok := obj[MetaKey].(map[string]any)
	if !ok {
		return Meta{}, false
	}
	m := Meta{}
	switch p := raw["page"].(type) {
	case int:
		m.Page = p
	case float64:
		m.Page = int(p)
	}
	m.Group, _ = raw["group"].(string)
	m.Type, _ = raw["type"].(string)
	m.SourceDocument, _ = raw["source_document"].(string)
	return m, true
}

// Document is the aggregated output for one source document. A nil entry
// in Results is a record whose extraction failed.
type Document struct {
	ID      string           `json:"doc_id"`
	Name    string           `json:"source_document"`
	Pages   int              `json:"pages"`
	Ignored int              `json:"ignored_pages"`
	Failed  int              `json:"failed"`
	Results []map[string]any `json:"results"`
}

// Succeeded returns the non-null results.
func (d *Document) Succeeded() []map[string]any {
	out := make([]map[string]any, 0, len(d.Results))
	for _, r := range d.Results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}
