// Package section identifies statement sections on a page and pulls
// page-level context (portfolio number, client name) out of them.
package section

import (
	"sort"

	"github.com/joseph-ayodele/statement-extractor/internal/rules"
)

// Fields are page-level values extracted by a handler.
type Fields map[string]string

// Handler is the capability every section variant provides.
type Handler interface {
	Name() string
	Identify(text string) bool
	Extract(text string) Fields
}

// Factory builds a handler from its rule block.
type Factory func(rules.SectionRule) Handler

// Section names with dedicated handlers.
const (
	Positions = "Positions"
	Trade     = "Trade information"
	FXTF      = "FX & TF"
	Others    = "Others"
)

var factories = map[string]Factory{
	Positions: newPositions,
	Trade:     newTrade,
	FXTF:      newFXTF,
	Others:    newOthers,
}

// Registry dispatches to handlers in rule-file order.
type Registry struct {
	order    []string
	handlers map[string]Handler
	fallback map[string]bool
}

// NewRegistry builds one handler per configured section. Sections without
// a dedicated handler are identified by their conditions alone.
func NewRegistry(rs *rules.RuleSet) *Registry {
	r := &Registry{handlers: map[string]Handler{}, fallback: map[string]bool{}}
	if rs == nil {
		return r
	}
	for _, sr := range rs.Sections {
		f, ok := factories[sr.Name]
		if !ok {
			f = newGeneric
		}
		r.Register(f(sr))
		if sr.PageIdentification.Fallback {
			r.fallback[sr.Name] = true
		}
	}
	return r
}

// Register adds or replaces a handler.
func (r *Registry) Register(h Handler) {
	if _, exists := r.handlers[h.Name()]; !exists {
		r.order = append(r.order, h.Name())
	}
	r.handlers[h.Name()] = h
}

func (r *Registry) Get(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Names lists registered sections in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Identify returns the sections present on a page. Fallback sections only
// apply when nothing else matched.
func (r *Registry) Identify(text string) []Handler {
	var hits, fallbacks []Handler
	for _, name := range r.order {
		h := r.handlers[name]
		if r.fallback[name] {
			if h.Identify(text) {
				fallbacks = append(fallbacks, h)
			}
			continue
		}
		if h.Identify(text) {
			hits = append(hits, h)
		}
	}
	if len(hits) == 0 {
		return fallbacks
	}
	return hits
}

// PageContext merges the fields of every identified section. Earlier
// sections win on key collisions.
func (r *Registry) PageContext(text string) (sections []string, fields Fields) {
	fields = Fields{}
	for _, h := range r.Identify(text) {
		sections = append(sections, h.Name())
		for k, v := range h.Extract(text) {
			if _, taken := fields[k]; !taken && v != "" {
				fields[k] = v
			}
		}
	}
	return sections, fields
}

// Keys returns the field names in sorted order.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
