package rules

import (
	"sort"
	"strings"

	"github.com/joseph-ayodele/statement-extractor/constants"
)

// DefaultHeaderLines is how many leading lines stand in for the header
// when a page has no markdown headings.
const DefaultHeaderLines = 10

// HeaderExcerpt returns the lower-cased header of a page: every line that
// starts a markdown heading, or the first n lines when there are none.
func HeaderExcerpt(text string, n int) string {
	if n <= 0 {
		n = DefaultHeaderLines
	}
	lines := strings.Split(text, "\n")
	var headers []string
	for _, ln := range lines {
		if strings.HasPrefix(strings.TrimSpace(ln), "#") {
			headers = append(headers, ln)
		}
	}
	if len(headers) == 0 {
		if len(lines) > n {
			lines = lines[:n]
		}
		headers = lines
	}
	return strings.ToLower(strings.Join(headers, "\n"))
}

// PageClassifier labels pages with priority-ordered header rules.
type PageClassifier struct {
	ordered     []ClassificationRule
	fallback    *ClassificationRule
	headerLines int
}

// NewPageClassifier orders rules by descending priority. Rules with equal
// priority keep their declaration order.
func NewPageClassifier(rules []ClassificationRule, headerLines int) *PageClassifier {
	pc := &PageClassifier{headerLines: headerLines}
	for _, r := range rules {
		if r.Fallback {
			if pc.fallback == nil {
				fb := r
				pc.fallback = &fb
			}
			continue
		}
		pc.ordered = append(pc.ordered, r)
	}
	sort.SliceStable(pc.ordered, func(i, j int) bool {
		return pc.ordered[i].Priority > pc.ordered[j].Priority
	})
	return pc
}

// Classify returns the label of the first matching rule, then the fallback
// rule's label, then constants.Ignore.
func (pc *PageClassifier) Classify(text string) string {
	header := HeaderExcerpt(text, pc.headerLines)
	for _, r := range pc.ordered {
		if r.matches(header) {
			return r.Type
		}
	}
	if pc.fallback != nil && pc.fallback.Type != "" {
		return pc.fallback.Type
	}
	return constants.Ignore
}

// ClassifyPage is a one-shot Classify with the default header size.
func ClassifyPage(text string, rules []ClassificationRule) string {
	return NewPageClassifier(rules, DefaultHeaderLines).Classify(text)
}

// matches expects an already lower-cased header. Unsupported match_in scopes never match.
func (r ClassificationRule) matches(header string) bool {
	if r.MatchIn != "" && r.MatchIn != MatchInHeader {
		return false
	}
	return containsAnyFold(header, r.ContainsAny)
}

// containsAnyFold reports whether any non-empty keyword, lower-cased, occurs in lowered.
func containsAnyFold(lowered string, keywords []string) bool {
	for _, k := range keywords {
		if k == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(k)) {
			return true
		}
	}
	return false
}
