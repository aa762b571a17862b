package rules

import (
	"sort"
	"strings"

	"github.com/joseph-ayodele/statement-extractor/constants"
)

// RecordRouter assigns (group, type) to records with priority-ordered keyword rules.
type RecordRouter struct {
	ordered  []RoutingRule
	fallback *RoutingRule
}

func NewRecordRouter(rules []RoutingRule) *RecordRouter {
	rr := &RecordRouter{}
	for _, r := range rules {
		if r.Fallback {
			if rr.fallback == nil {
				fb := r
				rr.fallback = &fb
			}
			continue
		}
		rr.ordered = append(rr.ordered, r)
	}
	sort.SliceStable(rr.ordered, func(i, j int) bool {
		return rr.ordered[i].Priority > rr.ordered[j].Priority
	})
	return rr
}

// Route returns the group and type for a record. A keyword hit is discarded
// when an exclusion keyword is also present, and evaluation moves on.
func (rr *RecordRouter) Route(text string) (group, typ string) {
	lowered := strings.ToLower(text)
	for _, r := range rr.ordered {
		if !containsAnyFold(lowered, r.MatchAny) {
			continue
		}
		if containsAnyFold(lowered, r.ExcludeIfContains) {
			continue
		}
		return r.OutputGroup, r.Output
	}
	if rr.fallback != nil {
		group, typ = rr.fallback.OutputGroup, rr.fallback.Output
	}
	if group == "" {
		group = constants.DefaultGroup
	}
	if typ == "" {
		typ = constants.DefaultType
	}
	return group, typ
}

// RouteRecord is a one-shot Route.
func RouteRecord(text string, rules []RoutingRule) (group, typ string) {
	return NewRecordRouter(rules).Route(text)
}
