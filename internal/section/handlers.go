package section

import (
	"regexp"
	"strings"

	"github.com/joseph-ayodele/statement-extractor/internal/rules"
)

var (
	rePortfolio = regexp.MustCompile(`Portfolio number\s+(\d{3}-\d{6}-\d{2})`)
	reAccount   = regexp.MustCompile(`\d{3}-\d{6}\.[A-Z0-9]+`)
	reISIN      = regexp.MustCompile(`ISIN\s+([A-Z0-9]{12})`)
	reClient    = regexp.MustCompile(`(?s)Portfolio number.*?\n(.*?)\n.*?Statement of assets`)
)

// conditions evaluates page_identification: primary AND subtype. A missing
// primary check falls back to def.
type conditions struct {
	primary *rules.Condition
	subtype *rules.Condition
	def     func(string) bool
}

func conditionsOf(sr rules.SectionRule, def func(string) bool) conditions {
	return conditions{primary: sr.PageIdentification.PrimaryCheck, subtype: sr.PageIdentification.SubtypeCheck, def: def}
}

func (c conditions) match(text string) bool {
	var ok bool
	switch {
	case c.primary != nil:
		ok = c.primary.Evaluate(text)
	case c.def != nil:
		ok = c.def(text)
	}
	if ok && c.subtype != nil {
		ok = c.subtype.Evaluate(text)
	}
	return ok
}

// fieldRegex compiles a configured regex for key, or returns nil.
func fieldRegex(sr rules.SectionRule, key string) *regexp.Regexp {
	fr, ok := sr.ExtractionRules[key]
	if !ok || fr.Regex == "" {
		return nil
	}
	re, err := regexp.Compile(fr.Regex)
	if err != nil {
		return nil
	}
	return re
}

// firstMatch returns the first capture group, or the whole match when the pattern has none.
func firstMatch(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	switch {
	case m == nil:
		return ""
	case len(m) > 1:
		return strings.TrimSpace(m[1])
	default:
		return strings.TrimSpace(m[0])
	}
}

type positions struct {
	cond      conditions
	portfolio *regexp.Regexp
}

func newPositions(sr rules.SectionRule) Handler {
	re := fieldRegex(sr, "Portfolio No.")
	if re == nil {
		re = rePortfolio
	}
	return &positions{
		cond: conditionsOf(sr, func(text string) bool {
			return strings.HasPrefix(strings.TrimSpace(text), "# Detailed positions")
		}),
		portfolio: re,
	}
}

func (p *positions) Name() string { return Positions }

func (p *positions) Identify(text string) bool { return p.cond.match(text) }

func (p *positions) Extract(text string) Fields {
	f := Fields{}
	if v := firstMatch(p.portfolio, text); v != "" {
		f["Portfolio No."] = v
	}
	if v := reAccount.FindString(text); v != "" {
		f["Account No"] = v
	}
	if v := firstMatch(reISIN, text); v != "" {
		f["First ISIN"] = v
	}
	return f
}

type trade struct {
	cond   conditions
	client *regexp.Regexp
}

func newTrade(sr rules.SectionRule) Handler {
	t := &trade{cond: conditionsOf(sr, nil)}
	if _, ok := sr.ExtractionRules["Client name"]; ok {
		t.client = fieldRegex(sr, "Client name")
		if t.client == nil {
			t.client = reClient
		}
	}
	return t
}

func (t *trade) Name() string { return Trade }

func (t *trade) Identify(text string) bool { return t.cond.match(text) }

func (t *trade) Extract(text string) Fields {
	f := Fields{}
	if t.client != nil {
		if v := firstMatch(t.client, text); v != "" {
			f["Client name"] = v
		}
	}
	if v := firstMatch(rePortfolio, text); v != "" {
		f["Portfolio No."] = v
	}
	return f
}

type fxtf struct{ cond conditions }

func newFXTF(sr rules.SectionRule) Handler {
	def := rules.AnyOf(rules.Literal("FX Spot"), rules.Literal("FX Forward"), rules.Literal("Forex"))
	return &fxtf{cond: conditionsOf(sr, def.Evaluate)}
}

func (x *fxtf) Name() string { return FXTF }

func (x *fxtf) Identify(text string) bool { return x.cond.match(text) }

func (x *fxtf) Extract(string) Fields { return Fields{} }

// others matches every page when configured as the fallback section.
type others struct{ fallback bool }

func newOthers(sr rules.SectionRule) Handler {
	return &others{fallback: sr.PageIdentification.Fallback}
}

func (o *others) Name() string { return Others }

func (o *others) Identify(string) bool { return o.fallback }

func (o *others) Extract(string) Fields { return Fields{} }

// generic serves sections that have conditions but no dedicated handler.
type generic struct {
	name string
	cond conditions
	re   map[string]*regexp.Regexp
}

func newGeneric(sr rules.SectionRule) Handler {
	g := &generic{name: sr.Name, cond: conditionsOf(sr, nil), re: map[string]*regexp.Regexp{}}
	if sr.PageIdentification.Fallback && sr.PageIdentification.PrimaryCheck == nil {
		g.cond.def = func(string) bool { return true }
	}
	for key := range sr.ExtractionRules {
		if re := fieldRegex(sr, key); re != nil {
			g.re[key] = re
		}
	}
	return g
}

func (g *generic) Name() string { return g.name }

func (g *generic) Identify(text string) bool { return g.cond.match(text) }

func (g *generic) Extract(text string) Fields {
	f := Fields{}
	for key, re := range g.re {
		if v := firstMatch(re, text); v != "" {
			f[key] = v
		}
	}
	return f
}
