package rules

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Kind tags the variant held by a Condition.
type Kind int

const (
	KindUnknown Kind = iota
	KindLiteral
	KindAllOf
	KindAnyOf
	KindNoneOf
)

func (k Kind) String() string {
	switch k {
	case KindLiteral:
		return "literal"
	case KindAllOf:
		return "all_of"
	case KindAnyOf:
		return "any_of"
	case KindNoneOf:
		return "none_of"
	default:
		return "unknown"
	}
}

// Condition is a recursive match predicate over text.
//
// The zero value has KindUnknown and never matches.
type Condition struct {
	Kind  Kind
	Text  string
	Items []Condition
}

func Literal(text string) Condition { return Condition{Kind: KindLiteral, Text: text} }

func AllOf(items ...Condition) Condition { return Condition{Kind: KindAllOf, Items: compact(items)} }

func AnyOf(items ...Condition) Condition { return Condition{Kind: KindAnyOf, Items: compact(items)} }

func NoneOf(items ...Condition) Condition { return Condition{Kind: KindNoneOf, Items: compact(items)} }

func compact(items []Condition) []Condition {
	if len(items) == 0 {
		return nil
	}
	return items
}

// Evaluate reports whether text satisfies c. Literal matching is case-sensitive.
func (c Condition) Evaluate(text string) bool {
	switch c.Kind {
	case KindLiteral:
		return strings.Contains(text, c.Text)
	case KindAllOf:
		for _, it := range c.Items {
			if !it.Evaluate(text) {
				return false
			}
		}
		return true
	case KindAnyOf:
		for _, it := range c.Items {
			if it.Evaluate(text) {
				return true
			}
		}
		return false
	case KindNoneOf:
		for _, it := range c.Items {
			if it.Evaluate(text) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// UnmarshalJSON accepts the rule-file shapes:
//
//	"text"                      literal
//	["a", {...}]                all of
//	{"all_of": [...]}           all of
//	{"any_of": [...]}           any of
//	{"none_of": [...]}          none of
//	{"contains": "text"}        literal
//
// Anything else decodes to an unknown condition rather than failing.
func (c *Condition) UnmarshalJSON(data []byte) error {
	*c = Condition{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Literal(s)
	case '[':
		var items []Condition
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*c = AllOf(items...)
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		// first recognised key wins, in this order
		for _, key := range []string{"all_of", "any_of", "none_of", "contains"} {
			raw, ok := obj[key]
			if !ok {
				continue
			}
			if key == "contains" {
				var s string
				if json.Unmarshal(raw, &s) == nil {
					*c = Literal(s)
				}
				return nil
			}
			var items []Condition
			if json.Unmarshal(raw, &items) != nil {
				return nil
			}
			switch key {
			case "all_of":
				*c = AllOf(items...)
			case "any_of":
				*c = AnyOf(items...)
			case "none_of":
				*c = NoneOf(items...)
			}
			return nil
		}
	}
	return nil
}

// MarshalJSON writes the canonical object form.
func (c Condition) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case KindLiteral:
		return json.Marshal(c.Text)
	case KindAllOf, KindAnyOf, KindNoneOf:
		items := c.Items
		if items == nil {
			items = []Condition{}
		}
		return json.Marshal(map[string][]Condition{c.Kind.String(): items})
	default:
		return []byte("null"), nil
	}
}
