package rules

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/statement-extractor/constants"
)

func TestConditionEvaluate(t *testing.T) {
	tests := []struct {
		name string
		cond Condition
		text string
		want bool
	}{
		{"literal hit", Literal("ISIN"), "ISIN US0378331005", true},
		{"literal is case sensitive", Literal("isin"), "ISIN US0378331005", false},
		{"all of", AllOf(Literal("a"), Literal("b")), "ab", true},
		{"all of miss", AllOf(Literal("a"), Literal("c")), "ab", false},
		{"empty all of", AllOf(), "x", true},
		{"any of", AnyOf(Literal("x"), Literal("b")), "ab", true},
		{"empty any of", AnyOf(), "x", false},
		{"none of", NoneOf(Literal("x"), Literal("y")), "ab", true},
		{"none of miss", NoneOf(Literal("a")), "ab", false},
		{"nested", AllOf(AnyOf(Literal("FX"), Literal("Forex")), NoneOf(Literal("reversal"))), "FX Spot", true},
		{"unknown", Condition{}, "anything", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cond.Evaluate(tt.text))
		})
	}
}

func TestConditionUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Condition
	}{
		{"string", `"abc"`, Literal("abc")},
		{"list", `["a", "b"]`, AllOf(Literal("a"), Literal("b"))},
		{"all_of", `{"all_of": ["a"]}`, AllOf(Literal("a"))},
		{"any_of", `{"any_of": ["a", {"none_of": ["b"]}]}`, AnyOf(Literal("a"), NoneOf(Literal("b")))},
		{"contains", `{"contains": "x"}`, Literal("x")},
		{"key order", `{"contains": "x", "any_of": ["y"]}`, AnyOf(Literal("y"))},
		{"number", `42`, Condition{}},
		{"unknown object", `{"regex": "x"}`, Condition{}},
		{"bad all_of", `{"all_of": "x"}`, Condition{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Condition
			require.NoError(t, json.Unmarshal([]byte(tt.in), &c))
			assert.Equal(t, tt.want, c)
		})
	}
}

func TestConditionMarshalRoundTrip(t *testing.T) {
	c := AllOf(Literal("a"), AnyOf(Literal("b")), NoneOf())
	bs, err := json.Marshal(c)
	require.NoError(t, err)

	var back Condition
	require.NoError(t, json.Unmarshal(bs, &back))
	assert.Equal(t, AllOf(Literal("a"), AnyOf(Literal("b")), NoneOf()), back)
}

func TestHeaderExcerpt(t *testing.T) {
	assert.Equal(t, " # transaction history\n## details",
		HeaderExcerpt(" # Transaction history\nrow 1\n## Details\nrow 2", 10))

	text := "A\nB\nC\nD"
	assert.Equal(t, "a\nb", HeaderExcerpt(text, 2))
	assert.Equal(t, "a\nb\nc\nd", HeaderExcerpt(text, 10))
}

func TestClassifyPage(t *testing.T) {
	rs, err := Load("testdata/rules.json")
	require.NoError(t, err)
	pc := NewPageClassifier(rs.PageRules(), DefaultHeaderLines)

	t.Run("heading keyword", func(t *testing.T) {
		assert.Equal(t, "Transaction", pc.Classify(" # Transaction history\n| 21.05.2024 | Buy |"))
	})
	t.Run("case insensitive", func(t *testing.T) {
		assert.Equal(t, "Positions", pc.Classify("# DETAILED POSITIONS\n..."))
	})
	t.Run("keyword outside header is ignored", func(t *testing.T) {
		assert.Equal(t, constants.Ignore, pc.Classify("# Summary\nTransaction history below"))
	})
	t.Run("no headings uses first lines", func(t *testing.T) {
		assert.Equal(t, "Transaction", pc.Classify("Page 3\nTransactions\n| a |"))
	})
	t.Run("fallback", func(t *testing.T) {
		assert.Equal(t, "Ignore", pc.Classify("# Cover page"))
	})
	t.Run("empty rule set", func(t *testing.T) {
		assert.Equal(t, constants.Ignore, ClassifyPage("# Transaction history", nil))
	})
}

func TestClassifyPriorityAndTies(t *testing.T) {
	rules := []ClassificationRule{
		{Priority: 1, ContainsAny: []string{"history"}, Type: "Low"},
		{Priority: 5, ContainsAny: []string{"history"}, Type: "First"},
		{Priority: 5, ContainsAny: []string{"history"}, Type: "Second"},
		{Priority: 100, Fallback: true, Type: "Fallback"},
	}
	assert.Equal(t, "First", ClassifyPage("# history", rules))
	assert.Equal(t, "Fallback", ClassifyPage("# nothing", rules))

	// fallback without a type still yields Ignore
	assert.Equal(t, constants.Ignore, ClassifyPage("# nothing", []ClassificationRule{{Fallback: true}}))

	// unsupported scope never matches
	rules = []ClassificationRule{{Priority: 9, MatchIn: "body", ContainsAny: []string{"history"}, Type: "Body"}}
	assert.Equal(t, constants.Ignore, ClassifyPage("# history", rules))
}

func TestRouteRecord(t *testing.T) {
	rs, err := Load("testdata/rules.json")
	require.NoError(t, err)
	rr := NewRecordRouter(rs.RecordRules())

	tests := []struct {
		name      string
		text      string
		wantGroup string
		wantType  string
	}{
		{"fx spot", "21.05.2024 FX Spot buy 1000 USD", "FX & TF", "FX Spot"},
		{"exclusion falls through", "21.05.2024 FX Spot buy 1000 USD reversal", "Trade", "Buy"},
		{"equal priority keeps declaration order", "buy and sell", "Trade", "Buy"},
		{"sell", "| 22.05.2024 | Sell | 10 AAPL |", "Trade", "Sell"},
		{"fallback", "| Custody fee | 12.00 |", "Others", "Other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, ty := rr.Route(tt.text)
			assert.Equal(t, tt.wantGroup, g)
			assert.Equal(t, tt.wantType, ty)
		})
	}

	g, ty := RouteRecord("anything", nil)
	assert.Equal(t, constants.DefaultGroup, g)
	assert.Equal(t, constants.DefaultType, ty)
}

func TestLoadYAML(t *testing.T) {
	rs, err := Load("testdata/rules.yaml")
	require.NoError(t, err)

	assert.Equal(t, "Summary", ClassifyPage("# Statement of assets", rs.PageRules()))
	g, ty := RouteRecord("Dividend AAPL", rs.RecordRules())
	assert.Equal(t, "Others", g)
	assert.Equal(t, "Dividend", ty)

	sec, ok := rs.Section("Positions")
	require.True(t, ok)
	require.NotNil(t, sec.PageIdentification.PrimaryCheck)
	assert.True(t, sec.PageIdentification.PrimaryCheck.Evaluate("# Detailed positions"))
	assert.False(t, sec.PageIdentification.PrimaryCheck.Evaluate("Detailed positions\nTable of contents"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"two page fallbacks", `{"page_classification":{"rules":[{"fallback":true,"type":"A"},{"fallback":true,"type":"B"}]}}`},
		{"two record fallbacks", `{"record_classification":{"rules":[{"fallback":true},{"fallback":true}]}}`},
		{"unsupported match_in", `{"page_classification":{"rules":[{"priority":1,"match_in":"body","contains_any":["x"],"type":"T"}]}}`},
		{"missing type", `{"page_classification":{"rules":[{"priority":1,"contains_any":["x"]}]}}`},
		{"missing output group", `{"record_classification":{"rules":[{"priority":1,"match_any":["x"],"output":"X"}]}}`},
		{"duplicate section", `{"sections":[{"section_name":"A"},{"section_name":"A"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), false)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRules)
		})
	}

	_, err := Parse([]byte(`{`), false)
	assert.ErrorIs(t, err, ErrInvalidRules)

	rs, err := Parse([]byte(`{}`), false)
	require.NoError(t, err)
	assert.Empty(t, rs.PageRules())
}
