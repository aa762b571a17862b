package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidRules marks a rule file that cannot be used for a run.
var ErrInvalidRules = errors.New("invalid rules")

// MatchInHeader is the only supported page matching scope.
const MatchInHeader = "header"

// ClassificationRule labels a page.
type ClassificationRule struct {
	Priority    int      `json:"priority"`
	MatchIn     string   `json:"match_in,omitempty"`
	ContainsAny []string `json:"contains_any,omitempty"`
	Type        string   `json:"type"`
	Fallback    bool     `json:"fallback,omitempty"`
}

// RoutingRule assigns a record to a group and type.
type RoutingRule struct {
	Priority          int      `json:"priority"`
	MatchAny          []string `json:"match_any,omitempty"`
	ExcludeIfContains []string `json:"exclude_if_contains,omitempty"`
	Output            string   `json:"output"`
	OutputGroup       string   `json:"output_group"`
	Fallback          bool     `json:"fallback,omitempty"`
}

// PageIdentification decides whether a section is present on a page.
type PageIdentification struct {
	PrimaryCheck *Condition `json:"primary_check,omitempty"`
	SubtypeCheck *Condition `json:"subtype_check,omitempty"`
	Fallback     bool       `json:"fallback,omitempty"`
}

// FieldRule describes how a single page-context field is located.
type FieldRule struct {
	Regex string `json:"regex,omitempty"`
}

// SectionRule configures one section handler.
type SectionRule struct {
	Name               string               `json:"section_name"`
	PageIdentification PageIdentification   `json:"page_identification"`
	ExtractionRules    map[string]FieldRule `json:"extraction_rules,omitempty"`
}

type pageClassification struct {
	Rules []ClassificationRule `json:"rules"`
}

type recordClassification struct {
	Rules []RoutingRule `json:"rules"`
}

// RuleSet is the loaded rule file. It is read-only for the duration of a run.
type RuleSet struct {
	PageClassification   pageClassification   `json:"page_classification"`
	RecordClassification recordClassification `json:"record_classification"`
	Sections             []SectionRule        `json:"sections,omitempty"`
}

// PageRules returns the page classification rules.
func (rs *RuleSet) PageRules() []ClassificationRule { return rs.PageClassification.Rules }

// RecordRules returns the record routing rules.
func (rs *RuleSet) RecordRules() []RoutingRule { return rs.RecordClassification.Rules }

// Section finds a section by name.
func (rs *RuleSet) Section(name string) (SectionRule, bool) {
	for _, s := range rs.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return SectionRule{}, false
}

// Validate checks the structural constraints a run relies on.
func (rs *RuleSet) Validate() error {
	var errs []error

	fallbacks := 0
	for i, r := range rs.PageClassification.Rules {
		if r.Fallback {
			fallbacks++
		}
		if r.MatchIn != "" && r.MatchIn != MatchInHeader {
			errs = append(errs, fmt.Errorf("page rule %d: unsupported match_in %q", i, r.MatchIn))
		}
		if !r.Fallback && r.Type == "" {
			errs = append(errs, fmt.Errorf("page rule %d: type is required", i))
		}
	}
	if fallbacks > 1 {
		errs = append(errs, fmt.Errorf("page_classification: %d fallback rules, at most one allowed", fallbacks))
	}

	fallbacks = 0
	for i, r := range rs.RecordClassification.Rules {
		if r.Fallback {
			fallbacks++
		}
		if !r.Fallback && (r.OutputGroup == "" || r.Output == "") {
			errs = append(errs, fmt.Errorf("record rule %d: output and output_group are required", i))
		}
	}
	if fallbacks > 1 {
		errs = append(errs, fmt.Errorf("record_classification: %d fallback rules, at most one allowed", fallbacks))
	}

	seen := map[string]bool{}
	for _, s := range rs.Sections {
		if s.Name == "" {
			errs = append(errs, errors.New("section: section_name is required"))
			continue
		}
		if seen[s.Name] {
			errs = append(errs, fmt.Errorf("section %q declared twice", s.Name))
		}
		seen[s.Name] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidRules, errors.Join(errs...))
	}
	return nil
}

// Parse decodes a rule file. YAML is accepted when isYAML is set.
func Parse(data []byte, isYAML bool) (*RuleSet, error) {
	if isYAML {
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: yaml: %w", ErrInvalidRules, err)
		}
		js, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("%w: yaml to json: %w", ErrInvalidRules, err)
		}
		data = js
	}

	var rs RuleSet
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRules, err)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// Load reads a JSON or YAML rule file, picking the format by extension.
func Load(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	rs, err := Parse(data, ext == ".yaml" || ext == ".yml")
	if err != nil {
		return nil, fmt.Errorf("load rules %s: %w", path, err)
	}
	return rs, nil
}
