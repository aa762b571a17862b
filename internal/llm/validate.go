package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/joseph-ayodele/statement-extractor/internal/schema"
)

// ErrorKind classifies a rejected model output.
type ErrorKind int

const (
	// KindDecode: the payload is not parseable JSON.
	KindDecode ErrorKind = iota + 1
	// KindNotObject: valid JSON, but not an object.
	KindNotObject
	// KindSchema: an object that fails strict schema conformance.
	KindSchema
)

// ValidationError is returned for any rejected output.
type ValidationError struct {
	Kind    ErrorKind
	Message string
	// Payload is the text that was parsed, after fence extraction.
	Payload string
	Err     error
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return e.Err }

var reFence = regexp.MustCompile("(?s)```([A-Za-z0-9_+-]*)\\s*(.*?)\\s*```")

// ExtractPayload returns the contents of the first json-tagged fenced block,
// else of the first fenced block of any kind, else raw itself.
func ExtractPayload(raw string) string {
	fences := reFence.FindAllStringSubmatch(raw, -1)
	for _, m := range fences {
		if strings.EqualFold(m[1], "json") {
			return m[2]
		}
	}
	if len(fences) > 0 {
		return fences[0][2]
	}
	return strings.TrimSpace(raw)
}

// LooksLikeJSON reports whether payload at least starts like a JSON document.
func LooksLikeJSON(payload string) bool {
	p := strings.TrimSpace(payload)
	return strings.HasPrefix(p, "{") || strings.HasPrefix(p, "[")
}

// Validator turns raw model output into a JSON object.
//
// By default only "is a JSON object" is enforced. Strict mode additionally
// validates against the record's schema, with compiled schemas held in a
// bounded LRU owned by the validator.
type Validator struct {
	strict bool
	cache  *SchemaCache
	logger *slog.Logger
}

type ValidatorOption func(*Validator)

func WithStrictSchema(on bool) ValidatorOption {
	return func(v *Validator) { v.strict = on }
}

func WithSchemaCacheSize(n int) ValidatorOption {
	return func(v *Validator) { v.cache = NewSchemaCache(n) }
}

func WithValidatorLogger(l *slog.Logger) ValidatorOption {
	return func(v *Validator) {
		if l != nil {
			v.logger = l
		}
	}
}

func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{cache: NewSchemaCache(16), logger: slog.Default()}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Strict reports whether schema conformance is enforced.
func (v *Validator) Strict() bool { return v.strict }

// Validate extracts and parses the payload of raw. The schema is only
// consulted in strict mode.
func (v *Validator) Validate(raw string, s schema.Schema) (map[string]any, error) {
	payload := ExtractPayload(raw)

	var doc any
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, &ValidationError{
			Kind:    KindDecode,
			Message: fmt.Sprintf("JSON Decode Error: %v", err),
			Payload: payload,
			Err:     err,
		}
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, &ValidationError{Kind: KindNotObject, Message: "Output is not a JSON object", Payload: payload}
	}

	if v.strict && !s.IsZero() {
		if err := v.conform(obj, s); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

func (v *Validator) conform(obj map[string]any, s schema.Schema) error {
	compiled, ok := v.cache.Get(s.Key())
	if !ok {
		c, err := schema.Compile([]byte(s.Key()))
		if err != nil {
			// registry already compiled it once; treat as non-strict
			v.logger.Warn("llm.validate.schema_compile_failed", "group", s.Group, "error", err)
			return nil
		}
		compiled = c
		if evicted, ok := v.cache.Add(s.Key(), c); ok {
			v.logger.Debug("llm.validate.schema_evicted", "bytes", len(evicted))
		}
	}
	if err := compiled.Validate(obj); err != nil {
		return &ValidationError{
			Kind:    KindSchema,
			Message: fmt.Sprintf("Schema Validation Error: %v", err),
			Err:     err,
		}
	}
	return nil
}
