// Package schema holds the per-group output contracts handed to the LLM and the validator.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	ErrNotFound      = errors.New("schema not found")
	ErrInvalidSchema = errors.New("invalid schema")
)

// IndexFile optionally maps group names to schema files inside a schema directory.
const IndexFile = "index.json"

// Schema is an opaque structural contract. Only its canonical form is inspected.
type Schema struct {
	Group string
	raw   []byte
}

// Key identifies the schema by content. Two schemas with the same key are
// interchangeable for batching.
func (s Schema) Key() string { return string(s.raw) }

// Raw returns the canonical JSON encoding.
func (s Schema) Raw() json.RawMessage {
	out := make([]byte, len(s.raw))
	copy(out, s.raw)
	return out
}

// Pretty returns an indented encoding for prompts.
func (s Schema) Pretty() string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, s.raw, "", "  "); err != nil {
		return string(s.raw)
	}
	return buf.String()
}

func (s Schema) IsZero() bool { return len(s.raw) == 0 }

// New canonicalises raw (compact, keys sorted) and checks that it compiles as a JSON Schema.
func New(group string, raw []byte) (Schema, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Schema{}, fmt.Errorf("%w: %s: %w", ErrInvalidSchema, group, err)
	}
	canon, err := json.Marshal(doc)
	if err != nil {
		return Schema{}, fmt.Errorf("%w: %s: %w", ErrInvalidSchema, group, err)
	}
	if _, err := Compile(canon); err != nil {
		return Schema{}, fmt.Errorf("%w: %s: %w", ErrInvalidSchema, group, err)
	}
	return Schema{Group: group, raw: canon}, nil
}

// Compile builds a validator for a canonical schema document.
func Compile(raw []byte) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	s, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return s, nil
}

// Registry maps group names to schemas. It is filled once, then read concurrently.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]Schema
}

func NewRegistry() *Registry {
	return &Registry{schemas: map[string]Schema{}}
}

// Register adds or replaces the schema for group.
func (r *Registry) Register(group string, raw []byte) error {
	s, err := New(group, raw)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.schemas[group] = s
	r.mu.Unlock()
	return nil
}

// Lookup returns the schema for group.
func (r *Registry) Lookup(group string) (Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[group]
	return s, ok
}

// Get is Lookup with an error for missing groups.
func (r *Registry) Get(group string) (Schema, error) {
	s, ok := r.Lookup(group)
	if !ok {
		return Schema{}, fmt.Errorf("%w: %q", ErrNotFound, group)
	}
	return s, nil
}

// Groups lists registered groups in sorted order.
func (r *Registry) Groups() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.schemas))
	for g := range r.schemas {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.schemas)
}

// LoadDir reads a schema directory. With an index.json ({"group": "file.json"})
// only the indexed files are loaded and several groups may share a file;
// otherwise every *.json file is registered under its base name.
func LoadDir(dir string) (*Registry, error) {
	reg := NewRegistry()

	index, err := readIndex(dir)
	if err != nil {
		return nil, err
	}

	if index == nil {
		matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
		if err != nil {
			return nil, err
		}
		index = map[string]string{}
		for _, m := range matches {
			base := filepath.Base(m)
			if base == IndexFile {
				continue
			}
			index[strings.TrimSuffix(base, filepath.Ext(base))] = base
		}
	}

	for group, file := range index {
		raw, err := os.ReadFile(filepath.Join(dir, file))
		if err != nil {
			return nil, fmt.Errorf("read schema %s for %q: %w", file, group, err)
		}
		if err := reg.Register(group, raw); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func readIndex(dir string) (map[string]string, error) {
	raw, err := os.ReadFile(filepath.Join(dir, IndexFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read schema index: %w", err)
	}
	var index map[string]string
	if err := json.Unmarshal(raw, &index); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidSchema, IndexFile, err)
	}
	return index, nil
}
