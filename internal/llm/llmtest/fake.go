// Package llmtest provides scripted LLM capabilities for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"sync"
)

const (
	MethodGenerate                = "Generate"
	MethodGenerateBatch           = "GenerateBatch"
	MethodGenerateWithSchema      = "GenerateWithSchema"
	MethodGenerateBatchWithSchema = "GenerateBatchWithSchema"
)

// Responder produces the completion for one prompt. A non-nil error fails the whole call.
type Responder func(prompt string) (string, error)

// Call is one recorded capability invocation.
type Call struct {
	Method  string
	Prompts []string
	Schema  json.RawMessage
}

// Recorder counts calls and replays a Responder.
type Recorder struct {
	mu      sync.Mutex
	respond Responder
	calls   []Call
}

func NewRecorder(respond Responder) *Recorder {
	return &Recorder{respond: respond}
}

// Const always answers with out.
func Const(out string) Responder {
	return func(string) (string, error) { return out, nil }
}

// Calls returns how many times method was invoked.
func (r *Recorder) Calls(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// History returns every recorded call in order.
func (r *Recorder) History() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Total is the number of calls across all methods.
func (r *Recorder) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *Recorder) run(ctx context.Context, method string, prompts []string, schema json.RawMessage) ([]string, error) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Method: method, Prompts: append([]string(nil), prompts...), Schema: schema})
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]string, len(prompts))
	for i, p := range prompts {
		s, err := r.respond(p)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// Basic only implements llm.Generator.
type Basic struct{ *Recorder }

func (b Basic) Generate(ctx context.Context, prompt string) (string, error) {
	out, err := b.run(ctx, MethodGenerate, []string{prompt}, nil)
	if err != nil {
		return "", err
	}
	return out[0], nil
}

// Batched implements llm.Generator and llm.BatchGenerator.
type Batched struct{ Basic }

func (b Batched) GenerateBatch(ctx context.Context, prompts []string) ([]string, error) {
	return b.run(ctx, MethodGenerateBatch, prompts, nil)
}

// Full implements all four capabilities.
type Full struct{ Batched }

func (f Full) GenerateWithSchema(ctx context.Context, prompt string, schema json.RawMessage) (string, error) {
	out, err := f.run(ctx, MethodGenerateWithSchema, []string{prompt}, schema)
	if err != nil {
		return "", err
	}
	return out[0], nil
}

func (f Full) GenerateBatchWithSchema(ctx context.Context, prompts []string, schema json.RawMessage) ([]string, error) {
	return f.run(ctx, MethodGenerateBatchWithSchema, prompts, schema)
}

func NewBasic(respond Responder) Basic { return Basic{NewRecorder(respond)} }

func NewBatched(respond Responder) Batched { return Batched{NewBasic(respond)} }

func NewFull(respond Responder) Full { return Full{NewBatched(respond)} }
