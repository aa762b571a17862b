// Package llm defines the language-model capabilities the extractor consumes,
// plus the prompt and output-validation helpers around them.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
)

// Generator is the minimal capability: one prompt, one completion.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// BatchGenerator completes several prompts at once. Output order matches input order.
type BatchGenerator interface {
	GenerateBatch(ctx context.Context, prompts []string) ([]string, error)
}

// SchemaGenerator constrains decoding to a JSON schema.
type SchemaGenerator interface {
	GenerateWithSchema(ctx context.Context, prompt string, schema json.RawMessage) (string, error)
}

// SchemaBatchGenerator is the batched form of SchemaGenerator.
type SchemaBatchGenerator interface {
	GenerateBatchWithSchema(ctx context.Context, prompts []string, schema json.RawMessage) ([]string, error)
}

var (
	ErrOutOfMemory = errors.New("llm: out of memory")
	ErrTimeout     = errors.New("llm: timeout")
	ErrBatchSize   = errors.New("llm: batch size mismatch")
)

// IsOutOfMemory reports whether err came from the backend running out of device or host memory.
func IsOutOfMemory(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOutOfMemory) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "out of memory") || strings.Contains(msg, "cuda oom")
}

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
