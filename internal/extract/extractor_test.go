package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/statement-extractor/constants"
	"github.com/joseph-ayodele/statement-extractor/internal/errsys"
	"github.com/joseph-ayodele/statement-extractor/internal/llm"
	"github.com/joseph-ayodele/statement-extractor/internal/llm/llmtest"
	"github.com/joseph-ayodele/statement-extractor/internal/llm/openai"
	"github.com/joseph-ayodele/statement-extractor/internal/schema"
)

// textPrompts renders only the record text, plus feedback when present.
type textPrompts struct{}

func (textPrompts) Build(in llm.PromptInput) (string, error) {
	if in.PreviousError != "" {
		return in.RecordText + llm.Feedback(in.PreviousError), nil
	}
	return in.RecordText, nil
}

func mustSchema(t *testing.T, group, raw string) schema.Schema {
	t.Helper()
	s, err := schema.New(group, []byte(raw))
	require.NoError(t, err)
	return s
}

func records(t *testing.T, texts ...string) []Record {
	t.Helper()
	s := mustSchema(t, "Trade", `{"type":"object"}`)
	out := make([]Record, len(texts))
	for i, txt := range texts {
		out[i] = Record{ID: fmt.Sprintf("p1-r%d", i), Text: txt, Group: "Trade", Type: "Buy", Schema: s, Index: i}
	}
	return out
}

// echo answers with the record text (the prompt's first line) as a JSON object.
func echo(prompt string) (string, error) {
	first, _, _ := strings.Cut(prompt, "\n")
	bs, _ := json.Marshal(map[string]string{"text": first})
	return "```json\n" + string(bs) + "\n```", nil
}

func newExtractor(gen llm.Generator, mem *errsys.Memory, opts ...Option) *Extractor {
	opts = append([]Option{WithEvents(errsys.NewLogger(mem, nil))}, opts...)
	return New(gen, textPrompts{}, opts...)
}

func TestAlwaysInvalidExhaustsRetries(t *testing.T) {
	gen := llmtest.NewBatched(llmtest.Const("sorry, I cannot help with that"))
	mem := &errsys.Memory{}
	ex := newExtractor(gen, mem, WithMaxRetries(2))

	recs := records(t, "row a", "row b")
	results := ex.Run(context.Background(), recs, errsys.Scope{DocID: "doc", File: "f.pdf", Page: 1})

	assert.Equal(t, 3, gen.Calls(llmtest.MethodGenerateBatch), "maxRetries+1 rounds")
	assert.Equal(t, []map[string]any{nil, nil}, Data(results))
	for _, r := range results {
		assert.Equal(t, constants.StatusFailed, r.Status)
		assert.Equal(t, 2, r.Retries)
		assert.Contains(t, r.LastError, "JSON Decode Error")
	}

	retry := mem.ByCode(errsys.LLMRetry.ID)
	require.Len(t, retry, 2)
	assert.Equal(t, "p1-r0", *retry[0].RecordID)
	assert.Equal(t, "p1-r1", *retry[1].RecordID)

	nonJSON := mem.ByCode(errsys.LLMNonJSON.ID)
	require.Len(t, nonJSON, 6)
	assert.Equal(t, errsys.LevelWarn, nonJSON[0].Level)
	assert.Equal(t, errsys.LevelError, nonJSON[5].Level)
	require.NotNil(t, nonJSON[0].Page)
	assert.Equal(t, 1, *nonJSON[0].Page)
}

func TestOneCallPerSchemaPartition(t *testing.T) {
	a := mustSchema(t, "Trade", `{"type":"object","title":"A"}`)
	b := mustSchema(t, "FXTF", `{"type":"object","title":"B"}`)
	recs := []Record{
		{ID: "r0", Text: "t0", Schema: a},
		{ID: "r1", Text: "t1", Schema: b},
		{ID: "r2", Text: "t2", Schema: a},
	}

	gen := llmtest.NewFull(echo)
	mem := &errsys.Memory{}
	out := newExtractor(gen, mem, WithPartitionConcurrency(1)).ExtractBatch(context.Background(), recs, errsys.Scope{})

	assert.Equal(t, 2, gen.Calls(llmtest.MethodGenerateBatchWithSchema))
	assert.Equal(t, 2, gen.Total(), "no other capability used")

	hist := gen.History()
	assert.Equal(t, []string{"t0", "t2"}, hist[0].Prompts)
	assert.JSONEq(t, a.Key(), string(hist[0].Schema))
	assert.Equal(t, []string{"t1"}, hist[1].Prompts)

	require.Len(t, out, 3)
	for i, o := range out {
		assert.Equal(t, fmt.Sprintf("t%d", i), o["text"], "input order kept")
	}
	assert.Empty(t, mem.Events())
}

func TestNoSecondRoundWhenAllSucceed(t *testing.T) {
	gen := llmtest.NewBatched(echo)
	ex := newExtractor(gen, &errsys.Memory{}, WithMaxRetries(5))

	results := ex.Run(context.Background(), records(t, "x", "y", "z"), errsys.Scope{})
	assert.Equal(t, 1, gen.Total())
	for i, want := range []string{"x", "y", "z"} {
		assert.Equal(t, constants.StatusSuccess, results[i].Status)
		assert.Equal(t, 0, results[i].Retries)
		assert.Equal(t, want, results[i].Data["text"])
	}
}

func TestSelfHealingRetry(t *testing.T) {
	gen := llmtest.NewBatched(func(prompt string) (string, error) {
		if strings.HasPrefix(prompt, "good") || strings.Contains(prompt, "Previous output error") {
			return echo(prompt)
		}
		return `{"broken": `, nil
	})
	mem := &errsys.Memory{}
	ex := newExtractor(gen, mem)

	results := ex.Run(context.Background(), records(t, "good row", "bad row"), errsys.Scope{})

	require.Equal(t, 2, gen.Total())
	hist := gen.History()
	assert.Equal(t, []string{"good row", "bad row"}, hist[0].Prompts)
	require.Len(t, hist[1].Prompts, 1, "only pending records are retried")
	assert.Contains(t, hist[1].Prompts[0], "bad row\n\nPrevious output error: JSON Decode Error")

	assert.Equal(t, constants.StatusSuccess, results[0].Status)
	assert.Equal(t, constants.StatusSuccess, results[1].Status)
	assert.Equal(t, 1, results[1].Retries)
	assert.Empty(t, results[1].LastError)

	parse := mem.ByCode(errsys.LLMJSONParse.ID)
	require.Len(t, parse, 1)
	assert.Equal(t, errsys.LevelWarn, parse[0].Level)
	assert.Empty(t, mem.ByCode(errsys.LLMRetry.ID))
}

func TestNotAnObjectIsSchemaViolation(t *testing.T) {
	gen := llmtest.NewBatched(llmtest.Const("```json\n[1, 2]\n```"))
	mem := &errsys.Memory{}
	out := newExtractor(gen, mem, WithMaxRetries(0)).ExtractBatch(context.Background(), records(t, "a"), errsys.Scope{})

	assert.Equal(t, []map[string]any{nil}, out)
	assert.Equal(t, 1, gen.Total())
	require.Len(t, mem.ByCode(errsys.ValSchema.ID), 1)
	assert.Equal(t, "Output is not a JSON object", mem.ByCode(errsys.ValSchema.ID)[0].Message)
	assert.Len(t, mem.ByCode(errsys.LLMRetry.ID), 1)
}

func TestSequentialFallback(t *testing.T) {
	gen := llmtest.NewBasic(echo)
	out := newExtractor(gen, &errsys.Memory{}).ExtractBatch(context.Background(), records(t, "a", "b"), errsys.Scope{})

	assert.Equal(t, 2, gen.Calls(llmtest.MethodGenerate))
	assert.Equal(t, "a", out[0]["text"])
	assert.Equal(t, "b", out[1]["text"])
}

// schemaOnly supports constrained decoding but not batching.
type schemaOnly struct{ llmtest.Basic }

func (s schemaOnly) GenerateWithSchema(ctx context.Context, prompt string, _ json.RawMessage) (string, error) {
	return s.Generate(ctx, "schema:"+prompt)
}

func TestSequentialPrefersSchemaCalls(t *testing.T) {
	gen := schemaOnly{llmtest.NewBasic(func(p string) (string, error) {
		if !strings.HasPrefix(p, "schema:") {
			return "", fmt.Errorf("unconstrained call")
		}
		return `{"ok": true}`, nil
	})}
	out := newExtractor(gen, &errsys.Memory{}).ExtractBatch(context.Background(), records(t, "a"), errsys.Scope{})
	assert.Equal(t, map[string]any{"ok": true}, out[0])
}

func TestCallErrorIsRetried(t *testing.T) {
	var calls atomic.Int32
	gen := llmtest.NewBatched(func(p string) (string, error) {
		if calls.Add(1) == 1 { // fails the whole first batch
			return "", fmt.Errorf("generate: %w", llm.ErrOutOfMemory)
		}
		return echo(p)
	})
	mem := &errsys.Memory{}
	results := newExtractor(gen, mem).Run(context.Background(), records(t, "a", "b"), errsys.Scope{})

	assert.Equal(t, 2, gen.Total())
	assert.Equal(t, constants.StatusSuccess, results[0].Status)
	assert.Equal(t, constants.StatusSuccess, results[1].Status)
	oom := mem.ByCode(errsys.LLMOutOfMemory.ID)
	require.Len(t, oom, 2, "one event per affected record")
	assert.Equal(t, errsys.LevelWarn, oom[0].Level)
	assert.Contains(t, oom[0].Meta["exception"], "out of memory")
}

func TestRuntimeErrorOnFinalRound(t *testing.T) {
	gen := llmtest.NewBatched(func(string) (string, error) { return "", fmt.Errorf("connection refused") })
	mem := &errsys.Memory{}
	out := newExtractor(gen, mem, WithMaxRetries(1)).ExtractBatch(context.Background(), records(t, "a"), errsys.Scope{})

	assert.Nil(t, out[0])
	assert.Equal(t, 2, gen.Total())
	assert.Len(t, mem.ByCode(errsys.LLMRuntime.ID), 2)
	assert.Len(t, mem.ByCode(errsys.LLMRetry.ID), 1)
}

// shortBatch drops the last output.
type shortBatch struct{ llmtest.Batched }

func (s shortBatch) GenerateBatch(ctx context.Context, prompts []string) ([]string, error) {
	out, err := s.Batched.GenerateBatch(ctx, prompts)
	return out[:len(out)-1], err
}

func TestBatchSizeMismatch(t *testing.T) {
	gen := shortBatch{llmtest.NewBatched(echo)}
	mem := &errsys.Memory{}
	results := newExtractor(gen, mem, WithMaxRetries(0)).Run(context.Background(), records(t, "a", "b"), errsys.Scope{})

	for _, r := range results {
		assert.Equal(t, constants.StatusFailed, r.Status)
		assert.Contains(t, r.LastError, "batch size mismatch")
	}
	assert.Len(t, mem.ByCode(errsys.LLMRuntime.ID), 2)
}

// blocking waits for the call deadline.
type blocking struct{ calls atomic.Int32 }

func (b *blocking) Generate(ctx context.Context, _ string) (string, error) {
	b.calls.Add(1)
	<-ctx.Done()
	return "", ctx.Err()
}

func TestCallTimeoutFailsImmediately(t *testing.T) {
	gen := &blocking{}
	mem := &errsys.Memory{}
	ex := newExtractor(gen, mem, WithCallTimeout(20*time.Millisecond), WithMaxRetries(3))

	results := ex.Run(context.Background(), records(t, "a"), errsys.Scope{})

	assert.EqualValues(t, 1, gen.calls.Load(), "timed out records are not retried")
	assert.Equal(t, constants.StatusFailed, results[0].Status)
	assert.Len(t, mem.ByCode(errsys.LLMTimeout.ID), 1)
	assert.Empty(t, mem.ByCode(errsys.LLMRetry.ID))
}

func TestGatewayTimeoutIsRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusGatewayTimeout)
			_, _ = w.Write([]byte("upstream timeout"))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": `{"Amount": "1000"}`}, "finish_reason": "stop"}},
		})
	}))
	t.Cleanup(srv.Close)

	gen := openai.NewClient(openai.Config{BaseURL: srv.URL + "/v1", APIKey: "k", Model: "m"}, nil)
	mem := &errsys.Memory{}
	results := newExtractor(gen, mem, WithMaxRetries(2), WithCallTimeout(5*time.Second)).
		Run(context.Background(), records(t, "a"), errsys.Scope{})

	assert.EqualValues(t, 2, hits.Load())
	require.Equal(t, constants.StatusSuccess, results[0].Status, results[0].LastError)
	assert.Equal(t, map[string]any{"Amount": "1000"}, results[0].Data)
	assert.Equal(t, 1, results[0].Retries)

	timeouts := mem.ByCode(errsys.LLMTimeout.ID)
	require.Len(t, timeouts, 1)
	assert.Equal(t, errsys.LevelWarn, timeouts[0].Level)
	assert.Empty(t, mem.ByCode(errsys.LLMRetry.ID))
}

func TestGatewayTimeoutOnFinalRound(t *testing.T) {
	gen := llmtest.NewBatched(func(string) (string, error) {
		return "", fmt.Errorf("%w: %w", llm.ErrTimeout, &llm.HTTPError{Status: http.StatusGatewayTimeout})
	})
	mem := &errsys.Memory{}
	results := newExtractor(gen, mem, WithMaxRetries(1)).Run(context.Background(), records(t, "a"), errsys.Scope{})

	assert.Equal(t, 2, gen.Total())
	assert.Equal(t, constants.StatusFailed, results[0].Status)
	assert.Len(t, mem.ByCode(errsys.LLMTimeout.ID), 2)
	assert.Len(t, mem.ByCode(errsys.LLMRetry.ID), 1)
}

func TestTruncateKeepsRunes(t *testing.T) {
	assert.Equal(t, "ab", truncate("ab", 5))
	assert.Equal(t, "a...(truncated)", truncate("a€b", 2))
	assert.Equal(t, "a€...(truncated)", truncate("a€b", 4))
}

func TestEmptyOutput(t *testing.T) {
	gen := llmtest.NewBatched(llmtest.Const("   "))
	mem := &errsys.Memory{}
	results := newExtractor(gen, mem, WithMaxRetries(1)).Run(context.Background(), records(t, "a"), errsys.Scope{})

	assert.Equal(t, constants.StatusFailed, results[0].Status)
	assert.Equal(t, "empty output", results[0].LastError)
	assert.Len(t, mem.ByCode(errsys.LLMEmpty.ID), 2)
	assert.Len(t, mem.ByCode(errsys.LLMRetry.ID), 1)
	assert.Contains(t, gen.History()[1].Prompts[0], "Previous output error: empty output")
}

func TestCancelledContext(t *testing.T) {
	gen := llmtest.NewBatched(echo)
	mem := &errsys.Memory{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := newExtractor(gen, mem).ExtractBatch(ctx, records(t, "a", "b"), errsys.Scope{})
	assert.Equal(t, []map[string]any{nil, nil}, out)
	assert.Equal(t, 0, gen.Total())
	assert.Len(t, mem.ByCode(errsys.LLMRuntime.ID), 2)
}

func TestPromptBuildFailure(t *testing.T) {
	pb, err := llm.NewPromptBuilder("{{.RECORD_TEXT.Missing}}")
	require.NoError(t, err)
	gen := llmtest.NewBatched(echo)
	mem := &errsys.Memory{}

	results := New(gen, pb, WithEvents(errsys.NewLogger(mem, nil))).Run(context.Background(), records(t, "a"), errsys.Scope{})
	assert.Equal(t, constants.StatusFailed, results[0].Status)
	assert.Equal(t, 0, gen.Total())
	assert.Len(t, mem.ByCode(errsys.LLMRuntime.ID), 1)
}

func TestEmptyInput(t *testing.T) {
	gen := llmtest.NewBatched(echo)
	out := ExtractBatch(context.Background(), nil, gen, textPrompts{}, 2, errsys.NewLogger(nil, nil))
	assert.Empty(t, out)
	assert.Equal(t, 0, gen.Total())
}

// rendezvous only answers once two calls are in flight at the same time.
type rendezvous struct {
	mu    sync.Mutex
	n     int
	both  chan struct{}
	calls atomic.Int32
}

func (r *rendezvous) Generate(ctx context.Context, p string) (string, error) {
	out, err := r.GenerateBatch(ctx, []string{p})
	if err != nil {
		return "", err
	}
	return out[0], nil
}

func (r *rendezvous) GenerateBatch(ctx context.Context, prompts []string) ([]string, error) {
	r.calls.Add(1)
	r.mu.Lock()
	r.n++
	if r.n == 2 {
		close(r.both)
	}
	r.mu.Unlock()

	select {
	case <-r.both:
	case <-time.After(time.Second):
		return nil, fmt.Errorf("partitions were not dispatched concurrently")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	out := make([]string, len(prompts))
	for i, p := range prompts {
		out[i], _ = echo(p)
	}
	return out, nil
}

func TestPartitionsRunConcurrently(t *testing.T) {
	a := mustSchema(t, "Trade", `{"type":"object","title":"A"}`)
	b := mustSchema(t, "FXTF", `{"type":"object","title":"B"}`)
	recs := []Record{{ID: "r0", Text: "t0", Schema: a}, {ID: "r1", Text: "t1", Schema: b}}

	gen := &rendezvous{both: make(chan struct{})}
	out := newExtractor(gen, &errsys.Memory{}, WithPartitionConcurrency(2)).ExtractBatch(context.Background(), recs, errsys.Scope{})

	assert.EqualValues(t, 2, gen.calls.Load())
	assert.Equal(t, "t0", out[0]["text"])
	assert.Equal(t, "t1", out[1]["text"])
}
