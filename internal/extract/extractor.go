package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/statement-extractor/constants"
	"github.com/joseph-ayodele/statement-extractor/internal/errsys"
	"github.com/joseph-ayodele/statement-extractor/internal/llm"
	"github.com/joseph-ayodele/statement-extractor/internal/schema"
)

const (
	DefaultMaxRetries           = 2
	DefaultPartitionConcurrency = 4
)

// Extractor is safe for concurrent use; each ExtractBatch call owns its results.
type Extractor struct {
	gen         llm.Generator
	prompts     PromptBuilder
	validator   *llm.Validator
	events      *errsys.Logger
	logger      *slog.Logger
	maxRetries  int
	callTimeout time.Duration
	concurrency int
}

type Option func(*Extractor)

// WithMaxRetries sets the number of rounds after the first. Negative values are ignored.
func WithMaxRetries(n int) Option {
	return func(e *Extractor) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// WithCallTimeout bounds each partition call. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Extractor) {
		if d > 0 {
			e.callTimeout = d
		}
	}
}

// WithPartitionConcurrency bounds how many schema partitions are in flight per round.
func WithPartitionConcurrency(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func WithValidator(v *llm.Validator) Option {
	return func(e *Extractor) {
		if v != nil {
			e.validator = v
		}
	}
}

func WithEvents(l *errsys.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.events = l
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

func New(gen llm.Generator, prompts PromptBuilder, opts ...Option) *Extractor {
	e := &Extractor{
		gen:         gen,
		prompts:     prompts,
		validator:   llm.NewValidator(),
		logger:      slog.Default(),
		maxRetries:  DefaultMaxRetries,
		concurrency: DefaultPartitionConcurrency,
	}
	for _, o := range opts {
		o(e)
	}
	if e.events == nil {
		e.events = errsys.NewLogger(errsys.NewSlogSink(e.logger), e.logger)
	}
	return e
}

// MaxRetries returns the configured retry bound.
func (e *Extractor) MaxRetries() int { return e.maxRetries }

// ExtractBatch returns one slot per record, in input order. Slots of records
// that never validated are nil.
func (e *Extractor) ExtractBatch(ctx context.Context, records []Record, scope errsys.Scope) []map[string]any {
	return Data(e.Run(ctx, records, scope))
}

// partition groups pending records that share one schema.
type partition struct {
	schema  schema.Schema
	members []int
	prompts []string
}

type outcome struct {
	outputs []string
	err     error
	// expired is set when the per-call deadline cut the call short.
	expired bool
}

// Run executes up to MaxRetries+1 rounds and returns the final state of every record.
func (e *Extractor) Run(ctx context.Context, records []Record, scope errsys.Scope) []Result {
	results := make([]Result, len(records))
	feedback := make([]string, len(records))
	attempts := make([]int, len(records))
	for i := range results {
		results[i].Status = constants.StatusPending
	}

	start := time.Now()
	rounds := 0
	for round := 0; round <= e.maxRetries; round++ {
		pending := pendingIndexes(results)
		if len(pending) == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			e.abort(ctx, records, results, pending, scope, err)
			break
		}
		rounds++
		final := round == e.maxRetries

		parts := e.buildPartitions(ctx, records, results, feedback, pending, scope)
		e.logger.Debug("extract.round.start",
			"doc_id", scope.DocID, "page", scope.Page,
			"round", round+1, "pending", len(pending), "partitions", len(parts))

		outcomes := e.dispatch(ctx, parts)

		for p, part := range parts {
			oc := outcomes[p]
			for j, idx := range part.members {
				attempts[idx]++
				results[idx].Retries = attempts[idx] - 1
				rscope := scope.WithRecord(records[idx].ID, records[idx].Group, records[idx].Type)

				if oc.err != nil {
					e.callFailed(ctx, &results[idx], rscope, oc, round, final)
					continue
				}
				e.accept(ctx, &results[idx], &feedback[idx], records[idx], oc.outputs[j], rscope, round, final)
			}
		}
	}

	// only reachable when rounds were cut short
	for i := range results {
		if results[i].Status == constants.StatusPending {
			results[i].Status = constants.StatusFailed
		}
	}

	succeeded := 0
	for _, r := range results {
		if r.Status == constants.StatusSuccess {
			succeeded++
		}
	}
	e.logger.Info("extract.batch.done",
		"doc_id", scope.DocID, "page", scope.Page,
		"records", len(records), "succeeded", succeeded, "failed", len(records)-succeeded,
		"rounds", rounds, "elapsed_ms", time.Since(start).Milliseconds())
	return results
}

func pendingIndexes(results []Result) []int {
	var out []int
	for i, r := range results {
		if r.Status == constants.StatusPending {
			out = append(out, i)
		}
	}
	return out
}

// buildPartitions keys partitions by schema content, in order of first appearance.
func (e *Extractor) buildPartitions(ctx context.Context, records []Record, results []Result, feedback []string, pending []int, scope errsys.Scope) []*partition {
	var parts []*partition
	byKey := map[string]*partition{}

	for _, idx := range pending {
		rec := records[idx]
		prompt, err := e.prompts.Build(llm.PromptInput{
			Group:         rec.Group,
			TxnType:       rec.Type,
			RecordText:    rec.Text,
			Schema:        rec.Schema,
			PageContext:   rec.Context,
			PreviousError: feedback[idx],
		})
		if err != nil {
			// a template failure repeats every round
			results[idx].Status = constants.StatusFailed
			results[idx].LastError = err.Error()
			e.events.Log(ctx, errsys.LLMRuntime, "prompt build failed",
				scope.WithRecord(rec.ID, rec.Group, rec.Type), errsys.WithErr(err))
			continue
		}

		key := rec.Schema.Key()
		p, ok := byKey[key]
		if !ok {
			p = &partition{schema: rec.Schema}
			byKey[key] = p
			parts = append(parts, p)
		}
		p.members = append(p.members, idx)
		p.prompts = append(p.prompts, prompt)
	}
	return parts
}

// dispatch runs every partition call and waits for all of them.
func (e *Extractor) dispatch(ctx context.Context, parts []*partition) []outcome {
	outcomes := make([]outcome, len(parts))
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, p := range parts {
		i, p := i, p
		g.Go(func() error {
			outcomes[i] = e.call(ctx, p.prompts, p.schema)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// call prefers schema-constrained batching, then plain batching, then one call per prompt.
func (e *Extractor) call(parent context.Context, prompts []string, s schema.Schema) outcome {
	ctx := parent
	if e.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, e.callTimeout)
		defer cancel()
	}

	var (
		outs []string
		err  error
	)
	sb, hasSchemaBatch := e.gen.(llm.SchemaBatchGenerator)
	b, hasBatch := e.gen.(llm.BatchGenerator)
	switch {
	case hasSchemaBatch && !s.IsZero():
		outs, err = sb.GenerateBatchWithSchema(ctx, prompts, s.Raw())
	case hasBatch:
		outs, err = b.GenerateBatch(ctx, prompts)
	default:
		outs, err = e.sequential(ctx, prompts, s)
	}
	if err == nil && len(outs) != len(prompts) {
		err = fmt.Errorf("%w: got %d outputs for %d prompts", llm.ErrBatchSize, len(outs), len(prompts))
	}
	// only our own deadline is terminal; a parent expiry is handled by abort
	expired := err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil
	if expired && !llm.IsTimeout(err) {
		err = fmt.Errorf("%w: %w", llm.ErrTimeout, err)
	}
	return outcome{outputs: outs, err: err, expired: expired}
}

func (e *Extractor) sequential(ctx context.Context, prompts []string, s schema.Schema) ([]string, error) {
	sg, hasSchema := e.gen.(llm.SchemaGenerator)
	outs := make([]string, 0, len(prompts))
	for _, p := range prompts {
		var (
			out string
			err error
		)
		if hasSchema && !s.IsZero() {
			out, err = sg.GenerateWithSchema(ctx, p, s.Raw())
		} else {
			out, err = e.gen.Generate(ctx, p)
		}
		if err != nil {
			return nil, err
		}
		outs = append(outs, out)
	}
	return outs, nil
}

func levelFor(final bool) errsys.Level {
	if final {
		return errsys.LevelError
	}
	return errsys.LevelWarn
}

// callFailed handles a record whose partition call failed this round. Backend
// failures, including gateway timeouts, stay pending; an expired call deadline
// fails the record at once.
func (e *Extractor) callFailed(ctx context.Context, res *Result, scope errsys.Scope, oc outcome, round int, final bool) {
	err := oc.err
	res.LastError = err.Error()

	code := errsys.LLMRuntime
	switch {
	case llm.IsTimeout(err):
		code = errsys.LLMTimeout
	case llm.IsOutOfMemory(err):
		code = errsys.LLMOutOfMemory
	}

	if oc.expired {
		res.Status = constants.StatusFailed
		e.events.Log(ctx, code, "llm call timed out", scope,
			errsys.WithErr(err), errsys.WithMeta("round", round+1))
		return
	}

	e.events.Log(ctx, code, "llm call failed", scope,
		errsys.WithErr(err), errsys.WithMeta("round", round+1), errsys.WithLevel(levelFor(final)))
	if final {
		e.exhausted(ctx, res, scope, round)
	}
}

// accept validates one output and moves the record to its next state.
func (e *Extractor) accept(ctx context.Context, res *Result, feedback *string, rec Record, output string, scope errsys.Scope, round int, final bool) {
	if strings.TrimSpace(output) == "" {
		res.LastError = "empty output"
		*feedback = res.LastError
		e.events.Log(ctx, errsys.LLMEmpty, "llm returned empty output", scope,
			errsys.WithMeta("round", round+1), errsys.WithLevel(levelFor(final)))
		if final {
			e.exhausted(ctx, res, scope, round)
		}
		return
	}

	data, err := e.validator.Validate(output, rec.Schema)
	if err == nil {
		res.Status = constants.StatusSuccess
		res.Data = data
		res.LastError = ""
		return
	}

	res.LastError = err.Error()
	*feedback = res.LastError
	e.events.Log(ctx, classify(err), res.LastError, scope,
		errsys.WithMeta("round", round+1),
		errsys.WithMeta("output", truncate(output, 500)),
		errsys.WithLevel(levelFor(final)))
	if final {
		e.exhausted(ctx, res, scope, round)
	}
}

func (e *Extractor) exhausted(ctx context.Context, res *Result, scope errsys.Scope, round int) {
	res.Status = constants.StatusFailed
	e.events.Log(ctx, errsys.LLMRetry, "retries exhausted", scope,
		errsys.WithMeta("rounds", round+1), errsys.WithMeta("last_error", res.LastError))
}

// abort fails every pending record once the caller's context is done.
func (e *Extractor) abort(ctx context.Context, records []Record, results []Result, pending []int, scope errsys.Scope, cause error) {
	code := errsys.LLMRuntime
	if errors.Is(cause, context.DeadlineExceeded) {
		code = errsys.LLMTimeout
	}
	for _, idx := range pending {
		results[idx].Status = constants.StatusFailed
		results[idx].LastError = cause.Error()
		rec := records[idx]
		e.events.Log(context.WithoutCancel(ctx), code, "extraction cancelled",
			scope.WithRecord(rec.ID, rec.Group, rec.Type), errsys.WithErr(cause))
	}
}

// classify maps a validation failure onto the taxonomy.
func classify(err error) errsys.Code {
	var verr *llm.ValidationError
	if !errors.As(err, &verr) {
		return errsys.ValSchema
	}
	switch verr.Kind {
	case llm.KindDecode:
		if llm.LooksLikeJSON(verr.Payload) {
			return errsys.LLMJSONParse
		}
		return errsys.LLMNonJSON
	default:
		return errsys.ValSchema
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "...(truncated)"
}

// ExtractBatch is a one-shot helper over a throwaway Extractor.
func ExtractBatch(ctx context.Context, records []Record, gen llm.Generator, prompts PromptBuilder, maxRetries int, events *errsys.Logger) []map[string]any {
	return New(gen, prompts, WithMaxRetries(maxRetries), WithEvents(events)).ExtractBatch(ctx, records, errsys.Scope{})
}
