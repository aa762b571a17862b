package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/statement-extractor/internal/errsys"
)

// Output consumes a finished document: a JSON file, a workbook, a table.
type Output interface {
	Name() string
	Write(ctx context.Context, doc *Document) error
}

// FailureCoder lets an output choose the event code for its write failures.
type FailureCoder interface {
	FailureCode() errsys.Code
}

// Runner processes many documents with a bounded number of workers and
// hands each finished document to every output.
type Runner struct {
	orch    *Orchestrator
	outputs []Output
	workers int
	events  *errsys.Logger
	logger  *slog.Logger
}

type RunnerOption func(*Runner)

func WithDocWorkers(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

func WithOutputs(outs ...Output) RunnerOption {
	return func(r *Runner) { r.outputs = append(r.outputs, outs...) }
}

func NewRunner(orch *Orchestrator, opts ...RunnerOption) *Runner {
	r := &Runner{orch: orch, workers: 1, events: orch.events, logger: orch.logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Process runs one document and delivers it to the outputs.
func (r *Runner) Process(ctx context.Context, in Input) (*Document, error) {
	doc, err := r.orch.ProcessDocument(ctx, in)
	if err != nil {
		return nil, err
	}
	r.deliver(ctx, doc)
	return doc, nil
}

// RunAll processes inputs concurrently. Failed documents are logged and
// omitted; the returned slice keeps input order for the rest.
func (r *Runner) RunAll(ctx context.Context, inputs []Input) []*Document {
	start := time.Now()
	docs := make([]*Document, len(inputs))

	g := new(errgroup.Group)
	g.SetLimit(r.workers)
	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			doc, err := r.Process(ctx, in)
			if err == nil {
				docs[i] = doc
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*Document, 0, len(docs))
	for _, d := range docs {
		if d != nil {
			out = append(out, d)
		}
	}
	r.logger.Info("pipeline.run.done",
		"documents", len(inputs),
		"succeeded", len(out),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out
}

func (r *Runner) deliver(ctx context.Context, doc *Document) {
	scope := errsys.Scope{DocID: doc.ID, File: doc.Name}
	for _, o := range r.outputs {
		if err := o.Write(ctx, doc); err != nil {
			code := errsys.IOWriteJSON
			if fc, ok := o.(FailureCoder); ok {
				code = fc.FailureCode()
			}
			r.events.Log(ctx, code, fmt.Sprintf("%s output failed: %v", o.Name(), err), scope, errsys.WithErr(err))
			continue
		}
		r.logger.Debug("pipeline.output.ok", "doc_id", doc.ID, "output", o.Name())
	}
}
