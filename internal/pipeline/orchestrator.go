package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/statement-extractor/constants"
	"github.com/joseph-ayodele/statement-extractor/internal/common"
	"github.com/joseph-ayodele/statement-extractor/internal/errsys"
	"github.com/joseph-ayodele/statement-extractor/internal/extract"
	"github.com/joseph-ayodele/statement-extractor/internal/ocr"
	"github.com/joseph-ayodele/statement-extractor/internal/rules"
	"github.com/joseph-ayodele/statement-extractor/internal/schema"
	"github.com/joseph-ayodele/statement-extractor/internal/section"
	"github.com/joseph-ayodele/statement-extractor/internal/segment"
)

// Schemas resolves a record group to its schema.
type Schemas interface {
	Lookup(group string) (schema.Schema, bool)
}

// BatchExtractor runs one page's records through extraction.
type BatchExtractor interface {
	Run(ctx context.Context, records []extract.Record, scope errsys.Scope) []extract.Result
}

// Orchestrator processes documents page by page. It holds no per-document
// state and may be shared between goroutines.
type Orchestrator struct {
	classifier  *rules.PageClassifier
	router      *rules.RecordRouter
	sections    *section.Registry
	schemas     Schemas
	extractor   BatchExtractor
	events      *errsys.Logger
	logger      *slog.Logger
	pageWorkers int
	headerLines int
}

type Option func(*Orchestrator)

// WithPageWorkers processes up to n pages of a document at once.
func WithPageWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.pageWorkers = n
		}
	}
}

func WithHeaderLines(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.headerLines = n
		}
	}
}

func WithEvents(l *errsys.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.events = l
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSections overrides the section registry built from the rule set.
func WithSections(r *section.Registry) Option {
	return func(o *Orchestrator) { o.sections = r }
}

func NewOrchestrator(rs *rules.RuleSet, schemas Schemas, ext BatchExtractor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		schemas:     schemas,
		extractor:   ext,
		logger:      slog.Default(),
		pageWorkers: 1,
		headerLines: rules.DefaultHeaderLines,
		sections:    section.NewRegistry(rs),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.events == nil {
		o.events = errsys.NewLogger(errsys.NewSlogSink(o.logger), o.logger)
	}
	o.classifier = rules.NewPageClassifier(rs.PageRules(), o.headerLines)
	o.router = rules.NewRecordRouter(rs.RecordRules())
	return o
}

// Input names one document to process.
type Input struct {
	// DocID identifies the run; a new UUID is used when empty.
	DocID string
	// Name is recorded as the source document in every record's metadata.
	Name string
	// Key is handed to the source to locate the document.
	Key    string
	Source ocr.Source
}

type pageOut struct {
	number  int
	ignored bool
	results []map[string]any
	failed  int
}

// ProcessDocument drains the document's page stream and extracts every
// classified page. A stream failure is logged at document scope and the
// document is dropped; page-level failures never abort the document.
func (o *Orchestrator) ProcessDocument(ctx context.Context, in Input) (*Document, error) {
	start := time.Now()
	if in.DocID == "" {
		in.DocID = uuid.NewString()
	}
	if in.Name == "" {
		in.Name = in.Key
	}
	ctx = common.WithDocID(ctx, in.DocID)
	scope := errsys.Scope{DocID: in.DocID, File: in.Name}
	o.logger.Info("pipeline.document.start", "doc_id", in.DocID, "file", in.Name)

	pages, errc := in.Source.Stream(ctx, in.Key)

	// outs is only appended to here; each worker writes its own pageOut.
	var outs []*pageOut
	g := new(errgroup.Group)
	g.SetLimit(o.pageWorkers)
	for p := range pages {
		p := p
		out := &pageOut{number: p.Number}
		outs = append(outs, out)
		g.Go(func() error {
			o.processPage(ctx, p, in.Name, scope.WithPage(p.Number), out)
			return nil
		})
	}
	_ = g.Wait()

	if err := <-errc; err != nil {
		o.events.Log(ctx, errsys.IOReadMarkdown, fmt.Sprintf("failed to read document: %v", err), scope,
			errsys.WithErr(err), errsys.WithMeta("pages_read", len(outs)))
		o.logger.Error("pipeline.document.failed", "doc_id", in.DocID, "file", in.Name, "error", err)
		return nil, err
	}

	doc := &Document{ID: in.DocID, Name: in.Name, Pages: len(outs), Results: []map[string]any{}}
	for _, out := range outs {
		if out.ignored {
			doc.Ignored++
			continue
		}
		doc.Results = append(doc.Results, out.results...)
		doc.Failed += out.failed
	}
	o.logger.Info("pipeline.document.done",
		"doc_id", doc.ID,
		"file", doc.Name,
		"pages", doc.Pages,
		"ignored", doc.Ignored,
		"records", len(doc.Results),
		"failed", doc.Failed,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return doc, nil
}

func (o *Orchestrator) processPage(ctx context.Context, p ocr.Page, name string, scope errsys.Scope, out *pageOut) {
	label := o.classifier.Classify(p.Text)
	if label == constants.Ignore {
		out.ignored = true
		o.events.Log(ctx, errsys.PageClass, "page classified as Ignore; skipped", scope,
			errsys.WithLevel(errsys.LevelInfo), errsys.WithMeta("label", label))
		return
	}

	var sections []string
	var fields section.Fields
	if o.sections != nil {
		sections, fields = o.sections.PageContext(p.Text)
	}
	o.events.Log(ctx, errsys.PageClass, "page classified as "+label, scope,
		errsys.WithLevel(errsys.LevelInfo), errsys.WithMeta("label", label), errsys.WithMeta("sections", sections))

	rows := segment.Segment(p.Text)
	if len(rows) == 0 {
		o.events.Log(ctx, errsys.PageSplit, "no records found on page", scope,
			errsys.WithLevel(errsys.LevelWarn), errsys.WithMeta("label", label))
		return
	}

	records := make([]extract.Record, 0, len(rows))
	for idx, row := range rows {
		id := fmt.Sprintf("p%d-r%d", p.Number, idx)
		if segment.IsBlank(row) {
			o.events.Log(ctx, errsys.RecEmpty, "record has no content", scope.WithRecord(id, "", ""),
				errsys.WithLevel(errsys.LevelWarn))
			continue
		}
		group, typ := o.router.Route(row)
		s, ok := o.schemas.Lookup(group)
		if !ok {
			o.events.Log(ctx, errsys.RecRoute, "no schema for group "+group+"; record dropped", scope.WithRecord(id, group, typ),
				errsys.WithLevel(errsys.LevelWarn), errsys.WithMeta("text", row))
			continue
		}
		records = append(records, extract.Record{
			ID:      id,
			Text:    row,
			Group:   group,
			Type:    typ,
			Schema:  s,
			Index:   idx,
			Context: fields,
		})
	}
	if len(records) == 0 {
		return
	}

	results := o.extractor.Run(ctx, records, scope)
	out.results = make([]map[string]any, len(results))
	for i, res := range results {
		if res.Status != constants.StatusSuccess {
			out.failed++
			continue
		}
		rec := records[i]
		data := make(map[string]any, len(res.Data)+1)
		for k, v := range res.Data {
			data[k] = v
		}
		data[MetaKey] = Meta{Page: p.Number, Group: rec.Group, Type: rec.Type, SourceDocument: name}.asMap()
		out.results[i] = data
	}
	o.logger.Debug("pipeline.page.done", "doc_id", scope.DocID, "page", p.Number, "label", label,
		"records", len(records), "failed", out.failed)
}
