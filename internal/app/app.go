// Package app wires configuration into a ready-to-run pipeline. Both the
// batch CLI and the daemon build on it.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/statement-extractor/internal/common"
	"github.com/joseph-ayodele/statement-extractor/internal/errsys"
	"github.com/joseph-ayodele/statement-extractor/internal/export"
	"github.com/joseph-ayodele/statement-extractor/internal/extract"
	"github.com/joseph-ayodele/statement-extractor/internal/llm"
	"github.com/joseph-ayodele/statement-extractor/internal/llm/openai"
	"github.com/joseph-ayodele/statement-extractor/internal/ocr"
	"github.com/joseph-ayodele/statement-extractor/internal/pipeline"
	"github.com/joseph-ayodele/statement-extractor/internal/rules"
	"github.com/joseph-ayodele/statement-extractor/internal/schema"
	"github.com/joseph-ayodele/statement-extractor/internal/store"
)

// App holds the long-lived components built from a Config.
type App struct {
	Config *common.Config
	Rules  *rules.RuleSet
	Runner *pipeline.Runner
	PDF    *ocr.PDFText
	Store  *store.Store // nil when STORE_DRIVER=none
	Events *errsys.Logger
	Logger *slog.Logger

	closers []io.Closer
}

// Option adjusts wiring before the pipeline is built.
type Option func(*options)

type options struct {
	gen     llm.Generator
	outputs []pipeline.Output
}

// WithGenerator replaces the HTTP model client.
func WithGenerator(g llm.Generator) Option {
	return func(o *options) { o.gen = g }
}

// WithExtraOutputs adds outputs after the file and store outputs.
func WithExtraOutputs(outs ...pipeline.Output) Option {
	return func(o *options) { o.outputs = append(o.outputs, outs...) }
}

// ParseLevel maps LOG_LEVEL onto slog levels; unknown values mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Build validates cfg and wires every component. Startup failures are
// reported as SOA-SYS-* events before being returned.
func Build(ctx context.Context, cfg *common.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{Config: cfg, Logger: logger}

	sinks := errsys.Multi{errsys.NewSlogSink(logger)}
	if cfg.Events.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Events.File), 0o755); err != nil {
			return nil, fmt.Errorf("events dir: %w", err)
		}
		f, err := os.OpenFile(cfg.Events.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open events file: %w", err)
		}
		a.closers = append(a.closers, f)
		sinks = append(sinks, errsys.NewJSONLines(f))
	}
	a.Events = errsys.NewLogger(sinks, logger)

	fail := func(c errsys.Code, err error) (*App, error) {
		a.Events.Log(ctx, c, err.Error(), errsys.Scope{}, errsys.WithErr(err))
		a.Close()
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return fail(errsys.SysConfig, err)
	}

	rs, err := rules.Load(cfg.Paths.RulesPath)
	if err != nil {
		return fail(errsys.SysConfig, err)
	}
	a.Rules = rs

	schemas, err := schema.LoadDir(cfg.Paths.SchemasDir)
	if err != nil {
		return fail(errsys.SysConfig, err)
	}

	prompts, err := llm.LoadPromptBuilder(cfg.Paths.PromptTemplate)
	if err != nil {
		return fail(errsys.SysConfig, err)
	}

	if cfg.Store.Driver != common.StoreNone {
		st, err := store.Open(ctx, cfg.Store, logger)
		if err != nil {
			return fail(errsys.SysDependency, err)
		}
		a.Store = st
		a.closers = append(a.closers, st)
		// events go to the store as well from here on
		a.Events = errsys.NewLogger(append(sinks, st.Sink()), logger)
	}

	gen := o.gen
	if gen == nil {
		gen = openai.NewClient(openai.Config{
			BaseURL:        cfg.LLM.BaseURL,
			Model:          cfg.LLM.Model,
			APIKey:         cfg.LLM.APIKey,
			Temperature:    cfg.LLM.Temperature,
			MaxTokens:      cfg.LLM.MaxTokens,
			Timeout:        cfg.LLM.Timeout,
			GuidedDecoding: cfg.LLM.GuidedDecoding,
			Concurrency:    cfg.LLM.Concurrency,
		}, logger)
	}

	validator := llm.NewValidator(
		llm.WithStrictSchema(cfg.Extract.StrictSchema),
		llm.WithSchemaCacheSize(cfg.Extract.SchemaCacheSize),
		llm.WithValidatorLogger(logger),
	)
	ext := extract.New(gen, prompts,
		extract.WithMaxRetries(cfg.Extract.MaxRetries),
		extract.WithCallTimeout(cfg.Extract.CallTimeout),
		extract.WithPartitionConcurrency(cfg.Extract.PartitionConcurrency),
		extract.WithValidator(validator),
		extract.WithEvents(a.Events),
		extract.WithLogger(logger),
	)

	orch := pipeline.NewOrchestrator(rs, schemas, ext,
		pipeline.WithPageWorkers(cfg.Pipeline.PageWorkers),
		pipeline.WithHeaderLines(cfg.Pipeline.HeaderLines),
		pipeline.WithEvents(a.Events),
		pipeline.WithLogger(logger),
	)

	outputs := []pipeline.Output{
		export.NewJSONWriter(cfg.Paths.OutputDir, logger),
		export.NewXLSXWriter(cfg.Paths.OutputDir, logger),
	}
	if a.Store != nil {
		outputs = append(outputs, a.Store)
	}
	outputs = append(outputs, o.outputs...)

	a.Runner = pipeline.NewRunner(orch,
		pipeline.WithDocWorkers(cfg.Pipeline.DocWorkers),
		pipeline.WithOutputs(outputs...),
	)
	a.PDF = ocr.NewPDFText(ocr.PDFConfig{
		Pdftotext:     cfg.OCR.Pdftotext,
		Pdftoppm:      cfg.OCR.Pdftoppm,
		Tesseract:     cfg.OCR.Tesseract,
		TesseractLang: cfg.OCR.TesseractLang,
		TessdataDir:   cfg.OCR.TessdataDir,
		DPI:           cfg.OCR.DPI,
		MaxPages:      cfg.OCR.MaxPages,
	}, logger)

	logger.Info("app.ready",
		"rules", cfg.Paths.RulesPath,
		"schemas", schemas.Groups(),
		"store", cfg.Store.Driver,
		"model", cfg.LLM.Model,
		"strict_schema", cfg.Extract.StrictSchema,
	)
	return a, nil
}

// Close releases the store and the events file.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.Logger.Warn("app.close.failed", "error", err)
		}
	}
	a.closers = nil
}
