package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joseph-ayodele/statement-extractor/internal/app"
	"github.com/joseph-ayodele/statement-extractor/internal/common"
	"github.com/joseph-ayodele/statement-extractor/internal/ingest"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	cfg := common.LoadConfig()

	var (
		input      = flag.String("in", "", "PDF file, markdown page directory, or a directory of either (required)")
		out        = flag.String("out", cfg.Paths.OutputDir, "output directory for JSON and XLSX files")
		rulesPath  = flag.String("rules", cfg.Paths.RulesPath, "rule file (JSON or YAML)")
		schemasDir = flag.String("schemas", cfg.Paths.SchemasDir, "schema directory")
		prompt     = flag.String("prompt", cfg.Paths.PromptTemplate, "prompt template file (optional)")
		events     = flag.String("events", cfg.Events.File, "append error events as JSON lines to this file (optional)")
		storeDrv   = flag.String("store", cfg.Store.Driver, "result store: sqlite, postgres or none")
		docWorkers = flag.Int("workers", cfg.Pipeline.DocWorkers, "documents processed concurrently")
		hidden     = flag.Bool("hidden", false, "include hidden files and directories")
	)
	flag.Parse()

	if *input == "" {
		printError("Error: --in is required\n")
		flag.Usage()
		os.Exit(1)
	}
	cfg.Paths.OutputDir = *out
	cfg.Paths.RulesPath = *rulesPath
	cfg.Paths.SchemasDir = *schemasDir
	cfg.Paths.PromptTemplate = *prompt
	cfg.Events.File = *events
	cfg.Store.Driver = *storeDrv
	cfg.Pipeline.DocWorkers = *docWorkers

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: app.ParseLevel(cfg.Events.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(2)
	}
	defer a.Close()

	targets, stats, err := ingest.Discover(*input, !*hidden)
	if err != nil {
		logger.Error("failed to discover inputs", "in", *input, "error", err)
		os.Exit(1)
	}
	logger.Info("discovery complete", "in", *input, "scanned", stats.Scanned, "matched", stats.Matched, "failed", stats.Failed)

	inputs := ingest.Inputs(targets, a.PDF)
	if len(inputs) == 0 {
		logger.Warn("no documents found", "in", *input)
		return
	}

	start := time.Now()
	docs := a.Runner.RunAll(ctx, inputs)

	records, failed := 0, 0
	for _, d := range docs {
		records += len(d.Results)
		failed += d.Failed
	}
	logger.Info("batch complete",
		"documents", len(inputs),
		"succeeded", len(docs),
		"records", records,
		"failed_records", failed,
		"out", cfg.Paths.OutputDir,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if len(docs) < len(inputs) {
		// documents that failed to read are already logged at document scope
		a.Close()
		stop()
		os.Exit(3)
	}
}
