package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/statement-extractor/internal/app"
	"github.com/joseph-ayodele/statement-extractor/internal/async"
	"github.com/joseph-ayodele/statement-extractor/internal/common"
	"github.com/joseph-ayodele/statement-extractor/internal/ingest"
	"github.com/joseph-ayodele/statement-extractor/internal/pipeline"
	"github.com/joseph-ayodele/statement-extractor/internal/server"
)

func main() {
	cfg := common.LoadConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: app.ParseLevel(cfg.Events.LogLevel),
	}))
	slog.SetDefault(logger)

	addr := cfg.Server.GRPCAddr
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(2)
	}
	defer a.Close()

	if a.Store != nil {
		if err := a.Store.HealthCheck(ctx, 5*time.Second); err != nil {
			logger.Error("failed to ping store", "error", err)
			a.Close()
			os.Exit(1)
		}
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", addr, "error", err)
		a.Close()
		os.Exit(1)
	}
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(server.RequestIDInterceptor(logger)))

	var docs server.DocumentStore
	if a.Store != nil {
		docs = a.Store
	}
	server.RegisterExtractionServer(grpcServer, server.NewExtractionService(a.Runner, docs, logger))

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(server.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	// Reflection for grpcurl
	reflection.Register(grpcServer)

	queue := async.NewDocumentQueue(a.Runner, logger,
		async.WithWorkers(cfg.Pipeline.DocWorkers),
		async.WithQueueSize(cfg.Pipeline.QueueSize),
		async.WithProcessTimeout(cfg.Pipeline.DocTimeout),
	)
	if cfg.Paths.InboxDir != "" {
		if err := watchInbox(ctx, cfg.Paths.InboxDir, a, queue, logger); err != nil {
			logger.Error("failed to watch inbox", "dir", cfg.Paths.InboxDir, "error", err)
			a.Close()
			os.Exit(1)
		}
	}

	logger.Info("soad listening", "addr", addr, "inbox", cfg.Paths.InboxDir)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC serve error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	healthServer.Shutdown()
	grpcServer.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	queue.Shutdown(shutdownCtx)
}

// watchInbox queues every PDF that lands in dir, including those already there.
func watchInbox(ctx context.Context, dir string, a *app.App, queue async.Queue, logger *slog.Logger) error {
	paths, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
		Roots:       []string{dir},
		InitialScan: true,
		Debounce:    500 * time.Millisecond,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	go func() {
		for err := range errs {
			logger.Warn("inbox watcher error", "error", err)
		}
	}()
	go func() {
		for p := range paths {
			job := async.Job{
				Input:   pipeline.Input{Name: filepath.Base(p), Key: p, Source: a.PDF},
				TraceID: uuid.NewString(),
			}
			if err := queue.Enqueue(ctx, job); err != nil {
				logger.Warn("inbox enqueue failed", "path", p, "error", err)
			}
		}
	}()
	return nil
}
