// Supportd is a customer-support resolution daemon.
//
// It matches incoming support queries against an FAQ/SOP knowledge corpus,
// executes the matching runbook's diagnostic steps against the operational
// task store and downstream services, and escalates to a ticket when
// automated resolution fails.
//
// Usage:
//
//	# Start the server with defaults
//	supportd
//
//	# Start with a config file
//	supportd -config /etc/supportd/config.yaml
//
//	# Populate the task store with demo scenario rows
//	supportd seed
//
//	# Show version information
//	supportd version
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/opslinelabs/supportd/internal/config"
	"github.com/opslinelabs/supportd/internal/diagnostic"
	"github.com/opslinelabs/supportd/internal/embeddings"
	httpserver "github.com/opslinelabs/supportd/internal/http"
	"github.com/opslinelabs/supportd/internal/knowledge"
	"github.com/opslinelabs/supportd/internal/logging"
	"github.com/opslinelabs/supportd/internal/orchestrator"
	"github.com/opslinelabs/supportd/internal/remedy"
	"github.com/opslinelabs/supportd/internal/retrieval"
	"github.com/opslinelabs/supportd/internal/taskstore"
	"github.com/opslinelabs/supportd/internal/telemetry"
	"github.com/opslinelabs/supportd/internal/ticket"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		case "seed":
			if err := runSeed(*configPath); err != nil {
				log.Fatalf("Seed error: %v", err)
			}
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  supportd           Start the supportd daemon\n")
			fmt.Fprintf(os.Stderr, "  supportd seed      Populate the task store with demo rows\n")
			fmt.Fprintf(os.Stderr, "  supportd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("supportd by Opsline Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// runSeed populates the task store with the demo scenario rows.
func runSeed(configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := taskstore.Open(taskstore.Config{
		Path:    cfg.TaskStore.Path,
		Timeout: cfg.TaskStore.Timeout,
	}, zap.NewNop())
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Seed(context.Background()); err != nil {
		return err
	}
	fmt.Printf("Task store seeded at %s\n", cfg.TaskStore.Path)
	return nil
}

// run starts the supportd server and blocks until context cancellation.
//
// Initialization order:
//  1. Configuration
//  2. Telemetry and logger
//  3. Task store and knowledge corpus
//  4. Embeddings and retrieval engine
//  5. Diagnostic engine, ticket service, orchestrator
//  6. HTTP server
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, &cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		_ = tel.Shutdown(context.Background())
	}()

	logger, err := logging.New(&cfg.Logging, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger)
	}()

	logger.Info("Starting supportd",
		zap.Int("port", cfg.Server.Port),
		zap.Float64("retrieval_threshold", cfg.Retrieval.Threshold),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	// Task store.
	store, err := taskstore.Open(taskstore.Config{
		Path:    cfg.TaskStore.Path,
		Timeout: cfg.TaskStore.Timeout,
	}, logger.Named("taskstore"))
	if err != nil {
		return fmt.Errorf("failed to open task store: %w", err)
	}
	defer store.Close()

	// Knowledge corpus.
	corpus, err := knowledge.NewStaticStore(cfg.Knowledge.CorpusPath)
	if err != nil {
		return fmt.Errorf("failed to load knowledge corpus: %w", err)
	}

	// Embeddings and retrieval.
	embedder, err := embeddings.NewFastEmbedProvider(embeddings.FastEmbedConfig{
		Model:    cfg.Embedding.Model,
		CacheDir: cfg.Embedding.CacheDir,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize embedding model: %w", err)
	}
	defer embedder.Close()

	retriever, err := retrieval.NewEngine(retrieval.Config{
		Threshold: cfg.Retrieval.Threshold,
		Timeout:   cfg.Retrieval.Timeout,
	}, corpus, embedder, logger.Named("retrieval"))
	if err != nil {
		return fmt.Errorf("failed to create retrieval engine: %w", err)
	}
	if err := retriever.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to build knowledge index: %w", err)
	}

	// Diagnosis and escalation.
	caller := remedy.NewClient(remedy.Config{Timeout: cfg.Remedy.Timeout}, logger.Named("remedy"))
	diagnoser, err := diagnostic.NewEngine(diagnostic.Config{
		MaxRetries:   cfg.Remedy.MaxRetries,
		RetryBackoff: cfg.Remedy.RetryBackoff,
	}, store, caller, logger.Named("diagnostic"))
	if err != nil {
		return fmt.Errorf("failed to create diagnostic engine: %w", err)
	}

	ticketStore, err := ticket.NewSQLStore(store.DB())
	if err != nil {
		return fmt.Errorf("failed to create ticket store: %w", err)
	}
	ticketSvc, err := ticket.NewService(ticketStore, logger.Named("ticket"))
	if err != nil {
		return fmt.Errorf("failed to create ticket service: %w", err)
	}

	resolver, err := orchestrator.NewService(retriever, diagnoser, ticketSvc, logger.Named("orchestrator"))
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	// HTTP server.
	srv, err := httpserver.NewServer(resolver, corpus, logger.Named("http"), &httpserver.Config{
		Host: "0.0.0.0",
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}
	srv.Echo().GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	logger.Info("Server configured",
		zap.String("resolve_endpoint", "/api/v1/resolve"),
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("metrics_endpoint", "/metrics"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
