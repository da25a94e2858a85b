// Package main provides the CLI entry point for rlmd, the recursive
// language-model pipeline daemon.
//
// # Basic Usage
//
// Start the server:
//
//	rlmd serve --config rlmd.yaml
//
// Replay a run trace:
//
//	rlmd replay --run-id <id> [--trace-dir var/rlm_traces]
//
// # Environment Variables
//
//   - DATABASE_URL: Postgres DSN; without it runs are kept in memory only
//   - REDIS_URL: Redis URL for the glimpse cache (optional)
//   - RLM_LISTEN_ADDR: HTTP listen address (default :8080)
//   - RLM_ROOTLM_BACKEND: default decision backend, "mock" or "vllm"
//   - VLLM_BASE_URL, VLLM_MODEL, VLLM_API_KEY: vllm backend settings
//   - RLM_TRACE_DIR: JSONL trace directory (default var/rlm_traces)
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/rlmd/internal/config"
	"github.com/haasonsaas/rlmd/internal/executor"
	"github.com/haasonsaas/rlmd/internal/glimpse"
	"github.com/haasonsaas/rlmd/internal/observability"
	"github.com/haasonsaas/rlmd/internal/orchestrator"
	"github.com/haasonsaas/rlmd/internal/retrieval"
	"github.com/haasonsaas/rlmd/internal/storage"
	"github.com/haasonsaas/rlmd/internal/trace"
	"github.com/haasonsaas/rlmd/internal/web"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "rlmd",
		Short:        "rlmd - recursive language-model pipeline daemon",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd(), buildReplayCmd(), buildVersionCmd())
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var configPath string
	var memoryOnly bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if memoryOnly {
				cfg.DatabaseURL = ""
			}
			return serve(cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to YAML config file")
	cmd.Flags().BoolVar(&memoryOnly, "memory", false, "Use the in-memory store even when DATABASE_URL is set")
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rlmd %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func serve(cfg *config.Config) error {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	metrics := observability.NewMetrics(nil)
	ctx := context.Background()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	cache := openCache(ctx, cfg, logger)

	pipeline := executor.NewPipeline(store, cache, nil, logger, metrics)
	retrievalSvc := retrieval.NewService(store, logger)
	traceLogger := trace.NewLogger(cfg.TraceDir, logger)
	orch := orchestrator.New(store, retrievalSvc, pipeline, cfg, traceLogger, logger, metrics)
	server := web.NewServer(orch, logger, metrics)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(cfg.ListenAddr) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info(ctx, "shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// openStore connects to Postgres when DATABASE_URL is set; otherwise runs
// are kept in an in-memory store that vanishes on restart.
func openStore(ctx context.Context, cfg *config.Config, logger *observability.Logger) (storage.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn(ctx, "no database configured, using in-memory store")
		return storage.NewMemoryStore(), nil
	}

	store, err := storage.NewPostgresStore(cfg.DatabaseURL, storage.DefaultPostgresConfig())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.EnsureSchema(ctx, store.DB()); err != nil {
		_ = store.Close()
		return nil, err
	}
	logger.Info(ctx, "connected to database")
	return store, nil
}

// openCache connects the Redis glimpse cache when REDIS_URL is set. Cache
// failures are non-fatal: the executor degrades to uncached extraction.
func openCache(ctx context.Context, cfg *config.Config, logger *observability.Logger) glimpse.Cache {
	if cfg.RedisURL == "" {
		return glimpse.NopCache{}
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn(ctx, "invalid redis url, glimpse cache disabled", "error", err)
		return glimpse.NopCache{}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn(ctx, "redis unreachable, glimpse cache disabled", "error", err)
		return glimpse.NopCache{}
	}
	logger.Info(ctx, "connected to redis glimpse cache", "ttl_sec", cfg.GlimpseTTLSec)
	return glimpse.NewRedisCache(client, cfg.GlimpseTTLSec, logger)
}

func buildReplayCmd() *cobra.Command {
	var runID string
	var traceDir string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a run's JSONL trace as a timeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			if runID == "" {
				return fmt.Errorf("--run-id is required")
			}
			if traceDir == "" {
				traceDir = config.FromEnv().TraceDir
			}
			lines, err := trace.ReadFile(traceDir, runID)
			if err != nil {
				return fmt.Errorf("read trace: %w", err)
			}
			return trace.Replay(cmd.OutOrStdout(), lines)
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "Run id to replay")
	cmd.Flags().StringVar(&traceDir, "trace-dir", "", "Trace directory (default from config)")
	return cmd
}
