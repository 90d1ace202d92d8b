package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RichardoC/newsdigest/internal/api"
	"github.com/RichardoC/newsdigest/internal/config"
	"github.com/RichardoC/newsdigest/internal/db"
	"github.com/RichardoC/newsdigest/internal/llm"
	"github.com/RichardoC/newsdigest/internal/metrics"
	"github.com/RichardoC/newsdigest/internal/news"
	"github.com/RichardoC/newsdigest/internal/tools"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const (
	purgeInterval   = 10 * time.Minute
	shutdownTimeout = 15 * time.Second
)

func main() {
	os.Exit(run())
}

// run wires the server and blocks until it stops. Returning, rather than
// exiting, lets the deferred cleanup run.
func run() int {
	cfg, err := config.Load()
	if err != nil {
		// The logger level comes from config, so fall back to defaults here.
		logger, _ := zap.NewProduction()
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	database, err := db.New(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("failed to initialize database",
			zap.Error(err),
			zap.String("dsn", cfg.DatabaseDSN))
	}
	defer database.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	newsClient := news.New(news.Options{
		BaseURL:    cfg.NewsAPIBaseURL,
		APIKey:     cfg.NewsAPIKey,
		PageSize:   cfg.NewsPageSize,
		Lookback:   cfg.NewsLookback,
		Timeout:    cfg.NewsTimeout,
		RetryCount: cfg.NewsRetryCount,
		Logger:     logger,
		Metrics:    m,
	})

	registry := tools.NewRegistry(logger, m)
	registry.MustRegister(tools.NewNewsTool(newsClient, logger))

	svc, err := llm.New(llm.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL), database, registry, llm.Options{
		Model:                 cfg.OpenAIModel,
		AssistantName:         cfg.AssistantName,
		AssistantInstructions: cfg.AssistantInstructions,
		RunInstructions:       cfg.RunInstructions,
		PollInterval:          cfg.PollInterval,
		RunTimeout:            cfg.RunTimeout,
		Logger:                logger,
		Metrics:               m,
	})
	if err != nil {
		logger.Fatal("failed to initialize LLM service", zap.Error(err))
	}

	// Set up routes
	mux := http.NewServeMux()
	api.NewHandler(svc, logger).Routes(mux)
	mux.Handle("/metrics", m.Handler())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go purgeSessions(ctx, database, cfg.SessionTTL, logger)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := serve(ctx, server, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		return 1
	}
	return 0
}

// serve runs server until ctx is done, then shuts it down. A listener
// failure is returned instead of exiting the process.
func serve(ctx context.Context, server *http.Server, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", zap.String("addr", server.Addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg.Level = lvl
	return cfg.Build()
}

// purgeSessions drops sessions idle for longer than ttl until ctx is done.
func purgeSessions(ctx context.Context, database *db.Database, ttl time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := database.PurgeExpired(ctx, time.Now().UTC().Add(-ttl))
			if err != nil {
				logger.Warn("failed to purge expired sessions", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("Purged expired sessions", zap.Int64("count", n))
			}
		}
	}
}
