package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/RichardoC/newsdigest/internal/config"
	"github.com/RichardoC/newsdigest/internal/db"
	"github.com/RichardoC/newsdigest/internal/llm"
	"github.com/RichardoC/newsdigest/internal/news"
	"github.com/RichardoC/newsdigest/internal/tools"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Summarizes one topic from the command line:
//
//	go run . bitcoin
func main() {
	// Initialize zap logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: newsdigest <topic>")
		os.Exit(2)
	}
	topic := strings.Join(os.Args[1:], " ")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	database, err := db.New(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer database.Close()

	registry := tools.NewRegistry(logger, nil)
	registry.MustRegister(tools.NewNewsTool(news.New(news.Options{
		BaseURL:    cfg.NewsAPIBaseURL,
		APIKey:     cfg.NewsAPIKey,
		PageSize:   cfg.NewsPageSize,
		Lookback:   cfg.NewsLookback,
		Timeout:    cfg.NewsTimeout,
		RetryCount: cfg.NewsRetryCount,
		Logger:     logger,
	}), logger))

	svc, err := llm.New(llm.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL), database, registry, llm.Options{
		Model:                 cfg.OpenAIModel,
		AssistantName:         cfg.AssistantName,
		AssistantInstructions: cfg.AssistantInstructions,
		RunInstructions:       cfg.RunInstructions,
		PollInterval:          cfg.PollInterval,
		RunTimeout:            cfg.RunTimeout,
		Logger:                logger,
	})
	if err != nil {
		logger.Fatal("failed to initialize LLM service", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	digest, err := svc.Summarize(ctx, uuid.NewString(), topic)
	if err != nil {
		logger.Error("failed to summarize news", zap.String("topic", topic), zap.Error(err))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(digest.Summary)
	fmt.Println()
	fmt.Println("Run steps:")
	for i, step := range digest.Steps {
		line := fmt.Sprintf("%d. %s (%s)", i+1, step.Type, step.Status)
		if len(step.ToolCalls) > 0 {
			line += ": " + strings.Join(step.ToolCalls, ", ")
		}
		fmt.Println(line)
	}
}
