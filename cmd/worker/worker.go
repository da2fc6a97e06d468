package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"docuchat-backend/internal/ai"
	"docuchat-backend/internal/config"
	"docuchat-backend/internal/logger"
	"docuchat-backend/internal/queue"
	"docuchat-backend/internal/telemetry"
	"docuchat-backend/services"
)

// Worker process: consumes queued ingestion tasks so large uploads do not
// hold an HTTP connection open for minutes.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	logger.InitLogger(cfg)
	logger.Info("starting ingestion worker", "provider", cfg.AIProvider)

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		logger.Error("failed to initialize metrics", "error", err)
		os.Exit(1)
	}

	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		logger.Error("failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx)
	}()
	db := mongoClient.Database(cfg.DBName)

	embedder, _, err := ai.NewClients(cfg)
	if err != nil {
		logger.Error("failed to initialize AI clients", "error", err)
		os.Exit(1)
	}

	chunker, err := services.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		logger.Error("invalid chunking configuration", "error", err)
		os.Exit(1)
	}

	index := services.NewVectorIndex()
	loader := services.NewDocumentLoader()
	ingestion := services.NewIngestionService(db, loader, chunker, embedder, index, metrics)

	// The worker keeps its own index only to validate dimensionality while
	// ingesting; the API server picks new chunks up via its refresh loop.
	rebuildCtx, cancelRebuild := context.WithTimeout(context.Background(), 5*time.Minute)
	if err := ingestion.RebuildIndex(rebuildCtx); err != nil {
		cancelRebuild()
		logger.Error("failed to rebuild vector index", "error", err)
		os.Exit(1)
	}
	cancelRebuild()

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				"ingestion": 10,
				"default":   1,
			},
		},
	)

	processor := queue.NewProcessor(ingestion)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskIngestPDF, processor.HandleIngestPDF)

	logger.Info("worker listening for tasks", "queue", "ingestion")
	if err := srv.Run(mux); err != nil {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
}
