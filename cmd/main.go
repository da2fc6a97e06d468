package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"docuchat-backend/internal/ai"
	"docuchat-backend/internal/config"
	"docuchat-backend/internal/logger"
	"docuchat-backend/internal/telemetry"
	"docuchat-backend/middleware"
	"docuchat-backend/routes"
	"docuchat-backend/services"
)

type healthChecker interface {
	Health(ctx context.Context) error
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	logger.InitLogger(cfg)
	logger.Info("starting docuchat backend", "port", cfg.Port, "provider", cfg.AIProvider)

	var shutdownTracer func()
	if cfg.TracingEnabled {
		shutdownTracer, err = telemetry.InitTracer("docuchat-backend", cfg.OTLPEndpoint)
		if err != nil {
			logger.Error("failed to initialize tracer", "error", err)
			os.Exit(1)
		}
		defer shutdownTracer()
	}

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
	logger.Info("connected to MongoDB", "database", cfg.DBName)

	// Redis backs rate limiting, the embedding cache and the task queue.
	// The server still runs without it, losing those three features.
	var redisClient *redis.Client
	var queueClient *asynq.Client
	if rc, err := config.NewRedisClient(cfg); err != nil {
		logger.Warn("Redis unavailable, running without cache, rate limiting and async ingestion", "error", err)
	} else {
		redisClient = rc
		defer redisClient.Close()
		queueClient = asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer queueClient.Close()
		logger.Info("connected to Redis")
	}

	embedder, generator, err := ai.NewClients(cfg)
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
	embedModel := cfg.OllamaEmbedModel
	if cfg.AIProvider == "google" {
		embedModel = cfg.GoogleEmbeddingsModel
	}
	cache := services.NewEmbeddingCache(redisClient, embedModel)

	ingestion := services.NewIngestionService(db, loader, chunker, embedder, index, metrics)
	retriever := services.NewRetriever(embedder, index, cache, metrics)
	store := services.NewMongoConversationStore(db)
	rag := services.NewRagOrchestrator(cfg, retriever, generator, store, metrics)
	export := services.NewExportService(store)

	// Restore the index from stored chunks before serving traffic.
	rebuildCtx, cancelRebuild := context.WithTimeout(context.Background(), 5*time.Minute)
	if err := ingestion.RebuildIndex(rebuildCtx); err != nil {
		cancelRebuild()
		logger.Error("failed to rebuild vector index", "error", err)
		os.Exit(1)
	}
	cancelRebuild()

	// Fold in documents the worker finishes while we run.
	refreshCtx, cancelRefresh := context.WithCancel(context.Background())
	defer cancelRefresh()
	go refreshLoop(refreshCtx, ingestion, cfg.IndexRefreshInterval)

	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	if cfg.TracingEnabled {
		router.Use(middleware.Tracing("docuchat-backend"))
		router.Use(middleware.EnrichTrace())
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Disposition", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(middleware.RateLimit(redisClient, cfg.RateLimitReqs, time.Duration(cfg.RateLimitWindow)*time.Second))

	router.GET("/health", healthHandler(cfg, mongoClient, redisClient, embedder, index))

	api := router.Group("/api/v1")
	routes.NewDocumentHandler(cfg, ingestion, queueClient).RegisterRoutes(api)
	routes.NewChatHandler(cfg, rag, store, export).RegisterRoutes(api)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err)
	}
	logger.Info("server stopped")
}

func refreshLoop(ctx context.Context, ingestion *services.IngestionService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ingestion.RefreshIndex(ctx); err != nil {
				logger.Warn("index refresh failed", "error", err)
			}
		}
	}
}

func healthHandler(cfg *config.Config, mongoClient *mongo.Client, redisClient *redis.Client, embedder ai.EmbeddingClient, index *services.VectorIndex) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}
		healthy := true

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		if err := mongoClient.Ping(ctx, nil); err != nil {
			checks["mongodb"] = "unreachable: " + err.Error()
			healthy = false
		} else {
			checks["mongodb"] = "ok"
		}

		if redisClient == nil {
			checks["redis"] = "disabled"
		} else if err := redisClient.Ping(ctx).Err(); err != nil {
			checks["redis"] = "unreachable: " + err.Error()
		} else {
			checks["redis"] = "ok"
		}

		if hc, ok := embedder.(healthChecker); ok {
			if err := hc.Health(ctx); err != nil {
				checks["models"] = err.Error()
				healthy = false
			} else {
				checks["models"] = "ok"
			}
		}

		checks["index_chunks"] = index.Len()
		checks["provider"] = cfg.AIProvider

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"status": map[bool]string{true: "healthy", false: "degraded"}[healthy],
			"checks": checks,
			"time":   time.Now().UTC(),
		})
	}
}
