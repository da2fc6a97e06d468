package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port        string
	GinMode     string
	CORSOrigins []string

	// MongoDB
	MongoURI string
	DBName   string

	// Redis (rate limiting, embedding cache, asynq)
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Upload handling
	MaxFileSize         int64
	AllowedTypes        []string
	FileStorageDir      string
	SyncProcessingLimit int64

	// Chunking
	ChunkSize    int
	ChunkOverlap int

	// Retrieval and generation
	RetrievalTopK   int
	HistoryLimit    int
	MaxOutputTokens int
	Temperature     float64

	// Sessions
	SessionListLimit int

	// Model backends
	AIProvider          string // "ollama" (default) or "google"
	OllamaURL           string
	OllamaEmbedModel    string
	OllamaGenerateModel string
	EmbedTimeout        time.Duration
	GenerateTimeout     time.Duration

	GeminiAPIKey          string
	GoogleEmbeddingsModel string
	GoogleGenerationModel string

	// Rate limiting
	RateLimitReqs   int
	RateLimitWindow int

	// Index maintenance
	IndexRefreshInterval time.Duration

	// Tracing
	TracingEnabled bool
	OTLPEndpoint   string
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		GinMode:     getEnv("GIN_MODE", "debug"),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),

		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017/docuchat"),
		DBName:   getEnv("DB_NAME", "docuchat"),

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MaxFileSize:         getEnvInt64("MAX_FILE_SIZE", 52428800), // 50MB
		AllowedTypes:        strings.Split(getEnv("ALLOWED_FILE_TYPES", "application/pdf"), ","),
		FileStorageDir:      getEnv("FILE_STORAGE_DIR", "./storage"),
		SyncProcessingLimit: getEnvInt64("SYNC_PROCESSING_LIMIT", 10485760), // 10MB sync ingestion limit

		ChunkSize:    getEnvInt("CHUNK_SIZE", 1000),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 200),

		RetrievalTopK:   getEnvInt("RETRIEVAL_TOP_K", 3),
		HistoryLimit:    getEnvInt("HISTORY_LIMIT", 10),
		MaxOutputTokens: getEnvInt("MAX_OUTPUT_TOKENS", 2048),
		Temperature:     getEnvFloat64("TEMPERATURE", 0.7),

		SessionListLimit: getEnvInt("SESSION_LIST_LIMIT", 100),

		AIProvider:          getEnv("AI_PROVIDER", "ollama"),
		OllamaURL:           getEnv("OLLAMA_URL", "http://localhost:11434"),
		OllamaEmbedModel:    getEnv("OLLAMA_EMBED_MODEL", "nomic-embed-text"),
		OllamaGenerateModel: getEnv("OLLAMA_GENERATE_MODEL", "tinyllama:1.1b"),
		EmbedTimeout:        time.Duration(getEnvInt("EMBED_TIMEOUT_SECONDS", 30)) * time.Second,
		GenerateTimeout:     time.Duration(getEnvInt("GENERATE_TIMEOUT_SECONDS", 60)) * time.Second,

		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
		GoogleEmbeddingsModel: getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),
		GoogleGenerationModel: getEnv("GOOGLE_GENERATION_MODEL", "gemini-2.0-flash"),

		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),

		IndexRefreshInterval: time.Duration(getEnvInt("INDEX_REFRESH_SECONDS", 30)) * time.Second,

		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", "localhost:4317"),
	}

	// Validate required fields
	switch cfg.AIProvider {
	case "ollama":
		// Local Ollama daemon needs no credentials.
	case "google":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required when AI_PROVIDER=google - set it in .env file")
		}
	default:
		return nil, fmt.Errorf("unknown AI_PROVIDER: %s", cfg.AIProvider)
	}

	if cfg.ChunkSize <= 0 || cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("CHUNK_OVERLAP must satisfy 0 <= overlap < CHUNK_SIZE (got %d/%d)", cfg.ChunkOverlap, cfg.ChunkSize)
	}
	if cfg.RetrievalTopK <= 0 {
		return nil, fmt.Errorf("RETRIEVAL_TOP_K must be positive")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
