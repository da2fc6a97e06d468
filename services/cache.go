package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"docuchat-backend/internal/logger"
)

// EmbeddingCache caches query embeddings in Redis keyed by model and text
// hash. Repeated questions skip the embedding backend entirely. A nil Redis
// client disables the cache; every method becomes a no-op miss.
type EmbeddingCache struct {
	client *redis.Client
	model  string
	ttl    time.Duration
}

func NewEmbeddingCache(client *redis.Client, model string) *EmbeddingCache {
	return &EmbeddingCache{
		client: client,
		model:  model,
		ttl:    1 * time.Hour,
	}
}

func (ec *EmbeddingCache) key(text string) string {
	sum := sha256.Sum256([]byte(ec.model + "\x00" + text))
	return "embed:" + hex.EncodeToString(sum[:])
}

// Get returns the cached vector for text, or (nil, false) on any miss or
// error. Cache failures are logged, never surfaced.
func (ec *EmbeddingCache) Get(ctx context.Context, text string) ([]float32, bool) {
	if ec == nil || ec.client == nil {
		return nil, false
	}

	raw, err := ec.client.Get(ctx, ec.key(text)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Debug("embedding cache get failed", "error", err)
		}
		return nil, false
	}

	var vector []float32
	if err := json.Unmarshal(raw, &vector); err != nil {
		logger.Warn("embedding cache entry corrupted", "error", err)
		return nil, false
	}
	return vector, true
}

// Set stores a vector best-effort.
func (ec *EmbeddingCache) Set(ctx context.Context, text string, vector []float32) {
	if ec == nil || ec.client == nil {
		return
	}

	raw, err := json.Marshal(vector)
	if err != nil {
		return
	}
	if err := ec.client.Set(ctx, ec.key(text), raw, ec.ttl).Err(); err != nil {
		logger.Debug("embedding cache set failed", "error", err)
	}
}
