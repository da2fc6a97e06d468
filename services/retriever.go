package services

import (
	"context"
	"errors"
	"fmt"

	"docuchat-backend/internal/ai"
	"docuchat-backend/internal/logger"
	"docuchat-backend/internal/telemetry"
	"docuchat-backend/models"
)

// Retriever embeds a question and ranks the indexed chunks against it.
type Retriever struct {
	embedder ai.EmbeddingClient
	index    *VectorIndex
	cache    *EmbeddingCache
	metrics  *telemetry.Metrics
}

func NewRetriever(embedder ai.EmbeddingClient, index *VectorIndex, cache *EmbeddingCache, metrics *telemetry.Metrics) *Retriever {
	return &Retriever{
		embedder: embedder,
		index:    index,
		cache:    cache,
		metrics:  metrics,
	}
}

// Retrieve returns the top-k most similar chunks for the question,
// optionally restricted to one document. An empty index is reported as
// ErrEmptyIndex so the caller can fall back to a no-context prompt; every
// other failure wraps ErrRetrievalFailed.
func (r *Retriever) Retrieve(ctx context.Context, question string, k int, documentID string) ([]models.RetrievalResult, error) {
	if r.index.Len() == 0 {
		return nil, models.ErrEmptyIndex
	}

	query, err := r.embedQuery(ctx, question)
	if err != nil && ai.IsTransient(err) && ctx.Err() == nil {
		logger.Warn("transient embedding failure, retrying once", "error", err)
		query, err = r.embedQuery(ctx, question)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrRetrievalFailed, err)
	}

	results, err := r.index.Search(query, k, documentID)
	if err != nil {
		if errors.Is(err, models.ErrEmptyIndex) {
			return nil, models.ErrEmptyIndex
		}
		return nil, fmt.Errorf("%w: %v", models.ErrRetrievalFailed, err)
	}

	if r.metrics != nil {
		r.metrics.RecordRetrieval(len(results))
	}
	logger.Debug("retrieval complete", "question_chars", len(question), "results", len(results))
	return results, nil
}

func (r *Retriever) embedQuery(ctx context.Context, question string) ([]float32, error) {
	if vector, ok := r.cache.Get(ctx, question); ok {
		return vector, nil
	}

	vectors, err := r.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one input", len(vectors))
	}

	r.cache.Set(ctx, question, vectors[0])
	return vectors[0], nil
}
