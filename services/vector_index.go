package services

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"docuchat-backend/models"
)

// VectorIndex is an in-memory cosine-similarity index over chunk embeddings.
// The dimensionality is fixed by the first insert; all later vectors must
// match. Safe for concurrent use.
type VectorIndex struct {
	mu     sync.RWMutex
	dims   int
	chunks []indexEntry
	byID   map[string]int
}

type indexEntry struct {
	chunk models.Chunk
	norm  float64
}

func NewVectorIndex() *VectorIndex {
	return &VectorIndex{
		byID: make(map[string]int),
	}
}

// Add inserts or replaces chunks by ID. A vector whose dimensionality
// disagrees with the index is rejected and nothing from the batch before it
// is rolled back, so callers should treat a failure as a partial insert.
func (vi *VectorIndex) Add(chunks []models.Chunk) error {
	vi.mu.Lock()
	defer vi.mu.Unlock()

	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			return fmt.Errorf("%w: chunk %s has no embedding", models.ErrDimensionMismatch, chunk.ID)
		}
		if vi.dims == 0 {
			vi.dims = len(chunk.Embedding)
		}
		if len(chunk.Embedding) != vi.dims {
			return fmt.Errorf("%w: chunk %s has %d dimensions, index has %d",
				models.ErrDimensionMismatch, chunk.ID, len(chunk.Embedding), vi.dims)
		}

		entry := indexEntry{chunk: chunk, norm: vectorNorm(chunk.Embedding)}
		if pos, ok := vi.byID[chunk.ID]; ok {
			vi.chunks[pos] = entry
		} else {
			vi.byID[chunk.ID] = len(vi.chunks)
			vi.chunks = append(vi.chunks, entry)
		}
	}

	return nil
}

// Search returns up to k chunks ranked by cosine similarity, highest first,
// ties broken by ascending chunk ID. A non-empty documentID restricts the
// search to that document's chunks.
func (vi *VectorIndex) Search(query []float32, k int, documentID string) ([]models.RetrievalResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("top-k must be positive, got %d", k)
	}

	vi.mu.RLock()
	defer vi.mu.RUnlock()

	if len(vi.chunks) == 0 {
		return nil, models.ErrEmptyIndex
	}
	if len(query) != vi.dims {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d",
			models.ErrDimensionMismatch, len(query), vi.dims)
	}

	queryNorm := vectorNorm(query)
	if queryNorm == 0 {
		return nil, fmt.Errorf("%w: query vector has zero magnitude", models.ErrDimensionMismatch)
	}

	results := make([]models.RetrievalResult, 0, len(vi.chunks))
	for _, entry := range vi.chunks {
		if documentID != "" && entry.chunk.DocumentID != documentID {
			continue
		}
		if entry.norm == 0 {
			continue
		}
		score := dotProduct(query, entry.chunk.Embedding) / (queryNorm * entry.norm)
		results = append(results, models.RetrievalResult{
			Chunk: entry.chunk,
			Score: score,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Remove drops every chunk belonging to the document and reports how many
// were removed. Dimensionality resets when the index empties so a fresh
// corpus can use a different embedding model.
func (vi *VectorIndex) Remove(documentID string) int {
	vi.mu.Lock()
	defer vi.mu.Unlock()

	kept := vi.chunks[:0]
	removed := 0
	for _, entry := range vi.chunks {
		if entry.chunk.DocumentID == documentID {
			removed++
			continue
		}
		kept = append(kept, entry)
	}

	if removed == 0 {
		return 0
	}

	vi.chunks = kept
	vi.byID = make(map[string]int, len(kept))
	for i, entry := range kept {
		vi.byID[entry.chunk.ID] = i
	}
	if len(vi.chunks) == 0 {
		vi.dims = 0
	}

	return removed
}

// Has reports whether a chunk ID is present.
func (vi *VectorIndex) Has(chunkID string) bool {
	vi.mu.RLock()
	defer vi.mu.RUnlock()
	_, ok := vi.byID[chunkID]
	return ok
}

func (vi *VectorIndex) Len() int {
	vi.mu.RLock()
	defer vi.mu.RUnlock()
	return len(vi.chunks)
}

func (vi *VectorIndex) Dimensions() int {
	vi.mu.RLock()
	defer vi.mu.RUnlock()
	return vi.dims
}

func dotProduct(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
