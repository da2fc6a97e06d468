package models

import "time"

// Document represents an uploaded PDF and the state of its ingestion run.
type Document struct {
	ID           string     `bson:"_id" json:"id"`
	Filename     string     `bson:"filename" json:"filename"`
	UploadedAt   time.Time  `bson:"uploaded_at" json:"uploaded_at"`
	PageCount    int        `bson:"page_count" json:"page_count"`
	ChunkCount   int        `bson:"chunk_count" json:"chunk_count"`
	SizeBytes    int64      `bson:"size_bytes" json:"size_bytes"`
	FilePath     string     `bson:"file_path,omitempty" json:"-"`
	Status       string     `bson:"status" json:"status"`
	ErrorMessage string     `bson:"error_message,omitempty" json:"error_message,omitempty"`
	ProcessedAt  *time.Time `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
}

// Ingestion status constants
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// PageText is the text extracted from a single PDF page, in reading order.
type PageText struct {
	PageNumber int
	Text       string
}

// ChunkDraft is a passage produced by the chunker before embedding.
// SequenceIndex is monotonically increasing per document and defines
// reading order across pages.
type ChunkDraft struct {
	PageNumber    int
	SequenceIndex int
	Text          string
}

// Chunk is the atomic unit of retrieval: a bounded passage with its
// embedding vector. Immutable after ingestion.
type Chunk struct {
	ID            string    `bson:"_id" json:"id"`
	DocumentID    string    `bson:"document_id" json:"document_id"`
	PageNumber    int       `bson:"page_number" json:"page_number"`
	SequenceIndex int       `bson:"sequence_index" json:"sequence_index"`
	Text          string    `bson:"text,omitempty" json:"text"`
	Compressed    []byte    `bson:"compressed,omitempty" json:"-"`
	Compression   string    `bson:"compression,omitempty" json:"-"`
	Embedding     []float32 `bson:"embedding" json:"-"`
}

// RetrievalResult pairs a chunk with its cosine similarity to the query.
// Scores lie in [-1, 1]. Not persisted.
type RetrievalResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// UploadResponse is returned after a document upload is accepted.
type UploadResponse struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	Status     string `json:"status"`
	PageCount  int    `json:"page_count,omitempty"`
	ChunkCount int    `json:"chunk_count,omitempty"`
	Message    string `json:"message"`
	TaskID     string `json:"task_id,omitempty"`
}
