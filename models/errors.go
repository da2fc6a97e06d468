package models

import "errors"

// Domain error taxonomy. Input errors are reported immediately and never
// retried; consistency errors are reported and never coerced.
var (
	// Input errors
	ErrUnreadablePDF      = errors.New("unreadable pdf")
	ErrInvalidChunkConfig = errors.New("invalid chunk configuration")
	ErrEmptyQuestion      = errors.New("question is empty")
	ErrSessionNotFound    = errors.New("session not found")
	ErrDocumentNotFound   = errors.New("document not found")

	// Consistency errors
	ErrDimensionMismatch   = errors.New("embedding dimension mismatch")
	ErrEmptyIndex          = errors.New("vector index is empty")
	ErrTranscriptCorrupted = errors.New("session transcript ordering corrupted")

	// Dependency failures surfaced by the pipeline
	ErrRetrievalFailed  = errors.New("retrieval failed")
	ErrGenerationFailed = errors.New("generation failed")

	// The answer was generated but could not be persisted. The caller still
	// receives the answer; the failure must be reported alongside it.
	ErrRecordFailed = errors.New("failed to record chat turn")
)
