package models

import "time"

// Session is a persistent conversation thread. Sessions are never deleted
// in normal operation; clearing a session removes its messages only.
type Session struct {
	ID         string    `bson:"_id" json:"id"`
	Title      string    `bson:"title,omitempty" json:"title,omitempty"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at" json:"updated_at"`
	MessageSeq int64     `bson:"message_seq" json:"-"`
}

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one append-only transcript entry. Transcript order is
// (created_at, seq); seq is assigned from the session counter and breaks
// timestamp ties.
type Message struct {
	ID            string    `bson:"_id" json:"id"`
	SessionID     string    `bson:"session_id" json:"session_id"`
	Seq           int64     `bson:"seq" json:"seq"`
	Role          string    `bson:"role" json:"role"`
	Content       string    `bson:"content" json:"content"`
	CitedChunkIDs []string  `bson:"cited_chunk_ids,omitempty" json:"cited_chunk_ids,omitempty"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
}

// ChatRequest is the query interface payload.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message" binding:"required,min=1,max=4000"`
}

// AnswerResult is the outcome of one chat turn.
type AnswerResult struct {
	Answer      string  `json:"answer"`
	CitedChunks []Chunk `json:"cited_chunks,omitempty"`
	SessionID   string  `json:"session_id"`
}

// ChatResponse is the HTTP shape of an AnswerResult with source attribution.
type ChatResponse struct {
	Answer    string    `json:"answer"`
	Sources   []Source  `json:"sources,omitempty"`
	SessionID string    `json:"session_id"`
	LatencyMs int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// Source is a citation entry shown to the user.
type Source struct {
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	PageNumber int    `json:"page_number"`
	Snippet    string `json:"snippet,omitempty"`
}
