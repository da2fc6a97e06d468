package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"docuchat-backend/internal/ai"
	"docuchat-backend/internal/logger"
	"docuchat-backend/internal/telemetry"
	"docuchat-backend/models"
	"docuchat-backend/utils"
)

// embedBatchSize bounds how many chunk texts go to the embedding backend in
// one call, keeping request payloads reasonable for large documents.
const embedBatchSize = 32

// compressionThreshold: chunk text is stored compressed only when gzip
// actually saves space.
const compressionThreshold = 0.9

// IngestionService runs the document pipeline: extract pages, chunk, embed,
// persist, index. It also owns index rebuild and refresh so the API server
// and the worker process converge on the same view of the corpus.
type IngestionService struct {
	db       *mongo.Database
	loader   *DocumentLoader
	chunker  *Chunker
	embedder ai.EmbeddingClient
	index    *VectorIndex
	metrics  *telemetry.Metrics

	startedAt time.Time
}

func NewIngestionService(db *mongo.Database, loader *DocumentLoader, chunker *Chunker, embedder ai.EmbeddingClient, index *VectorIndex, metrics *telemetry.Metrics) *IngestionService {
	return &IngestionService{
		db:        db,
		loader:    loader,
		chunker:   chunker,
		embedder:  embedder,
		index:     index,
		metrics:   metrics,
		startedAt: time.Now(),
	}
}

func (is *IngestionService) documents() *mongo.Collection {
	return is.db.Collection("documents")
}

func (is *IngestionService) chunks() *mongo.Collection {
	return is.db.Collection("chunks")
}

// IngestPDF runs the full pipeline synchronously and returns the completed
// document record. Nothing is indexed until every chunk has an embedding, so
// a failed document contributes zero chunks to retrieval.
func (is *IngestionService) IngestPDF(ctx context.Context, filename string, data []byte) (*models.Document, error) {
	tracer := otel.Tracer("ingestion-service")
	ctx, span := tracer.Start(ctx, "ingestion.ingest_pdf")
	defer span.End()
	span.SetAttributes(
		attribute.String("document.filename", filename),
		attribute.Int("document.size_bytes", len(data)),
	)

	start := time.Now()

	doc := &models.Document{
		ID:         uuid.New().String(),
		Filename:   filename,
		UploadedAt: start,
		SizeBytes:  int64(len(data)),
		Status:     models.StatusProcessing,
	}
	if _, err := is.documents().InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to record document: %w", err)
	}

	chunks, pageCount, err := is.process(ctx, doc.ID, data)
	if err != nil {
		is.markFailed(ctx, doc.ID, err)
		if is.metrics != nil {
			is.metrics.RecordIngestion(time.Since(start).Seconds(), "failed")
		}
		return nil, err
	}

	now := time.Now()
	update := bson.M{"$set": bson.M{
		"status":       models.StatusCompleted,
		"page_count":   pageCount,
		"chunk_count":  len(chunks),
		"processed_at": now,
	}}
	if _, err := is.documents().UpdateOne(ctx, bson.M{"_id": doc.ID}, update); err != nil {
		return nil, fmt.Errorf("failed to finalize document: %w", err)
	}

	doc.Status = models.StatusCompleted
	doc.PageCount = pageCount
	doc.ChunkCount = len(chunks)
	doc.ProcessedAt = &now

	if is.metrics != nil {
		is.metrics.RecordIngestion(time.Since(start).Seconds(), "completed")
	}
	logger.Info("document ingested",
		"document_id", doc.ID,
		"filename", filename,
		"pages", pageCount,
		"chunks", len(chunks),
		"duration_ms", time.Since(start).Milliseconds())

	return doc, nil
}

// ProcessStored is the async path: the upload handler has already created a
// pending document record and saved the file; the worker picks it up here.
func (is *IngestionService) ProcessStored(ctx context.Context, documentID, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		wrapped := fmt.Errorf("failed to read stored file: %w", err)
		is.markFailed(ctx, documentID, wrapped)
		return wrapped
	}

	if _, err := is.documents().UpdateOne(ctx,
		bson.M{"_id": documentID},
		bson.M{"$set": bson.M{"status": models.StatusProcessing}},
	); err != nil {
		return fmt.Errorf("failed to mark document processing: %w", err)
	}

	start := time.Now()
	chunks, pageCount, err := is.process(ctx, documentID, data)
	if err != nil {
		is.markFailed(ctx, documentID, err)
		if is.metrics != nil {
			is.metrics.RecordIngestion(time.Since(start).Seconds(), "failed")
		}
		return err
	}

	now := time.Now()
	if _, err := is.documents().UpdateOne(ctx,
		bson.M{"_id": documentID},
		bson.M{"$set": bson.M{
			"status":       models.StatusCompleted,
			"page_count":   pageCount,
			"chunk_count":  len(chunks),
			"processed_at": now,
		}},
	); err != nil {
		return fmt.Errorf("failed to finalize document: %w", err)
	}

	if is.metrics != nil {
		is.metrics.RecordIngestion(time.Since(start).Seconds(), "completed")
	}

	// The stored file only existed to hand off to the worker.
	if err := os.Remove(filePath); err != nil {
		logger.Warn("failed to remove processed file", "path", filePath, "error", err)
	}

	logger.Info("stored document processed", "document_id", documentID, "chunks", len(chunks))
	return nil
}

// process extracts, chunks, embeds and persists; returns the indexed chunks.
func (is *IngestionService) process(ctx context.Context, documentID string, data []byte) ([]models.Chunk, int, error) {
	pages, err := is.loader.Load(data)
	if err != nil {
		return nil, 0, err
	}

	drafts := is.chunker.Split(pages)
	if len(drafts) == 0 {
		return nil, 0, fmt.Errorf("%w: document produced no chunks", models.ErrUnreadablePDF)
	}

	chunks := make([]models.Chunk, len(drafts))
	for i, draft := range drafts {
		chunks[i] = models.Chunk{
			ID:            uuid.New().String(),
			DocumentID:    documentID,
			PageNumber:    draft.PageNumber,
			SequenceIndex: draft.SequenceIndex,
			Text:          draft.Text,
		}
	}

	if err := is.embedAll(ctx, chunks); err != nil {
		return nil, 0, err
	}

	if err := is.persistChunks(ctx, chunks); err != nil {
		return nil, 0, err
	}

	if err := is.index.Add(chunks); err != nil {
		return nil, 0, fmt.Errorf("failed to index chunks: %w", err)
	}
	if is.metrics != nil {
		is.metrics.RecordIndexDelta(len(chunks))
	}

	return chunks, len(pages), nil
}

func (is *IngestionService) embedAll(ctx context.Context, chunks []models.Chunk) error {
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		texts := make([]string, end-start)
		for i := start; i < end; i++ {
			texts[i-start] = chunks[i].Text
		}

		vectors, err := is.embedder.Embed(ctx, texts)
		if is.metrics != nil {
			is.metrics.RecordEmbeddingCall("ingestion", err == nil)
		}
		if err != nil {
			return fmt.Errorf("embedding failed at chunk %d: %w", start, err)
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
		}

		for i := start; i < end; i++ {
			chunks[i].Embedding = vectors[i-start]
		}
	}
	return nil
}

// persistChunks stores chunks in bulk, compressing text when it pays off.
// The stored copy is the durable source for index rebuilds.
func (is *IngestionService) persistChunks(ctx context.Context, chunks []models.Chunk) error {
	writes := make([]mongo.WriteModel, 0, len(chunks))
	for i := range chunks {
		stored := chunks[i]
		compressed, ratio, err := utils.CompressText(stored.Text)
		if err == nil && ratio < compressionThreshold {
			stored.Compressed = compressed
			stored.Compression = "gzip"
			stored.Text = ""
		}
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": stored.ID}).
			SetReplacement(stored).
			SetUpsert(true))
	}

	if _, err := is.chunks().BulkWrite(ctx, writes); err != nil {
		return fmt.Errorf("failed to persist chunks: %w", err)
	}
	return nil
}

func (is *IngestionService) markFailed(ctx context.Context, documentID string, cause error) {
	_, err := is.documents().UpdateOne(ctx,
		bson.M{"_id": documentID},
		bson.M{"$set": bson.M{
			"status":        models.StatusFailed,
			"error_message": cause.Error(),
		}},
	)
	if err != nil {
		logger.Error("failed to mark document failed", "document_id", documentID, "error", err)
	}
	logger.Error("ingestion failed", "document_id", documentID, "error", cause)
}

// RebuildIndex loads every chunk of every completed document into the
// in-memory index. Called at startup by both the API server and the worker.
func (is *IngestionService) RebuildIndex(ctx context.Context) error {
	cursor, err := is.documents().Find(ctx, bson.M{"status": models.StatusCompleted})
	if err != nil {
		return fmt.Errorf("failed to list completed documents: %w", err)
	}
	var docs []models.Document
	if err := cursor.All(ctx, &docs); err != nil {
		return fmt.Errorf("failed to decode documents: %w", err)
	}

	total := 0
	for _, doc := range docs {
		n, err := is.loadDocumentChunks(ctx, doc.ID)
		if err != nil {
			return err
		}
		total += n
	}

	logger.Info("index rebuilt", "documents", len(docs), "chunks", total)
	return nil
}

// RefreshIndex folds in documents completed since the last refresh. The API
// server runs this on a ticker so uploads processed by the worker become
// searchable without a restart.
func (is *IngestionService) RefreshIndex(ctx context.Context) error {
	cursor, err := is.documents().Find(ctx, bson.M{
		"status":       models.StatusCompleted,
		"processed_at": bson.M{"$gte": is.startedAt},
	})
	if err != nil {
		return fmt.Errorf("failed to list fresh documents: %w", err)
	}
	var docs []models.Document
	if err := cursor.All(ctx, &docs); err != nil {
		return fmt.Errorf("failed to decode documents: %w", err)
	}

	for _, doc := range docs {
		// Cheap probe: chunks already indexed means nothing to do.
		var sample models.Chunk
		err := is.chunks().FindOne(ctx, bson.M{"document_id": doc.ID}).Decode(&sample)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				continue
			}
			return fmt.Errorf("failed to probe chunks: %w", err)
		}
		if is.index.Has(sample.ID) {
			continue
		}
		if _, err := is.loadDocumentChunks(ctx, doc.ID); err != nil {
			return err
		}
		logger.Info("index refreshed with document", "document_id", doc.ID)
	}

	return nil
}

func (is *IngestionService) loadDocumentChunks(ctx context.Context, documentID string) (int, error) {
	opts := options.Find().SetSort(bson.D{{Key: "sequence_index", Value: 1}})
	cursor, err := is.chunks().Find(ctx, bson.M{"document_id": documentID}, opts)
	if err != nil {
		return 0, fmt.Errorf("failed to load chunks for %s: %w", documentID, err)
	}
	var stored []models.Chunk
	if err := cursor.All(ctx, &stored); err != nil {
		return 0, fmt.Errorf("failed to decode chunks for %s: %w", documentID, err)
	}

	for i := range stored {
		if stored[i].Compression == "gzip" && stored[i].Text == "" {
			text, err := utils.DecompressText(stored[i].Compressed)
			if err != nil {
				return 0, fmt.Errorf("failed to decompress chunk %s: %w", stored[i].ID, err)
			}
			stored[i].Text = text
			stored[i].Compressed = nil
			stored[i].Compression = ""
		}
	}

	if len(stored) == 0 {
		return 0, nil
	}
	if err := is.index.Add(stored); err != nil {
		return 0, fmt.Errorf("failed to index chunks for %s: %w", documentID, err)
	}
	if is.metrics != nil {
		is.metrics.RecordIndexDelta(len(stored))
	}
	return len(stored), nil
}

// CreatePending records a document awaiting worker processing.
func (is *IngestionService) CreatePending(ctx context.Context, filename, filePath string, sizeBytes int64) (*models.Document, error) {
	doc := &models.Document{
		ID:         uuid.New().String(),
		Filename:   filename,
		UploadedAt: time.Now(),
		SizeBytes:  sizeBytes,
		FilePath:   filePath,
		Status:     models.StatusPending,
	}
	if _, err := is.documents().InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to record pending document: %w", err)
	}
	return doc, nil
}

func (is *IngestionService) GetDocument(ctx context.Context, documentID string) (*models.Document, error) {
	var doc models.Document
	err := is.documents().FindOne(ctx, bson.M{"_id": documentID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	return &doc, nil
}

func (is *IngestionService) ListDocuments(ctx context.Context) ([]models.Document, error) {
	opts := options.Find().SetSort(bson.D{{Key: "uploaded_at", Value: -1}})
	cursor, err := is.documents().Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	docs := []models.Document{}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode documents: %w", err)
	}
	return docs, nil
}

// DeleteDocument removes the record, its stored chunks and its index
// entries. Messages citing the document keep their chunk IDs; citations
// simply stop resolving.
func (is *IngestionService) DeleteDocument(ctx context.Context, documentID string) error {
	result, err := is.documents().DeleteOne(ctx, bson.M{"_id": documentID})
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if result.DeletedCount == 0 {
		return models.ErrDocumentNotFound
	}

	if _, err := is.chunks().DeleteMany(ctx, bson.M{"document_id": documentID}); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}

	removed := is.index.Remove(documentID)
	if is.metrics != nil {
		is.metrics.RecordIndexDelta(-removed)
	}

	logger.Info("document deleted", "document_id", documentID, "chunks_removed", removed)
	return nil
}
