package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"docuchat-backend/internal/logger"
	"docuchat-backend/services"
)

const TaskIngestPDF = "pdf:ingest"

// IngestPDFPayload is the task body for asynchronous document processing.
type IngestPDFPayload struct {
	DocumentID string `json:"document_id"`
	FilePath   string `json:"file_path"`
	Filename   string `json:"filename"`
}

// NewIngestPDFTask enqueues ingestion of a stored upload.
func NewIngestPDFTask(documentID, filePath, filename string) (*asynq.Task, error) {
	payload, err := json.Marshal(IngestPDFPayload{
		DocumentID: documentID,
		FilePath:   filePath,
		Filename:   filename,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ingest payload: %w", err)
	}

	return asynq.NewTask(TaskIngestPDF, payload,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("ingestion"),
	), nil
}

// Processor handles queued ingestion tasks in the worker process.
type Processor struct {
	ingestion *services.IngestionService
}

func NewProcessor(ingestion *services.IngestionService) *Processor {
	return &Processor{ingestion: ingestion}
}

func (p *Processor) HandleIngestPDF(ctx context.Context, t *asynq.Task) error {
	var payload IngestPDFPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal ingest payload: %v: %w", err, asynq.SkipRetry)
	}

	logger.Info("processing queued document",
		"document_id", payload.DocumentID,
		"filename", payload.Filename)

	if err := p.ingestion.ProcessStored(ctx, payload.DocumentID, payload.FilePath); err != nil {
		return fmt.Errorf("ingestion of %s failed: %w", payload.DocumentID, err)
	}

	return nil
}
