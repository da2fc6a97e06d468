package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics
type Metrics struct {
	ChatTurns         metric.Int64Counter
	TurnDuration      metric.Float64Histogram
	RetrievedChunks   metric.Int64Counter
	IngestionDuration metric.Float64Histogram
	EmbeddingCalls    metric.Int64Counter
	IndexSize         metric.Int64UpDownCounter
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("docuchat-backend")

	chatTurns, err := meter.Int64Counter(
		"chat.turns.total",
		metric.WithDescription("Total chat turns answered"),
	)
	if err != nil {
		return nil, err
	}

	turnDuration, err := meter.Float64Histogram(
		"chat.turn.duration",
		metric.WithDescription("Chat turn duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	retrievedChunks, err := meter.Int64Counter(
		"retrieval.chunks.total",
		metric.WithDescription("Total chunks returned by retrieval"),
	)
	if err != nil {
		return nil, err
	}

	ingestionDuration, err := meter.Float64Histogram(
		"ingestion.duration",
		metric.WithDescription("Document ingestion duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	embeddingCalls, err := meter.Int64Counter(
		"embedding.calls.total",
		metric.WithDescription("Total embedding backend calls"),
	)
	if err != nil {
		return nil, err
	}

	indexSize, err := meter.Int64UpDownCounter(
		"index.chunks",
		metric.WithDescription("Chunks currently held by the vector index"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		ChatTurns:         chatTurns,
		TurnDuration:      turnDuration,
		RetrievedChunks:   retrievedChunks,
		IngestionDuration: ingestionDuration,
		EmbeddingCalls:    embeddingCalls,
		IndexSize:         indexSize,
	}, nil
}

// RecordTurn records one completed (or failed) chat turn
func (m *Metrics) RecordTurn(duration float64, status string) {
	attrs := []attribute.KeyValue{
		attribute.String("turn.status", status),
	}

	m.ChatTurns.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.TurnDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordRetrieval records the number of chunks a retrieval returned
func (m *Metrics) RecordRetrieval(chunks int) {
	m.RetrievedChunks.Add(context.Background(), int64(chunks))
}

// RecordIngestion records document ingestion metrics
func (m *Metrics) RecordIngestion(duration float64, status string) {
	attrs := []attribute.KeyValue{
		attribute.String("ingestion.status", status),
	}

	m.IngestionDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordEmbeddingCall records one embedding backend call
func (m *Metrics) RecordEmbeddingCall(provider string, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String("embedding.provider", provider),
		attribute.Bool("embedding.success", success),
	}

	m.EmbeddingCalls.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

// RecordIndexDelta adjusts the live index size gauge
func (m *Metrics) RecordIndexDelta(delta int) {
	m.IndexSize.Add(context.Background(), int64(delta))
}
