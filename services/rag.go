package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"docuchat-backend/internal/ai"
	"docuchat-backend/internal/config"
	"docuchat-backend/internal/logger"
	"docuchat-backend/internal/telemetry"
	"docuchat-backend/models"
)

const systemInstruction = `You are a helpful assistant that answers questions about uploaded documents.
Use the provided document passages to answer. Cite which document and page your answer draws from.
If the passages do not contain the answer, say so rather than inventing one.`

const noContextInstruction = `No document passages matched this question.
Answer from the conversation history if it contains the answer; otherwise state that you have no relevant document content.`

// RagOrchestrator runs one chat turn end to end: retrieve, assemble the
// prompt, generate, then record the exchange. Turns on the same session are
// serialized so transcripts interleave at whole-turn granularity.
type RagOrchestrator struct {
	cfg       *config.Config
	retriever *Retriever
	generator ai.GenerationClient
	store     ConversationStore
	metrics   *telemetry.Metrics

	sessionLocks sync.Map // session ID -> *sync.Mutex
}

func NewRagOrchestrator(cfg *config.Config, retriever *Retriever, generator ai.GenerationClient, store ConversationStore, metrics *telemetry.Metrics) *RagOrchestrator {
	return &RagOrchestrator{
		cfg:       cfg,
		retriever: retriever,
		generator: generator,
		store:     store,
		metrics:   metrics,
	}
}

func (ro *RagOrchestrator) lockSession(sessionID string) *sync.Mutex {
	mu, _ := ro.sessionLocks.LoadOrStore(sessionID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Answer handles one turn. The question is validated, the session must
// exist, and the turn holds the session lock from retrieval through
// recording. If the answer was generated but recording fails, the result is
// still returned together with ErrRecordFailed so the caller can deliver
// the answer and report the persistence failure.
func (ro *RagOrchestrator) Answer(ctx context.Context, sessionID, question string) (*models.AnswerResult, error) {
	tracer := otel.Tracer("rag-orchestrator")
	ctx, span := tracer.Start(ctx, "rag.answer")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	if strings.TrimSpace(question) == "" {
		return nil, models.ErrEmptyQuestion
	}

	start := time.Now()
	status := "error"
	defer func() {
		if ro.metrics != nil {
			ro.metrics.RecordTurn(time.Since(start).Seconds(), status)
		}
	}()

	mu := ro.lockSession(sessionID)
	mu.Lock()
	defer mu.Unlock()

	session, err := ro.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	history, err := ro.store.History(ctx, sessionID, ro.cfg.HistoryLimit)
	if err != nil {
		return nil, err
	}

	results, err := ro.retriever.Retrieve(ctx, question, ro.cfg.RetrievalTopK, "")
	if err != nil && !errors.Is(err, models.ErrEmptyIndex) {
		return nil, err
	}
	span.SetAttributes(attribute.Int("retrieval.results", len(results)))

	prompt := ro.buildPrompt(results, history, question)

	answer, err := ro.generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrGenerationFailed, err)
	}

	cited := make([]models.Chunk, 0, len(results))
	citedIDs := make([]string, 0, len(results))
	for _, r := range results {
		cited = append(cited, r.Chunk)
		citedIDs = append(citedIDs, r.Chunk.ID)
	}

	result := &models.AnswerResult{
		Answer:      answer,
		CitedChunks: cited,
		SessionID:   sessionID,
	}

	// Recording must not be abandoned because the client disconnected after
	// the answer was produced.
	recordCtx := context.WithoutCancel(ctx)
	if err := ro.record(recordCtx, session, question, answer, citedIDs); err != nil {
		logger.Error("failed to record turn", "session_id", sessionID, "error", err)
		return result, fmt.Errorf("%w: %v", models.ErrRecordFailed, err)
	}

	status = "ok"
	logger.Info("turn answered",
		"session_id", sessionID,
		"cited_chunks", len(citedIDs),
		"duration_ms", time.Since(start).Milliseconds())

	return result, nil
}

// generate calls the backend, retrying exactly once on a transient failure.
func (ro *RagOrchestrator) generate(ctx context.Context, prompt string) (string, error) {
	opts := ai.GenerateOptions{
		MaxTokens:   ro.cfg.MaxOutputTokens,
		Temperature: ro.cfg.Temperature,
	}

	answer, err := ro.generator.Complete(ctx, prompt, opts)
	if err == nil {
		return answer, nil
	}
	if !ai.IsTransient(err) || ctx.Err() != nil {
		return "", err
	}

	logger.Warn("transient generation failure, retrying once", "error", err)
	return ro.generator.Complete(ctx, prompt, opts)
}

// buildPrompt assembles the generation prompt: instruction, retrieved
// passages with attribution (best match first), recent history oldest
// first, then the question.
func (ro *RagOrchestrator) buildPrompt(results []models.RetrievalResult, history []models.Message, question string) string {
	var sb strings.Builder

	if len(results) > 0 {
		sb.WriteString(systemInstruction)
		sb.WriteString("\n\nDocument passages:\n")
		for i, r := range results {
			fmt.Fprintf(&sb, "\n[Passage %d | document %s, page %d]\n%s\n",
				i+1, r.Chunk.DocumentID, r.Chunk.PageNumber, r.Chunk.Text)
		}
	} else {
		sb.WriteString(systemInstruction)
		sb.WriteString("\n\n")
		sb.WriteString(noContextInstruction)
		sb.WriteString("\n")
	}

	if len(history) > 0 {
		sb.WriteString("\nConversation so far:\n")
		for _, msg := range history {
			label := "User"
			if msg.Role == models.RoleAssistant {
				label = "Assistant"
			}
			fmt.Fprintf(&sb, "%s: %s\n", label, msg.Content)
		}
	}

	fmt.Fprintf(&sb, "\nUser: %s\nAssistant:", question)
	return sb.String()
}

// record appends the user message then the assistant message. The first
// exchange of an untitled session also sets an auto-title from the question.
func (ro *RagOrchestrator) record(ctx context.Context, session *models.Session, question, answer string, citedIDs []string) error {
	if _, err := ro.store.AppendMessage(ctx, session.ID, models.RoleUser, question, nil); err != nil {
		return err
	}
	if _, err := ro.store.AppendMessage(ctx, session.ID, models.RoleAssistant, answer, citedIDs); err != nil {
		return err
	}

	if session.Title == "" && session.MessageSeq == 0 {
		title := autoTitle(question)
		if err := ro.store.SetTitle(ctx, session.ID, title); err != nil {
			logger.Warn("failed to auto-title session", "session_id", session.ID, "error", err)
		}
	}

	return nil
}

// autoTitle derives a short session title from the first question.
func autoTitle(question string) string {
	const maxTitle = 60
	title := strings.Join(strings.Fields(question), " ")
	runes := []rune(title)
	if len(runes) > maxTitle {
		title = strings.TrimSpace(string(runes[:maxTitle])) + "..."
	}
	return title
}
