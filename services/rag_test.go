package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"docuchat-backend/internal/ai"
	"docuchat-backend/internal/config"
	"docuchat-backend/models"
)

type fakeGenerator struct {
	mu       sync.Mutex
	answers  []string
	errs     []error
	calls    int
	prompts  []string
	lastOpts ai.GenerateOptions
}

func (f *fakeGenerator) Complete(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	f.prompts = append(f.prompts, prompt)
	f.lastOpts = opts
	if idx < len(f.errs) && f.errs[idx] != nil {
		return "", f.errs[idx]
	}
	if idx < len(f.answers) {
		return f.answers[idx], nil
	}
	return "default answer", nil
}

// memoryStore is an in-memory ConversationStore for orchestrator tests.
type memoryStore struct {
	mu        sync.Mutex
	sessions  map[string]*models.Session
	messages  map[string][]models.Message
	nextID    int
	failNext  bool
	failCount int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		sessions: make(map[string]*models.Session),
		messages: make(map[string][]models.Message),
	}
}

func (m *memoryStore) CreateSession(ctx context.Context, title string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	s := &models.Session{
		ID:        fmt.Sprintf("session-%d", m.nextID),
		Title:     title,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	m.sessions[s.ID] = s
	return s, nil
}

func (m *memoryStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	copied := *s
	return &copied, nil
}

func (m *memoryStore) ListSessions(ctx context.Context, limit int) ([]models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	return out, nil
}

func (m *memoryStore) AppendMessage(ctx context.Context, sessionID, role, content string, citedChunkIDs []string) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	if m.failNext {
		m.failCount++
		return nil, fmt.Errorf("simulated write failure")
	}
	s.MessageSeq++
	msg := models.Message{
		ID:            fmt.Sprintf("msg-%s-%d", sessionID, s.MessageSeq),
		SessionID:     sessionID,
		Seq:           s.MessageSeq,
		Role:          role,
		Content:       content,
		CitedChunkIDs: citedChunkIDs,
		CreatedAt:     time.Now(),
	}
	m.messages[sessionID] = append(m.messages[sessionID], msg)
	return &msg, nil
}

func (m *memoryStore) History(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return nil, models.ErrSessionNotFound
	}
	msgs := m.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *memoryStore) ClearHistory(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return models.ErrSessionNotFound
	}
	delete(m.messages, sessionID)
	return nil
}

func (m *memoryStore) SetTitle(ctx context.Context, sessionID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return models.ErrSessionNotFound
	}
	s.Title = title
	return nil
}

func (m *memoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return models.ErrSessionNotFound
	}
	delete(m.sessions, sessionID)
	delete(m.messages, sessionID)
	return nil
}

func (m *memoryStore) messageCount(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages[sessionID])
}

func testConfig() *config.Config {
	return &config.Config{
		RetrievalTopK:   3,
		HistoryLimit:    10,
		MaxOutputTokens: 256,
		Temperature:     0.7,
	}
}

func newTestOrchestrator(t *testing.T, gen *fakeGenerator, store *memoryStore, seedChunks []models.Chunk) *RagOrchestrator {
	t.Helper()

	index := NewVectorIndex()
	if len(seedChunks) > 0 {
		if err := index.Add(seedChunks); err != nil {
			t.Fatalf("seed index: %v", err)
		}
	}

	retriever := NewRetriever(&fakeEmbedder{vector: []float32{1, 0}}, index, nil, nil)
	return NewRagOrchestrator(testConfig(), retriever, gen, store, nil)
}

func TestAnswerRejectsEmptyQuestion(t *testing.T) {
	store := newMemoryStore()
	session, _ := store.CreateSession(context.Background(), "")

	ro := newTestOrchestrator(t, &fakeGenerator{}, store, nil)

	for _, q := range []string{"", "   ", "\n\t"} {
		_, err := ro.Answer(context.Background(), session.ID, q)
		if !errors.Is(err, models.ErrEmptyQuestion) {
			t.Errorf("question %q: expected ErrEmptyQuestion, got %v", q, err)
		}
	}
	if store.messageCount(session.ID) != 0 {
		t.Errorf("rejected questions must not be recorded")
	}
}

func TestAnswerUnknownSession(t *testing.T) {
	ro := newTestOrchestrator(t, &fakeGenerator{}, newMemoryStore(), nil)

	_, err := ro.Answer(context.Background(), "no-such-session", "hello")
	if !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestAnswerRecordsBothMessages(t *testing.T) {
	store := newMemoryStore()
	session, _ := store.CreateSession(context.Background(), "")

	gen := &fakeGenerator{answers: []string{"the answer"}}
	seed := []models.Chunk{
		{ID: "c1", DocumentID: "doc1", PageNumber: 2, Text: "relevant passage", Embedding: []float32{1, 0}},
	}
	ro := newTestOrchestrator(t, gen, store, seed)

	result, err := ro.Answer(context.Background(), session.ID, "what is this about?")
	if err != nil {
		t.Fatalf("answer failed: %v", err)
	}
	if result.Answer != "the answer" {
		t.Errorf("unexpected answer %q", result.Answer)
	}
	if len(result.CitedChunks) != 1 || result.CitedChunks[0].ID != "c1" {
		t.Errorf("expected citation of c1, got %+v", result.CitedChunks)
	}

	history, _ := store.History(context.Background(), session.ID, 0)
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[0].Role != models.RoleUser || history[1].Role != models.RoleAssistant {
		t.Errorf("wrong roles: %q then %q", history[0].Role, history[1].Role)
	}
	if len(history[1].CitedChunkIDs) != 1 || history[1].CitedChunkIDs[0] != "c1" {
		t.Errorf("assistant message missing citations: %+v", history[1].CitedChunkIDs)
	}
}

func TestAnswerEmptyIndexStillAnswers(t *testing.T) {
	store := newMemoryStore()
	session, _ := store.CreateSession(context.Background(), "")

	gen := &fakeGenerator{answers: []string{"no documents loaded"}}
	ro := newTestOrchestrator(t, gen, store, nil)

	result, err := ro.Answer(context.Background(), session.ID, "anything indexed?")
	if err != nil {
		t.Fatalf("answer failed: %v", err)
	}
	if len(result.CitedChunks) != 0 {
		t.Errorf("expected no citations, got %d", len(result.CitedChunks))
	}
	if len(gen.prompts) != 1 {
		t.Fatalf("expected 1 generation call, got %d", len(gen.prompts))
	}
	if !strings.Contains(gen.prompts[0], "No document passages matched") {
		t.Errorf("zero-context prompt missing fallback instruction:\n%s", gen.prompts[0])
	}
}

func TestAnswerPromptContainsPassagesAndHistory(t *testing.T) {
	store := newMemoryStore()
	session, _ := store.CreateSession(context.Background(), "")
	store.AppendMessage(context.Background(), session.ID, models.RoleUser, "earlier question", nil)
	store.AppendMessage(context.Background(), session.ID, models.RoleAssistant, "earlier answer", nil)

	gen := &fakeGenerator{answers: []string{"ok"}}
	seed := []models.Chunk{
		{ID: "c1", DocumentID: "doc1", PageNumber: 7, Text: "passage body", Embedding: []float32{1, 0}},
	}
	ro := newTestOrchestrator(t, gen, store, seed)

	if _, err := ro.Answer(context.Background(), session.ID, "follow-up"); err != nil {
		t.Fatalf("answer failed: %v", err)
	}

	prompt := gen.prompts[0]
	for _, want := range []string{"passage body", "page 7", "earlier question", "earlier answer", "follow-up"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Index(prompt, "earlier question") > strings.Index(prompt, "earlier answer") {
		t.Errorf("history not oldest-first")
	}
}

func TestAnswerRetriesTransientOnce(t *testing.T) {
	store := newMemoryStore()
	session, _ := store.CreateSession(context.Background(), "")

	gen := &fakeGenerator{
		errs:    []error{&ai.TransientError{Err: fmt.Errorf("timeout")}},
		answers: []string{"", "recovered"},
	}
	ro := newTestOrchestrator(t, gen, store, nil)

	result, err := ro.Answer(context.Background(), session.ID, "retry me")
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if result.Answer != "recovered" {
		t.Errorf("unexpected answer %q", result.Answer)
	}
	if gen.calls != 2 {
		t.Errorf("expected exactly 2 generation calls, got %d", gen.calls)
	}
}

func TestAnswerRetriesTransientEmbedding(t *testing.T) {
	store := newMemoryStore()
	session, _ := store.CreateSession(context.Background(), "")

	index := NewVectorIndex()
	if err := index.Add([]models.Chunk{
		{ID: "c1", DocumentID: "doc1", PageNumber: 1, Text: "passage", Embedding: []float32{1, 0}},
	}); err != nil {
		t.Fatalf("seed index: %v", err)
	}

	embedder := &fakeEmbedder{
		vector: []float32{1, 0},
		errs:   []error{&ai.TransientError{Err: fmt.Errorf("connection reset")}},
	}
	gen := &fakeGenerator{answers: []string{"recovered answer"}}
	retriever := NewRetriever(embedder, index, nil, nil)
	ro := NewRagOrchestrator(testConfig(), retriever, gen, store, nil)

	result, err := ro.Answer(context.Background(), session.ID, "flaky backend?")
	if err != nil {
		t.Fatalf("expected transient embedding failure to be retried, got %v", err)
	}
	if result.Answer != "recovered answer" {
		t.Errorf("unexpected answer %q", result.Answer)
	}
	if embedder.callCount() != 2 {
		t.Errorf("expected exactly 2 embed calls, got %d", embedder.callCount())
	}
}

func TestAnswerTransientFailsAfterSecondAttempt(t *testing.T) {
	store := newMemoryStore()
	session, _ := store.CreateSession(context.Background(), "")

	gen := &fakeGenerator{
		errs: []error{
			&ai.TransientError{Err: fmt.Errorf("timeout")},
			&ai.TransientError{Err: fmt.Errorf("timeout again")},
		},
	}
	ro := newTestOrchestrator(t, gen, store, nil)

	_, err := ro.Answer(context.Background(), session.ID, "doomed")
	if !errors.Is(err, models.ErrGenerationFailed) {
		t.Errorf("expected ErrGenerationFailed, got %v", err)
	}
	if gen.calls != 2 {
		t.Errorf("expected exactly 2 generation calls, got %d", gen.calls)
	}
	if store.messageCount(session.ID) != 0 {
		t.Errorf("failed turn must not be recorded")
	}
}

func TestAnswerPermanentErrorNoRetry(t *testing.T) {
	store := newMemoryStore()
	session, _ := store.CreateSession(context.Background(), "")

	gen := &fakeGenerator{errs: []error{fmt.Errorf("model rejected prompt")}}
	ro := newTestOrchestrator(t, gen, store, nil)

	_, err := ro.Answer(context.Background(), session.ID, "question")
	if !errors.Is(err, models.ErrGenerationFailed) {
		t.Errorf("expected ErrGenerationFailed, got %v", err)
	}
	if gen.calls != 1 {
		t.Errorf("permanent error must not be retried, got %d calls", gen.calls)
	}
}

func TestAnswerRecordFailureStillReturnsAnswer(t *testing.T) {
	store := newMemoryStore()
	session, _ := store.CreateSession(context.Background(), "")
	store.failNext = true

	gen := &fakeGenerator{answers: []string{"generated fine"}}
	ro := newTestOrchestrator(t, gen, store, nil)

	result, err := ro.Answer(context.Background(), session.ID, "question")
	if !errors.Is(err, models.ErrRecordFailed) {
		t.Fatalf("expected ErrRecordFailed, got %v", err)
	}
	if result == nil || result.Answer != "generated fine" {
		t.Errorf("answer must be returned despite record failure: %+v", result)
	}
}

func TestAnswerAutoTitlesFirstTurn(t *testing.T) {
	store := newMemoryStore()
	session, _ := store.CreateSession(context.Background(), "")

	gen := &fakeGenerator{answers: []string{"ok", "ok"}}
	ro := newTestOrchestrator(t, gen, store, nil)

	if _, err := ro.Answer(context.Background(), session.ID, "  What   is chunk overlap?  "); err != nil {
		t.Fatalf("answer failed: %v", err)
	}

	got, _ := store.GetSession(context.Background(), session.ID)
	if got.Title != "What is chunk overlap?" {
		t.Errorf("unexpected auto-title %q", got.Title)
	}

	// A later turn must not overwrite the title.
	if _, err := ro.Answer(context.Background(), session.ID, "another question"); err != nil {
		t.Fatalf("second answer failed: %v", err)
	}
	got, _ = store.GetSession(context.Background(), session.ID)
	if got.Title != "What is chunk overlap?" {
		t.Errorf("title overwritten to %q", got.Title)
	}
}

func TestAnswerConcurrentTurnsSerialize(t *testing.T) {
	store := newMemoryStore()
	session, _ := store.CreateSession(context.Background(), "")

	gen := &fakeGenerator{}
	ro := newTestOrchestrator(t, gen, store, nil)

	const turns = 8
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := ro.Answer(context.Background(), session.ID, fmt.Sprintf("question %d", n)); err != nil {
				t.Errorf("turn %d failed: %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	history, err := store.History(context.Background(), session.ID, 0)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history) != 2*turns {
		t.Fatalf("expected %d messages, got %d", 2*turns, len(history))
	}

	// Turns interleave at whole-turn granularity: user/assistant pairs.
	for i := 0; i < len(history); i += 2 {
		if history[i].Role != models.RoleUser || history[i+1].Role != models.RoleAssistant {
			t.Errorf("pair %d broken: %q then %q", i/2, history[i].Role, history[i+1].Role)
		}
	}
}

func TestAutoTitleTruncates(t *testing.T) {
	long := strings.Repeat("word ", 30)
	title := autoTitle(long)
	if len([]rune(title)) > 63 {
		t.Errorf("title too long: %q", title)
	}
	if !strings.HasSuffix(title, "...") {
		t.Errorf("truncated title missing ellipsis: %q", title)
	}
}
