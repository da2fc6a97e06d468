package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"docuchat-backend/internal/logger"
	"docuchat-backend/models"
)

// ConversationStore persists sessions and their append-only transcripts.
type ConversationStore interface {
	CreateSession(ctx context.Context, title string) (*models.Session, error)
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	ListSessions(ctx context.Context, limit int) ([]models.Session, error)
	AppendMessage(ctx context.Context, sessionID, role, content string, citedChunkIDs []string) (*models.Message, error)
	History(ctx context.Context, sessionID string, limit int) ([]models.Message, error)
	ClearHistory(ctx context.Context, sessionID string) error
	SetTitle(ctx context.Context, sessionID, title string) error
	DeleteSession(ctx context.Context, sessionID string) error
}

// MongoConversationStore keeps sessions and messages in separate collections.
// Each session document carries a message_seq counter; AppendMessage claims
// the next value atomically, which both serializes ordering and detects a
// deleted session in a single round trip.
type MongoConversationStore struct {
	db *mongo.Database
}

func NewMongoConversationStore(db *mongo.Database) *MongoConversationStore {
	return &MongoConversationStore{db: db}
}

func (s *MongoConversationStore) sessions() *mongo.Collection {
	return s.db.Collection("sessions")
}

func (s *MongoConversationStore) messages() *mongo.Collection {
	return s.db.Collection("messages")
}

func (s *MongoConversationStore) CreateSession(ctx context.Context, title string) (*models.Session, error) {
	now := time.Now()
	session := &models.Session{
		ID:         uuid.New().String(),
		Title:      title,
		CreatedAt:  now,
		UpdatedAt:  now,
		MessageSeq: 0,
	}

	if _, err := s.sessions().InsertOne(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	logger.Info("session created", "session_id", session.ID)
	return session, nil
}

func (s *MongoConversationStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var session models.Session
	err := s.sessions().FindOne(ctx, bson.M{"_id": sessionID}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &session, nil
}

func (s *MongoConversationStore) ListSessions(ctx context.Context, limit int) ([]models.Session, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.sessions().Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer cursor.Close(ctx)

	sessions := []models.Session{}
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}
	return sessions, nil
}

// AppendMessage records one message at the end of the transcript. The seq
// claim via $inc makes concurrent appends produce distinct, strictly
// increasing sequence numbers without a separate lock.
func (s *MongoConversationStore) AppendMessage(ctx context.Context, sessionID, role, content string, citedChunkIDs []string) (*models.Message, error) {
	now := time.Now()

	var updated models.Session
	err := s.sessions().FindOneAndUpdate(ctx,
		bson.M{"_id": sessionID},
		bson.M{
			"$inc": bson.M{"message_seq": 1},
			"$set": bson.M{"updated_at": now},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to claim message sequence: %w", err)
	}

	message := &models.Message{
		ID:            uuid.New().String(),
		SessionID:     sessionID,
		Seq:           updated.MessageSeq,
		Role:          role,
		Content:       content,
		CitedChunkIDs: citedChunkIDs,
		CreatedAt:     now,
	}

	if _, err := s.messages().InsertOne(ctx, message); err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	return message, nil
}

// History returns the most recent messages in chronological order. A gap or
// duplicate in the sequence numbers means the transcript was tampered with
// or partially written, which is surfaced rather than papered over.
func (s *MongoConversationStore) History(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.messages().Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer cursor.Close(ctx)

	var newestFirst []models.Message
	if err := cursor.All(ctx, &newestFirst); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}

	// Reverse to oldest-first.
	messages := make([]models.Message, len(newestFirst))
	for i, m := range newestFirst {
		messages[len(newestFirst)-1-i] = m
	}

	for i := 1; i < len(messages); i++ {
		if messages[i].Seq <= messages[i-1].Seq {
			return nil, fmt.Errorf("%w: session %s has non-monotonic sequence %d after %d",
				models.ErrTranscriptCorrupted, sessionID, messages[i].Seq, messages[i-1].Seq)
		}
	}

	return messages, nil
}

// ClearHistory removes the messages but keeps the session. The seq counter
// keeps advancing so later messages never reuse cleared sequence numbers.
func (s *MongoConversationStore) ClearHistory(ctx context.Context, sessionID string) error {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return err
	}

	result, err := s.messages().DeleteMany(ctx, bson.M{"session_id": sessionID})
	if err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}

	logger.Info("history cleared", "session_id", sessionID, "deleted", result.DeletedCount)
	return nil
}

func (s *MongoConversationStore) SetTitle(ctx context.Context, sessionID, title string) error {
	result, err := s.sessions().UpdateOne(ctx,
		bson.M{"_id": sessionID},
		bson.M{"$set": bson.M{"title": title, "updated_at": time.Now()}},
	)
	if err != nil {
		return fmt.Errorf("failed to set title: %w", err)
	}
	if result.MatchedCount == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

func (s *MongoConversationStore) DeleteSession(ctx context.Context, sessionID string) error {
	result, err := s.sessions().DeleteOne(ctx, bson.M{"_id": sessionID})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if result.DeletedCount == 0 {
		return models.ErrSessionNotFound
	}

	if _, err := s.messages().DeleteMany(ctx, bson.M{"session_id": sessionID}); err != nil {
		return fmt.Errorf("failed to delete session messages: %w", err)
	}
	return nil
}
