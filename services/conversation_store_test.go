package services

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"docuchat-backend/models"
)

// Integration tests: run only against a real MongoDB.
//
//	MONGO_TEST_URI=mongodb://localhost:27017 go test ./services/...
func testDB(t *testing.T) *mongo.Database {
	t.Helper()

	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set, skipping MongoDB integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		t.Skipf("MongoDB not reachable: %v", err)
	}

	db := client.Database("docuchat_test")
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		db.Drop(ctx)
		client.Disconnect(ctx)
	})

	return db
}

func testStore(t *testing.T) *MongoConversationStore {
	t.Helper()
	return NewMongoConversationStore(testDB(t))
}

func TestConversationStoreSessionLifecycle(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	session, err := store.CreateSession(ctx, "test session")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	loaded, err := store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if loaded.Title != "test session" {
		t.Errorf("unexpected title %q", loaded.Title)
	}

	if _, err := store.GetSession(ctx, "nonexistent"); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestConversationStoreAppendAssignsSequence(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	session, _ := store.CreateSession(ctx, "")

	first, err := store.AppendMessage(ctx, session.ID, models.RoleUser, "hello", nil)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	second, err := store.AppendMessage(ctx, session.ID, models.RoleAssistant, "hi", []string{"c1"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if second.Seq != first.Seq+1 {
		t.Errorf("sequence not contiguous: %d then %d", first.Seq, second.Seq)
	}

	if _, err := store.AppendMessage(ctx, "gone", models.RoleUser, "x", nil); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestConversationStoreHistoryOrderAndLimit(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	session, _ := store.CreateSession(ctx, "")
	contents := []string{"one", "two", "three", "four"}
	for _, c := range contents {
		if _, err := store.AppendMessage(ctx, session.ID, models.RoleUser, c, nil); err != nil {
			t.Fatalf("append %q: %v", c, err)
		}
	}

	all, err := store.History(ctx, session.ID, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(all))
	}
	for i, c := range contents {
		if all[i].Content != c {
			t.Errorf("position %d: got %q want %q", i, all[i].Content, c)
		}
	}

	tail, err := store.History(ctx, session.ID, 2)
	if err != nil {
		t.Fatalf("history with limit: %v", err)
	}
	if len(tail) != 2 || tail[0].Content != "three" || tail[1].Content != "four" {
		t.Errorf("limit did not keep the most recent tail: %+v", tail)
	}
}

func TestConversationStoreClearKeepsSession(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	session, _ := store.CreateSession(ctx, "")
	store.AppendMessage(ctx, session.ID, models.RoleUser, "msg", nil)

	if err := store.ClearHistory(ctx, session.ID); err != nil {
		t.Fatalf("clear: %v", err)
	}

	history, err := store.History(ctx, session.ID, 0)
	if err != nil {
		t.Fatalf("history after clear: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("expected empty history, got %d messages", len(history))
	}

	// The seq counter keeps advancing past cleared messages.
	msg, err := store.AppendMessage(ctx, session.ID, models.RoleUser, "after clear", nil)
	if err != nil {
		t.Fatalf("append after clear: %v", err)
	}
	if msg.Seq != 2 {
		t.Errorf("expected seq 2 after clear, got %d", msg.Seq)
	}
}
