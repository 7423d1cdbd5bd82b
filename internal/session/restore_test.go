package session

import (
	"context"
	"testing"

	"github.com/tubechat/tubechat/internal/retrieval"
	"github.com/tubechat/tubechat/internal/storage"
)

func openTestDB(t *testing.T) *storage.Store {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRestore_RebuildsPersistedSessions(t *testing.T) {
	db := openTestDB(t)
	if err := db.SaveSession(storage.SessionRow{
		ID:           "sess-1",
		VideoID:      "vid1",
		Title:        "A talk",
		Language:     "en",
		SegmentsJSON: `[{"time":"0:00","text":"hello there world"},{"time":"0:30","text":"more words follow here"}]`,
		ChunkCount:   1,
		EmbedModel:   "nomic-embed-text",
	}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	st := NewStore()
	b := NewBuilder(retrieval.NewEmbedder(&mockEngine{}, "nomic-embed-text"), 0, 0)
	if err := Restore(context.Background(), db, st, b); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	sess, err := st.Get("vid1")
	if err != nil {
		t.Fatalf("Get after restore: %v", err)
	}
	if sess.ID != "sess-1" {
		t.Errorf("restored session ID = %q, want sess-1 (history must stay attached)", sess.ID)
	}
	if sess.Index == nil || sess.Index.Len() == 0 {
		t.Error("restored session has no index")
	}
}

func TestRestore_SkipsCorruptRows(t *testing.T) {
	db := openTestDB(t)
	if err := db.SaveSession(storage.SessionRow{
		ID:           "sess-bad",
		VideoID:      "vid-bad",
		SegmentsJSON: `not json at all`,
	}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := db.SaveSession(storage.SessionRow{
		ID:           "sess-good",
		VideoID:      "vid-good",
		SegmentsJSON: `[{"time":"0:00","text":"fine transcript text"}]`,
	}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	st := NewStore()
	b := NewBuilder(retrieval.NewEmbedder(&mockEngine{}, "nomic-embed-text"), 0, 0)
	if err := Restore(context.Background(), db, st, b); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if _, err := st.Get("vid-good"); err != nil {
		t.Errorf("good session not restored: %v", err)
	}
	if _, err := st.Get("vid-bad"); err == nil {
		t.Error("corrupt session should have been skipped")
	}
	if st.Len() != 1 {
		t.Errorf("Len = %d, want 1", st.Len())
	}
}

func TestRestore_EmptyDatabase(t *testing.T) {
	db := openTestDB(t)
	st := NewStore()
	b := NewBuilder(retrieval.NewEmbedder(&mockEngine{}, "nomic-embed-text"), 0, 0)
	if err := Restore(context.Background(), db, st, b); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if st.Len() != 0 {
		t.Errorf("Len = %d, want 0", st.Len())
	}
}
