package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:): %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSession(videoID string) SessionRow {
	return SessionRow{
		ID:           "sess-" + videoID,
		VideoID:      videoID,
		Title:        "How to test things",
		Language:     "en",
		SegmentsJSON: `[{"time":"0:00","text":"hello"}]`,
		ChunkCount:   3,
		EmbedModel:   "nomic-embed-text",
	}
}

func TestMigrations_Applied(t *testing.T) {
	s := openTestStore(t)
	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) == 0 {
		t.Fatal("no migrations applied")
	}
	if versions[0] != 1 {
		t.Errorf("first migration version = %d, want 1", versions[0])
	}
}

func TestSaveGetSession(t *testing.T) {
	s := openTestStore(t)

	want := testSession("dQw4w9WgXcQ")
	if err := s.SaveSession(want); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	got, err := s.GetSession(want.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.VideoID != want.VideoID || got.Title != want.Title || got.Language != want.Language {
		t.Errorf("got %+v, want fields of %+v", got, want)
	}
	if got.SegmentsJSON != want.SegmentsJSON {
		t.Errorf("SegmentsJSON = %q, want %q", got.SegmentsJSON, want.SegmentsJSON)
	}
	if got.ChunkCount != 3 || got.EmbedModel != "nomic-embed-text" {
		t.Errorf("ChunkCount/EmbedModel = %d/%q", got.ChunkCount, got.EmbedModel)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}
}

func TestSaveSession_UpsertsByVideo(t *testing.T) {
	s := openTestStore(t)

	first := testSession("abc123")
	if err := s.SaveSession(first); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	second := first
	second.Title = "Re-synced title"
	second.ChunkCount = 7
	if err := s.SaveSession(second); err != nil {
		t.Fatalf("SaveSession (resync): %v", err)
	}

	got, err := s.GetSessionByVideo("abc123")
	if err != nil {
		t.Fatalf("GetSessionByVideo: %v", err)
	}
	if got.Title != "Re-synced title" || got.ChunkCount != 7 {
		t.Errorf("resync did not overwrite: %+v", got)
	}

	sessions, err := s.ListSessions(10)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Errorf("got %d sessions, want 1 (resync must not duplicate)", len(sessions))
	}
}

func TestGetSession_NotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetSession("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetSessionByVideo("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListSessions_OmitsTranscript(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveSession(testSession("vid1")); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	sessions, err := s.ListSessions(10)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	if sessions[0].SegmentsJSON != "" {
		t.Error("listing should not carry the transcript payload")
	}
}

func TestAllSessions_IncludesTranscript(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 3; i++ {
		if err := s.SaveSession(testSession(fmt.Sprintf("vid%d", i))); err != nil {
			t.Fatalf("SaveSession: %v", err)
		}
	}

	sessions, err := s.AllSessions()
	if err != nil {
		t.Fatalf("AllSessions: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("got %d sessions, want 3", len(sessions))
	}
	for _, row := range sessions {
		if row.SegmentsJSON == "" {
			t.Errorf("session %s missing transcript payload", row.ID)
		}
	}
}

func TestDeleteSession_CascadesMessages(t *testing.T) {
	s := openTestStore(t)

	sess := testSession("vid1")
	if err := s.SaveSession(sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := s.SaveMessage(Message{
		ID: "m1", SessionID: sess.ID, Role: "user", Content: "what is this about?",
	}); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	if err := s.DeleteSession(sess.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	history, err := s.GetHistory(sess.ID, 10)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("got %d messages after delete, want 0", len(history))
	}
}

func TestDeleteSession_NotFound(t *testing.T) {
	s := openTestStore(t)
	if err := s.DeleteSession("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestHistory_ChronologicalOrder(t *testing.T) {
	s := openTestStore(t)

	sess := testSession("vid1")
	if err := s.SaveSession(sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	turns := []struct {
		id, role, content string
	}{
		{"m1", "user", "what is the main point?"},
		{"m2", "assistant", "the main point is testing [02:15]"},
		{"m3", "user", "and after that?"},
	}
	// Insert out of order to verify ordering comes from timestamps.
	for _, i := range []int{2, 0, 1} {
		turn := turns[i]
		if err := s.SaveMessage(Message{
			ID:        turn.id,
			SessionID: sess.ID,
			Role:      turn.role,
			Content:   turn.content,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}

	history, err := s.GetHistory(sess.ID, 10)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("got %d messages, want 3", len(history))
	}
	for i, m := range history {
		if m.ID != turns[i].id {
			t.Errorf("history[%d] = %s, want %s", i, m.ID, turns[i].id)
		}
	}
	if history[1].CitationsJSON != "[]" {
		t.Errorf("empty citations should default to [], got %q", history[1].CitationsJSON)
	}
}

func TestHistory_Limit(t *testing.T) {
	s := openTestStore(t)

	sess := testSession("vid1")
	if err := s.SaveSession(sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := s.SaveMessage(Message{
			ID:        fmt.Sprintf("m%d", i),
			SessionID: sess.ID,
			Role:      "user",
			Content:   "q",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}

	history, err := s.GetHistory(sess.ID, 2)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("got %d messages, want 2", len(history))
	}
}
