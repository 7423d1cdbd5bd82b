package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/tubechat/tubechat/internal/answer"
	"github.com/tubechat/tubechat/internal/engine"
	"github.com/tubechat/tubechat/internal/reranking"
	"github.com/tubechat/tubechat/internal/retrieval"
	"github.com/tubechat/tubechat/internal/rewrite"
	"github.com/tubechat/tubechat/internal/session"
	"github.com/tubechat/tubechat/internal/storage"
	"github.com/tubechat/tubechat/internal/transcript"
)

// --- mocks ---

type mockEngine struct {
	embedFn func(ctx context.Context, model, text string) ([]float32, error)
	chatFn  func(ctx context.Context, model string, msgs []engine.Message, schema *engine.Schema) (string, error)
}

func (m *mockEngine) Chat(ctx context.Context, model string, msgs []engine.Message, schema *engine.Schema) (string, error) {
	if m.chatFn != nil {
		return m.chatFn(ctx, model, msgs, schema)
	}
	return `{"query": "REJECT"}`, nil
}
func (m *mockEngine) Embed(ctx context.Context, model, text string) ([]float32, error) {
	if m.embedFn != nil {
		return m.embedFn(ctx, model, text)
	}
	return []float32{1, 0}, nil
}
func (m *mockEngine) IsRunning(_ context.Context) bool               { return true }
func (m *mockEngine) ListModels(_ context.Context) ([]string, error) { return nil, nil }
func (m *mockEngine) HasModel(_ context.Context, _ string) bool      { return true }
func (m *mockEngine) PullModel(_ context.Context, _ string, _ func(engine.PullProgress)) error {
	return nil
}

type mockGenerator struct {
	response string
	err      error
	gotMsgs  []engine.Message
	gotMax   int
	gotKey   string
	calls    int
}

func (m *mockGenerator) Generate(_ context.Context, messages []engine.Message, maxTokens int, keyOverride string) (string, error) {
	m.calls++
	m.gotMsgs = messages
	m.gotMax = maxTokens
	m.gotKey = keyOverride
	return m.response, m.err
}

// --- helpers ---

type testRig struct {
	pipeline *Pipeline
	store    *session.Store
	db       *storage.Store
	gen      *mockGenerator
}

func newTestRig(t *testing.T, eng *mockEngine, gen *mockGenerator) *testRig {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	embedder := retrieval.NewEmbedder(eng, "nomic-embed-text")
	store := session.NewStore()
	p := New(Options{
		Store:     store,
		DB:        db,
		Builder:   session.NewBuilder(embedder, 10, 0.2),
		Rewriter:  rewrite.New(eng, "qwen2.5:3b"),
		Retriever: retrieval.NewRetriever(embedder),
		Reranker:  reranking.NewReranker(nil, "", false, 0, 4),
		Composer:  answer.New(0),
		Generator: gen,
		TopK:      20,
	})
	return &testRig{pipeline: p, store: store, db: db, gen: gen}
}

func syncSegments() []transcript.WireSegment {
	return []transcript.WireSegment{
		{Time: "0:00", Text: "welcome to the talk about goroutines and channels"},
		{Time: "0:30", Text: "first we look at the memory model and happens before"},
		{Time: "1:00", Text: "then we build a worker pool with bounded concurrency"},
		{Time: "1:30", Text: "finally we discuss context cancellation and deadlines"},
	}
}

func mustSync(t *testing.T, rig *testRig) SyncResult {
	t.Helper()
	res, err := rig.pipeline.Sync(context.Background(), SyncRequest{
		VideoID:  "vid1",
		Title:    "Concurrency Talk",
		Language: "en",
		Segments: syncSegments(),
	})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	return res
}

// --- tests ---

func TestSync_BuildsAndPersists(t *testing.T) {
	rig := newTestRig(t, &mockEngine{}, &mockGenerator{})

	res := mustSync(t, rig)
	if res.SessionID == "" {
		t.Error("no session ID returned")
	}
	if res.Chunks == 0 {
		t.Error("no chunks indexed")
	}

	if _, err := rig.store.Get("vid1"); err != nil {
		t.Errorf("session not in memory: %v", err)
	}
	row, err := rig.db.GetSessionByVideo("vid1")
	if err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if row.ChunkCount != res.Chunks || row.EmbedModel != "nomic-embed-text" {
		t.Errorf("persisted row = %+v", row)
	}
	if row.Title != "Concurrency Talk" {
		t.Errorf("Title = %q", row.Title)
	}
}

func TestSync_Validation(t *testing.T) {
	rig := newTestRig(t, &mockEngine{}, &mockGenerator{})

	if _, err := rig.pipeline.Sync(context.Background(), SyncRequest{Segments: syncSegments()}); err == nil {
		t.Error("expected error for missing video_id")
	}
	_, err := rig.pipeline.Sync(context.Background(), SyncRequest{VideoID: "vid1"})
	if !errors.Is(err, ErrEmptyTranscript) {
		t.Errorf("err = %v, want ErrEmptyTranscript", err)
	}
}

// A sync that is overtaken mid-build by a fresh sync for the same video
// must leave neither the in-memory index nor the persisted row pointing at
// the outdated transcript, or a restart would resurrect it.
func TestSync_SupersededSyncNotPersisted(t *testing.T) {
	staleStarted := make(chan struct{})
	staleRelease := make(chan struct{})
	var once sync.Once
	eng := &mockEngine{
		embedFn: func(_ context.Context, _, text string) ([]float32, error) {
			if strings.Contains(text, "outdated") {
				once.Do(func() { close(staleStarted) })
				<-staleRelease
			}
			return []float32{1, 0}, nil
		},
	}
	rig := newTestRig(t, eng, &mockGenerator{})

	staleDone := make(chan SyncResult, 1)
	go func() {
		res, err := rig.pipeline.Sync(context.Background(), SyncRequest{
			VideoID:  "vid1",
			Segments: []transcript.WireSegment{{Time: "0:00", Text: "outdated words nobody should see"}},
		})
		if err != nil {
			t.Errorf("stale Sync: %v", err)
		}
		staleDone <- res
	}()

	<-staleStarted
	fresh, err := rig.pipeline.Sync(context.Background(), SyncRequest{
		VideoID:  "vid1",
		Segments: []transcript.WireSegment{{Time: "0:00", Text: "replacement transcript that must survive"}},
	})
	if err != nil {
		t.Fatalf("fresh Sync: %v", err)
	}

	close(staleRelease)
	staleRes := <-staleDone
	if staleRes.SessionID != fresh.SessionID {
		t.Errorf("superseded sync returned session %q, want the winning %q", staleRes.SessionID, fresh.SessionID)
	}

	sess, err := rig.store.Get("vid1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if chunks := sess.Index.Chunks(); len(chunks) == 0 || !strings.Contains(chunks[0].Text, "replacement") {
		t.Errorf("in-memory index holds %+v, want the replacement transcript", chunks)
	}

	row, err := rig.db.GetSessionByVideo("vid1")
	if err != nil {
		t.Fatalf("GetSessionByVideo: %v", err)
	}
	if row.ID != fresh.SessionID {
		t.Errorf("persisted row ID = %q, want %q", row.ID, fresh.SessionID)
	}
	if strings.Contains(row.SegmentsJSON, "outdated") || !strings.Contains(row.SegmentsJSON, "replacement") {
		t.Errorf("persisted transcript is the superseded sync: %s", row.SegmentsJSON)
	}
}

func TestChat_NoSession(t *testing.T) {
	rig := newTestRig(t, &mockEngine{}, &mockGenerator{})
	_, err := rig.pipeline.Chat(context.Background(), ChatRequest{VideoID: "vid1", Question: "what?"})
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}
}

func TestChat_EmptyQuestion(t *testing.T) {
	rig := newTestRig(t, &mockEngine{}, &mockGenerator{})
	if _, err := rig.pipeline.Chat(context.Background(), ChatRequest{VideoID: "vid1", Question: "  "}); err == nil {
		t.Fatal("expected error for empty question")
	}
}

func TestChat_AnswerWithCitations(t *testing.T) {
	gen := &mockGenerator{response: "Worker pools are covered at [01:00]."}
	rig := newTestRig(t, &mockEngine{}, gen)
	mustSync(t, rig)

	res, err := rig.pipeline.Chat(context.Background(), ChatRequest{
		VideoID:  "vid1",
		Question: "where are worker pools discussed?",
		Mode:     answer.ModeConcise,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if res.Answer != "Worker pools are covered at [01:00]." {
		t.Errorf("Answer = %q", res.Answer)
	}
	if len(res.Citations) != 1 || res.Citations[0].Label != "01:00" {
		t.Errorf("Citations = %+v", res.Citations)
	}
	if res.NoSources {
		t.Error("NoSources should be false")
	}
	if gen.gotMax != 512 {
		t.Errorf("maxTokens = %d, want 512 for concise", gen.gotMax)
	}
	if gen.gotMsgs[0].Role != "system" {
		t.Error("first message should be the system prompt")
	}
	if gen.gotMsgs[len(gen.gotMsgs)-1].Content != "where are worker pools discussed?" {
		t.Error("question should be the last message")
	}

	history, err := rig.pipeline.History(res.SessionID, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d history turns, want 2", len(history))
	}
	if history[0].Role != "user" || history[1].Role != "assistant" {
		t.Errorf("roles = %s, %s", history[0].Role, history[1].Role)
	}
	if !strings.Contains(history[1].CitationsJSON, "01:00") {
		t.Errorf("assistant CitationsJSON = %q", history[1].CitationsJSON)
	}
}

func TestChat_KeyOverrideForwarded(t *testing.T) {
	gen := &mockGenerator{response: "ok"}
	rig := newTestRig(t, &mockEngine{}, gen)
	mustSync(t, rig)

	if _, err := rig.pipeline.Chat(context.Background(), ChatRequest{
		VideoID:     "vid1",
		Question:    "anything?",
		KeyOverride: "sk-user",
	}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if gen.gotKey != "sk-user" {
		t.Errorf("keyOverride = %q, want sk-user", gen.gotKey)
	}
}

func TestChat_NoSources(t *testing.T) {
	gen := &mockGenerator{response: "[NO_SOURCES]"}
	rig := newTestRig(t, &mockEngine{}, gen)
	mustSync(t, rig)

	res, err := rig.pipeline.Chat(context.Background(), ChatRequest{
		VideoID:  "vid1",
		Question: "what does the speaker say about rust?",
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !res.NoSources {
		t.Error("NoSources should be true")
	}
	if res.Answer != "" {
		t.Errorf("Answer = %q, want marker stripped", res.Answer)
	}
	if len(res.Citations) != 0 {
		t.Errorf("Citations = %+v, want none", res.Citations)
	}
}

func TestChat_GeneratorError(t *testing.T) {
	gen := &mockGenerator{err: fmt.Errorf("cloud down")}
	rig := newTestRig(t, &mockEngine{}, gen)
	mustSync(t, rig)

	if _, err := rig.pipeline.Chat(context.Background(), ChatRequest{VideoID: "vid1", Question: "q?"}); err == nil {
		t.Fatal("expected generator error to surface")
	}
}

func TestChat_SummarySamplesWholeTranscript(t *testing.T) {
	gen := &mockGenerator{response: "A summary."}
	rig := newTestRig(t, &mockEngine{}, gen)
	mustSync(t, rig)

	if _, err := rig.pipeline.Chat(context.Background(), ChatRequest{
		VideoID:  "vid1",
		Question: "can you summarize the video?",
	}); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	prompt := gen.gotMsgs[0].Content
	if !strings.Contains(prompt, "welcome to the talk") {
		t.Error("summary context missing the opening of the transcript")
	}
	if !strings.Contains(prompt, "context cancellation") {
		t.Error("summary context missing the end of the transcript")
	}
}

func TestClear_RemovesSession(t *testing.T) {
	rig := newTestRig(t, &mockEngine{}, &mockGenerator{response: "ok"})
	mustSync(t, rig)

	if err := rig.pipeline.Clear(context.Background(), "vid1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := rig.pipeline.Chat(context.Background(), ChatRequest{VideoID: "vid1", Question: "q?"}); !errors.Is(err, ErrNoSession) {
		t.Errorf("err = %v, want ErrNoSession after clear", err)
	}
	if _, err := rig.db.GetSessionByVideo("vid1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("persisted session should be gone, err = %v", err)
	}
}

func TestClear_Unknown(t *testing.T) {
	rig := newTestRig(t, &mockEngine{}, &mockGenerator{})
	if err := rig.pipeline.Clear(context.Background(), "missing"); !errors.Is(err, ErrNoSession) {
		t.Errorf("err = %v, want ErrNoSession", err)
	}
}

func TestIsSummaryQuery(t *testing.T) {
	cases := map[string]bool{
		"Summarize this video please":      true,
		"what is this video about?":        true,
		"TL;DR?":                           true,
		"give me the key takeaways":        true,
		"where is quicksort explained?":    false,
		"what did they say about testing?": false,
	}
	for q, want := range cases {
		if got := isSummaryQuery(q); got != want {
			t.Errorf("isSummaryQuery(%q) = %v, want %v", q, got, want)
		}
	}
}

func TestSampleChunks_Stride(t *testing.T) {
	entries := make([]retrieval.Entry, 10)
	for i := range entries {
		entries[i] = retrieval.Entry{
			Chunk:     transcript.Chunk{Text: fmt.Sprintf("chunk %d", i)},
			Embedding: []float32{1},
		}
	}
	index := retrieval.NewIndex("nomic-embed-text", entries)

	sampled := sampleChunks(index, 5)
	if len(sampled) != 5 {
		t.Fatalf("got %d chunks, want 5", len(sampled))
	}
	if sampled[0].Chunk.Text != "chunk 0" {
		t.Errorf("first sample = %q, want chunk 0", sampled[0].Chunk.Text)
	}
	if sampled[4].Chunk.Text != "chunk 8" {
		t.Errorf("last sample = %q, want chunk 8", sampled[4].Chunk.Text)
	}
}
