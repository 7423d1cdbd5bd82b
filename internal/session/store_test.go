package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tubechat/tubechat/internal/retrieval"
	"github.com/tubechat/tubechat/internal/transcript"
)

func stubSession(videoID, title string) *Session {
	return &Session{
		ID:      "sess-" + title,
		VideoID: videoID,
		Title:   title,
		Index: retrieval.NewIndex("nomic-embed-text", []retrieval.Entry{
			{Chunk: transcript.Chunk{Text: title}, Embedding: []float32{1}},
		}),
		SyncedAt: time.Now(),
	}
}

func TestStore_ReplaceAndGet(t *testing.T) {
	st := NewStore()

	sess, installed, err := st.Replace(context.Background(), "vid1", func(context.Context) (*Session, error) {
		return stubSession("vid1", "first"), nil
	})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if !installed {
		t.Error("uncontested build should install")
	}
	if sess.Title != "first" {
		t.Errorf("Title = %q, want first", sess.Title)
	}

	got, err := st.Get("vid1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != sess {
		t.Error("Get returned a different session than Replace installed")
	}
}

func TestStore_GetMissing(t *testing.T) {
	st := NewStore()
	if _, err := st.Get("vid1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_ReplaceOverwrites(t *testing.T) {
	st := NewStore()
	for _, title := range []string{"first", "second"} {
		if _, _, err := st.Replace(context.Background(), "vid1", func(context.Context) (*Session, error) {
			return stubSession("vid1", title), nil
		}); err != nil {
			t.Fatalf("Replace: %v", err)
		}
	}

	got, err := st.Get("vid1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "second" {
		t.Errorf("Title = %q, want second", got.Title)
	}
	if st.Len() != 1 {
		t.Errorf("Len = %d, want 1", st.Len())
	}
}

func TestStore_BuildErrorKeepsOldSession(t *testing.T) {
	st := NewStore()
	if _, _, err := st.Replace(context.Background(), "vid1", func(context.Context) (*Session, error) {
		return stubSession("vid1", "good"), nil
	}); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	if _, _, err := st.Replace(context.Background(), "vid1", func(context.Context) (*Session, error) {
		return nil, errors.New("embedder down")
	}); err == nil {
		t.Fatal("expected build error to surface")
	}

	got, err := st.Get("vid1")
	if err != nil {
		t.Fatalf("Get after failed replace: %v", err)
	}
	if got.Title != "good" {
		t.Errorf("failed replace must keep the previous session, got %q", got.Title)
	}
}

func TestStore_NewestBuildWins(t *testing.T) {
	st := NewStore()

	oldStarted := make(chan struct{})
	oldRelease := make(chan struct{})

	var oldInstalled bool
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, oldInstalled, _ = st.Replace(context.Background(), "vid1", func(context.Context) (*Session, error) {
			close(oldStarted)
			<-oldRelease // finishes after the newer build
			return stubSession("vid1", "old"), nil
		})
	}()

	<-oldStarted
	if _, installed, err := st.Replace(context.Background(), "vid1", func(context.Context) (*Session, error) {
		return stubSession("vid1", "new"), nil
	}); err != nil {
		t.Fatalf("Replace: %v", err)
	} else if !installed {
		t.Error("newer build should install")
	}

	close(oldRelease)
	wg.Wait()

	if oldInstalled {
		t.Error("superseded build must report installed = false")
	}
	got, err := st.Get("vid1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "new" {
		t.Errorf("Title = %q, want new (later build must win even if it finishes first)", got.Title)
	}
}

func TestStore_Clear(t *testing.T) {
	st := NewStore()
	if _, _, err := st.Replace(context.Background(), "vid1", func(context.Context) (*Session, error) {
		return stubSession("vid1", "first"), nil
	}); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	if err := st.Clear("vid1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := st.Get("vid1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound after clear", err)
	}
	if err := st.Clear("vid1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second clear err = %v, want ErrNotFound", err)
	}
}

func TestStore_ClearDiscardsInFlightBuild(t *testing.T) {
	st := NewStore()
	if _, _, err := st.Replace(context.Background(), "vid1", func(context.Context) (*Session, error) {
		return stubSession("vid1", "first"), nil
	}); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	buildStarted := make(chan struct{})
	buildRelease := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		st.Replace(context.Background(), "vid1", func(context.Context) (*Session, error) {
			close(buildStarted)
			<-buildRelease
			return stubSession("vid1", "stale"), nil
		})
	}()

	<-buildStarted
	if err := st.Clear("vid1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	close(buildRelease)
	wg.Wait()

	if _, err := st.Get("vid1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("build started before clear must not resurrect the session, err = %v", err)
	}
}

func TestStore_ConcurrentReplaceDistinctVideos(t *testing.T) {
	st := NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			videoID := fmt.Sprintf("vid%d", i)
			st.Replace(context.Background(), videoID, func(context.Context) (*Session, error) {
				return stubSession(videoID, videoID), nil
			})
		}(i)
	}
	wg.Wait()

	if st.Len() != 8 {
		t.Errorf("Len = %d, want 8", st.Len())
	}
}
