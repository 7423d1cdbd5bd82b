package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tubechat/tubechat/internal/retrieval"
)

// ErrNotFound is returned when no session exists for a video.
var ErrNotFound = errors.New("session not found")

// Session is the in-memory state for one synced video: its metadata plus
// the similarity index over its transcript chunks.
type Session struct {
	ID       string
	VideoID  string
	Title    string
	Language string
	Index    *retrieval.Index
	SyncedAt time.Time
}

// Store holds active sessions keyed by video ID. Index builds happen
// outside the lock; installation is an atomic pointer swap, so readers
// always see either the old complete index or the new one, never a partial
// build. A per-video generation counter resolves racing builds: the build
// that started last wins regardless of which finishes first.
type Store struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	started   map[string]uint64 // generation of the latest build started
	installed map[string]uint64 // generation of the currently installed build
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		sessions:  make(map[string]*Session),
		started:   make(map[string]uint64),
		installed: make(map[string]uint64),
	}
}

// Replace builds a session via build and installs it for videoID. The
// previous session (if any) stays queryable until the new one is swapped
// in. If another Replace for the same video started after this one, the
// finished build is discarded and installed is false, so a slow older sync
// can never clobber a newer one; callers must not persist a discarded
// build either.
func (st *Store) Replace(ctx context.Context, videoID string, build func(context.Context) (*Session, error)) (sess *Session, installed bool, err error) {
	st.mu.Lock()
	st.started[videoID]++
	gen := st.started[videoID]
	st.mu.Unlock()

	sess, err = build(ctx)
	if err != nil {
		return nil, false, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if gen < st.started[videoID] || gen <= st.installed[videoID] {
		slog.Debug("session: discarding superseded build", "video_id", videoID, "generation", gen)
		return sess, false, nil
	}
	st.sessions[videoID] = sess
	st.installed[videoID] = gen
	return sess, true, nil
}

// Get returns the active session for a video.
func (st *Store) Get(videoID string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	sess, ok := st.sessions[videoID]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Clear removes the session for a video, releasing its index. The
// generation also advances so an in-flight build started before the clear
// cannot resurrect the session.
func (st *Store) Clear(videoID string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[videoID]; !ok {
		return ErrNotFound
	}
	delete(st.sessions, videoID)
	st.started[videoID]++
	st.installed[videoID] = st.started[videoID]
	return nil
}

// Len returns the number of active sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
