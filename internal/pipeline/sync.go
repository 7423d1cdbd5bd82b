package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tubechat/tubechat/internal/session"
	"github.com/tubechat/tubechat/internal/storage"
	"github.com/tubechat/tubechat/internal/transcript"
)

// SyncRequest carries one video transcript from the extension.
type SyncRequest struct {
	VideoID  string
	Title    string
	Language string
	Segments []transcript.WireSegment
}

// SyncResult reports what the sync produced.
type SyncResult struct {
	SessionID string
	Chunks    int
}

// Sync sanitises and indexes a transcript, replacing any existing session
// for the video, and persists it so the session survives a restart.
func (p *Pipeline) Sync(ctx context.Context, req SyncRequest) (SyncResult, error) {
	if req.VideoID == "" {
		return SyncResult{}, fmt.Errorf("video_id is required")
	}
	segments := transcript.FromWire(req.Segments)
	if len(segments) == 0 {
		return SyncResult{}, ErrEmptyTranscript
	}

	meta := session.Meta{VideoID: req.VideoID, Title: req.Title, Language: req.Language}
	sess, installed, err := p.store.Replace(ctx, req.VideoID, func(ctx context.Context) (*session.Session, error) {
		return p.builder.Build(ctx, meta, segments)
	})
	if err != nil {
		return SyncResult{}, fmt.Errorf("building session: %w", err)
	}
	if !installed {
		// A newer sync for this video won the race; its build serves the
		// answers and owns the persisted row. Report that session so the
		// caller holds a valid ID.
		slog.Info("sync: superseded by a newer sync", "video_id", req.VideoID)
		if cur, err := p.store.Get(req.VideoID); err == nil {
			return SyncResult{SessionID: cur.ID, Chunks: cur.Index.Len()}, nil
		}
		return SyncResult{SessionID: sess.ID, Chunks: sess.Index.Len()}, nil
	}

	segmentsJSON, err := json.Marshal(req.Segments)
	if err != nil {
		return SyncResult{}, fmt.Errorf("encoding transcript: %w", err)
	}
	if err := p.db.SaveSession(storage.SessionRow{
		ID:           sess.ID,
		VideoID:      sess.VideoID,
		Title:        sess.Title,
		Language:     sess.Language,
		SegmentsJSON: string(segmentsJSON),
		ChunkCount:   sess.Index.Len(),
		EmbedModel:   sess.Index.Model(),
	}); err != nil {
		// The in-memory session is live; losing durability is worth a
		// warning, not a failed sync.
		slog.Warn("sync: persisting session failed", "video_id", req.VideoID, "error", err)
	}

	slog.Info("sync: session ready", "video_id", req.VideoID, "chunks", sess.Index.Len())
	return SyncResult{SessionID: sess.ID, Chunks: sess.Index.Len()}, nil
}

// Clear removes the session for a video from memory and storage.
func (p *Pipeline) Clear(ctx context.Context, videoID string) error {
	memErr := p.store.Clear(videoID)
	if memErr != nil && !errors.Is(memErr, session.ErrNotFound) {
		return memErr
	}

	row, err := p.db.GetSessionByVideo(videoID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			if memErr != nil {
				return ErrNoSession
			}
			return nil
		}
		return err
	}
	if err := p.db.DeleteSession(row.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}
