package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/tubechat/tubechat/internal/storage"
	"github.com/tubechat/tubechat/internal/transcript"
)

// Restore rebuilds in-memory indexes for every persisted session. It runs
// at startup so previously synced videos are queryable without a fresh
// sync. Sessions that fail to rebuild are logged and skipped; one corrupt
// row must not keep the server from starting.
func Restore(ctx context.Context, db *storage.Store, store *Store, builder *Builder) error {
	rows, err := db.AllSessions()
	if err != nil {
		return fmt.Errorf("loading persisted sessions: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(2)

	for _, row := range rows {
		g.Go(func() error {
			segments, err := decodeSegments(row.SegmentsJSON)
			if err != nil {
				slog.Warn("restore: skipping session with bad transcript", "video_id", row.VideoID, "error", err)
				return nil
			}

			meta := Meta{VideoID: row.VideoID, Title: row.Title, Language: row.Language}
			sess, installed, err := store.Replace(gCtx, row.VideoID, func(ctx context.Context) (*Session, error) {
				built, err := builder.Build(ctx, meta, segments)
				if err != nil {
					return nil, err
				}
				// Keep the persisted session ID so chat history stays attached.
				built.ID = row.ID
				built.SyncedAt = row.UpdatedAt
				return built, nil
			})
			if err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				slog.Warn("restore: skipping session", "video_id", row.VideoID, "error", err)
				return nil
			}
			if !installed {
				// A live sync replaced this video while the rebuild ran.
				slog.Debug("restore: superseded by a fresh sync", "video_id", row.VideoID)
				return nil
			}
			slog.Info("restore: session ready", "video_id", row.VideoID, "chunks", sess.Index.Len())
			return nil
		})
	}

	return g.Wait()
}

func decodeSegments(segmentsJSON string) ([]transcript.Segment, error) {
	var wire []transcript.WireSegment
	if err := json.Unmarshal([]byte(segmentsJSON), &wire); err != nil {
		return nil, fmt.Errorf("decoding segments: %w", err)
	}
	if len(wire) == 0 {
		return nil, fmt.Errorf("empty transcript")
	}
	return transcript.FromWire(wire), nil
}
