package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tubechat/tubechat/internal/retrieval"
	"github.com/tubechat/tubechat/internal/transcript"
)

// Meta carries the video metadata a session is built from.
type Meta struct {
	VideoID  string
	Title    string
	Language string
}

// Builder turns a sanitised transcript into a ready session: chunk, embed,
// index. Both the sync path and startup restore go through it so every
// index in the store was produced the same way.
type Builder struct {
	embedder        *retrieval.Embedder
	targetWords     int
	overlapFraction float64
}

// NewBuilder creates a Builder. Non-positive targetWords or a fraction
// outside (0, 1) fall back to the chunker defaults.
func NewBuilder(embedder *retrieval.Embedder, targetWords int, overlapFraction float64) *Builder {
	if targetWords <= 0 {
		targetWords = transcript.DefaultTargetWords
	}
	if overlapFraction <= 0 || overlapFraction >= 1 {
		overlapFraction = transcript.DefaultOverlapFraction
	}
	return &Builder{
		embedder:        embedder,
		targetWords:     targetWords,
		overlapFraction: overlapFraction,
	}
}

// Build chunks and embeds segments and returns a session holding the
// resulting index. An empty transcript is an error; a transcript whose
// chunks all fail to embed is too, since the session would be unanswerable.
func (b *Builder) Build(ctx context.Context, meta Meta, segments []transcript.Segment) (*Session, error) {
	chunks := transcript.Split(segments, b.targetWords, b.overlapFraction)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("transcript for video %s produced no chunks", meta.VideoID)
	}

	entries, err := b.embedder.EmbedChunks(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("embedding transcript for video %s: %w", meta.VideoID, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no chunks could be embedded for video %s", meta.VideoID)
	}

	return &Session{
		ID:       uuid.NewString(),
		VideoID:  meta.VideoID,
		Title:    meta.Title,
		Language: meta.Language,
		Index:    retrieval.NewIndex(b.embedder.Model(), entries),
		SyncedAt: time.Now(),
	}, nil
}
