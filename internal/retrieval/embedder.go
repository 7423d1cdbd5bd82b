package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tubechat/tubechat/internal/engine"
	"github.com/tubechat/tubechat/internal/transcript"
)

// Embedder wraps an Engine to generate text embeddings with a fixed model,
// keeping index and query vectors in the same embedding space.
type Embedder struct {
	engine engine.Engine
	model  string
}

// NewEmbedder creates an Embedder using the given Engine and model name.
func NewEmbedder(e engine.Engine, model string) *Embedder {
	return &Embedder{engine: e, model: model}
}

// Model returns the embedding model name.
func (e *Embedder) Model() string { return e.model }

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vec, nil
}

// EmbedChunks embeds chunk texts concurrently and returns index entries in
// chunk order. Chunks that cannot be embedded (empty text, per-chunk model
// errors) are skipped and logged rather than failing the whole build;
// context cancellation aborts the batch.
func (e *Embedder) EmbedChunks(ctx context.Context, chunks []transcript.Chunk) ([]Entry, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(chunks))
	var mu sync.Mutex
	skipped := 0

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the engine.

	for i, ch := range chunks {
		if ch.Text == "" {
			mu.Lock()
			skipped++
			mu.Unlock()
			slog.Debug("embedder: skipping empty chunk", "chunk", i)
			continue
		}
		g.Go(func() error {
			vec, err := e.engine.Embed(gCtx, e.model, ch.Text)
			if err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				mu.Lock()
				skipped++
				mu.Unlock()
				slog.Warn("embedder: chunk embedding failed, skipping", "chunk", i, "error", err)
				return nil
			}
			vectors[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(chunks))
	for i, vec := range vectors {
		if vec == nil {
			continue
		}
		entries = append(entries, Entry{Chunk: chunks[i], Embedding: vec})
	}
	if skipped > 0 {
		slog.Info("embedder: built entries with reduced chunk count", "chunks", len(chunks), "skipped", skipped)
	}
	return entries, nil
}
