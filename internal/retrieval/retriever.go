package retrieval

import (
	"context"
	"fmt"
)

// DefaultTopK is the first-stage recall target. It is deliberately broader
// than the final answer set; the reranker narrows it down.
const DefaultTopK = 20

// Retriever embeds queries and searches a session's index for candidate
// chunks.
type Retriever struct {
	embedder *Embedder
}

// NewRetriever creates a Retriever backed by the given Embedder.
func NewRetriever(embedder *Embedder) *Retriever {
	return &Retriever{embedder: embedder}
}

// Retrieve embeds the query and returns the top-K most similar chunks from
// the index, ordered by similarity descending. An empty or nil index yields
// an empty result, not an error: the caller decides whether "no context" is
// a problem.
func (r *Retriever) Retrieve(ctx context.Context, index *Index, query string, topK int) ([]ScoredChunk, error) {
	if index == nil || index.Len() == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	results, err := index.Search(vec, r.embedder.Model(), topK)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}
	return results, nil
}
