package retrieval

import (
	"container/heap"
	"errors"
	"math"

	"github.com/tubechat/tubechat/internal/transcript"
)

// ErrModelMismatch is returned when a query vector was produced by a
// different embedding model than the index. Mixing models corrupts ranking
// silently, so the index records its model and rejects mismatched queries.
var ErrModelMismatch = errors.New("query embedded with a different model than the index")

// Entry pairs a transcript chunk with its embedding vector.
type Entry struct {
	Chunk     transcript.Chunk
	Embedding []float32
}

// ScoredChunk is a chunk with its similarity (or relevance) score attached.
type ScoredChunk struct {
	Chunk transcript.Chunk
	Score float32
}

// Index is an immutable in-memory similarity index over one transcript.
// It is built once, installed atomically into a session, and released as a
// whole; it is never mutated in place, so concurrent searches need no
// locking.
type Index struct {
	model   string
	entries []Entry
}

// NewIndex creates an Index over the given entries. model names the
// embedding model that produced every vector in entries.
func NewIndex(model string, entries []Entry) *Index {
	return &Index{model: model, entries: entries}
}

// Model returns the name of the embedding model backing this index.
func (ix *Index) Model() string { return ix.model }

// Len returns the number of indexed chunks.
func (ix *Index) Len() int { return len(ix.entries) }

// Chunks returns the indexed chunks in transcript order.
func (ix *Index) Chunks() []transcript.Chunk {
	chunks := make([]transcript.Chunk, len(ix.entries))
	for i, e := range ix.entries {
		chunks[i] = e.Chunk
	}
	return chunks
}

// Search performs brute-force cosine similarity search over all entries,
// returning the top-K most similar chunks ordered by score descending.
// model must match the model the index was built with.
func (ix *Index) Search(vector []float32, model string, topK int) ([]ScoredChunk, error) {
	if model != ix.model {
		return nil, ErrModelMismatch
	}
	if len(ix.entries) == 0 || topK <= 0 {
		return nil, nil
	}

	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	h := &entryScoreHeap{}
	heap.Init(h)

	for i, e := range ix.entries {
		score := cosine(vector, e.Embedding, queryNorm)
		if h.Len() < topK {
			heap.Push(h, entryScore{idx: i, score: score})
		} else if score > (*h)[0].score {
			(*h)[0] = entryScore{idx: i, score: score}
			heap.Fix(h, 0)
		}
	}

	results := make([]ScoredChunk, h.Len())
	for i := len(results) - 1; i >= 0; i-- {
		item := heap.Pop(h).(entryScore)
		results[i] = ScoredChunk{Chunk: ix.entries[item.idx].Chunk, Score: item.score}
	}
	return results, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes cosine similarity as dot(a,b) / (aNorm * |b|).
// aNorm is the precomputed L2 norm of vector a.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// entryScore holds an entry index and its score during the scan phase.
type entryScore struct {
	idx   int
	score float32
}

// entryScoreHeap is a min-heap of entryScore ordered by score, used to
// track the top-K candidates during a search scan. Tied scores order by
// transcript position so repeated searches return identical rankings.
type entryScoreHeap []entryScore

func (h entryScoreHeap) Len() int { return len(h) }
func (h entryScoreHeap) Less(i, j int) bool {
	if h[i].score == h[j].score {
		return h[i].idx > h[j].idx
	}
	return h[i].score < h[j].score
}
func (h entryScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *entryScoreHeap) Push(x any)        { *h = append(*h, x.(entryScore)) }
func (h *entryScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
