package reranking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tubechat/tubechat/internal/engine"
	"github.com/tubechat/tubechat/internal/retrieval"
)

const defaultConcurrency = 3

// DefaultTopN is the number of chunks the reranker keeps for answer
// composition.
const DefaultTopN = 4

// Reranker re-scores retrieved transcript chunks by question relevance and
// narrows them down to the final context set.
type Reranker interface {
	Rerank(ctx context.Context, query string, chunks []retrieval.ScoredChunk) ([]retrieval.ScoredChunk, error)
}

// NewReranker returns an LLMReranker if enabled, NoOpReranker otherwise.
// A nil engine also falls back to NoOpReranker so callers cannot end up
// with a scorer that panics on first use.
func NewReranker(eng engine.Engine, model string, enabled bool, timeout time.Duration, topN int) Reranker {
	if topN <= 0 {
		topN = DefaultTopN
	}
	if !enabled || eng == nil {
		return &NoOpReranker{topN: topN}
	}
	return &LLMReranker{
		engine:  eng,
		model:   model,
		timeout: timeout,
		topN:    topN,
	}
}

// LLMReranker uses a local LLM to score (question, chunk) relevance pairs.
// Scoring runs concurrently, bounded to defaultConcurrency goroutines.
// Chunks with equal scores keep their first-stage similarity order, so
// reranking never shuffles ties arbitrarily.
type LLMReranker struct {
	engine  engine.Engine
	model   string
	timeout time.Duration
	topN    int
}

// Rerank scores each chunk against the query, sorts by relevance descending
// with stable ties, and truncates to topN. If the timeout fires before
// scoring completes, the first-stage order is returned truncated to topN
// instead of an error: a worse ordering beats no answer.
func (r *LLMReranker) Rerank(ctx context.Context, query string, chunks []retrieval.ScoredChunk) ([]retrieval.ScoredChunk, error) {
	if len(chunks) == 0 {
		return chunks, nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Stage-one scores are the fallback for chunks that fail to score.
	scores := make([]float32, len(chunks))
	for i := range chunks {
		scores[i] = chunks[i].Score
	}

	sem := make(chan struct{}, defaultConcurrency)
	var wg sync.WaitGroup
	for i, ch := range chunks {
		wg.Add(1)
		go func(i int, chunk retrieval.ScoredChunk) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-timeoutCtx.Done():
				return
			}
			defer func() { <-sem }()

			score, err := r.scoreChunk(timeoutCtx, query, chunk)
			if err != nil {
				slog.Debug("reranker: score failed, keeping first-stage score", "chunk", i, "error", err)
				return
			}
			scores[i] = float32(score)
		}(i, ch)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-timeoutCtx.Done():
		slog.Warn("reranker: timed out, keeping first-stage order", "chunks", len(chunks))
		return truncate(chunks, r.topN), nil
	}

	reranked := make([]retrieval.ScoredChunk, len(chunks))
	for i, ch := range chunks {
		ch.Score = scores[i]
		reranked[i] = ch
	}
	// SliceStable keeps the input (first-stage) order for equal scores.
	sort.SliceStable(reranked, func(i, j int) bool {
		return reranked[i].Score > reranked[j].Score
	})
	return truncate(reranked, r.topN), nil
}

func (r *LLMReranker) scoreChunk(ctx context.Context, query string, chunk retrieval.ScoredChunk) (float64, error) {
	prompt := "Rate how relevant the following video transcript excerpt is to the question, on a scale of 0.0 to 1.0.\n" +
		"Question: " + query + "\n" +
		"Excerpt: " + chunk.Chunk.Text + "\n" +
		`Respond with only a JSON object: {"score": <float>}`

	schema := &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"score": {Type: "number", Description: "Relevance score 0.0-1.0"},
		},
		Required: []string{"score"},
	}

	resp, err := r.engine.Chat(ctx, r.model, []engine.Message{
		{Role: "user", Content: prompt},
	}, schema)
	if err != nil {
		return 0, err
	}

	score, parseErr := parseScore(resp)
	if parseErr != nil {
		return 0, parseErr
	}
	return score, nil
}

// parseScore extracts a relevance score float from an LLM response. Small
// local models frequently wrap JSON in markdown code fences or prepend
// conversational filler, so the parser strips fences and locates the JSON
// object by brace position before unmarshalling.
func parseScore(resp string) (float64, error) {
	s := strings.TrimSpace(resp)

	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		if strings.HasPrefix(s, "json") {
			s = s[4:]
		}
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return 0, fmt.Errorf("no JSON object in response")
	}

	var obj struct {
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &obj); err != nil {
		return 0, fmt.Errorf("unmarshal score: %w", err)
	}
	return obj.Score, nil
}

func truncate(chunks []retrieval.ScoredChunk, n int) []retrieval.ScoredChunk {
	if n > 0 && len(chunks) > n {
		return chunks[:n]
	}
	return chunks
}

// NoOpReranker keeps the first-stage order and truncates to topN. Used when
// reranking is disabled.
type NoOpReranker struct {
	topN int
}

func (n *NoOpReranker) Rerank(_ context.Context, _ string, chunks []retrieval.ScoredChunk) ([]retrieval.ScoredChunk, error) {
	return truncate(chunks, n.topN), nil
}
