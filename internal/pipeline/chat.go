package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tubechat/tubechat/internal/answer"
	"github.com/tubechat/tubechat/internal/engine"
	"github.com/tubechat/tubechat/internal/retrieval"
	"github.com/tubechat/tubechat/internal/session"
	"github.com/tubechat/tubechat/internal/storage"
)

const (
	historyLimit        = 20
	summarySampleChunks = 5
)

// ChatRequest is one question against a synced video.
type ChatRequest struct {
	VideoID     string
	Question    string
	Mode        answer.Mode
	KeyOverride string
}

// ChatResult is the generated answer with its extracted citations.
type ChatResult struct {
	SessionID string
	Answer    string
	Citations []answer.Citation
	NoSources bool
}

// Chat answers a question about a synced video. The question is rewritten
// against recent history into a standalone query, candidate chunks are
// retrieved and reranked, and the answer is generated from the composed
// context. Both turns are persisted to the session history.
func (p *Pipeline) Chat(ctx context.Context, req ChatRequest) (ChatResult, error) {
	if strings.TrimSpace(req.Question) == "" {
		return ChatResult{}, fmt.Errorf("question is required")
	}

	sess, err := p.store.Get(req.VideoID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ChatResult{}, ErrNoSession
		}
		return ChatResult{}, err
	}

	history := p.loadHistory(sess.ID)

	chunks, err := p.gatherContext(ctx, sess, req.Question, history)
	if err != nil {
		return ChatResult{}, err
	}

	prompt := p.composer.Compose(sess.Title, chunks, req.Mode)
	messages := make([]engine.Message, 0, len(history)+2)
	messages = append(messages, engine.Message{Role: "system", Content: prompt})
	messages = append(messages, history...)
	messages = append(messages, engine.Message{Role: "user", Content: req.Question})

	raw, err := p.generator.Generate(ctx, messages, answer.MaxAnswerTokens(req.Mode), req.KeyOverride)
	if err != nil {
		return ChatResult{}, fmt.Errorf("generating answer: %w", err)
	}

	result := ChatResult{
		SessionID: sess.ID,
		NoSources: answer.HasNoSources(raw),
		Answer:    answer.StripNoSources(raw),
	}
	result.Citations = answer.ExtractCitations(result.Answer)

	p.persistTurn(sess.ID, req.Question, result)
	return result, nil
}

// gatherContext picks the transcript chunks the answer is grounded on.
// Summary-style questions sample the whole transcript evenly; everything
// else goes through rewrite, similarity search, and reranking.
func (p *Pipeline) gatherContext(ctx context.Context, sess *session.Session, question string, history []engine.Message) ([]retrieval.ScoredChunk, error) {
	if isSummaryQuery(question) {
		return sampleChunks(sess.Index, summarySampleChunks), nil
	}

	query := p.rewriter.Rewrite(ctx, question, history)

	retrieved, err := p.retriever.Retrieve(ctx, sess.Index, query, p.topK)
	if err != nil {
		return nil, fmt.Errorf("retrieving context: %w", err)
	}

	reranked, err := p.reranker.Rerank(ctx, query, retrieved)
	if err != nil {
		slog.Warn("chat: rerank failed, using retrieval order", "error", err)
		return retrieved, nil
	}
	return reranked, nil
}

// isSummaryQuery detects whole-video questions that similarity search
// handles poorly: the query matches everything equally, so retrieval picks
// an arbitrary corner of the transcript.
func isSummaryQuery(question string) bool {
	q := strings.ToLower(question)
	for _, kw := range []string{
		"summarize", "summarise", "summary",
		"tl;dr", "tldr",
		"what is this video about",
		"what is the video about",
		"main points", "key points", "key takeaways",
	} {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}

// sampleChunks picks n chunks spread evenly across the transcript.
func sampleChunks(index *retrieval.Index, n int) []retrieval.ScoredChunk {
	chunks := index.Chunks()
	if len(chunks) == 0 || n <= 0 {
		return nil
	}
	if len(chunks) <= n {
		out := make([]retrieval.ScoredChunk, len(chunks))
		for i, ch := range chunks {
			out[i] = retrieval.ScoredChunk{Chunk: ch}
		}
		return out
	}

	out := make([]retrieval.ScoredChunk, 0, n)
	stride := float64(len(chunks)) / float64(n)
	for i := 0; i < n; i++ {
		out = append(out, retrieval.ScoredChunk{Chunk: chunks[int(float64(i)*stride)]})
	}
	return out
}

// loadHistory returns the recent chat turns as engine messages. History is
// advisory; a read failure degrades to an empty history.
func (p *Pipeline) loadHistory(sessionID string) []engine.Message {
	rows, err := p.db.GetHistory(sessionID, historyLimit)
	if err != nil {
		slog.Warn("chat: loading history failed", "session_id", sessionID, "error", err)
		return nil
	}
	out := make([]engine.Message, len(rows))
	for i, m := range rows {
		out[i] = engine.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// History returns the persisted turns for a session.
func (p *Pipeline) History(sessionID string, limit int) ([]storage.Message, error) {
	if limit <= 0 {
		limit = historyLimit
	}
	return p.db.GetHistory(sessionID, limit)
}

// Sessions lists persisted sessions, most recently updated first.
func (p *Pipeline) Sessions(limit int) ([]storage.SessionRow, error) {
	if limit <= 0 {
		limit = 50
	}
	return p.db.ListSessions(limit)
}

func (p *Pipeline) persistTurn(sessionID, question string, result ChatResult) {
	now := time.Now()
	if err := p.db.SaveMessage(storage.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      "user",
		Content:   question,
		CreatedAt: now,
	}); err != nil {
		slog.Warn("chat: persisting user turn failed", "session_id", sessionID, "error", err)
		return
	}

	citationsJSON := "[]"
	if len(result.Citations) > 0 {
		if b, err := json.Marshal(result.Citations); err == nil {
			citationsJSON = string(b)
		}
	}
	if err := p.db.SaveMessage(storage.Message{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		Role:          "assistant",
		Content:       result.Answer,
		CitationsJSON: citationsJSON,
		CreatedAt:     now.Add(time.Millisecond),
	}); err != nil {
		slog.Warn("chat: persisting assistant turn failed", "session_id", sessionID, "error", err)
	}
}
