package pipeline

import (
	"context"
	"errors"

	"github.com/tubechat/tubechat/internal/answer"
	"github.com/tubechat/tubechat/internal/engine"
	"github.com/tubechat/tubechat/internal/proxy"
	"github.com/tubechat/tubechat/internal/reranking"
	"github.com/tubechat/tubechat/internal/retrieval"
	"github.com/tubechat/tubechat/internal/rewrite"
	"github.com/tubechat/tubechat/internal/session"
	"github.com/tubechat/tubechat/internal/storage"
)

var (
	// ErrNoSession is returned when a chat or clear targets a video that
	// has not been synced.
	ErrNoSession = errors.New("no session synced for this video")

	// ErrEmptyTranscript is returned when a sync carries no usable segments.
	ErrEmptyTranscript = errors.New("transcript has no segments")
)

// Generator produces the final answer text from a composed message list.
type Generator interface {
	Generate(ctx context.Context, messages []engine.Message, maxTokens int, keyOverride string) (string, error)
}

// Pipeline wires the full question-answering flow: sync builds the
// per-video index, chat runs rewrite, retrieval, reranking, composition and
// generation, clear tears the session down.
type Pipeline struct {
	store     *session.Store
	db        *storage.Store
	builder   *session.Builder
	rewriter  *rewrite.Rewriter
	retriever *retrieval.Retriever
	reranker  reranking.Reranker
	composer  *answer.Composer
	generator Generator
	topK      int
}

// Options collects the pipeline's collaborators.
type Options struct {
	Store     *session.Store
	DB        *storage.Store
	Builder   *session.Builder
	Rewriter  *rewrite.Rewriter
	Retriever *retrieval.Retriever
	Reranker  reranking.Reranker
	Composer  *answer.Composer
	Generator Generator
	TopK      int
}

// New creates a Pipeline. TopK <= 0 falls back to the retrieval default.
func New(opts Options) *Pipeline {
	if opts.TopK <= 0 {
		opts.TopK = retrieval.DefaultTopK
	}
	return &Pipeline{
		store:     opts.Store,
		db:        opts.DB,
		builder:   opts.Builder,
		rewriter:  opts.Rewriter,
		retriever: opts.Retriever,
		reranker:  opts.Reranker,
		composer:  opts.Composer,
		generator: opts.Generator,
		topK:      opts.TopK,
	}
}

// CloudGenerator answers with an OpenAI-compatible cloud model, falling
// back to the local engine when no key is available for the request.
type CloudGenerator struct {
	Client *proxy.Client
	Local  *LocalGenerator
}

func (g *CloudGenerator) Generate(ctx context.Context, messages []engine.Message, maxTokens int, keyOverride string) (string, error) {
	if keyOverride == "" && !g.Client.Configured() {
		return g.Local.Generate(ctx, messages, maxTokens, keyOverride)
	}
	out := make([]proxy.ChatMessage, len(messages))
	for i, m := range messages {
		out[i] = proxy.ChatMessage{Role: m.Role, Content: m.Content}
	}
	return g.Client.Complete(ctx, out, maxTokens, keyOverride)
}

// LocalGenerator answers with the local engine's fast model.
type LocalGenerator struct {
	Engine engine.Engine
	Model  string
}

func (g *LocalGenerator) Generate(ctx context.Context, messages []engine.Message, _ int, _ string) (string, error) {
	return g.Engine.Chat(ctx, g.Model, messages, nil)
}
