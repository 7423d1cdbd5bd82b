package engine

import "context"

// Engine abstracts the local inference backend that provides the two model
// capabilities the retrieval pipeline needs: text embedding (bi-encoder) and
// chat-style scoring/rewriting. Consumers depend on this interface so the
// backing models can be swapped without touching pipeline logic.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's
	// response. When jsonSchema is non-nil, structured JSON output is
	// requested.
	Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error)

	// Embed returns the embedding vector for the given text using the
	// specified model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of all locally available models.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available locally.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress
	// updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
