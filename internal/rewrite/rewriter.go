package rewrite

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/tubechat/tubechat/internal/engine"
)

const rewriteTimeout = 3 * time.Second

// Chatter is the chat-completion subset of the engine the rewriter needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// Rewriter uses a fast local LLM to turn a follow-up question into a
// standalone retrieval query. "What about the second one?" retrieves
// nothing useful on its own; rewritten against the chat history it does.
type Rewriter struct {
	client Chatter
	model  string
}

// New creates a Rewriter using the given client and model name.
func New(client Chatter, model string) *Rewriter {
	return &Rewriter{client: client, model: model}
}

// Rewrite returns a standalone version of query given the recent history.
// The model answers REJECT when the question already stands alone. On any
// failure (timeout, malformed output, engine error) the original query is
// returned; retrieval must never block on the rewrite step.
func (r *Rewriter) Rewrite(ctx context.Context, query string, history []engine.Message) string {
	if strings.TrimSpace(query) == "" || len(history) == 0 {
		return query
	}

	ctx, cancel := context.WithTimeout(ctx, rewriteTimeout)
	defer cancel()

	raw, err := r.client.Chat(ctx, r.model, buildPrompt(query, history), rewriteSchema())
	if err != nil {
		slog.Warn("rewrite: chat failed, using original query", "error", err)
		return query
	}

	var result struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		slog.Warn("rewrite: unmarshal failed, using original query", "error", err, "response", raw)
		return query
	}

	rewritten := strings.TrimSpace(result.Query)
	if rewritten == "" || strings.EqualFold(rewritten, "REJECT") {
		return query
	}
	return rewritten
}

// buildPrompt assembles the rewrite instruction with the tail of the chat
// history. Only the last few turns matter; older context dilutes the small
// model's attention.
func buildPrompt(query string, history []engine.Message) []engine.Message {
	const maxHistoryTurns = 6

	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}

	var sb strings.Builder
	sb.WriteString("Rewrite the user's question into a standalone search query using the conversation below. ")
	sb.WriteString("Resolve pronouns and references to earlier turns. ")
	sb.WriteString(`If the question already stands alone, respond with {"query": "REJECT"}.` + "\n\n")
	sb.WriteString("Conversation:\n")
	for _, m := range history {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	sb.WriteString("\nQuestion: ")
	sb.WriteString(query)

	return []engine.Message{{Role: "user", Content: sb.String()}}
}

func rewriteSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"query": {Type: "string", Description: "Standalone search query, or REJECT"},
		},
		Required: []string{"query"},
	}
}
