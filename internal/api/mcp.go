package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tubechat/tubechat/internal/answer"
	"github.com/tubechat/tubechat/internal/pipeline"
	"github.com/tubechat/tubechat/internal/transcript"
)

// NewMCPServer exposes the transcript pipeline to MCP clients so agents
// can sync videos and ask questions without going through HTTP.
func NewMCPServer(p *pipeline.Pipeline) *server.MCPServer {
	s := server.NewMCPServer(
		"tubechat",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("tubechat — chat with YouTube video transcripts using local models."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("sync_transcript",
			mcp.WithDescription("Index a video transcript so it can be queried. Replaces any existing index for the video."),
			mcp.WithString("video_id", mcp.Description("YouTube video ID"), mcp.Required()),
			mcp.WithString("title", mcp.Description("Video title")),
			mcp.WithString("language", mcp.Description("Transcript language code")),
			mcp.WithString("transcript", mcp.Description(`JSON array of {"time": "M:SS" or bare seconds, "text": "..."} segments`), mcp.Required()),
		),
		mcpSyncTranscript(p),
	)

	s.AddTool(
		mcp.NewTool("ask_video",
			mcp.WithDescription("Ask a question about a synced video and get an answer with timestamp citations."),
			mcp.WithString("video_id", mcp.Description("YouTube video ID"), mcp.Required()),
			mcp.WithString("question", mcp.Description("Question to answer from the transcript"), mcp.Required()),
			mcp.WithString("mode", mcp.Description(`Answer style: "concise" (default) or "detailed"`)),
		),
		mcpAskVideo(p),
	)

	s.AddTool(
		mcp.NewTool("clear_session",
			mcp.WithDescription("Drop the index and persisted history for a video."),
			mcp.WithString("video_id", mcp.Description("YouTube video ID"), mcp.Required()),
		),
		mcpClearSession(p),
	)

	s.AddResource(
		mcp.NewResource(
			"sessions://recent",
			"Recent Sessions",
			mcp.WithResourceDescription("Recently synced video sessions as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSessions(p),
	)

	return s
}

func mcpSyncTranscript(p *pipeline.Pipeline) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		videoID, err := req.RequireString("video_id")
		if err != nil {
			return mcpError("video_id is required"), nil
		}
		rawSegments, err := req.RequireString("transcript")
		if err != nil {
			return mcpError("transcript is required"), nil
		}

		var segments []transcript.WireSegment
		if err := json.Unmarshal([]byte(rawSegments), &segments); err != nil {
			return mcpError(fmt.Sprintf("invalid transcript JSON: %v", err)), nil
		}

		res, err := p.Sync(ctx, pipeline.SyncRequest{
			VideoID:  videoID,
			Title:    req.GetString("title", ""),
			Language: req.GetString("language", ""),
			Segments: segments,
		})
		if err != nil {
			if errors.Is(err, pipeline.ErrEmptyTranscript) {
				return mcpError("transcript is empty"), nil
			}
			return mcpError(fmt.Sprintf("indexing failed: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Indexed %d chunks for video %s (session %s)", res.Chunks, videoID, res.SessionID)), nil
	}
}

func mcpAskVideo(p *pipeline.Pipeline) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		videoID, err := req.RequireString("video_id")
		if err != nil {
			return mcpError("video_id is required"), nil
		}
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		res, err := p.Chat(ctx, pipeline.ChatRequest{
			VideoID:  videoID,
			Question: question,
			Mode:     answer.ModeFromString(req.GetString("mode", "")),
		})
		if err != nil {
			if errors.Is(err, pipeline.ErrNoSession) {
				return mcpError(fmt.Sprintf("no session for video %s; sync the transcript first", videoID)), nil
			}
			return mcpError(fmt.Sprintf("answering failed: %v", err)), nil
		}

		payload := map[string]any{
			"answer":     res.Answer,
			"citations":  res.Citations,
			"no_sources": res.NoSources,
		}
		b, err := json.Marshal(payload)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpClearSession(p *pipeline.Pipeline) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		videoID, err := req.RequireString("video_id")
		if err != nil {
			return mcpError("video_id is required"), nil
		}

		if err := p.Clear(ctx, videoID); err != nil {
			if errors.Is(err, pipeline.ErrNoSession) {
				return mcpError(fmt.Sprintf("no session for video %s", videoID)), nil
			}
			return mcpError(fmt.Sprintf("clearing failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Cleared session for video %s", videoID)), nil
	}
}

func mcpResourceSessions(p *pipeline.Pipeline) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		rows, err := p.Sessions(10)
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}

		type sessionSummary struct {
			ID         string `json:"id"`
			VideoID    string `json:"video_id"`
			Title      string `json:"title"`
			ChunkCount int    `json:"chunk_count"`
			UpdatedAt  string `json:"updated_at"`
		}

		summaries := make([]sessionSummary, len(rows))
		for i, row := range rows {
			summaries[i] = sessionSummary{
				ID:         row.ID,
				VideoID:    row.VideoID,
				Title:      row.Title,
				ChunkCount: row.ChunkCount,
				UpdatedAt:  row.UpdatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal sessions: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
