package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tubechat/tubechat/internal/answer"
	"github.com/tubechat/tubechat/internal/engine"
	"github.com/tubechat/tubechat/internal/pipeline"
	"github.com/tubechat/tubechat/internal/storage"
	"github.com/tubechat/tubechat/internal/transcript"
)

// Transcripts of long videos run to hundreds of kilobytes; questions don't.
const (
	maxTranscriptBodySize = 10 << 20
	maxRequestBodySize    = 1 << 20
)

// llmTokenHeader lets extension users supply their own cloud key per
// request instead of configuring one on the server.
const llmTokenHeader = "X-LLM-Token"

// Deps holds dependencies for the HTTP API.
type Deps struct {
	Pipeline *pipeline.Pipeline
	Engine   engine.Engine
	Token    string // empty disables bearer auth
}

// NewHandler returns the HTTP API the browser extension talks to.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Post("/save_transcript", handleSaveTranscript(deps))
		r.Post("/chat", handleChat(deps))
		r.Post("/clear_context", handleClearContext(deps))
		r.Get("/sessions", handleListSessions(deps))
		r.Get("/sessions/{id}/history", handleHistory(deps))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"engine": deps.Engine.IsRunning(r.Context()),
		})
	}
}

type saveTranscriptRequest struct {
	VideoID    string                   `json:"video_id"`
	Title      string                   `json:"title"`
	Language   string                   `json:"language"`
	Transcript []transcript.WireSegment `json:"transcript"`
}

func handleSaveTranscript(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxTranscriptBodySize)
		defer r.Body.Close()

		var req saveTranscriptRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.VideoID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "video_id is required")
			return
		}

		res, err := deps.Pipeline.Sync(r.Context(), pipeline.SyncRequest{
			VideoID:  req.VideoID,
			Title:    req.Title,
			Language: req.Language,
			Segments: req.Transcript,
		})
		if err != nil {
			if errors.Is(err, pipeline.ErrEmptyTranscript) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "transcript is empty")
				return
			}
			httpError(w, http.StatusBadGateway, "api_error", "indexing transcript: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"session_id": res.SessionID,
			"chunks":     res.Chunks,
		})
	}
}

type chatRequest struct {
	VideoID  string `json:"video_id"`
	Question string `json:"question"`
	Mode     string `json:"mode"`
}

type citationPayload struct {
	Label   string `json:"label"`
	Seconds int    `json:"seconds"`
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.VideoID == "" || req.Question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "video_id and question are required")
			return
		}

		res, err := deps.Pipeline.Chat(r.Context(), pipeline.ChatRequest{
			VideoID:     req.VideoID,
			Question:    req.Question,
			Mode:        answer.ModeFromString(req.Mode),
			KeyOverride: r.Header.Get(llmTokenHeader),
		})
		if err != nil {
			if errors.Is(err, pipeline.ErrNoSession) {
				httpError(w, http.StatusNotFound, "not_found", "no session for video %s; sync the transcript first", req.VideoID)
				return
			}
			httpError(w, http.StatusBadGateway, "api_error", "answering failed: %v", err)
			return
		}

		citations := make([]citationPayload, len(res.Citations))
		for i, c := range res.Citations {
			citations[i] = citationPayload{Label: c.Label, Seconds: c.Seconds}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"session_id": res.SessionID,
			"answer":     res.Answer,
			"citations":  citations,
			"no_sources": res.NoSources,
		})
	}
}

type clearContextRequest struct {
	VideoID string `json:"video_id"`
}

func handleClearContext(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req clearContextRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.VideoID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "video_id is required")
			return
		}

		if err := deps.Pipeline.Clear(r.Context(), req.VideoID); err != nil {
			if errors.Is(err, pipeline.ErrNoSession) {
				httpError(w, http.StatusNotFound, "not_found", "no session for video %s", req.VideoID)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "clearing session: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "cleared"})
	}
}

type sessionPayload struct {
	ID         string `json:"id"`
	VideoID    string `json:"video_id"`
	Title      string `json:"title"`
	Language   string `json:"language"`
	ChunkCount int    `json:"chunk_count"`
	UpdatedAt  string `json:"updated_at"`
}

func handleListSessions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := deps.Pipeline.Sessions(parseIntParam(r, "limit", 50, 200))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing sessions: %v", err)
			return
		}

		sessions := make([]sessionPayload, len(rows))
		for i, row := range rows {
			sessions[i] = sessionPayload{
				ID:         row.ID,
				VideoID:    row.VideoID,
				Title:      row.Title,
				Language:   row.Language,
				ChunkCount: row.ChunkCount,
				UpdatedAt:  row.UpdatedAt.Format(time.RFC3339),
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sessions)
	}
}

type historyPayload struct {
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Citations json.RawMessage `json:"citations"`
	CreatedAt string          `json:"created_at"`
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		rows, err := deps.Pipeline.History(id, parseIntParam(r, "limit", 50, 500))
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "session not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "loading history: %v", err)
			return
		}

		history := make([]historyPayload, len(rows))
		for i, m := range rows {
			citations := m.CitationsJSON
			if citations == "" {
				citations = "[]"
			}
			history[i] = historyPayload{
				Role:      m.Role,
				Content:   m.Content,
				Citations: json.RawMessage(citations),
				CreatedAt: m.CreatedAt.Format(time.RFC3339),
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(history)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
