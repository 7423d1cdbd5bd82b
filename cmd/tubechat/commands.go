package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tubechat/tubechat/internal/config"
)

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync <video_id>",
	Short: "Index a video transcript from a JSON file or stdin",
	Long: `Index a video transcript so it can be queried.

The transcript is a JSON array of {"time": ..., "text": "..."} segments,
read from --file or from stdin.

Examples:
  tubechat sync dQw4w9WgXcQ --file ./transcript.json --title "Some Talk"
  cat transcript.json | tubechat sync dQw4w9WgXcQ`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		videoID := args[0]
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")
		language, _ := cmd.Flags().GetString("language")

		var data []byte
		var err error
		if file != "" {
			data, err = os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading transcript file: %w", err)
			}
		} else {
			data, err = io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
		}

		var segments []json.RawMessage
		if err := json.Unmarshal(data, &segments); err != nil {
			return fmt.Errorf("transcript must be a JSON array of segments: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/save_transcript", map[string]any{
			"video_id":   videoID,
			"title":      title,
			"language":   language,
			"transcript": segments,
		})
		if err != nil {
			return err
		}

		var result struct {
			SessionID string `json:"session_id"`
			Chunks    int    `json:"chunks"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Indexed %d chunks for %s (session %s)", result.Chunks, videoID, result.SessionID)
		return nil
	},
}

func init() {
	syncCmd.Flags().String("file", "", "transcript JSON file (default: stdin)")
	syncCmd.Flags().String("title", "", "video title")
	syncCmd.Flags().String("language", "", "transcript language code")
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <video_id> <question>",
	Short: "Ask a question about a synced video",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		videoID := args[0]
		question := strings.Join(args[1:], " ")
		detailed, _ := cmd.Flags().GetBool("detailed")

		mode := "concise"
		if detailed {
			mode = "detailed"
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/chat", map[string]string{
			"video_id": videoID,
			"question": question,
			"mode":     mode,
		})
		if err != nil {
			return err
		}

		var result struct {
			Answer    string `json:"answer"`
			NoSources bool   `json:"no_sources"`
			Citations []struct {
				Label   string `json:"label"`
				Seconds int    `json:"seconds"`
			} `json:"citations"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.NoSources {
			printWarning("The transcript does not cover this question.")
			if result.Answer == "" {
				return nil
			}
		}

		fmt.Println(result.Answer)
		if len(result.Citations) > 0 {
			fmt.Println()
			for _, c := range result.Citations {
				link := fmt.Sprintf("https://youtube.com/watch?v=%s&t=%ds", videoID, c.Seconds)
				fmt.Printf("  %s  %s\n", colorize(colorCyan, "["+c.Label+"]"), link)
			}
		}
		return nil
	},
}

func init() {
	askCmd.Flags().Bool("detailed", false, "ask for a longer, more thorough answer")
}

// --- clear ---

var clearCmd = &cobra.Command{
	Use:   "clear <video_id>",
	Short: "Drop the index and chat history for a video",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/clear_context", map[string]string{"video_id": args[0]})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Cleared session for %s", args[0])
		return nil
	},
}

// --- sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List synced video sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(fmt.Sprintf("/sessions?limit=%d", limit))
		if err != nil {
			return err
		}

		var sessions []struct {
			ID         string `json:"id"`
			VideoID    string `json:"video_id"`
			Title      string `json:"title"`
			ChunkCount int    `json:"chunk_count"`
			UpdatedAt  string `json:"updated_at"`
		}
		if err := decodeJSON(resp, &sessions); err != nil {
			return err
		}

		if len(sessions) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		for _, s := range sessions {
			title := s.Title
			if title == "" {
				title = "(untitled)"
			}
			fmt.Printf("%s  %s  %s  (%d chunks)\n",
				colorize(colorCyan, s.ID[:8]),
				s.VideoID,
				title,
				s.ChunkCount,
			)
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <session_id>",
	Short: "Show the chat history for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(fmt.Sprintf("/sessions/%s/history?limit=%d", args[0], limit))
		if err != nil {
			return err
		}

		var history []struct {
			Role      string `json:"role"`
			Content   string `json:"content"`
			CreatedAt string `json:"created_at"`
		}
		if err := decodeJSON(resp, &history); err != nil {
			return err
		}

		if len(history) == 0 {
			fmt.Println("No messages found.")
			return nil
		}

		for _, m := range history {
			label := m.Role
			if label == "user" {
				label = colorize(colorBold, "you")
			}
			fmt.Printf("%s  %s\n%s\n\n", label, m.CreatedAt, m.Content)
		}
		return nil
	},
}

func init() {
	sessionsCmd.Flags().Int("limit", 50, "maximum number of sessions to list")
	historyCmd.Flags().Int("limit", 50, "maximum number of messages to show")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
