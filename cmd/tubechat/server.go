package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/tubechat/tubechat/internal/answer"
	"github.com/tubechat/tubechat/internal/api"
	"github.com/tubechat/tubechat/internal/config"
	"github.com/tubechat/tubechat/internal/engine"
	"github.com/tubechat/tubechat/internal/pipeline"
	"github.com/tubechat/tubechat/internal/proxy"
	"github.com/tubechat/tubechat/internal/reranking"
	"github.com/tubechat/tubechat/internal/retrieval"
	"github.com/tubechat/tubechat/internal/rewrite"
	"github.com/tubechat/tubechat/internal/session"
	"github.com/tubechat/tubechat/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the tubechat server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running tubechat server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tubechat system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "tubechat.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "tubechat version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Refuse to start a second instance on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("tubechat is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("tubechat is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)
	if err := engine.EnsureReady(ctx, eng, cfg.Ollama.FastModel, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
		return err
	}

	db, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	embedder := retrieval.NewEmbedder(eng, cfg.Ollama.EmbedModel)
	store := session.NewStore()
	builder := session.NewBuilder(embedder, cfg.Chunking.TargetWords, cfg.Chunking.OverlapFraction)

	// Rebuild in-memory indexes for persisted sessions so the extension can
	// resume chats after a restart.
	if err := session.Restore(ctx, db, store, builder); err != nil {
		slog.Warn("restoring sessions", "error", err)
	} else {
		slog.Info("sessions restored", "count", store.Len())
	}

	var proxyClient *proxy.Client
	if cfg.Proxy.BaseURL != "" {
		proxyClient = proxy.NewClientWithBaseURL(cfg.Proxy.APIKey, cfg.Proxy.Model, cfg.Proxy.BaseURL)
	} else {
		proxyClient = proxy.NewClient(cfg.Proxy.APIKey, cfg.Proxy.Model)
	}

	p := pipeline.New(pipeline.Options{
		Store:     store,
		DB:        db,
		Builder:   builder,
		Rewriter:  rewrite.New(eng, cfg.Ollama.FastModel),
		Retriever: retrieval.NewRetriever(embedder),
		Reranker: reranking.NewReranker(
			eng,
			cfg.Ollama.FastModel,
			cfg.Reranking.Enabled,
			cfg.Reranking.Duration(),
			cfg.Retrieval.TopN,
		),
		Composer: answer.New(0),
		Generator: &pipeline.CloudGenerator{
			Client: proxyClient,
			Local:  &pipeline.LocalGenerator{Engine: eng, Model: cfg.Ollama.FastModel},
		},
		TopK: cfg.Retrieval.TopK,
	})

	handler := api.NewHandler(api.Deps{
		Pipeline: p,
		Engine:   eng,
		Token:    cfg.Server.APIToken,
	})
	if cfg.Server.APIToken == "" {
		slog.Warn("no API token configured, request authentication disabled")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// MCP over stdio in parallel with HTTP, so agent clients can drive the
	// same pipeline.
	mcpSrv := api.NewMCPServer(p)
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "tubechat listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("tubechat is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop tubechat (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to tubechat (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	printStatus("Fast model", "%s", cfg.Ollama.FastModel)
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
	if cfg.Proxy.APIKey != "" {
		printStatus("Cloud model", "%s", cfg.Proxy.Model)
	} else {
		printStatus("Cloud model", "not configured (local only)")
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
