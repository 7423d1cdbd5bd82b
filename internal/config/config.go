package config

import (
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Proxy     ProxyConfig
	Storage   StorageConfig
	Retrieval RetrievalConfig
	Chunking  ChunkingConfig
	Reranking RerankingConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type OllamaConfig struct {
	BaseURL    string
	FastModel  string
	EmbedModel string
}

type ProxyConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type StorageConfig struct {
	DataDir string
}

type RetrievalConfig struct {
	TopK int
	TopN int
}

type ChunkingConfig struct {
	TargetWords     int
	OverlapFraction float64
}

type RerankingConfig struct {
	Enabled bool
	Timeout string
}

// Duration parses the configured reranking timeout, falling back to 8s on
// an empty or malformed value.
func (r RerankingConfig) Duration() time.Duration {
	d, err := time.ParseDuration(r.Timeout)
	if err != nil || d <= 0 {
		return 8 * time.Second
	}
	return d
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			FastModel:  "qwen2.5:3b",
			EmbedModel: "nomic-embed-text",
		},
		Proxy: ProxyConfig{
			Model: "gpt-4o-mini",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Retrieval: RetrievalConfig{
			TopK: 20,
			TopN: 4,
		},
		Chunking: ChunkingConfig{
			TargetWords:     600,
			OverlapFraction: 0.13,
		},
		Reranking: RerankingConfig{
			Enabled: true,
			Timeout: "8s",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.tubechat.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/tubechat/config.json
// and secrets live in a file under $XDG_DATA_HOME.
//
// Environment variables (TUBECHAT_*) override backend values on all
// platforms. The cloud API key and the server API token are both optional:
// without a key the server answers with the local engine, and without a
// token request authentication is disabled.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret-store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Proxy.APIKey == "" {
		if key, err := kc.Get("tubechat", "llm_api_key"); err == nil && key != "" {
			cfg.Proxy.APIKey = key
		}
	}
	if cfg.Server.APIToken == "" {
		if tok, err := kc.Get("tubechat", "api_token"); err == nil && tok != "" {
			cfg.Server.APIToken = tok
		}
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
