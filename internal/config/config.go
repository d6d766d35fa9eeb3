// Package config builds the single Config value that is passed to every
// constructor. Values come from defaults, then the JSON file backend, then
// OPSASSIST_* environment variables.
package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Store     StoreConfig
	Weaviate  WeaviateConfig
	Model     ModelConfig
	Azure     AzureConfig
	Ollama    OllamaConfig
	Retrieval RetrievalConfig
	Segment   SegmentConfig
	Ingest    IngestConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host     string
	Port     int
	MaxConns int
}

type StorageConfig struct {
	DataDir string
}

// StoreConfig selects the evidence backend.
type StoreConfig struct {
	Backend      string
	EmbeddingDim int
}

type WeaviateConfig struct {
	URL       string
	APIKey    string
	ClassName string
}

type ModelConfig struct {
	Provider        string
	Temperature     float64
	EmbedTimeout    time.Duration
	GenerateTimeout time.Duration
	// RateLimit caps outbound model calls per second; 0 disables the limiter.
	RateLimit float64
	RateBurst int
}

type AzureConfig struct {
	Endpoint        string
	EmbedEndpoint   string
	APIKey          string
	APIVersion      string
	ChatDeployment  string
	EmbedDeployment string
}

type OllamaConfig struct {
	BaseURL    string
	ChatModel  string
	EmbedModel string
}

type RetrievalConfig struct {
	TopK        int
	TokenBudget int
}

type SegmentConfig struct {
	MaxChars   int
	Overlap    int
	EmbedBatch int
}

type IngestConfig struct {
	FetchTimeout time.Duration
	MaxBytes     int
}

type LogConfig struct {
	Level string
}

const (
	BackendSQLite   = "sqlite"
	BackendWeaviate = "weaviate"

	ProviderAzure   = "azure"
	ProviderOllama  = "ollama"
	ProviderOffline = "offline"
)

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     4100,
			MaxConns: 64,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Store: StoreConfig{
			Backend: BackendSQLite,
		},
		Weaviate: WeaviateConfig{
			ClassName: "OpsChunk",
		},
		Model: ModelConfig{
			Provider:        ProviderOllama,
			Temperature:     0.2,
			EmbedTimeout:    20 * time.Second,
			GenerateTimeout: 120 * time.Second,
			RateBurst:       1,
		},
		Azure: AzureConfig{
			APIVersion: "2025-08-01-preview",
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			ChatModel:  "llama3.1",
			EmbedModel: "nomic-embed-text",
		},
		Retrieval: RetrievalConfig{
			TopK: 8,
		},
		Segment: SegmentConfig{
			MaxChars:   1800,
			Overlap:    200,
			EmbedBatch: 16,
		},
		Ingest: IngestConfig{
			FetchTimeout: 60 * time.Second,
			MaxBytes:     20 << 20,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the JSON config file at $XDG_CONFIG_HOME/opsassist/config.json,
// applies OPSASSIST_* environment overrides and validates the result.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first inconsistent or missing setting.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Server.MaxConns < 0 {
		return fmt.Errorf("server.max_conns must not be negative")
	}

	switch c.Store.Backend {
	case BackendSQLite:
	case BackendWeaviate:
		if c.Weaviate.URL == "" {
			return fmt.Errorf("store.backend is weaviate but weaviate.url is empty; set OPSASSIST_WEAVIATE_URL")
		}
	default:
		return fmt.Errorf("store.backend must be %q or %q, got %q", BackendSQLite, BackendWeaviate, c.Store.Backend)
	}

	switch c.Model.Provider {
	case ProviderOffline:
	case ProviderOllama:
		if c.Ollama.BaseURL == "" || c.Ollama.ChatModel == "" || c.Ollama.EmbedModel == "" {
			return fmt.Errorf("model.provider is ollama but ollama.base_url, ollama.chat_model or ollama.embed_model is empty")
		}
	case ProviderAzure:
		if c.Azure.Endpoint == "" || c.Azure.APIKey == "" {
			return fmt.Errorf("missing required config: Azure OpenAI endpoint and key. Set OPSASSIST_AZURE_ENDPOINT and OPSASSIST_AZURE_API_KEY")
		}
		if c.Azure.ChatDeployment == "" || c.Azure.EmbedDeployment == "" {
			return fmt.Errorf("missing required config: azure.chat_deployment and azure.embed_deployment")
		}
	default:
		return fmt.Errorf("model.provider must be azure, ollama or offline, got %q", c.Model.Provider)
	}

	if c.Segment.MaxChars <= 0 {
		return fmt.Errorf("segment.max_chars must be positive, got %d", c.Segment.MaxChars)
	}
	if c.Segment.Overlap < 0 || c.Segment.Overlap >= c.Segment.MaxChars {
		return fmt.Errorf("segment.overlap must be in [0, segment.max_chars), got %d", c.Segment.Overlap)
	}
	if c.Segment.EmbedBatch <= 0 {
		return fmt.Errorf("segment.embed_batch must be positive, got %d", c.Segment.EmbedBatch)
	}
	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("retrieval.top_k must be at least 1, got %d", c.Retrieval.TopK)
	}
	if c.Model.EmbedTimeout <= 0 || c.Model.GenerateTimeout <= 0 {
		return fmt.Errorf("model timeouts must be positive")
	}
	if c.Model.RateLimit < 0 {
		return fmt.Errorf("model.rate_limit must not be negative")
	}
	return nil
}
