package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "OPSASSIST_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "OPSASSIST_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_conns", typ: kInt, env: "OPSASSIST_SERVER_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "storage.data_dir", typ: kString, env: "OPSASSIST_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "store.backend", typ: kString, env: "OPSASSIST_STORE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Store.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Store.Backend },
	},
	{
		key: "store.embedding_dim", typ: kInt, env: "OPSASSIST_STORE_EMBEDDING_DIM",
		apply:   func(cfg *Config, v any) { cfg.Store.EmbeddingDim = v.(int) },
		extract: func(cfg Config) any { return cfg.Store.EmbeddingDim },
	},
	{
		key: "weaviate.url", typ: kString, env: "OPSASSIST_WEAVIATE_URL",
		apply:   func(cfg *Config, v any) { cfg.Weaviate.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Weaviate.URL },
	},
	{
		key: "weaviate.api_key", typ: kString, env: "OPSASSIST_WEAVIATE_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Weaviate.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Weaviate.APIKey },
	},
	{
		key: "weaviate.class_name", typ: kString, env: "OPSASSIST_WEAVIATE_CLASS_NAME",
		apply:   func(cfg *Config, v any) { cfg.Weaviate.ClassName = v.(string) },
		extract: func(cfg Config) any { return cfg.Weaviate.ClassName },
	},
	{
		key: "model.provider", typ: kString, env: "OPSASSIST_MODEL_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Model.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.Provider },
	},
	{
		key: "model.temperature", typ: kFloat, env: "OPSASSIST_MODEL_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Model.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Model.Temperature },
	},
	{
		key: "model.embed_timeout", typ: kDuration, env: "OPSASSIST_MODEL_EMBED_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Model.EmbedTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Model.EmbedTimeout },
	},
	{
		key: "model.generate_timeout", typ: kDuration, env: "OPSASSIST_MODEL_GENERATE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Model.GenerateTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Model.GenerateTimeout },
	},
	{
		key: "model.rate_limit", typ: kFloat, env: "OPSASSIST_MODEL_RATE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Model.RateLimit = v.(float64) },
		extract: func(cfg Config) any { return cfg.Model.RateLimit },
	},
	{
		key: "model.rate_burst", typ: kInt, env: "OPSASSIST_MODEL_RATE_BURST",
		apply:   func(cfg *Config, v any) { cfg.Model.RateBurst = v.(int) },
		extract: func(cfg Config) any { return cfg.Model.RateBurst },
	},
	{
		key: "azure.endpoint", typ: kString, env: "OPSASSIST_AZURE_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Azure.Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Azure.Endpoint },
	},
	{
		key: "azure.embed_endpoint", typ: kString, env: "OPSASSIST_AZURE_EMBED_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Azure.EmbedEndpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Azure.EmbedEndpoint },
	},
	{
		key: "azure.api_key", typ: kString, env: "OPSASSIST_AZURE_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Azure.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Azure.APIKey },
	},
	{
		key: "azure.api_version", typ: kString, env: "OPSASSIST_AZURE_API_VERSION",
		apply:   func(cfg *Config, v any) { cfg.Azure.APIVersion = v.(string) },
		extract: func(cfg Config) any { return cfg.Azure.APIVersion },
	},
	{
		key: "azure.chat_deployment", typ: kString, env: "OPSASSIST_AZURE_CHAT_DEPLOYMENT",
		apply:   func(cfg *Config, v any) { cfg.Azure.ChatDeployment = v.(string) },
		extract: func(cfg Config) any { return cfg.Azure.ChatDeployment },
	},
	{
		key: "azure.embed_deployment", typ: kString, env: "OPSASSIST_AZURE_EMBED_DEPLOYMENT",
		apply:   func(cfg *Config, v any) { cfg.Azure.EmbedDeployment = v.(string) },
		extract: func(cfg Config) any { return cfg.Azure.EmbedDeployment },
	},
	{
		key: "ollama.base_url", typ: kString, env: "OPSASSIST_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.chat_model", typ: kString, env: "OPSASSIST_OLLAMA_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.ChatModel },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "OPSASSIST_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "OPSASSIST_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.token_budget", typ: kInt, env: "OPSASSIST_RETRIEVAL_TOKEN_BUDGET",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TokenBudget = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TokenBudget },
	},
	{
		key: "segment.max_chars", typ: kInt, env: "OPSASSIST_SEGMENT_MAX_CHARS",
		apply:   func(cfg *Config, v any) { cfg.Segment.MaxChars = v.(int) },
		extract: func(cfg Config) any { return cfg.Segment.MaxChars },
	},
	{
		key: "segment.overlap", typ: kInt, env: "OPSASSIST_SEGMENT_OVERLAP",
		apply:   func(cfg *Config, v any) { cfg.Segment.Overlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Segment.Overlap },
	},
	{
		key: "segment.embed_batch", typ: kInt, env: "OPSASSIST_SEGMENT_EMBED_BATCH",
		apply:   func(cfg *Config, v any) { cfg.Segment.EmbedBatch = v.(int) },
		extract: func(cfg Config) any { return cfg.Segment.EmbedBatch },
	},
	{
		key: "ingest.fetch_timeout", typ: kDuration, env: "OPSASSIST_INGEST_FETCH_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Ingest.FetchTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Ingest.FetchTimeout },
	},
	{
		key: "ingest.max_bytes", typ: kInt, env: "OPSASSIST_INGEST_MAX_BYTES",
		apply:   func(cfg *Config, v any) { cfg.Ingest.MaxBytes = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.MaxBytes },
	},
	{
		key: "log.level", typ: kString, env: "OPSASSIST_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// parseValue converts raw into the Go type of typ. Strings pass through.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func (t keyType) String() string {
	switch t {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kFloat:
		return "float"
	case kDuration:
		return "duration"
	default:
		return "string"
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", s.typ, s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", s.typ, s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
