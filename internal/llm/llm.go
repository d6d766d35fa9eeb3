// Package llm exposes the two model capabilities the pipeline needs,
// completion and embedding, behind small interfaces with one implementation
// per provider. The provider is selected once, in New.
package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/kalambet/opsassist/internal/config"
	"github.com/kalambet/opsassist/internal/ollama"
)

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CallOptions tunes one completion.
type CallOptions struct {
	Temperature float32
	// JSON asks the provider to constrain output to a JSON object.
	JSON bool
}

// Completer returns the assistant text for a conversation.
type Completer interface {
	Complete(ctx context.Context, messages []Message, opts CallOptions) (string, error)
}

// Embedder returns one vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// New builds the configured provider wrapped with rate limiting (when
// model.rate_limit > 0), per-call timeouts, error classification and metrics.
func New(cfg config.Config) (*Instrumented, error) {
	var (
		c Completer
		e Embedder
	)
	switch cfg.Model.Provider {
	case config.ProviderAzure:
		a := NewAzure(cfg.Azure)
		c, e = a, a
	case config.ProviderOllama:
		o := NewOllama(ollama.New(cfg.Ollama.BaseURL), cfg.Ollama.ChatModel, cfg.Ollama.EmbedModel)
		c, e = o, o
	case config.ProviderOffline:
		c, e = Fixture{}, HashEmbedder{Dim: cfg.Store.EmbeddingDim}
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Model.Provider)
	}

	if cfg.Model.RateLimit > 0 && cfg.Model.Provider != config.ProviderOffline {
		burst := cfg.Model.RateBurst
		if burst < 1 {
			burst = 1
		}
		l := &Limited{
			Completer: c,
			Embedder:  e,
			Limiter:   rate.NewLimiter(rate.Limit(cfg.Model.RateLimit), burst),
		}
		c, e = l, l
	}

	return &Instrumented{
		Provider:        cfg.Model.Provider,
		Completer:       c,
		Embedder:        e,
		CompleteTimeout: cfg.Model.GenerateTimeout,
		EmbedTimeout:    cfg.Model.EmbedTimeout,
	}, nil
}
