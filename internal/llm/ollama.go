package llm

import (
	"context"

	"github.com/kalambet/opsassist/internal/ollama"
)

// Ollama serves both capabilities from a local Ollama instance.
type Ollama struct {
	client     *ollama.Client
	chatModel  string
	embedModel string
}

func NewOllama(client *ollama.Client, chatModel, embedModel string) *Ollama {
	return &Ollama{client: client, chatModel: chatModel, embedModel: embedModel}
}

// Client exposes the underlying client for readiness checks and model pulls.
func (o *Ollama) Client() *ollama.Client { return o.client }

// Models returns the chat and embedding model names.
func (o *Ollama) Models() []string { return []string{o.chatModel, o.embedModel} }

func (o *Ollama) Complete(ctx context.Context, messages []Message, opts CallOptions) (string, error) {
	msgs := make([]ollama.Message, len(messages))
	for i, m := range messages {
		msgs[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}
	return o.client.Chat(ctx, o.chatModel, msgs, ollama.ChatOptions{
		Temperature: opts.Temperature,
		JSON:        opts.JSON,
	})
}

func (o *Ollama) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return o.client.Embed(ctx, o.embedModel, texts)
}
