package llm

import (
	"context"
	"errors"
	"fmt"
	"math"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kalambet/opsassist/internal/config"
)

// Azure calls Azure OpenAI chat and embedding deployments. Chat and
// embeddings may live on different resources.
type Azure struct {
	chat            *openai.Client
	embed           *openai.Client
	chatDeployment  string
	embedDeployment string
}

func NewAzure(cfg config.AzureConfig) *Azure {
	embedEndpoint := cfg.EmbedEndpoint
	if embedEndpoint == "" {
		embedEndpoint = cfg.Endpoint
	}
	return &Azure{
		chat:            openai.NewClientWithConfig(azureClientConfig(cfg.APIKey, cfg.Endpoint, cfg.APIVersion)),
		embed:           openai.NewClientWithConfig(azureClientConfig(cfg.APIKey, embedEndpoint, cfg.APIVersion)),
		chatDeployment:  cfg.ChatDeployment,
		embedDeployment: cfg.EmbedDeployment,
	}
}

func azureClientConfig(key, endpoint, version string) openai.ClientConfig {
	c := openai.DefaultAzureConfig(key, endpoint)
	if version != "" {
		c.APIVersion = version
	}
	// Model names passed in requests are already deployment names.
	c.AzureModelMapperFunc = func(model string) string { return model }
	return c
}

func (a *Azure) Complete(ctx context.Context, messages []Message, opts CallOptions) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	temp := opts.Temperature
	if temp == 0 {
		// The request field is omitempty; a literal zero would fall back to
		// the service default of 1.
		temp = math.SmallestNonzeroFloat32
	}
	req := openai.ChatCompletionRequest{
		Model:       a.chatDeployment,
		Messages:    msgs,
		Temperature: temp,
	}
	if opts.JSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := a.chat.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("azure chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("azure chat completion: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func (a *Azure) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := a.embed.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(a.embedDeployment),
	})
	if err != nil {
		return nil, fmt.Errorf("azure embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("azure embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("azure embeddings: index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
