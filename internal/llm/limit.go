package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limited makes every call wait for a token from Limiter first.
type Limited struct {
	Completer Completer
	Embedder  Embedder
	Limiter   *rate.Limiter
}

func (l *Limited) Complete(ctx context.Context, messages []Message, opts CallOptions) (string, error) {
	if err := l.Limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for rate limiter: %w", err)
	}
	return l.Completer.Complete(ctx, messages, opts)
}

func (l *Limited) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := l.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}
	return l.Embedder.Embed(ctx, texts)
}
