package retrieval

import (
	"context"
	"fmt"

	"github.com/kalambet/opsassist/internal/llm"
)

// DefaultBatchSize is the number of texts sent per embedding call at ingestion.
const DefaultBatchSize = 16

// Embedder adapts an llm.Embedder to the query and ingestion call patterns.
type Embedder struct {
	model llm.Embedder
}

func NewEmbedder(model llm.Embedder) *Embedder {
	return &Embedder{model: model}
}

// EmbedQuery embeds a single text with one call.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.model.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedding query: got %d vectors, want 1", len(vecs))
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in sequential calls of at most batchSize texts.
// Returns nil (not error) for empty/nil input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		vecs, err := e.model.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding batch %d-%d: %w", start, end, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embedding batch %d-%d: got %d vectors", start, end, len(vecs))
		}
		out = append(out, vecs...)
	}
	return out, nil
}
