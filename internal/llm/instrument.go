package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/opsassist/internal/apperr"
	"github.com/kalambet/opsassist/internal/metrics"
)

// Instrumented bounds each call with its own timeout, classifies failures
// as ModelCallFailed and records latency metrics.
type Instrumented struct {
	Provider        string
	Completer       Completer
	Embedder        Embedder
	CompleteTimeout time.Duration
	EmbedTimeout    time.Duration
}

func (m *Instrumented) Complete(ctx context.Context, messages []Message, opts CallOptions) (string, error) {
	ctx, cancel := withTimeout(ctx, m.CompleteTimeout)
	defer cancel()

	start := time.Now()
	out, err := m.Completer.Complete(ctx, messages, opts)
	metrics.ObserveModelCall("complete", m.Provider, start, err)
	if err != nil {
		return "", classify("complete", m.CompleteTimeout, err)
	}
	return out, nil
}

func (m *Instrumented) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := withTimeout(ctx, m.EmbedTimeout)
	defer cancel()

	start := time.Now()
	vecs, err := m.Embedder.Embed(ctx, texts)
	metrics.ObserveModelCall("embed", m.Provider, start, err)
	if err != nil {
		return nil, classify("embed", m.EmbedTimeout, err)
	}
	return vecs, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func classify(op string, timeout time.Duration, err error) error {
	if _, ok := apperr.KindOf(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("timed out after %s: %w", timeout, err)
	}
	return apperr.New(apperr.KindModelCallFailed, op, err)
}
