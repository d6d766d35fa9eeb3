package ollama

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotRunning is returned by EnsureReady when the instance does not answer.
var ErrNotRunning = errors.New("ollama is not running; start it with: ollama serve")

// EnsureReady checks that the instance is up and pulls any of models that
// are missing, writing progress to w.
func EnsureReady(ctx context.Context, c *Client, models []string, w io.Writer) error {
	if !c.IsRunning(ctx) {
		return ErrNotRunning
	}

	for _, model := range models {
		if model == "" {
			continue
		}
		if c.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}

		fmt.Fprintf(w, "model %s: pulling...\n", model)
		err := c.PullModel(ctx, model, func(p PullProgress) {
			if p.Total > 0 {
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, float64(p.Completed)/float64(p.Total)*100)
			} else {
				fmt.Fprintf(w, "  %s\n", p.Status)
			}
		})
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}
	return nil
}
