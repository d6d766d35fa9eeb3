package evidence

import (
	"context"

	"github.com/kalambet/opsassist/internal/apperr"
)

var _ Store = Unavailable{}

// Unavailable stands in for a backend that is not configured or could not be
// reached at startup. Every call fails with StoreUnavailable.
type Unavailable struct {
	Reason string
}

func (u Unavailable) err(op string) error {
	return apperr.Newf(apperr.KindStoreUnavailable, op, "%s", u.Reason)
}

func (u Unavailable) Upsert(context.Context, []Chunk) error { return u.err("upsert") }

func (u Unavailable) Query(context.Context, []float32, Filter, int) ([]ScoredChunk, error) {
	return nil, u.err("query")
}

func (u Unavailable) Lookup(context.Context, string, int) (Chunk, error) {
	return Chunk{}, u.err("lookup")
}

func (u Unavailable) Ping(context.Context) error { return u.err("ping") }
