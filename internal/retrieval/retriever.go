package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/opsassist/internal/evidence"
)

// DefaultK is the evidence set size used when the caller passes k <= 0.
const DefaultK = 8

// Retriever assembles authority-tiered evidence sets.
type Retriever struct {
	embedder      *Embedder
	store         evidence.Store
	searchTimeout time.Duration
	logger        *slog.Logger
}

type Option func(*Retriever)

// WithSearchTimeout bounds each store query. Zero leaves queries unbounded.
func WithSearchTimeout(d time.Duration) Option {
	return func(r *Retriever) { r.searchTimeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Retriever) { r.logger = l }
}

func NewRetriever(embedder *Embedder, store evidence.Store, opts ...Option) *Retriever {
	r := &Retriever{embedder: embedder, store: store, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Store returns the evidence store the retriever queries.
func (r *Retriever) Store() evidence.Store { return r.store }

// Retrieve returns at most k chunks for query, restricted to docIDs (an empty
// slice searches every document).
//
// Each authority tier, highest first, is asked for max(1, k/len(tiers))
// results. If the tiers leave the set short, one catch-all query without a
// tier restriction fills the remainder. The catch-all does not exclude tiers
// already queried; it asks for the remainder plus the number of chunks
// already held so that duplicates cannot starve the backfill.
func (r *Retriever) Retrieve(ctx context.Context, docIDs []string, query string, k int) (*EvidenceSet, error) {
	if k <= 0 {
		k = DefaultK
	}

	vec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	tiers := evidence.Tiers()
	perTier := max(1, k/len(tiers))
	remaining := k
	set := newEvidenceSet(k)

	for _, tier := range tiers {
		if remaining == 0 {
			break
		}
		hits, err := r.query(ctx, vec, evidence.Filter{DocIDs: docIDs, Authority: tier}, min(remaining, perTier))
		if err != nil {
			return nil, fmt.Errorf("querying tier %s: %w", tier, err)
		}
		remaining -= r.addAll(set, hits, remaining)
	}

	if remaining > 0 {
		held := set.Len()
		hits, err := r.query(ctx, vec, evidence.Filter{DocIDs: docIDs}, remaining+held)
		if err != nil {
			return nil, fmt.Errorf("querying catch-all: %w", err)
		}
		added := r.addAll(set, hits, remaining)
		remaining -= added
		r.logger.Debug("catch-all backfill", "k", k, "added", added, "short", remaining)
	}

	set.sortByTier()
	return set, nil
}

// addAll adds hits until limit additions were made and returns the count.
func (r *Retriever) addAll(set *EvidenceSet, hits []evidence.ScoredChunk, limit int) int {
	added := 0
	for _, h := range hits {
		if added == limit {
			break
		}
		if set.add(h) {
			added++
		}
	}
	return added
}

func (r *Retriever) query(ctx context.Context, vec []float32, f evidence.Filter, k int) ([]evidence.ScoredChunk, error) {
	if r.searchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.searchTimeout)
		defer cancel()
	}
	r.logger.Debug("evidence query", "filter", f.String(), "k", k)
	return r.store.Query(ctx, vec, f, k)
}
