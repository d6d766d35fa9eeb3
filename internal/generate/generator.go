// Package generate produces citation-grounded SOPs and process documents
// from retrieved evidence and validates the model output against fixed
// schemas.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/opsassist/internal/apperr"
	"github.com/kalambet/opsassist/internal/composer"
	"github.com/kalambet/opsassist/internal/llm"
	"github.com/kalambet/opsassist/internal/retrieval"
)

const (
	DefaultStyle       = "standard"
	DefaultTemperature = 0.2
)

// Options are the caller-facing generation knobs.
type Options struct {
	// Style applies to SOPs.
	Style string
	// IncludeRACI applies to process documents.
	IncludeRACI bool
}

func (o Options) style() string {
	if o.Style == "" {
		return DefaultStyle
	}
	return o.Style
}

// EvidenceRetriever is satisfied by *retrieval.Retriever.
type EvidenceRetriever interface {
	Retrieve(ctx context.Context, docIDs []string, query string, k int) (*retrieval.EvidenceSet, error)
}

// Result is a validated artifact and the evidence it was generated from.
type Result struct {
	Kind     Kind
	Artifact Artifact
	Evidence *retrieval.EvidenceSet
}

type Generator struct {
	retriever   EvidenceRetriever
	model       llm.Completer
	composer    *composer.Composer
	k           int
	temperature float32
	logger      *slog.Logger
}

type Option func(*Generator)

func WithTopK(k int) Option { return func(g *Generator) { g.k = k } }

func WithTemperature(t float32) Option { return func(g *Generator) { g.temperature = t } }

// WithTokenBudget bounds the evidence block. Zero means unbounded.
func WithTokenBudget(tokens int) Option {
	return func(g *Generator) { g.composer = composer.New(tokens) }
}

func WithLogger(l *slog.Logger) Option { return func(g *Generator) { g.logger = l } }

func New(r EvidenceRetriever, model llm.Completer, opts ...Option) *Generator {
	g := &Generator{
		retriever:   r,
		model:       model,
		composer:    composer.New(0),
		k:           retrieval.DefaultK,
		temperature: DefaultTemperature,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate retrieves evidence for docIDs, makes one completion call and
// strictly decodes the reply. There is no retry: a reply that fails the
// schema is returned as SchemaInvalid.
func (g *Generator) Generate(ctx context.Context, kind Kind, docIDs []string, opts Options) (*Result, error) {
	if _, err := newArtifact(kind); err != nil {
		return nil, err
	}

	set, err := g.retriever.Retrieve(ctx, docIDs, retrievalQuery(kind, opts), g.k)
	if err != nil {
		return nil, fmt.Errorf("retrieving evidence for %s: %w", kind, err)
	}
	if set.Len() == 0 {
		g.logger.Warn("no evidence retrieved", "kind", kind, "doc_ids", docIDs)
	}

	block, used := g.composer.EvidenceBlock(set.Chunks())
	if used < set.Len() {
		g.logger.Warn("evidence trimmed to token budget", "kind", kind, "chunks", set.Len(), "used", used)
	}

	raw, err := g.model.Complete(ctx, BuildPrompt(kind, opts, block), llm.CallOptions{
		Temperature: g.temperature,
		JSON:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("generating %s: %w", kind, err)
	}

	artifact, err := DecodeArtifact(kind, raw)
	if err != nil {
		return nil, fmt.Errorf("generating %s: %w", kind, err)
	}
	if p, ok := artifact.(*ProcessDocument); ok && !opts.IncludeRACI && len(p.RACI) > 0 {
		return nil, fmt.Errorf("generating %s: %w", kind, apperr.WithPreview(apperr.KindSchemaInvalid, "validate", raw,
			errors.New("raci must be empty when includeRaci is false")))
	}
	stampDocIDs(artifact, docIDs)

	g.logger.Debug("artifact generated", "kind", kind, "chunks", used, "steps", len(artifact.CitedSteps()))
	return &Result{Kind: kind, Artifact: artifact, Evidence: set}, nil
}
