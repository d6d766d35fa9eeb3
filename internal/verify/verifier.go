// Package verify audits a generated artifact against freshly retrieved
// evidence and reports unsupported or weakly cited steps.
package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/opsassist/internal/apperr"
	"github.com/kalambet/opsassist/internal/composer"
	"github.com/kalambet/opsassist/internal/evidence"
	"github.com/kalambet/opsassist/internal/generate"
	"github.com/kalambet/opsassist/internal/llm"
	"github.com/kalambet/opsassist/internal/retrieval"
)

// MaxQuoteWords is the longest quote a citation may carry.
const MaxQuoteWords = 25

// ChunkLookup resolves citations that fall outside the evidence set.
type ChunkLookup interface {
	Lookup(ctx context.Context, docID string, chunkID int) (evidence.Chunk, error)
}

type Verifier struct {
	retriever generate.EvidenceRetriever
	model     llm.Completer
	lookup    ChunkLookup
	composer  *composer.Composer
	k         int
	logger    *slog.Logger
}

type Option func(*Verifier)

// WithLookup lets the citation audit resolve chunks the retrieval missed.
func WithLookup(l ChunkLookup) Option { return func(v *Verifier) { v.lookup = l } }

func WithTopK(k int) Option { return func(v *Verifier) { v.k = k } }

func WithTokenBudget(tokens int) Option {
	return func(v *Verifier) { v.composer = composer.New(tokens) }
}

func WithLogger(l *slog.Logger) Option { return func(v *Verifier) { v.logger = l } }

func New(r generate.EvidenceRetriever, model llm.Completer, opts ...Option) *Verifier {
	v := &Verifier{
		retriever: r,
		model:     model,
		composer:  composer.New(0),
		k:         retrieval.DefaultK,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Verify retrieves fresh evidence, asks the model for a verdict at
// temperature 0 and then audits every citation locally. A malformed verdict
// is SchemaInvalid. The artifact is not modified.
func (v *Verifier) Verify(ctx context.Context, artifact generate.Artifact, docIDs []string) (*Report, error) {
	set, err := v.retriever.Retrieve(ctx, docIDs, Query, v.k)
	if err != nil {
		return nil, fmt.Errorf("retrieving verification evidence: %w", err)
	}

	doc, err := json.Marshal(artifact)
	if err != nil {
		return nil, fmt.Errorf("encoding artifact: %w", err)
	}
	block, _ := v.composer.EvidenceBlock(set.Chunks())

	raw, err := v.model.Complete(ctx, BuildPrompt(string(doc), block), llm.CallOptions{Temperature: 0, JSON: true})
	if err != nil {
		return nil, fmt.Errorf("verifying %s: %w", artifact.Kind(), err)
	}

	report := &Report{}
	if err := generate.DecodeStrict(raw, report); err != nil {
		return nil, fmt.Errorf("verifying %s: %w", artifact.Kind(), err)
	}

	added, err := v.audit(ctx, artifact, set, report)
	if err != nil {
		return nil, fmt.Errorf("auditing citations: %w", err)
	}
	if added > 0 {
		v.logger.Info("citation audit added issues", "kind", artifact.Kind(), "issues", added)
	}
	return report, nil
}

// audit adds one issue for each step whose citation cannot be resolved or
// whose quote is not in the cited chunk, unless the model already reported a
// citation issue (missing_source or weak_evidence) for that step. Other
// issue types do not exempt a step. It caps the confidence at medium when it
// adds anything and never raises it.
func (v *Verifier) audit(ctx context.Context, artifact generate.Artifact, set *retrieval.EvidenceSet, report *Report) (int, error) {
	flagged := make(map[int]bool, len(report.Issues))
	for _, is := range report.Issues {
		if is.Type == IssueMissingSource || is.Type == IssueWeakEvidence {
			flagged[is.Step] = true
		}
	}

	added := 0
	for _, step := range artifact.CitedSteps() {
		if flagged[step.Step] {
			continue
		}
		issue, err := v.checkStep(ctx, step, set)
		if err != nil {
			return added, err
		}
		if issue != nil {
			report.Issues = append(report.Issues, *issue)
			added++
		}
	}

	if added > 0 && report.OverallConfidence.rank() > ConfidenceMedium.rank() {
		report.OverallConfidence = ConfidenceMedium
	}
	return added, nil
}

// checkStep returns the first problem found in step's citations, or nil.
func (v *Verifier) checkStep(ctx context.Context, step generate.CitedStep, set *retrieval.EvidenceSet) (*Issue, error) {
	if len(step.Sources) == 0 {
		return &Issue{Type: IssueMissingSource, Step: step.Step, Detail: "step cites no sources"}, nil
	}
	for _, src := range step.Sources {
		content, ok, err := v.resolve(ctx, src, set)
		if err != nil {
			return nil, err
		}
		if !ok {
			return &Issue{
				Type:    IssueMissingSource,
				Step:    step.Step,
				Detail:  fmt.Sprintf("cited chunk %d of %s does not exist in the evidence", src.ChunkID, src.DocID),
				Sources: []evidence.SourceRef{src},
			}, nil
		}
		if !quoteIn(content, src.Quote) {
			return &Issue{
				Type:    IssueWeakEvidence,
				Step:    step.Step,
				Detail:  fmt.Sprintf("quote is not a verbatim excerpt of chunk %d of %s", src.ChunkID, src.DocID),
				Sources: []evidence.SourceRef{src},
			}, nil
		}
		if n := len(strings.Fields(src.Quote)); n > MaxQuoteWords {
			return &Issue{
				Type:    IssueWeakEvidence,
				Step:    step.Step,
				Detail:  fmt.Sprintf("quote is %d words long; citations are limited to %d", n, MaxQuoteWords),
				Sources: []evidence.SourceRef{src},
			}, nil
		}
	}
	return nil, nil
}

func (v *Verifier) resolve(ctx context.Context, src evidence.SourceRef, set *retrieval.EvidenceSet) (string, bool, error) {
	if c, ok := set.Find(src.DocID, src.ChunkID); ok {
		return c.Content, true, nil
	}
	if v.lookup == nil {
		return "", false, nil
	}
	c, err := v.lookup.Lookup(ctx, src.DocID, src.ChunkID)
	if errors.Is(err, apperr.ErrChunkNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return c.Content, true, nil
}

// quoteIn reports whether quote occurs in content, ignoring differences in
// whitespace and a trailing ellipsis.
func quoteIn(content, quote string) bool {
	q := normalizeSpace(quote)
	q = strings.TrimSuffix(q, "...")
	q = strings.TrimSuffix(q, "…")
	q = strings.TrimSpace(q)
	if q == "" {
		return false
	}
	return strings.Contains(normalizeSpace(content), q)
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
