// Package pipeline wires ingestion, generation and verification into the
// request-scoped operations exposed over HTTP, MCP and the CLI.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/opsassist/internal/apperr"
	"github.com/kalambet/opsassist/internal/evidence"
	"github.com/kalambet/opsassist/internal/generate"
	"github.com/kalambet/opsassist/internal/ingest"
	"github.com/kalambet/opsassist/internal/metrics"
	"github.com/kalambet/opsassist/internal/storage"
	"github.com/kalambet/opsassist/internal/verify"
)

// ErrInvalidArtifact marks a caller-supplied artifact that fails the strict
// artifact schema. It wraps the SchemaInvalid error, which keeps the preview.
var ErrInvalidArtifact = errors.New("invalid artifact")

type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (*ingest.Result, error)
}

type ArtifactGenerator interface {
	Generate(ctx context.Context, kind generate.Kind, docIDs []string, opts generate.Options) (*generate.Result, error)
}

type ArtifactVerifier interface {
	Verify(ctx context.Context, artifact generate.Artifact, docIDs []string) (*verify.Report, error)
}

// DocumentReader is satisfied by *storage.Store.
type DocumentReader interface {
	GetDocument(ctx context.Context, docID string) (storage.Document, error)
	ListDocuments(ctx context.Context, limit, offset int) ([]storage.Document, error)
}

// Verified is the response of the verified generation variants.
type Verified struct {
	Artifact     generate.Artifact `json:"artifact"`
	Verification *verify.Report    `json:"verification"`
}

type Service struct {
	ingester  Ingester
	generator ArtifactGenerator
	verifier  ArtifactVerifier
	chunks    evidence.Store
	docs      DocumentReader
	logger    *slog.Logger
}

func NewService(ing Ingester, gen ArtifactGenerator, ver ArtifactVerifier, chunks evidence.Store, docs DocumentReader) *Service {
	return &Service{
		ingester:  ing,
		generator: gen,
		verifier:  ver,
		chunks:    chunks,
		docs:      docs,
		logger:    slog.Default(),
	}
}

func (s *Service) Ingest(ctx context.Context, req ingest.Request) (*ingest.Result, error) {
	return s.ingester.Ingest(ctx, req)
}

func (s *Service) GenerateSOP(ctx context.Context, docIDs []string, style string) (generate.Artifact, error) {
	return s.generate(ctx, generate.KindSOP, docIDs, generate.Options{Style: style})
}

func (s *Service) GenerateProcess(ctx context.Context, docIDs []string, includeRACI bool) (generate.Artifact, error) {
	return s.generate(ctx, generate.KindProcess, docIDs, generate.Options{IncludeRACI: includeRACI})
}

func (s *Service) generate(ctx context.Context, kind generate.Kind, docIDs []string, opts generate.Options) (generate.Artifact, error) {
	res, err := s.generator.Generate(ctx, kind, docIDs, opts)
	recordGeneration(kind, err)
	if err != nil {
		return nil, err
	}
	return res.Artifact, nil
}

// GenerateVerified generates an artifact and verifies it against the same
// docIDs. The verifier only ever sees a schema-valid artifact: any
// generation failure returns before it is called.
func (s *Service) GenerateVerified(ctx context.Context, kind generate.Kind, docIDs []string, opts generate.Options) (*Verified, error) {
	artifact, err := s.generate(ctx, kind, docIDs, opts)
	if err != nil {
		return nil, err
	}
	report, err := s.verify(ctx, artifact, docIDs)
	if err != nil {
		return nil, err
	}
	return &Verified{Artifact: artifact, Verification: report}, nil
}

// VerifyArtifact verifies a caller-supplied artifact. The raw JSON is decoded
// with the same strict rules as model output first.
func (s *Service) VerifyArtifact(ctx context.Context, kind generate.Kind, raw string, docIDs []string) (*verify.Report, error) {
	artifact, err := generate.DecodeArtifact(kind, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArtifact, err)
	}
	return s.verify(ctx, artifact, docIDs)
}

func (s *Service) verify(ctx context.Context, artifact generate.Artifact, docIDs []string) (*verify.Report, error) {
	report, err := s.verifier.Verify(ctx, artifact, docIDs)
	if err != nil {
		return nil, err
	}
	metrics.VerificationConfidence.WithLabelValues(string(report.OverallConfidence)).Inc()
	s.logger.Info("artifact verified",
		"kind", artifact.Kind(),
		"issues", len(report.Issues),
		"confidence", report.OverallConfidence,
	)
	return report, nil
}

func (s *Service) LookupChunk(ctx context.Context, docID string, chunkID int) (evidence.Chunk, error) {
	return s.chunks.Lookup(ctx, docID, chunkID)
}

// GetDocument reports a registry miss as ChunkNotFound so every lookup miss
// maps to the same status.
func (s *Service) GetDocument(ctx context.Context, docID string) (storage.Document, error) {
	doc, err := s.docs.GetDocument(ctx, docID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Document{}, apperr.Newf(apperr.KindChunkNotFound, "get document", "document %s not found", docID)
	}
	if err != nil {
		return storage.Document{}, apperr.New(apperr.KindStoreUnavailable, "get document", err)
	}
	return doc, nil
}

func (s *Service) ListDocuments(ctx context.Context, limit, offset int) ([]storage.Document, error) {
	docs, err := s.docs.ListDocuments(ctx, limit, offset)
	if err != nil {
		return nil, apperr.New(apperr.KindStoreUnavailable, "list documents", err)
	}
	if docs == nil {
		docs = []storage.Document{}
	}
	return docs, nil
}

// Ping reports whether the evidence store answers.
func (s *Service) Ping(ctx context.Context) error {
	return s.chunks.Ping(ctx)
}

func recordGeneration(kind generate.Kind, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if k, ok := apperr.KindOf(err); ok {
			outcome = string(k)
		}
	}
	metrics.Generations.WithLabelValues(string(kind), outcome).Inc()
}
