package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/kalambet/opsassist/internal/config"
	"github.com/kalambet/opsassist/internal/evidence"
	"github.com/kalambet/opsassist/internal/extract"
	"github.com/kalambet/opsassist/internal/generate"
	"github.com/kalambet/opsassist/internal/ingest"
	"github.com/kalambet/opsassist/internal/llm"
	"github.com/kalambet/opsassist/internal/ollama"
	"github.com/kalambet/opsassist/internal/pipeline"
	"github.com/kalambet/opsassist/internal/retrieval"
	"github.com/kalambet/opsassist/internal/segment"
	"github.com/kalambet/opsassist/internal/storage"
	"github.com/kalambet/opsassist/internal/verify"
)

// app holds the wired pipeline and the resources it owns.
type app struct {
	cfg     config.Config
	db      *storage.Store
	chunks  evidence.Store
	service *pipeline.Service
}

func (a *app) Close() error {
	return a.db.Close()
}

// newEvidenceStore selects the backend. A Weaviate store that cannot be
// constructed is replaced by Unavailable so the server still starts and
// every evidence call reports StoreUnavailable.
func newEvidenceStore(cfg config.Config, db *storage.Store) evidence.Store {
	switch cfg.Store.Backend {
	case config.BackendWeaviate:
		ws, err := newWeaviateStore(cfg)
		if err != nil {
			slog.Warn("weaviate store unavailable", "url", cfg.Weaviate.URL, "error", err)
			return evidence.Unavailable{Reason: err.Error()}
		}
		return ws
	default:
		return evidence.NewSQLiteStore(db.DB(), cfg.Store.EmbeddingDim)
	}
}

func newWeaviateStore(cfg config.Config) (*evidence.WeaviateStore, error) {
	return evidence.NewWeaviateStore(evidence.WeaviateConfig{
		URL:       cfg.Weaviate.URL,
		APIKey:    cfg.Weaviate.APIKey,
		ClassName: cfg.Weaviate.ClassName,
		Dim:       cfg.Store.EmbeddingDim,
	})
}

// buildApp opens storage and wires every pipeline component from cfg. For
// the ollama provider it first makes sure the models are pulled, writing
// progress to progress.
func buildApp(ctx context.Context, cfg config.Config, progress io.Writer) (*app, error) {
	if cfg.Model.Provider == config.ProviderOllama {
		client := ollama.New(cfg.Ollama.BaseURL)
		if err := ollama.EnsureReady(ctx, client, []string{cfg.Ollama.ChatModel, cfg.Ollama.EmbedModel}, progress); err != nil {
			return nil, err
		}
	}

	db, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	model, err := llm.New(cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring model provider: %w", err)
	}

	chunks := newEvidenceStore(cfg, db)
	embedder := retrieval.NewEmbedder(model)
	retriever := retrieval.NewRetriever(embedder, chunks, retrieval.WithSearchTimeout(cfg.Model.EmbedTimeout))

	seg := segment.New(
		segment.WithMaxChars(cfg.Segment.MaxChars),
		segment.WithOverlap(cfg.Segment.Overlap),
	)
	ingester := ingest.NewPipeline(extract.Default(), seg, embedder, chunks, db,
		ingest.WithFetchTimeout(cfg.Ingest.FetchTimeout),
		ingest.WithMaxBytes(cfg.Ingest.MaxBytes),
		ingest.WithBatchSize(cfg.Segment.EmbedBatch),
	)
	generator := generate.New(retriever, model,
		generate.WithTopK(cfg.Retrieval.TopK),
		generate.WithTemperature(float32(cfg.Model.Temperature)),
		generate.WithTokenBudget(cfg.Retrieval.TokenBudget),
	)
	verifier := verify.New(retriever, model,
		verify.WithLookup(chunks),
		verify.WithTopK(cfg.Retrieval.TopK),
		verify.WithTokenBudget(cfg.Retrieval.TokenBudget),
	)

	slog.Info("pipeline ready",
		"provider", cfg.Model.Provider,
		"store", cfg.Store.Backend,
		"top_k", cfg.Retrieval.TopK,
		"data_dir", cfg.Storage.DataDir,
	)
	return &app{
		cfg:     cfg,
		db:      db,
		chunks:  chunks,
		service: pipeline.NewService(ingester, generator, verifier, chunks, db),
	}, nil
}
