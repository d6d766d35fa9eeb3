// Package ingest turns a raw document into indexed, embedded chunks and a
// registry record. Ingestion is synchronous: the request returns once every
// chunk is stored.
package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/opsassist/internal/apperr"
	"github.com/kalambet/opsassist/internal/evidence"
	"github.com/kalambet/opsassist/internal/extract"
	"github.com/kalambet/opsassist/internal/metrics"
	"github.com/kalambet/opsassist/internal/segment"
	"github.com/kalambet/opsassist/internal/storage"
)

// ErrInvalidSource marks a request whose bytes could not be obtained.
var ErrInvalidSource = errors.New("invalid document source")

const (
	DefaultFetchTimeout = 60 * time.Second
	DefaultMaxBytes     = 20 << 20
	DefaultBatchSize    = 16
)

// Request describes one document. Exactly one of BlobURL and Content (base64)
// must be set. An empty DocID is replaced by a random UUID.
type Request struct {
	DocID          string `json:"docId"`
	DocType        string `json:"docType"`
	BlobURL        string `json:"blobUrl,omitempty"`
	Content        string `json:"content,omitempty"`
	Filename       string `json:"filename"`
	BlobName       string `json:"blobName,omitempty"`
	AuthorityLevel string `json:"authorityLevel,omitempty"`
}

type Result struct {
	OK     bool   `json:"ok"`
	DocID  string `json:"docId"`
	Chunks int    `json:"chunks"`
}

// BatchEmbedder is satisfied by *retrieval.Embedder.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error)
}

// Registry records ingested documents. Satisfied by *storage.Store.
type Registry interface {
	SaveDocument(ctx context.Context, doc storage.Document) error
	DeleteDocumentChunks(ctx context.Context, docID string, keepBelow int) (int64, error)
}

type Pipeline struct {
	extractor  extract.Extractor
	segmenter  *segment.Segmenter
	embedder   BatchEmbedder
	chunks     evidence.Store
	registry   Registry
	httpClient *http.Client
	// fetchTimeout bounds each blob download through the request context,
	// so a client supplied with WithHTTPClient is never modified.
	fetchTimeout time.Duration
	maxBytes     int
	batchSize    int
	logger       *slog.Logger
}

type Option func(*Pipeline)

func WithFetchTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.fetchTimeout = d }
}

func WithMaxBytes(n int) Option { return func(p *Pipeline) { p.maxBytes = n } }

func WithBatchSize(n int) Option { return func(p *Pipeline) { p.batchSize = n } }

func WithHTTPClient(c *http.Client) Option { return func(p *Pipeline) { p.httpClient = c } }

func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.logger = l } }

func NewPipeline(ex extract.Extractor, seg *segment.Segmenter, emb BatchEmbedder, chunks evidence.Store, reg Registry, opts ...Option) *Pipeline {
	p := &Pipeline{
		extractor:    ex,
		segmenter:    seg,
		embedder:     emb,
		chunks:       chunks,
		registry:     reg,
		httpClient:   &http.Client{},
		fetchTimeout: DefaultFetchTimeout,
		maxBytes:     DefaultMaxBytes,
		batchSize:    DefaultBatchSize,
		logger:       slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Ingest fetches, extracts, segments, embeds and stores one document. A
// document that yields no text fails with ExtractionEmpty and writes nothing.
// Re-ingesting a docId overwrites its chunks by id and drops any ordinals
// beyond the new chunk count.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (*Result, error) {
	docID := strings.TrimSpace(req.DocID)
	if docID == "" {
		docID = uuid.NewString()
	}
	docType := extract.ParseDocType(req.DocType)
	level := evidence.ParseAuthorityLevel(req.AuthorityLevel)

	data, err := p.load(ctx, req)
	if err != nil {
		return nil, err
	}

	segments, err := p.extractor.Extract(docType, data)
	if err != nil {
		return nil, apperr.New(apperr.KindExtractionEmpty, "extract", err)
	}
	pieces := p.segmenter.Split(segments)
	if len(pieces) == 0 {
		return nil, apperr.Newf(apperr.KindExtractionEmpty, "segment", "no extractable text found in %s", req.Filename)
	}

	texts := make([]string, len(pieces))
	for i, pc := range pieces {
		texts[i] = pc.Content
	}
	vecs, err := p.embedder.EmbedBatch(ctx, texts, p.batchSize)
	if err != nil {
		return nil, fmt.Errorf("embedding %s: %w", docID, err)
	}

	chunks := make([]evidence.Chunk, len(pieces))
	for i, pc := range pieces {
		chunks[i] = evidence.Chunk{
			ID:             evidence.ChunkID(docID, i),
			DocID:          docID,
			Filename:       req.Filename,
			DocType:        string(docType),
			BlobName:       req.BlobName,
			AuthorityLevel: level,
			ChunkID:        i,
			PageNumber:     pc.PageNumber,
			SectionTitle:   pc.SectionTitle,
			Content:        pc.Content,
			Vector:         vecs[i],
		}
	}
	if err := p.chunks.Upsert(ctx, chunks); err != nil {
		return nil, fmt.Errorf("storing chunks for %s: %w", docID, err)
	}
	metrics.IngestedChunks.Add(float64(len(chunks)))

	doc := storage.Document{
		DocID:          docID,
		Filename:       req.Filename,
		DocType:        string(docType),
		BlobName:       req.BlobName,
		AuthorityLevel: string(level),
		ChunkCount:     len(chunks),
		IngestedAt:     time.Now().UTC(),
	}
	if err := p.registry.SaveDocument(ctx, doc); err != nil {
		return nil, apperr.New(apperr.KindStoreUnavailable, "save document", err)
	}
	if n, err := p.registry.DeleteDocumentChunks(ctx, docID, len(chunks)); err != nil {
		p.logger.Warn("dropping stale chunks failed", "doc_id", docID, "error", err)
	} else if n > 0 {
		p.logger.Info("dropped stale chunks", "doc_id", docID, "chunks", n)
	}

	p.logger.Info("document ingested", "doc_id", docID, "doc_type", docType, "authority", level, "chunks", len(chunks))
	return &Result{OK: true, DocID: docID, Chunks: len(chunks)}, nil
}

func (p *Pipeline) load(ctx context.Context, req Request) ([]byte, error) {
	switch {
	case req.Content != "" && req.BlobURL != "":
		return nil, fmt.Errorf("%w: set either blobUrl or content, not both", ErrInvalidSource)
	case req.Content != "":
		data, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			return nil, fmt.Errorf("%w: content is not valid base64: %v", ErrInvalidSource, err)
		}
		if len(data) > p.maxBytes {
			return nil, fmt.Errorf("%w: content exceeds %d bytes", ErrInvalidSource, p.maxBytes)
		}
		return data, nil
	case req.BlobURL != "":
		return p.fetch(ctx, req.BlobURL)
	default:
		return nil, fmt.Errorf("%w: blobUrl or content is required", ErrInvalidSource)
	}
}

func (p *Pipeline) fetch(ctx context.Context, url string) ([]byte, error) {
	if p.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.fetchTimeout)
		defer cancel()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: downloading blob: %v", ErrInvalidSource, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: downloading blob: unexpected status %d", ErrInvalidSource, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(p.maxBytes)+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading blob: %v", ErrInvalidSource, err)
	}
	if len(data) > p.maxBytes {
		return nil, fmt.Errorf("%w: blob exceeds %d bytes", ErrInvalidSource, p.maxBytes)
	}
	return data, nil
}
