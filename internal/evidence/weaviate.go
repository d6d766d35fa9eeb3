package evidence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/kalambet/opsassist/internal/apperr"
	"github.com/kalambet/opsassist/internal/metrics"
)

var _ Store = (*WeaviateStore)(nil)

// DefaultClassName is the Weaviate class that holds document chunks.
const DefaultClassName = "OpsChunk"

// chunkNamespace seeds the name-based UUIDs of chunk objects, so re-ingesting
// a chunk id overwrites the same object.
var chunkNamespace = uuid.MustParse("6c1f0a52-3b7e-5d8a-9f2e-0a4d7c3b1e90")

// WeaviateConfig locates the Weaviate instance.
type WeaviateConfig struct {
	URL       string
	APIKey    string
	ClassName string
	Dim       int
}

// WeaviateStore is the remote evidence backend. Vectors are supplied by the
// caller; the class has no vectorizer module.
type WeaviateStore struct {
	client *weaviate.Client
	class  string
	dim    int
}

// NewWeaviateStore builds a client. No request is made until first use.
func NewWeaviateStore(cfg WeaviateConfig) (*WeaviateStore, error) {
	if cfg.URL == "" {
		return nil, errors.New("weaviate url is empty")
	}
	wc := weaviate.Config{Host: cfg.URL, Scheme: "http"}
	switch {
	case strings.HasPrefix(cfg.URL, "https://"):
		wc.Scheme, wc.Host = "https", strings.TrimPrefix(cfg.URL, "https://")
	case strings.HasPrefix(cfg.URL, "http://"):
		wc.Host = strings.TrimPrefix(cfg.URL, "http://")
	}
	wc.Host = strings.TrimSuffix(wc.Host, "/")
	if cfg.APIKey != "" {
		wc.Headers = map[string]string{"Authorization": "Bearer " + cfg.APIKey}
	}

	client, err := weaviate.NewClient(wc)
	if err != nil {
		return nil, fmt.Errorf("creating weaviate client: %w", err)
	}
	class := cfg.ClassName
	if class == "" {
		class = DefaultClassName
	}
	return &WeaviateStore{client: client, class: class, dim: cfg.Dim}, nil
}

// ClassName returns the class the store reads and writes.
func (s *WeaviateStore) ClassName() string { return s.class }

func (s *WeaviateStore) Ping(ctx context.Context) error {
	live, err := s.client.Misc().LiveChecker().Do(ctx)
	if err != nil {
		return apperr.New(apperr.KindStoreUnavailable, "weaviate ping", err)
	}
	if !live {
		return apperr.Newf(apperr.KindStoreUnavailable, "weaviate ping", "instance reports not live")
	}
	return nil
}

// chunkClass describes the index: filterable metadata, keyword-tokenized ids,
// HNSW with cosine distance.
func chunkClass(name string) *models.Class {
	filterable := true
	text := func(prop string, tokenization string) *models.Property {
		return &models.Property{
			Name:            prop,
			DataType:        []string{"text"},
			IndexFilterable: &filterable,
			Tokenization:    tokenization,
		}
	}
	integer := func(prop string) *models.Property {
		return &models.Property{
			Name:            prop,
			DataType:        []string{"int"},
			IndexFilterable: &filterable,
		}
	}
	return &models.Class{
		Class:           name,
		Description:     "Ingested document chunks with authority metadata",
		Vectorizer:      "none",
		VectorIndexType: "hnsw",
		VectorIndexConfig: map[string]interface{}{
			"distance":       "cosine",
			"ef":             100,
			"efConstruction": 200,
			"maxConnections": 4,
		},
		Properties: []*models.Property{
			text("chunkKey", "field"),
			text("docId", "field"),
			text("filename", "field"),
			text("docType", "field"),
			text("blobName", "field"),
			text("authorityLevel", "field"),
			integer("chunkId"),
			integer("pageNumber"),
			text("sectionTitle", "word"),
			text("content", "word"),
		},
	}
}

// EnsureSchema creates the chunk class if it is missing. With recreate the
// existing class and all its objects are dropped first.
func (s *WeaviateStore) EnsureSchema(ctx context.Context, recreate bool) (created bool, err error) {
	_, getErr := s.client.Schema().ClassGetter().WithClassName(s.class).Do(ctx)
	exists := getErr == nil

	if exists && recreate {
		if err := s.client.Schema().ClassDeleter().WithClassName(s.class).Do(ctx); err != nil {
			return false, apperr.New(apperr.KindStoreUnavailable, "weaviate delete class", err)
		}
		slog.Info("dropped weaviate class", "class", s.class)
		exists = false
	}
	if exists {
		return false, nil
	}

	if err := s.client.Schema().ClassCreator().WithClass(chunkClass(s.class)).Do(ctx); err != nil {
		return false, apperr.New(apperr.KindStoreUnavailable, "weaviate create class", err)
	}
	slog.Info("created weaviate class", "class", s.class)
	return true, nil
}

func objectID(chunkID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(chunkNamespace, []byte(chunkID)).String())
}

func chunkObject(class string, c Chunk) *models.Object {
	props := map[string]interface{}{
		"chunkKey":       c.ID,
		"docId":          c.DocID,
		"filename":       c.Filename,
		"docType":        c.DocType,
		"blobName":       c.BlobName,
		"authorityLevel": string(c.AuthorityLevel),
		"chunkId":        c.ChunkID,
		"content":        c.Content,
	}
	if c.PageNumber != nil {
		props["pageNumber"] = *c.PageNumber
	}
	if c.SectionTitle != nil {
		props["sectionTitle"] = *c.SectionTitle
	}
	return &models.Object{
		Class:      class,
		ID:         objectID(c.ID),
		Vector:     c.Vector,
		Properties: props,
	}
}

// Upsert imports chunks in one batch. Objects with the same UUID are
// replaced. Any per-object failure fails the call.
func (s *WeaviateStore) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := checkDims(chunks, s.dim); err != nil {
		return apperr.New(apperr.KindStoreUnavailable, "weaviate upsert", err)
	}

	objects := make([]*models.Object, len(chunks))
	for i, c := range chunks {
		objects[i] = chunkObject(s.class, c)
	}
	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return apperr.New(apperr.KindStoreUnavailable, "weaviate upsert", err)
	}

	var failed []string
	for _, item := range resp {
		if item.Result == nil || item.Result.Errors == nil || len(item.Result.Errors.Error) == 0 {
			continue
		}
		failed = append(failed, item.Result.Errors.Error[0].Message)
	}
	if len(failed) > 0 {
		return apperr.Newf(apperr.KindStoreUnavailable, "weaviate upsert", "%d of %d objects rejected: %s",
			len(failed), len(chunks), failed[0])
	}
	return nil
}

var chunkFields = []graphql.Field{
	{Name: "chunkKey"},
	{Name: "docId"},
	{Name: "filename"},
	{Name: "docType"},
	{Name: "blobName"},
	{Name: "authorityLevel"},
	{Name: "chunkId"},
	{Name: "pageNumber"},
	{Name: "sectionTitle"},
	{Name: "content"},
}

// whereFor builds (docId = a OR docId = b ...) AND authorityLevel = X. It
// returns nil when f is unrestricted.
func whereFor(f Filter) *filters.WhereBuilder {
	var operands []*filters.WhereBuilder
	if len(f.DocIDs) > 0 {
		ids := make([]*filters.WhereBuilder, len(f.DocIDs))
		for i, id := range f.DocIDs {
			ids[i] = filters.Where().WithPath([]string{"docId"}).WithOperator(filters.Equal).WithValueString(id)
		}
		if len(ids) == 1 {
			operands = append(operands, ids[0])
		} else {
			operands = append(operands, filters.Where().WithOperator(filters.Or).WithOperands(ids))
		}
	}
	if f.Authority != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"authorityLevel"}).
			WithOperator(filters.Equal).
			WithValueString(string(f.Authority)))
	}
	switch len(operands) {
	case 0:
		return nil
	case 1:
		return operands[0]
	default:
		return filters.Where().WithOperator(filters.And).WithOperands(operands)
	}
}

// Query runs a nearVector search. Results keep Weaviate's ranking.
func (s *WeaviateStore) Query(ctx context.Context, vector []float32, f Filter, k int) ([]ScoredChunk, error) {
	defer metrics.ObserveStoreQuery("weaviate", time.Now())

	if k <= 0 {
		return nil, nil
	}
	fields := append(append([]graphql.Field{}, chunkFields...), graphql.Field{Name: "_additional { certainty distance }"})
	get := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithFields(fields...).
		WithNearVector(s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)).
		WithLimit(k)
	if where := whereFor(f); where != nil {
		get = get.WithWhere(where)
	}

	result, err := get.Do(ctx)
	if err != nil {
		return nil, apperr.New(apperr.KindStoreUnavailable, "weaviate query", err)
	}
	if len(result.Errors) > 0 {
		return nil, apperr.Newf(apperr.KindStoreUnavailable, "weaviate query", "%s", result.Errors[0].Message)
	}
	return parseHits(result, s.class), nil
}

// Lookup fetches one chunk by docId and chunkId.
func (s *WeaviateStore) Lookup(ctx context.Context, docID string, chunkID int) (Chunk, error) {
	where := filters.Where().WithOperator(filters.And).WithOperands([]*filters.WhereBuilder{
		filters.Where().WithPath([]string{"docId"}).WithOperator(filters.Equal).WithValueString(docID),
		filters.Where().WithPath([]string{"chunkId"}).WithOperator(filters.Equal).WithValueInt(int64(chunkID)),
	})
	result, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithFields(chunkFields...).
		WithWhere(where).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return Chunk{}, apperr.New(apperr.KindStoreUnavailable, "weaviate lookup", err)
	}
	if len(result.Errors) > 0 {
		return Chunk{}, apperr.Newf(apperr.KindStoreUnavailable, "weaviate lookup", "%s", result.Errors[0].Message)
	}
	hits := parseHits(result, s.class)
	if len(hits) == 0 {
		return Chunk{}, apperr.Newf(apperr.KindChunkNotFound, "weaviate lookup", "chunk %d of %s", chunkID, docID)
	}
	return hits[0].Chunk, nil
}

// parseHits reads Get.<class> objects. Malformed entries are skipped.
func parseHits(result *models.GraphQLResponse, class string) []ScoredChunk {
	if result == nil {
		return nil
	}
	get, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := get[class].([]interface{})
	if !ok {
		return nil
	}

	hits := make([]ScoredChunk, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		c := Chunk{
			ID:             getString(m, "chunkKey"),
			DocID:          getString(m, "docId"),
			Filename:       getString(m, "filename"),
			DocType:        getString(m, "docType"),
			BlobName:       getString(m, "blobName"),
			AuthorityLevel: AuthorityLevel(getString(m, "authorityLevel")),
			ChunkID:        getInt(m, "chunkId"),
			Content:        getString(m, "content"),
		}
		if c.ID == "" {
			c.ID = ChunkID(c.DocID, c.ChunkID)
		}
		if _, ok := m["pageNumber"].(float64); ok {
			p := getInt(m, "pageNumber")
			c.PageNumber = &p
		}
		if sec, ok := m["sectionTitle"].(string); ok && sec != "" {
			c.SectionTitle = &sec
		}

		var score float32
		if add, ok := m["_additional"].(map[string]interface{}); ok {
			if certainty, ok := add["certainty"].(float64); ok {
				score = float32(certainty)
			}
		}
		hits = append(hits, ScoredChunk{Chunk: c, Score: score})
	}
	return hits
}

func getString(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

// getInt reads a JSON number, which Weaviate returns as float64.
func getInt(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
