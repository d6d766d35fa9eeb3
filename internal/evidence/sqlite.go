package evidence

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kalambet/opsassist/internal/apperr"
	"github.com/kalambet/opsassist/internal/metrics"
)

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore keeps chunks in the chunks table of the local database and
// answers queries with a brute-force cosine scan. It suits document sets in
// the tens of thousands of chunks; larger corpora belong in Weaviate.
type SQLiteStore struct {
	db  *sql.DB
	dim int
}

// NewSQLiteStore wraps db, whose chunks table must already exist.
// dim > 0 enforces a fixed embedding size at upsert.
func NewSQLiteStore(db *sql.DB, dim int) *SQLiteStore {
	return &SQLiteStore{db: db, dim: dim}
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperr.New(apperr.KindStoreUnavailable, "sqlite ping", err)
	}
	return nil
}

// Upsert writes all chunks in one transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := checkDims(chunks, s.dim); err != nil {
		return apperr.New(apperr.KindStoreUnavailable, "sqlite upsert", err)
	}
	if err := s.upsert(ctx, chunks); err != nil {
		return apperr.New(apperr.KindStoreUnavailable, "sqlite upsert", err)
	}
	return nil
}

func (s *SQLiteStore) upsert(ctx context.Context, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, doc_id, filename, doc_type, blob_name, authority_level, chunk_id, page_number, section_title, content, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			doc_id = excluded.doc_id,
			filename = excluded.filename,
			doc_type = excluded.doc_type,
			blob_name = excluded.blob_name,
			authority_level = excluded.authority_level,
			chunk_id = excluded.chunk_id,
			page_number = excluded.page_number,
			section_title = excluded.section_title,
			content = excluded.content,
			embedding = excluded.embedding`)
	if err != nil {
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		_, err := stmt.ExecContext(ctx, c.ID, c.DocID, c.Filename, c.DocType, c.BlobName, string(c.AuthorityLevel),
			c.ChunkID, c.PageNumber, c.SectionTitle, c.Content, encodeFloat32s(c.Vector))
		if err != nil {
			return fmt.Errorf("upserting chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// candidate is kept during the scan phase; the full row is fetched only for
// the winners.
type candidate struct {
	id    string
	key   Key
	score float32
}

// worse orders candidates for the min-heap: lower score, then the larger
// (docId, chunkId) so ties resolve toward the smaller key.
func (a candidate) worse(b candidate) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	if a.key.DocID != b.key.DocID {
		return a.key.DocID > b.key.DocID
	}
	return a.key.ChunkID > b.key.ChunkID
}

// Query scans the filtered chunks, keeps the k most similar in a heap and
// then loads their rows.
func (s *SQLiteStore) Query(ctx context.Context, vector []float32, f Filter, k int) ([]ScoredChunk, error) {
	defer metrics.ObserveStoreQuery("sqlite", time.Now())

	if k <= 0 {
		return nil, nil
	}
	res, err := s.query(ctx, vector, f, k)
	if err != nil {
		return nil, apperr.New(apperr.KindStoreUnavailable, "sqlite query", err)
	}
	return res, nil
}

func (s *SQLiteStore) query(ctx context.Context, vector []float32, f Filter, k int) ([]ScoredChunk, error) {
	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	where, args := compileFilter(f)
	rows, err := s.db.QueryContext(ctx, `SELECT id, doc_id, chunk_id, embedding FROM chunks`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &candidateHeap{}
	var buf []float32
	for rows.Next() {
		var c candidate
		var blob []byte
		if err := rows.Scan(&c.id, &c.key.DocID, &c.key.ChunkID, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", c.id, err)
		}
		c.score = cosine(vector, buf, queryNorm)

		if h.Len() < k {
			heap.Push(h, c)
		} else if (*h)[0].worse(c) {
			(*h)[0] = c
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	if h.Len() == 0 {
		return nil, nil
	}

	winners := make([]candidate, h.Len())
	for i := len(winners) - 1; i >= 0; i-- {
		winners[i] = heap.Pop(h).(candidate)
	}

	ids := make([]any, len(winners))
	for i, w := range winners {
		ids[i] = w.id
	}
	byID, err := s.loadByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]ScoredChunk, 0, len(winners))
	for _, w := range winners {
		if c, ok := byID[w.id]; ok {
			out = append(out, ScoredChunk{Chunk: c, Score: w.score})
		}
	}
	return out, nil
}

func (s *SQLiteStore) loadByIDs(ctx context.Context, ids []any) (map[string]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, selectChunk+` WHERE id IN (?`+strings.Repeat(",?", len(ids)-1)+`)`, ids...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-k chunks: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Chunk, len(ids))
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}

// Lookup returns one chunk by its document and ordinal.
func (s *SQLiteStore) Lookup(ctx context.Context, docID string, chunkID int) (Chunk, error) {
	row := s.db.QueryRowContext(ctx, selectChunk+` WHERE doc_id = ? AND chunk_id = ?`, docID, chunkID)
	c, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Chunk{}, apperr.Newf(apperr.KindChunkNotFound, "sqlite lookup", "chunk %d of %s", chunkID, docID)
	}
	if err != nil {
		return Chunk{}, apperr.New(apperr.KindStoreUnavailable, "sqlite lookup", err)
	}
	return c, nil
}

const selectChunk = `SELECT id, doc_id, filename, doc_type, blob_name, authority_level, chunk_id, page_number, section_title, content, embedding FROM chunks`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(r rowScanner) (Chunk, error) {
	var (
		c       Chunk
		level   string
		page    sql.NullInt64
		section sql.NullString
		blob    []byte
	)
	if err := r.Scan(&c.ID, &c.DocID, &c.Filename, &c.DocType, &c.BlobName, &level, &c.ChunkID, &page, &section, &c.Content, &blob); err != nil {
		return Chunk{}, err
	}
	c.AuthorityLevel = AuthorityLevel(level)
	if page.Valid {
		p := int(page.Int64)
		c.PageNumber = &p
	}
	if section.Valid {
		sec := section.String
		c.SectionTitle = &sec
	}
	vec, err := decodeFloat32s(blob)
	if err != nil {
		return Chunk{}, fmt.Errorf("decoding embedding for %s: %w", c.ID, err)
	}
	c.Vector = vec
	return c, nil
}

// compileFilter turns f into a WHERE clause with positional arguments.
func compileFilter(f Filter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if len(f.DocIDs) > 0 {
		clauses = append(clauses, "doc_id IN (?"+strings.Repeat(",?", len(f.DocIDs)-1)+")")
		for _, id := range f.DocIDs {
			args = append(args, id)
		}
	}
	if f.Authority != "" {
		clauses = append(clauses, "authority_level = ?")
		args = append(args, string(f.Authority))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeFloat32s(b []byte) ([]float32, error) {
	return decodeFloat32sInto(nil, b)
}

// decodeFloat32sInto reuses buf when it is large enough.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	}
	buf = buf[:n]
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine returns dot(a,b)/(|a||b|) given the precomputed |a|. Vectors of
// different length score zero.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bb += float64(b[i]) * float64(b[i])
	}
	if bb == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * math.Sqrt(bb)))
}

type candidateHeap []candidate

func (h candidateHeap) Len() int           { return len(h) }
func (h candidateHeap) Less(i, j int) bool { return h[i].worse(h[j]) }
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
