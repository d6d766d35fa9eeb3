// Package evidence defines chunk records, the authority tiers used to order
// them, and the Store adapters that persist and search them.
package evidence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// AuthorityLevel ranks how binding a source document is.
type AuthorityLevel string

const (
	AuthorityPolicy       AuthorityLevel = "policy"
	AuthorityApprovedSOP  AuthorityLevel = "approved_sop"
	AuthorityProcessDoc   AuthorityLevel = "process_doc"
	AuthorityMeetingNotes AuthorityLevel = "meeting_notes"
	AuthorityStandard     AuthorityLevel = "standard"
	AuthorityUnknown      AuthorityLevel = "unknown"
)

var tiers = []AuthorityLevel{
	AuthorityPolicy,
	AuthorityApprovedSOP,
	AuthorityProcessDoc,
	AuthorityMeetingNotes,
	AuthorityStandard,
	AuthorityUnknown,
}

// Tiers returns every authority level, highest first.
func Tiers() []AuthorityLevel {
	out := make([]AuthorityLevel, len(tiers))
	copy(out, tiers)
	return out
}

// Rank is the position of a in Tiers; lower is more authoritative.
func (a AuthorityLevel) Rank() int {
	for i, t := range tiers {
		if t == a {
			return i
		}
	}
	return len(tiers) - 1
}

// ParseAuthorityLevel maps an ingestion tag to a level. Empty means standard;
// anything unrecognised is unknown.
func ParseAuthorityLevel(s string) AuthorityLevel {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return AuthorityStandard
	}
	for _, t := range tiers {
		if string(t) == s {
			return t
		}
	}
	return AuthorityUnknown
}

// Chunk is one indexed window of a document.
type Chunk struct {
	ID             string         `json:"id"`
	DocID          string         `json:"docId"`
	Filename       string         `json:"filename"`
	DocType        string         `json:"docType"`
	BlobName       string         `json:"blobName"`
	AuthorityLevel AuthorityLevel `json:"authorityLevel"`
	ChunkID        int            `json:"chunkId"`
	PageNumber     *int           `json:"pageNumber,omitempty"`
	SectionTitle   *string        `json:"sectionTitle,omitempty"`
	Content        string         `json:"content"`
	Vector         []float32      `json:"-"`
}

// Key identifies a chunk within the evidence set.
func (c Chunk) Key() Key { return Key{DocID: c.DocID, ChunkID: c.ChunkID} }

// Key is the (docId, chunkId) pair used for deduplication and lookups.
type Key struct {
	DocID   string
	ChunkID int
}

// ScoredChunk is a query hit. Higher Score is more similar.
type ScoredChunk struct {
	Chunk
	Score float32 `json:"score"`
}

// SourceRef cites a chunk from generated output.
type SourceRef struct {
	DocID    string `json:"docId" validate:"required"`
	Filename string `json:"filename" validate:"required"`
	ChunkID  int    `json:"chunkId" validate:"min=0"`
	Quote    string `json:"quote" validate:"required"`
}

// UnmarshalJSON requires chunkId to be present. A zero ChunkID is a real
// ordinal, so an omitted field must not decode as chunk 0. Unknown fields are
// rejected as the strict artifact decoder would.
func (r *SourceRef) UnmarshalJSON(data []byte) error {
	var wire struct {
		DocID    string `json:"docId"`
		Filename string `json:"filename"`
		ChunkID  *int   `json:"chunkId"`
		Quote    string `json:"quote"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&wire); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if wire.ChunkID == nil {
		return errors.New("source: chunkId is required")
	}
	*r = SourceRef{DocID: wire.DocID, Filename: wire.Filename, ChunkID: *wire.ChunkID, Quote: wire.Quote}
	return nil
}

// ChunkID builds the record id for the ordinal-th chunk of a document.
func ChunkID(docID string, ordinal int) string {
	return docID + "_" + strconv.Itoa(ordinal)
}

// Filter restricts a query. Empty DocIDs means every document; an empty
// Authority means every tier.
type Filter struct {
	DocIDs    []string
	Authority AuthorityLevel
}

// String renders the filter as an OData expression for logs.
func (f Filter) String() string {
	var parts []string
	if len(f.DocIDs) > 0 {
		ors := make([]string, len(f.DocIDs))
		for i, id := range f.DocIDs {
			ors[i] = fmt.Sprintf("docId eq '%s'", strings.ReplaceAll(id, "'", "''"))
		}
		parts = append(parts, "("+strings.Join(ors, " or ")+")")
	}
	if f.Authority != "" {
		parts = append(parts, fmt.Sprintf("authorityLevel eq '%s'", f.Authority))
	}
	return strings.Join(parts, " and ")
}

// Store persists chunks and answers filtered similarity queries.
type Store interface {
	// Upsert writes chunks, replacing any with the same ID.
	Upsert(ctx context.Context, chunks []Chunk) error

	// Query returns up to k chunks matching f, most similar first.
	Query(ctx context.Context, vector []float32, f Filter, k int) ([]ScoredChunk, error)

	// Lookup returns a single chunk or an error matching apperr.ErrChunkNotFound.
	Lookup(ctx context.Context, docID string, chunkID int) (Chunk, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// checkDims rejects vectors that disagree with the configured dimension.
// dim 0 disables the check.
func checkDims(chunks []Chunk, dim int) error {
	for _, c := range chunks {
		if len(c.Vector) == 0 {
			return fmt.Errorf("chunk %s has no vector", c.ID)
		}
		if dim > 0 && len(c.Vector) != dim {
			return fmt.Errorf("chunk %s has %d dimensions, index expects %d", c.ID, len(c.Vector), dim)
		}
	}
	return nil
}
