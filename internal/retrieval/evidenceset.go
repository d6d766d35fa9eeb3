package retrieval

import (
	"sort"

	"github.com/kalambet/opsassist/internal/evidence"
)

// EvidenceSet is the deduplicated, authority-ordered result of a retrieval.
// Chunks are ordered by tier, then by the order they were retrieved in.
type EvidenceSet struct {
	chunks []evidence.ScoredChunk
	index  map[evidence.Key]int
}

func newEvidenceSet(capacity int) *EvidenceSet {
	return &EvidenceSet{
		chunks: make([]evidence.ScoredChunk, 0, capacity),
		index:  make(map[evidence.Key]int, capacity),
	}
}

// NewEvidenceSet builds a set from chunks, dropping duplicate keys and
// applying tier order.
func NewEvidenceSet(chunks []evidence.ScoredChunk) *EvidenceSet {
	s := newEvidenceSet(len(chunks))
	for _, c := range chunks {
		s.add(c)
	}
	s.sortByTier()
	return s
}

// add appends c unless its key is already present.
func (s *EvidenceSet) add(c evidence.ScoredChunk) bool {
	k := c.Key()
	if _, ok := s.index[k]; ok {
		return false
	}
	s.index[k] = len(s.chunks)
	s.chunks = append(s.chunks, c)
	return true
}

func (s *EvidenceSet) sortByTier() {
	sort.SliceStable(s.chunks, func(i, j int) bool {
		return s.chunks[i].AuthorityLevel.Rank() < s.chunks[j].AuthorityLevel.Rank()
	})
	for i, c := range s.chunks {
		s.index[c.Key()] = i
	}
}

func (s *EvidenceSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.chunks)
}

// Chunks returns the ordered chunks. The slice must not be modified.
func (s *EvidenceSet) Chunks() []evidence.ScoredChunk {
	if s == nil {
		return nil
	}
	return s.chunks
}

func (s *EvidenceSet) Contains(docID string, chunkID int) bool {
	_, ok := s.Find(docID, chunkID)
	return ok
}

func (s *EvidenceSet) Find(docID string, chunkID int) (evidence.ScoredChunk, bool) {
	if s == nil {
		return evidence.ScoredChunk{}, false
	}
	i, ok := s.index[evidence.Key{DocID: docID, ChunkID: chunkID}]
	if !ok {
		return evidence.ScoredChunk{}, false
	}
	return s.chunks[i], true
}
