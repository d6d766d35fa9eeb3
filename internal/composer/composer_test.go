package composer

import (
	"strings"
	"testing"

	"github.com/kalambet/opsassist/internal/evidence"
)

func scored(docID string, chunkID int, content string) evidence.ScoredChunk {
	return evidence.ScoredChunk{Chunk: evidence.Chunk{
		ID:       evidence.ChunkID(docID, chunkID),
		DocID:    docID,
		Filename: docID + ".md",
		ChunkID:  chunkID,
		Content:  content,
	}}
}

func TestAnchor(t *testing.T) {
	c := evidence.Chunk{DocID: "doc-1", Filename: "runbook.pdf", ChunkID: 3}
	want := "[[doc:doc-1|file:runbook.pdf|chunk:3]]"
	if got := Anchor(c); got != want {
		t.Errorf("Anchor = %q, want %q", got, want)
	}
}

func TestAnchor_EscapesGrammarCharacters(t *testing.T) {
	c := evidence.Chunk{DocID: "a|b", Filename: "notes [v2].md", ChunkID: 0}
	got := Anchor(c)
	refs := ParseAnchors(got)
	if len(refs) != 1 {
		t.Fatalf("ParseAnchors(%q) = %v, want one ref", got, refs)
	}
	if refs[0].DocID != "a/b" || refs[0].Filename != "notes (v2).md" {
		t.Errorf("ref = %+v", refs[0])
	}
}

func TestParseAnchors(t *testing.T) {
	text := "intro [[doc:d1|file:a.txt|chunk:0]] body\n[[doc:d2|file:b.pdf|chunk:12]] [[doc:bad|file:x|chunk:z]]"
	refs := ParseAnchors(text)
	want := []AnchorRef{
		{DocID: "d1", Filename: "a.txt", ChunkID: 0},
		{DocID: "d2", Filename: "b.pdf", ChunkID: 12},
	}
	if len(refs) != len(want) {
		t.Fatalf("got %d refs, want %d: %+v", len(refs), len(want), refs)
	}
	for i := range want {
		if refs[i] != want[i] {
			t.Errorf("ref[%d] = %+v, want %+v", i, refs[i], want[i])
		}
	}
}

func TestEvidenceBlock_Order(t *testing.T) {
	c := New(0)
	block, used := c.EvidenceBlock([]evidence.ScoredChunk{
		scored("policy", 0, "Always page the lead."),
		scored("notes", 4, "Lead agreed to own escalation."),
	})
	if used != 2 {
		t.Fatalf("used = %d, want 2", used)
	}
	first := strings.Index(block, "[[doc:policy|file:policy.md|chunk:0]]\nAlways page the lead.")
	second := strings.Index(block, "[[doc:notes|file:notes.md|chunk:4]]\nLead agreed")
	if first < 0 || second < 0 || first > second {
		t.Errorf("block has wrong order or format:\n%s", block)
	}
	if strings.HasSuffix(block, "\n") {
		t.Error("block has trailing newline")
	}
}

func TestEvidenceBlock_Location(t *testing.T) {
	page := 2
	title := "Escalation"
	ch := scored("d", 0, "text")
	ch.PageNumber = &page
	ch.SectionTitle = &title

	block, _ := New(0).EvidenceBlock([]evidence.ScoredChunk{ch})
	if !strings.Contains(block, `(page 2, section "Escalation")`) {
		t.Errorf("location line missing:\n%s", block)
	}
}

func TestEvidenceBlock_BudgetDropsTrailing(t *testing.T) {
	chunks := []evidence.ScoredChunk{
		scored("a", 0, strings.Repeat("x", 40)),
		scored("b", 0, strings.Repeat("y", 400)),
		scored("c", 0, "z"),
	}
	first := EstimateTokens(formatChunk(chunks[0].Chunk))

	block, used := New(first + 5).EvidenceBlock(chunks)
	if used != 1 {
		t.Fatalf("used = %d, want 1", used)
	}
	if strings.Contains(block, "doc:c") {
		t.Error("chunk after the budget cut was rendered")
	}
}

func TestEvidenceBlock_Empty(t *testing.T) {
	block, used := New(100).EvidenceBlock(nil)
	if block != "" || used != 0 {
		t.Errorf("EvidenceBlock(nil) = %q, %d", block, used)
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.in); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestArtifactKind(t *testing.T) {
	text := "You are an analyst.\n" + ArtifactHeader("process") + "\nmore"
	kind, ok := ArtifactKind(text)
	if !ok || kind != "process" {
		t.Errorf("ArtifactKind = %q, %v; want process, true", kind, ok)
	}
	if _, ok := ArtifactKind("no header here"); ok {
		t.Error("ArtifactKind found a header in plain text")
	}
}
