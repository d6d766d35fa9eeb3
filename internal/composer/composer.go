// Package composer renders retrieved evidence into the citation-anchored
// block that generation and verification prompts embed.
package composer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kalambet/opsassist/internal/evidence"
)

// Composer renders evidence blocks under an optional token budget.
type Composer struct {
	// MaxTokens bounds the rendered block. Zero means unbounded.
	MaxTokens int
}

func New(maxTokens int) *Composer {
	if maxTokens < 0 {
		maxTokens = 0
	}
	return &Composer{MaxTokens: maxTokens}
}

// AnchorRef is the decoded form of an anchor.
type AnchorRef struct {
	DocID    string
	Filename string
	ChunkID  int
}

var anchorRe = regexp.MustCompile(`\[\[doc:([^|\]]+)\|file:([^|\]]*)\|chunk:(\d+)\]\]`)

var anchorEscaper = strings.NewReplacer("|", "/", "[", "(", "]", ")")

// Anchor returns the citation anchor for c: [[doc:<docId>|file:<filename>|chunk:<n>]].
// Characters that would break the anchor grammar are replaced.
func Anchor(c evidence.Chunk) string {
	return fmt.Sprintf("[[doc:%s|file:%s|chunk:%d]]",
		anchorEscaper.Replace(c.DocID), anchorEscaper.Replace(c.Filename), c.ChunkID)
}

// ParseAnchors returns every anchor in text, in order of appearance.
func ParseAnchors(text string) []AnchorRef {
	matches := anchorRe.FindAllStringSubmatch(text, -1)
	refs := make([]AnchorRef, 0, len(matches))
	for _, m := range matches {
		n, err := strconv.Atoi(m[3])
		if err != nil {
			continue
		}
		refs = append(refs, AnchorRef{DocID: m[1], Filename: m[2], ChunkID: n})
	}
	return refs
}

// EvidenceBlock renders chunks in the given order, each as its anchor line,
// an optional location line and the content. Once the budget is exhausted
// the remaining (lowest-priority) chunks are dropped. It returns the block
// and the number of chunks rendered.
func (c *Composer) EvidenceBlock(chunks []evidence.ScoredChunk) (string, int) {
	var sb strings.Builder
	remaining := c.MaxTokens
	used := 0
	for _, ch := range chunks {
		entry := formatChunk(ch.Chunk)
		if c.MaxTokens > 0 {
			tokens := EstimateTokens(entry)
			if tokens > remaining {
				break
			}
			remaining -= tokens
		}
		sb.WriteString(entry)
		used++
	}
	return strings.TrimRight(sb.String(), "\n"), used
}

func formatChunk(ch evidence.Chunk) string {
	var sb strings.Builder
	sb.WriteString(Anchor(ch))
	sb.WriteByte('\n')

	var loc []string
	if ch.PageNumber != nil {
		loc = append(loc, "page "+strconv.Itoa(*ch.PageNumber))
	}
	if ch.SectionTitle != nil && *ch.SectionTitle != "" {
		loc = append(loc, "section "+strconv.Quote(*ch.SectionTitle))
	}
	if len(loc) > 0 {
		sb.WriteString("(" + strings.Join(loc, ", ") + ")\n")
	}

	sb.WriteString(ch.Content)
	sb.WriteString("\n\n")
	return sb.String()
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

const artifactPrefix = "ARTIFACT: "

// ArtifactHeader is the first line of every generation and verification
// prompt. Fixture models key their canned reply on it.
func ArtifactHeader(kind string) string {
	return artifactPrefix + kind
}

// ArtifactKind finds the header written by ArtifactHeader in text.
func ArtifactKind(text string) (string, bool) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if kind, ok := strings.CutPrefix(line, artifactPrefix); ok && kind != "" {
			return strings.TrimSpace(kind), true
		}
	}
	return "", false
}
