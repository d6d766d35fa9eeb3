package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/kalambet/opsassist/internal/composer"
)

// Fixture is the offline Completer. It never touches the network: it reads
// the artifact header and the first evidence anchor from the prompt and
// returns a canned reply of the matching shape, citing that anchor.
type Fixture struct{}

const fixtureQuoteWords = 12

func (Fixture) Complete(ctx context.Context, messages []Message, opts CallOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(m.Content)
		sb.WriteByte('\n')
	}
	prompt := sb.String()

	kind, ok := composer.ArtifactKind(prompt)
	if !ok {
		return "", fmt.Errorf("offline fixture: prompt has no artifact header")
	}

	var sources []map[string]any
	if refs := composer.ParseAnchors(prompt); len(refs) > 0 {
		ref := refs[0]
		sources = []map[string]any{{
			"docId":    ref.DocID,
			"filename": ref.Filename,
			"chunkId":  ref.ChunkID,
			"quote":    quoteAfterAnchor(prompt, ref),
		}}
	}

	var reply any
	switch kind {
	case "sop":
		reply = fixtureSOP(promptValue(prompt, "Style: "), sources)
	case "process":
		reply = fixtureProcess(promptValue(prompt, "includeRaci: ") == "true", sources)
	case "verification":
		reply = fixtureReport(sources != nil)
	default:
		return "", fmt.Errorf("offline fixture: unknown artifact kind %q", kind)
	}

	b, err := json.Marshal(reply)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func fixtureSOP(style string, sources []map[string]any) map[string]any {
	if style == "" {
		style = "standard"
	}
	var steps []map[string]any
	if sources != nil {
		steps = []map[string]any{
			{"step": 1, "action": "Collect inputs", "owner": "Analyst", "tools": []string{"Upload UI"}, "output": "Source files", "sources": sources},
			{"step": 2, "action": "Draft SOP", "owner": "Ops Lead", "tools": []string{"Ops Assistant"}, "output": "SOP draft", "sources": sources},
		}
	}
	return map[string]any{
		"title":   fmt.Sprintf("Mock SOP (%s)", style),
		"purpose": "Demonstrate SOP output without AI connectivity.",
		"scope":   "Demo scope for uploaded documents.",
		"roles": []map[string]any{
			{"role": "Ops Lead", "responsibilities": []string{"Review inputs", "Approve SOP"}},
			{"role": "Analyst", "responsibilities": []string{"Compile steps", "Validate sources"}},
		},
		"prerequisites":   []string{"Uploaded source files", "Basic process context"},
		"steps":           nonNil(steps),
		"exceptions":      []string{"Missing inputs", "Unclear ownership"},
		"audit_checklist": []string{"All steps have owners", "Outputs match inputs"},
	}
}

func fixtureProcess(includeRACI bool, sources []map[string]any) map[string]any {
	var steps []map[string]any
	if sources != nil {
		steps = []map[string]any{
			{"step": 1, "what_happens": "Intake request", "owner": "Ops Lead", "sources": sources},
			{"step": 2, "what_happens": "Generate doc", "owner": "Analyst", "sources": sources},
		}
	}
	raci := []map[string]any{}
	if includeRACI {
		raci = []map[string]any{
			{"activity": "Draft SOP", "r": "Analyst", "a": "Ops Lead", "c": []string{"SME"}, "i": []string{"Stakeholders"}},
		}
	}
	return map[string]any{
		"title":         "Mock Process Doc",
		"overview":      "Demonstrate process output without AI connectivity.",
		"trigger":       "New request received",
		"inputs":        []string{"Request form", "Source files"},
		"outputs":       []string{"Approved SOP", "Process doc"},
		"systems":       []string{"Ops Assistant"},
		"process_steps": nonNil(steps),
		"edge_cases":    []string{"Missing data"},
		"metrics":       []string{"Time to draft", "Approval rate"},
		"raci":          raci,
	}
}

func fixtureReport(hasEvidence bool) map[string]any {
	r := map[string]any{
		"issues":             []any{},
		"conflicts":          []any{},
		"missing_info":       []string{},
		"overall_confidence": "high",
	}
	if !hasEvidence {
		r["missing_info"] = []string{"No evidence was retrieved for the requested documents."}
		r["overall_confidence"] = "low"
	}
	return r
}

func nonNil(s []map[string]any) []map[string]any {
	if s == nil {
		return []map[string]any{}
	}
	return s
}

// promptValue returns the rest of the first line starting with prefix.
func promptValue(prompt, prefix string) string {
	for _, line := range strings.Split(prompt, "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), prefix); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// quoteAfterAnchor returns a verbatim prefix of the first content line
// following ref's anchor, at most fixtureQuoteWords words long.
func quoteAfterAnchor(prompt string, ref composer.AnchorRef) string {
	anchor := fmt.Sprintf("[[doc:%s|file:%s|chunk:%d]]", ref.DocID, ref.Filename, ref.ChunkID)
	i := strings.Index(prompt, anchor)
	if i < 0 {
		return "Unknown"
	}
	rest := prompt[i+len(anchor):]
	for _, line := range strings.Split(rest, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "(page ") || strings.HasPrefix(line, "(section ") {
			continue
		}
		return firstWords(line, fixtureQuoteWords)
	}
	return "Unknown"
}

func firstWords(s string, n int) string {
	words := 0
	inWord := false
	for i, r := range s {
		if unicode.IsSpace(r) {
			if inWord {
				words++
				if words == n {
					return s[:i]
				}
			}
			inWord = false
			continue
		}
		inWord = true
	}
	return s
}

// DefaultHashDim is the vector size HashEmbedder uses when Dim is zero.
const DefaultHashDim = 256

// HashEmbedder is the offline Embedder: a feature-hashing bag of words
// normalized to unit length. Texts sharing words land close together.
type HashEmbedder struct {
	Dim int
}

func (h HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dim := h.Dim
	if dim <= 0 {
		dim = DefaultHashDim
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashVector(t, dim)
	}
	return out, nil
}

func hashVector(text string, dim int) []float32 {
	v := make([]float32, dim)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		f := fnv.New32a()
		f.Write([]byte(tok))
		sum := f.Sum32()
		sign := float32(1)
		if sum&(1<<31) != 0 {
			sign = -1
		}
		v[int(sum%uint32(dim))] += sign
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= inv
	}
	return v
}
