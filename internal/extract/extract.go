// Package extract turns raw document bytes into ordered text segments with
// optional page and section provenance.
package extract

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DocType is the document format tag supplied at ingestion.
type DocType string

const (
	DocTypeText     DocType = "txt"
	DocTypeMarkdown DocType = "md"
	DocTypeDOCX     DocType = "docx"
	DocTypePDF      DocType = "pdf"
	DocTypeXLSX     DocType = "xlsx"
)

// ParseDocType normalises a document type tag. Unrecognised types are
// treated as plain text; exports from other editors typically arrive as docx
// or pdf anyway.
func ParseDocType(s string) DocType {
	switch DocType(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "."))) {
	case DocTypeMarkdown, "markdown":
		return DocTypeMarkdown
	case DocTypeDOCX:
		return DocTypeDOCX
	case DocTypePDF:
		return DocTypePDF
	case DocTypeXLSX:
		return DocTypeXLSX
	default:
		return DocTypeText
	}
}

// Segment is one ordered unit of extracted text.
type Segment struct {
	Text         string
	PageNumber   *int
	SectionTitle *string
}

// Extractor converts raw bytes of a given type into segments.
type Extractor interface {
	Extract(docType DocType, data []byte) ([]Segment, error)
}

// Func adapts a function to a single-format extractor.
type Func func(data []byte) ([]Segment, error)

// Registry dispatches to a per-format extractor.
type Registry struct {
	byType map[DocType]Func
}

// Default returns a Registry with every supported format registered.
func Default() *Registry {
	return &Registry{byType: map[DocType]Func{
		DocTypeText:     extractText,
		DocTypeMarkdown: extractMarkdown,
		DocTypeDOCX:     extractDOCX,
		DocTypePDF:      extractPDF,
		DocTypeXLSX:     extractXLSX,
	}}
}

// Extract runs the extractor registered for docType, falling back to plain text.
func (r *Registry) Extract(docType DocType, data []byte) ([]Segment, error) {
	fn, ok := r.byType[docType]
	if !ok {
		fn = extractText
	}
	segs, err := fn(data)
	if err != nil {
		return nil, fmt.Errorf("extracting %s: %w", docType, err)
	}
	return segs, nil
}

func extractText(data []byte) ([]Segment, error) {
	return []Segment{{Text: decodeUTF8(data)}}, nil
}

// extractMarkdown starts a new segment at every ATX heading and records the
// heading as the section title of the text below it.
func extractMarkdown(data []byte) ([]Segment, error) {
	var (
		segs    []Segment
		title   *string
		current strings.Builder
	)
	flush := func() {
		if strings.TrimSpace(current.String()) != "" {
			segs = append(segs, Segment{Text: current.String(), SectionTitle: title})
		}
		current.Reset()
	}

	for _, line := range strings.Split(decodeUTF8(data), "\n") {
		if h, ok := markdownHeading(line); ok {
			flush()
			t := h
			title = &t
		}
		current.WriteString(line)
		current.WriteByte('\n')
	}
	flush()
	return segs, nil
}

func markdownHeading(line string) (string, bool) {
	trimmed := strings.TrimLeft(line, " ")
	if !strings.HasPrefix(trimmed, "#") {
		return "", false
	}
	level := len(trimmed) - len(strings.TrimLeft(trimmed, "#"))
	if level > 6 {
		return "", false
	}
	rest := trimmed[level:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return "", false
	}
	h := strings.TrimSpace(rest)
	return h, h != ""
}

// decodeUTF8 drops invalid byte sequences, mirroring a lenient decode.
func decodeUTF8(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "")
}

func intPtr(i int) *int { return &i }

func strPtr(s string) *string { return &s }
