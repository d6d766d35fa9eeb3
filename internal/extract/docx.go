package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

type docxDocument struct {
	Body struct {
		Paragraphs []docxParagraph `xml:"p"`
	} `xml:"body"`
}

type docxParagraph struct {
	Props struct {
		Style struct {
			Val string `xml:"val,attr"`
		} `xml:"pStyle"`
	} `xml:"pPr"`
	Runs []struct {
		Text []struct {
			Content string `xml:",chardata"`
		} `xml:"t"`
		Tabs []struct{} `xml:"tab"`
	} `xml:"r"`
}

func (p docxParagraph) text() string {
	var b strings.Builder
	for _, r := range p.Runs {
		for _, t := range r.Text {
			b.WriteString(t.Content)
		}
		for range r.Tabs {
			b.WriteByte('\t')
		}
	}
	return b.String()
}

func (p docxParagraph) isHeading() bool {
	style := strings.ToLower(p.Props.Style.Val)
	return strings.HasPrefix(style, "heading") || style == "title"
}

// extractDOCX reads paragraphs from word/document.xml. Blank paragraphs are
// skipped and each Heading or Title paragraph opens a new section.
func extractDOCX(data []byte) ([]Segment, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening docx archive: %w", err)
	}
	raw, err := readZipFile(zr, "word/document.xml")
	if err != nil {
		return nil, err
	}

	var doc docxDocument
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing document.xml: %w", err)
	}

	var (
		segs  []Segment
		title *string
		lines []string
	)
	flush := func() {
		if len(lines) > 0 {
			segs = append(segs, Segment{Text: strings.Join(lines, "\n"), SectionTitle: title})
		}
		lines = nil
	}
	for _, p := range doc.Body.Paragraphs {
		text := p.text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		if p.isHeading() {
			flush()
			title = strPtr(strings.TrimSpace(text))
		}
		lines = append(lines, text)
	}
	flush()
	return segs, nil
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", name, err)
		}
		defer rc.Close()
		b, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("%s not found", name)
}
