// Package segment splits extracted text into bounded, overlapping windows
// that carry the page and section provenance of their source segment.
package segment

import (
	"regexp"
	"strings"

	"github.com/kalambet/opsassist/internal/extract"
)

const (
	DefaultMaxChars = 1800
	DefaultOverlap  = 200
)

var blankRuns = regexp.MustCompile(`\n{3,}`)

// Piece is one window of a segment.
type Piece struct {
	Content      string
	PageNumber   *int
	SectionTitle *string
}

// Segmenter cuts segments into windows of at most maxChars runes, each
// starting overlap runes before the previous window's end.
type Segmenter struct {
	maxChars int
	overlap  int
}

// Option configures a Segmenter.
type Option func(*Segmenter)

// WithMaxChars sets the window size in runes. Non-positive values are ignored.
func WithMaxChars(n int) Option {
	return func(s *Segmenter) {
		if n > 0 {
			s.maxChars = n
		}
	}
}

// WithOverlap sets the overlap in runes. Negative values are ignored.
func WithOverlap(n int) Option {
	return func(s *Segmenter) {
		if n >= 0 {
			s.overlap = n
		}
	}
}

// New returns a Segmenter. An overlap that would stall the window is reduced
// to a quarter of maxChars.
func New(opts ...Option) *Segmenter {
	s := &Segmenter{maxChars: DefaultMaxChars, overlap: DefaultOverlap}
	for _, opt := range opts {
		opt(s)
	}
	if s.overlap >= s.maxChars {
		s.overlap = s.maxChars / 4
	}
	return s
}

func (s *Segmenter) MaxChars() int { return s.maxChars }
func (s *Segmenter) Overlap() int  { return s.overlap }

// Collapse squeezes runs of three or more newlines to a blank line and trims
// surrounding whitespace.
func Collapse(text string) string {
	return strings.TrimSpace(blankRuns.ReplaceAllString(text, "\n\n"))
}

// Split windows every segment in order. Segments that are empty after
// Collapse contribute nothing.
func (s *Segmenter) Split(segments []extract.Segment) []Piece {
	var out []Piece
	for _, seg := range segments {
		for _, w := range s.Windows(seg.Text) {
			out = append(out, Piece{
				Content:      w,
				PageNumber:   seg.PageNumber,
				SectionTitle: seg.SectionTitle,
			})
		}
	}
	return out
}

// Windows returns the windows of a single text after Collapse.
func (s *Segmenter) Windows(text string) []string {
	text = Collapse(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	n := len(runes)
	if n <= s.maxChars {
		return []string{text}
	}

	step := s.maxChars - s.overlap
	out := make([]string, 0, n/step+1)
	start := 0
	for {
		end := min(n, start+s.maxChars)
		out = append(out, string(runes[start:end]))
		if end == n {
			break
		}
		start = end - s.overlap
	}
	return out
}
