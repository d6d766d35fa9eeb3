// Package apperr defines the failure taxonomy shared by the ingestion,
// retrieval, generation and verification layers.
package apperr

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindExtractionEmpty  Kind = "extraction_empty"
	KindStoreUnavailable Kind = "store_unavailable"
	KindModelCallFailed  Kind = "model_call_failed"
	KindSchemaInvalid    Kind = "schema_invalid"
	KindChunkNotFound    Kind = "chunk_not_found"
)

// Sentinels for errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrExtractionEmpty  = &Error{Kind: KindExtractionEmpty}
	ErrStoreUnavailable = &Error{Kind: KindStoreUnavailable}
	ErrModelCallFailed  = &Error{Kind: KindModelCallFailed}
	ErrSchemaInvalid    = &Error{Kind: KindSchemaInvalid}
	ErrChunkNotFound    = &Error{Kind: KindChunkNotFound}
)

// PreviewLimit bounds the raw payload carried by an Error.
const PreviewLimit = 300

// Error is a classified failure. Preview holds a bounded excerpt of the
// offending raw payload (model output, usually) and is safe to return to
// callers.
type Error struct {
	Kind    Kind
	Op      string
	Preview string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so callers can test against the
// package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New returns a classified error wrapping err.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf is New with a formatted cause.
func Newf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// WithPreview returns a classified error carrying a truncated copy of raw.
func WithPreview(kind Kind, op, raw string, err error) *Error {
	return &Error{Kind: kind, Op: op, Preview: Truncate(raw), Err: err}
}

// KindOf reports the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// PreviewOf returns the preview of the first *Error in err's chain.
func PreviewOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Preview
	}
	return ""
}

// Truncate cuts s to at most PreviewLimit runes.
func Truncate(s string) string {
	if utf8.RuneCountInString(s) <= PreviewLimit {
		return s
	}
	runes := []rune(s)
	return string(runes[:PreviewLimit])
}
