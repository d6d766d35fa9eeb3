package verify

import "github.com/kalambet/opsassist/internal/evidence"

// IssueType is the closed set of per-step findings.
type IssueType string

const (
	IssueMissingSource    IssueType = "missing_source"
	IssueWeakEvidence     IssueType = "weak_evidence"
	IssueUnsupportedClaim IssueType = "unsupported_claim"
	IssueAmbiguousStep    IssueType = "ambiguous_step"
)

type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

func (c Confidence) rank() int {
	switch c {
	case ConfidenceHigh:
		return 2
	case ConfidenceMedium:
		return 1
	default:
		return 0
	}
}

// Report is the verifier's verdict on one artifact. Issues are findings,
// not failures.
type Report struct {
	Issues            []Issue    `json:"issues" validate:"required,dive"`
	Conflicts         []Conflict `json:"conflicts" validate:"required,dive"`
	MissingInfo       []string   `json:"missing_info" validate:"required"`
	OverallConfidence Confidence `json:"overall_confidence" validate:"required,oneof=low medium high"`
}

type Issue struct {
	Type IssueType `json:"type" validate:"required,oneof=missing_source weak_evidence unsupported_claim ambiguous_step"`
	// Step is the artifact step number; 0 refers to the artifact as a whole.
	Step    int                  `json:"step" validate:"min=0"`
	Detail  string               `json:"detail" validate:"required"`
	Sources []evidence.SourceRef `json:"sources,omitempty" validate:"dive"`
}

type Conflict struct {
	Description string               `json:"description" validate:"required"`
	Sources     []evidence.SourceRef `json:"sources" validate:"required,dive"`
}
