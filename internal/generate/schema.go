package generate

import (
	"fmt"
	"strings"

	"github.com/kalambet/opsassist/internal/evidence"
)

// Kind selects the artifact to generate.
type Kind string

const (
	KindSOP     Kind = "sop"
	KindProcess Kind = "process"
)

// ParseKind accepts "sop" and "process" in any case.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindSOP:
		return KindSOP, nil
	case KindProcess:
		return KindProcess, nil
	}
	return "", fmt.Errorf("unknown artifact kind %q (want sop or process)", s)
}

// Artifact is a validated SOP or ProcessDocument.
type Artifact interface {
	Kind() Kind
	// CitedSteps lists every step with the sources it cites.
	CitedSteps() []CitedStep
}

// CitedStep is the part of a step the verifier audits.
type CitedStep struct {
	Step    int
	Claim   string
	Sources []evidence.SourceRef
}

type SOP struct {
	Title          string    `json:"title" validate:"required"`
	Purpose        string    `json:"purpose" validate:"required"`
	Scope          string    `json:"scope" validate:"required"`
	Roles          []Role    `json:"roles" validate:"required,dive"`
	Prerequisites  []string  `json:"prerequisites" validate:"required"`
	Steps          []SOPStep `json:"steps" validate:"required,dive"`
	Exceptions     []string  `json:"exceptions" validate:"required"`
	AuditChecklist []string  `json:"audit_checklist" validate:"required"`
	DocIDs         []string  `json:"docIds,omitempty"`
}

type Role struct {
	Role             string   `json:"role" validate:"required"`
	Responsibilities []string `json:"responsibilities" validate:"required"`
}

type SOPStep struct {
	Step    int                  `json:"step" validate:"min=1"`
	Action  string               `json:"action" validate:"required"`
	Owner   string               `json:"owner" validate:"required"`
	Tools   []string             `json:"tools" validate:"required"`
	Output  string               `json:"output" validate:"required"`
	Sources []evidence.SourceRef `json:"sources" validate:"min=1,dive"`
}

func (*SOP) Kind() Kind { return KindSOP }

func (s *SOP) CitedSteps() []CitedStep {
	out := make([]CitedStep, len(s.Steps))
	for i, st := range s.Steps {
		out[i] = CitedStep{Step: st.Step, Claim: st.Action, Sources: st.Sources}
	}
	return out
}

type ProcessDocument struct {
	Title        string        `json:"title" validate:"required"`
	Overview     string        `json:"overview" validate:"required"`
	Trigger      string        `json:"trigger" validate:"required"`
	Inputs       []string      `json:"inputs" validate:"required"`
	Outputs      []string      `json:"outputs" validate:"required"`
	Systems      []string      `json:"systems" validate:"required"`
	ProcessSteps []ProcessStep `json:"process_steps" validate:"required,dive"`
	EdgeCases    []string      `json:"edge_cases" validate:"required"`
	Metrics      []string      `json:"metrics" validate:"required"`
	RACI         []RACIEntry   `json:"raci" validate:"required,dive"`
	DocIDs       []string      `json:"docIds,omitempty"`
}

type ProcessStep struct {
	Step        int                  `json:"step" validate:"min=1"`
	WhatHappens string               `json:"what_happens" validate:"required"`
	Owner       string               `json:"owner" validate:"required"`
	Sources     []evidence.SourceRef `json:"sources" validate:"min=1,dive"`
}

// RACIEntry assigns Responsible, Accountable, Consulted and Informed parties.
type RACIEntry struct {
	Activity string   `json:"activity" validate:"required"`
	R        string   `json:"r" validate:"required"`
	A        string   `json:"a" validate:"required"`
	C        []string `json:"c" validate:"required"`
	I        []string `json:"i" validate:"required"`
}

func (*ProcessDocument) Kind() Kind { return KindProcess }

func (p *ProcessDocument) CitedSteps() []CitedStep {
	out := make([]CitedStep, len(p.ProcessSteps))
	for i, st := range p.ProcessSteps {
		out[i] = CitedStep{Step: st.Step, Claim: st.WhatHappens, Sources: st.Sources}
	}
	return out
}

// newArtifact returns an empty artifact of kind for decoding into.
func newArtifact(kind Kind) (Artifact, error) {
	switch kind {
	case KindSOP:
		return &SOP{}, nil
	case KindProcess:
		return &ProcessDocument{}, nil
	}
	return nil, fmt.Errorf("unknown artifact kind %q", kind)
}

func stampDocIDs(a Artifact, docIDs []string) {
	ids := append([]string(nil), docIDs...)
	switch v := a.(type) {
	case *SOP:
		v.DocIDs = ids
	case *ProcessDocument:
		v.DocIDs = ids
	}
}
