package api

import (
	"encoding/json"
	"net/http"

	"github.com/kalambet/opsassist/internal/generate"
)

// generateRequest covers both artifact kinds. Style applies to SOPs and
// IncludeRACI to process documents. DocIDs must be present; an explicit
// empty list searches every document.
type generateRequest struct {
	DocIDs      []string `json:"docIds" validate:"required,dive,required"`
	Style       string   `json:"style"`
	IncludeRACI bool     `json:"includeRaci"`
}

type verifyRequest struct {
	Kind string `json:"kind" validate:"required,oneof=sop process"`
	// Artifact stays raw so it is decoded with the strict artifact rules.
	Artifact json.RawMessage `json:"artifact" validate:"required"`
	DocIDs   []string        `json:"docIds" validate:"required,dive,required"`
}

func handleGenerate(svc Service, kind generate.Kind, verified bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		opts := generate.Options{Style: req.Style, IncludeRACI: req.IncludeRACI}

		if verified {
			out, err := svc.GenerateVerified(r.Context(), kind, req.DocIDs, opts)
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, out)
			return
		}

		var (
			artifact generate.Artifact
			err      error
		)
		switch kind {
		case generate.KindSOP:
			artifact, err = svc.GenerateSOP(r.Context(), req.DocIDs, req.Style)
		default:
			artifact, err = svc.GenerateProcess(r.Context(), req.DocIDs, req.IncludeRACI)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, artifact)
	}
}

func handleVerify(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req verifyRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		kind, err := generate.ParseKind(req.Kind)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		report, err := svc.VerifyArtifact(r.Context(), kind, string(req.Artifact), req.DocIDs)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}
