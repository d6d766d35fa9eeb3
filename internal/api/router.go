// Package api exposes the pipeline over HTTP (chi) and MCP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/opsassist/internal/evidence"
	"github.com/kalambet/opsassist/internal/extract"
	"github.com/kalambet/opsassist/internal/generate"
	"github.com/kalambet/opsassist/internal/ingest"
	"github.com/kalambet/opsassist/internal/pipeline"
	"github.com/kalambet/opsassist/internal/storage"
	"github.com/kalambet/opsassist/internal/verify"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	// Inline base64 content inflates by a third over the raw byte limit.
	maxIngestBodySize = 28 << 20
)

// Service is the pipeline surface the handlers call. Satisfied by
// *pipeline.Service.
type Service interface {
	Ingest(ctx context.Context, req ingest.Request) (*ingest.Result, error)
	GenerateSOP(ctx context.Context, docIDs []string, style string) (generate.Artifact, error)
	GenerateProcess(ctx context.Context, docIDs []string, includeRACI bool) (generate.Artifact, error)
	GenerateVerified(ctx context.Context, kind generate.Kind, docIDs []string, opts generate.Options) (*pipeline.Verified, error)
	VerifyArtifact(ctx context.Context, kind generate.Kind, raw string, docIDs []string) (*verify.Report, error)
	LookupChunk(ctx context.Context, docID string, chunkID int) (evidence.Chunk, error)
	GetDocument(ctx context.Context, docID string) (storage.Document, error)
	ListDocuments(ctx context.Context, limit, offset int) ([]storage.Document, error)
	Ping(ctx context.Context) error
}

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterValidation("doctype", func(fl validator.FieldLevel) bool {
		switch extract.DocType(strings.ToLower(strings.TrimSpace(fl.Field().String()))) {
		case extract.DocTypeText, extract.DocTypeMarkdown, extract.DocTypeDOCX, extract.DocTypePDF, extract.DocTypeXLSX:
			return true
		}
		return false
	})
	return v
}

// NewHandler returns the HTTP API router.
func NewHandler(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth(svc))
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/ingest", handleIngest(svc))

	r.Route("/generate", func(r chi.Router) {
		r.Post("/sop", handleGenerate(svc, generate.KindSOP, false))
		r.Post("/process", handleGenerate(svc, generate.KindProcess, false))
		r.Post("/sop/verified", handleGenerate(svc, generate.KindSOP, true))
		r.Post("/process/verified", handleGenerate(svc, generate.KindProcess, true))
	})
	r.Post("/verify", handleVerify(svc))

	r.Get("/docs", handleListDocuments(svc))
	r.Get("/docs/{docId}", handleGetDocument(svc))
	r.Get("/docs/{docId}/chunks/{chunkId}", handleLookupChunk(svc))

	return r
}

// handleHealth reports liveness. The evidence store state is informational:
// a down store does not make the process unhealthy.
func handleHealth(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store := "ok"
		if err := svc.Ping(r.Context()); err != nil {
			store = err.Error()
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "store": store})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// decodeBody reads a JSON body capped at limit and validates it.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	if err := validate.Struct(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", describeValidation(err))
		return false
	}
	return true
}
