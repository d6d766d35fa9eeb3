package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/opsassist/internal/ingest"
)

type ingestRequest struct {
	DocID          string `json:"docId"`
	DocType        string `json:"docType" validate:"required,doctype"`
	BlobURL        string `json:"blobUrl" validate:"required_without=Content,omitempty,url"`
	Content        string `json:"content" validate:"required_without=BlobURL,omitempty,base64"`
	Filename       string `json:"filename" validate:"required"`
	BlobName       string `json:"blobName"`
	AuthorityLevel string `json:"authorityLevel"`
}

func (r ingestRequest) toIngest() ingest.Request {
	return ingest.Request{
		DocID:          r.DocID,
		DocType:        r.DocType,
		BlobURL:        r.BlobURL,
		Content:        r.Content,
		Filename:       r.Filename,
		BlobName:       r.BlobName,
		AuthorityLevel: r.AuthorityLevel,
	}
}

func handleIngest(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ingestRequest
		if !decodeBody(w, r, maxIngestBodySize, &req) {
			return
		}

		res, err := svc.Ingest(r.Context(), req.toIngest())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleListDocuments(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		docs, err := svc.ListDocuments(r.Context(), limit, offset)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, docs)
	}
}

func handleGetDocument(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := svc.GetDocument(r.Context(), chi.URLParam(r, "docId"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

func handleLookupChunk(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chunkID, err := strconv.Atoi(chi.URLParam(r, "chunkId"))
		if err != nil || chunkID < 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "chunkId must be a non-negative integer")
			return
		}

		chunk, err := svc.LookupChunk(r.Context(), chi.URLParam(r, "docId"), chunkID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, chunk)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
