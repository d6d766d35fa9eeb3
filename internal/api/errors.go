package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kalambet/opsassist/internal/apperr"
	"github.com/kalambet/opsassist/internal/ingest"
	"github.com/kalambet/opsassist/internal/pipeline"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Preview string `json:"preview,omitempty"`
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindExtractionEmpty:
		return http.StatusBadRequest
	case apperr.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	case apperr.KindModelCallFailed, apperr.KindSchemaInvalid:
		return http.StatusBadGateway
	case apperr.KindChunkNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// classify maps a pipeline failure to an HTTP status and error body.
func classify(err error) (int, errorDetail) {
	detail := errorDetail{Message: err.Error(), Type: "api_error"}
	// The caller's own artifact failed the schema; it is not a model fault.
	if errors.Is(err, pipeline.ErrInvalidArtifact) {
		detail.Type = "invalid_request_error"
		detail.Preview = apperr.PreviewOf(err)
		return http.StatusBadRequest, detail
	}
	if kind, ok := apperr.KindOf(err); ok {
		detail.Type = string(kind)
		detail.Preview = apperr.PreviewOf(err)
		return statusFor(kind), detail
	}
	if errors.Is(err, ingest.ErrInvalidSource) {
		detail.Type = "invalid_request_error"
		return http.StatusBadRequest, detail
	}
	return http.StatusInternalServerError, detail
}

// writeError writes the classified failure and logs it once.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, detail := classify(err)

	slog.Warn("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"status", code,
		"type", detail.Type,
		"error", err,
	)
	writeJSON(w, code, errorBody{Error: detail})
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, errorBody{Error: errorDetail{
		Message: fmt.Sprintf(format, args...),
		Type:    errType,
	}})
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		if fe.Param() != "" {
			msgs[i] = fmt.Sprintf("%s: failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param())
		} else {
			msgs[i] = fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag())
		}
	}
	return strings.Join(msgs, "; ")
}
