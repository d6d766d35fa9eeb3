package generate

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kalambet/opsassist/internal/apperr"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeStrict parses raw model output into v and validates it. Code fences
// around the JSON are tolerated; unknown fields, trailing data and failed
// validation tags are not. Every failure is SchemaInvalid and carries a
// preview of raw.
func DecodeStrict(raw string, v any) error {
	s := stripFences(raw)

	dec := json.NewDecoder(strings.NewReader(s))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.WithPreview(apperr.KindSchemaInvalid, "decode", raw, fmt.Errorf("model returned invalid JSON: %w", err))
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return apperr.WithPreview(apperr.KindSchemaInvalid, "decode", raw, errors.New("unexpected data after JSON object"))
	}
	if err := validate.Struct(v); err != nil {
		return apperr.WithPreview(apperr.KindSchemaInvalid, "validate", raw, describeValidation(err))
	}
	return nil
}

// DecodeArtifact strictly decodes raw into an artifact of kind.
func DecodeArtifact(kind Kind, raw string) (Artifact, error) {
	a, err := newArtifact(kind)
	if err != nil {
		return nil, err
	}
	if err := DecodeStrict(raw, a); err != nil {
		return nil, err
	}
	return a, nil
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.LastIndex(s, "```"); end != -1 {
			s = s[:end]
		}
	}
	return strings.TrimSpace(s)
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("schema validation: %s", strings.Join(msgs, "; "))
}
