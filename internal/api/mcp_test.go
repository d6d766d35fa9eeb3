package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/opsassist/internal/apperr"
	"github.com/kalambet/opsassist/internal/evidence"
	"github.com/kalambet/opsassist/internal/generate"
	"github.com/kalambet/opsassist/internal/ingest"
	"github.com/kalambet/opsassist/internal/pipeline"
	"github.com/kalambet/opsassist/internal/storage"
	"github.com/kalambet/opsassist/internal/verify"
)

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestNewMCPServer_RegistersTools(t *testing.T) {
	s := NewMCPServer(&mockService{}, "test")
	if s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPTool_Ingest(t *testing.T) {
	svc := &mockService{ingestFn: func(req ingest.Request) (*ingest.Result, error) {
		if req.DocType != "md" || req.Filename != "runbook.md" {
			t.Errorf("request = %+v", req)
		}
		return &ingest.Result{OK: true, DocID: "r1", Chunks: 4}, nil
	}}
	handler := mcpIngest(svc)

	result, err := handler(context.Background(), makeCallToolRequest("ingest_document", map[string]any{
		"docId":    "r1",
		"docType":  "md",
		"filename": "runbook.md",
		"content":  "IyBSdW5ib29r",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	var res ingest.Result
	if err := json.Unmarshal([]byte(toolText(t, result)), &res); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if res.Chunks != 4 {
		t.Errorf("chunks = %d, want 4", res.Chunks)
	}
}

func TestMCPTool_Ingest_Validation(t *testing.T) {
	handler := mcpIngest(&mockService{})
	result, _ := handler(context.Background(), makeCallToolRequest("ingest_document", map[string]any{
		"docType":  "txt",
		"filename": "a.txt",
	}))
	if !result.IsError {
		t.Fatal("expected a validation error without blobUrl or content")
	}
}

func TestMCPTool_GenerateSOP(t *testing.T) {
	svc := &mockService{sopFn: func(docIDs []string, style string) (generate.Artifact, error) {
		if len(docIDs) != 2 || style != "detailed" {
			t.Errorf("docIDs = %v style = %q", docIDs, style)
		}
		return &generate.SOP{Title: "Access control"}, nil
	}}
	handler := mcpGenerate(svc, generate.KindSOP)

	result, _ := handler(context.Background(), makeCallToolRequest("generate_sop", map[string]any{
		"docIds": []any{"a", "b"},
		"style":  "detailed",
	}))
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), "Access control") {
		t.Errorf("result = %s", toolText(t, result))
	}
}

func TestMCPTool_GenerateProcessVerified(t *testing.T) {
	svc := &mockService{verifiedFn: func(kind generate.Kind, docIDs []string, opts generate.Options) (*pipeline.Verified, error) {
		if kind != generate.KindProcess || !opts.IncludeRACI {
			t.Errorf("kind = %s opts = %+v", kind, opts)
		}
		return &pipeline.Verified{
			Artifact:     &generate.ProcessDocument{Title: "Intake"},
			Verification: &verify.Report{OverallConfidence: verify.ConfidenceHigh},
		}, nil
	}}
	handler := mcpGenerate(svc, generate.KindProcess)

	result, _ := handler(context.Background(), makeCallToolRequest("generate_process", map[string]any{
		"docIds":      []any{"a"},
		"includeRaci": true,
		"verify":      true,
	}))
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), `"verification"`) {
		t.Errorf("result = %s", toolText(t, result))
	}
}

func TestMCPTool_GenerateRequiresDocIDs(t *testing.T) {
	handler := mcpGenerate(&mockService{}, generate.KindSOP)
	for _, args := range []map[string]any{
		{},
		{"docIds": nil},
		{"docIds": []any{""}},
		{"docIds": []any{1}},
	} {
		result, _ := handler(context.Background(), makeCallToolRequest("generate_sop", args))
		if !result.IsError {
			t.Errorf("args %v: expected error", args)
		}
	}
}

func TestMCPTool_GenerateEmptyDocIDs(t *testing.T) {
	var got []string
	svc := &mockService{processFn: func(docIDs []string, _ bool) (generate.Artifact, error) {
		got = docIDs
		return &generate.ProcessDocument{Title: "P"}, nil
	}}
	handler := mcpGenerate(svc, generate.KindProcess)
	result, _ := handler(context.Background(), makeCallToolRequest("generate_process", map[string]any{"docIds": []any{}}))
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if got == nil || len(got) != 0 {
		t.Errorf("docIDs = %#v, want an empty non-nil slice", got)
	}
}

func TestMCPTool_FailureCarriesKind(t *testing.T) {
	svc := &mockService{sopFn: func([]string, string) (generate.Artifact, error) {
		return nil, apperr.WithPreview(apperr.KindSchemaInvalid, "decode", "{oops", errors.New("invalid JSON"))
	}}
	handler := mcpGenerate(svc, generate.KindSOP)

	result, _ := handler(context.Background(), makeCallToolRequest("generate_sop", map[string]any{"docIds": []any{"a"}}))
	if !result.IsError {
		t.Fatal("expected tool error")
	}
	var body errorBody
	if err := json.Unmarshal([]byte(toolText(t, result)), &body); err != nil {
		t.Fatalf("decoding error: %v", err)
	}
	if body.Error.Type != "schema_invalid" || body.Error.Preview != "{oops" {
		t.Errorf("error = %+v", body.Error)
	}
}

func TestMCPTool_VerifyArtifact(t *testing.T) {
	svc := &mockService{verifyFn: func(kind generate.Kind, raw string, docIDs []string) (*verify.Report, error) {
		if kind != generate.KindSOP || raw != `{"title":"x"}` {
			t.Errorf("kind = %s raw = %s", kind, raw)
		}
		return &verify.Report{OverallConfidence: verify.ConfidenceLow}, nil
	}}
	handler := mcpVerify(svc)

	result, _ := handler(context.Background(), makeCallToolRequest("verify_artifact", map[string]any{
		"kind":     "SOP",
		"artifact": `{"title":"x"}`,
		"docIds":   []any{"d"},
	}))
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	result, _ = handler(context.Background(), makeCallToolRequest("verify_artifact", map[string]any{
		"kind":     "memo",
		"artifact": `{}`,
		"docIds":   []any{"d"},
	}))
	if !result.IsError {
		t.Error("expected error for unknown kind")
	}
}

func TestMCPTool_LookupChunk(t *testing.T) {
	svc := &mockService{lookupFn: func(docID string, chunkID int) (evidence.Chunk, error) {
		if docID != "d" || chunkID != 3 {
			return evidence.Chunk{}, apperr.Newf(apperr.KindChunkNotFound, "lookup", "chunk %d of %s", chunkID, docID)
		}
		return evidence.Chunk{DocID: "d", ChunkID: 3, Content: "cited text"}, nil
	}}
	handler := mcpLookupChunk(svc)

	result, _ := handler(context.Background(), makeCallToolRequest("lookup_chunk", map[string]any{"docId": "d", "chunkId": 3}))
	if result.IsError || !strings.Contains(toolText(t, result), "cited text") {
		t.Fatalf("result = %s", toolText(t, result))
	}

	result, _ = handler(context.Background(), makeCallToolRequest("lookup_chunk", map[string]any{"docId": "d", "chunkId": 9}))
	if !result.IsError || !strings.Contains(toolText(t, result), "chunk_not_found") {
		t.Errorf("miss result = %s", toolText(t, result))
	}

	result, _ = handler(context.Background(), makeCallToolRequest("lookup_chunk", map[string]any{"docId": "d"}))
	if !result.IsError {
		t.Error("expected error without chunkId")
	}
}

func TestMCPTool_GetDocument(t *testing.T) {
	svc := &mockService{getDocFn: func(docID string) (storage.Document, error) {
		return storage.Document{DocID: docID, Filename: "handbook.pdf", DocType: "pdf"}, nil
	}}
	result, _ := mcpGetDocument(svc)(context.Background(), makeCallToolRequest("get_document", map[string]any{"docId": "h"}))
	if result.IsError || !strings.Contains(toolText(t, result), "handbook.pdf") {
		t.Fatalf("result = %s", toolText(t, result))
	}
}

func TestMCPResource_Documents(t *testing.T) {
	svc := &mockService{listDocsFn: func(limit, offset int) ([]storage.Document, error) {
		if limit != 50 {
			t.Errorf("limit = %d", limit)
		}
		return []storage.Document{{DocID: "a"}, {DocID: "b"}}, nil
	}}
	contents, err := mcpResourceDocuments(svc)(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "opsassist://documents"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := contents[0].(mcp.TextResourceContents).Text
	var docs []storage.Document
	if err := json.Unmarshal([]byte(text), &docs); err != nil || len(docs) != 2 {
		t.Fatalf("docs = %s (%v)", text, err)
	}
}
