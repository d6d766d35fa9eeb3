package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/opsassist/internal/generate"
)

// NewMCPServer registers the pipeline operations as MCP tools.
func NewMCPServer(svc Service, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"opsassist",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("opsassist: ingest operational documents and generate cited, verified SOPs and process documents from them."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ingest_document",
			mcp.WithDescription("Extract, chunk, embed and index a document. Provide either blobUrl or base64 content."),
			mcp.WithString("docId", mcp.Description("Document id; generated when empty")),
			mcp.WithString("docType", mcp.Description("txt, md, docx, pdf or xlsx"), mcp.Required()),
			mcp.WithString("filename", mcp.Description("Display filename"), mcp.Required()),
			mcp.WithString("blobUrl", mcp.Description("URL to download the document from")),
			mcp.WithString("content", mcp.Description("Base64-encoded document bytes")),
			mcp.WithString("blobName", mcp.Description("Storage location tag")),
			mcp.WithString("authorityLevel", mcp.Description("policy, approved_sop, process_doc, meeting_notes, standard (default) or unknown")),
		),
		mcpIngest(svc),
	)

	s.AddTool(
		mcp.NewTool("generate_sop",
			mcp.WithDescription("Generate a Standard Operating Procedure grounded in the given documents. Every step cites its sources."),
			mcp.WithArray("docIds", mcp.Description("Document ids to draw evidence from; an empty list searches every document"), mcp.Required()),
			mcp.WithString("style", mcp.Description("Writing style (default standard)")),
			mcp.WithBoolean("verify", mcp.Description("Also run the verifier and return {artifact, verification}")),
		),
		mcpGenerate(svc, generate.KindSOP),
	)

	s.AddTool(
		mcp.NewTool("generate_process",
			mcp.WithDescription("Generate a process document grounded in the given documents. Every step cites its sources."),
			mcp.WithArray("docIds", mcp.Description("Document ids to draw evidence from; an empty list searches every document"), mcp.Required()),
			mcp.WithBoolean("includeRaci", mcp.Description("Include a RACI matrix")),
			mcp.WithBoolean("verify", mcp.Description("Also run the verifier and return {artifact, verification}")),
		),
		mcpGenerate(svc, generate.KindProcess),
	)

	s.AddTool(
		mcp.NewTool("verify_artifact",
			mcp.WithDescription("Check that each step of an SOP or process document is supported by its cited source text."),
			mcp.WithString("kind", mcp.Description("sop or process"), mcp.Required()),
			mcp.WithString("artifact", mcp.Description("The artifact as a JSON string"), mcp.Required()),
			mcp.WithArray("docIds", mcp.Description("Document ids to verify against"), mcp.Required()),
		),
		mcpVerify(svc),
	)

	s.AddTool(
		mcp.NewTool("lookup_chunk",
			mcp.WithDescription("Return the text and metadata of one cited chunk."),
			mcp.WithString("docId", mcp.Required()),
			mcp.WithNumber("chunkId", mcp.Description("Chunk ordinal within the document"), mcp.Required()),
		),
		mcpLookupChunk(svc),
	)

	s.AddTool(
		mcp.NewTool("get_document",
			mcp.WithDescription("Return the registry record of an ingested document."),
			mcp.WithString("docId", mcp.Required()),
		),
		mcpGetDocument(svc),
	)

	s.AddResource(
		mcp.NewResource(
			"opsassist://documents",
			"Ingested Documents",
			mcp.WithResourceDescription("The 50 most recently ingested documents"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceDocuments(svc),
	)

	return s
}

func mcpIngest(svc Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		in := ingestRequest{
			DocID:          req.GetString("docId", ""),
			DocType:        req.GetString("docType", ""),
			BlobURL:        req.GetString("blobUrl", ""),
			Content:        req.GetString("content", ""),
			Filename:       req.GetString("filename", ""),
			BlobName:       req.GetString("blobName", ""),
			AuthorityLevel: req.GetString("authorityLevel", ""),
		}
		if err := validate.Struct(in); err != nil {
			return mcpError(describeValidation(err)), nil
		}

		res, err := svc.Ingest(ctx, in.toIngest())
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpJSON(res)
	}
}

func mcpGenerate(svc Service, kind generate.Kind) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		docIDs, ok := docIDsArg(req)
		if !ok {
			return mcpError("docIds is required; pass [] to search every document"), nil
		}
		opts := generate.Options{
			Style:       req.GetString("style", ""),
			IncludeRACI: req.GetBool("includeRaci", false),
		}

		if req.GetBool("verify", false) {
			out, err := svc.GenerateVerified(ctx, kind, docIDs, opts)
			if err != nil {
				return mcpFailure(err), nil
			}
			return mcpJSON(out)
		}

		var (
			artifact generate.Artifact
			err      error
		)
		if kind == generate.KindSOP {
			artifact, err = svc.GenerateSOP(ctx, docIDs, opts.Style)
		} else {
			artifact, err = svc.GenerateProcess(ctx, docIDs, opts.IncludeRACI)
		}
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpJSON(artifact)
	}
}

func mcpVerify(svc Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rawKind, err := req.RequireString("kind")
		if err != nil {
			return mcpError("kind is required"), nil
		}
		kind, err := generate.ParseKind(rawKind)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		artifact, err := req.RequireString("artifact")
		if err != nil {
			return mcpError("artifact is required"), nil
		}
		docIDs, ok := docIDsArg(req)
		if !ok {
			return mcpError("docIds is required; pass [] to search every document"), nil
		}

		report, err := svc.VerifyArtifact(ctx, kind, artifact, docIDs)
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpJSON(report)
	}
}

func mcpLookupChunk(svc Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		docID, err := req.RequireString("docId")
		if err != nil {
			return mcpError("docId is required"), nil
		}
		chunkID := req.GetInt("chunkId", -1)
		if chunkID < 0 {
			return mcpError("chunkId must be a non-negative integer"), nil
		}

		chunk, err := svc.LookupChunk(ctx, docID, chunkID)
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpJSON(chunk)
	}
}

func mcpGetDocument(svc Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		docID, err := req.RequireString("docId")
		if err != nil {
			return mcpError("docId is required"), nil
		}
		doc, err := svc.GetDocument(ctx, docID)
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpJSON(doc)
	}
}

func mcpResourceDocuments(svc Service) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		docs, err := svc.ListDocuments(ctx, 50, 0)
		if err != nil {
			return nil, fmt.Errorf("listing documents: %w", err)
		}
		b, err := json.Marshal(docs)
		if err != nil {
			return nil, fmt.Errorf("marshaling documents: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

// mcpFailure renders a pipeline error the way the HTTP API does, so MCP
// clients see the same type and preview.
func mcpFailure(err error) *mcp.CallToolResult {
	_, detail := classify(err)
	slog.Warn("tool call failed", "type", detail.Type, "error", err)
	b, mErr := json.Marshal(errorBody{Error: detail})
	if mErr != nil {
		return mcpError(err.Error())
	}
	return mcpError(string(b))
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

// docIDsArg reads the docIds argument. A missing or null argument is
// rejected; an explicit empty list is returned as a non-nil empty slice and
// means global search. Non-string or blank ids are rejected.
func docIDsArg(req mcp.CallToolRequest) ([]string, bool) {
	var items []any
	switch v := req.GetArguments()["docIds"].(type) {
	case []any:
		items = v
	case []string:
		for _, id := range v {
			items = append(items, id)
		}
	default:
		return nil, false
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		id, ok := item.(string)
		if !ok || strings.TrimSpace(id) == "" {
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}
