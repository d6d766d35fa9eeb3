package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kalambet/opsassist/internal/config"
	"github.com/kalambet/opsassist/internal/extract"
	"github.com/kalambet/opsassist/internal/ingest"
	"github.com/kalambet/opsassist/internal/storage"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest a document into the evidence store",
	Long: `Ingest a document into the evidence store.

Examples:
  opsassist ingest ./access-policy.docx --authority policy
  opsassist ingest --url https://blob.example.com/runbook.pdf --filename runbook.pdf
  opsassist ingest ./notes.md --doc-id weekly-sync-0412 --authority meeting_notes`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		blobURL, _ := cmd.Flags().GetString("url")
		var path string
		if len(args) == 1 {
			path = args[0]
		}

		req, err := buildIngestRequest(path, blobURL, ingestFlags(cmd))
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/ingest", req)
		if err != nil {
			return err
		}

		var result ingest.Result
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Ingested %s (%d chunks)", result.DocID, result.Chunks)
		return nil
	},
}

type ingestOptions struct {
	DocID     string
	DocType   string
	Filename  string
	BlobName  string
	Authority string
}

func ingestFlags(cmd *cobra.Command) ingestOptions {
	var o ingestOptions
	o.DocID, _ = cmd.Flags().GetString("doc-id")
	o.DocType, _ = cmd.Flags().GetString("type")
	o.Filename, _ = cmd.Flags().GetString("filename")
	o.BlobName, _ = cmd.Flags().GetString("blob-name")
	o.Authority, _ = cmd.Flags().GetString("authority")
	return o
}

// buildIngestRequest turns a local file or a blob URL into an ingest
// request. Local files travel base64-encoded. The document type falls back
// to the file extension.
func buildIngestRequest(path, blobURL string, o ingestOptions) (ingest.Request, error) {
	if (path == "") == (blobURL == "") {
		return ingest.Request{}, fmt.Errorf("exactly one of a file argument or --url is required")
	}

	req := ingest.Request{
		DocID:          o.DocID,
		BlobName:       o.BlobName,
		AuthorityLevel: o.Authority,
		Filename:       o.Filename,
	}

	name := path
	if blobURL != "" {
		u, err := url.Parse(blobURL)
		if err != nil {
			return ingest.Request{}, fmt.Errorf("parsing --url: %w", err)
		}
		req.BlobURL = blobURL
		name = u.Path
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return ingest.Request{}, fmt.Errorf("reading file: %w", err)
		}
		req.Content = base64.StdEncoding.EncodeToString(data)
	}

	if req.Filename == "" {
		req.Filename = filepath.Base(name)
	}
	if req.BlobName == "" {
		req.BlobName = req.Filename
	}
	docType := o.DocType
	if docType == "" {
		docType = filepath.Ext(name)
	}
	req.DocType = string(extract.ParseDocType(docType))
	return req, nil
}

func init() {
	ingestCmd.Flags().String("url", "", "blob URL to fetch instead of a local file")
	ingestCmd.Flags().String("doc-id", "", "document id (generated when empty)")
	ingestCmd.Flags().String("type", "", "document type: txt, md, docx, pdf or xlsx (default from extension)")
	ingestCmd.Flags().String("filename", "", "display filename (default from path)")
	ingestCmd.Flags().String("blob-name", "", "blob name recorded with each chunk")
	ingestCmd.Flags().String("authority", "", "policy, approved_sop, process_doc, meeting_notes or standard")
}

// --- generate ---

var generateCmd = &cobra.Command{
	Use:   "generate <sop|process>",
	Short: "Generate a grounded SOP or process document",
	Long: `Generate a grounded SOP or process document from ingested documents.

Examples:
  opsassist generate sop --doc access-policy --doc weekly-sync-0412 --verify
  opsassist generate process --doc onboarding --raci -o onboarding.json
  opsassist generate sop --all-docs`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"sop", "process"},
	RunE: func(cmd *cobra.Command, args []string) error {
		docIDs, _ := cmd.Flags().GetStringArray("doc")
		allDocs, _ := cmd.Flags().GetBool("all-docs")
		style, _ := cmd.Flags().GetString("style")
		raci, _ := cmd.Flags().GetBool("raci")
		verified, _ := cmd.Flags().GetBool("verify")
		output, _ := cmd.Flags().GetString("output")

		docIDs, err := docSelection(docIDs, allDocs)
		if err != nil {
			return err
		}
		path, body, err := generateRoute(args[0], docIDs, style, raci, verified)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if len(docIDs) == 0 {
			printStep("Generating %s from every ingested document", args[0])
		} else {
			printStep("Generating %s from %d document(s)", args[0], len(docIDs))
		}
		resp, err := client.post(cmd.Context(), path, body)
		if err != nil {
			return err
		}

		var result json.RawMessage
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if verified {
			reportConfidence(result)
		}
		return writeOutput(output, result)
	},
}

// docSelection resolves --doc and --all-docs into the docIds sent to the
// server. --all-docs sends an explicit empty list, which searches every
// document.
func docSelection(docIDs []string, allDocs bool) ([]string, error) {
	switch {
	case allDocs && len(docIDs) > 0:
		return nil, fmt.Errorf("--doc and --all-docs are mutually exclusive")
	case allDocs:
		return []string{}, nil
	case len(docIDs) == 0:
		return nil, fmt.Errorf("at least one --doc (or --all-docs) is required")
	}
	return docIDs, nil
}

// generateRoute picks the endpoint and request body for a generate call.
// docIDs must be non-nil; an empty slice asks for global search.
func generateRoute(kind string, docIDs []string, style string, raci, verified bool) (string, map[string]any, error) {
	if docIDs == nil {
		return "", nil, fmt.Errorf("at least one --doc (or --all-docs) is required")
	}
	body := map[string]any{"docIds": docIDs}
	switch kind {
	case "sop":
		if style != "" {
			body["style"] = style
		}
	case "process":
		body["includeRaci"] = raci
	default:
		return "", nil, fmt.Errorf("unknown artifact kind %q: want sop or process", kind)
	}
	path := "/generate/" + kind
	if verified {
		path += "/verified"
	}
	return path, body, nil
}

// reportConfidence prints the verifier verdict of a verified response to
// stderr so stdout stays valid JSON.
func reportConfidence(raw json.RawMessage) {
	var v struct {
		Verification struct {
			OverallConfidence string            `json:"overall_confidence"`
			Issues            []json.RawMessage `json:"issues"`
			Conflicts         []json.RawMessage `json:"conflicts"`
		} `json:"verification"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return
	}
	r := v.Verification
	printConfidence(r.OverallConfidence, "%d issue(s), %d conflict(s)", len(r.Issues), len(r.Conflicts))
}

func init() {
	generateCmd.Flags().StringArray("doc", nil, "document id to ground on (repeatable)")
	generateCmd.Flags().Bool("all-docs", false, "ground on every ingested document")
	generateCmd.Flags().String("style", "", "SOP style hint, e.g. concise or detailed")
	generateCmd.Flags().Bool("raci", false, "include a RACI matrix (process only)")
	generateCmd.Flags().Bool("verify", false, "run the verifier on the generated artifact")
	generateCmd.Flags().StringP("output", "o", "", "write the JSON result to a file instead of stdout")
}

// --- verify ---

var verifyCmd = &cobra.Command{
	Use:   "verify <artifact.json>",
	Short: "Verify an existing SOP or process document against the evidence",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		docIDs, _ := cmd.Flags().GetStringArray("doc")
		allDocs, _ := cmd.Flags().GetBool("all-docs")
		docIDs, err := docSelection(docIDs, allDocs)
		if err != nil {
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading artifact: %w", err)
		}
		if !json.Valid(data) {
			return fmt.Errorf("%s is not valid JSON", args[0])
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/verify", map[string]any{
			"kind":     kind,
			"artifact": json.RawMessage(data),
			"docIds":   docIDs,
		})
		if err != nil {
			return err
		}

		var report json.RawMessage
		if err := decodeJSON(resp, &report); err != nil {
			return err
		}
		reportConfidence(json.RawMessage(`{"verification":` + string(report) + `}`))
		return writeOutput("", report)
	},
}

func init() {
	verifyCmd.Flags().String("kind", "sop", "artifact kind: sop or process")
	verifyCmd.Flags().StringArray("doc", nil, "document id the artifact was generated from (repeatable)")
	verifyCmd.Flags().Bool("all-docs", false, "verify against every ingested document")
}

// --- lookup ---

var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Look up stored documents and chunks",
}

var lookupChunkCmd = &cobra.Command{
	Use:   "chunk <docId> <chunkId>",
	Short: "Show one chunk by document id and chunk number",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 {
			return fmt.Errorf("chunkId must be a non-negative integer, got %q", args[1])
		}
		return getAndPrint(cmd.Context(), "/docs/"+url.PathEscape(args[0])+"/chunks/"+strconv.Itoa(n))
	},
}

var lookupDocCmd = &cobra.Command{
	Use:   "doc <docId>",
	Short: "Show the registry entry of one document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getAndPrint(cmd.Context(), "/docs/"+url.PathEscape(args[0]))
	},
}

func init() {
	lookupCmd.AddCommand(lookupChunkCmd)
	lookupCmd.AddCommand(lookupDocCmd)
}

func getAndPrint(ctx context.Context, path string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	resp, err := client.get(ctx, path)
	if err != nil {
		return err
	}
	var v json.RawMessage
	if err := decodeJSON(resp, &v); err != nil {
		return err
	}
	return writeOutput("", v)
}

// --- docs ---

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "List ingested documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/docs?limit=%d&offset=%d", limit, offset))
		if err != nil {
			return err
		}
		var docs []storage.Document
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}
		printDocuments(os.Stdout, docs)
		return nil
	},
}

func init() {
	docsCmd.Flags().Int("limit", 20, "maximum number of documents to show")
	docsCmd.Flags().Int("offset", 0, "number of documents to skip")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s  (%s)\n", colorize(colorBold, k.Key), k.Value, k.EnvVar)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so the default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
