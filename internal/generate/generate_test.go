package generate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/opsassist/internal/apperr"
	"github.com/kalambet/opsassist/internal/evidence"
	"github.com/kalambet/opsassist/internal/llm"
	"github.com/kalambet/opsassist/internal/retrieval"
	"github.com/kalambet/opsassist/internal/storage"
)

// mockRetriever implements EvidenceRetriever with a configurable function.
type mockRetriever struct {
	fn func(ctx context.Context, docIDs []string, query string, k int) (*retrieval.EvidenceSet, error)
}

func (m *mockRetriever) Retrieve(ctx context.Context, docIDs []string, query string, k int) (*retrieval.EvidenceSet, error) {
	return m.fn(ctx, docIDs, query, k)
}

type mockCompleter struct {
	fn    func(ctx context.Context, messages []llm.Message, opts llm.CallOptions) (string, error)
	calls int
}

func (m *mockCompleter) Complete(ctx context.Context, messages []llm.Message, opts llm.CallOptions) (string, error) {
	m.calls++
	return m.fn(ctx, messages, opts)
}

func reply(s string) *mockCompleter {
	return &mockCompleter{fn: func(context.Context, []llm.Message, llm.CallOptions) (string, error) { return s, nil }}
}

func oneChunk() *mockRetriever {
	return &mockRetriever{fn: func(context.Context, []string, string, int) (*retrieval.EvidenceSet, error) {
		return retrieval.NewEvidenceSet([]evidence.ScoredChunk{{Chunk: evidence.Chunk{
			ID: "d1_0", DocID: "d1", Filename: "notes.md", ChunkID: 0,
			AuthorityLevel: evidence.AuthorityMeetingNotes,
			Content:        "Ops lead approves the weekly access review.",
		}}}), nil
	}}
}

const validSOP = `{
  "title": "Access review",
  "purpose": "Keep access current.",
  "scope": "Production accounts.",
  "roles": [{"role": "Ops Lead", "responsibilities": ["Approve review"]}],
  "prerequisites": [],
  "steps": [{"step": 1, "action": "Approve the weekly access review", "owner": "Ops Lead", "tools": [], "output": "Approved review",
             "sources": [{"docId": "d1", "filename": "notes.md", "chunkId": 0, "quote": "Ops lead approves the weekly access review."}]}],
  "exceptions": [],
  "audit_checklist": ["Review recorded"]
}`

const validProcess = `{
  "title": "Access review",
  "overview": "Weekly review.",
  "trigger": "Monday",
  "inputs": [], "outputs": [], "systems": [],
  "process_steps": [{"step": 1, "what_happens": "Lead approves", "owner": "Ops Lead",
                     "sources": [{"docId": "d1", "filename": "notes.md", "chunkId": 0, "quote": "Ops lead approves"}]}],
  "edge_cases": [], "metrics": [],
  "raci": [{"activity": "Review", "r": "Analyst", "a": "Ops Lead", "c": [], "i": ["Team"]}]
}`

func TestGenerate_SOP(t *testing.T) {
	var gotMsgs []llm.Message
	var gotOpts llm.CallOptions
	model := &mockCompleter{fn: func(_ context.Context, msgs []llm.Message, opts llm.CallOptions) (string, error) {
		gotMsgs, gotOpts = msgs, opts
		return validSOP, nil
	}}

	res, err := New(oneChunk(), model).Generate(context.Background(), KindSOP, []string{"d1"}, Options{Style: "concise"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	sop, ok := res.Artifact.(*SOP)
	if !ok {
		t.Fatalf("artifact = %T, want *SOP", res.Artifact)
	}
	if sop.Title != "Access review" || len(sop.Steps) != 1 {
		t.Errorf("sop = %+v", sop)
	}
	if len(sop.DocIDs) != 1 || sop.DocIDs[0] != "d1" {
		t.Errorf("DocIDs = %v, want [d1]", sop.DocIDs)
	}
	if res.Evidence.Len() != 1 {
		t.Errorf("evidence len = %d", res.Evidence.Len())
	}

	if gotOpts.Temperature != DefaultTemperature || !gotOpts.JSON {
		t.Errorf("call options = %+v", gotOpts)
	}
	if len(gotMsgs) != 2 || gotMsgs[0].Role != llm.RoleSystem {
		t.Fatalf("messages = %+v", gotMsgs)
	}
	user := gotMsgs[1].Content
	for _, want := range []string{"ARTIFACT: sop", "Style: concise", "[[doc:d1|file:notes.md|chunk:0]]", "Ops lead approves"} {
		if !strings.Contains(user, want) {
			t.Errorf("user prompt missing %q", want)
		}
	}
	if !strings.Contains(gotMsgs[0].Content, "Unknown") {
		t.Error("system prompt should instruct Unknown for missing values")
	}
}

func TestGenerate_RetrievalQueryPerKind(t *testing.T) {
	var queries []string
	r := &mockRetriever{fn: func(_ context.Context, _ []string, q string, k int) (*retrieval.EvidenceSet, error) {
		queries = append(queries, q)
		if k != 5 {
			t.Errorf("k = %d, want 5", k)
		}
		return retrieval.NewEvidenceSet(nil), nil
	}}
	g := New(r, reply(validSOP), WithTopK(5))
	g.Generate(context.Background(), KindSOP, nil, Options{})
	g.Generate(context.Background(), KindProcess, nil, Options{})

	if len(queries) != 2 || queries[0] == queries[1] {
		t.Errorf("queries = %q, want two distinct kind-specific queries", queries)
	}
	if !strings.Contains(queries[0], "SOP") || !strings.Contains(queries[1], "process") {
		t.Errorf("queries = %q", queries)
	}
}

func TestGenerate_SchemaInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "Sure! Here is your SOP."},
		{"unknown field", strings.Replace(validSOP, `"title"`, `"notes": "x", "title"`, 1)},
		{"missing required", strings.Replace(validSOP, `"purpose": "Keep access current.",`, "", 1)},
		{"step without sources", strings.Replace(validSOP,
			`"sources": [{"docId": "d1", "filename": "notes.md", "chunkId": 0, "quote": "Ops lead approves the weekly access review."}]`,
			`"sources": []`, 1)},
		{"step zero", strings.Replace(validSOP, `"step": 1`, `"step": 0`, 1)},
		{"trailing data", validSOP + ` {"more": true}`},
		{"empty quote", strings.Replace(validSOP, `"quote": "Ops lead approves the weekly access review."`, `"quote": ""`, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := reply(tt.raw)
			_, err := New(oneChunk(), model).Generate(context.Background(), KindSOP, []string{"d1"}, Options{})
			if !errors.Is(err, apperr.ErrSchemaInvalid) {
				t.Fatalf("error = %v, want SchemaInvalid", err)
			}
			if model.calls != 1 {
				t.Errorf("model calls = %d, want exactly 1 (no retry)", model.calls)
			}
			preview := apperr.PreviewOf(err)
			if preview == "" || len([]rune(preview)) > apperr.PreviewLimit {
				t.Errorf("preview length = %d", len([]rune(preview)))
			}
		})
	}
}

func TestGenerate_FencedJSONAccepted(t *testing.T) {
	_, err := New(oneChunk(), reply("```json\n"+validSOP+"\n```")).Generate(context.Background(), KindSOP, nil, Options{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
}

// Schema validation checks shape only. A source that names a chunk absent
// from the evidence still validates; catching it is the verifier's job.
func TestGenerate_WrongCrossReferenceStillValidates(t *testing.T) {
	bad := strings.Replace(validSOP, `"docId": "d1", "filename": "notes.md", "chunkId": 0`, `"docId": "ghost", "filename": "nope.md", "chunkId": 42`, 1)
	res, err := New(oneChunk(), reply(bad)).Generate(context.Background(), KindSOP, []string{"d1"}, Options{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	src := res.Artifact.CitedSteps()[0].Sources[0]
	if res.Evidence.Contains(src.DocID, src.ChunkID) {
		t.Fatal("test setup: cited chunk should not be in the evidence set")
	}
}

func TestGenerate_SourceWithoutChunkID(t *testing.T) {
	bad := strings.Replace(validSOP, `"filename": "notes.md", "chunkId": 0,`, `"filename": "notes.md",`, 1)
	if bad == validSOP {
		t.Fatal("test setup: chunkId not removed")
	}
	_, err := New(oneChunk(), reply(bad)).Generate(context.Background(), KindSOP, nil, Options{})
	if !errors.Is(err, apperr.ErrSchemaInvalid) {
		t.Fatalf("error = %v, want SchemaInvalid for a source without chunkId", err)
	}
}

func TestGenerate_ProcessRACIRule(t *testing.T) {
	_, err := New(oneChunk(), reply(validProcess)).Generate(context.Background(), KindProcess, nil, Options{IncludeRACI: false})
	if !errors.Is(err, apperr.ErrSchemaInvalid) {
		t.Fatalf("error = %v, want SchemaInvalid for unexpected raci", err)
	}

	res, err := New(oneChunk(), reply(validProcess)).Generate(context.Background(), KindProcess, nil, Options{IncludeRACI: true})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	doc := res.Artifact.(*ProcessDocument)
	if len(doc.RACI) != 1 || doc.RACI[0].A != "Ops Lead" {
		t.Errorf("raci = %+v", doc.RACI)
	}
}

func TestGenerate_PropagatesFailures(t *testing.T) {
	storeDown := &mockRetriever{fn: func(context.Context, []string, string, int) (*retrieval.EvidenceSet, error) {
		return nil, apperr.New(apperr.KindStoreUnavailable, "query", errors.New("dial tcp"))
	}}
	model := reply(validSOP)
	_, err := New(storeDown, model).Generate(context.Background(), KindSOP, nil, Options{})
	if !errors.Is(err, apperr.ErrStoreUnavailable) {
		t.Errorf("error = %v, want StoreUnavailable", err)
	}
	if model.calls != 0 {
		t.Error("model called after retrieval failure")
	}

	failing := &mockCompleter{fn: func(context.Context, []llm.Message, llm.CallOptions) (string, error) {
		return "", apperr.New(apperr.KindModelCallFailed, "complete", errors.New("timeout"))
	}}
	_, err = New(oneChunk(), failing).Generate(context.Background(), KindSOP, nil, Options{})
	if !errors.Is(err, apperr.ErrModelCallFailed) {
		t.Errorf("error = %v, want ModelCallFailed", err)
	}
}

func TestGenerate_UnknownKind(t *testing.T) {
	if _, err := New(oneChunk(), reply(validSOP)).Generate(context.Background(), Kind("memo"), nil, Options{}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

// TestGenerate_Offline runs the fixture model and hashing embedder against a
// real SQLite store: no network, and the output passes the same validation.
func TestGenerate_Offline(t *testing.T) {
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	store := evidence.NewSQLiteStore(db.DB(), 0)

	texts := []string{
		"Ops lead approves the weekly access review every Monday.",
		"Analysts collect the access export from the identity system.",
	}
	emb := llm.HashEmbedder{Dim: 64}
	vecs, _ := emb.Embed(context.Background(), texts)
	var chunks []evidence.Chunk
	for i, tx := range texts {
		chunks = append(chunks, evidence.Chunk{
			ID: evidence.ChunkID("d1", i), DocID: "d1", Filename: "notes.md", DocType: "md",
			AuthorityLevel: evidence.AuthorityStandard, ChunkID: i, Content: tx, Vector: vecs[i],
		})
	}
	if err := store.Upsert(context.Background(), chunks); err != nil {
		t.Fatal(err)
	}

	r := retrieval.NewRetriever(retrieval.NewEmbedder(emb), store)
	g := New(r, llm.Fixture{})

	for _, kind := range []Kind{KindSOP, KindProcess} {
		res, err := g.Generate(context.Background(), kind, []string{"d1"}, Options{})
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		steps := res.Artifact.CitedSteps()
		if len(steps) == 0 {
			t.Fatalf("%s: no steps", kind)
		}
		src := steps[0].Sources[0]
		c, ok := res.Evidence.Find(src.DocID, src.ChunkID)
		if !ok {
			t.Fatalf("%s: fixture cited %+v outside the evidence set", kind, src)
		}
		if !strings.Contains(c.Content, src.Quote) {
			t.Errorf("%s: quote %q not verbatim", kind, src.Quote)
		}
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"sop", KindSOP, false},
		{"SOP", KindSOP, false},
		{" process ", KindProcess, false},
		{"memo", "", true},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseKind(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tt := range tests {
		if got := stripFences(tt.in); got != tt.want {
			t.Errorf("stripFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
