package llm

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/kalambet/opsassist/internal/apperr"
	"github.com/kalambet/opsassist/internal/composer"
	"github.com/kalambet/opsassist/internal/config"
	"github.com/kalambet/opsassist/internal/evidence"
	"github.com/kalambet/opsassist/internal/ollama"
)

// mockCompleter implements Completer with a configurable function.
type mockCompleter struct {
	fn func(ctx context.Context, messages []Message, opts CallOptions) (string, error)
}

func (m *mockCompleter) Complete(ctx context.Context, messages []Message, opts CallOptions) (string, error) {
	return m.fn(ctx, messages, opts)
}

type mockEmbedder struct {
	fn func(ctx context.Context, texts []string) ([][]float32, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return m.fn(ctx, texts)
}

func TestAzure_Complete(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("api-key")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"{\"ok\":true}"}}]}`))
	}))
	defer srv.Close()

	a := NewAzure(config.AzureConfig{
		Endpoint:       srv.URL,
		APIKey:         "secret",
		APIVersion:     "2025-08-01-preview",
		ChatDeployment: "gpt-4o-ops",
	})
	out, err := a.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, CallOptions{JSON: true})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != `{"ok":true}` {
		t.Errorf("content = %q", out)
	}
	if gotPath != "/openai/deployments/gpt-4o-ops/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "secret" {
		t.Errorf("api-key header = %q", gotKey)
	}
	if temp, ok := gotBody["temperature"].(float64); !ok || temp <= 0 || temp > 1e-6 {
		t.Errorf("temperature = %v, want a near-zero value", gotBody["temperature"])
	}
	rf, _ := gotBody["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Errorf("response_format = %v, want json_object", gotBody["response_format"])
	}
}

func TestAzure_EmbedUsesSeparateEndpointAndOrdersByIndex(t *testing.T) {
	chat := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("chat endpoint received an embedding request")
	}))
	defer chat.Close()

	var gotPath string
	embed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer embed.Close()

	a := NewAzure(config.AzureConfig{
		Endpoint:        chat.URL,
		EmbedEndpoint:   embed.URL,
		APIKey:          "k",
		EmbedDeployment: "embed-3-large",
	})
	vecs, err := a.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if gotPath != "/openai/deployments/embed-3-large/embeddings" {
		t.Errorf("path = %q", gotPath)
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("vectors not ordered by index: %v", vecs)
	}
}

func TestAzure_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited","type":"requests"}}`))
	}))
	defer srv.Close()

	a := NewAzure(config.AzureConfig{Endpoint: srv.URL, APIKey: "k", ChatDeployment: "c"})
	if _, err := a.Complete(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, CallOptions{}); err == nil {
		t.Fatal("expected error for 429 response")
	}
}

func TestOllama_DelegatesToClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		switch r.URL.Path {
		case "/api/chat":
			if body["model"] != "llama3.1" || body["format"] != "json" {
				t.Errorf("chat body = %v", body)
			}
			w.Write([]byte(`{"message":{"role":"assistant","content":"{}"}}`))
		case "/api/embed":
			if body["model"] != "nomic-embed-text" {
				t.Errorf("embed model = %v", body["model"])
			}
			w.Write([]byte(`{"embeddings":[[0.5,0.5]]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	o := NewOllama(ollama.New(srv.URL), "llama3.1", "nomic-embed-text")
	out, err := o.Complete(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, CallOptions{JSON: true})
	if err != nil || out != "{}" {
		t.Fatalf("Complete = %q, %v", out, err)
	}
	vecs, err := o.Embed(context.Background(), []string{"a"})
	if err != nil || len(vecs) != 1 {
		t.Fatalf("Embed = %v, %v", vecs, err)
	}
	if got := o.Models(); got[0] != "llama3.1" || got[1] != "nomic-embed-text" {
		t.Errorf("Models = %v", got)
	}
}

func fixturePrompt(kind, extra string, chunks ...evidence.ScoredChunk) []Message {
	block, _ := composer.New(0).EvidenceBlock(chunks)
	return []Message{
		{Role: RoleSystem, Content: "Strict JSON only."},
		{Role: RoleUser, Content: composer.ArtifactHeader(kind) + "\n" + extra + "\nSOURCE CONTEXT:\n" + block},
	}
}

func TestFixture_SOPCitesFirstAnchor(t *testing.T) {
	ch := evidence.ScoredChunk{Chunk: evidence.Chunk{
		DocID: "notes-1", Filename: "standup.md", ChunkID: 2,
		Content: "The ops lead rotates the database credentials every Monday before noon and logs it.",
	}}
	out, err := Fixture{}.Complete(context.Background(), fixturePrompt("sop", "Style: concise", ch), CallOptions{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	var sop struct {
		Title string `json:"title"`
		Steps []struct {
			Sources []evidence.SourceRef `json:"sources"`
		} `json:"steps"`
	}
	if err := json.Unmarshal([]byte(out), &sop); err != nil {
		t.Fatalf("fixture output is not JSON: %v\n%s", err, out)
	}
	if sop.Title != "Mock SOP (concise)" {
		t.Errorf("title = %q", sop.Title)
	}
	if len(sop.Steps) == 0 || len(sop.Steps[0].Sources) != 1 {
		t.Fatalf("steps = %+v", sop.Steps)
	}
	src := sop.Steps[0].Sources[0]
	if src.DocID != "notes-1" || src.ChunkID != 2 || src.Filename != "standup.md" {
		t.Errorf("source = %+v", src)
	}
	if !strings.Contains(ch.Content, src.Quote) {
		t.Errorf("quote %q is not verbatim from the chunk", src.Quote)
	}
	if n := len(strings.Fields(src.Quote)); n > 25 {
		t.Errorf("quote has %d words", n)
	}
}

func TestFixture_ProcessRACI(t *testing.T) {
	ch := evidence.ScoredChunk{Chunk: evidence.Chunk{DocID: "d", Filename: "f", Content: "Intake happens daily."}}
	for _, include := range []bool{false, true} {
		extra := "includeRaci: false"
		if include {
			extra = "includeRaci: true"
		}
		out, err := Fixture{}.Complete(context.Background(), fixturePrompt("process", extra, ch), CallOptions{})
		if err != nil {
			t.Fatalf("Complete: %v", err)
		}
		var doc struct {
			RACI []json.RawMessage `json:"raci"`
		}
		if err := json.Unmarshal([]byte(out), &doc); err != nil {
			t.Fatal(err)
		}
		if include != (len(doc.RACI) > 0) {
			t.Errorf("includeRaci=%v: raci has %d entries", include, len(doc.RACI))
		}
	}
}

func TestFixture_NoEvidence(t *testing.T) {
	out, err := Fixture{}.Complete(context.Background(), fixturePrompt("verification", ""), CallOptions{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !strings.Contains(out, `"overall_confidence":"low"`) {
		t.Errorf("verification without evidence = %s", out)
	}

	out, err = Fixture{}.Complete(context.Background(), fixturePrompt("sop", ""), CallOptions{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !strings.Contains(out, `"steps":[]`) {
		t.Errorf("sop without evidence should have no steps: %s", out)
	}
}

func TestFixture_MissingHeader(t *testing.T) {
	_, err := Fixture{}.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hello"}}, CallOptions{})
	if err == nil {
		t.Fatal("expected error without artifact header")
	}
}

func TestFirstWords(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"a b c", 2, "a b"},
		{"a  b   c", 2, "a  b"},
		{"single", 3, "single"},
		{"a b", 2, "a b"},
	}
	for _, tt := range tests {
		if got := firstWords(tt.in, tt.n); got != tt.want {
			t.Errorf("firstWords(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestHashEmbedder(t *testing.T) {
	h := HashEmbedder{Dim: 64}
	vecs, err := h.Embed(context.Background(), []string{"rotate keys weekly", "rotate keys weekly", "", "lunch menu"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 4 || len(vecs[0]) != 64 {
		t.Fatalf("shape = %d x %d", len(vecs), len(vecs[0]))
	}
	for i, v := range vecs {
		var norm float64
		for _, x := range v {
			norm += float64(x) * float64(x)
		}
		if math.Abs(norm-1) > 1e-5 {
			t.Errorf("vector %d norm^2 = %v, want 1", i, norm)
		}
	}
	for i := range vecs[0] {
		if vecs[0][i] != vecs[1][i] {
			t.Fatal("identical texts produced different vectors")
		}
	}

	if got, _ := (HashEmbedder{}).Embed(context.Background(), []string{"x"}); len(got[0]) != DefaultHashDim {
		t.Errorf("default dim = %d, want %d", len(got[0]), DefaultHashDim)
	}
}

func TestInstrumented_ClassifiesErrors(t *testing.T) {
	m := &Instrumented{
		Provider: "test",
		Completer: &mockCompleter{fn: func(ctx context.Context, _ []Message, _ CallOptions) (string, error) {
			return "", errors.New("connection reset")
		}},
		Embedder: &mockEmbedder{fn: func(ctx context.Context, _ []string) ([][]float32, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}},
		CompleteTimeout: time.Second,
		EmbedTimeout:    10 * time.Millisecond,
	}

	_, err := m.Complete(context.Background(), nil, CallOptions{})
	if !errors.Is(err, apperr.ErrModelCallFailed) {
		t.Errorf("Complete error = %v, want ModelCallFailed", err)
	}

	_, err = m.Embed(context.Background(), []string{"q"})
	if !errors.Is(err, apperr.ErrModelCallFailed) {
		t.Errorf("Embed error = %v, want ModelCallFailed", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Embed error = %v, want it to wrap DeadlineExceeded", err)
	}
	if !strings.Contains(err.Error(), "timed out after 10ms") {
		t.Errorf("Embed error = %v, want timeout detail", err)
	}
}

func TestInstrumented_KeepsClassifiedErrors(t *testing.T) {
	m := &Instrumented{
		Completer: &mockCompleter{fn: func(context.Context, []Message, CallOptions) (string, error) {
			return "", apperr.New(apperr.KindStoreUnavailable, "x", errors.New("y"))
		}},
	}
	_, err := m.Complete(context.Background(), nil, CallOptions{})
	if kind, _ := apperr.KindOf(err); kind != apperr.KindStoreUnavailable {
		t.Errorf("kind = %q, want store_unavailable", kind)
	}
}

func TestLimited_WaitsForToken(t *testing.T) {
	calls := 0
	l := &Limited{
		Completer: &mockCompleter{fn: func(context.Context, []Message, CallOptions) (string, error) {
			calls++
			return "ok", nil
		}},
		Limiter: rate.NewLimiter(rate.Every(time.Hour), 1),
	}

	if _, err := l.Complete(context.Background(), nil, CallOptions{}); err != nil {
		t.Fatalf("first call: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Complete(ctx, nil, CallOptions{}); err == nil {
		t.Fatal("second call should fail waiting for the limiter")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestNew_SelectsProvider(t *testing.T) {
	base := config.Config{
		Model: config.ModelConfig{EmbedTimeout: time.Second, GenerateTimeout: time.Second, RateLimit: 5, RateBurst: 2},
		Store: config.StoreConfig{EmbeddingDim: 32},
		Ollama: config.OllamaConfig{
			BaseURL: "http://localhost:11434", ChatModel: "c", EmbedModel: "e",
		},
		Azure: config.AzureConfig{Endpoint: "https://x.openai.azure.com", APIKey: "k"},
	}

	tests := []struct {
		provider string
		check    func(t *testing.T, m *Instrumented)
	}{
		{config.ProviderOffline, func(t *testing.T, m *Instrumented) {
			if _, ok := m.Completer.(Fixture); !ok {
				t.Errorf("completer = %T, want Fixture", m.Completer)
			}
			if h, ok := m.Embedder.(HashEmbedder); !ok || h.Dim != 32 {
				t.Errorf("embedder = %#v", m.Embedder)
			}
		}},
		{config.ProviderOllama, func(t *testing.T, m *Instrumented) {
			l, ok := m.Completer.(*Limited)
			if !ok {
				t.Fatalf("completer = %T, want *Limited", m.Completer)
			}
			if _, ok := l.Completer.(*Ollama); !ok {
				t.Errorf("inner completer = %T, want *Ollama", l.Completer)
			}
		}},
		{config.ProviderAzure, func(t *testing.T, m *Instrumented) {
			l := m.Embedder.(*Limited)
			if _, ok := l.Embedder.(*Azure); !ok {
				t.Errorf("inner embedder = %T, want *Azure", l.Embedder)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			cfg := base
			cfg.Model.Provider = tt.provider
			m, err := New(cfg)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if m.Provider != tt.provider {
				t.Errorf("Provider = %q", m.Provider)
			}
			tt.check(t, m)
		})
	}

	cfg := base
	cfg.Model.Provider = "bedrock"
	if _, err := New(cfg); err == nil {
		t.Error("expected error for unknown provider")
	}
}
