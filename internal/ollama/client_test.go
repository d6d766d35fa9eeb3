package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// tagsJSON builds a /api/tags response with the given model names.
func tagsJSON(names ...string) []byte {
	type entry struct {
		Name string `json:"name"`
	}
	type resp struct {
		Models []entry `json:"models"`
	}
	r := resp{}
	for _, n := range names {
		r.Models = append(r.Models, entry{Name: n})
	}
	b, _ := json.Marshal(r)
	return b
}

func TestIsRunning_Up(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("llama3.1:latest"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	if !c.IsRunning(context.Background()) {
		t.Error("IsRunning() = false, want true")
	}
}

func TestIsRunning_Down(t *testing.T) {
	// Point at a closed server to simulate connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := New(srv.URL)
	if c.IsRunning(context.Background()) {
		t.Error("IsRunning() = true, want false")
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("llama3.1:latest", "mistral-nemo:latest", "nomic-embed-text:latest"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}

	if len(models) != 3 {
		t.Fatalf("got %d models, want 3", len(models))
	}

	want := []string{"llama3.1:latest", "mistral-nemo:latest", "nomic-embed-text:latest"}
	for i, w := range want {
		if models[i] != w {
			t.Errorf("models[%d] = %q, want %q", i, models[i], w)
		}
	}
}

func TestHasModel_Present(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("llama3.1:latest", "mistral-nemo:latest"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	if !c.HasModel(context.Background(), "llama3.1") {
		t.Error("HasModel(llama3.1) = false, want true")
	}
}

func TestHasModel_Absent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("mistral-nemo:latest"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	if c.HasModel(context.Background(), "llama3.1") {
		t.Error("HasModel(llama3.1) = true, want false")
	}
}

func TestChat_PlainText(t *testing.T) {
	var captured chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(chatResponse{
			Message: Message{Role: "assistant", Content: "Escalate to the duty manager."},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	result, err := c.Chat(context.Background(), "llama3.1", []Message{
		{Role: "user", Content: "Who approves refunds?"},
	}, ChatOptions{Temperature: 0.2})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if result != "Escalate to the duty manager." {
		t.Errorf("result = %q", result)
	}
	if captured.Stream {
		t.Error("chat must not request streaming")
	}
	if captured.Format != "" {
		t.Errorf("format = %q, want empty for plain text", captured.Format)
	}
	if temp, _ := captured.Options["temperature"].(float64); temp < 0.19 || temp > 0.21 {
		t.Errorf("temperature = %v, want 0.2", captured.Options["temperature"])
	}
}

func TestChat_JSONMode(t *testing.T) {
	var captured chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(chatResponse{
			Message: Message{Role: "assistant", Content: `{"overall_confidence":"high"}`},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	result, err := c.Chat(context.Background(), "llama3.1", []Message{
		{Role: "user", Content: "verify"},
	}, ChatOptions{JSON: true})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if captured.Format != "json" {
		t.Errorf("format = %q, want json", captured.Format)
	}
	if temp, ok := captured.Options["temperature"]; !ok || temp != float64(0) {
		t.Errorf("temperature = %v, want an explicit 0", temp)
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(result), &parsed); err != nil {
		t.Errorf("response is not valid JSON: %v", err)
	}
}

func TestChat_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Chat(context.Background(), "missing", nil, ChatOptions{})
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "model not found") {
		t.Errorf("error = %q, want status and body", err)
	}
}

func TestEmbed(t *testing.T) {
	var captured embedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(embedResponse{
			Embeddings: [][]float32{{0.1, 0.2, 0.3}, {0.4, 0.5, 0.6}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	vecs, err := c.Embed(context.Background(), "nomic-embed-text", []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(captured.Input) != 2 || captured.Input[1] != "second" {
		t.Errorf("input = %v", captured.Input)
	}
	if len(vecs) != 2 || vecs[1][2] != 0.6 {
		t.Errorf("vecs = %v", vecs)
	}
}

func TestEmbed_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{1}}})
	}))
	defer srv.Close()

	if _, err := New(srv.URL).Embed(context.Background(), "m", []string{"a", "b"}); err == nil {
		t.Fatal("expected error when the embedding count does not match the inputs")
	}
}

func TestPullModel_Progress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/pull" {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Name string `json:"name"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Name != "nomic-embed-text" {
			t.Errorf("pull model = %q, want nomic-embed-text", body.Name)
		}

		enc := json.NewEncoder(w)
		enc.Encode(PullProgress{Status: "downloading", Total: 1000, Completed: 500})
		enc.Encode(PullProgress{Status: "downloading", Total: 1000, Completed: 1000})
		enc.Encode(PullProgress{Status: "success"})
	}))
	defer srv.Close()

	var progressCount int
	err := New(srv.URL).PullModel(context.Background(), "nomic-embed-text", func(PullProgress) {
		progressCount++
	})
	if err != nil {
		t.Fatalf("PullModel: %v", err)
	}
	if progressCount != 3 {
		t.Errorf("received %d progress updates, want 3", progressCount)
	}
}

func TestEnsureReady_OllamaDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	err := EnsureReady(context.Background(), New(srv.URL), []string{"llama3.1", "nomic-embed-text"}, io.Discard)
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("EnsureReady error = %v, want ErrNotRunning", err)
	}
}

func TestEnsureReady_PullsMissing(t *testing.T) {
	var pulled []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.Write(tagsJSON("llama3.1:latest"))
		case "/api/pull":
			var body struct {
				Name string `json:"name"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			pulled = append(pulled, body.Name)
			json.NewEncoder(w).Encode(PullProgress{Status: "success"})
		}
	}))
	defer srv.Close()

	var out strings.Builder
	err := EnsureReady(context.Background(), New(srv.URL), []string{"llama3.1", "nomic-embed-text", ""}, &out)
	if err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(pulled) != 1 || pulled[0] != "nomic-embed-text" {
		t.Errorf("pulled = %v, want [nomic-embed-text]", pulled)
	}
	if !strings.Contains(out.String(), "model llama3.1: ready") {
		t.Errorf("output = %q", out.String())
	}
}
