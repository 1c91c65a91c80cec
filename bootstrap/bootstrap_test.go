package bootstrap

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/theimaginaryfoundation/jarvis/assistant"
	"github.com/theimaginaryfoundation/jarvis/assistant/fileutils"
	"github.com/theimaginaryfoundation/jarvis/assistant/storage"
	"github.com/theimaginaryfoundation/jarvis/config"
)

// letterVector is a 26-dim letter histogram: cheap, deterministic and never all zero for words.
func letterVector(s string) []float32 {
	v := make([]float32, 27)
	v[26] = 0.01
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	return v
}

func fakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		switch r.URL.Path {
		case "/api/embed":
			in := body["input"].([]any)
			out := make([][]float32, len(in))
			for i, x := range in {
				out[i] = letterVector(x.(string))
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": out})
		case "/api/generate":
			prompt, _ := body["prompt"].(string)
			resp := "Be gentle with yourself; the sages walked this road too."
			if strings.Contains(prompt, "clinical psychologist") {
				resp = `{"primary_emotion": "sadness", "confidence": "0.9", "reasoning": "loss"}`
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"response": resp, "done": true})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, srvURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	books := filepath.Join(dir, "books")
	analects := `[{"entries": [
		{"source": "學而時習之", "target": "Is it not pleasant to learn with constant perseverance and application?"},
		{"source": "德不孤", "target": "Virtue is not left to stand alone. He who practices it will have neighbors."}
	]}]`
	if err := os.MkdirAll(books, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(books, "analects.json"), []byte(analects), 0o644); err != nil {
		t.Fatalf("write book: %v", err)
	}
	catalog := "books:\n  - id: analects\n    description: practical wisdom relationships loneliness neighbors\n"
	catalogPath := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(catalogPath, []byte(catalog), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	cfg := config.Default()
	cfg.Catalog.Path = catalogPath
	cfg.Corpus.Dir = books
	cfg.Corpus.MinScore = 0
	cfg.Embedding = config.EmbeddingConfig{Provider: "ollama", BaseURL: srvURL, Model: "nomic-embed-text"}
	cfg.LLM.Provider, cfg.LLM.BaseURL, cfg.LLM.Model = "ollama", srvURL, "llama3"
	cfg.Cache.Path = filepath.Join(dir, "cache", "index.json")
	cfg.Learning.Path = filepath.Join(dir, "learning.json")
	cfg.Log.Path = filepath.Join(dir, "interactions.jsonl")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

func TestBuild_EndToEnd(t *testing.T) {
	t.Parallel()

	srv := fakeOllama(t)
	cfg := testConfig(t, srv.URL)
	ctx := context.Background()

	app, err := Build(ctx, cfg, nil, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer app.Close()

	if _, err := app.Orchestrator.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !fileutils.FileExists(cfg.Cache.Path) {
		t.Fatalf("index cache not written")
	}
	if st := app.Orchestrator.CorpusStats(); st.Total != 2 || st.ByBook["analects"] != 2 {
		t.Fatalf("stats=%+v", st)
	}

	resp, err := app.Orchestrator.Process(ctx, assistant.Request{Text: "I feel lonely since my friends moved away", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if resp.Status != assistant.StatusSuccess || resp.Emotion != "sadness" || resp.Method != "hybrid_llm" {
		t.Fatalf("resp=%+v", resp)
	}
	if resp.Confidence != 0.9 {
		t.Fatalf("confidence=%v", resp.Confidence)
	}
	if resp.Music.Status != assistant.PlaybackUnavailable {
		t.Fatalf("music=%+v", resp.Music)
	}
	if !strings.Contains(resp.Philosophy.Response, "gentle") {
		t.Fatalf("philosophy=%+v", resp.Philosophy)
	}

	records, err := storage.NewJSONLLog(cfg.Log.Path, nil).ReadAll(ctx)
	if err != nil || len(records) != 1 {
		t.Fatalf("records=%v err=%v", records, err)
	}
	if records[0].Emotion != "sadness" || records[0].SessionID != "s1" {
		t.Fatalf("record=%+v", records[0])
	}
	if !fileutils.FileExists(cfg.Learning.Path) {
		t.Fatalf("preference table not written")
	}
}

func TestBuild_ReusesCacheOnSecondStart(t *testing.T) {
	t.Parallel()

	srv := fakeOllama(t)
	cfg := testConfig(t, srv.URL)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		app, err := Build(ctx, cfg, nil, Options{SkipLLM: true})
		if err != nil {
			t.Fatalf("Build %d: %v", i, err)
		}
		rep, err := app.Index.Build(ctx, false)
		if err != nil {
			t.Fatalf("index build %d: %v", i, err)
		}
		if rep.FromCache != (i == 1) {
			t.Fatalf("build %d FromCache=%v", i, rep.FromCache)
		}
		if err := app.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
}

func TestPreflight_MissingOpenAIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	cfg := config.Default()

	err := Preflight(cfg, Options{})
	if !assistant.IsKind(err, assistant.KindConfiguration) || !errors.Is(err, assistant.ErrNotConfigured) {
		t.Fatalf("err=%v, want configuration error", err)
	}
	if !strings.Contains(err.Error(), "embedding.api_key") || !strings.Contains(err.Error(), "llm.api_key") {
		t.Fatalf("err=%v should name both keys", err)
	}

	cfg.LLM.APIKey = "sk-test"
	if err := Preflight(cfg, Options{}); err != nil {
		t.Fatalf("shared key should satisfy both providers: %v", err)
	}

	_, err = Build(context.Background(), config.Default(), nil, Options{})
	if !assistant.IsKind(err, assistant.KindConfiguration) {
		t.Fatalf("Build err=%v, want configuration error", err)
	}
}

func TestBuild_BadPolicy(t *testing.T) {
	t.Parallel()

	srv := fakeOllama(t)
	cfg := testConfig(t, srv.URL)
	cfg.Learning.BookPolicy = "confidence >"
	_, err := Build(context.Background(), cfg, nil, Options{})
	if !assistant.IsKind(err, assistant.KindConfiguration) {
		t.Fatalf("err=%v, want configuration error", err)
	}
}
