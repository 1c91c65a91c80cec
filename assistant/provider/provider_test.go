package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/theimaginaryfoundation/jarvis/assistant"
)

func TestBreaker_OpensAfterFailures(t *testing.T) {
	t.Parallel()

	b := NewBreaker("test-breaker", BreakerOptions{MinRequests: 2, FailureRatio: 0.5, Timeout: time.Hour}, nil)
	boom := errors.New("boom")
	var calls int32
	fail := func() (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, boom
	}
	for i := 0; i < 2; i++ {
		if _, err := Call(b, fail); !errors.Is(err, boom) {
			t.Fatalf("call %d err=%v, want boom", i, err)
		}
	}
	_, err := Call(b, fail)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("err=%v, want open state", err)
	}
	if !strings.Contains(err.Error(), "circuit breaker") {
		t.Fatalf("err=%q should mention the breaker", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("calls=%d, want 2", calls)
	}
	if b.State() != gobreaker.StateOpen {
		t.Fatalf("State=%v", b.State())
	}
}

func TestBreaker_NilPassesThrough(t *testing.T) {
	t.Parallel()

	v, err := Call(nil, func() (string, error) { return "ok", nil })
	if err != nil || v != "ok" {
		t.Fatalf("v=%q err=%v", v, err)
	}
}

func TestIsRateLimitAndServerError(t *testing.T) {
	t.Parallel()

	if !isRateLimitError(errors.New("429 Too Many Requests")) || isRateLimitError(nil) {
		t.Fatalf("rate limit detection wrong")
	}
	if !isServerError(errors.New("500 Internal Server Error")) || isServerError(errors.New("400 bad request")) {
		t.Fatalf("server error detection wrong")
	}
}

func TestGenerateSchema_StrictObject(t *testing.T) {
	t.Parallel()

	s, err := GenerateSchema[assistant.EmotionAnalysis]()
	if err != nil {
		t.Fatalf("GenerateSchema: %v", err)
	}
	if s["additionalProperties"] != false {
		t.Fatalf("additionalProperties=%v", s["additionalProperties"])
	}
	req, ok := s["required"].([]string)
	if !ok || len(req) != 7 {
		t.Fatalf("required=%v", s["required"])
	}
	props := s["properties"].(map[string]any)
	conf := props["confidence"].(map[string]any)
	if conf["type"] != "number" {
		t.Fatalf("confidence schema=%v", conf)
	}
}

func openAIServer(t *testing.T, handler func(path string, body map[string]any) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		code, out := handler(r.URL.Path, body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = io.WriteString(w, out)
	}))
	t.Cleanup(srv.Close)
	return srv
}

const responseJSON = `{
	"id": "resp_1", "object": "response", "created_at": 1, "model": "gpt-test", "status": "completed",
	"output": [{"type": "message", "id": "msg_1", "role": "assistant", "status": "completed",
		"content": [{"type": "output_text", "text": "{\"primary_emotion\":\"joy\",\"confidence\":0.8}", "annotations": []}]}]
}`

func TestOpenAICompleter_StructuredOutput(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := openAIServer(t, func(path string, body map[string]any) (int, string) {
		if path != "/responses" {
			return http.StatusNotFound, `{}`
		}
		got = body
		return http.StatusOK, responseJSON
	})
	schema, err := GenerateSchema[assistant.EmotionAnalysis]()
	if err != nil {
		t.Fatalf("GenerateSchema: %v", err)
	}
	c := NewOpenAICompleter(NewOpenAIClient("test-key", srv.URL+"/"), OpenAICompleterOptions{
		Model: "gpt-test", Schema: schema, SchemaName: "EmotionAnalysis",
	})
	out, err := c.Complete(context.Background(), "classify this")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !strings.Contains(out, `"primary_emotion":"joy"`) {
		t.Fatalf("out=%q", out)
	}
	if got["model"] != "gpt-test" {
		t.Fatalf("model=%v", got["model"])
	}
	format := got["text"].(map[string]any)["format"].(map[string]any)
	if format["type"] != "json_schema" || format["name"] != "EmotionAnalysis" || format["strict"] != true {
		t.Fatalf("format=%v", format)
	}
}

func TestOpenAICompleter_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var n int32
	srv := openAIServer(t, func(string, map[string]any) (int, string) {
		if atomic.AddInt32(&n, 1) == 1 {
			return http.StatusInternalServerError, `{"error": {"message": "server_error", "type": "server_error"}}`
		}
		return http.StatusOK, responseJSON
	})
	c := NewOpenAICompleter(NewOpenAIClient("k", srv.URL+"/"), OpenAICompleterOptions{
		Model: "gpt-test",
		Retry: RetryPolicy{ServerErrorWaits: []time.Duration{time.Millisecond}},
	})
	if _, err := c.Complete(context.Background(), "hi"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if atomic.LoadInt32(&n) != 2 {
		t.Fatalf("attempts=%d, want 2", n)
	}
}

func TestOpenAICompleter_ClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	var n int32
	srv := openAIServer(t, func(string, map[string]any) (int, string) {
		atomic.AddInt32(&n, 1)
		return http.StatusBadRequest, `{"error": {"message": "bad", "type": "invalid_request_error"}}`
	})
	c := NewOpenAICompleter(NewOpenAIClient("k", srv.URL+"/"), OpenAICompleterOptions{
		Model: "gpt-test",
		Retry: RetryPolicy{ServerErrorWaits: []time.Duration{time.Millisecond}},
	})
	if _, err := c.Complete(context.Background(), "hi"); err == nil {
		t.Fatalf("expected error")
	}
	if atomic.LoadInt32(&n) != 1 {
		t.Fatalf("attempts=%d, want 1", n)
	}
}

func TestOpenAIEmbedder_OrdersByIndexAndBatches(t *testing.T) {
	t.Parallel()

	var batches int32
	srv := openAIServer(t, func(path string, body map[string]any) (int, string) {
		if path != "/embeddings" {
			return http.StatusNotFound, `{}`
		}
		atomic.AddInt32(&batches, 1)
		in := body["input"].([]any)
		type item struct {
			Object    string    `json:"object"`
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		}
		var data []item
		for i := len(in) - 1; i >= 0; i-- {
			data = append(data, item{Object: "embedding", Index: i, Embedding: []float64{float64(len(in[i].(string))), 1}})
		}
		b, _ := json.Marshal(map[string]any{"object": "list", "model": "text-embedding-3-small", "data": data, "usage": map[string]int{"prompt_tokens": 1, "total_tokens": 1}})
		return http.StatusOK, string(b)
	})
	e := NewOpenAIEmbedder(NewOpenAIClient("k", srv.URL+"/"), "", 2, nil)
	vecs, err := e.Embed(context.Background(), []string{"a", "bb", "ccc"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 3 || vecs[0][0] != 1 || vecs[1][0] != 2 || vecs[2][0] != 3 {
		t.Fatalf("vecs=%v", vecs)
	}
	if atomic.LoadInt32(&batches) != 2 {
		t.Fatalf("batches=%d, want 2", batches)
	}
	if e.Model() != "openai:text-embedding-3-small" {
		t.Fatalf("Model=%q", e.Model())
	}
}

func TestOllama(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch r.URL.Path {
		case "/api/generate":
			if body["stream"] != false || body["model"] != "llama3" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = io.WriteString(w, `{"response": "be gentle with yourself", "done": true}`)
		case "/api/embed":
			n := len(body["input"].([]any))
			out := make([][]float32, n)
			for i := range out {
				out[i] = []float32{float32(i), 1}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": out})
		default:
			http.Error(w, "nope", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	o := NewOllama(OllamaOptions{BaseURL: srv.URL + "/", Model: "llama3", EmbedModel: "nomic-embed-text"})
	ctx := context.Background()
	out, err := o.Complete(ctx, "hello")
	if err != nil || out != "be gentle with yourself" {
		t.Fatalf("Complete=%q err=%v", out, err)
	}
	vecs, err := o.Embed(ctx, []string{"a", "b"})
	if err != nil || len(vecs) != 2 || vecs[1][0] != 1 {
		t.Fatalf("Embed=%v err=%v", vecs, err)
	}
	if o.Model() != "ollama:nomic-embed-text" {
		t.Fatalf("Model=%q", o.Model())
	}
}

func TestOllama_ErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllama(OllamaOptions{BaseURL: srv.URL, Model: "x"}).Complete(context.Background(), "hi")
	if err == nil || !strings.Contains(err.Error(), "status 404") {
		t.Fatalf("err=%v", err)
	}
}

func TestSpotify_DevicesPlaySearch(t *testing.T) {
	t.Parallel()

	var played atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"tok","token_type":"Bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/v1/me/player/devices", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"devices":[{"id":"d1","name":"Kitchen","is_active":false},{"id":"d2","name":"Laptop","is_active":true}]}`)
	})
	mux.HandleFunc("/v1/me/player/play", func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		played.Store(r.URL.Query().Get("device_id") + " " + string(raw))
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/v1/search", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("type") != "track" || r.URL.Query().Get("limit") != "10" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, `{"tracks":{"items":[{"uri":"spotify:track:1","name":"Weightless","artists":[{"name":"Marconi Union"}]}]}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()
	sp, err := NewSpotify(ctx, SpotifyOptions{
		ClientID:     "id",
		ClientSecret: "secret",
		RefreshToken: "refresh",
		APIBase:      srv.URL + "/v1/",
		TokenURL:     srv.URL + "/token",
		Timeout:      5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewSpotify: %v", err)
	}

	devices, err := sp.Devices(ctx)
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	dev, err := assistant.ChooseDevice(devices)
	if err != nil || dev.ID != "d2" {
		t.Fatalf("dev=%+v err=%v", dev, err)
	}

	if err := sp.Play(ctx, dev.ID, assistant.PlaybackTarget{PlaylistURI: "spotify:playlist:calm"}); err != nil {
		t.Fatalf("Play: %v", err)
	}
	got, _ := played.Load().(string)
	if !strings.HasPrefix(got, "d2 ") || !strings.Contains(got, `"context_uri":"spotify:playlist:calm"`) {
		t.Fatalf("played=%q", got)
	}
	if err := sp.Play(ctx, dev.ID, assistant.PlaybackTarget{}); err == nil {
		t.Fatalf("expected error for empty target")
	}

	tracks, err := sp.Search(ctx, "weightless", "", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(tracks) != 1 || tracks[0].Artist != "Marconi Union" || tracks[0].URI != "spotify:track:1" {
		t.Fatalf("tracks=%+v", tracks)
	}
}

func TestSpotify_StatusErrorAndMissingCredentials(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"tok","token_type":"Bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/me/player/devices", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":{"status":403,"message":"Premium required"}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	sp, err := NewSpotify(context.Background(), SpotifyOptions{
		ClientID: "id", ClientSecret: "secret", RefreshToken: "refresh",
		APIBase: srv.URL, TokenURL: srv.URL + "/token",
	})
	if err != nil {
		t.Fatalf("NewSpotify: %v", err)
	}
	_, err = sp.Devices(context.Background())
	if err == nil || !strings.Contains(err.Error(), "status 403") {
		t.Fatalf("err=%v, want status 403", err)
	}

	_, err = NewSpotify(context.Background(), SpotifyOptions{ClientID: "id"})
	if !assistant.IsKind(err, assistant.KindConfiguration) || !errors.Is(err, assistant.ErrNotConfigured) {
		t.Fatalf("err=%v, want configuration error", err)
	}
}
