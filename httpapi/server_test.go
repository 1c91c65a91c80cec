package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/theimaginaryfoundation/jarvis/assistant"
)

type fakeService struct {
	processErr error
	classErr   error
	songErr    error
	lastReq    assistant.Request
}

func (f *fakeService) Process(_ context.Context, req assistant.Request) (assistant.Response, error) {
	f.lastReq = req
	if f.processErr != nil {
		return assistant.Response{Status: assistant.StatusError, Error: "system error: " + f.processErr.Error(), Stages: []assistant.Stage{assistant.StageStart}}, f.processErr
	}
	return assistant.Response{
		Status:     assistant.StatusSuccess,
		Emotion:    "sadness",
		Confidence: 0.8,
		Method:     "hybrid_llm",
		Music:      assistant.MusicResult{Playlist: "reflection", Status: assistant.PlaybackSuccess},
		SessionID:  req.SessionID,
		Stages:     []assistant.Stage{assistant.StageStart, assistant.StageDone},
	}, nil
}

func (f *fakeService) Classify(_ context.Context, text string) (assistant.Classification, error) {
	if f.classErr != nil {
		return assistant.Classification{}, f.classErr
	}
	return assistant.Classification{PrimaryEmotion: "joy", Confidence: 0.9, Method: "hybrid_llm"}, nil
}

func (f *fakeService) PlayForEmotion(ctx context.Context, text string) (assistant.Classification, assistant.MusicResult, error) {
	cls, err := f.Classify(ctx, text)
	if err != nil {
		return cls, assistant.MusicResult{}, err
	}
	return cls, assistant.MusicResult{Playlist: "surrealism", Status: assistant.PlaybackError, Message: "No active device found."}, nil
}

func (f *fakeService) PlaySong(_ context.Context, query string) (assistant.PlaybackResult, error) {
	if f.songErr != nil {
		return assistant.PlaybackResult{Status: assistant.PlaybackUnavailable, Message: "Music playback is not configured."}, f.songErr
	}
	return assistant.PlaybackResult{Status: assistant.PlaybackSuccess, Message: "Now playing " + query, Track: &assistant.Track{Name: query}}, nil
}

func (f *fakeService) Insights(context.Context) (assistant.Insights, error) {
	return assistant.Insights{TotalInteractions: 3, Trend: assistant.TrendStable}, nil
}

func (f *fakeService) CorpusStats() assistant.CorpusStats {
	return assistant.CorpusStats{Total: 8, ByBook: map[string]int{"analects": 2}, ByKind: map[string]int{"quote": 2}}
}

func (f *fakeService) RebuildLearning(context.Context) (*assistant.PreferenceTable, error) {
	t := assistant.NewPreferenceTable()
	t.Add("joy", assistant.ChoiceBook, "tao_te_ching", 2)
	t.UpdatedAt = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	return t, nil
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestInteractions(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	h := NewRouter(svc, Options{})
	rec := do(t, h, http.MethodPost, "/v1/interactions", `{"text":"I feel lost","session_id":"s-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body)
	}
	resp := decodeBody[assistant.Response](t, rec)
	if resp.Emotion != "sadness" || resp.SessionID != "s-1" || resp.Music.Playlist != "reflection" {
		t.Fatalf("resp=%+v", resp)
	}
	if svc.lastReq.Text != "I feel lost" {
		t.Fatalf("lastReq=%+v", svc.lastReq)
	}
}

func TestInteractions_Validation(t *testing.T) {
	t.Parallel()

	h := NewRouter(&fakeService{}, Options{})
	cases := map[string]string{
		"missing text": `{"session_id":"x"}`,
		"bad json":     `{"text":`,
		"too long":     `{"text":"` + strings.Repeat("a", 4001) + `"}`,
	}
	for name, body := range cases {
		if rec := do(t, h, http.MethodPost, "/v1/interactions", body); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d body=%s", name, rec.Code, rec.Body)
		}
	}
}

func TestInteractions_SystemError(t *testing.T) {
	t.Parallel()

	svc := &fakeService{processErr: assistant.E(assistant.KindEmbedding, "classify", errors.New("provider down"))}
	rec := do(t, NewRouter(svc, Options{}), http.MethodPost, "/v1/interactions", `{"text":"hi"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status=%d", rec.Code)
	}
	resp := decodeBody[assistant.Response](t, rec)
	if resp.Status != assistant.StatusError || !strings.HasPrefix(resp.Error, "system error:") {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestAnalyzeMood(t *testing.T) {
	t.Parallel()

	rec := do(t, NewRouter(&fakeService{}, Options{}), http.MethodPost, "/v1/mood/analyze", `{"text":"great day"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	got := decodeBody[moodResponse](t, rec)
	if got.Classification.PrimaryEmotion != "joy" {
		t.Fatalf("got=%+v", got)
	}

	svc := &fakeService{classErr: assistant.E(assistant.KindEmbedding, "embed", errors.New("boom"))}
	rec = do(t, NewRouter(svc, Options{}), http.MethodPost, "/v1/mood/analyze", `{"text":"great day"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status=%d", rec.Code)
	}
	eb := decodeBody[errorBody](t, rec)
	if eb.Kind != "embedding" {
		t.Fatalf("error body=%+v", eb)
	}
}

func TestMusicFromEmotion_PlaybackErrorIsStillOK(t *testing.T) {
	t.Parallel()

	rec := do(t, NewRouter(&fakeService{}, Options{}), http.MethodPost, "/v1/music/from-emotion", `{"text":"yay"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	got := decodeBody[musicResponse](t, rec)
	if got.Music.Status != assistant.PlaybackError || got.Emotion != "joy" {
		t.Fatalf("got=%+v", got)
	}
}

func TestPlaySong(t *testing.T) {
	t.Parallel()

	rec := do(t, NewRouter(&fakeService{}, Options{}), http.MethodPost, "/v1/music/play-song", `{"song":"Clair de Lune"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if got := decodeBody[assistant.PlaybackResult](t, rec); got.Track == nil || got.Track.Name != "Clair de Lune" {
		t.Fatalf("got=%+v", got)
	}

	svc := &fakeService{songErr: assistant.E(assistant.KindPlayback, "play track", assistant.ErrNotConfigured)}
	rec = do(t, NewRouter(svc, Options{}), http.MethodPost, "/v1/music/play-song", `{"song":"x"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", rec.Code)
	}

	rec = do(t, NewRouter(&fakeService{}, Options{}), http.MethodPost, "/v1/music/play-song", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty song status=%d", rec.Code)
	}
}

func TestReadRoutes(t *testing.T) {
	t.Parallel()

	h := NewRouter(&fakeService{}, Options{})

	rec := do(t, h, http.MethodGet, "/v1/insights", "")
	if ins := decodeBody[assistant.Insights](t, rec); rec.Code != http.StatusOK || ins.TotalInteractions != 3 {
		t.Fatalf("insights status=%d body=%s", rec.Code, rec.Body)
	}

	rec = do(t, h, http.MethodGet, "/v1/corpus/stats", "")
	if st := decodeBody[assistant.CorpusStats](t, rec); st.Total != 8 || st.ByBook["analects"] != 2 {
		t.Fatalf("stats=%+v", st)
	}

	rec = do(t, h, http.MethodPost, "/v1/learning/rebuild", "")
	rb := decodeBody[rebuildResponse](t, rec)
	if rec.Code != http.StatusOK || rb.Table.Score("joy", assistant.ChoiceBook, "tao_te_ching") != 2 {
		t.Fatalf("rebuild status=%d body=%s", rec.Code, rec.Body)
	}

	rec = do(t, h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"passages":8`) {
		t.Fatalf("healthz status=%d body=%s", rec.Code, rec.Body)
	}

	rec = do(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "jarvis_http_requests_total") {
		t.Fatalf("metrics status=%d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	h := NewRouter(&fakeService{}, Options{RequestsPerMinute: 2})
	for i := 0; i < 2; i++ {
		if rec := do(t, h, http.MethodGet, "/v1/corpus/stats", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d status=%d", i, rec.Code)
		}
	}
	if rec := do(t, h, http.MethodGet, "/v1/corpus/stats", ""); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d, want 429", rec.Code)
	}
	// Health checks are outside the limited group.
	if rec := do(t, h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz status=%d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	h := NewRouter(&fakeService{}, Options{CORSOrigins: []string{"https://app.example"}})
	req := httptest.NewRequest(http.MethodOptions, "/v1/interactions", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("Access-Control-Allow-Origin=%q", got)
	}
}
