package assistant

import (
	"context"
	"errors"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode"
)

// wordEmbedder hashes each word into a fixed number of buckets, so cosine similarity
// tracks word overlap.
type wordEmbedder struct {
	model string

	mu    sync.Mutex
	calls int
	texts int
	fail  error
}

const wordDims = 256

func (e *wordEmbedder) Model() string {
	if e.model == "" {
		return "words-v1"
	}
	return e.model
}

func (e *wordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.texts += len(texts)
	fail := e.fail
	e.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, wordDims)
		for _, w := range strings.FieldsFunc(strings.ToLower(t), func(r rune) bool { return !unicode.IsLetter(r) }) {
			h := fnv.New32a()
			h.Write([]byte(w))
			v[h.Sum32()%wordDims]++
		}
		out[i] = v
	}
	return out, nil
}

func (e *wordEmbedder) stats() (calls, texts int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls, e.texts
}

type completerFunc func(ctx context.Context, prompt string) (string, error)

func (f completerFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

func replying(s string) Completer {
	return completerFunc(func(context.Context, string) (string, error) { return s, nil })
}

func failing(err error) Completer {
	return completerFunc(func(context.Context, string) (string, error) { return "", err })
}

// routedCompleter answers classification prompts and composition prompts differently.
func routedCompleter(classify, compose string, composeErr error) Completer {
	return completerFunc(func(_ context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "clinical psychologist") {
			return classify, nil
		}
		if composeErr != nil {
			return "", composeErr
		}
		return compose, nil
	})
}

type fakePlayer struct {
	devices   []Device
	devErr    error
	playErr   error
	tracks    []Track
	searchErr error

	mu     sync.Mutex
	played []PlaybackTarget
	on     []string
}

func (p *fakePlayer) Devices(context.Context) ([]Device, error) {
	return p.devices, p.devErr
}

func (p *fakePlayer) Play(_ context.Context, deviceID string, target PlaybackTarget) error {
	if p.playErr != nil {
		return p.playErr
	}
	p.mu.Lock()
	p.played = append(p.played, target)
	p.on = append(p.on, deviceID)
	p.mu.Unlock()
	return nil
}

func (p *fakePlayer) Search(_ context.Context, query, kind string, limit int) ([]Track, error) {
	return p.tracks, p.searchErr
}

type failingLog struct{ MemoryLog }

func (l *failingLog) Append(context.Context, InteractionRecord) error {
	return errors.New("disk full")
}

var corpusFixture = map[string]string{
	"analects.json": `[
		{"entries": [
			{"source": "学而时习之", "target": "Is it not pleasant to learn with constant perseverance and application"},
			{"source": "三人行", "target": "When walking with friends I find guides among them and harmony with others"},
			{"source": "missing target"}
		]},
		"not a section"
	]`,
	"mencius.json": `[
		{"contents": [
			{"source": "人性之善也", "target": "The goodness of human nature is like water flowing downward"}
		]}
	]`,
	"tao_te_ching.json": `[
		{"original": "上善若水", "translation": "The highest good is like water, calm and peaceful, flowing without struggle", "chapter_number": 8},
		{"original": "", "translation": "skipped"}
	]`,
	"iching.json": `[
		{"hexagram_name": "Peace", "hexagram_chinese": "泰", "symbolic_meaning": "Heaven and earth unite in harmony and calm after anxiety"}
	]`,
	"positive_psy.json": `{
		"resilience": {"concepts": [{"term": "Resilience", "definition": "The capacity to recover from stress, anxiety and difficulty"}]},
		"gratitude": {"concepts": [{"term": "Gratitude", "definition": "Thankful appreciation for what one has"}]}
	}`,
	"social_psy.json": `{
		"belonging": {"concepts": [{"term": "Belonging", "definition": "The need for connection with friends and family eases loneliness"}]}
	}`,
}

const fixturePassages = 8

func writeCorpus(t *testing.T, dir string) Catalog {
	t.Helper()
	for name, body := range corpusFixture {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return DefaultCatalog(dir)
}

type memCache struct {
	mu    sync.Mutex
	snap  *IndexSnapshot
	saves int
	err   error
}

func (c *memCache) Load(context.Context) (*IndexSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil {
		return nil, ErrCacheMiss
	}
	return c.snap, nil
}

func (c *memCache) Save(_ context.Context, snap *IndexSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.snap = snap
	c.saves++
	return nil
}

func writeFile(path, body string) error {
	return os.WriteFile(path, []byte(body), 0o644)
}
