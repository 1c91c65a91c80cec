package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/theimaginaryfoundation/jarvis/assistant"
	"github.com/theimaginaryfoundation/jarvis/assistant/fileutils"
)

// Ollama talks to a local Ollama server. It serves as both Completer and Embedder.
type Ollama struct {
	baseURL    string
	model      string
	embedModel string
	http       *http.Client
	breaker    *Breaker
}

var (
	_ assistant.Completer = (*Ollama)(nil)
	_ assistant.Embedder  = (*Ollama)(nil)
)

type OllamaOptions struct {
	BaseURL    string
	Model      string
	EmbedModel string
	Timeout    time.Duration
	Breaker    *Breaker
}

func NewOllama(opts OllamaOptions) *Ollama {
	if opts.BaseURL == "" {
		opts.BaseURL = "http://localhost:11434"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &Ollama{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		model:      opts.Model,
		embedModel: opts.EmbedModel,
		http:       &http.Client{Timeout: opts.Timeout},
		breaker:    opts.Breaker,
	}
}

func (o *Ollama) Model() string { return "ollama:" + o.embedModel }

func (o *Ollama) Complete(ctx context.Context, prompt string) (string, error) {
	return Call(o.breaker, func() (string, error) {
		var out struct {
			Response string `json:"response"`
		}
		err := o.post(ctx, "/api/generate", map[string]any{
			"model":  o.model,
			"prompt": prompt,
			"stream": false,
		}, &out)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(out.Response) == "" {
			return "", fmt.Errorf("ollama generate: empty response")
		}
		return out.Response, nil
	})
}

func (o *Ollama) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return Call(o.breaker, func() ([][]float32, error) {
		var out struct {
			Embeddings [][]float32 `json:"embeddings"`
		}
		if err := o.post(ctx, "/api/embed", map[string]any{"model": o.embedModel, "input": texts}, &out); err != nil {
			return nil, err
		}
		if len(out.Embeddings) != len(texts) {
			return nil, fmt.Errorf("ollama embed: got %d vectors for %d inputs", len(out.Embeddings), len(texts))
		}
		return out.Embeddings, nil
	})
}

func (o *Ollama) post(ctx context.Context, path string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := o.http.Do(req)
	if err != nil {
		return fmt.Errorf("ollama %s: %w", path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("ollama %s: read body: %w", path, err)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("ollama %s: status %d: %s", path, resp.StatusCode, fileutils.Truncate(string(raw), 300))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("ollama %s: decode: %w", path, err)
	}
	return nil
}
