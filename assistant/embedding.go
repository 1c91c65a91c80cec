package assistant

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
)

// EmbeddingService wraps an Embedder with order checks, cosine similarity,
// and a memo for static texts (profile and candidate descriptions).
type EmbeddingService struct {
	embedder Embedder

	mu   sync.RWMutex
	memo map[string][]float32
}

func NewEmbeddingService(e Embedder) *EmbeddingService {
	return &EmbeddingService{embedder: e, memo: make(map[string][]float32)}
}

func (s *EmbeddingService) Model() string { return s.embedder.Model() }

func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedMany returns one vector per text, in input order.
func (s *EmbeddingService) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, E(KindEmbedding, "embed", err)
	}
	if len(vecs) != len(texts) {
		return nil, E(KindEmbedding, "embed", fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), len(texts)))
	}
	return vecs, nil
}

// EmbedStatic is EmbedMany for texts that never change during the process lifetime.
// Results are memoized by model and content hash; only misses reach the provider.
func (s *EmbeddingService) EmbedStatic(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	s.mu.RLock()
	for i, t := range texts {
		if v, ok := s.memo[s.memoKey(t)]; ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	s.mu.RUnlock()

	if len(missTexts) == 0 {
		return out, nil
	}
	vecs, err := s.EmbedMany(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	for j, i := range missIdx {
		out[i] = vecs[j]
		s.memo[s.memoKey(texts[i])] = vecs[j]
	}
	s.mu.Unlock()
	return out, nil
}

func (s *EmbeddingService) memoKey(text string) string {
	h := sha256.Sum256([]byte(s.embedder.Model() + "\x00" + text))
	return hex.EncodeToString(h[:16])
}

// Similarity is the cosine similarity of a and b. Mismatched lengths, zero vectors and
// non-finite components give 0.
func Similarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if math.IsNaN(sim) {
		return 0
	}
	// Rounding can push identical vectors a hair past 1.
	return math.Max(-1, math.Min(1, sim))
}
