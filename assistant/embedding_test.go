package assistant

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestSimilarity(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"mismatched", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"zero", []float32{0, 0}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
		{"nan component", []float32{float32(math.NaN()), 1}, []float32{1, 1}, 0},
		{"inf component", []float32{float32(math.Inf(1)), 1}, []float32{1, 1}, 0},
	}
	for _, tc := range cases {
		if got := Similarity(tc.a, tc.b); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("%s: Similarity=%v, want %v", tc.name, got, tc.want)
		}
	}
}

type shortEmbedder struct{ wordEmbedder }

func (e *shortEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	v, err := e.wordEmbedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	return v[:len(v)-1], nil
}

func TestEmbeddingService_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, err := NewEmbeddingService(&wordEmbedder{fail: errors.New("quota")}).EmbedMany(ctx, []string{"a"})
	if !IsKind(err, KindEmbedding) {
		t.Fatalf("err=%v, want embedding kind", err)
	}
	_, err = NewEmbeddingService(&shortEmbedder{}).EmbedMany(ctx, []string{"a", "b"})
	if !IsKind(err, KindEmbedding) {
		t.Fatalf("count mismatch err=%v, want embedding kind", err)
	}
	vecs, err := NewEmbeddingService(&wordEmbedder{}).EmbedMany(ctx, nil)
	if err != nil || vecs != nil {
		t.Fatalf("empty input vecs=%v err=%v", vecs, err)
	}
}

func TestEmbeddingService_EmbedStaticMemoizes(t *testing.T) {
	t.Parallel()

	emb := &wordEmbedder{}
	s := NewEmbeddingService(emb)
	ctx := context.Background()
	first, err := s.EmbedStatic(ctx, []string{"calm water", "angry fire"})
	if err != nil {
		t.Fatalf("EmbedStatic: %v", err)
	}
	second, err := s.EmbedStatic(ctx, []string{"angry fire", "new text", "calm water"})
	if err != nil {
		t.Fatalf("EmbedStatic: %v", err)
	}
	if _, texts := emb.stats(); texts != 3 {
		t.Fatalf("embedded %d texts, want 3", texts)
	}
	if Similarity(first[0], second[2]) < 0.999999 || Similarity(first[1], second[0]) < 0.999999 {
		t.Fatalf("memoized vectors out of order")
	}
}
