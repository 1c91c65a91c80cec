package assistant

import "testing"

func TestDefaultNormalizers_Shapes(t *testing.T) {
	t.Parallel()

	r := DefaultNormalizers()
	cases := []struct {
		book  string
		file  string
		count int
		kind  PassageKind
	}{
		{"analects", "analects.json", 2, PassageQuote},
		{"mencius", "mencius.json", 1, PassageQuote},
		{"tao_te_ching", "tao_te_ching.json", 1, PassageChapter},
		{"iching", "iching.json", 1, PassageHexagram},
		{"positive_psy", "positive_psy.json", 2, PassageConcept},
		{"social_psy", "social_psy.json", 1, PassageConcept},
	}
	for _, tc := range cases {
		got, err := r.Normalize(tc.book, []byte(corpusFixture[tc.file]))
		if err != nil {
			t.Fatalf("%s: %v", tc.book, err)
		}
		if len(got) != tc.count {
			t.Fatalf("%s: len=%d, want %d", tc.book, len(got), tc.count)
		}
		for _, p := range got {
			if p.Kind != tc.kind || p.BookID != tc.book || p.Text == "" {
				t.Fatalf("%s: passage=%+v", tc.book, p)
			}
		}
	}
}

func TestNormalizeChapters_Fields(t *testing.T) {
	t.Parallel()

	got, err := normalizeChapters("tao_te_ching", []byte(corpusFixture["tao_te_ching.json"]))
	if err != nil {
		t.Fatalf("normalizeChapters: %v", err)
	}
	p := got[0]
	if p.Chapter != "8" || p.SourceText != "上善若水" {
		t.Fatalf("passage=%+v", p)
	}
	if p.Text != "上善若水 The highest good is like water, calm and peaceful, flowing without struggle" {
		t.Fatalf("Text=%q", p.Text)
	}
}

func TestNormalizeConcepts_SortedCategories(t *testing.T) {
	t.Parallel()

	got, err := normalizeConcepts("positive_psy", []byte(corpusFixture["positive_psy.json"]))
	if err != nil {
		t.Fatalf("normalizeConcepts: %v", err)
	}
	if got[0].Category != "gratitude" || got[1].Category != "resilience" {
		t.Fatalf("categories=%q,%q", got[0].Category, got[1].Category)
	}
}

func TestNormalize_Errors(t *testing.T) {
	t.Parallel()

	r := DefaultNormalizers()
	if _, err := r.Normalize("analects", []byte(`{"not": "a list"}`)); !IsKind(err, KindCorpus) {
		t.Fatalf("err=%v, want corpus", err)
	}
	if _, err := r.Normalize("nope", []byte(`[]`)); !IsKind(err, KindConfiguration) {
		t.Fatalf("err=%v, want configuration", err)
	}
	if got, err := r.Normalize("iching", []byte(`[1, "x", {"hexagram_name": "Peace"}]`)); err != nil || len(got) != 0 {
		t.Fatalf("malformed items got=%v err=%v", got, err)
	}
}
