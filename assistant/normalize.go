package assistant

import (
	"fmt"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
)

// NormalizerFunc maps one book's native JSON document into passages.
type NormalizerFunc func(bookID string, raw []byte) ([]Passage, error)

// NormalizerRegistry holds one normalizer per book id.
type NormalizerRegistry struct {
	byBook map[string]NormalizerFunc
}

func NewNormalizerRegistry() *NormalizerRegistry {
	return &NormalizerRegistry{byBook: make(map[string]NormalizerFunc)}
}

// DefaultNormalizers registers the shapes of the built-in corpus.
func DefaultNormalizers() *NormalizerRegistry {
	r := NewNormalizerRegistry()
	r.Register("analects", sectionQuotes("entries"))
	r.Register("mencius", sectionQuotes("contents"))
	r.Register("tao_te_ching", normalizeChapters)
	r.Register("iching", normalizeHexagrams)
	r.Register("positive_psy", normalizeConcepts)
	r.Register("social_psy", normalizeConcepts)
	return r
}

func (r *NormalizerRegistry) Register(bookID string, fn NormalizerFunc) {
	r.byBook[bookID] = fn
}

func (r *NormalizerRegistry) Has(bookID string) bool {
	_, ok := r.byBook[bookID]
	return ok
}

func (r *NormalizerRegistry) Normalize(bookID string, raw []byte) ([]Passage, error) {
	fn, ok := r.byBook[bookID]
	if !ok {
		return nil, E(KindConfiguration, "normalize", fmt.Errorf("no normalizer registered for book %q", bookID))
	}
	out, err := fn(bookID, raw)
	if err != nil {
		return nil, E(KindCorpus, "normalize "+bookID, err)
	}
	return out, nil
}

func joinText(a, b string) string {
	return strings.TrimSpace(strings.TrimSpace(a) + " " + strings.TrimSpace(b))
}

// sectionQuotes reads [{<key>: [{source, target}]}]. Non-object sections and entries
// missing either side are skipped.
func sectionQuotes(key string) NormalizerFunc {
	type entry struct {
		Source *string `json:"source"`
		Target *string `json:"target"`
	}
	return func(bookID string, raw []byte) ([]Passage, error) {
		var sections []json.RawMessage
		if err := json.Unmarshal(raw, &sections); err != nil {
			return nil, fmt.Errorf("expected a list of sections: %w", err)
		}
		var out []Passage
		for _, s := range sections {
			var section map[string]json.RawMessage
			if err := json.Unmarshal(s, &section); err != nil {
				continue
			}
			var entries []entry
			if err := json.Unmarshal(section[key], &entries); err != nil {
				continue
			}
			for _, e := range entries {
				if e.Source == nil || e.Target == nil {
					continue
				}
				out = append(out, Passage{
					Text:            joinText(*e.Source, *e.Target),
					SourceText:      *e.Source,
					TranslationText: *e.Target,
					BookID:          bookID,
					Kind:            PassageQuote,
				})
			}
		}
		return out, nil
	}
}

func normalizeChapters(bookID string, raw []byte) ([]Passage, error) {
	type chapter struct {
		Original      string          `json:"original"`
		Translation   string          `json:"translation"`
		ChapterNumber json.RawMessage `json:"chapter_number"`
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("expected a list of chapters: %w", err)
	}
	var out []Passage
	for _, it := range items {
		var c chapter
		if err := json.Unmarshal(it, &c); err != nil {
			continue
		}
		if c.Original == "" || c.Translation == "" {
			continue
		}
		out = append(out, Passage{
			Text:            joinText(c.Original, c.Translation),
			SourceText:      c.Original,
			TranslationText: c.Translation,
			BookID:          bookID,
			Kind:            PassageChapter,
			Chapter:         strings.Trim(strings.TrimSpace(string(c.ChapterNumber)), `"`),
		})
	}
	return out, nil
}

func normalizeHexagrams(bookID string, raw []byte) ([]Passage, error) {
	type hexagram struct {
		Name    string `json:"hexagram_name"`
		Chinese string `json:"hexagram_chinese"`
		Meaning string `json:"symbolic_meaning"`
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("expected a list of hexagrams: %w", err)
	}
	var out []Passage
	for _, it := range items {
		var h hexagram
		if err := json.Unmarshal(it, &h); err != nil {
			continue
		}
		if h.Name == "" || h.Meaning == "" {
			continue
		}
		out = append(out, Passage{
			Text:            strings.Join(strings.Fields(h.Name+" "+h.Chinese+" "+h.Meaning), " "),
			SourceText:      fmt.Sprintf("%s (%s)", h.Name, h.Chinese),
			TranslationText: h.Meaning,
			BookID:          bookID,
			Kind:            PassageHexagram,
		})
	}
	return out, nil
}

// normalizeConcepts reads {category: {concepts: [{term, definition}]}}.
// Categories are visited in sorted order so builds are deterministic.
func normalizeConcepts(bookID string, raw []byte) ([]Passage, error) {
	type concept struct {
		Term       *string `json:"term"`
		Definition *string `json:"definition"`
	}
	type category struct {
		Concepts []concept `json:"concepts"`
	}
	var byCategory map[string]json.RawMessage
	if err := json.Unmarshal(raw, &byCategory); err != nil {
		return nil, fmt.Errorf("expected an object of categories: %w", err)
	}
	names := make([]string, 0, len(byCategory))
	for name := range byCategory {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []Passage
	for _, name := range names {
		var c category
		if err := json.Unmarshal(byCategory[name], &c); err != nil {
			continue
		}
		for _, cc := range c.Concepts {
			if cc.Term == nil || cc.Definition == nil {
				continue
			}
			out = append(out, Passage{
				Text:            joinText(*cc.Term, *cc.Definition),
				SourceText:      *cc.Term,
				TranslationText: *cc.Definition,
				BookID:          bookID,
				Kind:            PassageConcept,
				Category:        name,
			})
		}
	}
	return out, nil
}
