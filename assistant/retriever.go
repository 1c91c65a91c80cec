package assistant

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/theimaginaryfoundation/jarvis/logging"
)

const guidanceTerms = "emotional guidance wisdom advice"

// Searcher is the slice of CorpusIndex the retriever needs.
type Searcher interface {
	SearchWhere(ctx context.Context, query string, topK int, minScore float64, keep func(Passage) bool) ([]ScoredPassage, error)
}

type Query struct {
	Text    string
	Emotion string
	// Books adds one phrasing per book, restricted to that book's passages. The best hit
	// of each book phrasing keeps a place in the result even when it ranks below TopK.
	Books []string
	TopK  int
}

type RetrieverOptions struct {
	MinScore float64
	// Concurrency caps in-flight phrasings. Zero means 4.
	Concurrency int
}

// Retriever runs several phrasings of one query against the corpus and merges the results.
type Retriever struct {
	index       Searcher
	minScore    float64
	concurrency int
	log         *logging.Logger
}

func NewRetriever(index Searcher, opts RetrieverOptions, log *logging.Logger) *Retriever {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Retriever{index: index, minScore: opts.MinScore, concurrency: opts.Concurrency, log: log.With("component", "retriever")}
}

type phrasing struct {
	query string
	keep  func(Passage) bool
}

// generalPhrasings is how many phrasings precede the per-book ones.
const generalPhrasings = 2

func (r *Retriever) phrasings(q Query) []phrasing {
	text := strings.TrimSpace(q.Text)
	out := []phrasing{
		{query: strings.TrimSpace(text + " " + q.Emotion + " " + guidanceTerms)},
		{query: strings.TrimSpace(q.Emotion + " " + text)},
	}
	for _, book := range q.Books {
		out = append(out, phrasing{
			query: strings.TrimSpace(text + " " + q.Emotion + " " + book),
			keep:  func(p Passage) bool { return p.BookID == book },
		})
	}
	return out
}

// SearchRelevant returns at most q.TopK passages, deduplicated by book and text prefix and
// ordered by score. A failing phrasing is dropped; only when every phrasing fails is the
// first error returned.
func (r *Retriever) SearchRelevant(ctx context.Context, q Query) ([]ScoredPassage, error) {
	if q.TopK <= 0 {
		return []ScoredPassage{}, nil
	}
	ps := r.phrasings(q)
	results := make([][]ScoredPassage, len(ps))
	errs := make([]error, len(ps))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, p := range ps {
		g.Go(func() error {
			res, err := r.index.SearchWhere(gctx, p.query, q.TopK, r.minScore, p.keep)
			if err != nil {
				errs[i] = err
				r.log.Debug("phrasing failed", "query", p.query, "err", err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	failed := 0
	var firstErr error
	for _, err := range errs {
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if failed == len(ps) {
		return nil, firstErr
	}
	return mergeScored(results, q.TopK, generalPhrasings), nil
}

// mergeScored unions result lists in order, keeps the best score per dedup key and
// stable-sorts by score. Lists from index general on are book-restricted: the best hit
// of each is reserved a place among the topK, and the rest are filled by score.
func mergeScored(lists [][]ScoredPassage, topK, general int) []ScoredPassage {
	pos := map[string]int{}
	var out []ScoredPassage
	for _, list := range lists {
		for _, sp := range list {
			key := dedupKey(sp.Passage)
			if i, ok := pos[key]; ok {
				if sp.Score > out[i].Score {
					out[i].Score = sp.Score
				}
				continue
			}
			pos[key] = len(out)
			out = append(out, sp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if out == nil {
		return []ScoredPassage{}
	}
	if len(out) <= topK {
		return out
	}

	reserved := map[string]bool{}
	for i := general; i < len(lists) && len(reserved) < topK; i++ {
		if best, ok := bestOf(lists[i]); ok {
			reserved[dedupKey(best.Passage)] = true
		}
	}
	free := topK - len(reserved)
	kept := make([]ScoredPassage, 0, topK)
	for _, sp := range out {
		switch {
		case reserved[dedupKey(sp.Passage)]:
			kept = append(kept, sp)
		case free > 0:
			kept = append(kept, sp)
			free--
		}
	}
	return kept
}

func bestOf(list []ScoredPassage) (ScoredPassage, bool) {
	if len(list) == 0 {
		return ScoredPassage{}, false
	}
	best := list[0]
	for _, sp := range list[1:] {
		if sp.Score > best.Score {
			best = sp
		}
	}
	return best, true
}

func dedupKey(p Passage) string {
	r := []rune(p.Text)
	if len(r) > 64 {
		r = r[:64]
	}
	return p.BookID + "\x00" + string(r)
}
