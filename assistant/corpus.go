package assistant

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/theimaginaryfoundation/jarvis/logging"
	"github.com/theimaginaryfoundation/jarvis/metrics"
)

// IndexSchemaVersion is bumped whenever the snapshot layout or normalization output changes.
const IndexSchemaVersion = 1

// IndexSnapshot is the serialized form of a built corpus index.
type IndexSnapshot struct {
	SchemaVersion int         `json:"schema_version"`
	Model         string      `json:"model"`
	Fingerprint   string      `json:"fingerprint"`
	BuiltAt       time.Time   `json:"built_at"`
	Passages      []Passage   `json:"passages"`
	Vectors       [][]float32 `json:"vectors"`
}

// BuildReport describes what Build did.
type BuildReport struct {
	FromCache bool
	Passages  int
	Warnings  []string
}

type CorpusStats struct {
	Total   int            `json:"total"`
	ByBook  map[string]int `json:"by_book"`
	ByKind  map[string]int `json:"by_kind"`
	Model   string         `json:"model"`
	BuiltAt time.Time      `json:"built_at"`
}

// CorpusIndex owns the passages of every configured book and their embeddings.
// A build swaps in a complete snapshot; readers never see a partial one.
type CorpusIndex struct {
	books    []Candidate
	registry *NormalizerRegistry
	embed    *EmbeddingService
	cache    IndexCache
	log      *logging.Logger

	mu    sync.RWMutex
	snap  *IndexSnapshot
	built bool
}

func NewCorpusIndex(books []Candidate, registry *NormalizerRegistry, embed *EmbeddingService, cache IndexCache, log *logging.Logger) *CorpusIndex {
	if registry == nil {
		registry = DefaultNormalizers()
	}
	if log == nil {
		log = logging.Nop()
	}
	return &CorpusIndex{
		books:    books,
		registry: registry,
		embed:    embed,
		cache:    cache,
		log:      log.With("component", "corpus"),
	}
}

type sourceDoc struct {
	bookID string
	raw    []byte
}

func (c *CorpusIndex) readSources() ([]sourceDoc, string, error) {
	h := sha256.New()
	docs := make([]sourceDoc, 0, len(c.books))
	for _, b := range c.books {
		if !c.registry.Has(b.ID) {
			return nil, "", E(KindConfiguration, "corpus build", fmt.Errorf("no normalizer registered for book %q", b.ID))
		}
		raw, err := os.ReadFile(b.Path)
		if err != nil {
			return nil, "", E(KindCorpus, "corpus build", fmt.Errorf("read %s: %w", b.ID, err))
		}
		fmt.Fprintf(h, "%s\x00%s\x00%d\x00", b.ID, b.Path, len(raw))
		h.Write(raw)
		docs = append(docs, sourceDoc{bookID: b.ID, raw: raw})
	}
	fmt.Fprintf(h, "v%d", IndexSchemaVersion)
	return docs, hex.EncodeToString(h.Sum(nil)), nil
}

// Build loads the index from cache when the cached snapshot matches the current sources and
// embedding model, unless force is set. Otherwise it normalizes every book, embeds all
// passages in one batch and saves the snapshot. An empty corpus leaves a usable empty index
// and returns ErrEmptyCorpus.
func (c *CorpusIndex) Build(ctx context.Context, force bool) (BuildReport, error) {
	docs, fingerprint, err := c.readSources()
	if err != nil {
		return BuildReport{}, err
	}

	var report BuildReport
	if cur := c.Snapshot(); !force && cur != nil && len(cur.Passages) > 0 && c.valid(cur, fingerprint) {
		return BuildReport{FromCache: true, Passages: len(cur.Passages)}, nil
	}
	if !force && c.cache != nil {
		snap, err := c.cache.Load(ctx)
		switch {
		case err == nil && c.valid(snap, fingerprint):
			c.swap(snap)
			metrics.CorpusBuilds.WithLabelValues("cache").Inc()
			c.log.Info("corpus index loaded from cache", "passages", len(snap.Passages), "model", snap.Model)
			return BuildReport{FromCache: true, Passages: len(snap.Passages)}, nil
		case err == nil:
			c.log.Info("corpus cache is stale, rebuilding")
		case errors.Is(err, ErrCacheMiss):
		default:
			report.Warnings = append(report.Warnings, fmt.Sprintf("corpus cache load failed: %v", err))
			c.log.Warn("corpus cache load failed", "err", err)
		}
	}

	var passages []Passage
	for _, d := range docs {
		ps, err := c.registry.Normalize(d.bookID, d.raw)
		if err != nil {
			return report, err
		}
		c.log.Debug("normalized book", "book", d.bookID, "passages", len(ps))
		passages = append(passages, ps...)
	}

	snap := &IndexSnapshot{
		SchemaVersion: IndexSchemaVersion,
		Model:         c.embed.Model(),
		Fingerprint:   fingerprint,
		BuiltAt:       time.Now().UTC(),
		Passages:      passages,
	}
	if len(passages) == 0 {
		c.swap(snap)
		report.Passages = 0
		return report, E(KindCorpus, "corpus build", ErrEmptyCorpus)
	}

	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}
	vecs, err := c.embed.EmbedMany(ctx, texts)
	if err != nil {
		return report, err
	}
	snap.Vectors = vecs

	if c.cache != nil {
		if err := c.cache.Save(ctx, snap); err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("corpus cache save failed: %v", err))
			metrics.CollaboratorFailures.WithLabelValues(string(KindPersistence)).Inc()
			c.log.Warn("corpus cache save failed", "err", err)
		}
	}
	c.swap(snap)
	metrics.CorpusBuilds.WithLabelValues("rebuild").Inc()
	c.log.Info("corpus index built", "passages", len(passages), "books", len(docs))
	report.Passages = len(passages)
	return report, nil
}

func (c *CorpusIndex) valid(snap *IndexSnapshot, fingerprint string) bool {
	return snap != nil &&
		snap.SchemaVersion == IndexSchemaVersion &&
		snap.Model == c.embed.Model() &&
		snap.Fingerprint == fingerprint &&
		len(snap.Vectors) == len(snap.Passages)
}

func (c *CorpusIndex) swap(snap *IndexSnapshot) {
	c.mu.Lock()
	c.snap = snap
	c.built = true
	c.mu.Unlock()
	metrics.CorpusPassages.Set(float64(len(snap.Passages)))
}

// Built reports whether a snapshot (possibly empty) has been installed.
func (c *CorpusIndex) Built() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.built
}

// Snapshot returns the installed snapshot, or nil before the first build.
func (c *CorpusIndex) Snapshot() *IndexSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Search returns up to topK passages scoring at least minScore, best first,
// ties kept in corpus order.
func (c *CorpusIndex) Search(ctx context.Context, query string, topK int, minScore float64) ([]ScoredPassage, error) {
	return c.SearchWhere(ctx, query, topK, minScore, nil)
}

// SearchWhere is Search restricted to passages accepted by keep. A nil keep accepts all.
func (c *CorpusIndex) SearchWhere(ctx context.Context, query string, topK int, minScore float64, keep func(Passage) bool) ([]ScoredPassage, error) {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()

	if snap == nil || len(snap.Passages) == 0 || topK <= 0 {
		return []ScoredPassage{}, nil
	}

	qv, err := c.embed.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	scored := make([]ScoredPassage, 0, len(snap.Passages))
	for i, p := range snap.Passages {
		if keep != nil && !keep(p) {
			continue
		}
		s := Similarity(qv, snap.Vectors[i])
		if s < minScore {
			continue
		}
		scored = append(scored, ScoredPassage{Passage: p, Score: s})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

func (c *CorpusIndex) Stats() CorpusStats {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()

	st := CorpusStats{ByBook: map[string]int{}, ByKind: map[string]int{}}
	if snap == nil {
		return st
	}
	st.Total = len(snap.Passages)
	st.Model = snap.Model
	st.BuiltAt = snap.BuiltAt
	for _, p := range snap.Passages {
		st.ByBook[p.BookID]++
		st.ByKind[string(p.Kind)]++
	}
	return st
}
