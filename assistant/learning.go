package assistant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/theimaginaryfoundation/jarvis/logging"
)

// PreferenceTableVersion is the serialized layout version of PreferenceTable.
const PreferenceTableVersion = 1

// PreferenceTable maps emotion -> choice id -> effectiveness score, per choice kind.
// It is derived from the interaction log and can always be rebuilt from it.
type PreferenceTable struct {
	Version   int                           `json:"version"`
	Books     map[string]map[string]float64 `json:"books"`
	Playlists map[string]map[string]float64 `json:"playlists"`
	UpdatedAt time.Time                     `json:"updated_at"`
}

func NewPreferenceTable() *PreferenceTable {
	return &PreferenceTable{
		Version:   PreferenceTableVersion,
		Books:     map[string]map[string]float64{},
		Playlists: map[string]map[string]float64{},
	}
}

func (t *PreferenceTable) bucket(kind ChoiceKind) map[string]map[string]float64 {
	if kind == ChoiceBook {
		if t.Books == nil {
			t.Books = map[string]map[string]float64{}
		}
		return t.Books
	}
	if t.Playlists == nil {
		t.Playlists = map[string]map[string]float64{}
	}
	return t.Playlists
}

// Add increments (emotion, id) in the given namespace.
func (t *PreferenceTable) Add(emotion string, kind ChoiceKind, id string, delta float64) {
	b := t.bucket(kind)
	emotion = normalizeEmotion(emotion)
	if b[emotion] == nil {
		b[emotion] = map[string]float64{}
	}
	b[emotion][id] += delta
}

// Score returns the score for (emotion, id), zero when absent.
func (t *PreferenceTable) Score(emotion string, kind ChoiceKind, id string) float64 {
	return t.bucket(kind)[normalizeEmotion(emotion)][id]
}

func (t *PreferenceTable) Clone() *PreferenceTable {
	out := NewPreferenceTable()
	out.Version = t.Version
	out.UpdatedAt = t.UpdatedAt
	for e, m := range t.Books {
		for id, v := range m {
			out.Add(e, ChoiceBook, id, v)
		}
	}
	for e, m := range t.Playlists {
		for id, v := range m {
			out.Add(e, ChoicePlaylist, id, v)
		}
	}
	return out
}

type RankedChoice struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Preferences is the learned view for one emotion.
type Preferences struct {
	Emotion    string         `json:"emotion"`
	Books      []RankedChoice `json:"books"`
	Playlists  []RankedChoice `json:"playlists"`
	Confidence float64        `json:"confidence"`
}

// PreferencesFor ranks the table's entries for emotion. Confidence saturates at 1.0
// once the emotion's total score reaches 10.
func (t *PreferenceTable) PreferencesFor(emotion string) Preferences {
	emotion = normalizeEmotion(emotion)
	p := Preferences{
		Emotion:   emotion,
		Books:     rank(t.bucket(ChoiceBook)[emotion]),
		Playlists: rank(t.bucket(ChoicePlaylist)[emotion]),
	}
	total := 0.0
	for _, c := range p.Books {
		total += c.Score
	}
	for _, c := range p.Playlists {
		total += c.Score
	}
	if total > 10 {
		total = 10
	}
	p.Confidence = total / 10
	return p
}

func rank(m map[string]float64) []RankedChoice {
	out := make([]RankedChoice, 0, len(m))
	for id, s := range m {
		out = append(out, RankedChoice{ID: id, Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func normalizeEmotion(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// AggregateLog counts (emotion, primary book) and (emotion, playlist) over records.
func AggregateLog(records []InteractionRecord) *PreferenceTable {
	t := NewPreferenceTable()
	for _, r := range records {
		t.Add(r.Emotion, ChoiceBook, r.PrimaryBook(), 1)
		if r.Playlist != "" {
			t.Add(r.Emotion, ChoicePlaylist, r.Playlist, 1)
		}
	}
	return t
}

// LearningEngine keeps the preference table in sync with the interaction log.
// The log is authoritative; the store is a cache that Invalidate marks for rebuild.
// All writers are serialized by mu.
type LearningEngine struct {
	log   InteractionLog
	store PreferenceStore
	lg    *logging.Logger

	mu    sync.Mutex
	stale bool
}

func NewLearningEngine(log InteractionLog, store PreferenceStore, lg *logging.Logger) *LearningEngine {
	if store == nil {
		store = NewMemoryPreferenceStore()
	}
	if lg == nil {
		lg = logging.Nop()
	}
	return &LearningEngine{log: log, store: store, lg: lg.With("component", "learning")}
}

// LearnFromLog rebuilds the table from every logged interaction and stores it.
func (e *LearningEngine) LearnFromLog(ctx context.Context) (*PreferenceTable, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rebuildLocked(ctx)
}

func (e *LearningEngine) rebuildLocked(ctx context.Context) (*PreferenceTable, error) {
	records, err := e.log.ReadAll(ctx)
	if err != nil {
		return nil, E(KindPersistence, "learn from log", err)
	}
	t := AggregateLog(records)
	t.UpdatedAt = time.Now().UTC()
	if err := e.store.Replace(ctx, t); err != nil {
		e.stale = true
		return t, E(KindPersistence, "store preferences", err)
	}
	e.stale = false
	e.lg.Info("preference table rebuilt", "interactions", len(records))
	return t, nil
}

// Interactions returns every logged interaction, oldest first.
func (e *LearningEngine) Interactions(ctx context.Context) ([]InteractionRecord, error) {
	return e.log.ReadAll(ctx)
}

// Invalidate forces the next read to rebuild from the log.
func (e *LearningEngine) Invalidate() {
	e.mu.Lock()
	e.stale = true
	e.mu.Unlock()
}

// Table returns the current table, rebuilding it first when missing or invalidated.
func (e *LearningEngine) Table(ctx context.Context) (*PreferenceTable, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tableLocked(ctx)
}

func (e *LearningEngine) tableLocked(ctx context.Context) (*PreferenceTable, error) {
	if !e.stale {
		t, err := e.store.Load(ctx)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, ErrPreferencesMissing) {
			e.lg.Warn("preference store load failed, rebuilding from log", "err", err)
		}
	}
	return e.rebuildLocked(ctx)
}

// Preferences returns the ranked learned choices for emotion.
func (e *LearningEngine) Preferences(ctx context.Context, emotion string) (Preferences, error) {
	t, err := e.Table(ctx)
	if t == nil {
		return Preferences{Emotion: normalizeEmotion(emotion)}, err
	}
	return t.PreferencesFor(emotion), err
}

// Reinforce adds one to (emotion, book) and (emotion, playlist) without a rebuild.
func (e *LearningEngine) Reinforce(ctx context.Context, emotion, book, playlist string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.tableLocked(ctx); err != nil {
		return err
	}
	return e.reinforceLocked(ctx, emotion, book, playlist)
}

func (e *LearningEngine) reinforceLocked(ctx context.Context, emotion, book, playlist string) error {
	if book == "" {
		book = noBook
	}
	emotion = normalizeEmotion(emotion)
	if err := e.store.Increment(ctx, emotion, ChoiceBook, book, 1); err != nil {
		e.stale = true
		return E(KindPersistence, "reinforce book", err)
	}
	if playlist != "" {
		if err := e.store.Increment(ctx, emotion, ChoicePlaylist, playlist, 1); err != nil {
			e.stale = true
			return E(KindPersistence, "reinforce playlist", err)
		}
	}
	return nil
}

// Record appends rec to the log and then reinforces its choices. If the append fails
// nothing is reinforced; if reinforcement fails the table is invalidated so the next
// read replays the log.
func (e *LearningEngine) Record(ctx context.Context, rec InteractionRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.log.Append(ctx, rec); err != nil {
		return E(KindPersistence, "append interaction", err)
	}
	// A rebuild already includes rec, so reinforcing on top of one would double count.
	needRebuild := e.stale
	if !needRebuild {
		_, err := e.store.Load(ctx)
		needRebuild = err != nil
	}
	if needRebuild {
		_, err := e.rebuildLocked(ctx)
		return err
	}
	if err := e.reinforceLocked(ctx, rec.Emotion, rec.PrimaryBook(), rec.Playlist); err != nil {
		return fmt.Errorf("record interaction: %w", err)
	}
	return nil
}

// MemoryPreferenceStore keeps the table in process memory.
type MemoryPreferenceStore struct {
	mu    sync.RWMutex
	table *PreferenceTable
}

func NewMemoryPreferenceStore() *MemoryPreferenceStore { return &MemoryPreferenceStore{} }

func (s *MemoryPreferenceStore) Load(context.Context) (*PreferenceTable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.table == nil {
		return nil, ErrPreferencesMissing
	}
	return s.table.Clone(), nil
}

func (s *MemoryPreferenceStore) Replace(_ context.Context, t *PreferenceTable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table = t.Clone()
	return nil
}

func (s *MemoryPreferenceStore) Increment(_ context.Context, emotion string, kind ChoiceKind, id string, delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.table == nil {
		s.table = NewPreferenceTable()
	}
	s.table.Add(emotion, kind, id, delta)
	s.table.UpdatedAt = time.Now().UTC()
	return nil
}

// MemoryLog is an InteractionLog held in process memory.
type MemoryLog struct {
	mu      sync.RWMutex
	records []InteractionRecord
}

func NewMemoryLog(records ...InteractionRecord) *MemoryLog {
	return &MemoryLog{records: append([]InteractionRecord(nil), records...)}
}

func (l *MemoryLog) Append(_ context.Context, rec InteractionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return nil
}

func (l *MemoryLog) ReadAll(context.Context) ([]InteractionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := append([]InteractionRecord(nil), l.records...)
	SortRecords(out)
	return out, nil
}

// SortRecords orders records by timestamp ascending, keeping append order for ties.
func SortRecords(records []InteractionRecord) {
	sort.SliceStable(records, func(i, j int) bool { return records[i].Timestamp.Before(records[j].Timestamp) })
}
