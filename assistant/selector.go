package assistant

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/theimaginaryfoundation/jarvis/logging"
)

const (
	SelectionLearned = "learned"
	SelectionAI      = "ai_selection"

	// BookRelevanceFloor drops books whose description is barely related to the query.
	BookRelevanceFloor = 0.2
)

type Selection struct {
	Choice     string  `json:"choice"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
}

type BookScore struct {
	BookID string  `json:"book_id"`
	Score  float64 `json:"score"`
}

// Selector chooses books and playlists by description similarity, deferring to learned
// preferences when the policy admits them.
type Selector struct {
	embed          *EmbeddingService
	books          []Candidate
	playlists      []Candidate
	bookPolicy     *Policy
	playlistPolicy *Policy
	log            *logging.Logger
}

func NewSelector(embed *EmbeddingService, books, playlists []Candidate, bookPolicy, playlistPolicy *Policy, log *logging.Logger) *Selector {
	if log == nil {
		log = logging.Nop()
	}
	return &Selector{
		embed:          embed,
		books:          books,
		playlists:      playlists,
		bookPolicy:     bookPolicy,
		playlistPolicy: playlistPolicy,
		log:            log.With("component", "selector"),
	}
}

func (s *Selector) Playlists() []Candidate { return s.playlists }

func (s *Selector) admits(p *Policy, prefs Preferences) bool {
	if p == nil {
		return false
	}
	ok, err := p.UseLearned(prefs)
	if err != nil {
		s.log.Warn("selection policy failed", "policy", p.String(), "err", err)
		return false
	}
	return ok
}

// SelectPlaylist returns the learned top playlist when the policy admits prefs, otherwise
// the playlist whose description best matches "{emotion} {situation}".
func (s *Selector) SelectPlaylist(ctx context.Context, emotion, situation string, prefs Preferences) (Selection, error) {
	if s.admits(s.playlistPolicy, prefs) {
		for _, c := range prefs.Playlists {
			if s.knownPlaylist(c.ID) {
				return Selection{Choice: c.ID, Confidence: prefs.Confidence, Method: SelectionLearned}, nil
			}
		}
	}
	ranked, err := s.rankCandidates(ctx, s.playlists, strings.TrimSpace(emotion+" "+situation))
	if err != nil {
		return Selection{}, err
	}
	if len(ranked) == 0 {
		return Selection{}, E(KindConfiguration, "select playlist", errors.New("no playlist candidates"))
	}
	return Selection{Choice: ranked[0].ID, Confidence: ranked[0].Score, Method: SelectionAI}, nil
}

// SelectBooks returns up to two learned books when the policy admits prefs. Otherwise it
// ranks book descriptions against the query, drops those at or below the relevance floor
// and keeps at most topK.
func (s *Selector) SelectBooks(ctx context.Context, emotion, situation string, topK int, prefs Preferences) ([]BookScore, string, error) {
	if s.admits(s.bookPolicy, prefs) {
		var out []BookScore
		for _, c := range prefs.Books {
			if c.ID == noBook || !s.knownBook(c.ID) {
				continue
			}
			out = append(out, BookScore{BookID: c.ID, Score: c.Score})
			if len(out) == 2 {
				break
			}
		}
		if len(out) > 0 {
			return out, SelectionLearned, nil
		}
	}

	query := strings.TrimSpace(emotion + " " + guidanceTerms + " " + situation)
	ranked, err := s.rankCandidates(ctx, s.books, query)
	if err != nil {
		return nil, SelectionAI, err
	}
	out := make([]BookScore, 0, topK)
	for _, r := range ranked {
		if r.Score <= BookRelevanceFloor {
			continue
		}
		if len(out) >= topK {
			break
		}
		out = append(out, BookScore{BookID: r.ID, Score: r.Score})
	}
	return out, SelectionAI, nil
}

type candidateScore struct {
	ID    string
	Score float64
}

func (s *Selector) rankCandidates(ctx context.Context, cands []Candidate, query string) ([]candidateScore, error) {
	if len(cands) == 0 {
		return nil, nil
	}
	descs := make([]string, len(cands))
	for i, c := range cands {
		descs[i] = c.Description
	}
	vecs, err := s.embed.EmbedStatic(ctx, descs)
	if err != nil {
		return nil, err
	}
	qv, err := s.embed.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]candidateScore, len(cands))
	for i, c := range cands {
		out[i] = candidateScore{ID: c.ID, Score: Similarity(qv, vecs[i])}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

func (s *Selector) knownBook(id string) bool {
	for _, b := range s.books {
		if b.ID == id {
			return true
		}
	}
	return false
}

func (s *Selector) knownPlaylist(id string) bool {
	for _, p := range s.playlists {
		if p.ID == id {
			return true
		}
	}
	return false
}
