package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/theimaginaryfoundation/jarvis/logging"
	"github.com/theimaginaryfoundation/jarvis/metrics"
)

// Stage names the pipeline checkpoints in the order they are reached.
type Stage string

const (
	StageStart             Stage = "start"
	StageClassified        Stage = "classified"
	StageRetrieved         Stage = "retrieved"
	StageSelected          Stage = "selected"
	StageResponseComposed  Stage = "response_composed"
	StagePlaybackAttempted Stage = "playback_attempted"
	StageLogged            Stage = "logged"
	StageDone              Stage = "done"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

type Request struct {
	Text      string `json:"text" validate:"required,max=4000"`
	SessionID string `json:"session_id,omitempty" validate:"max=128"`
}

type PhilosophyResult struct {
	Response        string          `json:"response"`
	BooksReferenced []string        `json:"books_referenced"`
	SourcesCount    int             `json:"sources_count"`
	SelectionMethod string          `json:"selection_method"`
	Sources         []ScoredPassage `json:"sources,omitempty"`
	Error           string          `json:"error,omitempty"`
}

type MusicResult struct {
	Playlist        string  `json:"playlist"`
	PlaylistURI     string  `json:"playlist_uri,omitempty"`
	Device          string  `json:"device,omitempty"`
	Status          string  `json:"status"`
	Message         string  `json:"message"`
	SelectionMethod string  `json:"selection_method"`
	Confidence      float64 `json:"confidence"`
	Error           string  `json:"error,omitempty"`
}

type LearningResult struct {
	LearningConfidence float64 `json:"learning_confidence"`
	ComplexityScore    float64 `json:"complexity_score"`
	ComplexityHigh     bool    `json:"complexity_high"`
	MethodUsed         string  `json:"method_used"`
}

// Response is the result of one pipeline run. Degraded stages are reported in their
// sub-results and in Warnings; Status is "error" only when classification could not run.
type Response struct {
	Status        string           `json:"status"`
	Emotion       string           `json:"emotion,omitempty"`
	Confidence    float64          `json:"confidence"`
	Method        string           `json:"method,omitempty"`
	Philosophy    PhilosophyResult `json:"philosophy"`
	Music         MusicResult      `json:"music"`
	Learning      LearningResult   `json:"learning"`
	Warnings      []string         `json:"warnings,omitempty"`
	Error         string           `json:"error,omitempty"`
	InteractionID string           `json:"interaction_id,omitempty"`
	SessionID     string           `json:"session_id,omitempty"`
	Stages        []Stage          `json:"stages"`
}

// Deps are the services the orchestrator composes. Index, Music and Composer may be nil.
type Deps struct {
	Index      *CorpusIndex
	Classifier *Classifier
	Retriever  *Retriever
	Selector   *Selector
	Composer   *Composer
	Music      *Music
	Learning   *LearningEngine
	Catalog    Catalog
	Log        *logging.Logger

	Now   func() time.Time
	NewID func() string
}

type Options struct {
	// TopK caps retrieved passages. Zero means 5.
	TopK int
}

// Orchestrator runs classify, retrieve, select, compose, play, log and learn as one pipeline.
type Orchestrator struct {
	d    Deps
	opts Options
	log  *logging.Logger

	initMu sync.Mutex
	inited bool
}

func NewOrchestrator(d Deps, opts Options) (*Orchestrator, error) {
	switch {
	case d.Classifier == nil:
		return nil, E(KindConfiguration, "orchestrator", errors.New("classifier is required"))
	case d.Retriever == nil:
		return nil, E(KindConfiguration, "orchestrator", errors.New("retriever is required"))
	case d.Selector == nil:
		return nil, E(KindConfiguration, "orchestrator", errors.New("selector is required"))
	case d.Learning == nil:
		return nil, E(KindConfiguration, "orchestrator", errors.New("learning engine is required"))
	}
	if d.Composer == nil {
		d.Composer = NewComposer(nil, 0)
	}
	if d.Music == nil {
		d.Music = NewMusic(nil, d.Log)
	}
	if d.Log == nil {
		d.Log = logging.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewID == nil {
		d.NewID = func() string { return uuid.NewString() }
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	return &Orchestrator{d: d, opts: opts, log: d.Log.With("component", "orchestrator")}, nil
}

// Init builds the corpus index (from cache when valid) and warms the learned table.
// It runs once; later calls are no-ops. An empty corpus is reported as a warning and
// leaves an empty index, so requests still succeed with the no-sources response.
func (o *Orchestrator) Init(ctx context.Context) ([]string, error) {
	o.initMu.Lock()
	defer o.initMu.Unlock()
	if o.inited {
		return nil, nil
	}
	var warnings []string
	if o.d.Index != nil && !o.d.Index.Built() {
		rep, err := o.d.Index.Build(ctx, false)
		warnings = append(warnings, rep.Warnings...)
		switch {
		case errors.Is(err, ErrEmptyCorpus):
			warnings = append(warnings, "corpus is empty; philosophy responses will fall back")
			o.log.Warn("corpus is empty; philosophy responses will fall back")
		case err != nil:
			return warnings, err
		}
	}
	if _, err := o.d.Learning.Table(ctx); err != nil {
		warnings = append(warnings, fmt.Sprintf("learned preferences unavailable: %v", err))
	}
	o.inited = true
	return warnings, nil
}

// Process runs the full pipeline for one request.
func (o *Orchestrator) Process(ctx context.Context, req Request) (Response, error) {
	resp := Response{SessionID: req.SessionID, Stages: []Stage{StageStart}}
	started := time.Now()
	mark := func(s Stage, at time.Time) {
		resp.Stages = append(resp.Stages, s)
		metrics.ObserveStage(string(s), at)
	}

	warns, err := o.Init(ctx)
	resp.Warnings = append(resp.Warnings, warns...)
	if err != nil {
		return o.systemError(resp, err)
	}

	// Classified
	t := time.Now()
	cls, err := o.d.Classifier.Classify(ctx, req.Text)
	if err != nil {
		return o.systemError(resp, err)
	}
	emotion := cls.PrimaryEmotion
	resp.Emotion, resp.Confidence, resp.Method = emotion, cls.Confidence, cls.Method
	mark(StageClassified, t)

	complexity := AnalyzeComplexity(req.Text)
	prefs, err := o.d.Learning.Preferences(ctx, emotion)
	if err != nil {
		o.warn(&resp, KindPersistence, "learned preferences unavailable", err)
	}

	// Retrieved: book choice steers retrieval, so books are selected first.
	t = time.Now()
	books, bookMethod, err := o.d.Selector.SelectBooks(ctx, emotion, req.Text, complexity.BookCount(), prefs)
	if err != nil {
		o.warn(&resp, KindEmbedding, "book selection failed", err)
	}
	bookIDs := make([]string, 0, len(books))
	for _, b := range books {
		bookIDs = append(bookIDs, b.BookID)
	}
	res := Attempt(KindRetrievalEmpty, "retrieve", func() ([]ScoredPassage, error) {
		return o.d.Retriever.SearchRelevant(ctx, Query{
			Text:    req.Text,
			Emotion: emotion,
			Books:   bookIDs,
			TopK:    o.opts.TopK,
		})
	})
	sources, rerr := res.OrElse(func(*Error) []ScoredPassage { return nil })
	if rerr != nil {
		o.warn(&resp, KindRetrievalEmpty, "retrieval failed", rerr)
	}
	mark(StageRetrieved, t)

	// Selected
	t = time.Now()
	playlist, err := o.d.Selector.SelectPlaylist(ctx, emotion, req.Text, prefs)
	if err != nil {
		o.warn(&resp, KindEmbedding, "playlist selection failed", err)
	}
	sources = prioritizeBooks(sources, bookIDs)
	mark(StageSelected, t)

	// ResponseComposed
	t = time.Now()
	text, genErr := o.d.Composer.Compose(ctx, req.Text, emotion, sources)
	resp.Philosophy = PhilosophyResult{
		Response:        text,
		BooksReferenced: bookIDs,
		SourcesCount:    len(sources),
		SelectionMethod: bookMethod,
		Sources:         sources,
	}
	if genErr != nil {
		resp.Philosophy.Error = genErr.Error()
		metrics.CollaboratorFailures.WithLabelValues(string(KindGeneration)).Inc()
		o.log.Warn("response generation failed, using fallback", "err", genErr)
	}
	mark(StageResponseComposed, t)

	// PlaybackAttempted
	t = time.Now()
	resp.Music = MusicResult{
		Playlist:        playlist.Choice,
		SelectionMethod: playlist.Method,
		Confidence:      playlist.Confidence,
	}
	if cand, ok := o.d.Catalog.Playlist(playlist.Choice); ok {
		resp.Music.PlaylistURI = cand.URI
		pr, perr := o.d.Music.PlayPlaylist(ctx, emotion, cand)
		resp.Music.Status, resp.Music.Device, resp.Music.Message = pr.Status, pr.Device, pr.Message
		if perr != nil {
			resp.Music.Error = perr.Error()
			metrics.CollaboratorFailures.WithLabelValues(string(KindPlayback)).Inc()
		}
	} else {
		resp.Music.Status = PlaybackUnavailable
		resp.Music.Message = "No playlist could be selected."
	}
	mark(StagePlaybackAttempted, t)

	// Logged
	t = time.Now()
	rec := InteractionRecord{
		ID:          o.d.NewID(),
		Timestamp:   o.d.Now().UTC(),
		UserInput:   req.Text,
		Emotion:     normalizeEmotion(emotion),
		Confidence:  cls.Confidence,
		Method:      cls.Method,
		Books:       bookIDs,
		Playlist:    playlist.Choice,
		MusicStatus: resp.Music.Status,
		SessionID:   req.SessionID,
	}
	if err := o.d.Learning.Record(ctx, rec); err != nil {
		o.warn(&resp, KindPersistence, "interaction not fully persisted", err)
	} else {
		resp.InteractionID = rec.ID
	}
	mark(StageLogged, t)

	resp.Learning = LearningResult{
		LearningConfidence: prefs.Confidence,
		ComplexityScore:    complexity.Score,
		ComplexityHigh:     complexity.High,
		MethodUsed:         bookMethod,
	}
	resp.Status = StatusSuccess
	mark(StageDone, started)
	metrics.PipelineRequests.WithLabelValues(StatusSuccess).Inc()
	o.log.Info("interaction processed",
		"emotion", emotion,
		"method", cls.Method,
		"books", strings.Join(bookIDs, ","),
		"playlist", playlist.Choice,
		"music_status", resp.Music.Status,
		"warnings", len(resp.Warnings),
	)
	return resp, nil
}

func (o *Orchestrator) systemError(resp Response, err error) (Response, error) {
	resp.Status = StatusError
	resp.Error = "system error: " + err.Error()
	metrics.PipelineRequests.WithLabelValues(StatusError).Inc()
	o.log.Error("pipeline aborted", "err", err)
	return resp, err
}

func (o *Orchestrator) warn(resp *Response, kind Kind, msg string, err error) {
	resp.Warnings = append(resp.Warnings, fmt.Sprintf("%s: %v", msg, err))
	metrics.CollaboratorFailures.WithLabelValues(string(kind)).Inc()
	o.log.Warn(msg, "err", err)
}

// Classify exposes the classifier on its own.
func (o *Orchestrator) Classify(ctx context.Context, text string) (Classification, error) {
	return o.d.Classifier.Classify(ctx, text)
}

// PlayForEmotion classifies text, selects a playlist and plays it without composing a response.
func (o *Orchestrator) PlayForEmotion(ctx context.Context, text string) (Classification, MusicResult, error) {
	cls, err := o.d.Classifier.Classify(ctx, text)
	if err != nil {
		return Classification{}, MusicResult{}, err
	}
	prefs, _ := o.d.Learning.Preferences(ctx, cls.PrimaryEmotion)
	sel, err := o.d.Selector.SelectPlaylist(ctx, cls.PrimaryEmotion, text, prefs)
	if err != nil {
		return cls, MusicResult{}, err
	}
	mr := MusicResult{Playlist: sel.Choice, SelectionMethod: sel.Method, Confidence: sel.Confidence, Status: PlaybackUnavailable}
	if cand, ok := o.d.Catalog.Playlist(sel.Choice); ok {
		mr.PlaylistURI = cand.URI
		pr, perr := o.d.Music.PlayPlaylist(ctx, cls.PrimaryEmotion, cand)
		mr.Status, mr.Device, mr.Message = pr.Status, pr.Device, pr.Message
		if perr != nil {
			mr.Error = perr.Error()
		}
	}
	return cls, mr, nil
}

// PlaySong searches for a track and plays the first hit.
func (o *Orchestrator) PlaySong(ctx context.Context, query string) (PlaybackResult, error) {
	return o.d.Music.PlayTrack(ctx, query)
}

// CorpusStats reports the installed index, or zero stats when there is none.
func (o *Orchestrator) CorpusStats() CorpusStats {
	if o.d.Index == nil {
		return CorpusStats{ByBook: map[string]int{}, ByKind: map[string]int{}}
	}
	return o.d.Index.Stats()
}

// RebuildLearning replays the interaction log into a fresh preference table.
func (o *Orchestrator) RebuildLearning(ctx context.Context) (*PreferenceTable, error) {
	return o.d.Learning.LearnFromLog(ctx)
}

// Insights summarizes the whole interaction log as of now.
func (o *Orchestrator) Insights(ctx context.Context) (Insights, error) {
	records, err := o.d.Learning.Interactions(ctx)
	if err != nil {
		return Insights{}, E(KindPersistence, "read interactions", err)
	}
	return AnalyzeInteractions(records, o.d.Now()), nil
}

// prioritizeBooks moves passages from the given books to the front, keeping relative order.
func prioritizeBooks(sources []ScoredPassage, books []string) []ScoredPassage {
	if len(books) == 0 || len(sources) == 0 {
		return sources
	}
	want := make(map[string]bool, len(books))
	for _, b := range books {
		want[b] = true
	}
	out := make([]ScoredPassage, 0, len(sources))
	for _, s := range sources {
		if want[s.BookID] {
			out = append(out, s)
		}
	}
	for _, s := range sources {
		if !want[s.BookID] {
			out = append(out, s)
		}
	}
	return out
}
