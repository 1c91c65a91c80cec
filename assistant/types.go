package assistant

import (
	"context"
	"time"
)

// PassageKind tags the structural origin of a passage.
type PassageKind string

const (
	PassageQuote    PassageKind = "quote"
	PassageConcept  PassageKind = "concept"
	PassageChapter  PassageKind = "chapter"
	PassageHexagram PassageKind = "hexagram"
)

// Passage is one normalized unit of retrievable corpus text.
type Passage struct {
	Text            string      `json:"text"`
	SourceText      string      `json:"source_text"`
	TranslationText string      `json:"translation_text"`
	BookID          string      `json:"book_id"`
	Kind            PassageKind `json:"kind"`
	Chapter         string      `json:"chapter,omitempty"`
	Category        string      `json:"category,omitempty"`
}

type ScoredPassage struct {
	Passage
	Score float64 `json:"score"`
}

// EmotionProfile is a static descriptor used only as an embedding target.
type EmotionProfile struct {
	Label       string   `yaml:"label" json:"label"`
	Keywords    []string `yaml:"keywords" json:"keywords"`
	Description string   `yaml:"description" json:"description"`
	Markers     []string `yaml:"markers" json:"markers"`
}

// Candidate is a selectable book or playlist with the short description it is matched on.
type Candidate struct {
	ID          string `yaml:"id" json:"id"`
	Description string `yaml:"description" json:"description"`
	// URI is the playback context for playlists; Path is the source document for books.
	URI  string `yaml:"uri,omitempty" json:"uri,omitempty"`
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// InteractionRecord is the durable log entry written once per completed pipeline run.
type InteractionRecord struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	UserInput   string    `json:"user_input"`
	Emotion     string    `json:"emotion"`
	Confidence  float64   `json:"confidence"`
	Method      string    `json:"method,omitempty"`
	Books       []string  `json:"books,omitempty"`
	Playlist    string    `json:"playlist"`
	MusicStatus string    `json:"music_status"`
	SessionID   string    `json:"session_id,omitempty"`
}

// PrimaryBook is the book credited for the interaction, or "none".
func (r InteractionRecord) PrimaryBook() string {
	if len(r.Books) == 0 || r.Books[0] == "" {
		return noBook
	}
	return r.Books[0]
}

const noBook = "none"

// Embedder turns texts into dense vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// Completer sends a prompt to a generative model and returns its raw text.
// Deadlines come from ctx.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type Device struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type,omitempty"`
	Active bool   `json:"is_active"`
}

type Track struct {
	URI    string `json:"uri"`
	Name   string `json:"name"`
	Artist string `json:"artist,omitempty"`
}

// PlaybackTarget is either a playlist context or an explicit list of tracks.
type PlaybackTarget struct {
	PlaylistURI string
	TrackURIs   []string
	Shuffle     bool
}

// Player is the music playback provider.
type Player interface {
	Devices(ctx context.Context) ([]Device, error)
	Play(ctx context.Context, deviceID string, target PlaybackTarget) error
	Search(ctx context.Context, query, kind string, limit int) ([]Track, error)
}

// InteractionLog is the append-only durable sink. ReadAll returns records by timestamp ascending.
type InteractionLog interface {
	Append(ctx context.Context, rec InteractionRecord) error
	ReadAll(ctx context.Context) ([]InteractionRecord, error)
}

// IndexCache persists corpus index snapshots. Load returns ErrCacheMiss when nothing is stored.
type IndexCache interface {
	Load(ctx context.Context) (*IndexSnapshot, error)
	Save(ctx context.Context, snap *IndexSnapshot) error
}

// ChoiceKind separates the book and playlist namespaces of the preference table.
type ChoiceKind string

const (
	ChoiceBook     ChoiceKind = "book"
	ChoicePlaylist ChoiceKind = "playlist"
)

// PreferenceStore persists the derived preference table.
// Load returns ErrPreferencesMissing when no table has been stored yet.
type PreferenceStore interface {
	Load(ctx context.Context) (*PreferenceTable, error)
	Replace(ctx context.Context, table *PreferenceTable) error
	Increment(ctx context.Context, emotion string, kind ChoiceKind, id string, delta float64) error
}
