package assistant

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog is the static domain data: which books exist, which playlists can be played,
// and the emotion profiles the classifier scores against.
type Catalog struct {
	Books          []Candidate      `yaml:"books"`
	Playlists      []Candidate      `yaml:"playlists"`
	Emotions       []EmotionProfile `yaml:"emotions"`
	DefaultEmotion string           `yaml:"default_emotion"`
}

// DefaultCatalog returns the built-in catalog. Book paths are relative to corpusDir.
func DefaultCatalog(corpusDir string) Catalog {
	book := func(id, desc string) Candidate {
		return Candidate{ID: id, Description: desc, Path: filepath.Join(corpusDir, id+".json")}
	}
	return Catalog{
		Books: []Candidate{
			book("analects", "practical wisdom social harmony relationships ethics moral guidance"),
			book("iching", "change transformation cycles balance cosmic wisdom divination"),
			book("mencius", "human nature goodness moral cultivation benevolence righteousness"),
			book("tao_te_ching", "natural flow simplicity wu wei balance harmony effortless action"),
			book("positive_psy", "happiness wellbeing strengths resilience optimism flourishing"),
			book("social_psy", "social behavior relationships groups influence psychology research"),
		},
		Playlists: []Candidate{
			{ID: "surrealism", Description: "upbeat energetic happy joyful celebratory positive vibrant", URI: "spotify:playlist:37i9dQZF1DXdPec7aLTmlC"},
			{ID: "legacy", Description: "deep contemplative profound meaningful introspective thoughtful", URI: "spotify:playlist:37i9dQZF1DWUZ5bk6qqDSy"},
			{ID: "reflection", Description: "sad melancholic sorrowful reflective processing healing", URI: "spotify:playlist:37i9dQZF1DWVrtsSlLKzro"},
			{ID: "memory", Description: "nostalgic reminiscent sentimental past memories longing", URI: "spotify:playlist:37i9dQZF1DX3YSRoSdA634"},
			{ID: "mindfulness", Description: "calm peaceful serene tranquil meditative relaxing", URI: "spotify:playlist:37i9dQZF1DWVV27DiNWxkR"},
			{ID: "resilience", Description: "strong overcoming challenges stress relief empowering", URI: "spotify:playlist:37i9dQZF1DX8Uebhn9wzrS"},
		},
		Emotions:       DefaultEmotionProfiles(),
		DefaultEmotion: "calm",
	}
}

func DefaultEmotionProfiles() []EmotionProfile {
	return []EmotionProfile{
		{
			Label:       "joy",
			Keywords:    []string{"happy", "joyful", "excited", "thrilled", "elated", "cheerful", "delighted", "euphoric"},
			Description: "positive high-energy emotions characterized by happiness, excitement, and celebration",
			Markers:     []string{"achievement", "success", "social_connection", "positive_events"},
		},
		{
			Label:       "sadness",
			Keywords:    []string{"sad", "depressed", "melancholy", "sorrowful", "gloomy", "downcast", "dejected"},
			Description: "low-energy emotions involving loss, disappointment, or grief",
			Markers:     []string{"loss", "rejection", "failure", "separation", "disappointment"},
		},
		{
			Label:       "anxiety",
			Keywords:    []string{"anxious", "worried", "nervous", "stressed", "fearful", "apprehensive", "tense"},
			Description: "future-focused emotions involving worry, fear, and anticipation of threat",
			Markers:     []string{"uncertainty", "threat", "performance", "future_events", "unknown_outcomes"},
		},
		{
			Label:       "anger",
			Keywords:    []string{"angry", "furious", "frustrated", "irritated", "annoyed", "enraged", "livid"},
			Description: "high-energy emotions involving frustration, injustice, or obstruction",
			Markers:     []string{"injustice", "obstruction", "disrespect", "violation", "blocked_goals"},
		},
		{
			Label:       "calm",
			Keywords:    []string{"calm", "peaceful", "serene", "tranquil", "relaxed", "composed", "centered"},
			Description: "balanced emotions characterized by peace, stability, and inner harmony",
			Markers:     []string{"acceptance", "resolution", "mindfulness", "balance", "clarity"},
		},
		{
			Label:       "confusion",
			Keywords:    []string{"confused", "uncertain", "lost", "unclear", "bewildered", "perplexed"},
			Description: "cognitive-emotional state involving uncertainty and lack of clarity",
			Markers:     []string{"ambiguity", "complexity", "decision_making", "unclear_path"},
		},
		{
			Label:       "gratitude",
			Keywords:    []string{"grateful", "thankful", "appreciative", "blessed", "content"},
			Description: "positive emotions focused on appreciation and recognition of benefits",
			Markers:     []string{"recognition", "appreciation", "social_support", "positive_reflection"},
		},
		{
			Label:       "loneliness",
			Keywords:    []string{"lonely", "isolated", "alone", "disconnected", "solitary"},
			Description: "social-emotional state involving lack of connection and belonging",
			Markers:     []string{"social_isolation", "disconnection", "lack_of_belonging", "social_needs"},
		},
	}
}

// EmbeddingText is the text a profile is embedded as: keywords, description, then markers.
func (p EmotionProfile) EmbeddingText() string {
	return strings.Join(p.Keywords, " ") + " " + p.Description + " " + strings.Join(p.Markers, " ")
}

// LoadCatalog reads a YAML catalog. Sections left empty fall back to DefaultCatalog(corpusDir).
// Relative book paths resolve against corpusDir.
func LoadCatalog(path, corpusDir string) (Catalog, error) {
	def := DefaultCatalog(corpusDir)
	if path == "" {
		return def, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("LoadCatalog: read file: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Catalog{}, fmt.Errorf("LoadCatalog: unmarshal: %w", err)
	}
	if len(c.Books) == 0 {
		c.Books = def.Books
	}
	for i := range c.Books {
		if c.Books[i].Path == "" {
			c.Books[i].Path = c.Books[i].ID + ".json"
		}
		if !filepath.IsAbs(c.Books[i].Path) && !strings.HasPrefix(c.Books[i].Path, corpusDir) {
			c.Books[i].Path = filepath.Join(corpusDir, c.Books[i].Path)
		}
	}
	if len(c.Playlists) == 0 {
		c.Playlists = def.Playlists
	}
	if len(c.Emotions) == 0 {
		c.Emotions = def.Emotions
	}
	if c.DefaultEmotion == "" {
		c.DefaultEmotion = def.DefaultEmotion
	}
	if err := c.Validate(); err != nil {
		return Catalog{}, fmt.Errorf("LoadCatalog: %w", err)
	}
	return c, nil
}

func (c Catalog) Validate() error {
	if len(c.Emotions) == 0 {
		return errors.New("catalog has no emotion profiles")
	}
	if len(c.Playlists) == 0 {
		return errors.New("catalog has no playlists")
	}
	seen := map[string]struct{}{}
	for _, b := range c.Books {
		if b.ID == "" {
			return errors.New("catalog book with empty id")
		}
		if _, ok := seen["book:"+b.ID]; ok {
			return fmt.Errorf("duplicate book id %q", b.ID)
		}
		seen["book:"+b.ID] = struct{}{}
	}
	for _, p := range c.Playlists {
		if p.ID == "" {
			return errors.New("catalog playlist with empty id")
		}
		if _, ok := seen["playlist:"+p.ID]; ok {
			return fmt.Errorf("duplicate playlist id %q", p.ID)
		}
		seen["playlist:"+p.ID] = struct{}{}
	}
	for _, e := range c.Emotions {
		if strings.TrimSpace(e.Label) == "" {
			return errors.New("catalog emotion with empty label")
		}
	}
	return nil
}

// Playlist looks up a playlist candidate by id.
func (c Catalog) Playlist(id string) (Candidate, bool) {
	for _, p := range c.Playlists {
		if p.ID == id {
			return p, true
		}
	}
	return Candidate{}, false
}
