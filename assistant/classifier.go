package assistant

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/theimaginaryfoundation/jarvis/assistant/fileutils"
	"github.com/theimaginaryfoundation/jarvis/logging"
	"github.com/theimaginaryfoundation/jarvis/metrics"
)

const (
	MethodHybridLLM        = "hybrid_llm"
	MethodSemanticFallback = "semantic_fallback"
)

// EmotionAnalysis is the JSON shape the generative classifier is asked to return.
// Confidence is left untyped because models return it as a number or a string.
type EmotionAnalysis struct {
	PrimaryEmotion          string   `json:"primary_emotion" jsonschema:"description=Main emotion from the list of categories"`
	Confidence              any      `json:"confidence" jsonschema:"type=number,description=Confidence between 0.0 and 1.0"`
	SecondaryEmotions       []string `json:"secondary_emotions" jsonschema:"description=Other relevant emotions"`
	EmotionalIntensity      string   `json:"emotional_intensity" jsonschema:"enum=low,enum=medium,enum=high"`
	EmotionalComplexity     string   `json:"emotional_complexity" jsonschema:"enum=simple,enum=moderate,enum=complex"`
	PsychologicalIndicators []string `json:"psychological_indicators" jsonschema:"description=Psychological markers present in the text"`
	Reasoning               string   `json:"reasoning" jsonschema:"description=Brief explanation of the classification"`
}

type EmotionScore struct {
	Emotion string  `json:"emotion"`
	Score   float64 `json:"score"`
}

// Classification is the classifier's decision. It is always populated, even when
// the generative path failed.
type Classification struct {
	PrimaryEmotion  string           `json:"primary_emotion"`
	Confidence      float64          `json:"confidence"`
	Method          string           `json:"method"`
	SemanticScores  []EmotionScore   `json:"semantic_scores,omitempty"`
	Analysis        *EmotionAnalysis `json:"analysis,omitempty"`
	GenerativeError string           `json:"generative_error,omitempty"`
}

// Classifier combines embedding similarity against emotion profiles with a
// generative-model classification, preferring the latter when it parses.
type Classifier struct {
	embed          *EmbeddingService
	lm             Completer
	profiles       []EmotionProfile
	defaultEmotion string
	timeout        time.Duration
	log            *logging.Logger
}

type ClassifierOptions struct {
	DefaultEmotion string
	// Timeout bounds the generative call. Zero means no extra bound beyond ctx.
	Timeout time.Duration
}

// NewClassifier builds a classifier. lm may be nil, in which case only the semantic path runs.
func NewClassifier(embed *EmbeddingService, lm Completer, profiles []EmotionProfile, opts ClassifierOptions, log *logging.Logger) *Classifier {
	if log == nil {
		log = logging.Nop()
	}
	def := opts.DefaultEmotion
	if def == "" && len(profiles) > 0 {
		def = profiles[0].Label
	}
	return &Classifier{
		embed:          embed,
		lm:             lm,
		profiles:       profiles,
		defaultEmotion: def,
		timeout:        opts.Timeout,
		log:            log.With("component", "classifier"),
	}
}

func (c *Classifier) Labels() []string {
	out := make([]string, len(c.profiles))
	for i, p := range c.profiles {
		out[i] = p.Label
	}
	return out
}

// Classify returns the primary emotion of text. The only error it returns is an
// embedding failure; generative failures fall back to the semantic result.
func (c *Classifier) Classify(ctx context.Context, text string) (Classification, error) {
	if strings.TrimSpace(text) == "" {
		metrics.ClassifierMethod.WithLabelValues(MethodSemanticFallback).Inc()
		return Classification{PrimaryEmotion: c.defaultEmotion, Confidence: 0, Method: MethodSemanticFallback}, nil
	}

	scores, err := c.Semantic(ctx, text)
	if err != nil {
		return Classification{}, err
	}
	semantic := Classification{Method: MethodSemanticFallback, SemanticScores: scores}
	if len(scores) > 0 {
		semantic.PrimaryEmotion = scores[0].Emotion
		semantic.Confidence = scores[0].Score
	} else {
		semantic.PrimaryEmotion = c.defaultEmotion
	}

	res := Attempt(KindClassification, "generative classify", func() (*EmotionAnalysis, error) {
		return c.generative(ctx, text)
	})
	analysis, genErr := res.OrElse(func(*Error) *EmotionAnalysis { return nil })
	if genErr != nil {
		c.log.Warn("generative classification failed, using semantic result", "err", genErr)
		metrics.CollaboratorFailures.WithLabelValues(string(KindClassification)).Inc()
		metrics.ClassifierMethod.WithLabelValues(MethodSemanticFallback).Inc()
		semantic.GenerativeError = genErr.Error()
		return semantic, nil
	}

	metrics.ClassifierMethod.WithLabelValues(MethodHybridLLM).Inc()
	return Classification{
		PrimaryEmotion: strings.ToLower(strings.TrimSpace(analysis.PrimaryEmotion)),
		Confidence:     CoerceConfidence(analysis.Confidence),
		Method:         MethodHybridLLM,
		SemanticScores: scores,
		Analysis:       analysis,
	}, nil
}

// Semantic ranks every profile by similarity to text, best first.
func (c *Classifier) Semantic(ctx context.Context, text string) ([]EmotionScore, error) {
	profileTexts := make([]string, len(c.profiles))
	for i, p := range c.profiles {
		profileTexts[i] = p.EmbeddingText()
	}
	profileVecs, err := c.embed.EmbedStatic(ctx, profileTexts)
	if err != nil {
		return nil, err
	}
	tv, err := c.embed.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	scores := make([]EmotionScore, len(c.profiles))
	for i, p := range c.profiles {
		scores[i] = EmotionScore{Emotion: p.Label, Score: Similarity(tv, profileVecs[i])}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	return scores, nil
}

func (c *Classifier) generative(ctx context.Context, text string) (*EmotionAnalysis, error) {
	if c.lm == nil {
		return nil, ErrNotConfigured
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	out, err := c.lm.Complete(ctx, c.prompt(text))
	if err != nil {
		return nil, err
	}
	var a EmotionAnalysis
	if err := fileutils.DecodeModelJSON(out, &a); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	if strings.TrimSpace(a.PrimaryEmotion) == "" {
		return nil, errors.New("analysis has no primary_emotion")
	}
	return &a, nil
}

func (c *Classifier) prompt(text string) string {
	var b strings.Builder
	b.WriteString("You are a clinical psychologist specializing in emotion classification.\n\n")
	fmt.Fprintf(&b, "Analyze this emotional expression: %q\n\n", text)
	b.WriteString("Available emotion categories:\n")
	for _, p := range c.profiles {
		fmt.Fprintf(&b, "- %s: %s\n", p.Label, p.Description)
	}
	b.WriteString(`
Provide a detailed analysis in JSON format:

{
    "primary_emotion": "main emotion from the list above",
    "confidence": 0.0-1.0 confidence score,
    "secondary_emotions": ["list of other relevant emotions"],
    "emotional_intensity": "low/medium/high",
    "emotional_complexity": "simple/moderate/complex",
    "psychological_indicators": ["list of psychological markers present"],
    "reasoning": "brief explanation of classification"
}

Focus on psychological accuracy and nuance. Respond ONLY with valid JSON.`)
	return b.String()
}

// CoerceConfidence turns a model-reported confidence into [0,1].
// Numbers and numeric strings are accepted; anything else is 0.5.
func CoerceConfidence(v any) float64 {
	const fallback = 0.5
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return fallback
		}
		f = parsed
	default:
		return fallback
	}
	if math.IsNaN(f) {
		return fallback
	}
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
