package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NoSourcesResponse is used when retrieval found nothing to ground a response in.
func NoSourcesResponse(emotion string) string {
	return fmt.Sprintf("I understand you're feeling %s. While I don't have specific philosophical guidance for your exact situation, your emotions are valid and seeking support shows wisdom.", emotion)
}

// GenerationFallbackResponse is used when the language model could not produce a response.
func GenerationFallbackResponse(emotion string) string {
	return fmt.Sprintf("I understand you're experiencing %s. The wisdom traditions offer guidance, though I'm having difficulty accessing specific quotes right now. Your feelings are valid and seeking wisdom shows strength.", emotion)
}

// Composer writes the supportive response from retrieved passages.
type Composer struct {
	lm      Completer
	timeout time.Duration
	perBook int
}

func NewComposer(lm Completer, timeout time.Duration) *Composer {
	return &Composer{lm: lm, timeout: timeout, perBook: 2}
}

// GroupByBook keeps the first-seen order of books and passages.
func GroupByBook(sources []ScoredPassage) ([]string, map[string][]ScoredPassage) {
	var order []string
	byBook := map[string][]ScoredPassage{}
	for _, s := range sources {
		if _, ok := byBook[s.BookID]; !ok {
			order = append(order, s.BookID)
		}
		byBook[s.BookID] = append(byBook[s.BookID], s)
	}
	return order, byBook
}

func (c *Composer) Prompt(text, emotion string, sources []ScoredPassage) string {
	order, byBook := GroupByBook(sources)
	var ctxb strings.Builder
	for _, book := range order {
		fmt.Fprintf(&ctxb, "\n=== %s ===\n", strings.ToUpper(strings.ReplaceAll(book, "_", " ")))
		for i, s := range byBook[book] {
			if i >= c.perBook {
				break
			}
			fmt.Fprintf(&ctxb, "%d. %q - %s\n", i+1, s.SourceText, s.TranslationText)
		}
	}

	return fmt.Sprintf(`You are a wise, compassionate counselor. Someone is feeling %s and shared: "%s"

Here is relevant wisdom from multiple philosophical traditions:
%s
Please provide a thoughtful, empathetic response that:
1. Acknowledges their %s feelings with understanding
2. Weaves together insights from the different traditions above
3. Quotes or references the specific passages that are most relevant
4. Offers practical guidance they can apply to their situation
5. Ends with encouragement and hope

Keep the response warm, personal, and under 250 words.`, emotion, text, ctxb.String(), emotion)
}

// Compose returns the response text. With no sources the model is not called.
// On generation failure the fallback text is returned together with the error.
func (c *Composer) Compose(ctx context.Context, text, emotion string, sources []ScoredPassage) (string, *Error) {
	if len(sources) == 0 {
		return NoSourcesResponse(emotion), nil
	}
	res := Attempt(KindGeneration, "compose response", func() (string, error) {
		if c.lm == nil {
			return "", ErrNotConfigured
		}
		cctx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		out, err := c.lm.Complete(cctx, c.Prompt(text, emotion, sources))
		if err != nil {
			return "", err
		}
		out = strings.TrimSpace(out)
		if out == "" {
			return "", errors.New("empty completion")
		}
		return out, nil
	})
	return res.OrElse(func(*Error) string { return GenerationFallbackResponse(emotion) })
}
