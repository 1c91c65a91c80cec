package assistant

import (
	"strings"
	"unicode"
)

var complexityIndicators = map[string][]string{
	"multiple":    {"and", "but", "also", "yet", "however"},
	"intensity":   {"very", "extremely", "really", "so", "quite"},
	"uncertainty": {"maybe", "perhaps", "kind of", "sort of", "not sure"},
	"temporal":    {"today", "lately", "recently", "always", "never"},
	"social":      {"people", "others", "friends", "family", "work"},
}

// Complexity is the outcome of the situation-complexity heuristic.
type Complexity struct {
	Score  float64        `json:"score"`
	Tokens int            `json:"tokens"`
	Counts map[string]int `json:"counts"`
	High   bool           `json:"high"`
}

// BookCount is how many books a situation of this complexity gets.
func (c Complexity) BookCount() int {
	if c.High {
		return 3
	}
	return 1
}

// AnalyzeComplexity counts, per indicator list, how many of its phrases appear in text
// as whole words, and normalizes the total by the whitespace token count. A phrase
// counts once however often it repeats.
func AnalyzeComplexity(text string) Complexity {
	words := tokenize(text)
	c := Complexity{Tokens: len(strings.Fields(text)), Counts: make(map[string]int, len(complexityIndicators))}
	total := 0
	for name, phrases := range complexityIndicators {
		n := 0
		for _, ph := range phrases {
			if containsPhrase(words, strings.Fields(ph)) {
				n++
			}
		}
		c.Counts[name] = n
		total += n
	}
	if c.Tokens > 0 {
		c.Score = float64(total) / float64(c.Tokens)
	}
	c.High = c.Score > 0.1 || c.Tokens > 10 || c.Counts["multiple"] > 0
	return c
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
}

func containsPhrase(words, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(words) {
		return false
	}
	for i := 0; i+len(phrase) <= len(words); i++ {
		match := true
		for j := range phrase {
			if words[i+j] != phrase[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
