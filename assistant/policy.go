package assistant

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

const (
	DefaultLearnedThreshold = 0.3

	DefaultBookPolicy     = "confidence >= threshold && book_count > 0"
	DefaultPlaylistPolicy = "confidence >= threshold && playlist_count > 0"
)

// Policy decides whether learned preferences override semantic selection.
// The expression sees emotion, confidence, threshold, book_count and playlist_count.
type Policy struct {
	expr      string
	threshold float64
	prg       cel.Program
}

func NewPolicy(expr string, threshold float64) (*Policy, error) {
	env, err := cel.NewEnv(
		cel.Variable("emotion", cel.StringType),
		cel.Variable("confidence", cel.DoubleType),
		cel.Variable("threshold", cel.DoubleType),
		cel.Variable("book_count", cel.IntType),
		cel.Variable("playlist_count", cel.IntType),
	)
	if err != nil {
		return nil, E(KindConfiguration, "policy", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, E(KindConfiguration, "policy", fmt.Errorf("compile %q: %w", expr, issues.Err()))
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, E(KindConfiguration, "policy", fmt.Errorf("expression %q must return bool, got %v", expr, ast.OutputType()))
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, E(KindConfiguration, "policy", fmt.Errorf("program %q: %w", expr, err))
	}
	return &Policy{expr: expr, threshold: threshold, prg: prg}, nil
}

func (p *Policy) String() string { return p.expr }

// UseLearned evaluates the policy for prefs. Evaluation errors count as "no".
func (p *Policy) UseLearned(prefs Preferences) (bool, error) {
	out, _, err := p.prg.Eval(map[string]any{
		"emotion":        prefs.Emotion,
		"confidence":     prefs.Confidence,
		"threshold":      p.threshold,
		"book_count":     int64(len(prefs.Books)),
		"playlist_count": int64(len(prefs.Playlists)),
	})
	if err != nil {
		return false, fmt.Errorf("eval policy %q: %w", p.expr, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy %q returned %T", p.expr, out.Value())
	}
	return b, nil
}
