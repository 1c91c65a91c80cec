package assistant

import "testing"

func TestPolicy_DefaultThreshold(t *testing.T) {
	t.Parallel()

	p, err := NewPolicy(DefaultBookPolicy, DefaultLearnedThreshold)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	books := []RankedChoice{{ID: "analects", Score: 3}}
	cases := []struct {
		prefs Preferences
		want  bool
	}{
		{Preferences{Confidence: 0.29, Books: books}, false},
		{Preferences{Confidence: 0.3, Books: books}, true},
		{Preferences{Confidence: 1, Books: books}, true},
		{Preferences{Confidence: 1}, false},
	}
	for _, tc := range cases {
		got, err := p.UseLearned(tc.prefs)
		if err != nil {
			t.Fatalf("UseLearned: %v", err)
		}
		if got != tc.want {
			t.Fatalf("UseLearned(conf=%v books=%d)=%v, want %v", tc.prefs.Confidence, len(tc.prefs.Books), got, tc.want)
		}
	}
}

func TestPolicy_CustomExpression(t *testing.T) {
	t.Parallel()

	p, err := NewPolicy(`emotion != "anger" && confidence > 0.5`, 0)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	if ok, _ := p.UseLearned(Preferences{Emotion: "anger", Confidence: 0.9}); ok {
		t.Fatalf("anger should be excluded")
	}
	if ok, _ := p.UseLearned(Preferences{Emotion: "joy", Confidence: 0.9}); !ok {
		t.Fatalf("joy should be admitted")
	}
}

func TestPolicy_RejectsBadExpressions(t *testing.T) {
	t.Parallel()

	for _, expr := range []string{"confidence +", "confidence", "unknown_var > 1"} {
		if _, err := NewPolicy(expr, 0.3); !IsKind(err, KindConfiguration) {
			t.Fatalf("NewPolicy(%q) err=%v, want configuration", expr, err)
		}
	}
}
