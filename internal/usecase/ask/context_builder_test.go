package ask

import (
	"strings"
	"testing"

	"github.com/kailas-cloud/ragdex/internal/domain/retrieval"
)

func docs(contents ...string) []retrieval.Document {
	out := make([]retrieval.Document, len(contents))
	for i, c := range contents {
		out[i] = retrieval.Document{ID: string(rune('a' + i)), Content: c}
	}
	return out
}

// words counts whitespace separated words.
func words(s string) int { return len(strings.Fields(s)) }

func TestContextBuilder_Format(t *testing.T) {
	b := NewContextBuilder(nil, 0)
	text, used := b.Build(docs("premier", "second"))
	if used != 2 {
		t.Fatalf("used = %d", used)
	}
	if want := "Source 1: premier\n\nSource 2: second"; text != want {
		t.Errorf("text = %q, want %q", text, want)
	}
}

func TestContextBuilder_Budget(t *testing.T) {
	tests := []struct {
		name     string
		contents []string
		budget   int
		wantUsed int
	}{
		{"all fit", []string{"un deux", "trois"}, 100, 2},
		{"second dropped whole", []string{"un deux trois", "quatre cinq six sept"}, 6, 1},
		{"later small doc not skipped to", []string{"un deux", "trois quatre cinq six sept huit", "neuf"}, 6, 1},
		{"empty input", nil, 10, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := NewContextBuilder(words, tc.budget)
			text, used := b.Build(docs(tc.contents...))
			if used != tc.wantUsed {
				t.Errorf("used = %d, want %d (%q)", used, tc.wantUsed, text)
			}
			if words(text) > tc.budget {
				t.Errorf("context has %d tokens, budget %d", words(text), tc.budget)
			}
		})
	}
}

func TestContextBuilder_FirstDocTruncated(t *testing.T) {
	b := NewContextBuilder(words, 5)
	text, used := b.Build(docs("un deux trois quatre cinq six sept huit", "neuf"))
	if used != 1 {
		t.Fatalf("used = %d, want first document only", used)
	}
	if !strings.HasPrefix(text, "Source 1: un") {
		t.Errorf("text = %q", text)
	}
	if words(text) > 5 {
		t.Errorf("truncated context has %d tokens", words(text))
	}
}

func TestContextBuilder_ApproxCounter(t *testing.T) {
	if got := ApproxCounter(""); got != 0 {
		t.Errorf("ApproxCounter(\"\") = %d", got)
	}
	if got := ApproxCounter("abcde"); got != 2 {
		t.Errorf("ApproxCounter(abcde) = %d", got)
	}
	// runes, not bytes
	if got := ApproxCounter("éééé"); got != 1 {
		t.Errorf("ApproxCounter(éééé) = %d", got)
	}
}

func TestPrompt(t *testing.T) {
	p := Prompt("Source 1: texte", "Ma question ?")
	for _, want := range []string{"CONTEXTE:\nSource 1: texte", "QUESTION: Ma question ?", "RÉPONSE:"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q:\n%s", want, p)
		}
	}
}
