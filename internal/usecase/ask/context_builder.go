package ask

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/kailas-cloud/ragdex/internal/domain/retrieval"
)

// DefaultEncoding is the tiktoken encoding used to count context tokens.
const DefaultEncoding = "cl100k_base"

const promptTemplate = `Vous êtes un assistant expert qui répond aux questions en utilisant uniquement le contexte fourni.

CONTEXTE:
%s

QUESTION: %s

INSTRUCTIONS:
1. Répondez uniquement en utilisant les informations du contexte fourni
2. Si vous ne trouvez pas d'informations pertinentes, dites-le clairement
3. Citez les sources en utilisant "Source X" quand approprié
4. Soyez précis et concis
5. Si plusieurs sources contiennent des informations complémentaires, synthétisez-les

RÉPONSE:`

// TokenCounter returns the number of tokens in s.
type TokenCounter func(s string) int

// TiktokenCounter counts with a tiktoken encoding.
// Loading the encoding may fetch its BPE ranks on first use.
func TiktokenCounter(encoding string) (TokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %s: %w", encoding, err)
	}
	return func(s string) int { return len(enc.Encode(s, nil, nil)) }, nil
}

// ApproxCounter estimates four characters per token.
func ApproxCounter(s string) int {
	return (utf8.RuneCountInString(s) + 3) / 4
}

// ContextBuilder assembles "Source i: content" blocks under a token budget.
type ContextBuilder struct {
	count     TokenCounter
	maxTokens int
}

// NewContextBuilder creates a builder. A nil counter uses ApproxCounter;
// maxTokens <= 0 disables the budget.
func NewContextBuilder(count TokenCounter, maxTokens int) *ContextBuilder {
	if count == nil {
		count = ApproxCounter
	}
	return &ContextBuilder{count: count, maxTokens: maxTokens}
}

// Build returns the context text and how many leading docs it holds. The
// first document is always included, truncated when it alone exceeds the
// budget; later documents are included only whole.
func (b *ContextBuilder) Build(docs []retrieval.Document) (string, int) {
	const sep = "\n\n"

	var (
		sb    strings.Builder
		used  int
		spent int
	)
	for i := range docs {
		block := fmt.Sprintf("Source %d: %s", i+1, docs[i].Content)
		cost := b.count(block)
		if i > 0 {
			cost += b.count(sep)
		}

		if b.maxTokens > 0 && spent+cost > b.maxTokens {
			if i > 0 {
				break
			}
			block = b.truncate(block, b.maxTokens)
			cost = b.count(block)
		}

		if i > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(block)
		spent += cost
		used++
	}
	return sb.String(), used
}

// truncate shortens s until it fits in limit tokens.
func (b *ContextBuilder) truncate(s string, limit int) string {
	r := []rune(s)
	for len(r) > 0 && b.count(string(r)) > limit {
		// shrink proportionally, at least one rune per step
		next := len(r) * limit / max(1, b.count(string(r)))
		if next >= len(r) {
			next = len(r) - 1
		}
		r = r[:next]
	}
	return string(r)
}

// Prompt wraps the context and question in the answer prompt.
func Prompt(contextText, question string) string {
	return fmt.Sprintf(promptTemplate, contextText, question)
}
