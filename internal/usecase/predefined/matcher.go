// Package predefined answers curated questions without touching the retrieval pipeline.
package predefined

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strconv"
	"strings"
	"sync"

	dompre "github.com/kailas-cloud/ragdex/internal/domain/predefined"
	"github.com/kailas-cloud/ragdex/internal/domain/query"
)

// DefaultThreshold is the minimum score for a match.
const DefaultThreshold = 0.7

type entry struct {
	answer   dompre.Answer
	question string   // canonical
	keywords []string // canonical, deduplicated
}

// Matcher holds the process-wide predefined answer table.
type Matcher struct {
	threshold float64

	mu      sync.RWMutex
	entries []entry
	digest  string
}

// NewMatcher creates a matcher over answers. threshold <= 0 uses DefaultThreshold.
func NewMatcher(answers []dompre.Answer, threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	m := &Matcher{threshold: threshold}
	for _, a := range answers {
		m.entries = append(m.entries, newEntry(a))
	}
	m.digest = m.hash()
	return m
}

func newEntry(a dompre.Answer) entry {
	kws := make([]string, 0, len(a.Keywords()))
	for _, k := range a.Keywords() {
		if c := canonicalize(k); c != "" && !slices.Contains(kws, c) {
			kws = append(kws, c)
		}
	}
	return entry{answer: a, question: canonicalize(a.Question()), keywords: kws}
}

// Match returns the best entry scoring at or above the threshold.
// Ties go to the higher confidence, then to the earlier entry.
func (m *Matcher) Match(q query.Query) (dompre.Match, bool) {
	if q.IsEmpty() {
		return dompre.Match{}, false
	}
	text := canonicalize(q.Normalized())

	m.mu.RLock()
	defer m.mu.RUnlock()

	best := -1
	bestScore := 0.0
	for i, e := range m.entries {
		s := score(text, e.question, e.keywords)
		if s < m.threshold {
			continue
		}
		if best < 0 || s > bestScore ||
			(s == bestScore && e.answer.Confidence() > m.entries[best].answer.Confidence()) {
			best, bestScore = i, s
		}
	}
	if best < 0 {
		return dompre.Match{}, false
	}
	return dompre.Match{Answer: m.entries[best].answer, Score: bestScore}, true
}

// Add appends a pair and recomputes the table digest.
func (m *Matcher) Add(question, answer string, keywords []string, confidence float64) (dompre.Answer, error) {
	a, err := dompre.New(question, answer, keywords, confidence)
	if err != nil {
		return dompre.Answer{}, err
	}
	e := newEntry(a)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	m.digest = m.hash()
	return a, nil
}

// List returns all entries in insertion order.
func (m *Matcher) List() []dompre.Answer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]dompre.Answer, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.answer
	}
	return out
}

// Stats summarizes the table.
func (m *Matcher) Stats() dompre.Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := dompre.Stats{TotalQuestions: len(m.entries)}
	if len(m.entries) == 0 {
		return st
	}
	var sum float64
	for _, e := range m.entries {
		sum += e.answer.Confidence()
		st.TotalKeywords += len(e.answer.Keywords())
	}
	st.AverageConfidence = sum / float64(len(m.entries))
	return st
}

// SearchByKeyword returns entries whose keywords or question contain kw.
func (m *Matcher) SearchByKeyword(kw string) []dompre.Answer {
	needle := query.Normalize(kw)
	if needle == "" {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []dompre.Answer
	for _, e := range m.entries {
		if strings.Contains(query.Normalize(e.answer.Question()), needle) || keywordContains(e.answer.Keywords(), needle) {
			out = append(out, e.answer)
		}
	}
	return out
}

// Digest identifies the table contents and threshold. Order counts since ties
// go to the earlier entry. Processes holding the same table agree on it.
func (m *Matcher) Digest() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.digest
}

// hash digests the entries in insertion order. Caller holds mu or owns m.
func (m *Matcher) hash() string {
	h := sha256.New()
	h.Write([]byte(strconv.FormatFloat(m.threshold, 'g', -1, 64)))
	for _, e := range m.entries {
		h.Write([]byte{0x1e})
		h.Write([]byte(e.answer.Question()))
		h.Write([]byte{0x1f})
		h.Write([]byte(e.answer.Text()))
		h.Write([]byte{0x1f})
		h.Write([]byte(strings.Join(e.answer.Keywords(), "\x1d")))
		h.Write([]byte{0x1f})
		h.Write([]byte(strconv.FormatFloat(e.answer.Confidence(), 'g', -1, 64)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func keywordContains(keywords []string, needle string) bool {
	for _, k := range keywords {
		if strings.Contains(query.Normalize(k), needle) {
			return true
		}
	}
	return false
}
