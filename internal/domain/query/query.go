// Package query holds the immutable query value and its text normalization.
package query

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Query is a user question with its normalized form and fingerprint.
type Query struct {
	raw         string
	normalized  string
	fingerprint string
}

// New creates a Query. params take part in the fingerprint (provider, top_k, ...).
func New(raw string, params ...string) Query {
	normalized := Normalize(raw)
	return Query{
		raw:         raw,
		normalized:  normalized,
		fingerprint: Fingerprint(append([]string{normalized}, params...)...),
	}
}

// Raw returns the text as received.
func (q Query) Raw() string { return q.raw }

// Normalized returns the case-folded, accent- and punctuation-free text.
func (q Query) Normalized() string { return q.normalized }

// Fingerprint returns the stable hash of the normalized text and parameters.
func (q Query) Fingerprint() string { return q.fingerprint }

// IsEmpty reports whether nothing survives normalization.
func (q Query) IsEmpty() bool { return q.normalized == "" }

var folder = cases.Fold()

// Normalize case-folds s, strips accents and punctuation, and collapses whitespace.
func Normalize(s string) string {
	folded := folder.String(s)

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, folded)
	if err != nil {
		stripped = folded
	}

	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range stripped {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// Fingerprint hashes parts with a unit separator so ("ab","c") != ("a","bc").
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0x1f})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
