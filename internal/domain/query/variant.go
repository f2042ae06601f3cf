package query

// Origin tells whether a variant is the user's text or a generated rephrasing.
type Origin string

const (
	// OriginOriginal marks the user's own query.
	OriginOriginal Origin = "original"
	// OriginGenerated marks a rephrasing produced by the enhancer.
	OriginGenerated Origin = "generated"
)

// Variant is one query phrasing fed to retrieval. ID is its position in the variant list.
type Variant struct {
	ID     int
	Query  Query
	Origin Origin
}

// Text returns the raw text sent to the retrievers.
func (v Variant) Text() string { return v.Query.Raw() }

// BuildVariants puts original first, then generated texts in order, dropping
// empty ones and any whose normalized form was already seen.
func BuildVariants(original Query, generated []string) []Variant {
	out := make([]Variant, 0, len(generated)+1)
	out = append(out, Variant{ID: 0, Query: original, Origin: OriginOriginal})

	seen := map[string]struct{}{original.Normalized(): {}}
	for _, text := range generated {
		q := New(text)
		if q.IsEmpty() {
			continue
		}
		if _, dup := seen[q.Normalized()]; dup {
			continue
		}
		seen[q.Normalized()] = struct{}{}
		out = append(out, Variant{ID: len(out), Query: q, Origin: OriginGenerated})
	}
	return out
}

// Texts returns the raw texts of vs in order.
func Texts(vs []Variant) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Text()
	}
	return out
}
