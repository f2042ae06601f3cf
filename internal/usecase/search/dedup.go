package search

import (
	"github.com/kailas-cloud/ragdex/internal/domain/retrieval"
)

// DefaultHybridBoost multiplies the fused score of documents found by both modalities.
const DefaultHybridBoost = 1.1

// Dedup merges per-variant fused lists into one list of unique documents.
//
// For each id it keeps the highest fused score (with that document's content),
// unions origin variants and keeps the best raw score per modality. Documents
// retrieved by both modalities within one variant get the hybrid boost once,
// capped at 1.0. Dedup of its own output returns the same list.
func Dedup(lists [][]retrieval.Document, boost float64) []retrieval.Document {
	byID := make(map[string]*retrieval.Document)
	order := make([]string, 0)

	for _, list := range lists {
		for i := range list {
			in := &list[i]
			cur, ok := byID[in.ID]
			if !ok {
				d := in.Clone()
				byID[in.ID] = &d
				order = append(order, in.ID)
				continue
			}
			merge(cur, in)
		}
	}

	out := make([]retrieval.Document, 0, len(order))
	for _, id := range order {
		d := byID[id]
		if d.HybridMatch && !d.Boosted && boost > 1 {
			d.FusedScore = min(1.0, d.FusedScore*boost)
			d.Boosted = true
		}
		out = append(out, *d)
	}
	SortByFused(out)
	return out
}

func merge(cur, in *retrieval.Document) {
	if in.FusedScore > cur.FusedScore {
		cur.FusedScore = in.FusedScore
		cur.Boosted = in.Boosted
		if in.Content != "" {
			cur.Content = in.Content
		}
		if len(in.Metadata) > 0 {
			cur.Metadata = in.Clone().Metadata
		}
	}
	if in.DenseScore != nil {
		cur.DenseScore = maxScore(cur.DenseScore, *in.DenseScore)
	}
	if in.SparseScore != nil {
		cur.SparseScore = maxScore(cur.SparseScore, *in.SparseScore)
	}
	if cur.RerankScore == nil && in.RerankScore != nil {
		v := *in.RerankScore
		cur.RerankScore = &v
	}
	cur.HybridMatch = cur.HybridMatch || in.HybridMatch
	cur.AddOrigins(in.OriginVariants...)
}
