package search

import (
	"slices"

	"github.com/kailas-cloud/ragdex/internal/domain/retrieval"
)

// DefaultAlpha weights the dense modality in the fused score.
const DefaultAlpha = 0.7

// Normalize min-max scales hit scores into [0,1] keyed by document id.
// A document listed twice keeps its best raw score. When every score is
// equal (including a single hit) each document gets 1.0.
func Normalize(hits []retrieval.Hit) map[string]float64 {
	if len(hits) == 0 {
		return nil
	}

	best := make(map[string]float64, len(hits))
	for _, h := range hits {
		if cur, ok := best[h.ID]; !ok || h.Score > cur {
			best[h.ID] = h.Score
		}
	}

	lo, hi := 0.0, 0.0
	first := true
	for _, s := range best {
		if first {
			lo, hi = s, s
			first = false
			continue
		}
		lo = min(lo, s)
		hi = max(hi, s)
	}

	out := make(map[string]float64, len(best))
	span := hi - lo
	for id, s := range best {
		if span == 0 {
			out[id] = 1.0
			continue
		}
		out[id] = (s - lo) / span
	}
	return out
}

// Fuse combines one variant's dense and sparse hits:
// fused = alpha*dense + (1-alpha)*sparse over normalized scores, with a
// missing modality contributing 0. Output is sorted by fused desc, then id.
func Fuse(variantID int, dense, sparse []retrieval.Hit, alpha float64) []retrieval.Document {
	dn := Normalize(dense)
	sn := Normalize(sparse)
	if len(dn) == 0 && len(sn) == 0 {
		return nil
	}

	docs := make(map[string]*retrieval.Document, len(dn)+len(sn))
	add := func(h retrieval.Hit, modality retrieval.Modality) {
		d, ok := docs[h.ID]
		if !ok {
			d = &retrieval.Document{ID: h.ID, OriginVariants: []int{variantID}}
			docs[h.ID] = d
		}
		if d.Content == "" {
			d.Content = h.Content
		}
		if d.Metadata == nil && len(h.Metadata) > 0 {
			d.Metadata = h.Metadata
		}
		switch modality {
		case retrieval.Dense:
			d.DenseScore = maxScore(d.DenseScore, h.Score)
		case retrieval.Sparse:
			d.SparseScore = maxScore(d.SparseScore, h.Score)
		}
	}
	for _, h := range dense {
		add(h, retrieval.Dense)
	}
	for _, h := range sparse {
		add(h, retrieval.Sparse)
	}

	out := make([]retrieval.Document, 0, len(docs))
	for id, d := range docs {
		d.FusedScore = clamp01(alpha*dn[id] + (1-alpha)*sn[id])
		d.HybridMatch = d.DenseScore != nil && d.SparseScore != nil
		out = append(out, d.Clone())
	}
	SortByFused(out)
	return out
}

// SortByFused orders documents by fused score desc, then id asc.
func SortByFused(docs []retrieval.Document) {
	slices.SortFunc(docs, func(a, b retrieval.Document) int {
		switch {
		case a.FusedScore > b.FusedScore:
			return -1
		case a.FusedScore < b.FusedScore:
			return 1
		}
		return compareIDs(a.ID, b.ID)
	})
}

func compareIDs(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func maxScore(cur *float64, v float64) *float64 {
	if cur == nil || v > *cur {
		return retrieval.Float(v)
	}
	return cur
}

func clamp01(v float64) float64 {
	return min(1, max(0, v))
}
