// Package retrieval holds the per-request documents that flow through fusion, dedup and rerank.
package retrieval

import "sort"

// Modality identifies the retriever that produced a hit.
type Modality string

const (
	// Dense is vector similarity search.
	Dense Modality = "dense"
	// Sparse is lexical (BM25-style) search.
	Sparse Modality = "sparse"
)

// Hit is one raw result from a retriever, before normalization.
type Hit struct {
	ID       string
	Content  string
	Metadata map[string]string
	Score    float64
}

// Document is a candidate owned by a single pipeline invocation.
//
// DenseScore and SparseScore keep the best raw score seen per modality.
// RerankScore stays nil until the cross-encoder scored the document.
type Document struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`

	DenseScore  *float64 `json:"dense_score,omitempty"`
	SparseScore *float64 `json:"sparse_score,omitempty"`
	FusedScore  float64  `json:"fused_score"`
	RerankScore *float64 `json:"rerank_score,omitempty"`

	// OriginVariants is the sorted set of variant ids that retrieved the document.
	OriginVariants []int `json:"origin_variants"`
	// HybridMatch is set when some variant retrieved the document from both modalities.
	HybridMatch bool `json:"hybrid_match,omitempty"`
	// Boosted is set once the hybrid boost has been applied.
	Boosted bool `json:"boosted,omitempty"`
}

// FinalScore is the score the document is ranked by after reranking.
func (d *Document) FinalScore(beta float64) float64 {
	if d.RerankScore == nil {
		return d.FusedScore
	}
	return beta*d.FusedScore + (1-beta)*(*d.RerankScore)
}

// AddOrigins merges ids into the sorted origin set.
func (d *Document) AddOrigins(ids ...int) {
	for _, id := range ids {
		i := sort.SearchInts(d.OriginVariants, id)
		if i < len(d.OriginVariants) && d.OriginVariants[i] == id {
			continue
		}
		d.OriginVariants = append(d.OriginVariants, 0)
		copy(d.OriginVariants[i+1:], d.OriginVariants[i:])
		d.OriginVariants[i] = id
	}
}

// Clone returns a deep copy so stages never alias each other's documents.
func (d Document) Clone() Document {
	out := d
	out.DenseScore = clonePtr(d.DenseScore)
	out.SparseScore = clonePtr(d.SparseScore)
	out.RerankScore = clonePtr(d.RerankScore)
	out.OriginVariants = append([]int(nil), d.OriginVariants...)
	if d.Metadata != nil {
		out.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// IDs returns the document ids in order.
func IDs(docs []Document) []string {
	out := make([]string, len(docs))
	for i := range docs {
		out[i] = docs[i].ID
	}
	return out
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

func clonePtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
