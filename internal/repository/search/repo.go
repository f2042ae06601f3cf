// Package search adapts the Redis FT.SEARCH store into dense and sparse retrievers.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/kailas-cloud/ragdex/internal/db"
	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/domain/retrieval"
)

// store is the consumer interface for search operations (ISP).
type store interface {
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchBM25(ctx context.Context, q *db.TextQuery) (*db.SearchResult, error)
}

// Embedder vectorizes the variant text for KNN.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// Config names the index and the document hash layout.
type Config struct {
	IndexName string
	// KeyPrefix is stripped from hash keys to get document ids.
	KeyPrefix    string
	VectorField  string
	ContentField string
	// Language is passed to FT.SEARCH so query terms stem like the indexed text.
	Language string
}

func (c Config) withDefaults() Config {
	if c.VectorField == "" {
		c.VectorField = "vector"
	}
	if c.ContentField == "" {
		c.ContentField = "content"
	}
	return c
}

// Dense embeds the text and runs a KNN search. Scores are cosine similarities.
type Dense struct {
	store store
	embed Embedder
	cfg   Config
}

// NewDense creates a dense retriever.
func NewDense(s store, e Embedder, cfg Config) *Dense {
	return &Dense{store: s, embed: e, cfg: cfg.withDefaults()}
}

// Retrieve returns up to topK nearest documents for text.
func (d *Dense) Retrieve(ctx context.Context, text string, topK int) ([]retrieval.Hit, error) {
	emb, err := d.embed.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("vectorize query: %w", err)
	}

	sr, err := d.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:   d.cfg.IndexName,
		VectorField: d.cfg.VectorField,
		Vector:      emb.Embedding,
		K:           topK,
	})
	if err != nil {
		return nil, fmt.Errorf("search knn %s: %w", d.cfg.IndexName, err)
	}
	return toHits(sr, d.cfg), nil
}

// Sparse runs a BM25 search over the content field. Scores are raw BM25.
type Sparse struct {
	store store
	cfg   Config
}

// NewSparse creates a sparse retriever.
func NewSparse(s store, cfg Config) *Sparse {
	return &Sparse{store: s, cfg: cfg.withDefaults()}
}

// Retrieve returns up to topK lexical matches for text.
func (s *Sparse) Retrieve(ctx context.Context, text string, topK int) ([]retrieval.Hit, error) {
	sr, err := s.store.SearchBM25(ctx, &db.TextQuery{
		IndexName: s.cfg.IndexName,
		TextField: s.cfg.ContentField,
		Query:     text,
		Language:  s.cfg.Language,
		TopK:      topK,
	})
	if err != nil {
		return nil, fmt.Errorf("search bm25 %s: %w", s.cfg.IndexName, err)
	}
	return toHits(sr, s.cfg), nil
}

// toHits converts hash entries: the content field becomes Content, the vector
// field is dropped, everything else is metadata.
func toHits(sr *db.SearchResult, cfg Config) []retrieval.Hit {
	if sr == nil || len(sr.Entries) == 0 {
		return nil
	}

	hits := make([]retrieval.Hit, 0, len(sr.Entries))
	for _, entry := range sr.Entries {
		hit := retrieval.Hit{
			ID:    strings.TrimPrefix(entry.Key, cfg.KeyPrefix),
			Score: entry.Score,
		}
		for k, v := range entry.Fields {
			switch k {
			case cfg.ContentField:
				hit.Content = v
			case cfg.VectorField:
			default:
				if hit.Metadata == nil {
					hit.Metadata = make(map[string]string)
				}
				hit.Metadata[k] = v
			}
		}
		hits = append(hits, hit)
	}
	return hits
}
