// Package fulltext is the alternative sparse retriever backed by a local Bleve index.
package fulltext

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	_ "github.com/blevesearch/bleve/v2/analysis/lang/fr" // registers the "fr" analyzer
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/domain/retrieval"
)

// DefaultAnalyzer stems and folds French text.
const DefaultAnalyzer = "fr"

// searcher is the consumer interface over bleve.Index (ISP).
type searcher interface {
	SearchInContext(ctx context.Context, req *bleve.SearchRequest) (*bleve.SearchResult, error)
}

// Config names the indexed fields.
type Config struct {
	ContentField string
	Analyzer     string
}

func (c Config) withDefaults() Config {
	if c.ContentField == "" {
		c.ContentField = "content"
	}
	if c.Analyzer == "" {
		c.Analyzer = DefaultAnalyzer
	}
	return c
}

// Sparse runs a match query over the content field. Scores are raw Bleve
// relevance scores.
type Sparse struct {
	index searcher
	cfg   Config
}

// NewSparse creates a Bleve sparse retriever.
func NewSparse(idx searcher, cfg Config) *Sparse {
	return &Sparse{index: idx, cfg: cfg.withDefaults()}
}

// Retrieve returns up to topK lexical matches for text.
func (s *Sparse) Retrieve(ctx context.Context, text string, topK int) ([]retrieval.Hit, error) {
	q := bleve.NewMatchQuery(text)
	q.SetField(s.cfg.ContentField)
	q.Analyzer = s.cfg.Analyzer

	req := bleve.NewSearchRequestOptions(q, topK, 0, false)
	req.Fields = []string{"*"}

	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w: %w", domain.ErrRetrieverUnavailable, err)
	}
	if res == nil || len(res.Hits) == 0 {
		return nil, nil
	}

	hits := make([]retrieval.Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := retrieval.Hit{ID: h.ID, Score: h.Score}
		for k, v := range h.Fields {
			str, ok := v.(string)
			if !ok {
				str = fmt.Sprint(v)
			}
			if k == s.cfg.ContentField {
				hit.Content = str
				continue
			}
			if hit.Metadata == nil {
				hit.Metadata = make(map[string]string)
			}
			hit.Metadata[k] = str
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// NewMapping indexes contentField with the analyzer and stores every field.
func NewMapping(cfg Config) *mapping.IndexMappingImpl {
	cfg = cfg.withDefaults()

	content := bleve.NewTextFieldMapping()
	content.Analyzer = cfg.Analyzer
	content.Store = true

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt(cfg.ContentField, content)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	m.DefaultAnalyzer = cfg.Analyzer
	return m
}

// Open opens the index at path, creating it with NewMapping when absent.
// An empty path creates an in-memory index.
func Open(path string, cfg Config) (bleve.Index, error) {
	if path == "" {
		idx, err := bleve.NewMemOnly(NewMapping(cfg))
		if err != nil {
			return nil, fmt.Errorf("create in-memory bleve index: %w", err)
		}
		return idx, nil
	}

	idx, err := bleve.Open(path)
	if err == nil {
		return idx, nil
	}
	if err != bleve.ErrorIndexPathDoesNotExist {
		return nil, fmt.Errorf("open bleve index %s: %w", path, err)
	}
	idx, err = bleve.New(path, NewMapping(cfg))
	if err != nil {
		return nil, fmt.Errorf("create bleve index %s: %w", path, err)
	}
	return idx, nil
}

// Document is one indexable passage.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// IndexDocuments writes docs in one batch.
func IndexDocuments(idx bleve.Index, contentField string, docs []Document) error {
	if contentField == "" {
		contentField = "content"
	}
	b := idx.NewBatch()
	for _, d := range docs {
		fields := make(map[string]any, len(d.Metadata)+1)
		for k, v := range d.Metadata {
			fields[k] = v
		}
		fields[contentField] = d.Content
		if err := b.Index(d.ID, fields); err != nil {
			return fmt.Errorf("index %s: %w", d.ID, err)
		}
	}
	if err := idx.Batch(b); err != nil {
		return fmt.Errorf("write bleve batch: %w", err)
	}
	return nil
}
