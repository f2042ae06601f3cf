// Package qdrant is the alternative dense retriever backed by a Qdrant collection.
package qdrant

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/qdrant/go-client/qdrant"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/domain/retrieval"
)

const defaultPort = 6334

// points is the consumer interface over the Qdrant client (ISP).
type points interface {
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
}

// Embedder vectorizes the variant text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// Config names the collection and its payload layout.
type Config struct {
	Collection string
	// VectorName selects a named vector; empty uses the default vector.
	VectorName string
	// IDField is the payload field holding the document id. When empty or
	// missing the point id is used.
	IDField      string
	ContentField string
}

// Dense embeds the text and queries the collection. Scores are whatever the
// collection's distance yields (cosine similarity by default).
type Dense struct {
	points points
	embed  Embedder
	cfg    Config
}

// NewDense creates a Qdrant dense retriever.
func NewDense(p points, e Embedder, cfg Config) *Dense {
	if cfg.ContentField == "" {
		cfg.ContentField = "content"
	}
	return &Dense{points: p, embed: e, cfg: cfg}
}

// Retrieve returns up to topK nearest points for text.
func (d *Dense) Retrieve(ctx context.Context, text string, topK int) ([]retrieval.Hit, error) {
	emb, err := d.embed.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("vectorize query: %w", err)
	}

	req := &qdrant.QueryPoints{
		CollectionName: d.cfg.Collection,
		Query:          qdrant.NewQuery(emb.Embedding...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if d.cfg.VectorName != "" {
		req.Using = qdrant.PtrOf(d.cfg.VectorName)
	}

	res, err := d.points.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant query %s: %w: %w", d.cfg.Collection, domain.ErrRetrieverUnavailable, err)
	}

	hits := make([]retrieval.Hit, 0, len(res))
	for _, p := range res {
		hits = append(hits, d.toHit(p))
	}
	return hits, nil
}

func (d *Dense) toHit(p *qdrant.ScoredPoint) retrieval.Hit {
	hit := retrieval.Hit{ID: pointID(p.GetId()), Score: float64(p.GetScore())}
	for k, v := range p.GetPayload() {
		switch k {
		case d.cfg.ContentField:
			hit.Content = v.GetStringValue()
		case d.cfg.IDField:
			if s := stringify(v); s != "" {
				hit.ID = s
			}
		default:
			if hit.Metadata == nil {
				hit.Metadata = make(map[string]string)
			}
			hit.Metadata[k] = stringify(v)
		}
	}
	return hit
}

func pointID(id *qdrant.PointId) string {
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

// stringify renders scalar payload values; structured values are dropped.
func stringify(v *qdrant.Value) string {
	switch k := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_IntegerValue:
		return strconv.FormatInt(k.IntegerValue, 10)
	case *qdrant.Value_DoubleValue:
		return strconv.FormatFloat(k.DoubleValue, 'f', -1, 64)
	case *qdrant.Value_BoolValue:
		return strconv.FormatBool(k.BoolValue)
	default:
		return ""
	}
}

// ClientConfig is the gRPC connection setting.
type ClientConfig struct {
	// Addr is host:port; the port defaults to 6334.
	Addr   string
	APIKey string
	UseTLS bool
}

// NewClient dials Qdrant over gRPC.
func NewClient(cfg ClientConfig) (*qdrant.Client, error) {
	host, portStr, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		host, portStr = cfg.Addr, strconv.Itoa(defaultPort)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant addr %q: %w", cfg.Addr, domain.ErrInvalidConfig)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	return client, nil
}
