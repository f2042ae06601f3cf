package ragdex

import (
	"context"
	"fmt"
	"time"

	"github.com/kailas-cloud/ragdex/internal/app"
	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/repository/cache"
	"github.com/kailas-cloud/ragdex/internal/usecase/ask"
)

const defaultReadinessTimeout = 10 * time.Second

// Client is the ragdex SDK entry point.
type Client struct {
	app *app.App
}

// New validates the options, connects to Redis and wires the pipeline.
func New(opts ...Option) (*Client, error) {
	cc, err := buildConfig(opts...)
	if err != nil {
		return nil, err
	}

	a, err := app.Build(context.Background(), cc.cfg, cc.logger, app.Options{
		ReadinessTimeout: cc.readinessTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("ragdex: %w", err)
	}
	return &Client{app: a}, nil
}

func buildConfig(opts ...Option) (*clientConfig, error) {
	cc := newClientConfig()
	for _, o := range opts {
		o.apply(cc)
	}
	cc.cfg.ApplyDefaults()
	if err := cc.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("ragdex: %w: %w", domain.ErrInvalidConfig, err)
	}
	return cc, nil
}

// Close releases all resources.
func (c *Client) Close() {
	if c.app != nil {
		c.app.Close()
	}
}

// Ask answers one question. Collaborator failures degrade the response
// instead of failing; only invalid requests, unknown providers and
// cancellation return an error.
func (c *Client) Ask(ctx context.Context, question string, opts ...AskOption) (Response, error) {
	resp, err := c.app.Ask.Ask(ctx, askRequest(question, opts))
	if err != nil {
		return Response{}, fmt.Errorf("ask: %w", err)
	}
	return resp, nil
}

// AskStream answers one question as a stream of events. The channel closes
// after the done or error event, or when ctx is cancelled.
func (c *Client) AskStream(ctx context.Context, question string, opts ...AskOption) (<-chan Event, error) {
	in, err := c.app.Ask.AskStream(ctx, askRequest(question, opts))
	if err != nil {
		return nil, fmt.Errorf("ask stream: %w", err)
	}
	out := make(chan Event, cap(in))
	go func() {
		defer close(out)
		for e := range in {
			select {
			case out <- eventFromInternal(e):
			case <-ctx.Done():
				for range in {
				}
				return
			}
		}
	}()
	return out, nil
}

// Health runs the component checks and returns the aggregated status
// ("ok", "degraded" or "error") with each component's result.
func (c *Client) Health(ctx context.Context) (string, map[string]string) {
	report := c.app.Health.Check(ctx)
	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}
	return string(report.Status), checks
}

// FlushCache drops every entry of a cache namespace ("full-response",
// "rerank", ...) and returns how many Redis keys were removed.
func (c *Client) FlushCache(ctx context.Context, namespace string) (int, error) {
	ns, err := cache.ParseNamespace(namespace)
	if err != nil {
		return 0, fmt.Errorf("flush cache: %w", err)
	}
	if c.app.Cache == nil {
		return 0, nil
	}
	n, err := c.app.Cache.InvalidateNamespace(ctx, ns)
	if err != nil {
		return n, fmt.Errorf("flush cache: %w", err)
	}
	return n, nil
}

// Providers lists the registered generator providers.
func (c *Client) Providers() []string {
	return c.app.Generators.Names()
}

func askRequest(question string, opts []AskOption) ask.Request {
	var o askOptions
	for _, fn := range opts {
		fn(&o)
	}
	return ask.Request{
		Question:    question,
		Provider:    o.provider,
		Model:       o.model,
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
		TopK:        o.topK,
	}
}
