// Package anthropic generates answers with the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/metrics"
)

const (
	// Provider is the registry name of this generator.
	Provider = "anthropic"

	defaultMaxTokens = 1024
)

// Config holds the Anthropic settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Generator answers prompts with Claude models.
type Generator struct {
	client anthropic.Client
	model  string
	logger *zap.Logger
}

// NewGenerator creates an Anthropic generator. The SDK's own retries are
// disabled; the resilience executor owns retry policy.
func NewGenerator(cfg Config, logger *zap.Logger) *Generator {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Generator{
		client: anthropic.NewClient(opts...),
		model:  cfg.Model,
		logger: logger,
	}
}

// Provider returns the provider name.
func (g *Generator) Provider() string { return Provider }

func (g *Generator) params(prompt string, opts domain.GenerateOptions) anthropic.MessageNewParams {
	model := opts.Model
	if model == "" {
		model = g.model
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	p := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(opts.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if opts.SystemPrompt != "" {
		p.System = []anthropic.TextBlockParam{{Text: opts.SystemPrompt}}
	}
	return p
}

// Generate implements domain.Generator.
func (g *Generator) Generate(ctx context.Context, prompt string, opts domain.GenerateOptions) (domain.Generation, error) {
	p := g.params(prompt, opts)
	model := string(p.Model)

	msg, err := g.client.Messages.New(ctx, p)
	if err != nil {
		metrics.ProviderRequestsTotal.WithLabelValues(metrics.KindGeneration, Provider, model, "error").Inc()
		return domain.Generation{}, mapError(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(b.Text)
		}
	}

	metrics.ProviderRequestsTotal.WithLabelValues(metrics.KindGeneration, Provider, model, "success").Inc()
	metrics.AddTokens(metrics.KindGeneration, Provider, model, "prompt", int(msg.Usage.InputTokens))
	metrics.AddTokens(metrics.KindGeneration, Provider, model, "completion", int(msg.Usage.OutputTokens))

	if msg.Model != "" {
		model = string(msg.Model)
	}
	return domain.Generation{
		Text:             sb.String(),
		Provider:         Provider,
		Model:            model,
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
	}, nil
}

// Stream implements domain.Generator. The SDK opens the connection lazily,
// so every failure, including the first request, arrives as the final chunk.
func (g *Generator) Stream(ctx context.Context, prompt string, opts domain.GenerateOptions) (<-chan domain.Chunk, error) {
	p := g.params(prompt, opts)
	model := string(p.Model)
	stream := g.client.Messages.NewStreaming(ctx, p)

	out := make(chan domain.Chunk, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		send := func(c domain.Chunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for stream.Next() {
			ev, ok := stream.Current().AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			delta, ok := ev.Delta.AsAny().(anthropic.TextDelta)
			if !ok || delta.Text == "" {
				continue
			}
			if !send(domain.Chunk{Text: delta.Text}) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			metrics.ProviderRequestsTotal.WithLabelValues(metrics.KindGeneration, Provider, model, "error").Inc()
			g.logger.Warn("Anthropic stream failed", zap.Error(err))
			send(domain.Chunk{Err: mapError(err), Done: true})
			return
		}
		metrics.ProviderRequestsTotal.WithLabelValues(metrics.KindGeneration, Provider, model, "success").Inc()
		send(domain.Chunk{Done: true})
	}()
	return out, nil
}

func mapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return domain.NewStatusError(Provider, apiErr.StatusCode, fmt.Errorf("%w: %w", domain.ErrGeneratorUnavailable, err))
	}
	return fmt.Errorf("anthropic request failed: %w: %w", domain.ErrGeneratorUnavailable, err)
}
