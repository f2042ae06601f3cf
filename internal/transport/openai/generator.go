package openai

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/metrics"
)

// BaseURLs are the chat endpoints of the supported OpenAI-compatible providers.
var BaseURLs = map[string]string{
	"openai":   "https://api.openai.com/v1",
	"mistral":  "https://api.mistral.ai/v1",
	"deepseek": "https://api.deepseek.com/v1",
	"groq":     "https://api.groq.com/openai/v1",
}

// GeneratorConfig holds one chat provider's settings.
type GeneratorConfig struct {
	Provider string
	APIKey   string
	// BaseURL overrides BaseURLs[Provider].
	BaseURL string
	Model   string
}

// Generator answers prompts through the chat completions API.
type Generator struct {
	client   *openai.Client
	provider string
	model    string
	logger   *zap.Logger
}

// NewGenerator creates a chat generator.
func NewGenerator(cfg GeneratorConfig, logger *zap.Logger) (*Generator, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = BaseURLs[cfg.Provider]
	}
	if baseURL == "" {
		return nil, fmt.Errorf("provider %q needs a base_url: %w", cfg.Provider, domain.ErrInvalidConfig)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = baseURL
	return &Generator{
		client:   openai.NewClientWithConfig(clientCfg),
		provider: cfg.Provider,
		model:    cfg.Model,
		logger:   logger,
	}, nil
}

// Provider returns the provider name.
func (g *Generator) Provider() string { return g.provider }

func (g *Generator) request(prompt string, opts domain.GenerateOptions) openai.ChatCompletionRequest {
	model := opts.Model
	if model == "" {
		model = g.model
	}
	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if opts.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: opts.SystemPrompt})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})
	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: float32(opts.Temperature),
		MaxTokens:   opts.MaxTokens,
	}
}

// Generate implements domain.Generator.
func (g *Generator) Generate(ctx context.Context, prompt string, opts domain.GenerateOptions) (domain.Generation, error) {
	req := g.request(prompt, opts)

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		metrics.ProviderRequestsTotal.WithLabelValues(metrics.KindGeneration, g.provider, req.Model, "error").Inc()
		return domain.Generation{}, apiError(g.provider, err, domain.ErrGeneratorUnavailable)
	}
	if len(resp.Choices) == 0 {
		metrics.ProviderRequestsTotal.WithLabelValues(metrics.KindGeneration, g.provider, req.Model, "error").Inc()
		return domain.Generation{}, fmt.Errorf("%s: empty completion: %w", g.provider, domain.ErrGeneratorUnavailable)
	}

	metrics.ProviderRequestsTotal.WithLabelValues(metrics.KindGeneration, g.provider, req.Model, "success").Inc()
	metrics.AddTokens(metrics.KindGeneration, g.provider, req.Model, "prompt", int(resp.Usage.PromptTokens))
	metrics.AddTokens(metrics.KindGeneration, g.provider, req.Model, "completion", int(resp.Usage.CompletionTokens))

	model := resp.Model
	if model == "" {
		model = req.Model
	}
	return domain.Generation{
		Text:             resp.Choices[0].Message.Content,
		Provider:         g.provider,
		Model:            model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// Stream implements domain.Generator. Opening errors are returned directly;
// later failures arrive as the final chunk.
func (g *Generator) Stream(ctx context.Context, prompt string, opts domain.GenerateOptions) (<-chan domain.Chunk, error) {
	req := g.request(prompt, opts)

	stream, err := g.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		metrics.ProviderRequestsTotal.WithLabelValues(metrics.KindGeneration, g.provider, req.Model, "error").Inc()
		return nil, apiError(g.provider, err, domain.ErrGeneratorUnavailable)
	}

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
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				metrics.ProviderRequestsTotal.WithLabelValues(metrics.KindGeneration, g.provider, req.Model, "success").Inc()
				send(domain.Chunk{Done: true})
				return
			}
			if err != nil {
				metrics.ProviderRequestsTotal.WithLabelValues(metrics.KindGeneration, g.provider, req.Model, "error").Inc()
				g.logger.Warn("Chat stream failed", zap.String("provider", g.provider), zap.Error(err))
				send(domain.Chunk{Err: apiError(g.provider, err, domain.ErrGeneratorUnavailable), Done: true})
				return
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}
			if !send(domain.Chunk{Text: resp.Choices[0].Delta.Content}) {
				return
			}
		}
	}()
	return out, nil
}

// HealthCheck verifies API availability via ListModels.
func (g *Generator) HealthCheck(ctx context.Context) error {
	if _, err := g.client.ListModels(ctx); err != nil {
		return fmt.Errorf("%s list models: %w", g.provider, err)
	}
	return nil
}
