package ask

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/usecase/rerank"
)

const (
	// DefaultNoResultsMessage is returned when no modality found a document.
	DefaultNoResultsMessage = "Aucun document pertinent trouvé pour votre question."
	// DefaultDegradedMessage is returned when retrieval worked but generation failed.
	DefaultDegradedMessage = "Le service de génération est momentanément indisponible. Voici les sources les plus pertinentes pour votre question."

	maxTopK        = 50
	maxTemperature = 2.0
)

// Config holds the validated orchestration parameters.
type Config struct {
	DefaultProvider string
	// Models maps every configured provider to its default model.
	Models           map[string]string
	Temperature      float64
	MaxTokens        int
	TopK             int
	Beta             float64
	GeneratorTimeout time.Duration
	NoResultsMessage string
	DegradedMessage  string
}

// DefaultConfig returns the production defaults for a single provider.
func DefaultConfig(provider, model string) Config {
	return Config{
		DefaultProvider:  provider,
		Models:           map[string]string{provider: model},
		Temperature:      0.3,
		MaxTokens:        512,
		TopK:             5,
		Beta:             rerank.DefaultBeta,
		GeneratorTimeout: 30 * time.Second,
		NoResultsMessage: DefaultNoResultsMessage,
		DegradedMessage:  DefaultDegradedMessage,
	}
}

// Request is one question with optional per-request overrides.
type Request struct {
	Question    string
	Provider    string
	Model       string
	Temperature *float64
	MaxTokens   *int
	TopK        int
}

// params are the resolved request parameters.
type params struct {
	question    string
	provider    string
	model       string
	temperature float64
	maxTokens   int
	topK        int
}

// fingerprint lists what, besides the question, makes two answers differ.
func (p params) fingerprint() []string {
	return []string{
		p.provider,
		p.model,
		strconv.Itoa(p.topK),
		strconv.FormatFloat(p.temperature, 'f', -1, 64),
		strconv.Itoa(p.maxTokens),
	}
}

func (c Config) resolve(req Request) (params, error) {
	p := params{
		question:    strings.TrimSpace(req.Question),
		provider:    strings.ToLower(strings.TrimSpace(req.Provider)),
		model:       strings.TrimSpace(req.Model),
		temperature: c.Temperature,
		maxTokens:   c.MaxTokens,
		topK:        c.TopK,
	}

	if p.question == "" {
		return params{}, fmt.Errorf("question is required: %w", domain.ErrInvalidRequest)
	}
	if p.provider == "" {
		p.provider = c.DefaultProvider
	}
	defModel, ok := c.Models[p.provider]
	if !ok {
		return params{}, fmt.Errorf("%q: %w", p.provider, domain.ErrUnknownProvider)
	}
	if p.model == "" {
		p.model = defModel
	}
	if req.Temperature != nil {
		if *req.Temperature < 0 || *req.Temperature > maxTemperature {
			return params{}, fmt.Errorf("temperature must be between 0 and %g: %w", maxTemperature, domain.ErrInvalidRequest)
		}
		p.temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		if *req.MaxTokens <= 0 {
			return params{}, fmt.Errorf("max_tokens must be positive: %w", domain.ErrInvalidRequest)
		}
		p.maxTokens = *req.MaxTokens
	}
	switch {
	case req.TopK < 0 || req.TopK > maxTopK:
		return params{}, fmt.Errorf("top_k must be between 1 and %d: %w", maxTopK, domain.ErrInvalidRequest)
	case req.TopK > 0:
		p.topK = req.TopK
	}
	return p, nil
}
