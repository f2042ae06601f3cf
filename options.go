package ragdex

import (
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/config"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	cfg              config.Config
	logger           *zap.Logger
	readinessTimeout time.Duration
}

func newClientConfig() *clientConfig {
	return &clientConfig{
		cfg: config.Config{
			// The HTTP section is unused in-process but validated.
			HTTP:       config.HTTPConfig{Port: 1},
			Generation: config.GenerationConfig{Providers: map[string]config.ProviderConfig{}},
		},
		logger:           zap.NewNop(),
		readinessTimeout: defaultReadinessTimeout,
	}
}

// WithRedis connects to a Redis or Valkey instance with the search module.
func WithRedis(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Database.Addrs = []string{addr}
		c.cfg.Database.Password = password
	})
}

// WithStandalone disables cluster topology discovery.
func WithStandalone() Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Database.Standalone = true
	})
}

// WithEmbeddings sets the OpenAI-compatible embedding endpoint. An empty
// baseURL uses api.openai.com.
func WithEmbeddings(baseURL, apiKey, model string, dimensions int) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Embedding.BaseURL = baseURL
		c.cfg.Embedding.APIKey = apiKey
		c.cfg.Embedding.Model = model
		c.cfg.Embedding.Dimensions = dimensions
	})
}

// WithQueryInstruction prefixes every embedded question, as instruction-tuned
// embedding models expect.
func WithQueryInstruction(instruction string) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Embedding.QueryInstruction = instruction
	})
}

// WithGenerator registers an answer generator. Provider is one of openai,
// mistral, deepseek, groq or anthropic. The first registered provider is the
// default unless WithDefaultProvider says otherwise.
func WithGenerator(provider, apiKey, model string) Option {
	return optionFunc(func(c *clientConfig) {
		if c.cfg.Generation.DefaultProvider == "" {
			c.cfg.Generation.DefaultProvider = provider
		}
		c.cfg.Generation.Providers[provider] = config.ProviderConfig{APIKey: apiKey, Model: model}
	})
}

// WithGeneratorBaseURL points a registered provider at another endpoint.
func WithGeneratorBaseURL(provider, baseURL string) Option {
	return optionFunc(func(c *clientConfig) {
		p := c.cfg.Generation.Providers[provider]
		p.BaseURL = baseURL
		c.cfg.Generation.Providers[provider] = p
	})
}

// WithDefaultProvider selects the provider used when a question names none.
func WithDefaultProvider(provider string) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Generation.DefaultProvider = provider
	})
}

// WithCrossEncoder enables reranking through a cross-encoder endpoint.
func WithCrossEncoder(url, model string) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Rerank.URL = url
		c.cfg.Rerank.Model = model
	})
}

// WithIndex names the Redis search index and the document hash prefix.
func WithIndex(name, documentPrefix string) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Retrieval.IndexName = name
		c.cfg.Retrieval.DocumentPrefix = documentPrefix
	})
}

// WithQdrant retrieves dense candidates from a Qdrant collection instead of Redis.
func WithQdrant(addr, collection string) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Retrieval.DenseBackend = "qdrant"
		c.cfg.Qdrant.Addr = addr
		c.cfg.Qdrant.Collection = collection
	})
}

// WithBleve retrieves sparse candidates from a Bleve index at path instead of Redis.
func WithBleve(path string) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Retrieval.SparseBackend = "bleve"
		c.cfg.Bleve.Path = path
	})
}

// WithQueryVariants sets how many rephrasings are generated per question.
// Zero disables query enhancement.
func WithQueryVariants(n int) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Retrieval.MaxVariants = config.Ptr(n)
	})
}

// WithPredefinedAnswers loads the canned answer table from a YAML file.
func WithPredefinedAnswers(path string) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Predefined.Path = path
	})
}

// WithoutPredefinedAnswers disables the canned answer short-circuit.
func WithoutPredefinedAnswers() Option {
	return optionFunc(func(c *clientConfig) {
		disabled := false
		c.cfg.Predefined.Enabled = &disabled
	})
}

// WithRistretto replaces the LRU memory tier with a ristretto cache of maxBytes.
func WithRistretto(maxBytes int) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Cache.MemoryBackend = "ristretto"
		c.cfg.Cache.MemorySize = maxBytes
	})
}

// WithKeyPrefix prefixes every cache key written to Redis.
func WithKeyPrefix(prefix string) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Storage.KeyPrefix = prefix
	})
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		if l != nil {
			c.logger = l
		}
	})
}

// WithReadinessTimeout bounds the wait for Redis in New. Defaults to 10s.
func WithReadinessTimeout(d time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.readinessTimeout = d
	})
}

// AskOption overrides pipeline parameters for one question.
type AskOption func(*askOptions)

type askOptions struct {
	provider    string
	model       string
	temperature *float64
	maxTokens   *int
	topK        int
}

// WithProvider answers with another registered provider.
func WithProvider(provider string) AskOption {
	return func(o *askOptions) { o.provider = provider }
}

// WithModel overrides the provider's default model.
func WithModel(model string) AskOption {
	return func(o *askOptions) { o.model = model }
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) AskOption {
	return func(o *askOptions) { o.temperature = &t }
}

// WithMaxTokens caps the answer length.
func WithMaxTokens(n int) AskOption {
	return func(o *askOptions) { o.maxTokens = &n }
}

// WithTopK sets how many ranked documents back the answer.
func WithTopK(k int) AskOption {
	return func(o *askOptions) { o.topK = k }
}
