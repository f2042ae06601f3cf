package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the ragdex configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Rerank     RerankConfig     `yaml:"rerank"`
	Predefined PredefinedConfig `yaml:"predefined"`
	Enhance    EnhanceConfig    `yaml:"enhance"`
	Cache      CacheConfig      `yaml:"cache"`
	Timeouts   TimeoutsConfig   `yaml:"timeouts_ms"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Generation GenerationConfig `yaml:"generation"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Qdrant     QdrantConfig     `yaml:"qdrant"`
	Bleve      BleveConfig      `yaml:"bleve"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
	// RateLimitRPS is the token refill rate per client. Zero disables limiting.
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// DatabaseConfig holds Redis/Valkey connection settings.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	Standalone       bool     `yaml:"standalone"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// KeyPrefix prefixes cache keys and document hashes.
	KeyPrefix string `yaml:"key_prefix"`
}

// RetrievalConfig holds the hybrid retrieval tunables.
type RetrievalConfig struct {
	// Alpha weighs dense against sparse scores. 0 is sparse only, so nil means unset.
	Alpha      *float64 `yaml:"alpha"`
	TopKDense  int      `yaml:"top_k_dense"`
	TopKSparse int      `yaml:"top_k_sparse"`
	// MaxVariants is the number of generated rephrasings. 0 disables enhancement.
	MaxVariants         *int    `yaml:"max_variants"`
	MaxParallelVariants int     `yaml:"max_parallel_variants"`
	HybridBoostFactor   float64 `yaml:"hybrid_boost_factor"`
	DenseBackend        string  `yaml:"dense_backend"`  // redis, qdrant
	SparseBackend       string  `yaml:"sparse_backend"` // redis, bleve
	IndexName           string  `yaml:"index_name"`
	// DocumentPrefix is the hash key prefix of indexed documents.
	DocumentPrefix string `yaml:"document_prefix"`
	ContentField   string `yaml:"content_field"`
	VectorField    string `yaml:"vector_field"`
	// Language selects the stemmer of the Redis full-text query.
	Language string `yaml:"language"`
}

// RerankConfig holds cross-encoder settings. An empty URL disables reranking.
type RerankConfig struct {
	// Beta weighs the fused score against the cross-encoder score. 0 is
	// cross-encoder only, so nil means unset.
	Beta         *float64 `yaml:"beta"`
	URL          string   `yaml:"url"`
	Model        string   `yaml:"model"`
	APIKey       string   `yaml:"api_key"`
	TopK         int      `yaml:"top_k"`
	SnippetRunes int      `yaml:"snippet_runes"`
}

// PredefinedConfig holds the canned answer table settings.
type PredefinedConfig struct {
	Enabled        *bool   `yaml:"enabled"`
	MatchThreshold float64 `yaml:"match_threshold"`
	// Path to a YAML answer table. Empty uses the embedded defaults.
	Path string `yaml:"path"`
}

// EnhanceConfig selects the model used for query rephrasing.
type EnhanceConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// CacheConfig holds the two-tier cache settings.
type CacheConfig struct {
	MemoryBackend   string         `yaml:"memory_backend"` // lru, ristretto
	MemorySize      int            `yaml:"memory_size"`    // entries for lru, bytes for ristretto
	MemoryMaxTTLSec int            `yaml:"memory_max_ttl_sec"`
	DistributedLock bool           `yaml:"distributed_lock"`
	LockTTLMs       int            `yaml:"lock_ttl_ms"`
	TTLSec          map[string]int `yaml:"ttl_sec"`
}

// TimeoutsConfig holds per-collaborator deadlines in milliseconds.
type TimeoutsConfig struct {
	Embedding    int `yaml:"embedding"`
	Dense        int `yaml:"dense"`
	Sparse       int `yaml:"sparse"`
	CrossEncoder int `yaml:"cross_encoder"`
	Generator    int `yaml:"generator"`
	Enhancer     int `yaml:"enhancer"`
	Cache        int `yaml:"cache"`
}

// ResilienceConfig holds retry and circuit breaker settings.
type ResilienceConfig struct {
	RetryMaxAttempts      int     `yaml:"retry_max_attempts"`
	RetryInitialBackoffMs int     `yaml:"retry_initial_backoff_ms"`
	RetryMaxBackoffMs     int     `yaml:"retry_max_backoff_ms"`
	BreakerEnabled        *bool   `yaml:"breaker_enabled"`
	BreakerMinRequests    uint32  `yaml:"breaker_min_requests"`
	BreakerFailureRatio   float64 `yaml:"breaker_failure_ratio"`
	BreakerOpenTimeoutSec int     `yaml:"breaker_open_timeout_sec"`
}

// GenerationConfig holds answer generation settings.
type GenerationConfig struct {
	DefaultProvider  string                    `yaml:"default_provider"`
	Providers        map[string]ProviderConfig `yaml:"providers"`
	Temperature      float64                   `yaml:"temperature"`
	MaxTokens        int                       `yaml:"max_tokens"`
	ContextMaxTokens int                       `yaml:"context_max_tokens"`
	// Encoding is the tiktoken encoding counting context tokens.
	Encoding         string `yaml:"encoding"`
	NoResultsMessage string `yaml:"no_results_message"`
}

// ProviderConfig holds one generator provider's settings.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// EmbeddingConfig holds the query embedding settings.
type EmbeddingConfig struct {
	Provider         string `yaml:"provider"`
	APIKey           string `yaml:"api_key"`
	BaseURL          string `yaml:"base_url"`
	Model            string `yaml:"model"`
	Dimensions       int    `yaml:"dimensions"`
	QueryInstruction string `yaml:"query_instruction"`
}

// QdrantConfig holds the Qdrant dense backend settings.
type QdrantConfig struct {
	Addr         string `yaml:"addr"`
	APIKey       string `yaml:"api_key"`
	UseTLS       bool   `yaml:"use_tls"`
	Collection   string `yaml:"collection"`
	VectorName   string `yaml:"vector_name"`
	IDField      string `yaml:"id_field"`
	ContentField string `yaml:"content_field"`
}

// BleveConfig holds the Bleve sparse backend settings.
type BleveConfig struct {
	// Path to the index directory. Empty opens an in-memory index.
	Path     string `yaml:"path"`
	Analyzer string `yaml:"analyzer"`
}

// Known option values.
var (
	DenseBackends   = []string{"redis", "qdrant"}
	SparseBackends  = []string{"redis", "bleve"}
	MemoryBackends  = []string{"lru", "ristretto"}
	CacheNamespaces = []string{
		"query-enhancement", "dense-embeddings", "rerank", "full-response", "predefined-lookup",
	}
)

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from an explicit path.
func LoadFile(configPath string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse expands env variables, decodes, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// Scoring defaults.
const (
	DefaultAlpha       = 0.7
	DefaultBeta        = 0.3
	DefaultMaxVariants = 2
)

// Ptr returns a pointer to v, for optional settings where zero is meaningful.
func Ptr[T any](v T) *T { return &v }

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	c.applyHTTPDefaults()
	c.applyRetrievalDefaults()
	c.applyPipelineDefaults()
	c.applyCacheDefaults()
	c.applyTimeoutDefaults()
}

func (c *Config) applyHTTPDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	// Answer streams stay open for the whole generation.
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 120
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.HTTP.RateLimitRPS > 0 && c.HTTP.RateLimitBurst <= 0 {
		c.HTTP.RateLimitBurst = int(c.HTTP.RateLimitRPS) + 1
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = "ragdex:"
	}
}

func (c *Config) applyRetrievalDefaults() {
	r := &c.Retrieval
	if r.Alpha == nil {
		r.Alpha = Ptr(DefaultAlpha)
	}
	if r.MaxVariants == nil {
		r.MaxVariants = Ptr(DefaultMaxVariants)
	}
	if r.TopKDense == 0 {
		r.TopKDense = 10
	}
	if r.TopKSparse == 0 {
		r.TopKSparse = 10
	}
	if r.MaxParallelVariants == 0 {
		r.MaxParallelVariants = 4
	}
	if r.HybridBoostFactor == 0 {
		r.HybridBoostFactor = 1.1
	}
	if r.DenseBackend == "" {
		r.DenseBackend = "redis"
	}
	if r.SparseBackend == "" {
		r.SparseBackend = "redis"
	}
	if r.IndexName == "" {
		r.IndexName = "idx:documents"
	}
	if r.DocumentPrefix == "" {
		r.DocumentPrefix = "doc:"
	}
	if r.Language == "" {
		r.Language = "french"
	}
}

func (c *Config) applyPipelineDefaults() {
	if c.Rerank.Beta == nil {
		c.Rerank.Beta = Ptr(DefaultBeta)
	}
	if c.Rerank.TopK == 0 {
		c.Rerank.TopK = 5
	}
	if c.Rerank.SnippetRunes == 0 {
		c.Rerank.SnippetRunes = 1000
	}
	if c.Predefined.Enabled == nil {
		enabled := true
		c.Predefined.Enabled = &enabled
	}
	if c.Predefined.MatchThreshold == 0 {
		c.Predefined.MatchThreshold = 0.7
	}
	if c.Generation.Temperature == 0 {
		c.Generation.Temperature = 0.3
	}
	if c.Generation.MaxTokens == 0 {
		c.Generation.MaxTokens = 512
	}
	if c.Generation.ContextMaxTokens == 0 {
		c.Generation.ContextMaxTokens = 3000
	}
	if c.Generation.Encoding == "" {
		c.Generation.Encoding = "cl100k_base"
	}
	if c.Enhance.Temperature == 0 {
		c.Enhance.Temperature = 0.3
	}
	if c.Enhance.MaxTokens == 0 {
		c.Enhance.MaxTokens = 200
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Bleve.Analyzer == "" {
		c.Bleve.Analyzer = "fr"
	}
	if c.Resilience.BreakerEnabled == nil {
		enabled := true
		c.Resilience.BreakerEnabled = &enabled
	}
}

func (c *Config) applyCacheDefaults() {
	if c.Cache.MemoryBackend == "" {
		c.Cache.MemoryBackend = "lru"
	}
	if c.Cache.MemorySize == 0 {
		c.Cache.MemorySize = 10_000
		if c.Cache.MemoryBackend == "ristretto" {
			c.Cache.MemorySize = 64 << 20
		}
	}
	if c.Cache.MemoryMaxTTLSec == 0 {
		c.Cache.MemoryMaxTTLSec = 300
	}
	if c.Cache.LockTTLMs == 0 {
		c.Cache.LockTTLMs = 10_000
	}
	defaults := map[string]int{
		"query-enhancement": 24 * 3600,
		"dense-embeddings":  7 * 24 * 3600,
		"rerank":            3600,
		"full-response":     3600,
		"predefined-lookup": 24 * 3600,
	}
	if c.Cache.TTLSec == nil {
		c.Cache.TTLSec = make(map[string]int, len(defaults))
	}
	for ns, ttl := range defaults {
		if _, ok := c.Cache.TTLSec[ns]; !ok {
			c.Cache.TTLSec[ns] = ttl
		}
	}
}

func (c *Config) applyTimeoutDefaults() {
	t := &c.Timeouts
	setDefault := func(v *int, ms int) {
		if *v == 0 {
			*v = ms
		}
	}
	setDefault(&t.Embedding, 2000)
	setDefault(&t.Dense, 3000)
	setDefault(&t.Sparse, 2000)
	setDefault(&t.CrossEncoder, 3000)
	setDefault(&t.Generator, 30_000)
	setDefault(&t.Enhancer, 5000)
	setDefault(&t.Cache, 200)
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.HTTP.RateLimitRPS < 0 {
		return fmt.Errorf("http.rate_limit_rps must not be negative, got %g", c.HTTP.RateLimitRPS)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	if err := c.validateRetrieval(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	return c.validateTimeouts()
}

func (c *Config) validateRetrieval() error {
	r := c.Retrieval
	if r.Alpha != nil && (*r.Alpha < 0 || *r.Alpha > 1) {
		return fmt.Errorf("retrieval.alpha must be within [0, 1], got %g", *r.Alpha)
	}
	if r.HybridBoostFactor < 1 {
		return fmt.Errorf("retrieval.hybrid_boost_factor must be >= 1, got %g", r.HybridBoostFactor)
	}
	if r.TopKDense <= 0 || r.TopKSparse <= 0 {
		return fmt.Errorf("retrieval.top_k_dense and top_k_sparse must be positive")
	}
	if r.MaxVariants != nil && *r.MaxVariants < 0 {
		return fmt.Errorf("retrieval.max_variants must not be negative, got %d", *r.MaxVariants)
	}
	if r.MaxParallelVariants <= 0 {
		return fmt.Errorf("retrieval.max_parallel_variants must be positive, got %d", r.MaxParallelVariants)
	}
	if !slices.Contains(DenseBackends, r.DenseBackend) {
		return fmt.Errorf("retrieval.dense_backend must be one of %v, got %q", DenseBackends, r.DenseBackend)
	}
	if !slices.Contains(SparseBackends, r.SparseBackend) {
		return fmt.Errorf("retrieval.sparse_backend must be one of %v, got %q", SparseBackends, r.SparseBackend)
	}
	if r.DenseBackend == "qdrant" && (c.Qdrant.Addr == "" || c.Qdrant.Collection == "") {
		return fmt.Errorf("qdrant.addr and qdrant.collection are required for the qdrant dense backend")
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding.model is required")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if b := c.Rerank.Beta; b != nil && (*b < 0 || *b > 1) {
		return fmt.Errorf("rerank.beta must be within [0, 1], got %g", *b)
	}
	if c.Rerank.TopK <= 0 {
		return fmt.Errorf("rerank.top_k must be positive, got %d", c.Rerank.TopK)
	}
	if t := c.Predefined.MatchThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("predefined.match_threshold must be within (0, 1], got %g", t)
	}
	g := c.Generation
	if len(g.Providers) == 0 {
		return fmt.Errorf("generation.providers must list at least one provider")
	}
	if _, ok := g.Providers[strings.ToLower(g.DefaultProvider)]; !ok {
		return fmt.Errorf("generation.default_provider %q is not a configured provider", g.DefaultProvider)
	}
	for name, p := range g.Providers {
		if name != strings.ToLower(name) {
			return fmt.Errorf("generation.providers.%s: provider names must be lowercase", name)
		}
		if p.Model == "" {
			return fmt.Errorf("generation.providers.%s.model is required", name)
		}
	}
	if p := c.Enhance.Provider; p != "" {
		if _, ok := g.Providers[p]; !ok {
			return fmt.Errorf("enhance.provider %q is not a configured provider", p)
		}
	}
	if g.MaxTokens <= 0 || g.ContextMaxTokens <= 0 {
		return fmt.Errorf("generation.max_tokens and context_max_tokens must be positive")
	}
	if g.Temperature < 0 || g.Temperature > 2 {
		return fmt.Errorf("generation.temperature must be within [0, 2], got %g", g.Temperature)
	}
	return nil
}

func (c *Config) validateCache() error {
	if !slices.Contains(MemoryBackends, c.Cache.MemoryBackend) {
		return fmt.Errorf("cache.memory_backend must be one of %v, got %q", MemoryBackends, c.Cache.MemoryBackend)
	}
	if c.Cache.MemorySize <= 0 {
		return fmt.Errorf("cache.memory_size must be positive, got %d", c.Cache.MemorySize)
	}
	if c.Cache.MemoryMaxTTLSec <= 0 || c.Cache.LockTTLMs <= 0 {
		return fmt.Errorf("cache.memory_max_ttl_sec and lock_ttl_ms must be positive")
	}
	for ns, ttl := range c.Cache.TTLSec {
		if !slices.Contains(CacheNamespaces, ns) {
			return fmt.Errorf("cache.ttl_sec: unknown namespace %q", ns)
		}
		if ttl <= 0 {
			return fmt.Errorf("cache.ttl_sec.%s must be positive, got %d", ns, ttl)
		}
	}
	return nil
}

func (c *Config) validateTimeouts() error {
	t := c.Timeouts
	for name, v := range map[string]int{
		"embedding": t.Embedding, "dense": t.Dense, "sparse": t.Sparse,
		"cross_encoder": t.CrossEncoder, "generator": t.Generator,
		"enhancer": t.Enhancer, "cache": t.Cache,
	} {
		if v <= 0 {
			return fmt.Errorf("timeouts_ms.%s must be positive, got %d", name, v)
		}
	}
	return nil
}

// Ms converts a millisecond setting.
func Ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// Sec converts a second setting.
func Sec(v int) time.Duration {
	return time.Duration(v) * time.Second
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// Relative to the source file, for tests run from package directories.
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b)))
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
