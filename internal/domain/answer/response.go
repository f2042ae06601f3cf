// Package answer holds the response assembled by the ask pipeline.
package answer

import "time"

// Source says where the answer text came from.
type Source string

const (
	// SourcePredefined is a curated answer; no retrieval or generation ran.
	SourcePredefined Source = "predefined"
	// SourceGenerated is a generator answer grounded on retrieved context.
	SourceGenerated Source = "generated"
	// SourceNoResults means no modality returned any document.
	SourceNoResults Source = "no_results"
	// SourceDegraded means retrieval worked but generation failed.
	SourceDegraded Source = "degraded"
)

// SourceRef is one ranked document shown to the caller.
type SourceRef struct {
	Rank        int               `json:"rank"`
	DocumentID  string            `json:"document_id"`
	Content     string            `json:"content"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	FusedScore  float64           `json:"fused_score"`
	RerankScore *float64          `json:"rerank_score,omitempty"`
	Score       float64           `json:"score"`
}

// PerformanceMetrics reports what the pipeline did for one request.
type PerformanceMetrics struct {
	StageTimingsMs  map[string]float64 `json:"stage_timings_ms"`
	CacheHits       map[string]bool    `json:"cache_hits"`
	LLMCallsSaved   bool               `json:"llm_calls_saved"`
	Degraded        []string           `json:"degraded,omitempty"`
	MatchedQuestion string             `json:"matched_question,omitempty"`
	FinalState      string             `json:"final_state"`
}

// Response is the payload handed to the API layer.
type Response struct {
	ID                 string             `json:"id"`
	Answer             string             `json:"answer"`
	Source             Source             `json:"source"`
	Sources            []SourceRef        `json:"sources"`
	ConfidenceScore    float64            `json:"confidence_score"`
	ProcessingTimeMs   float64            `json:"processing_time_ms"`
	CacheHit           bool               `json:"cache_hit"`
	CacheKey           string             `json:"cache_key,omitempty"`
	ContextFound       bool               `json:"context_found"`
	Provider           string             `json:"provider,omitempty"`
	Model              string             `json:"model,omitempty"`
	EnhancedQueries    []string           `json:"enhanced_queries,omitempty"`
	SearchResults      int                `json:"search_results"`
	RankedResults      int                `json:"ranked_results"`
	Timestamp          time.Time          `json:"timestamp"`
	PerformanceMetrics PerformanceMetrics `json:"performance_metrics"`
}

// NewMetrics returns empty, non-nil metric maps.
func NewMetrics() PerformanceMetrics {
	return PerformanceMetrics{
		StageTimingsMs: make(map[string]float64),
		CacheHits:      make(map[string]bool),
	}
}
