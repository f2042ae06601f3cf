package ask

// State is a step of the ask pipeline.
type State string

// Pipeline states in execution order. NoResults is terminal like Done.
const (
	StateInit                   State = "INIT"
	StatePredefinedCheck        State = "PREDEFINED_CHECK"
	StateFullResponseCacheCheck State = "FULL_RESPONSE_CACHE_CHECK"
	StateEnhance                State = "ENHANCE"
	StateRetrieveFuseDedup      State = "RETRIEVE_FUSE_DEDUP"
	StateRerank                 State = "RERANK"
	StateContextBuild           State = "CONTEXT_BUILD"
	StateGenerate               State = "GENERATE"
	StateCacheStore             State = "CACHE_STORE"
	StateDone                   State = "DONE"
	StateNoResults              State = "NO_RESULTS"
)

// stageName is the label used in metrics and stage timings.
func (s State) stageName() string {
	switch s {
	case StatePredefinedCheck:
		return "predefined_check"
	case StateFullResponseCacheCheck:
		return "full_response_cache_check"
	case StateEnhance:
		return "enhance"
	case StateRetrieveFuseDedup:
		return "retrieve_fuse_dedup"
	case StateRerank:
		return "rerank"
	case StateContextBuild:
		return "context_build"
	case StateGenerate:
		return "generate"
	case StateCacheStore:
		return "cache_store"
	default:
		return "other"
	}
}
