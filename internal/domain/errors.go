package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest signals a malformed or out-of-range request.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidConfig signals a configuration value that must stop startup.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")

	// ErrExternalService signals an unavailable or timed out collaborator.
	ErrExternalService = errors.New("external service error")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = fmt.Errorf("embedding provider error: %w", ErrExternalService)
	// ErrGeneratorUnavailable signals an answer generator failure.
	ErrGeneratorUnavailable = fmt.Errorf("generator unavailable: %w", ErrExternalService)
	// ErrCrossEncoderUnavailable signals a cross-encoder failure.
	ErrCrossEncoderUnavailable = fmt.Errorf("cross-encoder unavailable: %w", ErrExternalService)
	// ErrRetrieverUnavailable signals a vector store or lexical index failure.
	ErrRetrieverUnavailable = fmt.Errorf("retriever unavailable: %w", ErrExternalService)
	// ErrUnknownProvider signals a generator provider that is not configured.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrCacheUnavailable signals a cache tier failure. Never returned to API callers.
	ErrCacheUnavailable = errors.New("cache unavailable")
	// ErrNoResults signals that no modality returned any document.
	ErrNoResults = errors.New("no results")
)

// StatusError carries an upstream HTTP status so retry classifiers can tell
// client mistakes from transient failures.
type StatusError struct {
	Service    string
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %v", e.Service, e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// NewStatusError wraps err with the collaborator name and HTTP status.
// The result always matches ErrExternalService.
func NewStatusError(service string, status int, err error) error {
	switch {
	case err == nil:
		err = ErrExternalService
	case !errors.Is(err, ErrExternalService):
		err = fmt.Errorf("%w: %w", ErrExternalService, err)
	}
	return &StatusError{Service: service, StatusCode: status, Err: err}
}
