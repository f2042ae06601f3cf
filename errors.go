package ragdex

import "github.com/kailas-cloud/ragdex/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrInvalidRequest  = domain.ErrInvalidRequest
	ErrInvalidConfig   = domain.ErrInvalidConfig
	ErrUnknownProvider = domain.ErrUnknownProvider
	ErrExternalService = domain.ErrExternalService
)
