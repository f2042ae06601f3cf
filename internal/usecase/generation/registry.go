// Package generation routes generation calls to the configured providers.
package generation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kailas-cloud/ragdex/internal/domain"
)

// Provider is a generator bound to one provider.
type Provider interface {
	domain.Generator
	Provider() string
}

// Registry is a domain.Generator that dispatches on GenerateOptions.Provider.
// It is built once at startup and read-only afterwards.
type Registry struct {
	providers map[string]Provider
	def       string
}

// NewRegistry indexes providers by name. def must be one of them.
func NewRegistry(def string, providers ...Provider) (*Registry, error) {
	def = strings.ToLower(def)
	r := &Registry{providers: make(map[string]Provider, len(providers)), def: def}
	for _, p := range providers {
		name := strings.ToLower(p.Provider())
		if _, dup := r.providers[name]; dup {
			return nil, fmt.Errorf("provider %q registered twice: %w", name, domain.ErrInvalidConfig)
		}
		r.providers[name] = p
	}
	if _, ok := r.providers[def]; !ok {
		return nil, fmt.Errorf("default provider %q is not configured: %w", def, domain.ErrInvalidConfig)
	}
	return r, nil
}

// Names lists the registered providers in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Default returns the default provider name.
func (r *Registry) Default() string { return r.def }

func (r *Registry) lookup(name string) (Provider, error) {
	if name == "" {
		name = r.def
	}
	p, ok := r.providers[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, domain.ErrUnknownProvider)
	}
	return p, nil
}

// Generate implements domain.Generator.
func (r *Registry) Generate(ctx context.Context, prompt string, opts domain.GenerateOptions) (domain.Generation, error) {
	p, err := r.lookup(opts.Provider)
	if err != nil {
		return domain.Generation{}, err
	}
	return p.Generate(ctx, prompt, opts)
}

// Stream implements domain.Generator.
func (r *Registry) Stream(ctx context.Context, prompt string, opts domain.GenerateOptions) (<-chan domain.Chunk, error) {
	p, err := r.lookup(opts.Provider)
	if err != nil {
		return nil, err
	}
	return p.Stream(ctx, prompt, opts)
}

// HealthCheck checks the default provider, when it can be checked.
func (r *Registry) HealthCheck(ctx context.Context) error {
	hc, ok := r.providers[r.def].(domain.HealthChecker)
	if !ok {
		return nil
	}
	if err := hc.HealthCheck(ctx); err != nil {
		return errors.Join(domain.ErrGeneratorUnavailable, err)
	}
	return nil
}
