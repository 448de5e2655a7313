package provider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/omnidex/omnidex/internal/config"
	"github.com/omnidex/omnidex/internal/errors"
)

// Builder constructs an uninitialized provider instance for one
// configured source.
type Builder func(cfg config.ProviderConfig) (Provider, error)

// Factory builds providers from configuration, keyed by provider type.
type Factory struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewFactory returns an empty factory.
func NewFactory() *Factory {
	return &Factory{builders: make(map[string]Builder)}
}

// DefaultFactory returns a factory with the built-in provider types
// registered.
func DefaultFactory() *Factory {
	f := NewFactory()
	f.RegisterType(TypeFilesystem, func(cfg config.ProviderConfig) (Provider, error) {
		return NewFilesystemProvider(cfg.ID), nil
	})
	f.RegisterType(TypeGitHub, func(cfg config.ProviderConfig) (Provider, error) {
		return NewGitHubProvider(cfg.ID), nil
	})
	return f
}

// RegisterType adds a builder for a provider type, replacing any
// previous registration.
func (f *Factory) RegisterType(providerType string, builder Builder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[providerType] = builder
}

// SupportedTypes lists registered provider types, sorted.
func (f *Factory) SupportedTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	types := make([]string, 0, len(f.builders))
	for t := range f.builders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Create builds a provider for the configured source. An unknown type
// is a configuration error, never a panic.
func (f *Factory) Create(cfg config.ProviderConfig) (Provider, error) {
	f.mu.RLock()
	builder, ok := f.builders[cfg.ProviderType]
	f.mu.RUnlock()
	if !ok {
		return nil, errors.New(errors.ErrCodeUnknownProvider,
			fmt.Sprintf("unknown provider type %q for provider %q", cfg.ProviderType, cfg.ID), nil)
	}
	return builder(cfg)
}
