// Package source keeps the configured listing sources by name.
package source

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// ErrUnknownSource is returned when a session names a source nobody registered.
var ErrUnknownSource = errors.New("unknown source")

// Registry maps source names to PageSources.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]crawler.PageSource
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]crawler.PageSource)}
}

// Register adds src under its Info().Name.
func (r *Registry) Register(src crawler.PageSource) error {
	if src == nil {
		return errors.New("source is required")
	}
	name := src.Info().Name
	if name == "" {
		return errors.New("source name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sources[name]; exists {
		return fmt.Errorf("source %q already registered", name)
	}
	r.sources[name] = src
	return nil
}

// Lookup resolves a source by name.
func (r *Registry) Lookup(name string) (crawler.PageSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, name)
	}
	return src, nil
}

// Names lists registered sources, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
