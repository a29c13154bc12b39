package providers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tsundoku/internal/models"
	"github.com/desertthunder/tsundoku/internal/shared"
)

type registered struct {
	source   models.ContentSource
	provider Provider
}

// Registry is the in-memory catalog of providers keyed by source id.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]registered
	logger    *log.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *log.Logger) *Registry {
	return &Registry{
		providers: make(map[string]registered),
		logger:    shared.WithLogger(logger, "component", "registry"),
	}
}

// Register adds p under its source id.
//
// A duplicate or invalid id is logged and dropped; Register then returns false and the first registration wins.
func (r *Registry) Register(p Provider) bool {
	if p == nil {
		r.logger.Warn("ignoring nil provider")
		return false
	}

	src := p.Source().Clone()
	if err := src.Validate(); err != nil {
		r.logger.Warn("ignoring invalid provider", "error", err)
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[src.ID]; exists {
		r.logger.Warn("provider already registered, dropping duplicate", "source", src.ID)
		return false
	}

	r.providers[src.ID] = registered{source: src, provider: p}
	r.logger.Debug("registered provider", "source", src.ID, "name", src.Name)
	return true
}

// Get returns the provider registered under id.
func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.providers[id]
	return entry.provider, ok
}

// Resolve is like [Registry.Get] but reports a missing provider as [shared.ErrProviderNotFound].
func (r *Registry) Resolve(id string) (Provider, error) {
	p, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrProviderNotFound, id)
	}
	return p, nil
}

// Source returns the descriptor captured at registration time.
func (r *Registry) Source(id string) (models.ContentSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.providers[id]
	if !ok {
		return models.ContentSource{}, false
	}
	return entry.source.Clone(), true
}

// List returns every registered source, sorted by id.
func (r *Registry) List() []models.ContentSource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := make([]models.ContentSource, 0, len(r.providers))
	for _, entry := range r.providers {
		sources = append(sources, entry.source.Clone())
	}

	sort.Slice(sources, func(i, j int) bool { return sources[i].ID < sources[j].ID })
	return sources
}

// Unregister removes the provider with the given id and reports whether it was present.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[id]; !ok {
		return false
	}
	delete(r.providers, id)
	return true
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// Bootstrap registers the built-in providers followed by every manifest found in manifestDir.
//
// Manifest errors are logged and skipped so one broken file does not hide the rest. It returns the number of
// providers added.
func (r *Registry) Bootstrap(builtins []Provider, manifestDir string) int {
	added := 0
	for _, p := range builtins {
		if r.Register(p) {
			added++
		}
	}

	if manifestDir == "" {
		return added
	}

	manifests, err := LoadManifests(manifestDir)
	if err != nil {
		r.logger.Warn("failed to read provider manifests", "dir", manifestDir, "error", err)
	}

	for _, m := range manifests {
		p, err := m.Provider()
		if err != nil {
			r.logger.Warn("skipping provider manifest", "file", m.Path, "error", err)
			continue
		}
		if r.Register(p) {
			added++
		}
	}

	r.logger.Info("provider registry ready", "providers", r.Len())
	return added
}
