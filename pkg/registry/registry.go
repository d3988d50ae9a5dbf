// Package registry maps agent slugs to their static configuration and
// handler functions. Registration happens once at service startup through an
// explicit RegisterAll-style call, then the registry is read-only.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/CleanExpo/RestoreAssist-sub015/pkg/models"
	"github.com/pkg/errors"
)

// Registry holds agent configurations and handlers, keyed by slug.
type Registry struct {
	mu       sync.RWMutex
	configs  map[string]models.AgentConfig
	handlers map[string]models.AgentHandler
}

func New() *Registry {
	return &Registry{
		configs:  make(map[string]models.AgentConfig),
		handlers: make(map[string]models.AgentHandler),
	}
}

// Register adds an agent. Slugs are registered exactly once; a duplicate
// registration is a startup defect, not a runtime condition.
func (r *Registry) Register(cfg models.AgentConfig, handler models.AgentHandler) error {
	if cfg.Slug == "" {
		return errors.New("empty agent slug")
	}
	if handler == nil {
		return fmt.Errorf("nil handler for agent '%s'", cfg.Slug)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.configs[cfg.Slug]; exists {
		return fmt.Errorf("agent '%s' already registered", cfg.Slug)
	}
	r.configs[cfg.Slug] = cfg
	r.handlers[cfg.Slug] = handler
	return nil
}

// Config returns the configuration for a slug.
func (r *Registry) Config(slug string) (models.AgentConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[slug]
	return cfg, ok
}

// Handler returns the handler for a slug.
func (r *Registry) Handler(slug string) (models.AgentHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[slug]
	return h, ok
}

// Configs returns all registered configurations, ordered by slug.
func (r *Registry) Configs() []models.AgentConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.AgentConfig, 0, len(r.configs))
	for _, cfg := range r.configs {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// Validate checks registry completeness: every declared upstream agent slug
// must itself be registered. Call it once after RegisterAll, before first use.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for slug, cfg := range r.configs {
		for _, dep := range cfg.DependsOn {
			if _, ok := r.configs[dep]; !ok {
				return fmt.Errorf("agent '%s' depends on unregistered agent '%s'", slug, dep)
			}
		}
	}
	return nil
}
