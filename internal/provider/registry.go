package provider

import (
	"fmt"
	"sort"

	"github.com/tiergate/tiergate/internal/config"
)

// Registry is the static-ish table of providers loaded at startup.
// Providers are never removed while the configuration is loaded; only their
// health and occupancy mutate.
type Registry struct {
	byName  map[string]*Provider
	ordered []*Provider // tier ascending, ties by registration order
}

// NewRegistry builds a registry from validated configuration.
func NewRegistry(pf *config.ProvidersFile) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Provider, len(pf.Providers))}
	for _, pc := range pf.Providers {
		if _, exists := r.byName[pc.Name]; exists {
			return nil, fmt.Errorf("registry: duplicate provider %q", pc.Name)
		}
		p := newProvider(pc)
		r.byName[p.Name] = p
		r.ordered = append(r.ordered, p)
	}
	// Stable sort keeps registration order within a tier.
	sort.SliceStable(r.ordered, func(i, j int) bool {
		return r.ordered[i].Tier < r.ordered[j].Tier
	})
	return r, nil
}

// Get returns the provider with the given name.
func (r *Registry) Get(name string) (*Provider, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// Ordered returns all providers sorted by tier ascending, registration order
// within a tier. The slice is shared; callers must not mutate it.
func (r *Registry) Ordered() []*Provider {
	return r.ordered
}

// LowestTier returns all providers at the lowest tier present.
func (r *Registry) LowestTier() []*Provider {
	if len(r.ordered) == 0 {
		return nil
	}
	lowest := r.ordered[0].Tier
	var out []*Provider
	for _, p := range r.ordered {
		if p.Tier != lowest {
			break
		}
		out = append(out, p)
	}
	return out
}

// FromTier returns providers with tier >= minTier whose health is not offline,
// sorted by tier ascending. This is the escalation candidate list.
func (r *Registry) FromTier(minTier int) []*Provider {
	var out []*Provider
	for _, p := range r.ordered {
		if p.Tier < minTier {
			continue
		}
		if p.Health().Status == HealthOffline {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	return len(r.ordered)
}
