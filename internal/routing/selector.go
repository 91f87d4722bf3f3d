package routing

import (
	"errors"
	"log"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/tiergate/tiergate/internal/provider"
)

// ErrNoProviders is returned when the registry is empty. The relay maps it
// to 503.
var ErrNoProviders = errors.New("routing: no available providers")

// Selector implements provider selection for incoming stream requests.
type Selector struct {
	registry *provider.Registry
	onEvent  EventFunc
}

// NewSelector creates a selector. onEvent may be nil.
func NewSelector(registry *provider.Registry, onEvent EventFunc) *Selector {
	return &Selector{registry: registry, onEvent: onEvent}
}

// Select picks the provider that should serve ip. current is the provider
// name of the caller's live session, or "" when none exists.
//
// Order of preference: the sticky provider while it stays healthy, then the
// first usable provider in tier order, then deterministic hash placement over
// the lowest tier when everything is at capacity. A failover event is emitted
// only when an existing assignment actually changes.
func (s *Selector) Select(ip, userID, current string) (*provider.Provider, error) {
	if current != "" {
		if p, ok := s.registry.Get(current); ok && stickyUsable(p, ip) {
			return p, nil
		}
	}

	chosen := s.firstUsable(ip)
	if chosen == nil {
		chosen = s.overflowPick(ip)
	}
	if chosen == nil {
		return nil, ErrNoProviders
	}

	if current != "" && current != chosen.Name {
		log.Printf("[routing] ip %s: failover %s -> %s", ip, current, chosen.Name)
		if s.onEvent != nil {
			s.onEvent(FailoverEvent{
				IP:           ip,
				UserID:       userID,
				FromProvider: current,
				ToProvider:   chosen.Name,
				Reason:       ReasonCapacityOrHealth,
				At:           time.Now(),
			})
		}
	}
	return chosen, nil
}

// stickyUsable keeps an existing assignment only while the provider is
// confirmed healthy with room for the IP. Unknown health is good enough for a
// fresh pick, not for holding a session off a better tier.
func stickyUsable(p *provider.Provider, ip string) bool {
	return p.Health().Status == provider.HealthHealthy && p.HasSpareCapacity(ip)
}

// usable reports whether p can serve a fresh assignment right now: healthy or
// not yet probed, with spare capacity (or already holding the IP).
func usable(p *provider.Provider, ip string) bool {
	st := p.Health().Status
	if st != provider.HealthHealthy && st != provider.HealthUnknown {
		return false
	}
	return p.HasSpareCapacity(ip)
}

func (s *Selector) firstUsable(ip string) *provider.Provider {
	for _, p := range s.registry.Ordered() {
		if usable(p, ip) {
			return p
		}
	}
	return nil
}

// overflowPick spreads IPs deterministically over the lowest tier when no
// provider is usable. The mapping depends only on the provider set, never on
// health, so the same IP always lands on the same provider; a dead pick is
// recovered by the relay's escalation walk.
func (s *Selector) overflowPick(ip string) *provider.Provider {
	candidates := s.registry.LowestTier()
	if len(candidates) == 0 {
		return nil
	}
	idx := xxh3.HashString(ip) % uint64(len(candidates))
	return candidates[idx]
}
