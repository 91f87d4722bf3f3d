// Package provider holds the upstream provider registry: tier order, capacity,
// health state, and per-provider occupancy accounting.
package provider

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tiergate/tiergate/internal/config"
)

// HealthStatus classifies a provider's current health.
type HealthStatus string

const (
	HealthUnknown  HealthStatus = "unknown"
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
)

// HealthState is a point-in-time health snapshot. Value type; a copy is
// returned to readers so probe writes never race reads.
type HealthState struct {
	Status     HealthStatus
	LastCheck  time.Time
	Latency    time.Duration
	HTTPStatus int
	Detail     string
}

// Provider is one upstream provider. Health and occupancy are mutable and
// guarded by mu; identity fields are immutable after construction.
type Provider struct {
	Name            string
	Tier            int
	Capacity        int
	PlaylistURL     string
	Xtream          *config.XtreamConfig
	AllowFuzzyMatch bool
	ProbeTimeout    time.Duration // zero means use the global probe timeout

	mu        sync.Mutex
	health    HealthState
	occupancy map[string]struct{} // active client IPs
}

func newProvider(cfg config.ProviderConfig) *Provider {
	return &Provider{
		Name:            cfg.Name,
		Tier:            cfg.Tier,
		Capacity:        cfg.Capacity,
		PlaylistURL:     cfg.PlaylistURL,
		Xtream:          cfg.Xtream,
		AllowFuzzyMatch: cfg.AllowFuzzyMatch,
		ProbeTimeout:    cfg.ProbeTimeout.Std(),
		health:          HealthState{Status: HealthUnknown},
		occupancy:       make(map[string]struct{}),
	}
}

// HealthEndpoint returns the URL probed to classify this provider's health:
// the Xtream player API when templated, otherwise the playlist URL.
func (p *Provider) HealthEndpoint() string {
	if p.Xtream != nil {
		return fmt.Sprintf(
			"%s/player_api.php?username=%s&password=%s&action=get_live_categories",
			strings.TrimRight(p.Xtream.ServerURL, "/"), p.Xtream.Username, p.Xtream.Password,
		)
	}
	return p.PlaylistURL
}

// Health returns a copy of the current health snapshot.
func (p *Provider) Health() HealthState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.health
}

// SetHealth replaces the health snapshot. The timestamp is recorded
// unconditionally, including for failed probes.
func (p *Provider) SetHealth(h HealthState) {
	p.mu.Lock()
	p.health = h
	p.mu.Unlock()
}

// Admit adds ip to the occupancy set. Returns the resulting count.
func (p *Provider) Admit(ip string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.occupancy[ip] = struct{}{}
	return len(p.occupancy)
}

// Evict removes ip from the occupancy set. Returns true if it was present.
func (p *Provider) Evict(ip string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.occupancy[ip]; !ok {
		return false
	}
	delete(p.occupancy, ip)
	return true
}

// Occupancy returns the number of distinct IPs currently assigned.
func (p *Provider) Occupancy() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.occupancy)
}

// Holds reports whether ip is in the occupancy set.
func (p *Provider) Holds(ip string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.occupancy[ip]
	return ok
}

// HasSpareCapacity reports whether a new IP could be admitted. Admission of an
// already-held IP is always allowed.
func (p *Provider) HasSpareCapacity(ip string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.occupancy[ip]; ok {
		return true
	}
	return len(p.occupancy) < p.Capacity
}
