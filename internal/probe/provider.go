// Package probe implements provider and stream health probing: bounded
// concurrent checks, classification, and channel batch sweeps.
package probe

import (
	"context"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/tiergate/tiergate/internal/provider"
	"github.com/tiergate/tiergate/internal/scanloop"
)

// ProviderFetch issues a single GET against a provider health endpoint and
// returns the HTTP status code. Injectable for testing.
type ProviderFetch func(ctx context.Context, url string) (status int, err error)

// HealthFunc is called after every provider probe with the fresh snapshot.
// Called synchronously; handlers must stay lightweight.
type HealthFunc func(p *provider.Provider, h provider.HealthState)

// ProberConfig configures the provider Prober.
type ProberConfig struct {
	Registry    *provider.Registry
	Concurrency int // max simultaneous probes

	// Fetch executes the probe request. Injectable for testing.
	Fetch ProviderFetch

	// Timeout is read per probe, supporting hot values in tests.
	Timeout func() time.Duration

	Interval    time.Duration
	JitterRange time.Duration

	OnHealth HealthFunc
}

// Prober keeps provider health fresh on a fixed cadence, decoupled from
// request handling. Probe failures never propagate; they become classified
// health states.
type Prober struct {
	registry *provider.Registry
	sem      chan struct{}
	stopCh   chan struct{}
	wg       sync.WaitGroup
	fetch    ProviderFetch
	timeout  func() time.Duration
	interval time.Duration
	jitter   time.Duration
	onHealth HealthFunc
}

// NewProber creates a provider health prober.
func NewProber(cfg ProberConfig) *Prober {
	conc := cfg.Concurrency
	if conc <= 0 {
		conc = 10
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = scanloop.DefaultMinInterval
	}
	timeout := cfg.Timeout
	if timeout == nil {
		timeout = func() time.Duration { return 30 * time.Second }
	}
	return &Prober{
		registry: cfg.Registry,
		sem:      make(chan struct{}, conc),
		stopCh:   make(chan struct{}),
		fetch:    cfg.Fetch,
		timeout:  timeout,
		interval: interval,
		jitter:   cfg.JitterRange,
		onHealth: cfg.OnHealth,
	}
}

// Start launches the background probe loop. The first scan runs immediately
// so providers do not sit at "unknown" for a whole interval.
func (m *Prober) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		scanloop.RunNow(m.stopCh, m.interval, m.jitter, m.ScanOnce)
	}()
}

// Stop signals the probe loop to stop and waits for in-flight probes.
func (m *Prober) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// ScanOnce probes every registered provider, bounded by the semaphore.
func (m *Prober) ScanOnce() {
	for _, p := range m.registry.Ordered() {
		select {
		case m.sem <- struct{}{}:
		case <-m.stopCh:
			return
		}

		m.wg.Add(1)
		go func(p *provider.Provider) {
			defer m.wg.Done()
			defer func() { <-m.sem }()
			m.probeProvider(p)
		}(p)
	}
}

// probeProvider runs one classified probe. Latency and timestamp are recorded
// unconditionally, including on failure.
func (m *Prober) probeProvider(p *provider.Provider) {
	timeout := m.timeout()
	if p.ProbeTimeout > 0 {
		timeout = p.ProbeTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	status, err := m.fetch(ctx, p.HealthEndpoint())
	latency := time.Since(start)

	h := provider.HealthState{
		LastCheck:  time.Now(),
		Latency:    latency,
		HTTPStatus: status,
	}
	if err != nil {
		h.Status = provider.HealthOffline
		h.Detail = err.Error()
	} else {
		h.Status = ClassifyProviderStatus(status)
	}
	p.SetHealth(h)

	log.Printf("[probe] provider %s: %s (%dms)", p.Name, h.Status, latency.Milliseconds())
	if m.onHealth != nil {
		m.onHealth(p, h)
	}
}

// ClassifyProviderStatus maps an HTTP status code to a provider health state:
// 200 healthy, gateway errors (502/503/504) degraded, anything else offline.
func ClassifyProviderStatus(status int) provider.HealthStatus {
	switch status {
	case http.StatusOK:
		return provider.HealthHealthy
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return provider.HealthDegraded
	default:
		return provider.HealthOffline
	}
}

// DirectProviderFetch returns a ProviderFetch backed by the given client.
// The body is drained and discarded; only the status code matters.
func DirectProviderFetch(client *http.Client) ProviderFetch {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, url string) (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return 0, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		return resp.StatusCode, nil
	}
}
