package probe

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/tiergate/tiergate/internal/config"
	"github.com/tiergate/tiergate/internal/provider"
)

func testRegistry(t *testing.T, names ...string) *provider.Registry {
	t.Helper()
	pf := &config.ProvidersFile{}
	for i, name := range names {
		pf.Providers = append(pf.Providers, config.ProviderConfig{
			Name:        name,
			Tier:        i,
			Capacity:    10,
			PlaylistURL: "http://example.test/" + name + ".m3u8",
		})
	}
	reg, err := provider.NewRegistry(pf)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func TestClassifyProviderStatus(t *testing.T) {
	cases := []struct {
		status int
		want   provider.HealthStatus
	}{
		{http.StatusOK, provider.HealthHealthy},
		{http.StatusBadGateway, provider.HealthDegraded},
		{http.StatusServiceUnavailable, provider.HealthDegraded},
		{http.StatusGatewayTimeout, provider.HealthDegraded},
		{http.StatusNotFound, provider.HealthOffline},
		{http.StatusUnauthorized, provider.HealthOffline},
		{http.StatusInternalServerError, provider.HealthOffline},
		{http.StatusMovedPermanently, provider.HealthOffline},
	}
	for _, tc := range cases {
		if got := ClassifyProviderStatus(tc.status); got != tc.want {
			t.Errorf("ClassifyProviderStatus(%d) = %s, want %s", tc.status, got, tc.want)
		}
	}
}

func TestScanOnceClassifiesEachProvider(t *testing.T) {
	reg := testRegistry(t, "alpha", "bravo", "charlie")

	statuses := map[string]int{
		"alpha":   http.StatusOK,
		"bravo":   http.StatusServiceUnavailable,
		"charlie": http.StatusForbidden,
	}

	m := NewProber(ProberConfig{
		Registry:    reg,
		Concurrency: 2,
		Fetch: func(ctx context.Context, url string) (int, error) {
			for name, st := range statuses {
				if url == "http://example.test/"+name+".m3u8" {
					return st, nil
				}
			}
			return 0, errors.New("unknown url " + url)
		},
	})
	m.ScanOnce()
	m.Stop()

	want := map[string]provider.HealthStatus{
		"alpha":   provider.HealthHealthy,
		"bravo":   provider.HealthDegraded,
		"charlie": provider.HealthOffline,
	}
	for name, wantStatus := range want {
		p, _ := reg.Get(name)
		h := p.Health()
		if h.Status != wantStatus {
			t.Errorf("provider %s: status = %s, want %s", name, h.Status, wantStatus)
		}
		if h.LastCheck.IsZero() {
			t.Errorf("provider %s: LastCheck not recorded", name)
		}
	}
}

func TestProbeFailureRecordsLatencyAndDetail(t *testing.T) {
	reg := testRegistry(t, "alpha")

	m := NewProber(ProberConfig{
		Registry: reg,
		Fetch: func(ctx context.Context, url string) (int, error) {
			time.Sleep(5 * time.Millisecond)
			return 0, errors.New("connection refused")
		},
	})
	m.ScanOnce()
	m.Stop()

	p, _ := reg.Get("alpha")
	h := p.Health()
	if h.Status != provider.HealthOffline {
		t.Fatalf("status = %s, want offline", h.Status)
	}
	if h.Latency <= 0 {
		t.Errorf("latency not recorded on failure")
	}
	if h.Detail != "connection refused" {
		t.Errorf("detail = %q, want connection refused", h.Detail)
	}
}

func TestOnHealthCallbackFires(t *testing.T) {
	reg := testRegistry(t, "alpha", "bravo")

	var mu sync.Mutex
	seen := map[string]provider.HealthStatus{}

	m := NewProber(ProberConfig{
		Registry: reg,
		Fetch: func(ctx context.Context, url string) (int, error) {
			return http.StatusOK, nil
		},
		OnHealth: func(p *provider.Provider, h provider.HealthState) {
			mu.Lock()
			seen[p.Name] = h.Status
			mu.Unlock()
		},
	})
	m.ScanOnce()
	m.Stop()

	if len(seen) != 2 {
		t.Fatalf("callback fired for %d providers, want 2", len(seen))
	}
	for name, st := range seen {
		if st != provider.HealthHealthy {
			t.Errorf("callback for %s saw %s, want healthy", name, st)
		}
	}
}
