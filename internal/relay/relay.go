package relay

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/tiergate/tiergate/internal/provider"
	"github.com/tiergate/tiergate/internal/resolve"
	"github.com/tiergate/tiergate/internal/routing"
	"github.com/tiergate/tiergate/internal/session"
)

// Response headers describing the routing outcome.
const (
	HeaderProvider     = "X-Failover-Provider"
	HeaderTier         = "X-Failover-Tier"
	HeaderClientIP     = "X-Client-IP"
	HeaderFailoverUsed = "X-Failover-Used"
)

// HeaderUserID is the optional request header naming the caller. Absent, the
// identity defaults to user_<ip>.
const HeaderUserID = "X-User-ID"

// FetchFunc opens an upstream stream and returns the response with its body
// still open. Injectable for testing.
type FetchFunc func(ctx context.Context, url string) (*http.Response, error)

// Relay handles stream requests end to end.
type Relay struct {
	registry *provider.Registry
	selector *routing.Selector
	sessions *session.Store
	resolver *resolve.Resolver
	fetch    FetchFunc
	onEvent  routing.EventFunc
}

// NewRelay wires a relay. fetch and onEvent may be nil; a nil fetch uses a
// direct HTTP client with the given response header timeout.
func NewRelay(
	registry *provider.Registry,
	selector *routing.Selector,
	sessions *session.Store,
	resolver *resolve.Resolver,
	fetch FetchFunc,
	onEvent routing.EventFunc,
	headerTimeout time.Duration,
	userAgent func() string,
) *Relay {
	if fetch == nil {
		fetch = DirectFetch(headerTimeout, userAgent)
	}
	return &Relay{
		registry: registry,
		selector: selector,
		sessions: sessions,
		resolver: resolver,
		fetch:    fetch,
		onEvent:  onEvent,
	}
}

// DirectFetch returns a FetchFunc that opens upstream streams with a bounded
// response header wait. The body is left unbounded so long-lived streams are
// not cut off.
func DirectFetch(headerTimeout time.Duration, userAgent func() string) FetchFunc {
	client := &http.Client{
		Transport: &http.Transport{ResponseHeaderTimeout: headerTimeout},
	}
	return func(ctx context.Context, url string) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		if userAgent != nil {
			if ua := userAgent(); ua != "" {
				req.Header.Set("User-Agent", ua)
			}
		}
		return client.Do(req)
	}
}

// ServeStream handles GET /stream/{channelId}. It selects a provider for the
// client, fetches the upstream stream, and relays it. Upstream failure walks
// higher tiers until one answers; full exhaustion returns 503.
func (rl *Relay) ServeStream(w http.ResponseWriter, r *http.Request, channelID string) {
	ip := ClientIP(r)
	userID := r.Header.Get(HeaderUserID)
	if userID == "" {
		userID = DefaultUserID(ip)
	}

	var current string
	if sess, ok := rl.sessions.Get(ip); ok {
		current = sess.ProviderName
	}

	initial, err := rl.selector.Select(ip, userID, current)
	if err != nil {
		http.Error(w, "no available providers", http.StatusServiceUnavailable)
		return
	}

	resp, winner, ok := rl.fetchWithFailover(r.Context(), initial, channelID)
	if !ok {
		http.Error(w, "no available providers", http.StatusServiceUnavailable)
		return
	}
	defer resp.Body.Close()

	escalated := winner.Name != initial.Name
	if escalated {
		log.Printf("[relay] ip %s channel %s: escalated %s (tier %d) -> %s (tier %d)",
			ip, channelID, initial.Name, initial.Tier, winner.Name, winner.Tier)
		if rl.onEvent != nil {
			rl.onEvent(routing.FailoverEvent{
				IP:           ip,
				UserID:       userID,
				FromProvider: initial.Name,
				ToProvider:   winner.Name,
				Reason:       routing.ReasonEscalation,
				At:           time.Now(),
			})
		}
	}
	rl.sessions.Touch(ip, userID, winner.Name, winner.Tier, channelID)

	h := w.Header()
	h.Set(HeaderProvider, winner.Name)
	h.Set(HeaderTier, strconv.Itoa(winner.Tier))
	h.Set(HeaderClientIP, ip)
	h.Set(HeaderFailoverUsed, strconv.FormatBool(escalated))
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		h.Set("Content-Type", ct)
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		h.Set("Content-Length", cl)
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, resp.Body); err != nil {
		// Client disconnects are routine for live streams.
		log.Printf("[relay] ip %s channel %s: relay ended: %v", ip, channelID, err)
	}
}

// fetchWithFailover tries the initial provider, then every non-offline
// provider at a strictly higher tier, in tier order. The first upstream that
// answers 200 wins.
func (rl *Relay) fetchWithFailover(ctx context.Context, initial *provider.Provider, channelID string) (*http.Response, *provider.Provider, bool) {
	if resp, ok := rl.tryProvider(ctx, initial, channelID); ok {
		return resp, initial, true
	}
	for _, p := range rl.registry.FromTier(initial.Tier + 1) {
		if p.Name == initial.Name {
			continue
		}
		if resp, ok := rl.tryProvider(ctx, p, channelID); ok {
			return resp, p, true
		}
	}
	return nil, nil, false
}

func (rl *Relay) tryProvider(ctx context.Context, p *provider.Provider, channelID string) (*http.Response, bool) {
	url, err := rl.resolver.Resolve(ctx, p, channelID)
	if err != nil {
		if !errors.Is(err, resolve.ErrChannelNotFound) {
			log.Printf("[relay] provider %s channel %s: resolve failed: %v", p.Name, channelID, err)
		}
		return nil, false
	}

	resp, err := rl.fetch(ctx, url)
	if err != nil {
		log.Printf("[relay] provider %s channel %s: upstream fetch failed: %v", p.Name, channelID, err)
		return nil, false
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		log.Printf("[relay] provider %s channel %s: upstream status %d", p.Name, channelID, resp.StatusCode)
		return nil, false
	}
	return resp, true
}
