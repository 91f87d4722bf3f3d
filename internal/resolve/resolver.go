package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/maypok86/otter"
	"github.com/zeebo/xxh3"

	"github.com/tiergate/tiergate/internal/config"
	"github.com/tiergate/tiergate/internal/netutil"
	"github.com/tiergate/tiergate/internal/probe"
	"github.com/tiergate/tiergate/internal/provider"
)

// ErrChannelNotFound means the provider's playlist does not carry the
// requested channel and fuzzy matching is not enabled for the provider.
var ErrChannelNotFound = errors.New("resolve: channel not found")

// Resolver maps channel IDs to stream URLs. Xtream providers are templated
// with no network round trip; playlist providers are fetched and cached.
type Resolver struct {
	downloader netutil.Downloader
	cache      otter.Cache[string, []Track]
}

// Caches below otter's minimum viable capacity silently reject writes, which
// would turn every request into a playlist re-download.
const minCacheCapacity = 64

// NewResolver creates a resolver with a TTL-bounded playlist cache. Capacities
// below the working minimum are floored rather than rejected.
func NewResolver(downloader netutil.Downloader, cacheCapacity int, cacheTTL time.Duration) (*Resolver, error) {
	if cacheCapacity < minCacheCapacity {
		cacheCapacity = minCacheCapacity
	}
	cache, err := otter.MustBuilder[string, []Track](cacheCapacity).
		Cost(func(_ string, _ []Track) uint32 { return 1 }).
		WithTTL(cacheTTL).
		Build()
	if err != nil {
		return nil, fmt.Errorf("resolve: playlist cache: %w", err)
	}
	return &Resolver{downloader: downloader, cache: cache}, nil
}

// Close releases the playlist cache.
func (r *Resolver) Close() {
	r.cache.Close()
}

// Resolve returns the upstream URL serving channelID on provider p.
func (r *Resolver) Resolve(ctx context.Context, p *provider.Provider, channelID string) (string, error) {
	if p.Xtream != nil {
		return XtreamStreamURL(p.Xtream, channelID), nil
	}

	tracks, err := r.playlist(ctx, p)
	if err != nil {
		return "", err
	}
	for _, t := range tracks {
		if t.ID == channelID {
			return t.URL, nil
		}
	}
	if p.AllowFuzzyMatch && len(tracks) > 0 {
		idx := xxh3.HashString(channelID) % uint64(len(tracks))
		t := tracks[idx]
		log.Printf("[resolve] provider %s: fuzzy match %s -> %s", p.Name, channelID, t.ID)
		return t.URL, nil
	}
	return "", ErrChannelNotFound
}

// XtreamStreamURL builds the live stream URL for a channel on an Xtream
// provider: {server}/live/{user}/{pass}/{channel}.m3u8
func XtreamStreamURL(x *config.XtreamConfig, channelID string) string {
	return fmt.Sprintf("%s/live/%s/%s/%s.m3u8",
		strings.TrimRight(x.ServerURL, "/"), x.Username, x.Password, channelID)
}

// playlist returns the provider's parsed playlist, fetching on cache miss.
func (r *Resolver) playlist(ctx context.Context, p *provider.Provider) ([]Track, error) {
	if tracks, ok := r.cache.Get(p.Name); ok {
		return tracks, nil
	}
	body, err := r.downloader.Download(ctx, p.PlaylistURL)
	if err != nil {
		return nil, fmt.Errorf("resolve: playlist fetch for %s: %w", p.Name, err)
	}
	tracks := ParseM3U(body)
	r.cache.Set(p.Name, tracks)
	return tracks, nil
}

// Invalidate drops the cached playlist for a provider.
func (r *Resolver) Invalidate(providerName string) {
	r.cache.Delete(providerName)
}

// ListChannels enumerates a provider's channel lineup for health sweeps.
// Playlist tracks sharing an ID collapse into one channel with multiple
// streams; Xtream lineups come from the player API.
func (r *Resolver) ListChannels(ctx context.Context, p *provider.Provider) ([]probe.Channel, error) {
	if p.Xtream != nil {
		return r.xtreamLineup(ctx, p)
	}

	tracks, err := r.playlist(ctx, p)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]int)
	var channels []probe.Channel
	for _, t := range tracks {
		if t.ID == "" {
			continue
		}
		if idx, ok := byID[t.ID]; ok {
			channels[idx].Streams = append(channels[idx].Streams, t.URL)
			continue
		}
		byID[t.ID] = len(channels)
		channels = append(channels, probe.Channel{ID: t.ID, Name: t.Name, Streams: []string{t.URL}})
	}
	return channels, nil
}

// xtreamLiveStream is one entry from player_api.php?action=get_live_streams.
type xtreamLiveStream struct {
	StreamID json.Number `json:"stream_id"`
	Name     string      `json:"name"`
}

func (r *Resolver) xtreamLineup(ctx context.Context, p *provider.Provider) ([]probe.Channel, error) {
	url := fmt.Sprintf("%s/player_api.php?username=%s&password=%s&action=get_live_streams",
		strings.TrimRight(p.Xtream.ServerURL, "/"), p.Xtream.Username, p.Xtream.Password)
	body, err := r.downloader.Download(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("resolve: xtream lineup for %s: %w", p.Name, err)
	}

	var entries []xtreamLiveStream
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("resolve: xtream lineup for %s: %w", p.Name, err)
	}

	channels := make([]probe.Channel, 0, len(entries))
	for _, e := range entries {
		id := e.StreamID.String()
		if id == "" {
			continue
		}
		channels = append(channels, probe.Channel{
			ID:      id,
			Name:    e.Name,
			Streams: []string{XtreamStreamURL(p.Xtream, id)},
		})
	}
	return channels, nil
}
