package probe

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tiergate/tiergate/internal/provider"
)

// ChannelLister enumerates the channels a provider currently serves.
// Implemented by the stream resolver.
type ChannelLister interface {
	ListChannels(ctx context.Context, p *provider.Provider) ([]Channel, error)
}

// Sweeper runs full channel health sweeps on a cron schedule and retains the
// most recent reports per provider for the status API.
type Sweeper struct {
	registry *provider.Registry
	lister   ChannelLister
	batch    *BatchProber
	cron     *cron.Cron

	mu      sync.Mutex
	running bool
	reports map[string][]ChannelHealthReport
	summary map[string]SweepSummary
}

// NewSweeper creates a channel sweeper. The schedule must already be
// validated at configuration load.
func NewSweeper(registry *provider.Registry, lister ChannelLister, batch *BatchProber, schedule string) (*Sweeper, error) {
	s := &Sweeper{
		registry: registry,
		lister:   lister,
		batch:    batch,
		cron:     cron.New(),
		reports:  make(map[string][]ChannelHealthReport),
		summary:  make(map[string]SweepSummary),
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.SweepAll(context.Background()) }); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the cron schedule.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// SweepAll probes the channel lineup of every non-offline provider.
// Overlapping sweeps collapse to one; a second trigger while a sweep runs is
// a no-op.
func (s *Sweeper) SweepAll(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		log.Printf("[sweep] sweep already running, skipping trigger")
		return
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	for _, p := range s.registry.Ordered() {
		if p.Health().Status == provider.HealthOffline {
			continue
		}
		s.sweepProvider(ctx, p)
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Sweeper) sweepProvider(ctx context.Context, p *provider.Provider) {
	channels, err := s.lister.ListChannels(ctx, p)
	if err != nil {
		log.Printf("[sweep] provider %s: channel listing failed: %v", p.Name, err)
		return
	}
	if len(channels) == 0 {
		return
	}

	start := time.Now()
	reports := s.batch.ProbeChannels(ctx, channels, func(done, total int) {
		log.Printf("[sweep] provider %s: %d/%d channels", p.Name, done, total)
	})
	summary := BuildSweepSummary(reports)

	s.mu.Lock()
	s.reports[p.Name] = reports
	s.summary[p.Name] = summary
	s.mu.Unlock()

	log.Printf("[sweep] provider %s: %d channels, %d/%d streams online in %s",
		p.Name, summary.Channels, summary.Online, summary.Streams, time.Since(start).Round(time.Millisecond))
}

// Reports returns the latest sweep reports for a provider.
func (s *Sweeper) Reports(providerName string) ([]ChannelHealthReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[providerName]
	return r, ok
}

// Summaries returns the latest sweep summary per provider.
func (s *Sweeper) Summaries() map[string]SweepSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]SweepSummary, len(s.summary))
	for k, v := range s.summary {
		out[k] = v
	}
	return out
}
