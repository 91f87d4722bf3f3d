package probe

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// Channel is one channel with all of its candidate stream URLs.
type Channel struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Streams []string `json:"streams"`
}

// ChannelHealthReport aggregates probe results for one channel's streams.
// Best and Worst rank online streams by latency; both are nil when nothing
// is online.
type ChannelHealthReport struct {
	ChannelID   string         `json:"channel_id"`
	ChannelName string         `json:"channel_name"`
	Streams     []StreamResult `json:"streams"`
	Best        *StreamResult  `json:"best,omitempty"`
	Worst       *StreamResult  `json:"worst,omitempty"`
	MeanLatency time.Duration  `json:"mean_latency_ns"`
	SuccessRate float64        `json:"success_rate"`
	CheckedAt   time.Time      `json:"checked_at"`
}

// ProgressFunc reports sweep progress after each completed batch.
type ProgressFunc func(done, total int)

// BatchConfig configures a channel batch prober.
type BatchConfig struct {
	Concurrency int           // max in-flight stream probes
	BatchSize   int           // channels per batch
	Pause       time.Duration // pause between batches

	// Probe checks one stream URL. Injectable for testing.
	Probe func(ctx context.Context, url string) StreamResult
}

// BatchProber probes channels in fixed-size batches with a pause between
// batches, keeping sweep load on upstreams bounded and smooth.
type BatchProber struct {
	concurrency int
	batchSize   int
	pause       time.Duration
	probe       func(ctx context.Context, url string) StreamResult
}

// NewBatchProber creates a batch prober from config, applying defaults for
// unset fields.
func NewBatchProber(cfg BatchConfig) *BatchProber {
	conc := cfg.Concurrency
	if conc <= 0 {
		conc = 10
	}
	size := cfg.BatchSize
	if size <= 0 {
		size = 20
	}
	return &BatchProber{
		concurrency: conc,
		batchSize:   size,
		pause:       cfg.Pause,
		probe:       cfg.Probe,
	}
}

// ProbeChannels probes every stream of every channel. Each batch fans out
// under the concurrency bound; progress fires once per completed batch.
// Cancelling ctx stops between probes; completed results are still returned.
func (b *BatchProber) ProbeChannels(ctx context.Context, channels []Channel, progress ProgressFunc) []ChannelHealthReport {
	total := len(channels)
	reports := make([]ChannelHealthReport, 0, total)

	for offset := 0; offset < total; offset += b.batchSize {
		end := offset + b.batchSize
		if end > total {
			end = total
		}
		batch := channels[offset:end]

		results := make([][]StreamResult, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(b.concurrency)
		for i, ch := range batch {
			results[i] = make([]StreamResult, len(ch.Streams))
			for j, u := range ch.Streams {
				i, j, u := i, j, u
				g.Go(func() error {
					results[i][j] = b.probe(gctx, u)
					return nil
				})
			}
		}
		// Probe outcomes are classified results, never errors.
		_ = g.Wait()

		for i, ch := range batch {
			reports = append(reports, BuildChannelReport(ch.ID, ch.Name, results[i]))
		}
		if progress != nil {
			progress(end, total)
		}

		if end < total && b.pause > 0 {
			select {
			case <-ctx.Done():
				return reports
			case <-time.After(b.pause):
			}
		}
	}
	return reports
}

// BuildChannelReport aggregates one channel's stream results. Success rate is
// online streams over total streams; latency ranking considers online only.
func BuildChannelReport(id, name string, results []StreamResult) ChannelHealthReport {
	rep := ChannelHealthReport{
		ChannelID:   id,
		ChannelName: name,
		Streams:     results,
		CheckedAt:   time.Now(),
	}

	var online []int
	for i, r := range results {
		if r.Status == StreamOnline {
			online = append(online, i)
		}
	}
	if len(results) > 0 {
		rep.SuccessRate = float64(len(online)) / float64(len(results))
	}
	if len(online) == 0 {
		return rep
	}

	sort.Slice(online, func(a, b int) bool {
		return results[online[a]].Latency < results[online[b]].Latency
	})
	rep.Best = &results[online[0]]
	rep.Worst = &results[online[len(online)-1]]

	var sum time.Duration
	for _, i := range online {
		sum += results[i].Latency
	}
	rep.MeanLatency = sum / time.Duration(len(online))
	return rep
}

// SweepSummary rolls up a full channel sweep.
type SweepSummary struct {
	Channels    int           `json:"channels"`
	Streams     int           `json:"streams"`
	Online      int           `json:"online"`
	Offline     int           `json:"offline"`
	Timeout     int           `json:"timeout"`
	Errored     int           `json:"errored"`
	MeanLatency time.Duration `json:"mean_latency_ns"`
	// Problematic lists channel IDs with under half their streams online.
	Problematic []string  `json:"problematic,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// BuildSweepSummary aggregates reports from one full sweep.
func BuildSweepSummary(reports []ChannelHealthReport) SweepSummary {
	sum := SweepSummary{Channels: len(reports), CompletedAt: time.Now()}
	var latencySum time.Duration
	for _, rep := range reports {
		for _, r := range rep.Streams {
			sum.Streams++
			switch r.Status {
			case StreamOnline:
				sum.Online++
				latencySum += r.Latency
			case StreamOffline:
				sum.Offline++
			case StreamTimeout:
				sum.Timeout++
			default:
				sum.Errored++
			}
		}
		if rep.SuccessRate < 0.5 {
			sum.Problematic = append(sum.Problematic, rep.ChannelID)
		}
	}
	if sum.Online > 0 {
		sum.MeanLatency = latencySum / time.Duration(sum.Online)
	}
	return sum
}
