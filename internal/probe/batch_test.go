package probe

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func fakeChannels(n, streams int) []Channel {
	out := make([]Channel, n)
	for i := range out {
		out[i] = Channel{ID: string(rune('a' + i)), Name: "ch"}
		for j := 0; j < streams; j++ {
			out[i].Streams = append(out[i].Streams, "http://example.test/s")
		}
	}
	return out
}

func TestProbeChannelsCoversEveryStream(t *testing.T) {
	var probed atomic.Int64
	b := NewBatchProber(BatchConfig{
		Concurrency: 3,
		BatchSize:   4,
		Probe: func(ctx context.Context, url string) StreamResult {
			probed.Add(1)
			return StreamResult{URL: url, Status: StreamOnline, Latency: time.Millisecond}
		},
	})

	const channels, streams = 10, 3
	reports := b.ProbeChannels(context.Background(), fakeChannels(channels, streams), nil)

	if got := probed.Load(); got != channels*streams {
		t.Fatalf("probed %d streams, want %d", got, channels*streams)
	}
	if len(reports) != channels {
		t.Fatalf("got %d reports, want %d", len(reports), channels)
	}
	for _, rep := range reports {
		if len(rep.Streams) != streams {
			t.Errorf("channel %s: %d stream results, want %d", rep.ChannelID, len(rep.Streams), streams)
		}
	}
}

func TestProbeChannelsProgressPerBatch(t *testing.T) {
	b := NewBatchProber(BatchConfig{
		BatchSize: 4,
		Probe: func(ctx context.Context, url string) StreamResult {
			return StreamResult{Status: StreamOnline}
		},
	})

	var mu sync.Mutex
	var calls [][2]int
	b.ProbeChannels(context.Background(), fakeChannels(10, 1), func(done, total int) {
		mu.Lock()
		calls = append(calls, [2]int{done, total})
		mu.Unlock()
	})

	// ceil(10/4) = 3 batches
	want := [][2]int{{4, 10}, {8, 10}, {10, 10}}
	if len(calls) != len(want) {
		t.Fatalf("progress called %d times, want %d", len(calls), len(want))
	}
	for i, c := range calls {
		if c != want[i] {
			t.Errorf("progress call %d = %v, want %v", i, c, want[i])
		}
	}
}

func TestProbeChannelsRespectsConcurrencyBound(t *testing.T) {
	var cur, peak atomic.Int64
	b := NewBatchProber(BatchConfig{
		Concurrency: 2,
		BatchSize:   50,
		Probe: func(ctx context.Context, url string) StreamResult {
			n := cur.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			cur.Add(-1)
			return StreamResult{Status: StreamOnline}
		},
	})

	b.ProbeChannels(context.Background(), fakeChannels(10, 2), nil)

	if p := peak.Load(); p > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", p)
	}
}

func TestBuildChannelReportRanking(t *testing.T) {
	results := []StreamResult{
		{URL: "slow", Status: StreamOnline, Latency: 300 * time.Millisecond},
		{URL: "down", Status: StreamOffline},
		{URL: "fast", Status: StreamOnline, Latency: 50 * time.Millisecond},
		{URL: "hung", Status: StreamTimeout},
	}
	rep := BuildChannelReport("c1", "Channel One", results)

	if rep.Best == nil || rep.Best.URL != "fast" {
		t.Fatalf("Best = %+v, want fast", rep.Best)
	}
	if rep.Worst == nil || rep.Worst.URL != "slow" {
		t.Fatalf("Worst = %+v, want slow", rep.Worst)
	}
	if rep.SuccessRate != 0.5 {
		t.Errorf("success rate = %v, want 0.5", rep.SuccessRate)
	}
	if rep.MeanLatency != 175*time.Millisecond {
		t.Errorf("mean latency = %v, want 175ms", rep.MeanLatency)
	}
}

func TestBuildChannelReportAllDown(t *testing.T) {
	rep := BuildChannelReport("c1", "n", []StreamResult{
		{Status: StreamOffline}, {Status: StreamError},
	})
	if rep.Best != nil || rep.Worst != nil {
		t.Errorf("Best/Worst should be nil when nothing is online")
	}
	if rep.SuccessRate != 0 {
		t.Errorf("success rate = %v, want 0", rep.SuccessRate)
	}
}

func TestBuildSweepSummary(t *testing.T) {
	reports := []ChannelHealthReport{
		BuildChannelReport("a", "", []StreamResult{
			{Status: StreamOnline, Latency: 100 * time.Millisecond},
			{Status: StreamOnline, Latency: 200 * time.Millisecond},
		}),
		BuildChannelReport("b", "", []StreamResult{
			{Status: StreamOffline},
			{Status: StreamTimeout},
			{Status: StreamError},
		}),
	}
	sum := BuildSweepSummary(reports)

	if sum.Channels != 2 || sum.Streams != 5 {
		t.Fatalf("channels=%d streams=%d, want 2/5", sum.Channels, sum.Streams)
	}
	if sum.Online != 2 || sum.Offline != 1 || sum.Timeout != 1 || sum.Errored != 1 {
		t.Errorf("counts = %d/%d/%d/%d", sum.Online, sum.Offline, sum.Timeout, sum.Errored)
	}
	if sum.MeanLatency != 150*time.Millisecond {
		t.Errorf("mean latency = %v, want 150ms", sum.MeanLatency)
	}
	if len(sum.Problematic) != 1 || sum.Problematic[0] != "b" {
		t.Errorf("problematic = %v, want [b]", sum.Problematic)
	}
}
