package session

import (
	"sync"
	"testing"
	"time"
)

type occupancyRecorder struct {
	mu      sync.Mutex
	admits  map[string]map[string]int // provider -> ip -> count
	evicts  map[string]map[string]int
	holding map[string]map[string]bool
}

func newOccupancyRecorder() *occupancyRecorder {
	return &occupancyRecorder{
		admits:  map[string]map[string]int{},
		evicts:  map[string]map[string]int{},
		holding: map[string]map[string]bool{},
	}
}

func (o *occupancyRecorder) hooks() OccupancyHooks {
	return OccupancyHooks{
		Admit: func(p, ip string) {
			o.mu.Lock()
			defer o.mu.Unlock()
			bump(o.admits, p, ip)
			if o.holding[p] == nil {
				o.holding[p] = map[string]bool{}
			}
			o.holding[p][ip] = true
		},
		Evict: func(p, ip string) {
			o.mu.Lock()
			defer o.mu.Unlock()
			bump(o.evicts, p, ip)
			delete(o.holding[p], ip)
		},
	}
}

func bump(m map[string]map[string]int, p, ip string) {
	if m[p] == nil {
		m[p] = map[string]int{}
	}
	m[p][ip]++
}

func (o *occupancyRecorder) admitCount(p, ip string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.admits[p][ip]
}

func (o *occupancyRecorder) evictCount(p, ip string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.evicts[p][ip]
}

func TestTouchCreatesSession(t *testing.T) {
	rec := newOccupancyRecorder()
	store := NewStore(rec.hooks(), nil)

	s := store.Touch("10.0.0.1", "user_10.0.0.1", "premium", 0, "42")

	if s.IP != "10.0.0.1" || s.UserID != "user_10.0.0.1" || s.ProviderName != "premium" {
		t.Fatalf("session = %+v", s)
	}
	if s.RequestCount != 1 {
		t.Errorf("request count = %d, want 1", s.RequestCount)
	}
	if _, ok := s.Channels["42"]; !ok {
		t.Errorf("channel 42 not recorded")
	}
	if s.Start.IsZero() || s.LastActivity.IsZero() {
		t.Errorf("timestamps not set")
	}
	if rec.admitCount("premium", "10.0.0.1") != 1 {
		t.Errorf("admit count = %d, want 1", rec.admitCount("premium", "10.0.0.1"))
	}
}

func TestTouchUpdatesInPlace(t *testing.T) {
	rec := newOccupancyRecorder()
	store := NewStore(rec.hooks(), nil)

	first := store.Touch("10.0.0.1", "u", "premium", 0, "42")
	second := store.Touch("10.0.0.1", "u", "premium", 0, "99")

	if second.RequestCount != 2 {
		t.Errorf("request count = %d, want 2", second.RequestCount)
	}
	if !second.Start.Equal(first.Start) {
		t.Errorf("session start changed across touches")
	}
	if len(second.Channels) != 2 {
		t.Errorf("channels = %v, want two entries", second.ChannelList())
	}
	// Same provider: exactly one admit, no evicts.
	if rec.admitCount("premium", "10.0.0.1") != 1 {
		t.Errorf("admit count = %d, want 1", rec.admitCount("premium", "10.0.0.1"))
	}
	if rec.evictCount("premium", "10.0.0.1") != 0 {
		t.Errorf("unexpected evict")
	}
}

func TestTouchProviderChangeMovesOccupancy(t *testing.T) {
	rec := newOccupancyRecorder()
	store := NewStore(rec.hooks(), nil)

	store.Touch("10.0.0.1", "u", "premium", 0, "42")
	store.Touch("10.0.0.1", "u", "backup", 1, "42")

	if rec.evictCount("premium", "10.0.0.1") != 1 {
		t.Errorf("premium evict count = %d, want 1", rec.evictCount("premium", "10.0.0.1"))
	}
	if rec.admitCount("backup", "10.0.0.1") != 1 {
		t.Errorf("backup admit count = %d, want 1", rec.admitCount("backup", "10.0.0.1"))
	}
	s, _ := store.Get("10.0.0.1")
	if s.ProviderName != "backup" || s.Tier != 1 {
		t.Errorf("session = %+v, want backup tier 1", s)
	}
}

func TestTouchSnapshotChannelsDoNotAlias(t *testing.T) {
	store := NewStore(OccupancyHooks{}, nil)

	before := store.Touch("10.0.0.1", "u", "premium", 0, "1")
	store.Touch("10.0.0.1", "u", "premium", 0, "2")

	if len(before.Channels) != 1 {
		t.Fatalf("earlier snapshot mutated: %v", before.ChannelList())
	}
}

func TestDirtyCallbackFiresOnEveryTouch(t *testing.T) {
	var dirty []Session
	store := NewStore(OccupancyHooks{}, func(s Session) { dirty = append(dirty, s) })

	store.Touch("10.0.0.1", "u", "premium", 0, "1")
	store.Touch("10.0.0.1", "u", "premium", 0, "2")

	if len(dirty) != 2 {
		t.Fatalf("dirty callback fired %d times, want 2", len(dirty))
	}
}

func TestExpireOlderThanDecrementsOccupancyOnce(t *testing.T) {
	rec := newOccupancyRecorder()
	store := NewStore(rec.hooks(), nil)

	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	store.Touch("10.0.0.1", "u", "premium", 0, "42")
	store.now = func() time.Time { return base.Add(time.Hour) }
	store.Touch("10.0.0.2", "u2", "premium", 0, "42")

	cutoff := base.Add(30 * time.Minute)
	expired := store.expireOlderThan(cutoff)

	if len(expired) != 1 || expired[0].IP != "10.0.0.1" {
		t.Fatalf("expired = %+v, want just 10.0.0.1", expired)
	}
	if rec.evictCount("premium", "10.0.0.1") != 1 {
		t.Errorf("evict count = %d, want exactly 1", rec.evictCount("premium", "10.0.0.1"))
	}
	if rec.evictCount("premium", "10.0.0.2") != 0 {
		t.Errorf("fresh session evicted")
	}

	// A second sweep with the same cutoff must be a no-op.
	if again := store.expireOlderThan(cutoff); len(again) != 0 {
		t.Fatalf("second sweep expired %d sessions, want 0", len(again))
	}
	if rec.evictCount("premium", "10.0.0.1") != 1 {
		t.Errorf("evict count after second sweep = %d, want 1", rec.evictCount("premium", "10.0.0.1"))
	}
}

func TestExpirerSweepOnce(t *testing.T) {
	rec := newOccupancyRecorder()
	store := NewStore(rec.hooks(), nil)

	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	store.Touch("10.0.0.1", "u", "premium", 0, "42")
	store.now = func() time.Time { return base.Add(time.Hour) }

	var gone []Session
	exp := NewExpirer(store, func() time.Duration { return 30 * time.Minute }, time.Minute, 0,
		func(s Session) { gone = append(gone, s) })
	exp.SweepOnce()

	if store.Len() != 0 {
		t.Fatalf("store still holds %d sessions", store.Len())
	}
	if len(gone) != 1 || gone[0].IP != "10.0.0.1" {
		t.Fatalf("expire callback = %+v", gone)
	}
}

func TestRemoveReleasesOccupancy(t *testing.T) {
	rec := newOccupancyRecorder()
	store := NewStore(rec.hooks(), nil)

	store.Touch("10.0.0.1", "u", "premium", 0, "42")
	if _, ok := store.Remove("10.0.0.1"); !ok {
		t.Fatal("Remove reported missing session")
	}
	if rec.evictCount("premium", "10.0.0.1") != 1 {
		t.Errorf("evict count = %d, want 1", rec.evictCount("premium", "10.0.0.1"))
	}
	if _, ok := store.Remove("10.0.0.1"); ok {
		t.Error("second Remove should report missing")
	}
}

func TestConcurrentTouchSingleAdmit(t *testing.T) {
	rec := newOccupancyRecorder()
	store := NewStore(rec.hooks(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Touch("10.0.0.1", "u", "premium", 0, "42")
		}()
	}
	wg.Wait()

	s, ok := store.Get("10.0.0.1")
	if !ok || s.RequestCount != 32 {
		t.Fatalf("request count = %d, want 32", s.RequestCount)
	}
	if store.Len() != 1 {
		t.Errorf("store size = %d, want 1", store.Len())
	}
}
