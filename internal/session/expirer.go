package session

import (
	"log"
	"sync"
	"time"

	"github.com/tiergate/tiergate/internal/scanloop"
)

// ExpireFunc is notified for each expired session, after its occupancy slot
// has been released.
type ExpireFunc func(s Session)

// Expirer periodically removes sessions idle past the timeout.
type Expirer struct {
	store    *Store
	timeout  func() time.Duration
	onExpire ExpireFunc

	interval time.Duration
	jitter   time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewExpirer creates a session expirer. interval defaults to the shared
// maintenance cadence.
func NewExpirer(store *Store, timeout func() time.Duration, interval, jitter time.Duration, onExpire ExpireFunc) *Expirer {
	if interval <= 0 {
		interval = scanloop.DefaultMinInterval
		jitter = scanloop.DefaultJitterRange
	}
	return &Expirer{
		store:    store,
		timeout:  timeout,
		onExpire: onExpire,
		interval: interval,
		jitter:   jitter,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the background sweep loop.
func (e *Expirer) Start() {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		scanloop.Run(e.stopCh, e.interval, e.jitter, e.SweepOnce)
	}()
}

// Stop halts the sweep loop.
func (e *Expirer) Stop() {
	close(e.stopCh)
	e.wg.Wait()
}

// SweepOnce expires every session idle past the timeout.
func (e *Expirer) SweepOnce() {
	cutoff := e.store.now().Add(-e.timeout())
	expired := e.store.expireOlderThan(cutoff)
	if len(expired) == 0 {
		return
	}
	log.Printf("[session] expired %d idle sessions", len(expired))
	if e.onExpire != nil {
		for _, s := range expired {
			e.onExpire(s)
		}
	}
}
