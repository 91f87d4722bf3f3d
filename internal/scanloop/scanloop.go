// Package scanloop runs background maintenance functions at a jittered cadence.
package scanloop

import (
	"math/rand/v2"
	"time"
)

const (
	// DefaultMinInterval and DefaultJitterRange define the shared maintenance
	// cadence used by the health prober and session expirer.
	DefaultMinInterval = 5 * time.Minute
	DefaultJitterRange = 30 * time.Second
)

// Run executes fn at a jittered interval until stopCh is closed.
// The interval is: minInterval + random([0, jitterRange)).
func Run(stopCh <-chan struct{}, minInterval, jitterRange time.Duration, fn func()) {
	if minInterval <= 0 {
		minInterval = time.Second
	}
	if jitterRange < 0 {
		jitterRange = 0
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C // drain initial fire

	for {
		interval := minInterval
		if jitterRange > 0 {
			interval += time.Duration(rand.Int64N(int64(jitterRange)))
		}

		timer.Reset(interval)
		select {
		case <-stopCh:
			return
		case <-timer.C:
		}
		fn()
	}
}

// RunNow behaves like Run but executes fn once immediately before entering the
// jittered cadence. Used by the prober so providers do not stay "unknown" for
// a full interval after startup.
func RunNow(stopCh <-chan struct{}, minInterval, jitterRange time.Duration, fn func()) {
	select {
	case <-stopCh:
		return
	default:
	}
	fn()
	Run(stopCh, minInterval, jitterRange, fn)
}
