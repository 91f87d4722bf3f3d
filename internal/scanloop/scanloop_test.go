package scanloop

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestRunTicksAndStops(t *testing.T) {
	stopCh := make(chan struct{})
	done := make(chan struct{})
	var ticks atomic.Int64

	go func() {
		defer close(done)
		Run(stopCh, 10*time.Millisecond, 0, func() { ticks.Add(1) })
	}()

	deadline := time.After(2 * time.Second)
	for ticks.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d ticks before deadline", ticks.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	close(stopCh)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestRunNowFiresImmediately(t *testing.T) {
	stopCh := make(chan struct{})
	defer close(stopCh)
	fired := make(chan struct{}, 1)

	go RunNow(stopCh, time.Hour, 0, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("RunNow did not execute immediately")
	}
}

func TestRunNowSkipsWhenAlreadyStopped(t *testing.T) {
	stopCh := make(chan struct{})
	close(stopCh)

	ran := false
	RunNow(stopCh, time.Hour, 0, func() { ran = true })
	if ran {
		t.Error("fn ran despite closed stop channel")
	}
}
