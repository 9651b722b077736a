package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"turbodl/internal/events"
)

const (
	progressInterval = 1000 * time.Millisecond
	snapshotInterval = 5000 * time.Millisecond
)

// aggregator is the throttled reducer over the per-segment counters. Every
// worker probes it after every buffer; it emits at most one progress event
// per interval and requests a state snapshot at most once per snapshot
// interval. Probes that lose the lock are dropped — the next buffer on any
// worker retries.
type aggregator struct {
	jobID    string
	total    int64
	counters []atomic.Int64
	emitter  events.Emitter
	snapshot func()

	mu          sync.Mutex
	emitLimiter *rate.Limiter
	saveLimiter *rate.Limiter
	lastBytes   int64
	lastSample  time.Time
}

func newAggregator(jobID string, total int64, counters []atomic.Int64, emitter events.Emitter, snapshot func(), emitEvery, saveEvery time.Duration) *aggregator {
	return &aggregator{
		jobID:       jobID,
		total:       total,
		counters:    counters,
		emitter:     emitter,
		snapshot:    snapshot,
		emitLimiter: rate.NewLimiter(rate.Every(emitEvery), 1),
		saveLimiter: rate.NewLimiter(rate.Every(saveEvery), 1),
		lastBytes:   sumCounters(counters),
		lastSample:  time.Now(),
	}
}

// probe samples progress if the throttle allows it.
func (a *aggregator) probe() {
	if !a.mu.TryLock() {
		return
	}
	defer a.mu.Unlock()

	if a.emitLimiter.Allow() {
		downloaded := sumCounters(a.counters)
		now := time.Now()
		speed := int64(0)
		if elapsed := now.Sub(a.lastSample); elapsed > 0 {
			speed = (downloaded - a.lastBytes) * int64(time.Second) / int64(elapsed)
		}
		a.emitter.Emit(events.Event{
			Type:       events.Progress,
			JobID:      a.jobID,
			Downloaded: downloaded,
			Total:      a.total,
			Speed:      speed,
		})
		a.lastBytes = downloaded
		a.lastSample = now
	}

	if a.saveLimiter.Allow() {
		a.snapshot()
	}
}

func sumCounters(counters []atomic.Int64) int64 {
	var total int64
	for i := range counters {
		total += counters[i].Load()
	}
	return total
}
