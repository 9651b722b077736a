package engine

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turbodl/internal/events"
)

func TestAggregatorThrottlesEmission(t *testing.T) {
	counters := make([]atomic.Int64, 4)
	var emitted []events.Event
	emitter := events.EmitterFunc(func(e events.Event) { emitted = append(emitted, e) })

	agg := newAggregator("job-1", 1000, counters, emitter, func() {}, 50*time.Millisecond, time.Hour)

	counters[0].Store(100)
	agg.probe()
	require.Len(t, emitted, 1, "first probe emits immediately")

	// Probes inside the interval are dropped.
	counters[1].Store(100)
	agg.probe()
	agg.probe()
	assert.Len(t, emitted, 1)

	time.Sleep(60 * time.Millisecond)
	counters[2].Store(50)
	agg.probe()
	require.Len(t, emitted, 2)

	last := emitted[1]
	assert.Equal(t, events.Progress, last.Type)
	assert.Equal(t, "job-1", last.JobID)
	assert.Equal(t, int64(250), last.Downloaded)
	assert.Equal(t, int64(1000), last.Total)
}

func TestAggregatorSpeed(t *testing.T) {
	counters := make([]atomic.Int64, 1)
	var emitted []events.Event
	emitter := events.EmitterFunc(func(e events.Event) { emitted = append(emitted, e) })

	agg := newAggregator("job-1", 1<<20, counters, emitter, func() {}, 10*time.Millisecond, time.Hour)

	counters[0].Store(1000)
	agg.probe()
	require.Len(t, emitted, 1)
	assert.GreaterOrEqual(t, emitted[0].Speed, int64(0))

	time.Sleep(100 * time.Millisecond)
	counters[0].Store(11_000)
	agg.probe()
	require.Len(t, emitted, 2)

	// 10k bytes over ~100ms is on the order of 100 KB/s; allow a wide band
	// for scheduler jitter.
	assert.Greater(t, emitted[1].Speed, int64(10_000))
	assert.Less(t, emitted[1].Speed, int64(1_000_000))
}

func TestAggregatorSnapshotThrottle(t *testing.T) {
	counters := make([]atomic.Int64, 1)
	var snapshots atomic.Int32

	agg := newAggregator("job-1", 100, counters, events.Discard,
		func() { snapshots.Add(1) }, time.Hour, 40*time.Millisecond)

	for i := 0; i < 5; i++ {
		agg.probe()
	}
	assert.Equal(t, int32(1), snapshots.Load(), "burst collapses to one snapshot")

	time.Sleep(50 * time.Millisecond)
	agg.probe()
	assert.Equal(t, int32(2), snapshots.Load())
}
