package sample

import (
	"math"

	"github.com/honeycombio/statproxy/types"
)

// minNormalFloat64 is C's DBL_MIN, the smallest positive normal
// double. It doubles as the "upper extremum unset" sentinel; lower
// uses MaxFloat64. Timer values in this ecosystem are non-negative,
// so any observation above zero clears the upper sentinel; a value of
// exactly zero leaves it set.
const minNormalFloat64 = 0x1p-1022

// bucket holds the per-key aggregation and sampling state. A bucket's
// metric type never changes after admission. While sampling is false
// the bucket accumulates no value-bearing state.
type bucket struct {
	metricType types.MetricType
	sampling   bool

	// observations since the last window tick
	lastWindowCount uint64

	// unix second of the bucket's last modification
	lastModifiedAt int64

	// sum and count are sample-rate-compensated reconstructions of the
	// accumulated value and event count
	sum   float64
	count float64

	// timer-only state: running window extrema with the presample rates
	// they arrived with, and the reservoir of sampled values (NaN =
	// empty slot)
	upper           float64
	lower           float64
	upperSampleRate float64
	lowerSampleRate float64
	reservoir       []float64
	reservoirIndex  int
}

func newBucket(t types.MetricType, now int64) *bucket {
	return &bucket{
		metricType:     t,
		lastModifiedAt: now,
	}
}

func newTimerBucket(reservoirSize int, now int64) *bucket {
	b := newBucket(types.Timer, now)
	b.upper = minNormalFloat64
	b.lower = math.MaxFloat64
	b.reservoir = make([]float64, reservoirSize)
	for i := range b.reservoir {
		b.reservoir[i] = math.NaN()
	}
	return b
}
