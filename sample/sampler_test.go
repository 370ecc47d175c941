package sample

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honeycombio/statproxy/config"
	"github.com/honeycombio/statproxy/logger"
	"github.com/honeycombio/statproxy/metrics"
	"github.com/honeycombio/statproxy/parse"
	"github.com/honeycombio/statproxy/types"
)

// stubRand replays a fixed sequence of draws.
type stubRand struct {
	vals []int64
	i    int
}

func (s *stubRand) Next() int64 {
	v := s.vals[s.i%len(s.vals)]
	s.i++
	return v
}

func newTestSampler(t *testing.T, sc config.SamplerConfig) (*Sampler, *clockwork.FakeClock, *metrics.MockMetrics) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	met := &metrics.MockMetrics{}
	met.Start()
	s := &Sampler{
		Config:  &config.MockConfig{Sampler: sc},
		Logger:  &logger.NullLogger{},
		Metrics: met,
		Clock:   clock,
	}
	require.NoError(t, s.Start())
	return s, clock, met
}

func mustParse(t *testing.T, line string) types.ParsedLine {
	t.Helper()
	parsed, err := parse.Line([]byte(line))
	require.NoError(t, err)
	return parsed
}

func collectFlush(s *Sampler) []string {
	var lines []string
	s.Flush(func(key string, line []byte) {
		lines = append(lines, string(line))
	})
	return lines
}

func TestSamplerRejectsNegativeThreshold(t *testing.T) {
	s := &Sampler{
		Config:  &config.MockConfig{Sampler: config.SamplerConfig{Threshold: -1}},
		Logger:  &logger.NullLogger{},
		Metrics: &metrics.NullMetrics{},
		Clock:   clockwork.NewFakeClock(),
	}
	assert.Error(t, s.Start())
}

func TestCounterThresholdTransition(t *testing.T) {
	s, _, _ := newTestSampler(t, config.SamplerConfig{Threshold: 2, Window: 10, Cardinality: 100, TTL: 300})

	line := mustParse(t, "foo:1|c")
	assert.Equal(t, types.NotSampling, s.ConsiderCounter(line))
	assert.Equal(t, types.NotSampling, s.ConsiderCounter(line))
	assert.Equal(t, types.Sampling, s.ConsiderCounter(line))
	assert.True(t, s.IsSampling([]byte("foo"), types.Counter))

	lines := collectFlush(s)
	assert.Equal(t, []string{"foo:1|c@1"}, lines)

	// sampling is sticky across the flush (the window that triggered
	// it was over threshold), so the next observation is absorbed
	assert.Equal(t, types.Sampling, s.ConsiderCounter(line))
	// the next window boundary sees a single observation and returns
	// the key to pass-through mode
	s.UpdateFlags()
	assert.False(t, s.IsSampling([]byte("foo"), types.Counter))
}

func TestCounterPresampleCompensation(t *testing.T) {
	s, _, _ := newTestSampler(t, config.SamplerConfig{Threshold: 0, Window: 10, Cardinality: 100, TTL: 300})

	line := mustParse(t, "foo:2|c|@0.5")
	// admission is always pass-through
	assert.Equal(t, types.NotSampling, s.ConsiderCounter(line))
	assert.Equal(t, types.Sampling, s.ConsiderCounter(line))
	assert.Equal(t, types.Sampling, s.ConsiderCounter(line))

	// sum = 2*(2/0.5) = 8, count = 2*(1/0.5) = 4: the emitted value is
	// sum/count and the rate 1/count recovers the true total
	lines := collectFlush(s)
	require.Equal(t, []string{"foo:2|c@0.25"}, lines)
}

func TestCounterFlushResetsAccumulators(t *testing.T) {
	s, _, _ := newTestSampler(t, config.SamplerConfig{Threshold: 0, Window: 10, Cardinality: 100, TTL: 300})

	line := mustParse(t, "foo:3|c")
	s.ConsiderCounter(line)
	s.ConsiderCounter(line)
	collectFlush(s)

	b := s.buckets["foo"]
	require.NotNil(t, b)
	assert.Zero(t, b.sum)
	assert.Zero(t, b.count)
	assert.Zero(t, b.lastWindowCount)
}

func TestGaugeFlush(t *testing.T) {
	s, _, _ := newTestSampler(t, config.SamplerConfig{Threshold: 1, Window: 10, Cardinality: 100, TTL: 300})

	// gauges ignore the presample rate entirely
	line := mustParse(t, "temp:10|g|@0.1")
	assert.Equal(t, types.NotSampling, s.ConsiderGauge(line))
	assert.Equal(t, types.Sampling, s.ConsiderGauge(line))
	line2 := mustParse(t, "temp:20|g")
	assert.Equal(t, types.Sampling, s.ConsiderGauge(line2))

	lines := collectFlush(s)
	assert.Equal(t, []string{"temp:15|g"}, lines)
}

func TestTimerExtremaAndReservoir(t *testing.T) {
	s, _, _ := newTestSampler(t, config.SamplerConfig{
		Threshold: 2, Window: 10, Cardinality: 100, TTL: 300, TimerFlushMinMax: true,
	})

	for _, v := range []string{"lat:10|ms", "lat:20|ms"} {
		assert.Equal(t, types.NotSampling, s.ConsiderTimer(mustParse(t, v)))
	}
	// third observation trips sampling and becomes the held-out upper
	assert.Equal(t, types.Sampling, s.ConsiderTimer(mustParse(t, "lat:30|ms")))
	// new lower, also held out of the reservoir
	assert.Equal(t, types.Sampling, s.ConsiderTimer(mustParse(t, "lat:5|ms")))
	// interior value fills reservoir slot 0
	assert.Equal(t, types.Sampling, s.ConsiderTimer(mustParse(t, "lat:15|ms")))
	// displaces the max: 40 becomes upper, the old max 30 falls into
	// reservoir slot 1
	assert.Equal(t, types.Sampling, s.ConsiderTimer(mustParse(t, "lat:40|ms")))

	// extremum lines precede reservoir lines; rate for reservoir lines
	// is num_samples/count = 2/2
	lines := collectFlush(s)
	assert.Equal(t, []string{
		"lat:40|ms@1",
		"lat:5|ms@1",
		"lat:15|ms@1",
		"lat:30|ms@1",
	}, lines)

	// after the flush the bucket is fully reset
	b := s.buckets["lat"]
	require.NotNil(t, b)
	assert.Zero(t, b.sum)
	assert.Zero(t, b.count)
	assert.Equal(t, minNormalFloat64, b.upper)
	assert.Equal(t, math.MaxFloat64, b.lower)
	for _, v := range b.reservoir {
		assert.True(t, math.IsNaN(v))
	}
}

func TestTimerExtremaOnlyWindowEmitsNothing(t *testing.T) {
	s, _, _ := newTestSampler(t, config.SamplerConfig{
		Threshold: 2, Window: 10, Cardinality: 100, TTL: 300, TimerFlushMinMax: true,
	})

	// both sampled observations land in the held-out extrema, so the
	// accumulators never move and the flush emits nothing
	s.ConsiderTimer(mustParse(t, "lat:10|ms"))
	s.ConsiderTimer(mustParse(t, "lat:20|ms"))
	s.ConsiderTimer(mustParse(t, "lat:30|ms"))
	s.ConsiderTimer(mustParse(t, "lat:5|ms"))

	assert.Empty(t, collectFlush(s))
}

func TestTimerReservoirReplacement(t *testing.T) {
	testCases := []struct {
		name string
		draw int64
		want string
	}{
		// k = draw mod last_window_count(5); k < threshold(1) replaces
		{"replaces slot", 5, "t:8|ms@0.5"},
		{"keeps slot", 6, "t:7|ms@0.5"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, _, _ := newTestSampler(t, config.SamplerConfig{Threshold: 1, Window: 10, Cardinality: 100, TTL: 300})
			s.Rand = &stubRand{vals: []int64{tc.draw}}

			s.ConsiderTimer(mustParse(t, "t:9|ms"))  // admission
			s.ConsiderTimer(mustParse(t, "t:10|ms")) // sampling; held-out upper
			s.ConsiderTimer(mustParse(t, "t:5|ms"))  // held-out lower
			s.ConsiderTimer(mustParse(t, "t:7|ms"))  // fills slot 0
			s.ConsiderTimer(mustParse(t, "t:8|ms"))  // replacement draw

			assert.Equal(t, []string{tc.want}, collectFlush(s))
		})
	}
}

func TestCardinalityLimit(t *testing.T) {
	s, _, met := newTestSampler(t, config.SamplerConfig{Threshold: 2, Window: 10, Cardinality: 1, TTL: 300})

	assert.Equal(t, types.NotSampling, s.ConsiderCounter(mustParse(t, "a:1|c")))
	assert.Equal(t, types.Flagged, s.ConsiderCounter(mustParse(t, "b:1|c")))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 1, met.CounterValue("sampler_flagged"))

	// existing keys are unaffected by the limit
	assert.Equal(t, types.NotSampling, s.ConsiderCounter(mustParse(t, "a:1|c")))
}

func TestIsSamplingTypeMismatch(t *testing.T) {
	s, _, _ := newTestSampler(t, config.SamplerConfig{Threshold: 0, Window: 10, Cardinality: 100, TTL: 300})

	line := mustParse(t, "foo:1|c")
	s.ConsiderCounter(line)
	s.ConsiderCounter(line)
	assert.True(t, s.IsSampling([]byte("foo"), types.Counter))
	assert.False(t, s.IsSampling([]byte("foo"), types.Timer))
	assert.False(t, s.IsSampling([]byte("bar"), types.Counter))
}

func TestExpireSkipsSamplingBuckets(t *testing.T) {
	s, clock, _ := newTestSampler(t, config.SamplerConfig{Threshold: 0, Window: 10, Cardinality: 100, TTL: 60})

	idle := mustParse(t, "idle:1|c")
	hot := mustParse(t, "hot:1|c")
	s.ConsiderCounter(idle)
	s.ConsiderCounter(hot)
	s.ConsiderCounter(hot) // trips sampling

	clock.Advance(61 * time.Second)
	s.Expire()

	assert.Equal(t, 1, s.Len())
	assert.True(t, s.IsSampling([]byte("hot"), types.Counter))

	// two quiet window boundaries drop the hot key out of sampling
	// (the first still sees the over-threshold window count), after
	// which it becomes expirable
	s.UpdateFlags()
	s.UpdateFlags()
	clock.Advance(61 * time.Second)
	s.Expire()
	assert.Equal(t, 0, s.Len())
}

func TestExpireKeepsFreshBuckets(t *testing.T) {
	s, clock, _ := newTestSampler(t, config.SamplerConfig{Threshold: 10, Window: 10, Cardinality: 100, TTL: 60})

	s.ConsiderCounter(mustParse(t, "a:1|c"))
	clock.Advance(30 * time.Second)
	s.Expire()
	assert.Equal(t, 1, s.Len())
}

func TestEmitOverflowGuard(t *testing.T) {
	s, _, met := newTestSampler(t, config.SamplerConfig{Threshold: 0, Window: 10, Cardinality: 100, TTL: 300})

	key := strings.Repeat("k", types.MaxUDPLength)
	line := mustParse(t, key+":1|c")
	s.ConsiderCounter(line)
	s.ConsiderCounter(line)

	assert.Empty(t, collectFlush(s))
	assert.Equal(t, 1, met.CounterValue("sampler_line_overflow"))

	// the bucket still progressed through the window boundary
	b := s.buckets[key]
	require.NotNil(t, b)
	assert.Zero(t, b.count)
	assert.Zero(t, b.lastWindowCount)
}

func TestFlushSinkBufferReuse(t *testing.T) {
	s, _, _ := newTestSampler(t, config.SamplerConfig{Threshold: 0, Window: 10, Cardinality: 100, TTL: 300})

	for _, l := range []string{"a:1|c", "a:1|c", "b:2|c", "b:2|c"} {
		s.ConsiderCounter(mustParse(t, l))
	}

	var bufs [][]byte
	s.Flush(func(key string, line []byte) {
		bufs = append(bufs, line)
	})
	require.Len(t, bufs, 2)
	// the sink gets the same backing buffer every call
	assert.Same(t, &bufs[0][0], &bufs[1][0])
}
