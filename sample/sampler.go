// Package sample holds the adaptive per-key sampling engine. Keys
// that report more than Threshold observations in a flush window trip
// into sampling mode: their observations are absorbed into a bucket
// and reconstructed at flush time as a reduced set of synthetic lines
// carrying compensating sample rates.
package sample

import (
	"math"
	"strconv"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"

	"github.com/honeycombio/statproxy/config"
	"github.com/honeycombio/statproxy/logger"
	"github.com/honeycombio/statproxy/metrics"
	"github.com/honeycombio/statproxy/types"
)

// initialMapSize is the bucket map's initial capacity.
const initialMapSize = 32768

// FlushSink receives one reconstructed line per call during a flush.
// The line buffer is reused across calls; the sink must copy or
// forward it before returning.
type FlushSink func(key string, line []byte)

// Sampler owns the key->bucket map. It is not safe for concurrent
// use: all methods must be called from the collector's event loop
// goroutine.
type Sampler struct {
	Config  config.Config   `inject:""`
	Logger  logger.Logger   `inject:""`
	Metrics metrics.Metrics `inject:""`
	Clock   clockwork.Clock `inject:""`

	// Rand may be set before Start to pin the reservoir PRNG in tests.
	// When nil, Start installs an lrand48-compatible LCG seeded from
	// the clock.
	Rand Rand

	threshold       int
	window          int
	cardinality     int
	flushMinMax     bool
	expiryFrequency int
	ttl             int

	buckets map[string]*bucket
	line    []byte
}

func (s *Sampler) Start() error {
	s.Logger.Debugf("Starting Sampler")
	defer func() { s.Logger.Debugf("Finished starting Sampler") }()

	cfg := s.Config.GetSamplerConfig()
	if cfg.Threshold < 0 {
		return errors.Errorf("sampler threshold must not be negative, got %d", cfg.Threshold)
	}
	s.threshold = cfg.Threshold
	s.window = cfg.Window
	s.cardinality = cfg.Cardinality
	s.flushMinMax = cfg.TimerFlushMinMax
	s.expiryFrequency = cfg.ExpiryFrequency
	s.ttl = cfg.TTL

	s.buckets = make(map[string]*bucket, initialMapSize)
	s.line = make([]byte, 0, types.MaxUDPLength)
	if s.Rand == nil {
		s.Rand = newLCG48(s.Clock.Now().Unix())
	}

	s.Metrics.Register("sampler_buckets", "gauge")
	s.Metrics.Register("sampler_flagged", "counter")
	s.Metrics.Register("sampler_expired_buckets", "counter")
	s.Metrics.Register("sampler_flush_lines", "counter")
	s.Metrics.Register("sampler_line_overflow", "counter")
	return nil
}

func (s *Sampler) Stop() error {
	return nil
}

// Window returns the flush window length in seconds.
func (s *Sampler) Window() int { return s.window }

// ExpiryFrequency returns the expiry sweep interval in seconds, or -1
// if sweeping is disabled.
func (s *Sampler) ExpiryFrequency() int { return s.expiryFrequency }

// Len returns the number of tracked keys.
func (s *Sampler) Len() int { return len(s.buckets) }

// overCardinality reports whether a new key would push the map past
// the cardinality limit.
func (s *Sampler) overCardinality() bool {
	return len(s.buckets) >= s.cardinality
}

// ConsiderCounter feeds one counter observation through the sampler.
func (s *Sampler) ConsiderCounter(parsed types.ParsedLine) types.SampleResult {
	// safety check, also enforced by the caller
	if parsed.Type != types.Counter {
		return types.NotSampling
	}

	b, ok := s.buckets[string(parsed.Key)]
	if !ok {
		// only flag if it's a new metric
		if s.overCardinality() {
			s.Logger.Errorf("flagging counter: %s", parsed.Key)
			s.Metrics.IncrementCounter("sampler_flagged")
			return types.Flagged
		}
		b = newBucket(types.Counter, s.Clock.Now().Unix())
		b.lastWindowCount = 1
		s.buckets[string(parsed.Key)] = b
		s.Metrics.Gauge("sampler_buckets", float64(len(s.buckets)))
		return types.NotSampling
	}

	b.lastWindowCount++
	b.lastModifiedAt = s.Clock.Now().Unix()

	// circuit break and enable sampling mode
	if !b.sampling && b.lastWindowCount > uint64(s.threshold) {
		s.Logger.Debugf("started counter sampling '%s'", parsed.Key)
		b.sampling = true
	}

	if b.sampling {
		value := parsed.Value
		count := 1.0
		if parsed.PreSample > 0.0 && parsed.PreSample < 1.0 {
			value = value * (1.0 / parsed.PreSample)
			count = 1.0 / parsed.PreSample
		}
		b.sum += value
		b.count += count
		return types.Sampling
	}
	return types.NotSampling
}

// ConsiderTimer feeds one timer observation through the sampler.
// Sampled observations update the window extrema and the reservoir: a
// value that displaces an extremum pushes the previous extremum into
// the reservoir in its place, and the very first extremum is held out
// of the reservoir entirely.
func (s *Sampler) ConsiderTimer(parsed types.ParsedLine) types.SampleResult {
	if parsed.Type != types.Timer {
		return types.NotSampling
	}

	b, ok := s.buckets[string(parsed.Key)]
	if !ok {
		if s.overCardinality() {
			s.Logger.Errorf("flagging timer: %s", parsed.Key)
			s.Metrics.IncrementCounter("sampler_flagged")
			return types.Flagged
		}
		b = newTimerBucket(s.threshold, s.Clock.Now().Unix())
		b.lastWindowCount = 1
		s.buckets[string(parsed.Key)] = b
		s.Metrics.Gauge("sampler_buckets", float64(len(s.buckets)))
		return types.NotSampling
	}

	b.lastWindowCount++
	b.lastModifiedAt = s.Clock.Now().Unix()

	if !b.sampling && b.lastWindowCount > uint64(s.threshold) {
		s.Logger.Debugf("started timer sampling '%s'", parsed.Key)
		b.sampling = true
	}

	if !b.sampling {
		return types.NotSampling
	}

	value := parsed.Value

	if value > b.upper {
		// keep the sampling rate in sync with the value
		b.upperSampleRate = parsed.PreSample

		if b.upper != minNormalFloat64 {
			// displace the previous max into the reservoir
			oldMax := b.upper
			b.upper = value
			value = oldMax
		} else {
			// first extremum is held separately, not reservoir-fed
			b.upper = value
			return types.Sampling
		}
	}

	if value < b.lower {
		b.lowerSampleRate = parsed.PreSample

		if b.lower != math.MaxFloat64 {
			oldMin := b.lower
			b.lower = value
			value = oldMin
		} else {
			b.lower = value
			return types.Sampling
		}
	}

	if b.reservoirIndex < s.threshold {
		// fill phase
		b.reservoir[b.reservoirIndex] = value
		b.reservoirIndex++
	} else {
		// replacement phase, biased toward recency by design of the
		// original: k = r mod window count
		k := s.Rand.Next() % int64(b.lastWindowCount)
		if k < int64(s.threshold) {
			b.reservoir[k] = value
		}
	}

	count := 1.0
	if parsed.PreSample > 0.0 && parsed.PreSample < 1.0 {
		count = 1.0 / parsed.PreSample
	}
	b.sum += value
	b.count += count
	return types.Sampling
}

// ConsiderGauge feeds one gauge observation through the sampler.
// Gauges represent instantaneous state so no presample compensation
// is applied.
func (s *Sampler) ConsiderGauge(parsed types.ParsedLine) types.SampleResult {
	if parsed.Type != types.Gauge {
		return types.NotSampling
	}

	b, ok := s.buckets[string(parsed.Key)]
	if !ok {
		if s.overCardinality() {
			s.Logger.Errorf("flagging gauge: %s", parsed.Key)
			s.Metrics.IncrementCounter("sampler_flagged")
			return types.Flagged
		}
		b = newBucket(types.Gauge, s.Clock.Now().Unix())
		b.lastWindowCount = 1
		s.buckets[string(parsed.Key)] = b
		s.Metrics.Gauge("sampler_buckets", float64(len(s.buckets)))
		return types.NotSampling
	}

	b.lastWindowCount++
	b.lastModifiedAt = s.Clock.Now().Unix()

	if !b.sampling && b.lastWindowCount > uint64(s.threshold) {
		s.Logger.Debugf("started gauge sampling '%s'", parsed.Key)
		b.sampling = true
	}

	if b.sampling {
		b.sum += parsed.Value
		b.count++
		return types.Sampling
	}
	return types.NotSampling
}

// IsSampling reports whether the named metric exists with a matching
// type and is currently in the sampling state.
func (s *Sampler) IsSampling(key []byte, t types.MetricType) bool {
	b, ok := s.buckets[string(key)]
	return ok && b.sampling && b.metricType == t
}

// Flush walks every bucket and emits the reconstructed lines for the
// window into sink, then runs the window-boundary update on each
// bucket. Counters emit one averaged line whose rate recovers the
// true total; gauges emit one averaged line; timers optionally emit
// their extrema followed by the surviving reservoir samples.
func (s *Sampler) Flush(sink FlushSink) {
	for key, b := range s.buckets {
		s.flushBucket(sink, key, b)
		s.updateBucket(key, b)
	}
}

func (s *Sampler) flushBucket(sink FlushSink, key string, b *bucket) {
	if !b.sampling || b.count == 0 {
		return
	}

	switch b.metricType {
	case types.Counter:
		s.emit(sink, key, b.sum/b.count, "c", 1.0/b.count, true)

	case types.Gauge:
		s.emit(sink, key, b.sum/b.count, "g", 0, false)

	case types.Timer:
		// flush the true window max and min as their own lines if the
		// operator asked for it
		if s.flushMinMax {
			if b.upper > minNormalFloat64 {
				if s.emit(sink, key, b.upper, "ms", b.upperSampleRate, true) {
					b.upper = minNormalFloat64
				}
			}
			if b.lower < math.MaxFloat64 {
				if s.emit(sink, key, b.lower, "ms", b.lowerSampleRate, true) {
					b.lower = math.MaxFloat64
				}
			}
		}

		numSamples := 0
		for _, v := range b.reservoir {
			if !math.IsNaN(v) {
				numSamples++
			}
		}
		sampleRate := float64(numSamples) / b.count

		for j, v := range b.reservoir {
			if !math.IsNaN(v) {
				s.emit(sink, key, v, "ms", sampleRate, true)
				b.reservoir[j] = math.NaN()
			}
		}
	}

	b.count = 0
	b.sum = 0
}

// updateBucket resolves the sampling transition at the window
// boundary and resets the window count. A key whose window count
// stayed at or under threshold drops back to pass-through mode.
func (s *Sampler) updateBucket(key string, b *bucket) {
	if b.lastWindowCount > uint64(s.threshold) {
		b.sampling = true
	} else if b.sampling {
		b.sampling = false
		b.reservoirIndex = 0
		s.Logger.Debugf("stopped %s sampling '%s'", b.metricType, key)
	}
	b.lastWindowCount = 0
}

// UpdateFlags runs the window-boundary update on every bucket without
// flushing.
func (s *Sampler) UpdateFlags() {
	for key, b := range s.buckets {
		s.updateBucket(key, b)
	}
}

// Expire removes buckets that have been idle longer than the TTL.
// Buckets in the sampling state are never expired; they must first
// drop out of sampling via a window update.
func (s *Sampler) Expire() {
	now := s.Clock.Now().Unix()
	expired := 0
	for key, b := range s.buckets {
		if b.sampling {
			continue
		}
		if now-b.lastModifiedAt > int64(s.ttl) {
			delete(s.buckets, key)
			expired++
		}
	}
	if expired > 0 {
		s.Logger.Debugf("expired %d idle buckets", expired)
		s.Metrics.Count("sampler_expired_buckets", float64(expired))
		s.Metrics.Gauge("sampler_buckets", float64(len(s.buckets)))
	}
}

// emit formats one line into the shared scratch buffer and hands it
// to sink. Lines that would exceed the UDP length budget are dropped.
func (s *Sampler) emit(sink FlushSink, key string, value float64, tag string, rate float64, withRate bool) bool {
	buf := s.line[:0]
	buf = append(buf, key...)
	buf = append(buf, ':')
	buf = strconv.AppendFloat(buf, value, 'g', 6, 64)
	buf = append(buf, '|')
	buf = append(buf, tag...)
	if withRate {
		buf = append(buf, '@')
		buf = strconv.AppendFloat(buf, rate, 'g', 6, 64)
	}
	s.line = buf
	if len(buf) > types.MaxUDPLength {
		s.Logger.Errorf("sampling: flush line for '%s' exceeds %d bytes, dropping", key, types.MaxUDPLength)
		s.Metrics.IncrementCounter("sampler_line_overflow")
		return false
	}
	s.Metrics.IncrementCounter("sampler_flush_lines")
	sink(key, buf)
	return true
}
