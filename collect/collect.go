// Package collect runs the relay's event loop. One goroutine owns the
// sampler and elider state and multiplexes the ingest channel with
// the flush, expiry, and GC timers, so the core runs without locks.
package collect

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"

	"github.com/honeycombio/statproxy/config"
	"github.com/honeycombio/statproxy/elide"
	"github.com/honeycombio/statproxy/logger"
	"github.com/honeycombio/statproxy/metrics"
	"github.com/honeycombio/statproxy/parse"
	"github.com/honeycombio/statproxy/sample"
	"github.com/honeycombio/statproxy/transmit"
	"github.com/honeycombio/statproxy/types"
)

const (
	// incomingCapacity bounds the ingest queue between the listeners
	// and the event loop; lines past it are dropped, not queued.
	incomingCapacity = 8192
	// flaggedLogKeys bounds how many over-cardinality keys we remember
	// for log deduplication.
	flaggedLogKeys = 1024
)

type Collector struct {
	Config       config.Config         `inject:""`
	Logger       logger.Logger         `inject:""`
	Metrics      metrics.Metrics       `inject:""`
	Clock        clockwork.Clock       `inject:""`
	Sampler      *sample.Sampler       `inject:""`
	Elider       *elide.Elider         `inject:""`
	Transmission transmit.Transmission `inject:""`

	forwardFlagged bool
	incoming       chan []byte
	flaggedSeen    *lru.Cache[string, struct{}]
	done           chan struct{}
	loopDone       chan struct{}
}

func (c *Collector) Start() error {
	c.Logger.Debugf("Starting Collector")
	defer func() { c.Logger.Debugf("Finished starting Collector") }()

	c.forwardFlagged = c.Config.GetCardinalityPolicy() == "forward"
	c.incoming = make(chan []byte, incomingCapacity)
	c.done = make(chan struct{})
	c.loopDone = make(chan struct{})

	var err error
	c.flaggedSeen, err = lru.New[string, struct{}](flaggedLogKeys)
	if err != nil {
		return err
	}

	c.Metrics.Register("lines_received", "counter")
	c.Metrics.Register("parse_errors", "counter")
	c.Metrics.Register("lines_sampled", "counter")
	c.Metrics.Register("lines_forwarded", "counter")
	c.Metrics.Register("lines_elided", "counter")
	c.Metrics.Register("lines_dropped_flagged", "counter")
	c.Metrics.Register("collector_queue_overflow", "counter")

	go c.loop()
	return nil
}

func (c *Collector) Stop() error {
	close(c.done)
	<-c.loopDone
	// emit whatever the sampler is still holding so shutdown doesn't
	// lose a window of reconstructed state
	c.flush()
	return nil
}

// AddLine hands one trimmed statsd line to the event loop. The caller
// must not reuse line's backing array afterwards. If the loop is
// backed up the line is dropped.
func (c *Collector) AddLine(line []byte) {
	select {
	case c.incoming <- line:
	default:
		c.Metrics.IncrementCounter("collector_queue_overflow")
	}
}

func (c *Collector) loop() {
	defer close(c.loopDone)

	// an interval of -1 leaves the channel nil, which never fires
	var flushCh, expiryCh, gcCh <-chan time.Time
	if w := c.Sampler.Window(); w > 0 {
		t := c.Clock.NewTicker(time.Duration(w) * time.Second)
		defer t.Stop()
		flushCh = t.Chan()
	}
	if f := c.Sampler.ExpiryFrequency(); f > 0 {
		t := c.Clock.NewTicker(time.Duration(f) * time.Second)
		defer t.Stop()
		expiryCh = t.Chan()
	}
	if f := c.Elider.GCFrequency(); f > 0 {
		t := c.Clock.NewTicker(time.Duration(f) * time.Second)
		defer t.Stop()
		gcCh = t.Chan()
	}

	for {
		select {
		case <-c.done:
			return
		case line := <-c.incoming:
			c.processLine(line)
		case <-flushCh:
			c.flush()
		case <-expiryCh:
			c.Sampler.Expire()
		case <-gcCh:
			cutoff := c.Clock.Now().Add(-time.Duration(c.Elider.GCTTL()) * time.Second)
			c.Elider.GC(cutoff)
		}
	}
}

func (c *Collector) processLine(line []byte) {
	c.Metrics.IncrementCounter("lines_received")

	parsed, err := parse.Line(line)
	if err != nil {
		c.Logger.Debugf("validate: invalid line %q: %s", line, err)
		c.Metrics.IncrementCounter("parse_errors")
		return
	}

	var result types.SampleResult
	switch parsed.Type {
	case types.Counter:
		result = c.Sampler.ConsiderCounter(parsed)
	case types.Timer:
		result = c.Sampler.ConsiderTimer(parsed)
	case types.Gauge:
		result = c.Sampler.ConsiderGauge(parsed)
	default:
		// KV, histogram, and set lines are relayed untouched
		c.forward(line)
		return
	}

	switch result {
	case types.Sampling:
		// absorbed; reconstructed at the next flush
		c.Metrics.IncrementCounter("lines_sampled")
	case types.Flagged:
		c.logFlagged(parsed.Key)
		if c.forwardFlagged {
			c.forward(line)
		} else {
			c.Metrics.IncrementCounter("lines_dropped_flagged")
		}
	case types.NotSampling:
		if c.shouldElide(parsed) {
			c.Metrics.IncrementCounter("lines_elided")
			return
		}
		c.forward(line)
	}
}

// shouldElide suppresses all but every skip-th consecutive zero
// report of a pass-through counter or gauge. Non-zero reports reset
// the key's generation counter.
func (c *Collector) shouldElide(parsed types.ParsedLine) bool {
	if c.Elider.Skip() <= 1 {
		return false
	}
	if parsed.Type != types.Counter && parsed.Type != types.Gauge {
		return false
	}
	if parsed.Value != 0 {
		c.Elider.Unmark(parsed.Key, c.Clock.Now())
		return false
	}
	gens := c.Elider.Mark(parsed.Key, c.Clock.Now())
	return gens%c.Elider.Skip() != 0
}

func (c *Collector) logFlagged(key []byte) {
	if ok, _ := c.flaggedSeen.ContainsOrAdd(string(key), struct{}{}); !ok {
		c.Logger.Errorf("key '%s' is over the cardinality limit", key)
	}
}

func (c *Collector) forward(line []byte) {
	c.Transmission.EnqueueLine(line)
	c.Metrics.IncrementCounter("lines_forwarded")
}

func (c *Collector) flush() {
	c.Sampler.Flush(func(key string, line []byte) {
		c.Transmission.EnqueueLine(line)
	})
	c.Transmission.Flush()
}
