// Package elide suppresses repeated transmissions of unchanged
// (typically zero) values. Each key carries a generation counter; the
// caller forwards a report only every skip-th generation.
package elide

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/honeycombio/statproxy/config"
	"github.com/honeycombio/statproxy/logger"
	"github.com/honeycombio/statproxy/metrics"
)

type entry struct {
	// generations is the number of sequential suppressed reports, plus
	// the configured skip
	generations int
	// unix second at which the key was last touched
	lastSeen int64
}

// Elider tracks key -> generation state. Like the sampler it is
// confined to the collector's event loop goroutine.
type Elider struct {
	Config  config.Config   `inject:""`
	Logger  logger.Logger   `inject:""`
	Metrics metrics.Metrics `inject:""`
	Clock   clockwork.Clock `inject:""`

	skip        int
	gcFrequency int
	gcTTL       int

	entries map[string]*entry
	// unix second of the last completed GC pass, for throttling
	lastGC int64
}

func (e *Elider) Start() error {
	e.Logger.Debugf("Starting Elider")
	defer func() { e.Logger.Debugf("Finished starting Elider") }()

	cfg := e.Config.GetEliderConfig()
	e.skip = cfg.Skip
	e.gcFrequency = cfg.GCFrequency
	e.gcTTL = cfg.GCTTL
	e.entries = make(map[string]*entry)
	e.lastGC = -1

	e.Metrics.Register("elide_keys", "gauge")
	e.Metrics.Register("elide_gc_removed", "counter")
	return nil
}

func (e *Elider) Stop() error {
	return nil
}

// Skip returns the configured generation skip.
func (e *Elider) Skip() int { return e.skip }

// GCFrequency returns the GC interval in seconds, or -1 if disabled.
func (e *Elider) GCFrequency() int { return e.gcFrequency }

// GCTTL returns how long an entry may go untouched before GC removes
// it, in seconds.
func (e *Elider) GCTTL() int { return e.gcTTL }

// Len returns the number of tracked keys.
func (e *Elider) Len() int { return len(e.entries) }

// Mark records a suppressed report for key and returns the generation
// counter before incrementing it. A fresh key starts at skip, so the
// first Mark returns skip and the k-th subsequent Mark returns
// skip+k; the seeding staggers fleets of keys that go quiet together.
func (e *Elider) Mark(key []byte, now time.Time) int {
	v, ok := e.entries[string(key)]
	if !ok {
		v = &entry{generations: e.skip}
		e.entries[string(key)] = v
		e.Metrics.Gauge("elide_keys", float64(len(e.entries)))
	}
	v.lastSeen = now.Unix()
	g := v.generations
	v.generations++
	return g
}

// Unmark resets key's generation counter to skip and returns skip.
// Callers invoke it when the key reports a live value again.
func (e *Elider) Unmark(key []byte, now time.Time) int {
	v, ok := e.entries[string(key)]
	if !ok {
		v = &entry{}
		e.entries[string(key)] = v
		e.Metrics.Gauge("elide_keys", float64(len(e.entries)))
	}
	v.lastSeen = now.Unix()
	v.generations = e.skip
	return e.skip
}

// GC removes entries whose lastSeen second is at or before cutoff's
// second, and returns the number removed. A pass runs at most once
// per distinct cutoff second; calls with a cutoff second at or before
// the previous pass are no-ops.
func (e *Elider) GC(cutoff time.Time) int {
	sec := cutoff.Unix()
	if e.lastGC >= sec {
		return 0
	}
	e.lastGC = sec

	removed := 0
	for key, v := range e.entries {
		if v.lastSeen > sec {
			continue
		}
		delete(e.entries, key)
		removed++
	}
	if removed > 0 {
		e.Logger.Debugf("elide gc removed %d stale keys", removed)
		e.Metrics.Count("elide_gc_removed", float64(removed))
		e.Metrics.Gauge("elide_keys", float64(len(e.entries)))
	}
	return removed
}
