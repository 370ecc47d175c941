package metrics

import (
	"fmt"

	"github.com/honeycombio/statproxy/config"
)

type Metrics interface {
	// Register declares a metric; metricType should be one of counter,
	// gauge, histogram
	Register(name string, metricType string)
	IncrementCounter(name string)       // for counters
	Count(name string, n float64)       // for counters
	Gauge(name string, val float64)     // for gauges
	Histogram(name string, obs float64) // for histograms
}

func GetMetricsImplementation(c config.Config) (Metrics, error) {
	switch c.GetMetricsType() {
	case "prometheus":
		return &PromMetrics{}, nil
	case "none":
		return &NullMetrics{}, nil
	default:
		return nil, fmt.Errorf("unknown metrics type %s", c.GetMetricsType())
	}
}
