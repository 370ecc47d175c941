package metrics

var _ Metrics = (*NullMetrics)(nil)

// NullMetrics discards all metrics
type NullMetrics struct{}

func (n *NullMetrics) Register(name string, metricType string) {}
func (n *NullMetrics) IncrementCounter(name string)            {}
func (n *NullMetrics) Count(name string, num float64)          {}
func (n *NullMetrics) Gauge(name string, val float64)          {}
func (n *NullMetrics) Histogram(name string, obs float64)      {}
