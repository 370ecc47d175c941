package config

// MockConfig is a Config implementation with settable fields, for use
// in tests.
type MockConfig struct {
	ListenAddr         string
	DownstreamAddr     string
	DownstreamProtocol string
	Logger             string
	LoggingLevel       string
	Metrics            string
	MetricsListenAddr  string
	CardinalityPolicy  string
	Sampler            SamplerConfig
	Elider             EliderConfig
}

func (m *MockConfig) GetListenAddr() string           { return m.ListenAddr }
func (m *MockConfig) GetDownstreamAddr() string       { return m.DownstreamAddr }
func (m *MockConfig) GetDownstreamProtocol() string   { return m.DownstreamProtocol }
func (m *MockConfig) GetLoggerType() string           { return m.Logger }
func (m *MockConfig) GetLoggingLevel() string         { return m.LoggingLevel }
func (m *MockConfig) GetMetricsType() string          { return m.Metrics }
func (m *MockConfig) GetMetricsListenAddr() string    { return m.MetricsListenAddr }
func (m *MockConfig) GetCardinalityPolicy() string    { return m.CardinalityPolicy }
func (m *MockConfig) GetSamplerConfig() SamplerConfig { return m.Sampler }
func (m *MockConfig) GetEliderConfig() EliderConfig   { return m.Elider }
