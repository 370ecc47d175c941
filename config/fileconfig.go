package config

import (
	"github.com/creasty/defaults"
	toml "github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

// FileConfig implements Config backed by a TOML file read once at
// startup.
type FileConfig struct {
	Path string

	conf confContents
}

type confContents struct {
	ListenAddr         string `default:"0.0.0.0:8125"`
	DownstreamAddr     string `default:"127.0.0.1:8126"`
	DownstreamProtocol string `default:"udp"`
	Logger             string `default:"logrus"`
	LoggingLevel       string `default:"info"`
	Metrics            string `default:"prometheus"`
	MetricsListenAddr  string `default:"localhost:2112"`
	CardinalityPolicy  string `default:"forward"`
	Sampler            SamplerConfig
	Elider             EliderConfig
}

// Start reads and validates the config file. Defaults are applied
// first so the file only needs to mention the keys it changes.
func (f *FileConfig) Start() error {
	if err := defaults.Set(&f.conf); err != nil {
		return errors.Wrap(err, "failed to apply config defaults")
	}
	if f.Path != "" {
		tree, err := toml.LoadFile(f.Path)
		if err != nil {
			return errors.Wrapf(err, "failed to load config file %s", f.Path)
		}
		if err := tree.Unmarshal(&f.conf); err != nil {
			return errors.Wrapf(err, "failed to parse config file %s", f.Path)
		}
	}
	return f.validate()
}

func (f *FileConfig) validate() error {
	if f.conf.Sampler.Threshold < 0 {
		return errors.Errorf("sampler threshold must not be negative, got %d", f.conf.Sampler.Threshold)
	}
	if f.conf.Sampler.Cardinality < 0 {
		return errors.Errorf("sampler cardinality must not be negative, got %d", f.conf.Sampler.Cardinality)
	}
	if f.conf.Sampler.ReservoirSize < 0 {
		return errors.Errorf("sampler reservoir size must not be negative, got %d", f.conf.Sampler.ReservoirSize)
	}
	switch f.conf.DownstreamProtocol {
	case "udp", "tcp":
	default:
		return errors.Errorf("downstream protocol must be udp or tcp, got %q", f.conf.DownstreamProtocol)
	}
	switch f.conf.CardinalityPolicy {
	case "forward", "drop":
	default:
		return errors.Errorf("cardinality policy must be forward or drop, got %q", f.conf.CardinalityPolicy)
	}
	return nil
}

func (f *FileConfig) GetListenAddr() string         { return f.conf.ListenAddr }
func (f *FileConfig) GetDownstreamAddr() string     { return f.conf.DownstreamAddr }
func (f *FileConfig) GetDownstreamProtocol() string { return f.conf.DownstreamProtocol }
func (f *FileConfig) GetLoggerType() string         { return f.conf.Logger }
func (f *FileConfig) GetLoggingLevel() string       { return f.conf.LoggingLevel }
func (f *FileConfig) GetMetricsType() string        { return f.conf.Metrics }
func (f *FileConfig) GetMetricsListenAddr() string  { return f.conf.MetricsListenAddr }
func (f *FileConfig) GetCardinalityPolicy() string  { return f.conf.CardinalityPolicy }
func (f *FileConfig) GetSamplerConfig() SamplerConfig {
	return f.conf.Sampler
}
func (f *FileConfig) GetEliderConfig() EliderConfig {
	return f.conf.Elider
}
