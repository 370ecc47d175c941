package logger

import (
	"fmt"

	"github.com/honeycombio/statproxy/config"
)

type Logger interface {
	Debugf(f string, args ...interface{})
	Infof(f string, args ...interface{})
	Errorf(f string, args ...interface{})
	WithField(key string, value interface{}) Entry
	WithFields(fields map[string]interface{}) Entry
	// SetLevel sets the logging level (debug, info, warn, error)
	SetLevel(level string) error
}

type Entry interface {
	Debugf(f string, args ...interface{})
	Infof(f string, args ...interface{})
	Errorf(f string, args ...interface{})
	WithField(key string, value interface{}) Entry
	WithFields(fields map[string]interface{}) Entry
}

func GetLoggerImplementation(c config.Config) (Logger, error) {
	switch c.GetLoggerType() {
	case "logrus":
		return &LogrusLogger{}, nil
	case "none":
		return &NullLogger{}, nil
	default:
		return nil, fmt.Errorf("unknown logger type %s", c.GetLoggerType())
	}
}
