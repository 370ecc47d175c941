package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honeycombio/statproxy/config"
)

func TestGetLoggerImplementation(t *testing.T) {
	l, err := GetLoggerImplementation(&config.MockConfig{Logger: "logrus"})
	require.NoError(t, err)
	assert.IsType(t, &LogrusLogger{}, l)

	l, err = GetLoggerImplementation(&config.MockConfig{Logger: "none"})
	require.NoError(t, err)
	assert.IsType(t, &NullLogger{}, l)

	_, err = GetLoggerImplementation(&config.MockConfig{Logger: "syslog"})
	assert.Error(t, err)
}

func TestLogrusSetLevel(t *testing.T) {
	l := &LogrusLogger{}
	require.NoError(t, l.Start())
	assert.NoError(t, l.SetLevel("debug"))
	assert.Error(t, l.SetLevel("extremely-verbose"))
}
