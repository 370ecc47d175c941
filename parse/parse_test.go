package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honeycombio/statproxy/types"
)

func TestLineValid(t *testing.T) {
	testCases := []struct {
		line      string
		key       string
		value     float64
		typ       types.MetricType
		preSample float64
	}{
		{"test.srv.req:2.5|ms", "test.srv.req", 2.5, types.Timer, 1.0},
		{"test.srv.req:2.5|ms|@0.2", "test.srv.req", 2.5, types.Timer, 0.2},
		{"foo:1|c", "foo", 1, types.Counter, 1.0},
		{"foo:-12|c", "foo", -12, types.Counter, 1.0},
		{"foo:1.5e2|c", "foo", 150, types.Counter, 1.0},
		{"gauge:3|g", "gauge", 3, types.Gauge, 1.0},
		{"kv:3|kv", "kv", 3, types.KV, 1.0},
		{"hist:3|h", "hist", 3, types.Hist, 1.0},
		{"set:3|s", "set", 3, types.Set, 1.0},
		// the key ends at the rightmost colon, so tagged keys with
		// embedded colons survive intact
		{"a.b.c.__tag1=v1.__tag2=v2:v2:42.000|ms",
			"a.b.c.__tag1=v1.__tag2=v2:v2", 42.0, types.Timer, 1.0},
		{"counter:1|c|@0.5", "counter", 1, types.Counter, 0.5},
	}

	for _, tc := range testCases {
		parsed, err := Line([]byte(tc.line))
		require.NoError(t, err, tc.line)
		assert.Equal(t, tc.key, string(parsed.Key), tc.line)
		assert.Equal(t, tc.value, parsed.Value, tc.line)
		assert.Equal(t, tc.typ, parsed.Type, tc.line)
		assert.Equal(t, tc.preSample, parsed.PreSample, tc.line)
	}
}

func TestLineInvalid(t *testing.T) {
	testCases := []struct {
		line string
		err  error
	}{
		{"no separator", ErrMissingSeparator},
		{":1|c", ErrEmptyKey},
		{"foo:bar|c", ErrBadValue},
		{"foo:|c", ErrBadValue},
		{"foo:1.5x|c", ErrBadValue},
		{"foo:inf|c", ErrBadValue},
		{"foo:nan|c", ErrBadValue},
		{"foo:1", ErrMissingType},
		{"foo:1|x", ErrUnknownType},
		{"foo:1|msx", ErrUnknownType},
		{"foo:1|", ErrUnknownType},
		{"foo:1|c|", ErrMissingRate},
		{"foo:1|c|0.5", ErrMissingRate},
		{"foo:1|c|@", ErrBadRate},
		{"foo:1|c|@zero", ErrBadRate},
		{"", ErrMissingSeparator},
	}

	for _, tc := range testCases {
		_, err := Line([]byte(tc.line))
		assert.Equal(t, tc.err, err, "%q", tc.line)
	}
}

func TestLineZeroCopy(t *testing.T) {
	buf := []byte("test.srv.req:2.5|ms|@0.2")
	orig := make([]byte, len(buf))
	copy(orig, buf)

	parsed, err := Line(buf)
	require.NoError(t, err)

	// the input buffer is untouched and the key aliases it
	assert.Equal(t, orig, buf)
	assert.Same(t, &buf[0], &parsed.Key[0])

	// reparsing yields an identical result
	again, err := Line(buf)
	require.NoError(t, err)
	assert.Equal(t, parsed, again)
}

func BenchmarkLine(b *testing.B) {
	buf := []byte("a.b.c.__tag1=v1.__tag2=v2:v2:42.000|ms|@0.25")
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := Line(buf); err != nil {
			b.Fatal(err)
		}
	}
}
