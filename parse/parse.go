// Package parse validates single statsd lines of the form
// <key>:<value>|<type>[|@<rate>] without copying or modifying the
// input buffer.
package parse

import (
	"bytes"
	"math"
	"strconv"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/honeycombio/statproxy/types"
)

var (
	ErrMissingSeparator = errors.New("missing ':' separator")
	ErrEmptyKey         = errors.New("zero length key")
	ErrBadValue         = errors.New("unable to parse value as a finite number")
	ErrMissingType      = errors.New("missing '|' type separator")
	ErrUnknownType      = errors.New("unknown stat type")
	ErrMissingRate      = errors.New("'|' segment without '@' rate specifier")
	ErrBadRate          = errors.New("unable to parse sample rate")
)

// Line validates buf and returns the parsed result. The returned
// ParsedLine's Key aliases buf. buf must already be trimmed of any
// trailing newline; the parser does not strip whitespace.
//
// The key ends at the RIGHTMOST ':' before the value so that keys
// embedding tag syntax stay intact:
//
//	keyname.__tagname=tag:value:42.0|ms
//	                            ^--- value starts here
func Line(buf []byte) (types.ParsedLine, error) {
	var parsed types.ParsedLine

	sep := bytes.LastIndexByte(buf, ':')
	if sep == -1 {
		return parsed, ErrMissingSeparator
	}
	if sep == 0 {
		return parsed, ErrEmptyKey
	}
	parsed.Key = buf[:sep]

	rest := buf[sep+1:]
	pipe := bytes.IndexByte(rest, '|')
	if pipe == -1 {
		return parsed, ErrMissingType
	}

	value, err := parseFinite(rest[:pipe])
	if err != nil {
		return parsed, ErrBadValue
	}
	parsed.Value = value
	parsed.PreSample = 1.0

	rest = rest[pipe+1:]
	typeSeg := rest
	pipe = bytes.IndexByte(rest, '|')
	if pipe != -1 {
		typeSeg = rest[:pipe]
	}

	parsed.Type = parseStatType(typeSeg)
	if parsed.Type == types.Unknown {
		return parsed, ErrUnknownType
	}

	if pipe != -1 {
		// rest[pipe] is the second '|'; it must introduce an '@' rate
		rateSeg := rest[pipe+1:]
		if len(rateSeg) == 0 || rateSeg[0] != '@' {
			return parsed, ErrMissingRate
		}
		rateSeg = rateSeg[1:]
		rate, err := parseFinite(rateSeg)
		if err != nil {
			return parsed, ErrBadRate
		}
		parsed.PreSample = rate
	}

	return parsed, nil
}

func parseStatType(seg []byte) types.MetricType {
	switch len(seg) {
	case 1:
		switch seg[0] {
		case 'c':
			return types.Counter
		case 'g':
			return types.Gauge
		case 'h':
			return types.Hist
		case 's':
			return types.Set
		}
	case 2:
		if seg[0] == 'm' && seg[1] == 's' {
			return types.Timer
		}
		if seg[0] == 'k' && seg[1] == 'v' {
			return types.KV
		}
	}
	return types.Unknown
}

// parseFinite parses seg as a float64, rejecting empty segments,
// trailing garbage, and non-finite results. The unsafe string header
// shares seg's backing array so no copy is made; ParseFloat does not
// retain its argument.
func parseFinite(seg []byte) (float64, error) {
	if len(seg) == 0 {
		return 0, strconv.ErrSyntax
	}
	v, err := strconv.ParseFloat(unsafe.String(&seg[0], len(seg)), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, strconv.ErrRange
	}
	return v, nil
}
