package transmit

import (
	"net"

	"github.com/pkg/errors"

	"github.com/honeycombio/statproxy/config"
	"github.com/honeycombio/statproxy/logger"
	"github.com/honeycombio/statproxy/metrics"
	"github.com/honeycombio/statproxy/types"
)

type Transmission interface {
	// EnqueueLine accepts a single statsd line (no trailing newline)
	// and schedules it for transmission downstream. The line is copied
	// into the batch buffer before returning.
	EnqueueLine(line []byte)
	// Flush sends any buffered lines immediately.
	Flush()
}

// DefaultTransmission batches lines into newline-joined payloads of
// at most MaxUDPLength bytes and writes them to the downstream
// collector. Sends are at-most-once: errors are logged and counted,
// never retried.
//
// EnqueueLine and Flush are called from the collector's event loop
// goroutine only.
type DefaultTransmission struct {
	Config  config.Config   `inject:""`
	Logger  logger.Logger   `inject:""`
	Metrics metrics.Metrics `inject:""`

	conn net.Conn
	buf  []byte
}

func (d *DefaultTransmission) Start() error {
	d.Logger.Debugf("Starting DefaultTransmission")
	defer func() { d.Logger.Debugf("Finished starting DefaultTransmission") }()

	protocol := d.Config.GetDownstreamProtocol()
	addr := d.Config.GetDownstreamAddr()
	conn, err := net.Dial(protocol, addr)
	if err != nil {
		return errors.Wrapf(err, "failed to dial downstream %s %s", protocol, addr)
	}
	d.conn = conn
	d.buf = make([]byte, 0, types.MaxUDPLength)

	d.Metrics.Register("transmit_batches", "counter")
	d.Metrics.Register("transmit_lines", "counter")
	d.Metrics.Register("transmit_errors", "counter")
	d.Metrics.Register("transmit_oversize_lines", "counter")
	return nil
}

func (d *DefaultTransmission) Stop() error {
	d.Flush()
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}

func (d *DefaultTransmission) EnqueueLine(line []byte) {
	if len(line) > types.MaxUDPLength {
		d.Logger.Errorf("dropping oversize line of %d bytes", len(line))
		d.Metrics.IncrementCounter("transmit_oversize_lines")
		return
	}
	// +1 for the newline joining lines within a payload
	if len(d.buf) > 0 && len(d.buf)+1+len(line) > types.MaxUDPLength {
		d.Flush()
	}
	if len(d.buf) > 0 {
		d.buf = append(d.buf, '\n')
	}
	d.buf = append(d.buf, line...)
	d.Metrics.IncrementCounter("transmit_lines")
}

func (d *DefaultTransmission) Flush() {
	if len(d.buf) == 0 {
		return
	}
	if _, err := d.conn.Write(d.buf); err != nil {
		d.Logger.Errorf("downstream write failed: %s", err)
		d.Metrics.IncrementCounter("transmit_errors")
	} else {
		d.Metrics.IncrementCounter("transmit_batches")
	}
	d.buf = d.buf[:0]
}
