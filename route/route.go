// Package route owns the ingest sockets. It frames incoming bytes
// into single trimmed statsd lines and hands them to the collector;
// all protocol-level validation happens there.
package route

import (
	"bufio"
	"bytes"
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/sourcegraph/conc"

	"github.com/honeycombio/statproxy/collect"
	"github.com/honeycombio/statproxy/config"
	"github.com/honeycombio/statproxy/logger"
	"github.com/honeycombio/statproxy/metrics"
	"github.com/honeycombio/statproxy/types"
)

// udpReadBuffer is sized above any single datagram we expect; lines
// within a datagram are still bounded by MaxUDPLength.
const udpReadBuffer = 65536

type Router struct {
	Config    config.Config      `inject:""`
	Logger    logger.Logger      `inject:""`
	Metrics   metrics.Metrics    `inject:""`
	Collector *collect.Collector `inject:""`

	udpConn     *net.UDPConn
	tcpListener net.Listener
	wg          conc.WaitGroup
	done        chan struct{}
	stopOnce    sync.Once
}

func (r *Router) Start() error {
	r.Logger.Debugf("Starting Router")
	defer func() { r.Logger.Debugf("Finished starting Router") }()

	addr := r.Config.GetListenAddr()
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to resolve listen address %s", addr)
	}
	r.udpConn, err = net.ListenUDP("udp", udpAddr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on udp %s", addr)
	}
	r.tcpListener, err = net.Listen("tcp", addr)
	if err != nil {
		r.udpConn.Close()
		return errors.Wrapf(err, "failed to listen on tcp %s", addr)
	}
	r.done = make(chan struct{})

	r.Metrics.Register("router_datagrams", "counter")
	r.Metrics.Register("router_connections", "counter")
	r.Metrics.Register("router_overlong_lines", "counter")

	r.Logger.Infof("listening for statsd lines on %s", addr)
	r.wg.Go(r.listenUDP)
	r.wg.Go(r.listenTCP)
	return nil
}

// UDPAddr returns the bound UDP address, for callers that configured
// port 0.
func (r *Router) UDPAddr() net.Addr { return r.udpConn.LocalAddr() }

// TCPAddr returns the bound TCP address.
func (r *Router) TCPAddr() net.Addr { return r.tcpListener.Addr() }

func (r *Router) Stop() error {
	r.stopOnce.Do(func() {
		close(r.done)
		r.udpConn.Close()
		r.tcpListener.Close()
		r.wg.Wait()
	})
	return nil
}

func (r *Router) listenUDP() {
	buf := make([]byte, udpReadBuffer)
	for {
		n, _, err := r.udpConn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-r.done:
				return
			default:
				r.Logger.Errorf("udp read failed: %s", err)
				return
			}
		}
		r.Metrics.IncrementCounter("router_datagrams")
		// a datagram may carry several newline-separated lines
		for payload := buf[:n]; len(payload) > 0; {
			line := payload
			if i := bytes.IndexByte(payload, '\n'); i >= 0 {
				line = payload[:i]
				payload = payload[i+1:]
			} else {
				payload = nil
			}
			r.ingest(line)
		}
	}
}

func (r *Router) listenTCP() {
	for {
		conn, err := r.tcpListener.Accept()
		if err != nil {
			select {
			case <-r.done:
			default:
				r.Logger.Errorf("tcp accept failed: %s", err)
			}
			return
		}
		r.Metrics.IncrementCounter("router_connections")
		r.wg.Go(func() { r.handleConn(conn) })
	}
}

func (r *Router) handleConn(conn net.Conn) {
	defer conn.Close()

	// close the connection when the router stops so the scanner
	// unblocks
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-r.done:
			conn.Close()
		case <-stop:
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 1024), types.MaxUDPLength+1)
	for scanner.Scan() {
		r.ingest(scanner.Bytes())
	}
	if err := scanner.Err(); err != nil {
		select {
		case <-r.done:
		default:
			r.Logger.Debugf("closing statsd connection: %s", err)
		}
	}
}

// ingest trims one raw line and passes an owned copy to the
// collector.
func (r *Router) ingest(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	if len(line) > types.MaxUDPLength {
		r.Metrics.IncrementCounter("router_overlong_lines")
		return
	}
	owned := make([]byte, len(line))
	copy(owned, line)
	r.Collector.AddLine(owned)
}
