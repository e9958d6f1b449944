// Package socket implements the lowest layer of the TDS client: TCP
// connection establishment, the TLS-wrapped-in-TDS-packets upgrade
// performed during PRELOGIN, and raw byte send/receive with bounded
// timeouts.
package socket

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ha1tch/tdsclient/internal/tdserr"
	"github.com/ha1tch/tdsclient/internal/tdslog"
)

var log = tdslog.For(tdslog.LayerConn)

// Socket is a single TCP (optionally TLS-upgraded) connection to a TDS
// server. It has no notion of the TDS logical protocol above raw bytes;
// that belongs to tds/packet and above.
type Socket struct {
	mu      sync.Mutex
	netConn net.Conn
	tlsConn *tlsState
	reader  *bufio.Reader
	writer  *bufio.Writer
	closed  bool

	host string
	port uint16
}

// Connect resolves host:port and dials the first address that accepts a
// connection within connectTimeout. Each candidate address shares a
// single overall deadline rather than getting its own per-address
// timeout, so a host with many dead addresses cannot multiply the total
// wait.
func Connect(host string, port uint16, connectTimeout time.Duration) (*Socket, error) {
	deadline := time.Now().Add(connectTimeout)

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	d := net.Dialer{Deadline: deadline}

	addrs, err := net.DefaultResolver.LookupHost(context.Background(), host)
	if err != nil || len(addrs) == 0 {
		// Fall back to letting the dialer resolve; some hosts (e.g. a
		// bare IP, or /etc/hosts entries) aren't served by LookupHost.
		conn, derr := d.Dial("tcp", addr)
		if derr != nil {
			return nil, tdserr.Wrap(derr, tdserr.KindTransport, tdserr.ErrCodeConnectionFailed, tdslog.LayerConn, "connect to "+addr+" failed")
		}
		return newSocket(conn, host, port), nil
	}

	var lastErr error
	for _, ip := range addrs {
		if time.Now().After(deadline) {
			break
		}
		candidate := net.JoinHostPort(ip, fmt.Sprintf("%d", port))
		conn, derr := d.Dial("tcp", candidate)
		if derr == nil {
			return newSocket(conn, host, port), nil
		}
		lastErr = derr
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no addresses resolved for %s", host)
	}
	return nil, tdserr.Wrap(lastErr, tdserr.KindTransport, tdserr.ErrCodeConnectionFailed, tdslog.LayerConn, "connect to "+addr+" failed")
}

func newSocket(conn net.Conn, host string, port uint16) *Socket {
	return &Socket{
		netConn: conn,
		reader:  bufio.NewReaderSize(conn, 32767),
		writer:  bufio.NewWriterSize(conn, 32767),
		host:    host,
		port:    port,
	}
}

// Send writes data to the connection, through the TLS layer once one
// has been negotiated.
func (s *Socket) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return tdserr.New(tdserr.KindTransport, tdserr.ErrCodeConnectionClosed, tdslog.LayerConn, "send on closed socket")
	}

	var err error
	if s.tlsConn != nil {
		_, err = s.tlsConn.conn.Write(data)
	} else {
		_, err = s.writer.Write(data)
		if err == nil {
			err = s.writer.Flush()
		}
	}
	if err != nil {
		s.markClosedLocked()
		return tdserr.Wrap(err, tdserr.KindTransport, tdserr.ErrCodeConnectionFailed, tdslog.LayerConn, "send failed")
	}
	return nil
}

// Receive reads up to len(buf) bytes, waiting at most timeout. A
// timeout with no data available returns (0, nil) — not an error. A
// closed connection or I/O failure returns a non-nil error and
// thereafter the socket is marked closed; subsequent operations fail
// fast without touching the network again.
func (s *Socket) Receive(buf []byte, timeout time.Duration) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, tdserr.New(tdserr.KindTransport, tdserr.ErrCodeConnectionClosed, tdslog.LayerConn, "receive on closed socket")
	}
	conn := s.activeConnLocked()
	s.mu.Unlock()

	if timeout > 0 {
		conn.SetReadDeadline(time.Now().Add(timeout))
		defer conn.SetReadDeadline(time.Time{})
	}

	var n int
	var err error
	if s.tlsConn != nil {
		n, err = s.tlsConn.read(buf)
	} else {
		n, err = s.reader.Read(buf)
	}

	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, nil
		}
		s.mu.Lock()
		s.markClosedLocked()
		s.mu.Unlock()
		return 0, tdserr.Wrap(err, tdserr.KindTransport, tdserr.ErrCodeConnectionFailed, tdslog.LayerConn, "receive failed")
	}
	return n, nil
}

func (s *Socket) activeConnLocked() net.Conn {
	if s.tlsConn != nil {
		return s.tlsConn.underlying
	}
	return s.netConn
}

// Close tears down the connection. Safe to call more than once.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markClosedLocked()
}

func (s *Socket) markClosedLocked() error {
	if s.closed {
		return nil
	}
	s.closed = true
	log.Debug("socket closed", "host", s.host, "port", s.port)
	return s.netConn.Close()
}

// Connected reports whether the socket believes it is still usable. It
// performs no I/O.
func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Host returns the currently-connected host (post-redirect, if any).
func (s *Socket) Host() string { return s.host }

// Port returns the currently-connected port.
func (s *Socket) Port() uint16 { return s.port }
