package socket

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/ha1tch/tdsclient/internal/tdserr"
	"github.com/ha1tch/tdsclient/internal/tdslog"
	"github.com/ha1tch/tdsclient/tds/packet"
)

// tlsState holds the post-handshake TLS connection plus the raw conn it
// wraps (needed to keep setting deadlines on the real fd).
type tlsState struct {
	conn       *tls.Conn
	underlying net.Conn
}

func (t *tlsState) read(b []byte) (int, error) { return t.conn.Read(b) }

// EnableTLS performs the TDS-specific TLS handshake: during PRELOGIN,
// both sides wrap every TLS record in a TDS PRELOGIN packet; once the
// handshake completes, TLS records go straight on the wire. The client
// always initiates by writing ClientHello, so unlike a server socket
// there is no need to sniff the first byte to tell wrapped from raw —
// we always wrap outbound records until the handshake finishes, per
// FR-on PRELOGIN-time encryption in the protocol's TLS negotiation.
//
// nextPacketID is the packet-id the handshake's wrapping PRELOGIN
// packets should start from (continuing the connection's outgoing
// packet-id sequence). sniOverride, if non-empty, is used as the TLS
// server name instead of the connected host — needed after a routing
// redirect, where the login "server name" (and thus the cert SNI) must
// be the full `host\instance` form, not the bare hostname used for the
// TCP connect.
func (s *Socket) EnableTLS(nextPacketID uint8, handshakeTimeout time.Duration, sniOverride string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return tdserr.New(tdserr.KindTransport, tdserr.ErrCodeConnectionClosed, tdslog.LayerHandshake, "enable TLS on closed socket")
	}
	conn := s.netConn
	serverName := s.host
	s.mu.Unlock()

	if sniOverride != "" {
		serverName = sniOverride
	}

	cfg := &tls.Config{ServerName: serverName, MinVersion: tls.VersionTLS12}

	hc := &handshakeConn{sock: s, netConn: conn, nextID: nextPacketID}
	tlsConn := tls.Client(hc, cfg)

	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	if err := tlsConn.Handshake(); err != nil {
		conn.SetDeadline(time.Time{})
		return tdserr.Wrap(err, tdserr.KindTransport, tdserr.ErrCodeTLSError, tdslog.LayerHandshake, "TLS handshake failed")
	}
	conn.SetDeadline(time.Time{})
	hc.handshakeDone = true

	s.mu.Lock()
	s.tlsConn = &tlsState{conn: tlsConn, underlying: conn}
	s.mu.Unlock()

	log.Debug("TLS enabled", "server_name", serverName)
	return nil
}

// handshakeConn wraps every TLS record written during the handshake in
// a TDS PRELOGIN packet, and unwraps PRELOGIN packets into TLS records
// on read. tls.Client treats it as a plain io.ReadWriter-capable
// net.Conn; once EnableTLS sets handshakeDone, reads and writes pass
// straight through to the raw net.Conn without PRELOGIN wrapping.
type handshakeConn struct {
	sock    *Socket
	netConn net.Conn
	nextID  uint8

	readBuf []byte
	readPos int

	handshakeDone bool // set by EnableTLS; later records bypass PRELOGIN wrapping
}

func (h *handshakeConn) Read(b []byte) (int, error) {
	if h.readPos < len(h.readBuf) {
		n := copy(b, h.readBuf[h.readPos:])
		h.readPos += n
		return n, nil
	}
	if h.handshakeDone {
		return h.netConn.Read(b)
	}

	var msg []byte
	for {
		hdr := make([]byte, packet.HeaderSize)
		if _, err := readFull(h.netConn, hdr); err != nil {
			return 0, err
		}
		if packet.Type(hdr[0]) != packet.TypePrelogin {
			return 0, fmt.Errorf("unexpected TDS packet type 0x%02x during TLS handshake", hdr[0])
		}
		length := int(hdr[2])<<8 | int(hdr[3])
		payloadLen := length - packet.HeaderSize
		payload := make([]byte, payloadLen)
		if payloadLen > 0 {
			if _, err := readFull(h.netConn, payload); err != nil {
				return 0, err
			}
		}
		msg = append(msg, payload...)
		if hdr[1]&byte(packet.StatusEOM) != 0 {
			break
		}
	}

	h.readBuf = msg
	h.readPos = 0
	n := copy(b, h.readBuf)
	h.readPos = n
	return n, nil
}

func (h *handshakeConn) Write(b []byte) (int, error) {
	if h.handshakeDone {
		return h.netConn.Write(b)
	}
	pkts := packet.Fragment(b, packet.TypePrelogin, packet.DefaultPacketSize)
	for i := range pkts {
		pkts[i].Header.PacketID = h.nextID
		h.nextID++
		if _, err := h.netConn.Write(pkts[i].Serialize()); err != nil {
			return 0, err
		}
	}
	return len(b), nil
}

func (h *handshakeConn) Close() error                       { return nil }
func (h *handshakeConn) LocalAddr() net.Addr                { return h.netConn.LocalAddr() }
func (h *handshakeConn) RemoteAddr() net.Addr               { return h.netConn.RemoteAddr() }
func (h *handshakeConn) SetDeadline(t time.Time) error      { return h.netConn.SetDeadline(t) }
func (h *handshakeConn) SetReadDeadline(t time.Time) error  { return h.netConn.SetReadDeadline(t) }
func (h *handshakeConn) SetWriteDeadline(t time.Time) error { return h.netConn.SetWriteDeadline(t) }

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
