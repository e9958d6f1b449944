// Package conn implements the client-side TDS connection state machine:
// execute/receive, attention-based cancellation, and liveness checks
// over an already-authenticated socket.
package conn

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ha1tch/tdsclient/internal/tdserr"
	"github.com/ha1tch/tdsclient/internal/tdslog"
	"github.com/ha1tch/tdsclient/tds/codec"
	"github.com/ha1tch/tdsclient/tds/handshake"
	"github.com/ha1tch/tdsclient/tds/packet"
	"github.com/ha1tch/tdsclient/tds/socket"
	"github.com/ha1tch/tdsclient/tds/token"
)

// State is a Connection's place in the lifecycle state machine.
type State int32

const (
	StateDisconnected State = iota
	StateAuthenticating
	StateIdle
	StateExecuting
	StateCancelling
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAuthenticating:
		return "authenticating"
	case StateIdle:
		return "idle"
	case StateExecuting:
		return "executing"
	case StateCancelling:
		return "cancelling"
	default:
		return "unknown"
	}
}

const transactionDescriptorHeaderType = 0x0002

// Connection is one live, authenticated TDS session.
type Connection struct {
	sock       *socket.Socket
	packetSize uint32
	loginAck   token.LoginAck
	database   string

	state int32 // State, accessed atomically

	mu                    sync.Mutex
	nextPacketID          uint8
	transactionDescriptor [8]byte
	needsReset            bool

	log tdslog.Logger
}

// New wraps a handshake.Result as an Idle connection ready to execute.
func New(hr *handshake.Result) *Connection {
	c := &Connection{
		sock:         hr.Socket,
		packetSize:   hr.PacketSize,
		loginAck:     hr.LoginAck,
		database:     hr.Database,
		nextPacketID: 1,
		log:          tdslog.For(tdslog.LayerConn),
	}
	atomic.StoreInt32(&c.state, int32(StateIdle))
	return c
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State { return State(atomic.LoadInt32(&c.state)) }

func (c *Connection) transition(from, to State) bool {
	return atomic.CompareAndSwapInt32(&c.state, int32(from), int32(to))
}

func (c *Connection) forceState(to State) { atomic.StoreInt32(&c.state, int32(to)) }

// IsAlive is a non-blocking liveness check: true iff the connection
// isn't Disconnected and the underlying socket still reports connected.
func (c *Connection) IsAlive() bool {
	return c.State() != StateDisconnected && c.sock.Connected()
}

// SetNeedsReset flags that the next execute_batch should carry the
// reset-connection status bit, clearing pool-accumulated session state
// (e.g. SET options, temp tables) on the server without a round trip.
func (c *Connection) SetNeedsReset(reset bool) {
	c.mu.Lock()
	c.needsReset = reset
	c.mu.Unlock()
}

// SetTransactionDescriptor records the 8-byte descriptor the ALL_HEADERS
// block must carry on every subsequent batch, enlisting the connection
// in a pinned transaction.
func (c *Connection) SetTransactionDescriptor(descriptor [8]byte) {
	c.mu.Lock()
	c.transactionDescriptor = descriptor
	c.mu.Unlock()
}

// ClearTransactionDescriptor resets to the zero descriptor (no active
// transaction enlistment).
func (c *Connection) ClearTransactionDescriptor() {
	c.mu.Lock()
	c.transactionDescriptor = [8]byte{}
	c.mu.Unlock()
}

// ExecuteBatch sends a SQL_BATCH request. Permitted only from Idle; it
// transitions to Executing and returns without reading a response —
// the caller drives a ResultStream to consume it.
func (c *Connection) ExecuteBatch(sql string) error {
	if !c.transition(StateIdle, StateExecuting) {
		return tdserr.New(tdserr.KindState, tdserr.ErrCodeInvalidState, tdslog.LayerConn,
			"execute_batch called outside Idle state (current: "+c.State().String()+")")
	}

	c.mu.Lock()
	descriptor := c.transactionDescriptor
	reset := c.needsReset
	c.needsReset = false
	c.mu.Unlock()

	header := buildAllHeaders(descriptor, 1)
	payload := append(header, codec.EncodeUTF16LE(sql)...)

	packets := packet.Fragment(payload, packet.TypeSQLBatch, int(c.packetSize))
	if reset && len(packets) > 0 {
		packets[0].Header.Status |= packet.StatusResetConnection
	}

	c.log.Debug("execute_batch", "packets", len(packets), "reset", reset)
	for _, pkt := range packets {
		pkt.Header.PacketID = c.nextID()
		if err := c.sock.Send(pkt.Serialize()); err != nil {
			c.forceState(StateDisconnected)
			return tdserr.Wrap(err, tdserr.KindTransport, tdserr.ErrCodeConnectionFailed, tdslog.LayerConn, "send sql batch")
		}
	}
	return nil
}

// ExecuteBulkLoad sends a pre-built bulk-load payload (COLMETADATA/ROW/
// DONE tokens) as a fragmented sequence of TypeBulkLoad packets.
// Permitted only from Idle; it transitions to Executing and returns
// without reading a response — the caller reads the server's
// acknowledgment directly off ReceiveData.
func (c *Connection) ExecuteBulkLoad(payload []byte) error {
	if !c.transition(StateIdle, StateExecuting) {
		return tdserr.New(tdserr.KindState, tdserr.ErrCodeInvalidState, tdslog.LayerConn,
			"execute_bulk_load called outside Idle state (current: "+c.State().String()+")")
	}

	packets := packet.Fragment(payload, packet.TypeBulkLoad, int(c.packetSize))
	c.log.Debug("execute_bulk_load", "packets", len(packets))
	for _, pkt := range packets {
		pkt.Header.PacketID = c.nextID()
		if err := c.sock.Send(pkt.Serialize()); err != nil {
			c.forceState(StateDisconnected)
			return tdserr.Wrap(err, tdserr.KindTransport, tdserr.ErrCodeConnectionFailed, tdslog.LayerConn, "send bulk load")
		}
	}
	return nil
}

// ReceiveData forwards a read to the socket, valid while Executing or
// Cancelling. A transport error or closed socket forces Disconnected.
func (c *Connection) ReceiveData(buf []byte, timeout time.Duration) (int, error) {
	st := c.State()
	if st != StateExecuting && st != StateCancelling {
		return 0, tdserr.New(tdserr.KindState, tdserr.ErrCodeInvalidState, tdslog.LayerConn,
			"receive_data called outside Executing/Cancelling (current: "+st.String()+")")
	}
	n, err := c.sock.Receive(buf, timeout)
	if err != nil {
		c.forceState(StateDisconnected)
		return n, tdserr.Wrap(err, tdserr.KindTransport, tdserr.ErrCodeConnectionFailed, tdslog.LayerConn, "receive data")
	}
	return n, nil
}

// DrainComplete transitions Executing/Cancelling back to Idle once a
// result stream has seen a final DONE.
func (c *Connection) DrainComplete() {
	st := c.State()
	if st == StateExecuting || st == StateCancelling {
		c.forceState(StateIdle)
	}
}

// MarkFatal forces the connection to Disconnected after an
// unrecoverable protocol error, closing the socket.
func (c *Connection) MarkFatal() {
	c.forceState(StateDisconnected)
	c.sock.Close()
}

// SendAttention transitions Executing to Cancelling and writes a single
// zero-length ATTENTION packet with a fresh packet id.
func (c *Connection) SendAttention() error {
	if !c.transition(StateExecuting, StateCancelling) {
		return tdserr.New(tdserr.KindState, tdserr.ErrCodeInvalidState, tdslog.LayerConn,
			"send_attention called outside Executing (current: "+c.State().String()+")")
	}
	pkt := packet.Packet{
		Header: packet.Header{
			Type:     packet.TypeAttention,
			Status:   packet.StatusEOM,
			PacketID: c.nextID(),
		},
	}
	c.log.Info("send_attention")
	if err := c.sock.Send(pkt.Serialize()); err != nil {
		c.forceState(StateDisconnected)
		return tdserr.Wrap(err, tdserr.KindTransport, tdserr.ErrCodeConnectionFailed, tdslog.LayerConn, "send attention")
	}
	return nil
}

// WaitForAttentionAck drains the token stream (via p, already in skip
// mode) until a DONE carrying the attention-ack flag arrives or the
// deadline elapses. On timeout the connection is force-closed.
func (c *Connection) WaitForAttentionAck(p *token.Parser, deadline time.Duration) error {
	buf := make([]byte, 8192)
	budget := deadline
	for {
		start := time.Now()
		n, err := c.sock.Receive(buf, budget)
		if err != nil {
			c.MarkFatal()
			return tdserr.Wrap(err, tdserr.KindTransport, tdserr.ErrCodeConnectionFailed, tdslog.LayerConn, "wait for attention ack")
		}
		if n > 0 {
			p.Feed(buf[:n])
		}
		for {
			ev, perr := p.TryParseNext()
			if perr == token.ErrNeedMoreData {
				break
			}
			if perr != nil {
				c.MarkFatal()
				return tdserr.Wrap(perr, tdserr.KindProtocol, tdserr.ErrCodeTokenMalformed, tdslog.LayerConn, "parse drain token")
			}
			if ev != nil && ev.Done != nil && ev.Done.IsAttentionAck() {
				c.forceState(StateIdle)
				return nil
			}
		}
		budget -= time.Since(start)
		if budget <= 0 {
			c.MarkFatal()
			return tdserr.New(tdserr.KindTimeout, tdserr.ErrCodeConnectionTimeout, tdslog.LayerConn, "attention-ack drain deadline exceeded")
		}
	}
}

// Ping runs SELECT 1 from Idle and expects a final DONE. An error from
// ExecuteBatch is returned as is; any failure after the batch is sent
// marks the connection Disconnected.
func (c *Connection) Ping(timeout time.Duration) error {
	if err := c.ExecuteBatch("SELECT 1"); err != nil {
		return err
	}
	p := token.NewParser()
	buf := make([]byte, 4096)
	budget := timeout
	for {
		start := time.Now()
		n, err := c.sock.Receive(buf, budget)
		if err != nil {
			c.forceState(StateDisconnected)
			return tdserr.Wrap(err, tdserr.KindTransport, tdserr.ErrCodeConnectionFailed, tdslog.LayerConn, "ping")
		}
		if n > 0 {
			p.Feed(buf[:n])
		}
		for {
			ev, perr := p.TryParseNext()
			if perr == token.ErrNeedMoreData {
				break
			}
			if perr != nil {
				c.forceState(StateDisconnected)
				return tdserr.Wrap(perr, tdserr.KindProtocol, tdserr.ErrCodeTokenMalformed, tdslog.LayerConn, "ping")
			}
			if ev != nil && ev.Done != nil && ev.Done.IsFinal() {
				if ev.Done.HasError() {
					c.forceState(StateDisconnected)
					return tdserr.New(tdserr.KindServer, tdserr.ErrCodeServerError, tdslog.LayerConn, "ping: server reported error status")
				}
				c.forceState(StateIdle)
				return nil
			}
		}
		budget -= time.Since(start)
		if budget <= 0 {
			c.forceState(StateDisconnected)
			return tdserr.New(tdserr.KindTimeout, tdserr.ErrCodeConnectionTimeout, tdslog.LayerConn, "ping timed out")
		}
	}
}

// ValidateWithPing is IsAlive followed by Ping, matching the pool's
// "was this idle connection dropped since it was last used" check.
func (c *Connection) ValidateWithPing(timeout time.Duration) error {
	if !c.IsAlive() {
		return tdserr.New(tdserr.KindState, tdserr.ErrCodeInvalidState, tdslog.LayerConn, "validate_with_ping: connection not alive")
	}
	return c.Ping(timeout)
}

// Close releases the socket unconditionally.
func (c *Connection) Close() error {
	c.forceState(StateDisconnected)
	return c.sock.Close()
}

func (c *Connection) nextID() uint8 {
	c.mu.Lock()
	id := c.nextPacketID
	c.nextPacketID++
	if c.nextPacketID == 0 {
		c.nextPacketID = 1
	}
	c.mu.Unlock()
	return id
}

// buildAllHeaders constructs the ALL_HEADERS block every SQL_BATCH/RPC
// request is prefixed with: total length, then a transaction-descriptor
// header (the descriptor bytes, or zero for none) and an outstanding
// request count.
func buildAllHeaders(descriptor [8]byte, outstandingRequests uint32) []byte {
	headerBody := make([]byte, 2+8+4)
	binary.LittleEndian.PutUint16(headerBody[0:2], transactionDescriptorHeaderType)
	copy(headerBody[2:10], descriptor[:])
	binary.LittleEndian.PutUint32(headerBody[10:14], outstandingRequests)

	headerLen := 4 + len(headerBody)
	totalLen := 4 + headerLen

	out := make([]byte, totalLen)
	binary.LittleEndian.PutUint32(out[0:4], uint32(totalLen))
	binary.LittleEndian.PutUint32(out[4:8], uint32(headerLen))
	copy(out[8:], headerBody)
	return out
}
