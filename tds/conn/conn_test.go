package conn

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/ha1tch/tdsclient/tds/handshake"
	"github.com/ha1tch/tdsclient/tds/packet"
	"github.com/ha1tch/tdsclient/tds/socket"
	"github.com/ha1tch/tdsclient/tds/token"
	"github.com/stretchr/testify/require"
)

// newTestConnection dials a local listener and returns an Idle
// Connection plus the raw server-side net.Conn for scripting responses.
func newTestConnection(t *testing.T) (*Connection, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	serverConnCh := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			serverConnCh <- c
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	sock, err := socket.Connect("127.0.0.1", uint16(addr.Port), 2*time.Second)
	require.NoError(t, err)

	serverConn := <-serverConnCh
	t.Cleanup(func() { serverConn.Close() })

	c := New(&handshake.Result{Socket: sock, PacketSize: 4096})
	return c, serverConn
}

func doneTokenBytes(status uint16, rowCount uint64) []byte {
	out := make([]byte, 13)
	out[0] = byte(token.TypeDone)
	binary.LittleEndian.PutUint16(out[1:3], status)
	binary.LittleEndian.PutUint16(out[3:5], 0)
	binary.LittleEndian.PutUint64(out[5:13], rowCount)
	return out
}

func writeReplyPacket(conn net.Conn, payload []byte) {
	pkt := packet.Packet{
		Header: packet.Header{Type: packet.TypeReply, Status: packet.StatusEOM, PacketID: 1},
		Payload: payload,
	}
	conn.Write(pkt.Serialize())
}

func TestExecuteBatchRequiresIdle(t *testing.T) {
	c, _ := newTestConnection(t)
	c.forceState(StateExecuting)
	err := c.ExecuteBatch("SELECT 1")
	require.Error(t, err)
}

func TestExecuteBatchTransitionsToExecuting(t *testing.T) {
	c, server := newTestConnection(t)
	require.Equal(t, StateIdle, c.State())

	require.NoError(t, c.ExecuteBatch("SELECT 1"))
	require.Equal(t, StateExecuting, c.State())

	buf := make([]byte, 4096)
	n, err := server.Read(buf)
	require.NoError(t, err)
	require.Greater(t, n, packet.HeaderSize)
	require.Equal(t, byte(packet.TypeSQLBatch), buf[0])
}

func TestPingSucceeds(t *testing.T) {
	c, server := newTestConnection(t)

	go func() {
		buf := make([]byte, 4096)
		server.Read(buf)
		writeReplyPacket(server, doneTokenBytes(token.DoneFinal, 1))
	}()

	require.NoError(t, c.Ping(2*time.Second))
	require.Equal(t, StateIdle, c.State())
}

func TestPingFailsOnErrorDone(t *testing.T) {
	c, server := newTestConnection(t)

	go func() {
		buf := make([]byte, 4096)
		server.Read(buf)
		writeReplyPacket(server, doneTokenBytes(token.DoneFinal|token.DoneError, 0))
	}()

	require.Error(t, c.Ping(2*time.Second))
	require.Equal(t, StateDisconnected, c.State())
}

func TestSendAttentionAndWaitForAck(t *testing.T) {
	c, server := newTestConnection(t)
	require.NoError(t, c.ExecuteBatch("SELECT 1"))

	buf := make([]byte, 4096)
	_, err := server.Read(buf) // drain the batch request
	require.NoError(t, err)

	require.NoError(t, c.SendAttention())
	require.Equal(t, StateCancelling, c.State())

	go func() {
		srvBuf := make([]byte, 64)
		server.Read(srvBuf) // attention packet
		writeReplyPacket(server, doneTokenBytes(token.DoneFinal|token.DoneAttn, 0))
	}()

	p := token.NewParser()
	p.SetSkipMode(true)
	require.NoError(t, c.WaitForAttentionAck(p, 2*time.Second))
	require.Equal(t, StateIdle, c.State())
}

func TestIsAliveReflectsStateAndSocket(t *testing.T) {
	c, _ := newTestConnection(t)
	require.True(t, c.IsAlive())
	c.Close()
	require.False(t, c.IsAlive())
}
