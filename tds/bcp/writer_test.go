package bcp

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/ha1tch/tdsclient/tds/codec"
	"github.com/ha1tch/tdsclient/tds/conn"
	"github.com/ha1tch/tdsclient/tds/handshake"
	"github.com/ha1tch/tdsclient/tds/packet"
	"github.com/ha1tch/tdsclient/tds/socket"
	"github.com/ha1tch/tdsclient/tds/token"
	"github.com/stretchr/testify/require"
)

func newTestConnection(t *testing.T) (*conn.Connection, net.Conn) {
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

	c := conn.New(&handshake.Result{Socket: sock, PacketSize: 4096})
	return c, serverConn
}

func testColumns() []codec.Column {
	return []codec.Column{
		{Name: "id", Type: codec.TypeIntN, Length: 4},
		{Name: "name", Type: codec.TypeBigVarChar, Length: 50},
	}
}

func readBulkLoadPackets(server net.Conn) []byte {
	var payload []byte
	buf := make([]byte, 8192)
	for {
		server.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := server.Read(buf)
		if err != nil || n < packet.HeaderSize {
			return payload
		}
		pkt, _, err := packet.Parse(buf[:n])
		if err != nil {
			return payload
		}
		payload = append(payload, pkt.Payload...)
		if pkt.Header.Status&packet.StatusEOM != 0 {
			return payload
		}
	}
}

func writeDoneAck(server net.Conn, rowCount uint64) {
	var body bytes.Buffer
	body.WriteByte(byte(token.TypeDone))
	binary.Write(&body, binary.LittleEndian, token.DoneFinal|token.DoneCount)
	binary.Write(&body, binary.LittleEndian, uint16(0))
	binary.Write(&body, binary.LittleEndian, rowCount)

	pkt := packet.Packet{
		Header:  packet.Header{Type: packet.TypeReply, Status: packet.StatusEOM, PacketID: 1},
		Payload: body.Bytes(),
	}
	server.Write(pkt.Serialize())
}

func TestWriterPrepareSendsInsertBulkStatement(t *testing.T) {
	c, server := newTestConnection(t)
	w := New(c, "dbo.target_table", testColumns(), nil, Options{})

	sql := make(chan []byte, 1)
	go func() { sql <- readBulkLoadPackets(server) }()

	prepErr := make(chan error, 1)
	go func() { prepErr <- w.Prepare(2 * time.Second) }()

	batch := codec.DecodeUTF16LE(<-sql)
	require.Contains(t, batch, "INSERT BULK dbo.target_table")
	require.Contains(t, batch, "[id] INTN NOT NULL")
	require.Contains(t, batch, "[name] VARCHAR(50) NOT NULL")

	writeDoneAck(server, 0)
	require.NoError(t, <-prepErr)
	require.Equal(t, conn.StateIdle, c.State())
}

func TestWriterPrepareAppliesColumnMapping(t *testing.T) {
	c, server := newTestConnection(t)
	w := New(c, "dbo.target_table", testColumns(), []string{"pk", "display_name"}, Options{})

	sql := make(chan []byte, 1)
	go func() { sql <- readBulkLoadPackets(server) }()

	prepErr := make(chan error, 1)
	go func() { prepErr <- w.Prepare(2 * time.Second) }()

	batch := codec.DecodeUTF16LE(<-sql)
	require.Contains(t, batch, "[pk]")
	require.Contains(t, batch, "[display_name]")

	writeDoneAck(server, 0)
	require.NoError(t, <-prepErr)
}

func TestWriterFlushBatchRoundTrip(t *testing.T) {
	c, server := newTestConnection(t)
	w := New(c, "dbo.target_table", testColumns(), nil, Options{})

	require.NoError(t, w.WriteColumnMetadata())
	require.NoError(t, w.WriteRows([][]interface{}{
		{int64(1), "alice"},
		{int64(2), "bob"},
	}))

	done := make(chan []byte, 1)
	go func() { done <- readBulkLoadPackets(server) }()

	flushErr := make(chan error, 1)
	go func() { flushErr <- w.FlushBatch() }()

	payload := <-done
	require.NotEmpty(t, payload)
	require.Equal(t, byte(token.TypeColMetadata), payload[0])

	writeDoneAck(server, 2)
	require.NoError(t, <-flushErr)
	require.Equal(t, conn.StateIdle, c.State())
}

func TestWriterRowCountMismatchIsWarningByDefault(t *testing.T) {
	c, server := newTestConnection(t)
	w := New(c, "dbo.target_table", testColumns(), nil, Options{})

	require.NoError(t, w.WriteColumnMetadata())
	require.NoError(t, w.WriteRows([][]interface{}{{int64(1), "alice"}}))

	go func() { readBulkLoadPackets(server) }()

	flushErr := make(chan error, 1)
	go func() { flushErr <- w.FlushBatch() }()

	writeDoneAck(server, 99)
	require.NoError(t, <-flushErr)
}

func TestWriterRowCountMismatchIsFatalWhenStrict(t *testing.T) {
	c, server := newTestConnection(t)
	w := New(c, "dbo.target_table", testColumns(), nil, Options{StrictRowCount: true})

	require.NoError(t, w.WriteColumnMetadata())
	require.NoError(t, w.WriteRows([][]interface{}{{int64(1), "alice"}}))

	go func() { readBulkLoadPackets(server) }()

	flushErr := make(chan error, 1)
	go func() { flushErr <- w.FlushBatch() }()

	writeDoneAck(server, 99)
	err := <-flushErr
	require.Error(t, err)
}

func TestWriterRejectsRowsBeforeMetadata(t *testing.T) {
	c, _ := newTestConnection(t)
	w := New(c, "dbo.target_table", testColumns(), nil, Options{})
	err := w.WriteRows([][]interface{}{{int64(1), "alice"}})
	require.Error(t, err)
}

func TestWriterRejectsDuplicateColumnMetadata(t *testing.T) {
	c, _ := newTestConnection(t)
	w := New(c, "dbo.target_table", testColumns(), nil, Options{})
	require.NoError(t, w.WriteColumnMetadata())
	require.Error(t, w.WriteColumnMetadata())
}

func TestWriterResetForNextBatch(t *testing.T) {
	c, _ := newTestConnection(t)
	w := New(c, "dbo.target_table", testColumns(), nil, Options{})
	require.NoError(t, w.WriteColumnMetadata())
	require.NoError(t, w.WriteRows([][]interface{}{{int64(1), "alice"}}))
	w.ResetForNextBatch()
	require.Equal(t, uint64(0), w.rowCount)
	require.False(t, w.colMetadataSent)
	err := w.WriteRows([][]interface{}{{int64(2), "bob"}})
	require.Error(t, err)
}
