package stream

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

func writeReplyPacket(c net.Conn, payload []byte) {
	pkt := packet.Packet{
		Header:  packet.Header{Type: packet.TypeReply, Status: packet.StatusEOM, PacketID: 1},
		Payload: payload,
	}
	c.Write(pkt.Serialize())
}

func encodeColMetadata(columns []codec.Column) []byte {
	var out bytes.Buffer
	out.WriteByte(byte(token.TypeColMetadata))
	binary.Write(&out, binary.LittleEndian, uint16(len(columns)))
	for _, col := range columns {
		binary.Write(&out, binary.LittleEndian, col.UserType)
		flags := col.Flags
		if col.Nullable {
			flags |= codec.ColFlagNullable
		}
		binary.Write(&out, binary.LittleEndian, flags)
		out.WriteByte(byte(col.Type))
		switch col.Type {
		case codec.TypeIntN:
			out.WriteByte(byte(col.Length))
		case codec.TypeBigVarChar, codec.TypeBigChar:
			binary.Write(&out, binary.LittleEndian, uint16(col.Length))
			out.Write(codec.DefaultCollation[:])
		}
		out.WriteByte(byte(len(col.Name)))
		out.Write(codec.EncodeUTF16LE(col.Name))
	}
	return out.Bytes()
}

func encodeRow(id int64, name string) []byte {
	var out bytes.Buffer
	out.WriteByte(byte(token.TypeRow))
	out.Write(codec.EncodeIntN(id, 4))
	out.Write(codec.EncodeVarChar(name))
	return out.Bytes()
}

func encodeDone(status uint16, rowCount uint64) []byte {
	var out bytes.Buffer
	out.WriteByte(byte(token.TypeDone))
	binary.Write(&out, binary.LittleEndian, status)
	binary.Write(&out, binary.LittleEndian, uint16(0))
	binary.Write(&out, binary.LittleEndian, rowCount)
	return out.Bytes()
}

func TestStreamFillsBatchToCompletion(t *testing.T) {
	c, server := newTestConnection(t)
	require.NoError(t, c.ExecuteBatch("SELECT id, name FROM t"))

	go func() {
		buf := make([]byte, 4096)
		server.Read(buf)

		columns := []codec.Column{
			{Name: "id", Type: codec.TypeIntN, Length: 4},
			{Name: "name", Type: codec.TypeBigVarChar, Length: 50},
		}
		var body []byte
		body = append(body, encodeColMetadata(columns)...)
		body = append(body, encodeRow(1, "alice")...)
		body = append(body, encodeRow(2, "bob")...)
		body = append(body, encodeDone(token.DoneFinal|token.DoneCount, 2)...)
		writeReplyPacket(server, body)
	}()

	s := New(c)
	require.NoError(t, s.Initialize(2*time.Second))
	require.Equal(t, StateStreaming, s.State())

	batch, err := s.FillBatch(10, 2*time.Second)
	require.NoError(t, err)
	require.Len(t, batch.Rows, 2)
	require.Equal(t, StateComplete, s.State())
	require.Equal(t, uint64(2), s.RowsAffected())
	require.Equal(t, conn.StateIdle, c.State())
}

func TestStreamSurfacesWarnings(t *testing.T) {
	c, server := newTestConnection(t)
	require.NoError(t, c.ExecuteBatch("EXEC proc"))

	go func() {
		buf := make([]byte, 4096)
		server.Read(buf)

		var infoBody bytes.Buffer
		infoBody.WriteByte(byte(token.TypeInfo))
		msg := "informational"
		inner := encodeInfoInner(1, 0, 0, msg, "srv", "", 1)
		binary.Write(&infoBody, binary.LittleEndian, uint16(len(inner)))
		infoBody.Write(inner)

		var body []byte
		body = append(body, infoBody.Bytes()...)
		body = append(body, encodeDone(token.DoneFinal, 0)...)
		writeReplyPacket(server, body)
	}()

	s := New(c)
	require.NoError(t, s.Initialize(2*time.Second))
	require.Equal(t, StateComplete, s.State())
	require.Len(t, s.Warnings(), 1)
	require.Equal(t, "informational", s.Warnings()[0].Message)
}

func encodeInfoInner(number int32, state, class uint8, msg, server, proc string, line int32) []byte {
	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, number)
	out.WriteByte(state)
	out.WriteByte(class)
	binary.Write(&out, binary.LittleEndian, uint16(len(msg)))
	out.Write(codec.EncodeUTF16LE(msg))
	out.WriteByte(byte(len(server)))
	out.Write(codec.EncodeUTF16LE(server))
	out.WriteByte(byte(len(proc)))
	out.Write(codec.EncodeUTF16LE(proc))
	binary.Write(&out, binary.LittleEndian, line)
	return out.Bytes()
}

func TestStreamCancelDrainsToIdle(t *testing.T) {
	c, server := newTestConnection(t)
	require.NoError(t, c.ExecuteBatch("SELECT * FROM big_table"))

	go func() {
		buf := make([]byte, 4096)
		server.Read(buf) // batch request

		columns := []codec.Column{{Name: "id", Type: codec.TypeIntN, Length: 4}}
		var body []byte
		body = append(body, encodeColMetadata(columns)...)
		writeReplyPacket(server, body)

		attnBuf := make([]byte, 64)
		server.Read(attnBuf) // attention packet
		writeReplyPacket(server, encodeDone(token.DoneFinal|token.DoneAttn, 0))
	}()

	s := New(c)
	require.NoError(t, s.Initialize(2*time.Second))
	require.Equal(t, StateStreaming, s.State())

	s.Cancel()
	_, err := s.FillBatch(10, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, StateComplete, s.State())
	require.Equal(t, conn.StateIdle, c.State())
}
