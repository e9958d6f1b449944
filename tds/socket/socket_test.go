package socket

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConnectSendReceive(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		conn.Read(buf)
		conn.Write([]byte("world"))
	}()

	addr := ln.Addr().(*net.TCPAddr)
	s, err := Connect("127.0.0.1", uint16(addr.Port), 2*time.Second)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Send([]byte("hello")))

	buf := make([]byte, 16)
	n, err := s.Receive(buf, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, "world", string(buf[:n]))
}

func TestReceiveTimeoutIsNotError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { <-time.After(200 * time.Millisecond); conn.Close() }()
	}()

	addr := ln.Addr().(*net.TCPAddr)
	s, err := Connect("127.0.0.1", uint16(addr.Port), 2*time.Second)
	require.NoError(t, err)
	defer s.Close()

	buf := make([]byte, 16)
	n, err := s.Receive(buf, 20*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestConnectFailureFast(t *testing.T) {
	_, err := Connect("127.0.0.1", 1, 200*time.Millisecond)
	require.Error(t, err)
}
