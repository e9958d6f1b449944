package client

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/ha1tch/tdsclient/tds/conn"
	"github.com/ha1tch/tdsclient/tds/handshake"
	"github.com/ha1tch/tdsclient/tds/pool"
	"github.com/ha1tch/tdsclient/tds/socket"
	"github.com/stretchr/testify/require"
)

// fakeServer accepts connections forever so the pool's factory has
// something real to dial against, without running a TDS handshake.
func fakeServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				buf := make([]byte, 4096)
				for {
					if _, err := c.Read(buf); err != nil {
						c.Close()
						return
					}
				}
			}(c)
		}
	}()
	return ln.Addr().String()
}

func newTestManagerWithFakePool(t *testing.T, name string) *Manager {
	t.Helper()
	addr := fakeServer(t)
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	m := NewManager()
	factory := func(ctx context.Context) (*conn.Connection, error) {
		sock, err := socket.Connect(host, uint16(port), 2*time.Second)
		if err != nil {
			return nil, err
		}
		return conn.New(&handshake.Result{Socket: sock, PacketSize: 4096}), nil
	}
	p := pool.New(context.Background(), pool.Config{Name: name, TotalCap: 4}, factory)
	m.mu.Lock()
	m.pools[name] = p
	m.mu.Unlock()
	return m
}

func TestManagerAcquireReleaseRoundTrip(t *testing.T) {
	m := newTestManagerWithFakePool(t, "primary")
	defer m.Close()

	c, err := m.Acquire(context.Background(), "primary", time.Second)
	require.NoError(t, err)
	require.NotNil(t, c)

	require.NoError(t, m.Release("primary", c))
}

func TestManagerAcquireUnknownContextFails(t *testing.T) {
	m := NewManager()
	_, err := m.Acquire(context.Background(), "missing", time.Second)
	require.Error(t, err)
}

func TestManagerRegisterTwiceFails(t *testing.T) {
	m := newTestManagerWithFakePool(t, "primary")
	defer m.Close()

	err := m.Register(context.Background(), "primary", ConnectOptions{}, PoolOptions{})
	require.Error(t, err)
}

func TestManagerRemoveDeregisters(t *testing.T) {
	m := newTestManagerWithFakePool(t, "primary")

	require.NoError(t, m.Remove("primary"))
	_, err := m.Acquire(context.Background(), "primary", time.Second)
	require.Error(t, err)

	require.Error(t, m.Remove("primary"))
}

func TestManagerPinUnpin(t *testing.T) {
	m := newTestManagerWithFakePool(t, "primary")
	defer m.Close()

	c, err := m.Acquire(context.Background(), "primary", time.Second)
	require.NoError(t, err)

	require.NoError(t, m.Pin("primary", c))
	require.NoError(t, m.Unpin("primary", c))
	require.NoError(t, m.Release("primary", c))
}
