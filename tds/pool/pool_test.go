package pool

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ha1tch/tdsclient/tds/conn"
	"github.com/ha1tch/tdsclient/tds/handshake"
	"github.com/ha1tch/tdsclient/tds/socket"
	"github.com/stretchr/testify/require"
)

// testFactory dials a fresh connection against a local echo-ish
// listener that never writes anything back; good enough to exercise
// pool bookkeeping, which never reads/writes through the connection.
func testFactory(t *testing.T) (Factory, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var serverConns []net.Conn
	done := make(chan struct{})
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				close(done)
				return
			}
			serverConns = append(serverConns, c)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	factory := func(ctx context.Context) (*conn.Connection, error) {
		sock, err := socket.Connect("127.0.0.1", uint16(addr.Port), 2*time.Second)
		if err != nil {
			return nil, err
		}
		return conn.New(&handshake.Result{Socket: sock, PacketSize: 4096}), nil
	}
	cleanup := func() {
		ln.Close()
		<-done
		for _, c := range serverConns {
			c.Close()
		}
	}
	return factory, cleanup
}

func testConfig(name string) Config {
	return Config{
		Name:              name,
		TotalCap:          2,
		MinWarm:           0,
		AcquireTimeout:    200 * time.Millisecond,
		IdleTimeout:       time.Hour,
		LongIdleThreshold: time.Hour,
		EnableCache:       true,
	}
}

func TestAcquireCreatesUnderCap(t *testing.T) {
	factory, cleanup := testFactory(t)
	defer cleanup()

	p := New(context.Background(), testConfig("t1"), factory)
	defer p.Close()

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, c)

	stats := p.Stats()
	require.Equal(t, 1, stats.Active)
	require.Equal(t, 0, stats.Idle)
}

func TestReleaseReturnsToIdle(t *testing.T) {
	factory, cleanup := testFactory(t)
	defer cleanup()

	p := New(context.Background(), testConfig("t2"), factory)
	defer p.Close()

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(c)

	stats := p.Stats()
	require.Equal(t, 0, stats.Active)
	require.Equal(t, 1, stats.Idle)
}

func TestAcquireReusesIdleConnection(t *testing.T) {
	factory, cleanup := testFactory(t)
	defer cleanup()

	p := New(context.Background(), testConfig("t3"), factory)
	defer p.Close()

	c1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(c1)

	c2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.Same(t, c1, c2)
}

func TestAcquireBlocksAtCapThenTimesOut(t *testing.T) {
	factory, cleanup := testFactory(t)
	defer cleanup()

	cfg := testConfig("t4")
	cfg.TotalCap = 1
	cfg.AcquireTimeout = 100 * time.Millisecond
	p := New(context.Background(), cfg, factory)
	defer p.Close()

	c1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, c1)

	_, err = p.Acquire(context.Background())
	require.Error(t, err)
}

func TestAcquireUnblocksOnRelease(t *testing.T) {
	factory, cleanup := testFactory(t)
	defer cleanup()

	cfg := testConfig("t5")
	cfg.TotalCap = 1
	cfg.AcquireTimeout = 2 * time.Second
	p := New(context.Background(), cfg, factory)
	defer p.Close()

	c1, err := p.Acquire(context.Background())
	require.NoError(t, err)

	resultCh := make(chan *conn.Connection, 1)
	go func() {
		c2, err := p.Acquire(context.Background())
		require.NoError(t, err)
		resultCh <- c2
	}()

	time.Sleep(50 * time.Millisecond)
	p.Release(c1)

	select {
	case c2 := <-resultCh:
		require.Same(t, c1, c2)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never unblocked")
	}
}

func TestPinnedConnectionReleaseIsNoop(t *testing.T) {
	factory, cleanup := testFactory(t)
	defer cleanup()

	p := New(context.Background(), testConfig("t6"), factory)
	defer p.Close()

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)

	p.Pin(c)
	p.Release(c)

	stats := p.Stats()
	require.Equal(t, 1, stats.Pinned)
	require.Equal(t, 0, stats.Idle)

	p.Unpin(c)
	p.Release(c)

	stats = p.Stats()
	require.Equal(t, 0, stats.Pinned)
	require.Equal(t, 1, stats.Idle)
}

func TestDiscardClosesAndRemovesConnection(t *testing.T) {
	factory, cleanup := testFactory(t)
	defer cleanup()

	p := New(context.Background(), testConfig("t7"), factory)
	defer p.Close()

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Discard(c)

	stats := p.Stats()
	require.Equal(t, 0, stats.Active)
	require.Equal(t, 0, stats.Idle)
	require.False(t, c.IsAlive())
}

func TestCloseFailsQueuedWaiters(t *testing.T) {
	factory, cleanup := testFactory(t)
	defer cleanup()

	cfg := testConfig("t8")
	cfg.TotalCap = 1
	cfg.AcquireTimeout = 5 * time.Second
	p := New(context.Background(), cfg, factory)

	_, err := p.Acquire(context.Background())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	p.Close()

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never resolved after close")
	}
}

func TestAcquireAfterCloseFailsImmediately(t *testing.T) {
	factory, cleanup := testFactory(t)
	defer cleanup()

	p := New(context.Background(), testConfig("t9"), factory)
	p.Close()

	_, err := p.Acquire(context.Background())
	require.Error(t, err)
}
