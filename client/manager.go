package client

import (
	"context"
	"sync"
	"time"

	"github.com/ha1tch/tdsclient/internal/tdserr"
	"github.com/ha1tch/tdsclient/internal/tdslog"
	"github.com/ha1tch/tdsclient/tds/pool"
)

// PoolOptions is the configurable-pool-options surface a host tunes per
// context name.
type PoolOptions struct {
	TotalCap          int
	MinWarm           int
	AcquireTimeout    time.Duration
	IdleTimeout       time.Duration
	LongIdleThreshold time.Duration
	EnableCache       bool
}

func (o PoolOptions) toPoolConfig(name string) pool.Config {
	return pool.Config{
		Name:              name,
		TotalCap:          o.TotalCap,
		MinWarm:           o.MinWarm,
		AcquireTimeout:    o.AcquireTimeout,
		IdleTimeout:       o.IdleTimeout,
		LongIdleThreshold: o.LongIdleThreshold,
		EnableCache:       o.EnableCache,
	}
}

// Manager is the process-wide registry of named pools: a map from a
// host-chosen context name to the *pool.Pool serving it, guarded by its
// own mutex independent of any one pool's internal locking.
type Manager struct {
	mu    sync.Mutex
	pools map[string]*pool.Pool
	log   tdslog.Logger
}

// NewManager returns an empty registry. Pools are added only by
// Register; Acquire on a context name that was never registered fails.
func NewManager() *Manager {
	return &Manager{
		pools: make(map[string]*pool.Pool),
		log:   tdslog.For(tdslog.LayerClient),
	}
}

// Register creates and warms a pool for contextName using connectOpts
// as its connection factory. It is an error to register a context name
// twice; call Remove first to replace one.
func (m *Manager) Register(ctx context.Context, contextName string, connectOpts ConnectOptions, poolOpts PoolOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pools[contextName]; exists {
		return tdserr.Newf(tdserr.KindState, tdserr.ErrCodeContextExists, tdslog.LayerClient,
			"context %q is already registered", contextName)
	}

	factory := func(ctx context.Context) (*Connection, error) {
		return Connect(ctx, connectOpts)
	}
	p := pool.New(ctx, poolOpts.toPoolConfig(contextName), factory)
	m.pools[contextName] = p
	m.log.Info("registered pool", "context", contextName)
	return nil
}

// Acquire checks out a connection from the named pool, waiting up to
// timeout. A zero timeout uses the pool's own AcquireTimeout default.
func (m *Manager) Acquire(ctx context.Context, contextName string, timeout time.Duration) (*Connection, error) {
	p, err := m.lookup(contextName)
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return p.Acquire(ctx)
}

// Release returns a connection to the named pool.
func (m *Manager) Release(contextName string, c *Connection) error {
	p, err := m.lookup(contextName)
	if err != nil {
		return err
	}
	p.Release(c)
	return nil
}

// Discard permanently removes a connection from the named pool.
func (m *Manager) Discard(contextName string, c *Connection) error {
	p, err := m.lookup(contextName)
	if err != nil {
		return err
	}
	p.Discard(c)
	return nil
}

// Pin and Unpin mark/unmark a connection as enlisted in a transaction,
// per spec.md's pinning semantics.
func (m *Manager) Pin(contextName string, c *Connection) error {
	p, err := m.lookup(contextName)
	if err != nil {
		return err
	}
	p.Pin(c)
	return nil
}

func (m *Manager) Unpin(contextName string, c *Connection) error {
	p, err := m.lookup(contextName)
	if err != nil {
		return err
	}
	p.Unpin(c)
	return nil
}

// Stats reports occupancy for one registered context.
func (m *Manager) Stats(contextName string) (pool.Stats, error) {
	p, err := m.lookup(contextName)
	if err != nil {
		return pool.Stats{}, err
	}
	return p.Stats(), nil
}

// Remove tears down and deregisters the named pool, closing every
// connection it holds.
func (m *Manager) Remove(contextName string) error {
	m.mu.Lock()
	p, ok := m.pools[contextName]
	if ok {
		delete(m.pools, contextName)
	}
	m.mu.Unlock()

	if !ok {
		return tdserr.Newf(tdserr.KindState, tdserr.ErrCodeContextNotFound, tdslog.LayerClient,
			"context %q is not registered", contextName)
	}
	return p.Close()
}

// Close tears down every registered pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]*pool.Pool)
	m.mu.Unlock()

	var firstErr error
	for name, p := range pools {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = tdserr.Wrap(err, tdserr.KindState, tdserr.ErrCodeContextNotFound, tdslog.LayerClient, "close pool "+name)
		}
	}
	return firstErr
}

func (m *Manager) lookup(contextName string) (*pool.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[contextName]
	if !ok {
		return nil, tdserr.Newf(tdserr.KindState, tdserr.ErrCodeContextNotFound, tdslog.LayerClient,
			"context %q is not registered", contextName)
	}
	return p, nil
}
