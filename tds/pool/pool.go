// Package pool implements the process-wide connection pool: a named
// reservoir of *conn.Connection values with a hard cap on total
// connections, a minimum warm count, tiered liveness validation on
// acquire, and transaction pinning.
package pool

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ha1tch/tdsclient/internal/tdserr"
	"github.com/ha1tch/tdsclient/internal/tdslog"
	"github.com/ha1tch/tdsclient/metrics"
	"github.com/ha1tch/tdsclient/tds/conn"
)

// Factory builds one fresh, authenticated connection.
type Factory func(ctx context.Context) (*conn.Connection, error)

// Config carries the per-pool tunables named in the host configuration
// surface.
type Config struct {
	Name string // the context name this pool is registered under

	TotalCap          int
	MinWarm           int
	AcquireTimeout    time.Duration
	IdleTimeout       time.Duration
	LongIdleThreshold time.Duration
	EnableCache       bool // when false, Release always closes instead of idling
}

func (c *Config) setDefaults() {
	if c.TotalCap <= 0 {
		c.TotalCap = 10
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Minute
	}
	if c.LongIdleThreshold <= 0 {
		c.LongIdleThreshold = 5 * time.Minute
	}
}

type idleEntry struct {
	c        *conn.Connection
	lastUsed time.Time
}

// Pool is one named reservoir of connections.
type Pool struct {
	cfg     Config
	factory Factory
	log     tdslog.Logger

	mu      sync.Mutex
	idle    *list.List // of *idleEntry, back = most recently released (LIFO)
	active  map[*conn.Connection]struct{}
	pinned  map[*conn.Connection]struct{}
	waiters *list.List // of chan acquireResult
	closed  bool

	stopMaintenance chan struct{}
	maintenanceDone chan struct{}
}

type acquireResult struct {
	c   *conn.Connection
	err error
}

// New constructs a Pool and eagerly warms it to MinWarm connections.
// Warm-up failures are logged but do not fail construction; they'll be
// retried organically as Acquire calls fall through to the factory.
func New(ctx context.Context, cfg Config, factory Factory) *Pool {
	cfg.setDefaults()
	p := &Pool{
		cfg:             cfg,
		factory:         factory,
		log:             tdslog.For(tdslog.LayerPool),
		idle:            list.New(),
		active:          make(map[*conn.Connection]struct{}),
		pinned:          make(map[*conn.Connection]struct{}),
		waiters:         list.New(),
		stopMaintenance: make(chan struct{}),
		maintenanceDone: make(chan struct{}),
	}
	p.warmUp(ctx)
	p.updateMetrics()
	go p.maintenanceLoop()
	return p
}

// warmUp dials MinWarm connections concurrently, bounded by MinWarm
// itself since each dial is independent and a failed one should never
// block the rest. Individual failures are logged and counted, not
// propagated: they'll be retried organically as Acquire calls fall
// through to the factory.
func (p *Pool) warmUp(ctx context.Context) {
	if p.cfg.MinWarm <= 0 {
		return
	}
	var g errgroup.Group
	var mu sync.Mutex
	for i := 0; i < p.cfg.MinWarm; i++ {
		g.Go(func() error {
			c, err := p.factory(ctx)
			if err != nil {
				p.log.Warn("warm-up connection failed", "context", p.cfg.Name, "error", err)
				metrics.ConnectionErrors.WithLabelValues(p.cfg.Name, "warmup").Inc()
				return nil
			}
			mu.Lock()
			p.idle.PushBack(&idleEntry{c: c, lastUsed: time.Now()})
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
}

// maintenanceLoop periodically evicts idle connections older than
// IdleTimeout and tops the idle stack back up to MinWarm.
func (p *Pool) maintenanceLoop() {
	defer close(p.maintenanceDone)
	interval := p.cfg.IdleTimeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopMaintenance:
			return
		case <-ticker.C:
			p.evictStale()
			p.ensureMinIdle()
		}
	}
}

func (p *Pool) evictStale() {
	p.mu.Lock()
	var stale []*conn.Connection
	for el := p.idle.Front(); el != nil; {
		next := el.Next()
		entry := el.Value.(*idleEntry)
		if time.Since(entry.lastUsed) >= p.cfg.IdleTimeout {
			p.idle.Remove(el)
			stale = append(stale, entry.c)
		}
		el = next
	}
	p.updateMetricsLocked()
	p.mu.Unlock()

	for _, c := range stale {
		c.Close()
		metrics.ConnectionsTotal.WithLabelValues(p.cfg.Name, "evicted_stale").Inc()
	}
	if len(stale) > 0 {
		p.log.Debug("evicted stale idle connections", "context", p.cfg.Name, "count", len(stale))
	}
}

func (p *Pool) ensureMinIdle() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	deficit := p.cfg.MinWarm - p.idle.Len()
	p.mu.Unlock()

	for i := 0; i < deficit; i++ {
		c, err := p.factory(context.Background())
		if err != nil {
			p.log.Warn("replenish idle connection failed", "context", p.cfg.Name, "error", err)
			metrics.ConnectionErrors.WithLabelValues(p.cfg.Name, "replenish").Inc()
			return
		}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			c.Close()
			return
		}
		p.idle.PushBack(&idleEntry{c: c, lastUsed: time.Now()})
		p.updateMetricsLocked()
		p.mu.Unlock()
	}
}

// Acquire returns a ready-to-use connection, preferring an idle one,
// falling back to the factory while under cap, and finally queueing
// until a release frees a slot or AcquireTimeout elapses.
func (p *Pool) Acquire(ctx context.Context) (*conn.Connection, error) {
	waitStart := time.Now()
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, tdserr.New(tdserr.KindState, tdserr.ErrCodePoolClosed, tdslog.LayerPool, "acquire from closed pool")
		}

		if el := p.idle.Back(); el != nil {
			entry := el.Value.(*idleEntry)
			p.idle.Remove(el)
			p.mu.Unlock()

			if time.Since(entry.lastUsed) >= p.cfg.LongIdleThreshold {
				if err := entry.c.ValidateWithPing(p.cfg.AcquireTimeout); err != nil {
					p.log.Warn("dropping stale idle connection", "context", p.cfg.Name, "error", err)
					entry.c.Close()
					metrics.ConnectionsTotal.WithLabelValues(p.cfg.Name, "idle_validation_failed").Inc()
					continue
				}
			} else if !entry.c.IsAlive() {
				entry.c.Close()
				metrics.ConnectionsTotal.WithLabelValues(p.cfg.Name, "idle_dead").Inc()
				continue
			}

			p.mu.Lock()
			p.active[entry.c] = struct{}{}
			p.mu.Unlock()
			p.recordAcquire(waitStart)
			return entry.c, nil
		}

		if len(p.active)+len(p.pinned) < p.cfg.TotalCap {
			p.mu.Unlock()
			c, err := p.factory(ctx)
			if err != nil {
				metrics.ConnectionErrors.WithLabelValues(p.cfg.Name, "create").Inc()
				return nil, tdserr.Wrap(err, tdserr.KindTransport, tdserr.ErrCodePoolExhausted, tdslog.LayerPool, "create pooled connection")
			}
			p.mu.Lock()
			p.active[c] = struct{}{}
			p.mu.Unlock()
			p.recordAcquire(waitStart)
			return c, nil
		}

		// At capacity: queue as a waiter.
		ch := make(chan acquireResult, 1)
		el := p.waiters.PushBack(ch)
		p.updateMetricsLocked()
		p.mu.Unlock()

		timer := time.NewTimer(p.cfg.AcquireTimeout)
		select {
		case res := <-ch:
			timer.Stop()
			if res.err != nil {
				return nil, res.err
			}
			p.recordAcquire(waitStart)
			return res.c, nil
		case <-timer.C:
			p.mu.Lock()
			p.waiters.Remove(el)
			p.updateMetricsLocked()
			p.mu.Unlock()
			metrics.ConnectionsTotal.WithLabelValues(p.cfg.Name, "acquire_timeout").Inc()
			return nil, tdserr.New(tdserr.KindTimeout, tdserr.ErrCodeAcquireTimeout, tdslog.LayerPool, "acquire timed out waiting for a connection")
		case <-ctx.Done():
			timer.Stop()
			p.mu.Lock()
			p.waiters.Remove(el)
			p.updateMetricsLocked()
			p.mu.Unlock()
			return nil, tdserr.Wrap(ctx.Err(), tdserr.KindTimeout, tdserr.ErrCodeAcquireTimeout, tdslog.LayerPool, "acquire cancelled")
		}
	}
}

// Release returns a connection to the pool. A pinned connection's
// release is a no-op: the host must Unpin (commit/rollback) first.
func (p *Pool) Release(c *conn.Connection) {
	p.mu.Lock()
	if _, isPinned := p.pinned[c]; isPinned {
		p.mu.Unlock()
		return
	}
	delete(p.active, c)

	if p.closed || !c.IsAlive() {
		p.mu.Unlock()
		c.Close()
		metrics.ConnectionsTotal.WithLabelValues(p.cfg.Name, "discarded").Inc()
		p.updateMetrics()
		return
	}

	if !p.cfg.EnableCache {
		p.mu.Unlock()
		c.Close()
		metrics.ConnectionsTotal.WithLabelValues(p.cfg.Name, "closed_no_cache").Inc()
		p.updateMetrics()
		return
	}

	// Hand directly to a waiting acquirer if one exists, skipping the
	// idle stack entirely.
	if el := p.waiters.Front(); el != nil {
		ch := el.Value.(chan acquireResult)
		p.waiters.Remove(el)
		p.active[c] = struct{}{}
		p.mu.Unlock()
		ch <- acquireResult{c: c}
		metrics.ConnectionsTotal.WithLabelValues(p.cfg.Name, "handed_off").Inc()
		return
	}

	p.idle.PushBack(&idleEntry{c: c, lastUsed: time.Now()})
	p.mu.Unlock()
	metrics.ConnectionsTotal.WithLabelValues(p.cfg.Name, "released").Inc()
	p.updateMetrics()
}

// Discard permanently removes a connection from the pool without
// returning it to idle, closing it. Use after a fatal protocol error
// the caller already observed.
func (p *Pool) Discard(c *conn.Connection) {
	p.mu.Lock()
	delete(p.active, c)
	delete(p.pinned, c)
	p.mu.Unlock()
	c.Close()
	metrics.ConnectionsTotal.WithLabelValues(p.cfg.Name, "discarded").Inc()
	p.updateMetrics()
}

// Pin marks a connection as enlisted in a transaction: it will never
// traverse the idle queue, and Release becomes a no-op until Unpin.
func (p *Pool) Pin(c *conn.Connection) {
	p.mu.Lock()
	p.pinned[c] = struct{}{}
	p.mu.Unlock()
	p.updateMetrics()
}

// Unpin releases the transaction pin. The caller should follow with
// Release (or Discard, if the transaction aborted the connection).
func (p *Pool) Unpin(c *conn.Connection) {
	p.mu.Lock()
	delete(p.pinned, c)
	p.mu.Unlock()
	p.updateMetrics()
}

// Stats reports current pool occupancy.
type Stats struct {
	Idle    int
	Active  int
	Pinned  int
	Waiters int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Idle:    p.idle.Len(),
		Active:  len(p.active),
		Pinned:  len(p.pinned),
		Waiters: p.waiters.Len(),
	}
}

// Close closes every idle and active connection and fails any queued
// waiters. Safe to call once; subsequent Acquire calls fail immediately.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	for el := p.idle.Front(); el != nil; el = el.Next() {
		el.Value.(*idleEntry).c.Close()
	}
	p.idle.Init()

	for c := range p.active {
		c.Close()
	}
	for c := range p.pinned {
		c.Close()
	}

	closeErr := tdserr.New(tdserr.KindState, tdserr.ErrCodePoolClosed, tdslog.LayerPool, "pool closed")
	for el := p.waiters.Front(); el != nil; el = el.Next() {
		el.Value.(chan acquireResult) <- acquireResult{err: closeErr}
	}
	p.waiters.Init()
	p.mu.Unlock()

	close(p.stopMaintenance)
	<-p.maintenanceDone

	p.log.Info("pool closed", "context", p.cfg.Name)
	return nil
}

func (p *Pool) recordAcquire(waitStart time.Time) {
	metrics.QueueWaitDuration.WithLabelValues(p.cfg.Name).Observe(time.Since(waitStart).Seconds())
	metrics.ConnectionsTotal.WithLabelValues(p.cfg.Name, "acquired").Inc()
	p.updateMetrics()
}

func (p *Pool) updateMetrics() {
	p.mu.Lock()
	p.updateMetricsLocked()
	p.mu.Unlock()
}

func (p *Pool) updateMetricsLocked() {
	metrics.ConnectionsIdle.WithLabelValues(p.cfg.Name).Set(float64(p.idle.Len()))
	metrics.ConnectionsActive.WithLabelValues(p.cfg.Name).Set(float64(len(p.active)))
	metrics.ConnectionsPinned.WithLabelValues(p.cfg.Name).Set(float64(len(p.pinned)))
	metrics.QueueLength.WithLabelValues(p.cfg.Name).Set(float64(p.waiters.Len()))
}
