// Go MySQL Driver - A MySQL-Driver for Go's database/sql package
//
// Copyright 2024 The Go-MySQL-Driver Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package mysql

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// PooledEntry owns a Session plus its pool bookkeeping (spec §3, §4.5): it
// is either sitting idle in its pool's idle list or leased out to exactly
// one caller.
type PooledEntry struct {
	conn       *mysqlConn
	host       string
	createdAt  time.Time
	lastUsedAt time.Time
}

// Pool is a per-PoolKey collection of reusable sessions: an ordered idle
// list, a semaphore capping total (idle+leased) sessions at MaxPoolSize, a
// host balancer/quarantine pair, and a background sweep worker.
type Pool struct {
	key    PoolKey
	cfg    *Config
	hosts  []string
	bal    Balancer
	quar   *hostQuarantine
	sem    *semaphore.Weighted
	logger Logger

	mu     sync.Mutex
	idle   []*PooledEntry
	leased int
	closed bool

	stopSweep chan struct{}
	sweepDone chan struct{}
}

func splitHosts(addr string) []string {
	parts := strings.Split(addr, ",")
	hosts := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			hosts = append(hosts, p)
		}
	}
	if len(hosts) == 0 {
		hosts = []string{addr}
	}
	return hosts
}

func newPool(cfg *Config) *Pool {
	p := &Pool{
		key:       newPoolKey(cfg),
		cfg:       cfg,
		hosts:     splitHosts(cfg.Addr),
		bal:       newBalancer(cfg.LoadBalance),
		quar:      newHostQuarantine(),
		sem:       semaphore.NewWeighted(int64(cfg.MaxPoolSize)),
		logger:    cfg.Logger,
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	go p.sweepLoop()
	if cfg.MinPoolSize > 0 {
		go p.topUp(context.Background())
	}
	return p
}

// Acquire leases a session, reusing a valid idle entry if one is available,
// opening a new one if the pool has spare capacity, or blocking until
// either happens (spec §4.5 Acquisition policy; invariant 4).
func (p *Pool) Acquire(ctx context.Context) (*PooledEntry, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		for len(p.idle) > 0 {
			e := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]
			p.mu.Unlock()

			if p.isEntryStale(e) {
				p.destroyLocked(e)
				p.mu.Lock()
				continue
			}
			if p.cfg.CheckConnLiveness {
				if err := e.conn.ResetSession(ctx); err != nil {
					p.destroyLocked(e)
					p.mu.Lock()
					continue
				}
			}
			p.mu.Lock()
			p.leased++
			p.mu.Unlock()
			return e, nil
		}
		p.mu.Unlock()
		break
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	e, err := p.dial(ctx)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}

	p.mu.Lock()
	p.leased++
	p.mu.Unlock()
	return e, nil
}

// isEntryStale applies the idle-timeout and connection-lifetime checks from
// spec §4.5 step 1.
func (p *Pool) isEntryStale(e *PooledEntry) bool {
	now := time.Now()
	if p.cfg.ConnectionLifetime > 0 && now.Sub(e.createdAt) > p.cfg.ConnectionLifetime {
		return true
	}
	if p.cfg.ConnectionIdleTimeout > 0 && now.Sub(e.lastUsedAt) > p.cfg.ConnectionIdleTimeout {
		return true
	}
	return false
}

// dial opens a brand-new session against a balancer-chosen, non-quarantined
// host, marking the host failed/healthy as appropriate.
func (p *Pool) dial(ctx context.Context) (*PooledEntry, error) {
	healthy := p.quar.filterHealthy(p.hosts)
	host := p.bal.Next(healthy)
	if host == "" {
		return nil, ErrNoHealthyHost
	}

	hostCfg := p.cfg.Clone()
	if hostCfg.Net == "tcp" {
		host = ensureHavePort(host)
	}
	hostCfg.Addr = host

	conn, err := newConnector(hostCfg).Connect(ctx)
	if err != nil {
		p.quar.markFailed(host)
		return nil, err
	}
	p.quar.markHealthy(host)

	mc := conn.(*mysqlConn)
	mc.pool = p
	now := time.Now()
	return &PooledEntry{conn: mc, host: host, createdAt: now, lastUsedAt: now}, nil
}

// Release returns a leased entry to the pool. A session that is in a
// transaction, was poisoned by the executor, or fails reset is destroyed
// instead of recycled (spec §4.5 Reset on return; invariant 3).
func (p *Pool) Release(e *PooledEntry, poison bool) {
	p.mu.Lock()
	p.leased--
	if p.closed {
		p.mu.Unlock()
		p.destroyLocked(e)
		return
	}
	p.mu.Unlock()

	if poison {
		p.destroyLocked(e)
		return
	}

	if err := e.conn.Reset(context.Background()); err != nil {
		p.destroyLocked(e)
		return
	}

	e.lastUsedAt = time.Now()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.destroyLocked(e)
		return
	}
	p.idle = append(p.idle, e)
	p.mu.Unlock()
}

// destroyLocked closes the underlying session and frees its semaphore slot.
// Despite the name it must NOT be called while p.mu is held (it may block
// on network I/O during Close).
func (p *Pool) destroyLocked(e *PooledEntry) {
	if lb, ok := p.bal.(*leastConnectionsBalancer); ok {
		lb.release(e.host)
	}
	e.conn.Close()
	p.sem.Release(1)
}

// topUp eagerly opens sessions until the idle list reaches MinPoolSize,
// run once at pool creation and again from each sweep tick.
func (p *Pool) topUp(ctx context.Context) {
	for {
		p.mu.Lock()
		need := p.cfg.MinPoolSize - (len(p.idle) + p.leased)
		p.mu.Unlock()
		if need <= 0 {
			return
		}

		if err := p.sem.Acquire(ctx, 1); err != nil {
			return
		}
		e, err := p.dial(ctx)
		if err != nil {
			p.sem.Release(1)
			p.logger.Print("mysql: pool top-up dial failed: ", err)
			return
		}
		p.mu.Lock()
		p.idle = append(p.idle, e)
		p.mu.Unlock()
	}
}

// sweepLoop is the background worker from spec §4.5: it periodically reaps
// idle/expired entries, tops up to MinPoolSize, and gives quarantined hosts
// a chance to be retried on the next Acquire.
func (p *Pool) sweepLoop() {
	defer close(p.sweepDone)

	interval := p.cfg.ConnectionIdleTimeout
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-p.stopSweep:
			return
		case <-t.C:
			p.reapIdle()
			p.topUp(context.Background())
		}
	}
}

func (p *Pool) reapIdle() {
	p.mu.Lock()
	var keep []*PooledEntry
	var stale []*PooledEntry
	for _, e := range p.idle {
		if p.isEntryStale(e) {
			stale = append(stale, e)
		} else {
			keep = append(keep, e)
		}
	}
	p.idle = keep
	p.mu.Unlock()

	for _, e := range stale {
		p.destroyLocked(e)
	}
}

// Close closes every idle session and marks the pool closed so Acquire
// fails fast and Release destroys rather than recycles. Leased sessions
// are closed by their own Release call once returned.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	close(p.stopSweep)
	<-p.sweepDone

	for _, e := range idle {
		p.destroyLocked(e)
	}
	return nil
}

// Stats reports a snapshot of pool occupancy, useful for tests and metrics.
type Stats struct {
	Idle   int
	Leased int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Idle: len(p.idle), Leased: p.leased}
}
