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
	"database/sql/driver"
	"sync"
	"time"
)

// Executor orchestrates a single logical command against a leased session
// (spec §4.6): it writes exactly one command request, reads frames until
// the command's terminal packet, and enforces CommandTimeout/
// CancellationTimeout before the session is released back to its pool.
type Executor struct {
	entry    *PooledEntry
	pool     *Pool
	poisoned bool

	mu     sync.Mutex
	cancel *cancelSignal // set only while a command is in flight
}

// cancelSignal is a once-fired notification for the single command a given
// runWithCommandTimeout call is driving. It is rebuilt per command so an
// idle Executor between commands doesn't carry a stale, already-closed
// channel into the next one.
type cancelSignal struct {
	ch   chan struct{}
	once sync.Once
}

func newCancelSignal() *cancelSignal {
	return &cancelSignal{ch: make(chan struct{})}
}

func (c *cancelSignal) fire() {
	c.once.Do(func() { close(c.ch) })
}

// NewExecutor wraps a leased PooledEntry. Callers obtain the entry from
// Pool.Acquire and must call Release exactly once when done.
func NewExecutor(pool *Pool, entry *PooledEntry) *Executor {
	return &Executor{entry: entry, pool: pool}
}

// Conn exposes the underlying session for callers that want the raw
// database/sql/driver surface (statements, rows) alongside the executor's
// timeout/cancellation wrapping.
func (ex *Executor) Conn() *mysqlConn { return ex.entry.conn }

// Release returns the leased session to its pool. poison forces destruction
// instead of recycling; it is OR'd with any poisoning the executor itself
// decided on (e.g. a failed cancellation), so callers don't need to track
// that state themselves.
func (ex *Executor) Release(poison bool) {
	poison = poison || ex.poisoned
	if ex.pool != nil {
		ex.pool.Release(ex.entry, poison)
	} else if poison {
		ex.entry.conn.Close()
	}
}

// ExecuteText runs a COM_QUERY statement to completion (spec §4.6,
// "execute-text"). It is the blocking variant; AsyncExecuteText is its
// asynchronous twin with identical semantics over a channel.
func (ex *Executor) ExecuteText(ctx context.Context, query string, args []driver.Value) (driver.Result, error) {
	mc := ex.entry.conn
	return runWithCommandTimeout(ex, ctx, func(ctx context.Context) (driver.Result, error) {
		return mc.ExecContext(ctx, query, namedFromValues(args))
	})
}

// AsyncExecuteText is ExecuteText's non-blocking twin: the command runs on
// its own goroutine and the result arrives on the returned channel exactly
// once, mirroring spec §6's "explicit async and blocking variants with
// identical semantics."
func (ex *Executor) AsyncExecuteText(ctx context.Context, query string, args []driver.Value) <-chan ExecResult {
	ch := make(chan ExecResult, 1)
	go func() {
		res, err := ex.ExecuteText(ctx, query, args)
		ch <- ExecResult{Result: res, Err: err}
	}()
	return ch
}

// ExecutePrepared runs a previously-prepared statement to completion
// (spec §4.6, "execute-prepared").
func (ex *Executor) ExecutePrepared(ctx context.Context, stmt driver.Stmt, args []driver.Value) (driver.Result, error) {
	type ctxExecer interface {
		ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error)
	}
	return runWithCommandTimeout(ex, ctx, func(ctx context.Context) (driver.Result, error) {
		if ce, ok := stmt.(ctxExecer); ok {
			return ce.ExecContext(ctx, namedFromValues(args))
		}
		return stmt.Exec(args) //nolint:staticcheck // fallback for statements without ExecContext
	})
}

// StreamRows begins a lazy, single-pass row stream (spec §4.6
// "stream-rows"; spec §9 "lazy row streaming"). The returned driver.Rows
// is bound to the session lease: closing it (or draining it to EOF) is
// required before the session may be released.
func (ex *Executor) StreamRows(ctx context.Context, query string, args []driver.Value) (driver.Rows, error) {
	mc := ex.entry.conn
	return runWithCommandTimeout(ex, ctx, func(ctx context.Context) (driver.Rows, error) {
		return mc.QueryContext(ctx, query, namedFromValues(args))
	})
}

// AsyncStreamRows is StreamRows's non-blocking twin.
func (ex *Executor) AsyncStreamRows(ctx context.Context, query string, args []driver.Value) <-chan QueryResult {
	ch := make(chan QueryResult, 1)
	go func() {
		rows, err := ex.StreamRows(ctx, query, args)
		ch <- QueryResult{Rows: rows, Err: err}
	}()
	return ch
}

// Ping issues COM_PING (spec §4.2, §4.6).
func (ex *Executor) Ping(ctx context.Context) error {
	return ex.entry.conn.Ping(ctx)
}

// Begin starts a transaction (spec §6 "begin/commit/rollback transaction").
func (ex *Executor) Begin(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	return ex.entry.conn.BeginTx(ctx, opts)
}

// Cancel implements the external-cancel-signal path from spec §4.6. If a
// command is currently in flight under this executor, it wakes the
// corresponding runWithCommandTimeout call (so the caller of ExecuteText/
// StreamRows observes a Cancelled error wrapping the command's own terminal
// ServerError, per §4.6, rather than a bare one) before firing the same
// KILL QUERY sidecar a command timeout would. If nothing is in flight, it
// just fires the KILL QUERY directly.
func (ex *Executor) Cancel(ctx context.Context) error {
	ex.mu.Lock()
	sig := ex.cancel
	ex.mu.Unlock()
	if sig != nil {
		sig.fire()
	}
	return killQuery(ctx, ex.entry.conn.cfg, ex.entry.conn.threadID)
}

// ExecResult is the value delivered on ExecuteText's async channel.
type ExecResult struct {
	Result driver.Result
	Err    error
}

// QueryResult is the value delivered on StreamRows's async channel.
type QueryResult struct {
	Rows driver.Rows
	Err  error
}

// runWithCommandTimeout runs fn under ex's session's CommandTimeout (if
// set), racing its completion against that timer and against an external
// Executor.Cancel call. Either trigger drives the same spec §4.6
// cancellation path: fire KILL QUERY (unless Cancel already did) and give
// the session up to CancellationTimeout to settle back to Ready.
//
// fn keeps running against the caller's own ctx, not a derived deadline:
// CommandTimeout/Cancel are enforced here, by racing fn's completion
// against this goroutine, rather than by ever cancelling fn's context —
// that would hit the session's own abrupt watcher path (session.go's
// cancel) instead of the graceful one this method drives. Regardless of
// which way fn's goroutine resolves, this function never returns until it
// has actually rejoined that goroutine: releasing the session while fn may
// still be mid-read would hand a second owner a half-read transport (spec
// §3, §5).
func runWithCommandTimeout[T any](ex *Executor, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	mc := ex.entry.conn

	sig := newCancelSignal()
	ex.mu.Lock()
	ex.cancel = sig
	ex.mu.Unlock()
	defer func() {
		ex.mu.Lock()
		if ex.cancel == sig {
			ex.cancel = nil
		}
		ex.mu.Unlock()
	}()

	var timerC <-chan time.Time
	if timeout := mc.cfg.CommandTimeout; timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	var zero T
	var externallyCancelled bool
	select {
	case r := <-done:
		return r.v, r.err
	case <-timerC:
	case <-sig.ch:
		externallyCancelled = true
	}

	// fn's goroutine is still running against mc. Relay its eventual result
	// onto settled, a typeless channel, so cancel.go's awaitCancellation can
	// wait for it without needing to know T. The close-then-receive pair
	// below happens-before any read of settledResult past <-settled.
	settled := make(chan struct{})
	var settledResult result
	go func() {
		settledResult = <-done
		close(settled)
	}()

	budget := mc.cfg.CancellationTimeout

	if !externallyCancelled && budget < 0 {
		// spec §4.6: CancellationTimeout = -1 skips KILL entirely; the
		// command timeout poisons the session immediately instead.
		mc.cancel(ErrCommandTimeoutExpired)
		<-settled
		ex.poisoned = true
		return zero, ErrCommandTimeoutExpired
	}

	if !externallyCancelled {
		if err := killQuery(ctx, mc.cfg, mc.threadID); err != nil && !isQueryInterrupted(err) {
			mc.log("mysql: KILL QUERY failed: ", err)
		}
	}

	if awaitCancellation(mc, settled, budget) {
		if settledResult.err == nil {
			return settledResult.v, nil
		}
		return zero, &CancelledError{Err: settledResult.err}
	}

	// Not recovered: the KILL had no observable effect, so fn's goroutine is
	// still blocked on the transport. Force the abrupt path to actually
	// unblock it before this session is handed back to its pool.
	mc.cancel(ErrCommandTimeoutExpired)
	<-settled
	ex.poisoned = true
	return zero, ErrCommandTimeoutExpired
}

func namedFromValues(args []driver.Value) []driver.NamedValue {
	nv := make([]driver.NamedValue, len(args))
	for i, a := range args {
		nv[i] = driver.NamedValue{Ordinal: i + 1, Value: a}
	}
	return nv
}
