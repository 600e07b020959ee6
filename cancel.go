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
	"fmt"
	"time"
)

// cancellationGrace is the fallback cancellation budget from spec §9 Open
// Question (a) when CancellationTimeout is left at its zero value: "until
// next server packet or 500 ms, whichever first".
const cancellationGrace = 500 * time.Millisecond

// killQuery opens a fresh sidecar session (pool-bypass, per spec §4.2) and
// issues KILL QUERY against threadID, then closes the sidecar. It never
// touches the session being cancelled directly — out-of-band data never
// arrives mid-query on the original connection.
//
// The sidecar's own read/write round-trip is bounded by ctx's remaining
// deadline rather than left unbounded, so a server that also ignores the
// KILL command itself can't hang this call past its caller's budget.
func killQuery(ctx context.Context, cfg *Config, threadID uint32) error {
	sidecar := cfg.Clone()
	sidecar.Timeout = 2 * time.Second

	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return context.DeadlineExceeded
		}
		sidecar.ReadTimeout = remaining
		sidecar.WriteTimeout = remaining
	}

	conn, err := newConnector(sidecar).Connect(ctx)
	if err != nil {
		return err
	}
	mc := conn.(*mysqlConn)
	defer mc.Close()

	return mc.exec(fmt.Sprintf("KILL QUERY %d", threadID))
}

// normalizeCancellationBudget resolves any non-positive CancellationTimeout
// to cancellationGrace, per spec §9 Open Question (a). On a command timeout
// runWithCommandTimeout handles a negative value itself (no KILL, immediate
// poisoning) before reaching this helper; on an external Cancel a negative
// value gets cancellationGrace like the zero value.
func normalizeCancellationBudget(d time.Duration) time.Duration {
	if d <= 0 {
		return cancellationGrace
	}
	return d
}

// awaitCancellation waits, up to budget, for the command a KILL QUERY was
// just sent against to actually observe its terminal packet — settled is
// closed once that command's goroutine has returned, by which point mc's
// state reflects the outcome. A session that comes back Ready was
// genuinely recovered; anything else (still Querying/StreamingResult
// because the KILL had no effect, or Failed) is not, regardless of
// mc.closech, since that path is the abrupt watcher, not this graceful
// one.
func awaitCancellation(mc *mysqlConn, settled <-chan struct{}, budget time.Duration) bool {
	select {
	case <-settled:
		return mc.getState() == stateReady
	case <-time.After(normalizeCancellationBudget(budget)):
		return false
	}
}
