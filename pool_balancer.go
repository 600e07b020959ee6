// Go MySQL Driver - A MySQL-Driver for Go's database/sql package
//
// Copyright 2024 The Go-MySQL-Driver Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package mysql

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Balancer picks the next host to dial from a PoolKey's set of endpoints
// (spec §4.5, Load Balance). Implementations must be safe for concurrent use.
type Balancer interface {
	// Next returns the host to try from hosts, by the balancer's own
	// policy, or "" when hosts is empty. Balancers know nothing of
	// quarantine: Pool.dial passes them the list from
	// hostQuarantine.filterHealthy, which is every host when all of them
	// are quarantined.
	Next(hosts []string) string
}

// newBalancer resolves a Config.LoadBalance policy name to a Balancer.
func newBalancer(name string) Balancer {
	switch name {
	case "fail-over":
		return &failOverBalancer{}
	case "random":
		return &randomBalancer{}
	case "least-connections":
		return &leastConnectionsBalancer{}
	default:
		return &roundRobinBalancer{}
	}
}

type roundRobinBalancer struct {
	next uint64
}

func (b *roundRobinBalancer) Next(hosts []string) string {
	if len(hosts) == 0 {
		return ""
	}
	i := atomic.AddUint64(&b.next, 1) - 1
	return hosts[i%uint64(len(hosts))]
}

// failOverBalancer always prefers hosts[0]; a caller combines this with
// hostQuarantine to skip a leading host that is currently down.
type failOverBalancer struct{}

func (failOverBalancer) Next(hosts []string) string {
	if len(hosts) == 0 {
		return ""
	}
	return hosts[0]
}

type randomBalancer struct{}

func (randomBalancer) Next(hosts []string) string {
	if len(hosts) == 0 {
		return ""
	}
	return hosts[rand.Intn(len(hosts))]
}

// leastConnectionsBalancer tracks, per host, how many sessions Next has
// handed it that the pool has not yet destroyed (idle sessions still
// count), and always picks the lowest; ties break by input order for
// determinism in tests.
type leastConnectionsBalancer struct {
	mu     sync.Mutex
	leased map[string]int
}

func (b *leastConnectionsBalancer) Next(hosts []string) string {
	if len(hosts) == 0 {
		return ""
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.leased == nil {
		b.leased = make(map[string]int)
	}
	best := hosts[0]
	bestN := b.leased[best]
	for _, h := range hosts[1:] {
		if n := b.leased[h]; n < bestN {
			best, bestN = h, n
		}
	}
	b.leased[best]++
	return best
}

func (b *leastConnectionsBalancer) release(host string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.leased[host] > 0 {
		b.leased[host]--
	}
}

// hostQuarantine tracks hosts that recently failed to dial or handshake,
// backing off exponentially before letting the pool retry them (spec §4.5,
// "Failed hosts are quarantined with exponential backoff").
type hostQuarantine struct {
	mu    sync.Mutex
	until map[string]time.Time
	bo    map[string]backoff.BackOff
}

func newHostQuarantine() *hostQuarantine {
	return &hostQuarantine{
		until: make(map[string]time.Time),
		bo:    make(map[string]backoff.BackOff),
	}
}

// isQuarantined reports whether host is currently sitting out a backoff window.
func (q *hostQuarantine) isQuarantined(host string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	until, ok := q.until[host]
	if !ok {
		return false
	}
	return time.Now().Before(until)
}

// markFailed extends host's quarantine window using its own exponential
// backoff sequence, so hosts that fail repeatedly wait progressively longer.
func (q *hostQuarantine) markFailed(host string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	b, ok := q.bo[host]
	if !ok {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = 500 * time.Millisecond
		eb.MaxInterval = 30 * time.Second
		eb.MaxElapsedTime = 0 // never stop backing off on its own; the pool keeps retrying
		b = eb
		q.bo[host] = b
	}
	q.until[host] = time.Now().Add(b.NextBackOff())
}

// markHealthy clears host's quarantine state entirely after a successful dial.
func (q *hostQuarantine) markHealthy(host string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.until, host)
	delete(q.bo, host)
}

// filterHealthy returns the subset of hosts not currently quarantined,
// falling back to the full list if every host is down so the pool keeps
// trying rather than reporting ErrNoHealthyHost forever.
func (q *hostQuarantine) filterHealthy(hosts []string) []string {
	var healthy []string
	for _, h := range hosts {
		if !q.isQuarantined(h) {
			healthy = append(healthy, h)
		}
	}
	if len(healthy) == 0 {
		return hosts
	}
	return healthy
}
