// Go MySQL Driver - A MySQL-Driver for Go's database/sql package
//
// Copyright 2024 The Go-MySQL-Driver Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package mysql

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// poolRegistry maps a PoolKey to its *Pool for the lifetime of the process
// (spec §4.5: "created lazily and kept for process lifetime"). group
// deduplicates concurrent first-connect races so two goroutines opening the
// same PoolKey at once build exactly one Pool.
var (
	poolRegistryMu sync.Mutex
	poolRegistry   = make(map[PoolKey]*Pool)
	poolGroup      singleflight.Group
)

// getOrCreatePool returns the process-lifetime Pool for cfg's PoolKey,
// creating it on first use.
func getOrCreatePool(cfg *Config) *Pool {
	key := newPoolKey(cfg)

	poolRegistryMu.Lock()
	if p, ok := poolRegistry[key]; ok {
		poolRegistryMu.Unlock()
		return p
	}
	poolRegistryMu.Unlock()

	v, _, _ := poolGroup.Do(key.String(), func() (any, error) {
		poolRegistryMu.Lock()
		if p, ok := poolRegistry[key]; ok {
			poolRegistryMu.Unlock()
			return p, nil
		}
		poolRegistryMu.Unlock()

		p := newPool(cfg)

		poolRegistryMu.Lock()
		poolRegistry[key] = p
		poolRegistryMu.Unlock()
		return p, nil
	})
	return v.(*Pool)
}

// OpenPool returns (creating if necessary) the process-lifetime *Pool for
// the given DSN, matching the "open-session-from-pool" surface in spec §6.
func OpenPool(dsn string) (*Pool, error) {
	cfg, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	return getOrCreatePool(cfg), nil
}

// closeAllPools is exposed for tests that need a clean registry between cases.
func closeAllPools() {
	poolRegistryMu.Lock()
	pools := make([]*Pool, 0, len(poolRegistry))
	for k, p := range poolRegistry {
		pools = append(pools, p)
		delete(poolRegistry, k)
	}
	poolRegistryMu.Unlock()

	for _, p := range pools {
		p.Close()
	}
}
