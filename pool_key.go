// Go MySQL Driver - A MySQL-Driver for Go's database/sql package
//
// Copyright 2024 The Go-MySQL-Driver Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package mysql

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// PoolKey is the normalized identity of a connection string: two DSNs that
// produce an equal PoolKey share the same *Pool (spec §3, §4.5). It is a
// plain comparable struct so it can key a Go map directly.
type PoolKey struct {
	hosts      string // comma-joined, in the order given (load balancer owns ordering)
	port       string
	user       string
	passwdHash string // never the plaintext password
	database   string
	charset    string
	tlsMode    string
	authList   string
	flags      string
}

// newPoolKey derives a PoolKey from a normalized Config.
func newPoolKey(cfg *Config) PoolKey {
	sum := sha256.Sum256([]byte(cfg.Passwd))
	return PoolKey{
		hosts:      cfg.Addr,
		port:       "", // port is folded into Addr (host:port) by normalize()
		user:       cfg.User,
		passwdHash: hex.EncodeToString(sum[:]),
		database:   cfg.DBName,
		charset:    strings.Join(cfg.charsets, ","),
		tlsMode:    cfg.TLSConfig,
		authList:   "", // reserved: a future per-Config allowed-plugin list would fold in here
		flags:      fmt.Sprintf("cr=%t,cf=%t,ms=%t,it=%t", cfg.ClientFoundRows, cfg.ColumnsWithAlias, cfg.MultiStatements, cfg.InterpolateParams),
	}
}

func (k PoolKey) String() string {
	return fmt.Sprintf("%s@%s/%s[tls=%s]", k.user, k.hosts, k.database, k.tlsMode)
}
