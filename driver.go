// Go MySQL Driver - A MySQL-Driver for Go's database/sql package
//
// Copyright 2012 The Go-MySQL-Driver Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

// Package mysql provides a MySQL/MariaDB wire-protocol client: a codec for
// the packet/payload layer, a session state machine implementing
// database/sql/driver, a pluggable authenticator registry, and a
// connection pool with host-aware load balancing (pool.go).
package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"reflect"
	"sync"
	"sync/atomic"
)

// MySQLDriver implements driver.Driver and driver.DriverContext.
type MySQLDriver struct{}

// DialFunc can be registered with RegisterDialContext to customize how the
// driver reaches a given network ("tcp", "unix", or a caller-defined name
// used as the Net value in a DSN/Config).
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

var (
	dialsLock sync.RWMutex
	dials     map[string]DialFunc
)

// RegisterDialContext registers a custom dial function for the given
// network name, used whenever Config.DialFunc is unset.
func RegisterDialContext(net string, dial DialFunc) {
	dialsLock.Lock()
	defer dialsLock.Unlock()
	if dials == nil {
		dials = make(map[string]DialFunc)
	}
	dials[net] = dial
}

// DeregisterDialContext removes a custom dial function registered with
// RegisterDialContext.
func DeregisterDialContext(net string) {
	dialsLock.Lock()
	defer dialsLock.Unlock()
	delete(dials, net)
}

// Open implements driver.Driver.
func (d MySQLDriver) Open(dsn string) (driver.Conn, error) {
	cfg, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	c := newConnector(cfg)
	return c.Connect(context.Background())
}

// OpenConnector implements driver.DriverContext.
func (d MySQLDriver) OpenConnector(dsn string) (driver.Connector, error) {
	cfg, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	return newConnector(cfg), nil
}

func init() {
	sql.Register("mysql", &MySQLDriver{})
}

// NewConnector returns a driver.Connector for sql.OpenDB, built from an
// already-parsed and normalized Config. Unlike Open, it lets callers avoid
// an intermediate DSN round-trip (e.g. Config built entirely with Option
// functions, or with a *tls.Config that can't be expressed as a string).
func NewConnector(cfg *Config) (driver.Connector, error) {
	cfg = cfg.Clone()
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return newConnector(cfg), nil
}

// atomicError is a typed, concurrency-safe error box used to publish a
// cancellation/timeout error from the context watcher goroutine
// (session.go's cancel) to the goroutine currently blocked on I/O.
type atomicError struct {
	v atomic.Value
}

func (a *atomicError) Set(err error) {
	a.v.Store(errorWrapper{err})
}

func (a *atomicError) Value() error {
	v := a.v.Load()
	if v == nil {
		return nil
	}
	return v.(errorWrapper).err
}

// errorWrapper lets a nil error be stored in an atomic.Value, which
// otherwise panics on a nil interface value.
type errorWrapper struct {
	err error
}

// converter implements driver.ValueConverter, following database/sql's
// default conversion rules (reflect-based fallback for named numeric,
// string, and []byte types) plus driver.Valuer support.
type converter struct{}

func (converter) ConvertValue(v any) (driver.Value, error) {
	if driver.IsValue(v) {
		return v, nil
	}

	if vr, ok := v.(driver.Valuer); ok {
		sv, err := callValuerValue(vr)
		if err != nil {
			return nil, err
		}
		if !driver.IsValue(sv) {
			return nil, fmt.Errorf("non-Value type %T returned from Value", sv)
		}
		return sv, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return nil, nil
		}
		return converter{}.ConvertValue(rv.Elem().Interface())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return int64(rv.Uint()), nil
	case reflect.Uint64:
		u64 := rv.Uint()
		if u64 >= 1<<63 {
			return nil, fmt.Errorf("uint64 values with high bit set are not supported")
		}
		return int64(u64), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Slice:
		ek := rv.Type().Elem().Kind()
		if ek == reflect.Uint8 {
			return rv.Bytes(), nil
		}
		return nil, fmt.Errorf("unsupported type %T, a slice of %s", v, ek)
	case reflect.String:
		return rv.String(), nil
	}
	return nil, fmt.Errorf("unsupported type %T, a %s", v, rv.Kind())
}

func callValuerValue(vr driver.Valuer) (v driver.Value, err error) {
	return vr.Value()
}

// namedValueToValue adapts []driver.NamedValue (the database/sql-level
// calling convention) to []driver.Value (what the session's lower-level
// exec/query helpers expect); named parameters are not supported.
func namedValueToValue(named []driver.NamedValue) ([]driver.Value, error) {
	dargs := make([]driver.Value, len(named))
	for n, param := range named {
		if len(param.Name) > 0 {
			return nil, errors.New("mysql: driver does not support the use of Named Parameters")
		}
		dargs[n] = param.Value
	}
	return dargs, nil
}

// mapIsolationLevel translates a database/sql.IsolationLevel into the SQL
// fragment MySQL's SET TRANSACTION ISOLATION LEVEL expects.
func mapIsolationLevel(level driver.IsolationLevel) (string, error) {
	switch sql.IsolationLevel(level) {
	case sql.LevelRepeatableRead:
		return "REPEATABLE READ", nil
	case sql.LevelReadCommitted:
		return "READ COMMITTED", nil
	case sql.LevelReadUncommitted:
		return "READ UNCOMMITTED", nil
	case sql.LevelSerializable:
		return "SERIALIZABLE", nil
	default:
		return "", fmt.Errorf("mysql: unsupported isolation level: %d", level)
	}
}

