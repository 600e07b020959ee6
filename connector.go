// Go MySQL Driver - A MySQL-Driver for Go's database/sql package
//
// Copyright 2018 The Go-MySQL-Driver Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package mysql

import (
	"context"
	"database/sql/driver"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// connector holds an immutable Config plus the connection-attribute blob
// precomputed once, since it is identical for every connection opened from
// this driver.DSNConnector/sql.OpenDB call.
type connector struct {
	cfg               *Config // immutable private copy of the Config
	encodedAttributes string  // length-encoded key/value pairs sent during the handshake

	// useCompression mirrors cfg.UseCompression; the handshake response
	// (packets.go) reads it to request CLIENT_COMPRESS.
	useCompression bool
}

// encodeConnectionAttributes builds the length-encoded key/value payload
// for CLIENT_CONNECT_ATTRS, combining the fixed client identity attributes
// with any user-supplied ones from Config.ConnectionAttributes.
func encodeConnectionAttributes(cfg *Config) string {
	connAttrsBuf := make([]byte, 0)

	connAttrsBuf = appendLengthEncodedString(connAttrsBuf, connAttrClientName)
	connAttrsBuf = appendLengthEncodedString(connAttrsBuf, connAttrClientNameValue)
	connAttrsBuf = appendLengthEncodedString(connAttrsBuf, connAttrOS)
	connAttrsBuf = appendLengthEncodedString(connAttrsBuf, connAttrOSValue)
	connAttrsBuf = appendLengthEncodedString(connAttrsBuf, connAttrPlatform)
	connAttrsBuf = appendLengthEncodedString(connAttrsBuf, connAttrPlatformValue)
	connAttrsBuf = appendLengthEncodedString(connAttrsBuf, connAttrPid)
	connAttrsBuf = appendLengthEncodedString(connAttrsBuf, strconv.Itoa(os.Getpid()))

	serverHost, _, _ := net.SplitHostPort(cfg.Addr)
	if serverHost != "" {
		connAttrsBuf = appendLengthEncodedString(connAttrsBuf, connAttrServerHost)
		connAttrsBuf = appendLengthEncodedString(connAttrsBuf, serverHost)
	}

	for _, connAttr := range strings.Split(cfg.ConnectionAttributes, ",") {
		k, v, found := strings.Cut(connAttr, ":")
		if !found {
			continue
		}
		connAttrsBuf = appendLengthEncodedString(connAttrsBuf, k)
		connAttrsBuf = appendLengthEncodedString(connAttrsBuf, v)
	}

	return string(connAttrsBuf)
}

// newConnector builds a connector from a normalized Config.
func newConnector(cfg *Config) *connector {
	return &connector{
		cfg:               cfg,
		encodedAttributes: encodeConnectionAttributes(cfg),
		useCompression:    cfg.UseCompression,
	}
}

// Connect implements driver.Connector. It dials the server, runs the
// handshake and authentication exchange, negotiates compression and the
// connection's character set, and returns a ready-to-use session.
func (c *connector) Connect(ctx context.Context) (driver.Conn, error) {
	var err error

	cfg := c.cfg
	if c.cfg.beforeConnect != nil {
		cfg = c.cfg.Clone()
		if err = c.cfg.beforeConnect(ctx, cfg); err != nil {
			return nil, err
		}
	}

	mc := &mysqlConn{
		maxAllowedPacket: maxPacketSize,
		maxWriteSize:     maxPacketSize - 1,
		closech:          make(chan struct{}),
		cfg:              cfg,
		connector:        c,
		createdAt:        time.Now(),
	}
	mc.parseTime = mc.cfg.ParseTime

	dctx := ctx
	if mc.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	if c.cfg.DialFunc != nil {
		mc.netConn, err = c.cfg.DialFunc(dctx, mc.cfg.Net, mc.cfg.Addr)
	} else {
		dialsLock.RLock()
		dial, ok := dials[mc.cfg.Net]
		dialsLock.RUnlock()
		if ok {
			mc.netConn, err = dial(dctx, mc.cfg.Addr)
		} else {
			nd := net.Dialer{}
			mc.netConn, err = nd.DialContext(dctx, mc.cfg.Net, mc.cfg.Addr)
		}
	}
	if err != nil {
		return nil, err
	}
	mc.rawConn = mc.netConn

	if tc, ok := mc.netConn.(*net.TCPConn); ok {
		if err := tc.SetKeepAlive(true); err != nil {
			c.cfg.Logger.Print(err)
		}
	}

	mc.startWatcher()
	if err := mc.watchCancel(ctx); err != nil {
		mc.cleanup()
		return nil, err
	}
	defer mc.finish()

	mc.buf = newBuffer(mc.netConn)
	mc.buf.timeout = mc.cfg.ReadTimeout
	mc.writeTimeout = mc.cfg.WriteTimeout

	authData, plugin, err := mc.readHandshakePacket()
	if err != nil {
		mc.cleanup()
		return nil, err
	}

	if plugin == "" {
		plugin = defaultAuthPlugin
	}

	authResp, err := mc.auth(authData, plugin)
	if err != nil {
		c.cfg.Logger.Print("could not use requested auth plugin '"+plugin+"': ", err.Error())
		plugin = defaultAuthPlugin
		authResp, err = mc.auth(authData, plugin)
		if err != nil {
			mc.cleanup()
			return nil, err
		}
	}
	if err = mc.writeHandshakeResponsePacket(authResp, plugin); err != nil {
		mc.cleanup()
		return nil, err
	}

	if err = mc.handleAuthResult(authData, plugin); err != nil {
		// Authentication failed and the server has already closed the
		// connection (https://dev.mysql.com/doc/internals/en/authentication-fails.html).
		// Don't send COM_QUIT, just clean up and return the error.
		mc.cleanup()
		return nil, err
	}

	// Both sides must agree on CLIENT_COMPRESS before the zlib envelope is
	// laid under the buffer; the server only honors it if it advertised
	// the capability in the handshake.
	if c.useCompression && mc.flags&clientCompress != 0 {
		cc := newCompressedConn(mc.rawConn)
		mc.netConn = cc
		mc.buf.nc = cc
	}

	if mc.cfg.MaxAllowedPacket > 0 {
		mc.maxAllowedPacket = mc.cfg.MaxAllowedPacket
	} else {
		maxap, err := mc.getSystemVar("max_allowed_packet")
		if err != nil {
			mc.Close()
			return nil, err
		}
		mc.maxAllowedPacket = stringToInt(maxap) - 1
	}
	if mc.maxAllowedPacket < maxPacketSize {
		mc.maxWriteSize = mc.maxAllowedPacket
	}

	// Charset: character_set_connection, character_set_client, character_set_results
	if len(mc.cfg.charsets) > 0 {
		for _, cs := range mc.cfg.charsets {
			if mc.cfg.Collation != "" {
				err = mc.exec("SET NAMES " + cs + " COLLATE " + mc.cfg.Collation)
			} else {
				err = mc.exec("SET NAMES " + cs)
			}
			if err == nil {
				break
			}
			// ignore the error and try the next charset candidate
		}
		if err != nil {
			mc.Close()
			return nil, err
		}
	}

	if err = mc.handleParams(); err != nil {
		mc.Close()
		return nil, err
	}

	mc.setState(stateReady)
	return mc, nil
}

// Driver implements driver.Connector.
func (c *connector) Driver() driver.Driver {
	return &MySQLDriver{}
}
