// Go MySQL Driver - A MySQL-Driver for Go's database/sql package
//
// Copyright 2024 The Go-MySQL-Driver Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package mysql

import (
	"bytes"
	"io"
	"net"
	"time"

	"github.com/klauspost/compress/zlib"
)

// compressedConn implements net.Conn on top of another net.Conn, wrapping
// every write and transparently unwrapping every read through the
// CLIENT_COMPRESS envelope from spec §4.1:
//
//	[clen 3B LE][cseq 1B][ulen 3B LE][zlib-data]
//
// ulen=0 means the payload is stored uncompressed. This layer sits below
// buffer/packets.go, which stay unaware compression is active — they only
// ever see a plain byte stream.
//
// The compression sequence counter is independent from the protocol
// sequence id owned by the session; it increments once per envelope frame
// regardless of how many protocol packets that frame carries.
type compressedConn struct {
	net.Conn
	wseq uint8
	rseq uint8

	// pending holds decompressed bytes not yet consumed by Read.
	pending bytes.Buffer

	// minCompressLen below which a frame is sent uncompressed (ulen=0);
	// matches the common client heuristic of skipping compression on tiny
	// packets where the zlib header overhead would dominate.
	minCompressLen int
}

func newCompressedConn(nc net.Conn) *compressedConn {
	return &compressedConn{Conn: nc, minCompressLen: 50}
}

func (c *compressedConn) Read(p []byte) (int, error) {
	for c.pending.Len() == 0 {
		if err := c.readFrame(); err != nil {
			return 0, err
		}
	}
	return c.pending.Read(p)
}

func (c *compressedConn) readFrame() error {
	hdr := make([]byte, 7)
	if _, err := io.ReadFull(c.Conn, hdr); err != nil {
		return err
	}
	clen := int(hdr[0]) | int(hdr[1])<<8 | int(hdr[2])<<16
	// hdr[3] is the compression sequence id; it is recorded but not
	// validated, since the protocol sequence id (owned by the session) is
	// the one checked for correctness — the compressed-frame seq is
	// diagnostic only.
	c.rseq = hdr[3]
	ulen := int(hdr[4]) | int(hdr[5])<<8 | int(hdr[6])<<16

	payload := make([]byte, clen)
	if _, err := io.ReadFull(c.Conn, payload); err != nil {
		return err
	}

	if ulen == 0 {
		c.pending.Write(payload)
		return nil
	}

	zr, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return &ProtocolError{Kind: "compression", Err: err}
	}
	defer zr.Close()
	if _, err := io.CopyN(&c.pending, zr, int64(ulen)); err != nil {
		return &ProtocolError{Kind: "compression", Err: err}
	}
	return nil
}

func (c *compressedConn) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		chunk := p
		if len(chunk) > maxPacketSize {
			chunk = chunk[:maxPacketSize]
		}
		if err := c.writeFrame(chunk); err != nil {
			return total - len(p), err
		}
		p = p[len(chunk):]
	}
	return total, nil
}

func (c *compressedConn) writeFrame(chunk []byte) error {
	var compressed []byte
	ulen := 0

	if len(chunk) >= c.minCompressLen {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(chunk); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
		if buf.Len() < len(chunk) {
			compressed = buf.Bytes()
			ulen = len(chunk)
		}
	}
	if compressed == nil {
		compressed = chunk
	}

	clen := len(compressed)
	hdr := [7]byte{
		byte(clen), byte(clen >> 8), byte(clen >> 16),
		c.wseq,
		byte(ulen), byte(ulen >> 8), byte(ulen >> 16),
	}
	c.wseq++

	if _, err := c.Conn.Write(hdr[:]); err != nil {
		return err
	}
	_, err := c.Conn.Write(compressed)
	return err
}

func (c *compressedConn) SetDeadline(t time.Time) error      { return c.Conn.SetDeadline(t) }
func (c *compressedConn) SetReadDeadline(t time.Time) error  { return c.Conn.SetReadDeadline(t) }
func (c *compressedConn) SetWriteDeadline(t time.Time) error { return c.Conn.SetWriteDeadline(t) }
