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
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

// The helpers below drive a *mysqlConn (built with packets_test.go's
// newPipeConn) as a scripted fake MySQL server over a net.Pipe, the same
// idiom TestPacketRoundTrip and friends already use one layer down. They
// are structurally valid enough for the real client-side handshake/auth/
// command code to accept — not semantically faithful to a real server.

func framed(payload []byte) []byte {
	buf := make([]byte, 4+len(payload))
	copy(buf[4:], payload)
	return buf
}

func buildHandshakePayload(threadID uint32) []byte {
	p := []byte{10} // protocol version
	p = append(p, []byte("8.0.0-fake")...)
	p = append(p, 0x00)
	p = append(p, byte(threadID), byte(threadID>>8), byte(threadID>>16), byte(threadID>>24))
	p = append(p, []byte("scrmbl1!")...) // auth-plugin-data part 1, 8 bytes
	p = append(p, 0x00)                  // filler
	p = append(p, 0x01, 0xa2)             // capability flags, lower 2 bytes
	p = append(p, 0x21)                   // charset
	p = append(p, 0x02, 0x00)             // status flags
	p = append(p, 0x08, 0x00)             // capability flags, upper 2 bytes (clientPluginAuth)
	p = append(p, 21)                     // auth-plugin-data-len
	p = append(p, make([]byte, 10)...)    // reserved
	p = append(p, []byte("scrmbl2data!")...) // auth-plugin-data part 2, 12 bytes
	p = append(p, 0x00)                      // terminator
	p = append(p, []byte(defaultAuthPlugin)...)
	p = append(p, 0x00)
	return p
}

func buildOKPayload() []byte {
	return []byte{iOK, 0x00, 0x00, 0x02, 0x00}
}

func buildErrPayload(number uint16, sqlstate, message string) []byte {
	p := []byte{iERR, byte(number), byte(number >> 8), 0x23}
	p = append(p, []byte(sqlstate)...)
	p = append(p, []byte(message)...)
	return p
}

func buildColumnDefPayload(name string) []byte {
	var p []byte
	p = appendLengthEncodedString(p, "") // catalog
	p = appendLengthEncodedString(p, "") // database
	p = appendLengthEncodedString(p, "") // table
	p = appendLengthEncodedString(p, "") // original table
	p = appendLengthEncodedString(p, name)
	p = appendLengthEncodedString(p, "") // original name
	p = append(p, 0x0c)                  // filler
	p = append(p, 0x21, 0x00)            // charset
	p = append(p, 0xff, 0xff, 0xff, 0xff) // column length
	p = append(p, byte(fieldTypeVarChar))
	p = append(p, 0x00, 0x00) // flags
	p = append(p, 0x00)       // decimals
	return p
}

func buildEOFPayload(status statusFlag) []byte {
	return []byte{iEOF, 0x00, 0x00, byte(status), byte(status >> 8)}
}

// serverHandshake drives the connect-phase script: greeting, drain the
// client's handshake response, answer with OK. With NewConfig's defaults
// (non-zero MaxAllowedPacket, no charsets/Params) connector.Connect needs
// nothing further before returning a ready session.
func serverHandshake(t *testing.T, server *mysqlConn, threadID uint32) bool {
	t.Helper()
	if err := server.writePacket(framed(buildHandshakePayload(threadID))); err != nil {
		t.Logf("fake server: writing handshake: %v", err)
		return false
	}
	if _, err := server.readPacket(); err != nil {
		t.Logf("fake server: reading handshake response: %v", err)
		return false
	}
	if err := server.writePacket(framed(buildOKPayload())); err != nil {
		t.Logf("fake server: writing auth OK: %v", err)
		return false
	}
	return true
}

// serverReadCommand reads the next COM_QUERY (or similar) packet, resetting
// the server's own sequence counter to 0 first, mirroring the client's
// writeCommandPacket* reset.
func serverReadCommand(server *mysqlConn) ([]byte, error) {
	server.sequence = 0
	return server.readPacket()
}

// fakeDial returns a Config.DialFunc that hands out one net.Pipe per call,
// running the matching script (by call order) as that pipe's fake server.
// Executor tests dial at most twice: once for the main session, once for
// cancel.go's KILL QUERY sidecar.
func fakeDial(t *testing.T, scripts ...func(t *testing.T, server *mysqlConn)) func(context.Context, string, string) (net.Conn, error) {
	var calls int32
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		i := int(atomic.AddInt32(&calls, 1)) - 1
		if i >= len(scripts) {
			return nil, errors.New("fakeDial: no script for this dial")
		}
		clientConn, serverConn := net.Pipe()
		server := newPipeConn(serverConn)
		go scripts[i](t, server)
		return clientConn, nil
	}
}

func newFakeExecutor(t *testing.T, scripts ...func(t *testing.T, server *mysqlConn)) *Executor {
	t.Helper()
	cfg := NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = "fake:3306"
	cfg.User = "u"
	cfg.Passwd = "p"
	cfg.DialFunc = fakeDial(t, scripts...)

	conn, err := newConnector(cfg).Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	mc := conn.(*mysqlConn)
	return NewExecutor(nil, &PooledEntry{conn: mc})
}

// acceptKillQuery answers whatever KILL QUERY sidecar.exec sends with a
// plain OK, optionally signalling onReceived once the command has been
// read — used to sequence the main connection's response to match a real
// KILL actually landing. It then reads the COM_QUIT that killQuery's
// deferred Close sends, since a net.Pipe write blocks until it is read.
func acceptKillQuery(onReceived func()) func(t *testing.T, server *mysqlConn) {
	return func(t *testing.T, server *mysqlConn) {
		if !serverHandshake(t, server, 99) {
			return
		}
		if _, err := serverReadCommand(server); err != nil {
			t.Logf("fake sidecar: reading KILL QUERY: %v", err)
			return
		}
		if onReceived != nil {
			onReceived()
		}
		if err := server.writePacket(framed(buildOKPayload())); err != nil {
			t.Logf("fake sidecar: writing OK: %v", err)
			return
		}
		if _, err := serverReadCommand(server); err != nil {
			t.Logf("fake sidecar: reading COM_QUIT: %v", err)
		}
	}
}

// TestExecutorExecuteTextCompletesBeforeTimeout covers spec §8 scenario 2:
// a command that finishes well inside CommandTimeout returns normally and
// leaves the session unpoisoned.
func TestExecutorExecuteTextCompletesBeforeTimeout(t *testing.T) {
	ex := newFakeExecutor(t, func(t *testing.T, server *mysqlConn) {
		if !serverHandshake(t, server, 1) {
			return
		}
		if _, err := serverReadCommand(server); err != nil {
			t.Logf("fake server: reading query: %v", err)
			return
		}
		if err := server.writePacket(framed(buildOKPayload())); err != nil {
			t.Logf("fake server: writing OK: %v", err)
		}
	})
	ex.entry.conn.cfg.CommandTimeout = time.Second

	_, err := ex.ExecuteText(context.Background(), "SET @x = 1", nil)
	if err != nil {
		t.Fatalf("ExecuteText: %v", err)
	}
	if ex.poisoned {
		t.Fatal("a command that completed normally must not poison the session")
	}
	if got := ex.entry.conn.getState(); got != stateReady {
		t.Fatalf("expected session state Ready, got %v", got)
	}
}

// TestExecutorCommandTimeoutWithoutRecoveryPoisonsSession covers spec §8
// scenario 3: CommandTimeout fires, KILL QUERY is accepted by the sidecar
// but has no observable effect on the stuck main connection within
// CancellationTimeout, so the session is poisoned with
// ErrCommandTimeoutExpired.
func TestExecutorCommandTimeoutWithoutRecoveryPoisonsSession(t *testing.T) {
	blockMain := make(chan struct{})
	ex := newFakeExecutor(t,
		func(t *testing.T, server *mysqlConn) {
			if !serverHandshake(t, server, 7) {
				return
			}
			if _, err := serverReadCommand(server); err != nil {
				t.Logf("fake server: reading query: %v", err)
				return
			}
			<-blockMain // never respond until the test forces the abrupt path
		},
		acceptKillQuery(nil),
	)
	defer close(blockMain)

	ex.entry.conn.cfg.CommandTimeout = 20 * time.Millisecond
	ex.entry.conn.cfg.CancellationTimeout = 30 * time.Millisecond

	_, err := ex.ExecuteText(context.Background(), "SELECT SLEEP(10)", nil)
	if !errors.Is(err, ErrCommandTimeoutExpired) {
		t.Fatalf("expected ErrCommandTimeoutExpired, got %v", err)
	}
	if !ex.poisoned {
		t.Fatal("expected the executor to poison the session after a failed recovery")
	}
}

// TestExecutorCommandTimeoutWithRecoveryReturnsCancelled covers spec §8
// scenario 4: CommandTimeout fires, the sidecar's KILL QUERY actually
// interrupts the main connection's command, and the caller observes a
// Cancelled error wrapping the real ServerError{QueryInterrupted} rather
// than a synthetic one. The session is left Ready, not poisoned.
func TestExecutorCommandTimeoutWithRecoveryReturnsCancelled(t *testing.T) {
	killLanded := make(chan struct{})
	ex := newFakeExecutor(t,
		func(t *testing.T, server *mysqlConn) {
			if !serverHandshake(t, server, 7) {
				return
			}
			if _, err := serverReadCommand(server); err != nil {
				t.Logf("fake server: reading query: %v", err)
				return
			}
			<-killLanded
			if err := server.writePacket(framed(buildErrPayload(erQueryInterrupted, "70100", "Query execution was interrupted"))); err != nil {
				t.Logf("fake server: writing ERR: %v", err)
			}
		},
		acceptKillQuery(func() { close(killLanded) }),
	)

	ex.entry.conn.cfg.CommandTimeout = 20 * time.Millisecond
	ex.entry.conn.cfg.CancellationTimeout = 500 * time.Millisecond

	_, err := ex.ExecuteText(context.Background(), "SELECT SLEEP(10)", nil)

	var cancelled *CancelledError
	if !errors.As(err, &cancelled) {
		t.Fatalf("expected a *CancelledError, got %v", err)
	}
	var serverErr *ServerError
	if !errors.As(cancelled.Err, &serverErr) || serverErr.Number != erQueryInterrupted {
		t.Fatalf("expected *CancelledError to wrap ServerError{Number: %d}, got %v", erQueryInterrupted, cancelled.Err)
	}
	if ex.poisoned {
		t.Fatal("a recovered cancellation must not poison the session")
	}
	if got := ex.entry.conn.getState(); got != stateReady {
		t.Fatalf("expected session state Ready after recovery, got %v", got)
	}
}

// TestExecutorCancelWakesInFlightCommand covers the external-cancel-signal
// path of spec §4.6: Cancel is called against a command with no
// CommandTimeout of its own, and the caller of ExecuteText still observes
// a Cancelled error once the KILL QUERY Cancel fired takes effect.
func TestExecutorCancelWakesInFlightCommand(t *testing.T) {
	killLanded := make(chan struct{})
	queryStarted := make(chan struct{})
	ex := newFakeExecutor(t,
		func(t *testing.T, server *mysqlConn) {
			if !serverHandshake(t, server, 7) {
				return
			}
			if _, err := serverReadCommand(server); err != nil {
				t.Logf("fake server: reading query: %v", err)
				return
			}
			close(queryStarted)
			<-killLanded
			if err := server.writePacket(framed(buildErrPayload(erQueryInterrupted, "70100", "Query execution was interrupted"))); err != nil {
				t.Logf("fake server: writing ERR: %v", err)
			}
		},
		acceptKillQuery(func() { close(killLanded) }),
	)
	ex.entry.conn.cfg.CancellationTimeout = 500 * time.Millisecond

	type execOutcome struct {
		err error
	}
	resultCh := make(chan execOutcome, 1)
	go func() {
		_, err := ex.ExecuteText(context.Background(), "SELECT SLEEP(10)", nil)
		resultCh <- execOutcome{err: err}
	}()

	<-queryStarted
	if err := ex.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	select {
	case outcome := <-resultCh:
		var cancelled *CancelledError
		if !errors.As(outcome.err, &cancelled) {
			t.Fatalf("expected ExecuteText to observe a *CancelledError, got %v", outcome.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ExecuteText did not return after Cancel")
	}
}

// TestExecutorStreamRowsMultiResultSet covers spec §8 scenario 6: rows from
// one result set are fully yielded before the next result set's rows
// appear, and NextResultSet/HasNextResultSet correctly bound the stream.
func TestExecutorStreamRowsMultiResultSet(t *testing.T) {
	ex := newFakeExecutor(t, func(t *testing.T, server *mysqlConn) {
		if !serverHandshake(t, server, 3) {
			return
		}
		if _, err := serverReadCommand(server); err != nil {
			t.Logf("fake server: reading query: %v", err)
			return
		}

		writes := []func() error{
			func() error { return server.writePacket(framed([]byte{1})) }, // column count: 1
			func() error { return server.writePacket(framed(buildColumnDefPayload("a"))) },
			func() error { return server.writePacket(framed(buildEOFPayload(0))) },
			func() error { return server.writePacket(framed(appendLengthEncodedString(nil, "x1"))) },
			func() error { return server.writePacket(framed(buildEOFPayload(statusMoreResultsExists))) },
			func() error { return server.writePacket(framed([]byte{1})) }, // second result set header
			func() error { return server.writePacket(framed(buildColumnDefPayload("b"))) },
			func() error { return server.writePacket(framed(buildEOFPayload(0))) },
			func() error { return server.writePacket(framed(appendLengthEncodedString(nil, "y1"))) },
			func() error { return server.writePacket(framed(buildEOFPayload(0))) },
		}
		for _, w := range writes {
			if err := w(); err != nil {
				t.Logf("fake server: writing multi-resultset stream: %v", err)
				return
			}
		}
	})
	ex.entry.conn.cfg.CommandTimeout = time.Second

	rows, err := ex.StreamRows(context.Background(), "CALL two_sets()", nil)
	if err != nil {
		t.Fatalf("StreamRows: %v", err)
	}
	defer rows.Close()

	nrs, ok := rows.(driver.RowsNextResultSet)
	if !ok {
		t.Fatal("expected StreamRows to return a driver.RowsNextResultSet")
	}

	dest := make([]driver.Value, 1)
	if err := rows.Next(dest); err != nil {
		t.Fatalf("first result set, row 1: %v", err)
	}
	if string(dest[0].([]byte)) != "x1" {
		t.Fatalf("expected %q, got %q", "x1", dest[0])
	}
	if err := rows.Next(dest); err != io.EOF {
		t.Fatalf("expected io.EOF at end of first result set, got %v", err)
	}
	if !nrs.HasNextResultSet() {
		t.Fatal("expected a second result set to follow")
	}
	if err := nrs.NextResultSet(); err != nil {
		t.Fatalf("NextResultSet: %v", err)
	}
	if err := rows.Next(dest); err != nil {
		t.Fatalf("second result set, row 1: %v", err)
	}
	if string(dest[0].([]byte)) != "y1" {
		t.Fatalf("expected %q, got %q", "y1", dest[0])
	}
	if err := rows.Next(dest); err != io.EOF {
		t.Fatalf("expected io.EOF at end of second result set, got %v", err)
	}
	if nrs.HasNextResultSet() {
		t.Fatal("expected no further result sets")
	}
}
