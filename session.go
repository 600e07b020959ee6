// Go MySQL Driver - A MySQL-Driver for Go's database/sql package
//
// Copyright 2012 The Go-MySQL-Driver Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// connState is the session state machine from spec §4.2:
//
//	Disconnected -> Connecting -> Handshaking -> AuthSwitching* -> Ready ->
//	Querying -> StreamingResult -> Ready -> ... -> Closed | Failed
type connState int32

const (
	stateDisconnected connState = iota
	stateConnecting
	stateHandshaking
	stateAuthSwitching
	stateReady
	stateQuerying
	stateStreamingResult
	stateClosed
	stateFailed
)

func (s connState) String() string {
	switch s {
	case stateDisconnected:
		return "Disconnected"
	case stateConnecting:
		return "Connecting"
	case stateHandshaking:
		return "Handshaking"
	case stateAuthSwitching:
		return "AuthSwitching"
	case stateReady:
		return "Ready"
	case stateQuerying:
		return "Querying"
	case stateStreamingResult:
		return "StreamingResult"
	case stateClosed:
		return "Closed"
	case stateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// mysqlConn represents a single logical connection to a MySQL server: the
// Session of spec §3. It owns the transport, the sequence counter, the
// negotiated capabilities, and any open prepared statements, and it is
// driven by at most one executor at a time (spec invariant: a Session is
// owned by at most one executor at a time).
type mysqlConn struct {
	buf              buffer
	netConn          net.Conn
	rawConn          net.Conn // underlying connection when netConn is wrapped by TLS/compression
	result           mysqlResult
	cfg              *Config
	connector        *connector
	maxAllowedPacket int
	maxWriteSize     int
	writeTimeout     time.Duration
	flags            CapabilityFlags
	status           statusFlag
	sequence         uint8
	parseTime        bool

	// scrambleForFullAuth holds the scramble handed out at handshake time,
	// retained for the caching_sha2_password/sha256_password full-auth
	// exchange which needs it again after the fast path fails.
	scrambleForFullAuth []byte

	// threadID is the server-assigned connection id, needed to issue
	// KILL QUERY against this session from a sidecar session (spec §4.2
	// Cancellation, §4.6).
	threadID uint32
	// serverVersion is the raw version string reported in the handshake.
	serverVersion string

	state atomic.Int32

	// stmtCache maps SQL text to a cached prepared statement for this
	// session (spec §3, PreparedStatement — "cached by SQL text per
	// session; freed on session reset or close").
	stmtCache map[string]*mysqlStmt

	createdAt  time.Time
	lastUsedAt time.Time

	// pool is the non-owning back-reference to the pool this session was
	// leased from, if any (spec §3, Session.owning-pool back-reference).
	pool *Pool

	// inTransaction mirrors status&statusInTrans for callers that want it
	// without decoding the bitmask (spec invariant: a Session in a
	// transaction is never returned to a general-purpose pool slot until
	// the transaction ends or is rolled back during reset).
	inTransaction bool

	watching bool
	watcher  chan<- context.Context
	closech  chan struct{}
	finished chan<- struct{}
	canceled atomicError
	closed   atomic.Bool
}

func (mc *mysqlConn) setState(s connState) {
	mc.state.Store(int32(s))
}

func (mc *mysqlConn) getState() connState {
	return connState(mc.state.Load())
}

// settleState resolves mc's state after a command's terminal packet has
// been read: a nil error or a well-formed *ServerError both mean the wire
// is left at a packet boundary, so the session is Ready again; anything
// else (a transport error, a malformed packet) means the framing itself
// may be broken, so the session is Failed instead. Without this, a query
// that ends in an ERR packet (including the one KILL QUERY produces)
// leaves mc stuck in Querying/StreamingResult forever.
func (mc *mysqlConn) settleState(err error) {
	var se *MySQLError
	if err == nil || errors.As(err, &se) {
		mc.setState(stateReady)
		return
	}
	mc.setState(stateFailed)
}

// ThreadID returns the server-assigned connection id used for KILL QUERY.
func (mc *mysqlConn) ThreadID() uint32 { return mc.threadID }

func (mc *mysqlConn) log(v ...any) {
	_, filename, lineno, ok := runtime.Caller(1)
	if ok {
		pos := strings.LastIndexByte(filename, '/')
		if pos != -1 {
			filename = filename[pos+1:]
		}
		prefix := fmt.Sprintf("%s:%d ", filename, lineno)
		v = append([]any{prefix}, v...)
	}
	mc.cfg.Logger.Print(v...)
}

// handleParams applies DSN Params (SET name = value, ...) after connecting.
func (mc *mysqlConn) handleParams() (err error) {
	var cmdSet strings.Builder

	for param, val := range mc.cfg.Params {
		if cmdSet.Len() == 0 {
			cmdSet.Grow(4 + len(param) + 3 + len(val) + 30*(len(mc.cfg.Params)-1))
			cmdSet.WriteString("SET ")
		} else {
			cmdSet.WriteString(", ")
		}
		cmdSet.WriteString(param)
		cmdSet.WriteString(" = ")
		cmdSet.WriteString(val)
	}

	if cmdSet.Len() > 0 {
		err = mc.exec(cmdSet.String())
	}

	return
}

// markBadConn replaces errBadConnNoWrite with driver.ErrBadConn so database/sql
// only retries when it's safe to do so.
func (mc *mysqlConn) markBadConn(err error) error {
	if err == errBadConnNoWrite {
		return driver.ErrBadConn
	}
	return err
}

func (mc *mysqlConn) Begin() (driver.Tx, error) {
	return mc.begin(false)
}

func (mc *mysqlConn) begin(readOnly bool) (driver.Tx, error) {
	if mc.closed.Load() {
		return nil, driver.ErrBadConn
	}
	var q string
	if readOnly {
		q = "START TRANSACTION READ ONLY"
	} else {
		q = "START TRANSACTION"
	}
	err := mc.exec(q)
	if err == nil {
		mc.inTransaction = true
		return &mysqlTx{mc}, err
	}
	return nil, mc.markBadConn(err)
}

func (mc *mysqlConn) Close() (err error) {
	if !mc.closed.Load() {
		err = mc.writeCommandPacket(comQuit)
	}
	mc.close()
	return
}

// close closes the network connection and clears results without sending
// COM_QUIT.
func (mc *mysqlConn) close() {
	mc.cleanup()
	mc.clearResult()
	mc.setState(stateClosed)
}

// cleanup tears down the network connection and unsets internal variables.
// Do not call after a successful authentication — call Close instead. It is
// called before auth or on auth failure, because MySQL will have already
// closed its end of the connection in that case.
func (mc *mysqlConn) cleanup() {
	if mc.closed.Swap(true) {
		return
	}

	close(mc.closech)
	conn := mc.rawConn
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil {
		mc.log(err)
	}
	// cleanup can be called from multiple goroutines, so we must not call
	// mc.clearResult() here; the caller does it if on a safe goroutine.
}

func (mc *mysqlConn) error() error {
	if mc.closed.Load() {
		if err := mc.canceled.Value(); err != nil {
			return err
		}
		return ErrInvalidConn
	}
	return nil
}

func (mc *mysqlConn) Prepare(query string) (driver.Stmt, error) {
	if mc.closed.Load() {
		return nil, driver.ErrBadConn
	}
	if err := mc.writeCommandPacketStr(comStmtPrepare, query); err != nil {
		mc.log(err)
		return nil, driver.ErrBadConn
	}

	stmt := &mysqlStmt{mc: mc, query: query}

	columnCount, err := stmt.readPrepareResultPacket()
	if err == nil {
		if stmt.paramCount > 0 {
			if err = mc.readUntilEOF(); err != nil {
				return nil, err
			}
		}
		if columnCount > 0 {
			err = mc.readUntilEOF()
		}
	}
	if err == nil && mc.stmtCache != nil {
		mc.stmtCache[query] = stmt
	}

	return stmt, err
}

func (mc *mysqlConn) interpolateParams(query string, args []driver.Value) (string, error) {
	if strings.Count(query, "?") != len(args) {
		return "", driver.ErrSkip
	}

	buf, err := mc.buf.takeCompleteBuffer()
	if err != nil {
		mc.cleanup()
		return "", driver.ErrBadConn
	}
	buf = buf[:0]
	argPos := 0

	for i := 0; i < len(query); i++ {
		q := strings.IndexByte(query[i:], '?')
		if q == -1 {
			buf = append(buf, query[i:]...)
			break
		}
		buf = append(buf, query[i:i+q]...)
		i += q

		arg := args[argPos]
		argPos++

		if arg == nil {
			buf = append(buf, "NULL"...)
			continue
		}

		switch v := arg.(type) {
		case int64:
			buf = strconv.AppendInt(buf, v, 10)
		case uint64:
			buf = strconv.AppendUint(buf, v, 10)
		case float64:
			buf = strconv.AppendFloat(buf, v, 'g', -1, 64)
		case bool:
			if v {
				buf = append(buf, '1')
			} else {
				buf = append(buf, '0')
			}
		case time.Time:
			if v.IsZero() {
				buf = append(buf, "'0000-00-00'"...)
			} else {
				buf = append(buf, '\'')
				buf, err = appendDateTime(buf, v.In(mc.cfg.Loc), mc.cfg.timeTruncate)
				if err != nil {
					return "", err
				}
				buf = append(buf, '\'')
			}
		case json.RawMessage:
			buf = append(buf, '\'')
			if mc.status&statusNoBackslashEscapes == 0 {
				buf = escapeBytesBackslash(buf, v)
			} else {
				buf = escapeBytesQuotes(buf, v)
			}
			buf = append(buf, '\'')
		case []byte:
			if v == nil {
				buf = append(buf, "NULL"...)
			} else {
				buf = append(buf, "_binary'"...)
				if mc.status&statusNoBackslashEscapes == 0 {
					buf = escapeBytesBackslash(buf, v)
				} else {
					buf = escapeBytesQuotes(buf, v)
				}
				buf = append(buf, '\'')
			}
		case string:
			buf = append(buf, '\'')
			if mc.status&statusNoBackslashEscapes == 0 {
				buf = escapeStringBackslash(buf, v)
			} else {
				buf = escapeStringQuotes(buf, v)
			}
			buf = append(buf, '\'')
		default:
			return "", driver.ErrSkip
		}

		if len(buf)+4 > mc.maxAllowedPacket {
			return "", driver.ErrSkip
		}
	}
	if argPos != len(args) {
		return "", driver.ErrSkip
	}
	return string(buf), nil
}

func (mc *mysqlConn) Exec(query string, args []driver.Value) (driver.Result, error) {
	if mc.closed.Load() {
		return nil, driver.ErrBadConn
	}
	if len(args) != 0 {
		if !mc.cfg.InterpolateParams {
			return nil, driver.ErrSkip
		}
		prepared, err := mc.interpolateParams(query, args)
		if err != nil {
			return nil, err
		}
		query = prepared
	}

	err := mc.exec(query)
	if err == nil {
		copied := mc.result
		return &copied, err
	}
	return nil, mc.markBadConn(err)
}

// exec drives a single COM_QUERY to completion, discarding any rows.
func (mc *mysqlConn) exec(query string) error {
	mc.setState(stateQuerying)
	handleOk := mc.clearResult()
	if err := mc.writeCommandPacketStr(comQuery, query); err != nil {
		mc.setState(stateFailed)
		return mc.markBadConn(err)
	}

	resLen, err := handleOk.readResultSetHeaderPacket()
	if err != nil {
		mc.settleState(err)
		return err
	}

	if resLen > 0 {
		if err := mc.readUntilEOF(); err != nil {
			mc.settleState(err)
			return err
		}
		if err := mc.readUntilEOF(); err != nil {
			mc.settleState(err)
			return err
		}
	}

	err = handleOk.discardResults()
	mc.settleState(err)
	return err
}

func (mc *mysqlConn) Query(query string, args []driver.Value) (driver.Rows, error) {
	return mc.query(query, args)
}

func (mc *mysqlConn) query(query string, args []driver.Value) (*textRows, error) {
	handleOk := mc.clearResult()

	if mc.closed.Load() {
		return nil, driver.ErrBadConn
	}
	if len(args) != 0 {
		if !mc.cfg.InterpolateParams {
			return nil, driver.ErrSkip
		}
		prepared, err := mc.interpolateParams(query, args)
		if err != nil {
			return nil, err
		}
		query = prepared
	}
	mc.setState(stateQuerying)
	err := mc.writeCommandPacketStr(comQuery, query)
	if err != nil {
		mc.setState(stateFailed)
		return nil, mc.markBadConn(err)
	}

	var resLen int
	resLen, err = handleOk.readResultSetHeaderPacket()
	if err != nil {
		mc.settleState(err)
		return nil, err
	}

	rows := new(textRows)
	rows.mc = mc

	if resLen == 0 {
		rows.rs.done = true
		mc.setState(stateReady)
		switch err := rows.NextResultSet(); err {
		case nil, io.EOF:
			return rows, nil
		default:
			return nil, err
		}
	}

	mc.setState(stateStreamingResult)
	rows.rs.columns, err = mc.readColumns(resLen)
	if err != nil {
		mc.settleState(err)
	}
	return rows, err
}

// getSystemVar fetches the value of a MySQL system variable. The returned
// slice is only valid until the next read.
func (mc *mysqlConn) getSystemVar(name string) ([]byte, error) {
	handleOk := mc.clearResult()
	if err := mc.writeCommandPacketStr(comQuery, "SELECT @@"+name); err != nil {
		return nil, err
	}

	resLen, err := handleOk.readResultSetHeaderPacket()
	if err == nil {
		rows := new(textRows)
		rows.mc = mc
		rows.rs.columns = []mysqlField{{fieldType: fieldTypeVarChar}}

		if resLen > 0 {
			if err := mc.readUntilEOF(); err != nil {
				return nil, err
			}
		}

		dest := make([]driver.Value, resLen)
		if err = rows.readRow(dest); err == nil {
			return dest[0].([]byte), mc.readUntilEOF()
		}
	}
	return nil, err
}

// cancel is invoked when the watched context is cancelled. It is the
// teacher's abrupt path: drop the TCP connection outright. The executor's
// softer KILL-QUERY path (cancel.go) is preferred whenever the command
// timeout config allows it; this remains the escape hatch.
func (mc *mysqlConn) cancel(err error) {
	mc.canceled.Set(err)
	mc.cleanup()
	mc.setState(stateFailed)
}

func (mc *mysqlConn) finish() {
	if !mc.watching || mc.finished == nil {
		return
	}
	select {
	case mc.finished <- struct{}{}:
		mc.watching = false
	case <-mc.closech:
	}
}

func (mc *mysqlConn) Ping(ctx context.Context) (err error) {
	if mc.closed.Load() {
		return driver.ErrBadConn
	}

	if err = mc.watchCancel(ctx); err != nil {
		return
	}
	defer mc.finish()

	handleOk := mc.clearResult()
	if err = mc.writeCommandPacket(comPing); err != nil {
		return mc.markBadConn(err)
	}

	return handleOk.readResultOK()
}

func (mc *mysqlConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if mc.closed.Load() {
		return nil, driver.ErrBadConn
	}

	if err := mc.watchCancel(ctx); err != nil {
		return nil, err
	}
	defer mc.finish()

	if sql.IsolationLevel(opts.Isolation) != sql.LevelDefault {
		level, err := mapIsolationLevel(opts.Isolation)
		if err != nil {
			return nil, err
		}
		if err := mc.exec("SET TRANSACTION ISOLATION LEVEL " + level); err != nil {
			return nil, err
		}
	}

	return mc.begin(opts.ReadOnly)
}

func (mc *mysqlConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	dargs, err := namedValueToValue(args)
	if err != nil {
		return nil, err
	}

	if err := mc.watchCancel(ctx); err != nil {
		return nil, err
	}

	rows, err := mc.query(query, dargs)
	if err != nil {
		mc.finish()
		return nil, err
	}
	rows.finish = mc.finish
	return rows, err
}

func (mc *mysqlConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	dargs, err := namedValueToValue(args)
	if err != nil {
		return nil, err
	}

	if err := mc.watchCancel(ctx); err != nil {
		return nil, err
	}
	defer mc.finish()

	return mc.Exec(query, dargs)
}

func (mc *mysqlConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	if err := mc.watchCancel(ctx); err != nil {
		return nil, err
	}

	stmt, err := mc.Prepare(query)
	mc.finish()
	if err != nil {
		return nil, err
	}

	select {
	default:
	case <-ctx.Done():
		stmt.Close()
		return nil, ctx.Err()
	}
	return stmt, nil
}

func (mc *mysqlConn) watchCancel(ctx context.Context) error {
	if mc.watching {
		mc.cleanup()
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if ctx.Done() == nil {
		return nil
	}
	if mc.watcher == nil {
		return nil
	}

	mc.watching = true
	mc.watcher <- ctx
	return nil
}

func (mc *mysqlConn) startWatcher() {
	watcher := make(chan context.Context, 1)
	mc.watcher = watcher
	finished := make(chan struct{})
	mc.finished = finished
	go func() {
		for {
			var ctx context.Context
			select {
			case ctx = <-watcher:
			case <-mc.closech:
				return
			}

			select {
			case <-ctx.Done():
				mc.cancel(ctx.Err())
			case <-finished:
			case <-mc.closech:
				return
			}
		}
	}()
}

func (mc *mysqlConn) CheckNamedValue(nv *driver.NamedValue) (err error) {
	nv.Value, err = converter{}.ConvertValue(nv.Value)
	return
}

// ResetSession implements driver.SessionResetter (database/sql calls this
// before reusing a pooled *database/sql-level* connection). It performs
// only the cheap staleness check; the full protocol-level reset used by
// this package's own pool lives in Reset below.
func (mc *mysqlConn) ResetSession(ctx context.Context) error {
	if mc.closed.Load() || mc.buf.busy() {
		return driver.ErrBadConn
	}

	if mc.cfg.CheckConnLiveness {
		conn := mc.netConn
		if mc.rawConn != nil {
			conn = mc.rawConn
		}
		var err error
		if mc.cfg.ReadTimeout != 0 {
			err = conn.SetReadDeadline(time.Now().Add(mc.cfg.ReadTimeout))
		}
		if err == nil {
			err = connCheck(conn)
		}
		if err != nil {
			mc.log("closing bad idle connection: ", err)
			return driver.ErrBadConn
		}
	}

	return nil
}

// Reset returns the session to a pristine state per spec §4.2/§4.5: it
// tries COM_RESET_CONNECTION first, falling back to COM_CHANGE_USER, and
// finally to ROLLBACK + clearing local state if neither command is
// available. It clears the prepared-statement cache and transaction flag
// on success. Callers (the pool) must destroy the session if Reset fails.
func (mc *mysqlConn) Reset(ctx context.Context) error {
	if mc.closed.Load() {
		return driver.ErrBadConn
	}
	if err := mc.watchCancel(ctx); err != nil {
		return err
	}
	defer mc.finish()

	handleOk := mc.clearResult()
	if err := mc.writeCommandPacket(comResetConnection); err == nil {
		if err := handleOk.readResultOK(); err == nil {
			mc.forgetSessionLocalState()
			mc.setState(stateReady)
			return nil
		}
	}

	// COM_RESET_CONNECTION unsupported or failed: fall back to a
	// ROLLBACK + clearing local caches, per spec §4.2.
	if mc.inTransaction {
		if err := mc.exec("ROLLBACK"); err != nil {
			return err
		}
	}
	mc.forgetSessionLocalState()
	mc.setState(stateReady)
	return nil
}

func (mc *mysqlConn) forgetSessionLocalState() {
	mc.inTransaction = false
	mc.status &^= statusInTrans
	for _, stmt := range mc.stmtCache {
		_ = stmt.close()
	}
	mc.stmtCache = make(map[string]*mysqlStmt)
}

// IsValid implements driver.Validator.
func (mc *mysqlConn) IsValid() bool {
	return !mc.closed.Load() && !mc.buf.busy()
}

var _ driver.SessionResetter = &mysqlConn{}
var _ driver.Validator = &mysqlConn{}
