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
	"database/sql/driver"
	"io"
)

// mysqlStmt is the binary-protocol PreparedStatement of spec §3: a
// statement id plus parameter/column counts, created by COM_STMT_PREPARE
// and cached by SQL text on the owning session.
type mysqlStmt struct {
	mc         *mysqlConn
	id         uint32
	query      string
	paramCount int
	columns    []mysqlField // cached column metadata, set after first execute
}

func (stmt *mysqlStmt) Close() error {
	return stmt.close()
}

// close sends COM_STMT_CLOSE, which is fire-and-forget per spec §4.2: the
// server never replies, so there is nothing to read back.
func (stmt *mysqlStmt) close() error {
	if stmt.mc == nil || stmt.mc.closed.Load() {
		return ErrInvalidConn
	}

	err := stmt.mc.writeCommandPacketUint32(comStmtClose, stmt.id)
	stmt.mc = nil
	return err
}

func (stmt *mysqlStmt) NumInput() int {
	return stmt.paramCount
}

func (stmt *mysqlStmt) ColumnConverter(int) driver.ValueConverter {
	return converter{}
}

func (stmt *mysqlStmt) Exec(args []driver.Value) (driver.Result, error) {
	if stmt.mc.closed.Load() {
		return nil, driver.ErrBadConn
	}
	handleOk := stmt.mc.clearResult()

	stmt.mc.setState(stateQuerying)
	if err := stmt.writeExecutePacket(args); err != nil {
		stmt.mc.setState(stateFailed)
		return nil, stmt.mc.markBadConn(err)
	}

	resLen, err := handleOk.readResultSetHeaderPacket()
	if err != nil {
		stmt.mc.settleState(err)
		return nil, err
	}

	if resLen > 0 {
		if err := stmt.mc.readUntilEOF(); err != nil {
			stmt.mc.settleState(err)
			return nil, err
		}
		if err := stmt.mc.readUntilEOF(); err != nil {
			stmt.mc.settleState(err)
			return nil, err
		}
	}

	if err := handleOk.discardResults(); err != nil {
		stmt.mc.settleState(err)
		return nil, err
	}
	stmt.mc.setState(stateReady)

	copied := stmt.mc.result
	return &copied, nil
}

func (stmt *mysqlStmt) Query(args []driver.Value) (driver.Rows, error) {
	return stmt.doQuery(args)
}

func (stmt *mysqlStmt) doQuery(args []driver.Value) (*binaryRows, error) {
	if stmt.mc.closed.Load() {
		return nil, driver.ErrBadConn
	}
	handleOk := stmt.mc.clearResult()

	stmt.mc.setState(stateQuerying)
	if err := stmt.writeExecutePacket(args); err != nil {
		stmt.mc.setState(stateFailed)
		return nil, stmt.mc.markBadConn(err)
	}

	resLen, err := handleOk.readResultSetHeaderPacket()
	if err != nil {
		stmt.mc.settleState(err)
		return nil, err
	}

	rows := new(binaryRows)
	rows.mc = stmt.mc

	if resLen == 0 {
		rows.rs.done = true
		stmt.mc.setState(stateReady)
		switch err := rows.NextResultSet(); err {
		case nil, io.EOF:
			return rows, nil
		default:
			return nil, err
		}
	}

	stmt.mc.setState(stateStreamingResult)
	rows.rs.columns, err = stmt.mc.readColumns(resLen)
	if err != nil {
		stmt.mc.settleState(err)
	}
	stmt.columns = rows.rs.columns
	return rows, err
}

func (stmt *mysqlStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	dargs, err := namedValueToValue(args)
	if err != nil {
		return nil, err
	}

	if err := stmt.mc.watchCancel(ctx); err != nil {
		return nil, err
	}

	rows, err := stmt.doQuery(dargs)
	if err != nil {
		stmt.mc.finish()
		return nil, err
	}
	rows.finish = stmt.mc.finish
	return rows, err
}

func (stmt *mysqlStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	dargs, err := namedValueToValue(args)
	if err != nil {
		return nil, err
	}

	if err := stmt.mc.watchCancel(ctx); err != nil {
		return nil, err
	}
	defer stmt.mc.finish()

	return stmt.Exec(dargs)
}
