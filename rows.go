// Go MySQL Driver - A MySQL-Driver for Go's database/sql package
//
// Copyright 2012 The Go-MySQL-Driver Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package mysql

import (
	"database/sql/driver"
	"io"
)

// resultSet is the shared state of one result set within a (possibly
// multi-resultset) stream: its columns and whether it has been fully read.
// Design note §9, "Lazy row streaming": decoding is lazy, single-pass, and
// bound to the session lease — nothing here is restartable.
type resultSet struct {
	columns []mysqlField
	done    bool
}

// textRows streams rows decoded with the text protocol (COM_QUERY).
type textRows struct {
	mc     *mysqlConn
	rs     resultSet
	finish func()
}

// binaryRows streams rows decoded with the binary protocol
// (COM_STMT_EXECUTE).
type binaryRows struct {
	mc     *mysqlConn
	rs     resultSet
	finish func()
}

func (rows *textRows) Columns() []string {
	columns := make([]string, len(rows.rs.columns))
	for i := range columns {
		columns[i] = rows.rs.columns[i].name
	}
	return columns
}

func (rows *binaryRows) Columns() []string {
	columns := make([]string, len(rows.rs.columns))
	for i := range columns {
		columns[i] = rows.rs.columns[i].name
	}
	return columns
}

func (rows *textRows) Close() error {
	return closeRows(rows.mc, &rows.rs, rows.finish)
}

func (rows *binaryRows) Close() error {
	return closeRows(rows.mc, &rows.rs, rows.finish)
}

// Next implements driver.Rows by decoding one more row with the protocol
// each type was built for.
func (rows *textRows) Next(dest []driver.Value) error {
	return rows.readRow(dest)
}

func (rows *binaryRows) Next(dest []driver.Value) error {
	return rows.readRow(dest)
}

// closeRows drains any unread frames of the current and any following
// result sets before releasing the session, so a dropped reader never
// leaves a half-read frame on the transport (spec §5, Cancellation
// semantics: "a dropped task must not leave a half-read frame").
func closeRows(mc *mysqlConn, rs *resultSet, finish func()) error {
	if mc == nil {
		return nil
	}
	defer func() {
		if finish != nil {
			finish()
		}
	}()

	if !rs.done {
		err := mc.readUntilEOF()
		if err != nil {
			mc.settleState(err)
			return err
		}
		rs.done = true
	}
	if mc.status&statusMoreResultsExists != 0 {
		err := mc.clearResult().discardResults()
		mc.settleState(err)
		return err
	}
	mc.setState(stateReady)
	return nil
}

// HasNextResultSet reports whether another result set follows this one
// (spec §4.6, Multi-resultset).
func (rows *textRows) HasNextResultSet() bool {
	if rows.mc == nil {
		return false
	}
	return rows.mc.status&statusMoreResultsExists != 0
}

func (rows *binaryRows) HasNextResultSet() bool {
	if rows.mc == nil {
		return false
	}
	return rows.mc.status&statusMoreResultsExists != 0
}

// NextResultSet advances to the next result set in a multi-statement /
// multi-resultset stream. The stream yields all rows of set N before any
// row of set N+1 (spec §8 scenario 6) and terminates cleanly on the final
// OK that carries no MORE_RESULTS.
func (rows *textRows) NextResultSet() error {
	if rows.mc == nil {
		return io.EOF
	}
	if !rows.HasNextResultSet() {
		rows.mc = nil
		return io.EOF
	}
	rows.rs = resultSet{}

	resLen, err := rows.mc.resultUnchanged().readResultSetHeaderPacket()
	if err != nil {
		rows.mc.settleState(err)
		rows.mc = nil
		return err
	}

	if resLen > 0 {
		rows.rs.columns, err = rows.mc.readColumns(resLen)
	} else {
		rows.rs.done = true
		err = rows.mc.readUntilEOF()
	}
	if err != nil {
		rows.mc.settleState(err)
		rows.mc = nil
	}
	return err
}

func (rows *binaryRows) NextResultSet() error {
	if rows.mc == nil {
		return io.EOF
	}
	if !rows.HasNextResultSet() {
		rows.mc = nil
		return io.EOF
	}
	rows.rs = resultSet{}

	resLen, err := rows.mc.resultUnchanged().readResultSetHeaderPacket()
	if err != nil {
		rows.mc.settleState(err)
		rows.mc = nil
		return err
	}

	if resLen > 0 {
		rows.rs.columns, err = rows.mc.readColumns(resLen)
	} else {
		rows.rs.done = true
		err = rows.mc.readUntilEOF()
	}
	if err != nil {
		rows.mc.settleState(err)
		rows.mc = nil
	}
	return err
}

var _ driver.Rows = (*textRows)(nil)
var _ driver.Rows = (*binaryRows)(nil)
