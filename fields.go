// Go MySQL Driver - A MySQL-Driver for Go's database/sql package
//
// Copyright 2013 The Go-MySQL-Driver Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package mysql

// mysqlField mirrors a Column Definition packet (spec §3, Column).
type mysqlField struct {
	tableName string
	name      string
	length    uint32
	flags     fieldFlag
	fieldType fieldType
	decimals  byte
	charSet   byte
}

// Column is the exported view of a result-set column, named per spec §3.
type Column struct {
	Name     string
	Table    string
	Type     fieldType
	Length   uint32
	Decimals byte
	CharSet  byte
	Unsigned bool
	Nullable bool
}

func (f *mysqlField) toColumn() Column {
	return Column{
		Name:     f.name,
		Table:    f.tableName,
		Type:     f.fieldType,
		Length:   f.length,
		Decimals: f.decimals,
		CharSet:  f.charSet,
		Unsigned: f.flags&flagUnsigned != 0,
		Nullable: f.flags&flagNotNULL == 0,
	}
}

// GUIDFormat selects how a BINARY(16)/CHAR(36) column tagged as a GUID is
// decoded (spec §4.3). Which columns are "GUID" is a collaborator-level
// policy decision (column name/comment heuristics); this core only offers
// the decode function once a column has been identified as one.
type GUIDFormat int

const (
	GUIDString GUIDFormat = iota
	GUIDBinaryBigEndian
	GUIDBinaryLittleEndian
	GUIDBinaryTimeOrdered
)

// decodeGUID reinterprets a 16-byte binary GUID value according to format.
// It is a no-op (returned unchanged) for GUIDString, since the canonical
// 36-char dashed form is produced upstream by the server as a regular
// string column in that mode.
func decodeGUID(b []byte, format GUIDFormat) []byte {
	if format == GUIDString || len(b) != 16 {
		return b
	}
	out := make([]byte, 16)
	switch format {
	case GUIDBinaryLittleEndian:
		// swap the byte order of the first three fields (time_low, time_mid,
		// time_hi_and_version), leaving clock_seq/node untouched — mirrors
		// .NET's little-endian Guid layout.
		out[0], out[1], out[2], out[3] = b[3], b[2], b[1], b[0]
		out[4], out[5] = b[5], b[4]
		out[6], out[7] = b[7], b[6]
		copy(out[8:], b[8:])
	case GUIDBinaryTimeOrdered:
		// RFC 4122 time-ordered rearrangement: time_hi, time_mid, time_low.
		out[0], out[1] = b[6], b[7]
		out[2], out[3] = b[4], b[5]
		out[4], out[5], out[6], out[7] = b[0], b[1], b[2], b[3]
		copy(out[8:], b[8:])
	default: // GUIDBinaryBigEndian
		copy(out, b)
	}
	return out
}
