// Go MySQL Driver - A MySQL-Driver for Go's database/sql package
//
// Copyright 2012 The Go-MySQL-Driver Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package mysql

import (
	"runtime"
	"time"
)

const (
	minProtocolVersion = 10
	maxPacketSize       = 1<<24 - 1
	defaultMaxAllowedPacket = 64 << 20 // 64 MiB, overridden by max_allowed_packet once connected
	timeFormat          = "2006-01-02 15:04:05.999999"
)

// pool defaults (spec §6, Pooling / Maximum Pool Size / Connection Idle Timeout)
const (
	defaultMaxPoolSize = 100
	defaultIdleTimeout = 10 * time.Minute
)

// CapabilityFlags is the 32-bit set negotiated during the handshake (spec §3, CapabilityFlags).
type CapabilityFlags uint32

const (
	clientLongPassword CapabilityFlags = 1 << iota
	clientFoundRows
	clientLongFlag
	clientConnectWithDB
	clientNoSchema
	clientCompress
	clientODBC
	clientLocalFiles
	clientIgnoreSpace
	clientProtocol41
	clientInteractive
	clientSSL
	clientIgnoreSIGPIPE
	clientTransactions
	clientReserved
	clientSecureConn
	clientMultiStatements
	clientMultiResults
	clientPSMultiResults
	clientPluginAuth
	clientConnectAttrs
	clientPluginAuthLenEncClientData
	clientCanHandleExpiredPasswords
	clientSessionTrack
	clientDeprecateEOF
	clientQueryAttributes
)

// command bytes (COM_*), https://dev.mysql.com/doc/dev/mysql-server/latest/page_protocol_command_phase.html
const (
	comQuit             byte = 0x01
	comInitDB           byte = 0x02
	comQuery            byte = 0x03
	comFieldList        byte = 0x04
	comCreateDB         byte = 0x05
	comDropDB           byte = 0x06
	comRefresh          byte = 0x07
	comShutdown         byte = 0x08
	comStatistics       byte = 0x09
	comProcessInfo      byte = 0x0a
	comConnect          byte = 0x0b
	comProcessKill      byte = 0x0c
	comDebug            byte = 0x0d
	comPing             byte = 0x0e
	comTime             byte = 0x0f
	comDelayedInsert    byte = 0x10
	comChangeUser       byte = 0x11
	comBinlogDump       byte = 0x12
	comTableDump        byte = 0x13
	comConnectOut       byte = 0x14
	comRegisterSlave    byte = 0x15
	comStmtPrepare      byte = 0x16
	comStmtExecute      byte = 0x17
	comStmtSendLongData byte = 0x18
	comStmtClose        byte = 0x19
	comStmtReset        byte = 0x1a
	comSetOption        byte = 0x1b
	comStmtFetch        byte = 0x1c
	comResetConnection  byte = 0x1f
)

// generic response packet indicator bytes
const (
	iOK          byte = 0x00
	iAuthMoreData byte = 0x01
	iLocalInFile byte = 0xfb
	iEOF         byte = 0xfe
	iERR         byte = 0xff
)

// server status flags, https://dev.mysql.com/doc/dev/mysql-server/latest/mysql__com_8h.html
type statusFlag uint16

const (
	statusInTrans            statusFlag = 1 << iota
	statusInAutocommit
	statusReserved
	statusMoreResultsExists
	statusNoGoodIndexUsed
	statusNoIndexUsed
	statusCursorExists
	statusLastRowSent
	statusDbDropped
	statusNoBackslashEscapes
	statusMetadataChanged
	statusQueryWasSlow
	statusPSOutParams
	statusInTransReadonly
	statusSessionStateChanged
)

// fieldType is the column type code carried in column-definition packets.
type fieldType byte

const (
	fieldTypeDecimal fieldType = iota
	fieldTypeTiny
	fieldTypeShort
	fieldTypeLong
	fieldTypeFloat
	fieldTypeDouble
	fieldTypeNULL
	fieldTypeTimestamp
	fieldTypeLongLong
	fieldTypeInt24
	fieldTypeDate
	fieldTypeTime
	fieldTypeDateTime
	fieldTypeYear
	fieldTypeNewDate
	fieldTypeVarChar
	fieldTypeBit
	fieldTypeJSON    fieldType = 0xf5
	fieldTypeNewDecimal fieldType = 0xf6
	fieldTypeEnum    fieldType = 0xf7
	fieldTypeSet     fieldType = 0xf8
	fieldTypeTinyBLOB fieldType = 0xf9
	fieldTypeMediumBLOB fieldType = 0xfa
	fieldTypeLongBLOB fieldType = 0xfb
	fieldTypeBLOB    fieldType = 0xfc
	fieldTypeVarString fieldType = 0xfd
	fieldTypeString  fieldType = 0xfe
	fieldTypeGeometry fieldType = 0xff
	fieldTypeVector  fieldType = 0xf2
)

// field flags, https://dev.mysql.com/doc/dev/mysql-server/latest/group__group__cs__column__definition__flags.html
type fieldFlag uint16

const (
	flagNotNULL fieldFlag = 1 << iota
	flagPriKey
	flagUniqueKey
	flagMultipleKey
	flagBLOB
	flagUnsigned
	flagZeroFill
	flagBinary
	flagEnum
	flagAutoIncrement
	flagTimestamp
	flagSet
)

const defaultAuthPlugin = "mysql_native_password"
const defaultCollationID = 224 // utf8mb4_unicode_ci; see collations.go

// connection attribute keys sent during the handshake response.
const (
	connAttrClientName      = "_client_name"
	connAttrClientNameValue = "go-mysqlcore"
	connAttrOS              = "_os"
	connAttrPlatform        = "_platform"
	connAttrPid             = "_pid"
	connAttrServerHost      = "_server_host"
)

var (
	connAttrOSValue       = runtime.GOOS
	connAttrPlatformValue = runtime.GOARCH
)
