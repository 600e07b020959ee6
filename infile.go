// Go MySQL Driver - A MySQL-Driver for Go's database/sql package
//
// Copyright 2014 The Go-MySQL-Driver Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package mysql

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

var (
	fileRegisterMu   sync.RWMutex
	fileRegister     = make(map[string]bool)
	readerRegisterMu sync.RWMutex
	readerRegister   = make(map[string]func() io.Reader)
)

// RegisterLocalFile adds a file to the whitelist of files allowed to be
// used with LOAD DATA LOCAL INFILE. Alternatively, Config.AllowAllFiles
// disables the whitelist check entirely (spec §6, LOCAL INFILE surface).
func RegisterLocalFile(filePath string) {
	fileRegisterMu.Lock()
	fileRegister[strings.Trim(filePath, `"`)] = true
	fileRegisterMu.Unlock()
}

// DeregisterLocalFile removes a file from the whitelist.
func DeregisterLocalFile(filePath string) {
	fileRegisterMu.Lock()
	delete(fileRegister, strings.Trim(filePath, `"`))
	fileRegisterMu.Unlock()
}

// RegisterReaderHandler registers a reader factory under a name that a
// query can reference as `Reader::<name>` in place of a file path, so an
// application can stream LOCAL INFILE data from memory or a network
// source instead of the local filesystem.
func RegisterReaderHandler(name string, handler func() io.Reader) {
	readerRegisterMu.Lock()
	readerRegister[name] = handler
	readerRegisterMu.Unlock()
}

// DeregisterReaderHandler removes a previously registered reader factory.
func DeregisterReaderHandler(name string) {
	readerRegisterMu.Lock()
	delete(readerRegister, name)
	readerRegisterMu.Unlock()
}

func isFileAllowed(mc *mysqlConn, name string) bool {
	if mc.cfg.AllowAllFiles {
		return true
	}
	fileRegisterMu.RLock()
	defer fileRegisterMu.RUnlock()
	return fileRegister[name]
}

func getReaderHandler(name string) (func() io.Reader, bool) {
	readerRegisterMu.RLock()
	defer readerRegisterMu.RUnlock()
	h, ok := readerRegister[name]
	return h, ok
}

// handleInFileRequest answers a LOCAL INFILE request from the server: it
// streams either a registered io.Reader (Reader::<name>) or a filesystem
// path that passed the whitelist / AllowAllFiles check, chunked into
// maxWriteSize packets, terminated by an empty packet, then reads the
// server's final OK/ERR.
func (mc *mysqlConn) handleInFileRequest(name string) error {
	var rdr io.Reader
	var openErr error

	if rest, ok := strings.CutPrefix(name, "Reader::"); ok {
		if handler, ok := getReaderHandler(rest); ok {
			rdr = handler()
		} else {
			openErr = fmt.Errorf("reader %q is not registered", rest)
		}
	} else if !isFileAllowed(mc, name) {
		openErr = fmt.Errorf("local file %q is not registered", name)
	} else {
		file, err := os.Open(name)
		if err != nil {
			openErr = err
		} else {
			defer file.Close()
			rdr = file
		}
	}

	packetSize := 4 + mc.maxWriteSize
	if packetSize > maxPacketSize {
		packetSize = maxPacketSize
	}
	data, err := mc.buf.takeBuffer(packetSize)
	if err != nil {
		return err
	}

	if openErr == nil {
		for {
			n, rerr := rdr.Read(data[4:])
			if n > 0 {
				if werr := mc.writePacket(data[:4+n]); werr != nil {
					return werr
				}
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				openErr = rerr
				break
			}
		}
	}

	// an empty packet always terminates the LOCAL INFILE exchange,
	// success or failure, so the server can report its own error.
	if err := mc.writePacket(data[:4]); err != nil {
		return err
	}
	if openErr != nil {
		mc.log(openErr)
	}
	err = mc.resultUnchanged().readResultOK()
	if err == nil && openErr != nil {
		return &UsageError{Kind: UsageLocalInfileRejected, Message: openErr.Error()}
	}
	return err
}
