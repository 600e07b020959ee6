// Go MySQL Driver - A MySQL-Driver for Go's database/sql package
//
// Copyright 2016 The Go-MySQL-Driver Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package mysql

// clearPasswordAuth implements mysql_clear_password: the password is sent
// as-is, NUL terminated, so it is refused outside TLS unless the caller
// explicitly opted in (spec §4.4, plaintext plugin requires a secure
// channel).
type clearPasswordAuth struct{}

func (clearPasswordAuth) InitialResponse(mc *mysqlConn, _ []byte) ([]byte, error) {
	// allowed over TLS or a Unix socket; anywhere else only with the
	// AllowCleartextPasswords opt-in.
	if !mc.cfg.AllowCleartextPasswords && mc.cfg.TLS == nil && mc.cfg.Net != "unix" {
		return nil, ErrCleartextPwd
	}
	return append([]byte(mc.cfg.Passwd), 0), nil
}

func (clearPasswordAuth) Continue(mc *mysqlConn, data []byte) ([]byte, bool, error) {
	return nil, true, nil
}
