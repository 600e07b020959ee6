// Go MySQL Driver - A MySQL-Driver for Go's database/sql package
//
// Copyright 2016 The Go-MySQL-Driver Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package mysql

import "crypto/sha1"

// nativePasswordAuth implements mysql_native_password:
// SHA1(password) XOR SHA1(scramble + SHA1(SHA1(password))).
type nativePasswordAuth struct{}

func (nativePasswordAuth) InitialResponse(mc *mysqlConn, scramble []byte) ([]byte, error) {
	if !mc.cfg.AllowNativePasswords {
		return nil, ErrNativePwd
	}
	if len(mc.cfg.Passwd) == 0 {
		return nil, nil
	}
	return scrambleSHA1Password(scramble, mc.cfg.Passwd), nil
}

func (nativePasswordAuth) Continue(mc *mysqlConn, data []byte) ([]byte, bool, error) {
	// mysql_native_password never requests an extra round; any AuthMoreData
	// here is unexpected.
	return nil, true, nil
}

func scrambleSHA1Password(scramble []byte, password string) []byte {
	// stage1Hash = SHA1(password)
	crypt := sha1.New()
	crypt.Write([]byte(password))
	stage1 := crypt.Sum(nil)

	// scrambleHash = SHA1(scramble + SHA1(stage1Hash))
	crypt.Reset()
	crypt.Write(stage1)
	hash := crypt.Sum(nil)

	crypt.Reset()
	crypt.Write(scramble)
	crypt.Write(hash)
	scramble2 := crypt.Sum(nil)

	for i := range scramble2 {
		scramble2[i] ^= stage1[i]
	}
	return scramble2
}
