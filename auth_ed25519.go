// Go MySQL Driver - A MySQL-Driver for Go's database/sql package
//
// Copyright 2021 The Go-MySQL-Driver Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package mysql

import (
	"crypto/sha512"

	"filippo.io/edwards25519"
)

// ed25519Auth implements MariaDB's client_ed25519 plugin: the password is
// hashed with SHA-512 into a scalar, then signed over the server's
// scramble with Ed25519 (RFC 8032), using edwards25519 directly rather
// than crypto/ed25519 because MariaDB derives the private scalar from the
// password hash instead of a random seed.
type ed25519Auth struct{}

func (ed25519Auth) InitialResponse(mc *mysqlConn, scramble []byte) ([]byte, error) {
	if len(mc.cfg.Passwd) == 0 {
		return nil, nil
	}
	return signEd25519(mc.cfg.Passwd, scramble), nil
}

func (ed25519Auth) Continue(mc *mysqlConn, data []byte) ([]byte, bool, error) {
	return nil, true, nil
}

func signEd25519(password string, scramble []byte) []byte {
	h := sha512.Sum512([]byte(password))

	scalarBytes := clampScalar(h[:32])
	scalar, err := new(edwards25519.Scalar).SetBytesWithClamping(scalarBytes)
	if err != nil {
		return nil
	}

	pub := new(edwards25519.Point).ScalarBaseMult(scalar).Bytes()

	prefix := sha512.New()
	prefix.Write(h[32:])
	prefix.Write(scramble)
	rDigest := prefix.Sum(nil)

	rScalar, err := new(edwards25519.Scalar).SetUniformBytes(rDigest)
	if err != nil {
		return nil
	}
	R := new(edwards25519.Point).ScalarBaseMult(rScalar).Bytes()

	kHash := sha512.New()
	kHash.Write(R)
	kHash.Write(pub)
	kHash.Write(scramble)
	kDigest := kHash.Sum(nil)

	kScalar, err := new(edwards25519.Scalar).SetUniformBytes(kDigest)
	if err != nil {
		return nil
	}

	s := new(edwards25519.Scalar).MultiplyAdd(kScalar, scalar, rScalar)

	sig := make([]byte, 64)
	copy(sig[:32], R)
	copy(sig[32:], s.Bytes())
	return sig
}

func clampScalar(b []byte) []byte {
	out := make([]byte, 32)
	copy(out, b)
	out[0] &= 248
	out[31] &= 127
	out[31] |= 64
	return out
}
