// Go MySQL Driver - A MySQL-Driver for Go's database/sql package
//
// Copyright 2016 The Go-MySQL-Driver Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package mysql

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
)

const (
	cachingSha2PasswordRequestPublicKey        = 2
	cachingSha2PasswordFastAuthSuccess         = 3
	cachingSha2PasswordPerformFullAuthentication = 4
)

// cachingSHA2Auth implements caching_sha2_password: the fast path XORs a
// SHA256 double-hash the same way mysql_native_password does with SHA1; on
// a cache miss the server demands full authentication, either as plaintext
// over an already-secure channel or RSA-OAEP encrypted otherwise.
type cachingSHA2Auth struct{}

func (cachingSHA2Auth) InitialResponse(mc *mysqlConn, scramble []byte) ([]byte, error) {
	mc.scrambleForFullAuth = append([]byte(nil), scramble...)
	if len(mc.cfg.Passwd) == 0 {
		return nil, nil
	}
	return scrambleSHA256Password(scramble, mc.cfg.Passwd), nil
}

func (cachingSHA2Auth) Continue(mc *mysqlConn, data []byte) ([]byte, bool, error) {
	if len(data) != 1 {
		return nil, false, ErrMalformPkt
	}

	switch data[0] {
	case cachingSha2PasswordFastAuthSuccess:
		return nil, true, nil

	case cachingSha2PasswordPerformFullAuthentication:
		return fullAuthResponse(mc)

	default:
		return nil, false, ErrMalformPkt
	}
}

// scrambleSHA256Password computes SHA256(password) XOR
// SHA256(SHA256(SHA256(password)) + scramble), the caching_sha2_password
// and sha256_password fast-path response.
func scrambleSHA256Password(scramble []byte, password string) []byte {
	crypt := sha256.New()
	crypt.Write([]byte(password))
	stage1 := crypt.Sum(nil)

	crypt.Reset()
	crypt.Write(stage1)
	stage2 := crypt.Sum(nil)

	crypt.Reset()
	crypt.Write(stage2)
	crypt.Write(scramble)
	scramble2 := crypt.Sum(nil)

	for i := range scramble2 {
		scramble2[i] ^= stage1[i]
	}
	return scramble2
}

// fullAuthResponse either sends the password as plaintext (safe only
// because the transport is already TLS or a local unix socket) or fetches
// the server's RSA public key and encrypts the password with OAEP.
func fullAuthResponse(mc *mysqlConn) ([]byte, bool, error) {
	if mc.cfg.TLS != nil || mc.cfg.Net == "unix" {
		return append([]byte(mc.cfg.Passwd), 0), false, nil
	}

	pubKey := mc.cfg.pubKey
	if pubKey == nil {
		var err error
		pubKey, err = mc.requestPublicKey()
		if err != nil {
			return nil, false, err
		}
	}
	enc, err := encryptPassword(mc.cfg.Passwd, mc.scrambleForFullAuth, pubKey)
	if err != nil {
		return nil, false, err
	}
	return enc, false, nil
}

// requestPublicKey asks the server for its RSA public key by sending the
// magic single 0x02 byte, per the caching_sha2_password protocol.
func (mc *mysqlConn) requestPublicKey() (*rsa.PublicKey, error) {
	if err := mc.writeAuthSwitchPacket([]byte{cachingSha2PasswordRequestPublicKey}); err != nil {
		return nil, err
	}
	data, _, err := mc.readAuthResult()
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrMalformPkt
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, ErrMalformPkt
	}
	return rsaKey, nil
}

func encryptPassword(password string, scramble []byte, pub *rsa.PublicKey) ([]byte, error) {
	plain := make([]byte, len(password)+1)
	copy(plain, password)
	plain[len(password)] = 0

	for i := range plain {
		plain[i] ^= scramble[i%len(scramble)]
	}
	return rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, plain, nil)
}

// sha256PasswordAuth implements the legacy sha256_password plugin, which
// always performs full authentication (there is no caching fast path).
type sha256PasswordAuth struct{}

func (sha256PasswordAuth) InitialResponse(mc *mysqlConn, scramble []byte) ([]byte, error) {
	if len(mc.cfg.Passwd) == 0 {
		return nil, nil
	}
	mc.scrambleForFullAuth = append([]byte(nil), scramble...)
	if mc.cfg.TLS != nil {
		return append([]byte(mc.cfg.Passwd), 0), nil
	}
	// signal the server we want to request its public key up front by
	// sending a single 0x01 byte, mirroring the AuthMoreData exchange
	// caching_sha2_password uses for full auth.
	return []byte{1}, nil
}

func (sha256PasswordAuth) Continue(mc *mysqlConn, data []byte) ([]byte, bool, error) {
	pubKey := mc.cfg.pubKey
	if pubKey == nil {
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, false, ErrMalformPkt
		}
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, false, err
		}
		var ok bool
		pubKey, ok = pub.(*rsa.PublicKey)
		if !ok {
			return nil, false, ErrMalformPkt
		}
	}
	enc, err := encryptPassword(mc.cfg.Passwd, mc.scrambleForFullAuth, pubKey)
	if err != nil {
		return nil, false, err
	}
	return enc, false, nil
}
