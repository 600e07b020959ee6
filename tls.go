// Go MySQL Driver - A MySQL-Driver for Go's database/sql package
//
// Copyright 2016 The Go-MySQL-Driver Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package mysql

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"sync"
)

var (
	tlsConfigMu       sync.RWMutex
	tlsConfigRegistry = make(map[string]*tls.Config)

	pubKeyMu       sync.RWMutex
	pubKeyRegistry = make(map[string]*rsa.PublicKey)
)

// RegisterTLSConfig registers a custom tls.Config under a name for later
// reference via the DSN's tls=<name> parameter (spec §6, External
// Interfaces / TLS modes).
func RegisterTLSConfig(name string, cfg *tls.Config) error {
	switch name {
	case "", "true", "false", "skip-verify", "preferred":
		return fmt.Errorf("mysql: config name %q is reserved", name)
	}

	tlsConfigMu.Lock()
	tlsConfigRegistry[name] = cfg
	tlsConfigMu.Unlock()
	return nil
}

// DeregisterTLSConfig removes a previously registered tls.Config.
func DeregisterTLSConfig(name string) {
	tlsConfigMu.Lock()
	delete(tlsConfigRegistry, name)
	tlsConfigMu.Unlock()
}

func getTLSConfigClone(name string) (cfg *tls.Config) {
	tlsConfigMu.RLock()
	if v, ok := tlsConfigRegistry[name]; ok {
		cfg = v.Clone()
	}
	tlsConfigMu.RUnlock()
	return
}

// RegisterServerPubKey registers a server RSA public key, PEM-encoded, for
// use with the caching_sha2_password/sha256_password plugins when the
// server's pubkey cannot be fetched over the connection itself.
func RegisterServerPubKey(name string, pubKey *rsa.PublicKey) {
	pubKeyMu.Lock()
	pubKeyRegistry[name] = pubKey
	pubKeyMu.Unlock()
}

// DeregisterServerPubKey removes a previously registered public key.
func DeregisterServerPubKey(name string) {
	pubKeyMu.Lock()
	delete(pubKeyRegistry, name)
	pubKeyMu.Unlock()
}

func getServerPubKey(name string) (pubKey *rsa.PublicKey) {
	pubKeyMu.RLock()
	pubKey = pubKeyRegistry[name]
	pubKeyMu.RUnlock()
	return
}

// parsePKCS1PublicKey decodes a PEM-encoded RSA public key as sent by the
// server during caching_sha2_password/sha256_password authentication.
func parsePKCS1PublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("mysql: no PEM data found in server public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("mysql: server public key is not an RSA key")
	}
	return rsaKey, nil
}
