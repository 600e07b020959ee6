// Go MySQL Driver - A MySQL-Driver for Go's database/sql package
//
// Copyright 2016 The Go-MySQL-Driver Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package mysql

import (
	"sync"
)

// Authenticator implements one server auth plugin (spec §4.4, Authenticator
// registry). InitialResponse computes the auth-response bytes sent in the
// handshake response packet; Continue answers any AuthMoreData/AuthSwitch
// round that the plugin itself requires (e.g. the caching_sha2_password
// full-auth exchange).
type Authenticator interface {
	// InitialResponse returns the bytes to place in the handshake response
	// packet's auth-response field, given the server's scramble/salt.
	InitialResponse(mc *mysqlConn, scramble []byte) ([]byte, error)

	// Continue answers one extra server round (AuthMoreData). data is the
	// payload that followed the 0x01 indicator byte. done reports whether
	// the plugin considers authentication settled from its own point of
	// view (the server still has the final word via OK/ERR).
	Continue(mc *mysqlConn, data []byte) (resp []byte, done bool, err error)
}

var (
	authRegistryMu sync.RWMutex
	authRegistry   = map[string]Authenticator{
		"mysql_native_password":  nativePasswordAuth{},
		"caching_sha2_password":  cachingSHA2Auth{},
		"sha256_password":        sha256PasswordAuth{},
		"mysql_clear_password":   clearPasswordAuth{},
		"client_ed25519":         ed25519Auth{},
	}
)

// RegisterAuthPlugin registers a custom Authenticator under the exact
// plugin name the server will request, replacing any built-in plugin of
// the same name. Registration is copy-on-write so concurrent lookups never
// observe a partially updated map.
func RegisterAuthPlugin(name string, a Authenticator) {
	authRegistryMu.Lock()
	defer authRegistryMu.Unlock()

	next := make(map[string]Authenticator, len(authRegistry)+1)
	for k, v := range authRegistry {
		next[k] = v
	}
	next[name] = a
	authRegistry = next
}

func lookupAuthPlugin(name string) (Authenticator, bool) {
	authRegistryMu.RLock()
	defer authRegistryMu.RUnlock()
	a, ok := authRegistry[name]
	return a, ok
}

// auth computes the initial auth-response for the plugin the server
// requested, falling back per spec §4.4's edge case: an unrecognized
// plugin is a hard authentication failure, not a silent skip.
func (mc *mysqlConn) auth(authData []byte, plugin string) ([]byte, error) {
	a, ok := lookupAuthPlugin(plugin)
	if !ok {
		return nil, &AuthError{Reason: "unknown auth plugin", Err: ErrUnknownPlugin}
	}
	resp, err := a.InitialResponse(mc, authData)
	if err != nil {
		return nil, &AuthError{Reason: plugin, Err: err}
	}
	return resp, nil
}

// handleAuthResult drives the AuthSwitchRequest / AuthMoreData loop until
// the server answers with OK or ERR (spec §4.2, AuthSwitching state).
func (mc *mysqlConn) handleAuthResult(oldAuthData []byte, plugin string) error {
	authData, newPlugin, err := mc.readAuthResult()
	if err != nil {
		return err
	}

	if newPlugin != "" {
		mc.setState(stateAuthSwitching)
		if authData == nil {
			authData = oldAuthData
		} else {
			copy(oldAuthData, authData)
		}

		plugin = newPlugin
		authResp, err := mc.auth(authData, plugin)
		if err != nil {
			return err
		}
		if err = mc.writeAuthSwitchPacket(authResp); err != nil {
			return err
		}

		authData, newPlugin, err = mc.readAuthResult()
		if err != nil {
			return err
		}
		if newPlugin != "" {
			return &AuthError{Reason: "malformed packet", Err: ErrMalformPkt}
		}
	}

	a, ok := lookupAuthPlugin(plugin)
	if !ok {
		return &AuthError{Reason: "unknown auth plugin", Err: ErrUnknownPlugin}
	}

	for authData != nil {
		resp, done, err := a.Continue(mc, authData)
		if err != nil {
			return &AuthError{Reason: plugin, Err: err}
		}
		if resp != nil {
			if err := mc.writeAuthSwitchPacket(resp); err != nil {
				return err
			}
		}
		if done && resp == nil {
			// nothing left to send; still must consume the server's
			// pending OK/ERR before returning.
			if _, _, err := mc.readAuthResult(); err != nil {
				return err
			}
			return nil
		}

		authData, newPlugin, err = mc.readAuthResult()
		if err != nil {
			return err
		}
		if newPlugin != "" {
			return &AuthError{Reason: "unexpected auth switch mid-plugin", Err: ErrMalformPkt}
		}
		if done {
			return nil
		}
	}
	return nil
}
