// Go MySQL Driver - A MySQL-Driver for Go's database/sql package
//
// Copyright 2016 The Go-MySQL-Driver Authors. All rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package mysql

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/tls"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	errInvalidDSNUnescaped       = errors.New("invalid DSN: did you forget to escape a param value?")
	errInvalidDSNAddr            = errors.New("invalid DSN: network address not terminated (missing closing brace)")
	errInvalidDSNNoSlash         = errors.New("invalid DSN: missing the slash separating the database name")
	errInvalidDSNUnsafeCollation = errors.New("invalid DSN: interpolateParams can not be used with unsafe collations")
)

// Config is a configuration parsed from a DSN string. If a new Config is
// created instead of being parsed from a DSN string, NewConfig should be
// used, which sets default values.
type Config struct {
	User   string // database username
	Passwd string // database password (used with User)
	Net    string // network type ("tcp", "tcp6", "unix"; default "tcp")
	Addr   string // address ("127.0.0.1:3306" for tcp, "/tmp/mysql.sock" for unix)
	DBName string // database name

	Params               map[string]string // additional connection parameters
	ConnectionAttributes string            // comma-separated "key:value" pairs
	charsets             []string          // SET NAMES <charset> values to try in order
	Collation            string            // SET NAMES <charset> COLLATE <collation>

	Loc          *time.Location // time zone for time.Time values
	timeTruncate time.Duration  // truncation precision for time.Time values

	MaxAllowedPacket int         // maximum packet size accepted
	ServerPubKey     string      // registered server public key name
	TLSConfig        string      // registered TLS config name
	TLS              *tls.Config // explicit TLS config, takes priority over TLSConfig

	Timeout      time.Duration // dial timeout ("Connection Timeout")
	ReadTimeout  time.Duration // I/O read timeout
	WriteTimeout time.Duration // I/O write timeout

	// CommandTimeout bounds a single command's execution ("Default Command
	// Timeout" in spec §6); zero means no command timeout. It is enforced
	// by the executor (executor.go), not by the session itself.
	CommandTimeout time.Duration

	// CancellationTimeout bounds how long the executor waits for a
	// sidecar KILL QUERY to take effect after CommandTimeout elapses.
	// -1 means skip KILL entirely and poison the session immediately
	// (spec §4.6, §9 Open Question (a)).
	CancellationTimeout time.Duration

	// Pool sizing and recycling ("Pooling", "Minimum/Maximum Pool Size",
	// "Connection Lifetime", "Connection Idle Timeout" in spec §6).
	Pooling               bool
	MinPoolSize           int
	MaxPoolSize           int
	ConnectionLifetime    time.Duration
	ConnectionIdleTimeout time.Duration

	// ConnectionReset controls whether a session is reset (COM_RESET_CONNECTION,
	// falling back per spec §4.2) before being handed back out by the pool.
	ConnectionReset bool

	// LoadBalance names the pool's host-selection policy: "round-robin"
	// (default), "fail-over", "random", or "least-connections" — see
	// pool_balancer.go.
	LoadBalance string

	// GuidFormat controls how a 16-byte binary GUID column is rearranged
	// before being handed to the caller (fields.go).
	GuidFormat GUIDFormat

	// UseCompression enables the CLIENT_COMPRESS zlib envelope
	// (compress.go) once the server advertises support for it.
	UseCompression bool

	Logger   Logger                                                            // error logger
	DialFunc func(ctx context.Context, network, addr string) (net.Conn, error) // custom dialer

	AllowAllFiles            bool // disable the LOAD DATA LOCAL INFILE allowlist
	AllowCleartextPasswords  bool // allow the mysql_clear_password plugin
	AllowFallbackToPlaintext bool // fall back to unencrypted if the server lacks TLS
	AllowNativePasswords     bool // allow mysql_native_password
	AllowOldPasswords        bool // allow the pre-4.1 password scheme (unsupported, kept for DSN compatibility)
	AllowUserVariables       bool // allow user-defined variables ("Allow User Variables")
	AllowZeroDatetime        bool // decode zero dates instead of erroring ("Allow Zero Datetime")
	ConvertZeroDatetime      bool // convert zero dates to Go's zero time.Time ("Convert Zero Datetime")
	CheckConnLiveness        bool // ping idle connections before reuse
	ClientFoundRows          bool // report matched rows instead of changed rows
	ColumnsWithAlias         bool // prefix column names with their table alias
	InterpolateParams        bool // interpolate query parameters client-side
	MultiStatements          bool // allow multiple statements in one query
	ParseTime                bool // decode temporal columns as time.Time
	RejectReadOnly           bool // discard connections that turn out to be read-only

	beforeConnect func(context.Context, *Config) error
	pubKey        *rsa.PublicKey
}

// Option applies to a Config (functional options pattern).
// https://dave.cheney.net/2014/10/17/functional-options-for-friendly-apis
type Option func(*Config) error

// NewConfig creates a new Config and sets default values.
func NewConfig() *Config {
	cfg := &Config{
		Loc:                  time.UTC,
		MaxAllowedPacket:     defaultMaxAllowedPacket,
		Logger:               defaultLogger,
		AllowNativePasswords: true,
		CheckConnLiveness:    true,
		Pooling:              true,
		MinPoolSize:          0,
		MaxPoolSize:          defaultMaxPoolSize,
		ConnectionLifetime:   0,
		ConnectionIdleTimeout: defaultIdleTimeout,
		ConnectionReset:      true,
		LoadBalance:          "round-robin",
		CancellationTimeout:  5 * time.Second,
		GuidFormat:           GUIDString,
	}

	return cfg
}

// Apply applies the given options to the Config object.
func (c *Config) Apply(opts ...Option) error {
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return err
		}
	}
	return nil
}

// TimeTruncate sets the time duration to truncate time.Time values in
// query parameters.
func TimeTruncate(d time.Duration) Option {
	return func(cfg *Config) error {
		cfg.timeTruncate = d
		return nil
	}
}

// BeforeConnect sets the function invoked before a connection is established.
func BeforeConnect(fn func(context.Context, *Config) error) Option {
	return func(cfg *Config) error {
		cfg.beforeConnect = fn
		return nil
	}
}

func (cfg *Config) Clone() *Config {
	cp := *cfg
	if cp.TLS != nil {
		cp.TLS = cfg.TLS.Clone()
	}
	if len(cp.Params) > 0 {
		cp.Params = make(map[string]string, len(cfg.Params))
		for k, v := range cfg.Params {
			cp.Params[k] = v
		}
	}
	if cfg.pubKey != nil {
		cp.pubKey = &rsa.PublicKey{
			N: new(big.Int).Set(cfg.pubKey.N),
			E: cfg.pubKey.E,
		}
	}
	return &cp
}

func (cfg *Config) normalize() error {
	if cfg.InterpolateParams && cfg.Collation != "" && unsafeCollations[cfg.Collation] {
		return errInvalidDSNUnsafeCollation
	}

	if cfg.Net == "" {
		cfg.Net = "tcp"
	}

	if cfg.Addr == "" {
		switch cfg.Net {
		case "tcp":
			cfg.Addr = "127.0.0.1:3306"
		case "unix":
			cfg.Addr = "/tmp/mysql.sock"
		default:
			return errors.New("default addr for network '" + cfg.Net + "' unknown")
		}
	} else if cfg.Net == "tcp" {
		cfg.Addr = ensureHavePort(cfg.Addr)
	}

	if cfg.TLS == nil {
		switch cfg.TLSConfig {
		case "false", "":
			// leave unset
		case "true":
			cfg.TLS = &tls.Config{}
		case "skip-verify":
			cfg.TLS = &tls.Config{InsecureSkipVerify: true}
		case "preferred":
			cfg.TLS = &tls.Config{InsecureSkipVerify: true}
			cfg.AllowFallbackToPlaintext = true
		default:
			cfg.TLS = getTLSConfigClone(cfg.TLSConfig)
			if cfg.TLS == nil {
				return errors.New("invalid value / unknown config name: " + cfg.TLSConfig)
			}
		}
	}

	if cfg.TLS != nil && cfg.TLS.ServerName == "" && !cfg.TLS.InsecureSkipVerify {
		host, _, err := net.SplitHostPort(cfg.Addr)
		if err == nil {
			cfg.TLS.ServerName = host
		}
	}

	if cfg.ServerPubKey != "" {
		cfg.pubKey = getServerPubKey(cfg.ServerPubKey)
		if cfg.pubKey == nil {
			return errors.New("invalid value / unknown server pub key name: " + cfg.ServerPubKey)
		}
	}

	if cfg.Logger == nil {
		cfg.Logger = defaultLogger
	}
	if cfg.MaxPoolSize <= 0 {
		cfg.MaxPoolSize = defaultMaxPoolSize
	}
	if cfg.MinPoolSize > cfg.MaxPoolSize {
		cfg.MinPoolSize = cfg.MaxPoolSize
	}

	return nil
}

func writeDSNParam(buf *bytes.Buffer, hasParam *bool, name, value string) {
	buf.Grow(1 + len(name) + 1 + len(value))
	if !*hasParam {
		*hasParam = true
		buf.WriteByte('?')
	} else {
		buf.WriteByte('&')
	}
	buf.WriteString(name)
	buf.WriteByte('=')
	buf.WriteString(value)
}

// FormatDSN formats the given Config into a DSN string which can be passed
// to the driver.
func (cfg *Config) FormatDSN() string {
	var buf bytes.Buffer

	if len(cfg.User) > 0 {
		buf.WriteString(cfg.User)
		if len(cfg.Passwd) > 0 {
			buf.WriteByte(':')
			buf.WriteString(cfg.Passwd)
		}
		buf.WriteByte('@')
	}

	if len(cfg.Net) > 0 {
		buf.WriteString(cfg.Net)
		if len(cfg.Addr) > 0 {
			buf.WriteByte('(')
			buf.WriteString(cfg.Addr)
			buf.WriteByte(')')
		}
	}

	buf.WriteByte('/')
	buf.WriteString(url.PathEscape(cfg.DBName))

	hasParam := false

	if cfg.AllowAllFiles {
		hasParam = true
		buf.WriteString("?allowAllFiles=true")
	}
	if cfg.AllowCleartextPasswords {
		writeDSNParam(&buf, &hasParam, "allowCleartextPasswords", "true")
	}
	if cfg.AllowFallbackToPlaintext {
		writeDSNParam(&buf, &hasParam, "allowFallbackToPlaintext", "true")
	}
	if !cfg.AllowNativePasswords {
		writeDSNParam(&buf, &hasParam, "allowNativePasswords", "false")
	}
	if cfg.AllowOldPasswords {
		writeDSNParam(&buf, &hasParam, "allowOldPasswords", "true")
	}
	if cfg.AllowUserVariables {
		writeDSNParam(&buf, &hasParam, "allowUserVariables", "true")
	}
	if cfg.AllowZeroDatetime {
		writeDSNParam(&buf, &hasParam, "allowZeroDatetime", "true")
	}
	if cfg.ConvertZeroDatetime {
		writeDSNParam(&buf, &hasParam, "convertZeroDatetime", "true")
	}
	if !cfg.CheckConnLiveness {
		writeDSNParam(&buf, &hasParam, "checkConnLiveness", "false")
	}
	if cfg.ClientFoundRows {
		writeDSNParam(&buf, &hasParam, "clientFoundRows", "true")
	}
	if charsets := cfg.charsets; len(charsets) > 0 {
		writeDSNParam(&buf, &hasParam, "charset", strings.Join(charsets, ","))
	}
	if col := cfg.Collation; col != "" {
		writeDSNParam(&buf, &hasParam, "collation", col)
	}
	if cfg.ColumnsWithAlias {
		writeDSNParam(&buf, &hasParam, "columnsWithAlias", "true")
	}
	if cfg.InterpolateParams {
		writeDSNParam(&buf, &hasParam, "interpolateParams", "true")
	}
	if cfg.Loc != time.UTC && cfg.Loc != nil {
		writeDSNParam(&buf, &hasParam, "loc", url.QueryEscape(cfg.Loc.String()))
	}
	if cfg.MultiStatements {
		writeDSNParam(&buf, &hasParam, "multiStatements", "true")
	}
	if cfg.ParseTime {
		writeDSNParam(&buf, &hasParam, "parseTime", "true")
	}
	if cfg.timeTruncate > 0 {
		writeDSNParam(&buf, &hasParam, "timeTruncate", cfg.timeTruncate.String())
	}
	if cfg.ReadTimeout > 0 {
		writeDSNParam(&buf, &hasParam, "readTimeout", cfg.ReadTimeout.String())
	}
	if cfg.RejectReadOnly {
		writeDSNParam(&buf, &hasParam, "rejectReadOnly", "true")
	}
	if len(cfg.ServerPubKey) > 0 {
		writeDSNParam(&buf, &hasParam, "serverPubKey", url.QueryEscape(cfg.ServerPubKey))
	}
	if cfg.Timeout > 0 {
		writeDSNParam(&buf, &hasParam, "timeout", cfg.Timeout.String())
	}
	if len(cfg.TLSConfig) > 0 {
		writeDSNParam(&buf, &hasParam, "tls", url.QueryEscape(cfg.TLSConfig))
	}
	if cfg.WriteTimeout > 0 {
		writeDSNParam(&buf, &hasParam, "writeTimeout", cfg.WriteTimeout.String())
	}
	if cfg.MaxAllowedPacket != defaultMaxAllowedPacket {
		writeDSNParam(&buf, &hasParam, "maxAllowedPacket", strconv.Itoa(cfg.MaxAllowedPacket))
	}
	if !cfg.Pooling {
		writeDSNParam(&buf, &hasParam, "pooling", "false")
	}
	if cfg.MinPoolSize != 0 {
		writeDSNParam(&buf, &hasParam, "minPoolSize", strconv.Itoa(cfg.MinPoolSize))
	}
	if cfg.MaxPoolSize != defaultMaxPoolSize {
		writeDSNParam(&buf, &hasParam, "maxPoolSize", strconv.Itoa(cfg.MaxPoolSize))
	}
	if cfg.ConnectionLifetime > 0 {
		writeDSNParam(&buf, &hasParam, "connectionLifetime", cfg.ConnectionLifetime.String())
	}
	if cfg.ConnectionIdleTimeout != defaultIdleTimeout {
		writeDSNParam(&buf, &hasParam, "connectionIdleTimeout", cfg.ConnectionIdleTimeout.String())
	}
	if !cfg.ConnectionReset {
		writeDSNParam(&buf, &hasParam, "connectionReset", "false")
	}
	if cfg.LoadBalance != "" && cfg.LoadBalance != "round-robin" {
		writeDSNParam(&buf, &hasParam, "loadBalance", cfg.LoadBalance)
	}
	if cfg.CommandTimeout > 0 {
		writeDSNParam(&buf, &hasParam, "commandTimeout", cfg.CommandTimeout.String())
	}
	if cfg.CancellationTimeout != 5*time.Second {
		writeDSNParam(&buf, &hasParam, "cancellationTimeout", cfg.CancellationTimeout.String())
	}
	if cfg.GuidFormat != GUIDString {
		writeDSNParam(&buf, &hasParam, "guidFormat", strconv.Itoa(int(cfg.GuidFormat)))
	}
	if cfg.UseCompression {
		writeDSNParam(&buf, &hasParam, "useCompression", "true")
	}

	if cfg.Params != nil {
		var params []string
		for param := range cfg.Params {
			params = append(params, param)
		}
		sort.Strings(params)
		for _, param := range params {
			writeDSNParam(&buf, &hasParam, param, url.QueryEscape(cfg.Params[param]))
		}
	}

	return buf.String()
}

// ParseDSN parses the DSN string into a Config.
// [user[:password]@][net[(addr)]]/dbname[?param1=value1&paramN=valueN]
func ParseDSN(dsn string) (cfg *Config, err error) {
	cfg = NewConfig()

	foundSlash := false
	for i := len(dsn) - 1; i >= 0; i-- {
		if dsn[i] == '/' {
			foundSlash = true
			var j, k int

			if i > 0 {
				for j = i; j >= 0; j-- {
					if dsn[j] == '@' {
						for k = 0; k < j; k++ {
							if dsn[k] == ':' {
								cfg.Passwd = dsn[k+1 : j]
								break
							}
						}
						cfg.User = dsn[:k]
						break
					}
				}

				for k = j + 1; k < i; k++ {
					if dsn[k] == '(' {
						if dsn[i-1] != ')' {
							if strings.ContainsRune(dsn[k+1:i], ')') {
								return nil, errInvalidDSNUnescaped
							}
							return nil, errInvalidDSNAddr
						}
						cfg.Addr = dsn[k+1 : i-1]
						break
					}
				}
				cfg.Net = dsn[j+1 : k]
			}

			for j = i + 1; j < len(dsn); j++ {
				if dsn[j] == '?' {
					if err = parseDSNParams(cfg, dsn[j+1:]); err != nil {
						return
					}
					break
				}
			}

			dbname := dsn[i+1 : j]
			if cfg.DBName, err = url.PathUnescape(dbname); err != nil {
				return nil, fmt.Errorf("invalid dbname %q: %w", dbname, err)
			}

			break
		}
	}

	if !foundSlash && len(dsn) > 0 {
		return nil, errInvalidDSNNoSlash
	}

	if err = cfg.normalize(); err != nil {
		return nil, err
	}
	return
}

// parseDSNParams parses the DSN "query string". Values must be
// url.QueryEscape'd.
func parseDSNParams(cfg *Config, params string) (err error) {
	for _, v := range strings.Split(params, "&") {
		key, value, found := strings.Cut(v, "=")
		if !found {
			continue
		}

		switch key {
		case "allowAllFiles":
			if cfg.AllowAllFiles, err = requireBool(value); err != nil {
				return err
			}

		case "allowCleartextPasswords":
			if cfg.AllowCleartextPasswords, err = requireBool(value); err != nil {
				return err
			}

		case "allowFallbackToPlaintext":
			if cfg.AllowFallbackToPlaintext, err = requireBool(value); err != nil {
				return err
			}

		case "allowNativePasswords":
			if cfg.AllowNativePasswords, err = requireBool(value); err != nil {
				return err
			}

		case "allowOldPasswords":
			if cfg.AllowOldPasswords, err = requireBool(value); err != nil {
				return err
			}

		case "allowUserVariables":
			if cfg.AllowUserVariables, err = requireBool(value); err != nil {
				return err
			}

		case "allowZeroDatetime":
			if cfg.AllowZeroDatetime, err = requireBool(value); err != nil {
				return err
			}

		case "convertZeroDatetime":
			if cfg.ConvertZeroDatetime, err = requireBool(value); err != nil {
				return err
			}

		case "checkConnLiveness":
			if cfg.CheckConnLiveness, err = requireBool(value); err != nil {
				return err
			}

		case "clientFoundRows":
			if cfg.ClientFoundRows, err = requireBool(value); err != nil {
				return err
			}

		case "charset":
			cfg.charsets = strings.Split(value, ",")

		case "collation":
			cfg.Collation = value

		case "columnsWithAlias":
			if cfg.ColumnsWithAlias, err = requireBool(value); err != nil {
				return err
			}

		case "useCompression":
			if cfg.UseCompression, err = requireBool(value); err != nil {
				return err
			}

		case "interpolateParams":
			if cfg.InterpolateParams, err = requireBool(value); err != nil {
				return err
			}

		case "loc":
			if value, err = url.QueryUnescape(value); err != nil {
				return
			}
			cfg.Loc, err = time.LoadLocation(value)
			if err != nil {
				return
			}

		case "multiStatements":
			if cfg.MultiStatements, err = requireBool(value); err != nil {
				return err
			}

		case "parseTime":
			if cfg.ParseTime, err = requireBool(value); err != nil {
				return err
			}

		case "timeTruncate":
			cfg.timeTruncate, err = time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid timeTruncate value: %v, error: %w", value, err)
			}

		case "readTimeout":
			cfg.ReadTimeout, err = time.ParseDuration(value)
			if err != nil {
				return
			}

		case "rejectReadOnly":
			if cfg.RejectReadOnly, err = requireBool(value); err != nil {
				return err
			}

		case "serverPubKey":
			name, uerr := url.QueryUnescape(value)
			if uerr != nil {
				return fmt.Errorf("invalid value for server pub key name: %v", uerr)
			}
			cfg.ServerPubKey = name

		case "strict":
			panic("strict mode has been removed. See https://github.com/go-sql-driver/mysql/wiki/strict-mode")

		case "timeout":
			cfg.Timeout, err = time.ParseDuration(value)
			if err != nil {
				return
			}

		case "commandTimeout":
			cfg.CommandTimeout, err = time.ParseDuration(value)
			if err != nil {
				return
			}

		case "cancellationTimeout":
			if value == "-1" || value == "-1s" {
				cfg.CancellationTimeout = -1
				break
			}
			cfg.CancellationTimeout, err = time.ParseDuration(value)
			if err != nil {
				return
			}

		case "pooling":
			if cfg.Pooling, err = requireBool(value); err != nil {
				return err
			}

		case "minPoolSize":
			cfg.MinPoolSize, err = strconv.Atoi(value)
			if err != nil {
				return
			}

		case "maxPoolSize":
			cfg.MaxPoolSize, err = strconv.Atoi(value)
			if err != nil {
				return
			}

		case "connectionLifetime":
			cfg.ConnectionLifetime, err = time.ParseDuration(value)
			if err != nil {
				return
			}

		case "connectionIdleTimeout":
			cfg.ConnectionIdleTimeout, err = time.ParseDuration(value)
			if err != nil {
				return
			}

		case "connectionReset":
			if cfg.ConnectionReset, err = requireBool(value); err != nil {
				return err
			}

		case "loadBalance":
			cfg.LoadBalance = value

		case "guidFormat":
			var n int
			n, err = strconv.Atoi(value)
			if err != nil {
				return
			}
			cfg.GuidFormat = GUIDFormat(n)

		case "tls":
			boolValue, isBool := readBool(value)
			if isBool {
				if boolValue {
					cfg.TLSConfig = "true"
				} else {
					cfg.TLSConfig = "false"
				}
			} else if vl := strings.ToLower(value); vl == "skip-verify" || vl == "preferred" {
				cfg.TLSConfig = vl
			} else {
				name, uerr := url.QueryUnescape(value)
				if uerr != nil {
					return fmt.Errorf("invalid value for TLS config name: %v", uerr)
				}
				cfg.TLSConfig = name
			}

		case "writeTimeout":
			cfg.WriteTimeout, err = time.ParseDuration(value)
			if err != nil {
				return
			}

		case "maxAllowedPacket":
			cfg.MaxAllowedPacket, err = strconv.Atoi(value)
			if err != nil {
				return
			}

		case "connectionAttributes":
			connectionAttributes, uerr := url.QueryUnescape(value)
			if uerr != nil {
				return fmt.Errorf("invalid connectionAttributes value: %v", uerr)
			}
			cfg.ConnectionAttributes = connectionAttributes

		default:
			if cfg.Params == nil {
				cfg.Params = make(map[string]string)
			}
			if cfg.Params[key], err = url.QueryUnescape(value); err != nil {
				return
			}
		}
	}

	return
}

func ensureHavePort(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return net.JoinHostPort(addr, "3306")
	}
	return addr
}

// readBool parses "1"/"0" and "true"/"false" in lower, upper or title case
// ("true", "TRUE", "True"), reporting whether the value was recognized at all.
func readBool(value string) (bool, bool) {
	switch value {
	case "1", "true", "TRUE", "True":
		return true, true
	case "0", "false", "FALSE", "False":
		return false, true
	}
	return false, false
}

// requireBool is readBool for call sites where an unrecognized value is a
// hard DSN parse error rather than "unset".
func requireBool(value string) (bool, error) {
	b, ok := readBool(value)
	if !ok {
		return false, errors.New("invalid bool value: " + value)
	}
	return b, nil
}
