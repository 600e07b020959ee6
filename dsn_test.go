package mysql

import (
	"testing"
	"time"
)

func TestParseDSNBasic(t *testing.T) {
	cfg, err := ParseDSN("root:p@ssw0rd@tcp(127.0.0.1:3306)/testdb")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.User != "root" || cfg.Passwd != "p@ssw0rd" {
		t.Fatalf("got user=%q passwd=%q", cfg.User, cfg.Passwd)
	}
	if cfg.Net != "tcp" || cfg.Addr != "127.0.0.1:3306" {
		t.Fatalf("got net=%q addr=%q", cfg.Net, cfg.Addr)
	}
	if cfg.DBName != "testdb" {
		t.Fatalf("got dbname=%q", cfg.DBName)
	}
}

// TestParseDSNPoolAndTimeoutKeys exercises the spec §6 connection-string
// surface keys this spec added on top of the teacher's DSN grammar: pool
// sizing, recycling, load balance, and the two timeout budgets.
func TestParseDSNPoolAndTimeoutKeys(t *testing.T) {
	dsn := "root:secret@tcp(db1:3306,db2:3306)/app?" +
		"minPoolSize=2&maxPoolSize=20&connectionLifetime=1h&connectionIdleTimeout=5m" +
		"&connectionReset=false&loadBalance=least-connections" +
		"&commandTimeout=30s&cancellationTimeout=2s&guidFormat=2"

	cfg, err := ParseDSN(dsn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MinPoolSize != 2 {
		t.Errorf("MinPoolSize: got %d, want 2", cfg.MinPoolSize)
	}
	if cfg.MaxPoolSize != 20 {
		t.Errorf("MaxPoolSize: got %d, want 20", cfg.MaxPoolSize)
	}
	if cfg.ConnectionLifetime != time.Hour {
		t.Errorf("ConnectionLifetime: got %v, want 1h", cfg.ConnectionLifetime)
	}
	if cfg.ConnectionIdleTimeout != 5*time.Minute {
		t.Errorf("ConnectionIdleTimeout: got %v, want 5m", cfg.ConnectionIdleTimeout)
	}
	if cfg.ConnectionReset {
		t.Error("ConnectionReset: expected false")
	}
	if cfg.LoadBalance != "least-connections" {
		t.Errorf("LoadBalance: got %q", cfg.LoadBalance)
	}
	if cfg.CommandTimeout != 30*time.Second {
		t.Errorf("CommandTimeout: got %v, want 30s", cfg.CommandTimeout)
	}
	if cfg.CancellationTimeout != 2*time.Second {
		t.Errorf("CancellationTimeout: got %v, want 2s", cfg.CancellationTimeout)
	}
	if cfg.GuidFormat != GUIDBinaryLittleEndian {
		t.Errorf("GuidFormat: got %v, want GUIDBinaryLittleEndian", cfg.GuidFormat)
	}
}

// TestParseDSNCancellationTimeoutMinusOne covers spec §4.6's "no KILL is
// sent" escape hatch.
func TestParseDSNCancellationTimeoutMinusOne(t *testing.T) {
	cfg, err := ParseDSN("root:secret@tcp(127.0.0.1:3306)/app?cancellationTimeout=-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.CancellationTimeout != -1 {
		t.Fatalf("got %v, want -1", cfg.CancellationTimeout)
	}
}

func TestFormatDSNRoundTripsPoolSettings(t *testing.T) {
	cfg := NewConfig()
	cfg.User = "root"
	cfg.Passwd = "secret"
	cfg.Net = "tcp"
	cfg.Addr = "127.0.0.1:3306"
	cfg.DBName = "app"
	cfg.MinPoolSize = 3
	cfg.MaxPoolSize = 50
	cfg.ConnectionLifetime = 2 * time.Hour
	cfg.LoadBalance = "fail-over"
	cfg.CommandTimeout = 10 * time.Second

	dsn := cfg.FormatDSN()

	reparsed, err := ParseDSN(dsn)
	if err != nil {
		t.Fatalf("FormatDSN produced an unparseable DSN %q: %v", dsn, err)
	}
	if reparsed.MinPoolSize != cfg.MinPoolSize {
		t.Errorf("MinPoolSize: got %d, want %d", reparsed.MinPoolSize, cfg.MinPoolSize)
	}
	if reparsed.MaxPoolSize != cfg.MaxPoolSize {
		t.Errorf("MaxPoolSize: got %d, want %d", reparsed.MaxPoolSize, cfg.MaxPoolSize)
	}
	if reparsed.ConnectionLifetime != cfg.ConnectionLifetime {
		t.Errorf("ConnectionLifetime: got %v, want %v", reparsed.ConnectionLifetime, cfg.ConnectionLifetime)
	}
	if reparsed.LoadBalance != cfg.LoadBalance {
		t.Errorf("LoadBalance: got %q, want %q", reparsed.LoadBalance, cfg.LoadBalance)
	}
	if reparsed.CommandTimeout != cfg.CommandTimeout {
		t.Errorf("CommandTimeout: got %v, want %v", reparsed.CommandTimeout, cfg.CommandTimeout)
	}
}

func TestPoolKeyEqualForEquivalentDSNs(t *testing.T) {
	a, err := ParseDSN("root:secret@tcp(127.0.0.1:3306)/app")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := ParseDSN("root:secret@tcp(127.0.0.1:3306)/app?readTimeout=5s")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if newPoolKey(a) != newPoolKey(b) {
		t.Fatal("expected two DSNs differing only in a non-pool-identity key to share a PoolKey")
	}
}

func TestPoolKeyDiffersByDatabase(t *testing.T) {
	a, err := ParseDSN("root:secret@tcp(127.0.0.1:3306)/app1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := ParseDSN("root:secret@tcp(127.0.0.1:3306)/app2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if newPoolKey(a) == newPoolKey(b) {
		t.Fatal("expected two DSNs with different databases to have distinct PoolKeys")
	}
}

func TestPoolKeyNeverStoresPlaintextPassword(t *testing.T) {
	cfg, err := ParseDSN("root:p@ssw0rd@tcp(127.0.0.1:3306)/app")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	key := newPoolKey(cfg)
	if key.passwdHash == cfg.Passwd {
		t.Fatal("PoolKey must not store the plaintext password")
	}
	if len(key.passwdHash) != 64 { // hex-encoded SHA256
		t.Fatalf("expected a 64-char hex SHA256 digest, got %d chars", len(key.passwdHash))
	}
}
