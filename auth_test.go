package mysql

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/tls"
	"errors"
	"testing"
)

func testConnWithPassword(password string) *mysqlConn {
	cfg := NewConfig()
	cfg.Passwd = password
	return &mysqlConn{cfg: cfg}
}

// referenceScrambleSHA1 independently reproduces mysql_native_password's
// algorithm (SHA1(password) XOR SHA1(scramble + SHA1(SHA1(password)))) to
// check scrambleSHA1Password against, rather than against itself.
func referenceScrambleSHA1(scramble []byte, password string) []byte {
	stage1 := sha1.Sum([]byte(password))
	h := sha1.New()
	h.Write(stage1[:])
	stage2 := h.Sum(nil)

	h.Reset()
	h.Write(scramble)
	h.Write(stage2)
	out := h.Sum(nil)

	for i := range out {
		out[i] ^= stage1[i]
	}
	return out
}

func TestNativePasswordScramble(t *testing.T) {
	scramble := []byte("01234567890123456789")[:8]
	want := referenceScrambleSHA1(scramble, "p@ssw0rd")
	got := scrambleSHA1Password(scramble, "p@ssw0rd")
	if !bytes.Equal(got, want) {
		t.Fatalf("scrambleSHA1Password mismatch:\ngot  %x\nwant %x", got, want)
	}
	if len(got) != 20 {
		t.Fatalf("expected 20-byte SHA1 digest, got %d bytes", len(got))
	}
}

func TestNativePasswordScrambleIsDeterministic(t *testing.T) {
	scramble := []byte("abcdefgh")
	a := scrambleSHA1Password(scramble, "hunter2")
	b := scrambleSHA1Password(scramble, "hunter2")
	if !bytes.Equal(a, b) {
		t.Fatal("expected identical input to produce identical output")
	}
}

func TestNativePasswordScrambleDiffersByPassword(t *testing.T) {
	scramble := []byte("abcdefgh")
	a := scrambleSHA1Password(scramble, "hunter2")
	b := scrambleSHA1Password(scramble, "hunter3")
	if bytes.Equal(a, b) {
		t.Fatal("expected different passwords to produce different scrambles")
	}
}

func TestNativePasswordAuthRequiresAllowNativePasswords(t *testing.T) {
	mc := testConnWithPassword("secret")
	mc.cfg.AllowNativePasswords = false
	_, err := nativePasswordAuth{}.InitialResponse(mc, []byte("01234567"))
	if err != ErrNativePwd {
		t.Fatalf("expected ErrNativePwd, got %v", err)
	}
}

func TestNativePasswordAuthEmptyPassword(t *testing.T) {
	mc := testConnWithPassword("")
	resp, err := nativePasswordAuth{}.InitialResponse(mc, []byte("01234567"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != nil {
		t.Fatalf("expected nil response for empty password, got %x", resp)
	}
}

// referenceScrambleSHA256 independently reproduces caching_sha2_password's
// fast-path algorithm.
func referenceScrambleSHA256(scramble []byte, password string) []byte {
	stage1 := sha256.Sum256([]byte(password))
	stage2 := sha256.Sum256(stage1[:])

	h := sha256.New()
	h.Write(stage2[:])
	h.Write(scramble)
	out := h.Sum(nil)

	for i := range out {
		out[i] ^= stage1[i]
	}
	return out
}

func TestCachingSHA2FastPathScramble(t *testing.T) {
	scramble := []byte("01234567")
	want := referenceScrambleSHA256(scramble, "p@ssw0rd")
	got := scrambleSHA256Password(scramble, "p@ssw0rd")
	if !bytes.Equal(got, want) {
		t.Fatalf("scrambleSHA256Password mismatch:\ngot  %x\nwant %x", got, want)
	}
	if len(got) != 32 {
		t.Fatalf("expected 32-byte SHA256 digest, got %d bytes", len(got))
	}
}

func TestCachingSHA2FastAuthSuccessNeedsNoContinuation(t *testing.T) {
	mc := testConnWithPassword("p@ssw0rd")
	resp, done, err := cachingSHA2Auth{}.Continue(mc, []byte{cachingSha2PasswordFastAuthSuccess})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !done {
		t.Fatal("expected done=true on fast-auth-success")
	}
	if resp != nil {
		t.Fatalf("expected nil response on fast-auth-success, got %x", resp)
	}
}

func TestCachingSHA2FullAuthOverTLSSendsCleartext(t *testing.T) {
	mc := testConnWithPassword("p@ssw0rd")
	mc.scrambleForFullAuth = []byte("01234567")
	mc.cfg.TLS = &tls.Config{}
	resp, done, err := cachingSHA2Auth{}.Continue(mc, []byte{cachingSha2PasswordPerformFullAuthentication})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if done {
		t.Fatal("full-auth response is not itself terminal; the server still answers OK/ERR")
	}
	want := append([]byte("p@ssw0rd"), 0)
	if !bytes.Equal(resp, want) {
		t.Fatalf("expected cleartext password over TLS, got %x want %x", resp, want)
	}
}

func TestCachingSHA2ContinueRejectsMalformedIndicator(t *testing.T) {
	mc := testConnWithPassword("p@ssw0rd")
	_, _, err := cachingSHA2Auth{}.Continue(mc, []byte{0x99})
	if err != ErrMalformPkt {
		t.Fatalf("expected ErrMalformPkt, got %v", err)
	}
}

func TestClearPasswordAuthRequiresOptIn(t *testing.T) {
	mc := testConnWithPassword("secret")
	mc.cfg.AllowCleartextPasswords = false
	_, err := clearPasswordAuth{}.InitialResponse(mc, nil)
	if err != ErrCleartextPwd {
		t.Fatalf("expected ErrCleartextPwd, got %v", err)
	}
}

func TestClearPasswordAuthAppendsNulTerminator(t *testing.T) {
	mc := testConnWithPassword("secret")
	mc.cfg.AllowCleartextPasswords = true
	resp, err := clearPasswordAuth{}.InitialResponse(mc, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := append([]byte("secret"), 0)
	if !bytes.Equal(resp, want) {
		t.Fatalf("got %x, want %x", resp, want)
	}
}

func TestAuthRegistryLookupUnknownPlugin(t *testing.T) {
	mc := testConnWithPassword("secret")
	_, err := mc.auth([]byte("01234567"), "totally_unheard_of_plugin")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %v (%T)", err, err)
	}
}

func TestRegisterAuthPluginOverridesBuiltin(t *testing.T) {
	called := false
	RegisterAuthPlugin("mysql_native_password", fakeAuthenticator{
		onInitial: func() { called = true },
	})
	defer RegisterAuthPlugin("mysql_native_password", nativePasswordAuth{})

	mc := testConnWithPassword("secret")
	if _, err := mc.auth([]byte("01234567"), "mysql_native_password"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected the registered override to be invoked")
	}
}

type fakeAuthenticator struct {
	onInitial func()
}

func (f fakeAuthenticator) InitialResponse(mc *mysqlConn, scramble []byte) ([]byte, error) {
	if f.onInitial != nil {
		f.onInitial()
	}
	return []byte("fake"), nil
}

func (f fakeAuthenticator) Continue(mc *mysqlConn, data []byte) ([]byte, bool, error) {
	return nil, true, nil
}
