package mysql

import (
	"bytes"
	"testing"
)

// TestLengthEncodedIntegerRoundTrip verifies spec §8 invariant 2: encode/
// decode of a length-encoded integer is a bijection on [0, 2^64).
func TestLengthEncodedIntegerRoundTrip(t *testing.T) {
	values := []uint64{
		0, 1, 250, 251, 252, 65535, 65536,
		1<<24 - 1, 1 << 24, 1<<32 - 1, 1 << 32,
		1<<64 - 1,
	}
	for _, v := range values {
		encoded := appendLengthEncodedInteger(nil, v)
		got, isNull, n := readLengthEncodedInteger(encoded)
		if isNull {
			t.Fatalf("value %d: unexpected NULL marker", v)
		}
		if n != len(encoded) {
			t.Fatalf("value %d: consumed %d bytes, encoded length is %d", v, n, len(encoded))
		}
		if got != v {
			t.Fatalf("round-trip mismatch: encoded %d, decoded %d", v, got)
		}
	}
}

func TestLengthEncodedIntegerNullMarker(t *testing.T) {
	_, isNull, n := readLengthEncodedInteger([]byte{0xfb, 0xAA})
	if !isNull {
		t.Fatal("expected NULL marker for 0xfb")
	}
	if n != 1 {
		t.Fatalf("expected 1 byte consumed for NULL marker, got %d", n)
	}
}

func TestLengthEncodedIntegerBoundaries(t *testing.T) {
	cases := []struct {
		n       uint64
		wantLen int
	}{
		{0, 1},
		{250, 1},
		{251, 3},
		{1<<16 - 1, 3},
		{1 << 16, 4},
		{1<<24 - 1, 4},
		{1 << 24, 9},
	}
	for _, c := range cases {
		got := appendLengthEncodedInteger(nil, c.n)
		if len(got) != c.wantLen {
			t.Errorf("appendLengthEncodedInteger(%d): got length %d, want %d", c.n, len(got), c.wantLen)
		}
	}
}

func TestLengthEncodedStringRoundTrip(t *testing.T) {
	want := "hello, mysql"
	encoded := appendLengthEncodedString(nil, want)

	got, isNull, n, err := readLengthEncodedString(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if isNull {
		t.Fatal("unexpected NULL")
	}
	if n != len(encoded) {
		t.Fatalf("consumed %d bytes, want %d", n, len(encoded))
	}
	if !bytes.Equal(got, []byte(want)) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestLengthEncodedStringTruncated(t *testing.T) {
	encoded := appendLengthEncodedString(nil, "truncated-me")
	_, _, _, err := readLengthEncodedString(encoded[:2])
	if err != ErrMalformPkt {
		t.Fatalf("expected ErrMalformPkt for truncated input, got %v", err)
	}
}

func TestEscapeBytesBackslash(t *testing.T) {
	in := []byte("a'b\"c\\d\x00e\ne\rf\x1af")
	out := escapeBytesBackslash(nil, in)
	// every byte that needed escaping should now be preceded by a backslash
	if bytes.Contains(out, []byte("'")) && !bytes.Contains(out, []byte(`\'`)) {
		t.Fatalf("single quote not escaped: %q", out)
	}
	if !bytes.Contains(out, []byte(`\'`)) || !bytes.Contains(out, []byte(`\"`)) {
		t.Fatalf("expected escaped quotes in %q", out)
	}
}

func TestEscapeBytesQuotes(t *testing.T) {
	in := []byte("it's a test")
	out := escapeBytesQuotes(nil, in)
	if !bytes.Contains(out, []byte("''")) {
		t.Fatalf("expected doubled single quote in %q", out)
	}
}
