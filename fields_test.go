package mysql

import (
	"bytes"
	"testing"
)

func TestDecodeGUIDStringIsNoOp(t *testing.T) {
	b := []byte("36-char-dashed-string-placeholder!!")
	got := decodeGUID(b, GUIDString)
	if !bytes.Equal(got, b) {
		t.Fatalf("expected GUIDString to pass bytes through unchanged")
	}
}

func TestDecodeGUIDBinaryBigEndianIsIdentity(t *testing.T) {
	b := make([]byte, 16)
	for i := range b {
		b[i] = byte(i)
	}
	got := decodeGUID(b, GUIDBinaryBigEndian)
	if !bytes.Equal(got, b) {
		t.Fatalf("big-endian GUID should be unchanged: got %x want %x", got, b)
	}
}

func TestDecodeGUIDLittleEndianSwapsTimeFields(t *testing.T) {
	b := []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 8, 9, 10, 11, 12, 13, 14, 15}
	got := decodeGUID(b, GUIDBinaryLittleEndian)
	want := []byte{0x03, 0x02, 0x01, 0x00, 0x05, 0x04, 0x07, 0x06, 8, 9, 10, 11, 12, 13, 14, 15}
	if !bytes.Equal(got, want) {
		t.Fatalf("little-endian GUID mismatch:\ngot  %x\nwant %x", got, want)
	}
}

func TestDecodeGUIDWrongLengthPassesThrough(t *testing.T) {
	b := []byte("not sixteen bytes")
	got := decodeGUID(b, GUIDBinaryLittleEndian)
	if !bytes.Equal(got, b) {
		t.Fatalf("expected pass-through for non-16-byte input")
	}
}

func TestColumnToColumnReflectsUnsignedAndNullable(t *testing.T) {
	f := &mysqlField{
		name:      "id",
		tableName: "widgets",
		fieldType: fieldTypeLong,
		flags:     flagUnsigned,
	}
	col := f.toColumn()
	if !col.Unsigned {
		t.Fatal("expected Unsigned to be true")
	}
	if !col.Nullable {
		t.Fatal("expected Nullable to be true when flagNotNULL is unset")
	}

	f.flags |= flagNotNULL
	col = f.toColumn()
	if col.Nullable {
		t.Fatal("expected Nullable to be false when flagNotNULL is set")
	}
}
