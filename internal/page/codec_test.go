package page

import (
	"bytes"
	"testing"
)

func TestKeyCellRoundTrip(t *testing.T) {
	buf := EncodeKeyCell(nil, 3, []byte("store"))
	cell, rest, err := DecodeKeyCell(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("expected no trailing bytes, got %d", len(rest))
	}
	if cell.PrefixLen != 3 || !bytes.Equal(cell.Data, []byte("store")) {
		t.Fatalf("unexpected cell: %+v", cell)
	}
}

func TestValueCellRoundTrip(t *testing.T) {
	buf := EncodeValueCell(nil, []byte("payload"))
	cell, _, err := DecodeValueCell(buf, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(cell.Data, []byte("payload")) {
		t.Fatalf("unexpected value: %q", cell.Data)
	}
}

func TestModifyCellReplaysEdits(t *testing.T) {
	base := []byte("hello world")
	edits := []ModifyEdit{
		{Offset: 0, Len: 5, Data: []byte("howdy")},
		{Offset: 6, Len: 5, Data: []byte("earth")},
	}
	buf := EncodeModifyCell(nil, edits)
	got, rest, err := DecodeModifyCell(buf, base)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("expected no trailing bytes")
	}
	if string(got) != "howdy earth" {
		t.Fatalf("unexpected replay result: %q", got)
	}
}

func TestAddressCellRoundTrip(t *testing.T) {
	buf := EncodeAddressCell(nil, []byte{1, 2, 3}, []byte("k"))
	addrBytes, firstKey, rest, err := DecodeAddressCell(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("expected no trailing bytes")
	}
	if !bytes.Equal(addrBytes, []byte{1, 2, 3}) || !bytes.Equal(firstKey, []byte("k")) {
		t.Fatalf("unexpected decode: addr=%v key=%q", addrBytes, firstKey)
	}
}

func TestOverflowValueCellRoundTrip(t *testing.T) {
	buf := EncodeOverflowValueCell(nil, []byte{9, 8, 7})
	addrBytes, rest, err := DecodeOverflowValueCell(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("expected no trailing bytes")
	}
	if !bytes.Equal(addrBytes, []byte{9, 8, 7}) {
		t.Fatalf("unexpected address bytes: %v", addrBytes)
	}
}

func TestDelRunCellRoundTrip(t *testing.T) {
	buf := EncodeDelRunCell(nil, 42)
	run, rest, err := DecodeDelRunCell(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if run != 42 || len(rest) != 0 {
		t.Fatalf("unexpected decode: run=%d rest=%d", run, len(rest))
	}
}

func TestCommonPrefixLen(t *testing.T) {
	if got := CommonPrefixLen([]byte("abcdef"), []byte("abcxyz")); got != 3 {
		t.Fatalf("expected prefix length 3, got %d", got)
	}
	if got := CommonPrefixLen([]byte("abc"), []byte("xyz")); got != 0 {
		t.Fatalf("expected prefix length 0, got %d", got)
	}
}
