package blockmgr

import "testing"

func TestAddrEncodeDecodeRoundTrip(t *testing.T) {
	a := Addr{ObjectID: 3, Offset: 123456, Size: 8, Checksum: 0xDEADBEEF}
	buf := EncodeAddr(a)
	got, err := DecodeAddr(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != a {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, a)
	}
}

func TestAddrInvalid(t *testing.T) {
	var a Addr
	if !a.Invalid() {
		t.Fatalf("zero-value address should be invalid")
	}
	a.Offset = 1
	if a.Invalid() {
		t.Fatalf("address with non-zero offset should be valid")
	}
}
