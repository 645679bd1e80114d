package blockmgr

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Addr is the cookie a block manager hands back from Write and
// requires on Read: enough to locate, size, and verify a block
// without consulting any other structure.
type Addr struct {
	ObjectID uint32
	Offset   uint64 // in allocation units
	Size     uint32 // in allocation units
	Checksum uint32
}

// Invalid reports whether this is the zero-value "no address" cookie,
// used for empty trees and unset Ref slots.
func (a Addr) Invalid() bool {
	return a.ObjectID == 0 && a.Offset == 0 && a.Size == 0
}

func (a Addr) String() string {
	if a.Invalid() {
		return "addr(invalid)"
	}
	return fmt.Sprintf("addr(obj=%d off=%d size=%d csum=%08x)", a.ObjectID, a.Offset, a.Size, a.Checksum)
}

// EncodeAddr serializes a into a varint cookie: {object_id, offset,
// size, checksum}, matching the on-disk/in-Ref wire form.
func EncodeAddr(a Addr) []byte {
	buf := make([]byte, 0, binary.MaxVarintLen64*4)
	var tmp [binary.MaxVarintLen64]byte

	n := binary.PutUvarint(tmp[:], uint64(a.ObjectID))
	buf = append(buf, tmp[:n]...)
	n = binary.PutUvarint(tmp[:], a.Offset)
	buf = append(buf, tmp[:n]...)
	n = binary.PutUvarint(tmp[:], uint64(a.Size))
	buf = append(buf, tmp[:n]...)
	n = binary.PutUvarint(tmp[:], uint64(a.Checksum))
	buf = append(buf, tmp[:n]...)
	return buf
}

// Hex renders a round-trippable encoding of a, for storage in the
// metadata table's string-typed checkpoint record fields. The
// invalid/zero address renders as the empty string.
func (a Addr) Hex() string {
	if a.Invalid() {
		return ""
	}
	return hex.EncodeToString(EncodeAddr(a))
}

// AddrFromHex parses a string produced by Hex; the empty string
// decodes to the invalid/zero Addr.
func AddrFromHex(s string) (Addr, error) {
	if s == "" {
		return Addr{}, nil
	}
	buf, err := hex.DecodeString(s)
	if err != nil {
		return Addr{}, fmt.Errorf("blockmgr: decode address hex: %w", err)
	}
	return DecodeAddr(buf)
}

// DecodeAddr parses a cookie produced by EncodeAddr.
func DecodeAddr(buf []byte) (Addr, error) {
	var a Addr
	objID, n := binary.Uvarint(buf)
	if n <= 0 {
		return a, fmt.Errorf("blockmgr: truncated address cookie (object_id)")
	}
	buf = buf[n:]

	off, n := binary.Uvarint(buf)
	if n <= 0 {
		return a, fmt.Errorf("blockmgr: truncated address cookie (offset)")
	}
	buf = buf[n:]

	size, n := binary.Uvarint(buf)
	if n <= 0 {
		return a, fmt.Errorf("blockmgr: truncated address cookie (size)")
	}
	buf = buf[n:]

	csum, n := binary.Uvarint(buf)
	if n <= 0 {
		return a, fmt.Errorf("blockmgr: truncated address cookie (checksum)")
	}

	a.ObjectID = uint32(objID)
	a.Offset = off
	a.Size = uint32(size)
	a.Checksum = uint32(csum)
	return a, nil
}
