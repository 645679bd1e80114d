package extentlist

import (
	"encoding/binary"
	"fmt"
)

// Encode serializes extents (expected sorted by offset, as Snapshot
// already returns them) as name-prefixed, sentinel-terminated varint
// pairs: a length-prefixed name, then one (offset, size) varint pair
// per extent in ascending offset order, ending with the (0,0)
// sentinel. Role is not persisted: a reloaded list only ever holds
// RoleFree extents, reconstructed via LoadLists.
func Encode(name string, extents []Extent) []byte {
	buf := make([]byte, 0, len(name)+8+len(extents)*2*binary.MaxVarintLen64)
	var tmp [binary.MaxVarintLen64]byte

	n := binary.PutUvarint(tmp[:], uint64(len(name)))
	buf = append(buf, tmp[:n]...)
	buf = append(buf, name...)

	for _, e := range extents {
		n := binary.PutUvarint(tmp[:], e.Off)
		buf = append(buf, tmp[:n]...)
		n = binary.PutUvarint(tmp[:], e.Size)
		buf = append(buf, tmp[:n]...)
	}

	n = binary.PutUvarint(tmp[:], 0)
	buf = append(buf, tmp[:n]...)
	buf = append(buf, tmp[:n]...) // (0,0) sentinel

	return buf
}

// Decode parses a block produced by Encode back into a name and its
// extents, every one tagged role.
func Decode(buf []byte, role Role) (name string, extents []Extent, err error) {
	nameLen, n := binary.Uvarint(buf)
	if n <= 0 {
		return "", nil, fmt.Errorf("extentlist: truncated block (name length)")
	}
	buf = buf[n:]
	if uint64(len(buf)) < nameLen {
		return "", nil, fmt.Errorf("extentlist: truncated block (name)")
	}
	name = string(buf[:nameLen])
	buf = buf[nameLen:]

	for {
		off, n := binary.Uvarint(buf)
		if n <= 0 {
			return "", nil, fmt.Errorf("extentlist: truncated block (offset)")
		}
		buf = buf[n:]

		size, n := binary.Uvarint(buf)
		if n <= 0 {
			return "", nil, fmt.Errorf("extentlist: truncated block (size)")
		}
		buf = buf[n:]

		if off == 0 && size == 0 {
			break
		}
		extents = append(extents, Extent{Off: off, Size: size, Role: role})
	}

	return name, extents, nil
}
