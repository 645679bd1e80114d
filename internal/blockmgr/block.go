package blockmgr

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// headerSize is the on-disk block header: disk_size:u32LE |
// checksum:u32LE | flags:u8 | reserved:u8[3].
const headerSize = 12

const (
	flagCompressed byte = 1 << 0
	flagEncrypted  byte = 1 << 1
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Corruption reports a checksum or structural failure reading a block;
// per the error taxonomy this is fatal for the containing object.
type Corruption struct {
	Addr Addr
	Msg  string
}

func (e *Corruption) Error() string {
	return fmt.Sprintf("blockmgr: corruption at %s: %s", e.Addr, e.Msg)
}

// encodeBlock prepends the header to payload, computing the checksum
// over header-with-zeroed-checksum-field + payload, matching the
// on-disk wire format in full.
func encodeBlock(payload []byte, compressed bool) []byte {
	out := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(payload)))
	var flags byte
	if compressed {
		flags |= flagCompressed
	}
	out[8] = flags
	copy(out[headerSize:], payload)

	csum := crc32.Checksum(out[8:], castagnoli) // flags+reserved+payload, checksum field stays zero
	binary.LittleEndian.PutUint32(out[4:8], csum)
	return out
}

// decodeBlock validates the header checksum and returns the payload
// slice and whether the payload is compressed.
func decodeBlock(raw []byte, addr Addr) (payload []byte, compressed bool, err error) {
	if len(raw) < headerSize {
		return nil, false, &Corruption{Addr: addr, Msg: "block shorter than header"}
	}
	diskSize := binary.LittleEndian.Uint32(raw[0:4])
	wantCsum := binary.LittleEndian.Uint32(raw[4:8])
	flags := raw[8]

	if int(diskSize) != len(raw)-headerSize {
		return nil, false, &Corruption{Addr: addr, Msg: fmt.Sprintf("disk_size %d does not match block length %d", diskSize, len(raw)-headerSize)}
	}

	gotCsum := crc32.Checksum(raw[8:], castagnoli)
	if gotCsum != wantCsum {
		return nil, false, &Corruption{Addr: addr, Msg: fmt.Sprintf("checksum mismatch: have %08x want %08x", gotCsum, wantCsum)}
	}

	return raw[headerSize:], flags&flagCompressed != 0, nil
}
