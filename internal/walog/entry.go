// Package walog is the redo log engine.Open replays on restart: it
// applies the recovered mutations and seeds the stable and all-durable
// timestamps from the highest recovered commit timestamp; reconciliation
// does not read it. It does not drive
// the tree's own durability: pages reach disk through blockmgr's
// checkpoints regardless of whether this log exists. walog exists so
// that a crash between two checkpoints can still tell which commits
// happened after the last stable checkpoint, the way the teacher's
// pkg/wal answers the same question for its own store.
package walog

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Op identifies what a log entry records.
type Op byte

const (
	OpPut Op = iota + 1
	OpDelete
	OpCommit
	OpCheckpoint
)

func (o Op) String() string {
	switch o {
	case OpPut:
		return "PUT"
	case OpDelete:
		return "DELETE"
	case OpCommit:
		return "COMMIT"
	case OpCheckpoint:
		return "CHECKPOINT"
	default:
		return "UNKNOWN"
	}
}

// headerSize is the fixed-width prefix of every encoded entry:
// LSN(8) TxnID(8) BTreeID(8) CommitTS(8) Op(1) KeyLen(4) ValLen(4).
const headerSize = 41

// Entry is one record in the log: either a key/value mutation scoped
// to a transaction, that transaction's commit marker carrying its
// assigned commit timestamp, or a checkpoint marker.
type Entry struct {
	LSN      uint64
	TxnID    uint64
	BTreeID  uint64
	CommitTS uint64
	Op       Op
	Key      []byte
	Value    []byte
}

// Encode serializes e as [header][key][value][crc32]. The checksum
// covers everything before it.
func (e *Entry) Encode() []byte {
	total := headerSize + len(e.Key) + len(e.Value) + 4
	buf := make([]byte, total)

	binary.BigEndian.PutUint64(buf[0:8], e.LSN)
	binary.BigEndian.PutUint64(buf[8:16], e.TxnID)
	binary.BigEndian.PutUint64(buf[16:24], e.BTreeID)
	binary.BigEndian.PutUint64(buf[24:32], e.CommitTS)
	buf[32] = byte(e.Op)
	binary.BigEndian.PutUint32(buf[33:37], uint32(len(e.Key)))
	binary.BigEndian.PutUint32(buf[37:41], uint32(len(e.Value)))

	off := headerSize
	off += copy(buf[off:], e.Key)
	off += copy(buf[off:], e.Value)

	crc := crc32.ChecksumIEEE(buf[:off])
	binary.BigEndian.PutUint32(buf[off:off+4], crc)
	return buf
}

// DecodeEntry is the inverse of Encode, verifying the trailing CRC32.
func DecodeEntry(data []byte) (*Entry, error) {
	if len(data) < headerSize+4 {
		return nil, ErrTruncated
	}

	n := len(data)
	wantCRC := binary.BigEndian.Uint32(data[n-4:])
	gotCRC := crc32.ChecksumIEEE(data[:n-4])
	if wantCRC != gotCRC {
		return nil, ErrCorrupted
	}

	e := &Entry{
		LSN:      binary.BigEndian.Uint64(data[0:8]),
		TxnID:    binary.BigEndian.Uint64(data[8:16]),
		BTreeID:  binary.BigEndian.Uint64(data[16:24]),
		CommitTS: binary.BigEndian.Uint64(data[24:32]),
		Op:       Op(data[32]),
	}
	keyLen := binary.BigEndian.Uint32(data[33:37])
	valLen := binary.BigEndian.Uint32(data[37:41])

	want := headerSize + int(keyLen) + int(valLen) + 4
	if len(data) < want {
		return nil, ErrTruncated
	}

	off := headerSize
	if keyLen > 0 {
		e.Key = append([]byte(nil), data[off:off+int(keyLen)]...)
		off += int(keyLen)
	}
	if valLen > 0 {
		e.Value = append([]byte(nil), data[off:off+int(valLen)]...)
	}
	return e, nil
}

// Size is the encoded length of e.
func (e *Entry) Size() int {
	return headerSize + len(e.Key) + len(e.Value) + 4
}

func (e *Entry) String() string {
	return fmt.Sprintf("walog[lsn=%d txn=%d btree=%d op=%s klen=%d vlen=%d]",
		e.LSN, e.TxnID, e.BTreeID, e.Op, len(e.Key), len(e.Value))
}
