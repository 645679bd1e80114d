package walog

import "testing"

func TestEntryEncodeDecodeRoundTrip(t *testing.T) {
	e := &Entry{
		LSN:      7,
		TxnID:    3,
		BTreeID:  1,
		CommitTS: 42,
		Op:       OpPut,
		Key:      []byte("k"),
		Value:    []byte("v"),
	}

	data := e.Encode()
	if len(data) != e.Size() {
		t.Fatalf("encoded length %d != Size() %d", len(data), e.Size())
	}

	got, err := DecodeEntry(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.LSN != e.LSN || got.TxnID != e.TxnID || got.BTreeID != e.BTreeID ||
		got.CommitTS != e.CommitTS || got.Op != e.Op ||
		string(got.Key) != string(e.Key) || string(got.Value) != string(e.Value) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, e)
	}
}

func TestDecodeEntryDetectsCorruption(t *testing.T) {
	e := &Entry{LSN: 1, Op: OpPut, Key: []byte("k"), Value: []byte("v")}
	data := e.Encode()
	data[0] ^= 0xFF

	if _, err := DecodeEntry(data); err != ErrCorrupted {
		t.Fatalf("expected ErrCorrupted, got %v", err)
	}
}

func TestDecodeEntryDetectsTruncation(t *testing.T) {
	e := &Entry{LSN: 1, Op: OpPut, Key: []byte("k"), Value: []byte("v")}
	data := e.Encode()

	if _, err := DecodeEntry(data[:len(data)-10]); err == nil {
		t.Fatalf("expected a truncation error")
	}
}
