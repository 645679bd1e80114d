package fileio

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestFileWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")

	f, err := Open(path, 4096)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	if err := f.Extend(8192); err != nil {
		t.Fatalf("extend: %v", err)
	}

	payload := bytes.Repeat([]byte{0xAB}, 4096)
	if err := f.WriteAt(payload, 4096); err != nil {
		t.Fatalf("writeat: %v", err)
	}
	if err := f.Sync(false); err != nil {
		t.Fatalf("sync: %v", err)
	}

	got := make([]byte, 4096)
	if err := f.ReadAt(got, 4096); err != nil {
		t.Fatalf("readat: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch")
	}
}

func TestFileBytesWrittenSinceSync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	f, err := Open(path, 4096)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	if err := f.Extend(4096); err != nil {
		t.Fatalf("extend: %v", err)
	}
	if err := f.WriteAt(make([]byte, 100), 0); err != nil {
		t.Fatalf("writeat: %v", err)
	}
	if got := f.BytesWrittenSinceSync(); got != 100 {
		t.Fatalf("expected 100 bytes pending, got %d", got)
	}
	if err := f.Sync(false); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if got := f.BytesWrittenSinceSync(); got != 0 {
		t.Fatalf("expected 0 bytes pending after sync, got %d", got)
	}
}

func TestFileMapReflectsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	f, err := Open(path, 4096)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	if err := f.Extend(4096); err != nil {
		t.Fatalf("extend: %v", err)
	}
	payload := bytes.Repeat([]byte{0x42}, 16)
	if err := f.WriteAt(payload, 0); err != nil {
		t.Fatalf("writeat: %v", err)
	}
	if err := f.Sync(false); err != nil {
		t.Fatalf("sync: %v", err)
	}

	m, err := f.Map(4096)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if !bytes.Equal(m[:16], payload) {
		t.Fatalf("mapped view does not reflect write")
	}
}
