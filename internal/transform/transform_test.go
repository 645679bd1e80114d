package transform

import (
	"bytes"
	"testing"
)

func TestSnappyRoundTrip(t *testing.T) {
	c := NewSnappyCompressor()
	in := bytes.Repeat([]byte("abcdefgh"), 100)

	out, compressed := c.TransformOut(in)
	if !compressed {
		t.Fatalf("expected a highly repetitive payload to compress")
	}

	back, err := c.TransformIn(out)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(back, in) {
		t.Fatalf("round trip mismatch")
	}
}

func TestSnappySkipsSmallPayloads(t *testing.T) {
	c := NewSnappyCompressor()
	in := []byte("tiny")
	out, compressed := c.TransformOut(in)
	if compressed {
		t.Fatalf("expected a tiny payload to skip compression")
	}
	if !bytes.Equal(out, in) {
		t.Fatalf("expected the uncompressed payload back unchanged")
	}
}

func TestIdentityNeverCompresses(t *testing.T) {
	var id Identity
	in := bytes.Repeat([]byte("x"), 1000)
	out, compressed := id.TransformOut(in)
	if compressed {
		t.Fatalf("identity transform must never report compressed")
	}
	if !bytes.Equal(out, in) {
		t.Fatalf("identity transform must pass bytes through unchanged")
	}
}
