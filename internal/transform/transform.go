// Package transform implements the pluggable chunk transforms
// reconciliation applies before a chunk reaches the block manager, per
// spec §9's pluggable-transform dispatch: compression today, with the
// same Compressor seam free for encryption or checksumming later.
package transform

import "github.com/golang/snappy"

// SnappyCompressor satisfies reconcile.Compressor using
// github.com/golang/snappy. Reconciliation calls TransformOut on every
// finished chunk before writing it; a chunk that does not shrink is
// left uncompressed rather than paying snappy's decode cost for no
// gain.
type SnappyCompressor struct {
	// MinSize is the smallest input TransformOut will even attempt to
	// compress; small chunks rarely shrink and the attempt itself costs
	// an allocation.
	MinSize int
}

// NewSnappyCompressor returns a compressor with spec §9's default
// minimum chunk size.
func NewSnappyCompressor() *SnappyCompressor {
	return &SnappyCompressor{MinSize: 64}
}

// TransformOut compresses in with snappy, returning the compressed
// bytes and true only if the result is smaller than the input.
func (c *SnappyCompressor) TransformOut(in []byte) (out []byte, compressed bool) {
	if len(in) < c.MinSize {
		return in, false
	}
	enc := snappy.Encode(nil, in)
	if len(enc) >= len(in) {
		return in, false
	}
	return enc, true
}

// TransformIn reverses TransformOut; callers must know from the
// stored compressed flag whether to call this at all.
func (c *SnappyCompressor) TransformIn(in []byte) ([]byte, error) {
	return snappy.Decode(nil, in)
}

// Identity is a no-op Compressor, used when a store is opened with
// compression disabled.
type Identity struct{}

func (Identity) TransformOut(in []byte) ([]byte, bool) { return in, false }
func (Identity) TransformIn(in []byte) ([]byte, error) { return in, nil }
