package engine

import (
	"github.com/nainya/emberkv/internal/blockmgr"
	"github.com/nainya/emberkv/internal/page"
	"github.com/nainya/emberkv/internal/transform"
)

// loader implements btree.Loader by reading a chunk off the block
// manager and decoding it back into a page.Page.
type loader struct {
	mgr *blockmgr.Manager
}

func (l *loader) Load(addrBytes []byte) (*page.Page, error) {
	addr, err := blockmgr.DecodeAddr(addrBytes)
	if err != nil {
		return nil, err
	}
	raw, compressed, err := l.mgr.Read(addr)
	if err != nil {
		return nil, err
	}
	if compressed {
		if raw, err = transform.NewSnappyCompressor().TransformIn(raw); err != nil {
			return nil, &blockmgr.Corruption{Addr: addr, Msg: err.Error()}
		}
	}
	p, err := decodePage(raw)
	if err != nil {
		return nil, &blockmgr.Corruption{Addr: addr, Msg: err.Error()}
	}
	return p, nil
}

// readOverflow fetches a value stored out-of-line because it exceeded
// the tree's leaf_value_max.
func (l *loader) readOverflow(addrBytes []byte) ([]byte, error) {
	addr, err := blockmgr.DecodeAddr(addrBytes)
	if err != nil {
		return nil, err
	}
	raw, _, err := l.mgr.Read(addr)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
