package engine

import (
	"fmt"

	"github.com/nainya/emberkv/internal/blockmgr"
	"github.com/nainya/emberkv/internal/page"
)

// decodePage turns a stored chunk's bytes back into an in-memory
// page.Page. Reconciliation stamps every chunk it writes with a
// leading page.Type byte (reconcile.ReconcileLeaf/ReconcileInternal),
// since the cell codec itself is type-agnostic and nothing in the
// cells says whether they decode as a leaf's rows or an internal
// page's child pointers; this is the layer that reads that byte back.
func decodePage(raw []byte) (*page.Page, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("engine: empty page chunk")
	}
	typ := page.Type(raw[0])
	body := raw[1:]

	switch typ {
	case page.TypeRowLeaf:
		return decodeLeaf(body)
	case page.TypeRowInternal, page.TypeRowInternalRoot:
		return decodeInternal(typ, body)
	default:
		return nil, fmt.Errorf("engine: unknown page type %d in chunk", typ)
	}
}

func decodeLeaf(buf []byte) (*page.Page, error) {
	p := &page.Page{
		Type:    page.TypeRowLeaf,
		Inserts: page.NewInsertSkipList(bytesLess, 1),
	}
	var prevKey []byte
	for len(buf) > 0 {
		keyCell, rest, err := page.DecodeKeyCell(buf)
		if err != nil {
			return nil, err
		}
		key := append([]byte(nil), prevKey[:keyCell.PrefixLen]...)
		key = append(key, keyCell.Data...)
		prevKey = key
		buf = rest

		if len(buf) == 0 {
			return nil, fmt.Errorf("engine: leaf chunk ended after a key cell with no value")
		}
		var value []byte
		switch page.CellKind(buf[0]) {
		case page.CellOverflowValue:
			addrBytes, rest2, err := page.DecodeOverflowValueCell(buf)
			if err != nil {
				return nil, err
			}
			value = overflowMarker(addrBytes)
			buf = rest2
		default:
			cell, rest2, err := page.DecodeValueCell(buf, nil)
			if err != nil {
				return nil, err
			}
			value = cell.Data
			buf = rest2
		}

		p.Rows = append(p.Rows, page.RowSlot{Key: key, Value: value})
	}
	return p, nil
}

// overflowMarker packs an overflow block's address cookie into the
// same []byte shape a row's on-disk Value holds, tagged so the engine
// can tell a direct value from an overflow pointer when it resolves a
// row. The tag byte can never collide with real stored data because
// the engine always checks IsOverflowMarker before trusting a Value as
// literal bytes coming out of decodeLeaf.
func overflowMarker(addrBytes []byte) []byte {
	return append([]byte{overflowTag}, addrBytes...)
}

const overflowTag = 0xFF

func isOverflowMarker(v []byte) (addrBytes []byte, ok bool) {
	if len(v) == 0 || v[0] != overflowTag {
		return nil, false
	}
	return v[1:], true
}

func decodeInternal(typ page.Type, buf []byte) (*page.Page, error) {
	p := &page.Page{Type: typ}
	var refs []*page.Ref
	for len(buf) > 0 {
		addrBytes, firstKey, rest, err := page.DecodeAddressCell(buf)
		if err != nil {
			return nil, err
		}
		ref := page.NewRef(page.RefDisk)
		ref.Addr = addrBytes
		ref.CachedKey = firstKey
		refs = append(refs, ref)
		buf = rest
	}
	p.SetIndex(&page.PageIndex{Refs: refs})
	return p, nil
}

func bytesLess(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// blockWriter adapts *blockmgr.Manager into reconcile.BlockWriter. No
// extra framing is added here: reconcile.ReconcileLeaf/ReconcileInternal
// already stamp their chunk payloads with a page.Type header byte, and
// this same Writer also carries raw overflow-value bytes (see
// reconcile.Reconciler.emitValueCell), which must NOT get that header.
type blockWriter struct {
	mgr *blockmgr.Manager
}

func (w *blockWriter) Write(payload []byte, compressed bool) (blockmgr.Addr, error) {
	return w.mgr.Write(payload, compressed)
}
