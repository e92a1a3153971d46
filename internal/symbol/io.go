package symbol

import (
	"errors"
	"fmt"
	"io"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/pagedb/internal/wire"
)

// MaxSymbolLen is the longest symbol accepted when reading a table.
const MaxSymbolLen = 1 << 24

// ErrCorrupt is returned when a serialized table is inconsistent.
var ErrCorrupt = errors.New("symbol: corrupt table")

// WriteTo writes the table page by page. Every occupied slot is written as
// (index, length, reference count, bytes, reference ids), followed by the orphan list.
func (t *Table) WriteTo(w io.Writer) (int64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	bw := wire.NewWriter(w)
	bw.U32(uint32(len(t.pages)))
	bw.U32(uint32(t.lenLocked()))

	for _, pg := range t.pages {
		bw.U32(pg.no)
		bw.U32(uint32(len(pg.texts)))
		for slot, text := range pg.texts {
			bw.I32(int32(int(pg.no)*PageSize + slot))
			bw.I32(int32(len(text)))

			refs := pg.refs[slot]
			if refs == nil {
				bw.I32(0)
				bw.String(text)
				continue
			}
			bw.I32(int32(refs.GetCardinality()))
			bw.String(text)
			it := refs.Iterator()
			for it.HasNext() {
				bw.U64(it.Next())
			}
		}
		if err := bw.Err(); err != nil {
			return bw.N(), err
		}
	}

	bw.U32(uint32(t.orphans.GetCardinality()))
	it := t.orphans.Iterator()
	for it.HasNext() {
		bw.I32(int32(it.Next()))
	}
	return bw.N(), bw.Err()
}

// Read reads a table written by WriteTo.
func Read(r io.Reader) (*Table, error) {
	t := newEmpty()
	br := wire.NewReader(r)

	pageCount := br.U32()
	symbolCount := br.U32()
	if err := br.Err(); err != nil {
		return nil, err
	}
	if pageCount == 0 || uint64(symbolCount) > uint64(pageCount)*PageSize {
		return nil, fmt.Errorf("%w: %d symbols in %d pages", ErrCorrupt, symbolCount, pageCount)
	}

	var seen uint32
	for i := uint32(0); i < pageCount; i++ {
		if err := t.readPage(br, i, i == pageCount-1); err != nil {
			return nil, err
		}
		seen += uint32(len(t.pages[i].texts))
	}
	if seen != symbolCount {
		return nil, fmt.Errorf("%w: header says %d symbols, pages hold %d", ErrCorrupt, symbolCount, seen)
	}
	if t.pages[0].texts[0] != "" {
		return nil, fmt.Errorf("%w: index 0 is not the empty symbol", ErrCorrupt)
	}

	orphans := br.Count(symbolCount)
	for i := 0; i < orphans && br.Err() == nil; i++ {
		idx := br.I32()
		if br.Err() == nil && (idx <= 0 || uint32(idx) >= symbolCount) {
			br.Fail(fmt.Errorf("%w: orphan %d out of range", ErrCorrupt, idx))
		}
		t.orphans.Add(uint32(idx))
	}
	if err := br.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Table) readPage(br *wire.Reader, want uint32, last bool) error {
	no := br.U32()
	occupied := br.Count(PageSize)
	if err := br.Err(); err != nil {
		return err
	}
	if no != want {
		return fmt.Errorf("%w: page %d found at position %d", ErrCorrupt, no, want)
	}
	if occupied == 0 || (!last && occupied != PageSize) {
		return fmt.Errorf("%w: page %d holds %d symbols", ErrCorrupt, no, occupied)
	}

	pg := newPage(no)
	for slot := 0; slot < occupied; slot++ {
		idx := br.I32()
		n := br.I32()
		refCount := br.I32()
		if err := br.Err(); err != nil {
			return err
		}
		if int(idx) != int(no)*PageSize+slot {
			return fmt.Errorf("%w: symbol %d found at slot %d of page %d", ErrCorrupt, idx, slot, no)
		}
		if n < 0 || n > MaxSymbolLen || refCount < 0 {
			return fmt.Errorf("%w: symbol %d header", ErrCorrupt, idx)
		}

		text := string(br.Bytes(int(n)))
		var refs *roaring64.Bitmap
		if refCount > 0 {
			refs = roaring64.New()
			for j := int32(0); j < refCount && br.Err() == nil; j++ {
				refs.Add(br.U64())
			}
		}
		if err := br.Err(); err != nil {
			return err
		}
		if _, dup := t.dedup[text]; dup {
			return fmt.Errorf("%w: symbol %q stored twice", ErrCorrupt, text)
		}

		pg.texts = append(pg.texts, text)
		pg.refs = append(pg.refs, refs)
		t.dedup[text] = Index(idx)
	}
	t.pages = append(t.pages, pg)
	return nil
}
