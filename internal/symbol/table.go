// Package symbol implements the string interning table shared by a container's objects.
//
// Strings are stored in pages of PageSize slots and addressed by a dense
// Index (page*PageSize + slot). Indices are append-only: a symbol keeps its
// index for the lifetime of the table, even when nothing references it.
package symbol

import (
	"errors"
	"math"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/pagedb/core"
)

// PageSize is the number of symbols held by one page.
const PageSize = 4096

// Index addresses a symbol in a Table.
type Index int32

// InvalidIndex is reserved for the empty string and never names a real symbol.
const InvalidIndex Index = 0

// ErrTableFull is returned when the table cannot address another symbol.
var ErrTableFull = errors.New("symbol: table full")

type page struct {
	no    uint32
	texts []string
	refs  []*roaring64.Bitmap // nil until the symbol gets its first reference
}

func newPage(no uint32) *page {
	return &page{
		no:    no,
		texts: make([]string, 0, PageSize),
		refs:  make([]*roaring64.Bitmap, 0, PageSize),
	}
}

func (pg *page) full() bool { return len(pg.texts) == PageSize }

// Table interns strings. It is safe for concurrent use.
type Table struct {
	mu      sync.RWMutex
	pages   []*page
	dedup   map[string]Index
	orphans *roaring.Bitmap
}

// New returns a table holding only the reserved empty symbol.
func New() *Table {
	t := newEmpty()
	_, _ = t.appendLocked("")
	return t
}

func newEmpty() *Table {
	return &Table{
		dedup:   make(map[string]Index),
		orphans: roaring.New(),
	}
}

func split(idx Index) (int, int) {
	return int(idx) / PageSize, int(idx) % PageSize
}

// appendLocked stores text in the last page, opening a new page when it is full.
func (t *Table) appendLocked(text string) (Index, error) {
	if len(t.pages) == 0 || t.pages[len(t.pages)-1].full() {
		if len(t.pages) >= math.MaxInt32/PageSize {
			return InvalidIndex, ErrTableFull
		}
		t.pages = append(t.pages, newPage(uint32(len(t.pages))))
	}
	pg := t.pages[len(t.pages)-1]
	idx := Index(int(pg.no)*PageSize + len(pg.texts))
	pg.texts = append(pg.texts, text)
	pg.refs = append(pg.refs, nil)
	t.dedup[text] = idx
	return idx, nil
}

// GetOrCreate returns the index of text, interning it on first use.
// The empty string always maps to InvalidIndex.
func (t *Table) GetOrCreate(text string) (Index, error) {
	if text == "" {
		return InvalidIndex, nil
	}

	t.mu.RLock()
	idx, ok := t.dedup[text]
	t.mu.RUnlock()
	if ok {
		return idx, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if idx, ok := t.dedup[text]; ok {
		return idx, nil
	}
	return t.appendLocked(text)
}

// Lookup returns the index of text without interning it.
func (t *Table) Lookup(text string) (Index, bool) {
	if text == "" {
		return InvalidIndex, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.dedup[text]
	return idx, ok
}

// Symbol returns the string stored at idx, or "" when idx is out of range.
func (t *Table) Symbol(idx Index) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	pg, slot, ok := t.locateLocked(idx)
	if !ok {
		return ""
	}
	return pg.texts[slot]
}

func (t *Table) locateLocked(idx Index) (*page, int, bool) {
	if idx < 0 {
		return nil, 0, false
	}
	p, slot := split(idx)
	if p >= len(t.pages) || slot >= len(t.pages[p].texts) {
		return nil, 0, false
	}
	return t.pages[p], slot, true
}

// Len returns the number of symbols, including the reserved empty symbol.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lenLocked()
}

func (t *Table) lenLocked() int {
	if len(t.pages) == 0 {
		return 0
	}
	return (len(t.pages)-1)*PageSize + len(t.pages[len(t.pages)-1].texts)
}

// Pages returns the number of symbol pages.
func (t *Table) Pages() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.pages)
}

// AddReference records owner as a user of the symbol at idx. Adding the same
// owner twice has no effect. It reports false for InvalidIndex or an unknown index.
func (t *Table) AddReference(idx Index, owner core.ObjectID) bool {
	if idx == InvalidIndex {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	pg, slot, ok := t.locateLocked(idx)
	if !ok {
		return false
	}
	if pg.refs[slot] == nil {
		pg.refs[slot] = roaring64.New()
	}
	pg.refs[slot].Add(uint64(owner))
	t.orphans.Remove(uint32(idx))
	return true
}

// InsertReference interns text and records owner as a user of it.
func (t *Table) InsertReference(text string, owner core.ObjectID) (Index, error) {
	idx, err := t.GetOrCreate(text)
	if err != nil || idx == InvalidIndex {
		return idx, err
	}
	t.AddReference(idx, owner)
	return idx, nil
}

// RemoveReference drops owner from the symbol's users. When the last user is
// removed the symbol becomes an orphan; its index stays valid.
func (t *Table) RemoveReference(idx Index, owner core.ObjectID) bool {
	if idx == InvalidIndex {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	pg, slot, ok := t.locateLocked(idx)
	if !ok || pg.refs[slot] == nil {
		return false
	}
	if !pg.refs[slot].Contains(uint64(owner)) {
		return false
	}
	pg.refs[slot].Remove(uint64(owner))
	if pg.refs[slot].IsEmpty() {
		pg.refs[slot] = nil
		t.orphans.Add(uint32(idx))
	}
	return true
}

// References returns the owners of the symbol at idx in ascending handle order.
func (t *Table) References(idx Index) []core.ObjectID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	pg, slot, ok := t.locateLocked(idx)
	if !ok || pg.refs[slot] == nil {
		return nil
	}
	ids := make([]core.ObjectID, 0, pg.refs[slot].GetCardinality())
	it := pg.refs[slot].Iterator()
	for it.HasNext() {
		ids = append(ids, core.ObjectID(it.Next()))
	}
	return ids
}

// RefCount returns the number of owners of the symbol at idx.
func (t *Table) RefCount(idx Index) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	pg, slot, ok := t.locateLocked(idx)
	if !ok || pg.refs[slot] == nil {
		return 0
	}
	return int(pg.refs[slot].GetCardinality())
}

// Orphans returns the symbols whose last reference was removed, in index order.
func (t *Table) Orphans() []Index {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Index, 0, t.orphans.GetCardinality())
	it := t.orphans.Iterator()
	for it.HasNext() {
		out = append(out, Index(it.Next()))
	}
	return out
}

// MarkOrphans adds every unreferenced symbol to the orphan set and returns
// the size of the set. Nothing is reclaimed.
func (t *Table) MarkOrphans() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, pg := range t.pages {
		for slot, refs := range pg.refs {
			idx := Index(int(pg.no)*PageSize + slot)
			if idx != InvalidIndex && refs == nil {
				t.orphans.Add(uint32(idx))
			}
		}
	}
	return int(t.orphans.GetCardinality())
}
