package core

import "fmt"

// ObjectID is the 64-bit handle every stored object is referenced by.
//
// Layout (most significant bits first):
//
//	| 8 unused | 6 pool | 30 page | 20 offset |
//
// The zero value means "no object". Pool numbers start at 1, so a handle
// issued by a pool is never zero.
type ObjectID uint64

// NilID is the handle of no object.
const NilID ObjectID = 0

const (
	// OffsetBits is the number of bits addressing a byte inside a page.
	OffsetBits = 20
	// PageBits is the number of bits addressing a page inside a pool.
	PageBits = 30
	// PoolBits is the number of bits addressing a pool inside a registry.
	PoolBits = 6

	// MaxPageSize is the largest page addressable by OffsetBits (1 MiB).
	MaxPageSize = 1 << OffsetBits
	// MaxPages is the number of pages addressable by PageBits.
	MaxPages = 1 << PageBits
	// MaxPools is the number of pools addressable by PoolBits.
	MaxPools = 1 << PoolBits

	pageShift  = OffsetBits
	poolShift  = OffsetBits + PageBits
	offsetMask = (1 << OffsetBits) - 1
	pageMask   = ((1 << PageBits) - 1) << pageShift
	poolMask   = ((1 << PoolBits) - 1) << poolShift
)

// NewObjectID packs a pool number, page number and in-page offset.
// Out-of-range components are truncated to their field width.
func NewObjectID(pool uint8, page uint32, offset uint32) ObjectID {
	return ObjectID(uint64(pool)<<poolShift&poolMask |
		uint64(page)<<pageShift&pageMask |
		uint64(offset)&offsetMask)
}

// Pool returns the pool number embedded in the handle.
func (id ObjectID) Pool() uint8 {
	return uint8((uint64(id) & poolMask) >> poolShift)
}

// Page returns the page number embedded in the handle.
func (id ObjectID) Page() uint32 {
	return uint32((uint64(id) & pageMask) >> pageShift)
}

// Offset returns the byte offset inside the page.
func (id ObjectID) Offset() uint32 {
	return uint32(uint64(id) & offsetMask)
}

// IsNil reports whether id refers to no object.
func (id ObjectID) IsNil() bool { return id == NilID }

// WithPool returns the handle rebased onto another pool number.
func (id ObjectID) WithPool(pool uint8) ObjectID {
	return NewObjectID(pool, id.Page(), id.Offset())
}

func (id ObjectID) String() string {
	if id == NilID {
		return "ObjectID(nil)"
	}
	return fmt.Sprintf("ObjectID(%d:%d:%d)", id.Pool(), id.Page(), id.Offset())
}
