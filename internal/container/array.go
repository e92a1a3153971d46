// Package container implements growable collections stored inside an arena pool.
package container

import (
	"errors"
	"fmt"
	"iter"

	"github.com/hupe1980/pagedb/core"
	"github.com/hupe1980/pagedb/internal/arena"
)

const (
	// SegmentBits determines the size of each segment.
	// 5 bits = 32 elements per segment.
	SegmentBits = 5
	// SegmentSize is the number of elements in a segment.
	SegmentSize = 1 << SegmentBits
	segmentMask = SegmentSize - 1
)

var (
	// ErrIndexOutOfRange is returned when an index is not below the array size.
	ErrIndexOutOfRange = errors.New("container: index out of range")
	// ErrElemSizeMismatch is returned when an array is opened with the wrong element type.
	ErrElemSizeMismatch = errors.New("container: element size mismatch")
	// ErrCorruptArray is returned when the segment chain does not match the header.
	ErrCorruptArray = errors.New("container: corrupt segment chain")
)

// arrayHeader is the slot an Array's handle points to.
type arrayHeader struct {
	Capacity uint64
	Size     uint64
	ElemSize uint32
	Segments uint32
	Head     core.ObjectID
	Tail     core.ObjectID
	Current  core.ObjectID // last segment reached by an index walk
	CurSeq   uint32
	_        uint32
}

// arraySegment links one 32-element data block into the chain.
type arraySegment struct {
	Seq   uint32 // 1-based position in the chain
	_     uint32
	Next  core.ObjectID
	Array core.ObjectID
	Data  core.ObjectID
}

// Array is a growable sequence of T stored in a pool. It grows one segment at
// a time and never moves elements, so element addresses stay valid while the
// pool is open. Capacity never shrinks.
//
// The header is looked up on every call, so an Array outliving its pool
// reports arena.ErrPoolClosed instead of touching released memory.
//
// An Array is not safe for concurrent use.
type Array[T any] struct {
	pool *arena.Pool
	id   core.ObjectID
}

// NewArray allocates an empty array in p.
func NewArray[T any](p *arena.Pool) (*Array[T], error) {
	size, err := arena.SizeOf[T]()
	if err != nil {
		return nil, err
	}
	hdr, id, err := arena.Allocate[arrayHeader](p, core.TypeArrayObject)
	if err != nil {
		return nil, err
	}
	hdr.ElemSize = uint32(size)
	return &Array[T]{pool: p, id: id}, nil
}

// OpenArray opens the array whose header slot is id.
func OpenArray[T any](p *arena.Pool, id core.ObjectID) (*Array[T], error) {
	size, err := arena.SizeOf[T]()
	if err != nil {
		return nil, err
	}
	hdr, err := arena.Resolve[arrayHeader](p, core.TypeArrayObject, id)
	if err != nil {
		return nil, err
	}
	if want := uint32(size); hdr.ElemSize != want {
		return nil, fmt.Errorf("%w: array %s holds %d-byte elements, opened as %d", ErrElemSizeMismatch, id, hdr.ElemSize, want)
	}
	if hdr.Size > hdr.Capacity || hdr.Capacity != uint64(hdr.Segments)*SegmentSize {
		return nil, fmt.Errorf("%w: array %s header", ErrCorruptArray, id)
	}
	return &Array[T]{pool: p, id: id}, nil
}

// header resolves the header slot. It fails once the pool is closed.
func (a *Array[T]) header() (*arrayHeader, error) {
	return arena.Resolve[arrayHeader](a.pool, core.TypeArrayObject, a.id)
}

// ID returns the handle of the array's header slot.
func (a *Array[T]) ID() core.ObjectID { return a.id }

// Len returns the number of elements, or 0 once the pool is closed.
func (a *Array[T]) Len() int {
	h, err := a.header()
	if err != nil {
		return 0
	}
	return int(h.Size)
}

// Cap returns the number of elements the allocated segments can hold, or 0
// once the pool is closed.
func (a *Array[T]) Cap() int {
	h, err := a.header()
	if err != nil {
		return 0
	}
	return int(h.Capacity)
}

// Reserve allocates segments until the array can hold n elements.
func (a *Array[T]) Reserve(n int) error {
	h, err := a.header()
	if err != nil {
		return err
	}
	for h.Capacity < uint64(n) {
		if err := a.appendSegment(h); err != nil {
			return err
		}
	}
	return nil
}

// PushBack appends v, allocating a new segment when the last one is full.
func (a *Array[T]) PushBack(v T) error {
	h, err := a.header()
	if err != nil {
		return err
	}
	if h.Size == h.Capacity {
		if err := a.appendSegment(h); err != nil {
			return err
		}
	}
	slot, err := a.slot(h, int(h.Size))
	if err != nil {
		return err
	}
	*slot = v
	h.Size++
	return nil
}

// At returns the element at i.
func (a *Array[T]) At(i int) (T, error) {
	var zero T
	h, err := a.header()
	if err != nil {
		return zero, err
	}
	if i < 0 || uint64(i) >= h.Size {
		return zero, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, i, h.Size)
	}
	slot, err := a.slot(h, i)
	if err != nil {
		return zero, err
	}
	return *slot, nil
}

// Set overwrites the element at i.
func (a *Array[T]) Set(i int, v T) error {
	h, err := a.header()
	if err != nil {
		return err
	}
	if i < 0 || uint64(i) >= h.Size {
		return fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, i, h.Size)
	}
	slot, err := a.slot(h, i)
	if err != nil {
		return err
	}
	*slot = v
	return nil
}

// AdjustSize sets the logical size to n. Growing allocates segments as needed
// and zeroes the exposed elements; shrinking keeps every segment.
func (a *Array[T]) AdjustSize(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: size %d", ErrIndexOutOfRange, n)
	}
	if err := a.Reserve(n); err != nil {
		return err
	}
	h, err := a.header()
	if err != nil {
		return err
	}

	var zero T
	for i := int(h.Size); i < n; i++ {
		slot, err := a.slot(h, i)
		if err != nil {
			return err
		}
		*slot = zero
	}
	h.Size = uint64(n)
	return nil
}

// All iterates the elements in index order. Each call starts from the head segment.
// Iteration stops early if the segment chain cannot be resolved.
func (a *Array[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		h, err := a.header()
		if err != nil {
			return
		}
		size := int(h.Size)
		id := h.Head
		for base := 0; base < size; base += SegmentSize {
			seg, err := arena.Resolve[arraySegment](a.pool, core.TypeArraySegment, id)
			if err != nil {
				return
			}
			data, err := arena.ResolveArray[T](a.pool, core.TypeArrayData, seg.Data)
			if err != nil {
				return
			}
			for j := 0; j < SegmentSize && base+j < size; j++ {
				if !yield(base+j, data[j]) {
					return
				}
			}
			id = seg.Next
		}
	}
}

func (a *Array[T]) appendSegment(h *arrayHeader) error {
	_, dataID, err := arena.AllocateArray[T](a.pool, core.TypeArrayData, SegmentSize)
	if err != nil {
		return err
	}

	seg, segID, err := arena.Allocate[arraySegment](a.pool, core.TypeArraySegment)
	if err != nil {
		return err
	}
	seg.Seq = h.Segments + 1
	seg.Array = a.id
	seg.Data = dataID

	if h.Tail.IsNil() {
		h.Head = segID
	} else {
		tail, err := arena.Resolve[arraySegment](a.pool, core.TypeArraySegment, h.Tail)
		if err != nil {
			return err
		}
		tail.Next = segID
	}
	h.Tail = segID
	h.Segments++
	h.Capacity += SegmentSize
	return nil
}

// segmentAt walks the chain to the k-th segment (0-based), starting from the
// cached segment when it does not lie past k.
func (a *Array[T]) segmentAt(h *arrayHeader, k int) (*arraySegment, error) {
	if k >= int(h.Segments) {
		return nil, fmt.Errorf("%w: segment %d of %d", ErrIndexOutOfRange, k, h.Segments)
	}

	id, seq := h.Head, uint32(1)
	if !h.Current.IsNil() && int(h.CurSeq)-1 <= k {
		id, seq = h.Current, h.CurSeq
	}
	for {
		seg, err := arena.Resolve[arraySegment](a.pool, core.TypeArraySegment, id)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptArray, err)
		}
		if seg.Seq != seq {
			return nil, fmt.Errorf("%w: segment %s has sequence %d, expected %d", ErrCorruptArray, id, seg.Seq, seq)
		}
		if int(seq)-1 == k {
			h.Current, h.CurSeq = id, seq
			return seg, nil
		}
		if seg.Next.IsNil() {
			return nil, fmt.Errorf("%w: chain ends at sequence %d", ErrCorruptArray, seq)
		}
		id = seg.Next
		seq++
	}
}

func (a *Array[T]) slot(h *arrayHeader, i int) (*T, error) {
	seg, err := a.segmentAt(h, i>>SegmentBits)
	if err != nil {
		return nil, err
	}
	data, err := arena.ResolveArray[T](a.pool, core.TypeArrayData, seg.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptArray, err)
	}
	if len(data) != SegmentSize {
		return nil, fmt.Errorf("%w: segment block holds %d elements", ErrCorruptArray, len(data))
	}
	return &data[i&segmentMask], nil
}
