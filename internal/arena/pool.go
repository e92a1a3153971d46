package arena

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"
	"sync"

	"github.com/hupe1980/pagedb/core"
)

const (
	// DefaultPageSize is the default page size (1 MiB, the largest addressable page).
	DefaultPageSize = core.MaxPageSize
	// MinPageSize is the smallest supported page size.
	MinPageSize = 4096
	// DefaultPagesPerChunk is the number of pages added each time a pool grows.
	DefaultPagesPerChunk = 32
	// Alignment is the slot alignment in bytes.
	Alignment = 8

	slotHeaderSize = 8
	freedBit       = 1 << 31
)

// MemoryAcquirer grants chunk memory before a pool maps it.
// resource.Controller satisfies it.
type MemoryAcquirer interface {
	AcquireMemory(bytes int64) error
	ReleaseMemory(bytes int64)
}

// MemoryWaiter is a MemoryAcquirer that can block until memory is released.
// Restore waits through it for the whole image instead of failing at the
// limit. resource.Controller satisfies it.
type MemoryWaiter interface {
	MemoryAcquirer
	WaitMemory(ctx context.Context, bytes int64) error
}

type options struct {
	pageSize      int
	pagesPerChunk int
	offHeap       bool
	acquirer      MemoryAcquirer
}

// Option configures pools created by a Registry or restored from an image.
type Option func(*options)

// WithPageSize sets the page size. It must be a power of two between
// MinPageSize and DefaultPageSize.
func WithPageSize(size int) Option {
	return func(o *options) {
		o.pageSize = size
	}
}

// WithPagesPerChunk sets how many pages each new chunk holds.
func WithPagesPerChunk(n int) Option {
	return func(o *options) {
		o.pagesPerChunk = n
	}
}

// WithOffHeap backs chunks with anonymous memory mappings instead of the Go heap.
func WithOffHeap(enabled bool) Option {
	return func(o *options) {
		o.offHeap = enabled
	}
}

// WithMemoryAcquirer sets the memory acquirer consulted before each chunk is allocated.
func WithMemoryAcquirer(acquirer MemoryAcquirer) Option {
	return func(o *options) {
		o.acquirer = acquirer
	}
}

func newOptions(opts []Option) (options, error) {
	o := options{
		pageSize:      DefaultPageSize,
		pagesPerChunk: DefaultPagesPerChunk,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if err := validatePageSize(o.pageSize); err != nil {
		return o, err
	}
	if o.pagesPerChunk <= 0 || o.pagesPerChunk > core.MaxPages {
		return o, fmt.Errorf("arena: invalid pages per chunk %d", o.pagesPerChunk)
	}
	return o, nil
}

func validatePageSize(size int) error {
	if size < MinPageSize || size > DefaultPageSize || bits.OnesCount(uint(size)) != 1 {
		return fmt.Errorf("arena: invalid page size %d", size)
	}
	return nil
}

// slotClass keys a free list: slots are only reused for the same tag and slot size.
type slotClass struct {
	tag  core.TypeTag
	size uint32
}

// Stats is a snapshot of a pool's memory accounting.
type Stats struct {
	Pool          uint8
	ContainerID   uint64
	Chunks        int
	Pages         int
	BytesReserved uint64 // chunk bytes held
	BytesUsed     uint64 // bytes behind page cursors, including freed slots
	FreeBytes     uint64 // bytes parked on free lists
	Allocs        uint64
	Frees         uint64
	Reuses        uint64
}

// Pool is a page arena. Every handle it issues embeds its pool number.
type Pool struct {
	mu          sync.RWMutex
	no          uint8
	alias       uint8 // pool number recorded in the image this pool was restored from
	containerID uint64
	opts        options

	chunks  []*chunk
	pages   []*page
	current int

	free      map[slotClass][]core.ObjectID
	freeBytes uint64

	allocs uint64
	frees  uint64
	reuses uint64

	closed bool
}

func newPool(no uint8, containerID uint64, opts options) *Pool {
	return &Pool{
		no:          no,
		containerID: containerID,
		opts:        opts,
		free:        make(map[slotClass][]core.ObjectID),
	}
}

// Number returns the pool number embedded in handles this pool issues.
func (p *Pool) Number() uint8 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.no
}

// Alias returns the pool number of the image the pool was restored from, or 0.
func (p *Pool) Alias() uint8 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.alias
}

// ContainerID returns the id of the container that owns the pool.
func (p *Pool) ContainerID() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.containerID
}

// PageSize returns the page size in bytes.
func (p *Pool) PageSize() int { return p.opts.pageSize }

// FreeBytes returns the number of bytes parked on free lists.
func (p *Pool) FreeBytes() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.freeBytes
}

// Owns reports whether id carries this pool's number (or the restored alias).
func (p *Pool) Owns(id core.ObjectID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.owns(id)
}

func (p *Pool) owns(id core.ObjectID) bool {
	pn := id.Pool()
	return pn != 0 && (pn == p.no || pn == p.alias)
}

func slotSize(payload int) int {
	return (slotHeaderSize + payload + Alignment - 1) &^ (Alignment - 1)
}

func writeHeader(b []byte, tag uint32, size uint32) {
	binary.LittleEndian.PutUint32(b[0:], tag)
	binary.LittleEndian.PutUint32(b[4:], size)
}

func readHeader(b []byte) (tag core.TypeTag, size uint32, freed bool) {
	raw := binary.LittleEndian.Uint32(b[0:])
	return core.TypeTag(raw &^ freedBit), binary.LittleEndian.Uint32(b[4:]), raw&freedBit != 0
}

// Alloc allocates a zeroed slot of size bytes tagged with tag and returns its
// handle and payload. The payload stays valid until the pool is closed.
func (p *Pool) Alloc(tag core.TypeTag, size int) (core.ObjectID, []byte, error) {
	if size <= 0 || uint64(size) > math.MaxUint32 || tag&freedBit != 0 {
		return core.NilID, nil, ErrInvalidSize
	}
	slot := slotSize(size)
	if slot > p.opts.pageSize {
		return core.NilID, nil, fmt.Errorf("%w: %d bytes, page is %d", ErrAllocationTooLarge, size, p.opts.pageSize)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return core.NilID, nil, ErrPoolClosed
	}
	if p.no == 0 {
		return core.NilID, nil, ErrPoolDetached
	}

	if id, payload, ok := p.reuseLocked(slotClass{tag: tag, size: uint32(slot)}, size); ok {
		return id, payload, nil
	}

	pg, off, err := p.bumpLocked(slot)
	if err != nil {
		return core.NilID, nil, err
	}

	writeHeader(pg.frame[off:], uint32(tag), uint32(size))
	p.allocs++

	start := off + slotHeaderSize
	return core.NewObjectID(p.no, pg.no, uint32(start)), pg.frame[start : start+size : start+size], nil
}

func (p *Pool) reuseLocked(cls slotClass, size int) (core.ObjectID, []byte, bool) {
	list := p.free[cls]
	if len(list) == 0 {
		return core.NilID, nil, false
	}

	id := list[len(list)-1]
	if len(list) == 1 {
		delete(p.free, cls)
	} else {
		p.free[cls] = list[:len(list)-1]
	}

	pg := p.pages[id.Page()]
	off := int(id.Offset()) - slotHeaderSize
	writeHeader(pg.frame[off:], uint32(cls.tag), uint32(size))
	pg.dirty = true

	p.freeBytes -= uint64(cls.size)
	p.allocs++
	p.reuses++

	start := off + slotHeaderSize
	return id.WithPool(p.no), pg.frame[start : start+size : start+size], true
}

func (p *Pool) bumpLocked(slot int) (*page, int, error) {
	for i := p.current; i < len(p.pages); i++ {
		if off, ok := p.pages[i].allocate(slot); ok {
			p.current = i
			return p.pages[i], off, nil
		}
	}

	if err := p.growLocked(); err != nil {
		return nil, 0, err
	}

	pg := p.pages[p.current]
	off, ok := pg.allocate(slot)
	if !ok {
		return nil, 0, ErrAllocationFailed
	}
	return pg, off, nil
}

// growLocked adds one chunk of pagesPerChunk pages and moves the cursor to its first page.
func (p *Pool) growLocked() error {
	n := p.opts.pagesPerChunk
	if len(p.pages)+n > core.MaxPages {
		return ErrTooManyPages
	}

	size := p.opts.pageSize * n
	c, err := p.newChunkLocked(size)
	if err != nil {
		return err
	}

	first := len(p.pages)
	p.addChunkLocked(c)
	p.current = first
	return nil
}

func (p *Pool) newChunkLocked(size int) (*chunk, error) {
	if p.opts.acquirer != nil {
		if err := p.opts.acquirer.AcquireMemory(int64(size)); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAllocationFailed, err)
		}
	}

	c, err := newChunk(uint32(len(p.chunks)), size, p.opts.offHeap)
	if err != nil {
		if p.opts.acquirer != nil {
			p.opts.acquirer.ReleaseMemory(int64(size))
		}
		return nil, err
	}
	return c, nil
}

func (p *Pool) addChunkLocked(c *chunk) {
	ps := p.opts.pageSize
	p.chunks = append(p.chunks, c)
	for off := 0; off+ps <= len(c.data); off += ps {
		p.pages = append(p.pages, newPage(uint32(len(p.pages)), c.data[off:off+ps:off+ps]))
	}
}

// locateLocked maps a handle to its page and slot header offset.
func (p *Pool) locateLocked(id core.ObjectID) (*page, int, error) {
	if id.IsNil() {
		return nil, 0, fmt.Errorf("%w: nil handle", ErrInvalidHandle)
	}
	if !p.owns(id) {
		return nil, 0, fmt.Errorf("%w: %s is not owned by pool %d", ErrInvalidHandle, id, p.no)
	}
	if int(id.Page()) >= len(p.pages) {
		return nil, 0, fmt.Errorf("%w: %s page out of range", ErrInvalidHandle, id)
	}

	pg := p.pages[id.Page()]
	off := int(id.Offset()) - slotHeaderSize
	if off < 0 || off%Alignment != 0 || off+slotHeaderSize > pg.used() {
		return nil, 0, fmt.Errorf("%w: %s offset out of range", ErrInvalidHandle, id)
	}

	_, size, _ := readHeader(pg.frame[off:])
	if size == 0 || off+slotSize(int(size)) > pg.used() {
		return nil, 0, fmt.Errorf("%w: %s has a corrupt slot header", ErrInvalidHandle, id)
	}
	return pg, off, nil
}

// Lookup returns the payload of the live slot addressed by id.
// The slot must carry tag; the payload length is the allocated size.
func (p *Pool) Lookup(tag core.TypeTag, id core.ObjectID) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	pg, off, err := p.locateLocked(id)
	if err != nil {
		return nil, err
	}

	actual, size, freed := readHeader(pg.frame[off:])
	if freed {
		return nil, fmt.Errorf("%w: %s", ErrFreedSlot, id)
	}
	if actual != tag {
		return nil, &TypeMismatchError{ID: id, Expected: tag, Actual: actual, Size: size}
	}

	start := off + slotHeaderSize
	end := start + int(size)
	return pg.frame[start:end:end], nil
}

// TagOf returns the type tag of the live slot addressed by id.
func (p *Pool) TagOf(id core.ObjectID) (core.TypeTag, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return core.TypeNone, ErrPoolClosed
	}
	pg, off, err := p.locateLocked(id)
	if err != nil {
		return core.TypeNone, err
	}
	tag, _, freed := readHeader(pg.frame[off:])
	if freed {
		return core.TypeNone, fmt.Errorf("%w: %s", ErrFreedSlot, id)
	}
	return tag, nil
}

// Free zeroes the slot addressed by id and parks it on the free list of its
// (tag, size) class. The memory stays with the pool.
func (p *Pool) Free(tag core.TypeTag, id core.ObjectID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}

	pg, off, err := p.locateLocked(id)
	if err != nil {
		return err
	}

	actual, size, freed := readHeader(pg.frame[off:])
	if freed {
		return fmt.Errorf("%w: %s", ErrFreedSlot, id)
	}
	if actual != tag {
		return &TypeMismatchError{ID: id, Expected: tag, Actual: actual, Size: size}
	}

	slot := slotSize(int(size))
	clear(pg.frame[off+slotHeaderSize : off+slot])
	writeHeader(pg.frame[off:], uint32(tag)|freedBit, size)
	pg.dirty = true

	cls := slotClass{tag: tag, size: uint32(slot)}
	p.free[cls] = append(p.free[cls], id.WithPool(p.no))
	p.freeBytes += uint64(slot)
	p.frees++
	return nil
}

// Stats returns the pool's memory accounting.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := Stats{
		Pool:        p.no,
		ContainerID: p.containerID,
		Chunks:      len(p.chunks),
		Pages:       len(p.pages),
		FreeBytes:   p.freeBytes,
		Allocs:      p.allocs,
		Frees:       p.frees,
		Reuses:      p.reuses,
	}
	for _, c := range p.chunks {
		s.BytesReserved += uint64(len(c.data))
	}
	for _, pg := range p.pages {
		s.BytesUsed += uint64(pg.used())
	}
	return s
}

// Close releases every chunk. Handles issued by the pool become invalid.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var firstErr error
	for _, c := range p.chunks {
		size := len(c.data)
		if err := c.release(); err != nil && firstErr == nil {
			firstErr = err
		}
		if p.opts.acquirer != nil {
			p.opts.acquirer.ReleaseMemory(int64(size))
		}
	}
	p.chunks = nil
	p.pages = nil
	p.free = nil
	return firstErr
}

func (p *Pool) String() string {
	s := p.Stats()
	return fmt.Sprintf(
		"Pool{no: %d, chunks: %d, pages: %d, reserved: %.2f MB, used: %.2f MB, free: %.2f KB, allocs: %d}",
		s.Pool, s.Chunks, s.Pages,
		float64(s.BytesReserved)/(1024*1024),
		float64(s.BytesUsed)/(1024*1024),
		float64(s.FreeBytes)/1024,
		s.Allocs,
	)
}
