package arena

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/hupe1980/pagedb/core"
)

// PageMeta is the persisted state of one page.
type PageMeta struct {
	No     uint32
	Size   uint32
	Avail  uint32
	Allocs uint32
	Dirty  bool
}

// FreeClass is the persisted free list of one (tag, slot size) class.
type FreeClass struct {
	Tag  core.TypeTag
	Size uint32
	IDs  []core.ObjectID
}

// Header is everything about a pool except its chunk contents.
type Header struct {
	PoolNo        uint8
	PageSize      uint32
	PagesPerChunk uint32
	ChunkSizes    []uint32
	CurrentPage   uint32
	Pages         []PageMeta
	FreeBytes     uint64
	FreeLists     []FreeClass
}

// Header captures the pool metadata for persistence. Free classes are
// ordered by tag and size so that equal pools produce equal headers.
// A detached pool reports the number recorded in its image.
func (p *Pool) Header() (Header, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return Header{}, ErrPoolClosed
	}

	no := p.no
	if no == 0 {
		no = p.alias
	}
	h := Header{
		PoolNo:        no,
		PageSize:      uint32(p.opts.pageSize),
		PagesPerChunk: uint32(p.opts.pagesPerChunk),
		ChunkSizes:    make([]uint32, len(p.chunks)),
		CurrentPage:   uint32(p.current),
		Pages:         make([]PageMeta, len(p.pages)),
		FreeBytes:     p.freeBytes,
		FreeLists:     make([]FreeClass, 0, len(p.free)),
	}
	for i, c := range p.chunks {
		h.ChunkSizes[i] = uint32(len(c.data))
	}
	for i, pg := range p.pages {
		h.Pages[i] = PageMeta{
			No:     pg.no,
			Size:   uint32(len(pg.frame)),
			Avail:  uint32(pg.avail),
			Allocs: pg.allocs,
			Dirty:  pg.dirty,
		}
	}
	for cls, ids := range p.free {
		h.FreeLists = append(h.FreeLists, FreeClass{Tag: cls.tag, Size: cls.size, IDs: slices.Clone(ids)})
	}
	slices.SortFunc(h.FreeLists, func(a, b FreeClass) int {
		if c := cmp.Compare(a.Tag, b.Tag); c != 0 {
			return c
		}
		return cmp.Compare(a.Size, b.Size)
	})
	return h, nil
}

// ChunkData returns the pool's chunk buffers in order. The slices alias the
// arena: callers may read them for saving, or fill them while restoring a
// detached pool, but must not mutate a registered pool through them.
func (p *Pool) ChunkData() [][]byte {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([][]byte, len(p.chunks))
	for i, c := range p.chunks {
		out[i] = c.data
	}
	return out
}

// Restore rebuilds a detached pool from h. Chunks are allocated but left zero;
// the caller fills them through ChunkData and then registers the pool with
// Registry.Adopt. A pool that fails to load is closed, never registered.
//
// When the memory acquirer is a MemoryWaiter, Restore blocks until the
// chunk bytes of the whole image are available or ctx is done.
func Restore(ctx context.Context, h Header, opts ...Option) (*Pool, error) {
	opts = append(opts, WithPageSize(int(h.PageSize)))
	if h.PagesPerChunk > 0 {
		opts = append(opts, WithPagesPerChunk(int(h.PagesPerChunk)))
	}
	o, err := newOptions(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}
	if err := validateHeader(h); err != nil {
		return nil, err
	}

	acquirer := o.acquirer
	var pre *prepaid
	if w, ok := acquirer.(MemoryWaiter); ok {
		var total int64
		for _, size := range h.ChunkSizes {
			total += int64(size)
		}
		if err := w.WaitMemory(ctx, total); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAllocationFailed, err)
		}
		pre = &prepaid{MemoryAcquirer: acquirer, left: total}
		o.acquirer = pre
	}

	p := newPool(0, 0, o)
	p.alias = h.PoolNo

	for _, size := range h.ChunkSizes {
		c, err := p.newChunkLocked(int(size))
		if err != nil {
			_ = p.Close()
			pre.refund()
			return nil, err
		}
		p.addChunkLocked(c)
	}
	pre.refund()
	p.opts.acquirer = acquirer

	for i, meta := range h.Pages {
		pg := p.pages[i]
		pg.avail = int(meta.Avail)
		pg.allocs = meta.Allocs
		pg.dirty = meta.Dirty
	}
	p.current = int(h.CurrentPage)

	for _, fc := range h.FreeLists {
		cls := slotClass{tag: fc.Tag, size: fc.Size}
		p.free[cls] = slices.Clone(fc.IDs)
	}
	p.freeBytes = h.FreeBytes
	return p, nil
}

func validateHeader(h Header) error {
	ps := uint64(h.PageSize)
	var total uint64
	for i, size := range h.ChunkSizes {
		if size == 0 || uint64(size)%ps != 0 {
			return fmt.Errorf("%w: chunk %d size %d is not a multiple of page size %d", ErrInvalidImage, i, size, ps)
		}
		total += uint64(size)
	}
	if total/ps != uint64(len(h.Pages)) {
		return fmt.Errorf("%w: %d pages do not fill %d chunk bytes", ErrInvalidImage, len(h.Pages), total)
	}
	if len(h.Pages) > core.MaxPages {
		return fmt.Errorf("%w: %d pages", ErrInvalidImage, len(h.Pages))
	}
	if len(h.Pages) > 0 && int(h.CurrentPage) >= len(h.Pages) {
		return fmt.Errorf("%w: current page %d out of range", ErrInvalidImage, h.CurrentPage)
	}

	for i, meta := range h.Pages {
		if meta.No != uint32(i) || meta.Size != h.PageSize || meta.Avail > meta.Size {
			return fmt.Errorf("%w: page %d metadata", ErrInvalidImage, i)
		}
	}

	var free uint64
	for _, fc := range h.FreeLists {
		if fc.Size < slotHeaderSize || fc.Size%Alignment != 0 {
			return fmt.Errorf("%w: free class %s/%d", ErrInvalidImage, fc.Tag, fc.Size)
		}
		for _, id := range fc.IDs {
			if int(id.Page()) >= len(h.Pages) {
				return fmt.Errorf("%w: free slot %s out of range", ErrInvalidImage, id)
			}
			meta := h.Pages[id.Page()]
			if id.Offset() < slotHeaderSize || id.Offset()-slotHeaderSize+fc.Size > meta.Size-meta.Avail {
				return fmt.Errorf("%w: free slot %s out of range", ErrInvalidImage, id)
			}
		}
		free += uint64(fc.Size) * uint64(len(fc.IDs))
	}
	if free != h.FreeBytes {
		return fmt.Errorf("%w: free bytes %d, free lists hold %d", ErrInvalidImage, h.FreeBytes, free)
	}
	return nil
}

// prepaid hands out memory reserved up front and falls back to the wrapped
// acquirer once the reservation is used up.
type prepaid struct {
	MemoryAcquirer
	left int64
}

func (pp *prepaid) AcquireMemory(bytes int64) error {
	if bytes <= pp.left {
		pp.left -= bytes
		return nil
	}
	return pp.MemoryAcquirer.AcquireMemory(bytes)
}

// refund returns what was not handed out. It is a no-op on nil.
func (pp *prepaid) refund() {
	if pp == nil || pp.left == 0 {
		return
	}
	pp.MemoryAcquirer.ReleaseMemory(pp.left)
	pp.left = 0
}
