package arena

// page is a fixed-capacity slab inside a chunk.
//
// The bump cursor is len(frame)-avail: it only moves forward, except when a
// pool is rebuilt from an image and avail is restored from the page metadata.
type page struct {
	no     uint32
	frame  []byte
	avail  int
	allocs uint32
	dirty  bool
}

func newPage(no uint32, frame []byte) *page {
	return &page{no: no, frame: frame, avail: len(frame)}
}

func (pg *page) used() int { return len(pg.frame) - pg.avail }

// allocate bumps the cursor by slotSize and returns the slot's page offset.
func (pg *page) allocate(slotSize int) (int, bool) {
	if slotSize > pg.avail {
		return 0, false
	}
	off := pg.used()
	pg.avail -= slotSize
	pg.allocs++
	pg.dirty = true
	return off, true
}
