package arena

import (
	"fmt"

	"github.com/hupe1980/pagedb/internal/mmap"
)

// chunk is one contiguous raw allocation subdivided into pages.
// It is never resized and lives until the pool is closed.
type chunk struct {
	data    []byte
	mapping *mmap.Mapping // off-heap backing, nil for heap chunks
	index   uint32
}

func newChunk(index uint32, size int, offHeap bool) (*chunk, error) {
	if !offHeap {
		return &chunk{data: make([]byte, size), index: index}, nil
	}

	// Off-heap anonymous mapping keeps large arenas out of the GC's view.
	mapping, err := mmap.MapAnon(size)
	if err != nil {
		return nil, fmt.Errorf("%w: map %d bytes: %w", ErrAllocationFailed, size, err)
	}
	return &chunk{data: mapping.Bytes(), mapping: mapping, index: index}, nil
}

func (c *chunk) release() error {
	c.data = nil
	if c.mapping != nil {
		return c.mapping.Close()
	}
	return nil
}
