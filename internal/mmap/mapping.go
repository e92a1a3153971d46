package mmap

import (
	"io"
	"os"
	"sync/atomic"
)

// Mapping owns a mapped region. Its bytes are invalid after Close.
type Mapping struct {
	region
	closed atomic.Bool
}

// Open maps the file at path read-only. An empty file yields an empty
// mapping.
func Open(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Map(f)
}

// Map maps the open file f read-only. The mapping stays valid after f is
// closed.
func Map(f *os.File) (*Mapping, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	switch {
	case size == 0:
		return &Mapping{}, nil
	case int64(int(size)) != size:
		return nil, ErrInvalidSize
	}

	r, err := mapFile(f, int(size))
	if err != nil {
		return nil, err
	}
	return &Mapping{region: r}, nil
}

// MapAnon maps size zero-filled, writable bytes that belong to no file.
func MapAnon(size int) (*Mapping, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	r, err := mapAnon(size)
	if err != nil {
		return nil, err
	}
	return &Mapping{region: r}, nil
}

// Close releases the region. Later calls return nil.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) || m.release == nil {
		return nil
	}
	return m.release()
}

// Bytes returns the mapped memory, or nil once closed.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

func (m *Mapping) Size() int { return len(m.data) }

// Advise hints the expected access pattern to the kernel. Windows ignores it.
func (m *Mapping) Advise(pattern AccessPattern) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if len(m.data) == 0 {
		return nil
	}
	return advise(m.data, pattern)
}

func (m *Mapping) ReadAt(p []byte, off int64) (int, error) {
	switch {
	case m.closed.Load():
		return 0, ErrClosed
	case off < 0:
		return 0, ErrInvalidOffset
	case off >= int64(len(m.data)):
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
