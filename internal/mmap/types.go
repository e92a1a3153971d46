package mmap

import "errors"

// AccessPattern is a paging hint for a mapping.
type AccessPattern int

const (
	// AccessNormal drops any earlier hint.
	AccessNormal AccessPattern = iota
	// AccessSequential suits image loads, which decode chunks front to back.
	AccessSequential
	// AccessRandom suits header inspection and blob range reads.
	AccessRandom
	// AccessDontNeed lets the kernel drop the pages now.
	AccessDontNeed
)

var (
	// ErrClosed is returned when attempting to access a closed mapping.
	ErrClosed = errors.New("mmap: mapping is closed")
	// ErrInvalidSize is returned for a negative, zero (anonymous) or unaddressable size.
	ErrInvalidSize = errors.New("mmap: invalid size")
	// ErrInvalidOffset is returned when the offset is negative.
	ErrInvalidOffset = errors.New("mmap: invalid offset")
)

// region is a platform mapping and the function that releases it.
type region struct {
	data    []byte
	release func() error
}
