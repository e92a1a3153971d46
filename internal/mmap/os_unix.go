//go:build unix

package mmap

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

func mapFile(f *os.File, size int) (region, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return region{}, &os.PathError{Op: "mmap", Path: f.Name(), Err: err}
	}
	return region{data: data, release: func() error { return unix.Munmap(data) }}, nil
}

func mapAnon(size int) (region, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return region{}, err
	}
	return region{data: data, release: func() error { return unix.Munmap(data) }}, nil
}

var madvice = [...]int{
	AccessNormal:     unix.MADV_NORMAL,
	AccessSequential: unix.MADV_SEQUENTIAL,
	AccessRandom:     unix.MADV_RANDOM,
	AccessDontNeed:   unix.MADV_DONTNEED,
}

func advise(data []byte, pattern AccessPattern) error {
	if pattern < 0 || int(pattern) >= len(madvice) {
		pattern = AccessNormal
	}
	// EINVAL means an unaligned or unsupported range; the hint is optional.
	if err := unix.Madvise(data, madvice[pattern]); err != nil && !errors.Is(err, unix.EINVAL) {
		return err
	}
	return nil
}
