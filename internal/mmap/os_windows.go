//go:build windows

package mmap

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

func mapFile(f *os.File, size int) (region, error) {
	h, err := windows.CreateFileMapping(windows.Handle(f.Fd()), nil, windows.PAGE_READONLY, 0, 0, nil)
	if err != nil {
		return region{}, &os.PathError{Op: "CreateFileMapping", Path: f.Name(), Err: err}
	}
	// The view keeps the mapping object alive.
	defer windows.CloseHandle(h)

	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_READ, 0, 0, uintptr(size))
	if err != nil {
		return region{}, &os.PathError{Op: "MapViewOfFile", Path: f.Name(), Err: err}
	}
	return region{
		data:    unsafe.Slice((*byte)(unsafe.Pointer(addr)), size),
		release: func() error { return windows.UnmapViewOfFile(addr) },
	}, nil
}

// mapAnon commits with VirtualAlloc so pages are backed on first touch, as
// with an anonymous mmap.
func mapAnon(size int) (region, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_RESERVE|windows.MEM_COMMIT, windows.PAGE_READWRITE)
	if err != nil {
		return region{}, err
	}
	return region{
		data:    unsafe.Slice((*byte)(unsafe.Pointer(addr)), size),
		release: func() error { return windows.VirtualFree(addr, 0, windows.MEM_RELEASE) },
	}, nil
}

func advise([]byte, AccessPattern) error { return nil }
