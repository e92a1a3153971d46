// Package mmap provides memory mappings for the page arena.
//
// Two kinds of mapping are supported:
//
//   - MapAnon creates read-write anonymous mappings. Pools use them as chunk
//     storage so that large arenas live outside the Go heap.
//   - Open maps a file read-only. Image loads use it to verify and parse a
//     .db file without copying it through a buffered reader first.
//
// # Platform Support
//
//   - Unix (Linux, macOS, BSD): mmap(2) with madvise(2) for access hints
//   - Windows: CreateFileMapping/MapViewOfFile and VirtualAlloc (madvise is a no-op)
//
// Close is idempotent. Callers must not touch Bytes() after Close returns;
// anything stored in an anonymous mapping must be pointer-free because the
// garbage collector does not scan it.
package mmap
