// Package arena implements the page arena every stored object lives in.
//
// A Pool owns chunks (large raw buffers, optionally mapped off-heap), each
// carved into fixed-size pages that are bump-allocated. Every allocation is a
// slot prefixed by an 8-byte header carrying the slot's type tag and payload
// size, and is addressed by a core.ObjectID packing the pool number, the page
// number and the payload offset.
//
// # Allocation Order
//
//  1. the free list of the requested (tag, size) class
//  2. the current page
//  3. the following pages
//  4. a new chunk of PagesPerChunk pages
//
// Freed slots are zeroed and kept on their class free list; memory is never
// returned to the OS before the pool is closed. Pages are never compacted.
//
// # Typed Access
//
// Allocate, AllocateArray, Resolve and ResolveArray are generic over the
// stored type. Resolution checks the slot's tag and size, so a handle used
// with the wrong type yields an error instead of reinterpreting foreign bytes.
// Stored types must be pointer-free: chunk memory is not scanned by the
// garbage collector and is persisted byte for byte.
//
// # Concurrency Model
//
// A Pool serializes Allocate/Free with its own mutex; resolution takes the
// read lock. The Registry has a separate mutex for its indexed pool table and
// container map.
package arena
