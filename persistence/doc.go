// Package persistence moves pools to and from disk.
//
// A pool is saved as an image: a header with the version stamp, pool number,
// root object, page metadata and free lists, followed by the chunk content
// and an 8-byte trailer holding the header length and its CRC32C. Chunks are
// block compressed in parallel with LZ4 or ZSTD; a chunk that does not shrink
// is stored raw. Loading checks the trailer before any header field is trusted.
//
// A container is persisted as a triad of sibling files, written atomically:
//
//	<dir>/<name>.db          pool image
//	<dir>/<name>.sym.<ext>   symbol table
//	<dir>/<name>.poly.<ext>  polygon table
//
// The technology and timing libraries live under <dir>/Libs with the fixed
// base names tech and timing. The side-file extension names its stream codec.
// Each save stamps a random token into the image header and into the plain
// prefix of both side files; a triad whose tokens differ is rejected.
package persistence
