package persistence

import (
	"runtime"

	"github.com/hupe1980/pagedb/internal/arena"
	"github.com/hupe1980/pagedb/internal/fs"
	"github.com/hupe1980/pagedb/resource"
)

type options struct {
	compression Compression
	sideExt     string
	workers     int
	controller  *resource.Controller
	fs          fs.FileSystem
	arenaOpts   []arena.Option
	token       uint64
}

// Option configures saving and loading.
type Option func(*options)

// WithCompression sets the chunk codec used when writing images.
func WithCompression(c Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithSideFileExt sets the stream compression of symbol and polygon files by
// extension: "lz4", "zst", "gz" or "" for none.
func WithSideFileExt(ext string) Option {
	return func(o *options) {
		o.sideExt = ext
	}
}

// WithWorkers bounds the number of chunks compressed or decompressed at once.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithController shares codec worker slots and IO bandwidth with other users
// of the controller.
func WithController(c *resource.Controller) Option {
	return func(o *options) {
		o.controller = c
	}
}

// WithFileSystem sets the file system triads are written to and side files
// are read from. Defaults to the local one.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fs = fsys
	}
}

// WithArenaOptions sets the options of pools restored from images.
func WithArenaOptions(opts ...arena.Option) Option {
	return func(o *options) {
		o.arenaOpts = append(o.arenaOpts, opts...)
	}
}

// withSaveToken stamps written images with the token shared by one triad save.
func withSaveToken(token uint64) Option {
	return func(o *options) {
		o.token = token
	}
}

func newOptions(opts []Option) options {
	o := options{
		compression: CompressionLZ4,
		sideExt:     ExtLZ4,
		workers:     runtime.GOMAXPROCS(0),
		fs:          fs.Default,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.workers <= 0 {
		o.workers = 1
	}
	if o.fs == nil {
		o.fs = fs.Default
	}
	return o
}
