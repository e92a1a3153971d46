package pagedb

import (
	"runtime"

	"github.com/hupe1980/pagedb/blobstore"
	"github.com/hupe1980/pagedb/internal/arena"
	"github.com/hupe1980/pagedb/internal/fs"
	"github.com/hupe1980/pagedb/persistence"
	"github.com/hupe1980/pagedb/resource"
)

type options struct {
	pageSize      int
	pagesPerChunk int
	maxPools      int
	offHeap       bool

	compression persistence.Compression
	sideExt     string
	workers     int

	logger     *Logger
	metrics    *Metrics
	controller *resource.Controller
	fs         fs.FileSystem

	store   blobstore.Store
	commits blobstore.CommitLog
}

// Option configures Open.
type Option func(*options)

// WithPageSize sets the page size of every pool. It must be a power of two
// between 4 KiB and 1 MiB.
func WithPageSize(size int) Option {
	return func(o *options) {
		o.pageSize = size
	}
}

// WithPagesPerChunk sets how many pages a pool grows by at once.
func WithPagesPerChunk(n int) Option {
	return func(o *options) {
		o.pagesPerChunk = n
	}
}

// WithMaxPools bounds the number of containers that can ever be opened.
func WithMaxPools(n int) Option {
	return func(o *options) {
		o.maxPools = n
	}
}

// WithOffHeap backs chunks with anonymous mappings instead of the Go heap.
func WithOffHeap(enabled bool) Option {
	return func(o *options) {
		o.offHeap = enabled
	}
}

// WithCompression sets the chunk codec used when saving images.
func WithCompression(c persistence.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithSideFileExt sets the stream codec of symbol and polygon files by file
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

// WithLogger sets the logger. If nil, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetrics reports save, load and pool statistics to m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithController limits chunk memory, codec workers and IO bandwidth.
func WithController(c *resource.Controller) Option {
	return func(o *options) {
		o.controller = c
	}
}

// WithFileSystem sets the file system triads are written to.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fs = fsys
	}
}

// WithStore enables Publish and Fetch against a remote blob store.
func WithStore(s blobstore.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithCommitLog sets where published generations are committed. Defaults to
// a blobstore.BlobCommitLog on the store.
func WithCommitLog(l blobstore.CommitLog) Option {
	return func(o *options) {
		o.commits = l
	}
}

func newOptions(opts []Option) options {
	o := options{
		pageSize:      arena.DefaultPageSize,
		pagesPerChunk: arena.DefaultPagesPerChunk,
		compression:   persistence.CompressionLZ4,
		sideExt:       persistence.ExtLZ4,
		workers:       runtime.GOMAXPROCS(0),
		logger:        NoopLogger(),
		fs:            fs.Default,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.store != nil && o.commits == nil {
		o.commits = blobstore.NewBlobCommitLog(o.store)
	}
	return o
}

func (o options) arenaOptions() []arena.Option {
	opts := []arena.Option{
		arena.WithPageSize(o.pageSize),
		arena.WithPagesPerChunk(o.pagesPerChunk),
		arena.WithOffHeap(o.offHeap),
	}
	if o.controller != nil {
		opts = append(opts, arena.WithMemoryAcquirer(o.controller))
	}
	return opts
}

func (o options) persistenceOptions() []persistence.Option {
	return []persistence.Option{
		persistence.WithCompression(o.compression),
		persistence.WithSideFileExt(o.sideExt),
		persistence.WithWorkers(o.workers),
		persistence.WithController(o.controller),
		persistence.WithFileSystem(o.fs),
		persistence.WithArenaOptions(o.arenaOptions()...),
	}
}
