package pagedb

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/hupe1980/pagedb/core"
	"github.com/hupe1980/pagedb/internal/arena"
	"github.com/hupe1980/pagedb/persistence"
	"github.com/hupe1980/pagedb/resource"
)

// EnvPrefix is the prefix of every environment variable read by LoadConfig.
const EnvPrefix = "PAGEDB"

// Config is the environment-driven configuration of a DB. Functional options
// passed to Open after Config.Options override it.
type Config struct {
	// Dir is the design directory holding the container triads.
	Dir string `envconfig:"DIR" default:"."`

	PageSize      int  `envconfig:"PAGE_SIZE" default:"1048576"`
	PagesPerChunk int  `envconfig:"PAGES_PER_CHUNK" default:"32"`
	MaxPools      int  `envconfig:"MAX_POOLS" default:"63"`
	OffHeap       bool `envconfig:"OFF_HEAP" default:"false"`

	// Compression is the chunk codec of images: none, lz4 or zstd.
	Compression string `envconfig:"COMPRESSION" default:"lz4"`
	// SideCompression is the stream codec of symbol and polygon files:
	// none, lz4, zstd or gzip.
	SideCompression string `envconfig:"SIDE_COMPRESSION" default:"lz4"`
	// Workers bounds parallel chunk compression. 0 means GOMAXPROCS.
	Workers int `envconfig:"WORKERS" default:"0"`

	MemoryLimit int64 `envconfig:"MEMORY_LIMIT" default:"0"` // 0 means unlimited
	IOLimit     int64 `envconfig:"IO_LIMIT" default:"0"`     // bytes per second, 0 means unlimited

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	// StoreURL selects the remote blob store: file:///path, minio://host/bucket/prefix
	// or s3://bucket/prefix. Empty disables Publish and Fetch.
	StoreURL string `envconfig:"STORE_URL"`
	// CommitTable is the DynamoDB table used for commits to an s3:// store.
	// Empty keeps commit pointers in CURRENT blobs.
	CommitTable string `envconfig:"COMMIT_TABLE"`
}

// LoadConfig reads a .env file (or the given files) when present and then
// the PAGEDB_* environment variables.
func LoadConfig(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("pagedb: load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.PageSize < arena.MinPageSize || c.PageSize > core.MaxPageSize || c.PageSize&(c.PageSize-1) != 0 {
		return fmt.Errorf("%w: page size %d", ErrInvalidConfig, c.PageSize)
	}
	if c.PagesPerChunk <= 0 {
		return fmt.Errorf("%w: pages per chunk %d", ErrInvalidConfig, c.PagesPerChunk)
	}
	if c.MaxPools <= 0 || c.MaxPools >= core.MaxPools {
		return fmt.Errorf("%w: max pools %d", ErrInvalidConfig, c.MaxPools)
	}
	if c.Workers < 0 || c.MemoryLimit < 0 || c.IOLimit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidConfig)
	}
	if _, err := persistence.ParseCompression(c.Compression); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := persistence.SideFileExtFor(c.SideCompression); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := newConfiguredLogger(os.Stderr, c.LogFormat, c.LogLevel); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Options converts the configuration into Open options. The blob store is
// not built here; see cmd/pagedb for the StoreURL schemes.
func (c Config) Options() ([]Option, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	comp, _ := persistence.ParseCompression(c.Compression)
	ext, _ := persistence.SideFileExtFor(c.SideCompression)
	logger, _ := newConfiguredLogger(os.Stderr, c.LogFormat, c.LogLevel)

	workers := c.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	opts := []Option{
		WithPageSize(c.PageSize),
		WithPagesPerChunk(c.PagesPerChunk),
		WithMaxPools(c.MaxPools),
		WithOffHeap(c.OffHeap),
		WithCompression(comp),
		WithSideFileExt(ext),
		WithWorkers(workers),
		WithLogger(logger),
	}
	if c.MemoryLimit > 0 || c.IOLimit > 0 {
		opts = append(opts, WithController(resource.NewController(resource.Config{
			MemoryLimitBytes:   c.MemoryLimit,
			MaxWorkers:         int64(workers),
			IOLimitBytesPerSec: c.IOLimit,
		})))
	}
	return opts, nil
}
