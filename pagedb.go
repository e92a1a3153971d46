package pagedb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/pagedb/internal/arena"
	"github.com/hupe1980/pagedb/internal/polygon"
	"github.com/hupe1980/pagedb/internal/symbol"
	"github.com/hupe1980/pagedb/persistence"
)

// Kind distinguishes design containers from the shared libraries.
type Kind = persistence.Kind

const (
	// KindDesign is a design cell stored as <dir>/<name>.*.
	KindDesign = persistence.KindDesign
	// KindTech is the technology library stored as <dir>/Libs/tech.*.
	KindTech = persistence.KindTech
	// KindTiming is the timing library stored as <dir>/Libs/timing.*.
	KindTiming = persistence.KindTiming
)

// DB is the top-level context. It owns the pool registry, so handles of
// every open container resolve through it, and maps containers to the
// triads of one design directory.
type DB struct {
	opts   options
	reg    *arena.Registry
	layout persistence.Layout

	mu         sync.Mutex
	containers map[string]*Container
	nextID     uint64
	closed     bool
}

// Open creates a DB over dir. Nothing is read until Load or Fetch.
func Open(dir string, opts ...Option) (*DB, error) {
	o := newOptions(opts)
	if err := o.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("pagedb: %w", err)
	}
	reg, err := arena.NewRegistry(o.maxPools, o.arenaOptions()...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	db := &DB{
		opts:       o,
		reg:        reg,
		layout:     persistence.Layout{Dir: dir},
		containers: make(map[string]*Container),
		nextID:     1,
	}
	o.metrics.attach(reg.Stats, o.controller)
	return db, nil
}

// Dir returns the design directory.
func (db *DB) Dir() string { return db.layout.Dir }

// Logger returns the DB logger.
func (db *DB) Logger() *Logger { return db.opts.logger }

func containerKey(kind Kind, name string) (string, error) {
	return persistence.RelativeBase(kind, name)
}

// Create opens an empty container with a fresh pool and makes it current.
func (db *DB) Create(kind Kind, name string) (*Container, error) {
	key, err := containerKey(kind, name)
	if err != nil {
		return nil, containerError("create", kind, name, err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, ErrClosed
	}
	if _, ok := db.containers[key]; ok {
		return nil, containerError("create", kind, name, ErrContainerExists)
	}

	id := db.nextID
	p, err := db.reg.NewPool(id)
	if err != nil {
		return nil, containerError("create", kind, name, err)
	}
	db.nextID++

	c := &Container{
		db:       db,
		kind:     kind,
		name:     name,
		key:      key,
		id:       id,
		pool:     p,
		symbols:  symbol.New(),
		polygons: polygon.New(),
	}
	db.containers[key] = c
	_ = db.reg.SetCurrent(p.Number())
	return c, nil
}

// Container returns an open container.
func (db *DB) Container(kind Kind, name string) (*Container, error) {
	key, err := containerKey(kind, name)
	if err != nil {
		return nil, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, ErrClosed
	}
	c, ok := db.containers[key]
	if !ok {
		return nil, containerError("lookup", kind, name, ErrContainerNotFound)
	}
	return c, nil
}

// Containers returns the open containers ordered by pool number.
func (db *DB) Containers() []*Container {
	db.mu.Lock()
	defer db.mu.Unlock()

	out := make([]*Container, 0, len(db.containers))
	for _, c := range db.containers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number() < out[j].Number() })
	return out
}

// Switch makes c the current container. The cursor is shared by all
// goroutines using the DB.
func (db *DB) Switch(c *Container) error {
	if err := c.check(); err != nil {
		return err
	}
	return db.reg.SetCurrent(c.Number())
}

// Current returns the current container, or nil.
func (db *DB) Current() *Container {
	p := db.reg.Current()
	if p == nil {
		return nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	for _, c := range db.containers {
		if c.pool == p {
			return c
		}
	}
	return nil
}

// Save writes the triad of c atomically. When the save fails the previous
// files are put back; if even that fails, the next Load reports a triad
// mismatch instead of mixing two saves.
func (db *DB) Save(ctx context.Context, c *Container) (persistence.SaveResult, error) {
	if err := c.check(); err != nil {
		return persistence.SaveResult{}, err
	}
	start := time.Now()

	res, err := persistence.SaveTriad(ctx, db.layout, c.kind, c.name, c.contents(), db.opts.persistenceOptions()...)
	took := time.Since(start)

	db.opts.metrics.recordSave(c.kind, res.Bytes, took, err)
	db.opts.logger.WithContainer(c.kind, c.name).LogSave(ctx, res.Triad.Image, res.Bytes, took, err)
	return res, containerError("save", c.kind, c.name, err)
}

// SaveAll saves every open container. It stops at the first failure.
func (db *DB) SaveAll(ctx context.Context) error {
	for _, c := range db.Containers() {
		if _, err := db.Save(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the triad of a container from the design directory and
// registers its pool. The pool keeps the number recorded in the image when
// that number is free; otherwise handles stored in the image resolve through
// an alias. On any error nothing is registered.
func (db *DB) Load(ctx context.Context, kind Kind, name string) (*Container, error) {
	start := time.Now()
	c, path, err := db.load(ctx, kind, name)
	took := time.Since(start)

	db.opts.metrics.recordLoad(kind, took, err)
	var no uint8
	if c != nil {
		no = c.Number()
	}
	db.opts.logger.WithContainer(kind, name).LogLoad(ctx, path, no, took, err)
	return c, containerError("load", kind, name, err)
}

func (db *DB) load(ctx context.Context, kind Kind, name string) (*Container, string, error) {
	key, err := containerKey(kind, name)
	if err != nil {
		return nil, "", err
	}
	t, err := db.layout.Discover(db.opts.fs, kind, name)
	if err != nil {
		return nil, "", err
	}

	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil, t.Image, ErrClosed
	}
	if _, ok := db.containers[key]; ok {
		db.mu.Unlock()
		return nil, t.Image, ErrContainerExists
	}
	db.mu.Unlock()

	contents, _, err := persistence.LoadFiles(ctx, t, db.opts.persistenceOptions()...)
	if err != nil {
		return nil, t.Image, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		_ = contents.Pool.Close()
		return nil, t.Image, ErrClosed
	}
	if _, ok := db.containers[key]; ok {
		_ = contents.Pool.Close()
		return nil, t.Image, ErrContainerExists
	}

	id := db.nextID
	if err := db.reg.Adopt(id, contents.Pool); err != nil {
		_ = contents.Pool.Close()
		return nil, t.Image, err
	}
	db.nextID++

	// The root entry point follows the pool to its new number.
	root := contents.Root
	if alias := contents.Pool.Alias(); alias != 0 && root.Pool() == alias {
		root = root.WithPool(contents.Pool.Number())
	}

	c := &Container{
		db:       db,
		kind:     kind,
		name:     name,
		key:      key,
		id:       id,
		pool:     contents.Pool,
		symbols:  contents.Symbols,
		polygons: contents.Polygons,
		root:     root,
	}
	db.containers[key] = c
	_ = db.reg.SetCurrent(c.pool.Number())
	return c, t.Image, nil
}

// Inspect verifies the image of a container on disk and returns its header
// without loading the content.
func (db *DB) Inspect(kind Kind, name string) (*persistence.Image, error) {
	t, err := db.layout.Discover(db.opts.fs, kind, name)
	if err != nil {
		return nil, containerError("inspect", kind, name, err)
	}
	im, err := persistence.InspectImageFile(t.Image, db.opts.persistenceOptions()...)
	return im, containerError("inspect", kind, name, err)
}

// Designs lists the design containers saved in the directory.
func (db *DB) Designs() ([]string, error) {
	names, err := db.layout.Designs(db.opts.fs)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Drop closes a container and releases its pool. Its pool number is not
// reused. Files on disk are kept.
func (db *DB) Drop(c *Container) error {
	if err := c.check(); err != nil {
		return err
	}

	db.mu.Lock()
	delete(db.containers, c.key)
	db.mu.Unlock()

	no := c.pool.Number()
	err := db.reg.DestroyPool(no)
	c.dropped.Store(true)
	db.opts.logger.WithContainer(c.kind, c.name).LogDrop(context.Background(), no, err)
	return containerError("drop", c.kind, c.name, err)
}

// Remove drops the container if it is open and deletes its triad.
func (db *DB) Remove(kind Kind, name string) error {
	if c, err := db.Container(kind, name); err == nil {
		if err := db.Drop(c); err != nil {
			return err
		}
	} else if !errors.Is(err, ErrContainerNotFound) {
		return err
	}
	return containerError("remove", kind, name, persistence.RemoveTriad(db.opts.fs, db.layout, kind, name))
}

// Stats returns the memory accounting of every open pool.
func (db *DB) Stats() []arena.Stats {
	return db.reg.Stats()
}

// Close releases every pool. Unsaved changes are lost.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	for _, c := range db.containers {
		c.dropped.Store(true)
	}
	db.containers = nil
	db.mu.Unlock()

	db.opts.metrics.attach(nil, nil)
	return db.reg.Close()
}
