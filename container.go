package pagedb

import (
	"sync/atomic"

	"github.com/hupe1980/pagedb/core"
	"github.com/hupe1980/pagedb/internal/arena"
	"github.com/hupe1980/pagedb/internal/container"
	"github.com/hupe1980/pagedb/internal/polygon"
	"github.com/hupe1980/pagedb/internal/symbol"
	"github.com/hupe1980/pagedb/persistence"
)

type (
	// Array is a segmented growable array stored inside a container's pool.
	Array[T any] = container.Array[T]
	// SymbolTable interns the strings of a container.
	SymbolTable = symbol.Table
	// SymbolIndex addresses an interned string.
	SymbolIndex = symbol.Index
	// PolygonTable holds the geometry of a container.
	PolygonTable = polygon.Table
	// Polygon is an ordered list of points.
	Polygon = polygon.Polygon
	// Point is a polygon vertex in database units.
	Point = polygon.Point
)

// Container is one design cell or library: a pool, its symbol and polygon
// tables and the root object entry point stored in the image.
//
// A container is not safe for concurrent mutation; the pool serializes
// allocate and free but arrays and tables built on it do not.
type Container struct {
	db   *DB
	kind Kind
	name string
	key  string
	id   uint64

	pool     *arena.Pool
	symbols  *symbol.Table
	polygons *polygon.Table
	root     core.ObjectID

	dropped atomic.Bool
}

func (c *Container) check() error {
	if c == nil || c.dropped.Load() {
		return ErrContainerNotFound
	}
	return nil
}

// Kind returns the container kind.
func (c *Container) Kind() Kind { return c.kind }

// Name returns the container name. Libraries report their fixed base name.
func (c *Container) Name() string {
	if c.kind == KindDesign {
		return c.name
	}
	return c.kind.String()
}

// ID returns the container id the registry knows the pool by.
func (c *Container) ID() uint64 { return c.id }

// Number returns the pool number embedded in handles this container issues.
func (c *Container) Number() uint8 { return c.pool.Number() }

// Pool returns the arena backing the container.
func (c *Container) Pool() *arena.Pool { return c.pool }

// Symbols returns the symbol table.
func (c *Container) Symbols() *SymbolTable { return c.symbols }

// Polygons returns the polygon table.
func (c *Container) Polygons() *PolygonTable { return c.polygons }

// Root returns the entry object saved with the image, or core.NilID.
func (c *Container) Root() core.ObjectID { return c.root }

// SetRoot sets the entry object written to the next image.
func (c *Container) SetRoot(id core.ObjectID) { c.root = id }

// Stats returns the memory accounting of the container's pool.
func (c *Container) Stats() arena.Stats { return c.pool.Stats() }

// Free returns a slot to the free list of its tag and size.
func (c *Container) Free(tag core.TypeTag, id core.ObjectID) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.pool.Free(tag, id)
}

func (c *Container) contents() persistence.Contents {
	return persistence.Contents{
		Pool:     c.pool,
		Root:     c.root,
		Symbols:  c.symbols,
		Polygons: c.polygons,
	}
}

// Allocate reserves a zeroed T in c tagged with tag and returns it with its
// handle. T must not contain Go pointers.
func Allocate[T any](c *Container, tag core.TypeTag) (*T, core.ObjectID, error) {
	if err := c.check(); err != nil {
		return nil, core.NilID, err
	}
	return arena.Allocate[T](c.pool, tag)
}

// AllocateSlice reserves n contiguous zeroed elements.
func AllocateSlice[T any](c *Container, tag core.TypeTag, n int) ([]T, core.ObjectID, error) {
	if err := c.check(); err != nil {
		return nil, core.NilID, err
	}
	return arena.AllocateArray[T](c.pool, tag, n)
}

// Resolve returns the T a handle designates. The handle may belong to any
// open container; the tag and size recorded in the slot must match.
func Resolve[T any](db *DB, tag core.TypeTag, id core.ObjectID) (*T, error) {
	return arena.ResolveByID[T](db.reg, tag, id)
}

// ResolveIn returns the T a handle designates inside c. Unlike Resolve it
// also accepts handles carrying the pool number c was saved under, which
// matters when Load had to give the pool a new number.
func ResolveIn[T any](c *Container, tag core.TypeTag, id core.ObjectID) (*T, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return arena.Resolve[T](c.pool, tag, id)
}

// ResolveSlice returns the elements behind a handle from AllocateSlice.
func ResolveSlice[T any](db *DB, tag core.TypeTag, id core.ObjectID) ([]T, error) {
	p, err := db.reg.PoolOf(id)
	if err != nil {
		return nil, err
	}
	return arena.ResolveArray[T](p, tag, id)
}

// NewArray creates an empty array in c.
func NewArray[T any](c *Container) (*Array[T], error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return container.NewArray[T](c.pool)
}

// OpenArray reopens an array by the handle of its header, for example
// after Load.
func OpenArray[T any](c *Container, id core.ObjectID) (*Array[T], error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return container.OpenArray[T](c.pool, id)
}
