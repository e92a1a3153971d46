// Package polygon stores the polygons referenced by a container's geometry.
package polygon

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/hupe1980/pagedb/internal/wire"
)

const (
	// MaxPolygons is the largest polygon count accepted when reading a table.
	MaxPolygons = 1 << 28
	// MaxPoints is the largest point count of one polygon accepted when reading.
	MaxPoints = 1 << 24
)

// ErrCorrupt is returned when a serialized table is inconsistent.
var ErrCorrupt = errors.New("polygon: corrupt table")

// Point is a database-unit coordinate pair.
type Point struct {
	X, Y int32
}

// Polygon is an ordered list of vertices.
type Polygon []Point

// Table is an append-only list of polygons addressed by their insertion index.
// It is safe for concurrent use.
type Table struct {
	mu    sync.RWMutex
	polys []Polygon
}

// New returns an empty table.
func New() *Table {
	return &Table{}
}

// Add appends a copy of p and returns its index.
func (t *Table) Add(p Polygon) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.polys = append(t.polys, slices.Clone(p))
	return len(t.polys) - 1
}

// Get returns the polygon at index, or false when index is out of range.
// The returned polygon must not be modified.
func (t *Table) Get(index int) (Polygon, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if index < 0 || index >= len(t.polys) {
		return nil, false
	}
	return t.polys[index], true
}

// Len returns the number of polygons.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.polys)
}

// WriteTo writes the polygon count followed by each polygon's points.
func (t *Table) WriteTo(w io.Writer) (int64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	bw := wire.NewWriter(w)
	bw.U32(uint32(len(t.polys)))
	for _, p := range t.polys {
		bw.U32(uint32(len(p)))
		for _, pt := range p {
			bw.I32(pt.X)
			bw.I32(pt.Y)
		}
	}
	return bw.N(), bw.Err()
}

// Read reads a table written by WriteTo.
func Read(r io.Reader) (*Table, error) {
	br := wire.NewReader(r)

	n := br.Count(MaxPolygons)
	if err := br.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	t := &Table{polys: make([]Polygon, 0, min(n, 1<<16))}
	for i := 0; i < n; i++ {
		pts := br.Count(MaxPoints)
		if err := br.Err(); err != nil {
			return nil, fmt.Errorf("%w: polygon %d: %w", ErrCorrupt, i, err)
		}
		p := make(Polygon, pts)
		for j := range p {
			p[j] = Point{X: br.I32(), Y: br.I32()}
		}
		if err := br.Err(); err != nil {
			return nil, fmt.Errorf("%w: polygon %d: %w", ErrCorrupt, i, err)
		}
		t.polys = append(t.polys, p)
	}
	return t, nil
}
