package arena

import (
	"testing"

	"github.com/hupe1980/pagedb/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, maxPools int) *Registry {
	t.Helper()
	r, err := NewRegistry(maxPools, WithPageSize(MinPageSize), WithPagesPerChunk(2))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRegistry_NumbersStartAtOne(t *testing.T) {
	r := newTestRegistry(t, 0)

	a, err := r.NewPool(10)
	require.NoError(t, err)
	b, err := r.NewPool(20)
	require.NoError(t, err)

	assert.Equal(t, uint8(1), a.Number())
	assert.Equal(t, uint8(2), b.Number())
	assert.Equal(t, uint64(20), b.ContainerID())

	got, err := r.PoolFor(10)
	require.NoError(t, err)
	assert.Same(t, a, got)

	_, err = r.NewPool(10)
	assert.ErrorIs(t, err, ErrContainerExists)
}

func TestRegistry_MaxPools(t *testing.T) {
	r := newTestRegistry(t, 3)

	for i := 0; i < 3; i++ {
		_, err := r.NewPool(uint64(i))
		require.NoError(t, err)
	}
	_, err := r.NewPool(99)
	assert.ErrorIs(t, err, ErrTooManyPools)
	assert.True(t, IsCapacity(err))

	// Destroyed numbers are not handed out again.
	require.NoError(t, r.DestroyPool(2))
	_, err = r.NewPool(99)
	assert.ErrorIs(t, err, ErrTooManyPools)
}

func TestRegistry_DefaultMaxPools(t *testing.T) {
	r := newTestRegistry(t, 0)

	for i := 0; i < core.MaxPools-1; i++ {
		_, err := r.NewPool(uint64(i))
		require.NoError(t, err)
	}
	_, err := r.NewPool(1000)
	assert.ErrorIs(t, err, ErrTooManyPools)
}

func TestRegistry_ResolveByID(t *testing.T) {
	r := newTestRegistry(t, 0)

	a, err := r.NewPool(1)
	require.NoError(t, err)
	b, err := r.NewPool(2)
	require.NoError(t, err)

	pa, ida, err := Allocate[point](a, core.TypeUser)
	require.NoError(t, err)
	pa.X = 1
	pb, idb, err := Allocate[point](b, core.TypeUser)
	require.NoError(t, err)
	pb.X = 2

	// Same page and offset in both pools; only the pool bits differ.
	assert.Equal(t, ida.Page(), idb.Page())
	assert.Equal(t, ida.Offset(), idb.Offset())

	got, err := ResolveByID[point](r, core.TypeUser, ida)
	require.NoError(t, err)
	assert.Equal(t, int32(1), got.X)

	got, err = ResolveByID[point](r, core.TypeUser, idb)
	require.NoError(t, err)
	assert.Equal(t, int32(2), got.X)

	_, err = ResolveByID[point](r, core.TypeUser, ida.WithPool(9))
	assert.ErrorIs(t, err, ErrPoolNotFound)

	_, err = ResolveByID[point](r, core.TypeUser, core.NilID)
	assert.ErrorIs(t, err, ErrInvalidHandle)
}

func TestRegistry_Current(t *testing.T) {
	r := newTestRegistry(t, 0)

	assert.Nil(t, r.Current())

	p, err := r.NewPool(1)
	require.NoError(t, err)
	require.NoError(t, r.SetCurrent(p.Number()))
	assert.Same(t, p, r.Current())

	assert.ErrorIs(t, r.SetCurrent(40), ErrPoolNotFound)

	require.NoError(t, r.DestroyPool(p.Number()))
	assert.Nil(t, r.Current())
}

func TestRegistry_DestroyPool(t *testing.T) {
	r := newTestRegistry(t, 0)

	p, err := r.NewPool(5)
	require.NoError(t, err)
	_, id, err := Allocate[point](p, core.TypeUser)
	require.NoError(t, err)

	require.NoError(t, r.DestroyPool(p.Number()))

	_, err = r.PoolFor(5)
	assert.ErrorIs(t, err, ErrPoolNotFound)
	_, err = ResolveByID[point](r, core.TypeUser, id)
	assert.ErrorIs(t, err, ErrPoolNotFound)
	assert.ErrorIs(t, r.DestroyPool(p.Number()), ErrPoolNotFound)

	// The container id can be reused under a fresh number.
	q, err := r.NewPool(5)
	require.NoError(t, err)
	assert.NotEqual(t, id.Pool(), q.Number())
}

func TestRegistry_PoolsAndStats(t *testing.T) {
	r := newTestRegistry(t, 0)

	for i := 0; i < 3; i++ {
		p, err := r.NewPool(uint64(100 + i))
		require.NoError(t, err)
		_, _, err = Allocate[point](p, core.TypeUser)
		require.NoError(t, err)
	}

	pools := r.Pools()
	require.Len(t, pools, 3)
	for i, p := range pools {
		assert.Equal(t, uint8(i+1), p.Number())
	}

	stats := r.Stats()
	require.Len(t, stats, 3)
	assert.Equal(t, uint64(101), stats[1].ContainerID)
	assert.Equal(t, uint64(1), stats[2].Allocs)
}

func TestRegistry_PoolOfAlias(t *testing.T) {
	r := newTestRegistry(t, 0)
	p, err := r.NewPool(1)
	require.NoError(t, err)
	c, id, err := Allocate[cell](p, core.TypeCell)
	require.NoError(t, err)
	c.Name = 9

	q := snapshot(t, p)
	require.NoError(t, r.Adopt(2, q))
	require.Equal(t, p.Number(), q.Alias())

	// Both pools answer to the old number.
	_, err = r.PoolOf(id)
	assert.ErrorIs(t, err, ErrAmbiguousHandle)
	_, err = ResolveByID[cell](r, core.TypeCell, id)
	assert.True(t, IsAddressing(err))

	got, err := r.PoolOf(id.WithPool(q.Number()))
	require.NoError(t, err)
	assert.Same(t, q, got)

	// Once the original is gone the alias is unique.
	require.NoError(t, r.DestroyPool(p.Number()))
	got, err = r.PoolOf(id)
	require.NoError(t, err)
	assert.Same(t, q, got)
	v, err := ResolveByID[cell](r, core.TypeCell, id)
	require.NoError(t, err)
	assert.Equal(t, uint32(9), v.Name)

	// Destroying the alias holder forgets the alias.
	require.NoError(t, r.DestroyPool(q.Number()))
	_, err = r.PoolOf(id)
	assert.ErrorIs(t, err, ErrPoolNotFound)
}
