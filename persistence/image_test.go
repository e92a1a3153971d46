package persistence

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/hupe1980/pagedb/core"
	"github.com/hupe1980/pagedb/internal/arena"
	"github.com/hupe1980/pagedb/internal/container"
	"github.com/hupe1980/pagedb/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Key   uint64
	Next  core.ObjectID
	Value [48]byte
}

func newRegistry(t *testing.T) *arena.Registry {
	t.Helper()

	r, err := arena.NewRegistry(0, arena.WithPageSize(arena.MinPageSize), arena.WithPagesPerChunk(2))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// fillPool allocates n linked records. Values are random when noisy is set,
// which keeps chunks incompressible.
func fillPool(t *testing.T, p *arena.Pool, n int, noisy bool) []core.ObjectID {
	t.Helper()

	rng := rand.New(rand.NewPCG(1, 2))
	ids := make([]core.ObjectID, n)
	var prev core.ObjectID
	for i := range ids {
		rec, id, err := arena.Allocate[record](p, core.TypeUser)
		require.NoError(t, err)
		rec.Key = uint64(i)
		rec.Next = prev
		for j := range rec.Value {
			if noisy {
				rec.Value[j] = byte(rng.Uint32())
			} else {
				rec.Value[j] = byte(i)
			}
		}
		ids[i] = id
		prev = id
	}
	return ids
}

func writeImage(t *testing.T, p *arena.Pool, root core.ObjectID, opts ...Option) []byte {
	t.Helper()

	var buf bytes.Buffer
	n, err := WriteImage(context.Background(), &buf, p, root, opts...)
	require.NoError(t, err)
	require.Equal(t, int64(buf.Len()), n)
	return buf.Bytes()
}

func readImage(data []byte, opts ...Option) (*arena.Pool, *Image, error) {
	return ReadImage(context.Background(), bytes.NewReader(data), int64(len(data)), opts...)
}

func headerLen(data []byte) int {
	return int(binary.LittleEndian.Uint32(data[len(data)-trailerSize:]))
}

// rewriteHeader edits the header in place and fixes up the trailer checksum.
func rewriteHeader(data []byte, edit func(h []byte)) []byte {
	out := bytes.Clone(data)
	h := out[:headerLen(out)]
	edit(h)
	binary.LittleEndian.PutUint32(out[len(out)-4:], ComputeChecksum(h))
	return out
}

func TestImage_RoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		for _, noisy := range []bool{false, true} {
			t.Run(fmt.Sprintf("%s/noisy=%v", c, noisy), func(t *testing.T) {
				r := newRegistry(t)
				p, err := r.NewPool(1)
				require.NoError(t, err)

				ids := fillPool(t, p, 300, noisy)
				require.NoError(t, p.Free(core.TypeUser, ids[5]))
				require.NoError(t, p.Free(core.TypeUser, ids[6]))

				data := writeImage(t, p, ids[len(ids)-1], WithCompression(c), WithWorkers(3))

				q, im, err := readImage(data)
				require.NoError(t, err)
				defer q.Close()

				assert.Equal(t, CurrentVersion, im.Version)
				assert.Equal(t, c, im.Compression)
				assert.Equal(t, ids[len(ids)-1], im.Root)
				assert.Equal(t, p.Number(), im.PoolNo())
				assert.Equal(t, int64(len(data)), im.Size)

				want, err := p.Header()
				require.NoError(t, err)
				got, err := q.Header()
				require.NoError(t, err)
				assert.Equal(t, want, got)

				src, dst := p.ChunkData(), q.ChunkData()
				require.Len(t, dst, len(src))
				for i := range src {
					assert.True(t, bytes.Equal(src[i], dst[i]), "chunk %d", i)
				}

				r2 := newRegistry(t)
				require.NoError(t, r2.Adopt(1, q))
				rec, err := arena.ResolveByID[record](r2, core.TypeUser, im.Root)
				require.NoError(t, err)
				assert.Equal(t, uint64(len(ids)-1), rec.Key)
				assert.Equal(t, ids[len(ids)-2], rec.Next)

				_, err = arena.ResolveByID[record](r2, core.TypeUser, ids[5])
				assert.ErrorIs(t, err, arena.ErrFreedSlot)
			})
		}
	}
}

func TestImage_CompressionShrinksRegularContent(t *testing.T) {
	r := newRegistry(t)
	p, err := r.NewPool(1)
	require.NoError(t, err)
	fillPool(t, p, 200, false)

	raw := writeImage(t, p, core.NilID, WithCompression(CompressionNone))
	lz := writeImage(t, p, core.NilID, WithCompression(CompressionLZ4))
	zs := writeImage(t, p, core.NilID, WithCompression(CompressionZSTD))

	assert.Less(t, len(lz), len(raw))
	assert.Less(t, len(zs), len(raw))
}

func TestImage_DeterministicOutput(t *testing.T) {
	r := newRegistry(t)
	p, err := r.NewPool(1)
	require.NoError(t, err)
	fillPool(t, p, 100, true)

	a := writeImage(t, p, core.NilID, WithWorkers(1))
	b := writeImage(t, p, core.NilID, WithWorkers(8))
	assert.Equal(t, a, b)
}

func TestImage_EmptyPool(t *testing.T) {
	r := newRegistry(t)
	p, err := r.NewPool(1)
	require.NoError(t, err)

	data := writeImage(t, p, core.NilID)
	q, im, err := readImage(data)
	require.NoError(t, err)
	defer q.Close()

	assert.Empty(t, im.Header.ChunkSizes)
	assert.Zero(t, im.ContentBytes())
	assert.Equal(t, 0, q.Stats().Chunks)
}

func TestImage_TwoPoolArray(t *testing.T) {
	r := newRegistry(t)
	_, err := r.NewPool(1)
	require.NoError(t, err)
	p2, err := r.NewPool(2)
	require.NoError(t, err)

	arr, err := container.NewArray[int32](p2)
	require.NoError(t, err)
	require.NoError(t, arr.Reserve(10))
	for i := range 40 {
		require.NoError(t, arr.PushBack(int32(i*3+1)))
	}

	data := writeImage(t, p2, arr.ID())

	q, im, err := readImage(data)
	require.NoError(t, err)
	fresh := newRegistry(t)
	require.NoError(t, fresh.Adopt(2, q))

	loaded, err := container.OpenArray[int32](q, im.Root)
	require.NoError(t, err)
	assert.Equal(t, 40, loaded.Len())
	assert.Equal(t, 64, loaded.Cap())

	last, err := loaded.At(39)
	require.NoError(t, err)
	assert.Equal(t, int32(39*3+1), last)
}

func TestImage_HeaderFlipsAreDetected(t *testing.T) {
	r := newRegistry(t)
	p, err := r.NewPool(1)
	require.NoError(t, err)
	ids := fillPool(t, p, 50, false)
	require.NoError(t, p.Free(core.TypeUser, ids[0]))

	data := writeImage(t, p, ids[1])
	n := headerLen(data)
	require.Greater(t, n, 0)

	for i := 0; i < n; i++ {
		corrupt := bytes.Clone(data)
		corrupt[i] ^= 0x5a

		_, _, err := readImage(corrupt)
		require.ErrorIs(t, err, ErrChecksum, "byte %d", i)
		assert.True(t, IsChecksumMismatch(err))
		assert.True(t, IsIntegrity(err))
	}
}

func TestImage_TrailerFlip(t *testing.T) {
	r := newRegistry(t)
	p, err := r.NewPool(1)
	require.NoError(t, err)
	fillPool(t, p, 10, false)

	data := writeImage(t, p, core.NilID)
	corrupt := bytes.Clone(data)
	corrupt[len(corrupt)-1] ^= 0xff

	_, _, err = readImage(corrupt)
	assert.ErrorIs(t, err, ErrChecksum)
}

func TestImage_Truncated(t *testing.T) {
	r := newRegistry(t)
	p, err := r.NewPool(1)
	require.NoError(t, err)
	fillPool(t, p, 40, true)

	data := writeImage(t, p, core.NilID)
	n := headerLen(data)

	t.Run("smaller than trailer", func(t *testing.T) {
		_, _, err := readImage(data[:4])
		assert.ErrorIs(t, err, ErrSize)
	})

	t.Run("empty", func(t *testing.T) {
		_, _, err := readImage(nil)
		assert.ErrorIs(t, err, ErrSize)
	})

	t.Run("short content", func(t *testing.T) {
		short := append(bytes.Clone(data[:len(data)-trailerSize-16]), data[len(data)-trailerSize:]...)
		_, _, err := readImage(short)
		assert.ErrorIs(t, err, ErrSize)
	})

	t.Run("trailing garbage in content", func(t *testing.T) {
		long := append(bytes.Clone(data[:len(data)-trailerSize]), 1, 2, 3)
		long = append(long, data[len(data)-trailerSize:]...)
		_, _, err := readImage(long)
		assert.ErrorIs(t, err, ErrSize)
	})

	t.Run("header length beyond file", func(t *testing.T) {
		bad := bytes.Clone(data)
		binary.LittleEndian.PutUint32(bad[len(bad)-trailerSize:], uint32(len(bad)))
		_, _, err := readImage(bad)
		assert.ErrorIs(t, err, ErrSize)
	})

	t.Run("header cut short", func(t *testing.T) {
		bad := bytes.Clone(data[:n-4])
		var trailer [trailerSize]byte
		binary.LittleEndian.PutUint32(trailer[0:], uint32(n-4))
		binary.LittleEndian.PutUint32(trailer[4:], ComputeChecksum(bad))
		bad = append(bad, trailer[:]...)
		_, _, err := readImage(bad)
		assert.ErrorIs(t, err, ErrSize)
	})
}

func TestImage_MagicAndVersion(t *testing.T) {
	r := newRegistry(t)
	p, err := r.NewPool(1)
	require.NoError(t, err)
	fillPool(t, p, 10, false)
	data := writeImage(t, p, core.NilID)

	t.Run("magic", func(t *testing.T) {
		bad := rewriteHeader(data, func(h []byte) { h[0] = 'X' })
		_, _, err := readImage(bad)
		assert.ErrorIs(t, err, ErrInvalidMagic)
		assert.True(t, IsIntegrity(err))
	})

	t.Run("major version", func(t *testing.T) {
		bad := rewriteHeader(data, func(h []byte) {
			binary.LittleEndian.PutUint16(h[4:], CurrentVersion.Major+1)
		})
		_, _, err := readImage(bad)
		assert.ErrorIs(t, err, ErrInvalidVersion)
	})

	t.Run("minor and revision are accepted", func(t *testing.T) {
		ok := rewriteHeader(data, func(h []byte) {
			binary.LittleEndian.PutUint16(h[6:], CurrentVersion.Minor+3)
			binary.LittleEndian.PutUint16(h[8:], CurrentVersion.Revision+7)
		})
		q, im, err := readImage(ok)
		require.NoError(t, err)
		defer q.Close()
		assert.Equal(t, CurrentVersion.Minor+3, im.Version.Minor)
	})

	t.Run("unknown compression", func(t *testing.T) {
		bad := rewriteHeader(data, func(h []byte) { h[26] = 9 })
		_, _, err := readImage(bad)
		assert.ErrorIs(t, err, ErrUnknownCompression)
	})
}

func TestImage_InspectSkipsContent(t *testing.T) {
	r := newRegistry(t)
	p, err := r.NewPool(3)
	require.NoError(t, err)
	fillPool(t, p, 100, false)

	data := writeImage(t, p, core.NilID)
	// Damage the content only: inspection still succeeds, a full read does not.
	short := append(bytes.Clone(data[:len(data)-trailerSize-1]), data[len(data)-trailerSize:]...)

	im, err := InspectImage(bytes.NewReader(short), int64(len(short)))
	require.NoError(t, err)
	assert.Equal(t, p.Number(), im.PoolNo())
	assert.Equal(t, uint32(arena.MinPageSize), im.Header.PageSize)
	assert.Equal(t, uint64(p.Stats().BytesReserved), im.ContentBytes())

	_, _, err = readImage(short)
	assert.ErrorIs(t, err, ErrSize)
}

func TestImage_RestoredPoolUsesArenaOptions(t *testing.T) {
	r := newRegistry(t)
	p, err := r.NewPool(1)
	require.NoError(t, err)
	fillPool(t, p, 20, false)
	data := writeImage(t, p, core.NilID)

	rc := resource.NewController(resource.Config{MemoryLimitBytes: arena.MinPageSize})
	_, _, err = readImage(data, WithArenaOptions(arena.WithMemoryAcquirer(rc)))
	assert.ErrorIs(t, err, arena.ErrAllocationFailed)
	assert.Zero(t, rc.MemoryUsage())

	rc = resource.NewController(resource.Config{MemoryLimitBytes: 1 << 20, MaxWorkers: 2})
	q, _, err := readImage(data, WithArenaOptions(arena.WithMemoryAcquirer(rc)), WithController(rc))
	require.NoError(t, err)
	assert.Equal(t, int64(p.Stats().BytesReserved), rc.MemoryUsage())
	require.NoError(t, q.Close())
	assert.Zero(t, rc.MemoryUsage())
}

func TestImage_UnknownWriteCompression(t *testing.T) {
	r := newRegistry(t)
	p, err := r.NewPool(1)
	require.NoError(t, err)

	_, err = WriteImage(context.Background(), &bytes.Buffer{}, p, core.NilID, WithCompression(Compression(7)))
	assert.ErrorIs(t, err, ErrUnknownCompression)
}

func TestImage_CanceledContext(t *testing.T) {
	r := newRegistry(t)
	p, err := r.NewPool(1)
	require.NoError(t, err)
	fillPool(t, p, 100, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = WriteImage(ctx, &bytes.Buffer{}, p, core.NilID)
	assert.ErrorIs(t, err, context.Canceled)
}
