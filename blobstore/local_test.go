package blobstore

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_Triad(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := NewLocalStore(root)

	image := []byte("header|pages of the top design")
	n, err := Upload(ctx, store, "top/1/top.db", bytes.NewReader(image))
	require.NoError(t, err)
	assert.Equal(t, int64(len(image)), n)
	require.NoError(t, store.Put(ctx, "top/1/top.sym.lz4", []byte("sym")))
	require.NoError(t, store.Put(ctx, "top/1/top.poly.lz4", []byte("poly")))
	require.NoError(t, store.Put(ctx, "Libs/tech/1/tech.db", []byte("tech")))

	assert.FileExists(t, filepath.Join(root, "top", "1", "top.db"))

	names, err := store.List(ctx, "top/")
	require.NoError(t, err)
	assert.Equal(t, []string{"top/1/top.db", "top/1/top.poly.lz4", "top/1/top.sym.lz4"}, names)

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, "Libs/tech/1/tech.db", all[0])

	b, err := store.Open(ctx, "top/1/top.db")
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, int64(len(image)), b.Size())

	head := make([]byte, 6)
	_, err = b.ReadAt(ctx, head, 0)
	require.NoError(t, err)
	assert.Equal(t, "header", string(head))

	m, ok := b.(Mappable)
	require.True(t, ok)
	mapped, err := m.Bytes()
	require.NoError(t, err)
	assert.Equal(t, image, mapped)

	require.NoError(t, store.Delete(ctx, "top/1/top.sym.lz4"))
	_, err = store.Open(ctx, "top/1/top.sym.lz4")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, store.Delete(ctx, "top/1/top.sym.lz4"))
}

func TestLocalStore_Ranges(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(t.TempDir())
	require.NoError(t, store.Put(ctx, "r.bin", []byte("0123456789")))

	b, err := store.Open(ctx, "r.bin")
	require.NoError(t, err)
	defer b.Close()

	tests := []struct {
		name     string
		off, len int64
		want     string
		err      error
	}{
		{"Whole", 0, 10, "0123456789", nil},
		{"Middle", 3, 4, "3456", nil},
		{"ClippedTail", 8, 5, "89", nil},
		{"Empty", 4, 0, "", nil},
		{"AtEnd", 10, 0, "", nil},
		{"PastEnd", 20, 5, "", io.EOF},
		{"Negative", -1, 2, "", io.EOF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := b.ReadRange(ctx, tt.off, tt.len)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			defer r.Close()
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}

	buf := make([]byte, 4)
	n, err := b.ReadAt(ctx, buf, 8)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 2, n)

	got, err := io.ReadAll(io.NewSectionReader(ReaderAt(ctx, b), 2, 3))
	require.NoError(t, err)
	assert.Equal(t, "234", string(got))
}

func TestLocalStore_PendingWrites(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := NewLocalStore(root)

	require.NoError(t, store.Put(ctx, "done.db", []byte("x")))

	pending, err := store.Create(ctx, "pending.db")
	require.NoError(t, err)
	_, err = pending.Write([]byte("partial"))
	require.NoError(t, err)

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"done.db"}, names)
	_, err = store.Open(ctx, "pending.db")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, pending.(interface{ Abort() error }).Abort())
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "done.db", entries[0].Name())

	_, err = pending.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestLocalStore_MissingRoot(t *testing.T) {
	store := NewLocalStore(filepath.Join(t.TempDir(), "missing"))

	names, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}
