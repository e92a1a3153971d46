package pagedb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pagedb/blobstore"
)

func saveDesign(t *testing.T, db *DB, name string, values ...int32) *Container {
	t.Helper()

	c, err := db.Create(KindDesign, name)
	require.NoError(t, err)
	arr, err := NewArray[int32](c)
	require.NoError(t, err)
	for _, v := range values {
		require.NoError(t, arr.PushBack(v))
	}
	c.SetRoot(arr.ID())
	_, err = c.Symbols().GetOrCreate(name)
	require.NoError(t, err)

	_, err = db.Save(context.Background(), c)
	require.NoError(t, err)
	return c
}

func TestPublishFetch(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	src := openTestDB(t, t.TempDir(), WithStore(store))
	c := saveDesign(t, src, "top", 1, 2, 3)

	commit, err := src.Publish(ctx, KindDesign, "top")
	require.NoError(t, err)
	assert.Equal(t, blobstore.Commit{Generation: 1, Path: "top/1"}, commit)

	names, err := store.List(ctx, "top/1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"top/1/top.db", "top/1/top.poly.lz4", "top/1/top.sym.lz4"}, names)

	arr, err := OpenArray[int32](c, c.Root())
	require.NoError(t, err)
	require.NoError(t, arr.PushBack(4))
	_, err = src.Save(ctx, c)
	require.NoError(t, err)

	commit, err = src.Publish(ctx, KindDesign, "top")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), commit.Generation)

	latest, err := src.Published(ctx, KindDesign, "top")
	require.NoError(t, err)
	assert.Equal(t, commit, latest)

	dir := t.TempDir()
	dst := openTestDB(t, dir, WithStore(store))
	got, err := dst.Fetch(ctx, KindDesign, "top")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "top.db"))

	loaded, err := OpenArray[int32](got, got.Root())
	require.NoError(t, err)
	require.Equal(t, 4, loaded.Len())
	v, err := loaded.At(3)
	require.NoError(t, err)
	assert.Equal(t, int32(4), v)
	_, ok := got.Symbols().Lookup("top")
	assert.True(t, ok)

	_, err = dst.Fetch(ctx, KindDesign, "top")
	assert.ErrorIs(t, err, ErrContainerExists)
}

func TestPublishFetch_Library(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	src := openTestDB(t, t.TempDir(), WithStore(store))
	tech, err := src.Create(KindTech, "")
	require.NoError(t, err)
	_, err = tech.Symbols().GetOrCreate("poly")
	require.NoError(t, err)
	_, err = src.Save(ctx, tech)
	require.NoError(t, err)

	commit, err := src.Publish(ctx, KindTech, "")
	require.NoError(t, err)
	assert.Equal(t, "Libs/tech/1", commit.Path)

	dir := t.TempDir()
	dst := openTestDB(t, dir, WithStore(store))
	got, err := dst.Fetch(ctx, KindTech, "")
	require.NoError(t, err)
	_, ok := got.Symbols().Lookup("poly")
	assert.True(t, ok)
	assert.FileExists(t, filepath.Join(dir, "Libs", "tech.sym.lz4"))
}

func TestFetch_ReplacesStaleSideFiles(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	src := openTestDB(t, t.TempDir(), WithStore(store))
	saveDesign(t, src, "top", 7)
	_, err := src.Publish(ctx, KindDesign, "top")
	require.NoError(t, err)

	dir := t.TempDir()
	dst := openTestDB(t, dir, WithStore(store), WithSideFileExt("gz"))
	old := saveDesign(t, dst, "top", 1, 1, 1)
	require.NoError(t, dst.Drop(old))
	require.FileExists(t, filepath.Join(dir, "top.sym.gz"))

	got, err := dst.Fetch(ctx, KindDesign, "top")
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "top.sym.gz"))
	assert.NoFileExists(t, filepath.Join(dir, "top.poly.gz"))
	assert.FileExists(t, filepath.Join(dir, "top.sym.lz4"))

	arr, err := OpenArray[int32](got, got.Root())
	require.NoError(t, err)
	assert.Equal(t, 1, arr.Len())
}

func TestPublish_NoStore(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, t.TempDir())
	saveDesign(t, db, "top")

	_, err := db.Publish(ctx, KindDesign, "top")
	assert.ErrorIs(t, err, ErrNoStore)
	_, err = db.Fetch(ctx, KindDesign, "top")
	assert.ErrorIs(t, err, ErrNoStore)
	_, err = db.Published(ctx, KindDesign, "top")
	assert.ErrorIs(t, err, ErrNoStore)
}

func TestPublish_NotSaved(t *testing.T) {
	store := blobstore.NewMemoryStore()
	db := openTestDB(t, t.TempDir(), WithStore(store))
	_, err := db.Create(KindDesign, "top")
	require.NoError(t, err)

	_, err = db.Publish(context.Background(), KindDesign, "top")
	assert.Error(t, err)

	names, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestFetch_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("NothingPublished", func(t *testing.T) {
		db := openTestDB(t, t.TempDir(), WithStore(blobstore.NewMemoryStore()))
		_, err := db.Fetch(ctx, KindDesign, "top")
		assert.True(t, IsNotFound(err))
	})

	t.Run("IncompleteGeneration", func(t *testing.T) {
		store := blobstore.NewMemoryStore()
		src := openTestDB(t, t.TempDir(), WithStore(store))
		saveDesign(t, src, "top", 1)
		_, err := src.Publish(ctx, KindDesign, "top")
		require.NoError(t, err)
		require.NoError(t, store.Delete(ctx, "top/1/top.poly.lz4"))

		dir := t.TempDir()
		dst := openTestDB(t, dir, WithStore(store))
		_, err = dst.Fetch(ctx, KindDesign, "top")
		assert.True(t, IsNotFound(err))
		assert.NoFileExists(t, filepath.Join(dir, "top.db"))
	})

	t.Run("CorruptBlob", func(t *testing.T) {
		store := blobstore.NewMemoryStore()
		src := openTestDB(t, t.TempDir(), WithStore(store))
		saveDesign(t, src, "top", 1)
		_, err := src.Publish(ctx, KindDesign, "top")
		require.NoError(t, err)

		data, err := blobstore.ReadAll(ctx, store, "top/1/top.db")
		require.NoError(t, err)
		data[12] ^= 1
		require.NoError(t, store.Put(ctx, "top/1/top.db", data))

		dst := openTestDB(t, t.TempDir(), WithStore(store))
		_, err = dst.Fetch(ctx, KindDesign, "top")
		assert.True(t, IsIntegrity(err))
		assert.Empty(t, dst.Containers())
	})
}

type conflictingLog struct{}

func (conflictingLog) Latest(context.Context, string) (blobstore.Commit, error) {
	return blobstore.Commit{}, blobstore.ErrNotFound
}

func (conflictingLog) Commit(_ context.Context, key string, c blobstore.Commit) error {
	return fmt.Errorf("%w: %s generation %d", blobstore.ErrConcurrentModification, key, c.Generation)
}

func TestPublish_ConflictRemovesUploads(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	db := openTestDB(t, t.TempDir(), WithStore(store), WithCommitLog(conflictingLog{}))
	saveDesign(t, db, "top", 1)

	_, err := db.Publish(ctx, KindDesign, "top")
	assert.ErrorIs(t, err, blobstore.ErrConcurrentModification)

	names, err := store.List(ctx, "top/")
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.Zero(t, store.Len())
}

func TestPublish_LocalStore(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := blobstore.NewLocalStore(root)

	src := openTestDB(t, t.TempDir(), WithStore(store))
	saveDesign(t, src, "top", 5, 6)
	_, err := src.Publish(ctx, KindDesign, "top")
	require.NoError(t, err)

	current, err := os.ReadFile(filepath.Join(root, "top", "CURRENT"))
	require.NoError(t, err)
	assert.Equal(t, "1\ntop/1\n", string(current))

	dst := openTestDB(t, t.TempDir(), WithStore(store))
	got, err := dst.Fetch(ctx, KindDesign, "top")
	require.NoError(t, err)
	arr, err := OpenArray[int32](got, got.Root())
	require.NoError(t, err)
	assert.Equal(t, 2, arr.Len())
}
