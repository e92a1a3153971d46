package pagedb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/hupe1980/pagedb/blobstore"
	"github.com/hupe1980/pagedb/persistence"
	"github.com/hupe1980/pagedb/resource"
)

func remoteKey(kind Kind, name string) (string, error) {
	base, err := persistence.RelativeBase(kind, name)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(base), nil
}

// Published returns the committed generation of a container in the blob store.
func (db *DB) Published(ctx context.Context, kind Kind, name string) (blobstore.Commit, error) {
	if db.opts.store == nil {
		return blobstore.Commit{}, ErrNoStore
	}
	key, err := remoteKey(kind, name)
	if err != nil {
		return blobstore.Commit{}, containerError("published", kind, name, err)
	}
	c, err := db.opts.commits.Latest(ctx, key)
	return c, containerError("published", kind, name, err)
}

// Publish uploads the triad saved in the design directory as the next
// generation under "<container>/<generation>/" and commits it. Save the
// container first to publish its in-memory state.
//
// A publisher that loses the commit race gets an error wrapping
// blobstore.ErrConcurrentModification and its uploads are removed.
func (db *DB) Publish(ctx context.Context, kind Kind, name string) (blobstore.Commit, error) {
	var commit blobstore.Commit
	key, err := remoteKey(kind, name)
	if err == nil {
		commit, err = db.publish(ctx, kind, name, key)
	}
	db.opts.metrics.recordPublish(err)
	db.opts.logger.WithContainer(kind, name).LogPublish(ctx, key, commit.Generation, err)
	return commit, containerError("publish", kind, name, err)
}

func (db *DB) publish(ctx context.Context, kind Kind, name, key string) (blobstore.Commit, error) {
	if db.opts.store == nil {
		return blobstore.Commit{}, ErrNoStore
	}
	t, err := db.layout.Discover(db.opts.fs, kind, name)
	if err != nil {
		return blobstore.Commit{}, err
	}

	var gen uint64 = 1
	latest, err := db.opts.commits.Latest(ctx, key)
	switch {
	case err == nil:
		gen = latest.Generation + 1
	case errors.Is(err, blobstore.ErrNotFound):
	default:
		return blobstore.Commit{}, err
	}

	commit := blobstore.Commit{
		Generation: gen,
		Path:       path.Join(key, strconv.FormatUint(gen, 10)),
	}

	var uploaded []string
	cleanup := func() {
		for _, b := range uploaded {
			_ = db.opts.store.Delete(context.WithoutCancel(ctx), b)
		}
	}

	for _, file := range t.Files() {
		blobName := path.Join(commit.Path, filepath.Base(file))
		if err := db.upload(ctx, file, blobName); err != nil {
			cleanup()
			return blobstore.Commit{}, err
		}
		uploaded = append(uploaded, blobName)
	}

	if err := db.opts.commits.Commit(ctx, key, commit); err != nil {
		cleanup()
		return blobstore.Commit{}, err
	}
	return commit, nil
}

func (db *DB) upload(ctx context.Context, file, blobName string) error {
	f, err := db.opts.fs.OpenFile(file, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", persistence.ErrOpen, file, err)
	}
	defer f.Close()

	_, err = blobstore.Upload(ctx, db.opts.store, blobName, resource.NewRateLimitedReader(ctx, f, db.opts.controller))
	if err != nil {
		return fmt.Errorf("upload %s: %w", blobName, err)
	}
	return nil
}

// Fetch downloads the committed generation of a container into the design
// directory, replacing the local triad atomically, and loads it.
func (db *DB) Fetch(ctx context.Context, kind Kind, name string) (*Container, error) {
	var commit blobstore.Commit
	key, err := remoteKey(kind, name)
	if err == nil {
		commit, err = db.fetch(ctx, kind, name, key)
	}
	db.opts.metrics.recordFetch(err)
	db.opts.logger.WithContainer(kind, name).LogFetch(ctx, key, commit.Generation, err)
	if err != nil {
		return nil, containerError("fetch", kind, name, err)
	}
	return db.Load(ctx, kind, name)
}

func (db *DB) fetch(ctx context.Context, kind Kind, name, key string) (blobstore.Commit, error) {
	if db.opts.store == nil {
		return blobstore.Commit{}, ErrNoStore
	}
	if _, err := db.Container(kind, name); err == nil {
		return blobstore.Commit{}, ErrContainerExists
	}

	commit, err := db.opts.commits.Latest(ctx, key)
	if err != nil {
		return blobstore.Commit{}, err
	}
	names, err := db.opts.store.List(ctx, commit.Path+"/")
	if err != nil {
		return blobstore.Commit{}, err
	}

	rel, err := remoteTriad(kind, name, commit.Path, names)
	if err != nil {
		return blobstore.Commit{}, err
	}

	files := make(map[string]func(io.Writer) error, 3)
	for _, file := range rel.Files() {
		blobName := path.Join(commit.Path, filepath.Base(file))
		files[file] = func(w io.Writer) error {
			return db.download(ctx, blobName, w)
		}
	}
	if err := persistence.AtomicSaveToDir(db.opts.fs, db.layout.Dir, files); err != nil {
		return blobstore.Commit{}, err
	}
	persistence.RemoveStaleSideFiles(db.opts.fs, db.layout, kind, name, rel.Ext)
	return commit, nil
}

// remoteTriad finds the relative triad whose files are all present in a
// generation listing.
func remoteTriad(kind Kind, name, prefix string, names []string) (persistence.Triad, error) {
	for _, ext := range persistence.SideFileExts {
		rel, err := persistence.RelativeTriad(kind, name, ext)
		if err != nil {
			return persistence.Triad{}, err
		}
		complete := true
		for _, file := range rel.Files() {
			if !slices.Contains(names, path.Join(prefix, filepath.Base(file))) {
				complete = false
				break
			}
		}
		if complete {
			return rel, nil
		}
	}
	return persistence.Triad{}, fmt.Errorf("%w: incomplete generation %s", blobstore.ErrNotFound, prefix)
}

func (db *DB) download(ctx context.Context, blobName string, w io.Writer) error {
	b, err := db.opts.store.Open(ctx, blobName)
	if err != nil {
		return fmt.Errorf("open %s: %w", blobName, err)
	}
	defer b.Close()

	rc, err := b.ReadRange(ctx, 0, b.Size())
	if err != nil {
		return fmt.Errorf("read %s: %w", blobName, err)
	}
	defer rc.Close()

	n, err := io.Copy(w, resource.NewRateLimitedReader(ctx, rc, db.opts.controller))
	if err != nil {
		return fmt.Errorf("read %s: %w", blobName, err)
	}
	if n != b.Size() {
		return fmt.Errorf("%w: %s: got %d of %d bytes", persistence.ErrSize, blobName, n, b.Size())
	}
	return nil
}
