package persistence

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"slices"

	"github.com/hupe1980/pagedb/core"
	"github.com/hupe1980/pagedb/internal/arena"
	"github.com/hupe1980/pagedb/internal/fs"
	"github.com/hupe1980/pagedb/internal/mmap"
	"github.com/hupe1980/pagedb/internal/polygon"
	"github.com/hupe1980/pagedb/internal/symbol"
	"github.com/hupe1980/pagedb/internal/wire"
	"github.com/hupe1980/pagedb/resource"
)

// Contents is what a triad stores: a pool with its entry object, the
// symbol table and the polygon table.
type Contents struct {
	Pool     *arena.Pool
	Root     core.ObjectID
	Symbols  *symbol.Table
	Polygons *polygon.Table
}

// SaveResult reports a completed triad save.
type SaveResult struct {
	Triad Triad
	Bytes int64
}

// SaveTriad writes the three files of a container below l.Dir. Either all of
// them are replaced or none is; see AtomicSaveToDir. The files share a
// random save token, so a triad mixed from two saves fails to load with
// ErrTriadMismatch. Side files left from a different compression are removed
// afterwards.
func SaveTriad(ctx context.Context, l Layout, kind Kind, name string, c Contents, opts ...Option) (SaveResult, error) {
	token := rand.Uint64()
	for token == 0 {
		token = rand.Uint64()
	}
	opts = append(slices.Clip(opts), withSaveToken(token))
	o := newOptions(opts)
	rel, err := RelativeTriad(kind, name, o.sideExt)
	if err != nil {
		return SaveResult{}, err
	}
	if c.Pool == nil || c.Symbols == nil || c.Polygons == nil {
		return SaveResult{}, errors.New("persistence: incomplete triad contents")
	}

	var written [3]int64
	files := map[string]func(io.Writer) error{
		rel.Image: func(w io.Writer) error {
			n, err := WriteImage(ctx, w, c.Pool, c.Root, opts...)
			written[0] = n
			return err
		},
		rel.Symbols: func(w io.Writer) error {
			n, err := writeSide(ctx, w, o, c.Symbols)
			written[1] = n
			return err
		},
		rel.Polygons: func(w io.Writer) error {
			n, err := writeSide(ctx, w, o, c.Polygons)
			written[2] = n
			return err
		},
	}
	if err := AtomicSaveToDir(o.fs, l.Dir, files); err != nil {
		return SaveResult{}, err
	}

	RemoveStaleSideFiles(o.fs, l, kind, name, o.sideExt)

	t, _ := l.Triad(kind, name, o.sideExt)
	return SaveResult{Triad: t, Bytes: written[0] + written[1] + written[2]}, nil
}

// RemoveStaleSideFiles deletes the side files of a container whose extension
// is not keep. Errors are ignored.
func RemoveStaleSideFiles(fsys fs.FileSystem, l Layout, kind Kind, name, keep string) {
	if fsys == nil {
		fsys = fs.Default
	}
	for _, ext := range SideFileExts {
		if ext == keep {
			continue
		}
		if stale, err := l.Triad(kind, name, ext); err == nil {
			_ = fsys.Remove(stale.Symbols)
			_ = fsys.Remove(stale.Polygons)
		}
	}
}

// writeSide writes the side-file prefix and then the table through the
// stream codec. It returns the uncompressed table byte count.
func writeSide(ctx context.Context, w io.Writer, o options, wt io.WriterTo) (int64, error) {
	w = resource.NewRateLimitedWriter(ctx, w, o.controller)
	pw := wire.NewWriter(w)
	pw.U32(SideMagic)
	pw.U64(o.token)
	if err := pw.Err(); err != nil {
		return 0, err
	}

	sw, err := NewStreamWriter(w, o.sideExt)
	if err != nil {
		return 0, err
	}
	n, err := wt.WriteTo(sw)
	if err != nil {
		_ = sw.Close()
		return n, err
	}
	return n, sw.Close()
}

// LoadTriad reads the triad of a container. The pool is returned detached;
// the caller adopts it into a registry or closes it.
func LoadTriad(ctx context.Context, l Layout, kind Kind, name string, opts ...Option) (Contents, *Image, error) {
	o := newOptions(opts)
	t, err := l.Discover(o.fs, kind, name)
	if err != nil {
		return Contents{}, nil, err
	}
	return LoadFiles(ctx, t, opts...)
}

// LoadFiles reads a triad from explicit paths. All three files must carry
// the token of the same save.
func LoadFiles(ctx context.Context, t Triad, opts ...Option) (Contents, *Image, error) {
	o := newOptions(opts)

	syms, symToken, err := readSide(ctx, o, t.Symbols, t.Ext, symbol.Read)
	if err != nil {
		return Contents{}, nil, err
	}
	polys, polyToken, err := readSide(ctx, o, t.Polygons, t.Ext, polygon.Read)
	if err != nil {
		return Contents{}, nil, err
	}

	p, im, err := ReadImageFile(ctx, t.Image, opts...)
	if err != nil {
		return Contents{}, nil, err
	}
	for _, side := range []struct {
		path  string
		token uint64
	}{{t.Symbols, symToken}, {t.Polygons, polyToken}} {
		if side.token != im.Token {
			_ = p.Close()
			return Contents{}, nil, fmt.Errorf("%w: %s has token %016x, image %s has %016x", ErrTriadMismatch, side.path, side.token, t.Image, im.Token)
		}
	}
	return Contents{Pool: p, Root: im.Root, Symbols: syms, Polygons: polys}, im, nil
}

// ReadImageFile loads the image at path. Local files are mapped read-only.
func ReadImageFile(ctx context.Context, path string, opts ...Option) (*arena.Pool, *Image, error) {
	f, err := openImage(newOptions(opts).fs, path, mmap.AccessSequential)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	p, im, err := ReadImage(ctx, f, f.size, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, im, nil
}

// InspectImageFile verifies and decodes the header of the image at path.
func InspectImageFile(path string, opts ...Option) (*Image, error) {
	f, err := openImage(newOptions(opts).fs, path, mmap.AccessRandom)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	im, err := InspectImage(f, f.size)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return im, nil
}

// imageFile is an image opened for reading.
type imageFile struct {
	io.ReaderAt
	size  int64
	close func() error
}

func (f *imageFile) Close() error { return f.close() }

// openImage opens path through fsys. Files of the local file system are
// mapped; others are read through their ReaderAt.
func openImage(fsys fs.FileSystem, path string, pattern mmap.AccessPattern) (*imageFile, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpen, path, err)
	}

	if osf, ok := f.(*os.File); ok {
		m, err := mmap.Map(osf)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrOpen, path, err)
		}
		_ = m.Advise(pattern)
		return &imageFile{ReaderAt: m, size: int64(m.Size()), close: m.Close}, nil
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrOpen, path, err)
	}
	return &imageFile{ReaderAt: f, size: info.Size(), close: f.Close}, nil
}

// readSide checks the side-file prefix, then decodes the table. It returns
// the save token from the prefix.
func readSide[T any](ctx context.Context, o options, path, ext string, read func(io.Reader) (T, error)) (T, uint64, error) {
	var zero T

	f, err := o.fs.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return zero, 0, fmt.Errorf("%w: %s: %w", ErrOpen, path, err)
	}
	defer f.Close()

	var r io.Reader = bufio.NewReaderSize(resource.NewRateLimitedReader(ctx, f, o.controller), writeBufferSize)
	pr := wire.NewReader(r)
	magic := pr.U32()
	token := pr.U64()
	if err := pr.Err(); err != nil {
		if errors.Is(err, wire.ErrShort) {
			err = fmt.Errorf("%w: %w", ErrSize, err)
		}
		return zero, 0, fmt.Errorf("%s: side-file prefix: %w", path, err)
	}
	if magic != SideMagic {
		return zero, 0, fmt.Errorf("%s: %w: 0x%08x", path, ErrInvalidMagic, magic)
	}

	sr, err := NewStreamReader(r, ext)
	if err != nil {
		return zero, 0, fmt.Errorf("%s: %w", path, err)
	}
	defer sr.Close()

	v, err := read(sr)
	if err != nil {
		if errors.Is(err, wire.ErrShort) || errors.Is(err, wire.ErrLength) {
			err = fmt.Errorf("%w: %w", ErrSize, err)
		}
		return zero, 0, fmt.Errorf("%s: %w", path, err)
	}
	return v, token, nil
}

// RemoveTriad deletes the files of a container. Missing files are ignored.
func RemoveTriad(fsys fs.FileSystem, l Layout, kind Kind, name string) error {
	if fsys == nil {
		fsys = fs.Default
	}
	var errs []error
	for _, ext := range SideFileExts {
		t, err := l.Triad(kind, name, ext)
		if err != nil {
			return err
		}
		for _, path := range t.Files() {
			if err := fsys.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
