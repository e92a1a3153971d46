package persistence

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/hupe1980/pagedb/internal/fs"
)

const writeBufferSize = 256 * 1024

// createTemp opens a new temp file next to target.
func createTemp(fsys fs.FileSystem, target string) (fs.File, string, error) {
	for range 10 {
		name := target + ".tmp-" + strconv.FormatUint(rand.Uint64(), 36)
		f, err := fsys.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, name, nil
		}
		if !os.IsExist(err) {
			return nil, "", err
		}
	}
	return nil, "", fmt.Errorf("persistence: no free temp name for %s", target)
}

// writeTemp writes one temp file through a buffer and syncs it.
func writeTemp(fsys fs.FileSystem, target string, writeFunc func(io.Writer) error) (string, error) {
	tmp, name, err := createTemp(fsys, target)
	if err != nil {
		return "", err
	}

	buf := bufio.NewWriterSize(tmp, writeBufferSize)
	if err := writeFunc(buf); err != nil {
		_ = tmp.Close()
		return name, err
	}
	if err := buf.Flush(); err != nil {
		_ = tmp.Close()
		return name, err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return name, err
	}
	return name, tmp.Close()
}

// AtomicSaveToDir saves multiple files below dir. Every file is written and
// synced to a temp file first, and only when all of them succeeded are they
// renamed into place. An existing target is moved aside before its
// replacement lands; when a rename fails the files already placed are put
// back, so dir holds either the old set or the new one. Names may contain
// subdirectories.
//
//	err := AtomicSaveToDir(fs.Default, dir, map[string]func(io.Writer) error{
//	    "top.db":      writeImage,
//	    "top.sym.lz4": writeSymbols,
//	})
func AtomicSaveToDir(fsys fs.FileSystem, dir string, files map[string]func(io.Writer) error) error {
	if fsys == nil {
		fsys = fs.Default
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("persistence: failed to create directory %s: %w", dir, err)
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	slices.Sort(names)

	mappings := make([]fileMapping, 0, len(files))

	// Cleanup temp files on error.
	done := false
	defer func() {
		if done {
			return
		}
		for _, m := range mappings {
			_ = fsys.Remove(m.temp)
		}
	}()

	dirs := map[string]struct{}{dir: {}}
	for _, name := range names {
		target := filepath.Join(dir, name)
		sub := filepath.Dir(target)
		if _, ok := dirs[sub]; !ok {
			if err := fsys.MkdirAll(sub, 0o755); err != nil {
				return fmt.Errorf("persistence: failed to create directory %s: %w", sub, err)
			}
			dirs[sub] = struct{}{}
		}

		tmp, err := writeTemp(fsys, target, files[name])
		if tmp != "" {
			mappings = append(mappings, fileMapping{temp: tmp, target: target})
		}
		if err != nil {
			return fmt.Errorf("persistence: failed to write %s: %w", name, err)
		}
	}

	for i := range mappings {
		if err := mappings[i].place(fsys); err != nil {
			rollback(fsys, mappings[:i+1])
			for d := range dirs {
				_ = fsys.SyncDir(d)
			}
			return fmt.Errorf("persistence: failed to rename %s: %w", mappings[i].target, err)
		}
	}
	done = true

	for _, m := range mappings {
		if m.backup != "" {
			_ = fsys.Remove(m.backup)
		}
	}
	for d := range dirs {
		_ = fsys.SyncDir(d)
	}
	return nil
}

type fileMapping struct {
	temp   string
	target string
	backup string // previous target, moved aside
	placed bool
}

// place moves an existing target aside and renames the temp file over it.
func (m *fileMapping) place(fsys fs.FileSystem) error {
	if _, err := fsys.Stat(m.target); err == nil {
		backup := m.target + ".bak-" + strconv.FormatUint(rand.Uint64(), 36)
		if err := fsys.Rename(m.target, backup); err != nil {
			return err
		}
		m.backup = backup
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := fsys.Rename(m.temp, m.target); err != nil {
		return err
	}
	m.placed = true
	return nil
}

// rollback restores the targets of mappings to their state before the save.
// Errors are ignored; a triad left mixed is caught by its save token.
func rollback(fsys fs.FileSystem, mappings []fileMapping) {
	for i := len(mappings) - 1; i >= 0; i-- {
		m := mappings[i]
		switch {
		case m.backup != "":
			_ = fsys.Rename(m.backup, m.target)
		case m.placed:
			_ = fsys.Remove(m.target)
		}
	}
}
