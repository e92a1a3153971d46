package persistence

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hupe1980/pagedb/internal/fs"
)

// Kind is the kind of container a triad belongs to.
type Kind uint8

const (
	// KindDesign is a design cell stored directly in the design directory.
	KindDesign Kind = iota
	// KindTech is the technology library under Libs.
	KindTech
	// KindTiming is the timing library under Libs.
	KindTiming
)

// LibsDir is the subdirectory holding shared libraries.
const LibsDir = "Libs"

// Fixed base names of the shared libraries.
const (
	TechName   = "tech"
	TimingName = "timing"
)

func (k Kind) String() string {
	switch k {
	case KindDesign:
		return "design"
	case KindTech:
		return "tech"
	case KindTiming:
		return "timing"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind parses "design", "tech" or "timing".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "design", "":
		return KindDesign, nil
	case "tech":
		return KindTech, nil
	case "timing":
		return KindTiming, nil
	default:
		return 0, fmt.Errorf("persistence: unknown container kind %q", s)
	}
}

// ErrInvalidName is returned for container names that are not plain file names.
var ErrInvalidName = errors.New("persistence: invalid container name")

// Layout maps containers to file paths below a design directory.
type Layout struct {
	Dir string
}

// Triad is the set of three sibling files of one container.
type Triad struct {
	Image    string
	Symbols  string
	Polygons string
	Ext      string
}

// Files returns the triad paths in write order.
func (t Triad) Files() []string {
	return []string{t.Image, t.Symbols, t.Polygons}
}

// RelativeBase returns the container's path without extension, relative to
// the design directory.
func RelativeBase(kind Kind, name string) (string, error) {
	switch kind {
	case KindTech:
		return filepath.Join(LibsDir, TechName), nil
	case KindTiming:
		return filepath.Join(LibsDir, TimingName), nil
	case KindDesign:
		if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
			return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
		return name, nil
	default:
		return "", fmt.Errorf("persistence: unknown container kind %d", kind)
	}
}

// RelativeTriad returns the triad file names relative to the design directory.
func RelativeTriad(kind Kind, name, ext string) (Triad, error) {
	base, err := RelativeBase(kind, name)
	if err != nil {
		return Triad{}, err
	}
	if !ValidSideFileExt(ext) {
		return Triad{}, fmt.Errorf("%w: extension %q", ErrUnknownCompression, ext)
	}
	side := func(s string) string {
		if ext == ExtNone {
			return base + s
		}
		return base + s + "." + ext
	}
	return Triad{
		Image:    base + ".db",
		Symbols:  side(".sym"),
		Polygons: side(".poly"),
		Ext:      ext,
	}, nil
}

// Triad returns the absolute triad paths for a container.
func (l Layout) Triad(kind Kind, name, ext string) (Triad, error) {
	t, err := RelativeTriad(kind, name, ext)
	if err != nil {
		return Triad{}, err
	}
	t.Image = filepath.Join(l.Dir, t.Image)
	t.Symbols = filepath.Join(l.Dir, t.Symbols)
	t.Polygons = filepath.Join(l.Dir, t.Polygons)
	return t, nil
}

// Discover finds the triad of a container on disk, taking the side-file
// extension from the symbol file that exists.
func (l Layout) Discover(fsys fs.FileSystem, kind Kind, name string) (Triad, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	for _, ext := range SideFileExts {
		t, err := l.Triad(kind, name, ext)
		if err != nil {
			return Triad{}, err
		}
		if _, err := fsys.Stat(t.Symbols); err == nil {
			return t, nil
		}
	}
	t, _ := l.Triad(kind, name, ExtNone)
	return Triad{}, fmt.Errorf("%w: no symbol file for %s: %w", ErrOpen, t.Image, os.ErrNotExist)
}

// Designs lists the design containers that have an image in the directory.
func (l Layout) Designs(fsys fs.FileSystem) ([]string, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	entries, err := fsys.ReadDir(l.Dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if name, ok := strings.CutSuffix(e.Name(), ".db"); ok && name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}
