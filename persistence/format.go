package persistence

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/pagedb/internal/arena"
	"github.com/hupe1980/pagedb/internal/polygon"
	"github.com/hupe1980/pagedb/internal/symbol"
)

const (
	// MagicNumber identifies pool image files (bytes "PGDB").
	MagicNumber uint32 = 0x42444750
	// SideMagic opens symbol and polygon files (bytes "PGSF"), ahead of the
	// compressed stream.
	SideMagic uint32 = 0x46534750

	trailerSize = 8
)

// Version is the image format version.
type Version struct {
	Major    uint16
	Minor    uint16
	Revision uint16
}

// CurrentVersion is the format version written by this package.
var CurrentVersion = Version{Major: 2, Minor: 0, Revision: 0}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Revision)
}

// Compatible reports whether an image of version v can be read by this package.
func (v Version) Compatible() bool {
	return v.Major == CurrentVersion.Major
}

var (
	// ErrOpen is returned when an image or side file cannot be opened.
	ErrOpen = errors.New("persistence: cannot open")
	// ErrSize is returned for truncated files and inconsistent lengths.
	ErrSize = errors.New("persistence: size mismatch")
	// ErrChecksum is the sentinel wrapped by *ChecksumMismatchError.
	ErrChecksum = errors.New("persistence: checksum mismatch")
	// ErrInvalidMagic is returned when a file is not a pool image.
	ErrInvalidMagic = errors.New("persistence: invalid magic number")
	// ErrInvalidVersion is returned for images of an incompatible major version.
	ErrInvalidVersion = errors.New("persistence: unsupported version")
	// ErrCodec is returned when a chunk cannot be compressed or decompressed.
	ErrCodec = errors.New("persistence: chunk codec failed")
	// ErrUnknownCompression is returned for unknown compression names or ids.
	ErrUnknownCompression = errors.New("persistence: unknown compression")
	// ErrTriadMismatch is returned when the files of a triad come from
	// different saves.
	ErrTriadMismatch = errors.New("persistence: triad files from different saves")
)

// IsIntegrity reports whether err means stored bytes are damaged or not a
// readable image or side file.
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrChecksum) ||
		errors.Is(err, ErrSize) ||
		errors.Is(err, ErrInvalidMagic) ||
		errors.Is(err, ErrInvalidVersion) ||
		errors.Is(err, ErrCodec) ||
		errors.Is(err, ErrTriadMismatch) ||
		errors.Is(err, arena.ErrInvalidImage) ||
		errors.Is(err, symbol.ErrCorrupt) ||
		errors.Is(err, polygon.ErrCorrupt)
}

// Compression selects the chunk block codec of an image.
type Compression uint8

const (
	// CompressionNone stores chunks raw.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 block compression (fast).
	CompressionLZ4 Compression = 1
	// CompressionZSTD uses ZSTD block compression (better ratio).
	CompressionZSTD Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression parses "none", "lz4" or "zstd".
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd", "zst":
		return CompressionZSTD, nil
	default:
		return CompressionNone, fmt.Errorf("%w: %q", ErrUnknownCompression, s)
	}
}

func (c Compression) valid() bool {
	return c <= CompressionZSTD
}
