package persistence

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Side-file extensions. The extension of a symbol or polygon file names the
// stream codec it is written with.
const (
	ExtNone = ""
	ExtLZ4  = "lz4"
	ExtZSTD = "zst"
	ExtGzip = "gz"
)

// SideFileExts lists the known extensions in discovery order.
var SideFileExts = []string{ExtLZ4, ExtZSTD, ExtGzip, ExtNone}

// ValidSideFileExt reports whether ext names a known stream codec.
func ValidSideFileExt(ext string) bool {
	for _, e := range SideFileExts {
		if e == ext {
			return true
		}
	}
	return false
}

// SideFileExtFor maps a compression name ("lz4", "zstd", "gzip", "none") to
// its side-file extension.
func SideFileExtFor(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return ExtNone, nil
	case "lz4":
		return ExtLZ4, nil
	case "zstd", "zst":
		return ExtZSTD, nil
	case "gzip", "gz":
		return ExtGzip, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCompression, name)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// NewStreamWriter wraps w in the stream codec named by ext. Closing the
// returned writer flushes the codec but leaves w open.
func NewStreamWriter(w io.Writer, ext string) (io.WriteCloser, error) {
	switch ext {
	case ExtNone:
		return nopWriteCloser{w}, nil
	case ExtLZ4:
		return lz4.NewWriter(w), nil
	case ExtZSTD:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCodec, err)
		}
		return enc, nil
	case ExtGzip:
		return gzip.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("%w: extension %q", ErrUnknownCompression, ext)
	}
}

type zstdReadCloser struct{ *zstd.Decoder }

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}

// NewStreamReader wraps r in the stream codec named by ext. Closing the
// returned reader releases the codec but leaves r open.
func NewStreamReader(r io.Reader, ext string) (io.ReadCloser, error) {
	switch ext {
	case ExtNone:
		return io.NopCloser(r), nil
	case ExtLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case ExtZSTD:
		dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCodec, err)
		}
		return zstdReadCloser{dec}, nil
	case ExtGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCodec, err)
		}
		return zr, nil
	default:
		return nil, fmt.Errorf("%w: extension %q", ErrUnknownCompression, ext)
	}
}
