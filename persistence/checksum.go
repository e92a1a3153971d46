package persistence

import (
	"errors"
	"fmt"
	"hash"
	"io"

	ihash "github.com/hupe1980/pagedb/internal/hash"
)

// ComputeChecksum returns the CRC32C of data. Image headers are protected by
// it. It catches torn writes and bit rot, not deliberate tampering.
func ComputeChecksum(data []byte) uint32 {
	return ihash.CRC32C(data)
}

// ChecksumWriter passes writes through to w and keeps the CRC32C and length
// of the bytes w accepted.
type ChecksumWriter struct {
	w   io.Writer
	crc hash.Hash32
	n   int64
}

// NewChecksumWriter returns a ChecksumWriter writing to w.
func NewChecksumWriter(w io.Writer) *ChecksumWriter {
	return &ChecksumWriter{w: w, crc: ihash.NewCRC32C()}
}

// Write writes p to the underlying writer. Only the n bytes it accepted are
// added to the checksum.
func (cw *ChecksumWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	_, _ = cw.crc.Write(p[:n])
	cw.n += int64(n)
	return n, err
}

// Sum is the checksum of everything written so far.
func (cw *ChecksumWriter) Sum() uint32 { return cw.crc.Sum32() }

// Len is the number of bytes written so far.
func (cw *ChecksumWriter) Len() int64 { return cw.n }

// verifyChecksum compares the CRC32C of data with the stored value.
func verifyChecksum(data []byte, stored uint32) error {
	if actual := ComputeChecksum(data); actual != stored {
		return &ChecksumMismatchError{Expected: stored, Actual: actual, Len: len(data)}
	}
	return nil
}

// ChecksumMismatchError reports a header whose checksum does not match the
// trailer. It wraps ErrChecksum.
type ChecksumMismatchError struct {
	Expected uint32
	Actual   uint32
	Len      int
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch over %d header bytes: stored 0x%08x, computed 0x%08x", e.Len, e.Expected, e.Actual)
}

func (e *ChecksumMismatchError) Unwrap() error { return ErrChecksum }

// IsChecksumMismatch reports whether err carries a *ChecksumMismatchError.
func IsChecksumMismatch(err error) bool {
	var cm *ChecksumMismatchError
	return errors.As(err, &cm)
}
