// Package wire provides little-endian primitive encoding for the on-disk formats.
//
// Writer and Reader keep the first error they hit and turn every later call
// into a no-op, so a record can be written or read field by field and checked once.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unsafe"
)

var (
	// ErrShort is returned when a stream ends inside a record.
	ErrShort = errors.New("wire: short read")
	// ErrLength is returned when a decoded count or length is out of range.
	ErrLength = errors.New("wire: invalid length")
)

// Writer encodes primitives to an io.Writer.
type Writer struct {
	w   io.Writer
	buf [8]byte
	n   int64
	err error
}

// NewWriter creates a Writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) write(b []byte) {
	if w.err != nil {
		return
	}
	n, err := w.w.Write(b)
	w.n += int64(n)
	w.err = err
}

// U8 writes a byte.
func (w *Writer) U8(v uint8) {
	w.buf[0] = v
	w.write(w.buf[:1])
}

// Bool writes a byte that is 1 for true.
func (w *Writer) Bool(v bool) {
	if v {
		w.U8(1)
		return
	}
	w.U8(0)
}

// U16 writes a uint16.
func (w *Writer) U16(v uint16) {
	binary.LittleEndian.PutUint16(w.buf[:2], v)
	w.write(w.buf[:2])
}

// U32 writes a uint32.
func (w *Writer) U32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[:4], v)
	w.write(w.buf[:4])
}

// I32 writes an int32.
func (w *Writer) I32(v int32) { w.U32(uint32(v)) }

// U64 writes a uint64.
func (w *Writer) U64(v uint64) {
	binary.LittleEndian.PutUint64(w.buf[:8], v)
	w.write(w.buf[:8])
}

// Bytes writes b as is.
func (w *Writer) Bytes(b []byte) {
	if len(b) == 0 {
		return
	}
	w.write(b)
}

// String writes s without a length prefix.
func (w *Writer) String(s string) {
	if len(s) == 0 {
		return
	}
	w.write(unsafe.Slice(unsafe.StringData(s), len(s)))
}

// N returns the number of bytes written.
func (w *Writer) N() int64 { return w.n }

// Err returns the first write error.
func (w *Writer) Err() error { return w.err }

// Reader decodes primitives from an io.Reader.
type Reader struct {
	r   io.Reader
	buf [8]byte
	n   int64
	err error
}

// NewReader creates a Reader on r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (r *Reader) read(b []byte) bool {
	if r.err != nil {
		return false
	}
	n, err := io.ReadFull(r.r, b)
	r.n += int64(n)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			err = fmt.Errorf("%w: %w", ErrShort, err)
		}
		r.err = err
		return false
	}
	return true
}

// U8 reads a byte.
func (r *Reader) U8() uint8 {
	if !r.read(r.buf[:1]) {
		return 0
	}
	return r.buf[0]
}

// Bool reads a byte and reports whether it is non-zero.
func (r *Reader) Bool() bool { return r.U8() != 0 }

// U16 reads a uint16.
func (r *Reader) U16() uint16 {
	if !r.read(r.buf[:2]) {
		return 0
	}
	return binary.LittleEndian.Uint16(r.buf[:2])
}

// U32 reads a uint32.
func (r *Reader) U32() uint32 {
	if !r.read(r.buf[:4]) {
		return 0
	}
	return binary.LittleEndian.Uint32(r.buf[:4])
}

// I32 reads an int32.
func (r *Reader) I32() int32 { return int32(r.U32()) }

// U64 reads a uint64.
func (r *Reader) U64() uint64 {
	if !r.read(r.buf[:8]) {
		return 0
	}
	return binary.LittleEndian.Uint64(r.buf[:8])
}

// ReadFull fills b.
func (r *Reader) ReadFull(b []byte) {
	if len(b) == 0 {
		return
	}
	r.read(b)
}

// Bytes reads n bytes into a new slice.
func (r *Reader) Bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	b := make([]byte, n)
	r.ReadFull(b)
	return b
}

// Count reads a uint32 element count and rejects counts above limit.
func (r *Reader) Count(limit uint32) int {
	n := r.U32()
	if r.err == nil && n > limit {
		r.err = fmt.Errorf("%w: count %d exceeds %d", ErrLength, n, limit)
		return 0
	}
	return int(n)
}

// Fail records err unless an earlier error is already held.
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// N returns the number of bytes read.
func (r *Reader) N() int64 { return r.n }

// Err returns the first read error.
func (r *Reader) Err() error { return r.err }
