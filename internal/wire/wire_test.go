package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterReader(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.U8(7)
	w.Bool(true)
	w.U16(0xBEEF)
	w.U32(0xDEADBEEF)
	w.I32(-5)
	w.U64(1 << 60)
	w.String("net_42")
	w.Bytes([]byte{1, 2, 3})
	require.NoError(t, w.Err())
	assert.Equal(t, int64(1+1+2+4+4+8+6+3), w.N())

	r := NewReader(&buf)
	assert.Equal(t, uint8(7), r.U8())
	assert.True(t, r.Bool())
	assert.Equal(t, uint16(0xBEEF), r.U16())
	assert.Equal(t, uint32(0xDEADBEEF), r.U32())
	assert.Equal(t, int32(-5), r.I32())
	assert.Equal(t, uint64(1<<60), r.U64())
	assert.Equal(t, "net_42", string(r.Bytes(6)))
	assert.Equal(t, []byte{1, 2, 3}, r.Bytes(3))
	require.NoError(t, r.Err())
	assert.Equal(t, w.N(), r.N())
}

func TestWriter_LittleEndian(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.U32(0x01020304)
	assert.Equal(t, []byte{4, 3, 2, 1}, buf.Bytes())
}

func TestReader_ShortStream(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{1, 2}))
	assert.Equal(t, uint32(0), r.U32())
	assert.ErrorIs(t, r.Err(), ErrShort)

	// Sticky: later reads do nothing.
	assert.Equal(t, uint8(0), r.U8())
	assert.Nil(t, r.Bytes(4))
}

func TestReader_Count(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.U32(10)
	w.U32(11)

	r := NewReader(&buf)
	assert.Equal(t, 10, r.Count(10))
	assert.Equal(t, 0, r.Count(10))
	assert.ErrorIs(t, r.Err(), ErrLength)
}

type failingWriter struct{ after int }

func (f *failingWriter) Write(p []byte) (int, error) {
	if f.after <= 0 {
		return 0, errors.New("disk full")
	}
	f.after--
	return len(p), nil
}

func TestWriter_StickyError(t *testing.T) {
	w := NewWriter(&failingWriter{after: 1})
	w.U32(1)
	w.U32(2)
	w.U32(3)
	assert.EqualError(t, w.Err(), "disk full")
	assert.Equal(t, int64(4), w.N())
}

func TestReader_Fail(t *testing.T) {
	r := NewReader(bytes.NewReader(nil))
	first := errors.New("first")
	r.Fail(first)
	r.Fail(errors.New("second"))
	assert.Same(t, first, r.Err())
}
