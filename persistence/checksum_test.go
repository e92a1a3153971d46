package persistence

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type shortWriter struct {
	bytes.Buffer
	limit int
}

func (w *shortWriter) Write(p []byte) (int, error) {
	if len(p) > w.limit {
		n, _ := w.Buffer.Write(p[:w.limit])
		return n, io.ErrShortWrite
	}
	return w.Buffer.Write(p)
}

func TestChecksumWriter(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")

	var buf bytes.Buffer
	cw := NewChecksumWriter(&buf)
	_, err := cw.Write(data[:10])
	require.NoError(t, err)
	_, err = cw.Write(data[10:])
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), cw.Len())
	assert.Equal(t, ComputeChecksum(data), cw.Sum())
	require.NoError(t, verifyChecksum(buf.Bytes(), cw.Sum()))

	sw := &shortWriter{limit: 4}
	cw = NewChecksumWriter(sw)
	n, err := cw.Write(data)
	assert.ErrorIs(t, err, io.ErrShortWrite)
	assert.Equal(t, 4, n)
	assert.Equal(t, ComputeChecksum(data[:4]), cw.Sum())
}

func TestVerifyChecksum(t *testing.T) {
	data := []byte("header")
	err := verifyChecksum(data, ComputeChecksum(data)+1)
	require.Error(t, err)
	assert.True(t, IsChecksumMismatch(err))
	assert.ErrorIs(t, err, ErrChecksum)
	assert.Contains(t, err.Error(), "over 6 header bytes")
	assert.False(t, IsChecksumMismatch(ErrChecksum))
}

func TestVersion_Compatible(t *testing.T) {
	assert.True(t, Version{Major: CurrentVersion.Major, Minor: 9, Revision: 4}.Compatible())
	assert.False(t, Version{Major: CurrentVersion.Major + 1}.Compatible())
	assert.Equal(t, "2.0.0", CurrentVersion.String())
}
