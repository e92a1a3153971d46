package persistence

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/pagedb/core"
	"github.com/hupe1980/pagedb/internal/arena"
	"github.com/hupe1980/pagedb/internal/wire"
	"github.com/hupe1980/pagedb/resource"
)

// Image describes a pool image: its version stamp, root object and the pool
// metadata recorded in the header.
type Image struct {
	Version     Version
	Root        core.ObjectID
	Compression Compression
	// Token ties the image to the side files written by the same save. It is
	// zero for images written on their own.
	Token     uint64
	Header    arena.Header
	HeaderLen uint32
	Checksum  uint32
	Size      int64
}

// PoolNo returns the pool number the image was saved from.
func (im *Image) PoolNo() uint8 { return im.Header.PoolNo }

// ContentBytes returns the total uncompressed chunk bytes.
func (im *Image) ContentBytes() uint64 {
	var n uint64
	for _, s := range im.Header.ChunkSizes {
		n += uint64(s)
	}
	return n
}

// WriteImage writes p to w: header, chunk content and checksum trailer. root
// is stored alongside so a loader can find the entry object again.
// The pool must not be mutated while it is being written.
func WriteImage(ctx context.Context, w io.Writer, p *arena.Pool, root core.ObjectID, opts ...Option) (int64, error) {
	o := newOptions(opts)
	if !o.compression.valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownCompression, o.compression)
	}

	h, err := p.Header()
	if err != nil {
		return 0, err
	}
	frames, err := encodeChunks(ctx, p.ChunkData(), o)
	if err != nil {
		return 0, err
	}

	bw := bufio.NewWriterSize(resource.NewRateLimitedWriter(ctx, w, o.controller), 1<<16)

	cw := NewChecksumWriter(bw)
	hw := wire.NewWriter(cw)
	encodeHeader(hw, CurrentVersion, root, o.compression, o.token, h)
	if err := hw.Err(); err != nil {
		return hw.N(), err
	}
	headerLen := uint32(cw.Len())
	sum := cw.Sum()

	ww := wire.NewWriter(bw)
	for _, f := range frames {
		ww.U32(f.raw)
		if f.zip {
			ww.U32(uint32(len(f.data)))
		} else {
			ww.U32(0)
		}
		ww.Bytes(f.data)
	}
	ww.U32(headerLen)
	ww.U32(sum)
	if err := ww.Err(); err != nil {
		return hw.N() + ww.N(), err
	}
	if err := bw.Flush(); err != nil {
		return hw.N() + ww.N(), err
	}
	return hw.N() + ww.N(), nil
}

func encodeHeader(w *wire.Writer, v Version, root core.ObjectID, c Compression, token uint64, h arena.Header) {
	w.U32(MagicNumber)
	w.U16(v.Major)
	w.U16(v.Minor)
	w.U16(v.Revision)
	w.U64(uint64(h.PoolNo))
	w.U64(uint64(root))
	w.U8(uint8(c))
	w.U64(token)

	w.U32(uint32(len(h.ChunkSizes)))
	for _, s := range h.ChunkSizes {
		w.U32(s)
	}
	w.U32(h.PageSize)
	w.U32(h.PagesPerChunk)
	w.U32(h.CurrentPage)
	w.U32(uint32(len(h.Pages)))
	for _, pg := range h.Pages {
		w.U32(pg.No)
		w.U32(pg.Size)
		w.U32(pg.Avail)
		w.U32(pg.Allocs)
		w.Bool(pg.Dirty)
	}

	w.U64(h.FreeBytes)
	w.U32(uint32(len(h.FreeLists)))
	for _, fc := range h.FreeLists {
		w.U32(uint32(fc.Tag))
		w.U32(fc.Size)
		w.U32(uint32(len(fc.IDs)))
		for _, id := range fc.IDs {
			w.U64(uint64(id))
		}
	}
}

// InspectImage verifies the trailer checksum and decodes the header without
// touching the chunk content.
func InspectImage(r io.ReaderAt, size int64) (*Image, error) {
	header, im, err := readTrailer(r, size)
	if err != nil {
		return nil, err
	}
	if err := decodeHeader(header, im); err != nil {
		return nil, err
	}
	return im, nil
}

// ReadImage loads an image into a new detached pool. The caller registers
// the pool with arena.Registry.Adopt, or closes it.
func ReadImage(ctx context.Context, r io.ReaderAt, size int64, opts ...Option) (*arena.Pool, *Image, error) {
	o := newOptions(opts)
	r = resource.NewRateLimitedReaderAt(ctx, r, o.controller)

	im, err := InspectImage(r, size)
	if err != nil {
		return nil, nil, err
	}

	p, err := arena.Restore(ctx, im.Header, o.arenaOpts...)
	if err != nil {
		return nil, nil, err
	}

	contentLen := size - trailerSize - int64(im.HeaderLen)
	if err := readContent(ctx, io.NewSectionReader(r, int64(im.HeaderLen), contentLen), p.ChunkData(), im.Compression, o); err != nil {
		_ = p.Close()
		return nil, nil, err
	}
	return p, im, nil
}

// readTrailer reads and checks the trailer, returning the verified header bytes.
func readTrailer(r io.ReaderAt, size int64) ([]byte, *Image, error) {
	if size < trailerSize {
		return nil, nil, fmt.Errorf("%w: %d bytes is smaller than the trailer", ErrSize, size)
	}
	var trailer [trailerSize]byte
	if _, err := r.ReadAt(trailer[:], size-trailerSize); err != nil {
		return nil, nil, sizeError(err)
	}
	headerLen := binary.LittleEndian.Uint32(trailer[0:4])
	expected := binary.LittleEndian.Uint32(trailer[4:8])
	if int64(headerLen) > size-trailerSize {
		return nil, nil, fmt.Errorf("%w: header length %d exceeds file size %d", ErrSize, headerLen, size)
	}

	header := make([]byte, headerLen)
	if _, err := r.ReadAt(header, 0); err != nil {
		return nil, nil, sizeError(err)
	}
	if err := verifyChecksum(header, expected); err != nil {
		return nil, nil, err
	}
	return header, &Image{HeaderLen: headerLen, Checksum: expected, Size: size}, nil
}

func decodeHeader(b []byte, im *Image) error {
	br := bytes.NewReader(b)
	r := wire.NewReader(br)

	if magic := r.U32(); r.Err() == nil && magic != MagicNumber {
		return fmt.Errorf("%w: 0x%08x", ErrInvalidMagic, magic)
	}
	im.Version = Version{Major: r.U16(), Minor: r.U16(), Revision: r.U16()}
	if r.Err() == nil && !im.Version.Compatible() {
		return fmt.Errorf("%w: %s (supported %d.x)", ErrInvalidVersion, im.Version, CurrentVersion.Major)
	}

	poolNo := r.U64()
	im.Root = core.ObjectID(r.U64())
	im.Compression = Compression(r.U8())
	im.Token = r.U64()
	if r.Err() == nil && poolNo >= core.MaxPools {
		r.Fail(fmt.Errorf("%w: pool number %d", ErrSize, poolNo))
	}
	if r.Err() == nil && !im.Compression.valid() {
		r.Fail(fmt.Errorf("%w: %d", ErrUnknownCompression, im.Compression))
	}

	h := arena.Header{PoolNo: uint8(poolNo)}

	n := r.Count(remaining(br, 4))
	h.ChunkSizes = make([]uint32, n)
	for i := range h.ChunkSizes {
		h.ChunkSizes[i] = r.U32()
	}
	h.PageSize = r.U32()
	h.PagesPerChunk = r.U32()
	h.CurrentPage = r.U32()

	n = r.Count(remaining(br, 17))
	h.Pages = make([]arena.PageMeta, n)
	for i := range h.Pages {
		h.Pages[i] = arena.PageMeta{
			No:     r.U32(),
			Size:   r.U32(),
			Avail:  r.U32(),
			Allocs: r.U32(),
			Dirty:  r.Bool(),
		}
	}

	h.FreeBytes = r.U64()
	n = r.Count(remaining(br, 12))
	h.FreeLists = make([]arena.FreeClass, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		fc := arena.FreeClass{Tag: core.TypeTag(r.U32()), Size: r.U32()}
		fc.IDs = make([]core.ObjectID, r.Count(remaining(br, 8)))
		for j := range fc.IDs {
			fc.IDs[j] = core.ObjectID(r.U64())
		}
		h.FreeLists[i] = fc
	}

	if err := r.Err(); err != nil {
		if errors.Is(err, wire.ErrShort) || errors.Is(err, wire.ErrLength) {
			return fmt.Errorf("%w: header: %w", ErrSize, err)
		}
		return err
	}
	if br.Len() != 0 {
		return fmt.Errorf("%w: %d unread header bytes", ErrSize, br.Len())
	}
	im.Header = h
	return nil
}

// remaining bounds a record count by the bytes left in the header.
func remaining(br *bytes.Reader, recordSize int) uint32 {
	return uint32(br.Len() / recordSize)
}

func readContent(ctx context.Context, sr *io.SectionReader, dst [][]byte, c Compression, o options) error {
	r := wire.NewReader(bufio.NewReaderSize(sr, 1<<16))

	frames := make([]frame, len(dst))
	for i := range dst {
		raw := r.U32()
		stored := r.U32()
		if r.Err() != nil {
			break
		}
		if int(raw) != len(dst[i]) {
			return fmt.Errorf("%w: chunk %d holds %d bytes, header says %d", ErrSize, i, raw, len(dst[i]))
		}
		if int64(stored) > sr.Size() {
			return fmt.Errorf("%w: chunk %d compressed length %d", ErrSize, i, stored)
		}
		if stored == 0 {
			r.ReadFull(dst[i])
			frames[i] = frame{raw: raw, data: dst[i]}
			continue
		}
		frames[i] = frame{raw: raw, data: r.Bytes(int(stored)), zip: true}
	}
	if err := r.Err(); err != nil {
		return sizeError(err)
	}
	if r.N() != sr.Size() {
		return fmt.Errorf("%w: content is %d bytes, chunks use %d", ErrSize, sr.Size(), r.N())
	}

	return decodeChunks(ctx, frames, dst, c, o)
}

func sizeError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, wire.ErrShort) {
		return fmt.Errorf("%w: %w", ErrSize, err)
	}
	return err
}
